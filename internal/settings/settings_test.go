package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"gisthq-bot/internal/config"
	"gisthq-bot/internal/store"
)

func newManager(t *testing.T) (*Manager, store.Store) {
	t.Helper()
	st, err := store.OpenJSONFile(t.TempDir())
	if err != nil {
		t.Fatalf("OpenJSONFile: %v", err)
	}
	return NewManager(FromConfig(config.Default()), st, zerolog.Nop()), st
}

func TestSnapshotIsIndependent(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t)
	snap := m.Snapshot()
	snap.Prefix = "!"
	snap.Attendance.RewardAmount = 1
	if got := m.Snapshot(); got.Prefix != "." || got.Attendance.RewardAmount != 500 {
		t.Errorf("mutating a snapshot leaked into the manager: %+v", got)
	}
}

func TestUpdatePersistsAndReloads(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, st := newManager(t)
	next, err := m.Update(ctx, func(s *Settings) error {
		s.Prefix = "!"
		s.Attendance.RewardAmount = 1000
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if next.Prefix != "!" || m.Snapshot().Attendance.RewardAmount != 1000 {
		t.Errorf("Update result: %+v", next)
	}

	fresh := NewManager(FromConfig(config.Default()), st, zerolog.Nop())
	if err = fresh.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := fresh.Snapshot(); got.Prefix != "!" || got.Attendance.RewardAmount != 1000 {
		t.Errorf("Load: got %+v", got)
	}
}

func TestUpdateRejectsInvalid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, _ := newManager(t)
	tests := []struct {
		name string
		fn   func(*Settings) error
	}{
		{"empty prefix", func(s *Settings) error { s.Prefix = ""; return nil }},
		{"whitespace prefix", func(s *Settings) error { s.Prefix = ". "; return nil }},
		{"bad mode", func(s *Settings) error { s.Mode = "nobody"; return nil }},
		{"low multiplier", func(s *Settings) error { s.Attendance.StreakBonusMultiplier = 0.5; return nil }},
		{"negative reward", func(s *Settings) error { s.Attendance.RewardAmount = -1; return nil }},
		{"callback error", func(*Settings) error { return errors.New("nope") }},
	}
	for _, tt := range tests {
		if _, err := m.Update(ctx, tt.fn); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
	if got := m.Snapshot(); got.Prefix != "." || got.Mode != config.ModePublic {
		t.Errorf("rejected updates changed settings: %+v", got)
	}
}
