// Package settings holds the runtime-mutable bot settings. Handlers only
// ever see a Settings value copied at dispatch time; changes go through
// Manager.Update.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"gisthq-bot/internal/config"
	"gisthq-bot/internal/store"
)

const storeKey = "global"

// Attendance configures the attendance form rewards.
type Attendance struct {
	RewardAmount          int     `json:"reward_amount" bson:"reward_amount"`
	RequireImage          bool    `json:"require_image" bson:"require_image"`
	ImageRewardBonus      int     `json:"image_reward_bonus" bson:"image_reward_bonus"`
	MinFieldLength        int     `json:"min_field_length" bson:"min_field_length"`
	EnableStreakBonus     bool    `json:"enable_streak_bonus" bson:"enable_streak_bonus"`
	StreakBonusMultiplier float64 `json:"streak_bonus_multiplier" bson:"streak_bonus_multiplier"`
}

// Settings contains only value fields, so copying it yields an
// independent snapshot.
type Settings struct {
	Prefix       string     `json:"prefix" bson:"prefix"`
	Mode         string     `json:"mode" bson:"mode"`
	BotName      string     `json:"bot_name" bson:"bot_name"`
	OwnerName    string     `json:"owner_name" bson:"owner_name"`
	Description  string     `json:"description" bson:"description"`
	MenuImageURL string     `json:"menu_image_url" bson:"menu_image_url"`
	ReadMessages bool       `json:"read_messages" bson:"read_messages"`
	LogMessages  bool       `json:"log_messages" bson:"log_messages"`
	Attendance   Attendance `json:"attendance" bson:"attendance"`
}

// DefaultAttendance mirrors the reward rules the GIST HQ groups run with.
func DefaultAttendance() Attendance {
	return Attendance{
		RewardAmount:          500,
		ImageRewardBonus:      200,
		MinFieldLength:        2,
		EnableStreakBonus:     true,
		StreakBonusMultiplier: 1.5,
	}
}

// FromConfig builds the initial settings from the process configuration.
func FromConfig(cfg config.Config) Settings {
	return Settings{
		Prefix:       cfg.Prefix,
		Mode:         cfg.Mode,
		BotName:      cfg.BotName,
		OwnerName:    cfg.OwnerName,
		Description:  cfg.Description,
		MenuImageURL: cfg.MenuImageURL,
		ReadMessages: cfg.ReadMessages,
		LogMessages:  cfg.LogMessages,
		Attendance:   DefaultAttendance(),
	}
}

func (s *Settings) Validate() error {
	if strings.TrimSpace(s.Prefix) == "" {
		return errors.New("prefix must not be empty")
	}
	if strings.ContainsAny(s.Prefix, " \t\n") {
		return errors.New("prefix must not contain whitespace")
	}
	if !config.ValidMode(s.Mode) {
		return fmt.Errorf("unknown mode %q", s.Mode)
	}
	a := s.Attendance
	if a.RewardAmount < 0 || a.ImageRewardBonus < 0 {
		return errors.New("attendance rewards must not be negative")
	}
	if a.MinFieldLength < 0 {
		return errors.New("minimum field length must not be negative")
	}
	if a.StreakBonusMultiplier < 1 {
		return errors.New("streak multiplier must be at least 1")
	}
	return nil
}

type Manager struct {
	cur   atomic.Pointer[Settings]
	mu    sync.Mutex
	store store.Store
	log   zerolog.Logger
}

func NewManager(initial Settings, st store.Store, log zerolog.Logger) *Manager {
	m := &Manager{store: st, log: log}
	m.cur.Store(&initial)
	return m
}

// Load replaces the current settings with the persisted ones, if any.
// Invalid persisted settings are ignored.
func (m *Manager) Load(ctx context.Context) error {
	var persisted Settings
	found, err := m.store.Get(ctx, store.Settings, storeKey, &persisted)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	} else if !found {
		return nil
	}
	if err = persisted.Validate(); err != nil {
		m.log.Warn().Err(err).Msg("Ignoring invalid persisted settings")
		return nil
	}
	m.mu.Lock()
	m.cur.Store(&persisted)
	m.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current settings.
func (m *Manager) Snapshot() Settings {
	return *m.cur.Load()
}

// Update applies fn to a copy of the current settings, validates the
// result and swaps it in. A failure to persist is logged; the in-memory
// change still takes effect.
func (m *Manager) Update(ctx context.Context, fn func(*Settings) error) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := *m.cur.Load()
	if err := fn(&next); err != nil {
		return m.Snapshot(), err
	}
	if err := next.Validate(); err != nil {
		return m.Snapshot(), err
	}
	m.cur.Store(&next)
	if err := m.store.Set(ctx, store.Settings, storeKey, next); err != nil {
		m.log.Warn().Err(err).Msg("Failed to persist settings update")
	}
	return next, nil
}
