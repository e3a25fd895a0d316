package access

import (
	"context"
	"fmt"
	"time"

	"gisthq-bot/internal/store"
)

const DefaultTTL = 5 * time.Minute

// SudoEntry is the record kept in the sudo collection.
type SudoEntry struct {
	Number  string    `json:"number" bson:"number"`
	AddedAt time.Time `json:"added_at" bson:"added_at"`
}

// Lists is the ban and sudo lists over one store.
type Lists struct {
	store  store.Store
	banned *Cache
	sudo   *Cache
}

func NewLists(st store.Store, ttl time.Duration) *Lists {
	l := &Lists{store: st}
	l.banned = NewCache(l.loadBanned, ttl)
	l.sudo = NewCache(l.loadSudo, ttl)
	return l
}

func (l *Lists) loadBanned(ctx context.Context, number string) (bool, error) {
	var u store.User
	found, err := l.store.Get(ctx, store.Users, number, &u)
	return found && u.Banned, err
}

func (l *Lists) loadSudo(ctx context.Context, number string) (bool, error) {
	var e SudoEntry
	return l.store.Get(ctx, store.Sudo, number, &e)
}

func (l *Lists) IsBanned(ctx context.Context, number string) (bool, error) {
	return l.banned.Contains(ctx, number)
}

func (l *Lists) IsSudo(ctx context.Context, number string) (bool, error) {
	return l.sudo.Contains(ctx, number)
}

// SetBanned updates the user record and invalidates the cached entry.
func (l *Lists) SetBanned(ctx context.Context, number string, banned bool) error {
	return l.updateUser(ctx, number, func(u *store.User) { u.Banned = banned }, l.banned)
}

// SetPremium updates the premium flag of the user record.
func (l *Lists) SetPremium(ctx context.Context, number string, premium bool) error {
	return l.updateUser(ctx, number, func(u *store.User) { u.Premium = premium }, nil)
}

func (l *Lists) updateUser(ctx context.Context, number string, fn func(*store.User), cache *Cache) error {
	var u store.User
	if _, err := l.store.Get(ctx, store.Users, number, &u); err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	u.Number = number
	fn(&u)
	if cache != nil {
		defer cache.Invalidate(number)
	}
	if err := l.store.Set(ctx, store.Users, number, u); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (l *Lists) AddSudo(ctx context.Context, number string) error {
	defer l.sudo.Invalidate(number)
	return l.store.Set(ctx, store.Sudo, number, SudoEntry{Number: number, AddedAt: time.Now().UTC()})
}

func (l *Lists) RemoveSudo(ctx context.Context, number string) error {
	defer l.sudo.Invalidate(number)
	return l.store.Delete(ctx, store.Sudo, number)
}

// SudoNumbers lists the sudo collection.
func (l *Lists) SudoNumbers(ctx context.Context) ([]string, error) {
	var numbers []string
	err := l.store.Scan(ctx, store.Sudo, func(key string, _ store.Decoder) error {
		numbers = append(numbers, key)
		return nil
	})
	return numbers, err
}
