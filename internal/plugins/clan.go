package plugins

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types"

	"gisthq-bot/internal/command"
	"gisthq-bot/internal/reply"
	"gisthq-bot/internal/store"
)

var (
	ErrInClan            = errors.New("already in a clan")
	ErrClanExists        = errors.New("clan already exists")
	ErrClanNotFound      = errors.New("clan not found")
	ErrNotInClan         = errors.New("not in a clan")
	ErrLeaderCannotLeave = errors.New("clan leaders cannot leave")
	ErrNotClanLeader     = errors.New("not the clan leader")
)

// Clan is one record in the clans collection, keyed by the lower-cased
// name. Members also carry the key in their wallet.
type Clan struct {
	Name    string    `json:"name" bson:"name"`
	Leader  string    `json:"leader" bson:"leader"`
	Members []string  `json:"members" bson:"members"`
	Level   int       `json:"level" bson:"level"`
	Bank    int64     `json:"bank" bson:"bank"`
	Created time.Time `json:"created" bson:"created"`
}

func clanKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Clans keeps the clan records and their members' wallets in step.
type Clans struct {
	store store.Store
	bank  *Bank
	mu    sync.Mutex
}

func NewClans(st store.Store, bank *Bank) *Clans {
	return &Clans{store: st, bank: bank}
}

func (c *Clans) load(ctx context.Context, key string) (Clan, bool, error) {
	var clan Clan
	found, err := c.store.Get(ctx, store.Clans, key, &clan)
	if err != nil {
		return clan, false, fmt.Errorf("failed to load clan: %w", err)
	}
	return clan, found, nil
}

func (c *Clans) save(ctx context.Context, key string, clan Clan) error {
	if err := c.store.Set(ctx, store.Clans, key, clan); err != nil {
		return fmt.Errorf("failed to save clan: %w", err)
	}
	return nil
}

// join sets the wallet's clan, refusing members of another clan.
func (c *Clans) join(ctx context.Context, number, key string) error {
	_, err := c.bank.update(ctx, number, func(w *Wallet) error {
		if w.Clan != "" {
			return ErrInClan
		}
		w.Clan = key
		return nil
	})
	return err
}

// leave clears the wallet's clan if it still points at key.
func (c *Clans) leave(ctx context.Context, number, key string) error {
	_, err := c.bank.update(ctx, number, func(w *Wallet) error {
		if w.Clan == key {
			w.Clan = ""
		}
		return nil
	})
	return err
}

// current returns the clan number belongs to.
func (c *Clans) current(ctx context.Context, number string) (string, Clan, error) {
	w, err := c.bank.Wallet(ctx, number)
	if err != nil {
		return "", Clan{}, err
	}
	if w.Clan == "" {
		return "", Clan{}, ErrNotInClan
	}
	clan, found, err := c.load(ctx, w.Clan)
	if err != nil {
		return "", Clan{}, err
	} else if !found {
		return "", Clan{}, ErrNotInClan
	}
	return w.Clan, clan, nil
}

func (c *Clans) Create(ctx context.Context, leader, name string, now time.Time) (Clan, error) {
	key := clanKey(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, found, err := c.load(ctx, key); err != nil {
		return Clan{}, err
	} else if found {
		return Clan{}, ErrClanExists
	}
	if err := c.join(ctx, leader, key); err != nil {
		return Clan{}, err
	}
	clan := Clan{
		Name:    strings.TrimSpace(name),
		Leader:  leader,
		Members: []string{leader},
		Level:   1,
		Created: now.UTC(),
	}
	if err := c.save(ctx, key, clan); err != nil {
		return Clan{}, errors.Join(err, c.leave(ctx, leader, key))
	}
	return clan, nil
}

func (c *Clans) Join(ctx context.Context, number, name string) (Clan, error) {
	key := clanKey(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	clan, found, err := c.load(ctx, key)
	if err != nil {
		return clan, err
	} else if !found {
		return clan, ErrClanNotFound
	}
	if err = c.join(ctx, number, key); err != nil {
		return clan, err
	}
	if !slices.Contains(clan.Members, number) {
		clan.Members = append(clan.Members, number)
	}
	if err = c.save(ctx, key, clan); err != nil {
		return clan, errors.Join(err, c.leave(ctx, number, key))
	}
	return clan, nil
}

func (c *Clans) Leave(ctx context.Context, number string) (Clan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, clan, err := c.current(ctx, number)
	if err != nil {
		return clan, err
	}
	if clan.Leader == number {
		return clan, ErrLeaderCannotLeave
	}
	clan.Members = slices.DeleteFunc(clan.Members, func(m string) bool { return m == number })
	if err = c.save(ctx, key, clan); err != nil {
		return clan, err
	}
	return clan, c.leave(ctx, number, key)
}

// Disband deletes the clan and releases every member.
func (c *Clans) Disband(ctx context.Context, number string) (Clan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, clan, err := c.current(ctx, number)
	if err != nil {
		return clan, err
	}
	if clan.Leader != number {
		return clan, ErrNotClanLeader
	}
	if err = c.store.Delete(ctx, store.Clans, key); err != nil {
		return clan, fmt.Errorf("failed to delete clan: %w", err)
	}
	var errs []error
	for _, m := range clan.Members {
		errs = append(errs, c.leave(ctx, m, key))
	}
	return clan, errors.Join(errs...)
}

func (c *Clans) Info(ctx context.Context, number string) (Clan, error) {
	_, clan, err := c.current(ctx, number)
	return clan, err
}

var clanReplies = map[error]string{
	ErrInClan:            "🚫 You're already in a clan.",
	ErrClanExists:        "⚠️ Clan already exists.",
	ErrClanNotFound:      "❌ Clan not found.",
	ErrNotInClan:         "⚠️ You're not in a clan.",
	ErrLeaderCannotLeave: "🚫 Clan leaders cannot leave. Disband the clan instead.",
	ErrNotClanLeader:     "🚫 Only the clan leader can disband the clan.",
}

func (p *plugins) clan(ctx context.Context, req *command.Request) error {
	mc := req.Context
	prefix := req.Settings.Prefix
	if len(mc.Args) == 0 {
		req.Reply(ctx, fmt.Sprintf("🛡️ *Clan Commands:*\n- %[1]sclan create [name]\n- %[1]sclan join [name]\n- %[1]sclan leave\n- %[1]sclan disband\n- %[1]sclan info", prefix))
		return nil
	}
	name := strings.Join(mc.Args[1:], " ")
	var (
		clan Clan
		err  error
	)
	switch strings.ToLower(mc.Args[0]) {
	case "create":
		if name == "" {
			req.Reply(ctx, "⚠️ Provide a clan name.")
			return nil
		}
		if clan, err = p.clans.Create(ctx, mc.SenderNumber, name, p.now()); err == nil {
			req.Reply(ctx, fmt.Sprintf("✅ Clan *%s* created successfully!", clan.Name))
		}
	case "join":
		if name == "" {
			err = ErrClanNotFound
		} else if clan, err = p.clans.Join(ctx, mc.SenderNumber, name); err == nil {
			req.Reply(ctx, fmt.Sprintf("✅ You've joined the clan *%s*!", clan.Name))
		}
	case "leave":
		if _, err = p.clans.Leave(ctx, mc.SenderNumber); err == nil {
			req.Reply(ctx, "✅ You have left your clan.")
		}
	case "disband":
		if clan, err = p.clans.Disband(ctx, mc.SenderNumber); err == nil {
			req.Reply(ctx, fmt.Sprintf("💥 Clan *%s* has been disbanded.", clan.Name))
		}
	case "info":
		if clan, err = p.clans.Info(ctx, mc.SenderNumber); err == nil {
			text := fmt.Sprintf("🏰 *Clan Name:* %s\n👑 *Leader:* @%s\n👥 *Members:* %d\n🏅 *Level:* %d\n💰 *Clan Bank:* %s",
				clan.Name, clan.Leader, len(clan.Members), clan.Level, naira(clan.Bank))
			leader := types.NewJID(clan.Leader, types.DefaultUserServer)
			req.Gateway.SafeReply(ctx, mc.From, reply.MentionText(text, []types.JID{leader}))
		}
	default:
		req.Reply(ctx, fmt.Sprintf("⚠️ Unknown clan subcommand. Try `%[1]sclan info`, `%[1]sclan join [name]`, etc.", prefix))
	}
	for sentinel, text := range clanReplies {
		if errors.Is(err, sentinel) {
			req.Reply(ctx, text)
			return nil
		}
	}
	return err
}
