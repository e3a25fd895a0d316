package plugins

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.mau.fi/whatsmeow/types"

	"gisthq-bot/internal/command"
	"gisthq-bot/internal/reply"
	"gisthq-bot/internal/store"
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSelfTransfer      = errors.New("cannot transfer to yourself")

	errTargetBroke = errors.New("target too broke")
)

// Robbery rules.
const (
	robCooldown  = 30 * time.Minute
	robMinTarget = 1000
	robBaseTake  = 200
	robMaxShare  = 0.3
	robPenalty   = 500
)

// Wallet is one user's record in the economy collection.
type Wallet struct {
	Balance int64  `json:"balance" bson:"balance"`
	Bank    int64  `json:"bank" bson:"bank"`
	Clan    string `json:"clan,omitempty" bson:"clan,omitempty"`
	// Shares is keyed by company key.
	Shares map[string]Holding `json:"shares,omitempty" bson:"shares,omitempty"`
}

// Bank serializes wallet read-modify-write cycles.
type Bank struct {
	store store.Store
	mu    sync.Mutex
}

func NewBank(st store.Store) *Bank {
	return &Bank{store: st}
}

func (b *Bank) load(ctx context.Context, number string) (Wallet, error) {
	var w Wallet
	if _, err := b.store.Get(ctx, store.Economy, number, &w); err != nil {
		return w, fmt.Errorf("failed to load wallet: %w", err)
	}
	return w, nil
}

func (b *Bank) Wallet(ctx context.Context, number string) (Wallet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.load(ctx, number)
}

func (b *Bank) update(ctx context.Context, number string, fn func(*Wallet) error) (Wallet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, err := b.load(ctx, number)
	if err != nil {
		return w, err
	}
	if err = fn(&w); err != nil {
		return w, err
	}
	if err = b.store.Set(ctx, store.Economy, number, w); err != nil {
		return w, fmt.Errorf("failed to save wallet: %w", err)
	}
	return w, nil
}

// Credit adds amount to the wallet balance.
func (b *Bank) Credit(ctx context.Context, number string, amount int64) (Wallet, error) {
	return b.update(ctx, number, func(w *Wallet) error {
		w.Balance += amount
		return nil
	})
}

func (b *Bank) Deposit(ctx context.Context, number string, amount int64) (Wallet, error) {
	return b.update(ctx, number, func(w *Wallet) error {
		if amount <= 0 {
			return ErrInvalidAmount
		} else if w.Balance < amount {
			return ErrInsufficientFunds
		}
		w.Balance -= amount
		w.Bank += amount
		return nil
	})
}

func (b *Bank) Withdraw(ctx context.Context, number string, amount int64) (Wallet, error) {
	return b.update(ctx, number, func(w *Wallet) error {
		if amount <= 0 {
			return ErrInvalidAmount
		} else if w.Bank < amount {
			return ErrInsufficientFunds
		}
		w.Bank -= amount
		w.Balance += amount
		return nil
	})
}

// Transfer moves amount from one wallet balance to another.
func (b *Bank) Transfer(ctx context.Context, from, to string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return b.Exchange(ctx, from, to, func(src, dst *Wallet) error {
		if src.Balance < amount {
			return ErrInsufficientFunds
		}
		src.Balance -= amount
		dst.Balance += amount
		return nil
	})
}

// Exchange applies fn to the wallets of from and to and saves both. The to
// wallet is saved first and restored when the from wallet cannot be saved.
func (b *Bank) Exchange(ctx context.Context, from, to string, fn func(src, dst *Wallet) error) error {
	if from == to {
		return ErrSelfTransfer
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	src, err := b.load(ctx, from)
	if err != nil {
		return err
	}
	dst, err := b.load(ctx, to)
	if err != nil {
		return err
	}
	before := dst
	if err = fn(&src, &dst); err != nil {
		return err
	}
	if err = b.store.Set(ctx, store.Economy, to, dst); err != nil {
		return fmt.Errorf("failed to save wallet: %w", err)
	}
	if err = b.store.Set(ctx, store.Economy, from, src); err != nil {
		err = fmt.Errorf("failed to save wallet: %w", err)
		if rerr := b.store.Set(ctx, store.Economy, to, before); rerr != nil {
			return errors.Join(err, fmt.Errorf("failed to restore wallet %s: %w", to, rerr))
		}
		return err
	}
	return nil
}

// cooldowns tracks when each user last used a rate-limited command.
type cooldowns struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func newCooldowns() *cooldowns {
	return &cooldowns{last: make(map[string]time.Time)}
}

// remaining is the wait left for number, or zero when it may act.
func (c *cooldowns) remaining(number string, now time.Time, d time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.last[number]; ok {
		if left := d - now.Sub(last); left > 0 {
			return left
		}
	}
	return 0
}

func (c *cooldowns) mark(number string, now time.Time) {
	c.mu.Lock()
	c.last[number] = now
	c.mu.Unlock()
}

func naira(amount int64) string {
	return "₦" + humanize.Comma(amount)
}

func parseAmount(args []string, i int) (int64, bool) {
	if i < 0 || i >= len(args) {
		return 0, false
	}
	n, err := strconv.ParseInt(args[i], 10, 64)
	return n, err == nil && n > 0
}

func (p *plugins) economyBindings() []command.Binding {
	return []command.Binding{
		{Pattern: "balance", Aliases: []string{"bal"}, Desc: "Check your balance", Category: CategoryEconomy, Handler: p.balance},
		{Pattern: "deposit", Desc: "Deposit money to bank", Category: CategoryEconomy, Handler: p.deposit},
		{Pattern: "withdraw", Desc: "Withdraw money from bank", Category: CategoryEconomy, Handler: p.withdraw},
		{Pattern: "transfer", Aliases: []string{"send", "pay"}, Desc: "Send money to someone", Category: CategoryEconomy, Handler: p.transfer},
		{Pattern: "rob", Desc: "Attempt to rob a user", Category: CategoryEconomy, Handler: p.rob},
		{Pattern: "clan", Desc: "Clan system (create, join, leave, disband, info)", Category: CategoryEconomy, Handler: p.clan},
		{Pattern: "econconfig", Desc: "Show the economy configuration (admin only)", Category: CategoryEconomy, Handler: p.econConfig},
	}
}

func (p *plugins) balance(ctx context.Context, req *command.Request) error {
	w, err := p.bank.Wallet(ctx, req.Context.SenderNumber)
	if err != nil {
		return err
	}
	req.Reply(ctx, fmt.Sprintf("💰 Balance: %s\n🏦 Bank: %s", naira(w.Balance), naira(w.Bank)))
	return nil
}

func (p *plugins) deposit(ctx context.Context, req *command.Request) error {
	amount, ok := parseAmount(req.Context.Args, 0)
	if !ok {
		req.Reply(ctx, "⚠️ Invalid amount.")
		return nil
	}
	_, err := p.bank.Deposit(ctx, req.Context.SenderNumber, amount)
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		req.Reply(ctx, "🚫 Not enough balance.")
	case err != nil:
		return err
	default:
		req.Reply(ctx, fmt.Sprintf("🏦 Deposited %s to bank.", naira(amount)))
	}
	return nil
}

func (p *plugins) withdraw(ctx context.Context, req *command.Request) error {
	amount, ok := parseAmount(req.Context.Args, 0)
	if !ok {
		req.Reply(ctx, "⚠️ Invalid amount.")
		return nil
	}
	_, err := p.bank.Withdraw(ctx, req.Context.SenderNumber, amount)
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		req.Reply(ctx, "🚫 Not enough bank balance.")
	case err != nil:
		return err
	default:
		req.Reply(ctx, fmt.Sprintf("💵 Withdrawn %s from bank.", naira(amount)))
	}
	return nil
}

func (p *plugins) transfer(ctx context.Context, req *command.Request) error {
	mc := req.Context
	target := targetNumber(req)
	// The amount is the last argument so that both "@user 100" and
	// "2348012345678 100" work.
	amount, ok := parseAmount(mc.Args, len(mc.Args)-1)
	explicit := len(mc.Content.Mentions) > 0 || mc.Content.QuotedSender != ""
	if target == "" || !ok || (!explicit && len(mc.Args) < 2) {
		req.Reply(ctx, fmt.Sprintf("⚠️ Usage: %stransfer @user amount", req.Settings.Prefix))
		return nil
	}
	err := p.bank.Transfer(ctx, mc.SenderNumber, target, amount)
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		req.Reply(ctx, "🚫 Insufficient balance.")
	case errors.Is(err, ErrSelfTransfer):
		req.Reply(ctx, "🧠 You can't pay yourself!")
	case err != nil:
		return err
	default:
		to := types.NewJID(target, types.DefaultUserServer)
		text := fmt.Sprintf("✅ @%s paid %s to @%s", mc.SenderNumber, naira(amount), target)
		req.Gateway.SafeReply(ctx, mc.From, reply.MentionText(text, []types.JID{mc.Sender, to}))
	}
	return nil
}

func (p *plugins) rob(ctx context.Context, req *command.Request) error {
	mc := req.Context
	target := targetNumber(req)
	switch {
	case target == "":
		req.Reply(ctx, "⚠️ Tag someone to rob!")
		return nil
	case target == mc.SenderNumber:
		req.Reply(ctx, "🧠 You can't rob yourself!")
		return nil
	}
	now := p.now()
	if left := p.robbers.remaining(mc.SenderNumber, now, robCooldown); left > 0 {
		req.Reply(ctx, fmt.Sprintf("⏱️ You're on cooldown. Try again in %d minutes.", int(math.Ceil(left.Minutes()))))
		return nil
	}

	success := p.roll() < 0.5
	var moved int64
	err := p.bank.Exchange(ctx, mc.SenderNumber, target, func(robber, victim *Wallet) error {
		if victim.Balance < robMinTarget {
			return errTargetBroke
		}
		switch {
		case success:
			moved = min(int64(p.roll()*float64(victim.Balance)*robMaxShare)+robBaseTake, victim.Balance)
			victim.Balance -= moved
			robber.Balance += moved
		case robber.Balance >= robPenalty:
			moved = robPenalty
			robber.Balance -= moved
			victim.Balance += moved
		}
		return nil
	})
	switch {
	case errors.Is(err, errTargetBroke):
		req.Reply(ctx, "👀 Target too broke to rob.")
		return nil
	case err != nil:
		return err
	}
	p.robbers.mark(mc.SenderNumber, now)

	var text string
	switch {
	case success:
		text = fmt.Sprintf("🦹 You successfully robbed %s from @%s 💸", naira(moved), target)
	case moved > 0:
		text = fmt.Sprintf("🚨 You failed the robbery and lost %s to @%s as compensation.", naira(moved), target)
	default:
		text = fmt.Sprintf("🚨 You failed to rob @%s.", target)
	}
	to := types.NewJID(target, types.DefaultUserServer)
	req.Gateway.SafeReply(ctx, mc.From, reply.MentionText(text, []types.JID{mc.Sender, to}))
	return nil
}

func (p *plugins) econConfig(ctx context.Context, req *command.Request) error {
	if !req.Context.IsAdmin && !p.privileged(ctx, req) {
		req.Reply(ctx, "🚫 Admins only.")
		return nil
	}
	companies, err := p.companies(ctx)
	if err != nil {
		return err
	}
	a := req.Settings.Attendance
	req.Reply(ctx, fmt.Sprintf(`⚙️ *ECONOMY CONFIG*

📝 Attendance reward: %s
🖼️ Image bonus: %s
🔥 Streak bonus: %.1fx (%s)
🦹 Rob cooldown: %s
👀 Rob minimum target: %s
🚨 Failed rob penalty: %s
🏢 Companies listed: %d

Change attendance rewards with %sattendancesettings.`,
		naira(int64(a.RewardAmount)), naira(int64(a.ImageRewardBonus)),
		a.StreakBonusMultiplier, yesNo(a.EnableStreakBonus, "on", "off"),
		FormatUptime(robCooldown), naira(robMinTarget), naira(robPenalty),
		len(companies), req.Settings.Prefix))
	return nil
}
