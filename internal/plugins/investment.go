package plugins

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"gisthq-bot/internal/command"
	"gisthq-bot/internal/store"
)

var ErrAmountTooLow = errors.New("amount below one share")

// Lock period bounds, in days.
const (
	minLockDays = 1
	maxLockDays = 30
)

var lockPattern = regexp.MustCompile(`^(\d+)([dw])$`)

// Company is one listing in the companies collection.
type Company struct {
	Key         string  `json:"key" bson:"key"`
	Name        string  `json:"name" bson:"name"`
	Description string  `json:"description" bson:"description"`
	Price       int64   `json:"price" bson:"price"`
	ROIMin      float64 `json:"roi_min" bson:"roi_min"`
	ROIMax      float64 `json:"roi_max" bson:"roi_max"`
	Risk        string  `json:"risk" bson:"risk"`
}

// Holding is a wallet's position in one company.
type Holding struct {
	Quantity    int64     `json:"quantity" bson:"quantity"`
	BoughtAt    int64     `json:"bought_at" bson:"bought_at"`
	Invested    int64     `json:"invested" bson:"invested"`
	BoughtOn    time.Time `json:"bought_on" bson:"bought_on"`
	LockedUntil time.Time `json:"locked_until" bson:"locked_until"`
	Days        int       `json:"days" bson:"days"`
}

// DefaultCompanies is the listing used while the companies collection is
// empty.
func DefaultCompanies() []Company {
	return []Company{
		{Key: "amazon", Name: "Amazon", Description: "Online retail and cloud services", Price: 800, ROIMin: 0.9, ROIMax: 1.6, Risk: "Medium"},
		{Key: "apple", Name: "Apple", Description: "Phones, laptops and services", Price: 1000, ROIMin: 1.0, ROIMax: 1.5, Risk: "Low"},
		{Key: "dangote", Name: "Dangote", Description: "Cement, sugar and refining", Price: 300, ROIMin: 0.8, ROIMax: 1.8, Risk: "Medium"},
		{Key: "google", Name: "Google", Description: "Search and advertising giant", Price: 1200, ROIMin: 1.0, ROIMax: 1.4, Risk: "Low"},
		{Key: "tesla", Name: "Tesla", Description: "Electric vehicles and energy", Price: 600, ROIMin: 0.5, ROIMax: 2.5, Risk: "High"},
	}
}

// companies returns the stored listing, or the defaults when none is
// stored, ordered by key.
func (p *plugins) companies(ctx context.Context) ([]Company, error) {
	var out []Company
	err := p.Store.Scan(ctx, store.Companies, func(key string, decode store.Decoder) error {
		var c Company
		if err := decode(&c); err != nil {
			return fmt.Errorf("failed to decode company %s: %w", key, err)
		}
		if c.Key == "" {
			c.Key = key
		}
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	if len(out) == 0 {
		out = DefaultCompanies()
	}
	slices.SortFunc(out, func(a, b Company) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

// findCompany matches a 1-based list number or a key substring.
func findCompany(companies []Company, input string) (Company, bool) {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return Company{}, false
	}
	if n, err := strconv.Atoi(input); err == nil {
		if n >= 1 && n <= len(companies) {
			return companies[n-1], true
		}
		return Company{}, false
	}
	for _, c := range companies {
		if strings.Contains(strings.ToLower(c.Key), input) {
			return c, true
		}
	}
	return Company{}, false
}

// parseLockDays reads "7d" or "2w".
func parseLockDays(v string) (int, bool) {
	m := lockPattern.FindStringSubmatch(strings.ToLower(v))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	if m[2] == "w" {
		n *= 7
	}
	return n, n >= minLockDays && n <= maxLockDays
}

// Invest buys as many whole shares of c as amount covers, locked for days.
// Buying into an existing holding merges the two.
func (b *Bank) Invest(ctx context.Context, number string, c Company, amount int64, days int, now time.Time) (Holding, Wallet, error) {
	var h Holding
	if amount <= 0 || c.Price <= 0 {
		return h, Wallet{}, ErrInvalidAmount
	}
	quantity := amount / c.Price
	if quantity == 0 {
		return h, Wallet{}, ErrAmountTooLow
	}
	cost := quantity * c.Price
	w, err := b.update(ctx, number, func(w *Wallet) error {
		if w.Balance < cost {
			return ErrInsufficientFunds
		}
		w.Balance -= cost
		if w.Shares == nil {
			w.Shares = make(map[string]Holding)
		}
		prev := w.Shares[c.Key]
		h = Holding{
			Quantity:    prev.Quantity + quantity,
			Invested:    prev.Invested + cost,
			BoughtOn:    now.UTC(),
			LockedUntil: now.UTC().AddDate(0, 0, days),
			Days:        days,
		}
		h.BoughtAt = h.Invested / h.Quantity
		if prev.LockedUntil.After(h.LockedUntil) {
			h.LockedUntil = prev.LockedUntil
		}
		w.Shares[c.Key] = h
		return nil
	})
	return h, w, err
}

func (p *plugins) investmentBindings() []command.Binding {
	return []command.Binding{
		{Pattern: "invest", Desc: "Show available companies", Category: CategoryInvestment, Handler: p.invest},
		{Pattern: "company", Desc: "Select a company to invest in", Category: CategoryInvestment, Handler: p.company},
		{Pattern: "buy", Desc: "Buy company shares", Category: CategoryInvestment, Handler: p.buy},
		{Pattern: "portfolio", Desc: "View your investment portfolio", Category: CategoryInvestment, Handler: p.portfolio},
		{Pattern: "investhelp", Desc: "Investment commands help", Category: CategoryInvestment, Handler: p.investHelp},
	}
}

func (p *plugins) invest(ctx context.Context, req *command.Request) error {
	companies, err := p.companies(ctx)
	if err != nil {
		return err
	}
	var sb strings.Builder
	sb.WriteString("🏢 *Available Companies to Invest In:*\n\n")
	for i, c := range companies {
		fmt.Fprintf(&sb, "%d. *%s*\n   💰 %s/share | 📊 %s\n\n", i+1, c.Name, naira(c.Price), c.Risk)
	}
	prefix := req.Settings.Prefix
	fmt.Fprintf(&sb, "📝 *Next step:*\nType: *%[1]scompany [number]* (e.g. \"%[1]scompany 1\")\nOr: *%[1]scompany [name]* (e.g. \"%[1]scompany google\")", prefix)
	req.Reply(ctx, sb.String())
	return nil
}

func (p *plugins) company(ctx context.Context, req *command.Request) error {
	prefix := req.Settings.Prefix
	input := strings.Join(req.Context.Args, " ")
	if input == "" {
		req.Reply(ctx, fmt.Sprintf("❌ Please specify a company!\nExample: *%[1]scompany 1* or *%[1]scompany google*", prefix))
		return nil
	}
	companies, err := p.companies(ctx)
	if err != nil {
		return err
	}
	c, ok := findCompany(companies, input)
	if !ok {
		req.Reply(ctx, fmt.Sprintf("❌ Company not found!\n\nType *%sinvest* to see the list again.", prefix))
		return nil
	}
	req.Reply(ctx, fmt.Sprintf(`📈 *%[1]s Investment Details*

📝 *About:* %[2]s
💵 *Share Price:* %[3]s
📊 *ROI Range:* %.1[4]fx to %.1[5]fx
🔒 *Risk Level:* %[6]s

📝 *To invest:*
Type: *%[7]sbuy %[8]s [amount] [duration]*
Example: *%[7]sbuy %[8]s 2000 7d*`, c.Name, c.Description, naira(c.Price), c.ROIMin, c.ROIMax, c.Risk, prefix, c.Key))
	return nil
}

func (p *plugins) buy(ctx context.Context, req *command.Request) error {
	mc := req.Context
	prefix := req.Settings.Prefix
	if len(mc.Args) != 3 {
		req.Reply(ctx, fmt.Sprintf("❌ Wrong format!\nUse: *%[1]sbuy [company] [amount] [duration]*\nExample: *%[1]sbuy google 2000 7d*", prefix))
		return nil
	}
	companies, err := p.companies(ctx)
	if err != nil {
		return err
	}
	key := strings.ToLower(mc.Args[0])
	idx := slices.IndexFunc(companies, func(c Company) bool { return c.Key == key })
	if idx < 0 {
		req.Reply(ctx, fmt.Sprintf("❌ Company %q not found!\nType *%sinvest* to see available companies.", key, prefix))
		return nil
	}
	c := companies[idx]
	amount, okAmount := parseAmount(mc.Args, 1)
	days, okDays := parseLockDays(mc.Args[2])
	if !okAmount || !okDays {
		req.Reply(ctx, fmt.Sprintf("⚠️ Invalid input:\n• Amount must be a positive number\n• Duration: 1-30 days (e.g. 7d, 2w)\nExample: *%sbuy google 2000 7d*", prefix))
		return nil
	}

	h, w, err := p.bank.Invest(ctx, mc.SenderNumber, c, amount, days, p.now())
	switch {
	case errors.Is(err, ErrAmountTooLow):
		req.Reply(ctx, fmt.Sprintf("❌ Amount too low. Minimum needed: %s for 1 share.", naira(c.Price)))
	case errors.Is(err, ErrInsufficientFunds):
		quantity := amount / c.Price
		req.Reply(ctx, fmt.Sprintf("🚫 Insufficient balance!\n💰 You have: %s\n💵 You need: %s\n📦 For %d shares",
			naira(w.Balance), naira(quantity*c.Price), quantity))
	case err != nil:
		return err
	default:
		bought := amount / c.Price
		req.Reply(ctx, fmt.Sprintf(`✅ *Investment Successful!*

🏢 *Company:* %s
📦 *Shares:* %d at %s/share
💰 *Total invested:* %s
🔒 *Lock period:* %d days
🔓 *Unlock date:* %s
💳 *New balance:* %s

🎉 Happy investing!`, c.Name, bought, naira(c.Price), naira(bought*c.Price), days,
			h.LockedUntil.Format("Jan 02, 2006"), naira(w.Balance)))
	}
	return nil
}

func (p *plugins) portfolio(ctx context.Context, req *command.Request) error {
	w, err := p.bank.Wallet(ctx, req.Context.SenderNumber)
	if err != nil {
		return err
	}
	if len(w.Shares) == 0 {
		req.Reply(ctx, fmt.Sprintf("📈 Your portfolio is empty.\n\nType *%sinvest* to start investing!", req.Settings.Prefix))
		return nil
	}
	companies, err := p.companies(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(w.Shares))
	for k := range w.Shares {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	now := p.now()
	var sb strings.Builder
	var invested, current int64
	sb.WriteString("📊 *Your Investment Portfolio*\n\n")
	for _, k := range keys {
		h := w.Shares[k]
		name, price := k, h.BoughtAt
		if i := slices.IndexFunc(companies, func(c Company) bool { return c.Key == k }); i >= 0 {
			name, price = companies[i].Name, companies[i].Price
		}
		value := h.Quantity * price
		invested += h.Invested
		current += value
		lock := "🔓 Unlocked"
		if now.Before(h.LockedUntil) {
			lock = fmt.Sprintf("🔒 Locked until %s (%s)", h.LockedUntil.Format("Jan 02, 2006"), humanize.RelTime(h.LockedUntil, now, "ago", "left"))
		}
		fmt.Fprintf(&sb, "🏢 *%s*\n📦 %d shares @ %s\n💰 Invested: %s\n📈 Current: %s\n%s\n\n",
			name, h.Quantity, naira(h.BoughtAt), naira(h.Invested), naira(value), lock)
	}
	profit := current - invested
	percent := 0.0
	if invested > 0 {
		percent = float64(profit) / float64(invested) * 100
	}
	fmt.Fprintf(&sb, "📈 *Portfolio Summary*\n💵 Total Invested: %s\n💰 Current Value: %s\n%s P&L: %s (%.2f%%)\n💳 Available Balance: %s",
		naira(invested), naira(current), yesNo(profit >= 0, "📈", "📉"), naira(profit), percent, naira(w.Balance))
	req.Reply(ctx, sb.String())
	return nil
}

func (p *plugins) investHelp(ctx context.Context, req *command.Request) error {
	req.Reply(ctx, fmt.Sprintf(`📋 *Investment Commands:*

🎯 *%[1]sinvest* - See available companies
🏢 *%[1]scompany [number/name]* - Select company
💰 *%[1]sbuy [company] [amount] [duration]* - Buy shares
📊 *%[1]sportfolio* - View your investments

💡 *Example flow:*
1. Type: *%[1]sinvest*
2. Type: *%[1]scompany 1* or *%[1]scompany google*
3. Type: *%[1]sbuy google 2000 7d*

⏰ Duration format: 7d (days) or 2w (weeks)`, req.Settings.Prefix))
	return nil
}
