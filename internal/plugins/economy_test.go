package plugins

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"gisthq-bot/internal/command"
	"gisthq-bot/internal/store"
)

var errDiskFull = errors.New("disk full")

// flakyStore fails every write of one economy key.
type flakyStore struct {
	store.Store
	failKey string
}

func (s *flakyStore) Set(ctx context.Context, collection, key string, value any) error {
	if collection == store.Economy && key == s.failKey {
		return errDiskFull
	}
	return s.Store.Set(ctx, collection, key, value)
}

func (f *fixture) run(t *testing.T, h command.Handler, number, body string) string {
	t.Helper()
	if err := h(context.Background(), f.request(number, body, true)); err != nil {
		t.Fatalf("%s: %v", body, err)
	}
	return f.rec.last(t)
}

func TestTransferKeepsMoneyOnFailedWrite(t *testing.T) {
	t.Parallel()
	for _, failKey := range []string{userNumber, otherNumber} {
		t.Run(failKey, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			base, err := store.OpenJSONFile(t.TempDir())
			if err != nil {
				t.Fatal(err)
			}
			if _, err = NewBank(base).Credit(ctx, userNumber, 1000); err != nil {
				t.Fatal(err)
			}
			b := NewBank(&flakyStore{Store: base, failKey: failKey})
			if err = b.Transfer(ctx, userNumber, otherNumber, 400); !errors.Is(err, errDiskFull) {
				t.Fatalf("Transfer: got %v, want errDiskFull", err)
			}
			src, _ := b.Wallet(ctx, userNumber)
			dst, _ := b.Wallet(ctx, otherNumber)
			if src.Balance != 1000 || dst.Balance != 0 {
				t.Errorf("after failed transfer: src=%+v dst=%+v", src, dst)
			}
		})
	}
}

func TestRob(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.p.bank.Credit(ctx, otherNumber, 4000); err != nil {
		t.Fatal(err)
	}
	balances := func() (int64, int64) {
		robber, _ := f.p.bank.Wallet(ctx, userNumber)
		victim, _ := f.p.bank.Wallet(ctx, otherNumber)
		return robber.Balance, victim.Balance
	}

	if got := f.run(t, f.p.rob, userNumber, ".rob"); !strings.Contains(got, "Tag someone") {
		t.Errorf("no target: %q", got)
	}
	if got := f.run(t, f.p.rob, userNumber, ".rob "+userNumber); !strings.Contains(got, "can't rob yourself") {
		t.Errorf("self: %q", got)
	}
	if got := f.run(t, f.p.rob, userNumber, ".rob 2348011111111"); !strings.Contains(got, "too broke") {
		t.Errorf("broke target: %q", got)
	}

	f.roll = 0.25
	if got := f.run(t, f.p.rob, userNumber, ".rob "+otherNumber); !strings.Contains(got, "successfully robbed ₦500") {
		t.Errorf("success: %q", got)
	}
	if r, v := balances(); r != 500 || v != 3500 {
		t.Errorf("after success: robber=%d victim=%d", r, v)
	}

	f.now = f.now.Add(10 * time.Minute)
	if got := f.run(t, f.p.rob, userNumber, ".rob "+otherNumber); !strings.Contains(got, "Try again in 20 minutes") {
		t.Errorf("cooldown: %q", got)
	}

	f.now = f.now.Add(21 * time.Minute)
	f.roll = 0.9
	if got := f.run(t, f.p.rob, userNumber, ".rob "+otherNumber); !strings.Contains(got, "lost ₦500") {
		t.Errorf("failure: %q", got)
	}
	if r, v := balances(); r != 0 || v != 4000 {
		t.Errorf("after failure: robber=%d victim=%d", r, v)
	}

	f.now = f.now.Add(time.Hour)
	if got := f.run(t, f.p.rob, userNumber, ".rob "+otherNumber); !strings.Contains(got, "You failed to rob") {
		t.Errorf("failure without funds: %q", got)
	}
	if r, v := balances(); r != 0 || v != 4000 {
		t.Errorf("penalty taken without funds: robber=%d victim=%d", r, v)
	}
}

func TestClanLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	clan := f.p.clan

	steps := []struct {
		number string
		body   string
		want   string
	}{
		{userNumber, ".clan", "Clan Commands"},
		{userNumber, ".clan create", "Provide a clan name"},
		{userNumber, ".clan info", "not in a clan"},
		{userNumber, ".clan create Night Owls", "Clan *Night Owls* created"},
		{otherNumber, ".clan create night owls", "already exists"},
		{otherNumber, ".clan join ghosts", "Clan not found"},
		{otherNumber, ".clan join NIGHT OWLS", "joined the clan *Night Owls*"},
		{userNumber, ".clan join night owls", "already in a clan"},
		{userNumber, ".clan info", "*Members:* 2"},
		{userNumber, ".clan leave", "Disband the clan instead"},
		{otherNumber, ".clan disband", "Only the clan leader"},
		{otherNumber, ".clan leave", "left your clan"},
		{userNumber, ".clan info", "*Members:* 1"},
		{otherNumber, ".clan join night owls", "joined the clan"},
		{userNumber, ".clan disband", "Clan *Night Owls* has been disbanded"},
		{otherNumber, ".clan info", "not in a clan"},
		{userNumber, ".clan fly", "Unknown clan subcommand"},
	}
	for _, s := range steps {
		if got := f.run(t, clan, s.number, s.body); !strings.Contains(got, s.want) {
			t.Errorf("%s %s: got %q, want %q", s.number, s.body, got, s.want)
		}
	}
	for _, number := range []string{userNumber, otherNumber} {
		if w, _ := f.p.bank.Wallet(ctx, number); w.Clan != "" {
			t.Errorf("%s still in clan %q", number, w.Clan)
		}
	}
	if found, _ := f.st.Get(ctx, store.Clans, "night owls", &Clan{}); found {
		t.Error("disbanded clan still stored")
	}
}

func TestEconConfigAdminOnly(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if got := f.run(t, f.p.econConfig, userNumber, ".econconfig"); !strings.Contains(got, "Admins only") {
		t.Errorf("non-admin: %q", got)
	}
	got := f.run(t, f.p.econConfig, ownerNumber, ".econconfig")
	for _, want := range []string{"Attendance reward: ₦500", "Rob cooldown: 30m 0s", "Companies listed: 5"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
}

func TestParseLockDays(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"7d", 7, true},
		{"2W", 14, true},
		{"30d", 30, true},
		{"31d", 31, false},
		{"5w", 35, false},
		{"0d", 0, false},
		{"7", 0, false},
		{"x7d", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseLockDays(tt.in)
		if ok != tt.wantOK || (ok && got != tt.want) {
			t.Errorf("parseLockDays(%q) = %d, %v", tt.in, got, ok)
		}
	}
}

func TestInvestmentFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if got := f.run(t, f.p.invest, userNumber, ".invest"); !strings.Contains(got, "1. *Amazon*") || !strings.Contains(got, "5. *Tesla*") {
		t.Errorf("invest: %q", got)
	}
	if got := f.run(t, f.p.portfolio, userNumber, ".portfolio"); !strings.Contains(got, "portfolio is empty") {
		t.Errorf("empty portfolio: %q", got)
	}

	steps := []struct {
		h    command.Handler
		body string
		want string
	}{
		{f.p.company, ".company", "Please specify a company"},
		{f.p.company, ".company 4", "*Google Investment Details*"},
		{f.p.company, ".company tes", "*Tesla Investment Details*"},
		{f.p.company, ".company 9", "Company not found"},
		{f.p.buy, ".buy google 2000", "Wrong format"},
		{f.p.buy, ".buy nokia 2000 7d", "not found"},
		{f.p.buy, ".buy google 2000 5w", "Invalid input"},
		{f.p.buy, ".buy google 2000 7d", "You need: ₦1,200"},
	}
	for _, s := range steps {
		if got := f.run(t, s.h, userNumber, s.body); !strings.Contains(got, s.want) {
			t.Errorf("%s: got %q, want %q", s.body, got, s.want)
		}
	}

	if _, err := f.p.bank.Credit(ctx, userNumber, 5000); err != nil {
		t.Fatal(err)
	}
	if got := f.run(t, f.p.buy, userNumber, ".buy google 100 7d"); !strings.Contains(got, "Amount too low") {
		t.Errorf("too low: %q", got)
	}
	if got := f.run(t, f.p.buy, userNumber, ".buy google 2000 7d"); !strings.Contains(got, "1 at ₦1,200") || !strings.Contains(got, "New balance:* ₦3,800") {
		t.Errorf("first buy: %q", got)
	}
	if got := f.run(t, f.p.buy, userNumber, ".buy GOOGLE 2400 1w"); !strings.Contains(got, "2 at ₦1,200") {
		t.Errorf("second buy: %q", got)
	}

	w, err := f.p.bank.Wallet(ctx, userNumber)
	if err != nil {
		t.Fatal(err)
	}
	h := w.Shares["google"]
	if w.Balance != 1400 || h.Quantity != 3 || h.Invested != 3600 || h.BoughtAt != 1200 || !h.LockedUntil.Equal(f.now.AddDate(0, 0, 7)) {
		t.Errorf("wallet after buys: %+v", w)
	}

	got := f.run(t, f.p.portfolio, userNumber, ".portfolio")
	for _, want := range []string{"3 shares @ ₦1,200", "Locked until", "Total Invested: ₦3,600", "Available Balance: ₦1,400"} {
		if !strings.Contains(got, want) {
			t.Errorf("portfolio missing %q in %q", want, got)
		}
	}
	f.now = f.now.AddDate(0, 0, 8)
	if got = f.run(t, f.p.portfolio, userNumber, ".portfolio"); !strings.Contains(got, "🔓 Unlocked") {
		t.Errorf("portfolio after lock: %q", got)
	}
}

func TestStoredCompaniesReplaceDefaults(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	for _, c := range []Company{
		{Name: "Zenith", Price: 50, Risk: "Low"},
		{Key: "bolt", Name: "Bolt", Price: 90, Risk: "High"},
	} {
		key := c.Key
		if key == "" {
			key = "zenith"
		}
		if err := f.st.Set(ctx, store.Companies, key, c); err != nil {
			t.Fatal(err)
		}
	}
	companies, err := f.p.companies(ctx)
	if err != nil {
		t.Fatal(err)
	}
	keys := make([]string, 0, len(companies))
	for _, c := range companies {
		keys = append(keys, c.Key)
	}
	if !slices.Equal(keys, []string{"bolt", "zenith"}) {
		t.Errorf("companies: %v", keys)
	}
}

func TestPrivilegedReactionsFollowAuthorization(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	bindings := f.p.adminBindings()
	i := slices.IndexFunc(bindings, func(b command.Binding) bool { return b.Pattern == "ban" })
	if i < 0 {
		t.Fatal("ban binding missing")
	}
	ban := bindings[i]
	if ban.React != "" {
		t.Errorf("ban reacts before authorization: %q", ban.React)
	}

	f.run(t, ban.Handler, userNumber, ".ban "+otherNumber)
	if len(f.rec.reactions) != 0 {
		t.Errorf("unauthorized ban got reactions %v", f.rec.reactions)
	}
	f.run(t, ban.Handler, ownerNumber, ".ban "+otherNumber)
	if !slices.Equal(f.rec.reactions, []string{"🚫"}) {
		t.Errorf("authorized ban reactions: %v", f.rec.reactions)
	}
}
