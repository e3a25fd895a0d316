// Package plugins contains the built-in command bindings.
package plugins

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"gisthq-bot/internal/access"
	"gisthq-bot/internal/command"
	"gisthq-bot/internal/config"
	"gisthq-bot/internal/settings"
	"gisthq-bot/internal/store"
)

// Version is reported by the alive command.
const Version = "4.1.0"

// Categories used by the menu.
const (
	CategoryMain       = "main"
	CategoryOwner      = "owner"
	CategoryGroup      = "group"
	CategoryEconomy    = "economy"
	CategoryInvestment = "investment"
	CategoryAttendance = "attendance"
)

// Deps is what the plugins share.
type Deps struct {
	Store    store.Store
	Access   *access.Lists
	Settings *settings.Manager
	Registry *command.Registry
	Owners   []string
	Started  time.Time
	Log      zerolog.Logger
}

type plugins struct {
	Deps
	bank       *Bank
	clans      *Clans
	attendance *Ledger
	robbers    *cooldowns
	now        func() time.Time
	roll       func() float64
}

// Install registers every built-in binding on deps.Registry.
func Install(deps Deps) error {
	bank := NewBank(deps.Store)
	p := &plugins{
		Deps:       deps,
		bank:       bank,
		clans:      NewClans(deps.Store, bank),
		attendance: NewLedger(deps.Store),
		robbers:    newCooldowns(),
		now:        time.Now,
		roll:       rand.Float64,
	}
	var errs []error
	for _, b := range p.bindings() {
		if err := deps.Registry.Register(b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *plugins) bindings() []command.Binding {
	var out []command.Binding
	out = append(out, p.mainBindings()...)
	out = append(out, p.adminBindings()...)
	out = append(out, p.economyBindings()...)
	out = append(out, p.investmentBindings()...)
	out = append(out, p.attendanceBindings()...)
	return out
}

// privileged reports an owner or sudo user.
func (p *plugins) privileged(ctx context.Context, req *command.Request) bool {
	if req.Context.IsOwner {
		return true
	}
	sudo, err := p.Access.IsSudo(ctx, req.Context.SenderNumber)
	if err != nil {
		req.Log.Warn().Err(err).Msg("Failed to check sudo list")
	}
	return sudo
}

func (p *plugins) isOwnerNumber(number string) bool {
	return slices.Contains(p.Owners, number)
}

// targetNumber picks the user a command acts on: the first mention, the
// author of the quoted message, or the first argument.
func targetNumber(req *command.Request) string {
	c := req.Context.Content
	if len(c.Mentions) > 0 {
		return c.Mentions[0].User
	}
	if c.QuotedSender != "" {
		if user, _, ok := strings.Cut(c.QuotedSender, "@"); ok {
			return config.SanitizeNumber(user)
		}
	}
	if len(req.Context.Args) > 0 {
		return config.SanitizeNumber(req.Context.Args[0])
	}
	return ""
}

// rawText is the body after the command name with line breaks kept.
func rawText(req *command.Request) string {
	body := strings.TrimPrefix(req.Context.Body, req.Settings.Prefix)
	body = strings.TrimLeftFunc(body, unicode.IsSpace)
	idx := strings.IndexFunc(body, unicode.IsSpace)
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(body[idx:])
}

func parseSwitch(v string) (on, ok bool) {
	switch strings.ToLower(v) {
	case "on", "true", "yes", "enable":
		return true, true
	case "off", "false", "no", "disable":
		return false, true
	}
	return false, false
}
