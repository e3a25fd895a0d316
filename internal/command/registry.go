// Package command holds the command bindings registered by plugins and
// dispatches normalized messages to them.
package command

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"gisthq-bot/internal/message"
	"gisthq-bot/internal/reply"
	"gisthq-bot/internal/settings"
	"gisthq-bot/internal/transport"
)

var ErrInvalidBinding = errors.New("invalid command binding")

// Trigger says what kind of message runs a binding.
type Trigger int

const (
	Pattern Trigger = iota
	OnBody
	OnText
	OnImage
	OnSticker
)

func (t Trigger) String() string {
	switch t {
	case Pattern:
		return "pattern"
	case OnBody:
		return "body"
	case OnText:
		return "text"
	case OnImage:
		return "image"
	case OnSticker:
		return "sticker"
	default:
		return fmt.Sprintf("Trigger(%d)", int(t))
	}
}

// Request is everything a handler gets for one dispatch cycle.
type Request struct {
	Transport transport.Transport
	Gateway   *reply.Gateway
	Envelope  *message.Envelope
	Context   *message.Context
	Settings  settings.Settings
	Log       zerolog.Logger
}

// Reply sends text back to the chat the request came from, quoting the
// triggering message.
func (r *Request) Reply(ctx context.Context, text string) bool {
	return r.Gateway.Text(ctx, r.Context.From, text, r.Envelope)
}

// React reacts to the triggering message. Failures are only logged.
func (r *Request) React(ctx context.Context, emoji string) {
	if err := r.Transport.React(ctx, r.Envelope.Key, emoji); err != nil {
		r.Log.Debug().Err(err).Str("emoji", emoji).Msg("Failed to react")
	}
}

type Handler func(ctx context.Context, req *Request) error

type Binding struct {
	Pattern  string
	Aliases  []string
	Trigger  Trigger
	Desc     string
	Category string
	// React is sent as a reaction to the triggering message before the
	// handler runs. Pattern bindings only.
	React   string
	Handler Handler
}

// Registry keeps bindings in registration order.
type Registry struct {
	mu       sync.RWMutex
	bindings []Binding
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register validates b and appends it. Pattern and aliases are matched
// case-insensitively.
func (r *Registry) Register(b Binding) error {
	if b.Handler == nil {
		return fmt.Errorf("%w: nil handler", ErrInvalidBinding)
	}
	b.Pattern = strings.ToLower(strings.TrimSpace(b.Pattern))
	if b.Trigger == Pattern && b.Pattern == "" {
		return fmt.Errorf("%w: pattern binding without a pattern", ErrInvalidBinding)
	}
	if b.Trigger != Pattern && (b.Pattern != "" || len(b.Aliases) > 0) {
		return fmt.Errorf("%w: %s binding with a pattern", ErrInvalidBinding, b.Trigger)
	}
	aliases := make([]string, 0, len(b.Aliases))
	for _, a := range b.Aliases {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" && !slices.Contains(aliases, a) {
			aliases = append(aliases, a)
		}
	}
	b.Aliases = aliases
	r.mu.Lock()
	r.bindings = append(r.bindings, b)
	r.mu.Unlock()
	return nil
}

// MustRegister is Register for plugin init code, where a bad binding is a
// programming error.
func (r *Registry) MustRegister(bindings ...Binding) {
	for _, b := range bindings {
		if err := r.Register(b); err != nil {
			panic(err)
		}
	}
}

// Bindings returns a copy of the registered bindings.
func (r *Registry) Bindings() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.bindings)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}

// Match returns the index of the pattern binding for name: the first exact
// pattern match, else the first alias match, else -1.
func Match(bindings []Binding, name string) int {
	if name == "" {
		return -1
	}
	for i, b := range bindings {
		if b.Trigger == Pattern && b.Pattern == name {
			return i
		}
	}
	for i, b := range bindings {
		if b.Trigger == Pattern && slices.Contains(b.Aliases, name) {
			return i
		}
	}
	return -1
}

// Lookup finds the pattern binding for name.
func (r *Registry) Lookup(name string) (Binding, bool) {
	bindings := r.Bindings()
	if i := Match(bindings, strings.ToLower(name)); i >= 0 {
		return bindings[i], true
	}
	return Binding{}, false
}
