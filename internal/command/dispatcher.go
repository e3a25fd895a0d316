package command

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gisthq-bot/internal/message"
	"gisthq-bot/internal/reply"
	"gisthq-bot/internal/settings"
	"gisthq-bot/internal/transport"
)

type Dispatcher struct {
	registry  *Registry
	transport transport.Transport
	gateway   *reply.Gateway
	log       zerolog.Logger

	wg    sync.WaitGroup
	newID func() string
}

func NewDispatcher(reg *Registry, tr transport.Transport, gw *reply.Gateway, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registry:  reg,
		transport: tr,
		gateway:   gw,
		log:       log,
		newID:     uuid.NewString,
	}
}

// applies reports whether passive binding b runs for mc.
func applies(b Binding, mc *message.Context) bool {
	switch b.Trigger {
	case OnBody:
		return mc.Body != ""
	case OnText:
		return mc.Text != ""
	case OnImage:
		return mc.Content.Kind == message.KindImage
	case OnSticker:
		return mc.Content.Kind == message.KindSticker
	default:
		return false
	}
}

// Dispatch runs every binding that applies to mc, in registration order.
// The matched pattern binding runs to completion before Dispatch moves on;
// passive bindings are started and not waited for. Handler errors and
// panics are logged and never propagate.
func (d *Dispatcher) Dispatch(ctx context.Context, env *message.Envelope, mc *message.Context, snap settings.Settings) {
	bindings := d.registry.Bindings()
	matched := -1
	if mc.IsCommand {
		matched = Match(bindings, mc.CommandName)
	}
	log := d.log.With().
		Str("dispatch_id", d.newID()).
		Stringer("chat", mc.From).
		Str("sender", mc.SenderNumber).
		Logger()
	if mc.IsCommand {
		log.Debug().Str("command", mc.CommandName).Bool("matched", matched >= 0).Msg("Dispatching command")
	}

	for i, b := range bindings {
		switch {
		case i == matched:
			req := d.request(env, mc, snap, log.With().Str("command", b.Pattern).Logger())
			if b.React != "" {
				if err := d.transport.React(ctx, env.Key, b.React); err != nil {
					req.Log.Debug().Err(err).Msg("Failed to send command reaction")
				}
			}
			d.run(ctx, b, req)
		case b.Trigger != Pattern && applies(b, mc):
			req := d.request(env, mc, snap, log.With().Stringer("trigger", b.Trigger).Int("binding", i).Logger())
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				d.run(ctx, b, req)
			}()
		}
	}
}

func (d *Dispatcher) request(env *message.Envelope, mc *message.Context, snap settings.Settings, log zerolog.Logger) *Request {
	return &Request{
		Transport: d.transport,
		Gateway:   d.gateway,
		Envelope:  env,
		Context:   mc,
		Settings:  snap,
		Log:       log,
	}
}

func (d *Dispatcher) run(ctx context.Context, b Binding, req *Request) {
	defer func() {
		if r := recover(); r != nil {
			req.Log.Error().
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("Command handler panicked")
		}
	}()
	if err := b.Handler(ctx, req); err != nil {
		req.Log.Warn().Err(err).Msg("Command handler failed")
	}
}

// Wait blocks until every passive handler started so far has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
