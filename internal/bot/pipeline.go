// Package bot wires inbound messages from the transport to the command
// dispatcher and reacts to connection lifecycle events.
package bot

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gisthq-bot/internal/access"
	"gisthq-bot/internal/config"
	"gisthq-bot/internal/message"
	"gisthq-bot/internal/reply"
	"gisthq-bot/internal/settings"
	"gisthq-bot/internal/store"
	"gisthq-bot/internal/transport"
)

const DefaultQueueSize = 256

var statusReactions = []string{"❤️", "💸", "😇", "🍂", "💥", "💯", "🔥", "💫", "💎", "💗", "🤍", "🖤", "👀", "🙌", "🌸", "🌟", "💜", "💙", "💚"}

// Dispatcher runs the bindings for one normalized message.
type Dispatcher interface {
	Dispatch(ctx context.Context, env *message.Envelope, mc *message.Context, snap settings.Settings)
}

type PipelineDeps struct {
	Transport  transport.Transport
	Settings   *settings.Manager
	Store      store.Store
	Access     *access.Lists
	Dispatcher Dispatcher
	Owners     []string
	Status     config.Status
	QueueSize  int
	Log        zerolog.Logger
}

// Pipeline takes envelopes off the transport's event goroutine and
// processes them one at a time, in arrival order.
type Pipeline struct {
	transport  transport.Transport
	normalizer *message.Normalizer
	settings   *settings.Manager
	store      store.Store
	access     *access.Lists
	dispatcher Dispatcher
	owners     []string
	status     config.Status
	log        zerolog.Logger

	queue  chan *message.Envelope
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now   func() time.Time
	newID func() string
	pick  func(n int) int
}

func NewPipeline(deps PipelineDeps) *Pipeline {
	if deps.QueueSize <= 0 {
		deps.QueueSize = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		transport:  deps.Transport,
		normalizer: message.NewNormalizer(deps.Transport, deps.Log.With().Str("component", "normalizer").Logger()),
		settings:   deps.Settings,
		store:      deps.Store,
		access:     deps.Access,
		dispatcher: deps.Dispatcher,
		owners:     deps.Owners,
		status:     deps.Status,
		log:        deps.Log,
		queue:      make(chan *message.Envelope, deps.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
		now:        time.Now,
		newID:      uuid.NewString,
		pick:       rand.IntN,
	}
}

// Start launches the worker.
func (p *Pipeline) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case env := <-p.queue:
				p.Process(p.ctx, env)
			case <-p.ctx.Done():
				return
			}
		}
	}()
}

// Enqueue hands env to the worker. It blocks while the queue is full and
// drops env once the pipeline is stopped.
func (p *Pipeline) Enqueue(env *message.Envelope) {
	select {
	case p.queue <- env:
	case <-p.ctx.Done():
	}
}

// Stop stops the worker and waits for the message in progress. Queued
// messages are discarded.
func (p *Pipeline) Stop() {
	p.cancel()
	p.wg.Wait()
	if n := len(p.queue); n > 0 {
		p.log.Warn().Int("count", n).Msg("Discarding queued messages on shutdown")
	}
}

// Process runs one envelope through normalize, bookkeeping, authorization
// and dispatch.
func (p *Pipeline) Process(ctx context.Context, env *message.Envelope) {
	snap := p.settings.Snapshot()
	mc, ok := p.normalizer.Normalize(ctx, env, message.Options{Prefix: snap.Prefix, Owners: p.owners})
	if !ok {
		return
	}
	log := p.log.With().Stringer("chat", mc.From).Str("sender", mc.SenderNumber).Logger()
	if mc.IsBroadcast {
		if mc.IsStatus && !env.Key.FromMe {
			p.handleStatus(ctx, env, mc, log)
		}
		return
	}

	if snap.ReadMessages && !env.Key.FromMe {
		if err := p.transport.MarkRead(ctx, []message.Key{env.Key}); err != nil {
			log.Debug().Err(err).Msg("Failed to mark message as read")
		}
	}
	p.record(ctx, mc, snap, log)

	if !p.authorize(ctx, mc, snap, log) {
		return
	}
	p.dispatcher.Dispatch(ctx, env, mc, snap)
}

// handleStatus applies the auto-status options to a contact's status
// update. Status updates never reach the dispatcher.
func (p *Pipeline) handleStatus(ctx context.Context, env *message.Envelope, mc *message.Context, log zerolog.Logger) {
	if p.status.AutoSeen {
		if err := p.transport.MarkRead(ctx, []message.Key{env.Key}); err != nil {
			log.Debug().Err(err).Msg("Failed to mark status as seen")
		}
	}
	if p.status.AutoReact {
		emoji := statusReactions[p.pick(len(statusReactions))]
		if err := p.transport.React(ctx, env.Key, emoji); err != nil {
			log.Debug().Err(err).Msg("Failed to react to status")
		}
	}
	if p.status.AutoReply && p.status.ReplyText != "" {
		if _, err := p.transport.Send(ctx, mc.Sender, reply.TextMessage(p.status.ReplyText, env)); err != nil {
			log.Debug().Err(err).Msg("Failed to reply to status")
		}
	}
}

// record keeps the users/groups/messages collections current. Failures are
// logged and skipped.
func (p *Pipeline) record(ctx context.Context, mc *message.Context, snap settings.Settings, log zerolog.Logger) {
	number := mc.SenderNumber
	now := p.now().UTC()

	var u store.User
	if _, err := p.store.Get(ctx, store.Users, number, &u); err != nil {
		log.Warn().Err(err).Msg("Failed to load user record")
	} else {
		u.Number = number
		if mc.PushName != "" {
			u.Name = mc.PushName
		}
		u.LastSeen = now
		if err = p.store.Set(ctx, store.Users, number, u); err != nil {
			log.Warn().Err(err).Msg("Failed to save user record")
		} else if err = p.store.Increment(ctx, store.Users, number, "message_count", 1); err != nil {
			log.Warn().Err(err).Msg("Failed to count message")
		}
	}

	if mc.IsGroup {
		id := mc.From.String()
		var g store.Group
		found, err := p.store.Get(ctx, store.Groups, id, &g)
		name := ""
		if mc.Group != nil {
			name = mc.Group.Name
		}
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("Failed to load group record")
		case !found || (name != "" && name != g.Name):
			g.ID = id
			if name != "" {
				g.Name = name
			}
			if err = p.store.Set(ctx, store.Groups, id, g); err != nil {
				log.Warn().Err(err).Msg("Failed to save group record")
			}
		}
	}

	if snap.LogMessages {
		entry := store.MessageLog{
			Number: number,
			Text:   mc.Body,
			Kind:   mc.Content.Kind.String(),
			At:     now,
		}
		if mc.IsGroup {
			entry.GroupID = mc.From.String()
		}
		if err := p.store.Set(ctx, store.Messages, p.newID(), entry); err != nil {
			log.Warn().Err(err).Msg("Failed to log message")
		}
	}
}

// authorize applies the ban list and the mode. Owners always pass. Denied
// messages are dropped without a reply.
func (p *Pipeline) authorize(ctx context.Context, mc *message.Context, snap settings.Settings, log zerolog.Logger) bool {
	if mc.IsOwner {
		return true
	}
	banned, err := p.access.IsBanned(ctx, mc.SenderNumber)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to check ban list")
	} else if banned {
		log.Debug().Msg("Dropping message from banned sender")
		return false
	}
	switch snap.Mode {
	case config.ModePrivate:
		sudo, err := p.access.IsSudo(ctx, mc.SenderNumber)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to check sudo list")
		}
		return sudo
	case config.ModeInbox:
		return !mc.IsGroup
	case config.ModeGroups:
		return mc.IsGroup
	default:
		return true
	}
}
