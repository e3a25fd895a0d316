package bot

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/types"

	"gisthq-bot/internal/reply"
	"gisthq-bot/internal/settings"
	"gisthq-bot/internal/store"
	"gisthq-bot/internal/transport"
)

// CredentialSaver persists credential updates.
type CredentialSaver interface {
	Save(jid types.JID)
}

// Texts renders the operator-facing messages.
type Texts struct {
	// Startup is sent to the bot's own chat after the first open.
	Startup func(s settings.Settings) string
	// Welcome greets members joining a group. mentions holds one @number
	// per joined member.
	Welcome func(s settings.Settings, group string, mentions string) string
}

// Lifecycle reacts to connection and group events. Fields may be filled in
// after construction but must be set before the transport connects.
type Lifecycle struct {
	Transport transport.Transport
	Gateway   *reply.Gateway
	Settings  *settings.Manager
	Store     store.Store
	Session   CredentialSaver
	Texts     Texts
	// Install registers the plugins. It runs once, on the first open.
	Install func() error
	Log     zerolog.Logger

	once sync.Once
	wg   sync.WaitGroup
}

// OnOpen installs the plugins on the first open and announces the bot in
// its own chat. The announcement is sent in the background.
func (l *Lifecycle) OnOpen(ctx context.Context) {
	first := false
	l.once.Do(func() {
		first = true
		if l.Install != nil {
			if err := l.Install(); err != nil {
				l.Log.Error().Err(err).Msg("Some plugins failed to install")
			}
		}
	})
	if !first || l.Texts.Startup == nil {
		return
	}
	own := l.Transport.OwnJID()
	if own.IsEmpty() {
		return
	}
	text := l.Texts.Startup(l.Settings.Snapshot())
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if !l.Gateway.SafeReply(ctx, own, reply.TextMessage(text, nil)) {
			l.Log.Warn().Msg("Failed to send startup message")
		}
	}()
}

// OnGroupJoin welcomes new members when the group has welcome messages on.
// It runs on the transport's event goroutine, so the work is moved off it.
func (l *Lifecycle) OnGroupJoin(chat types.JID, joined []types.JID) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.welcome(context.Background(), chat, joined)
	}()
}

// Wait blocks until background sends have finished.
func (l *Lifecycle) Wait() {
	l.wg.Wait()
}

func (l *Lifecycle) welcome(ctx context.Context, chat types.JID, joined []types.JID) {
	if l.Texts.Welcome == nil || len(joined) == 0 {
		return
	}
	log := l.Log.With().Stringer("chat", chat).Logger()
	var g store.Group
	found, err := l.Store.Get(ctx, store.Groups, chat.String(), &g)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load group record")
		return
	}
	if !found || !g.WelcomeEnabled {
		return
	}
	name := g.Name
	if name == "" {
		if info, err := l.Transport.GroupInfo(ctx, chat); err == nil && info != nil {
			name = info.Name
		}
	}
	own := l.Transport.OwnJID()
	var mentions []types.JID
	var tags []string
	for _, jid := range joined {
		jid = jid.ToNonAD()
		if !own.IsEmpty() && jid.User == own.User {
			continue
		}
		mentions = append(mentions, jid)
		tags = append(tags, "@"+jid.User)
	}
	if len(mentions) == 0 {
		return
	}
	text := l.Texts.Welcome(l.Settings.Snapshot(), name, strings.Join(tags, " "))
	if !l.Gateway.SafeReply(ctx, chat, reply.MentionText(text, mentions)) {
		log.Warn().Int("members", len(mentions)).Msg("Failed to send welcome message")
	}
}

// OnCredentials stores a credential update.
func (l *Lifecycle) OnCredentials(jid types.JID) {
	l.Log.Info().Stringer("jid", jid).Msg("Credentials updated")
	if l.Session != nil {
		l.Session.Save(jid)
	}
}

func (l *Lifecycle) OnLoggedOut(evt transport.StateEvent) {
	l.Log.Error().
		Int("status_code", evt.StatusCode).
		Str("reason", evt.Reason).
		Msg("The bot stays offline. Remove the session directory and pair again")
}

func (l *Lifecycle) OnExhausted(evt transport.StateEvent) {
	l.Log.Error().
		Int("status_code", evt.StatusCode).
		Str("reason", evt.Reason).
		Msg("The bot stays offline until it is restarted")
}
