// Package reply gates every outbound send on transport readiness.
package reply

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/ptr"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"

	"gisthq-bot/internal/message"
)

const (
	DefaultRetries  = 3
	NotReadyBackoff = 2 * time.Second
	SendBackoff     = time.Second
)

// Sender is the part of the transport the gateway needs.
type Sender interface {
	IsReady() bool
	Send(ctx context.Context, to types.JID, msg *waE2E.Message) (types.MessageID, error)
}

type Gateway struct {
	sender Sender
	log    zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewGateway(sender Sender, log zerolog.Logger) *Gateway {
	return &Gateway{sender: sender, log: log, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SafeReply sends msg with the default retry budget.
func (g *Gateway) SafeReply(ctx context.Context, to types.JID, msg *waE2E.Message) bool {
	return g.SafeReplyN(ctx, to, msg, DefaultRetries)
}

// SafeReplyN reports whether msg was eventually sent. It never sends while
// the transport is not ready. Each attempt, ready or not, consumes one of
// maxRetries.
func (g *Gateway) SafeReplyN(ctx context.Context, to types.JID, msg *waE2E.Message, maxRetries int) bool {
	log := g.log.With().Stringer("to", to).Logger()
	for attempt := 1; attempt <= maxRetries; attempt++ {
		var backoff time.Duration
		if !g.sender.IsReady() {
			log.Debug().Int("attempt", attempt).Msg("Transport not ready, delaying reply")
			backoff = NotReadyBackoff
		} else if _, err := g.sender.Send(ctx, to, msg); err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("Failed to send reply")
			backoff = SendBackoff
		} else {
			return true
		}
		if attempt == maxRetries {
			break
		}
		if g.sleep(ctx, backoff) != nil {
			return false
		}
	}
	log.Warn().Int("max_retries", maxRetries).Msg("Giving up on reply")
	return false
}

// TextMessage builds a text payload, quoting quoted when it is set.
func TextMessage(text string, quoted *message.Envelope) *waE2E.Message {
	if quoted == nil {
		return &waE2E.Message{Conversation: ptr.Ptr(text)}
	}
	ci := &waE2E.ContextInfo{
		StanzaID:      ptr.Ptr(quoted.Key.ID),
		QuotedMessage: quoted.Message,
	}
	if !quoted.Key.Participant.IsEmpty() {
		ci.Participant = ptr.Ptr(quoted.Key.Participant.String())
	} else {
		ci.Participant = ptr.Ptr(quoted.Key.RemoteJID.String())
	}
	if quoted.Key.RemoteJID.Server == types.BroadcastServer {
		ci.RemoteJID = ptr.Ptr(quoted.Key.RemoteJID.String())
	}
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        ptr.Ptr(text),
			ContextInfo: ci,
		},
	}
}

// Text sends a text reply in to, quoting quoted when it is set.
func (g *Gateway) Text(ctx context.Context, to types.JID, text string, quoted *message.Envelope) bool {
	return g.SafeReply(ctx, to, TextMessage(text, quoted))
}

// MentionText builds a text payload that mentions the given users.
func MentionText(text string, mentions []types.JID) *waE2E.Message {
	jids := make([]string, len(mentions))
	for i, m := range mentions {
		jids[i] = m.String()
	}
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        ptr.Ptr(text),
			ContextInfo: &waE2E.ContextInfo{MentionedJID: jids},
		},
	}
}
