// Package transport owns the single whatsmeow socket and translates its
// events into connection-state and message notifications.
package transport

import (
	"context"
	"errors"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"gisthq-bot/internal/message"
)

var (
	ErrNotReady  = errors.New("transport not ready")
	ErrNoSession = errors.New("no stored identity and QR pairing disabled")
)

// Transport is the surface the rest of the bot uses to talk to WhatsApp.
type Transport interface {
	IsReady() bool
	Send(ctx context.Context, to types.JID, msg *waE2E.Message) (types.MessageID, error)
	React(ctx context.Context, key message.Key, emoji string) error
	MarkRead(ctx context.Context, keys []message.Key) error
	GroupInfo(ctx context.Context, jid types.JID) (*types.GroupInfo, error)
	OwnJID() types.JID
	OwnLID() types.JID
	PhoneForLID(ctx context.Context, lid types.JID) (types.JID, error)
}

// Handlers receive the translated events. They are called on whatsmeow's
// event goroutine and must not block.
type Handlers struct {
	OnState       func(StateEvent)
	OnMessage     func(*message.Envelope)
	OnCredentials func(types.JID)
	OnGroupJoin   func(chat types.JID, joined []types.JID)
}

type Options struct {
	AllowQRPairing bool
	// QROutput receives the rendered QR code. Defaults to os.Stdout.
	QROutput io.Writer
}

// WhatsApp is the Transport backed by whatsmeow.
type WhatsApp struct {
	client   *whatsmeow.Client
	log      zerolog.Logger
	handlers Handlers
	opts     Options
	open     atomic.Bool
	// connected reports a live, logged-in socket.
	connected func() bool
}

var _ Transport = (*WhatsApp)(nil)

func NewWhatsApp(device *store.Device, log zerolog.Logger, h Handlers, opts Options) *WhatsApp {
	if opts.QROutput == nil {
		opts.QROutput = os.Stdout
	}
	client := whatsmeow.NewClient(device, waLog.Zerolog(log.With().Str("component", "whatsmeow").Logger()))
	// Reconnects are owned by the reconnect controller.
	client.EnableAutoReconnect = false
	w := &WhatsApp{client: client, log: log, handlers: h, opts: opts}
	w.connected = func() bool { return client.IsConnected() && client.IsLoggedIn() }
	client.AddEventHandler(w.handleEvent)
	return w
}

// Connect opens the socket. Without a stored identity it first starts QR
// pairing, rendering every code on the QR output.
func (w *WhatsApp) Connect(ctx context.Context) error {
	if w.client.Store.ID == nil {
		if !w.opts.AllowQRPairing {
			return ErrNoSession
		}
		qrChan, err := w.client.GetQRChannel(ctx)
		if err != nil {
			return err
		}
		go w.watchQR(qrChan)
	}
	return w.client.Connect()
}

func (w *WhatsApp) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			w.log.Info().Dur("timeout", evt.Timeout).Msg("📱 Scan the QR code to link the bot")
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, w.opts.QROutput)
			w.emitState(StateEvent{Connection: ConnConnecting, QR: evt.Code})
		case "success":
			w.log.Info().Msg("QR pairing succeeded")
		case whatsmeow.QRChannelScannedWithoutMultidevice.Event:
			w.log.Warn().Msg("QR code scanned without multi-device enabled, scan it again")
		case whatsmeow.QRChannelErrUnexpectedEvent.Event:
			// The connection event itself reaches handleEvent.
			w.log.Debug().Msg("QR channel closed by a connection event")
		default:
			// whatsmeow drops the socket without a Disconnected event here.
			w.log.Warn().Str("event", evt.Event).Err(evt.Error).Msg("QR pairing failed")
			w.emitState(StateEvent{Connection: ConnClose, StatusCode: CodeConnectionLost, Reason: "qr " + evt.Event})
		}
	}
}

// Disconnect closes the socket.
func (w *WhatsApp) Disconnect() {
	w.open.Store(false)
	w.client.Disconnect()
}

// IsReady reports an open, authenticated, writable socket.
func (w *WhatsApp) IsReady() bool {
	return w.open.Load() && w.connected()
}

func (w *WhatsApp) OwnJID() types.JID {
	if id := w.client.Store.ID; id != nil {
		return id.ToNonAD()
	}
	return types.EmptyJID
}

func (w *WhatsApp) OwnLID() types.JID {
	return w.client.Store.GetLID().ToNonAD()
}

func (w *WhatsApp) PhoneForLID(ctx context.Context, lid types.JID) (types.JID, error) {
	if w.client.Store.LIDs == nil {
		return types.EmptyJID, nil
	}
	return w.client.Store.LIDs.GetPNForLID(ctx, lid)
}

func (w *WhatsApp) Send(ctx context.Context, to types.JID, msg *waE2E.Message) (types.MessageID, error) {
	if !w.IsReady() {
		return "", ErrNotReady
	}
	resp, err := w.client.SendMessage(ctx, to, msg)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (w *WhatsApp) React(ctx context.Context, key message.Key, emoji string) error {
	sender := key.Participant
	if sender.IsEmpty() {
		sender = key.RemoteJID
	}
	if key.FromMe {
		sender = w.OwnJID()
	}
	_, err := w.Send(ctx, key.RemoteJID, w.client.BuildReaction(key.RemoteJID, sender, key.ID, emoji))
	return err
}

func (w *WhatsApp) MarkRead(ctx context.Context, keys []message.Key) error {
	if !w.IsReady() {
		return ErrNotReady
	}
	var errs []error
	now := time.Now()
	for _, k := range keys {
		if err := w.client.MarkRead(ctx, []types.MessageID{k.ID}, now, k.RemoteJID, k.Participant); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *WhatsApp) GroupInfo(ctx context.Context, jid types.JID) (*types.GroupInfo, error) {
	return w.client.GetGroupInfo(ctx, jid)
}

func (w *WhatsApp) emitState(evt StateEvent) {
	if w.handlers.OnState != nil {
		w.handlers.OnState(evt)
	}
}

func (w *WhatsApp) handleEvent(rawEvt any) {
	if st, ok := stateEventFor(rawEvt); ok {
		w.open.Store(st.Connection == ConnOpen)
		w.emitState(st)
		return
	}
	switch evt := rawEvt.(type) {
	case *events.Message:
		if w.handlers.OnMessage != nil {
			w.handlers.OnMessage(message.FromEvent(evt))
		}
	case *events.PairSuccess:
		w.log.Info().Stringer("jid", evt.ID).Str("platform", evt.Platform).Msg("Device paired")
		if w.handlers.OnCredentials != nil {
			w.handlers.OnCredentials(evt.ID)
		}
	case *events.GroupInfo:
		if len(evt.Join) > 0 && w.handlers.OnGroupJoin != nil {
			w.handlers.OnGroupJoin(evt.JID, evt.Join)
		}
	case *events.KeepAliveTimeout:
		w.log.Warn().Int("error_count", evt.ErrorCount).Time("last_success", evt.LastSuccess).Msg("Keepalive timeout")
	case *events.KeepAliveRestored:
		w.log.Info().Msg("Keepalive restored")
	}
}
