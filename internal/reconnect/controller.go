// Package reconnect drives the connection lifecycle: connect, open, close,
// retry with per-code backoff, and the terminal logged-out state.
package reconnect

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gisthq-bot/internal/transport"
)

var (
	ErrLoggedOut = errors.New("session logged out, new credentials required")
	ErrStopped   = errors.New("controller stopped")
)

// Dialer is the socket the controller drives.
type Dialer interface {
	Connect(ctx context.Context) error
	Disconnect()
}

// Timer is a pending retry.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Hooks are called outside the controller lock.
type Hooks struct {
	// OnOpen runs on every transition into Open.
	OnOpen func(ctx context.Context)
	// OnLoggedOut runs once, when the terminal LoggedOut state is entered.
	OnLoggedOut func(evt transport.StateEvent)
	// OnExhausted runs when retries run out.
	OnExhausted func(evt transport.StateEvent)
}

type Controller struct {
	dialer    Dialer
	policy    Policy
	hooks     Hooks
	log       zerolog.Logger
	afterFunc AfterFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	attempts  int
	exhausted bool
	stopped   bool
	pending   Timer
}

func New(dialer Dialer, policy Policy, hooks Hooks, log zerolog.Logger) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		dialer:    dialer,
		policy:    policy,
		hooks:     hooks,
		log:       log,
		afterFunc: realAfterFunc,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateIdle,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts is the number of retries since the last successful open.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Exhausted reports that retries ran out without reaching Open.
func (c *Controller) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}

// setState must be called with c.mu held.
func (c *Controller) setState(next State) {
	if c.state == next {
		return
	}
	c.log.Debug().Stringer("from", c.state).Stringer("to", next).Msg("Connection state changed")
	c.state = next
}

// Connect opens the socket. It is a no-op while a socket is connecting or
// open.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.stopped:
		c.mu.Unlock()
		return ErrStopped
	case c.state == StateLoggedOut:
		c.mu.Unlock()
		return ErrLoggedOut
	case c.state.Active(), c.state == StateClosing:
		c.mu.Unlock()
		return nil
	}
	c.stopPending()
	c.exhausted = false
	c.setState(StateConnecting)
	c.mu.Unlock()

	c.log.Info().Msg("Connecting to WhatsApp ⏳️")
	err := c.dialer.Connect(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Connect attempt failed")
		c.handleClose(transport.StateEvent{
			Connection: transport.ConnClose,
			StatusCode: transport.CodeConnectionClosed,
			Reason:     err.Error(),
		})
	}
	return err
}

// HandleEvent consumes a connection-state-changed notification.
func (c *Controller) HandleEvent(evt transport.StateEvent) {
	switch evt.Connection {
	case transport.ConnOpen:
		c.handleOpen()
	case transport.ConnClose:
		c.handleClose(evt)
	case transport.ConnConnecting:
		if evt.QR != "" {
			c.log.Info().Msg("Waiting for QR pairing")
		}
	}
}

func (c *Controller) handleOpen() {
	c.mu.Lock()
	if c.stopped || c.state == StateLoggedOut || c.state == StateClosing {
		c.mu.Unlock()
		return
	}
	c.setState(StateOpen)
	c.attempts = 0
	c.exhausted = false
	onOpen := c.hooks.OnOpen
	c.mu.Unlock()

	c.log.Info().Msg("Bot connected to WhatsApp ✅")
	if onOpen != nil {
		onOpen(c.ctx)
	}
}

func (c *Controller) handleClose(evt transport.StateEvent) {
	c.mu.Lock()
	log := c.log.With().Int("status_code", evt.StatusCode).Str("reason", evt.Reason).Logger()

	if c.state == StateLoggedOut {
		c.mu.Unlock()
		log.Debug().Msg("Ignoring close event in logged out state")
		return
	}
	if c.state == StateClosing || c.stopped {
		c.setState(StateClosed)
		c.mu.Unlock()
		return
	}

	if transport.IsLoggedOut(evt.StatusCode) {
		c.stopPending()
		c.setState(StateLoggedOut)
		onLoggedOut := c.hooks.OnLoggedOut
		c.mu.Unlock()
		log.Error().Msg("Session logged out; new credentials are required, not reconnecting")
		if onLoggedOut != nil {
			onLoggedOut(evt)
		}
		return
	}

	if !c.state.Active() {
		// Already closed: either a retry is pending or retries ran out.
		c.mu.Unlock()
		log.Debug().Stringer("state", c.state).Msg("Ignoring duplicate close event")
		return
	}
	c.setState(StateClosed)

	if !transport.KnownCode(evt.StatusCode) {
		log.Warn().Msg("Unrecognized close code, treating as recoverable")
	}
	if c.attempts >= c.policy.MaxAttempts() {
		c.exhausted = true
		onExhausted := c.hooks.OnExhausted
		c.mu.Unlock()
		log.Error().Int("attempts", c.policy.MaxAttempts()).Msg("Reconnect attempts exhausted, giving up")
		if onExhausted != nil {
			onExhausted(evt)
		}
		return
	}
	c.attempts++
	delay := c.policy.Delay(evt.StatusCode)
	attempt := c.attempts
	c.pending = c.afterFunc(delay, c.retry)
	c.mu.Unlock()

	log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Connection closed, scheduling reconnect")
}

// stopPending must be called with c.mu held.
func (c *Controller) stopPending() {
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}

func (c *Controller) retry() {
	c.mu.Lock()
	c.pending = nil
	if c.stopped || c.state != StateClosed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	// Failures are fed back through handleClose by Connect.
	_ = c.Connect(c.ctx)
}

// Shutdown cancels pending retries and closes the socket. The controller
// cannot be reused afterwards.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopPending()
	wasLoggedOut := c.state == StateLoggedOut
	if !wasLoggedOut {
		c.setState(StateClosing)
	}
	c.mu.Unlock()

	c.cancel()
	c.dialer.Disconnect()

	c.mu.Lock()
	c.stopped = true
	if !wasLoggedOut {
		c.setState(StateClosed)
	}
	c.mu.Unlock()
	c.log.Info().Msg("Connection closed for shutdown")
}
