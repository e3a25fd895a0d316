package transport

import (
	"strconv"

	"go.mau.fi/whatsmeow/types/events"
)

// Close codes, following the WhatsApp Web disconnect taxonomy.
const (
	CodeUnknown             = 0
	CodeLoggedOut           = 401
	CodeTemporaryBan        = 402
	CodeForbidden           = 403
	CodeConnectionLost      = 408
	CodeMultideviceMismatch = 411
	CodeConnectionClosed    = 428
	CodeConnectionReplaced  = 440
	CodeBadSession          = 500
	CodeUnavailableService  = 503
	CodeRestartRequired     = 515
)

// KnownCode reports whether code belongs to the taxonomy above.
func KnownCode(code int) bool {
	switch code {
	case CodeLoggedOut, CodeTemporaryBan, CodeForbidden, CodeConnectionLost,
		CodeMultideviceMismatch, CodeConnectionClosed, CodeConnectionReplaced,
		CodeBadSession, CodeUnavailableService, CodeRestartRequired:
		return true
	}
	return false
}

// IsLoggedOut reports whether code invalidates the stored identity.
func IsLoggedOut(code int) bool {
	return code == CodeLoggedOut
}

// Connection is the coarse socket state carried by a StateEvent.
type Connection string

const (
	ConnConnecting Connection = "connecting"
	ConnOpen       Connection = "open"
	ConnClose      Connection = "close"
)

// StateEvent is a connection-state-changed notification.
type StateEvent struct {
	Connection Connection
	StatusCode int
	Reason     string
	QR         string
}

// stateEventFor maps a raw whatsmeow event to a StateEvent. It reports
// false for events that do not change the connection state.
func stateEventFor(evt any) (StateEvent, bool) {
	switch v := evt.(type) {
	case *events.Connected:
		return StateEvent{Connection: ConnOpen}, true
	case *events.Disconnected:
		return StateEvent{Connection: ConnClose, StatusCode: CodeConnectionLost, Reason: "disconnected"}, true
	case *events.StreamReplaced:
		return StateEvent{Connection: ConnClose, StatusCode: CodeConnectionReplaced, Reason: "stream replaced"}, true
	case *events.LoggedOut:
		return StateEvent{Connection: ConnClose, StatusCode: CodeLoggedOut, Reason: v.Reason.String()}, true
	case *events.ConnectFailure:
		code := int(v.Reason)
		if v.Reason.IsLoggedOut() {
			code = CodeLoggedOut
		}
		return StateEvent{Connection: ConnClose, StatusCode: code, Reason: v.Reason.String()}, true
	case *events.TemporaryBan:
		return StateEvent{Connection: ConnClose, StatusCode: CodeTemporaryBan, Reason: v.String()}, true
	case *events.StreamError:
		code, err := strconv.Atoi(v.Code)
		if err != nil {
			code = CodeUnknown
		}
		return StateEvent{Connection: ConnClose, StatusCode: code, Reason: "stream error " + v.Code}, true
	}
	return StateEvent{}, false
}
