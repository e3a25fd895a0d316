package reconnect

// State is the connection lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
	StateLoggedOut  State = "logged_out"
)

func (s State) String() string {
	return string(s)
}

// Active reports states in which another connect would open a second socket.
func (s State) Active() bool {
	return s == StateConnecting || s == StateOpen
}
