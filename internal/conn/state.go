package conn

// State is the connection lifecycle state of the managed transport.
type State string

const (
	// StateConnecting means a dial is in progress or scheduled.
	StateConnecting State = "connecting"
	// StateOpen means the transport is live and can send.
	StateOpen State = "open"
	// StateClosed means the transport is down. A reconnect may still be
	// pending; Status.RetryCount tells how many attempts have been made.
	StateClosed State = "closed"
	// StateErrored is terminal for the current session attempt, e.g. a
	// missing credential. No reconnect will be scheduled.
	StateErrored State = "errored"
)

// Status is a snapshot of the connection manager's observable state.
// Err is set when the state carries an error the UI should surface.
type Status struct {
	State      State
	RetryCount int
	Err        error
}

// CanSend reports whether a Send call would be accepted right now.
func (s Status) CanSend() bool {
	return s.State == StateOpen
}
