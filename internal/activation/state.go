package activation

// State is the position of an activation run in its lifecycle.
type State int

const (
	StateIdle State = iota
	StatePreparing
	StatePolling
	StateActivated
	StateFailed
	StateCancelled
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StatePolling:
		return "polling"
	case StateActivated:
		return "activated"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	return s == StateActivated || s == StateFailed || s == StateCancelled
}

// Challenge is the transient server-issued activation material for one
// run: the nonce to sign, the human verification code, and the
// instructional message shown alongside it.
type Challenge struct {
	Challenge string `json:"challenge"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Outcome is the only thing a run reports back to its caller. Message is
// the last observed error for Failed outcomes and empty otherwise;
// Attempts counts HTTP requests actually issued.
type Outcome struct {
	State    State  `json:"state"`
	Message  string `json:"message,omitempty"`
	Attempts int    `json:"attempts"`
}
