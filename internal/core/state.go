package core

// State is the lifecycle state of a session. Exactly one is current at
// any time; Closed and Failed are terminal, and Closed wins over
// Failed: once closed, nothing transitions anywhere.
type State string

const (
	StateDiscovering State = "discovering-codecs"
	StateRunning     State = "running"
	StateRestarting  State = "restarting"
	StateClosed      State = "closed"
	StateFailed      State = "failed"
)

func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}
