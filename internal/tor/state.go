package tor

// State is a step of an exit node rotation.
type State int

const (
	// StateIdle is the state before a rotation starts.
	StateIdle State = iota
	// StateAuthenticating covers AUTHENTICATE and the baseline address probe.
	StateAuthenticating
	// StateSignalingNewIdentity covers SIGNAL NEWNYM.
	StateSignalingNewIdentity
	// StateClosingStreams covers listing and closing the open streams.
	StateClosingStreams
	// StatePollingForChange covers waiting for the exit address to change.
	StatePollingForChange
	// StateSucceeded is terminal: the exit address changed.
	StateSucceeded
	// StateTimedOut is terminal: the exit address did not change in time.
	StateTimedOut
	// StateCancelled is terminal: the caller's context ended the rotation.
	StateCancelled
	// StateFailed is terminal: a transport, protocol or probe error ended the rotation.
	StateFailed
)

var stateNames = [...]string{
	StateIdle:                 "idle",
	StateAuthenticating:       "authenticating",
	StateSignalingNewIdentity: "signaling new identity",
	StateClosingStreams:       "closing streams",
	StatePollingForChange:     "polling for change",
	StateSucceeded:            "succeeded",
	StateTimedOut:             "timed out",
	StateCancelled:            "cancelled",
	StateFailed:               "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s >= StateSucceeded
}
