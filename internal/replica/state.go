package replica

// State is the replication handshake/streaming state machine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StatePortAnnounced
	StateCapabilitiesNegotiated
	StatePsyncSent
	StateFullResync
	StateContinue
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateAuthenticating:
		return "Authenticating"
	case StatePortAnnounced:
		return "PortAnnounced"
	case StateCapabilitiesNegotiated:
		return "CapabilitiesNegotiated"
	case StatePsyncSent:
		return "PsyncSent"
	case StateFullResync:
		return "FullResync"
	case StateContinue:
		return "Continue"
	case StateStreaming:
		return "Streaming"
	default:
		return "Unknown"
	}
}
