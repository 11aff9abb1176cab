package domain

// TransportState is the health of the persistent channel as seen by the selector.
type TransportState int

const (
	// StateConnecting is the initial state before the first handshake outcome is known.
	StateConnecting TransportState = iota
	// StateLive means the persistent channel is open and its handshake completed.
	StateLive
	// StateDegraded means all traffic goes over the request/response channel.
	StateDegraded
)

// String returns the lowercase state name used in logs.
func (s TransportState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Mode is the connection label shown to the user.
type Mode string

const (
	// ModeLive is shown while messages travel over the persistent channel.
	ModeLive Mode = "Live"
	// ModeFallback is shown while messages travel over the request/response channel.
	ModeFallback Mode = "Fallback"
)

// Mode collapses the state into the user-facing label.
// Connecting reads as Fallback because nothing can be written to the
// persistent channel until its handshake completes.
func (s TransportState) Mode() Mode {
	if s == StateLive {
		return ModeLive
	}
	return ModeFallback
}
