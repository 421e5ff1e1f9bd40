package recvmux

import "sync/atomic"

// ConnState holds the advisory flags the owning connection shares with
// the receive actor. Reads are atomic but deliberately unordered:
// eventual visibility is all the actor needs.
type ConnState struct {
	closed        atomic.Bool
	probesEnabled atomic.Bool
}

// NewConnState returns connection state with probe delivery switched on
// or off.
func NewConnState(probesEnabled bool) *ConnState {
	s := &ConnState{}
	s.probesEnabled.Store(probesEnabled)
	return s
}

// Close marks the connection closed. The receive actor observes it on
// its next pipeline pull and stops.
func (s *ConnState) Close() {
	s.closed.Store(true)
}

// IsClosed reports whether the connection was marked closed.
func (s *ConnState) IsClosed() bool {
	return s.closed.Load()
}

// SetProbesEnabled toggles delivery of NAT-probe packets to the probe
// consumer.
func (s *ConnState) SetProbesEnabled(enabled bool) {
	s.probesEnabled.Store(enabled)
}

// ProbesEnabled reports whether NAT-probe packets are currently handed
// to the probe consumer.
func (s *ConnState) ProbesEnabled() bool {
	return s.probesEnabled.Load()
}
