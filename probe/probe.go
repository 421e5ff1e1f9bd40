// Package probe handles NAT-probe (STUN) traffic split away from the
// transport by the receive multiplexer.
package probe

import (
	"net/netip"

	"github.com/pion/stun/v3"
)

// Packet is one probe datagram handed off by the receive multiplexer.
type Packet struct {
	Data []byte
	Src  netip.AddrPort
}

// Is reports whether b is a NAT-probe (STUN) message.
func Is(b []byte) bool {
	return stun.IsMessage(b)
}
