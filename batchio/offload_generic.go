//go:build !linux

package batchio

import "net"

// setupOffload is a no-op on platforms without UDP GRO; each slot holds
// exactly one datagram.
func setupOffload(_ *net.UDPConn, _ bool) int {
	return 1
}

func parseControl(_ []byte) (stride int, ecn byte) {
	return 0, 0
}
