//go:build linux

package batchio

import (
	"encoding/binary"
	"net"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// maxGROSegments is the maximum number of datagrams the kernel will
// coalesce into one GRO slot.
const maxGROSegments = 64

// setupOffload enables GRO and ECN reporting on the socket and returns
// the coalescing factor to size receive slots with. Failure to enable
// either is not fatal, the socket then behaves as on platforms without
// offload.
func setupOffload(conn *net.UDPConn, is4 bool) int {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		log.Debugf("batchio: no syscall access to socket: %v", err)
		return 1
	}

	var groErr error
	ctlErr := rawConn.Control(func(fd uintptr) {
		groErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_UDP, unix.UDP_GRO, 1)
		if is4 {
			_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_RECVTOS, 1)
		} else {
			_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_RECVTCLASS, 1)
		}
	})
	if ctlErr != nil || groErr != nil {
		log.Debugf("batchio: UDP GRO unavailable: %v %v", ctlErr, groErr)
		return 1
	}
	return maxGROSegments
}

// parseControl extracts the coalescing stride and the ECN bits from the
// socket control messages of one receive.
func parseControl(oob []byte) (stride int, ecn byte) {
	if len(oob) == 0 {
		return 0, 0
	}
	cmsgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return 0, 0
	}
	for _, c := range cmsgs {
		switch {
		case c.Header.Level == unix.IPPROTO_UDP && c.Header.Type == unix.UDP_GRO:
			if len(c.Data) >= 4 {
				stride = int(binary.NativeEndian.Uint32(c.Data[:4]))
			}
		case c.Header.Level == unix.IPPROTO_IP && c.Header.Type == unix.IP_TOS:
			if len(c.Data) >= 1 {
				ecn = c.Data[0] & 0x03
			}
		case c.Header.Level == unix.IPPROTO_IPV6 && c.Header.Type == unix.IPV6_TCLASS:
			if len(c.Data) >= 4 {
				ecn = byte(binary.NativeEndian.Uint32(c.Data[:4])) & 0x03
			}
		}
	}
	return stride, ecn
}
