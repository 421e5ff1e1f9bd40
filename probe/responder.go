package probe

import (
	"net/netip"
	"sync"

	"github.com/pion/stun/v3"
	log "github.com/sirupsen/logrus"
)

// PacketWriter sends a datagram back to a probe sender. *net.UDPConn
// satisfies it.
type PacketWriter interface {
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
}

// Responder drains probe packets from the receive multiplexer and
// answers STUN binding requests with the sender's reflexive transport
// address. Delivery toward the responder is best effort, so it never
// reports packet-level failures to its caller.
type Responder struct {
	packets <-chan Packet
	writer  PacketWriter
	logger  *log.Entry

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewResponder creates a responder reading from packets and replying
// through w.
func NewResponder(packets <-chan Packet, w PacketWriter) *Responder {
	return &Responder{
		packets: packets,
		writer:  w,
		logger:  log.WithField("component", "probe-responder"),
		quit:    make(chan struct{}),
	}
}

// Run blocks until the packet channel is closed or Stop is called.
func (r *Responder) Run() {
	r.wg.Add(1)
	defer r.wg.Done()

	for {
		select {
		case <-r.quit:
			return
		case p, ok := <-r.packets:
			if !ok {
				return
			}
			r.handlePacket(p)
		}
	}
}

// Stop terminates Run and waits for it to return.
func (r *Responder) Stop() {
	r.stopOnce.Do(func() {
		close(r.quit)
	})
	r.wg.Wait()
}

func (r *Responder) handlePacket(p Packet) {
	msg := &stun.Message{Raw: p.Data}
	if err := msg.Decode(); err != nil {
		r.logger.Debugf("failed to decode probe message from %s: %v", p.Src, err)
		return
	}

	if msg.Type != stun.BindingRequest {
		r.logger.Debugf("ignoring non-binding probe message %s from %s", msg.Type, p.Src)
		return
	}

	response, err := stun.Build(
		stun.NewTransactionIDSetter(msg.TransactionID),
		stun.BindingSuccess,
		&stun.XORMappedAddress{
			IP:   p.Src.Addr().AsSlice(),
			Port: int(p.Src.Port()),
		},
		stun.Fingerprint,
	)
	if err != nil {
		r.logger.Errorf("failed to build probe response: %v", err)
		return
	}

	if _, err := r.writer.WriteToUDPAddrPort(response.Raw, p.Src); err != nil {
		r.logger.Debugf("failed to send probe response to %s: %v", p.Src, err)
	}
}
