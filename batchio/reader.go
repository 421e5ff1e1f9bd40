// Package batchio reads UDP datagrams in kernel batches and hands them
// to the receive multiplexer as recvmux batches, one pump per address
// family. On Linux it enables GRO so the kernel may coalesce same-flow
// datagrams into a single slot, with the stride reported through a
// control message.
package batchio

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/netmuxio/netmux/recvmux"
)

const (
	// BatchSize is the number of slots requested from the kernel in one
	// read.
	BatchSize = 32

	// mtu is the assumed link MTU; each slot holds mtu bytes times the
	// maximum coalescing factor.
	mtu = 1480

	oobSize = 128
)

// batchConn abstracts ipv4.PacketConn and ipv6.PacketConn, whose
// message types are identical.
type batchConn interface {
	ReadBatch(ms []ipv6.Message, flags int) (int, error)
}

// Reader pumps batched reads from one UDP socket into recvmux batches.
// The receive buffer is a single allocation chunked into per-slot
// windows and reused on every read; slot payloads are copied out once
// before hand-off so packets split from them can alias freely.
type Reader struct {
	conn *net.UDPConn
	pc   batchConn

	msgs []ipv6.Message
	out  chan recvmux.Batch

	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	log       *log.Entry
}

// NewReader wraps an already bound UDP socket. The address family is
// detected from the socket's local address.
func NewReader(conn *net.UDPConn) (*Reader, error) {
	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("batchio: unexpected local address type %T", conn.LocalAddr())
	}

	is4 := localAddr.IP.To4() != nil
	var pc batchConn
	if is4 {
		pc = ipv4.NewPacketConn(conn)
	} else {
		pc = ipv6.NewPacketConn(conn)
	}

	// one contiguous receive buffer, one chunk per batch slot, each
	// chunk sized for a maximum-coalesced receive
	segments := setupOffload(conn, is4)
	slotSize := mtu * segments
	buf := make([]byte, slotSize*BatchSize)

	msgs := make([]ipv6.Message, BatchSize)
	for i := range msgs {
		msgs[i].Buffers = [][]byte{buf[i*slotSize : (i+1)*slotSize]}
		msgs[i].OOB = make([]byte, oobSize)
	}

	r := &Reader{
		conn: conn,
		pc:   pc,
		msgs: msgs,
		out:  make(chan recvmux.Batch),
		quit: make(chan struct{}),
		log:  log.WithField("component", "batchio").WithField("addr", localAddr.String()),
	}

	r.wg.Add(1)
	go r.pump()
	return r, nil
}

// Batches implements recvmux.BatchReader.
func (r *Reader) Batches() <-chan recvmux.Batch {
	return r.out
}

// Close shuts the socket down and waits for the pump to stop. The batch
// channel is closed afterwards.
func (r *Reader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.quit)
		err = r.conn.Close()
		r.wg.Wait()
	})
	return err
}

func (r *Reader) pump() {
	defer r.wg.Done()
	defer close(r.out)

	for {
		for i := range r.msgs {
			r.msgs[i].OOB = r.msgs[i].OOB[:cap(r.msgs[i].OOB)]
			r.msgs[i].N = 0
			r.msgs[i].NN = 0
		}

		n, err := r.pc.ReadBatch(r.msgs, 0)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case r.out <- recvmux.Batch{Err: err}:
			case <-r.quit:
				return
			}
			continue
		}

		slots := make([]recvmux.Slot, 0, n)
		for i := 0; i < n; i++ {
			m := &r.msgs[i]
			if m.N == 0 {
				continue
			}

			meta := recvmux.RecvMeta{
				Src:    udpAddrPort(m.Addr),
				Len:    m.N,
				Stride: m.N,
			}
			stride, ecn := parseControl(m.OOB[:m.NN])
			if stride > 0 {
				meta.Stride = stride
			}
			meta.ECN = ecn

			// copy out of the reusable receive buffer; the copy is what
			// split packets alias later
			data := make([]byte, m.N)
			copy(data, m.Buffers[0][:m.N])
			slots = append(slots, recvmux.Slot{Data: data, Meta: meta})
		}
		if len(slots) == 0 {
			continue
		}

		r.log.Tracef("read batch of %d slots", len(slots))
		select {
		case r.out <- recvmux.Batch{Slots: slots}:
		case <-r.quit:
			return
		}
	}
}

func udpAddrPort(addr net.Addr) netip.AddrPort {
	if u, ok := addr.(*net.UDPAddr); ok && u != nil {
		return u.AddrPort()
	}
	return netip.AddrPort{}
}
