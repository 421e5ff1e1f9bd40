package recvmux

import (
	"errors"
	"sync"

	"github.com/netmuxio/netmux/probe"
)

// ErrSinkClosed is returned by a send on a sink whose consumer has shut
// down.
var ErrSinkClosed = errors.New("recvmux: sink closed")

// Sink is the backpressured channel toward the transport consumer.
// Sends block while the consumer is saturated; a send against a closed
// sink fails with ErrSinkClosed, which is fatal to the receive actor.
type Sink struct {
	ch        chan Message
	quit      chan struct{}
	closeOnce sync.Once
}

// NewSink creates a sink whose consumer reads from Messages.
func NewSink(capacity int) *Sink {
	return &Sink{
		ch:   make(chan Message, capacity),
		quit: make(chan struct{}),
	}
}

// Messages is the consumer side of the sink.
func (s *Sink) Messages() <-chan Message {
	return s.ch
}

// Close is called by the consumer when it stops accepting messages.
// Pending and future sends fail with ErrSinkClosed.
func (s *Sink) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
}

func (s *Sink) send(m Message) error {
	select {
	case <-s.quit:
		return ErrSinkClosed
	default:
	}
	select {
	case s.ch <- m:
		return nil
	case <-s.quit:
		return ErrSinkClosed
	}
}

// ProbeSink is the best-effort channel toward the NAT-probe consumer.
// Sends never block: when the consumer's queue is full or the consumer
// is gone the packet is dropped.
type ProbeSink struct {
	ch        chan probe.Packet
	quit      chan struct{}
	closeOnce sync.Once
}

// NewProbeSink creates a probe sink with the given queue capacity.
func NewProbeSink(capacity int) *ProbeSink {
	return &ProbeSink{
		ch:   make(chan probe.Packet, capacity),
		quit: make(chan struct{}),
	}
}

// Packets is the consumer side of the probe sink.
func (s *ProbeSink) Packets() <-chan probe.Packet {
	return s.ch
}

// Close is called by the consumer when it stops accepting packets.
func (s *ProbeSink) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
}

func (s *ProbeSink) trySend(p probe.Packet) {
	select {
	case <-s.quit:
		return
	default:
	}
	select {
	case s.ch <- p:
	default:
	}
}
