// Package recvmux implements the receive side of the NAT-traversal
// transport: batched reads from the dual-stack UDP sockets, splitting
// of kernel-coalesced datagrams, and classification of every packet as
// NAT-probe, discovery handshake, or opaque transport payload.
package recvmux

import (
	"net/netip"

	"github.com/netmuxio/netmux/disco"
)

// Source identifies the path a datagram was received on.
type Source int

const (
	SourceIPv4 Source = iota
	SourceIPv6
	SourceRelay
)

func (s Source) String() string {
	switch s {
	case SourceIPv4:
		return "ipv4"
	case SourceIPv6:
		return "ipv6"
	case SourceRelay:
		return "relay"
	default:
		return "unknown"
	}
}

// RecvMeta is the kernel-reported metadata of one receive slot. When a
// slot is split into discrete packets, Len and Stride are rewritten to
// each packet's own size while the remaining fields are inherited.
type RecvMeta struct {
	// Src is the sender's transport address.
	Src netip.AddrPort
	// Len is the number of payload bytes.
	Len int
	// Stride is the size of each coalesced datagram inside the slot.
	Stride int
	// ECN carries the congestion-marking bits, if the platform reports
	// them.
	ECN byte
}

// Slot is one kernel-reported receive unit, possibly holding several
// coalesced datagrams.
type Slot struct {
	Data []byte
	Meta RecvMeta
}

// Batch is the result of one batched socket read. Err is set for
// whole-call read failures, in which case Slots is empty.
type Batch struct {
	Slots []Slot
	Err   error
}

// BatchReader is the batched receive primitive for one address family.
type BatchReader interface {
	// Batches delivers the results of successive batched reads. The
	// channel is closed when the underlying socket is gone.
	Batches() <-chan Batch
}

// Outcome is one raw receive result bound for the transport consumer:
// either a packet with its source and metadata, or a whole-call read
// error.
type Outcome struct {
	Source Source
	Meta   RecvMeta
	Data   []byte
	Err    error
}

// Message is one classified unit delivered to the transport consumer.
type Message interface {
	isMessage()
}

// DiscoMessage is a parsed discovery handshake datagram. SealedPayload
// aliases the received packet's bytes.
type DiscoMessage struct {
	Key           disco.Key
	SealedPayload []byte
	Src           netip.AddrPort
}

func (DiscoMessage) isMessage() {}

// ForwardMessage carries an opaque receive outcome to the transport.
type ForwardMessage struct {
	Outcome Outcome
}

func (ForwardMessage) isMessage() {}
