package recvmux

import (
	log "github.com/sirupsen/logrus"

	"github.com/netmuxio/netmux/disco"
	"github.com/netmuxio/netmux/probe"
)

// ActorMessage is a control message for the receive actor.
type ActorMessage uint8

const (
	// ActorShutdown asks the actor to stop immediately, discarding any
	// buffered pipeline work.
	ActorShutdown ActorMessage = iota
)

// Actor is the single cooperative loop owning the receive side of one
// connection. It drains the batched readers, splits coalesced slots,
// classifies every packet and fans the result out to the probe and
// transport consumers. It owns its buffer queue exclusively and holds
// no locks.
type Actor struct {
	conn   *ConnState
	pconn4 BatchReader
	pconn6 BatchReader

	queue outputQueue
	log   *log.Entry
}

// NewActor creates a receive actor over the given readers. pconn6 may
// be nil on IPv4-only hosts.
func NewActor(conn *ConnState, pconn4, pconn6 BatchReader) *Actor {
	return &Actor{
		conn:   conn,
		pconn4: pconn4,
		pconn6: pconn6,
		log:    log.WithField("component", "recv-actor"),
	}
}

type pullState int

const (
	// pullReady means the pull produced a packet or a whole-call read
	// error.
	pullReady pullState = iota
	// pullEOF means the owning connection is closed or the sockets are
	// gone.
	pullEOF
	// pullShutdown means a shutdown control message arrived while the
	// pull was suspended.
	pullShutdown
)

type pullResult struct {
	pkt queuedPacket
	err error
}

// Run executes the receive loop until a shutdown message arrives, the
// owning connection is closed, or the transport sink's consumer goes
// away. Control messages have strict priority over pipeline work: they
// are checked before every classification step and also interrupt
// suspended pulls, so a continuous packet stream cannot starve a
// shutdown request.
func (a *Actor) Run(msgs <-chan ActorMessage, probes *ProbeSink, out *Sink) {
	for {
		select {
		case msg, ok := <-msgs:
			if !ok || msg == ActorShutdown {
				a.log.Debug("shutting down")
				return
			}
		default:
		}

		res, state := a.next(msgs)
		switch state {
		case pullShutdown:
			a.log.Debug("shutting down")
			return
		case pullEOF:
			a.log.Debug("connection closed, stopping receive loop")
			return
		}

		if res.err != nil {
			if err := out.send(ForwardMessage{Outcome: Outcome{Err: res.err}}); err != nil {
				a.log.Warn("transport sink gone")
				return
			}
			continue
		}

		if !a.classify(res.pkt, probes, out) {
			a.log.Warn("transport sink gone")
			return
		}
	}
}

// classify routes one packet to its consumer. It returns false when the
// transport sink's consumer is gone, which is fatal to the actor.
func (a *Actor) classify(pkt queuedPacket, probes *ProbeSink, out *Sink) bool {
	// NAT probe? Matched probes never reach the transport, whatever the
	// enable flag says.
	if probe.Is(pkt.data) {
		if a.conn.ProbesEnabled() {
			probes.trySend(probe.Packet{Data: pkt.data, Src: pkt.meta.Src})
		}
		return true
	}

	// Discovery handshake?
	if key, sealed, ok := disco.Parse(pkt.data); ok {
		msg := DiscoMessage{
			Key:           key,
			SealedPayload: sealed,
			Src:           pkt.meta.Src,
		}
		return out.send(msg) == nil
	}

	fwd := ForwardMessage{Outcome: Outcome{
		Source: pkt.source,
		Meta:   pkt.meta,
		Data:   pkt.data,
	}}
	return out.send(fwd) == nil
}

// next pulls the next raw receive result. Closure of the owning
// connection takes precedence over draining buffered packets, buffered
// packets over a fresh read, and the IPv6 reader is always tried before
// the IPv4 one.
func (a *Actor) next(msgs <-chan ActorMessage) (pullResult, pullState) {
	var ch6 <-chan Batch
	if a.pconn6 != nil {
		ch6 = a.pconn6.Batches()
	}
	ch4 := a.pconn4.Batches()

	for {
		if a.conn.IsClosed() {
			return pullResult{}, pullEOF
		}
		if pkt, ok := a.queue.pop(); ok {
			return pullResult{pkt: pkt}, pullReady
		}

		// receives on a nil ch6 never fire, so an IPv4-only actor falls
		// straight through
		select {
		case b, ok := <-ch6:
			if res, st, done := a.accept(b, ok, SourceIPv6); done {
				return res, st
			}
			continue
		default:
		}

		select {
		case b, ok := <-ch4:
			if res, st, done := a.accept(b, ok, SourceIPv4); done {
				return res, st
			}
			continue
		default:
		}

		// neither reader had data ready: suspend until a socket wakes
		// us, racing the control channel so shutdown is not delayed
		select {
		case msg, ok := <-msgs:
			if !ok || msg == ActorShutdown {
				return pullResult{}, pullShutdown
			}
		case b, ok := <-ch6:
			if res, st, done := a.accept(b, ok, SourceIPv6); done {
				return res, st
			}
		case b, ok := <-ch4:
			if res, st, done := a.accept(b, ok, SourceIPv4); done {
				return res, st
			}
		}
	}
}

// accept folds one data batch into the output queue. Whole-call read
// errors and a closed batch channel (socket gone) terminate the pull
// immediately instead.
func (a *Actor) accept(b Batch, ok bool, source Source) (pullResult, pullState, bool) {
	if !ok {
		return pullResult{}, pullEOF, true
	}
	if b.Err != nil {
		return pullResult{err: b.Err}, pullReady, true
	}
	for _, slot := range b.Slots {
		splitSlot(slot, source, &a.queue)
	}
	return pullResult{}, pullReady, false
}
