package recvmux

// queuedPacket is one discrete datagram split out of a receive slot,
// waiting to be classified.
type queuedPacket struct {
	data   []byte
	source Source
	meta   RecvMeta
}

// outputQueue buffers the packets produced by one batched read. The
// actor drains it completely before issuing a new read.
type outputQueue struct {
	items []queuedPacket
	head  int
}

func (q *outputQueue) push(p queuedPacket) {
	q.items = append(q.items, p)
}

func (q *outputQueue) pop() (queuedPacket, bool) {
	if q.head >= len(q.items) {
		return queuedPacket{}, false
	}
	p := q.items[q.head]
	q.items[q.head] = queuedPacket{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return p, true
}

func (q *outputQueue) len() int {
	return len(q.items) - q.head
}
