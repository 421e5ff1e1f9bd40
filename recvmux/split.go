package recvmux

// splitSlot cuts one possibly coalesced receive slot into discrete
// packets and appends them to q in byte order. Each packet is a
// sub-slice of the slot's bytes, its Len and Stride rewritten to the
// packet's own size and the remaining metadata inherited unchanged.
func splitSlot(slot Slot, source Source, q *outputQueue) {
	length := slot.Meta.Len
	if length > len(slot.Data) {
		length = len(slot.Data)
	}
	data := slot.Data[:length]

	stride := slot.Meta.Stride
	if stride <= 0 {
		stride = len(data)
	}

	for len(data) > 0 {
		n := stride
		if n > len(data) {
			n = len(data)
		}
		meta := slot.Meta
		meta.Len = n
		meta.Stride = n
		q.push(queuedPacket{
			data:   data[:n:n],
			source: source,
			meta:   meta,
		})
		data = data[n:]
	}
}
