package recvmux

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSlot(t *testing.T) {
	src := netip.MustParseAddrPort("203.0.113.9:41641")

	tests := []struct {
		name     string
		length   int
		stride   int
		wantLens []int
	}{
		{"exact multiple", 3000, 1000, []int{1000, 1000, 1000}},
		{"trailing short packet", 2500, 1000, []int{1000, 1000, 500}},
		{"stride larger than slot", 10, 50, []int{10}},
		{"stride equals slot", 800, 800, []int{800}},
		{"single byte stride", 3, 1, []int{1, 1, 1}},
		{"empty slot", 0, 1000, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data := make([]byte, tc.length)
			for i := range data {
				data[i] = byte(i)
			}
			slot := Slot{
				Data: data,
				Meta: RecvMeta{Src: src, Len: tc.length, Stride: tc.stride, ECN: 0x02},
			}

			var q outputQueue
			splitSlot(slot, SourceIPv6, &q)

			require.Equal(t, len(tc.wantLens), q.len())

			total := 0
			offset := 0
			for _, wantLen := range tc.wantLens {
				pkt, ok := q.pop()
				require.True(t, ok)
				assert.Equal(t, wantLen, len(pkt.data))
				assert.Equal(t, wantLen, pkt.meta.Len)
				assert.Equal(t, wantLen, pkt.meta.Stride, "stride must be rewritten to the packet's own size")
				assert.LessOrEqual(t, pkt.meta.Stride, tc.stride)
				assert.Equal(t, data[offset:offset+wantLen], pkt.data, "byte order must be preserved")

				// inherited fields
				assert.Equal(t, src, pkt.meta.Src)
				assert.Equal(t, byte(0x02), pkt.meta.ECN)
				assert.Equal(t, SourceIPv6, pkt.source)

				total += wantLen
				offset += wantLen
			}
			assert.Equal(t, tc.length, total, "packet lengths must sum to the slot length")

			_, ok := q.pop()
			assert.False(t, ok)
		})
	}
}

func TestSplitSlotZeroCopy(t *testing.T) {
	data := make([]byte, 2000)
	slot := Slot{Data: data, Meta: RecvMeta{Len: 2000, Stride: 1000}}

	var q outputQueue
	splitSlot(slot, SourceIPv4, &q)

	first, ok := q.pop()
	require.True(t, ok)
	second, ok := q.pop()
	require.True(t, ok)

	assert.True(t, &data[0] == &first.data[0], "first packet should alias the slot")
	assert.True(t, &data[1000] == &second.data[0], "second packet should alias the slot")
}

func TestOutputQueueReusesBacking(t *testing.T) {
	var q outputQueue
	for i := 0; i < 4; i++ {
		q.push(queuedPacket{meta: RecvMeta{Len: i}})
	}
	for i := 0; i < 4; i++ {
		pkt, ok := q.pop()
		require.True(t, ok)
		assert.Equal(t, i, pkt.meta.Len)
	}
	_, ok := q.pop()
	assert.False(t, ok)
	assert.Zero(t, q.len())

	// drained queue starts over at the front of its backing slice
	q.push(queuedPacket{meta: RecvMeta{Len: 42}})
	assert.Equal(t, 1, q.len())
	assert.Equal(t, 0, q.head)
}
