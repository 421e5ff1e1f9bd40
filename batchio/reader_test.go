package batchio

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netmuxio/netmux/recvmux"
)

func newLoopbackReader(t *testing.T) (*Reader, *net.UDPAddr) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)

	reader, err := NewReader(conn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reader.Close() })

	return reader, conn.LocalAddr().(*net.UDPAddr)
}

// collectDatagrams drains batches until want datagrams were recovered,
// splitting coalesced slots by their reported stride.
func collectDatagrams(t *testing.T, reader *Reader, want int) ([][]byte, []recvmux.RecvMeta) {
	t.Helper()
	var datagrams [][]byte
	var metas []recvmux.RecvMeta

	deadline := time.After(5 * time.Second)
	for len(datagrams) < want {
		select {
		case batch, ok := <-reader.Batches():
			require.True(t, ok, "batch channel closed early")
			require.NoError(t, batch.Err)
			for _, slot := range batch.Slots {
				data := slot.Data[:slot.Meta.Len]
				stride := slot.Meta.Stride
				require.Positive(t, stride)
				for len(data) > 0 {
					n := stride
					if n > len(data) {
						n = len(data)
					}
					datagrams = append(datagrams, data[:n])
					metas = append(metas, slot.Meta)
					data = data[n:]
				}
			}
		case <-deadline:
			t.Fatalf("received %d of %d datagrams", len(datagrams), want)
		}
	}
	return datagrams, metas
}

func TestReaderSingleDatagram(t *testing.T) {
	reader, addr := newLoopbackReader(t)

	sender, err := net.DialUDP("udp4", nil, addr)
	require.NoError(t, err)
	defer sender.Close()

	payload := []byte("one small datagram")
	_, err = sender.Write(payload)
	require.NoError(t, err)

	datagrams, metas := collectDatagrams(t, reader, 1)
	assert.Equal(t, payload, datagrams[0])
	assert.Equal(t, sender.LocalAddr().(*net.UDPAddr).AddrPort(), metas[0].Src)
	assert.Equal(t, len(payload), metas[0].Len)
}

func TestReaderMultipleDatagrams(t *testing.T) {
	reader, addr := newLoopbackReader(t)

	sender, err := net.DialUDP("udp4", nil, addr)
	require.NoError(t, err)
	defer sender.Close()

	// ascending sizes cannot be coalesced into one GRO slot, so three
	// distinct datagrams must come out again
	payloads := [][]byte{
		make([]byte, 100),
		make([]byte, 200),
		make([]byte, 300),
	}
	for i, p := range payloads {
		for j := range p {
			p[j] = byte(i + 1)
		}
		_, err = sender.Write(p)
		require.NoError(t, err)
	}

	datagrams, _ := collectDatagrams(t, reader, 3)

	var total int
	seen := map[byte]int{}
	for _, d := range datagrams {
		total += len(d)
		require.NotEmpty(t, d)
		seen[d[0]] += len(d)
	}
	assert.Equal(t, 600, total)
	assert.Equal(t, 100, seen[1])
	assert.Equal(t, 200, seen[2])
	assert.Equal(t, 300, seen[3])
}

func TestReaderClose(t *testing.T) {
	reader, _ := newLoopbackReader(t)
	require.NoError(t, reader.Close())

	select {
	case _, ok := <-reader.Batches():
		assert.False(t, ok, "batch channel should be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("batch channel not closed after Close")
	}

	// Close is idempotent
	require.NoError(t, reader.Close())
}
