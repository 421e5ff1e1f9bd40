package recvmux

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netmuxio/netmux/probe"
)

func TestSinkSendAndClose(t *testing.T) {
	sink := NewSink(1)

	require.NoError(t, sink.send(ForwardMessage{}))
	select {
	case msg := <-sink.Messages():
		_, ok := msg.(ForwardMessage)
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	sink.Close()
	assert.ErrorIs(t, sink.send(ForwardMessage{}), ErrSinkClosed)

	// Close is idempotent
	sink.Close()
}

func TestSinkCloseUnblocksPendingSend(t *testing.T) {
	sink := NewSink(0)

	errCh := make(chan error, 1)
	go func() {
		errCh <- sink.send(ForwardMessage{})
	}()

	time.Sleep(50 * time.Millisecond)
	sink.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSinkClosed)
	case <-time.After(time.Second):
		t.Fatal("send did not unblock on close")
	}
}

func TestProbeSinkDropsWhenFull(t *testing.T) {
	sink := NewProbeSink(1)
	src := netip.MustParseAddrPort("192.0.2.1:3478")

	sink.trySend(probe.Packet{Data: []byte{1}, Src: src})
	// queue is full, this one is silently dropped
	sink.trySend(probe.Packet{Data: []byte{2}, Src: src})

	select {
	case p := <-sink.Packets():
		assert.Equal(t, []byte{1}, p.Data)
	case <-time.After(time.Second):
		t.Fatal("first probe packet missing")
	}
	select {
	case p := <-sink.Packets():
		t.Fatalf("unexpected probe packet %v", p.Data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestProbeSinkDropsWhenClosed(t *testing.T) {
	sink := NewProbeSink(4)
	sink.Close()

	sink.trySend(probe.Packet{Data: []byte{1}})
	select {
	case p := <-sink.Packets():
		t.Fatalf("unexpected probe packet %v", p.Data)
	case <-time.After(100 * time.Millisecond):
	}
}
