package mqtt

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mqttrt/mqtt5/packet"
)

func newTestClientForTeardown(t *testing.T) *Client {
	t.Helper()
	c := New()
	c.control = newQueue()
	c.outbox = newQueue()
	c.outPub = newBoundedMap[uint16, *transaction](1)
	c.inPub = newBoundedMap[uint16, *transaction](1)
	if err := c.outPub.Add(context.Background(), 1, newTransaction(&packet.PUBLISH{PacketID: 1})); err != nil {
		t.Fatalf("seeding outPub failed: %v", err)
	}
	return c
}

// TestTeardownCloseIsIdempotent is the direct regression test for
// maintainer review comment 3/property #7: concurrent callers of Close
// must collapse onto exactly one execution of the gate.
func TestTeardownCloseIsIdempotent(t *testing.T) {
	c := newTestClientForTeardown(t)
	server, client := net.Pipe()
	defer server.Close()

	var cancelCount int32
	var fireCount int32
	td := newTeardown(c, client, func() { atomic.AddInt32(&cancelCount, 1) }, func(DisconnectEvent) { atomic.AddInt32(&fireCount, 1) })

	const n = 20
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			td.Close(packet.ErrUnspecifiedError, false, nil)
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}

	if got := atomic.LoadInt32(&cancelCount); got != 1 {
		t.Errorf("cancel was called %d times, want exactly 1", got)
	}
	if got := atomic.LoadInt32(&fireCount); got != 1 {
		t.Errorf("fire was called %d times, want exactly 1", got)
	}
}

func TestTeardownCloseClearsTransactionState(t *testing.T) {
	c := newTestClientForTeardown(t)
	server, client := net.Pipe()
	defer server.Close()

	td := newTeardown(c, client, func() {}, func(DisconnectEvent) {})
	td.Close(packet.ErrUnspecifiedError, false, nil)

	if got := c.outPub.Len(); got != 0 {
		t.Errorf("outPub.Len() = %d after Close, want 0", got)
	}
	if got := c.inPub.Len(); got != 0 {
		t.Errorf("inPub.Len() = %d after Close, want 0", got)
	}
}

func TestTeardownCloseClosesConnection(t *testing.T) {
	c := newTestClientForTeardown(t)
	server, client := net.Pipe()

	td := newTeardown(c, client, func() {}, func(DisconnectEvent) {})
	td.Close(packet.ErrUnspecifiedError, false, nil)

	buf := make([]byte, 1)
	server.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := server.Read(buf); err == nil {
		t.Error("expected the peer to observe the connection closed")
	}
}
