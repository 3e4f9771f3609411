package mqtt

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mqttrt/mqtt5/packet"
)

// TestWritePublishLoopWaitsForConnectedSignal is the regression test for
// §4.H: nothing should go out on the publish writer before the connection
// is actually Connected, even if something is already queued.
func TestWritePublishLoopWaitsForConnectedSignal(t *testing.T) {
	c := New()
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	publish := newQueue()
	defer publish.Close()
	connected := make(chan struct{})
	outPub := newBoundedMap[uint16, *transaction](10)
	ka := newKeepAlive(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- c.writePublishLoop(ctx, client, publish, connected, outPub, ka) }()

	pub := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Version: packet.VERSION500, Kind: 0x3, QoS: 1},
		PacketID:    1,
		Message:     &packet.Message{TopicName: "t"},
	}
	publish.Put(pub, nil)

	buf := make([]byte, 1)
	server.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := server.Read(buf); err == nil {
		t.Fatal("writePublishLoop sent a packet before ConnectedSignal fired")
	}

	close(connected)
	server.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := server.Read(buf); err != nil {
		t.Fatalf("expected the PUBLISH to go out once connected, got: %v", err)
	}
}

// TestWritePublishLoopAdmitsBeforeWriting is the regression test for
// maintainer review comment 1/3: a QoS>=1 PUBLISH must be admitted into
// outPub before (not after, not never) it goes on the wire.
func TestWritePublishLoopAdmitsBeforeWriting(t *testing.T) {
	c := New()
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	publish := newQueue()
	defer publish.Close()
	connected := make(chan struct{})
	close(connected)
	outPub := newBoundedMap[uint16, *transaction](10)
	ka := newKeepAlive(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.writePublishLoop(ctx, client, publish, connected, outPub, ka)

	pub := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Version: packet.VERSION500, Kind: 0x3, QoS: 1},
		PacketID:    42,
		Message:     &packet.Message{TopicName: "t"},
	}
	publish.Put(pub, nil)

	// Read the whole PUBLISH off the wire so we know Pack has returned.
	buf := make([]byte, 64)
	server.SetReadDeadline(time.Now().Add(time.Second))
	n, err := server.Read(buf)
	if err != nil {
		t.Fatalf("reading the written PUBLISH failed: %v", err)
	}
	if n == 0 {
		t.Fatal("no bytes read for the PUBLISH")
	}

	if _, ok := outPub.Get(42); !ok {
		t.Error("PacketID 42 was not admitted into outPub by the time it hit the wire")
	}
}

// TestWritePublishLoopBlocksWhenOutPubIsFull verifies the backpressure
// property directly: with outPub at capacity, a second QoS>=1 PUBLISH
// must not reach the wire until a slot frees up.
func TestWritePublishLoopBlocksWhenOutPubIsFull(t *testing.T) {
	c := New()
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	publish := newQueue()
	defer publish.Close()
	connected := make(chan struct{})
	close(connected)
	outPub := newBoundedMap[uint16, *transaction](1)
	if err := outPub.Add(context.Background(), 1, newTransaction(&packet.PUBLISH{PacketID: 1})); err != nil {
		t.Fatalf("seeding outPub failed: %v", err)
	}
	ka := newKeepAlive(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.writePublishLoop(ctx, client, publish, connected, outPub, ka)

	pub := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Version: packet.VERSION500, Kind: 0x3, QoS: 1},
		PacketID:    2,
		Message:     &packet.Message{TopicName: "t"},
	}
	publish.Put(pub, nil)

	buf := make([]byte, 64)
	server.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := server.Read(buf); err == nil {
		t.Fatal("writePublishLoop wrote a PUBLISH despite outPub being full")
	}

	outPub.Remove(1)

	server.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := server.Read(buf); err != nil {
		t.Fatalf("expected the PUBLISH to go out once outPub freed a slot, got: %v", err)
	}
}
