package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/mqttrt/mqtt5/packet"
)

func newTestClientForHandler(t *testing.T) *Client {
	t.Helper()
	c := New()
	c.control = newQueue()
	c.ka = newKeepAlive(0)
	return c
}

func testPublish(id uint16, qos uint8, dup uint8) *packet.PUBLISH {
	return &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Kind: 0x3, QoS: qos, Dup: dup},
		PacketID:    id,
		Message:     &packet.Message{TopicName: "t", Content: []byte("payload")},
	}
}

// TestHandlePublishDuplicateNonDupIDIsProtocolViolation is the direct
// regression test for maintainer review comment 2: a broker reusing a
// packet identifier for a non-DUP QoS>0 PUBLISH while the prior exchange
// under that id is still open must be treated as a fatal protocol error,
// not silently re-acked.
func TestHandlePublishDuplicateNonDupIDIsProtocolViolation(t *testing.T) {
	c := newTestClientForHandler(t)
	ctx := context.Background()

	if err := c.handlePublish(ctx, testPublish(7, 1, 0)); err != nil {
		t.Fatalf("first handlePublish returned %v, want nil", err)
	}
	// Drain the PUBACK the first (legitimate) publish generated.
	select {
	case <-c.control.out:
	case <-time.After(time.Second):
		t.Fatal("expected a PUBACK enqueued for the first publish")
	}

	err := c.handlePublish(ctx, testPublish(7, 1, 0))
	if err == nil {
		t.Fatal("second handlePublish with a reused non-DUP id returned nil, want a protocol violation error")
	}

	select {
	case item := <-c.control.out:
		d, ok := item.pkt.(*packet.DISCONNECT)
		if !ok {
			t.Fatalf("enqueued packet is %T, want *packet.DISCONNECT", item.pkt)
		}
		if d.ReasonCode.Code != packet.ErrPacketIdentifierInUse.Code {
			t.Errorf("DISCONNECT reason = %v, want PacketIdentifierInUse", d.ReasonCode)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a DISCONNECT(PacketIdentifierInUse) to be enqueued")
	}
}

// TestHandlePublishDupRetransmitPreClearsChain covers the companion
// behavior: DUP=1 on a reused id must succeed by first clearing the
// stale chain, not be treated as a violation.
func TestHandlePublishDupRetransmitPreClearsChain(t *testing.T) {
	c := newTestClientForHandler(t)
	ctx := context.Background()

	// QoS 2 so the chain stays open (no automatic Remove on PUBACK).
	if err := c.handlePublish(ctx, testPublish(9, 2, 0)); err != nil {
		t.Fatalf("first handlePublish returned %v, want nil", err)
	}
	select {
	case <-c.control.out: // PUBREC
	case <-time.After(time.Second):
		t.Fatal("expected a PUBREC enqueued for the first publish")
	}

	if err := c.handlePublish(ctx, testPublish(9, 2, 1)); err != nil {
		t.Fatalf("DUP retransmit handlePublish returned %v, want nil", err)
	}
	select {
	case item := <-c.control.out:
		if _, ok := item.pkt.(*packet.PUBREC); !ok {
			t.Fatalf("enqueued packet is %T, want *packet.PUBREC", item.pkt)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a second PUBREC enqueued for the DUP retransmit")
	}
}

// TestHandleInboundConnackResizesAndClearsTransactions covers §4.J: a
// CONNACK without SessionPresent must clear both transaction maps, and
// always resizes outPub to the broker's negotiated ReceiveMaximum.
func TestHandleInboundConnackResizesAndClearsTransactions(t *testing.T) {
	c := newTestClientForHandler(t)
	ctx := context.Background()

	if err := c.outPub.Add(ctx, 1, newTransaction(testPublish(1, 1, 0))); err != nil {
		t.Fatalf("seeding outPub failed: %v", err)
	}

	connack := &packet.CONNACK{
		FixedHeader:    &packet.FixedHeader{Kind: 0x2},
		SessionPresent: 0,
		Props:          &packet.ConnackProps{ReceiveMaximum: 10},
	}
	if err := c.handleInbound(ctx, connack); err != nil {
		t.Fatalf("handleInbound(CONNACK) returned %v, want nil", err)
	}

	if got := c.outPub.Len(); got != 0 {
		t.Errorf("outPub.Len() = %d after a non-session-present CONNACK, want 0", got)
	}
	if got := c.outPub.cap; got != 10 {
		t.Errorf("outPub capacity = %d after CONNACK ReceiveMaximum=10, want 10", got)
	}
}
