package mqtt

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mqttrt/mqtt5/packet"
)

func newTestClientForReader(t *testing.T, maxPacketSize uint32) *Client {
	t.Helper()
	c := New()
	c.options.ClientMaximumPacketSize = maxPacketSize
	c.control = newQueue()
	return c
}

// encodeVarByteInt mirrors the wire encoding packet.peekVarByteInt decodes,
// kept local to the test since the packet package doesn't export an encoder.
func encodeVarByteInt(v uint32) []byte {
	var out []byte
	for {
		b := byte(v % 128)
		v /= 128
		if v > 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

// TestReaderDisconnectsOnOversizePacket is the direct regression test for
// maintainer review comment 5: a packet bigger than ClientMaximumPacketSize
// must trigger DISCONNECT(PacketTooLarge) and tear the connection down,
// instead of being silently buffered or delivered.
func TestReaderDisconnectsOnOversizePacket(t *testing.T) {
	c := newTestClientForReader(t, 50)
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	remaining := 200
	frame := append([]byte{0x30}, encodeVarByteInt(uint32(remaining))...)
	frame = append(frame, make([]byte, remaining)...)

	go func() {
		server.Write(frame)
	}()

	done := make(chan error, 1)
	go func() {
		err := c.readLoop(context.Background(), client, func(context.Context, packet.Packet) error { return nil })
		done <- err
	}()

	select {
	case item := <-c.control.out:
		d, ok := item.pkt.(*packet.DISCONNECT)
		if !ok {
			t.Fatalf("enqueued packet is %T, want *packet.DISCONNECT", item.pkt)
		}
		if d.ReasonCode.Code != packet.ErrPacketTooLarge.Code {
			t.Errorf("DISCONNECT reason = %v, want PacketTooLarge", d.ReasonCode)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a DISCONNECT(PacketTooLarge) to be enqueued on control")
	}

	select {
	case err := <-done:
		if err != packet.ErrPacketTooLarge {
			t.Errorf("readLoop returned %v, want ErrPacketTooLarge", err)
		}
	case <-time.After(time.Second):
		t.Fatal("readLoop never returned after the oversize packet")
	}
}

// TestReaderDisconnectsOnMalformedPacket covers the other half of comment
// 5: a packet that fails to decode (here, a PUBREL with invalid flags)
// must trigger DISCONNECT(MalformedPacket).
func TestReaderDisconnectsOnMalformedPacket(t *testing.T) {
	c := newTestClientForReader(t, 0)
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	// Kind 0x6 (PUBREL) with all flag bits zero: PUBREL requires
	// dup=0, qos=1, retain=0 exactly, so qos=0 here is malformed.
	frame := []byte{0x60, 0x00}
	go func() {
		server.Write(frame)
	}()

	done := make(chan error, 1)
	go func() {
		err := c.readLoop(context.Background(), client, func(context.Context, packet.Packet) error { return nil })
		done <- err
	}()

	select {
	case item := <-c.control.out:
		d, ok := item.pkt.(*packet.DISCONNECT)
		if !ok {
			t.Fatalf("enqueued packet is %T, want *packet.DISCONNECT", item.pkt)
		}
		if d.ReasonCode.Code != packet.ErrMalformedPacket.Code {
			t.Errorf("DISCONNECT reason = %v, want MalformedPacket", d.ReasonCode)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a DISCONNECT(MalformedPacket) to be enqueued on control")
	}

	select {
	case err := <-done:
		if err == nil {
			t.Error("readLoop returned nil, want a decode error")
		}
	case <-time.After(time.Second):
		t.Fatal("readLoop never returned after the malformed packet")
	}
}
