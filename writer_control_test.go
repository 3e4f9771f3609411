package mqtt

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mqttrt/mqtt5/packet"
)

func TestWriteControlLoopWritesAndTouchesKeepAlive(t *testing.T) {
	c := New()
	server, client := net.Pipe()
	defer server.Close()

	control := newQueue()
	defer control.Close()
	ka := newKeepAlive(time.Hour)
	before := ka.lastSend

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- c.writeControlLoop(ctx, client, control, ka) }()

	control.Put(&packet.PINGREQ{FixedHeader: &packet.FixedHeader{Version: packet.VERSION500, Kind: PINGREQ}}, nil)

	buf := make([]byte, 2)
	server.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := server.Read(buf); err != nil {
		t.Fatalf("expected the PINGREQ bytes on the wire, got error: %v", err)
	}

	ka.mu.Lock()
	after := ka.lastSend
	ka.mu.Unlock()
	if !after.After(before) {
		t.Error("writeControlLoop did not call ka.OnSend() after a successful write")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("writeControlLoop returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("writeControlLoop never returned after ctx was cancelled")
	}
}

// TestWriteControlLoopAfterSendFiresOnlyAfterWrite is the regression test
// for maintainer review comment 3's post-send hook requirement: afterSend
// must run only once the packet has actually been written to the wire.
func TestWriteControlLoopAfterSendFiresOnlyAfterWrite(t *testing.T) {
	c := New()
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	control := newQueue()
	defer control.Close()
	ka := newKeepAlive(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.writeControlLoop(ctx, client, control, ka)

	fired := make(chan struct{}, 1)
	control.Put(&packet.PINGREQ{FixedHeader: &packet.FixedHeader{Version: packet.VERSION500, Kind: PINGREQ}}, func() {
		fired <- struct{}{}
	})

	select {
	case <-fired:
		t.Fatal("afterSend fired before the peer read anything")
	case <-time.After(50 * time.Millisecond):
	}

	buf := make([]byte, 2)
	server.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := server.Read(buf); err != nil {
		t.Fatalf("reading the written packet failed: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("afterSend never fired after the packet was written")
	}
}
