package mqtt

import (
	"testing"
	"time"

	"github.com/mqttrt/mqtt5/packet"
)

func TestQueuePutDoesNotBlock(t *testing.T) {
	q := newQueue()
	defer q.Close()

	done := make(chan struct{})
	go func() {
		q.Put(&packet.PINGREQ{}, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Put blocked with nobody draining out")
	}
}

func TestQueuePendingTracksUndeliveredItems(t *testing.T) {
	q := newQueue()
	defer q.Close()

	q.Put(&packet.PINGREQ{}, nil)
	q.Put(&packet.PINGREQ{}, nil)

	// No consumer reading q.out yet, so both puts should still be pending.
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if q.Pending() == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := q.Pending(); got != 2 {
		t.Fatalf("Pending() = %d, want 2", got)
	}

	<-q.out
	deadline = time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if q.Pending() == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := q.Pending(); got != 1 {
		t.Fatalf("Pending() after one drain = %d, want 1", got)
	}
}

// TestQueueAfterSendHookFiresOnlyAfterDelivery is a contract test for the
// afterSend hook itself: queue.go never invokes it (that is the writer
// loops' job once Pack succeeds), so pulling an item off q.out must hand
// back the hook unfired and leave firing it to the caller.
func TestQueueAfterSendHookFiresOnlyAfterDelivery(t *testing.T) {
	q := newQueue()
	defer q.Close()

	fired := make(chan struct{}, 1)
	q.Put(&packet.PINGREQ{}, func() { fired <- struct{}{} })

	select {
	case <-fired:
		t.Fatal("afterSend fired before the item was even pulled off the queue")
	case <-time.After(50 * time.Millisecond):
	}

	item := <-q.out
	select {
	case <-fired:
		t.Fatal("afterSend fired just from being pulled off the queue, not invoked")
	case <-time.After(50 * time.Millisecond):
	}

	item.afterSend()
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("afterSend never ran when explicitly invoked")
	}
}

func TestQueueCloseUnblocksPut(t *testing.T) {
	q := newQueue()
	q.Close()

	done := make(chan struct{})
	go func() {
		q.Put(&packet.PINGREQ{}, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Put did not return after queue was closed")
	}
}
