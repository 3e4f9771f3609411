package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/mqttrt/mqtt5/packet"
)

func TestBoundedMapAddWithinCapacity(t *testing.T) {
	m := newBoundedMap[uint16, *transaction](2)
	ctx := context.Background()

	if err := m.Add(ctx, 1, newTransaction(&packet.PUBLISH{PacketID: 1})); err != nil {
		t.Fatalf("Add(1) returned %v, want nil", err)
	}
	if err := m.Add(ctx, 2, newTransaction(&packet.PUBLISH{PacketID: 2})); err != nil {
		t.Fatalf("Add(2) returned %v, want nil", err)
	}
	if got := m.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
}

func TestBoundedMapAddRejectsDuplicateKey(t *testing.T) {
	m := newBoundedMap[uint16, *transaction](2)
	ctx := context.Background()

	if err := m.Add(ctx, 1, newTransaction(&packet.PUBLISH{PacketID: 1})); err != nil {
		t.Fatalf("first Add returned %v, want nil", err)
	}
	err := m.Add(ctx, 1, newTransaction(&packet.PUBLISH{PacketID: 1}))
	if err != ErrDuplicateTransactionID {
		t.Fatalf("second Add returned %v, want ErrDuplicateTransactionID", err)
	}
}

// TestBoundedMapAddBlocksUntilSpace exercises §8 property #6: Add must
// block while the map is at capacity and only proceed once a slot frees.
func TestBoundedMapAddBlocksUntilSpace(t *testing.T) {
	m := newBoundedMap[uint16, *transaction](1)
	ctx := context.Background()

	if err := m.Add(ctx, 1, newTransaction(&packet.PUBLISH{PacketID: 1})); err != nil {
		t.Fatalf("Add(1) returned %v, want nil", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- m.Add(ctx, 2, newTransaction(&packet.PUBLISH{PacketID: 2}))
	}()

	select {
	case <-done:
		t.Fatal("Add(2) returned before the map had room")
	case <-time.After(50 * time.Millisecond):
	}

	m.Remove(1)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Add(2) returned %v after Remove, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Add(2) never unblocked after Remove freed a slot")
	}
}

func TestBoundedMapAddRespectsContextCancellation(t *testing.T) {
	m := newBoundedMap[uint16, *transaction](1)
	if err := m.Add(context.Background(), 1, newTransaction(&packet.PUBLISH{PacketID: 1})); err != nil {
		t.Fatalf("Add(1) returned %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Add(ctx, 2, newTransaction(&packet.PUBLISH{PacketID: 2}))
	}()

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Add(2) returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Add(2) never returned after ctx was cancelled")
	}
}

func TestBoundedMapClearWakesWaitersAndEmpties(t *testing.T) {
	m := newBoundedMap[uint16, *transaction](1)
	ctx := context.Background()
	if err := m.Add(ctx, 1, newTransaction(&packet.PUBLISH{PacketID: 1})); err != nil {
		t.Fatalf("Add(1) returned %v, want nil", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- m.Add(ctx, 2, newTransaction(&packet.PUBLISH{PacketID: 2}))
	}()

	time.Sleep(20 * time.Millisecond)
	m.Clear()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Add(2) returned %v after Clear, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Add(2) never unblocked after Clear")
	}

	if got := m.Len(); got != 1 {
		t.Errorf("Len() = %d after Clear+Add, want 1 (only the post-Clear Add)", got)
	}
}

func TestBoundedMapResizeGrowWakesWaiters(t *testing.T) {
	m := newBoundedMap[uint16, *transaction](1)
	ctx := context.Background()
	if err := m.Add(ctx, 1, newTransaction(&packet.PUBLISH{PacketID: 1})); err != nil {
		t.Fatalf("Add(1) returned %v, want nil", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- m.Add(ctx, 2, newTransaction(&packet.PUBLISH{PacketID: 2}))
	}()

	time.Sleep(20 * time.Millisecond)
	m.Resize(2)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Add(2) returned %v after Resize(2), want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Add(2) never unblocked after Resize grew capacity")
	}
}

func TestBoundedMapUpdateRequiresIdentityMatch(t *testing.T) {
	m := newBoundedMap[uint16, *transaction](1)
	ctx := context.Background()
	tx := newTransaction(&packet.PUBLISH{PacketID: 1})
	if err := m.Add(ctx, 1, tx); err != nil {
		t.Fatalf("Add(1) returned %v, want nil", err)
	}

	stale := newTransaction(&packet.PUBLISH{PacketID: 1})
	if ok := m.Update(1, stale, tx.append(&packet.PUBREL{PacketID: 1}), sameTransaction); ok {
		t.Error("Update with a stale expected value should fail")
	}

	next := tx.append(&packet.PUBREL{PacketID: 1})
	if ok := m.Update(1, tx, next, sameTransaction); !ok {
		t.Fatal("Update with the current value should succeed")
	}
	got, ok := m.Get(1)
	if !ok || len(got.chain) != 2 {
		t.Fatalf("Get(1) = %v, %v, want a 2-element chain", got, ok)
	}
}
