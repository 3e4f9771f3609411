package mqtt

import (
	"testing"
	"time"

	"github.com/mqttrt/mqtt5/packet"
)

func TestKeepAliveDisabledWhenIntervalZero(t *testing.T) {
	k := newKeepAlive(0)
	done := make(chan struct{})
	control := newQueue()
	defer control.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- k.Run(done, control, packet.VERSION500) }()

	close(done)
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() never returned after done was closed")
	}
}

// TestKeepAliveSendResetsSchedule is the direct regression test for
// maintainer review comment 4: a connection that keeps transmitting
// (even without ever receiving anything) must not have PINGREQ fire on
// schedule as if it had gone silent.
func TestKeepAliveSendResetsSchedule(t *testing.T) {
	interval := 60 * time.Millisecond
	k := newKeepAlive(interval)
	done := make(chan struct{})
	defer close(done)
	control := newQueue()
	defer control.Close()

	go k.Run(done, control, packet.VERSION500)

	// Keep OnSend fresher than the interval throughout; no PINGREQ should
	// ever reach the control queue.
	stop := time.Now().Add(3 * interval)
	for time.Now().Before(stop) {
		k.OnSend()
		select {
		case <-control.out:
			t.Fatal("PINGREQ was enqueued despite continuous sends")
		case <-time.After(interval / 4):
		}
	}
}

func TestKeepAliveSendsPingreqWhenIdle(t *testing.T) {
	interval := 40 * time.Millisecond
	k := newKeepAlive(interval)
	done := make(chan struct{})
	defer close(done)
	control := newQueue()
	defer control.Close()

	go k.Run(done, control, packet.VERSION500)

	select {
	case item := <-control.out:
		if item.pkt.Kind() != PINGREQ {
			t.Fatalf("enqueued packet kind = %v, want PINGREQ", item.pkt.Kind())
		}
	case <-time.After(time.Second):
		t.Fatal("no PINGREQ was enqueued while idle past the keep-alive interval")
	}
}

func TestKeepAliveTimesOutWithoutResponse(t *testing.T) {
	interval := 20 * time.Millisecond
	k := newKeepAlive(interval)
	done := make(chan struct{})
	defer close(done)
	control := newQueue()
	defer control.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- k.Run(done, control, packet.VERSION500) }()

	// Drain the PINGREQ the monitor enqueues but never answer it with OnRecv.
	select {
	case <-control.out:
	case <-time.After(time.Second):
		t.Fatal("expected a PINGREQ before the timeout branch could fire")
	}

	select {
	case err := <-errCh:
		if err != ErrKeepAliveTimeout {
			t.Fatalf("Run() returned %v, want ErrKeepAliveTimeout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() never reported a keep-alive timeout")
	}
}

func TestKeepAliveRecvClearsOutstandingPing(t *testing.T) {
	interval := 20 * time.Millisecond
	k := newKeepAlive(interval)
	done := make(chan struct{})
	defer close(done)
	control := newQueue()
	defer control.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- k.Run(done, control, packet.VERSION500) }()

	select {
	case <-control.out:
	case <-time.After(time.Second):
		t.Fatal("expected a PINGREQ before OnRecv could answer it")
	}

	k.OnRecv()

	// Run times out once a PINGREQ is outstanding and nothing has been
	// received for 1.5 intervals. Nothing answers the next PINGREQ here,
	// so Run is only expected to keep running for one interval after
	// OnRecv; without OnRecv it would already have timed out by then.
	select {
	case err := <-errCh:
		t.Fatalf("Run() returned %v after OnRecv, want it to keep running", err)
	case <-time.After(interval):
	}
}
