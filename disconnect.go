package mqtt

import (
	"log"
	"net"
	"sync"

	"github.com/mqttrt/mqtt5/packet"
)

// teardown runs the Disconnection gate of §4.L exactly once per connection
// cycle no matter which of several goroutines notices the connection is
// finished first (the reader hitting a network error, a writer hitting
// one, keep-alive timing out, or the application calling Disconnect).
// Without this gate each of those paths would race to close rwc, clear
// shared maps twice, and fire duplicate AfterDisconnect events.
type teardown struct {
	sem  chan struct{} // counting-1 semaphore, non-blocking acquire (step 1)
	once sync.Once

	c      *Client
	rwc    net.Conn
	cancel func()
	fire   func(DisconnectEvent)
}

func newTeardown(c *Client, rwc net.Conn, cancel func(), fire func(DisconnectEvent)) *teardown {
	return &teardown{sem: make(chan struct{}, 1), c: c, rwc: rwc, cancel: cancel, fire: fire}
}

// Close runs steps 2-8 of §4.L. A failed semaphore acquire means a
// shutdown is already in progress (or done), so the caller returns
// silently — this collapses concurrent disconnect requests into exactly
// one execution (property #7).
func (t *teardown) Close(reason packet.ReasonCode, clean bool, err error) {
	select {
	case t.sem <- struct{}{}:
	default:
		return
	}

	t.once.Do(func() {
		// Step 3: cancel every task sharing this connection's context.
		// The caller's errgroup.Wait (invoked right after runOnce's
		// tasks return) waits for the tasks to exit; it has no time limit.
		if t.cancel != nil {
			t.cancel()
		}

		// Step 4: close the transport. A writer mid-Write unblocks with
		// an error and exits; the reader's blocked Read does the same.
		if t.rwc != nil {
			t.rwc.Close()
		}

		// Step 5: flip state to Disconnected, resetting NotDisconnectedSignal.
		t.c.state.sm.Set(Disconnected)

		// Step 6: clear cached connection properties and in-flight
		// transaction state unconditionally — nothing from this
		// connection's in-flight state survives into the next one.
		t.c.sess.reset()
		t.c.outPub.Clear()
		t.c.inPub.Clear()

		// Step 7: on a clean disconnect, drain both send queues,
		// logging if either still held work nobody will ever send now.
		if clean {
			if t.c.control != nil {
				if n := t.c.control.Pending(); n > 0 {
					log.Printf("mqtt: clean disconnect dropping %d unsent control packet(s): client_id=%s", n, t.c.ID())
				}
				t.c.control.Close()
			}
			if t.c.outbox != nil {
				if n := t.c.outbox.Pending(); n > 0 {
					log.Printf("mqtt: clean disconnect dropping %d unsent publish packet(s): client_id=%s", n, t.c.ID())
				}
				t.c.outbox.Close()
			}
		}

		// Step 8: tell the application.
		if t.fire != nil {
			t.fire(DisconnectEvent{ReasonCode: reason, Err: err})
		}
	})
}

// sendDisconnect enqueues a DISCONNECT (3.14) onto the control queue,
// the only task allowed to transmit it (§4.G). It is best-effort: if the
// control queue is already closed, nothing is sent, matching a broken
// transport being exactly the case that makes a clean send impossible.
func (c *Client) sendDisconnect(reason packet.ReasonCode) {
	if c.control == nil {
		return
	}
	d := packet.NewDISCONNECT(c.version, reason)
	c.control.Put(d, nil)
}
