package mqtt

import (
	"sync/atomic"

	"github.com/mqttrt/mqtt5/packet"
)

// queue is the Awaitable Queue (§4.E): an unbounded, FIFO, channel-backed
// mailbox used to hand outbound packets from application goroutines to a
// writer task without the sender blocking on the network. enqueue (Put)
// never blocks; backpressure comes from the bounded transaction maps
// instead, not from this queue. Safe for concurrent Put and a single Get
// loop.
type queue struct {
	out     chan queueItem
	add     chan queueItem
	done    chan struct{}
	pending int64 // atomic; approximate count, used only for shutdown logging
}

// queueItem carries an outbound packet alongside an optional afterSend
// hook, so a writer task can dispatch a per-packet post-send completion
// (§4.G/§4.J — e.g. "Sent PUBACK" removing a transaction chain and firing
// the application event) without the queue itself knowing about QoS
// semantics. This is the design notes' "completion sink carried inside
// the outgoing packet record" idea, applied at the enqueue call rather
// than on the packet type itself.
type queueItem struct {
	pkt       packet.Packet
	afterSend func()
}

func newQueue() *queue {
	q := &queue{
		add:  make(chan queueItem),
		out:  make(chan queueItem),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// run buffers items in a growable slice so Put never blocks the caller
// and Get always has the oldest item ready once one exists.
func (q *queue) run() {
	var buf []queueItem
	for {
		if len(buf) == 0 {
			select {
			case item := <-q.add:
				buf = append(buf, item)
			case <-q.done:
				return
			}
			continue
		}
		select {
		case item := <-q.add:
			buf = append(buf, item)
		case q.out <- buf[0]:
			buf = buf[1:]
			atomic.AddInt64(&q.pending, -1)
		case <-q.done:
			return
		}
	}
}

// Put enqueues pkt. afterSend, if non-nil, runs once a writer task has
// finished writing pkt to the wire — not when it is merely enqueued.
func (q *queue) Put(pkt packet.Packet, afterSend func()) {
	select {
	case q.add <- queueItem{pkt: pkt, afterSend: afterSend}:
		atomic.AddInt64(&q.pending, 1)
	case <-q.done:
	}
}

// Pending is an approximate count of items enqueued but not yet handed to
// a consumer, used by the Disconnection gate (§4.L step 7) to decide
// whether a clean shutdown is discarding unsent work worth logging.
func (q *queue) Pending() int {
	return int(atomic.LoadInt64(&q.pending))
}

func (q *queue) Close() {
	select {
	case <-q.done:
	default:
		close(q.done)
	}
}
