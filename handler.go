package mqtt

import (
	"context"
	"log"
	"sync"

	"github.com/mqttrt/mqtt5/packet"
)

// ackWaiters correlates an outstanding SUBSCRIBE/UNSUBSCRIBE/QoS1-2
// PUBLISH with the goroutine waiting on its acknowledgement, keyed by
// packet identifier. CONNACK has no identifier of its own (only one
// CONNECT is ever outstanding per connection) and is handled through its
// own single-slot channel instead.
type ackWaiters struct {
	mu      sync.Mutex
	waiting map[uint16]chan packet.Packet
}

func newAckWaiters() *ackWaiters {
	return &ackWaiters{waiting: make(map[uint16]chan packet.Packet)}
}

func (a *ackWaiters) register(id uint16) chan packet.Packet {
	ch := make(chan packet.Packet, 1)
	a.mu.Lock()
	a.waiting[id] = ch
	a.mu.Unlock()
	return ch
}

func (a *ackWaiters) forget(id uint16) {
	a.mu.Lock()
	delete(a.waiting, id)
	a.mu.Unlock()
}

func (a *ackWaiters) deliver(id uint16, pkt packet.Packet) bool {
	a.mu.Lock()
	ch, ok := a.waiting[id]
	a.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- pkt:
	default:
	}
	return true
}

// protocolViolation is the fatal branch of §7's error table: a best-effort
// DISCONNECT with reason, then an error that ends the Reader/Handler task
// so the connection is torn down rather than left in a state nothing can
// reason about.
func (c *Client) protocolViolation(reason packet.ReasonCode) error {
	c.sendDisconnect(reason)
	return reason
}

// handleInbound is the Received-Packets Handler, task J of §4.J: the
// single entry point the Reader calls for every decoded packet. It either
// completes a pending request/response exchange (CONNACK, SUBACK,
// UNSUBACK, PUBACK, PUBCOMP), drives the QoS 2 handshake forward (PUBREC,
// PUBREL), or admits and delivers an inbound PUBLISH to the application.
func (c *Client) handleInbound(ctx context.Context, pkt packet.Packet) error {
	c.ka.OnRecv()

	switch p := pkt.(type) {
	case *packet.CONNACK:
		// A fresh session (no SessionPresent) clears both transaction
		// maps; a resumed session leaves them as they are. teardown has
		// already cleared them when the previous connection ended.
		if p.SessionPresent == 0 {
			c.outPub.Clear()
			c.inPub.Clear()
		}
		receiveMax := uint16(65535)
		if p.Props != nil && p.Props.ReceiveMaximum != 0 {
			receiveMax = p.Props.ReceiveMaximum
		}
		c.outPub.Resize(int(receiveMax))
		select {
		case c.connack <- p:
		default:
		}
		return nil

	case *packet.SUBACK:
		if !c.acks.deliver(p.PacketID, p) {
			log.Printf("mqtt: SUBACK for unknown packet id %d: client_id=%s", p.PacketID, c.ID())
		}
		return nil

	case *packet.UNSUBACK:
		if !c.acks.deliver(p.PacketID, p) {
			log.Printf("mqtt: UNSUBACK for unknown packet id %d: client_id=%s", p.PacketID, c.ID())
		}
		return nil

	case *packet.PUBACK:
		c.outPub.Remove(p.PacketID)
		if !c.acks.deliver(p.PacketID, p) {
			log.Printf("mqtt: PUBACK for unknown packet id %d: client_id=%s", p.PacketID, c.ID())
		}
		return nil

	case *packet.PUBCOMP:
		c.outPub.Remove(p.PacketID)
		if !c.acks.deliver(p.PacketID, p) {
			log.Printf("mqtt: PUBCOMP for unknown packet id %d: client_id=%s", p.PacketID, c.ID())
		}
		return nil

	case *packet.PUBREC:
		// QoS 2 publisher side, step 2: reply PUBREL and keep waiting
		// for PUBCOMP under the same packet identifier (3.4.1 / 3.5).
		if p.ReasonCode.Code >= 0x80 {
			c.outPub.Remove(p.PacketID)
			if !c.acks.deliver(p.PacketID, p) {
				log.Printf("mqtt: PUBREC for unknown packet id %d: client_id=%s", p.PacketID, c.ID())
			}
			return nil
		}
		rel := &packet.PUBREL{
			FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBREL, QoS: 1},
			PacketID:    p.PacketID,
		}
		if tx, ok := c.outPub.Get(p.PacketID); ok {
			c.outPub.Update(p.PacketID, tx, tx.append(rel), sameTransaction)
		}
		c.control.Put(rel, nil)
		return nil

	case *packet.PUBREL:
		// QoS 2 receiver side, step 3: release the stashed PUBLISH for
		// delivery exactly once, then reply PUBCOMP (3.6.1). The chain
		// (and the delivery it guards) is only released once PUBCOMP
		// has actually gone out, via the afterSend hook below.
		tx, ok := c.inPub.Get(p.PacketID)
		if !ok {
			log.Printf("mqtt: PUBREL for unknown packet id %d: client_id=%s", p.PacketID, c.ID())
		}
		comp := &packet.PUBCOMP{
			FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBCOMP},
			PacketID:    p.PacketID,
		}
		c.control.Put(comp, func() {
			c.inPub.Remove(p.PacketID)
			if ok {
				c.deliverMessage(tx.publish(), nil)
			}
		})
		return nil

	case *packet.PINGRESP:
		return nil

	case *packet.DISCONNECT:
		return &brokerDisconnect{reason: p.ReasonCode}

	case *packet.PUBLISH:
		return c.handlePublish(ctx, p)
	}
	return nil
}

type brokerDisconnect struct {
	reason packet.ReasonCode
}

func (e *brokerDisconnect) Error() string {
	return "mqtt: broker sent DISCONNECT: " + e.reason.Error()
}

// handlePublish runs the receiver side of each QoS level (3.3.4). QoS 0
// delivers immediately. QoS 1 and QoS 2 first admit the packet identifier
// into inPub, the incoming Bounded Transaction Map (§4.I/§4.D): a DUP=1
// retransmission pre-clears any stale chain before re-admitting, while a
// non-DUP publish reusing an id already in flight is a protocol violation
// that tears the connection down (spec.md §4.J step 5).
//
// Message delivery to the application is deferred to the acknowledgement
// packet's post-send hook, not fired at enqueue time, so a QoS 1 message
// is reported to OnMessage exactly once and only after the PUBACK has
// actually left the wire (property #8); the same hook removes the chain,
// so a QoS 2 duplicate delivered with DUP=1 before PUBCOMP is ever sent
// still only reaches OnMessage once (property #9). The one exception is
// a QoS 1 message with ManualAckEnabled set: it is delivered at once, and
// its PUBACK is only enqueued when the application calls Message.Ack.
func (c *Client) handlePublish(ctx context.Context, pub *packet.PUBLISH) error {
	if pub.QoS == 0 {
		c.deliverMessage(pub, nil)
		return nil
	}

	if pub.Dup == 1 {
		c.inPub.Remove(pub.PacketID)
	}
	if err := c.inPub.Add(ctx, pub.PacketID, newTransaction(pub)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return c.protocolViolation(packet.ErrPacketIdentifierInUse)
	}

	switch pub.QoS {
	case 1:
		ack := &packet.PUBACK{
			FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBACK},
			PacketID:    pub.PacketID,
		}
		if c.options.ManualAckEnabled {
			ackFn := func() {
				c.control.Put(ack, func() { c.inPub.Remove(pub.PacketID) })
			}
			c.deliverMessage(pub, ackFn)
		} else {
			c.control.Put(ack, func() {
				c.inPub.Remove(pub.PacketID)
				c.deliverMessage(pub, nil)
			})
		}
	case 2:
		rec := &packet.PUBREC{
			FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBREC},
			PacketID:    pub.PacketID,
		}
		c.control.Put(rec, nil)
	}
	return nil
}

// deliverMessage hands an inbound PUBLISH to every per-filter handler
// registered through Client.Handle whose filter matches the topic, and
// to the catch-all OnMessage handler only when no per-filter handler
// matched, so a caller can use both styles together.
func (c *Client) deliverMessage(pub *packet.PUBLISH, ack func()) {
	msg := &Message{
		Topic:      pub.Message.TopicName,
		Payload:    pub.Message.Content,
		QoS:        pub.QoS,
		Retain:     pub.Retain == 1,
		Dup:        pub.Dup == 1,
		Properties: pub.Props,
		ack:        ack,
	}
	go func() {
		routed := c.router.Dispatch(msg.Topic, msg)
		if routed == 0 && c.onMessage != nil {
			c.onMessage(msg)
		}
	}()
}
