package mqtt

import (
	"context"
	"net"
)

// writeControlLoop is Writer(control), task G of §4.G: the sole goroutine
// allowed to transmit CONNECT and DISCONNECT, and the housekeeping
// traffic that must never wait behind a burst of application PUBLISH
// (SUBSCRIBE/UNSUBSCRIBE, the PUBACK/PUBREC/PUBREL/PUBCOMP acks, and
// PINGREQ). It owns the shared "last transmission" clock ka: every
// successful write restarts it, which is what lets the Monitor schedule
// PINGREQ off of actual outbound activity instead of inbound-only.
//
// After a packet is physically written, its queueItem's afterSend hook
// (if any) runs — this is the only place "Sent PUBACK"/"Sent PUBCOMP"
// style completions (§4.J) are allowed to fire, since firing them at
// enqueue time would let the application observe completion before the
// broker could possibly have seen the acknowledgement.
func (c *Client) writeControlLoop(ctx context.Context, rwc net.Conn, control *queue, ka *keepAlive) error {
	for {
		select {
		case item := <-control.out:
			if err := item.pkt.Pack(rwc); err != nil {
				return err
			}
			ka.OnSend()
			metrics.PacketSent.Inc()
			if item.afterSend != nil {
				item.afterSend()
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-control.done:
			return ErrClientClosed
		}
	}
}
