package mqtt

import (
	"context"
	"net"

	"github.com/mqttrt/mqtt5/packet"
)

// writePublishLoop is Writer(publish), task H of §4.H: it waits for the
// connection to actually reach Connected before sending anything (there
// is no point writing application PUBLISH traffic while CONNECT is still
// in flight on the control writer), then drains the publish queue.
//
// For every QoS>=1 PUBLISH it admits the packet identifier into outPub
// (the outgoing Bounded Transaction Map, §4.D) *before* writing — this
// blocks the writer, not the caller of Publish, whenever the broker's
// negotiated Receive Maximum is already saturated with unacknowledged
// exchanges, which is the real backpressure §4.H calls for.
func (c *Client) writePublishLoop(ctx context.Context, rwc net.Conn, publish *queue, connected <-chan struct{}, outPub *boundedMap[uint16, *transaction], ka *keepAlive) error {
	select {
	case <-connected:
	case <-ctx.Done():
		return ctx.Err()
	case <-publish.done:
		return ErrClientClosed
	}

	for {
		select {
		case item := <-publish.out:
			if pub, ok := item.pkt.(*packet.PUBLISH); ok && pub.QoS > 0 {
				if err := outPub.Add(ctx, pub.PacketID, newTransaction(pub)); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					// Internal invariant failure (§7): the allocator
					// never hands out an identifier still in use, so a
					// duplicate here means the map and allocator have
					// fallen out of sync.
					c.sendDisconnect(packet.ErrUnspecifiedError)
					return err
				}
			}
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
		case <-publish.done:
			return ErrClientClosed
		}
	}
}
