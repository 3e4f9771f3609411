package mqtt

import (
	"context"
	"io"
	"net"

	"github.com/mqttrt/mqtt5/packet"
)

// readLoop is Reader, task I of §4.I. It pulls bytes off rwc, accumulates
// them into buf, and repeatedly hands the buffer to packet.DecodeLimited:
// Decode consumes as many complete packets as are present and returns
// ErrPartial once it needs more bytes than buf currently holds. This is
// the non-blocking counterpart of a one-packet-per-Read design: a single
// TCP Read can return several small packets (PUBACKs batched behind one
// PUBLISH, say), and a WebSocket message boundary carries no relation to
// packet boundaries.
//
// Two fatal conditions are handled here, both ending in a best-effort
// DISCONNECT before the connection is torn down (§7 "Protocol violation
// (fatal)"): a packet whose encoded size exceeds our own declared Maximum
// Packet Size (PacketTooLarge), and a packet that fails to decode at all
// (MalformedPacket).
func (c *Client) readLoop(ctx context.Context, rwc net.Conn, deliver func(context.Context, packet.Packet) error) error {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	maxSize := c.options.ClientMaximumPacketSize

	for {
		for {
			pkt, n, err := packet.DecodeLimited(buf, maxSize)
			if err == packet.ErrPartial {
				break
			}
			if err == packet.ErrPacketTooLarge {
				c.sendDisconnect(packet.ErrPacketTooLarge)
				return err
			}
			if err != nil {
				c.sendDisconnect(packet.ErrMalformedPacket)
				return err
			}
			buf = buf[n:]
			if err := deliver(ctx, pkt); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := rwc.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if err == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
}
