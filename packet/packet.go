package packet

import (
	"bytes"
	"io"
)

// Packet is the common interface implemented by every MQTT 5.0 control
// packet. Pack writes the whole packet onto w: it sets RemainingLength and
// writes the fixed header itself (via FixedHeader.Pack) ahead of the
// variable header and payload; Unpack parses the variable header and
// payload back out of a buffer that holds exactly RemainingLength bytes.
type Packet interface {
	Kind() byte
	Unpack(*bytes.Buffer) error
	Pack(io.Writer) error
}

// ErrPartial is returned by Decode when b does not yet hold a complete
// packet. Callers should read more bytes from the transport and retry;
// Decode never consumes or mutates b on a partial result.
var ErrPartial = ReasonCode{Code: 0x00, Reason: "packet: incomplete, need more data"}

// peekVarByteInt reads a variable byte integer (MQTT 2.1.4) from the front
// of b without an io.Reader, so it can be tried opportunistically against
// whatever has arrived on the wire so far. It returns the decoded value and
// how many bytes it occupied. A returned length of 0 means b does not yet
// contain the whole integer (at most 4 bytes and undecided).
func peekVarByteInt(b []byte) (uint32, int, error) {
	var vbi uint32
	var multiplier uint32 = 1
	for i := 0; i < 4; i++ {
		if i >= len(b) {
			return 0, 0, nil
		}
		enc := b[i]
		vbi += uint32(enc&0x7F) * multiplier
		if enc&0x80 == 0 {
			return vbi, i + 1, nil
		}
		multiplier *= 128
	}
	return 0, 0, ErrPacketTooLarge
}

// Decode parses one complete MQTT control packet from the front of b. It
// never blocks and never retains a reference to b. On success it returns
// the packet and the number of bytes consumed from b; the caller drops
// those bytes from its read buffer before the next call. If b holds fewer
// bytes than the packet needs, Decode returns ErrPartial and the caller
// should wait for more data and retry with the same (or a grown) buffer.
// Any other error is a malformed or protocol-violating packet and the
// connection must be closed.
func Decode(b []byte) (Packet, int, error) {
	if len(b) < 1 {
		return nil, 0, ErrPartial
	}
	first := b[0]
	kind := first >> 4
	dup := first & 0b00001000 >> 3
	qos := first & 0b00000110 >> 1
	retain := first & 0b00000001

	switch kind {
	case 0x3:
		if qos > 0x2 {
			return nil, 0, ErrProtocolViolationQosOutOfRange
		}
	case 0x6, 0x8, 0xA:
		if dup != 0 || qos != 1 || retain != 0 {
			return nil, 0, ErrMalformedFlags
		}
	default:
		if dup != 0 || qos != 0 || retain != 0 {
			return nil, 0, ErrMalformedFlags
		}
	}

	remaining, n, err := peekVarByteInt(b[1:])
	if err != nil {
		return nil, 0, err
	}
	if n == 0 {
		return nil, 0, ErrPartial
	}

	total := 1 + n + int(remaining)
	if len(b) < total {
		return nil, 0, ErrPartial
	}

	fixed := &FixedHeader{
		Version:         VERSION500,
		Kind:            kind,
		Dup:             dup,
		QoS:             qos,
		Retain:          retain,
		RemainingLength: remaining,
	}

	pkt, err := newPacket(kind, fixed)
	if err != nil {
		return nil, 0, err
	}

	body := bytes.NewBuffer(b[1+n : total])
	if err := pkt.Unpack(body); err != nil {
		return nil, 0, err
	}
	return pkt, total, nil
}

// DecodeLimited behaves exactly like Decode, except it rejects a packet
// whose total encoded size (fixed header included) exceeds maxSize before
// allocating or unpacking it. maxSize of 0 means unlimited. This lets a
// Reader enforce its own advertised Maximum Packet Size (3.1.2.11) without
// buffering an oversize packet's body first.
func DecodeLimited(b []byte, maxSize uint32) (Packet, int, error) {
	if len(b) < 1 {
		return nil, 0, ErrPartial
	}
	remaining, n, err := peekVarByteInt(b[1:])
	if err != nil {
		return nil, 0, err
	}
	if n == 0 {
		return nil, 0, ErrPartial
	}
	total := 1 + n + int(remaining)
	if maxSize > 0 && uint32(total) > maxSize {
		if len(b) < total {
			return nil, 0, ErrPartial
		}
		return nil, total, ErrPacketTooLarge
	}
	return Decode(b)
}

// newPacket allocates the zero-value Packet for kind. AUTH (0xF) and the
// reserved type (0x0) are not produced; neither appears in a v5.0 session
// that never negotiates enhanced authentication.
func newPacket(kind byte, fixed *FixedHeader) (Packet, error) {
	switch kind {
	case 0x1:
		return &CONNECT{FixedHeader: fixed}, nil
	case 0x2:
		return &CONNACK{FixedHeader: fixed}, nil
	case 0x3:
		return &PUBLISH{FixedHeader: fixed}, nil
	case 0x4:
		return &PUBACK{FixedHeader: fixed}, nil
	case 0x5:
		return &PUBREC{FixedHeader: fixed}, nil
	case 0x6:
		return &PUBREL{FixedHeader: fixed}, nil
	case 0x7:
		return &PUBCOMP{FixedHeader: fixed}, nil
	case 0x8:
		return &SUBSCRIBE{FixedHeader: fixed}, nil
	case 0x9:
		return &SUBACK{FixedHeader: fixed}, nil
	case 0xA:
		return &UNSUBSCRIBE{FixedHeader: fixed}, nil
	case 0xB:
		return &UNSUBACK{FixedHeader: fixed}, nil
	case 0xC:
		return &PINGREQ{FixedHeader: fixed}, nil
	case 0xD:
		return &PINGRESP{FixedHeader: fixed}, nil
	case 0xE:
		return &DISCONNECT{FixedHeader: fixed}, nil
	default:
		return nil, ErrMalformedPacket
	}
}

// Encode serializes pkt, fixed header included, into a freshly allocated
// byte slice ready to hand to a transport Write.
func Encode(pkt Packet) ([]byte, error) {
	buf := GetBuffer()
	defer PutBuffer(buf)
	if err := pkt.Pack(buf); err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}
