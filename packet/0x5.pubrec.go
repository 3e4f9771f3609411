package packet

import (
	"bytes"
	"encoding/binary"
	"io"
)

// PUBREC 发布收到报文 (QoS 2第一步)
//
// 参考章节: 3.5 PUBREC - Publish received (QoS 2 publish received, part 1)
//
// 报文结构:
// 固定报头: 报文类型0x05，标志位必须为0
// 可变报头: 报文标识符、原因码、发布收到属性
// 载荷: 无载荷
//
// QoS 2流程:
// 1. 客户端发送PUBLISH (QoS=2)
// 2. 服务端响应PUBREC ← 当前报文
// 3. 客户端发送PUBREL
// 4. 服务端响应PUBCOMP
type PUBREC struct {
	*FixedHeader `json:"FixedHeader,omitempty"`

	// PacketID 报文标识符，必须与对应的PUBLISH报文一致
	PacketID uint16 `json:"PacketID,omitempty"`

	// ReasonCode 原因码
	// 常见值:
	// - 0x00: 成功
	// - 0x10: 无匹配订阅者
	// - 0x91: 报文标识符已被使用
	ReasonCode ReasonCode

	// Props 发布收到属性
	Props *PubrecProperties
}

func (pkt *PUBREC) Kind() byte {
	return 0x5
}

func (pkt *PUBREC) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)
	// 固定报头标志位必须为0
	pkt.Dup, pkt.QoS, pkt.Retain = 0, 0, 0
	buf.Write(i2b(pkt.PacketID))
	if pkt.Version == VERSION500 {
		buf.WriteByte(pkt.ReasonCode.Code)

		if pkt.Props == nil {
			pkt.Props = &PubrecProperties{}
		}
		b, err := pkt.Props.Pack()
		if err != nil {
			return err
		}
		propsLen, err := encodeLength(len(b))
		if err != nil {
			return err
		}
		buf.Write(propsLen)
		buf.Write(b)
	}
	pkt.FixedHeader.RemainingLength = uint32(buf.Len())

	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *PUBREC) Unpack(buf *bytes.Buffer) error {
	pkt.PacketID = binary.BigEndian.Uint16(buf.Next(2))
	if pkt.RemainingLength == 2 {
		return nil
	}
	if pkt.Version == VERSION500 {
		pkt.ReasonCode.Code = buf.Next(1)[0]
		pkt.Props = &PubrecProperties{}
		if err := pkt.Props.Unpack(buf); err != nil {
			return err
		}
	}
	return nil
}

// PubrecProperties 发布收到属性
type PubrecProperties struct {
	// ReasonString 原因字符串，属性标识符 0x1F
	ReasonString string

	// UserProperty 用户属性，属性标识符 0x26
	UserProperty map[string][]string
}

func (props *PubrecProperties) Pack() ([]byte, error) {
	buf := GetBuffer()
	defer PutBuffer(buf)

	if props.ReasonString != "" {
		buf.WriteByte(0x1F)
		buf.Write(encodeUTF8(props.ReasonString))
	}

	if len(props.UserProperty) != 0 {
		for k, v := range props.UserProperty {
			for i := range v {
				buf.WriteByte(0x26)
				buf.Write(encodeUTF8(k))
				buf.Write(encodeUTF8(v[i]))
			}
		}
	}
	return bytes.Clone(buf.Bytes()), nil
}

func (props *PubrecProperties) Unpack(buf *bytes.Buffer) error {
	propsLen, err := decodeLength(buf)
	if err != nil {
		return err
	}

	for i := uint32(0); i < propsLen; i++ {
		propsId, err := decodeLength(buf)
		if err != nil {
			return err
		}
		switch propsId {
		case 0x1F:
			props.ReasonString = decodeUTF8[string](buf)
			i += uint32(len(props.ReasonString)) + 2
		case 0x26:
			if props.UserProperty == nil {
				props.UserProperty = make(map[string][]string)
			}
			key := decodeUTF8[string](buf)
			value := decodeUTF8[string](buf)
			props.UserProperty[key] = append(props.UserProperty[key], value)
			i += uint32(len(key)+len(value)) + 4
		default:
			return ErrProtocolViolation
		}
	}
	return nil
}
