package mqtt

import "github.com/mqttrt/mqtt5/packet"

// Message is a PUBLISH delivered to the application. When
// ManualAckEnabled is set, a QoS 1 message is handed over before its
// PUBACK is sent, and Ack sends that PUBACK once the application has
// finished processing it. Otherwise the runtime acknowledges the message
// itself, and a QoS 1 or QoS 2 message is handed over only after its
// PUBACK or PUBCOMP has been written.
type Message struct {
	Topic   string
	Payload []byte
	QoS     uint8
	Retain  bool
	Dup     bool

	Properties *packet.PublishProperties

	ack func()
}

// Ack sends the PUBACK of a QoS 1 message received with ManualAckEnabled
// set. It is a no-op for every other message (QoS 0, QoS 2, or one the
// runtime already acknowledged) and for repeated calls.
func (m *Message) Ack() {
	if m.ack != nil {
		m.ack()
		m.ack = nil
	}
}

// MessageHandler receives PUBLISH packets the broker forwards to this
// client's subscriptions. Each message is handed over on its own
// goroutine, so handlers may run concurrently and no delivery order is
// guaranteed.
type MessageHandler func(*Message)

// ConnectEvent describes one completed CONNECT/CONNACK exchange.
type ConnectEvent struct {
	SessionPresent bool
	ReasonCode     packet.ReasonCode
}

// DisconnectEvent describes why the connection ended, whether initiated
// locally (Disconnect) or by the broker/network.
type DisconnectEvent struct {
	ReasonCode packet.ReasonCode
	Err        error
}
