package mqtt

import "errors"

// Errors returned by the connection runtime. These are distinct from the
// wire-level packet.ReasonCode errors in the packet package: they describe
// failures of the client's own state machine rather than malformed bytes
// on the network.
var (
	// ErrClientClosed is returned by any operation attempted after Close
	// has been called.
	ErrClientClosed = errors.New("mqtt: client closed")

	// ErrNotConnected is returned by Publish and Unsubscribe unless the
	// client is connected, and by Subscribe while the client is
	// disconnected (Subscribe is accepted while still connecting).
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrConnectTimeout names a CONNACK that does not arrive in time. No
	// function in this package returns it: Options.ConnectTimeout bounds
	// only the dial (Client.Timeout), not the wait for CONNACK.
	ErrConnectTimeout = errors.New("mqtt: timed out waiting for CONNACK")

	// ErrConnectRefused wraps a non-success CONNACK reason code.
	ErrConnectRefused = errors.New("mqtt: broker refused connection")

	// ErrSubscribeRefused wraps a SUBACK payload whose every reason
	// code denotes failure.
	ErrSubscribeRefused = errors.New("mqtt: broker refused every subscription")

	// ErrKeepAliveTimeout is returned when a PINGREQ is outstanding and
	// no packet has been received from the broker for more than 1.5x
	// the negotiated keep-alive interval (MQTT5 3.1.2.10).
	ErrKeepAliveTimeout = errors.New("mqtt: keep-alive timeout, no packet from broker")

	// ErrPacketIDsExhausted is returned by Publish/Subscribe/
	// Unsubscribe when all 65535 packet identifiers are already in
	// flight.
	ErrPacketIDsExhausted = errors.New("mqtt: no packet identifiers available")

	// ErrUnexpectedPacket is returned by Publish, Subscribe and
	// Unsubscribe when the acknowledgement delivered for their packet
	// identifier is not of the type they wait for. Packet types that
	// handleInbound does not handle are ignored, not reported.
	ErrUnexpectedPacket = errors.New("mqtt: received unexpected packet type")

	// ErrDuplicateTransactionID is returned by boundedMap.Add when the
	// broker reuses a packet identifier for a non-DUP PUBLISH while the
	// previous exchange under that identifier is still open. This is a
	// protocol violation (2.2.1), not a retryable condition.
	ErrDuplicateTransactionID = errors.New("mqtt: packet identifier already has an open transaction")
)
