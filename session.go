package mqtt

import (
	"sync"

	"github.com/mqttrt/mqtt5/packet"
)

// session caches the broker-negotiated CONNACK properties for the life of
// one network connection, and tracks which topic filters the client
// currently believes it is subscribed to. One session lives for the
// whole Client; teardown resets it at the end of every connection, so
// apart from the broker-assigned client identifier nothing here survives
// a reconnect, whatever SessionPresent said.
type session struct {
	mu sync.RWMutex

	clientID       string
	sessionPresent bool

	serverReceiveMaximum    uint16
	serverMaximumQoS        uint8
	serverRetainAvailable   bool
	serverMaximumPacketSize uint32
	serverTopicAliasMaximum uint16
	serverKeepAlive         uint16
	assignedClientID        string
	wildcardSubAvailable    bool
	subIDsAvailable         bool
	sharedSubAvailable      bool

	subscriptions map[string]packet.Subscription
}

func newSession() *session {
	return &session{
		// 65535 is the MQTT5 default Receive Maximum (3.1.2.11.3): absent
		// from CONNACK, the broker is assumed willing to have that many
		// of our QoS>=1 PUBLISH exchanges outstanding at once.
		serverReceiveMaximum:  65535,
		serverMaximumQoS:      2,
		serverRetainAvailable: true,
		wildcardSubAvailable:  true,
		subIDsAvailable:       true,
		sharedSubAvailable:    true,
		subscriptions:         make(map[string]packet.Subscription),
	}
}

// applyConnAck records what the broker told us in its CONNACK, following
// the "unset means default applies" rule of 3.2.2.3: an absent property
// keeps whatever default session already had instead of zeroing it out.
func (s *session) applyConnAck(ack *packet.CONNACK) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionPresent = ack.SessionPresent == 1
	if ack.Props == nil {
		return
	}
	p := ack.Props
	if p.ReceiveMaximum != 0 {
		s.serverReceiveMaximum = p.ReceiveMaximum
	}
	if p.MaximumQoS != 0 {
		s.serverMaximumQoS = p.MaximumQoS
	}
	if p.RetainAvailable == 0 {
		s.serverRetainAvailable = false
	}
	if p.MaximumPacketSize != 0 {
		s.serverMaximumPacketSize = p.MaximumPacketSize
	}
	if p.TopicAliasMaximum != 0 {
		s.serverTopicAliasMaximum = p.TopicAliasMaximum
	}
	if p.ServerKeepAlive != 0 {
		s.serverKeepAlive = p.ServerKeepAlive
	}
	if p.AssignedClientID != "" {
		s.assignedClientID = p.AssignedClientID
		s.clientID = p.AssignedClientID
	}
}

func (s *session) maximumQoS() uint8 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverMaximumQoS
}

// receiveMaximum returns the broker's advertised Receive Maximum, the
// capacity the outgoing transaction map (§4.D) must be resized to on
// every CONNACK.
func (s *session) receiveMaximum() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverReceiveMaximum
}

// maximumPacketSize returns the broker's advertised Maximum Packet Size,
// or 0 if it never sent one (meaning no limit beyond protocol maximums).
func (s *session) maximumPacketSize() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverMaximumPacketSize
}

// reset restores the CONNACK-negotiated limits and flags to their
// defaults and forgets the tracked subscriptions. teardown (§4.L) calls
// it whenever a connection ends; the broker-assigned client identifier
// is kept.
func (s *session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionPresent = false
	s.serverReceiveMaximum = 65535
	s.serverMaximumQoS = 2
	s.serverRetainAvailable = true
	s.serverMaximumPacketSize = 0
	s.serverTopicAliasMaximum = 0
	s.serverKeepAlive = 0
	s.wildcardSubAvailable = true
	s.subIDsAvailable = true
	s.sharedSubAvailable = true
	s.subscriptions = make(map[string]packet.Subscription)
}

func (s *session) keepAliveOverride() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverKeepAlive
}

func (s *session) resolvedClientID(requested string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.assignedClientID != "" {
		return s.assignedClientID
	}
	return requested
}

func (s *session) trackSubscriptions(subs []packet.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range subs {
		s.subscriptions[sub.TopicFilter] = sub
	}
}

func (s *session) untrackSubscriptions(filters []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range filters {
		delete(s.subscriptions, f)
	}
}
