package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/mqttrt/mqtt5/packet"
	"golang.org/x/sync/errgroup"
)

func b2iBool(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

// A Client is an MQTT 5.0 client bound to one broker URL. It reconnects
// automatically whenever Run is used, renegotiating the session and
// resubscribing on every successful CONNECT. Publish, Subscribe and
// Unsubscribe block until the matching acknowledgement arrives or ctx is
// done, and are safe to call concurrently with each other and with a
// Run loop driving reconnects in the background.
type Client struct {
	// URL is the broker endpoint: scheme one of mqtt/mqtts/tcp/tls/ws/wss,
	// host:port, and an optional path used as the WebSocket upgrade path.
	URL *url.URL

	// DialContext, if set, overrides the built-in TCP dialer for the
	// mqtt/tcp schemes.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)

	// DialTLSContext, if set, overrides the built-in TLS dialer for the
	// mqtts/tls schemes. The returned net.Conn is assumed to already be
	// past the TLS handshake.
	DialTLSContext func(ctx context.Context, network, addr string) (net.Conn, error)

	// TLSClientConfig is used by the built-in TLS and WebSocket-over-TLS
	// dialers. If nil, a default configuration is used.
	TLSClientConfig *tls.Config

	// TLSHandshakeTimeout bounds the TLS handshake for mqtts/wss. Zero
	// means no timeout beyond ctx.
	TLSHandshakeTimeout time.Duration

	// Timeout bounds dialing the transport. Zero means no timeout
	// beyond ctx.
	Timeout time.Duration

	options Options
	version byte

	state *state

	mu  sync.RWMutex
	rwc net.Conn

	ids     *packetIDAllocator
	control *queue
	outbox  *queue

	// outPub tracks QoS>=1 PUBLISH this client has sent and is still
	// awaiting the final ack for; inPub tracks the same on the receiving
	// side. Both are the Bounded Transaction Map of §4.D, one instance
	// per direction per §3.
	outPub *boundedMap[uint16, *transaction]
	inPub  *boundedMap[uint16, *transaction]

	acks    *ackWaiters
	connack chan *packet.CONNACK
	sess    *session
	ka      *keepAlive
	router  *router

	onMessage    MessageHandler
	onConnect    func(ConnectEvent)
	onDisconnect func(DisconnectEvent)

	closeOnce sync.Once
	closed    chan struct{}
}

// state is kept separate from stateMachine's signal channels so Client
// itself stays a thin, mostly-exported struct; state carries the runtime
// bookkeeping stateMachine doesn't.
type state struct {
	sm *stateMachine
}

// New builds a Client from Options. It does not dial: call Run to start
// connecting. New panics if the URL does not parse or if Options.Version
// is anything other than MQTT 5.0.
func New(opts ...Option) *Client {
	options := newOptions(opts...)
	if options.Version != packet.VERSION500 {
		panic(fmt.Errorf("mqtt: unsupported protocol version %d", options.Version))
	}

	u, err := url.Parse(options.URL)
	if err != nil {
		panic(fmt.Errorf("mqtt: invalid URL %q: %w", options.URL, err))
	}

	c := &Client{
		URL:                 u,
		TLSHandshakeTimeout: 10 * time.Second,
		Timeout:             options.ConnectTimeout,
		options:             options,
		version:             options.Version,
		state:               &state{sm: newStateMachine()},
		ids:                 newPacketIDAllocator(),
		// 65535 is the MQTT5 default Receive Maximum (3.1.2.11.3),
		// used until the first CONNACK resizes outPub to whatever the
		// broker actually advertises.
		outPub:  newBoundedMap[uint16, *transaction](65535),
		inPub:   newBoundedMap[uint16, *transaction](int(options.ClientReceiveMaximum)),
		acks:    newAckWaiters(),
		connack: make(chan *packet.CONNACK, 1),
		sess:    newSession(),
		router:  newRouter(),
		closed:  make(chan struct{}),
	}
	log.Printf("[CLIENT_CREATED] MQTT client created - ClientID: %s, Server: %s", options.ClientID, options.URL)
	return c
}

// ID returns the client identifier currently in effect: the broker's
// assigned identifier if one was handed back in CONNACK, otherwise the
// identifier Options requested.
func (c *Client) ID() string {
	return c.sess.resolvedClientID(c.options.ClientID)
}

func (c *Client) OnMessage(fn MessageHandler)           { c.onMessage = fn }
func (c *Client) OnConnect(fn func(ConnectEvent))       { c.onConnect = fn }
func (c *Client) OnDisconnect(fn func(DisconnectEvent)) { c.onDisconnect = fn }

// Handle registers fn to receive every PUBLISH whose topic name matches
// filter. A message that any Handle filter matches is not passed to the
// OnMessage handler; OnMessage receives only unmatched messages. filter may
// use the + and # wildcards exactly as in Subscribe; Handle does not
// itself subscribe to anything, so callers pair it with Subscribe (or
// an Options.Subscription) to actually receive matching messages.
func (c *Client) Handle(filter string, fn MessageHandler) {
	c.router.Add(filter, fn)
}

// RemoveHandle undoes a prior Handle registration for filter.
func (c *Client) RemoveHandle(filter string) {
	c.router.Remove(filter)
}

func (c *Client) currentConn() net.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rwc
}

func (c *Client) setConn(rwc net.Conn) {
	c.mu.Lock()
	c.rwc = rwc
	c.mu.Unlock()
}

// Run connects and stays connected until ctx is done or Close is called,
// reconnecting with Options.ConnectRetryDelay between attempts. Each
// attempt renegotiates a fresh session: CONNECT, then every configured
// Subscription, per the Non-goal against persisting session state across
// reconnects.
func (c *Client) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return ErrClientClosed
		case <-timer.C:
		}

		metrics.ReconnectTotal.Inc()
		err := c.runOnce(ctx)
		timer.Reset(c.options.ConnectRetryDelay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return ErrClientClosed
		default:
		}

		if err != nil {
			failures++
			if failures == 1 || failures%10 == 0 {
				log.Printf("mqtt: connection attempt failed (count=%d): client_id=%s, error=%v", failures, c.ID(), err)
			}
		} else {
			failures = 0
		}
	}
}

// runOnce performs one dial-connect-serve-disconnect cycle and returns
// once the connection ends, by any cause: a network error, a broker
// DISCONNECT, a keep-alive timeout, or ctx cancellation.
func (c *Client) runOnce(ctx context.Context) error {
	c.state.sm.Set(Connecting)

	rwc, err := c.dial(ctx, c.URL.Scheme, c.URL.Host)
	if err != nil {
		c.state.sm.Set(Disconnected)
		return err
	}
	c.setConn(rwc)

	c.control = newQueue()
	c.outbox = newQueue()
	defer c.control.Close()
	defer c.outbox.Close()

	select {
	case <-c.connack:
	default:
	}

	var keepAliveSeconds uint16
	if c.options.KeepAlive > 0 {
		keepAliveSeconds = uint16(c.options.KeepAlive / time.Second)
	}
	c.ka = newKeepAlive(c.options.KeepAlive)

	group, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)
	defer cancel()

	td := newTeardown(c, rwc, cancel, c.fireDisconnect)

	group.Go(func() error {
		err := c.readLoop(gctx, rwc, c.dispatch)
		td.Close(packet.ReasonCode{Code: 0x00, Reason: "connection lost"}, false, err)
		return err
	})
	group.Go(func() error {
		err := c.writeControlLoop(gctx, rwc, c.control, c.ka)
		td.Close(packet.ReasonCode{Code: 0x00, Reason: "connection lost"}, false, err)
		return err
	})
	group.Go(func() error {
		err := c.writePublishLoop(gctx, rwc, c.outbox, c.state.sm.ConnectedSignal(), c.outPub, c.ka)
		td.Close(packet.ReasonCode{Code: 0x00, Reason: "connection lost"}, false, err)
		return err
	})
	group.Go(func() error {
		err := c.ka.Run(gctx.Done(), c.control, c.version)
		if err != nil {
			td.Close(packet.ReasonCode{Code: 0x8D, Reason: "keep alive timeout"}, false, err)
		}
		return err
	})
	group.Go(func() error {
		<-gctx.Done()
		c.sendDisconnect(packet.ReasonCode{Code: 0x00, Reason: "normal disconnection"})
		td.Close(packet.ReasonCode{Code: 0x00, Reason: "normal disconnection"}, true, gctx.Err())
		return nil
	})
	group.Go(func() error {
		if err := c.connect(gctx, keepAliveSeconds); err != nil {
			return err
		}
		c.state.sm.Set(Connected)
		metrics.Connected.Set(1)
		if c.onConnect != nil {
			c.onConnect(ConnectEvent{SessionPresent: c.sess.sessionPresent})
		}
		if len(c.options.Subscriptions) > 0 {
			if err := c.Subscribe(gctx, c.options.Subscriptions...); err != nil {
				return err
			}
		}
		<-gctx.Done()
		return gctx.Err()
	})

	err = group.Wait()
	c.state.sm.Set(Disconnected)
	metrics.Connected.Set(0)
	return err
}

func (c *Client) fireDisconnect(ev DisconnectEvent) {
	if c.onDisconnect != nil {
		c.onDisconnect(ev)
	}
}

func (c *Client) dispatch(ctx context.Context, pkt packet.Packet) error {
	metrics.PacketReceived.Inc()
	if err := c.handleInbound(ctx, pkt); err != nil {
		if bd, ok := err.(*brokerDisconnect); ok {
			return bd
		}
		return err
	}
	return nil
}

// connect sends CONNECT and waits for CONNACK, applying the server's
// answer to the session cache (3.1/3.2).
func (c *Client) connect(ctx context.Context, keepAliveSeconds uint16) error {
	flags := packet.ConnectFlags(0)
	if c.options.CleanStart {
		flags |= 0x02
	}
	will := c.options.LastWillAndTestament
	var willTopic string
	var willPayload []byte
	var willProps *packet.WillProperties
	if will != nil {
		willTopic = will.Topic
		willPayload = will.Payload
		flags |= packet.ConnectFlags(will.QoS&0x03) << 3
		if will.Retain {
			flags |= 0x20
		}
		willProps = &packet.WillProperties{
			WillDelayInterval:     will.WillDelayInterval,
			MessageExpiryInterval: will.MessageExpiryInterval,
			ContentType:           will.ContentType,
			ResponseTopic:         will.ResponseTopic,
			CorrelationData:       will.CorrelationData,
		}
	}

	connect := &packet.CONNECT{
		FixedHeader:  &packet.FixedHeader{Version: c.version, Kind: CONNECT},
		ConnectFlags: flags,
		KeepAlive:    keepAliveSeconds,
		ClientID:     c.options.ClientID,
		Username:     c.options.UserName,
		Password:     c.options.Password,
		WillTopic:    willTopic,
		WillPayload:  willPayload,
		Props: &packet.ConnectProperties{
			SessionExpiryInterval:      packet.SessionExpiryInterval(c.options.SessionExpiryInterval),
			ReceiveMaximum:             packet.ReceiveMaximum(c.options.ClientReceiveMaximum),
			MaximumPacketSize:          packet.MaximumPacketSize(c.options.ClientMaximumPacketSize),
			TopicAliasMaximum:          packet.TopicAliasMaximum(c.options.ClientTopicAliasMaximum),
			RequestResponseInformation: packet.RequestResponseInformation(b2iBool(c.options.RequestResponseInformation)),
			RequestProblemInformation:  packet.RequestProblemInformation(b2iBool(c.options.RequestProblemInformation)),
			UserProperty:               c.options.UserProperties,
		},
		WillProperties: willProps,
	}

	c.control.Put(connect, nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case ack, ok := <-c.connack:
		if !ok {
			return ErrClientClosed
		}
		if ack.ConnectReturnCode.Code != 0 {
			c.sess.applyConnAck(ack)
			return fmt.Errorf("%w: %s", ErrConnectRefused, ack.ConnectReturnCode.Error())
		}
		c.sess.applyConnAck(ack)
		return nil
	}
}

// Subscribe sends one SUBSCRIBE for subs and waits for the matching
// SUBACK. It returns ErrSubscribeRefused if every filter in the request
// came back with a failure reason code (8.3-5).
func (c *Client) Subscribe(ctx context.Context, subs ...packet.Subscription) error {
	if c.state.sm.Load() != Connected && c.state.sm.Load() != Connecting {
		return ErrNotConnected
	}
	id, ok := c.ids.Alloc()
	if !ok {
		return ErrPacketIDsExhausted
	}
	defer c.ids.Free(id)

	sub := &packet.SUBSCRIBE{
		FixedHeader:   &packet.FixedHeader{Version: c.version, Kind: SUBSCRIBE, QoS: 1},
		PacketID:      id,
		Subscriptions: subs,
	}
	waiter := c.acks.register(id)
	defer c.acks.forget(id)
	c.control.Put(sub, nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case pkt := <-waiter:
		suback, ok := pkt.(*packet.SUBACK)
		if !ok {
			return ErrUnexpectedPacket
		}
		c.sess.trackSubscriptions(subs)
		allFailed := len(suback.ReasonCode) > 0
		for _, reason := range suback.ReasonCode {
			if reason.Code < 0x80 {
				allFailed = false
			}
		}
		if allFailed {
			return ErrSubscribeRefused
		}
		return nil
	}
}

// Unsubscribe sends one UNSUBSCRIBE for filters and waits for UNSUBACK.
func (c *Client) Unsubscribe(ctx context.Context, filters ...string) error {
	if c.state.sm.Load() != Connected {
		return ErrNotConnected
	}
	id, ok := c.ids.Alloc()
	if !ok {
		return ErrPacketIDsExhausted
	}
	defer c.ids.Free(id)

	subs := make([]packet.Subscription, len(filters))
	for i, f := range filters {
		subs[i] = packet.Subscription{TopicFilter: f}
	}
	unsub := &packet.UNSUBSCRIBE{
		FixedHeader:   &packet.FixedHeader{Version: c.version, Kind: UNSUBSCRIBE, QoS: 1},
		PacketID:      id,
		Subscriptions: subs,
	}
	waiter := c.acks.register(id)
	defer c.acks.forget(id)
	c.control.Put(unsub, nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case pkt := <-waiter:
		if _, ok := pkt.(*packet.UNSUBACK); !ok {
			return ErrUnexpectedPacket
		}
		c.sess.untrackSubscriptions(filters)
		return nil
	}
}

// Publish sends one PUBLISH. For QoS 0 it returns as soon as the packet
// is queued for the writer; for QoS 1/2 it blocks until the final ack
// (PUBACK, or PUBCOMP after the PUBREC/PUBREL round trip) arrives.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos uint8, retain bool) error {
	if c.state.sm.Load() != Connected {
		return ErrNotConnected
	}
	pub := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBLISH, QoS: qos},
		Message:     &packet.Message{TopicName: topic, Content: payload},
	}
	if retain {
		pub.FixedHeader.Retain = 1
	}

	if qos == 0 {
		c.outbox.Put(pub, nil)
		return nil
	}

	id, ok := c.ids.Alloc()
	if !ok {
		return ErrPacketIDsExhausted
	}
	defer c.ids.Free(id)
	pub.PacketID = id

	waiter := c.acks.register(id)
	defer c.acks.forget(id)
	metrics.InFlightMessages.Inc()
	defer metrics.InFlightMessages.Dec()

	c.outbox.Put(pub, nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case ack := <-waiter:
		switch a := ack.(type) {
		case *packet.PUBACK:
			if a.ReasonCode.Code >= 0x80 {
				return a.ReasonCode
			}
			return nil
		case *packet.PUBCOMP:
			if a.ReasonCode.Code >= 0x80 {
				return a.ReasonCode
			}
			return nil
		case *packet.PUBREC:
			if a.ReasonCode.Code >= 0x80 {
				return a.ReasonCode
			}
			return nil
		default:
			return ErrUnexpectedPacket
		}
	}
}

// Disconnect enqueues a graceful DISCONNECT and closes the current
// connection. It does not stop Run: a running Run loop reconnects after
// the teardown unless its context is cancelled or Close is called.
func (c *Client) Disconnect(ctx context.Context) error {
	c.sendDisconnect(packet.ReasonCode{Code: 0x00, Reason: "normal disconnection"})
	rwc := c.currentConn()
	if rwc != nil {
		return rwc.Close()
	}
	return nil
}

// Close permanently stops the client: any in-progress Run loop returns
// ErrClientClosed and no further reconnects are attempted.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		if rwc := c.currentConn(); rwc != nil {
			rwc.Close()
		}
	})
	return nil
}
