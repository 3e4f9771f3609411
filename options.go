package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-io/requests"
	"github.com/mqttrt/mqtt5/packet"
)

// Options holds everything a Client needs to establish and maintain one
// MQTT 5.0 session. A zero Options is never used directly; New always
// runs it through newOptions first to fill in defaults.
type Options struct {
	URL      string
	ClientID string
	Version  byte

	UserName string
	Password string

	KeepAlive             time.Duration
	CleanStart            bool
	SessionExpiryInterval uint32

	ClientReceiveMaximum    uint16
	ClientMaximumPacketSize uint32
	ClientTopicAliasMaximum uint16

	RequestResponseInformation bool
	RequestProblemInformation  bool

	// ManualAckEnabled defers the PUBACK of incoming QoS 1 PUBLISH
	// packets until the application calls the message's Ack method.
	// Incoming QoS 2 PUBLISH packets are not affected: they are still
	// answered with PUBREC automatically and delivered after PUBCOMP.
	ManualAckEnabled bool

	Subscriptions []packet.Subscription
	UserProperties map[string][]string

	LastWillAndTestament *WillMessage

	ClientCertificates             []tls.Certificate
	RootCAs                        *x509.CertPool
	AllowInvalidBrokerCertificates bool
	PreferIPv6                     bool

	WebSocketRequestHeaders  http.Header
	WebSocketKeepAliveInterval time.Duration
	WebSocketProxy           func(*http.Request) (*url.URL, error)

	// Proxy, if set, is an HTTP proxy the plain or TLS TCP transport
	// tunnels through via an HTTP CONNECT handshake (§4.B) before the
	// MQTT/TLS bytes ever flow. Unlike WebSocketProxy, which gorilla's
	// websocket.Dialer already knows how to use directly, this has no
	// built-in equivalent for a raw TCP dial and is implemented by
	// transport_tcp.go's connectTunnel.
	Proxy func(*http.Request) (*url.URL, error)

	ConnectRetryDelay time.Duration
	ConnectTimeout    time.Duration
}

// WillMessage is the Last Will and Testament the broker publishes on the
// client's behalf if the network connection is lost without a clean
// DISCONNECT (3.1.2.5-3.1.3.3).
type WillMessage struct {
	Topic   string
	Payload []byte
	QoS     uint8
	Retain  bool

	WillDelayInterval      uint32
	MessageExpiryInterval  uint32
	ContentType            string
	ResponseTopic          string
	CorrelationData        []byte
	UserProperty           map[string][]string
}

type Option func(*Options)

func newOptions(opts ...Option) Options {
	options := Options{
		URL:                     "mqtt://127.0.0.1:1883",
		ClientID:                "mqtt-" + requests.GenId(),
		Version:                 packet.VERSION500,
		KeepAlive:               30 * time.Second,
		CleanStart:              true,
		ClientReceiveMaximum:    65535,
		ConnectRetryDelay:       3 * time.Second,
		ConnectTimeout:          10 * time.Second,
		WebSocketKeepAliveInterval: 30 * time.Second,
	}
	for _, o := range opts {
		o(&options)
	}
	return options
}

func URL(url string) Option {
	return func(o *Options) { o.URL = url }
}

func ClientID(id string) Option {
	return func(o *Options) { o.ClientID = id }
}

func Credentials(username, password string) Option {
	return func(o *Options) {
		o.UserName = username
		o.Password = password
	}
}

func KeepAlive(d time.Duration) Option {
	return func(o *Options) { o.KeepAlive = d }
}

// CleanStart controls the Clean Start connect flag (3.1.2.4). When false,
// the broker is asked to resume any existing session for this ClientID.
func CleanStart(clean bool) Option {
	return func(o *Options) { o.CleanStart = clean }
}

func SessionExpiryInterval(seconds uint32) Option {
	return func(o *Options) { o.SessionExpiryInterval = seconds }
}

func ManualAck(enabled bool) Option {
	return func(o *Options) { o.ManualAckEnabled = enabled }
}

func Subscription(subscription ...packet.Subscription) Option {
	return func(o *Options) {
		o.Subscriptions = append(o.Subscriptions, subscription...)
	}
}

func UserProperty(key, value string) Option {
	return func(o *Options) {
		if o.UserProperties == nil {
			o.UserProperties = make(map[string][]string)
		}
		o.UserProperties[key] = append(o.UserProperties[key], value)
	}
}

func LastWill(will *WillMessage) Option {
	return func(o *Options) { o.LastWillAndTestament = will }
}

func TLSCertificates(certs ...tls.Certificate) Option {
	return func(o *Options) { o.ClientCertificates = append(o.ClientCertificates, certs...) }
}

func AllowInvalidBrokerCertificates(allow bool) Option {
	return func(o *Options) { o.AllowInvalidBrokerCertificates = allow }
}

func PreferIPv6(prefer bool) Option {
	return func(o *Options) { o.PreferIPv6 = prefer }
}

func WebSocketRequestHeader(header http.Header) Option {
	return func(o *Options) { o.WebSocketRequestHeaders = header }
}

func WebSocketProxy(proxy func(*http.Request) (*url.URL, error)) Option {
	return func(o *Options) { o.WebSocketProxy = proxy }
}

// Proxy configures an HTTP proxy for the plain/TLS TCP transport, tunneled
// through with a CONNECT request. A nil proxy (the default) dials the
// broker directly.
func Proxy(proxy func(*http.Request) (*url.URL, error)) Option {
	return func(o *Options) { o.Proxy = proxy }
}

func ConnectRetryDelay(d time.Duration) Option {
	return func(o *Options) { o.ConnectRetryDelay = d }
}

// Version accepts either a raw protocol version byte or one of the
// strings "5.0.0"/"3.1.1". Only 5.0.0 sessions are actually supported by
// the runtime; 3.1.1 is accepted here only to keep the option symmetric
// with packet.VERSION311's existence, and is rejected later by New.
func Version[T ~string | ~byte](version T) Option {
	return func(o *Options) {
		switch v := any(version).(type) {
		case byte:
			o.Version = v
		case string:
			switch v {
			case "5.0.0":
				o.Version = packet.VERSION500
			case "3.1.1":
				o.Version = packet.VERSION311
			default:
				panic(fmt.Errorf("version = %s not support", v))
			}
		}
	}
}
