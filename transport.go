package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
)

// dial opens the underlying byte stream for scheme/addr and returns it as
// a net.Conn, so the rest of the runtime (reader, writer, monitor) never
// has to know whether it is talking to a raw TCP socket, a TLS socket, or
// a WebSocket connection wrapped to look like one.
//
// User-supplied DialContext/DialTLSContext hooks take priority over the
// built-in dialers, mirroring how net/http.Transport lets callers
// override connection establishment without reimplementing the rest of
// the client.
func (c *Client) dial(ctx context.Context, scheme, addr string) (net.Conn, error) {
	if c.DialContext != nil && (scheme == "tcp" || scheme == "mqtt") {
		con, err := c.DialContext(ctx, "tcp", addr)
		if con == nil && err == nil {
			err = errors.New("mqtt: DialContext hook returned (nil, nil)")
		}
		return con, err
	}
	if c.DialTLSContext != nil && (scheme == "tls" || scheme == "mqtts") {
		con, err := c.DialTLSContext(ctx, "tcp", addr)
		if con == nil && err == nil {
			err = errors.New("mqtt: DialTLSContext hook returned (nil, nil)")
		}
		return con, err
	}

	switch scheme {
	case "mqtt", "tcp":
		return c.dialTimeout(ctx, "tcp", addr)
	case "mqtts", "tls", "ssl":
		return c.dialTLS(ctx, addr)
	case "ws":
		return c.dialWS(ctx, "ws", addr, nil)
	case "wss":
		return c.dialWS(ctx, "wss", addr, c.TLSClientConfig)
	default:
		return c.dialTimeout(ctx, "tcp", addr)
	}
}

// dialWS upgrades a WebSocket connection and wraps it in wsConn so the
// rest of the runtime can treat it as a plain net.Conn carrying MQTT's
// binary frames, one wire packet per WebSocket message per RFC 6455 and
// the MQTT5 WebSocket transport appendix.
func (c *Client) dialWS(ctx context.Context, scheme, addr string, tlsCfg *tls.Config) (net.Conn, error) {
	path := c.URL.Path
	if path == "" {
		path = "/mqtt"
	}
	loc := url.URL{Scheme: scheme, Host: addr, Path: path, RawQuery: c.URL.RawQuery}

	dialer := &websocket.Dialer{
		Subprotocols:     []string{"mqtt"},
		HandshakeTimeout: c.Timeout,
		TLSClientConfig:  tlsCfg,
		Proxy:            http.ProxyFromEnvironment,
	}
	if c.options.WebSocketProxy != nil {
		dialer.Proxy = c.options.WebSocketProxy
	}

	header := http.Header{}
	for k, v := range c.options.WebSocketRequestHeaders {
		for _, vv := range v {
			header.Add(k, vv)
		}
	}

	ws, _, err := dialer.DialContext(ctx, loc.String(), header)
	if err != nil {
		return nil, err
	}
	return &wsConn{Conn: ws}, nil
}
