package mqtt

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"
)

// serveOneConnectTunnel accepts a single connection on ln, expects an HTTP
// CONNECT request, replies 200, then splices bytes between it and target
// until either side closes. It mimics just enough of a forward HTTP proxy
// to exercise dialThroughProxy/connectTunnel without a real proxy binary.
func serveOneConnectTunnel(t *testing.T, ln net.Listener, target string) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	br := bufio.NewReader(conn)
	req, err := http.ReadRequest(br)
	if err != nil {
		t.Errorf("proxy: reading CONNECT request failed: %v", err)
		return
	}
	if req.Method != http.MethodConnect {
		t.Errorf("proxy: method = %s, want CONNECT", req.Method)
	}
	if req.Host != target {
		t.Errorf("proxy: CONNECT host = %s, want %s", req.Host, target)
	}

	io.WriteString(conn, "HTTP/1.1 200 Connection Established\r\n\r\n")

	upstream, err := net.Dial("tcp", target)
	if err != nil {
		t.Errorf("proxy: dialing target %s failed: %v", target, err)
		return
	}
	defer upstream.Close()

	done := make(chan struct{}, 2)
	go func() { io.Copy(upstream, conn); done <- struct{}{} }()
	go func() { io.Copy(conn, upstream); done <- struct{}{} }()
	<-done
}

// TestDialThroughProxyTunnelsToTarget is the regression test for
// maintainer review comment 7: the TCP transport must be able to tunnel
// through an HTTP proxy via CONNECT rather than always dialing direct.
func TestDialThroughProxyTunnelsToTarget(t *testing.T) {
	targetLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening for the fake broker failed: %v", err)
	}
	defer targetLn.Close()
	targetAddr := targetLn.Addr().String()

	go func() {
		conn, err := targetLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		io.ReadFull(conn, buf)
		conn.Write([]byte("ack"))
	}()

	proxyLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening for the fake proxy failed: %v", err)
	}
	defer proxyLn.Close()
	go serveOneConnectTunnel(t, proxyLn, targetAddr)

	c := New()
	c.options.Proxy = func(*http.Request) (*url.URL, error) {
		return &url.URL{Scheme: "http", Host: proxyLn.Addr().String()}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := c.dialTimeout(ctx, "tcp", targetAddr)
	if err != nil {
		t.Fatalf("dialTimeout through proxy failed: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("hello")); err != nil {
		t.Fatalf("writing through the tunnel failed: %v", err)
	}
	reply := make([]byte, 3)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := io.ReadFull(conn, reply); err != nil {
		t.Fatalf("reading the broker's reply through the tunnel failed: %v", err)
	}
	if string(reply) != "ack" {
		t.Errorf("reply = %q, want %q", reply, "ack")
	}
}

// TestDialThroughProxyNilURLDialsDirect covers the Proxy hook returning a
// nil URL, meaning "use this address directly, no proxy" (mirrors
// http.ProxyFromEnvironment's own no-proxy-for-this-host convention).
func TestDialThroughProxyNilURLDialsDirect(t *testing.T) {
	targetLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening for the fake broker failed: %v", err)
	}
	defer targetLn.Close()
	targetAddr := targetLn.Addr().String()

	accepted := make(chan struct{}, 1)
	go func() {
		conn, err := targetLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		accepted <- struct{}{}
	}()

	c := New()
	c.options.Proxy = func(*http.Request) (*url.URL, error) { return nil, nil }

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := c.dialTimeout(ctx, "tcp", targetAddr)
	if err != nil {
		t.Fatalf("dialTimeout with a nil proxy URL failed: %v", err)
	}
	defer conn.Close()

	select {
	case <-accepted:
	case <-time.After(time.Second):
		t.Fatal("expected a direct connection to the target when Proxy returns a nil URL")
	}
}
