package mqtt

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	client := New(URL("mqtt://localhost:1883"))
	if client == nil {
		t.Fatal("New() should return a non-nil client")
	}
	if client.URL == nil {
		t.Fatal("client.URL should not be nil")
	}
	if client.URL.Host != "localhost:1883" {
		t.Errorf("expected host localhost:1883, got %s", client.URL.Host)
	}
}

func TestClientID(t *testing.T) {
	client := New()
	// ClientID is generated automatically in newOptions when not given.
	if client.options.ClientID == "" {
		t.Error("ClientID should not be empty")
	}
	if client.ID() != client.options.ClientID {
		t.Errorf("ID() should return the requested ClientID before any CONNACK, got %s", client.ID())
	}
}

func TestClientIDUsesAssignedID(t *testing.T) {
	client := New(ClientID("wanted"))
	client.sess.assignedClientID = "broker-assigned"
	if id := client.ID(); id != "broker-assigned" {
		t.Errorf("ID() should prefer the broker-assigned client ID, got %s", id)
	}
}

func TestClientClose(t *testing.T) {
	client := New()
	if err := client.Close(); err != nil {
		t.Errorf("Close() should not return error, got %v", err)
	}
	select {
	case <-client.closed:
	default:
		t.Error("Close() should close the closed channel")
	}
	// Close must be idempotent.
	if err := client.Close(); err != nil {
		t.Errorf("second Close() should not return error, got %v", err)
	}
}

func TestClientDial(t *testing.T) {
	client := New()

	conn, err := client.dial(context.Background(), "tcp", "127.0.0.1:1")
	if conn != nil {
		conn.Close()
	}
	if err == nil {
		t.Error("expected an error dialing a port nothing listens on")
	}
}

func TestClientWithCustomDialer(t *testing.T) {
	dialCalled := false
	client := New()
	client.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialCalled = true
		return nil, nil
	}

	_, err := client.dial(context.Background(), "tcp", "localhost:1883")
	if !dialCalled {
		t.Error("custom dialer should be called")
	}
	if err != nil {
		t.Errorf("dial should return the custom dialer's (nil, nil) unchanged, got err=%v", err)
	}
}

func TestClientOnMessage(t *testing.T) {
	client := New()
	var received *Message

	client.OnMessage(func(msg *Message) {
		received = msg
	})
	if client.onMessage == nil {
		t.Fatal("OnMessage should set the message handler")
	}

	client.onMessage(&Message{Topic: "test/topic", Payload: []byte("hello")})
	if received == nil || received.Topic != "test/topic" {
		t.Error("message handler should be called with the delivered message")
	}
}

func TestClientHandleRoutesByFilter(t *testing.T) {
	client := New()
	var got *Message
	client.Handle("a/+/c", func(msg *Message) {
		got = msg
	})

	msg := &Message{Topic: "a/b/c", Payload: []byte("x")}
	n := client.router.Dispatch(msg.Topic, msg)
	if n != 1 || got == nil {
		t.Fatalf("expected one matching handler to fire, got n=%d", n)
	}

	client.RemoveHandle("a/+/c")
	got = nil
	n = client.router.Dispatch("a/b/c", &Message{Topic: "a/b/c"})
	if n != 0 || got != nil {
		t.Error("handler should not fire after RemoveHandle")
	}
}

func TestClientWithTimeout(t *testing.T) {
	timeout := 30 * time.Second
	client := New()
	client.Timeout = timeout

	if client.Timeout != timeout {
		t.Errorf("expected timeout %v, got %v", timeout, client.Timeout)
	}
}

func TestClientWithTLSConfig(t *testing.T) {
	client := New()

	if client.TLSClientConfig != nil {
		t.Error("TLSClientConfig should be nil when not configured")
	}
}

func TestClientCurrentConn(t *testing.T) {
	client := New()
	if client.currentConn() != nil {
		t.Error("currentConn should be nil before any dial")
	}

	server, clientSide := net.Pipe()
	defer server.Close()
	client.setConn(clientSide)
	if client.currentConn() != clientSide {
		t.Error("currentConn should return the connection set by setConn")
	}
}
