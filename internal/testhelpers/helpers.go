// Package testhelpers provides utilities shared by the server and client
// tests: test servers, plain HTTP requests and WebSocket peers that speak the
// chat envelope protocol.
package testhelpers

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

// TestOrigin is the Origin header sent by ConnectWebSocket.
const TestOrigin = "http://localhost:3000"

// DefaultReadTimeout bounds every ReadEvent call.
const DefaultReadTimeout = 2 * time.Second

// CreateTestServer starts an httptest server and closes it when the test ends.
func CreateTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

// WebSocketURL turns an http:// test server URL into its ws:// form.
func WebSocketURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

// AssertStatusCode checks the HTTP response status.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	require.Equal(t, expected, resp.StatusCode, "unexpected status code")
}

// AssertContentType checks the Content-Type header of the response.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	require.Equal(t, expected, resp.Header.Get("Content-Type"))
}

// MakeRequest performs a request with a 5 second timeout.
func MakeRequest(t *testing.T, method, target string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(method, target, http.NoBody)
	require.NoError(t, err, "create request")

	resp, err := client.Do(req)
	require.NoError(t, err, "perform request")
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// DialWebSocket connects to wsURL asking for name. An empty name leaves the
// query parameter out. It returns the raw handshake error so rejection tests
// can inspect the response.
func DialWebSocket(wsURL, name, origin string) (*websocket.Conn, *http.Response, error) {
	target, err := url.Parse(wsURL)
	if err != nil {
		return nil, nil, err
	}
	if name != "" {
		q := target.Query()
		q.Set("name", name)
		target.RawQuery = q.Encode()
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(target.String(), headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// ConnectWebSocket dials with TestOrigin and fails the test on error. The
// connection is closed when the test ends.
func ConnectWebSocket(t *testing.T, wsURL, name string) *websocket.Conn {
	t.Helper()
	conn, _, err := DialWebSocket(wsURL, name, TestOrigin)
	require.NoError(t, err, "dial %s", wsURL)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendText writes one raw text frame.
func SendText(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(text)))
}

// ReadEvent reads and decodes the next envelope.
func ReadEvent(t *testing.T, conn *websocket.Conn) protocol.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(DefaultReadTimeout)))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err, "read envelope")
	require.Equal(t, websocket.TextMessage, messageType)

	ev, err := protocol.Decode(data)
	require.NoError(t, err, "decode %s", data)
	return ev
}

// ReadSystem reads the next envelope and requires it to be a system notice.
func ReadSystem(t *testing.T, conn *websocket.Conn) protocol.System {
	t.Helper()
	ev := ReadEvent(t, conn)
	sys, ok := ev.(protocol.System)
	require.True(t, ok, "expected system event, got %#v", ev)
	return sys
}

// ReadUsers reads the next envelope and requires it to be a roster.
func ReadUsers(t *testing.T, conn *websocket.Conn) protocol.Users {
	t.Helper()
	ev := ReadEvent(t, conn)
	users, ok := ev.(protocol.Users)
	require.True(t, ok, "expected users event, got %#v", ev)
	return users
}

// ReadMessage reads the next envelope and requires it to be a chat message.
func ReadMessage(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	ev := ReadEvent(t, conn)
	msg, ok := ev.(protocol.Message)
	require.True(t, ok, "expected message event, got %#v", ev)
	return msg
}

// ReadAck reads the next envelope and requires it to be a join ack.
func ReadAck(t *testing.T, conn *websocket.Conn) protocol.Ack {
	t.Helper()
	ev := ReadEvent(t, conn)
	ack, ok := ev.(protocol.Ack)
	require.True(t, ok, "expected ack event, got %#v", ev)
	require.Equal(t, protocol.AckJoin, ack.Of)
	return ack
}

// ExpectNoMessage fails if anything arrives on conn within timeout. The
// connection must not be read from afterwards because gorilla treats a read
// timeout as permanent.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no message, got %s", data)
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("expected read timeout, got %v", err)
	}
}

// CloseWebSocket sends a normal close frame and closes the connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
