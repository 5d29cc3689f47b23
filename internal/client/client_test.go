package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/testhelpers"
)

const eventually = 2 * time.Second
const tick = 10 * time.Millisecond

type memoryNameStore struct {
	mu   sync.Mutex
	name string
}

func (m *memoryNameStore) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name, nil
}

func (m *memoryNameStore) Save(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
	return nil
}

type fakeTimer struct {
	mu      sync.Mutex
	stopped bool
}

func (f *fakeTimer) Stop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return true
}

func (f *fakeTimer) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// scheduler records requested reconnect delays. It fires the first fire
// callbacks immediately and holds the rest.
type scheduler struct {
	mu     sync.Mutex
	fire   int
	delays []time.Duration
	timers []*fakeTimer
}

func (s *scheduler) afterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	timer := &fakeTimer{}
	s.timers = append(s.timers, timer)
	if len(s.delays) <= s.fire {
		go f()
	}
	return timer
}

func (s *scheduler) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func (s *scheduler) lastTimer() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return nil
	}
	return s.timers[len(s.timers)-1]
}

func testConfig(url string, sched *scheduler) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.NameFile = ""
	if sched != nil {
		cfg.AfterFunc = sched.afterFunc
	}
	return cfg
}

func startChatServer(t *testing.T) (string, *server.Hub) {
	t.Helper()
	hub := server.NewHub(server.Config{AllowedOrigins: []string{"*"}})
	go hub.Run()
	t.Cleanup(func() { _ = hub.Shutdown(2 * time.Second) })
	srv := testhelpers.CreateTestServer(t, server.SetupRoutes(hub))
	return testhelpers.WebSocketURL(srv.URL), hub
}

// closedURL returns the address of a server that is no longer listening.
func closedURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	u := testhelpers.WebSocketURL(srv.URL)
	srv.Close()
	return u
}

func feedTexts(c *Client) []string {
	var texts []string
	for _, item := range c.Feed().Items() {
		texts = append(texts, item.Text)
	}
	return texts
}

func TestClientSendBeforeOpenIsNoop(t *testing.T) {
	c := New(testConfig("ws://127.0.0.1:1", nil), nil)
	defer c.Close()

	assert.Equal(t, StatusIdle, c.Status())
	assert.False(t, c.Send("hello"))
	assert.Equal(t, 0, c.Feed().Len())
}

// TestClientJoinAndChat joins a live server, checks the acknowledged identity
// is stored, and sees its own message come back through the feed.
func TestClientJoinAndChat(t *testing.T) {
	wsURL, _ := startChatServer(t)
	store := &memoryNameStore{}
	c := New(testConfig(wsURL, nil), store)
	defer c.Close()

	assert.Equal(t, "Alice", c.Join("  Alice "))

	require.Eventually(t, func() bool { return c.Phase() == PhaseChat }, eventually, tick)
	assert.Equal(t, StatusOpen, c.Status())
	assert.Equal(t, "Alice", c.Self().Name)
	assert.NotEmpty(t, c.Self().ID)
	saved, _ := store.Load()
	assert.Equal(t, "Alice", saved)

	require.Eventually(t, func() bool { return len(c.Roster()) == 1 }, eventually, tick)
	require.Eventually(t, func() bool { return c.Feed().Len() == 1 }, eventually, tick)
	assert.Equal(t, []string{"Alice has joined"}, feedTexts(c))

	assert.False(t, c.Send("   "))
	assert.True(t, c.Send("  hello  "))
	require.Eventually(t, func() bool { return c.Feed().Len() == 2 }, eventually, tick)

	item := c.Feed().Items()[1]
	assert.Equal(t, ItemUser, item.Kind)
	assert.Equal(t, "hello", item.Text)
	assert.Equal(t, c.Self(), item.From)

	assert.True(t, c.Send("/name Ally"))
	require.Eventually(t, func() bool {
		r := c.Roster()
		return len(r) == 1 && r[0].Name == "Ally"
	}, eventually, tick)
}

func TestClientJoinWithBlankNameGeneratesOne(t *testing.T) {
	wsURL, _ := startChatServer(t)
	c := New(testConfig(wsURL, nil), nil)
	defer c.Close()

	name := c.Join("   ")
	assert.Regexp(t, `^(Leo|Oscar|Josie|Max)-[0-9A-Z]{4}$`, name)
	require.Eventually(t, func() bool { return c.Phase() == PhaseChat }, eventually, tick)
	assert.Equal(t, name, c.Self().Name)
}

func TestClientConnectTwiceOpensOneSocket(t *testing.T) {
	wsURL, hub := startChatServer(t)
	c := New(testConfig(wsURL, nil), nil)
	defer c.Close()

	c.Connect("Alice")
	c.Connect("Alice")
	require.Eventually(t, func() bool { return c.Status() == StatusOpen }, eventually, tick)
	c.Connect("Alice")

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, eventually, tick)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, hub.ClientCount())
}

// TestClientReconnectDelays dials an address nobody listens on and checks the
// backoff schedule of consecutive failures.
func TestClientReconnectDelays(t *testing.T) {
	sched := &scheduler{fire: 6}
	c := New(testConfig(closedURL(t), sched), nil)
	defer c.Close()

	c.Connect("Alice")

	require.Eventually(t, func() bool { return len(sched.recorded()) == 7 }, eventually, tick)
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}, sched.recorded())
	assert.Equal(t, StatusReconnecting, c.Status())
	assert.Equal(t, 6, c.Attempts())
	assert.False(t, c.Send("hello"))
}

func TestClientCloseCancelsPendingReconnect(t *testing.T) {
	sched := &scheduler{}
	c := New(testConfig(closedURL(t), sched), nil)

	c.Connect("Alice")
	require.Eventually(t, func() bool { return sched.lastTimer() != nil }, eventually, tick)

	require.NoError(t, c.Close())
	assert.True(t, sched.lastTimer().isStopped())
	assert.Equal(t, StatusClosed, c.Status())

	c.Connect("Alice")
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sched.recorded(), 1)

	for range c.Updates() {
	}
}

// flakyServer acknowledges each connection with a server-chosen name, sends
// scripted frames and then, for the first connection only, hangs up.
type flakyServer struct {
	mu     sync.Mutex
	names  []string
	frames []string
}

func (f *flakyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	f.mu.Lock()
	f.names = append(f.names, r.URL.Query().Get("name"))
	n := len(f.names)
	f.mu.Unlock()

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ack","of":"join","id":"7","name":"Alice2"}`))
	for _, frame := range f.frames {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
	}
	if n == 1 {
		_ = conn.Close()
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *flakyServer) requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.names...)
}

// TestClientReconnectsWithAcknowledgedName checks that a drop after a
// successful open reconnects after the first backoff step using the name the
// server assigned.
func TestClientReconnectsWithAcknowledgedName(t *testing.T) {
	fake := &flakyServer{}
	srv := testhelpers.CreateTestServer(t, fake)
	sched := &scheduler{fire: 1}
	c := New(testConfig(testhelpers.WebSocketURL(srv.URL), sched), nil)
	defer c.Close()

	c.Connect("Alice")

	require.Eventually(t, func() bool { return len(fake.requested()) == 2 }, eventually, tick)
	assert.Equal(t, []string{"Alice", "Alice2"}, fake.requested())
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, sched.recorded())
	require.Eventually(t, func() bool { return c.Status() == StatusOpen }, eventually, tick)
	assert.Equal(t, protocol.User{ID: "7", Name: "Alice2"}, c.Self())
}

// TestClientToleratesEnvelopeShapes feeds nested payloads, missing senders
// and junk frames.
func TestClientToleratesEnvelopeShapes(t *testing.T) {
	fake := &flakyServer{frames: []string{
		`not json`,
		`{"type":"mystery"}`,
		`{"type":"message","payload":{"from":{"id":"9","name":"Bob"},"text":"nested","ts":5}}`,
		`{"type":"message","text":"anonymous","ts":6}`,
		`{"type":"system","payload":{"text":"Bob has joined"}}`,
		`{"type":"users","payload":{"users":[{"id":"9","name":"Bob"}]}}`,
	}}
	srv := testhelpers.CreateTestServer(t, fake)
	c := New(testConfig(testhelpers.WebSocketURL(srv.URL), &scheduler{}), nil)
	defer c.Close()

	c.Connect("Alice")

	require.Eventually(t, func() bool { return len(c.Roster()) == 1 }, eventually, tick)
	items := c.Feed().Items()
	require.Len(t, items, 3)
	assert.Equal(t, protocol.User{ID: "9", Name: "Bob"}, items[0].From)
	assert.Equal(t, "nested", items[0].Text)
	assert.Equal(t, int64(5), items[0].TS)
	assert.Equal(t, protocol.User{ID: "?", Name: "?"}, items[1].From)
	assert.Equal(t, ItemSystem, items[2].Kind)
	assert.Positive(t, items[2].TS)
	assert.True(t, strings.HasPrefix(items[2].ID, "sys-"))
}
