// Package client implements the chat room client: a single logical
// connection that reconnects with backoff, the roster and identity the server
// reports, and the feed of notices and messages shown to the user.
package client

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

// Client owns at most one socket at a time and replaces it after every drop.
// All methods are non-blocking and safe for concurrent use.
type Client struct {
	cfg       Config
	dialer    *websocket.Dialer
	store     NameStore
	feed      *Feed
	updates   chan Update
	afterFunc func(time.Duration, func()) Timer

	mu         sync.Mutex
	status     Status
	phase      Phase
	conn       *websocket.Conn
	dialing    bool
	cancelDial context.CancelFunc
	backoff    Backoff
	timer      Timer
	timerSeq   uint64
	name       string
	self       protocol.User
	roster     []protocol.User
	torndown   bool

	writeMu sync.Mutex
}

// New constructs a client. A nil store disables name persistence.
func New(cfg Config, store NameStore) *Client {
	if store == nil {
		store = discardNameStore{}
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = 64
	}
	if cfg.Origin == "" {
		cfg.Origin = originFor(cfg.URL)
	}

	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		store:     store,
		feed:      NewFeed(),
		updates:   make(chan Update, cfg.UpdateBuffer),
		afterFunc: cfg.afterFunc(),
		status:    StatusIdle,
		roster:    []protocol.User{},
	}
}

// Updates delivers change notifications until Close is called.
func (c *Client) Updates() <-chan Update {
	return c.updates
}

// DefaultName returns the name saved by a previous run, if any.
func (c *Client) DefaultName() string {
	name, err := c.store.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Could not load saved name")
		return ""
	}
	return name
}

// Join picks the display name to request (a random one when blank),
// remembers it and connects.
func (c *Client) Join(requested string) string {
	name := strings.TrimSpace(requested)
	if name == "" {
		name = protocol.RandomName()
	}
	c.persistName(name)
	c.Connect(name)
	return name
}

// Connect opens the socket asking for name. It does nothing while a socket
// is open or a dial is in flight, or after Close.
func (c *Client) Connect(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectLocked(name)
}

func (c *Client) connectLocked(name string) {
	if c.torndown || c.conn != nil || c.dialing {
		return
	}

	target, err := targetURL(c.cfg.URL, name)
	if err != nil {
		log.Error().Err(err).Str("url", c.cfg.URL).Msg("Invalid server URL")
		return
	}

	c.name = name
	if c.status != StatusOpen {
		c.setStatusLocked(StatusConnecting)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.dialing = true
	c.cancelDial = cancel
	go c.dial(ctx, cancel, target)
}

func (c *Client) dial(ctx context.Context, cancel context.CancelFunc, target string) {
	defer cancel()

	header := http.Header{}
	if c.cfg.Origin != "" {
		header.Set("Origin", c.cfg.Origin)
	}
	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c.mu.Lock()
	if c.torndown {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	c.dialing = false
	c.cancelDial = nil

	if err != nil {
		log.Debug().Err(err).Msg("Dial failed")
		c.setStatusLocked(StatusClosed)
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}

	c.conn = conn
	c.backoff.Reset()
	c.setStatusLocked(StatusOpen)
	c.mu.Unlock()

	log.Info().Str("name", c.Name()).Msg("Connected")
	go c.readLoop(conn)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		ev, err := protocol.Decode(data)
		if err != nil {
			log.Debug().Err(err).Msg("Dropping envelope")
			continue
		}
		c.apply(conn, ev)
	}
}

// handleClose routes every kind of drop into the reconnect path.
func (c *Client) handleClose(conn *websocket.Conn, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn {
		return
	}
	c.conn = nil
	_ = conn.Close()

	if c.torndown {
		return
	}
	log.Info().Err(err).Msg("Connection closed")
	c.setStatusLocked(StatusClosed)
	c.scheduleReconnectLocked()
}

// scheduleReconnectLocked replaces any pending timer with a new one that
// reconnects using the last known name.
func (c *Client) scheduleReconnectLocked() {
	delay := c.backoff.Next()
	c.setStatusLocked(StatusReconnecting)

	if c.timer != nil {
		c.timer.Stop()
	}
	c.timerSeq++
	seq := c.timerSeq
	c.timer = c.afterFunc(delay, func() { c.fireReconnect(seq) })

	log.Info().Dur("delay", delay).Int("attempt", c.backoff.Attempts()).Msg("Reconnect scheduled")
}

func (c *Client) fireReconnect(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.torndown || seq != c.timerSeq {
		return
	}
	c.timer = nil
	c.connectLocked(c.name)
}

func (c *Client) apply(conn *websocket.Conn, ev protocol.Event) {
	var persist string

	c.mu.Lock()
	if c.conn != conn || c.torndown {
		c.mu.Unlock()
		return
	}

	switch e := ev.(type) {
	case protocol.Ack:
		if e.Of != protocol.AckJoin {
			break
		}
		if e.ID != "" {
			c.self.ID = e.ID
		}
		if e.Name != "" {
			c.name = e.Name
		}
		c.self.Name = c.name
		c.phase = PhaseChat
		persist = c.name
		c.notifyLocked(Update{Kind: UpdateJoined, Status: c.status})
	case protocol.Users:
		c.roster = append([]protocol.User{}, e.Users...)
		c.notifyLocked(Update{Kind: UpdateRoster, Status: c.status})
	case protocol.System:
		c.feed.AppendSystem(e.Text, e.TS)
		c.notifyLocked(Update{Kind: UpdateFeed, Status: c.status})
	case protocol.Message:
		from := e.From
		if from.ID == "" && from.Name == "" {
			from = protocol.User{ID: "?", Name: "?"}
		}
		c.feed.AppendMessage(from, e.Text, e.TS)
		c.notifyLocked(Update{Kind: UpdateFeed, Status: c.status})
	}
	c.mu.Unlock()

	if persist != "" {
		c.persistName(persist)
	}
}

// Send transmits trimmed text as a raw text frame. It returns false without
// sending anything unless the socket is open and the text is non-empty.
func (c *Client) Send(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	c.mu.Lock()
	conn := c.conn
	open := c.status == StatusOpen
	c.mu.Unlock()
	if !open || conn == nil {
		return false
	}

	c.writeMu.Lock()
	err := c.writeLocked(conn, websocket.TextMessage, []byte(text))
	c.writeMu.Unlock()
	if err != nil {
		// The read loop sees the closed socket and schedules the reconnect.
		log.Warn().Err(err).Msg("Send failed")
		_ = conn.Close()
		return false
	}
	return true
}

func (c *Client) writeLocked(conn *websocket.Conn, messageType int, data []byte) error {
	if c.cfg.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
			return err
		}
	}
	return conn.WriteMessage(messageType, data)
}

// Close tears the client down: the pending reconnect is cancelled, an
// in-flight dial is aborted and the socket is closed. Updates is closed too.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.torndown {
		c.mu.Unlock()
		return nil
	}
	c.setStatusLocked(StatusClosed)
	c.torndown = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerSeq++
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	c.dialing = false
	conn := c.conn
	c.conn = nil
	close(c.updates)
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = c.writeLocked(conn, websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client close"))
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *Client) setStatusLocked(s Status) {
	if c.status == s {
		return
	}
	c.status = s
	c.notifyLocked(Update{Kind: UpdateStatus, Status: s})
}

// notifyLocked never blocks; consumers re-read state through the getters.
func (c *Client) notifyLocked(u Update) {
	if c.torndown {
		return
	}
	select {
	case c.updates <- u:
	default:
	}
}

func (c *Client) persistName(name string) {
	if err := c.store.Save(name); err != nil {
		log.Warn().Err(err).Msg("Could not save name")
	}
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Phase returns PhaseChat once the server acknowledged the join.
func (c *Client) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Self returns the id and name the server assigned.
func (c *Client) Self() protocol.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Name returns the name used for the next (re)connect.
func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Roster returns a copy of the last roster received.
func (c *Client) Roster() []protocol.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.User{}, c.roster...)
}

// Feed returns the feed model.
func (c *Client) Feed() *Feed {
	return c.feed
}

// Attempts returns the reconnect attempt counter.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backoff.Attempts()
}
