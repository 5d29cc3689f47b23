package client

import (
	"strconv"
	"sync"

	nanoid "github.com/jaevor/go-nanoid"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

// ItemKind distinguishes system notices from user messages.
type ItemKind string

const (
	ItemSystem ItemKind = "system"
	ItemUser   ItemKind = "user"
)

// Item is one line of the feed. From is only set for user messages.
type Item struct {
	Kind ItemKind
	ID   string
	From protocol.User
	Text string
	TS   int64
}

var itemSuffix = func() func() string {
	gen, err := nanoid.CustomASCII("0123456789abcdefghijklmnopqrstuvwxyz", 10)
	if err != nil {
		panic(err)
	}
	return gen
}()

// Feed is the append-only log of what the user has seen, in arrival order.
// Items are never reordered or deduplicated.
type Feed struct {
	mu    sync.RWMutex
	items []Item
}

// NewFeed returns an empty feed.
func NewFeed() *Feed {
	return &Feed{}
}

// AppendSystem records a system notice. A zero ts means "now".
func (f *Feed) AppendSystem(text string, ts int64) Item {
	ts = receiptTime(ts)
	return f.append(Item{
		Kind: ItemSystem,
		ID:   itemID("sys", ts),
		Text: text,
		TS:   ts,
	})
}

// AppendMessage records a chat line from another participant or from us.
func (f *Feed) AppendMessage(from protocol.User, text string, ts int64) Item {
	ts = receiptTime(ts)
	return f.append(Item{
		Kind: ItemUser,
		ID:   itemID("m", ts),
		From: from,
		Text: text,
		TS:   ts,
	})
}

func (f *Feed) append(item Item) Item {
	f.mu.Lock()
	f.items = append(f.items, item)
	f.mu.Unlock()
	return item
}

// Items returns a copy of the feed.
func (f *Feed) Items() []Item {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Item(nil), f.items...)
}

// Len returns the number of items.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.items)
}

func receiptTime(ts int64) int64 {
	if ts > 0 {
		return ts
	}
	return protocol.Now()
}

// itemID joins a kind prefix, the timestamp and a random suffix so ids stay
// unique when bursts share a millisecond.
func itemID(prefix string, ts int64) string {
	return prefix + "-" + strconv.FormatInt(ts, 10) + "-" + itemSuffix()
}
