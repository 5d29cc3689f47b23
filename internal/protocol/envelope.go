// Package protocol defines the envelopes the chat server sends to its clients,
// along with the name rules and text commands both sides agree on.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind is the value of the "type" field of an envelope.
type Kind string

// Envelope kinds.
const (
	KindAck     Kind = "ack"
	KindSystem  Kind = "system"
	KindUsers   Kind = "users"
	KindMessage Kind = "message"
)

// AckJoin is the only acknowledgment the server sends.
const AckJoin = "join"

var (
	// ErrMalformed is returned when a frame is not a JSON object.
	ErrMalformed = errors.New("malformed envelope")
	// ErrUnknownType is returned for a missing or unrecognized "type".
	ErrUnknownType = errors.New("unknown envelope type")
)

// User is a roster entry and the author of a chat message.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Event is one of Ack, System, Users or Message.
type Event interface {
	Kind() Kind
}

// Ack confirms to a single client the identity it was given.
type Ack struct {
	Of   string `json:"of"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// System is a join, leave or rename notice.
type System struct {
	Text string `json:"text"`
	TS   int64  `json:"ts"`
}

// Users is the full roster.
type Users struct {
	Users []User `json:"users"`
}

// Message is a chat line relayed by the server.
type Message struct {
	From User   `json:"from"`
	Text string `json:"text"`
	TS   int64  `json:"ts"`
}

func (Ack) Kind() Kind     { return KindAck }
func (System) Kind() Kind  { return KindSystem }
func (Users) Kind() Kind   { return KindUsers }
func (Message) Kind() Kind { return KindMessage }

// Now returns the current time in the envelope timestamp unit (Unix ms).
func Now() int64 {
	return time.Now().UnixMilli()
}

// Encode serializes ev as a flat JSON object carrying its "type".
func Encode(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case Ack:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Ack
		}{KindAck, e})
	case System:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			System
		}{KindSystem, e})
	case Users:
		if e.Users == nil {
			e.Users = []User{}
		}
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Users
		}{KindUsers, e})
	case Message:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Message
		}{KindMessage, e})
	default:
		return nil, fmt.Errorf("encode %T: %w", ev, ErrUnknownType)
	}
}

// header holds the discriminator and the optional nested payload.
type header struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode parses a server frame. Fields may sit at the top level or under a
// "payload" object; top-level values win when both are present.
func Decode(data []byte) (Event, error) {
	var h header
	err := json.Unmarshal(data, &h)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var ev Event
	switch h.Type {
	case KindAck:
		var ack Ack
		err = decodeInto(data, h.Payload, &ack)
		ev = ack
	case KindSystem:
		var sys System
		err = decodeInto(data, h.Payload, &sys)
		ev = sys
	case KindUsers:
		var users Users
		err = decodeInto(data, h.Payload, &users)
		if users.Users == nil {
			users.Users = []User{}
		}
		ev = users
	case KindMessage:
		var msg Message
		err = decodeInto(data, h.Payload, &msg)
		ev = msg
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrUnknownType)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, h.Type)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// decodeInto fills v from the nested payload first and then from the flat
// object, so flat fields override nested ones.
func decodeInto(flat, payload json.RawMessage, v any) error {
	if isObject(payload) {
		if err := json.Unmarshal(payload, v); err != nil {
			return fmt.Errorf("%w: payload: %v", ErrMalformed, err)
		}
	}
	if err := json.Unmarshal(flat, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
