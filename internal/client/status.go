package client

// Status is the connection state shown to the user.
type Status int

const (
	// StatusIdle means no connection has been attempted yet.
	StatusIdle Status = iota

	// StatusConnecting means a dial is in progress.
	StatusConnecting

	// StatusOpen means the socket is established.
	StatusOpen

	// StatusReconnecting means a reconnect timer is pending.
	StatusReconnecting

	// StatusClosed means the socket dropped or the client was torn down.
	StatusClosed
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Phase tracks whether the server has acknowledged our join.
type Phase int

const (
	// PhaseJoin lasts until the server acknowledges the join.
	PhaseJoin Phase = iota

	// PhaseChat means the client has an identity and can chat.
	PhaseChat
)

// String returns the string representation of a Phase.
func (p Phase) String() string {
	if p == PhaseChat {
		return "chat"
	}
	return "join"
}

// UpdateKind says which part of the client state changed.
type UpdateKind int

const (
	// UpdateStatus reports a connection status change.
	UpdateStatus UpdateKind = iota

	// UpdateJoined reports that the server acknowledged our identity.
	UpdateJoined

	// UpdateRoster reports a new roster.
	UpdateRoster

	// UpdateFeed reports new feed items.
	UpdateFeed
)

// Update is a change notification. Read the new state through the Client
// getters; updates may be dropped when the consumer falls behind.
type Update struct {
	Kind   UpdateKind
	Status Status
}
