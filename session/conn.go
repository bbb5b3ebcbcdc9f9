package session

import (
	"chat-relay/contract"
	"chat-relay/domain"
)

// State is the lifecycle position of a connection.
//
//	Connected --authenticate ok--> Authenticated --transport close--> Closed
//	Connected --authenticate ko--> Closed (forced disconnect)
type State int

const (
	StateConnected State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is the typed per-connection record: identity, state, and joined
// rooms live here, owned exclusively by the Router, never as a loose bag
// of data on the socket. The transport only ever sees the connection id.
type Conn struct {
	ID       string
	sink     contract.EventSink
	closer   func()
	state    State
	identity *domain.Identity
	rooms    map[domain.RoomID]struct{}
}

// UserID returns the authenticated user id, empty until authenticated.
func (c *Conn) UserID() string {
	if c.identity == nil {
		return ""
	}
	return c.identity.UserID
}

// terminate closes the underlying transport. Safe to call more than once;
// the closer is supplied by the transport at connect time.
func (c *Conn) terminate() {
	if c.closer != nil {
		c.closer()
	}
}
