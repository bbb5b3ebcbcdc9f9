package session

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"sync"
)

type Set map[string]struct{}

// Registry resolves broadcast rooms to connection sinks. It performs a
// two-step lookup: room -> connection ids, then connection id -> sink, so
// a connection present in many rooms keeps its sink managed in one place.
type Registry struct {
	mu          sync.RWMutex
	sinks       map[string]contract.EventSink // connection id -> sink
	roomMembers map[domain.RoomID]Set         // room -> connection ids
}

func NewRegistry() *Registry {
	return &Registry{
		sinks:       make(map[string]contract.EventSink),
		roomMembers: make(map[domain.RoomID]Set),
	}
}

// Register binds a connection's sink. Done once at transport connect.
func (r *Registry) Register(connID string, sink contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[connID] = sink
}

// Join adds a connection to a room, creating the room on the fly.
func (r *Registry) Join(connID string, room domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.roomMembers[room]
	if !ok {
		members = make(Set)
		r.roomMembers[room] = members
	}
	members[connID] = struct{}{}
}

// Leave removes a connection from a room. Empty rooms are deleted so churn
// leaves no residue in the map.
func (r *Registry) Leave(connID string, room domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID, room)
}

func (r *Registry) leaveLocked(connID string, room domain.RoomID) {
	members, ok := r.roomMembers[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.roomMembers, room)
	}
}

// Drop removes a connection from every room and forgets its sink.
// Called exactly once when the transport closes.
func (r *Registry) Drop(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sinks, connID)
	for room := range r.roomMembers {
		r.leaveLocked(connID, room)
	}
}

// SinksForRoom retrieves the active sinks of a room, excluding at most one
// connection (the sender, for broadcasts that must not echo). Returns nil
// if the room doesn't exist or has no members left.
func (r *Registry) SinksForRoom(room domain.RoomID, except string) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.roomMembers[room]
	if !ok {
		return nil
	}
	var sinks []contract.EventSink
	for connID := range members {
		if connID == except {
			continue
		}
		if sink, exists := r.sinks[connID]; exists {
			sinks = append(sinks, sink)
		}
	}
	return sinks
}
