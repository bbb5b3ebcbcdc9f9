// Package presence tracks which users are online and which conversation
// rooms they joined. Scoped to a single process; a distributed backplane
// (e.g. Redis) would replace this behind the same interface.
package presence

import (
	"chat-relay/domain"
	"sync"

	"github.com/samber/lo"
)

type Set map[string]struct{}

// Registry maps a user id to its open connection ids and joined rooms.
// A user is online iff its connection set is non-empty. Read far more often
// than written during broadcast decisions, hence the RWMutex and plain maps
// with O(1) membership and size queries.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]Set                 // user -> connection ids
	rooms       map[string]map[domain.RoomID]struct{} // user -> joined rooms
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]Set),
		rooms:       make(map[string]map[domain.RoomID]struct{}),
	}
}

// AddConnection registers an open connection for a user and returns the
// online socket count. Adding the same connection id twice is a no-op.
func (r *Registry) AddConnection(userID, connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.connections[userID]
	if !ok {
		set = make(Set)
		r.connections[userID] = set
	}
	set[connID] = struct{}{}
	return len(set)
}

// RemoveConnection unregisters a connection and returns the remaining
// socket count. Removing an unknown connection is a no-op.
func (r *Registry) RemoveConnection(userID, connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.connections[userID]
	if !ok {
		return 0
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.connections, userID)
		return 0
	}
	return len(set)
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections[userID]) > 0
}

func (r *Registry) OnlineUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Keys(r.connections)
}

// JoinRoom records that a user joined a room. It returns the number of
// rooms the user is now in, and whether this join added a room the user
// was not yet tracked in. Duplicate joins never double-count; the first
// flag is what gates the "user joined" room broadcast, so a second device
// joining the same room does not re-announce.
func (r *Registry) JoinRoom(userID string, room domain.RoomID) (joined int, first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.rooms[userID]
	if !ok {
		set = make(map[domain.RoomID]struct{})
		r.rooms[userID] = set
	}
	_, already := set[room]
	set[room] = struct{}{}
	return len(set), !already
}

// LeaveRoom drops a room from the user's joined set and returns the
// remaining room count. Leaving is always permitted and idempotent.
func (r *Registry) LeaveRoom(userID string, room domain.RoomID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.rooms[userID]
	if !ok {
		return 0
	}
	delete(set, room)
	if len(set) == 0 {
		delete(r.rooms, userID)
		return 0
	}
	return len(set)
}

func (r *Registry) RoomsOf(userID string) []domain.RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.rooms[userID]
	if len(set) == 0 {
		return nil
	}
	return lo.Keys(set)
}

// ClearUser erases every trace of a user and returns what was removed:
// the connection count and the full list of rooms the user was in, so the
// caller can broadcast offline/left notifications to each of them.
// Invoked when a user's last connection closes; churn leaves no residue.
func (r *Registry) ClearUser(userID string) (connectionsCleared int, rooms []domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	connectionsCleared = len(r.connections[userID])
	rooms = lo.Keys(r.rooms[userID])
	delete(r.connections, userID)
	delete(r.rooms, userID)
	return connectionsCleared, rooms
}
