// Package session owns the authenticated-connection state machine and the
// conversation-room fan-out. One logical handler execution per inbound
// event; shared structures (presence, rate windows, broadcast registry)
// carry their own synchronization.
package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/ratelimit"

	"github.com/google/uuid"
)

// Router dispatches inbound connection events through the rate limiter,
// the authorization and persistence collaborators, and the presence
// registry, then fans results out to rooms and/or the originating
// connection. It owns every Conn for the connection's lifetime.
type Router struct {
	log        *slog.Logger
	verifier   contract.ICredentialVerifier
	membership contract.IMembership
	store      contract.IMessageStore
	presence   contract.IPresence
	limiter    *ratelimit.Limiter
	registry   *Registry

	mu        sync.Mutex
	conns     map[string]*Conn
	observers []contract.EventSink
}

func NewRouter(
	log *slog.Logger,
	verifier contract.ICredentialVerifier,
	membership contract.IMembership,
	store contract.IMessageStore,
	presence contract.IPresence,
	limiter *ratelimit.Limiter,
) *Router {
	return &Router{
		log:        log,
		verifier:   verifier,
		membership: membership,
		store:      store,
		presence:   presence,
		limiter:    limiter,
		registry:   NewRegistry(),
		conns:      make(map[string]*Conn),
	}
}

// AddObserver registers a permanent sink receiving a copy of every
// broadcast event (indexing, telemetry). Observers are process-wide and
// never removed; register them before serving traffic.
func (r *Router) AddObserver(sinks ...contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, sinks...)
}

// Connect registers a freshly opened transport connection and returns its
// id. The connection starts in the Connected state: nothing but an
// authenticate event will be dispatched for it. closer force-terminates
// the underlying transport when authentication fails.
func (r *Router) Connect(sink contract.EventSink, closer func()) string {
	conn := &Conn{
		ID:     uuid.NewString(),
		sink:   sink,
		closer: closer,
		state:  StateConnected,
		rooms:  make(map[domain.RoomID]struct{}),
	}

	r.mu.Lock()
	r.conns[conn.ID] = conn
	r.mu.Unlock()

	r.registry.Register(conn.ID, sink)
	r.log.Debug("connection opened", "conn_id", conn.ID)
	return conn.ID
}

// Disconnect releases everything a connection holds. Invoked on transport
// close, and internally after a failed authentication. If this was the
// user's last open connection, every room the user was in gets an offline
// plus left notification.
func (r *Router) Disconnect(ctx context.Context, connID string) {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	if !ok || conn.state == StateClosed {
		r.mu.Unlock()
		return
	}
	identity := conn.identity
	conn.state = StateClosed
	delete(r.conns, connID)
	r.mu.Unlock()

	r.registry.Drop(connID)

	if identity == nil {
		r.log.Debug("connection closed before authentication", "conn_id", connID)
		return
	}

	remaining := r.presence.RemoveConnection(identity.UserID, connID)
	r.log.Debug("connection closed",
		"conn_id", connID, "user_id", identity.UserID, "sockets_left", remaining)
	if remaining > 0 {
		return
	}

	// Last socket gone: clear every trace and notify the rooms.
	_, rooms := r.presence.ClearUser(identity.UserID)
	for _, room := range rooms {
		r.broadcast(ctx, room, "", event.PresenceOffline{UserID: identity.UserID})
		if conversationID, isConv := room.ConversationID(); isConv {
			r.broadcast(ctx, room, "", event.UserLeft{
				ConversationID: conversationID,
				UserID:         identity.UserID,
			})
		}
	}
}

// HandleEvent runs the state machine for one inbound event. Failures are
// reported as scoped events to the originating connection and never
// terminate it, with one exception: a failed authenticate closes the
// connection. Panics are contained at this boundary.
func (r *Router) HandleEvent(ctx context.Context, connID string, cmd domain.Command) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("handler panic contained",
				"conn_id", connID, "event", cmd.Kind(), "panic", rec)
			if conn := r.conn(connID); conn != nil {
				r.scoped(ctx, conn, event.Error{
					Code:    errors.CodeInternal,
					Message: fmt.Sprintf("internal error handling %s", cmd.Kind()),
				})
			}
		}
	}()

	conn := r.conn(connID)
	if conn == nil {
		return
	}

	switch conn.state {
	case StateClosed:
		return
	case StateConnected:
		auth, ok := cmd.(domain.AuthenticateCommand)
		if !ok {
			// Not yet authorized to do anything: dropped without feedback,
			// the one case where a rejected operation yields no response.
			r.log.Debug("event before authentication ignored",
				"conn_id", connID, "event", cmd.Kind())
			return
		}
		r.handleAuthenticate(ctx, conn, auth)
	case StateAuthenticated:
		switch c := cmd.(type) {
		case domain.AuthenticateCommand:
			r.handleAuthenticate(ctx, conn, c)
		case domain.JoinConversationCommand:
			r.handleJoin(ctx, conn, c)
		case domain.LeaveConversationCommand:
			r.handleLeave(ctx, conn, c)
		case domain.TypingCommand:
			r.handleTyping(ctx, conn, c)
		case domain.NewMessageCommand:
			r.handleNewMessage(ctx, conn, c)
		case domain.MarkReadCommand:
			r.handleMarkRead(ctx, conn, c)
		default:
			r.scoped(ctx, conn, event.Error{
				Code:    errors.CodeValidation,
				Message: errors.ErrValidation.Error(),
			})
		}
	}
}

// handleAuthenticate verifies the bearer token and binds the identity.
// A second attempt on an already-authenticated connection re-validates
// independently; on failure the connection is terminated either way.
func (r *Router) handleAuthenticate(ctx context.Context, conn *Conn, cmd domain.AuthenticateCommand) {
	identity, err := r.verifier.VerifyAccessToken(cmd.Token)
	if err != nil {
		message := errors.ErrInvalidToken.Error()
		if stderrors.Is(err, errors.ErrServerMisconfigured) {
			message = errors.ErrServerMisconfigured.Error()
			r.log.Error("authentication impossible: no signing secret configured")
		} else {
			r.log.Warn("authentication failed", "conn_id", conn.ID, "error", err)
		}
		r.scoped(ctx, conn, event.Unauthorized{Code: errors.CodeOf(err), Error: message})
		r.Disconnect(ctx, conn.ID)
		conn.terminate()
		return
	}

	r.mu.Lock()
	if conn.identity == nil {
		conn.identity = &identity
		conn.state = StateAuthenticated
		conn.rooms[domain.UserRoom(identity.UserID)] = struct{}{}
	}
	// Identity is immutable once bound: a repeated valid authenticate
	// re-acknowledges the existing binding.
	bound := *conn.identity
	r.mu.Unlock()

	r.registry.Join(conn.ID, domain.UserRoom(bound.UserID))
	count := r.presence.AddConnection(bound.UserID, conn.ID)
	r.log.Debug("connection authenticated",
		"conn_id", conn.ID, "user_id", bound.UserID, "online_sockets", count)
	r.scoped(ctx, conn, event.Authenticated{Status: "ok", UserID: bound.UserID})
}

func (r *Router) handleJoin(ctx context.Context, conn *Conn, cmd domain.JoinConversationCommand) {
	userID := conn.UserID()

	ok, err := r.membership.IsParticipant(ctx, userID, cmd.ConversationID)
	if err != nil {
		r.scoped(ctx, conn, event.Error{Code: errors.CodeOf(err), Message: err.Error()})
		return
	}
	if !ok {
		r.scoped(ctx, conn, event.Error{
			Code:    errors.CodeForbidden,
			Message: errors.ErrNotAParticipant.Error(),
		})
		return
	}

	room := domain.ConversationRoom(cmd.ConversationID)
	r.mu.Lock()
	conn.rooms[room] = struct{}{}
	r.mu.Unlock()
	r.registry.Join(conn.ID, room)
	_, first := r.presence.JoinRoom(userID, room)

	r.scoped(ctx, conn, event.ConversationJoined{ConversationID: cmd.ConversationID})

	// First joined connection for that room announces the user; further
	// devices of the same user stay silent.
	if first {
		r.broadcast(ctx, room, conn.ID, event.UserJoined{
			ConversationID: cmd.ConversationID,
			UserID:         userID,
		})
		r.broadcast(ctx, room, conn.ID, event.PresenceOnline{UserID: userID})
	}
}

// handleLeave needs no authorization: leaving is always permitted.
func (r *Router) handleLeave(ctx context.Context, conn *Conn, cmd domain.LeaveConversationCommand) {
	userID := conn.UserID()
	room := domain.ConversationRoom(cmd.ConversationID)

	r.mu.Lock()
	delete(conn.rooms, room)
	r.mu.Unlock()
	r.registry.Leave(conn.ID, room)
	r.presence.LeaveRoom(userID, room)

	r.scoped(ctx, conn, event.ConversationLeft{ConversationID: cmd.ConversationID})
	r.broadcast(ctx, room, conn.ID, event.UserLeft{
		ConversationID: cmd.ConversationID,
		UserID:         userID,
	})
}

func (r *Router) handleTyping(ctx context.Context, conn *Conn, cmd domain.TypingCommand) {
	userID := conn.UserID()

	decision := r.limiter.Allow(userID, domain.KindTyping)
	if !decision.Allowed {
		r.scoped(ctx, conn, event.RateLimit{
			Event:        domain.KindTyping,
			RetryAfterMs: decision.RetryAfter.Milliseconds(),
		})
		return
	}

	// Every other connection in the room, never the sender.
	r.broadcast(ctx, domain.ConversationRoom(cmd.ConversationID), conn.ID, event.Typing{
		ConversationID: cmd.ConversationID,
		UserID:         userID,
		IsTyping:       cmd.IsTyping,
	})
}

// handleNewMessage: rate check strictly precedes persistence, and the
// persisted message (the authorization boundary, matching the REST path)
// is broadcast to the full room including the sender only once durable.
func (r *Router) handleNewMessage(ctx context.Context, conn *Conn, cmd domain.NewMessageCommand) {
	userID := conn.UserID()

	decision := r.limiter.Allow(userID, domain.KindMessageNew)
	if !decision.Allowed {
		r.scoped(ctx, conn, event.RateLimit{
			Event:        domain.KindMessageNew,
			RetryAfterMs: decision.RetryAfter.Milliseconds(),
		})
		return
	}

	message, err := r.store.CreateMessage(ctx,
		cmd.ConversationID, userID, cmd.ContentType, cmd.Content, cmd.MediaURL)
	if err != nil {
		r.log.Debug("message rejected",
			"conn_id", conn.ID, "conversation_id", cmd.ConversationID, "error", err)
		r.scoped(ctx, conn, event.Error{Code: errors.CodeOf(err), Message: err.Error()})
		return
	}

	r.broadcast(ctx, domain.ConversationRoom(cmd.ConversationID), "", event.MessageNew{Message: message})
}

// handleMarkRead is idempotent end to end: marking twice persists one read
// row and both calls broadcast the same consistent state.
func (r *Router) handleMarkRead(ctx context.Context, conn *Conn, cmd domain.MarkReadCommand) {
	userID := conn.UserID()

	message, _, err := r.store.MarkRead(ctx, cmd.MessageID, userID)
	if err != nil {
		r.scoped(ctx, conn, event.Error{Code: errors.CodeOf(err), Message: err.Error()})
		return
	}

	r.broadcast(ctx, domain.ConversationRoom(message.ConversationID), "", event.MessageRead{
		MessageID: cmd.MessageID,
		UserID:    userID,
	})
}

func (r *Router) conn(connID string) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[connID]
}

// scoped delivers an event to the originating connection only.
func (r *Router) scoped(ctx context.Context, conn *Conn, evt event.DomainEvent) {
	if err := conn.sink.Consume(ctx, evt); err != nil {
		r.log.Debug("scoped delivery failed",
			"conn_id", conn.ID, "event", evt.EventName(), "error", err)
	}
}

// broadcast fans an event out to a room, fire-and-forget: sinks buffer and
// a dead consumer never affects already-completed state changes. Permanent
// observers receive a copy of everything.
func (r *Router) broadcast(ctx context.Context, room domain.RoomID, except string, evt event.DomainEvent) {
	for _, sink := range r.registry.SinksForRoom(room, except) {
		if err := sink.Consume(ctx, evt); err != nil {
			r.log.Debug("broadcast delivery failed",
				"room", string(room), "event", evt.EventName(), "error", err)
		}
	}

	r.mu.Lock()
	observers := r.observers
	r.mu.Unlock()
	for _, sink := range observers {
		if err := sink.Consume(ctx, evt); err != nil {
			r.log.Debug("observer delivery failed",
				"event", evt.EventName(), "error", err)
		}
	}
}
