package session_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/mocks"
	"chat-relay/presence"
	"chat-relay/ratelimit"
	"chat-relay/session"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// captureSink records every delivered event, in order.
type captureSink struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (s *captureSink) Consume(_ context.Context, e event.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *captureSink) all() []event.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.DomainEvent(nil), s.events...)
}

func (s *captureSink) last() event.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil
	}
	return s.events[len(s.events)-1]
}

func (s *captureSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

type fixture struct {
	router     *session.Router
	verifier   *mocks.MockICredentialVerifier
	membership *mocks.MockIMembership
	store      *mocks.MockIMessageStore
	limiter    *ratelimit.Limiter
}

func newFixture(t *testing.T, window time.Duration, limit int) *fixture {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	verifier := mocks.NewMockICredentialVerifier(ctrl)
	membership := mocks.NewMockIMembership(ctrl)
	store := mocks.NewMockIMessageStore(ctrl)
	limiter := ratelimit.NewLimiter(window, limit)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	router := session.NewRouter(logger, verifier, membership, store,
		presence.NewRegistry(), limiter)
	return &fixture{
		router:     router,
		verifier:   verifier,
		membership: membership,
		store:      store,
		limiter:    limiter,
	}
}

// connect opens a transport connection with a recording sink and a
// termination flag.
func (f *fixture) connect() (string, *captureSink, *bool) {
	sink := &captureSink{}
	terminated := false
	connID := f.router.Connect(sink, func() { terminated = true })
	return connID, sink, &terminated
}

// authenticate runs a successful authenticate for the given user.
func (f *fixture) authenticate(ctx context.Context, connID, userID string) {
	f.verifier.EXPECT().
		VerifyAccessToken("token-"+userID).
		Return(domain.Identity{UserID: userID}, nil)
	f.router.HandleEvent(ctx, connID, domain.AuthenticateCommand{Token: "token-" + userID})
}

// join runs a successful conversation join for an authenticated conn.
func (f *fixture) join(ctx context.Context, connID, userID, conversationID string) {
	f.membership.EXPECT().
		IsParticipant(gomock.Any(), userID, conversationID).
		Return(true, nil)
	f.router.HandleEvent(ctx, connID, domain.JoinConversationCommand{ConversationID: conversationID})
}

func TestRouter_Authenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("should acknowledge a valid token and bind the identity", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, time.Minute, 100)
		connID, sink, terminated := f.connect()

		f.verifier.EXPECT().
			VerifyAccessToken("good-token").
			Return(domain.Identity{UserID: "alice"}, nil)

		f.router.HandleEvent(ctx, connID, domain.AuthenticateCommand{Token: "good-token"})

		req.Equal([]event.DomainEvent{
			event.Authenticated{Status: "ok", UserID: "alice"},
		}, sink.all())
		req.False(*terminated)
	})

	t.Run("should reject an invalid token and terminate the connection", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, time.Minute, 100)
		connID, sink, terminated := f.connect()

		f.verifier.EXPECT().
			VerifyAccessToken("bad-token").
			Return(domain.Identity{}, errors.ErrInvalidToken)

		f.router.HandleEvent(ctx, connID, domain.AuthenticateCommand{Token: "bad-token"})

		req.Equal([]event.DomainEvent{
			event.Unauthorized{Code: errors.CodeUnauthorized, Error: "invalid token"},
		}, sink.all())
		req.True(*terminated)

		// The connection is gone: nothing further is dispatched for it.
		f.router.HandleEvent(ctx, connID, domain.TypingCommand{ConversationID: "c1"})
		req.Len(sink.all(), 1)
	})

	t.Run("should report a missing signing secret as misconfiguration", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, time.Minute, 100)
		connID, sink, terminated := f.connect()

		f.verifier.EXPECT().
			VerifyAccessToken("any").
			Return(domain.Identity{}, errors.ErrServerMisconfigured)

		f.router.HandleEvent(ctx, connID, domain.AuthenticateCommand{Token: "any"})

		req.Equal([]event.DomainEvent{
			event.Unauthorized{Code: errors.CodeMisconfigured, Error: "server misconfigured"},
		}, sink.all())
		req.True(*terminated)
	})

	t.Run("should silently drop events before authentication", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, time.Minute, 100)
		connID, sink, terminated := f.connect()

		f.router.HandleEvent(ctx, connID, domain.TypingCommand{ConversationID: "c1"})
		f.router.HandleEvent(ctx, connID, domain.NewMessageCommand{ConversationID: "c1"})

		req.Empty(sink.all())
		req.False(*terminated)
	})

	t.Run("should keep the original identity on repeated authenticate", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, time.Minute, 100)
		connID, sink, _ := f.connect()
		f.authenticate(ctx, connID, "alice")

		f.verifier.EXPECT().
			VerifyAccessToken("token-bob").
			Return(domain.Identity{UserID: "bob"}, nil)
		f.router.HandleEvent(ctx, connID, domain.AuthenticateCommand{Token: "token-bob"})

		// Re-acknowledged as alice: identity is immutable once bound.
		req.Equal(event.Authenticated{Status: "ok", UserID: "alice"}, sink.last())
	})
}

func TestRouter_JoinLeave(t *testing.T) {
	ctx := context.Background()

	t.Run("should refuse a non-participant without closing the connection", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, time.Minute, 100)
		connID, sink, terminated := f.connect()
		f.authenticate(ctx, connID, "mallory")
		sink.reset()

		f.membership.EXPECT().
			IsParticipant(gomock.Any(), "mallory", "conv-1").
			Return(false, nil)

		f.router.HandleEvent(ctx, connID, domain.JoinConversationCommand{ConversationID: "conv-1"})

		req.Equal([]event.DomainEvent{
			event.Error{Code: errors.CodeForbidden, Message: "not a participant"},
		}, sink.all())
		req.False(*terminated)
	})

	t.Run("should announce the first join to the room but not to the joiner", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, time.Minute, 100)

		bobConn, bobSink, _ := f.connect()
		f.authenticate(ctx, bobConn, "bob")
		f.join(ctx, bobConn, "bob", "conv-1")
		bobSink.reset()

		aliceConn, aliceSink, _ := f.connect()
		f.authenticate(ctx, aliceConn, "alice")
		aliceSink.reset()
		f.join(ctx, aliceConn, "alice", "conv-1")

		req.Equal([]event.DomainEvent{
			event.ConversationJoined{ConversationID: "conv-1"},
		}, aliceSink.all())
		req.Equal([]event.DomainEvent{
			event.UserJoined{ConversationID: "conv-1", UserID: "alice"},
			event.PresenceOnline{UserID: "alice"},
		}, bobSink.all())
	})

	t.Run("should stay silent when a second device joins the same room", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, time.Minute, 100)

		bobConn, bobSink, _ := f.connect()
		f.authenticate(ctx, bobConn, "bob")
		f.join(ctx, bobConn, "bob", "conv-1")

		phone, phoneSink, _ := f.connect()
		f.authenticate(ctx, phone, "alice")
		f.join(ctx, phone, "alice", "conv-1")

		laptop, laptopSink, _ := f.connect()
		f.authenticate(ctx, laptop, "alice")
		bobSink.reset()
		phoneSink.reset()
		f.join(ctx, laptop, "alice", "conv-1")

		req.Equal(event.ConversationJoined{ConversationID: "conv-1"}, laptopSink.last())
		req.Empty(bobSink.all())
		req.Empty(phoneSink.all())
	})

	t.Run("should notify the room when a user leaves", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, time.Minute, 100)

		bobConn, bobSink, _ := f.connect()
		f.authenticate(ctx, bobConn, "bob")
		f.join(ctx, bobConn, "bob", "conv-1")

		aliceConn, aliceSink, _ := f.connect()
		f.authenticate(ctx, aliceConn, "alice")
		f.join(ctx, aliceConn, "alice", "conv-1")
		bobSink.reset()
		aliceSink.reset()

		f.router.HandleEvent(ctx, aliceConn, domain.LeaveConversationCommand{ConversationID: "conv-1"})

		req.Equal([]event.DomainEvent{
			event.ConversationLeft{ConversationID: "conv-1"},
		}, aliceSink.all())
		req.Equal([]event.DomainEvent{
			event.UserLeft{ConversationID: "conv-1", UserID: "alice"},
		}, bobSink.all())
	})
}

func TestRouter_Typing(t *testing.T) {
	ctx := context.Background()

	t.Run("should broadcast typing to everyone except the sender", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, time.Minute, 100)

		bobConn, bobSink, _ := f.connect()
		f.authenticate(ctx, bobConn, "bob")
		f.join(ctx, bobConn, "bob", "conv-1")

		aliceConn, aliceSink, _ := f.connect()
		f.authenticate(ctx, aliceConn, "alice")
		f.join(ctx, aliceConn, "alice", "conv-1")
		bobSink.reset()
		aliceSink.reset()

		f.router.HandleEvent(ctx, aliceConn, domain.TypingCommand{ConversationID: "conv-1", IsTyping: true})

		req.Empty(aliceSink.all())
		req.Equal([]event.DomainEvent{
			event.Typing{ConversationID: "conv-1", UserID: "alice", IsTyping: true},
		}, bobSink.all())
	})

	t.Run("should throttle typing with the full window as retry delay", func(t *testing.T) {
		req := require.New(t)
		window := 10 * time.Second
		f := newFixture(t, window, 2)

		aliceConn, aliceSink, _ := f.connect()
		f.authenticate(ctx, aliceConn, "alice")
		f.join(ctx, aliceConn, "alice", "conv-1")
		aliceSink.reset()

		for i := 0; i < 3; i++ {
			f.router.HandleEvent(ctx, aliceConn, domain.TypingCommand{ConversationID: "conv-1", IsTyping: true})
		}

		req.Equal([]event.DomainEvent{
			event.RateLimit{Event: "typing", RetryAfterMs: window.Milliseconds()},
		}, aliceSink.all())
	})
}

func TestRouter_NewMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("should broadcast a persisted message to the whole room including the sender", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, time.Minute, 100)

		bobConn, bobSink, _ := f.connect()
		f.authenticate(ctx, bobConn, "bob")
		f.join(ctx, bobConn, "bob", "conv-1")

		aliceConn, aliceSink, _ := f.connect()
		f.authenticate(ctx, aliceConn, "alice")
		f.join(ctx, aliceConn, "alice", "conv-1")
		bobSink.reset()
		aliceSink.reset()

		stored := domain.Message{
			ID:             uuid.New(),
			ConversationID: "conv-1",
			SenderID:       "alice",
			ContentType:    domain.ContentText,
			Content:        "hello",
			CreatedAt:      time.Now().UTC(),
		}
		f.store.EXPECT().
			CreateMessage(gomock.Any(), "conv-1", "alice", domain.ContentText, "hello", "").
			Return(stored, nil)

		f.router.HandleEvent(ctx, aliceConn, domain.NewMessageCommand{
			ConversationID: "conv-1",
			ContentType:    domain.ContentText,
			Content:        "hello",
		})

		req.Equal([]event.DomainEvent{event.MessageNew{Message: stored}}, aliceSink.all())
		req.Equal([]event.DomainEvent{event.MessageNew{Message: stored}}, bobSink.all())
	})

	t.Run("should report a persistence failure as a scoped error", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, time.Minute, 100)

		aliceConn, aliceSink, terminated := f.connect()
		f.authenticate(ctx, aliceConn, "alice")
		f.join(ctx, aliceConn, "alice", "conv-1")
		aliceSink.reset()

		f.store.EXPECT().
			CreateMessage(gomock.Any(), "conv-1", "alice", domain.ContentText, "", "").
			Return(domain.Message{}, errors.ErrNotAParticipant)

		f.router.HandleEvent(ctx, aliceConn, domain.NewMessageCommand{
			ConversationID: "conv-1",
			ContentType:    domain.ContentText,
		})

		req.Equal([]event.DomainEvent{
			event.Error{Code: errors.CodeForbidden, Message: "not a participant"},
		}, aliceSink.all())
		req.False(*terminated)
	})

	t.Run("should never touch the store once the rate limit is hit", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, time.Minute, 1)

		aliceConn, aliceSink, _ := f.connect()
		f.authenticate(ctx, aliceConn, "alice")
		f.join(ctx, aliceConn, "alice", "conv-1")
		aliceSink.reset()

		// Exactly one CreateMessage despite two inbound events.
		f.store.EXPECT().
			CreateMessage(gomock.Any(), "conv-1", "alice", domain.ContentText, "hi", "").
			Return(domain.Message{ID: uuid.New(), ConversationID: "conv-1"}, nil).
			Times(1)

		cmd := domain.NewMessageCommand{
			ConversationID: "conv-1",
			ContentType:    domain.ContentText,
			Content:        "hi",
		}
		f.router.HandleEvent(ctx, aliceConn, cmd)
		f.router.HandleEvent(ctx, aliceConn, cmd)

		req.Equal(event.RateLimit{Event: "message:new", RetryAfterMs: time.Minute.Milliseconds()},
			aliceSink.last())
	})
}

func TestRouter_MarkRead(t *testing.T) {
	ctx := context.Background()

	t.Run("should broadcast the read receipt to the message's room", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, time.Minute, 100)

		aliceConn, aliceSink, _ := f.connect()
		f.authenticate(ctx, aliceConn, "alice")
		f.join(ctx, aliceConn, "alice", "conv-1")

		bobConn, bobSink, _ := f.connect()
		f.authenticate(ctx, bobConn, "bob")
		f.join(ctx, bobConn, "bob", "conv-1")
		aliceSink.reset()
		bobSink.reset()

		messageID := uuid.New()
		f.store.EXPECT().
			MarkRead(gomock.Any(), messageID.String(), "bob").
			Return(domain.Message{ID: messageID, ConversationID: "conv-1"},
				domain.MessageStatus{}, nil)

		f.router.HandleEvent(ctx, bobConn, domain.MarkReadCommand{MessageID: messageID.String()})

		expected := event.MessageRead{MessageID: messageID.String(), UserID: "bob"}
		req.Equal([]event.DomainEvent{expected}, aliceSink.all())
		req.Equal([]event.DomainEvent{expected}, bobSink.all())
	})

	t.Run("should report an unknown message as a scoped not-found error", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, time.Minute, 100)

		bobConn, bobSink, _ := f.connect()
		f.authenticate(ctx, bobConn, "bob")
		bobSink.reset()

		f.store.EXPECT().
			MarkRead(gomock.Any(), "nope", "bob").
			Return(domain.Message{}, domain.MessageStatus{}, errors.ErrMessageNotFound)

		f.router.HandleEvent(ctx, bobConn, domain.MarkReadCommand{MessageID: "nope"})

		req.Equal([]event.DomainEvent{
			event.Error{Code: errors.CodeNotFound, Message: errors.ErrMessageNotFound.Error()},
		}, bobSink.all())
	})
}

func TestRouter_Disconnect(t *testing.T) {
	ctx := context.Background()

	t.Run("should announce offline and left only when the last device disconnects", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, time.Minute, 100)

		bobConn, bobSink, _ := f.connect()
		f.authenticate(ctx, bobConn, "bob")
		f.join(ctx, bobConn, "bob", "conv-1")

		phone, _, _ := f.connect()
		f.authenticate(ctx, phone, "alice")
		f.join(ctx, phone, "alice", "conv-1")

		laptop, _, _ := f.connect()
		f.authenticate(ctx, laptop, "alice")
		f.join(ctx, laptop, "alice", "conv-1")
		bobSink.reset()

		f.router.Disconnect(ctx, phone)
		req.Empty(bobSink.all(), "one device left, alice is still online")

		f.router.Disconnect(ctx, laptop)
		req.ElementsMatch([]event.DomainEvent{
			event.PresenceOffline{UserID: "alice"},
			event.UserLeft{ConversationID: "conv-1", UserID: "alice"},
		}, bobSink.all())
	})

	t.Run("should be idempotent", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, time.Minute, 100)

		bobConn, bobSink, _ := f.connect()
		f.authenticate(ctx, bobConn, "bob")
		f.join(ctx, bobConn, "bob", "conv-1")

		aliceConn, _, _ := f.connect()
		f.authenticate(ctx, aliceConn, "alice")
		f.join(ctx, aliceConn, "alice", "conv-1")
		bobSink.reset()

		f.router.Disconnect(ctx, aliceConn)
		f.router.Disconnect(ctx, aliceConn)

		req.ElementsMatch([]event.DomainEvent{
			event.PresenceOffline{UserID: "alice"},
			event.UserLeft{ConversationID: "conv-1", UserID: "alice"},
		}, bobSink.all())
	})

	t.Run("should forward broadcasts to permanent observers", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, time.Minute, 100)
		observer := &captureSink{}
		f.router.AddObserver(observer)

		aliceConn, _, _ := f.connect()
		f.authenticate(ctx, aliceConn, "alice")
		f.join(ctx, aliceConn, "alice", "conv-1")

		stored := domain.Message{ID: uuid.New(), ConversationID: "conv-1", SenderID: "alice"}
		f.store.EXPECT().
			CreateMessage(gomock.Any(), "conv-1", "alice", domain.ContentText, "hello", "").
			Return(stored, nil)
		f.router.HandleEvent(ctx, aliceConn, domain.NewMessageCommand{
			ConversationID: "conv-1",
			ContentType:    domain.ContentText,
			Content:        "hello",
		})

		req.Contains(observer.all(), event.MessageNew{Message: stored})
	})
}
