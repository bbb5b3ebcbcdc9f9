//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself.
// Can be silly, focused. The supervisor handles panics and restarts.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker,
// for logging and supervision purposes, avoiding manual naming in the
// Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink receives protocol events bound for one consumer (usually one
// connection). Consume must not block broadcast fan-out: implementations
// buffer and drop under backpressure rather than stall the caller.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// ICredentialVerifier validates a raw bearer token presented over an open
// connection and extracts the identity it carries.
type ICredentialVerifier interface {
	VerifyAccessToken(token string) (domain.Identity, error)
}

// IMembership is the external conversation-authorization collaborator.
type IMembership interface {
	IsParticipant(ctx context.Context, userID, conversationID string) (bool, error)
}

// IMessageStore is the external persistence collaborator. CreateMessage
// appends the message and its per-participant delivery-status rows as one
// atomic unit; MarkRead is idempotent.
type IMessageStore interface {
	CreateMessage(ctx context.Context, conversationID, senderID string,
		contentType domain.ContentType, content, mediaURL string) (domain.Message, error)
	MarkRead(ctx context.Context, messageID, userID string) (domain.Message, domain.MessageStatus, error)
	GetStatuses(ctx context.Context, messageID, userID string) ([]domain.MessageStatus, error)
}

// IPresence tracks which users are online and which rooms they joined.
type IPresence interface {
	AddConnection(userID, connID string) int
	RemoveConnection(userID, connID string) int
	IsOnline(userID string) bool
	JoinRoom(userID string, room domain.RoomID) (joined int, first bool)
	LeaveRoom(userID string, room domain.RoomID) int
	RoomsOf(userID string) []domain.RoomID
	ClearUser(userID string) (connectionsCleared int, rooms []domain.RoomID)
	OnlineUserIDs() []string
}
