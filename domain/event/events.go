// Package event defines the server-to-client protocol events.
// Event names and payload field names are part of the wire contract;
// the transport marshals each event into an {event, data} envelope.
package event

import "chat-relay/domain"

type DomainEvent interface {
	EventName() string
}

type Authenticated struct {
	Status string `json:"status"`
	UserID string `json:"userId"`
}

func (Authenticated) EventName() string { return "authenticated" }

type Unauthorized struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func (Unauthorized) EventName() string { return "unauthorized" }

type ConversationJoined struct {
	ConversationID string `json:"conversationId"`
}

func (ConversationJoined) EventName() string { return "conversation:joined" }

type ConversationLeft struct {
	ConversationID string `json:"conversationId"`
}

func (ConversationLeft) EventName() string { return "conversation:left" }

type UserJoined struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

func (UserJoined) EventName() string { return "conversation:user_joined" }

type UserLeft struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

func (UserLeft) EventName() string { return "conversation:user_left" }

type PresenceOnline struct {
	UserID string `json:"userId"`
}

func (PresenceOnline) EventName() string { return "presence:online" }

type PresenceOffline struct {
	UserID string `json:"userId"`
}

func (PresenceOffline) EventName() string { return "presence:offline" }

type Typing struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

func (Typing) EventName() string { return "typing" }

type MessageNew struct {
	Message domain.Message `json:"message"`
}

func (MessageNew) EventName() string { return "message:new" }

type MessageRead struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

func (MessageRead) EventName() string { return "message:read" }

// RateLimit is the scoped throttle notice. RetryAfterMs always reports the
// full configured window, not the remaining time-in-window; clients depend
// on this.
type RateLimit struct {
	Event        string `json:"event"`
	RetryAfterMs int64  `json:"retryAfterMs"`
}

func (RateLimit) EventName() string { return "rate:limit" }

// Error is a scoped failure notice. Delivered only to the originating
// connection, never broadcast, and never followed by a disconnect.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (Error) EventName() string { return "error" }
