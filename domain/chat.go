package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Identity is the authenticated user bound to a connection. Immutable once
// set; a connection carries at most one.
type Identity struct {
	UserID string
	Email  string
}

type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentVideo ContentType = "video"
	ContentFile  ContentType = "file"
	ContentVoice ContentType = "voice"
)

func (c ContentType) Valid() bool {
	switch c {
	case ContentText, ContentImage, ContentVideo, ContentFile, ContentVoice:
		return true
	}
	return false
}

type DeliveryStatus string

const (
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

type Message struct {
	ID             uuid.UUID   `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	ContentType    ContentType `json:"contentType"`
	Content        string      `json:"content,omitempty"`
	MediaURL       string      `json:"mediaUrl,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// MessageStatus is one delivery-status row: one per (message, participant).
// The sender's row is pre-marked read at creation time.
type MessageStatus struct {
	MessageID uuid.UUID      `json:"messageId"`
	UserID    string         `json:"userId"`
	Status    DeliveryStatus `json:"status"`
	ReadAt    *time.Time     `json:"readAt,omitempty"`
}

type Conversation struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (c Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// RoomID names a broadcast group: one per conversation plus one per user
// (the direct, non-conversation delivery path).
type RoomID string

func ConversationRoom(conversationID string) RoomID {
	return RoomID("conversation:" + conversationID)
}

func UserRoom(userID string) RoomID {
	return RoomID("user:" + userID)
}

// ConversationID extracts the conversation behind a room id, when the room
// is a conversation room and not a direct user room.
func (r RoomID) ConversationID() (string, bool) {
	const prefix = "conversation:"
	if strings.HasPrefix(string(r), prefix) {
		return string(r[len(prefix):]), true
	}
	return "", false
}
