package gateway

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Envelope is the wire framing: every frame in both directions is
// {"event": <name>, "data": <payload>}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type authenticateDTO struct {
	Token string `json:"token" validate:"required"`
}

type conversationJoinDTO struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type conversationLeaveDTO struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type typingDTO struct {
	ConversationID string `json:"conversationId" validate:"required"`
	IsTyping       bool   `json:"isTyping"`
}

type messageNewDTO struct {
	ConversationID string `json:"conversationId" validate:"required"`
	ContentType    string `json:"contentType" validate:"required,oneof=text image video file voice"`
	Content        string `json:"content,omitempty"`
	MediaURL       string `json:"mediaUrl,omitempty"`
}

type messageReadDTO struct {
	MessageID string `json:"messageId" validate:"required"`
}

// decodeCommand turns one inbound envelope into its typed command variant,
// rejecting unknown event names and malformed payload shapes before
// anything reaches the session router.
func decodeCommand(validate *validator.Validate, env Envelope) (domain.Command, error) {
	switch env.Event {
	case "authenticate":
		var dto authenticateDTO
		if err := decodePayload(validate, env.Data, &dto); err != nil {
			return nil, err
		}
		return domain.AuthenticateCommand{Token: dto.Token}, nil
	case "conversation:join":
		var dto conversationJoinDTO
		if err := decodePayload(validate, env.Data, &dto); err != nil {
			return nil, err
		}
		return domain.JoinConversationCommand{ConversationID: dto.ConversationID}, nil
	case "conversation:leave":
		var dto conversationLeaveDTO
		if err := decodePayload(validate, env.Data, &dto); err != nil {
			return nil, err
		}
		return domain.LeaveConversationCommand{ConversationID: dto.ConversationID}, nil
	case "typing":
		var dto typingDTO
		if err := decodePayload(validate, env.Data, &dto); err != nil {
			return nil, err
		}
		return domain.TypingCommand{ConversationID: dto.ConversationID, IsTyping: dto.IsTyping}, nil
	case "message:new":
		var dto messageNewDTO
		if err := decodePayload(validate, env.Data, &dto); err != nil {
			return nil, err
		}
		return domain.NewMessageCommand{
			ConversationID: dto.ConversationID,
			ContentType:    domain.ContentType(dto.ContentType),
			Content:        dto.Content,
			MediaURL:       dto.MediaURL,
		}, nil
	case "message:read":
		var dto messageReadDTO
		if err := decodePayload(validate, env.Data, &dto); err != nil {
			return nil, err
		}
		return domain.MarkReadCommand{MessageID: dto.MessageID}, nil
	default:
		return nil, fmt.Errorf("%w: unknown event %q", errors.ErrValidation, env.Event)
	}
}

func decodePayload(validate *validator.Validate, data json.RawMessage, dto any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing payload", errors.ErrValidation)
	}
	if err := json.Unmarshal(data, dto); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	if err := validate.Struct(dto); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	return nil
}
