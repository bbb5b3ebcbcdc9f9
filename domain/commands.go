package domain

// Command is an inbound connection event, decoded and validated by the
// transport before it reaches the session router. One variant per protocol
// event; the router dispatches with a type switch, one handler per variant.
type Command interface {
	Kind() string
}

// Rate-limited command kinds. Counters are independent per kind.
const (
	KindTyping     = "typing"
	KindMessageNew = "message:new"
)

type AuthenticateCommand struct {
	Token string
}

func (AuthenticateCommand) Kind() string { return "authenticate" }

type JoinConversationCommand struct {
	ConversationID string
}

func (JoinConversationCommand) Kind() string { return "conversation:join" }

type LeaveConversationCommand struct {
	ConversationID string
}

func (LeaveConversationCommand) Kind() string { return "conversation:leave" }

type TypingCommand struct {
	ConversationID string
	IsTyping       bool
}

func (TypingCommand) Kind() string { return KindTyping }

type NewMessageCommand struct {
	ConversationID string
	ContentType    ContentType
	Content        string
	MediaURL       string
}

func (NewMessageCommand) Kind() string { return KindMessageNew }

type MarkReadCommand struct {
	MessageID string
}

func (MarkReadCommand) Kind() string { return "message:read" }
