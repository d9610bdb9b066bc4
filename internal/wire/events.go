package wire

// Event type names on the socket channel.
const (
	EventJoinRoom     = "join_room"
	EventLeaveRoom    = "leave_room"
	EventSendMessage  = "send_message"
	EventTypingNotify = "typing_notify"

	EventMessageReceived = "message_received"
	EventTyping          = "typing"
	EventError           = "error"
)

// JoinRoom asks the server to add this connection to a logical room.
type JoinRoom struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	RoomKey        string `json:"roomKey"`
}

// LeaveRoom removes this connection from a room.
type LeaveRoom struct {
	Type    string `json:"type"`
	RoomKey string `json:"roomKey"`
}

// SenderInfo carries display metadata alongside an outbound message.
type SenderInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// SendMessage is the outbound message envelope.
type SendMessage struct {
	Type           string     `json:"type"`
	ID             string     `json:"id"`
	Text           string     `json:"text"`
	SenderID       string     `json:"senderId"`
	RecipientID    string     `json:"recipientId"`
	ConversationID string     `json:"conversationId"`
	Timestamp      string     `json:"timestamp"`
	RoomKey        string     `json:"roomKey"`
	SenderInfo     SenderInfo `json:"senderInfo"`
}

// TypingNotify tells the counterparty that the current user is typing.
type TypingNotify struct {
	Type           string `json:"type"`
	RecipientID    string `json:"recipientId"`
	ConversationID string `json:"conversationId"`
	RoomKey        string `json:"roomKey"`
}
