package chatsync

import "encoding/json"

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error reported by the chat backend.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// APIResult is the generic envelope returned by every REST endpoint.
type APIResult struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *APIResult) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Domain Model
// ============================================================================

// SenderRole identifies which side of a conversation sent a message.
type SenderRole string

const (
	RoleMember  SenderRole = "member"
	RoleTrainer SenderRole = "trainer"
)

// Message is one chat message. During the optimistic window the ID is a
// locally generated temporary id (prefix "tmp-") and Optimistic is true;
// reconciliation replaces the entry with the server copy.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	SenderRole     SenderRole `json:"senderType"`
	Content        string     `json:"content"`
	IsRead         bool       `json:"isRead"`
	Timestamp      string     `json:"timestamp"`
	Optimistic     bool       `json:"-"`
	SendError      bool       `json:"-"`
}

// Participant is one side of a two-party conversation.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	IsOnline    bool   `json:"isOnline"`
}

// Conversation is a two-party thread summary as returned by the REST list.
type Conversation struct {
	ID            string      `json:"id"`
	Member        Participant `json:"member"`
	Trainer       Participant `json:"trainer"`
	LastMessage   string      `json:"lastMessage,omitempty"`
	LastMessageAt string      `json:"lastMessageAt,omitempty"`
	UnreadCount   int         `json:"unreadCount"`
}

// ============================================================================
// Wire Envelope
// ============================================================================

// Envelope is the wire format for every realtime event, both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ============================================================================
// Inbound Event Payloads
// ============================================================================

// MessagesReadPayload carries a batch read receipt.
type MessagesReadPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

// UserTypingPayload is sent when a counterpart starts or stops typing.
type UserTypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// UserStatusPayload is sent when a counterpart goes online or offline.
type UserStatusPayload struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// NewConversationPayload is sent when a counterpart opens a first contact.
type NewConversationPayload struct {
	Conversation Conversation `json:"conversation"`
	Message      Message      `json:"message"`
}

// ErrorPayload carries a transport or server-side error.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ============================================================================
// Outbound Command Payloads
// ============================================================================

// TypingCommand is the payload of the outbound typing event.
type TypingCommand struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// MarkReadCommand is the payload of the outbound mark_read event.
type MarkReadCommand struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}
