package models

import (
	"time"

	"github.com/google/uuid"
)

// Message sender roles.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// Conversation is a persisted thread of messages owned by one session.
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is a single immutable turn in a conversation.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversationId"`
	Sender         string    `json:"sender"` // "user" or "assistant"
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
}

// SendMessageRequest is the payload accepted by POST /api/chat/message.
type SendMessageRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
}

// HistoryResponse wraps the ordered messages of one conversation.
type HistoryResponse struct {
	Messages []Message `json:"messages"`
}

// ConversationSummary is one row of the conversation list: the conversation
// plus its first message and total message count for sidebar display.
type ConversationSummary struct {
	ID           uuid.UUID `json:"id"`
	SessionID    string    `json:"sessionId"`
	CreatedAt    time.Time `json:"createdAt"`
	FirstMessage *Message  `json:"firstMessage"`
	MessageCount int       `json:"messageCount"`
}
