package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Metadata is an open-ended JSON object attached to conversations and messages.
type Metadata = datatypes.JSONMap

// Conversation groups an ordered sequence of messages owned by one user.
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Metadata  Metadata  `json:"metadata"`
}

// ConversationWithMessages is a conversation together with its messages, oldest first.
type ConversationWithMessages struct {
	Conversation
	Messages []Message `json:"messages"`
}

// ConversationPage is one page of a user's conversations, most recent first.
// NextCursor is empty on the last page.
type ConversationPage struct {
	Conversations []Conversation `json:"conversations"`
	NextCursor    string         `json:"next_cursor,omitempty"`
}

// UserStats aggregates a user's stored history.
type UserStats struct {
	TotalConversations int64 `json:"total_conversations"`
	TotalMessages      int64 `json:"total_messages"`
}
