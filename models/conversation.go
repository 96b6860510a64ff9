package models

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// DefaultConversationTitle is the title of a conversation before its first message
const DefaultConversationTitle = "New Chat"

// MaxTitleLength bounds titles derived from the first message
const MaxTitleLength = 50

// Conversation is a chat thread
type Conversation struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	Messages []*Message `json:"messages,omitempty" db:"-"`
}

// TableName returns the table name for the Conversation model
func (Conversation) TableName() string {
	return "conversations"
}

// NewConversation creates a conversation; an empty title becomes DefaultConversationTitle
func NewConversation(title string) *Conversation {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultConversationTitle
	}
	now := time.Now().UTC()
	return &Conversation{
		ID:        uuid.New(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasDefaultTitle reports whether the conversation still has its placeholder title
func (c *Conversation) HasDefaultTitle() bool {
	return c.Title == DefaultConversationTitle
}

// TitleFromMessage derives a title from the first user message
func TitleFromMessage(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if utf8.RuneCountInString(title) <= MaxTitleLength {
		return title
	}
	return strings.TrimSpace(string([]rune(title)[:MaxTitleLength])) + "..."
}
