package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/upb/org-rag-assistant/models"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("record not found")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction.
	// Repositories called with the ctx passed to fn join the transaction.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Context() context.Context
}

// ConversationRepository handles conversation data operations
type ConversationRepository interface {
	Create(ctx context.Context, conv *models.Conversation) error

	// GetByID returns ErrNotFound when the conversation does not exist
	GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error)

	// List returns conversations ordered by most recently updated
	List(ctx context.Context, limit, offset int) ([]*models.Conversation, error)

	UpdateTitle(ctx context.Context, id uuid.UUID, title string) error

	// Touch bumps updated_at to now
	Touch(ctx context.Context, id uuid.UUID) error

	// Delete removes the conversation and its messages
	Delete(ctx context.Context, id uuid.UUID) error
}

// MessageRepository handles message data operations
type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error

	// ListByConversation returns messages in chronological order
	ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]*models.Message, error)

	// ListRecent returns the last limit messages in chronological order
	ListRecent(ctx context.Context, conversationID uuid.UUID, limit int) ([]*models.Message, error)
}

// QueryLogRepository handles query log writes
type QueryLogRepository interface {
	Insert(ctx context.Context, log *models.QueryLog) error
	ListByConversation(ctx context.Context, conversationID uuid.UUID, limit int) ([]*models.QueryLog, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Conversations ConversationRepository
	Messages      MessageRepository
	QueryLogs     QueryLogRepository
}
