package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/org-rag-assistant/models"
	"github.com/upb/org-rag-assistant/repositories"
)

// ConversationRepository implements repositories.ConversationRepository
type ConversationRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *DB, logger *zap.Logger) repositories.ConversationRepository {
	return &ConversationRepository{db: db, logger: logger}
}

// Create inserts a new conversation
func (r *ConversationRepository) Create(ctx context.Context, conv *models.Conversation) error {
	query := `
		INSERT INTO conversations (id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, conv.ID, conv.Title, conv.CreatedAt, conv.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	r.logger.Debug("conversation created", zap.String("id", conv.ID.String()))
	return nil
}

// GetByID retrieves a conversation without its messages
func (r *ConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	query := `
		SELECT id, title, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`

	conv := &models.Conversation{}
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, id).Scan(
		&conv.ID,
		&conv.Title,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// List returns conversations, most recently updated first
func (r *ConversationRepository) List(ctx context.Context, limit, offset int) ([]*models.Conversation, error) {
	query := `
		SELECT id, title, created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	convs := []*models.Conversation{}
	for rows.Next() {
		conv := &models.Conversation{}
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversation rows: %w", err)
	}
	return convs, nil
}

// UpdateTitle renames a conversation and bumps updated_at
func (r *ConversationRepository) UpdateTitle(ctx context.Context, id uuid.UUID, title string) error {
	query := `
		UPDATE conversations
		SET title = $2,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	return r.execOne(ctx, "update conversation title", query, id, title)
}

// Touch bumps updated_at
func (r *ConversationRepository) Touch(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE conversations SET updated_at = CURRENT_TIMESTAMP WHERE id = $1`
	return r.execOne(ctx, "touch conversation", query, id)
}

// Delete removes a conversation; messages cascade
func (r *ConversationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.execOne(ctx, "delete conversation", `DELETE FROM conversations WHERE id = $1`, id); err != nil {
		return err
	}
	r.logger.Debug("conversation deleted", zap.String("id", id.String()))
	return nil
}

// execOne runs a statement that must affect exactly the row with the given id
func (r *ConversationRepository) execOne(ctx context.Context, op, query string, id uuid.UUID, args ...any) error {
	result, err := GetExecutor(ctx, r.db).ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("conversation %s: %w", id, repositories.ErrNotFound)
	}
	return nil
}
