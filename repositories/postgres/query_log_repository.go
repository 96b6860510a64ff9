package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/org-rag-assistant/models"
	"github.com/upb/org-rag-assistant/repositories"
)

// QueryLogRepository implements repositories.QueryLogRepository
type QueryLogRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewQueryLogRepository creates a new query log repository
func NewQueryLogRepository(db *DB, logger *zap.Logger) repositories.QueryLogRepository {
	return &QueryLogRepository{db: db, logger: logger}
}

// Insert writes a query log entry; sources are stored as a JSONB array
func (r *QueryLogRepository) Insert(ctx context.Context, log *models.QueryLog) error {
	query := `
		INSERT INTO query_logs (
			id, conversation_id, user_query, bot_response, sources,
			outcome, request_id, latency_ms, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	sources := log.Sources
	if sources == nil {
		sources = []string{}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}

	_, err = GetExecutor(ctx, r.db).ExecContext(ctx, query,
		log.ID,
		log.ConversationID,
		log.UserQuery,
		log.BotResponse,
		sourcesJSON,
		log.Outcome,
		log.RequestID,
		log.LatencyMs,
		log.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert query log: %w", err)
	}
	return nil
}

// ListByConversation returns the newest query logs of a conversation
func (r *QueryLogRepository) ListByConversation(ctx context.Context, conversationID uuid.UUID, limit int) ([]*models.QueryLog, error) {
	query := `
		SELECT id, conversation_id, user_query, bot_response, sources,
		       outcome, COALESCE(request_id, ''), latency_ms, timestamp
		FROM query_logs
		WHERE conversation_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list query logs: %w", err)
	}
	defer rows.Close()

	logs := []*models.QueryLog{}
	for rows.Next() {
		var (
			entry       models.QueryLog
			convID      uuid.NullUUID
			sourcesJSON []byte
		)
		if err := rows.Scan(
			&entry.ID,
			&convID,
			&entry.UserQuery,
			&entry.BotResponse,
			&sourcesJSON,
			&entry.Outcome,
			&entry.RequestID,
			&entry.LatencyMs,
			&entry.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan query log: %w", err)
		}
		if convID.Valid {
			entry.ConversationID = &convID.UUID
		}
		if err := json.Unmarshal(sourcesJSON, &entry.Sources); err != nil {
			return nil, fmt.Errorf("failed to decode sources: %w", err)
		}
		logs = append(logs, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating query log rows: %w", err)
	}
	return logs, nil
}
