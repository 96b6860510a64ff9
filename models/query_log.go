package models

import (
	"time"

	"github.com/google/uuid"
)

// QueryLog records a question, the answer given and its sources
type QueryLog struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	ConversationID *uuid.UUID `json:"conversation_id,omitempty" db:"conversation_id"`
	UserQuery      string     `json:"user_query" db:"user_query"`
	BotResponse    string     `json:"bot_response" db:"bot_response"`
	Sources        []string   `json:"sources" db:"sources"` // JSONB
	Outcome        string     `json:"outcome" db:"outcome"`
	RequestID      string     `json:"request_id,omitempty" db:"request_id"`
	LatencyMs      int        `json:"latency_ms" db:"latency_ms"`
	Timestamp      time.Time  `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the QueryLog model
func (QueryLog) TableName() string {
	return "query_logs"
}

// NewQueryLog creates a query log entry
func NewQueryLog(userQuery, botResponse string) *QueryLog {
	return &QueryLog{
		ID:          uuid.New(),
		UserQuery:   userQuery,
		BotResponse: botResponse,
		Sources:     []string{},
		Timestamp:   time.Now().UTC(),
	}
}

// WithConversation sets the conversation ID
func (q *QueryLog) WithConversation(id uuid.UUID) *QueryLog {
	q.ConversationID = &id
	return q
}

// WithSources sets the cited source URLs
func (q *QueryLog) WithSources(sources []string) *QueryLog {
	if sources != nil {
		q.Sources = sources
	}
	return q
}

// WithOutcome sets the terminal pipeline state and latency
func (q *QueryLog) WithOutcome(outcome string, latency time.Duration) *QueryLog {
	q.Outcome = outcome
	q.LatencyMs = int(latency.Milliseconds())
	return q
}

// WithRequest sets the request ID
func (q *QueryLog) WithRequest(requestID string) *QueryLog {
	q.RequestID = requestID
	return q
}
