// Package conversation persists chat sessions around the response composer.
package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/org-rag-assistant/internal/observability"
	"github.com/upb/org-rag-assistant/internal/rag"
	"github.com/upb/org-rag-assistant/internal/shared"
	"github.com/upb/org-rag-assistant/models"
	"github.com/upb/org-rag-assistant/repositories"
	"github.com/upb/org-rag-assistant/services"
	"github.com/upb/org-rag-assistant/services/chat"
)

// Answerer produces an answer for a query and its history
type Answerer interface {
	Answer(ctx context.Context, query string, history []rag.ConversationTurn) (*chat.Answer, error)
}

// Reply is the result of SendMessage
type Reply struct {
	Message        string     `json:"message"`
	Sources        []string   `json:"sources"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	State          chat.State `json:"-"`
}

// Service manages conversations and their messages
type Service struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	queryLogs     repositories.QueryLogRepository
	txMgr         repositories.TransactionManager
	answerer      Answerer
	historyTurns  int
	redact        func(string) string
	logger        *zap.Logger
}

// NewService creates a conversation service
func NewService(
	repos *repositories.Repositories,
	txMgr repositories.TransactionManager,
	answerer Answerer,
	historyTurns int,
	logger *zap.Logger,
) *Service {
	if historyTurns <= 0 {
		historyTurns = chat.DefaultHistoryTurns
	}
	return &Service{
		conversations: repos.Conversations,
		messages:      repos.Messages,
		queryLogs:     repos.QueryLogs,
		txMgr:         txMgr,
		answerer:      answerer,
		historyTurns:  historyTurns,
		logger:        logger,
	}
}

// WithRedaction masks the user query and the reply before they reach the query log.
// Stored conversation messages are not affected.
func (s *Service) WithRedaction(redact func(string) string) *Service {
	s.redact = redact
	return s
}

// Create starts a new conversation; an empty title becomes "New Chat"
func (s *Service) Create(ctx context.Context, title string) (*models.Conversation, error) {
	conv := models.NewConversation(strings.TrimSpace(title))
	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, services.WrapInternal("failed to create conversation", err)
	}
	s.logger.Info("conversation created", zap.String("conversation_id", conv.ID.String()))
	return conv, nil
}

// List returns conversations, most recently updated first
func (s *Service) List(ctx context.Context, limit, offset int) ([]*models.Conversation, error) {
	convs, err := s.conversations.List(ctx, limit, offset)
	if err != nil {
		return nil, services.WrapInternal("failed to list conversations", err)
	}
	return convs, nil
}

// Get returns a conversation with all its messages
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "failed to get conversation")
	}
	msgs, err := s.messages.ListByConversation(ctx, id)
	if err != nil {
		return nil, services.WrapInternal("failed to load messages", err)
	}
	conv.Messages = msgs
	return conv, nil
}

// Delete removes a conversation and its messages
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.conversations.Delete(ctx, id); err != nil {
		return mapRepoError(err, "failed to delete conversation")
	}
	s.logger.Info("conversation deleted", zap.String("conversation_id", id.String()))
	return nil
}

// UpdateTitle renames a conversation and returns it
func (s *Service) UpdateTitle(ctx context.Context, id uuid.UUID, title string) (*models.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "title cannot be empty", nil)
	}
	if err := s.conversations.UpdateTitle(ctx, id, title); err != nil {
		return nil, mapRepoError(err, "failed to update title")
	}
	conv, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "failed to get conversation")
	}
	return conv, nil
}

// SendMessage answers message within a conversation and persists the exchange.
// Injection refusals are answered but not stored as messages.
func (s *Service) SendMessage(ctx context.Context, id uuid.UUID, message string) (*Reply, error) {
	start := time.Now()
	logger := observability.WithRequestID(ctx, s.logger).With(zap.String("conversation_id", id.String()))

	if strings.TrimSpace(message) == "" {
		return nil, services.ErrEmptyMessage
	}

	conv, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "failed to get conversation")
	}

	logger.Debug("step 1: loading history")
	recent, err := s.messages.ListRecent(ctx, id, s.historyTurns)
	if err != nil {
		return nil, services.WrapInternal("failed to load history", err)
	}
	history := make([]rag.ConversationTurn, 0, len(recent))
	for _, m := range recent {
		history = append(history, rag.ConversationTurn{Role: string(m.Role), Content: m.Content})
	}

	logger.Debug("step 2: answering")
	answer, err := s.answerer.Answer(ctx, message, history)
	if err != nil {
		return nil, err
	}

	reply := &Reply{
		Message:        answer.Text,
		Sources:        answer.Sources,
		ConversationID: id,
		State:          answer.State,
	}

	if answer.State != chat.StateInjectionRefused {
		logger.Debug("step 3: saving messages")
		if err := s.saveExchange(ctx, conv, len(recent) == 0, message, answer.Text); err != nil {
			return nil, err
		}
	}

	logger.Debug("step 4: writing query log")
	logged, loggedReply := message, answer.Text
	if s.redact != nil {
		logged, loggedReply = s.redact(logged), s.redact(loggedReply)
	}
	entry := models.NewQueryLog(logged, loggedReply).
		WithConversation(id).
		WithSources(answer.Sources).
		WithOutcome(string(answer.State), time.Since(start)).
		WithRequest(shared.RequestID(ctx))
	if err := s.queryLogs.Insert(ctx, entry); err != nil {
		logger.Error("failed to write query log", zap.Error(err))
	}

	if err := s.conversations.Touch(ctx, id); err != nil {
		logger.Warn("failed to bump conversation timestamp", zap.Error(err))
	}

	return reply, nil
}

// saveExchange stores the user message and the reply in one transaction,
// titling an untitled conversation from its first message
func (s *Service) saveExchange(ctx context.Context, conv *models.Conversation, first bool, message, reply string) error {
	userMsg := models.NewMessage(conv.ID, models.RoleUser, message)
	assistantMsg := models.NewMessage(conv.ID, models.RoleAssistant, reply)
	if !assistantMsg.Timestamp.After(userMsg.Timestamp) {
		assistantMsg.Timestamp = userMsg.Timestamp.Add(time.Microsecond)
	}

	err := services.WithTransaction(ctx, s.txMgr, func(ctx context.Context) error {
		if err := s.messages.Create(ctx, userMsg); err != nil {
			return err
		}
		if err := s.messages.Create(ctx, assistantMsg); err != nil {
			return err
		}
		if first && conv.HasDefaultTitle() {
			return s.conversations.UpdateTitle(ctx, conv.ID, models.TitleFromMessage(message))
		}
		return nil
	})
	if err != nil {
		return services.WrapInternal("failed to save messages", err)
	}
	return nil
}

func mapRepoError(err error, message string) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return services.NewDomainError(services.ErrorTypeNotFound, "conversation not found", err)
	}
	return services.WrapInternal(message, err)
}
