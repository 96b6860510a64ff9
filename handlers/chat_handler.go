package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/org-rag-assistant/internal/observability"
	"github.com/upb/org-rag-assistant/internal/rag"
	"github.com/upb/org-rag-assistant/models"
	"github.com/upb/org-rag-assistant/services/conversation"
	"github.com/upb/org-rag-assistant/utils"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	previewLength    = 500
)

// ConversationService defines the conversation operations the chat API needs
type ConversationService interface {
	Create(ctx context.Context, title string) (*models.Conversation, error)
	List(ctx context.Context, limit, offset int) ([]*models.Conversation, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	Delete(ctx context.Context, id uuid.UUID) error
	UpdateTitle(ctx context.Context, id uuid.UUID, title string) (*models.Conversation, error)
	SendMessage(ctx context.Context, id uuid.UUID, message string) (*conversation.Reply, error)
}

// RetrievalProber runs retrieval without generation
type RetrievalProber interface {
	RetrieveDetailed(ctx context.Context, query string) ([]rag.ScoredPassage, rag.RetrievalTrace, error)
}

// SendMessageRequest is the body of POST /api/chat/message
type SendMessageRequest struct {
	ConversationID string `json:"conversation_id" validate:"required,uuid"`
	Message        string `json:"message" validate:"required"`
}

// CreateConversationRequest is the optional body of POST /api/chat/new
type CreateConversationRequest struct {
	Title string `json:"title" validate:"max=200"`
}

// UpdateTitleRequest is the body of PUT /api/chat/conversations/{id}/title
type UpdateTitleRequest struct {
	Title string `json:"title" validate:"required,max=200"`
}

// ConversationListResponse wraps the conversation list
type ConversationListResponse struct {
	Conversations []*models.Conversation `json:"conversations"`
}

// RAGTestResponse reports what retrieval found for the probe query
type RAGTestResponse struct {
	Query          string   `json:"query"`
	ContextFound   bool     `json:"context_found"`
	ContextLength  int      `json:"context_length"`
	SourcesCount   int      `json:"sources_count"`
	Sources        []string `json:"sources"`
	ContextPreview string   `json:"context_preview"`
	FallbackUsed   bool     `json:"fallback_used"`
	RerankFailed   bool     `json:"rerank_failed"`
}

// ChatHandler serves the chat and conversation endpoints
type ChatHandler struct {
	service    ConversationService
	prober     RetrievalProber
	probeQuery string
	logger     *zap.Logger
}

// NewChatHandler creates a ChatHandler. prober may be nil, which disables the debug probe.
func NewChatHandler(service ConversationService, prober RetrievalProber, probeQuery string, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		service:    service,
		prober:     prober,
		probeQuery: probeQuery,
		logger:     logger,
	}
}

// HandleSendMessage handles POST /api/chat/message
func (h *ChatHandler) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.WithRequestID(ctx, h.logger)

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("failed to parse request body", zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, logger)
		return
	}

	reply, err := h.service.SendMessage(ctx, uuid.MustParse(req.ConversationID), req.Message)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}

	logger.Debug("message answered",
		zap.String("conversation_id", req.ConversationID),
		zap.String("state", string(reply.State)),
		zap.Int("sources", len(reply.Sources)))

	if err := utils.WriteJSON(w, http.StatusOK, reply); err != nil {
		logger.Error("failed to write chat response", zap.Error(err))
	}
}

// HandleCreateConversation handles POST /api/chat/new
func (h *ChatHandler) HandleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	conv, err := h.service.Create(r.Context(), req.Title)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("conversation created", zap.String("conversation_id", conv.ID.String()))
	_ = utils.WriteJSON(w, http.StatusOK, conv)
}

// HandleListConversations handles GET /api/chat/conversations
func (h *ChatHandler) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil || limit <= 0 || limit > maxListLimit {
		_ = utils.WriteBadRequest(w, "limit must be between 1 and 200", nil)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		_ = utils.WriteBadRequest(w, "offset must be a non-negative integer", nil)
		return
	}

	convs, err := h.service.List(r.Context(), limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if convs == nil {
		convs = []*models.Conversation{}
	}

	_ = utils.WriteJSON(w, http.StatusOK, ConversationListResponse{Conversations: convs})
}

// HandleGetConversation handles GET /api/chat/conversations/{id}
func (h *ChatHandler) HandleGetConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.conversationID(w, r)
	if !ok {
		return
	}

	conv, err := h.service.Get(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if conv.Messages == nil {
		conv.Messages = []*models.Message{}
	}

	_ = utils.WriteJSON(w, http.StatusOK, conversationWithMessages{Conversation: conv, Messages: conv.Messages})
}

// HandleDeleteConversation handles DELETE /api/chat/conversations/{id}
func (h *ChatHandler) HandleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.conversationID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("conversation deleted", zap.String("conversation_id", id.String()))
	_ = utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse{Message: "Conversation deleted successfully"})
}

// HandleUpdateTitle handles PUT /api/chat/conversations/{id}/title
func (h *ChatHandler) HandleUpdateTitle(w http.ResponseWriter, r *http.Request) {
	id, ok := h.conversationID(w, r)
	if !ok {
		return
	}

	var req UpdateTitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	conv, err := h.service.UpdateTitle(r.Context(), id, req.Title)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteJSON(w, http.StatusOK, conv)
}

// HandleRAGTest handles GET /api/chat/debug/rag-test
func (h *ChatHandler) HandleRAGTest(w http.ResponseWriter, r *http.Request) {
	if h.prober == nil {
		_ = utils.WriteNotFound(w, "")
		return
	}
	logger := observability.WithRequestID(r.Context(), h.logger)
	logger.Info("testing retrieval pipeline", zap.String("query", h.probeQuery))

	passages, trace, err := h.prober.RetrieveDetailed(r.Context(), h.probeQuery)
	if err != nil {
		logger.Error("retrieval probe failed", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "RAG test failed: "+err.Error())
		return
	}

	result := rag.FormatContext(passages)
	sources := result.SourceURLs
	if sources == nil {
		sources = []string{}
	}

	_ = utils.WriteJSON(w, http.StatusOK, RAGTestResponse{
		Query:          h.probeQuery,
		ContextFound:   !result.IsEmpty(),
		ContextLength:  utf8.RuneCountInString(result.ContextText),
		SourcesCount:   len(sources),
		Sources:        sources,
		ContextPreview: preview(result.ContextText, previewLength),
		FallbackUsed:   trace.FallbackUsed,
		RerankFailed:   trace.RerankFailed,
	})
}

// conversationWithMessages always renders the messages array, even when empty
type conversationWithMessages struct {
	*models.Conversation
	Messages []*models.Message `json:"messages"`
}

func (h *ChatHandler) conversationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	if err := utils.ValidateUUID(raw); err != nil {
		HandleValidationError(w, err, h.logger)
		return uuid.Nil, false
	}
	return uuid.MustParse(raw), true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func preview(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n]) + "..."
}
