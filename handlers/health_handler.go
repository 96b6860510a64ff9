package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/org-rag-assistant/utils"
)

// StatusResponse is the body of the liveness endpoints
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HealthResponse represents the readiness check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
	Passages  *int              `json:"passages,omitempty"`
}

// PassageCounter is the part of the vector index readiness needs
type PassageCounter interface {
	Count(ctx context.Context) (int, error)
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db          *sql.DB
	index       PassageCounter
	serviceName string
	logger      *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db and index may be nil.
func NewHealthHandler(db *sql.DB, index PassageCounter, serviceName string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:          db,
		index:       index,
		serviceName: serviceName,
		logger:      logger,
	}
}

// HandleRoot handles GET /
func (h *HealthHandler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteJSON(w, http.StatusOK, StatusResponse{
		Status:  "healthy",
		Message: h.serviceName + " is running",
	})
}

// HandleHealth handles GET /health
// Always 200 while the process is serving
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteJSON(w, http.StatusOK, StatusResponse{
		Status:  "healthy",
		Message: "Service is healthy",
	})
}

// HandleReadiness handles GET /readyz
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if err := h.checkDatabase(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		allHealthy = false
	} else {
		checks["database"] = "healthy"
	}

	var passages *int
	if h.index != nil {
		n, err := h.index.Count(ctx)
		if err != nil {
			h.logger.Warn("vector index health check failed", zap.Error(err))
			checks["vector_index"] = "unhealthy"
			allHealthy = false
		} else {
			checks["vector_index"] = "healthy"
			passages = &n
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		Passages:  passages,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if h.db == nil {
		return nil
	}

	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}
