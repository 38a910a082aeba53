package ingest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/acoustid-go/fpindex/pkg/errors"
	"github.com/acoustid-go/fpindex/pkg/logger"
)

// Handler is the HTTP entry point for submitting operation batches.
type Handler struct {
	publisher *Publisher
	logger    *slog.Logger
}

// NewHandler creates a Handler backed by pub.
func NewHandler(pub *Publisher) *Handler {
	return &Handler{
		publisher: pub,
		logger:    slog.Default().With("component", "ingest-handler"),
	}
}

// Ingest handles POST /api/v1/ops: decode, validate, publish.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := ValidateBatchRequest(&req); err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.publisher.Publish(ctx, &req); err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		log.Error("publishing batch failed", "error", err, "status_code", statusCode)
		h.writeError(w, statusCode, "publishing batch failed")
		return
	}
	log.Info("batch accepted", "ops", len(req.Ops))
	h.writeJSON(w, http.StatusAccepted, BatchResponse{Status: "accepted"})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
