// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finsight-ai/assistant-platform/internal/middleware"
	"github.com/finsight-ai/assistant-platform/internal/model"
	"github.com/finsight-ai/assistant-platform/internal/store"
	"github.com/finsight-ai/assistant-platform/pkg/logger"
	"github.com/finsight-ai/assistant-platform/pkg/metrics"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	store  store.ConversationStore
	logger *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(s store.ConversationStore, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		store:  s,
		logger: log,
	}
}

// Create handles POST /api/v1/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	userID := middleware.GetUserID(ctx)

	var req model.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Anonymous sessions run purely in memory: hand back an unpersisted
	// conversation the client can stream against.
	if userID == "" {
		now := time.Now()
		writeJSON(w, http.StatusCreated, &model.Conversation{
			ID:        uuid.Must(uuid.NewV7()).String(),
			TenantID:  tenantID,
			Title:     req.Title,
			CreatedAt: now,
			UpdatedAt: now,
		})
		return
	}

	conv, err := h.store.CreateConversation(ctx, tenantID, userID, req.Title)
	if err != nil {
		h.logger.Error("failed to create conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}

	metrics.ConversationsTotal.WithLabelValues(tenantID).Inc()
	writeJSON(w, http.StatusCreated, conv)
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	userID := middleware.GetUserID(ctx)

	if userID == "" {
		writeJSON(w, http.StatusOK, &model.ListConversationsResponse{})
		return
	}

	convs, err := h.store.ListConversations(ctx, tenantID, userID)
	if err != nil {
		h.logger.Error("failed to list conversations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	writeJSON(w, http.StatusOK, &model.ListConversationsResponse{
		Conversations: convs,
		Total:         len(convs),
	})
}
