package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/finsight-ai/assistant-platform/internal/export"
	"github.com/finsight-ai/assistant-platform/internal/middleware"
	"github.com/finsight-ai/assistant-platform/internal/session"
	"github.com/finsight-ai/assistant-platform/pkg/logger"
	"github.com/finsight-ai/assistant-platform/pkg/metrics"
)

// ActionHandler serves the per-turn user actions: document download and
// "add to CRM".
type ActionHandler struct {
	orchestrator *session.Orchestrator
	exporter     *export.Service
	logger       *logger.Logger
}

// NewActionHandler creates a new action handler.
func NewActionHandler(orch *session.Orchestrator, exporter *export.Service, log *logger.Logger) *ActionHandler {
	return &ActionHandler{
		orchestrator: orch,
		exporter:     exporter,
		logger:       log,
	}
}

// DownloadDocument handles GET /api/v1/conversations/:id/turns/:turnID/document?format=
// The draft is recomputed from the turn's stored text on every request.
func (h *ActionHandler) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	conversationID := chi.URLParam(r, "id")
	turnID := chi.URLParam(r, "turnID")

	if err := middleware.ValidateTurnID(turnID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	draft, err := h.orchestrator.DocumentDraft(tenantID, conversationID, turnID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrTurnNotFound):
			writeError(w, http.StatusNotFound, "turn not found")
		case errors.Is(err, session.ErrNoDocument):
			writeError(w, http.StatusConflict, "turn has no exportable document")
		default:
			writeError(w, http.StatusInternalServerError, "failed to build document")
		}
		return
	}

	result, err := h.exporter.Export(r.Context(), draft, format)
	if err != nil {
		metrics.DocumentExportsTotal.WithLabelValues(string(format), "error").Inc()
		if errors.Is(err, export.ErrRendererUnavailable) {
			writeError(w, http.StatusNotImplemented, err.Error())
			return
		}
		h.logger.Error("document export failed", zap.String("turn_id", turnID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to render document")
		return
	}

	metrics.DocumentExportsTotal.WithLabelValues(string(format), "success").Inc()
	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	w.Write(result.Data)
}

// SaveContact handles POST /api/v1/conversations/:id/turns/:turnID/contact
func (h *ActionHandler) SaveContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	conversationID := chi.URLParam(r, "id")
	turnID := chi.URLParam(r, "turnID")

	if err := middleware.ValidateTurnID(turnID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	action, err := h.orchestrator.SaveContact(ctx, tenantID, conversationID, turnID, middleware.GetUserID(ctx))
	if err != nil {
		switch {
		case errors.Is(err, session.ErrTurnNotFound):
			writeError(w, http.StatusNotFound, "turn not found")
		case errors.Is(err, session.ErrNoContactAction):
			writeError(w, http.StatusConflict, "turn has no contact action")
		default:
			h.logger.Error("contact save failed", zap.String("turn_id", turnID), zap.Error(err))
			writeError(w, http.StatusBadGateway, "failed to save contact")
		}
		return
	}

	writeJSON(w, http.StatusOK, action)
}
