package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/finsight-ai/assistant-platform/internal/middleware"
	"github.com/finsight-ai/assistant-platform/internal/model"
	"github.com/finsight-ai/assistant-platform/internal/session"
	"github.com/finsight-ai/assistant-platform/internal/store"
	"github.com/finsight-ai/assistant-platform/pkg/logger"
	"github.com/finsight-ai/assistant-platform/pkg/metrics"
)

// TurnHandler handles turn listing and prompt submission.
type TurnHandler struct {
	orchestrator *session.Orchestrator
	store        store.ConversationStore
	logger       *logger.Logger
}

// NewTurnHandler creates a new turn handler.
func NewTurnHandler(orch *session.Orchestrator, s store.ConversationStore, log *logger.Logger) *TurnHandler {
	return &TurnHandler{
		orchestrator: orch,
		store:        s,
		logger:       log,
	}
}

// List handles GET /api/v1/conversations/:id/turns
func (h *TurnHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The session log is authoritative while the process is alive; fall
	// back to the store for conversations this process has not touched.
	if turns := h.orchestrator.Turns(tenantID, conversationID); len(turns) > 0 {
		writeJSON(w, http.StatusOK, &model.ListTurnsResponse{Turns: turns})
		return
	}

	if middleware.GetUserID(ctx) == "" {
		writeJSON(w, http.StatusOK, &model.ListTurnsResponse{})
		return
	}

	afterSequence := uint64(0)
	if seq := r.URL.Query().Get("after_sequence"); seq != "" {
		if parsed, err := strconv.ParseUint(seq, 10, 64); err == nil {
			afterSequence = parsed
		}
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	turns, lastSeq, hasMore, err := h.store.LoadTurns(ctx, tenantID, conversationID, afterSequence, limit)
	if err != nil {
		h.logger.Error("failed to load turns", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load turns")
		return
	}

	writeJSON(w, http.StatusOK, &model.ListTurnsResponse{
		Turns:        turns,
		LastSequence: lastSeq,
		HasMore:      hasMore,
	})
}

// Send handles POST /api/v1/conversations/:id/turns
// The response is an SSE stream: user_turn, token*, turn_complete, done.
// On failure an error event is sent and the client restores the prompt.
func (h *TurnHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidatePrompt(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	// A dropped SSE connection abandons the turn: late fragments are
	// discarded instead of racing a dead writer.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			h.orchestrator.Cancel(conversationID)
		case <-done:
		}
	}()

	result, err := h.orchestrator.Send(ctx, session.SendParams{
		TenantID:       tenantID,
		UserID:         userID,
		ConversationID: conversationID,
		Prompt:         req.Text,
		Model:          req.Model,
	}, session.Events{
		OnUserTurn: func(turn model.Turn) {
			sendSSEEvent(w, flusher, "user_turn", turn)
		},
		OnFragment: func(fragment string, index int, _ string) {
			sendSSEEvent(w, flusher, "token", &model.TokenEvent{Token: fragment, Index: index})
		},
	})

	if err != nil {
		if errors.Is(err, session.ErrConversationBusy) {
			sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
				Code:    "conversation_busy",
				Message: "a turn is already streaming for this conversation",
			})
			return
		}
		if errors.Is(err, session.ErrConversationNotFound) {
			sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
				Code:    "conversation_not_found",
				Message: "conversation not found",
			})
			return
		}

		// Stream failure: the client keeps the user turn visible and puts
		// the prompt back in the input box.
		payload := map[string]string{"message": err.Error()}
		if result != nil {
			payload["restored_input"] = result.RestoredInput
		}
		sendSSEEvent(w, flusher, "error", payload)
		return
	}

	sendSSEEvent(w, flusher, "turn_complete", &model.TurnCompleteEvent{
		Turn:     *result.AssistantTurn,
		Sequence: result.AssistantTurn.Sequence,
	})
	sendSSEEvent(w, flusher, "done", map[string]bool{"success": true})
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
