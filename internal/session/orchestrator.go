// Package session implements the per-turn orchestration of the assistant
// pipeline: prompt submission, stream consumption, finalization and
// persistence, modeled as an explicit state machine.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finsight-ai/assistant-platform/internal/classify"
	"github.com/finsight-ai/assistant-platform/internal/config"
	"github.com/finsight-ai/assistant-platform/internal/extract"
	"github.com/finsight-ai/assistant-platform/internal/llm"
	"github.com/finsight-ai/assistant-platform/internal/model"
	"github.com/finsight-ai/assistant-platform/internal/store"
	"github.com/finsight-ai/assistant-platform/internal/stream"
	"github.com/finsight-ai/assistant-platform/pkg/logger"
	"github.com/finsight-ai/assistant-platform/pkg/metrics"
)

// State names one phase of a turn's lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateSending    State = "sending"
	StateStreaming  State = "streaming"
	StateFinalizing State = "finalizing"
	StatePersisted  State = "persisted"
	StateFailed     State = "failed"
)

var (
	// ErrConversationBusy rejects a submission while a prior turn is still
	// streaming or finalizing for the same conversation.
	ErrConversationBusy = errors.New("conversation has an active turn")

	// ErrEmptyPrompt rejects blank submissions.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrConversationNotFound is returned when a conversation is not
	// visible to the caller's tenant.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrTurnNotFound is returned for unknown turn IDs.
	ErrTurnNotFound = errors.New("turn not found")

	// ErrNoContactAction is returned when a turn carries no extracted contact.
	ErrNoContactAction = errors.New("turn has no contact action")

	// ErrNoDocument is returned when a turn was not flagged as a document.
	ErrNoDocument = errors.New("turn has no exportable document")

	// ErrAbandoned is returned when the turn's stream was cancelled.
	ErrAbandoned = errors.New("turn abandoned")
)

// Events receives per-turn notifications. Any field may be nil.
type Events struct {
	// OnUserTurn fires once the user turn exists.
	OnUserTurn func(turn model.Turn)

	// OnFragment fires per fragment with the reassembled buffer so far.
	OnFragment func(fragment string, index int, buffer string)

	// OnFinalized fires with the finished assistant turn.
	OnFinalized func(turn model.Turn)
}

// SendParams carries one prompt submission.
type SendParams struct {
	TenantID       string
	UserID         string // empty for anonymous sessions; persistence is skipped
	ConversationID string
	Prompt         string
	Model          string
}

// Result is the outcome of one turn.
type Result struct {
	State         State
	UserTurn      *model.Turn
	AssistantTurn *model.Turn

	// RestoredInput carries the original prompt back to the caller when the
	// stream fails, so nothing the user typed is lost.
	RestoredInput string
}

// turnSession is the mutable state of the one active turn per conversation.
type turnSession struct {
	state     State
	reader    *stream.Reader
	assembler *stream.Assembler
	turnID    string
}

// Orchestrator drives the assistant pipeline per user turn. Its in-memory
// turn log is authoritative for the session; the conversation store is
// best-effort behind it.
type Orchestrator struct {
	client   llm.Client
	convs    store.ConversationStore
	contacts store.ContactStore
	cfg      config.Assistant
	log      *logger.Logger

	mu      sync.Mutex
	active  map[string]*turnSession
	history map[string][]*model.Turn

	// saving holds a channel per turn with a CRM write in flight, so a
	// second save waits for the first instead of publishing a duplicate.
	saving map[string]chan struct{}
}

// New creates an orchestrator. The assistant config is captured by value;
// nothing reads ambient state mid-flow.
func New(client llm.Client, convs store.ConversationStore, contacts store.ContactStore, cfg config.Assistant, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		client:   client,
		convs:    convs,
		contacts: contacts,
		cfg:      cfg,
		log:      log,
		active:   make(map[string]*turnSession),
		history:  make(map[string][]*model.Turn),
		saving:   make(map[string]chan struct{}),
	}
}

// State reports the lifecycle state of the conversation's active turn, or
// idle when none is in flight.
func (o *Orchestrator) State(conversationID string) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ts, ok := o.active[conversationID]; ok {
		return ts.state
	}
	return StateIdle
}

// Cancel abandons the conversation's active stream, if any. Buffer
// mutation stops immediately; in-flight store writes may complete but no
// longer touch session-visible state.
func (o *Orchestrator) Cancel(conversationID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ts, ok := o.active[conversationID]; ok && ts.reader != nil {
		ts.reader.Cancel()
	}
}

// Send runs one full turn: user turn creation, stream consumption,
// finalization and persistence. It blocks until the turn reaches a
// terminal state. Exactly one Send may be active per conversation.
func (o *Orchestrator) Send(ctx context.Context, p SendParams, events Events) (*Result, error) {
	if p.Prompt == "" {
		return nil, ErrEmptyPrompt
	}

	ts := &turnSession{state: StateSending}

	o.mu.Lock()
	if _, busy := o.active[p.ConversationID]; busy {
		o.mu.Unlock()
		return nil, ErrConversationBusy
	}
	o.active[p.ConversationID] = ts
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.active, p.ConversationID)
		o.mu.Unlock()
	}()

	o.hydrate(ctx, p)

	// Verify conversation belongs to the caller's tenant.
	prior := o.sessionTurns(p.ConversationID)
	if len(prior) > 0 && prior[0].TenantID != p.TenantID {
		return nil, ErrConversationNotFound
	}
	firstTurn := len(prior) == 0

	userTurn := &model.Turn{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: p.ConversationID,
		TenantID:       p.TenantID,
		Role:           model.RoleUser,
		Text:           p.Prompt,
		CreatedAt:      time.Now(),
	}
	o.appendHistory(userTurn)
	metrics.TurnsTotal.WithLabelValues(p.TenantID, string(model.RoleUser)).Inc()

	if events.OnUserTurn != nil {
		events.OnUserTurn(*userTurn)
	}

	// Intents are detected from the user's prompt, not the reply.
	wantsDocument, documentType := classify.DetectDocumentIntent(p.Prompt)
	crmIntent := classify.DetectCRMIntent(p.Prompt)

	o.persistTurn(ctx, p.UserID, userTurn)

	// Streaming phase: a fresh buffer bound to the placeholder turn.
	ts.turnID = uuid.Must(uuid.NewV7()).String()
	ts.assembler = stream.NewAssembler()
	ts.reader = stream.NewReader(o.client)
	o.setState(ts, StateStreaming)

	req := &llm.CompletionRequest{
		Model:    p.Model,
		Messages: o.promptContext(p.ConversationID),
	}

	var (
		resp      *llm.CompletionResponse
		streamErr error
	)
	handler := stream.Handler{
		OnFragment: func(fragment string, index int) {
			buffer := ts.assembler.Append(fragment)
			if events.OnFragment != nil {
				events.OnFragment(fragment, index, buffer)
			}
		},
		OnComplete: func(r *llm.CompletionResponse) { resp = r },
		OnError:    func(err error) { streamErr = err },
	}

	start := time.Now()
	if o.cfg.StreamingEnabled {
		ts.reader.Run(ctx, req, handler)
	} else {
		ts.reader.RunOnce(ctx, req, handler)
	}

	if streamErr != nil || resp == nil {
		// Rollback: the assistant placeholder never reaches the turn log,
		// and the user's input is handed back so nothing is lost. No retry
		// here; resending is a user decision.
		o.setState(ts, StateFailed)

		result := &Result{State: StateFailed, UserTurn: userTurn, RestoredInput: p.Prompt}
		if streamErr != nil {
			o.log.Warn("stream failed",
				zap.String("conversation_id", p.ConversationID),
				zap.Error(streamErr),
			)
			metrics.StreamDuration.WithLabelValues(req.Model, "error").Observe(time.Since(start).Seconds())
			return result, fmt.Errorf("stream failed: %w", streamErr)
		}
		return result, ErrAbandoned
	}

	o.setState(ts, StateFinalizing)
	assistantTurn := o.finalize(ts, p, resp, wantsDocument, documentType, crmIntent)
	metrics.RecordStream(resp.Model, "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)

	o.appendHistory(assistantTurn)
	metrics.TurnsTotal.WithLabelValues(p.TenantID, string(model.RoleAssistant)).Inc()
	metrics.TurnsByCategory.WithLabelValues(string(assistantTurn.Category)).Inc()

	o.persistTurn(ctx, p.UserID, assistantTurn)

	// Title side effect on the first turn of a fresh conversation: issued
	// only after the append write above has resolved, fire-and-forget.
	if firstTurn && p.UserID != "" {
		o.updateTitle(ctx, p)
	}

	o.setState(ts, StatePersisted)
	if events.OnFinalized != nil {
		events.OnFinalized(*assistantTurn)
	}

	return &Result{
		State:         StatePersisted,
		UserTurn:      userTurn,
		AssistantTurn: assistantTurn,
	}, nil
}

// finalize computes the turn's classification and extractions from the
// final buffer only, never from a stale partial one.
func (o *Orchestrator) finalize(ts *turnSession, p SendParams, resp *llm.CompletionResponse, wantsDocument bool, documentType string, crmIntent bool) *model.Turn {
	finalText := ts.assembler.Text()

	turn := &model.Turn{
		ID:             ts.turnID,
		ConversationID: p.ConversationID,
		TenantID:       p.TenantID,
		Role:           model.RoleAssistant,
		Text:           finalText,
		Category:       classify.Categorize(finalText),
		Model:          &resp.Model,
		TokensIn:       &resp.TokensIn,
		TokensOut:      &resp.TokensOut,
		LatencyMs:      &resp.LatencyMs,
		StopReason:     &resp.StopReason,
		CreatedAt:      time.Now(),
	}

	if classify.IsDocumentCandidate(wantsDocument, finalText, o.cfg.DocumentMinChars) {
		draft, ok := extract.ExtractDocument(finalText)
		metrics.RecordExtraction("document", ok)
		if ok {
			turn.DocumentFlag = true
			turn.DocumentTitle = draft.Title
			turn.DocumentType = documentType
		}
	}

	if crmIntent {
		draft, ok := extract.ExtractContact(finalText)
		metrics.RecordExtraction("contact", ok)
		if ok {
			turn.ContactAction = &model.ContactAction{Contact: draft, Saved: false}
		}
	}

	return turn
}

// SaveContact pushes a turn's extracted contact to the CRM and flips the
// saved flag exactly once. The flag is monotonic: once true it is never
// reset, and repeated calls are no-ops. Overlapping calls for the same
// turn are serialized so the CRM sees at most one write per transition.
func (o *Orchestrator) SaveContact(ctx context.Context, tenantID, conversationID, turnID, userID string) (*model.ContactAction, error) {
	turn, err := o.GetTurn(tenantID, conversationID, turnID)
	if err != nil {
		return nil, err
	}
	if turn.ContactAction == nil {
		return nil, ErrNoContactAction
	}

	for {
		o.mu.Lock()
		if turn.ContactAction.Saved {
			action := *turn.ContactAction
			o.mu.Unlock()
			return &action, nil
		}
		inflight, busy := o.saving[turnID]
		if !busy {
			break
		}
		o.mu.Unlock()

		select {
		case <-inflight:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// Claimed under o.mu by the break above.
	done := make(chan struct{})
	o.saving[turnID] = done
	o.mu.Unlock()

	err = o.contacts.CreateContact(ctx, turn.TenantID, userID, turn.ContactAction.Contact)

	o.mu.Lock()
	delete(o.saving, turnID)
	if err == nil {
		turn.ContactAction.Saved = true
	}
	action := *turn.ContactAction
	o.mu.Unlock()
	close(done)

	if err != nil {
		metrics.ContactSavesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to create contact: %w", err)
	}

	metrics.ContactSavesTotal.WithLabelValues("success").Inc()
	return &action, nil
}

// DocumentDraft recomputes the exportable draft from a finished turn's
// stored text. Drafts are never persisted; the extraction contract is
// deterministic, so every download sees the same result.
func (o *Orchestrator) DocumentDraft(tenantID, conversationID, turnID string) (model.DocumentDraft, error) {
	turn, err := o.GetTurn(tenantID, conversationID, turnID)
	if err != nil {
		return model.DocumentDraft{}, err
	}
	if !turn.DocumentFlag {
		return model.DocumentDraft{}, ErrNoDocument
	}

	draft, ok := extract.ExtractDocument(turn.Text)
	if !ok {
		return model.DocumentDraft{}, ErrNoDocument
	}
	return draft, nil
}

// GetTurn returns a turn from the session log. A turn belonging to a
// different tenant is indistinguishable from a missing one.
func (o *Orchestrator) GetTurn(tenantID, conversationID, turnID string) (*model.Turn, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, turn := range o.history[conversationID] {
		if turn.ID == turnID && turn.TenantID == tenantID {
			return turn, nil
		}
	}
	return nil, ErrTurnNotFound
}

// Turns returns a copy of the session's turn log for a conversation.
// Another tenant's conversation reads as empty.
func (o *Orchestrator) Turns(tenantID, conversationID string) []model.Turn {
	o.mu.Lock()
	defer o.mu.Unlock()
	turns := o.history[conversationID]
	if len(turns) > 0 && turns[0].TenantID != tenantID {
		return nil
	}
	out := make([]model.Turn, len(turns))
	for i, t := range turns {
		out[i] = *t
	}
	return out
}

// promptContext builds the completion request messages from the session
// log, newest HistoryLimit turns, with the assistant persona up front.
func (o *Orchestrator) promptContext(conversationID string) []llm.ChatMessage {
	o.mu.Lock()
	turns := o.history[conversationID]
	if limit := o.cfg.HistoryLimit; limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	messages := make([]llm.ChatMessage, 0, len(turns)+1)
	for _, t := range turns {
		messages = append(messages, llm.ChatMessage{Role: string(t.Role), Content: t.Text})
	}
	o.mu.Unlock()

	system := llm.ChatMessage{
		Role:    string(model.RoleSystem),
		Content: fmt.Sprintf("You are %s, a financial assistant for advisors.", o.cfg.Name),
	}
	return append([]llm.ChatMessage{system}, messages...)
}

// hydrate loads prior turns from the store when the session log is cold.
// Best-effort: a store failure leaves the session running in memory.
func (o *Orchestrator) hydrate(ctx context.Context, p SendParams) {
	if p.UserID == "" {
		return
	}
	o.mu.Lock()
	cold := len(o.history[p.ConversationID]) == 0
	o.mu.Unlock()
	if !cold {
		return
	}

	turns, _, _, err := o.convs.LoadTurns(ctx, p.TenantID, p.ConversationID, 0, o.cfg.HistoryLimit)
	if err != nil {
		o.log.Debug("failed to hydrate conversation",
			zap.String("conversation_id", p.ConversationID),
			zap.Error(err),
		)
		return
	}

	o.mu.Lock()
	if len(o.history[p.ConversationID]) == 0 {
		for i := range turns {
			t := turns[i]
			o.history[p.ConversationID] = append(o.history[p.ConversationID], &t)
		}
	}
	o.mu.Unlock()
}

// persistTurn writes a turn to the conversation store. Skipped entirely
// for anonymous sessions; failures are logged and swallowed because the
// in-memory turn stays authoritative.
func (o *Orchestrator) persistTurn(ctx context.Context, userID string, turn *model.Turn) {
	if userID == "" {
		return
	}

	seq, err := o.convs.AppendTurn(ctx, turn)
	if err != nil {
		metrics.StoreWriteFailures.WithLabelValues("append_turn").Inc()
		o.log.Warn("failed to persist turn",
			zap.String("turn_id", turn.ID),
			zap.Error(err),
		)
		return
	}

	o.mu.Lock()
	turn.Sequence = seq
	o.mu.Unlock()
}

// updateTitle derives a conversation title from the first prompt. Fire and
// forget: it never gates user-visible state.
func (o *Orchestrator) updateTitle(ctx context.Context, p SendParams) {
	title := p.Prompt
	if limit := o.cfg.TitleMaxChars; limit > 0 {
		if runes := []rune(title); len(runes) > limit {
			title = string(runes[:limit])
		}
	}

	go func(ctx context.Context) {
		if err := o.convs.UpdateConversationTitle(ctx, p.TenantID, p.ConversationID, title); err != nil {
			metrics.StoreWriteFailures.WithLabelValues("update_title").Inc()
			o.log.Debug("failed to update conversation title",
				zap.String("conversation_id", p.ConversationID),
				zap.Error(err),
			)
		}
	}(context.WithoutCancel(ctx))
}

func (o *Orchestrator) setState(ts *turnSession, s State) {
	o.mu.Lock()
	ts.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) appendHistory(turn *model.Turn) {
	o.mu.Lock()
	o.history[turn.ConversationID] = append(o.history[turn.ConversationID], turn)
	o.mu.Unlock()
}

func (o *Orchestrator) sessionTurns(conversationID string) []*model.Turn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.history[conversationID]
}
