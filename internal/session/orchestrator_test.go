package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/assistant-platform/internal/config"
	"github.com/finsight-ai/assistant-platform/internal/llm"
	"github.com/finsight-ai/assistant-platform/internal/model"
	"github.com/finsight-ai/assistant-platform/pkg/logger"
)

// scriptedClient replays fragments, optionally blocking mid-stream or
// failing at the end.
type scriptedClient struct {
	fragments []string
	failWith  error

	// when set, the client signals started after the first fragment and
	// waits for release before continuing.
	started chan struct{}
	release chan struct{}
}

func (c *scriptedClient) Name() string { return "scripted" }

func (c *scriptedClient) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if c.failWith != nil {
		return nil, c.failWith
	}
	return &llm.CompletionResponse{Content: strings.Join(c.fragments, ""), Model: "scripted-model"}, nil
}

func (c *scriptedClient) CompleteStream(ctx context.Context, req *llm.CompletionRequest, cb llm.StreamCallback) (*llm.CompletionResponse, error) {
	var content string
	for i, fr := range c.fragments {
		if err := cb(fr, i); err != nil {
			return nil, err
		}
		content += fr
		if i == 0 && c.started != nil {
			close(c.started)
			<-c.release
		}
	}
	if c.failWith != nil {
		return nil, c.failWith
	}
	return &llm.CompletionResponse{Content: content, Model: "scripted-model"}, nil
}

type fakeConvStore struct {
	mu        sync.Mutex
	appended  []model.Turn
	titles    map[string]string
	appendErr error
	titleSet  chan string
}

func newFakeConvStore() *fakeConvStore {
	return &fakeConvStore{titles: make(map[string]string), titleSet: make(chan string, 1)}
}

func (s *fakeConvStore) CreateConversation(ctx context.Context, tenantID, userID, title string) (*model.Conversation, error) {
	return &model.Conversation{ID: "conv-1", TenantID: tenantID, UserID: userID, Title: title}, nil
}

func (s *fakeConvStore) GetConversation(ctx context.Context, tenantID, conversationID string) (*model.Conversation, error) {
	return &model.Conversation{ID: conversationID, TenantID: tenantID}, nil
}

func (s *fakeConvStore) AppendTurn(ctx context.Context, turn *model.Turn) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return 0, s.appendErr
	}
	s.appended = append(s.appended, *turn)
	return uint64(len(s.appended)), nil
}

func (s *fakeConvStore) UpdateConversationTitle(ctx context.Context, tenantID, conversationID, title string) error {
	s.mu.Lock()
	s.titles[conversationID] = title
	s.mu.Unlock()
	select {
	case s.titleSet <- title:
	default:
	}
	return nil
}

func (s *fakeConvStore) ListConversations(ctx context.Context, tenantID, userID string) ([]model.Conversation, error) {
	return nil, nil
}

func (s *fakeConvStore) LoadTurns(ctx context.Context, tenantID, conversationID string, afterSequence uint64, limit int) ([]model.Turn, uint64, bool, error) {
	return nil, 0, false, nil
}

func (s *fakeConvStore) appendedTurns() []model.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Turn(nil), s.appended...)
}

type fakeContactStore struct {
	mu      sync.Mutex
	created []model.ContactDraft
	err     error
}

func (s *fakeContactStore) CreateContact(ctx context.Context, tenantID, userID string, draft model.ContactDraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.created = append(s.created, draft)
	return nil
}

func (s *fakeContactStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}

func testConfig() config.Assistant {
	return config.Assistant{
		Name:             "Test Assistant",
		StreamingEnabled: true,
		DocumentMinChars: 200,
		TitleMaxChars:    50,
		HistoryLimit:     50,
		PublicTenant:     "public",
	}
}

func newTestOrchestrator(client llm.Client, convs *fakeConvStore, contacts *fakeContactStore) *Orchestrator {
	return New(client, convs, contacts, testConfig(), logger.NewNop())
}

func TestSendHappyPath(t *testing.T) {
	client := &scriptedClient{fragments: []string{"The stock ", "market looks ", "stable."}}
	convs := newFakeConvStore()
	o := newTestOrchestrator(client, convs, &fakeContactStore{})

	var buffers []string
	var finalized *model.Turn

	result, err := o.Send(context.Background(), SendParams{
		TenantID:       "t1",
		UserID:         "u1",
		ConversationID: "c1",
		Prompt:         "How does the market look?",
	}, Events{
		OnFragment:  func(_ string, _ int, buffer string) { buffers = append(buffers, buffer) },
		OnFinalized: func(turn model.Turn) { finalized = &turn },
	})

	require.NoError(t, err)
	assert.Equal(t, StatePersisted, result.State)
	assert.Equal(t, model.RoleUser, result.UserTurn.Role)
	assert.Equal(t, "The stock market looks stable.", result.AssistantTurn.Text)
	assert.Equal(t, model.CategoryMarket, result.AssistantTurn.Category)

	// Buffers republished after each fragment, growing monotonically.
	assert.Equal(t, []string{"The stock ", "The stock market looks ", "The stock market looks stable."}, buffers)

	require.NotNil(t, finalized)
	assert.Equal(t, result.AssistantTurn.ID, finalized.ID)

	// Both turns persisted, user first.
	appended := convs.appendedTurns()
	require.Len(t, appended, 2)
	assert.Equal(t, model.RoleUser, appended[0].Role)
	assert.Equal(t, model.RoleAssistant, appended[1].Role)

	assert.Equal(t, StateIdle, o.State("c1"))
}

func TestSendStreamErrorRollsBack(t *testing.T) {
	client := &scriptedClient{fragments: []string{"Hel", "lo wor", "ld"}, failWith: errors.New("network")}
	convs := newFakeConvStore()
	o := newTestOrchestrator(client, convs, &fakeContactStore{})

	prompt := "Tell me something"
	result, err := o.Send(context.Background(), SendParams{
		TenantID: "t1", UserID: "u1", ConversationID: "c1", Prompt: prompt,
	}, Events{})

	require.Error(t, err)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, prompt, result.RestoredInput)
	assert.Nil(t, result.AssistantTurn)

	// The turn list shows the user turn only; no assistant turn anywhere.
	turns := o.Turns("t1", "c1")
	require.Len(t, turns, 1)
	assert.Equal(t, model.RoleUser, turns[0].Role)

	for _, turn := range convs.appendedTurns() {
		assert.NotEqual(t, model.RoleAssistant, turn.Role)
	}

	assert.Equal(t, StateIdle, o.State("c1"), "a failed turn is terminal; the conversation returns to idle")
}

func TestSendRejectsConcurrentTurn(t *testing.T) {
	client := &scriptedClient{
		fragments: []string{"part one ", "part two"},
		started:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	o := newTestOrchestrator(client, newFakeConvStore(), &fakeContactStore{})

	done := make(chan error, 1)
	go func() {
		_, err := o.Send(context.Background(), SendParams{
			TenantID: "t1", UserID: "u1", ConversationID: "c1", Prompt: "first",
		}, Events{})
		done <- err
	}()

	<-client.started
	assert.Equal(t, StateStreaming, o.State("c1"))

	_, err := o.Send(context.Background(), SendParams{
		TenantID: "t1", UserID: "u1", ConversationID: "c1", Prompt: "second",
	}, Events{})
	assert.ErrorIs(t, err, ErrConversationBusy)

	close(client.release)
	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, o.State("c1"))
}

func TestSendEmptyPrompt(t *testing.T) {
	o := newTestOrchestrator(&scriptedClient{}, newFakeConvStore(), &fakeContactStore{})
	_, err := o.Send(context.Background(), SendParams{ConversationID: "c1"}, Events{})
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestContactExtractionAndMonotonicSave(t *testing.T) {
	reply := "Done.\n\n**Name**: Jane Doe\n**Email**: jane@acme.com"
	client := &scriptedClient{fragments: []string{reply}}
	convs := newFakeConvStore()
	contacts := &fakeContactStore{}
	o := newTestOrchestrator(client, convs, contacts)

	result, err := o.Send(context.Background(), SendParams{
		TenantID: "t1", UserID: "u1", ConversationID: "c1",
		Prompt: "Add a new contact to CRM: Jane Doe",
	}, Events{})
	require.NoError(t, err)

	turn := result.AssistantTurn
	require.NotNil(t, turn.ContactAction)
	assert.Equal(t, "Jane Doe", turn.ContactAction.Contact.Name)
	assert.Equal(t, "jane@acme.com", turn.ContactAction.Contact.Email)
	assert.False(t, turn.ContactAction.Saved)

	action, err := o.SaveContact(context.Background(), "t1", "c1", turn.ID, "u1")
	require.NoError(t, err)
	assert.True(t, action.Saved)
	assert.Equal(t, 1, contacts.calls())

	// Saved is monotonic: a second save is a no-op and never resets.
	action, err = o.SaveContact(context.Background(), "t1", "c1", turn.ID, "u1")
	require.NoError(t, err)
	assert.True(t, action.Saved)
	assert.Equal(t, 1, contacts.calls())
}

func TestSaveContactFailureKeepsFlagFalse(t *testing.T) {
	reply := "Name: Bob Ray"
	client := &scriptedClient{fragments: []string{reply}}
	contacts := &fakeContactStore{err: errors.New("store down")}
	o := newTestOrchestrator(client, newFakeConvStore(), contacts)

	result, err := o.Send(context.Background(), SendParams{
		TenantID: "t1", UserID: "u1", ConversationID: "c1", Prompt: "add contact",
	}, Events{})
	require.NoError(t, err)
	require.NotNil(t, result.AssistantTurn.ContactAction)

	_, err = o.SaveContact(context.Background(), "t1", "c1", result.AssistantTurn.ID, "u1")
	require.Error(t, err)

	turn, err := o.GetTurn("t1", "c1", result.AssistantTurn.ID)
	require.NoError(t, err)
	assert.False(t, turn.ContactAction.Saved)
}

func TestNoContactWithoutCRMIntent(t *testing.T) {
	// The reply contains contact-shaped lines, but the prompt never asked.
	reply := "Name: Jane Doe\nEmail: jane@acme.com"
	client := &scriptedClient{fragments: []string{reply}}
	o := newTestOrchestrator(client, newFakeConvStore(), &fakeContactStore{})

	result, err := o.Send(context.Background(), SendParams{
		TenantID: "t1", UserID: "u1", ConversationID: "c1", Prompt: "Who is Jane?",
	}, Events{})
	require.NoError(t, err)
	assert.Nil(t, result.AssistantTurn.ContactAction)
}

func TestDocumentThresholdGate(t *testing.T) {
	short := strings.Repeat("r", 150)
	long := "# Quarterly Report\n" + strings.Repeat("r", 250)

	tests := []struct {
		name     string
		reply    string
		wantFlag bool
	}{
		{"reply under threshold", short, false},
		{"reply over threshold", long, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &scriptedClient{fragments: []string{tt.reply}}
			o := newTestOrchestrator(client, newFakeConvStore(), &fakeContactStore{})

			result, err := o.Send(context.Background(), SendParams{
				TenantID: "t1", UserID: "u1", ConversationID: "c1",
				Prompt: "Please write a report on Q3",
			}, Events{})
			require.NoError(t, err)
			assert.Equal(t, tt.wantFlag, result.AssistantTurn.DocumentFlag)

			if tt.wantFlag {
				assert.Equal(t, "Quarterly Report", result.AssistantTurn.DocumentTitle)
				assert.Equal(t, "report", result.AssistantTurn.DocumentType)

				draft, err := o.DocumentDraft("t1", "c1", result.AssistantTurn.ID)
				require.NoError(t, err)
				assert.Equal(t, "Quarterly Report", draft.Title)
			} else {
				_, err := o.DocumentDraft("t1", "c1", result.AssistantTurn.ID)
				assert.ErrorIs(t, err, ErrNoDocument)
			}
		})
	}
}

func TestAnonymousSessionSkipsPersistence(t *testing.T) {
	client := &scriptedClient{fragments: []string{"hello there"}}
	convs := newFakeConvStore()
	o := newTestOrchestrator(client, convs, &fakeContactStore{})

	result, err := o.Send(context.Background(), SendParams{
		TenantID: "public", UserID: "", ConversationID: "c1", Prompt: "hi",
	}, Events{})
	require.NoError(t, err)
	assert.Equal(t, StatePersisted, result.State)

	assert.Empty(t, convs.appendedTurns(), "anonymous turns never reach the store")
	assert.Len(t, o.Turns("public", "c1"), 2, "the session log still holds both turns")
}

func TestPersistenceFailureIsNonFatal(t *testing.T) {
	client := &scriptedClient{fragments: []string{"a perfectly good reply"}}
	convs := newFakeConvStore()
	convs.appendErr = errors.New("store unreachable")
	o := newTestOrchestrator(client, convs, &fakeContactStore{})

	result, err := o.Send(context.Background(), SendParams{
		TenantID: "t1", UserID: "u1", ConversationID: "c1", Prompt: "hello",
	}, Events{})
	require.NoError(t, err)
	assert.Equal(t, StatePersisted, result.State)
	assert.Len(t, o.Turns("t1", "c1"), 2)
}

func TestFirstTurnTitleUpdate(t *testing.T) {
	client := &scriptedClient{fragments: []string{"sure thing"}}
	convs := newFakeConvStore()
	o := newTestOrchestrator(client, convs, &fakeContactStore{})

	prompt := strings.Repeat("market question ", 10) // well past 50 chars
	_, err := o.Send(context.Background(), SendParams{
		TenantID: "t1", UserID: "u1", ConversationID: "c1", Prompt: prompt,
	}, Events{})
	require.NoError(t, err)

	select {
	case title := <-convs.titleSet:
		assert.Equal(t, prompt[:50], title)
	case <-time.After(2 * time.Second):
		t.Fatal("title update never issued")
	}

	// No title update on the second turn.
	_, err = o.Send(context.Background(), SendParams{
		TenantID: "t1", UserID: "u1", ConversationID: "c1", Prompt: "follow-up question",
	}, Events{})
	require.NoError(t, err)

	select {
	case title := <-convs.titleSet:
		t.Fatalf("unexpected title update on second turn: %q", title)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCrossTenantAccessIsDenied(t *testing.T) {
	reply := "Done.\n\n**Name**: Jane Doe\n**Email**: jane@acme.com"
	client := &scriptedClient{fragments: []string{reply}}
	contacts := &fakeContactStore{}
	o := newTestOrchestrator(client, newFakeConvStore(), contacts)

	result, err := o.Send(context.Background(), SendParams{
		TenantID: "tenant-a", UserID: "u1", ConversationID: "c1",
		Prompt: "Add a new contact to CRM: Jane Doe",
	}, Events{})
	require.NoError(t, err)
	turnID := result.AssistantTurn.ID

	// Another tenant's view of the same conversation ID is empty; the
	// owner still sees both turns.
	assert.Empty(t, o.Turns("tenant-b", "c1"))
	assert.Len(t, o.Turns("tenant-a", "c1"), 2)

	_, err = o.GetTurn("tenant-b", "c1", turnID)
	assert.ErrorIs(t, err, ErrTurnNotFound)

	_, err = o.SaveContact(context.Background(), "tenant-b", "c1", turnID, "u2")
	assert.ErrorIs(t, err, ErrTurnNotFound)
	assert.Equal(t, 0, contacts.calls(), "a cross-tenant save must never reach the CRM")

	_, err = o.DocumentDraft("tenant-b", "c1", turnID)
	assert.ErrorIs(t, err, ErrTurnNotFound)

	// Sending into another tenant's conversation is rejected outright.
	_, err = o.Send(context.Background(), SendParams{
		TenantID: "tenant-b", UserID: "u2", ConversationID: "c1", Prompt: "hello",
	}, Events{})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

// blockingContactStore holds its first CreateContact open until released.
type blockingContactStore struct {
	entered chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func (s *blockingContactStore) CreateContact(ctx context.Context, tenantID, userID string, draft model.ContactDraft) error {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()
	if first {
		close(s.entered)
		<-s.release
	}
	return nil
}

func (s *blockingContactStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestConcurrentSaveContactPublishesOnce(t *testing.T) {
	reply := "Name: Bob Ray"
	client := &scriptedClient{fragments: []string{reply}}
	contacts := &blockingContactStore{entered: make(chan struct{}), release: make(chan struct{})}
	o := New(client, newFakeConvStore(), contacts, testConfig(), logger.NewNop())

	result, err := o.Send(context.Background(), SendParams{
		TenantID: "t1", UserID: "u1", ConversationID: "c1", Prompt: "add contact",
	}, Events{})
	require.NoError(t, err)
	turnID := result.AssistantTurn.ID

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		action, err := o.SaveContact(context.Background(), "t1", "c1", turnID, "u1")
		assert.NoError(t, err)
		assert.True(t, action.Saved)
	}()

	// The first save is inside the CRM write; a second save for the same
	// turn must wait for it rather than issue its own.
	<-contacts.entered

	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		action, err := o.SaveContact(context.Background(), "t1", "c1", turnID, "u1")
		assert.NoError(t, err)
		assert.True(t, action.Saved)
	}()

	time.Sleep(50 * time.Millisecond)
	close(contacts.release)

	<-firstDone
	<-secondDone
	assert.Equal(t, 1, contacts.callCount(), "overlapping saves must publish a single contact")
}

func TestNonStreamingDeliversSingleFragment(t *testing.T) {
	client := &scriptedClient{fragments: []string{"full ", "reply"}}
	cfg := testConfig()
	cfg.StreamingEnabled = false
	o := New(client, newFakeConvStore(), &fakeContactStore{}, cfg, logger.NewNop())

	var fragments int
	result, err := o.Send(context.Background(), SendParams{
		TenantID: "t1", UserID: "u1", ConversationID: "c1", Prompt: "hi",
	}, Events{
		OnFragment: func(string, int, string) { fragments++ },
	})

	require.NoError(t, err)
	assert.Equal(t, 1, fragments)
	assert.Equal(t, "full reply", result.AssistantTurn.Text)
}
