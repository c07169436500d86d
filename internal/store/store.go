// Package store defines the conversation and contact store adapters. The
// pipeline persists through these interfaces only; write failures are
// generic store errors the orchestrator treats as non-fatal.
package store

import (
	"context"
	"errors"

	"github.com/finsight-ai/assistant-platform/internal/model"
)

// ErrNotFound is returned when a conversation does not exist or belongs to
// a different tenant.
var ErrNotFound = errors.New("conversation not found")

// ConversationStore persists conversations and their turns.
type ConversationStore interface {
	// CreateConversation creates a conversation owned by the given user.
	CreateConversation(ctx context.Context, tenantID, userID, title string) (*model.Conversation, error)

	// GetConversation loads one conversation.
	GetConversation(ctx context.Context, tenantID, conversationID string) (*model.Conversation, error)

	// AppendTurn appends a finalized turn and returns its store sequence.
	AppendTurn(ctx context.Context, turn *model.Turn) (uint64, error)

	// UpdateConversationTitle replaces a conversation's title.
	UpdateConversationTitle(ctx context.Context, tenantID, conversationID, title string) error

	// ListConversations lists a user's conversations within a tenant.
	ListConversations(ctx context.Context, tenantID, userID string) ([]model.Conversation, error)

	// LoadTurns reads turns after a sequence cursor, oldest first.
	LoadTurns(ctx context.Context, tenantID, conversationID string, afterSequence uint64, limit int) ([]model.Turn, uint64, bool, error)
}

// ContactStore hands extracted contact drafts to the CRM. userID may be
// empty; there is no auth gate at this call.
type ContactStore interface {
	CreateContact(ctx context.Context, tenantID, userID string, draft model.ContactDraft) error
}
