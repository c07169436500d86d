// Package model defines data structures for the assistant pipeline.
package model

import (
	"time"
)

// Role represents the role of a turn's author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Category is the topical classification of an assistant turn.
type Category string

const (
	CategoryMarket     Category = "market"
	CategoryCompliance Category = "compliance"
	CategoryClient     Category = "client"
	CategoryGeneral    Category = "general"
)

// Turn is one exchange unit within a conversation. It is immutable once
// finalized, except for ContactAction.Saved which transitions false to true
// exactly once.
type Turn struct {
	// Identity
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	TenantID       string `json:"tenant_id"`

	// Content
	Role Role   `json:"role"`
	Text string `json:"text"`

	// Classification, computed once at stream completion
	Category      Category       `json:"category,omitempty"`
	DocumentFlag  bool           `json:"document_flag,omitempty"`
	DocumentTitle string         `json:"document_title,omitempty"`
	DocumentType  string         `json:"document_type,omitempty"`
	ContactAction *ContactAction `json:"contact_action,omitempty"`

	// LLM metadata (assistant turns only)
	Model      *string `json:"model,omitempty"`
	TokensIn   *int    `json:"tokens_in,omitempty"`
	TokensOut  *int    `json:"tokens_out,omitempty"`
	LatencyMs  *int64  `json:"latency_ms,omitempty"`
	StopReason *string `json:"stop_reason,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`

	// Store metadata (populated on persist/read)
	Sequence uint64 `json:"sequence,omitempty"`
}

// ContactAction attaches an extracted contact to an assistant turn. The
// embedded draft is immutable; only Saved flips, after the contact store
// confirms the write.
type ContactAction struct {
	Contact ContactDraft `json:"contact"`
	Saved   bool         `json:"saved"`
}

// SendTurnRequest is the request to submit a new user prompt.
type SendTurnRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

// ListTurnsResponse is the response for listing turns.
type ListTurnsResponse struct {
	Turns        []Turn `json:"turns"`
	HasMore      bool   `json:"has_more"`
	LastSequence uint64 `json:"last_sequence"`
}
