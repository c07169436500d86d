package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	natsclient "github.com/finsight-ai/assistant-platform/internal/nats"
	"github.com/finsight-ai/assistant-platform/internal/model"
)

const (
	// TurnStreamName is the JetStream stream holding all conversation turns.
	TurnStreamName = "ASSISTANT_TURNS"

	// CRMStreamName is the JetStream stream carrying contact-created events
	// consumed by the downstream CRM.
	CRMStreamName = "CRM_EVENTS"

	// ConversationBucket is the KV bucket holding conversation metadata.
	ConversationBucket = "conversations"

	turnSubjectPrefix = "turns"
	crmSubjectPrefix  = "crm"
)

// NATSStore is the JetStream-backed conversation store: turns live on a
// compressed file-backed stream, conversation metadata in a KV bucket.
type NATSStore struct {
	client *natsclient.Client
	kv     jetstream.KeyValue
}

// NewNATSStore creates the store and ensures its stream and bucket exist.
func NewNATSStore(ctx context.Context, client *natsclient.Client) (*NATSStore, error) {
	js := client.JetStream()

	if _, err := js.Stream(ctx, TurnStreamName); err != nil {
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        TurnStreamName,
			Subjects:    []string{fmt.Sprintf("%s.>", turnSubjectPrefix)},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      365 * 24 * time.Hour,
			MaxBytes:    100 * 1024 * 1024 * 1024,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			Compression: jetstream.S2Compression,
			DenyDelete:  true,
			DenyPurge:   true,
			Description: "All conversation turns",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create turn stream: %w", err)
		}
	}

	kv, err := js.KeyValue(ctx, ConversationBucket)
	if err != nil {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      ConversationBucket,
			Description: "Conversation metadata",
			Storage:     jetstream.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation bucket: %w", err)
		}
	}

	return &NATSStore{client: client, kv: kv}, nil
}

func conversationKey(tenantID, conversationID string) string {
	return fmt.Sprintf("%s.%s", tenantID, conversationID)
}

// TurnSubject returns the subject a turn is published on.
func TurnSubject(tenantID, conversationID string, role model.Role) string {
	return fmt.Sprintf("%s.%s.%s.%s", turnSubjectPrefix, tenantID, conversationID, role)
}

// CreateConversation creates a conversation owned by the given user.
func (s *NATSStore) CreateConversation(ctx context.Context, tenantID, userID, title string) (*model.Conversation, error) {
	now := time.Now()
	conv := &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		TenantID:  tenantID,
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.putConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// GetConversation loads one conversation.
func (s *NATSStore) GetConversation(ctx context.Context, tenantID, conversationID string) (*model.Conversation, error) {
	entry, err := s.kv.Get(ctx, conversationKey(tenantID, conversationID))
	if err != nil {
		return nil, ErrNotFound
	}

	var conv model.Conversation
	if err := json.Unmarshal(entry.Value(), &conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	if conv.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return &conv, nil
}

// AppendTurn appends a finalized turn and returns its store sequence.
func (s *NATSStore) AppendTurn(ctx context.Context, turn *model.Turn) (uint64, error) {
	data, err := json.Marshal(turn)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal turn: %w", err)
	}

	subject := TurnSubject(turn.TenantID, turn.ConversationID, turn.Role)
	ack, err := s.client.JetStream().Publish(ctx, subject, data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish turn: %w", err)
	}

	if conv, err := s.GetConversation(ctx, turn.TenantID, turn.ConversationID); err == nil {
		conv.TurnCount++
		conv.UpdatedAt = time.Now()
		_ = s.putConversation(ctx, conv)
	}

	return ack.Sequence, nil
}

// UpdateConversationTitle replaces a conversation's title.
func (s *NATSStore) UpdateConversationTitle(ctx context.Context, tenantID, conversationID, title string) error {
	conv, err := s.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return err
	}
	conv.Title = title
	conv.UpdatedAt = time.Now()
	return s.putConversation(ctx, conv)
}

// ListConversations lists a user's conversations within a tenant, most
// recently updated first.
func (s *NATSStore) ListConversations(ctx context.Context, tenantID, userID string) ([]model.Conversation, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer lister.Stop()

	prefix := tenantID + "."
	var convs []model.Conversation

	for key := range lister.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var conv model.Conversation
		if err := json.Unmarshal(entry.Value(), &conv); err != nil {
			continue
		}
		if userID != "" && conv.UserID != userID {
			continue
		}
		convs = append(convs, conv)
	}

	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, nil
}

// LoadTurns reads turns after a sequence cursor, oldest first.
func (s *NATSStore) LoadTurns(ctx context.Context, tenantID, conversationID string, afterSequence uint64, limit int) ([]model.Turn, uint64, bool, error) {
	js := s.client.JetStream()

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: fmt.Sprintf("%s.%s.%s.>", turnSubjectPrefix, tenantID, conversationID),
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}
	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := js.CreateConsumer(ctx, TurnStreamName, consumerConfig)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to fetch turns: %w", err)
	}

	var turns []model.Turn
	var lastSequence uint64

	for msg := range batch.Messages() {
		var turn model.Turn
		if err := json.Unmarshal(msg.Data(), &turn); err != nil {
			continue
		}
		if meta, err := msg.Metadata(); err == nil {
			turn.Sequence = meta.Sequence.Stream
			lastSequence = meta.Sequence.Stream
		}
		turns = append(turns, turn)
	}

	if batch.Error() != nil && batch.Error() != context.DeadlineExceeded {
		return nil, 0, false, fmt.Errorf("batch error: %w", batch.Error())
	}

	return turns, lastSequence, len(turns) == limit, nil
}

func (s *NATSStore) putConversation(ctx context.Context, conv *model.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	if _, err := s.kv.Put(ctx, conversationKey(conv.TenantID, conv.ID), data); err != nil {
		return fmt.Errorf("failed to store conversation: %w", err)
	}
	return nil
}

// NATSContactStore publishes extracted contacts for the downstream CRM.
type NATSContactStore struct {
	client *natsclient.Client
}

// NewNATSContactStore creates the contact store and ensures its stream.
func NewNATSContactStore(ctx context.Context, client *natsclient.Client) (*NATSContactStore, error) {
	js := client.JetStream()

	if _, err := js.Stream(ctx, CRMStreamName); err != nil {
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        CRMStreamName,
			Subjects:    []string{fmt.Sprintf("%s.>", crmSubjectPrefix)},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      90 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			Description: "Contact records awaiting CRM ingestion",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create CRM stream: %w", err)
		}
	}

	return &NATSContactStore{client: client}, nil
}

// contactCreated is the wire shape of a CRM contact event.
type contactCreated struct {
	TenantID  string             `json:"tenant_id"`
	UserID    string             `json:"user_id,omitempty"`
	Contact   model.ContactDraft `json:"contact"`
	CreatedAt time.Time          `json:"created_at"`
}

// CreateContact publishes the contact draft. An empty userID is allowed;
// anonymous sessions may still create contacts.
func (s *NATSContactStore) CreateContact(ctx context.Context, tenantID, userID string, draft model.ContactDraft) error {
	event := contactCreated{
		TenantID:  tenantID,
		UserID:    userID,
		Contact:   draft,
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal contact: %w", err)
	}

	subject := fmt.Sprintf("%s.%s.contact.created", crmSubjectPrefix, tenantID)
	if _, err := s.client.JetStream().Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish contact: %w", err)
	}
	return nil
}
