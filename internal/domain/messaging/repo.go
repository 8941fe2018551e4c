package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ConversationRepository persists conversations and their participants.
type ConversationRepository interface {
	Create(ctx context.Context, c *Conversation, participants []*Participant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Conversation, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*ConversationSummary, int, error)
	Participants(ctx context.Context, conversationID uuid.UUID) ([]*Participant, error)
	IsParticipant(ctx context.Context, userID string, conversationID uuid.UUID) (bool, error)
	Touch(ctx context.Context, conversationID uuid.UUID, at time.Time) error
	IncrementUnread(ctx context.Context, conversationID uuid.UUID, exceptUserID string) error
	MarkRead(ctx context.Context, conversationID uuid.UUID, userID string, at time.Time) error
}

// MessageRepository persists messages.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	ListByConversation(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*Message, int, error)
}
