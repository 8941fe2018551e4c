package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotParticipant is returned when a caller touches a conversation they do
// not belong to.
var ErrNotParticipant = fmt.Errorf("not a participant of this conversation")

// Notifier receives messages persisted through the REST path so connected
// participants see them in realtime. The realtime relay implements this via
// the hub.
type Notifier interface {
	MessageCreated(m *Message)
}

// TxRunner executes fn inside a database transaction carried on the context.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// NopTx runs fn without a transaction. Used by tests and by deployments
// whose repositories handle atomicity themselves.
func NopTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type Service struct {
	conversations ConversationRepository
	messages      MessageRepository
	inTx          TxRunner
	notifier      Notifier
}

func NewService(conversations ConversationRepository, messages MessageRepository, inTx TxRunner) *Service {
	return &Service{conversations: conversations, messages: messages, inTx: inTx}
}

// SetNotifier attaches the realtime fan-out hook. Wired after construction
// because the relay and the service are built from the same store.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

var validRoles = map[string]bool{
	RolePatient: true, RoleDoctor: true, RoleFacilityAdmin: true,
}

// ParticipantInput names one member of a new conversation.
type ParticipantInput struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// CreateConversation starts a thread between the creator and the given
// participants. The creator is always a member.
func (s *Service) CreateConversation(ctx context.Context, creatorID, creatorRole string, subject *string, others []ParticipantInput) (*Conversation, []*Participant, error) {
	if creatorID == "" {
		return nil, nil, fmt.Errorf("creator is required")
	}
	if len(others) == 0 {
		return nil, nil, fmt.Errorf("at least one other participant is required")
	}

	participants := []*Participant{{UserID: creatorID, Role: creatorRole}}
	seen := map[string]bool{creatorID: true}
	for _, in := range others {
		if in.UserID == "" {
			return nil, nil, fmt.Errorf("participant user_id is required")
		}
		if !validRoles[in.Role] {
			return nil, nil, fmt.Errorf("invalid participant role %q", in.Role)
		}
		if seen[in.UserID] {
			continue
		}
		seen[in.UserID] = true
		participants = append(participants, &Participant{UserID: in.UserID, Role: in.Role})
	}

	conversation := &Conversation{Subject: subject, CreatedBy: creatorID}
	err := s.inTx(ctx, func(ctx context.Context) error {
		return s.conversations.Create(ctx, conversation, participants)
	})
	if err != nil {
		return nil, nil, err
	}
	return conversation, participants, nil
}

func (s *Service) ListConversations(ctx context.Context, userID string, limit, offset int) ([]*ConversationSummary, int, error) {
	return s.conversations.ListByUser(ctx, userID, limit, offset)
}

// GetConversation returns a conversation and its participants, restricted to
// members.
func (s *Service) GetConversation(ctx context.Context, userID string, id uuid.UUID) (*Conversation, []*Participant, error) {
	ok, err := s.conversations.IsParticipant(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrNotParticipant
	}
	conversation, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	participants, err := s.conversations.Participants(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return conversation, participants, nil
}

// ListMessages returns conversation history, newest first. This is the read
// path a reconnecting client uses to fetch messages it missed while offline.
func (s *Service) ListMessages(ctx context.Context, userID string, conversationID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	ok, err := s.conversations.IsParticipant(ctx, userID, conversationID)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, ErrNotParticipant
	}
	return s.messages.ListByConversation(ctx, conversationID, limit, offset)
}

// SendMessage persists a message through the REST path and notifies
// connected participants.
func (s *Service) SendMessage(ctx context.Context, senderID string, conversationID uuid.UUID, content string, attachmentRef *string) (*Message, error) {
	message, err := s.createMessage(ctx, senderID, conversationID, content, attachmentRef)
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.MessageCreated(message)
	}
	return message, nil
}

// CreateMessage persists a message without the realtime notification. The
// relay uses this path and performs its own fan-out with sender exclusion.
func (s *Service) CreateMessage(ctx context.Context, senderID string, conversationID uuid.UUID, content string, attachmentRef *string) (*Message, error) {
	return s.createMessage(ctx, senderID, conversationID, content, attachmentRef)
}

// createMessage writes the message, bumps the conversation's last activity,
// and increments the other participants' unread counters in one transaction.
func (s *Service) createMessage(ctx context.Context, senderID string, conversationID uuid.UUID, content string, attachmentRef *string) (*Message, error) {
	if content == "" {
		return nil, fmt.Errorf("content is required")
	}
	ok, err := s.conversations.IsParticipant(ctx, senderID, conversationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotParticipant
	}

	message := &Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		AttachmentRef:  attachmentRef,
	}
	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.messages.Create(ctx, message); err != nil {
			return err
		}
		if err := s.conversations.Touch(ctx, conversationID, message.CreatedAt); err != nil {
			return err
		}
		return s.conversations.IncrementUnread(ctx, conversationID, senderID)
	})
	if err != nil {
		return nil, err
	}
	return message, nil
}

// IsParticipant answers the membership check the realtime relay delegates
// here.
func (s *Service) IsParticipant(ctx context.Context, userID string, conversationID uuid.UUID) (bool, error) {
	return s.conversations.IsParticipant(ctx, userID, conversationID)
}

// MarkRead resets the caller's unread counter and stamps unread messages
// from other senders. Both updates commit together or not at all.
func (s *Service) MarkRead(ctx context.Context, userID string, conversationID uuid.UUID) error {
	ok, err := s.conversations.IsParticipant(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotParticipant
	}
	return s.inTx(ctx, func(ctx context.Context) error {
		return s.conversations.MarkRead(ctx, conversationID, userID, time.Now())
	})
}
