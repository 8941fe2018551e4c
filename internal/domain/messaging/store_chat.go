package messaging

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pharmalink/pharmalink/internal/chat"
)

// ChatStore adapts the messaging service to the realtime relay's store
// contract. Conversation ids cross the socket boundary as uuid strings.
type ChatStore struct {
	svc *Service
}

func NewChatStore(svc *Service) *ChatStore {
	return &ChatStore{svc: svc}
}

func (a *ChatStore) IsParticipant(ctx context.Context, userID, conversationID string) (bool, error) {
	id, err := uuid.Parse(conversationID)
	if err != nil {
		// An unparseable id cannot name a conversation the user belongs to.
		return false, nil
	}
	return a.svc.IsParticipant(ctx, userID, id)
}

func (a *ChatStore) SaveMessage(ctx context.Context, conversationID, senderID, content, attachmentRef string) (chat.MessageRecord, error) {
	id, err := uuid.Parse(conversationID)
	if err != nil {
		return chat.MessageRecord{}, fmt.Errorf("invalid conversation id: %w", err)
	}
	var ref *string
	if attachmentRef != "" {
		ref = &attachmentRef
	}

	message, err := a.svc.CreateMessage(ctx, senderID, id, content, ref)
	if err != nil {
		return chat.MessageRecord{}, err
	}
	return toRecord(message), nil
}

// RelayNotifier bridges messages persisted through the REST path into the
// realtime relay so connected participants see them immediately.
type RelayNotifier struct {
	relay *chat.Relay
}

func NewRelayNotifier(relay *chat.Relay) *RelayNotifier {
	return &RelayNotifier{relay: relay}
}

func (n *RelayNotifier) MessageCreated(m *Message) {
	n.relay.NotifyMessage(toRecord(m))
}

func toRecord(m *Message) chat.MessageRecord {
	record := chat.MessageRecord{
		ID:             m.ID.String(),
		ConversationID: m.ConversationID.String(),
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
	if m.AttachmentRef != nil {
		record.AttachmentRef = *m.AttachmentRef
	}
	return record
}
