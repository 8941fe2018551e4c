package chat

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// MessageRecord is the durable message row as the store returns it.
type MessageRecord struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	AttachmentRef  string
	CreatedAt      time.Time
}

// MessageStore is the durable persistence collaborator. The REST message
// endpoints use the same store, so the realtime and REST paths observe
// consistent state. SaveMessage is transactional: it writes the message and
// updates the conversation's last-activity and unread counters together.
type MessageStore interface {
	IsParticipant(ctx context.Context, userID, conversationID string) (bool, error)
	SaveMessage(ctx context.Context, conversationID, senderID, content, attachmentRef string) (MessageRecord, error)
}

// Error codes sent to clients in error events.
const (
	ErrCodeInvalidMessage = "invalid_message"
	ErrCodeNotParticipant = "not_participant"
	ErrCodeSendFailed     = "send_failed"
	ErrCodeJoinFailed     = "join_failed"
	ErrCodeUnknownAction  = "unknown_action"
)

// Relay orchestrates inbound client actions: it validates membership against
// the store, persists sends durably, and only then fans out. A message that
// failed to persist is never broadcast.
type Relay struct {
	hub   *Hub
	store MessageStore
	log   zerolog.Logger
}

func NewRelay(hub *Hub, store MessageStore, logger zerolog.Logger) *Relay {
	return &Relay{hub: hub, store: store, log: logger}
}

// HandleSend processes one send action from a connection. On success the
// new_message event reaches every room member except the sending connection,
// so the sender's other devices still see it. On any failure only the sender
// is notified and nothing is broadcast.
func (r *Relay) HandleSend(ctx context.Context, sender *Connection, msg ClientMessage) {
	if msg.ConversationID == "" || msg.Content == "" {
		r.hub.SendTo(sender, ErrorEvent(ErrCodeInvalidMessage, "conversation_id and content are required", msg.ClientRef))
		return
	}

	ok, err := r.store.IsParticipant(ctx, sender.UserID, msg.ConversationID)
	if err != nil {
		r.log.Error().Err(err).Str("conversation_id", msg.ConversationID).Msg("participant check failed")
		r.hub.SendTo(sender, ErrorEvent(ErrCodeSendFailed, "message could not be sent", msg.ClientRef))
		return
	}
	if !ok {
		r.hub.SendTo(sender, ErrorEvent(ErrCodeNotParticipant, "not a participant of this conversation", msg.ClientRef))
		return
	}

	record, err := r.store.SaveMessage(ctx, msg.ConversationID, sender.UserID, msg.Content, msg.AttachmentRef)
	if err != nil {
		r.log.Error().Err(err).Str("conversation_id", msg.ConversationID).Msg("message persist failed")
		r.hub.SendTo(sender, ErrorEvent(ErrCodeSendFailed, "message could not be sent", msg.ClientRef))
		return
	}

	event := NewMessageEvent(NewMessagePayload{
		MessageID:      record.ID,
		ConversationID: record.ConversationID,
		SenderID:       record.SenderID,
		Content:        record.Content,
		AttachmentRef:  record.AttachmentRef,
		SentAt:         record.CreatedAt,
		ClientRef:      msg.ClientRef,
	})
	r.hub.Broadcast(record.ConversationID, event, sender)
}

// HandleJoin subscribes the connection to a conversation's room after
// re-checking that the user is a participant.
func (r *Relay) HandleJoin(ctx context.Context, conn *Connection, msg ClientMessage) {
	if msg.ConversationID == "" {
		r.hub.SendTo(conn, ErrorEvent(ErrCodeInvalidMessage, "conversation_id is required", msg.ClientRef))
		return
	}

	ok, err := r.store.IsParticipant(ctx, conn.UserID, msg.ConversationID)
	if err != nil {
		r.log.Error().Err(err).Str("conversation_id", msg.ConversationID).Msg("participant check failed")
		r.hub.SendTo(conn, ErrorEvent(ErrCodeJoinFailed, "could not join conversation", msg.ClientRef))
		return
	}
	if !ok {
		r.hub.SendTo(conn, ErrorEvent(ErrCodeNotParticipant, "not a participant of this conversation", msg.ClientRef))
		return
	}

	r.hub.Join(msg.ConversationID, conn)
}

// HandleLeave removes the connection from a conversation's room.
func (r *Relay) HandleLeave(conn *Connection, msg ClientMessage) {
	if msg.ConversationID == "" {
		r.hub.SendTo(conn, ErrorEvent(ErrCodeInvalidMessage, "conversation_id is required", msg.ClientRef))
		return
	}
	r.hub.Leave(msg.ConversationID, conn)
}

// NotifyMessage fans out a message that was persisted through the REST path,
// so connected participants see REST sends in realtime too. No connection is
// excluded; REST senders have no socket attached to the request.
func (r *Relay) NotifyMessage(record MessageRecord) {
	event := NewMessageEvent(NewMessagePayload{
		MessageID:      record.ID,
		ConversationID: record.ConversationID,
		SenderID:       record.SenderID,
		Content:        record.Content,
		AttachmentRef:  record.AttachmentRef,
		SentAt:         record.CreatedAt,
	})
	r.hub.Broadcast(record.ConversationID, event, nil)
}
