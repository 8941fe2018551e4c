// Package chat implements the realtime messaging layer: websocket transport,
// connection registry, conversation rooms, presence tracking, and the relay
// that persists inbound messages before fanning them out.
package chat

import (
	"encoding/json"
	"time"
)

// EventType enumerates the closed set of outbound event kinds.
type EventType string

const (
	EventNewMessage      EventType = "new_message"
	EventPresenceChanged EventType = "presence_changed"
	EventError           EventType = "error"
)

// Event is the envelope for a single outbound frame. One event per text
// frame, JSON encoded.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessagePayload mirrors the persisted message record's public fields.
// ClientRef echoes the sender-supplied provisional id so the sender's other
// devices can deduplicate retries.
type NewMessagePayload struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	AttachmentRef  string    `json:"attachment_ref,omitempty"`
	SentAt         time.Time `json:"sent_at"`
	ClientRef      string    `json:"client_ref,omitempty"`
}

type PresencePayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	ClientRef string `json:"client_ref,omitempty"`
}

func NewMessageEvent(p NewMessagePayload) Event {
	return Event{Type: EventNewMessage, Payload: mustPayload(p)}
}

func PresenceEvent(userID string, online bool) Event {
	return Event{Type: EventPresenceChanged, Payload: mustPayload(PresencePayload{UserID: userID, Online: online})}
}

func ErrorEvent(code, message, clientRef string) Event {
	return Event{Type: EventError, Payload: mustPayload(ErrorPayload{Code: code, Message: message, ClientRef: clientRef})}
}

func mustPayload(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// Payload structs contain only JSON-safe fields.
		panic(err)
	}
	return data
}

// ClientMessage is an inbound frame from a connected client.
type ClientMessage struct {
	Action         string `json:"action"`
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content,omitempty"`
	AttachmentRef  string `json:"attachment_ref,omitempty"`
	ClientRef      string `json:"client_ref,omitempty"`
}

const (
	ActionJoin  = "join"
	ActionLeave = "leave"
	ActionSend  = "send"
)
