package messaging

import (
	"time"

	"github.com/google/uuid"
)

// Participant roles mirror the marketplace account types.
const (
	RolePatient       = "patient"
	RoleDoctor        = "doctor"
	RoleFacilityAdmin = "facility_admin"
)

// Conversation represents a chat thread between two or more participants.
type Conversation struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Subject        *string   `db:"subject" json:"subject,omitempty"`
	CreatedBy      string    `db:"created_by" json:"created_by"`
	LastActivityAt time.Time `db:"last_activity_at" json:"last_activity_at"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Participant is a user's membership in a conversation, with the per-user
// unread counter the REST read path exposes.
type Participant struct {
	ConversationID uuid.UUID `db:"conversation_id" json:"conversation_id"`
	UserID         string    `db:"user_id" json:"user_id"`
	Role           string    `db:"role" json:"role"`
	UnreadCount    int       `db:"unread_count" json:"unread_count"`
	JoinedAt       time.Time `db:"joined_at" json:"joined_at"`
}

// Message is one durable chat message.
type Message struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	ConversationID uuid.UUID  `db:"conversation_id" json:"conversation_id"`
	SenderID       string     `db:"sender_id" json:"sender_id"`
	Content        string     `db:"content" json:"content"`
	AttachmentRef  *string    `db:"attachment_ref" json:"attachment_ref,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	ReadAt         *time.Time `db:"read_at" json:"read_at,omitempty"`
}

// ConversationSummary is a conversation as seen by one participant: the
// thread plus that participant's unread counter.
type ConversationSummary struct {
	Conversation
	UnreadCount int `json:"unread_count"`
}
