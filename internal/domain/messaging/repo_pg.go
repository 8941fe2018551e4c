package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pharmalink/pharmalink/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Conversation Repository ===========

type conversationRepoPG struct{ pool *pgxpool.Pool }

func NewConversationRepoPG(pool *pgxpool.Pool) ConversationRepository {
	return &conversationRepoPG{pool: pool}
}

func (r *conversationRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const conversationCols = `id, subject, created_by, last_activity_at, created_at`

func (r *conversationRepoPG) scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.Subject, &c.CreatedBy, &c.LastActivityAt, &c.CreatedAt)
	return &c, err
}

func (r *conversationRepoPG) Create(ctx context.Context, c *Conversation, participants []*Participant) error {
	c.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO conversation (id, subject, created_by)
		VALUES ($1,$2,$3)
		RETURNING last_activity_at, created_at`,
		c.ID, c.Subject, c.CreatedBy).Scan(&c.LastActivityAt, &c.CreatedAt)
	if err != nil {
		return err
	}
	for _, p := range participants {
		p.ConversationID = c.ID
		if err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO conversation_participant (conversation_id, user_id, role)
			VALUES ($1,$2,$3)
			RETURNING joined_at`,
			p.ConversationID, p.UserID, p.Role).Scan(&p.JoinedAt); err != nil {
			return err
		}
	}
	return nil
}

func (r *conversationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	return r.scanConversation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+conversationCols+` FROM conversation WHERE id = $1`, id))
}

func (r *conversationRepoPG) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*ConversationSummary, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM conversation_participant WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT c.id, c.subject, c.created_by, c.last_activity_at, c.created_at, p.unread_count
		FROM conversation c
		JOIN conversation_participant p ON p.conversation_id = c.id
		WHERE p.user_id = $1
		ORDER BY c.last_activity_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*ConversationSummary
	for rows.Next() {
		var s ConversationSummary
		if err := rows.Scan(&s.ID, &s.Subject, &s.CreatedBy, &s.LastActivityAt, &s.CreatedAt, &s.UnreadCount); err != nil {
			return nil, 0, err
		}
		items = append(items, &s)
	}
	return items, total, rows.Err()
}

func (r *conversationRepoPG) Participants(ctx context.Context, conversationID uuid.UUID) ([]*Participant, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT conversation_id, user_id, role, unread_count, joined_at
		FROM conversation_participant
		WHERE conversation_id = $1
		ORDER BY joined_at`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ConversationID, &p.UserID, &p.Role, &p.UnreadCount, &p.JoinedAt); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

func (r *conversationRepoPG) IsParticipant(ctx context.Context, userID string, conversationID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM conversation_participant
			WHERE conversation_id = $1 AND user_id = $2
		)`, conversationID, userID).Scan(&exists)
	return exists, err
}

func (r *conversationRepoPG) Touch(ctx context.Context, conversationID uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE conversation SET last_activity_at = $2 WHERE id = $1`, conversationID, at)
	return err
}

func (r *conversationRepoPG) IncrementUnread(ctx context.Context, conversationID uuid.UUID, exceptUserID string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE conversation_participant
		SET unread_count = unread_count + 1
		WHERE conversation_id = $1 AND user_id <> $2`, conversationID, exceptUserID)
	return err
}

func (r *conversationRepoPG) MarkRead(ctx context.Context, conversationID uuid.UUID, userID string, at time.Time) error {
	if _, err := r.conn(ctx).Exec(ctx, `
		UPDATE conversation_participant
		SET unread_count = 0
		WHERE conversation_id = $1 AND user_id = $2`, conversationID, userID); err != nil {
		return err
	}
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE message
		SET read_at = $3
		WHERE conversation_id = $1 AND sender_id <> $2 AND read_at IS NULL`,
		conversationID, userID, at)
	return err
}

// =========== Message Repository ===========

type messageRepoPG struct{ pool *pgxpool.Pool }

func NewMessageRepoPG(pool *pgxpool.Pool) MessageRepository {
	return &messageRepoPG{pool: pool}
}

func (r *messageRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *messageRepoPG) Create(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO message (id, conversation_id, sender_id, content, attachment_ref)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		m.ID, m.ConversationID, m.SenderID, m.Content, m.AttachmentRef).Scan(&m.CreatedAt)
}

func (r *messageRepoPG) ListByConversation(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM message WHERE conversation_id = $1`, conversationID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, conversation_id, sender_id, content, attachment_ref, created_at, read_at
		FROM message
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.AttachmentRef, &m.CreatedAt, &m.ReadAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &m)
	}
	return items, total, rows.Err()
}
