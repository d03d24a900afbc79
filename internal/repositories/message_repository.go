package repositories

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"linkchat/internal/models"
	"linkchat/internal/observability"
)

const messageColumns = `id::text AS id, sender_id, recipient_id, content, read, created_at`

// MessageRepo serves conversation history straight from Postgres.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// ConversationHistory returns messages exchanged between two users, oldest
// first.
func (r *MessageRepo) ConversationHistory(ctx context.Context, userA, userB string) (msgs []models.Message, err error) {
	defer func(start time.Time) { observability.ObserveBackendCall("conversation_history", start, err) }(time.Now())

	query := `SELECT ` + messageColumns + `
        FROM messages
        WHERE (sender_id=$1 AND recipient_id=$2) OR (sender_id=$2 AND recipient_id=$1)
        ORDER BY created_at ASC, id ASC`
	msgs = []models.Message{}
	err = r.db.SelectContext(ctx, &msgs, query, userA, userB)
	return msgs, err
}

// CreateMessage stores a message and returns it with its id and timestamp.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.NewMessage) (out models.Message, err error) {
	defer func(start time.Time) { observability.ObserveBackendCall("create_message", start, err) }(time.Now())

	err = r.db.GetContext(ctx, &out,
		`INSERT INTO messages (sender_id, recipient_id, content) VALUES ($1, $2, $3) RETURNING `+messageColumns,
		msg.SenderID, msg.RecipientID, strings.TrimSpace(msg.Content))
	return out, err
}
