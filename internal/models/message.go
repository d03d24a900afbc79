package models

import "time"

// Message represents a persisted direct message.
type Message struct {
	ID          string    `db:"id" json:"id"`
	SenderID    string    `db:"sender_id" json:"senderId"`
	RecipientID string    `db:"recipient_id" json:"recipientId"`
	Content     string    `db:"content" json:"content"`
	Timestamp   time.Time `db:"created_at" json:"timestamp"`
	Read        bool      `db:"read" json:"read"`
}

// Involves reports whether userID is the sender or the recipient.
func (m Message) Involves(userID string) bool {
	return m.SenderID == userID || m.RecipientID == userID
}

// NewMessage is the body of a message creation request.
type NewMessage struct {
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
}

// FriendshipUpdate is pushed when a relationship changes server side.
type FriendshipUpdate struct {
	UserID string           `json:"userId"`
	Status FriendshipStatus `json:"status"`
}
