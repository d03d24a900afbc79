package backend

import (
	"context"

	"github.com/jmoiron/sqlx"

	"linkchat/internal/chat"
	"linkchat/internal/models"
	"linkchat/internal/repositories"
)

// Store answers backend calls straight from the message database, for
// daemons deployed next to it.
type Store struct {
	*repositories.MessageRepo
	*repositories.FriendshipRepo
}

// NewStore builds a Store over an open database handle.
func NewStore(db *sqlx.DB) *Store {
	return &Store{
		MessageRepo:    repositories.NewMessageRepo(db),
		FriendshipRepo: repositories.NewFriendshipRepo(db),
	}
}

// SetToken is a no-op; the database connection carries its own credentials.
func (*Store) SetToken(string) {}

// API is what the daemon needs from either implementation.
type API interface {
	chat.Backend
	FriendshipStatus(ctx context.Context, viewerID, userID string) (models.FriendshipInfo, error)
	SetToken(token string)
}

var (
	_ API = (*Client)(nil)
	_ API = (*Store)(nil)
)
