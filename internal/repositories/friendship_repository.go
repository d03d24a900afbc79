package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"linkchat/internal/models"
	"linkchat/internal/observability"
)

// FriendshipRepo reads the friendship graph.
type FriendshipRepo struct {
	db *sqlx.DB
}

// NewFriendshipRepo constructs a FriendshipRepo.
func NewFriendshipRepo(db *sqlx.DB) *FriendshipRepo {
	return &FriendshipRepo{db: db}
}

// FriendshipStatus returns the relationship between viewerID and userID in
// either direction. No row means NONE.
func (r *FriendshipRepo) FriendshipStatus(ctx context.Context, viewerID, userID string) (info models.FriendshipInfo, err error) {
	defer func(start time.Time) { observability.ObserveBackendCall("friendship_status", start, err) }(time.Now())

	var row struct {
		ID     string `db:"id"`
		Status string `db:"status"`
	}
	err = r.db.GetContext(ctx, &row, `SELECT id::text AS id, status FROM friendships
        WHERE (requester_id=$1 AND addressee_id=$2) OR (requester_id=$2 AND addressee_id=$1)
        ORDER BY created_at DESC LIMIT 1`, viewerID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.FriendshipInfo{Status: models.FriendshipNone}, nil
	}
	if err != nil {
		return models.FriendshipInfo{}, err
	}

	status, err := models.ParseFriendshipStatus(row.Status)
	if err != nil {
		return models.FriendshipInfo{}, err
	}
	return models.FriendshipInfo{Status: status, FriendshipID: row.ID}, nil
}
