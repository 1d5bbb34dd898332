package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"microblog/internal/repository"
)

// The composite key keeps concurrent follows of the same pair from duplicating.
const createFollowsTable = `
CREATE TABLE IF NOT EXISTS follows (
	follower_id INTEGER NOT NULL,
	followed_id INTEGER NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (follower_id, followed_id),
	CHECK (follower_id <> followed_id),
	FOREIGN KEY(follower_id) REFERENCES users(id),
	FOREIGN KEY(followed_id) REFERENCES users(id)
);
CREATE INDEX IF NOT EXISTS idx_follows_followed_id ON follows(followed_id);
`

type FollowRepository struct {
	db *sql.DB
}

func NewFollowRepository(db *sql.DB) repository.FollowRepository {
	return &FollowRepository{db: db}
}

func (r *FollowRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createFollowsTable); err != nil {
		return fmt.Errorf("create follows table: %w", err)
	}
	return nil
}

func (r *FollowRepository) Follow(ctx context.Context, followerID, followedID int64) error {
	_, err := r.db.ExecContext(ctx, `
INSERT OR IGNORE INTO follows (follower_id, followed_id, created_at)
VALUES (?, ?, ?)`,
		followerID,
		followedID,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert follow: %w", err)
	}
	return nil
}

func (r *FollowRepository) Unfollow(ctx context.Context, followerID, followedID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM follows WHERE follower_id=? AND followed_id=?`, followerID, followedID); err != nil {
		return fmt.Errorf("delete follow: %w", err)
	}
	return nil
}

func (r *FollowRepository) IsFollowing(ctx context.Context, followerID, followedID int64) (bool, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM follows WHERE follower_id=? AND followed_id=?`,
		followerID,
		followedID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query follow: %w", err)
	}
	return n > 0, nil
}

func (r *FollowRepository) CountFollowers(ctx context.Context, userID int64) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM follows WHERE followed_id=?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count followers: %w", err)
	}
	return n, nil
}

func (r *FollowRepository) CountFollowing(ctx context.Context, userID int64) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM follows WHERE follower_id=?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count following: %w", err)
	}
	return n, nil
}
