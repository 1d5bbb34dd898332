package repository

import (
	"context"

	"microblog/internal/domain"
)

// PostRepository stores posts and serves the time-ordered listings over them.
// Every listing is ordered newest first.
type PostRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, post *domain.Post) (int64, error)
	ListAll(ctx context.Context, limit, offset int) ([]domain.Post, error)
	CountAll(ctx context.Context) (int64, error)
	ListByAuthor(ctx context.Context, userID int64, limit, offset int) ([]domain.Post, error)
	CountByAuthor(ctx context.Context, userID int64) (int64, error)
	ListFollowed(ctx context.Context, userID int64, limit, offset int) ([]domain.Post, error)
	CountFollowed(ctx context.Context, userID int64) (int64, error)
}

// FollowRepository manages directed follow edges between users.
type FollowRepository interface {
	Init(ctx context.Context) error
	Follow(ctx context.Context, followerID, followedID int64) error
	Unfollow(ctx context.Context, followerID, followedID int64) error
	IsFollowing(ctx context.Context, followerID, followedID int64) (bool, error)
	CountFollowers(ctx context.Context, userID int64) (int64, error)
	CountFollowing(ctx context.Context, userID int64) (int64, error)
}
