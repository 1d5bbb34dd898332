package service

import (
	"context"
	"errors"

	"microblog/internal/domain"
	"microblog/internal/repository"
)

// ErrSelfFollow is returned when a user tries to follow or unfollow itself.
var ErrSelfFollow = errors.New("users cannot follow themselves")

// FollowService maintains the follow graph and the feed derived from it.
type FollowService interface {
	Follow(ctx context.Context, followerID, followedID int64) error
	Unfollow(ctx context.Context, followerID, followedID int64) error
	IsFollowing(ctx context.Context, followerID, followedID int64) (bool, error)
	Counts(ctx context.Context, userID int64) (followers, following int64, err error)
	FollowedFeed(ctx context.Context, userID int64, page int) (domain.Page[domain.Post], error)
}

type followService struct {
	follows repository.FollowRepository
	posts   repository.PostRepository
	perPage int
}

func NewFollowService(follows repository.FollowRepository, posts repository.PostRepository, perPage int) FollowService {
	return &followService{
		follows: follows,
		posts:   posts,
		perPage: perPage,
	}
}

func (s *followService) Follow(ctx context.Context, followerID, followedID int64) error {
	if followerID == followedID {
		return ErrSelfFollow
	}
	return s.follows.Follow(ctx, followerID, followedID)
}

func (s *followService) Unfollow(ctx context.Context, followerID, followedID int64) error {
	if followerID == followedID {
		return ErrSelfFollow
	}
	return s.follows.Unfollow(ctx, followerID, followedID)
}

func (s *followService) IsFollowing(ctx context.Context, followerID, followedID int64) (bool, error) {
	if followerID == followedID {
		return false, nil
	}
	return s.follows.IsFollowing(ctx, followerID, followedID)
}

func (s *followService) Counts(ctx context.Context, userID int64) (int64, int64, error) {
	followers, err := s.follows.CountFollowers(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	following, err := s.follows.CountFollowing(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	return followers, following, nil
}

// FollowedFeed lists the user's own posts together with the posts of everyone
// the user follows, newest first.
func (s *followService) FollowedFeed(ctx context.Context, userID int64, page int) (domain.Page[domain.Post], error) {
	return paginate(ctx, page, s.perPage,
		func(ctx context.Context) (int64, error) { return s.posts.CountFollowed(ctx, userID) },
		func(ctx context.Context, limit, offset int) ([]domain.Post, error) {
			return s.posts.ListFollowed(ctx, userID, limit, offset)
		},
	)
}
