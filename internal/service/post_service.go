package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"microblog/internal/domain"
	"microblog/internal/repository"
)

// ErrInvalidPost is returned for empty or oversized post bodies.
var ErrInvalidPost = errors.New("invalid post")

// PostService coordinates post creation and the public listings.
type PostService interface {
	CreatePost(ctx context.Context, author *domain.User, body string) (*domain.Post, error)
	Explore(ctx context.Context, page int) (domain.Page[domain.Post], error)
	UserPosts(ctx context.Context, userID int64, page int) (domain.Page[domain.Post], error)
}

type postService struct {
	posts   repository.PostRepository
	perPage int
}

func NewPostService(posts repository.PostRepository, perPage int) PostService {
	return &postService{
		posts:   posts,
		perPage: perPage,
	}
}

func (s *postService) CreatePost(ctx context.Context, author *domain.User, body string) (*domain.Post, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("%w: body is required", ErrInvalidPost)
	}
	if len([]rune(body)) > domain.MaxPostLength {
		return nil, fmt.Errorf("%w: body must be at most %d characters", ErrInvalidPost, domain.MaxPostLength)
	}

	post := &domain.Post{
		UserID: author.ID,
		Author: author.Username,
		Body:   body,
	}
	if _, err := s.posts.Create(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

func (s *postService) Explore(ctx context.Context, page int) (domain.Page[domain.Post], error) {
	return paginate(ctx, page, s.perPage, s.posts.CountAll, s.posts.ListAll)
}

func (s *postService) UserPosts(ctx context.Context, userID int64, page int) (domain.Page[domain.Post], error) {
	return paginate(ctx, page, s.perPage,
		func(ctx context.Context) (int64, error) { return s.posts.CountByAuthor(ctx, userID) },
		func(ctx context.Context, limit, offset int) ([]domain.Post, error) {
			return s.posts.ListByAuthor(ctx, userID, limit, offset)
		},
	)
}

// paginate fetches one window of a newest-first listing. Pages past the end
// come back empty rather than failing.
func paginate(
	ctx context.Context,
	page, perPage int,
	count func(ctx context.Context) (int64, error),
	list func(ctx context.Context, limit, offset int) ([]domain.Post, error),
) (domain.Page[domain.Post], error) {
	page, perPage = domain.NormalizePage(page, perPage)

	total, err := count(ctx)
	if err != nil {
		return domain.Page[domain.Post]{}, err
	}

	var items []domain.Post
	if !domain.PastEnd(page, perPage, total) {
		items, err = list(ctx, perPage, domain.Offset(page, perPage))
		if err != nil {
			return domain.Page[domain.Post]{}, err
		}
	}
	return domain.NewPage(items, page, perPage, total), nil
}
