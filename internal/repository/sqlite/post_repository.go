package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"microblog/internal/domain"
	"microblog/internal/repository"
)

const createPostsTable = `
CREATE TABLE IF NOT EXISTS posts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	body TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	FOREIGN KEY(user_id) REFERENCES users(id)
);
CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at);
CREATE INDEX IF NOT EXISTS idx_posts_user_id ON posts(user_id);
`

const selectPosts = `
SELECT p.id, p.user_id, u.username, p.body, p.created_at
FROM posts p
JOIN users u ON u.id = p.user_id`

// followedScope matches the user's own posts and those of everyone they follow.
const followedScope = `
WHERE p.user_id = ?
   OR p.user_id IN (SELECT followed_id FROM follows WHERE follower_id = ?)`

const newestFirst = `
ORDER BY p.created_at DESC, p.id DESC
LIMIT ? OFFSET ?`

type PostRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) repository.PostRepository {
	return &PostRepository{db: db}
}

func (r *PostRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createPostsTable); err != nil {
		return fmt.Errorf("create posts table: %w", err)
	}
	return nil
}

func (r *PostRepository) Create(ctx context.Context, post *domain.Post) (int64, error) {
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx, `
INSERT INTO posts (user_id, body, created_at)
VALUES (?, ?, ?)`,
		post.UserID,
		post.Body,
		post.CreatedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert post: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("post last insert id: %w", err)
	}
	post.ID = id
	return id, nil
}

func (r *PostRepository) ListAll(ctx context.Context, limit, offset int) ([]domain.Post, error) {
	return r.list(ctx, selectPosts+newestFirst, limit, offset)
}

func (r *PostRepository) CountAll(ctx context.Context) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM posts`)
}

func (r *PostRepository) ListByAuthor(ctx context.Context, userID int64, limit, offset int) ([]domain.Post, error) {
	return r.list(ctx, selectPosts+`
WHERE p.user_id = ?`+newestFirst, userID, limit, offset)
}

func (r *PostRepository) CountByAuthor(ctx context.Context, userID int64) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM posts WHERE user_id = ?`, userID)
}

func (r *PostRepository) ListFollowed(ctx context.Context, userID int64, limit, offset int) ([]domain.Post, error) {
	return r.list(ctx, selectPosts+followedScope+newestFirst, userID, userID, limit, offset)
}

func (r *PostRepository) CountFollowed(ctx context.Context, userID int64) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM posts p`+followedScope, userID, userID)
}

func (r *PostRepository) list(ctx context.Context, query string, args ...any) ([]domain.Post, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		var (
			post      domain.Post
			createdAt time.Time
		)
		if err := rows.Scan(&post.ID, &post.UserID, &post.Author, &post.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		post.CreatedAt = createdAt.Local()
		posts = append(posts, post)
	}

	return posts, rows.Err()
}

func (r *PostRepository) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return n, nil
}
