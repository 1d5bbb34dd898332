package domain

import "time"

// MaxPostLength bounds the body of a post.
const MaxPostLength = 140

// Post is a short text authored by exactly one user. Posts are never edited.
type Post struct {
	ID        int64
	UserID    int64
	Author    string
	Body      string
	CreatedAt time.Time
}
