package domain

import "time"

// MaxAboutMeLength bounds the profile text.
const MaxAboutMeLength = 140

// User represents a registered account of the system.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	AboutMe      string
	LastSeen     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
