package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"microblog/internal/domain"
	"microblog/internal/repository"
)

var (
	// ErrInvalidCredentials indicates that provided login credentials are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUsernameTaken is returned when a username already belongs to another user.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrEmailTaken is returned when an email already belongs to another user.
	ErrEmailTaken = errors.New("email already registered")
	// ErrUserNotFound is returned when no user matches a lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidResetToken covers malformed, tampered and expired reset tokens alike.
	ErrInvalidResetToken = errors.New("invalid reset token")
)

// ResetNotifier delivers password reset links to users.
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, user domain.User, token string) error
}

// UserService describes user lifecycle operations.
type UserService interface {
	Register(ctx context.Context, username, email, password string) (*domain.User, error)
	Authenticate(ctx context.Context, username, password string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	UsernameAvailable(ctx context.Context, username string) (bool, error)
	EmailAvailable(ctx context.Context, email string) (bool, error)
	UpdateProfile(ctx context.Context, id int64, username, aboutMe string) (*domain.User, error)
	TouchLastSeen(ctx context.Context, id int64) error
	RequestPasswordReset(ctx context.Context, email string) error
	VerifyResetToken(ctx context.Context, token string) (*domain.User, bool)
	ResetPassword(ctx context.Context, token, password string) error
}

type userService struct {
	users    repository.UserRepository
	tokens   *ResetTokens
	tokenTTL time.Duration
	notifier ResetNotifier
	now      func() time.Time
}

func NewUserService(users repository.UserRepository, tokens *ResetTokens, tokenTTL time.Duration, notifier ResetNotifier) UserService {
	return &userService{
		users:    users,
		tokens:   tokens,
		tokenTTL: tokenTTL,
		notifier: notifier,
		now:      time.Now,
	}
}

func (s *userService) Register(ctx context.Context, username, email, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	if username == "" {
		return nil, errors.New("username is required")
	}
	if email == "" {
		return nil, errors.New("email is required")
	}
	if password == "" {
		return nil, errors.New("password is required")
	}

	if ok, err := s.UsernameAvailable(ctx, username); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrUsernameTaken
	}
	if ok, err := s.EmailAvailable(ctx, email); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrEmailTaken
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	}
	if _, err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// lost a race with a concurrent registration
			if ok, aerr := s.EmailAvailable(ctx, email); aerr == nil && !ok {
				return nil, ErrEmailTaken
			}
			return nil, ErrUsernameTaken
		}
		return nil, err
	}

	return sanitizeUser(user), nil
}

func (s *userService) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	return sanitizeUser(user), nil
}

func (s *userService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	return sanitizeUser(user), nil
}

func (s *userService) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, notFound(err)
	}
	return sanitizeUser(user), nil
}

func (s *userService) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	_, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	return available(err)
}

func (s *userService) EmailAvailable(ctx context.Context, email string) (bool, error) {
	_, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	return available(err)
}

func (s *userService) UpdateProfile(ctx context.Context, id int64, username, aboutMe string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("username is required")
	}
	if len([]rune(aboutMe)) > domain.MaxAboutMeLength {
		return nil, fmt.Errorf("about me must be at most %d characters", domain.MaxAboutMeLength)
	}

	if err := s.users.UpdateProfile(ctx, id, username, aboutMe); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrUsernameTaken
		}
		return nil, notFound(err)
	}
	return s.GetByID(ctx, id)
}

func (s *userService) TouchLastSeen(ctx context.Context, id int64) error {
	return s.users.TouchLastSeen(ctx, id, s.now().UTC())
}

// RequestPasswordReset sends a reset link when the email belongs to a user.
// An unknown email is not an error so callers cannot tell the two apart.
func (s *userService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}

	token, err := s.tokens.Issue(user.ID, s.tokenTTL)
	if err != nil {
		return err
	}
	return s.notifier.NotifyPasswordReset(ctx, *sanitizeUser(user), token)
}

func (s *userService) VerifyResetToken(ctx context.Context, token string) (*domain.User, bool) {
	id, ok := s.tokens.Verify(token)
	if !ok {
		return nil, false
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, false
	}
	return sanitizeUser(user), true
}

func (s *userService) ResetPassword(ctx context.Context, token, password string) error {
	if password == "" {
		return errors.New("password is required")
	}
	user, ok := s.VerifyResetToken(ctx, token)
	if !ok {
		return ErrInvalidResetToken
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return s.users.UpdatePassword(ctx, user.ID, hash)
}

func available(err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return true, nil
	}
	return false, err
}

func notFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}

func sanitizeUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	return &domain.User{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		AboutMe:   user.AboutMe,
		LastSeen:  user.LastSeen,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}
