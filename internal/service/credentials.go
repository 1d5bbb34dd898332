package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

// ErrPasswordTooLong rejects passwords bcrypt cannot hash.
var ErrPasswordTooLong = errors.New("password is longer than 72 bytes")

// HashPassword derives a salted bcrypt hash of the plaintext.
func HashPassword(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether plaintext matches the stored hash.
func CheckPassword(hash, plaintext string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

type resetClaims struct {
	ResetPassword int64 `json:"reset_password"`
	jwt.RegisteredClaims
}

// ResetTokens issues and verifies self-contained password reset tokens.
// Nothing is stored; validity rests on the HS256 signature and the expiry.
type ResetTokens struct {
	secret []byte
	now    func() time.Time
}

func NewResetTokens(secret string) *ResetTokens {
	return &ResetTokens{secret: []byte(secret), now: time.Now}
}

// Issue signs a token for userID that expires after ttl.
func (t *ResetTokens) Issue(userID int64, ttl time.Duration) (string, error) {
	if len(t.secret) == 0 {
		return "", errors.New("reset token secret is not configured")
	}
	now := t.now()
	claims := resetClaims{
		ResetPassword: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign reset token: %w", err)
	}
	return token, nil
}

// Verify returns the user id carried by a valid, unexpired token. Any other
// token yields false.
func (t *ResetTokens) Verify(token string) (int64, bool) {
	if token == "" || len(t.secret) == 0 {
		return 0, false
	}

	var claims resetClaims
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !parsed.Valid || claims.ResetPassword <= 0 {
		return 0, false
	}
	return claims.ResetPassword, true
}
