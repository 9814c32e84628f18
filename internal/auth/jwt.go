// Package auth issues and checks the credentials the HTTP layer relies on:
// signed JWTs (sessions and email verification links), bcrypt password
// hashes, and the middleware that puts the caller's user id in the context.
//
// TOKEN PURPOSES:
// Every token carries its purpose in the "aud" claim. A verification link
// token therefore cannot be replayed as a session cookie, and vice versa,
// even though both are signed with the same secret.
//
//	HEADER.PAYLOAD.SIGNATURE
//	payload: {"iss":"task-manager","sub":"42","aud":["session"],"jti":"...","exp":...}
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"
)

// Purpose is stored in the audience claim.
type Purpose string

const (
	PurposeSession           Purpose = "session"
	PurposeEmailVerification Purpose = "email-verification"
)

const (
	issuer = "task-manager"

	DefaultSessionTTL = 24 * time.Hour
	VerificationTTL   = 48 * time.Hour
)

// ErrTokenExpired lets callers show "link expired" instead of "invalid link".
var ErrTokenExpired = errors.New("auth: token expired")

// TokenService signs and validates HS256 tokens.
type TokenService struct {
	secret     []byte
	sessionTTL time.Duration
}

// NewTokenService requires a secret of at least 16 characters.
// A sessionTTL of zero or less selects DefaultSessionTTL.
func NewTokenService(secret string, sessionTTL time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &TokenService{secret: []byte(secret), sessionTTL: sessionTTL}, nil
}

// SessionTTL is how long a session token (and its cookie) lives.
func (s *TokenService) SessionTTL() time.Duration {
	return s.sessionTTL
}

// Generate issues a session token for userID.
func (s *TokenService) Generate(userID int64) (string, error) {
	return s.GenerateWithDuration(userID, PurposeSession, s.sessionTTL)
}

// GenerateVerification issues the token embedded in verification emails.
func (s *TokenService) GenerateVerification(userID int64) (string, error) {
	return s.GenerateWithDuration(userID, PurposeEmailVerification, VerificationTTL)
}

// GenerateWithDuration issues a token with an explicit purpose and lifetime.
// A negative d produces an already-expired token, which tests rely on.
func (s *TokenService) GenerateWithDuration(userID int64, purpose Purpose, d time.Duration) (string, error) {
	now := time.Now()

	c := jwt.RegisteredClaims{
		ID:        xid.New().String(),
		Subject:   strconv.FormatInt(userID, 10),
		Audience:  jwt.ClaimStrings{string(purpose)},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(d)),
		Issuer:    issuer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate checks a session token and returns its user id.
func (s *TokenService) Validate(tokenStr string) (int64, error) {
	return s.validate(tokenStr, PurposeSession)
}

// ValidateVerification checks an email verification token.
func (s *TokenService) ValidateVerification(tokenStr string) (int64, error) {
	return s.validate(tokenStr, PurposeEmailVerification)
}

// validate pins the algorithm to HS256 so a token claiming "none" or an
// asymmetric algorithm is rejected before the signature is even looked at.
func (s *TokenService) validate(tokenStr string, purpose Purpose) (int64, error) {
	var c jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&c,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(string(purpose)),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrTokenExpired
		}
		return 0, fmt.Errorf("auth: invalid token: %w", err)
	}
	if !token.Valid {
		return 0, errors.New("auth: invalid token claims")
	}

	userID, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("auth: token has no usable subject")
	}
	return userID, nil
}
