package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sakif/task-manager/internal/apperror"
	"github.com/sakif/task-manager/internal/auth"
	"github.com/sakif/task-manager/internal/metrics"
	"github.com/sakif/task-manager/internal/model"
	"github.com/sakif/task-manager/internal/repository"
)

const (
	MinPasswordLength = 8
	MaxNameLength     = 30
)

// loginFailedMessage is the only thing a failed login ever says. Unknown
// email, wrong password and inactive account all look the same.
const loginFailedMessage = "invalid email or password"

// VerificationMailer delivers the email verification link.
type VerificationMailer interface {
	SendVerification(ctx context.Context, to, name, link string) error
}

// LoginLimiter throttles login attempts per key (the normalized email).
type LoginLimiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
	Reset(ctx context.Context, key string) error
}

// AccountOptions holds the optional collaborators and policy switches.
// A nil Mailer means verification links are not sent; a nil Limiter means
// logins are not throttled.
type AccountOptions struct {
	RequireEmailVerification bool
	BaseURL                  string
	Mailer                   VerificationMailer
	Limiter                  LoginLimiter
}

// AccountService handles sign-up, email verification and credential checks.
//
//	AccountHandler (HTTP) → AccountService → repository.UserRepository (DB)
//	                                       ↘ TokenService (JWT), PasswordService (bcrypt)
type AccountService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger
	opts      AccountOptions

	dummyOnce sync.Once
	dummyHash string
}

func NewAccountService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
	opts AccountOptions,
) *AccountService {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &AccountService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
		opts:      opts,
	}
}

// AuthResult bundles the user and the issued session token so the handler
// can set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
	TTL   time.Duration
}

// NewUserInput is the data needed to create an account.
type NewUserInput struct {
	Email           string
	Password        string
	PasswordConfirm string
	Nickname        string
	FirstName       string
	LastName        string

	IsAdmin bool
	CanEdit bool
	IsStaff bool

	// Activate makes the account usable immediately even when email
	// verification is required. Only trusted callers (the CLI) set it.
	Activate bool
}

// RequiresVerification reports whether new accounts start inactive.
func (s *AccountService) RequiresVerification() bool {
	return s.opts.RequireEmailVerification
}

func validateNewUser(in *NewUserInput) error {
	in.Email = model.NormalizeEmail(in.Email)
	if in.Email == "" {
		return apperror.ValidationFailed("email", "email is required")
	}
	addr, err := mail.ParseAddress(in.Email)
	if err != nil || addr.Address != in.Email {
		return apperror.ValidationFailed("email", "enter a valid email address")
	}

	if in.Password != in.PasswordConfirm {
		return apperror.ValidationFailed("password_confirm", "the two password fields didn't match")
	}
	if utf8.RuneCountInString(in.Password) < MinPasswordLength {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	if len(in.Password) > auth.MaxPasswordBytes {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be %d bytes or fewer", auth.MaxPasswordBytes))
	}

	for field, v := range map[string]*string{
		"nickname":   &in.Nickname,
		"first_name": &in.FirstName,
		"last_name":  &in.LastName,
	} {
		*v = strings.TrimSpace(*v)
		if utf8.RuneCountInString(*v) > MaxNameLength {
			return apperror.ValidationFailed(field,
				fmt.Sprintf("%s must be %d characters or fewer", field, MaxNameLength))
		}
	}
	return nil
}

// CreateUser validates and stores a new account with a bcrypt-hashed
// password. The account starts active unless email verification is
// required and in.Activate is false.
func (s *AccountService) CreateUser(ctx context.Context, in NewUserInput) (*model.User, error) {
	if err := validateNewUser(&in); err != nil {
		return nil, err
	}

	_, err := s.users.GetByEmail(ctx, in.Email)
	switch {
	case err == nil:
		return nil, apperror.ValidationFailed("email", "a user with this email already exists")
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("service/account: checking email: %w", err)
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/account: %w", err)
	}

	user := &model.User{
		Email:        in.Email,
		Nickname:     in.Nickname,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PasswordHash: hash,
		IsAdmin:      in.IsAdmin,
		CanEdit:      in.CanEdit,
		IsStaff:      in.IsStaff,
		IsActive:     in.Activate || !s.opts.RequireEmailVerification,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("service/account: creating user: %w", err)
	}

	metrics.SignupsTotal.Inc()
	s.logger.Info("user created",
		slog.Int64("userID", user.ID),
		slog.Bool("active", user.IsActive),
		slog.Bool("admin", user.IsAdmin),
	)
	return user, nil
}

// SignUp is the public registration path. Privilege flags in the input are
// ignored. When verification is required a link is mailed; a mail failure is
// logged but does not undo the sign-up.
func (s *AccountService) SignUp(ctx context.Context, in NewUserInput) (*model.User, error) {
	in.IsAdmin, in.CanEdit, in.IsStaff, in.Activate = false, false, false, false

	user, err := s.CreateUser(ctx, in)
	if err != nil {
		return nil, err
	}

	if s.opts.RequireEmailVerification {
		if err := s.SendVerification(ctx, user); err != nil {
			s.logger.Error("sending verification email failed",
				slog.Int64("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return user, nil
}

// VerificationLink builds the absolute URL mailed to the user.
func (s *AccountService) VerificationLink(user *model.User) (string, error) {
	token, err := s.tokens.GenerateVerification(user.ID)
	if err != nil {
		return "", fmt.Errorf("service/account: %w", err)
	}
	return s.opts.BaseURL + "/accounts/verify?token=" + url.QueryEscape(token), nil
}

// SendVerification mails a fresh verification link to user.
func (s *AccountService) SendVerification(ctx context.Context, user *model.User) error {
	if s.opts.Mailer == nil {
		return errors.New("service/account: no mailer configured")
	}
	link, err := s.VerificationLink(user)
	if err != nil {
		return err
	}
	return s.opts.Mailer.SendVerification(ctx, user.Email, user.DisplayName(), link)
}

// VerifyEmail checks a verification token and marks its user verified.
func (s *AccountService) VerifyEmail(ctx context.Context, token string) (*model.User, error) {
	userID, err := s.tokens.ValidateVerification(token)
	if err != nil {
		msg := "verification link is invalid"
		if errors.Is(err, auth.ErrTokenExpired) {
			msg = "verification link has expired"
		}
		return nil, apperror.ValidationFailed("token", msg)
	}
	return s.MarkVerified(ctx, userID)
}

// MarkVerified sets email_verified_at to now and activates the account.
func (s *AccountService) MarkVerified(ctx context.Context, userID int64) (*model.User, error) {
	if err := s.users.MarkVerified(ctx, userID, time.Now()); err != nil {
		return nil, fmt.Errorf("service/account: verifying user %d: %w", userID, err)
	}
	s.logger.Info("email verified", slog.Int64("userID", userID))
	return s.GetUserByID(ctx, userID)
}

// Authenticate checks credentials and issues a session token.
//
// Every failure is the same apperror.ErrUnauthorized with the same message.
// For an unknown email a bcrypt comparison still runs against a throwaway
// hash so response time does not reveal which emails are registered.
//
// The rate limit bucket is per email and client address, so guessing from
// one address cannot lock the owner out from another.
func (s *AccountService) Authenticate(ctx context.Context, email, password, clientIP string) (*AuthResult, error) {
	email = model.NormalizeEmail(email)
	limitKey := loginLimitKey(email, clientIP)

	if s.opts.Limiter != nil {
		ok, retry, err := s.opts.Limiter.Allow(ctx, limitKey)
		switch {
		case err != nil:
			// Redis trouble should not lock everyone out.
			s.logger.Warn("login rate limiter unavailable", slog.String("error", err.Error()))
		case !ok:
			metrics.LoginAttemptsTotal.WithLabelValues("rate_limited").Inc()
			return nil, apperror.RateLimited(fmt.Sprintf(
				"too many login attempts, try again in %s", retry.Round(time.Second)))
		}
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("service/account: looking up user: %w", err)
		}
		_ = s.passwords.Verify(s.dummy(), password)
		return nil, s.loginFailed("unknown email")
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Error("stored password hash unusable",
				slog.Int64("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, s.loginFailed("wrong password")
	}
	if !user.IsActive {
		return nil, s.loginFailed("inactive account")
	}

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/account: generating token for user %d: %w", user.ID, err)
	}

	if s.opts.Limiter != nil {
		if err := s.opts.Limiter.Reset(ctx, limitKey); err != nil {
			s.logger.Warn("resetting login rate limit", slog.String("error", err.Error()))
		}
	}

	metrics.LoginAttemptsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("user logged in", slog.Int64("userID", user.ID))
	return &AuthResult{User: user, Token: token, TTL: s.tokens.SessionTTL()}, nil
}

func loginLimitKey(email, clientIP string) string {
	if clientIP == "" {
		return email
	}
	return email + "|" + clientIP
}

func (s *AccountService) loginFailed(reason string) error {
	metrics.LoginAttemptsTotal.WithLabelValues("failed").Inc()
	s.logger.Info("login failed", slog.String("reason", reason))
	return apperror.Unauthorized(loginFailedMessage)
}

func (s *AccountService) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.passwords.Hash("timing-equalizer-not-a-password")
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}

// GetUserByID returns the user with the given id.
func (s *AccountService) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	if id <= 0 {
		return nil, errors.New("service/account: user id must be set")
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/account: fetching user %d: %w", id, err)
	}
	return user, nil
}

// ActiveUser loads the user behind a session token and refuses accounts
// that were deactivated or deleted since the token was issued.
func (s *AccountService) ActiveUser(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.GetUserByID(ctx, id)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.Unauthorized("valid authentication required")
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		s.logger.Info("rejected session of inactive user", slog.Int64("user_id", id))
		return nil, apperror.Unauthorized("valid authentication required")
	}
	return user, nil
}

// GetUserByEmail is used by the CLI to address accounts by email.
func (s *AccountService) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := s.users.GetByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("service/account: fetching user %s: %w", email, err)
	}
	return user, nil
}

// Deactivate blocks future logins. Existing tasks are kept.
func (s *AccountService) Deactivate(ctx context.Context, id int64) error {
	if err := s.users.SetActive(ctx, id, false); err != nil {
		return fmt.Errorf("service/account: deactivating user %d: %w", id, err)
	}
	s.logger.Info("user deactivated", slog.Int64("userID", id))
	return nil
}

// ValidateToken returns the user id a session token was issued to.
func (s *AccountService) ValidateToken(tokenStr string) (int64, error) {
	userID, err := s.tokens.Validate(tokenStr)
	if err != nil {
		return 0, fmt.Errorf("service/account: %w", err)
	}
	return userID, nil
}
