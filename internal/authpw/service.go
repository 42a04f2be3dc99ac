// Package authpw provides tenant-scoped email/password authentication and
// the per-request session guard.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"notespace/internal/apperr"
	"notespace/internal/session"
	"notespace/internal/store"
)

const (
	CodeEmailTaken         = "EMAIL_TAKEN"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeUnauthorized       = "UNAUTHORIZED"

	minPasswordBytes = 8
	maxPasswordBytes = 72
	minNameChars     = 2
	maxNameChars     = 50
)

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, tenantID uuid.UUID, email string) (store.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (store.User, error)
	InsertUser(ctx context.Context, user store.User) error
}

type Sessions interface {
	Issue(ctx context.Context, userID, tenantID uuid.UUID) (string, store.Session, error)
	Lookup(ctx context.Context, token string) (store.Session, error)
	Destroy(ctx context.Context, token string) error
}

type Service struct {
	store     UserStore
	sessions  Sessions
	cost      int
	dummyHash []byte
	log       zerolog.Logger
	now       func() time.Time
}

// NewService hashes a throwaway password once so that logins for unknown
// emails spend the same bcrypt work as real ones. cost 0 means
// bcrypt.DefaultCost.
func NewService(users UserStore, sessions Sessions, cost int, log zerolog.Logger) (*Service, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("notespace-dummy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("hash dummy password: %w", err)
	}
	return &Service{
		store:     users,
		sessions:  sessions,
		cost:      cost,
		dummyHash: dummy,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

type RegisterRequest struct {
	FullName string
	Email    string
	Password string
}

// NormalizeEmail trims and lower-cases an address before lookup or storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateRegistration(req RegisterRequest) error {
	details := map[string]string{}
	name := strings.TrimSpace(req.FullName)
	if n := utf8.RuneCountInString(name); n < minNameChars || n > maxNameChars {
		details["fullName"] = fmt.Sprintf("must be %d to %d characters", minNameChars, maxNameChars)
	}
	if _, err := mail.ParseAddress(NormalizeEmail(req.Email)); err != nil {
		details["email"] = "must be a valid email address"
	}
	if n := len(req.Password); n < minPasswordBytes || n > maxPasswordBytes {
		details["password"] = fmt.Sprintf("must be %d to %d bytes", minPasswordBytes, maxPasswordBytes)
	}
	if len(details) > 0 {
		return apperr.Validation("invalid registration", details)
	}
	return nil
}

// Register creates a user in tenantID. Emails are unique per tenant; the same
// address may register under another tenant.
func (s *Service) Register(ctx context.Context, tenantID uuid.UUID, req RegisterRequest) (store.User, error) {
	if err := validateRegistration(req); err != nil {
		return store.User{}, err
	}
	email := NormalizeEmail(req.Email)

	_, err := s.store.GetUserByEmail(ctx, tenantID, email)
	if err == nil {
		return store.User{}, apperr.Conflict(CodeEmailTaken, "email already registered")
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           uuid.New(),
		TenantID:     tenantID,
		FullName:     strings.TrimSpace(req.FullName),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	err = s.store.InsertUser(ctx, user)
	if errors.Is(err, store.ErrConflict) {
		return store.User{}, apperr.Conflict(CodeEmailTaken, "email already registered")
	}
	if err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}

	s.log.Info().Str("user_id", user.ID.String()).Str("tenant_id", tenantID.String()).Msg("user registered")
	return user, nil
}

type LoginRequest struct {
	Email    string
	Password string
	// PriorToken is the session token the client presented, if any. It is
	// destroyed so a fixed token cannot survive authentication.
	PriorToken string
}

type LoginResult struct {
	User      store.User
	Token     string
	ExpiresAt time.Time
}

func (s *Service) Login(ctx context.Context, tenantID uuid.UUID, req LoginRequest) (LoginResult, error) {
	invalid := apperr.Unauthorized(CodeInvalidCredentials, "invalid email or password")

	user, err := s.store.GetUserByEmail(ctx, tenantID, NormalizeEmail(req.Email))
	if errors.Is(err, store.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(req.Password))
		return LoginResult{}, invalid
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, invalid
	}

	if req.PriorToken != "" {
		if err := s.sessions.Destroy(ctx, req.PriorToken); err != nil {
			return LoginResult{}, fmt.Errorf("destroy prior session: %w", err)
		}
	}
	token, sess, err := s.sessions.Issue(ctx, user.ID, user.TenantID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue session: %w", err)
	}
	return LoginResult{User: user, Token: token, ExpiresAt: sess.ExpiresAt}, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.sessions.Destroy(ctx, token); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	return nil
}

// Authenticate resolves the session token to its user. The session must
// belong to tenantID, and a session whose user no longer exists is destroyed.
func (s *Service) Authenticate(ctx context.Context, tenantID uuid.UUID, token string) (store.User, error) {
	unauthorized := apperr.Unauthorized(CodeUnauthorized, "authentication required")
	if token == "" {
		return store.User{}, unauthorized
	}

	sess, err := s.sessions.Lookup(ctx, token)
	if errors.Is(err, session.ErrNoSession) {
		return store.User{}, unauthorized
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup session: %w", err)
	}
	if sess.TenantID != tenantID {
		return store.User{}, unauthorized
	}

	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		if destroyErr := s.sessions.Destroy(ctx, token); destroyErr != nil {
			s.log.Warn().Err(destroyErr).Msg("destroy orphaned session")
		}
		return store.User{}, unauthorized
	}
	if err != nil {
		return store.User{}, fmt.Errorf("load session user: %w", err)
	}
	if user.TenantID != tenantID {
		return store.User{}, unauthorized
	}
	return user, nil
}
