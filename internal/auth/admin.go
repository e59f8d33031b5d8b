package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"kioskscan/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrAdminNotFound      = errors.New("admin not found")
	ErrCurrentPassword    = errors.New("current password required")
	ErrWrongPassword      = errors.New("current password incorrect")
	ErrAdminTaken         = errors.New("username or email already in use")
	ErrNoToken            = errors.New("no token provided")
)

// fallbackRevocationTTL covers tokens without an exp claim.
const fallbackRevocationTTL = time.Hour

// Admin is a dashboard operator account.
type Admin struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Repository persists admins in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const adminColumns = `id, username, email, password_hash, created_at, updated_at`

func (r *Repository) queryOne(ctx context.Context, query string, args ...any) (*Admin, error) {
	var a Admin
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// FindByLogin matches either identifier against username or email.
func (r *Repository) FindByLogin(ctx context.Context, username, email string) (*Admin, error) {
	return r.queryOne(ctx, `
		SELECT `+adminColumns+` FROM admins
		WHERE ($1 <> '' AND (username = $1 OR email = $1))
		   OR ($2 <> '' AND (username = $2 OR email = $2))
		ORDER BY created_at
		LIMIT 1
	`, username, email)
}

// FindByID returns an admin or nil.
func (r *Repository) FindByID(ctx context.Context, id string) (*Admin, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return r.queryOne(ctx, `SELECT `+adminColumns+` FROM admins WHERE id = $1`, id)
}

// Save inserts the admin, or updates it when the username already exists.
func (r *Repository) Save(ctx context.Context, a *Admin) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO admins (id, username, email, password_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username) DO UPDATE SET
			email = EXCLUDED.email,
			password_hash = EXCLUDED.password_hash,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`, a.ID, a.Username, a.Email, a.PasswordHash).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if store.IsUniqueViolation(err) {
		return ErrAdminTaken
	}
	return err
}

// Update writes the editable fields of an existing admin.
func (r *Repository) Update(ctx context.Context, a *Admin) error {
	err := r.db.QueryRowContext(ctx, `
		UPDATE admins SET username = $2, email = $3, password_hash = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, a.ID, a.Username, a.Email, a.PasswordHash).Scan(&a.UpdatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrAdminNotFound
	case store.IsUniqueViolation(err):
		return ErrAdminTaken
	}
	return err
}

// Admins is the persistence the service needs.
type Admins interface {
	FindByLogin(ctx context.Context, username, email string) (*Admin, error)
	FindByID(ctx context.Context, id string) (*Admin, error)
	Save(ctx context.Context, a *Admin) error
	Update(ctx context.Context, a *Admin) error
}

// TokenConfig signs and validates access tokens.
type TokenConfig struct {
	Issuer     string
	SigningKey string
	TTL        time.Duration
}

// Service handles admin login, logout and account settings.
type Service struct {
	admins      Admins
	revocations RevocationStore
	tokens      TokenConfig
	cost        int
	now         func() time.Time
	log         *zap.Logger
}

// NewService creates an auth service.
func NewService(admins Admins, revocations RevocationStore, tokens TokenConfig, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if tokens.TTL <= 0 {
		tokens.TTL = 24 * time.Hour
	}
	return &Service{
		admins:      admins,
		revocations: revocations,
		tokens:      tokens,
		cost:        bcrypt.DefaultCost,
		now:         time.Now,
		log:         log,
	}
}

// Login accepts a username or email in either field.
func (s *Service) Login(ctx context.Context, username, email, password string) (Token, error) {
	username, email = strings.TrimSpace(username), strings.TrimSpace(email)
	if (username == "" && email == "") || password == "" {
		return Token{}, ErrInvalidCredentials
	}
	admin, err := s.admins.FindByLogin(ctx, username, email)
	if err != nil {
		return Token{}, fmt.Errorf("find admin: %w", err)
	}
	if admin == nil {
		return Token{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		s.log.Warn("admin login failed", zap.String("admin_id", admin.ID))
		return Token{}, ErrInvalidCredentials
	}
	tok, err := Issue(admin.ID, admin.Username, admin.Email, s.tokens.Issuer, s.tokens.SigningKey, s.tokens.TTL)
	if err != nil {
		return Token{}, fmt.Errorf("issue token: %w", err)
	}
	s.log.Info("admin logged in", zap.String("admin_id", admin.ID))
	return tok, nil
}

// Logout revokes token until it would have expired.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return ErrNoToken
	}
	ttl := fallbackRevocationTTL
	if exp, ok := ExpiryOf(token); ok {
		ttl = exp.Sub(s.now())
	}
	if err := s.revocations.Revoke(ctx, token, ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// SettingsInput is a partial account edit. NewPassword requires
// CurrentPassword.
type SettingsInput struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// UpdateSettings edits the admin's own account.
func (s *Service) UpdateSettings(ctx context.Context, adminID string, in SettingsInput) (*Admin, error) {
	admin, err := s.admins.FindByID(ctx, adminID)
	if err != nil {
		return nil, err
	}
	if admin == nil {
		return nil, ErrAdminNotFound
	}
	if u := strings.TrimSpace(in.Username); u != "" {
		admin.Username = u
	}
	if e := strings.TrimSpace(in.Email); e != "" {
		admin.Email = e
	}
	if in.NewPassword != "" {
		if in.CurrentPassword == "" {
			return nil, ErrCurrentPassword
		}
		if bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(in.CurrentPassword)) != nil {
			return nil, ErrWrongPassword
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(in.NewPassword), s.cost)
		if err != nil {
			return nil, err
		}
		admin.PasswordHash = string(hash)
	}
	if err := s.admins.Update(ctx, admin); err != nil {
		return nil, err
	}
	s.log.Info("admin settings updated", zap.String("admin_id", admin.ID), zap.Bool("password_changed", in.NewPassword != ""))
	return admin, nil
}

// EnsureAdmin creates the admin or resets its email and password.
func (s *Service) EnsureAdmin(ctx context.Context, username, email, password string) (*Admin, error) {
	username, email = strings.TrimSpace(username), strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return nil, errors.New("username, email and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, err
	}
	admin := &Admin{Username: username, Email: email, PasswordHash: string(hash)}
	if err := s.admins.Save(ctx, admin); err != nil {
		return nil, err
	}
	return admin, nil
}
