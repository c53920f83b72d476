package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/advocacyflow/server/internal/model"
)

// ErrUserNotFound is returned when no user row has the requested id
var ErrUserNotFound = errors.New("user not found")

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	Create(ctx context.Context, id string) (model.User, error)
	GetByID(ctx context.Context, id string) (model.User, error)
	GetPhone(ctx context.Context, userID string) (string, error)
	SetPhone(ctx context.Context, userID, phone string) error
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

// Create inserts a user row. Creating an existing id returns the stored row.
func (r *userRepo) Create(ctx context.Context, id string) (model.User, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id)
		VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, id)
	if err != nil {
		return model.User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	return r.GetByID(ctx, id)
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id string) (model.User, error) {
	query := `
		SELECT id, verified_phone, created_at
		FROM users
		WHERE id = $1
	`
	var user model.User
	var phone sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &phone, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrUserNotFound
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	user.VerifiedPhone = phone.String
	return user, nil
}

// GetPhone returns the verified phone of userID, or "" when the user is unknown or unverified
func (r *userRepo) GetPhone(ctx context.Context, userID string) (string, error) {
	var phone sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT verified_phone FROM users WHERE id = $1`, userID).Scan(&phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to query phone: %w", err)
	}
	return phone.String, nil
}

// SetPhone records phone as the verified phone of userID, creating the user row if needed
func (r *userRepo) SetPhone(ctx context.Context, userID, phone string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, verified_phone)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE
		SET verified_phone = EXCLUDED.verified_phone, updated_at = now()
	`, userID, phone)
	if err != nil {
		return fmt.Errorf("failed to set phone: %w", err)
	}
	return nil
}
