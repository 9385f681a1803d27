package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cartoncaps/referral-api/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, email, name, created_at`

// CreateUser inserts a new user into the database.
func (r *Repository) CreateUser(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (id, email, name, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.pool.Exec(ctx, query,
		user.ID,
		nullString(user.Email),
		nullString(user.Name),
		user.CreatedAt,
	)

	if err != nil {
		switch {
		case isUniqueViolation(err, constraintUsersEmail):
			return ErrEmailExists
		case isUniqueViolation(err, constraintUsersPK):
			return ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUserByID retrieves a user by their ID.
func (r *Repository) GetUserByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	return user, nil
}

// GetUserByEmail retrieves a user by their email address.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return user, nil
}

// EnsureUser returns the user with the given ID, inserting a bare row first
// when none exists.
func (r *Repository) EnsureUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	query := `
		INSERT INTO users (id, created_at)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`

	if _, err := r.pool.Exec(ctx, query, id, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}

	return r.GetUserByID(ctx, id)
}

// GetOrCreateUserByEmail gets a user by email or creates one if not found.
func (r *Repository) GetOrCreateUserByEmail(ctx context.Context, email string) (*model.User, error) {
	existing, err := r.GetUserByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	user := &model.User{
		ID:        uuid.New(),
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.CreateUser(ctx, user); err != nil {
		// Another request created the same email between the read and the insert.
		if errors.Is(err, ErrEmailExists) {
			return r.GetUserByEmail(ctx, email)
		}
		return nil, err
	}

	return user, nil
}

// HasUsers reports whether at least one user exists.
func (r *Repository) HasUsers(ctx context.Context) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users)`).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check users: %w", err)
	}
	return exists, nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		user  model.User
		email *string
		name  *string
	)
	if err := row.Scan(&user.ID, &email, &name, &user.CreatedAt); err != nil {
		return nil, err
	}
	if email != nil {
		user.Email = *email
	}
	if name != nil {
		user.Name = *name
	}
	return &user, nil
}

// nullString maps the empty string to SQL NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
