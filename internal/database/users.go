package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wtbooking/internal/domain"
	"wtbooking/internal/models"

	"github.com/google/uuid"
)

func (q *queries) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := q.q.QueryRowContext(ctx,
		`SELECT id, username, email, created_at FROM users WHERE id = ?`, id.String(),
	).Scan(&user.ID, &user.Username, &user.Email, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUserNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (q *queries) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := q.q.ExecContext(ctx,
		`INSERT INTO users (id, username, email, created_at) VALUES (?, ?, ?, ?)`,
		user.ID.String(), user.Username, user.Email, user.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateUsername, user.Username)
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}
