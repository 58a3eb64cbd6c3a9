package services

import (
	"context"
	"errors"
	"fmt"

	"studyStreakAPI/internal/logger"
	"studyStreakAPI/internal/user"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrUserNotFound = errors.New("user not found")

// UserService maps Clerk identities to internal user ids and owns the XP
// balance. Streak rows reference users by the internal id only.
type UserService struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

func NewUserService(db *pgxpool.Pool, log *logger.Logger) *UserService {
	return &UserService{db: db, log: log.With("service", "UserService")}
}

// ResolveUserID returns the internal id for a Clerk user, creating the user
// row on first sight.
func (s *UserService) ResolveUserID(ctx context.Context, clerkID string) (uuid.UUID, error) {
	if clerkID == "" {
		return uuid.Nil, ErrUserNotFound
	}

	query := `
	INSERT INTO users (clerk_id)
	VALUES ($1)
	ON CONFLICT (clerk_id)
	DO UPDATE SET clerk_id = EXCLUDED.clerk_id
	RETURNING id
	`

	var userID uuid.UUID
	if err := s.db.QueryRow(ctx, query, clerkID).Scan(&userID); err != nil {
		return uuid.Nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	return userID, nil
}

func (s *UserService) GetUserByClerkID(ctx context.Context, clerkID string) (*user.User, error) {
	query := `
	SELECT id, clerk_id, xp, created_at, updated_at
	FROM users
	WHERE clerk_id = $1
	`

	u := &user.User{}
	err := s.db.QueryRow(ctx, query, clerkID).Scan(
		&u.ID,
		&u.ClerkID,
		&u.XP,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// AwardXP adds amount to the user's XP and returns the new total.
func (s *UserService) AwardXP(ctx context.Context, userID uuid.UUID, amount int) (int, error) {
	query := `
	UPDATE users
	SET xp = xp + $1, updated_at = NOW()
	WHERE id = $2
	RETURNING xp
	`

	var total int
	err := s.db.QueryRow(ctx, query, amount, userID).Scan(&total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to award xp: %w", err)
	}

	s.log.Debug("xp awarded", "user_id", userID, "amount", amount, "total", total)
	return total, nil
}

// DeleteUserByClerkID removes the user. Postgres streak rows, device tokens
// and notifications go with it through ON DELETE CASCADE.
func (s *UserService) DeleteUserByClerkID(ctx context.Context, clerkID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM users WHERE clerk_id = $1`, clerkID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	s.log.Info("user deleted", "clerk_id", clerkID)
	return nil
}
