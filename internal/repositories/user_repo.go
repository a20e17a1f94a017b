package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const userColumns = `id, identity, email, password_hash, role, status, deactivated_reason, created_at, updated_at`

// scanUserRow handles nullable fields and populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User

	err := scanner.Scan(
		&user.ID, &user.Identity, &user.Email, &user.PasswordHash,
		&user.Role, &user.Status, &user.DeactivatedReason,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &user, nil
}

func scanUserRows(rows pgx.Rows) ([]*models.User, error) {
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		user, err := scanUserRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return users, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

// GetByIdentity looks up an account by its normalized login identity
func (r *UserRepository) GetByIdentity(ctx context.Context, identity string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE identity = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, normalizeIdentity(identity)))
}

func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}

	return scanUserRows(rows)
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()
	user.Identity = normalizeIdentity(user.Identity)

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	if user.Role == "" {
		user.Role = "user"
	}
	if user.Status == "" {
		user.Status = models.UserStatusActive
	}

	query := `
		INSERT INTO users (id, identity, email, password_hash, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + userColumns

	return scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, user.Identity, user.Email, user.PasswordHash,
		user.Role, user.Status, user.CreatedAt, user.UpdatedAt,
	))
}

// Deactivate disables the account for identity. It reports false without
// error when the account is already disabled, and ErrNotFound when no such
// account exists.
func (r *UserRepository) Deactivate(ctx context.Context, identity, reason string) (bool, error) {
	identity = normalizeIdentity(identity)
	query := `
		UPDATE users SET status = $1, deactivated_reason = $2, updated_at = NOW()
		WHERE identity = $3 AND status <> $1
	`

	result, err := r.pool.Exec(ctx, query, models.UserStatusDisabled, reason, identity)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	if result.RowsAffected() > 0 {
		return true, nil
	}
	return false, r.ensureExists(ctx, identity)
}

// Activate re-enables an account disabled with reason. Active accounts and
// accounts disabled for another reason are left alone.
func (r *UserRepository) Activate(ctx context.Context, identity, reason string) (bool, error) {
	identity = normalizeIdentity(identity)
	query := `
		UPDATE users SET status = $1, deactivated_reason = NULL, updated_at = NOW()
		WHERE identity = $2 AND status <> $1 AND deactivated_reason = $3
	`

	result, err := r.pool.Exec(ctx, query, models.UserStatusActive, identity, reason)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	if result.RowsAffected() > 0 {
		return true, nil
	}
	return false, r.ensureExists(ctx, identity)
}

func (r *UserRepository) ensureExists(ctx context.Context, identity string) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE identity = $1)`, identity).Scan(&exists)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if !exists {
		return models.ErrNotFound
	}
	return nil
}

func normalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
