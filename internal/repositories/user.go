package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/pihome/internal/models"
	"github.com/desertthunder/pihome/internal/shared"
)

const userColumns = `id, email, name, password_hash, family_id, created_at, updated_at, deleted_at`

var errUserNotFound = shared.NotFound("User not found")

// UserRepository implements [models.Repository] for user [models.User] persistence.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new [UserRepository] with the given database connection
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user into the database with generated ID and sequence
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(ctx, r.db, "users")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	if user.ID == "" {
		user.ID = shared.GenerateID()
	}
	user.Stamp(time.Now())

	query := `
		INSERT INTO users (id, sequence, email, name, password_hash, family_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		user.ID, sequence, user.Email, user.Name, user.PasswordHash, nullable(user.FamilyID), user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	return nil
}

// Get retrieves a user by ID, excluding soft-deleted users
func (r *UserRepository) Get(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ? AND deleted_at IS NULL`
	return r.getOne(ctx, query, id)
}

// GetByEmail retrieves a live user by email address
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = ? AND deleted_at IS NULL`
	return r.getOne(ctx, query, email)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg any) (*models.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// Update modifies an existing user in the database
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	user.Stamp(time.Now())

	query := `
		UPDATE users
		SET email = ?, name = ?, password_hash = ?, family_id = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		user.Email, user.Name, user.PasswordHash, nullable(user.FamilyID), user.UpdatedAt, user.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	return affectedOne(result, errUserNotFound)
}

// Delete soft-deletes a user by ID and detaches it from its family
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	query := `
		UPDATE users
		SET deleted_at = ?, family_id = NULL
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	return affectedOne(result, errUserNotFound)
}

// List retrieves all users matching the given criteria, excluding soft-deleted users.
//
// Supported criteria: "email" and "family_id" (string).
func (r *UserRepository) List(ctx context.Context, criteria map[string]any) ([]*models.User, error) {
	var where whereBuilder
	where.add("deleted_at IS NULL")

	if email, ok := criteria["email"].(string); ok && email != "" {
		where.add("email = ?", email)
	}
	if familyID, ok := criteria["family_id"].(string); ok && familyID != "" {
		where.add("family_id = ?", familyID)
	}

	query := `SELECT ` + userColumns + ` FROM users` + where.String() + ` ORDER BY sequence ASC`

	rows, err := r.db.QueryContext(ctx, query, where.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return users, nil
}

// ListByFamily returns the members of a family in join order.
func (r *UserRepository) ListByFamily(ctx context.Context, familyID string) ([]*models.User, error) {
	return r.List(ctx, map[string]any{"family_id": familyID})
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		user      models.User
		familyID  sql.NullString
		deletedAt sql.NullTime
	)

	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &familyID,
		&user.CreatedAt, &user.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}

	user.FamilyID = familyID.String
	user.DeletedAt = timePtr(deletedAt)
	return &user, nil
}
