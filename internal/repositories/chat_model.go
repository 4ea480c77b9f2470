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

const chatModelColumns = `id, key, name, max_tokens, price, created_at, updated_at`

var errChatModelNotFound = shared.NotFound("Chat model not found")

// ChatModelRepository implements [models.Repository] for [models.ChatModel] persistence.
type ChatModelRepository struct {
	db *sql.DB
}

// NewChatModelRepository creates a new [ChatModelRepository] with the given database connection
func NewChatModelRepository(db *sql.DB) *ChatModelRepository {
	return &ChatModelRepository{db: db}
}

// Create inserts a new chat model with generated ID and sequence
func (r *ChatModelRepository) Create(ctx context.Context, m *models.ChatModel) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(ctx, r.db, "chat_models")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	if m.ID == "" {
		m.ID = shared.GenerateID()
	}
	m.Stamp(time.Now())

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO chat_models (id, sequence, key, name, max_tokens, price, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, sequence, m.Key, m.Name, m.MaxTokens, m.Price, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert chat model: %w", err)
	}

	return nil
}

// Get retrieves a chat model by ID
func (r *ChatModelRepository) Get(ctx context.Context, id string) (*models.ChatModel, error) {
	return r.getOne(ctx, `SELECT `+chatModelColumns+` FROM chat_models WHERE id = ?`, id)
}

// GetByKey retrieves a chat model by its provider key, e.g. "openai/gpt-4o"
func (r *ChatModelRepository) GetByKey(ctx context.Context, key string) (*models.ChatModel, error) {
	return r.getOne(ctx, `SELECT `+chatModelColumns+` FROM chat_models WHERE key = ?`, key)
}

func (r *ChatModelRepository) getOne(ctx context.Context, query string, arg any) (*models.ChatModel, error) {
	m, err := scanChatModel(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errChatModelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query chat model: %w", err)
	}
	return m, nil
}

// Update modifies name, token limit and price
func (r *ChatModelRepository) Update(ctx context.Context, m *models.ChatModel) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	m.Stamp(time.Now())

	result, err := r.db.ExecContext(ctx,
		`UPDATE chat_models SET key = ?, name = ?, max_tokens = ?, price = ?, updated_at = ? WHERE id = ?`,
		m.Key, m.Name, m.MaxTokens, m.Price, m.UpdatedAt, m.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update chat model: %w", err)
	}

	return affectedOne(result, errChatModelNotFound)
}

// Delete removes a chat model. Families using it fall back to the default.
func (r *ChatModelRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM chat_models WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete chat model: %w", err)
	}

	return affectedOne(result, errChatModelNotFound)
}

// List retrieves all chat models in seed order. No criteria are supported.
func (r *ChatModelRepository) List(ctx context.Context, _ map[string]any) ([]*models.ChatModel, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+chatModelColumns+` FROM chat_models ORDER BY sequence ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat models: %w", err)
	}
	defer rows.Close()

	var list []*models.ChatModel
	for rows.Next() {
		m, err := scanChatModel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat model: %w", err)
		}
		list = append(list, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return list, nil
}

func scanChatModel(row rowScanner) (*models.ChatModel, error) {
	var m models.ChatModel
	if err := row.Scan(&m.ID, &m.Key, &m.Name, &m.MaxTokens, &m.Price, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}
