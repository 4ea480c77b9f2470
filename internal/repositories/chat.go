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

const (
	chatColumns    = `id, name, family_id, latest_message_id, created_at, updated_at`
	messageColumns = `id, chat_id, sender_id, content, created_at`
)

var (
	errChatNotFound    = shared.NotFound("Chat not found")
	errMessageNotFound = shared.NotFound("Message not found")
)

// ChatRepository persists chats and their messages in SQLite.
type ChatRepository struct {
	db *sql.DB
}

// NewChatRepository creates a new [ChatRepository] with the given database connection
func NewChatRepository(db *sql.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

// CreateChat inserts a new chat
func (r *ChatRepository) CreateChat(ctx context.Context, chat *models.Chat) error {
	if err := chat.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(ctx, r.db, "chats")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	if chat.ID == "" {
		chat.ID = shared.GenerateID()
	}
	chat.Stamp(time.Now())

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO chats (id, sequence, name, family_id, latest_message_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		chat.ID, sequence, chat.Name, chat.FamilyID, nullable(chat.LatestMessageID), chat.CreatedAt, chat.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert chat: %w", err)
	}

	return nil
}

// GetChat retrieves a chat by ID
func (r *ChatRepository) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	chat, err := scanChat(r.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query chat: %w", err)
	}
	return chat, nil
}

// UpdateChat writes the chat name and latest message pointer
func (r *ChatRepository) UpdateChat(ctx context.Context, chat *models.Chat) error {
	if err := chat.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	chat.Stamp(time.Now())

	result, err := r.db.ExecContext(ctx,
		`UPDATE chats SET name = ?, latest_message_id = ?, updated_at = ? WHERE id = ?`,
		chat.Name, nullable(chat.LatestMessageID), chat.UpdatedAt, chat.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update chat: %w", err)
	}

	return affectedOne(result, errChatNotFound)
}

// DeleteChat removes a chat and its messages
func (r *ChatRepository) DeleteChat(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}

	return affectedOne(result, errChatNotFound)
}

// DeleteByFamily removes every chat of a family with its messages and returns how many chats went.
func (r *ChatRepository) DeleteByFamily(ctx context.Context, familyID string) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM chats WHERE family_id = ?`, familyID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete family chats: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// ListChats returns chats by most recent activity. An empty familyID lists every chat.
func (r *ChatRepository) ListChats(ctx context.Context, familyID string, limit, skip int) ([]*models.Chat, error) {
	limit, skip = paginate(limit, skip)

	var where whereBuilder
	if familyID != "" {
		where.add("family_id = ?", familyID)
	}

	query := `SELECT ` + chatColumns + ` FROM chats` + where.String() +
		` ORDER BY updated_at DESC, sequence DESC LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, append(where.args, limit, skip)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	var chats []*models.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		chats = append(chats, chat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return chats, nil
}

// AddMessage stores msg and points its chat at it in one transaction.
func (r *ChatRepository) AddMessage(ctx context.Context, msg *models.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if msg.ID == "" {
		msg.ID = shared.GenerateID()
	}
	msg.Stamp(time.Now())

	result, err := tx.ExecContext(ctx, `UPDATE chats SET latest_message_id = ?, updated_at = ? WHERE id = ?`,
		msg.ID, msg.CreatedAt, msg.ChatID)
	if err != nil {
		return fmt.Errorf("failed to update chat: %w", err)
	}
	if err := affectedOne(result, errChatNotFound); err != nil {
		return err
	}

	sequence, err := nextSequenceTx(ctx, tx, "chat_messages")
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO chat_messages (id, sequence, chat_id, sender_id, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, sequence, msg.ChatID, msg.SenderID, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by ID
func (r *ChatRepository) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	msg, err := scanMessage(r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	return msg, nil
}

// ListMessages returns a page of a chat's messages, newest first
func (r *ChatRepository) ListMessages(ctx context.Context, chatID string, limit, skip int) ([]*models.Message, error) {
	limit, skip = paginate(limit, skip)

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM chat_messages WHERE chat_id = ? ORDER BY sequence DESC LIMIT ? OFFSET ?`,
		chatID, limit, skip,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return messages, nil
}

func scanChat(row rowScanner) (*models.Chat, error) {
	var (
		chat   models.Chat
		latest sql.NullString
	)
	if err := row.Scan(&chat.ID, &chat.Name, &chat.FamilyID, &latest, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
		return nil, err
	}
	chat.LatestMessageID = latest.String
	return &chat, nil
}

// Messages are immutable, so UpdatedAt mirrors CreatedAt.
func scanMessage(row rowScanner) (*models.Message, error) {
	var msg models.Message
	if err := row.Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Content, &msg.CreatedAt); err != nil {
		return nil, err
	}
	msg.UpdatedAt = msg.CreatedAt
	return &msg, nil
}
