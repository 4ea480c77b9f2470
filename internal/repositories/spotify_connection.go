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

const spotifyConnectionColumns = `id, family_id, access_token, refresh_token, token_expiry, spotify_device_id, created_at, updated_at`

var errSpotifyConnectionNotFound = shared.NotFound("Spotify connection not found")

// SpotifyConnectionRepository implements [models.Repository] for [models.SpotifyConnection] persistence.
//
// A family has at most one connection; family_id is unique.
type SpotifyConnectionRepository struct {
	db *sql.DB
}

// NewSpotifyConnectionRepository creates a new [SpotifyConnectionRepository] with the given database connection
func NewSpotifyConnectionRepository(db *sql.DB) *SpotifyConnectionRepository {
	return &SpotifyConnectionRepository{db: db}
}

// Create inserts a new connection with generated ID and sequence
func (r *SpotifyConnectionRepository) Create(ctx context.Context, conn *models.SpotifyConnection) error {
	if err := conn.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(ctx, r.db, "spotify_connections")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	if conn.ID == "" {
		conn.ID = shared.GenerateID()
	}
	conn.Stamp(time.Now())

	query := `
		INSERT INTO spotify_connections (id, sequence, family_id, access_token, refresh_token, token_expiry,
			spotify_device_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		conn.ID, sequence, conn.FamilyID, conn.AccessToken, conn.RefreshToken, expiryValue(conn.TokenExpiry),
		conn.SpotifyDeviceID, conn.CreatedAt, conn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert spotify connection: %w", err)
	}

	return nil
}

// Get retrieves a connection by ID
func (r *SpotifyConnectionRepository) Get(ctx context.Context, id string) (*models.SpotifyConnection, error) {
	return r.getOne(ctx, `SELECT `+spotifyConnectionColumns+` FROM spotify_connections WHERE id = ?`, id)
}

// GetByFamily retrieves the connection of a family
func (r *SpotifyConnectionRepository) GetByFamily(ctx context.Context, familyID string) (*models.SpotifyConnection, error) {
	return r.getOne(ctx, `SELECT `+spotifyConnectionColumns+` FROM spotify_connections WHERE family_id = ?`, familyID)
}

func (r *SpotifyConnectionRepository) getOne(ctx context.Context, query string, arg any) (*models.SpotifyConnection, error) {
	conn, err := scanSpotifyConnection(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errSpotifyConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query spotify connection: %w", err)
	}
	return conn, nil
}

// Update writes tokens and the selected device
func (r *SpotifyConnectionRepository) Update(ctx context.Context, conn *models.SpotifyConnection) error {
	if err := conn.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	conn.Stamp(time.Now())

	query := `
		UPDATE spotify_connections
		SET access_token = ?, refresh_token = ?, token_expiry = ?, spotify_device_id = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		conn.AccessToken, conn.RefreshToken, expiryValue(conn.TokenExpiry), conn.SpotifyDeviceID, conn.UpdatedAt, conn.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update spotify connection: %w", err)
	}

	return affectedOne(result, errSpotifyConnectionNotFound)
}

// Delete removes a connection by ID
func (r *SpotifyConnectionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM spotify_connections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete spotify connection: %w", err)
	}

	return affectedOne(result, errSpotifyConnectionNotFound)
}

// List retrieves connections. Supported criteria: "missing_device" (bool) selects
// connections with no playback device chosen yet.
func (r *SpotifyConnectionRepository) List(ctx context.Context, criteria map[string]any) ([]*models.SpotifyConnection, error) {
	var where whereBuilder
	if missing, ok := criteria["missing_device"].(bool); ok && missing {
		where.add("spotify_device_id = ''")
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+spotifyConnectionColumns+` FROM spotify_connections`+where.String()+` ORDER BY sequence ASC`, where.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query spotify connections: %w", err)
	}
	defer rows.Close()

	var conns []*models.SpotifyConnection
	for rows.Next() {
		conn, err := scanSpotifyConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan spotify connection: %w", err)
		}
		conns = append(conns, conn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return conns, nil
}

func expiryValue(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func scanSpotifyConnection(row rowScanner) (*models.SpotifyConnection, error) {
	var (
		conn   models.SpotifyConnection
		expiry sql.NullTime
	)

	if err := row.Scan(&conn.ID, &conn.FamilyID, &conn.AccessToken, &conn.RefreshToken, &expiry,
		&conn.SpotifyDeviceID, &conn.CreatedAt, &conn.UpdatedAt); err != nil {
		return nil, err
	}

	if expiry.Valid {
		conn.TokenExpiry = expiry.Time
	}
	return &conn, nil
}
