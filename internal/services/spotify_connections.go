package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/desertthunder/pihome/internal/models"
	"github.com/desertthunder/pihome/internal/shared"
)

// SpotifyConnectionsService stores each family's Spotify account link and hands out clients
// authenticated with it.
type SpotifyConnectionsService struct {
	stores  *Stores
	spotify SpotifyFactory
	logger  *log.Logger
}

// NewSpotifyConnectionsService creates a [SpotifyConnectionsService]. factory may be nil when
// Spotify is not configured; [SpotifyConnectionsService.ClientFor] then fails.
func NewSpotifyConnectionsService(stores *Stores, factory SpotifyFactory, logger *log.Logger) *SpotifyConnectionsService {
	return &SpotifyConnectionsService{stores: stores, spotify: factory, logger: orDiscard(logger)}
}

// CreateSpotifyConnection links a family to the account behind token and picks a playback device.
// A family without an available device keeps an empty device id until one is resolved later.
func (s *SpotifyConnectionsService) CreateSpotifyConnection(ctx context.Context, familyID string, token *oauth2.Token) (*models.SpotifyConnection, error) {
	if token == nil || token.AccessToken == "" {
		return nil, shared.BadRequest("Spotify token is required")
	}
	if _, err := s.stores.Families.Get(ctx, familyID); err != nil {
		return nil, err
	}

	_, err := s.stores.SpotifyConnections.GetByFamily(ctx, familyID)
	if err == nil {
		return nil, shared.BadRequest("Family already has a Spotify connection")
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	conn := &models.SpotifyConnection{
		FamilyID:     familyID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenExpiry:  token.Expiry,
	}
	if err := s.stores.SpotifyConnections.Create(ctx, conn); err != nil {
		return nil, err
	}
	s.logger.Info("spotify connected", "family", familyID)

	deviceID, err := s.ResolveDeviceID(ctx, familyID)
	if err != nil {
		s.logger.Warn("no spotify device resolved", "family", familyID, "error", err)
		return conn, nil
	}
	conn.SpotifyDeviceID = deviceID
	return conn, nil
}

func (s *SpotifyConnectionsService) GetSpotifyConnection(ctx context.Context, id string) (*models.SpotifyConnection, error) {
	return s.stores.SpotifyConnections.Get(ctx, id)
}

func (s *SpotifyConnectionsService) GetSpotifyConnectionByFamilyID(ctx context.Context, familyID string) (*models.SpotifyConnection, error) {
	return s.stores.SpotifyConnections.GetByFamily(ctx, familyID)
}

func (s *SpotifyConnectionsService) GetSpotifyConnectionFamily(ctx context.Context, id string) (*models.Family, error) {
	conn, err := s.stores.SpotifyConnections.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.stores.Families.Get(ctx, conn.FamilyID)
}

func (s *SpotifyConnectionsService) DeleteSpotifyConnection(ctx context.Context, id string) error {
	if err := s.stores.SpotifyConnections.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("spotify disconnected", "connection", id)
	return nil
}

// UpdateSpotifyConnection sets the device playback is sent to.
func (s *SpotifyConnectionsService) UpdateSpotifyConnection(ctx context.Context, id, deviceID string) (*models.SpotifyConnection, error) {
	conn, err := s.stores.SpotifyConnections.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	conn.SpotifyDeviceID = deviceID
	if err := s.stores.SpotifyConnections.Update(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// ListWithoutDevice returns the connections still waiting for a playback device.
func (s *SpotifyConnectionsService) ListWithoutDevice(ctx context.Context) ([]*models.SpotifyConnection, error) {
	return s.stores.SpotifyConnections.List(ctx, map[string]any{"missing_device": true})
}

// ClientFor returns a Spotify client authenticated as the family's account. Refreshed tokens are
// written back to the connection.
func (s *SpotifyConnectionsService) ClientFor(ctx context.Context, familyID string) (*SpotifyService, *models.SpotifyConnection, error) {
	if s.spotify == nil {
		return nil, nil, fmt.Errorf("%w: spotify is not configured", shared.ErrMissingConfig)
	}

	conn, err := s.stores.SpotifyConnections.GetByFamily(ctx, familyID)
	if err != nil {
		return nil, nil, err
	}

	client, err := s.spotify()
	if err != nil {
		return nil, nil, err
	}

	connID := conn.ID
	client.SetTokenRefreshCallback(func(token *oauth2.Token) {
		s.persistToken(connID, token)
	})
	client.AuthenticateWithToken(ctx, &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		Expiry:       conn.TokenExpiry,
		TokenType:    "Bearer",
	})
	return client, conn, nil
}

func (s *SpotifyConnectionsService) persistToken(connID string, token *oauth2.Token) {
	ctx := context.Background()

	conn, err := s.stores.SpotifyConnections.Get(ctx, connID)
	if err != nil {
		s.logger.Error("failed to load spotify connection for token refresh", "connection", connID, "error", err)
		return
	}

	conn.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		conn.RefreshToken = token.RefreshToken
	}
	conn.TokenExpiry = token.Expiry

	if err := s.stores.SpotifyConnections.Update(ctx, conn); err != nil {
		s.logger.Error("failed to persist refreshed spotify token", "connection", connID, "error", err)
		return
	}
	s.logger.Debug("spotify token refreshed", "connection", connID)
}

// ResolveDeviceID asks Spotify for the family's devices, stores the preferred one on the connection
// and returns its id.
func (s *SpotifyConnectionsService) ResolveDeviceID(ctx context.Context, familyID string) (string, error) {
	client, conn, err := s.ClientFor(ctx, familyID)
	if err != nil {
		return "", err
	}

	devices, err := client.Devices(ctx)
	if err != nil {
		return "", err
	}

	deviceID := PreferredDeviceID(devices)
	if deviceID == "" {
		return "", shared.NotFound("No Spotify devices available")
	}

	if conn.SpotifyDeviceID != deviceID {
		if _, err := s.UpdateSpotifyConnection(ctx, conn.ID, deviceID); err != nil {
			return "", err
		}
	}
	return deviceID, nil
}
