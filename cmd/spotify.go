package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/pihome/internal/server"
	"github.com/desertthunder/pihome/internal/shared"
)

// SpotifyLogin connects a family's Spotify account.
//
// Starts the API server for the OAuth callback, opens the consent page in a browser and waits until
// the callback stores the connection, the timeout passes or ctx is cancelled.
func (r *Runner) SpotifyLogin(ctx context.Context, cmd *cli.Command) error {
	oauth := server.NewOAuthHandler(r.spotifyFactory(), r.services.SpotifyConnections)
	authURL, err := oauth.Begin(cmd.String("family"))
	if err != nil {
		return err
	}

	addr := r.config.Server.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := r.newServer(oauth)
	serveCtx, stop := context.WithCancel(ctx)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(serveCtx, ln) }()

	if cmd.Bool("no-browser") {
		r.writePlain("Open this URL in your browser:\n%s\n\n", authURL)
	} else {
		r.writePlain("→ Opening browser for Spotify authorization...\n")
		if err := shared.OpenBrowser(ctx, authURL); err != nil {
			r.logger.Warn("failed to open browser automatically", "error", err)
			r.writePlainln("⚠ Could not open browser automatically.")
			r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
		}
	}

	timeout := cmd.Duration("timeout")
	r.writePlain("→ Waiting for authorization (%s timeout)...\n", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var result server.OAuthResult
	select {
	case result = <-oauth.Result():
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	case <-timer.C:
		return fmt.Errorf("%w: authorization timed out after %s", shared.ErrNotAuthenticated, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	stop()
	if err := <-serveErr; err != nil {
		r.logger.Warn("error shutting down server", "error", err)
	}

	if err := result.Error(); err != nil {
		return fmt.Errorf("authorization failed: %w", err)
	}

	r.writePlainln("✓ Spotify connected")
	if id := result.Connection.SpotifyDeviceID; id != "" {
		r.writePlain("✓ Playback device: %s\n", id)
	} else {
		r.writePlain("No active Spotify device yet. Start Spotify on a speaker and run `pihome spotify set-device`.\n")
	}
	return nil
}

// SpotifyDevices lists the account's Connect devices and marks the one playback goes to.
func (r *Runner) SpotifyDevices(ctx context.Context, cmd *cli.Command) error {
	client, conn, err := r.services.SpotifyConnections.ClientFor(ctx, cmd.String("family"))
	if err != nil {
		return err
	}

	devices, err := client.Devices(ctx)
	if err != nil {
		return err
	}

	return r.emit(cmd, devices, func() error {
		r.writePlain("Found %d devices:\n\n", len(devices))
		for _, d := range devices {
			marker := " "
			if d.ID == conn.SpotifyDeviceID {
				marker = "*"
			}
			active := ""
			if d.IsActive {
				active = " (active)"
			}
			r.writePlain("%s %s [%s]%s\n", marker, d.Name, d.Type, active)
			r.writePlain("  ID: %s\n", d.ID)
		}
		return nil
	})
}

// SpotifySetDevice stores the playback device. Without --device-id the preferred device is chosen.
func (r *Runner) SpotifySetDevice(ctx context.Context, cmd *cli.Command) error {
	familyID := cmd.String("family")

	deviceID := cmd.String("device-id")
	if deviceID == "" {
		resolved, err := r.services.SpotifyConnections.ResolveDeviceID(ctx, familyID)
		if err != nil {
			return err
		}
		return r.writePlain("✓ Playback device set to %s\n", resolved)
	}

	conn, err := r.services.SpotifyConnections.GetSpotifyConnectionByFamilyID(ctx, familyID)
	if err != nil {
		return err
	}
	if _, err := r.services.SpotifyConnections.UpdateSpotifyConnection(ctx, conn.ID, deviceID); err != nil {
		return err
	}
	return r.writePlain("✓ Playback device set to %s\n", deviceID)
}

func (r *Runner) SpotifyDisconnect(ctx context.Context, cmd *cli.Command) error {
	conn, err := r.services.SpotifyConnections.GetSpotifyConnectionByFamilyID(ctx, cmd.String("family"))
	if err != nil {
		return err
	}
	if err := r.services.SpotifyConnections.DeleteSpotifyConnection(ctx, conn.ID); err != nil {
		return err
	}
	return r.writePlain("✓ Spotify disconnected\n")
}
