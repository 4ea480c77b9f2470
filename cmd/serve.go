package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/pihome/internal/agent"
	"github.com/desertthunder/pihome/internal/mcp"
	"github.com/desertthunder/pihome/internal/server"
	"github.com/desertthunder/pihome/internal/shared"
	"github.com/desertthunder/pihome/internal/tasks"
)

func (r *Runner) newServer(oauth *server.OAuthHandler) *server.Server {
	return server.New(server.Deps{
		Services:  r.services,
		Agent:     r.agent,
		ChatAgent: r.chatAgent,
		OAuth:     oauth,
		Logger:    r.logger,
	})
}

// Serve runs the HTTP API until ctx is cancelled. The heartbeat sweeper always runs; the Spotify
// device sync runs when Spotify credentials are configured.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if cmd.IsSet("host") {
		r.config.Server.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		r.config.Server.Port = cmd.Int("port")
	}

	scheduler, err := r.scheduler(cmd.String("sync-schedule"))
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	var oauth *server.OAuthHandler
	if factory := r.spotifyFactory(); factory != nil {
		oauth = server.NewOAuthHandler(factory, r.services.SpotifyConnections)
	} else {
		r.logger.Warn("spotify credentials missing, /callback disabled")
	}

	return r.newServer(oauth).ListenAndServe(ctx, r.config.Server.Addr())
}

func (r *Runner) scheduler(syncSchedule string) (*tasks.Scheduler, error) {
	scheduler := tasks.NewScheduler(r.logger)

	hb := r.config.Heartbeat
	if err := scheduler.Add(hb.SweepSchedule, tasks.NewHeartbeatSweeper(r.services.DeviceStatus, hb.Timeout.Duration)); err != nil {
		return nil, err
	}

	if r.spotifyFactory() != nil && syncSchedule != "" {
		job := tasks.NewSpotifyDeviceSync(r.services.SpotifyConnections, r.logger)
		if err := scheduler.Add(syncSchedule, job); err != nil {
			return nil, err
		}
	}
	return scheduler, nil
}

// MCP serves one family member's assistant tools on stdin and stdout.
func (r *Runner) MCP(ctx context.Context, cmd *cli.Command) error {
	familyID, userID := cmd.String("family"), cmd.String("user")

	user, err := r.services.Users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.FamilyID != familyID {
		return shared.BadRequest("User is not a member of the family")
	}

	srv, err := mcp.New(r.agent, agent.Scope{FamilyID: familyID, UserID: userID}, r.logger)
	if err != nil {
		return err
	}
	return srv.ServeStdio(ctx, r.input, r.output)
}
