package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/desertthunder/pihome/internal/services"
	"github.com/desertthunder/pihome/internal/shared"
)

const queuePreview = 5

// PlayerResolver finds the music player and playback device of a family.
type PlayerResolver interface {
	PlayerFor(ctx context.Context, familyID string) (services.MusicPlayer, string, error)
}

// ConnectionPlayers resolves players from the families' stored Spotify connections.
type ConnectionPlayers struct {
	Connections *services.SpotifyConnectionsService
}

func (p ConnectionPlayers) PlayerFor(ctx context.Context, familyID string) (services.MusicPlayer, string, error) {
	client, conn, err := p.Connections.ClientFor(ctx, familyID)
	if err != nil {
		return nil, "", err
	}
	return client, conn.SpotifyDeviceID, nil
}

// SpotifyTools returns the playback tools for the family in scope.
func SpotifyTools(players PlayerResolver, familyID string) Toolset {
	st := &spotifyTools{players: players, familyID: familyID}
	return Toolset{
		st.playTrack(),
		st.getFirstTrackURI(),
		st.queueTrack(),
		st.playBackControl(),
		st.getQueue(),
		st.transferPlayback(),
		st.searchTrackDetails(),
	}
}

type spotifyTools struct {
	players  PlayerResolver
	familyID string
}

func (st *spotifyTools) player(ctx context.Context) (services.MusicPlayer, string, error) {
	return st.players.PlayerFor(ctx, st.familyID)
}

func (st *spotifyTools) playTrack() Tool {
	return Tool{
		ToolDefinition: ToolDefinition{
			Name:        "playTrack",
			Description: "Play a specific song by name",
			Parameters:  schema(map[string]any{"trackUri": prop("string", "The URI of the track to play")}, "trackUri"),
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				TrackURI string `json:"trackUri"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return "", err
			}
			if args.TrackURI == "" {
				return "", fmt.Errorf("%w: trackUri", shared.ErrMissingArgument)
			}

			player, deviceID, err := st.player(ctx)
			if err != nil {
				return "", err
			}
			if err := player.Play(ctx, deviceID, args.TrackURI); err != nil {
				return "", err
			}
			return "Now playing: " + args.TrackURI, nil
		},
	}
}

func (st *spotifyTools) getFirstTrackURI() Tool {
	return Tool{
		ToolDefinition: ToolDefinition{
			Name:        "getFirstTrackUri",
			Description: "Get the URI of the first track that matches the query",
			Parameters:  schema(map[string]any{"query": prop("string", "The query to search for tracks")}, "query"),
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				Query string `json:"query"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return "", err
			}

			player, _, err := st.player(ctx)
			if err != nil {
				return "", err
			}
			tracks, err := player.SearchTracks(ctx, args.Query, 1)
			if err != nil {
				return "", err
			}
			if len(tracks) == 0 {
				return "", fmt.Errorf("%w: %s", shared.ErrTrackNotFound, args.Query)
			}
			return tracks[0].URI, nil
		},
	}
}

func (st *spotifyTools) queueTrack() Tool {
	return Tool{
		ToolDefinition: ToolDefinition{
			Name:        "queueTrack",
			Description: "add Music to the queue by query",
			Parameters:  schema(map[string]any{"trackUri": prop("string", "The URI of the track to add to the queue")}, "trackUri"),
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				TrackURI string `json:"trackUri"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return "", err
			}

			player, deviceID, err := st.player(ctx)
			if err != nil {
				return "", err
			}
			return queueAndVerify(ctx, player, deviceID, args.TrackURI), nil
		},
	}
}

// queueAndVerify enqueues uri and compares the queue before and after to confirm it landed.
func queueAndVerify(ctx context.Context, player services.MusicPlayer, deviceID, uri string) string {
	before, err := player.SeeQueue(ctx)
	if err == nil {
		err = player.Queue(ctx, deviceID, uri)
	}
	if err != nil {
		if apiErr, ok := services.AsSpotifyAPIError(err); ok {
			switch {
			case apiErr.NoActiveDevice():
				return "I couldn't add the song to the queue because there's no active Spotify device. Please start playing Spotify on a device first."
			case apiErr.PremiumRequired():
				return "I couldn't add the song to the queue because this feature requires Spotify Premium."
			}
		}

		if current, qerr := player.SeeQueue(ctx); qerr == nil {
			if track, ok := findQueued(current, uri); ok {
				return fmt.Sprintf("Good news! Despite an error, \"%s\" by %s appears to be in your queue.",
					track.Name, strings.Join(track.ArtistNames(), " and "))
			}
		}
		return "I wasn't able to add the song to the queue or verify if it was added. Please check your Spotify app."
	}

	after, err := player.SeeQueue(ctx)
	if err != nil {
		return "I wasn't able to add the song to the queue or verify if it was added. Please check your Spotify app."
	}

	track, ok := findQueued(after, uri)
	if !ok || countQueued(after, uri) <= countQueued(before, uri) {
		return "The track was not successfully added to the queue. Please make sure Spotify is running and try again."
	}
	return fmt.Sprintf("I've added \"%s\" by %s to your queue. It will play after the current song.",
		track.Name, strings.Join(track.ArtistNames(), " and "))
}

func findQueued(queue *services.SpotifyQueue, uri string) (services.SpotifyTrack, bool) {
	if queue == nil {
		return services.SpotifyTrack{}, false
	}
	for _, t := range queue.Queue {
		if t.URI == uri {
			return t, true
		}
	}
	return services.SpotifyTrack{}, false
}

func countQueued(queue *services.SpotifyQueue, uri string) int {
	if queue == nil {
		return 0
	}
	n := 0
	for _, t := range queue.Queue {
		if t.URI == uri {
			n++
		}
	}
	return n
}

func (st *spotifyTools) playBackControl() Tool {
	return Tool{
		ToolDefinition: ToolDefinition{
			Name: "playBackControl",
			Description: "Control the playback of the current track. Available actions: play, pause, next, previous, volume. " +
				"For volume control, specify volumePercent between 0 and 100",
			Parameters: schema(map[string]any{
				"action": map[string]any{
					"type":        "string",
					"enum":        []string{"play", "pause", "next", "previous", "seek", "volume"},
					"description": "The action to perform",
				},
				"volumePercent": prop("number", "Volume level between 0 and 100 (only used with volume action)"),
			}, "action"),
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				Action        string   `json:"action"`
				VolumePercent *float64 `json:"volumePercent"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return "", err
			}

			player, deviceID, err := st.player(ctx)
			if err != nil {
				return "", err
			}

			switch args.Action {
			case "play":
				return "Playback resumed", player.Play(ctx, deviceID)
			case "pause":
				return "Playback paused", player.Pause(ctx, deviceID)
			case "next":
				return "Skipped to next track", player.Next(ctx, deviceID)
			case "previous":
				return "Returned to previous track", player.Previous(ctx, deviceID)
			case "volume":
				if args.VolumePercent == nil {
					return "Volume percent must be specified for volume control", nil
				}
				percent := int(*args.VolumePercent)
				if err := player.SetVolume(ctx, deviceID, percent); err != nil {
					return "", err
				}
				return fmt.Sprintf("Volume set to %d%%", percent), nil
			default:
				return "Unknown action", nil
			}
		},
	}
}

func (st *spotifyTools) getQueue() Tool {
	return Tool{
		ToolDefinition: ToolDefinition{
			Name:        "getQueue",
			Description: "Get the current queue of music from Spotify",
			Parameters:  schema(map[string]any{"dummy": prop("string", "Optional parameter, not used")}),
		},
		Handler: func(ctx context.Context, _ json.RawMessage) (string, error) {
			player, _, err := st.player(ctx)
			if err != nil {
				return "", err
			}
			queue, err := player.SeeQueue(ctx)
			if err != nil {
				return "", err
			}
			return formatQueue(queue), nil
		},
	}
}

func formatQueue(queue *services.SpotifyQueue) string {
	var b strings.Builder
	if queue.CurrentlyPlaying != nil {
		fmt.Fprintf(&b, "Currently playing: %s by %s\n\n",
			queue.CurrentlyPlaying.Name, strings.Join(queue.CurrentlyPlaying.ArtistNames(), ", "))
	}

	if len(queue.Queue) == 0 {
		b.WriteString("Queue is empty")
		return b.String()
	}

	b.WriteString("Up next:\n")
	for i, t := range queue.Queue {
		if i == queuePreview {
			break
		}
		fmt.Fprintf(&b, "%d. %s by %s\n", i+1, t.Name, strings.Join(t.ArtistNames(), ", "))
	}
	return b.String()
}

func (st *spotifyTools) transferPlayback() Tool {
	return Tool{
		ToolDefinition: ToolDefinition{
			Name:        "transferPlayback",
			Description: "Transfer Spotify playback to a specific device. Optionally start playback after transfer.",
			Parameters: schema(map[string]any{
				"deviceId":      prop("string", "The ID of the device to transfer playback to"),
				"startPlayback": prop("boolean", "Whether to start playback after transfer (default: false)"),
			}, "deviceId"),
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				DeviceID      string `json:"deviceId"`
				StartPlayback bool   `json:"startPlayback"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return "", err
			}

			player, _, err := st.player(ctx)
			if err == nil {
				err = player.TransferPlayback(ctx, args.DeviceID, args.StartPlayback)
			}
			if err != nil {
				return "Failed to transfer playback: " + err.Error(), nil
			}

			reply := "Successfully transferred playback to device " + args.DeviceID
			if args.StartPlayback {
				reply += " and started playback"
			}
			return reply, nil
		},
	}
}

func (st *spotifyTools) searchTrackDetails() Tool {
	return Tool{
		ToolDefinition: ToolDefinition{
			Name:        "searchTrackDetails",
			Description: "Search for a track and get detailed information without playing it",
			Parameters: schema(map[string]any{
				"query": prop("string", "The search query for the track if user not want to play it"),
			}, "query"),
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				Query string `json:"query"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return "", err
			}

			player, _, err := st.player(ctx)
			if err != nil {
				return "", err
			}
			tracks, err := player.SearchTracks(ctx, args.Query, 1)
			if err != nil {
				return "", err
			}
			if len(tracks) == 0 {
				return "No tracks found matching your query.", nil
			}
			return describeTrack(tracks[0]), nil
		},
	}
}

func describeTrack(t services.SpotifyTrack) string {
	seconds := t.DurationMS / 1000
	return fmt.Sprintf("I found \"%s\" by %s. ", t.Name, strings.Join(t.ArtistNames(), " and ")) +
		fmt.Sprintf("This song is from the album \"%s\" and runs for %d:%02d. ", t.Album.Name, seconds/60, seconds%60) +
		fmt.Sprintf("It was released on %s and has a popularity rating of %d out of 100. ", t.Album.ReleaseDate, t.Popularity)
}
