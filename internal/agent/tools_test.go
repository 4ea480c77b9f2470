package agent_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/desertthunder/pihome/internal/agent"
	"github.com/desertthunder/pihome/internal/services"
	th "github.com/desertthunder/pihome/internal/testing"
)

func track(uri, name string, artists ...string) services.SpotifyTrack {
	t := services.SpotifyTrack{URI: uri, Name: name}
	for _, a := range artists {
		t.Artists = append(t.Artists, services.SpotifyArtist{Name: a})
	}
	return t
}

func run(t *testing.T, tools agent.Toolset, name, args string) string {
	t.Helper()
	return tools.Run(context.Background(), agent.ToolCall{ID: "call", Name: name, Arguments: args})
}

func TestCalculatorTool(t *testing.T) {
	tools := agent.Toolset{agent.CalculatorTool()}

	tests := []struct {
		name     string
		args     string
		expected string
	}{
		{"add", `{"operation":"add","a":2,"b":3}`, "5"},
		{"subtract", `{"operation":"subtract","a":2,"b":3}`, "-1"},
		{"multiply", `{"operation":"multiply","a":1.5,"b":4}`, "6"},
		{"divide", `{"operation":"divide","a":1,"b":4}`, "0.25"},
		{"divide by zero", `{"operation":"divide","a":1,"b":0}`, "Error executing tool calculator: Division by zero is not allowed"},
		{"unknown operation", `{"operation":"modulo","a":1,"b":2}`, "Error executing tool calculator: Unknown operation: modulo"},
		{"bad arguments", `not json`, "Error executing tool calculator: invalid arguments"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := run(t, tools, "calculator", tt.args)
			if !strings.HasPrefix(got, tt.expected) {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}

	t.Run("unknown tool", func(t *testing.T) {
		got := run(t, tools, "teleport", "{}")
		if got != "Error executing tool teleport: unknown tool" {
			t.Errorf("unexpected result %q", got)
		}
	})
}

func TestSpotifyTools(t *testing.T) {
	newTools := func(player *th.FakePlayer) agent.Toolset {
		return agent.SpotifyTools(th.StaticPlayers{Player: player, DeviceID: "speaker"}, "family-1")
	}

	t.Run("definitions", func(t *testing.T) {
		names := []string{}
		for _, d := range newTools(&th.FakePlayer{}).Definitions() {
			names = append(names, d.Name)
		}
		expected := "playTrack,getFirstTrackUri,queueTrack,playBackControl,getQueue,transferPlayback,searchTrackDetails"
		if strings.Join(names, ",") != expected {
			t.Errorf("expected tools %s, got %v", expected, names)
		}
	})

	t.Run("playTrack", func(t *testing.T) {
		player := &th.FakePlayer{}
		got := run(t, newTools(player), "playTrack", `{"trackUri":"spotify:track:1"}`)
		if got != "Now playing: spotify:track:1" {
			t.Errorf("unexpected result %q", got)
		}
		if calls := player.Calls(); len(calls) != 1 || calls[0] != "Play speaker [spotify:track:1]" {
			t.Errorf("expected play on speaker, got %v", calls)
		}
	})

	t.Run("getFirstTrackUri", func(t *testing.T) {
		player := &th.FakePlayer{Tracks: []services.SpotifyTrack{track("spotify:track:a", "A"), track("spotify:track:b", "B")}}
		if got := run(t, newTools(player), "getFirstTrackUri", `{"query":"a"}`); got != "spotify:track:a" {
			t.Errorf("expected first uri, got %q", got)
		}

		empty := run(t, newTools(&th.FakePlayer{}), "getFirstTrackUri", `{"query":"nothing"}`)
		if !strings.HasPrefix(empty, "Error executing tool getFirstTrackUri: track not found") {
			t.Errorf("expected not found error, got %q", empty)
		}
	})

	t.Run("playBackControl", func(t *testing.T) {
		tests := []struct {
			args     string
			expected string
		}{
			{`{"action":"play"}`, "Playback resumed"},
			{`{"action":"pause"}`, "Playback paused"},
			{`{"action":"next"}`, "Skipped to next track"},
			{`{"action":"previous"}`, "Returned to previous track"},
			{`{"action":"volume","volumePercent":40}`, "Volume set to 40%"},
			{`{"action":"volume"}`, "Volume percent must be specified for volume control"},
			{`{"action":"seek"}`, "Unknown action"},
		}

		for _, tt := range tests {
			t.Run(tt.args, func(t *testing.T) {
				if got := run(t, newTools(&th.FakePlayer{}), "playBackControl", tt.args); got != tt.expected {
					t.Errorf("expected %q, got %q", tt.expected, got)
				}
			})
		}

		failing := &th.FakePlayer{Errors: map[string]error{"Pause": errors.New("offline")}}
		if got := run(t, newTools(failing), "playBackControl", `{"action":"pause"}`); got != "Error executing tool playBackControl: offline" {
			t.Errorf("expected error text, got %q", got)
		}
	})

	t.Run("getQueue", func(t *testing.T) {
		current := track("spotify:track:now", "Now", "Ann", "Bo")
		player := &th.FakePlayer{Current: &current}
		for i := range 7 {
			player.Queued = append(player.Queued, track("spotify:track:q", "Song"+string(rune('1'+i)), "Cy"))
		}

		got := run(t, newTools(player), "getQueue", `{}`)
		expected := "Currently playing: Now by Ann, Bo\n\nUp next:\n" +
			"1. Song1 by Cy\n2. Song2 by Cy\n3. Song3 by Cy\n4. Song4 by Cy\n5. Song5 by Cy\n"
		if got != expected {
			t.Errorf("expected %q, got %q", expected, got)
		}

		if got := run(t, newTools(&th.FakePlayer{}), "getQueue", ``); got != "Queue is empty" {
			t.Errorf("expected empty queue, got %q", got)
		}
	})

	t.Run("queueTrack", func(t *testing.T) {
		song := track("spotify:track:x", "Xanadu", "Olivia", "ELO")

		tests := []struct {
			name     string
			player   *th.FakePlayer
			expected string
		}{
			{
				name:     "added",
				player:   &th.FakePlayer{Tracks: []services.SpotifyTrack{song}},
				expected: `I've added "Xanadu" by Olivia and ELO to your queue. It will play after the current song.`,
			},
			{
				name:     "added again when already queued",
				player:   &th.FakePlayer{Tracks: []services.SpotifyTrack{song}, Queued: []services.SpotifyTrack{song}},
				expected: `I've added "Xanadu" by Olivia and ELO to your queue. It will play after the current song.`,
			},
			{
				name:     "not added",
				player:   &th.FakePlayer{Tracks: []services.SpotifyTrack{song}, DropQueued: true},
				expected: "The track was not successfully added to the queue. Please make sure Spotify is running and try again.",
			},
			{
				name: "no active device",
				player: &th.FakePlayer{Errors: map[string]error{
					"Queue": &services.SpotifyAPIError{Status: http.StatusNotFound, Message: "Player command failed: No active device found"},
				}},
				expected: "I couldn't add the song to the queue because there's no active Spotify device. Please start playing Spotify on a device first.",
			},
			{
				name: "premium required",
				player: &th.FakePlayer{Errors: map[string]error{
					"Queue": &services.SpotifyAPIError{Status: http.StatusForbidden, Message: "Player command failed: Premium required"},
				}},
				expected: "I couldn't add the song to the queue because this feature requires Spotify Premium.",
			},
			{
				name: "error but queued",
				player: &th.FakePlayer{
					Queued: []services.SpotifyTrack{song},
					Errors: map[string]error{"Queue": errors.New("timeout")},
				},
				expected: `Good news! Despite an error, "Xanadu" by Olivia and ELO appears to be in your queue.`,
			},
			{
				name:     "error and not queued",
				player:   &th.FakePlayer{Errors: map[string]error{"Queue": errors.New("timeout")}},
				expected: "I wasn't able to add the song to the queue or verify if it was added. Please check your Spotify app.",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got := run(t, newTools(tt.player), "queueTrack", `{"trackUri":"spotify:track:x"}`)
				if got != tt.expected {
					t.Errorf("expected %q, got %q", tt.expected, got)
				}
			})
		}
	})

	t.Run("transferPlayback", func(t *testing.T) {
		player := &th.FakePlayer{}
		tools := newTools(player)

		if got := run(t, tools, "transferPlayback", `{"deviceId":"kitchen"}`); got != "Successfully transferred playback to device kitchen" {
			t.Errorf("unexpected result %q", got)
		}
		if got := run(t, tools, "transferPlayback", `{"deviceId":"kitchen","startPlayback":true}`); got != "Successfully transferred playback to device kitchen and started playback" {
			t.Errorf("unexpected result %q", got)
		}

		failing := &th.FakePlayer{Errors: map[string]error{"TransferPlayback": errors.New("device gone")}}
		if got := run(t, newTools(failing), "transferPlayback", `{"deviceId":"x"}`); got != "Failed to transfer playback: device gone" {
			t.Errorf("unexpected result %q", got)
		}
	})

	t.Run("searchTrackDetails", func(t *testing.T) {
		song := track("spotify:track:x", "Xanadu", "Olivia", "ELO")
		song.Album = services.SpotifyAlbum{Name: "Xanadu OST", ReleaseDate: "1980-06-01"}
		song.DurationMS = 209_000
		song.Popularity = 61

		got := run(t, newTools(&th.FakePlayer{Tracks: []services.SpotifyTrack{song}}), "searchTrackDetails", `{"query":"xanadu"}`)
		expected := `I found "Xanadu" by Olivia and ELO. This song is from the album "Xanadu OST" and runs for 3:29. ` +
			`It was released on 1980-06-01 and has a popularity rating of 61 out of 100. `
		if got != expected {
			t.Errorf("expected %q, got %q", expected, got)
		}

		if got := run(t, newTools(&th.FakePlayer{}), "searchTrackDetails", `{"query":"zzz"}`); got != "No tracks found matching your query." {
			t.Errorf("unexpected result %q", got)
		}
	})

	t.Run("unresolved player", func(t *testing.T) {
		tools := agent.SpotifyTools(th.StaticPlayers{Err: errors.New("not connected")}, "family-1")
		if got := run(t, tools, "getQueue", "{}"); got != "Error executing tool getQueue: not connected" {
			t.Errorf("unexpected result %q", got)
		}
	})
}

func TestNoteTools(t *testing.T) {
	ctx := context.Background()
	stack := th.NewStack(t)
	owner, member, family := stack.Household(t)
	notes := stack.Services.Notes

	ownerTools := agent.NoteTools(notes, agent.Scope{FamilyID: family.ID, UserID: owner.ID})
	memberTools := agent.NoteTools(notes, agent.Scope{FamilyID: family.ID, UserID: member.ID})

	t.Run("saveNote", func(t *testing.T) {
		got := run(t, ownerTools, "saveNote", `{"content":"buy milk #shopping #errands","isPrivate":false}`)
		if !strings.HasPrefix(got, "Note saved successfully with ID: ") {
			t.Fatalf("unexpected result %q", got)
		}
		if !strings.HasSuffix(got, ". Tags: shopping, errands. Visibility: family-visible") {
			t.Errorf("unexpected tags or visibility in %q", got)
		}

		got = run(t, memberTools, "saveNote", `{"content":"surprise party","isPrivate":true}`)
		if !strings.HasSuffix(got, ". Tags: none. Visibility: private") {
			t.Errorf("unexpected result %q", got)
		}
	})

	t.Run("scoped user wins over argument", func(t *testing.T) {
		run(t, memberTools, "saveNote", `{"userId":"`+owner.ID+`","content":"member wrote this #who","isPrivate":false}`)
		found, err := notes.SearchNotes(ctx, family.ID, member.ID, "who")
		if err != nil || len(found) != 1 {
			t.Fatalf("expected one note, got %d (%v)", len(found), err)
		}
		if found[0].UserID != member.ID {
			t.Errorf("expected note by member, got %s", found[0].UserID)
		}
	})

	t.Run("unscoped user comes from argument", func(t *testing.T) {
		tools := agent.NoteTools(notes, agent.Scope{FamilyID: family.ID})
		if got := run(t, tools, "saveNote", `{"content":"no user"}`); got != "Error executing tool saveNote: User or family not found" {
			t.Errorf("unexpected result %q", got)
		}
		if got := run(t, tools, "saveNote", `{"userId":"ghost","content":"no user"}`); got != "Error executing tool saveNote: User or family not found" {
			t.Errorf("unexpected result %q", got)
		}
		if got := run(t, tools, "saveNote", `{"userId":"`+owner.ID+`","content":"by argument"}`); !strings.HasPrefix(got, "Note saved") {
			t.Errorf("unexpected result %q", got)
		}
	})

	t.Run("searchNotes visibility", func(t *testing.T) {
		got := run(t, ownerTools, "searchNotes", `{"query":"surprise"}`)
		if got != "No notes found for this query." {
			t.Errorf("expected private note to be hidden from owner, got %q", got)
		}

		got = run(t, memberTools, "searchNotes", `{"query":"surprise"}`)
		if got != "Found 1 notes:\n1. surprise party (By: You)  🔒 Private" {
			t.Errorf("unexpected result %q", got)
		}

		got = run(t, memberTools, "searchNotes", `{"query":"milk"}`)
		if got != "Found 1 notes:\n1. buy milk #shopping #errands (By: Owner) [Tags: shopping, errands] 👨‍👩‍👧‍👦 Family" {
			t.Errorf("unexpected result %q", got)
		}
	})
}
