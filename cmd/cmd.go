// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to configuration file",
			Value:   "config.toml",
			Sources: cli.EnvVars("PIHOME_CONFIG"),
		},
		&cli.StringFlag{
			Name:  "env",
			Usage: "Path to a dotenv file with secrets",
			Value: ".env",
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "Enable debug logging",
		},
	}
}

func familyFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "family",
		Aliases:  []string{"f"},
		Usage:    "Family ID",
		Required: true,
		Sources:  cli.EnvVars("PIHOME_FAMILY_ID"),
	}
}

func userFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "user",
		Aliases:  []string{"u"},
		Usage:    "User ID",
		Required: true,
		Sources:  cli.EnvVars("PIHOME_USER_ID"),
	}
}

func requiredString(name, usage string) cli.Flag {
	return &cli.StringFlag{Name: name, Usage: usage, Required: true}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{Name: "json", Usage: "Output JSON"}
}

func pageFlags(limit int) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Maximum number of results", Value: limit},
		&cli.IntFlag{Name: "skip", Usage: "Number of results to skip"},
	}
}

// setupCommand handles database setup and migrations.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and database maintenance commands",
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Write a config file if missing, migrate the database and seed chat models",
				Action: r.SetupInit,
			},
			{
				Name:   "migrate",
				Usage:  "Apply pending database migrations",
				Action: r.SetupMigrate,
			},
			{
				Name:   "rollback",
				Usage:  "Roll back the most recent migration",
				Action: r.SetupRollback,
			},
			{
				Name:   "seed",
				Usage:  "Install the default chat model catalog",
				Action: r.withServices(r.SetupSeed),
			},
		},
	}
}

// userCommand handles user accounts.
func userCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Manage users",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Register a user",
				Flags: []cli.Flag{
					requiredString("email", "Email address"),
					requiredString("name", "Display name"),
					&cli.StringFlag{Name: "password", Usage: "Password; leave empty for an account that cannot log in", Sources: cli.EnvVars("PIHOME_PASSWORD")},
					jsonFlag(),
				},
				Action: r.withServices(r.UserCreate),
			},
			{
				Name:  "show",
				Usage: "Show a user by ID or email",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "User ID", Sources: cli.EnvVars("PIHOME_USER_ID")},
					&cli.StringFlag{Name: "email", Usage: "Email address"},
					jsonFlag(),
				},
				Action: r.withServices(r.UserShow),
			},
			{
				Name:   "delete",
				Usage:  "Delete a user",
				Flags:  []cli.Flag{userFlag()},
				Action: r.withServices(r.UserDelete),
			},
			{
				Name:   "join",
				Usage:  "Join a family with an invite code",
				Flags:  []cli.Flag{userFlag(), requiredString("code", "Invite code")},
				Action: r.withServices(r.UserJoin),
			},
			{
				Name:   "leave",
				Usage:  "Leave the current family",
				Flags:  []cli.Flag{userFlag()},
				Action: r.withServices(r.UserLeave),
			},
		},
	}
}

// familyCommand handles families and their membership.
func familyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "family",
		Aliases: []string{"fam"},
		Usage:   "Manage families",
		Commands: []*cli.Command{
			{
				Name:   "create",
				Usage:  "Create a family owned by a user",
				Flags:  []cli.Flag{userFlag(), requiredString("name", "Family name"), jsonFlag()},
				Action: r.withServices(r.FamilyCreate),
			},
			{
				Name:   "show",
				Usage:  "Show a family",
				Flags:  []cli.Flag{familyFlag(), jsonFlag()},
				Action: r.withServices(r.FamilyShow),
			},
			{
				Name:  "update",
				Usage: "Rename a family or change its chat model",
				Flags: []cli.Flag{
					familyFlag(),
					&cli.StringFlag{Name: "name", Usage: "New family name"},
					&cli.StringFlag{Name: "model", Usage: "Chat model key, see `pihome models list`"},
				},
				Action: r.withServices(r.FamilyUpdate),
			},
			{
				Name:   "delete",
				Usage:  "Delete a family",
				Flags:  []cli.Flag{familyFlag()},
				Action: r.withServices(r.FamilyDelete),
			},
			{
				Name:   "invite",
				Usage:  "Create an invite code",
				Flags:  []cli.Flag{familyFlag()},
				Action: r.withServices(r.FamilyInvite),
			},
			{
				Name:   "uninvite",
				Usage:  "Revoke the invite code",
				Flags:  []cli.Flag{familyFlag()},
				Action: r.withServices(r.FamilyUninvite),
			},
			{
				Name:   "transfer",
				Usage:  "Transfer ownership to another member",
				Flags:  []cli.Flag{familyFlag(), requiredString("to", "ID of the new owner")},
				Action: r.withServices(r.FamilyTransfer),
			},
			{
				Name:   "members",
				Usage:  "List family members",
				Flags:  []cli.Flag{familyFlag(), jsonFlag()},
				Action: r.withServices(r.FamilyMembers),
			},
			{
				Name:   "devices",
				Usage:  "Show the status of every group and standalone device",
				Flags:  []cli.Flag{familyFlag(), jsonFlag()},
				Action: r.withServices(r.FamilyDevices),
			},
			{
				Name:   "groups",
				Usage:  "List device groups",
				Flags:  []cli.Flag{familyFlag(), jsonFlag()},
				Action: r.withServices(r.FamilyGroups),
			},
		},
	}
}

// deviceCommand handles speakers.
func deviceCommand(r *Runner) *cli.Command {
	device := func() cli.Flag { return requiredString("device", "Device ID") }
	return &cli.Command{
		Name:    "device",
		Aliases: []string{"dev"},
		Usage:   "Manage speakers",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Register a device; prints its secret once",
				Flags: []cli.Flag{
					familyFlag(),
					requiredString("name", "Device name"),
					requiredString("client-id", "Client ID the device authenticates with"),
					jsonFlag(),
				},
				Action: r.withServices(r.DeviceCreate),
			},
			{
				Name:   "show",
				Usage:  "Show a device",
				Flags:  []cli.Flag{device(), jsonFlag()},
				Action: r.withServices(r.DeviceShow),
			},
			{
				Name:   "rename",
				Usage:  "Rename a device",
				Flags:  []cli.Flag{device(), requiredString("name", "New name")},
				Action: r.withServices(r.DeviceRename),
			},
			{
				Name:   "delete",
				Usage:  "Delete a device",
				Flags:  []cli.Flag{device()},
				Action: r.withServices(r.DeviceDelete),
			},
			{
				Name:   "mute",
				Usage:  "Mute or unmute a device",
				Flags:  []cli.Flag{device(), &cli.BoolFlag{Name: "unmute", Usage: "Unmute instead"}},
				Action: r.withServices(r.DeviceMute),
			},
			{
				Name:  "volume",
				Usage: "Set the volume of a device",
				Flags: []cli.Flag{
					device(),
					&cli.IntFlag{Name: "percent", Aliases: []string{"p"}, Usage: "Volume between 0 and 100", Required: true},
				},
				Action: r.withServices(r.DeviceVolume),
			},
			{
				Name:   "status",
				Usage:  "Show the live status of a device",
				Flags:  []cli.Flag{device(), jsonFlag()},
				Action: r.withServices(r.DeviceStatus),
			},
		},
	}
}

// groupCommand handles device groups.
func groupCommand(r *Runner) *cli.Command {
	group := func() cli.Flag { return requiredString("group", "Device group ID") }
	devices := func() cli.Flag {
		return &cli.StringSliceFlag{Name: "device", Aliases: []string{"d"}, Usage: "Device ID; repeat for several", Required: true}
	}
	return &cli.Command{
		Name:  "group",
		Usage: "Manage device groups",
		Commands: []*cli.Command{
			{
				Name:   "create",
				Usage:  "Create a device group",
				Flags:  []cli.Flag{familyFlag(), requiredString("name", "Group name"), jsonFlag()},
				Action: r.withServices(r.GroupCreate),
			},
			{
				Name:   "show",
				Usage:  "Show a group and its devices",
				Flags:  []cli.Flag{familyFlag(), group(), jsonFlag()},
				Action: r.withServices(r.GroupShow),
			},
			{
				Name:   "rename",
				Usage:  "Rename a group",
				Flags:  []cli.Flag{familyFlag(), group(), requiredString("name", "New name")},
				Action: r.withServices(r.GroupRename),
			},
			{
				Name:   "delete",
				Usage:  "Delete a group; its devices become standalone",
				Flags:  []cli.Flag{familyFlag(), group()},
				Action: r.withServices(r.GroupDelete),
			},
			{
				Name:   "add",
				Usage:  "Add devices to a group",
				Flags:  []cli.Flag{familyFlag(), group(), devices()},
				Action: r.withServices(r.GroupAdd),
			},
			{
				Name:   "remove",
				Usage:  "Remove devices from a group",
				Flags:  []cli.Flag{familyFlag(), group(), devices()},
				Action: r.withServices(r.GroupRemove),
			},
			{
				Name:   "mute",
				Usage:  "Mute or unmute every device in a group",
				Flags:  []cli.Flag{group(), &cli.BoolFlag{Name: "unmute", Usage: "Unmute instead"}},
				Action: r.withServices(r.GroupMute),
			},
		},
	}
}

// chatCommand handles chats with the assistant.
func chatCommand(r *Runner) *cli.Command {
	chat := func() cli.Flag { return requiredString("chat", "Chat ID") }
	return &cli.Command{
		Name:  "chat",
		Usage: "Talk to the home assistant",
		Commands: []*cli.Command{
			{
				Name:   "new",
				Usage:  "Start a chat",
				Flags:  []cli.Flag{familyFlag(), jsonFlag()},
				Action: r.withServices(r.ChatNew),
			},
			{
				Name:   "list",
				Usage:  "List chats, most recently active first",
				Flags:  append([]cli.Flag{familyFlag(), jsonFlag()}, pageFlags(20)...),
				Action: r.withServices(r.ChatList),
			},
			{
				Name:   "messages",
				Usage:  "Print a chat's messages in order",
				Flags:  append([]cli.Flag{chat(), jsonFlag()}, pageFlags(50)...),
				Action: r.withServices(r.ChatMessages),
			},
			{
				Name:      "send",
				Usage:     "Send a message and print the assistant's reply",
				ArgsUsage: "<message>",
				Flags:     []cli.Flag{chat(), userFlag(), jsonFlag()},
				Action:    r.withServices(r.ChatSend),
			},
			{
				Name:  "export",
				Usage: "Export one chat, or every chat of a family",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "chat", Usage: "Chat ID to export"},
					&cli.StringFlag{Name: "family", Aliases: []string{"f"}, Usage: "Export every chat of this family", Sources: cli.EnvVars("PIHOME_FAMILY_ID")},
					&cli.StringFlag{Name: "format", Usage: "json, markdown, csv or txt", Value: "markdown"},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output directory"},
					&cli.IntFlag{Name: "workers", Usage: "Concurrent exports for a family export", Value: 4},
					&cli.FloatFlag{Name: "rate", Usage: "Maximum chats exported per second; 0 for no limit"},
				},
				Action: r.withServices(r.ChatExport),
			},
			{
				Name:    "tui",
				Aliases: []string{"ui"},
				Usage:   "Open the interactive chat client",
				Flags:   []cli.Flag{familyFlag(), userFlag()},
				Action:  r.withServices(r.ChatTUI),
			},
		},
	}
}

// notesCommand handles the family notebook.
func notesCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "notes",
		Usage: "Read and write family notes",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List notes visible to a user",
				Flags: []cli.Flag{
					familyFlag(), userFlag(), jsonFlag(),
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Maximum number of notes", Value: 20},
				},
				Action: r.withServices(r.NotesList),
			},
			{
				Name:      "search",
				Usage:     "Search notes by text or #tag",
				ArgsUsage: "<query>",
				Flags:     []cli.Flag{familyFlag(), userFlag(), jsonFlag()},
				Action:    r.withServices(r.NotesSearch),
			},
			{
				Name:      "save",
				Usage:     "Save a note; #words become tags",
				ArgsUsage: "<content>",
				Flags: []cli.Flag{
					familyFlag(), userFlag(),
					&cli.BoolFlag{Name: "private", Usage: "Only visible to the author"},
				},
				Action: r.withServices(r.NotesSave),
			},
		},
	}
}

// spotifyCommand handles a family's Spotify account.
func spotifyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "spotify",
		Aliases: []string{"spot"},
		Usage:   "Connect and manage Spotify",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Connect a family's Spotify account using OAuth2",
				Flags: []cli.Flag{
					familyFlag(),
					&cli.DurationFlag{Name: "timeout", Usage: "How long to wait for authorization", Value: 2 * time.Minute},
					&cli.BoolFlag{Name: "no-browser", Usage: "Print the authorization URL instead of opening it"},
				},
				Action: r.withServices(r.SpotifyLogin),
			},
			{
				Name:   "devices",
				Usage:  "List the Spotify Connect devices of a family's account",
				Flags:  []cli.Flag{familyFlag(), jsonFlag()},
				Action: r.withServices(r.SpotifyDevices),
			},
			{
				Name:  "set-device",
				Usage: "Choose the playback device; picks the preferred one when --device-id is empty",
				Flags: []cli.Flag{
					familyFlag(),
					&cli.StringFlag{Name: "device-id", Usage: "Spotify device ID"},
				},
				Action: r.withServices(r.SpotifySetDevice),
			},
			{
				Name:   "disconnect",
				Usage:  "Remove a family's Spotify connection",
				Flags:  []cli.Flag{familyFlag()},
				Action: r.withServices(r.SpotifyDisconnect),
			},
		},
	}
}

// modelsCommand lists the LLM catalog.
func modelsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "models",
		Usage: "Chat model catalog",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List available chat models",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.withServices(r.ModelsList),
			},
		},
	}
}

// serveCommand runs the HTTP API with the background jobs.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API, the heartbeat sweeper and the Spotify device sync",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Usage: "Listen host (overrides config)"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Listen port (overrides config)"},
			&cli.StringFlag{Name: "sync-schedule", Usage: "Cron schedule for the Spotify device sync", Value: "@every 5m"},
		},
		Action: r.withServices(r.Serve),
	}
}

// mcpCommand runs the MCP stdio server.
func mcpCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "mcp",
		Usage:  "Serve the assistant's tools over MCP on stdin and stdout",
		Flags:  []cli.Flag{familyFlag(), userFlag()},
		Action: r.withServices(r.MCP),
	}
}
