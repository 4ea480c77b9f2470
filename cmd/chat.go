package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/pihome/internal/formatter"
	"github.com/desertthunder/pihome/internal/models"
	"github.com/desertthunder/pihome/internal/shared"
	"github.com/desertthunder/pihome/internal/tasks"
	"github.com/desertthunder/pihome/internal/ui"
)

const timeLayout = "2006-01-02 15:04"

func (r *Runner) ChatNew(ctx context.Context, cmd *cli.Command) error {
	chat, err := r.services.Chats.CreateChat(ctx, cmd.String("family"))
	if err != nil {
		return err
	}
	return r.emit(cmd, chat, func() error {
		return r.writePlain("✓ Started chat %s\n", chat.ID)
	})
}

// ChatList prints the family's chats with a preview of the latest message.
func (r *Runner) ChatList(ctx context.Context, cmd *cli.Command) error {
	chats, err := r.services.Chats.GetAllChatsWithFamilyID(ctx, cmd.String("family"), cmd.Int("limit"), cmd.Int("skip"))
	if err != nil {
		return err
	}
	return r.emit(cmd, chats, func() error {
		r.writePlain("Found %d chats:\n\n", len(chats))
		for i, c := range chats {
			r.writePlain("%d. %s\n", i+1, c.Name)
			r.writePlain("   ID: %s\n", c.ID)
			r.writePlain("   Updated: %s\n", c.UpdatedAt.Local().Format(timeLayout))
			if c.LatestMessage != nil {
				r.writePlain("   Latest: %s\n", oneLine(c.LatestMessage.Content, 60))
			}
			r.writePlain("\n")
		}
		return nil
	})
}

// ChatMessages prints a page of messages oldest first. Pages are counted from the newest message.
func (r *Runner) ChatMessages(ctx context.Context, cmd *cli.Command) error {
	messages, err := r.services.Chats.GetChatMessages(ctx, cmd.String("chat"), cmd.Int("limit"), cmd.Int("skip"))
	if err != nil {
		return err
	}
	slices.Reverse(messages)

	return r.emit(cmd, messages, func() error {
		for _, m := range messages {
			r.writePlain("[%s] %s: %s\n", m.CreatedAt.Local().Format(timeLayout), m.SenderID, m.Content)
		}
		return nil
	})
}

// ChatSend stores the message, runs the assistant and prints its reply.
func (r *Runner) ChatSend(ctx context.Context, cmd *cli.Command) error {
	content := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if content == "" {
		return fmt.Errorf("%w: message", shared.ErrMissingArgument)
	}

	exchange, err := r.chatAgent.Send(ctx, cmd.String("chat"), cmd.String("user"), content)
	if err != nil {
		return err
	}
	return r.emit(cmd, exchange, func() error {
		return r.writePlain("%s\n", exchange.Reply.Content)
	})
}

// ChatExport writes one chat (--chat) or every chat of a family (--family) to disk.
func (r *Runner) ChatExport(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	exporter := tasks.NewChatExporter(r.services.Chats, r.services.Families)

	switch {
	case cmd.String("chat") != "":
		dir := cmd.String("output")
		if dir == "" {
			dir = "."
		}
		path, err := exporter.Export(ctx, cmd.String("chat"), format, dir)
		if err != nil {
			return err
		}
		return r.writePlain("✓ Exported chat to %s\n", path)

	case cmd.String("family") != "":
		return r.bulkExport(ctx, exporter, cmd.String("family"), tasks.BulkExportOpts{
			Format:     format,
			OutputDir:  cmd.String("output"),
			NumWorkers: cmd.Int("workers"),
			RateLimit:  cmd.Float("rate"),
		})

	default:
		return fmt.Errorf("%w: --chat or --family", shared.ErrMissingArgument)
	}
}

func (r *Runner) bulkExport(ctx context.Context, exporter *tasks.ChatExporter, familyID string, opts tasks.BulkExportOpts) error {
	progress := make(chan tasks.ProgressUpdate, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progress {
			r.writePlain("%s\n", update.Message)
		}
	}()

	result, err := exporter.BulkExport(ctx, progress, familyID, opts)
	close(progress)
	<-done
	if err != nil {
		return err
	}

	r.writePlainln("✓ Exported %d of %d chats to %s", result.Successful, result.TotalChats, result.OutputDirectory)
	if result.Failed > 0 {
		r.writePlain("⚠ %d chats failed, see %s\n", result.Failed, result.ManifestPath)
	}
	return nil
}

// ChatTUI opens the interactive client. Logs go to a file so they do not tear the screen.
func (r *Runner) ChatTUI(ctx context.Context, cmd *cli.Command) error {
	familyID, userID := cmd.String("family"), cmd.String("user")

	user, err := r.services.Users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.FamilyID != familyID {
		return shared.BadRequest("User is not a member of the family")
	}

	senders, err := r.senderNames(ctx, familyID)
	if err != nil {
		return err
	}

	logPath := filepath.Join(os.TempDir(), "pihome-tui.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()
	r.logger.SetOutput(logFile)

	backend := ui.ServiceBackend{Chats: r.services.Chats, ChatAgent: r.chatAgent, Events: r.events, Logger: r.logger}
	if err := ui.Run(ctx, backend, familyID, userID, senders); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}

// senderNames maps the family's user and device ids to display names.
func (r *Runner) senderNames(ctx context.Context, familyID string) (map[string]string, error) {
	users, err := r.services.Families.ListFamilyUsers(ctx, familyID)
	if err != nil {
		return nil, err
	}
	devices, err := r.services.Families.ListFamilyDevices(ctx, familyID)
	if err != nil {
		return nil, err
	}

	names := make(map[string]string, len(users)+len(devices))
	for _, u := range users {
		names[u.ID] = u.Name
	}
	for _, d := range devices {
		names[d.ID] = d.Name
	}
	return names, nil
}

func (r *Runner) NotesList(ctx context.Context, cmd *cli.Command) error {
	notes, err := r.services.Notes.ListNotes(ctx, cmd.String("family"), cmd.String("user"), cmd.Int("limit"))
	if err != nil {
		return err
	}
	return r.emit(cmd, notes, func() error { return r.writeNotes(notes) })
}

func (r *Runner) NotesSearch(ctx context.Context, cmd *cli.Command) error {
	query := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%w: query", shared.ErrMissingArgument)
	}

	notes, err := r.services.Notes.SearchNotes(ctx, cmd.String("family"), cmd.String("user"), query)
	if err != nil {
		return err
	}
	return r.emit(cmd, notes, func() error { return r.writeNotes(notes) })
}

func (r *Runner) NotesSave(ctx context.Context, cmd *cli.Command) error {
	note, err := r.services.Notes.SaveNote(ctx, cmd.String("family"), cmd.String("user"), strings.Join(cmd.Args().Slice(), " "), cmd.Bool("private"))
	if err != nil {
		return err
	}
	r.writePlain("✓ Saved note %s\n", note.ID)
	if len(note.Tags) > 0 {
		r.writePlain("  Tags: %s\n", strings.Join(note.Tags, ", "))
	}
	return nil
}

func (r *Runner) writeNotes(notes []*models.Note) error {
	if len(notes) == 0 {
		return r.writePlain("No notes found\n")
	}
	for _, n := range notes {
		visibility := ""
		if n.IsPrivate {
			visibility = " (private)"
		}
		r.writePlain("%s  %s%s\n", n.CreatedAt.Local().Format(timeLayout), n.UserName, visibility)
		r.writePlain("  %s\n", n.Content)
	}
	return nil
}

// ModelsList prints the chat model catalog.
func (r *Runner) ModelsList(ctx context.Context, cmd *cli.Command) error {
	chatModels, err := r.services.ChatModels.ListChatModels(ctx)
	if err != nil {
		return err
	}
	return r.emit(cmd, chatModels, func() error {
		if len(chatModels) == 0 {
			return r.writePlain("No chat models installed; run `pihome setup seed`\n")
		}
		for _, m := range chatModels {
			r.writePlain("%-22s %-18s %6d tokens  $%.6f/token\n", m.Key, m.Name, m.MaxTokens, m.Price)
		}
		return nil
	})
}

// oneLine collapses whitespace and truncates s to n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
