package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/desertthunder/pihome/internal/formatter"
	"github.com/desertthunder/pihome/internal/models"
	"github.com/desertthunder/pihome/internal/services"
)

const (
	defaultExportWorkers = 4
	maxExportWorkers     = 10
	transcriptPageSize   = 100
	maxBulkChats         = 1000
	manifestName         = "export_manifest.json"
)

// BulkExportOpts configures [ChatExporter.BulkExport].
type BulkExportOpts struct {
	Format     formatter.Format
	OutputDir  string  // default: chat_export_{epoch}
	NumWorkers int     // default 4, capped at 10
	RateLimit  float64 // chats started per second; 0 means unlimited
}

// ExportResult is the outcome for one chat.
type ExportResult struct {
	ChatID   string `json:"chatId"`
	ChatName string `json:"chatName"`
	Messages int    `json:"messages"`
	File     string `json:"file,omitempty"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// BulkExportResult summarises a bulk export. It is also the manifest written next to the exports.
type BulkExportResult struct {
	FamilyID        string         `json:"familyId"`
	Format          string         `json:"format"`
	ExportedAt      time.Time      `json:"exportedAt"`
	TotalChats      int            `json:"totalChats"`
	Successful      int            `json:"successful"`
	Failed          int            `json:"failed"`
	OutputDirectory string         `json:"outputDirectory"`
	Results         []ExportResult `json:"results"`
	ManifestPath    string         `json:"-"`
}

// ChatExporter writes chat transcripts to disk.
type ChatExporter struct {
	chats    *services.ChatService
	families *services.FamiliesService
}

func NewChatExporter(chats *services.ChatService, families *services.FamiliesService) *ChatExporter {
	return &ChatExporter{chats: chats, families: families}
}

// LoadTranscript collects every message of a chat, oldest first, with family members' names as sender names.
func (e *ChatExporter) LoadTranscript(ctx context.Context, chatID string) (*formatter.Transcript, error) {
	chat, err := e.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	var messages []*models.Message
	for skip := 0; ; skip += transcriptPageSize {
		page, err := e.chats.GetChatMessages(ctx, chatID, transcriptPageSize, skip)
		if err != nil {
			return nil, err
		}
		messages = append(messages, page...)
		if len(page) < transcriptPageSize {
			break
		}
	}
	slices.Reverse(messages)

	senders, err := e.senderNames(ctx, chat.FamilyID)
	if err != nil {
		return nil, err
	}
	return &formatter.Transcript{Chat: chat, Messages: messages, Senders: senders}, nil
}

func (e *ChatExporter) senderNames(ctx context.Context, familyID string) (map[string]string, error) {
	names := map[string]string{}
	if familyID == "" || e.families == nil {
		return names, nil
	}

	users, err := e.families.ListFamilyUsers(ctx, familyID)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		names[u.ID] = u.Name
	}

	devices, err := e.families.ListFamilyDevices(ctx, familyID)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		names[d.ID] = d.Name
	}
	return names, nil
}

// Export writes a single chat to dir and returns the file path.
func (e *ChatExporter) Export(ctx context.Context, chatID string, format formatter.Format, dir string) (string, error) {
	transcript, err := e.LoadTranscript(ctx, chatID)
	if err != nil {
		return "", err
	}
	return formatter.WriteExport(transcript, format, dir)
}

// BulkExport exports every chat of a family with a pool of workers, then writes a manifest.
//
// Failures of individual chats are recorded in the result and do not stop the export.
func (e *ChatExporter) BulkExport(ctx context.Context, prog chan<- ProgressUpdate, familyID string, opts BulkExportOpts) (*BulkExportResult, error) {
	if opts.Format == "" {
		opts.Format = formatter.FormatJSON
	}
	if opts.OutputDir == "" {
		opts.OutputDir = fmt.Sprintf("chat_export_%d", time.Now().Unix())
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = defaultExportWorkers
	}
	opts.NumWorkers = min(opts.NumWorkers, maxExportWorkers)

	chats, err := e.chats.GetAllChatsWithFamilyID(ctx, familyID, maxBulkChats, 0)
	if err != nil {
		return nil, err
	}
	sendProgress(prog, listChatsUpdate(familyID, len(chats)))

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	result := &BulkExportResult{
		FamilyID:        familyID,
		Format:          string(opts.Format),
		ExportedAt:      time.Now().UTC(),
		TotalChats:      len(chats),
		OutputDirectory: opts.OutputDir,
		Results:         make([]ExportResult, 0, len(chats)),
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	limiter := rate.NewLimiter(limit, 1)

	jobs := make(chan *models.ChatSummary)
	results := make(chan ExportResult, len(chats))

	var wg sync.WaitGroup
	for range opts.NumWorkers {
		wg.Add(1)
		go e.exportWorker(ctx, &wg, jobs, results, opts)
	}

	go func() {
		defer close(jobs)
		for _, chat := range chats {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			select {
			case jobs <- chat:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for res := range results {
		completed++
		result.Results = append(result.Results, res)
		if res.Success {
			result.Successful++
			sendProgress(prog, exportCompletedUpdate(completed, len(chats), res))
		} else {
			result.Failed++
			sendProgress(prog, exportFailedUpdate(completed, len(chats), res))
		}
	}
	slices.SortFunc(result.Results, func(a, b ExportResult) int { return strings.Compare(a.ChatID, b.ChatID) })

	if err := ctx.Err(); err != nil {
		return result, err
	}

	path := filepath.Join(opts.OutputDir, manifestName)
	if err := writeManifest(result, path); err != nil {
		return result, fmt.Errorf("export completed but failed to write manifest: %w", err)
	}
	result.ManifestPath = path
	sendProgress(prog, manifestUpdate(path))
	return result, nil
}

func (e *ChatExporter) exportWorker(
	ctx context.Context,
	wg *sync.WaitGroup,
	jobs <-chan *models.ChatSummary,
	results chan<- ExportResult,
	opts BulkExportOpts,
) {
	defer wg.Done()

	for chat := range jobs {
		if ctx.Err() != nil {
			return
		}
		results <- e.exportOne(ctx, chat.Chat, opts)
	}
}

func (e *ChatExporter) exportOne(ctx context.Context, chat *models.Chat, opts BulkExportOpts) ExportResult {
	res := ExportResult{ChatID: chat.ID, ChatName: chat.Name}

	transcript, err := e.LoadTranscript(ctx, chat.ID)
	if err != nil {
		res.Error = fmt.Sprintf("failed to load chat: %v", err)
		return res
	}
	res.Messages = len(transcript.Messages)

	path, err := formatter.WriteExport(transcript, opts.Format, opts.OutputDir)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.File = path
	res.Success = true
	return res
}

func writeManifest(result *BulkExportResult, path string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
