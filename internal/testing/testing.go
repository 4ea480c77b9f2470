// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"testing"

	"github.com/desertthunder/pihome/internal/agent"
	"github.com/desertthunder/pihome/internal/events"
	"github.com/desertthunder/pihome/internal/models"
	"github.com/desertthunder/pihome/internal/services"
	"github.com/desertthunder/pihome/internal/shared"
)

// Stack is a fully migrated in-memory service layer.
type Stack struct {
	Stores    *services.Stores
	Services  *services.Services
	Publisher *RecordingPublisher
}

// NewStack opens an in-memory database, migrates it and seeds the chat model catalog.
func NewStack(t *testing.T) *Stack {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	stores := services.NewSQLiteStores(db)
	publisher := &RecordingPublisher{}
	svc := services.New(stores, publisher, nil, nil)
	if _, err := svc.ChatModels.SeedChatModels(context.Background()); err != nil {
		t.Fatalf("failed to seed chat models: %v", err)
	}
	return &Stack{Stores: stores, Services: svc, Publisher: publisher}
}

// Household creates an owner, a family and one more member.
func (s *Stack) Household(t *testing.T) (owner, member *models.User, family *models.Family) {
	t.Helper()
	ctx := context.Background()

	owner, err := s.Services.Users.CreateUser(ctx, "owner@example.com", "Owner", "hunter22")
	if err != nil {
		t.Fatalf("failed to create owner: %v", err)
	}
	family, err = s.Services.Families.CreateFamily(ctx, owner.ID, "The Smiths")
	if err != nil {
		t.Fatalf("failed to create family: %v", err)
	}
	owner.FamilyID = family.ID

	member, err = s.Services.Users.CreateUser(ctx, "member@example.com", "Member", "hunter22")
	if err != nil {
		t.Fatalf("failed to create member: %v", err)
	}
	code, err := s.Services.Families.CreateFamilyInviteCode(ctx, family.ID)
	if err != nil {
		t.Fatalf("failed to create invite code: %v", err)
	}
	if _, err := s.Services.Users.JoinFamily(ctx, member.ID, code); err != nil {
		t.Fatalf("failed to join family: %v", err)
	}
	member.FamilyID = family.ID
	return owner, member, family
}

// RecordingPublisher remembers every published event.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *RecordingPublisher) Publish(_ context.Context, topic string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events.Event{Topic: topic, Payload: payload})
	return nil
}

// Topics returns the published topics in order.
func (p *RecordingPublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	topics := make([]string, 0, len(p.events))
	for _, e := range p.events {
		topics = append(topics, e.Topic)
	}
	return topics
}

// Count returns how many events were published on topic.
func (p *RecordingPublisher) Count(topic string) int {
	n := 0
	for _, t := range p.Topics() {
		if t == topic {
			n++
		}
	}
	return n
}

func (p *RecordingPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

// ScriptedLLM is an [agent.LLM] that replays completions in order and records every prompt.
type ScriptedLLM struct {
	mu      sync.Mutex
	script  []agent.Completion
	errs    []error
	Calls   [][]agent.Message
	Tools   [][]agent.ToolDefinition
	Default agent.Completion
}

// NewScriptedLLM replays replies in order, then repeats Default.
func NewScriptedLLM(replies ...agent.Message) *ScriptedLLM {
	llm := &ScriptedLLM{Default: agent.Completion{Message: agent.AssistantMessage("ok")}}
	for _, r := range replies {
		llm.script = append(llm.script, agent.Completion{
			Message: r,
			Usage:   agent.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		})
		llm.errs = append(llm.errs, nil)
	}
	return llm
}

// Fail queues a failing call.
func (l *ScriptedLLM) Fail(err error) *ScriptedLLM {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.script = append(l.script, agent.Completion{})
	l.errs = append(l.errs, err)
	return l
}

func (l *ScriptedLLM) Chat(_ context.Context, messages []agent.Message, tools []agent.ToolDefinition) (agent.Completion, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.Calls = append(l.Calls, slices.Clone(messages))
	l.Tools = append(l.Tools, tools)
	if len(l.script) == 0 {
		return l.Default, nil
	}

	next, err := l.script[0], l.errs[0]
	l.script, l.errs = l.script[1:], l.errs[1:]
	return next, err
}

// CallCount returns how many times the model was asked.
func (l *ScriptedLLM) CallCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Calls)
}

// StaticProvider hands out the same [agent.LLM] for every model key and records the keys asked for.
type StaticProvider struct {
	LLM  agent.LLM
	Err  error
	Keys []string
}

func (p *StaticProvider) ChatModel(key string) (agent.LLM, error) {
	p.Keys = append(p.Keys, key)
	if p.Err != nil {
		return nil, p.Err
	}
	return p.LLM, nil
}

// FakePlayer is an in-memory [services.MusicPlayer].
//
// Queue appends to the queue unless DropQueued is set. Errors keyed by method name are returned
// from that method.
type FakePlayer struct {
	mu         sync.Mutex
	Tracks     []services.SpotifyTrack
	Current    *services.SpotifyTrack
	Queued     []services.SpotifyTrack
	DeviceList []services.SpotifyDevice
	Errors     map[string]error
	DropQueued bool
	Log        []string
	Volume     int
}

func (p *FakePlayer) record(call string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Log = append(p.Log, call)
	for name, err := range p.Errors {
		if len(call) >= len(name) && call[:len(name)] == name {
			return err
		}
	}
	return nil
}

func (p *FakePlayer) Play(_ context.Context, deviceID string, uris ...string) error {
	return p.record(fmt.Sprintf("Play %s %v", deviceID, uris))
}

func (p *FakePlayer) Pause(_ context.Context, deviceID string) error {
	return p.record("Pause " + deviceID)
}

func (p *FakePlayer) Next(_ context.Context, deviceID string) error {
	return p.record("Next " + deviceID)
}

func (p *FakePlayer) Previous(_ context.Context, deviceID string) error {
	return p.record("Previous " + deviceID)
}

func (p *FakePlayer) SetVolume(_ context.Context, deviceID string, percent int) error {
	if err := p.record(fmt.Sprintf("SetVolume %s %d", deviceID, percent)); err != nil {
		return err
	}
	p.mu.Lock()
	p.Volume = percent
	p.mu.Unlock()
	return nil
}

func (p *FakePlayer) Queue(_ context.Context, deviceID, uri string) error {
	if err := p.record("Queue " + deviceID + " " + uri); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.DropQueued {
		return nil
	}
	for _, t := range p.Tracks {
		if t.URI == uri {
			p.Queued = append(p.Queued, t)
			return nil
		}
	}
	p.Queued = append(p.Queued, services.SpotifyTrack{URI: uri, Name: uri})
	return nil
}

func (p *FakePlayer) SeeQueue(context.Context) (*services.SpotifyQueue, error) {
	if err := p.record("SeeQueue"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return &services.SpotifyQueue{CurrentlyPlaying: p.Current, Queue: slices.Clone(p.Queued)}, nil
}

func (p *FakePlayer) TransferPlayback(_ context.Context, deviceID string, play bool) error {
	return p.record(fmt.Sprintf("TransferPlayback %s %t", deviceID, play))
}

func (p *FakePlayer) SearchTracks(_ context.Context, query string, limit int) ([]services.SpotifyTrack, error) {
	if err := p.record("SearchTracks " + query); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if limit > len(p.Tracks) {
		limit = len(p.Tracks)
	}
	return slices.Clone(p.Tracks[:limit]), nil
}

func (p *FakePlayer) Devices(context.Context) ([]services.SpotifyDevice, error) {
	if err := p.record("Devices"); err != nil {
		return nil, err
	}
	return p.DeviceList, nil
}

// Calls returns a copy of the call log.
func (p *FakePlayer) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.Log)
}

// StaticPlayers resolves every family to the same player and device.
type StaticPlayers struct {
	Player   services.MusicPlayer
	DeviceID string
	Err      error
}

func (s StaticPlayers) PlayerFor(context.Context, string) (services.MusicPlayer, string, error) {
	if s.Err != nil {
		return nil, "", s.Err
	}
	return s.Player, s.DeviceID, nil
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites int, target io.Writer) *LimitedWriter {
	return &LimitedWriter{maxWrites: maxWrites, target: target}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}
