package agent

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/pihome/internal/shared"
)

const (
	modelErrorReply = "I apologize, but I encountered an error processing your request. Could you please rephrase or try again?"
	maxStepsReply   = "I apologize, but I wasn't able to complete that request."
)

const (
	nodeAgent = "agent"
	nodeTools = "tools"
)

// SystemPrompt seeds every new conversation thread.
const SystemPrompt = `You are an AI assistant for a smart home system, specifically designed to control smart speakers. Your primary functions include:

1. Audio Control:
  - Manage volume levels
  - Handle mute/unmute commands
  - Control audio playback (play, pause, skip)

2. Music Services:
  - Interface with Spotify and other music services
  - Handle playlist management
  - Process music recommendations

3. Communication Style:
  - Provide clear, concise responses
  - Confirm actions related to audio control
  - Use natural, conversational language
  - Keep responses brief and focused on speaker-related tasks

4. Note Taking:
  - Save notes and reminders
  - Search for notes by category or content
  - Update existing notes
  - Create new notes with tags and categories
  - create new categories/tags if not exist

5. Error Handling:
  - Clearly communicate when actions cannot be completed
  - Suggest alternatives when requested actions are not possible
  - Provide troubleshooting steps when appropriate

Remember: Focus on speaker-related functions and maintain a helpful, efficient communication style.`

// Request is one user turn for the agent.
type Request struct {
	Input    string `json:"message"`
	FamilyID string `json:"familyId"`
	UserID   string `json:"userId"`
	ChatID   string `json:"chatId,omitempty"`
	Model    string `json:"model,omitempty"`
}

// Reply is the agent's answer to a [Request].
type Reply struct {
	Content string `json:"response"`
	Usage   Usage  `json:"usage"`
	Cached  bool   `json:"cached"`
}

// Options tune an [Agent]. Zero values give an in-memory checkpointer, no response cache,
// [DefaultMaxSteps] and a discarding logger.
type Options struct {
	Checkpointer Checkpointer
	Cache        ResponseCache
	MaxSteps     int
	Logger       *log.Logger
}

// Agent answers chat messages with a tool calling model loop.
type Agent struct {
	provider     LLMProvider
	players      PlayerResolver
	notes        NoteBook
	checkpointer Checkpointer
	cache        ResponseCache
	maxSteps     int
	logger       *log.Logger
}

func New(provider LLMProvider, players PlayerResolver, notes NoteBook, opts Options) *Agent {
	if opts.Checkpointer == nil {
		opts.Checkpointer = NewMemorySaver()
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &Agent{
		provider:     provider,
		players:      players,
		notes:        notes,
		checkpointer: opts.Checkpointer,
		cache:        opts.Cache,
		maxSteps:     opts.MaxSteps,
		logger:       opts.Logger,
	}
}

// Tools returns every tool bound to scope. Spotify tools need a player resolver and note tools
// need a note book; either is left out when missing.
func (a *Agent) Tools(scope Scope) Toolset {
	var tools Toolset
	if a.players != nil {
		tools = append(tools, SpotifyTools(a.players, scope.FamilyID)...)
	}
	if a.notes != nil {
		tools = append(tools, NoteTools(a.notes, scope)...)
	}
	return append(tools, CalculatorTool())
}

// Checkpointer exposes the thread store, for callers that reset conversations.
func (a *Agent) Checkpointer() Checkpointer { return a.checkpointer }

// ProcessMessage runs one turn on the thread named by req.ChatID. A request without a chat id runs on
// a throwaway thread.
func (a *Agent) ProcessMessage(ctx context.Context, req Request) (Reply, error) {
	req.Input = strings.TrimSpace(req.Input)
	if req.Input == "" {
		return Reply{}, shared.BadRequest("Message is required")
	}
	if req.FamilyID == "" {
		return Reply{}, shared.BadRequest("Family id is required")
	}

	cacheKey := CacheKey(req.Input, req.FamilyID, LookupModel(req.Model).Key)
	if a.cache != nil {
		content, ok, err := a.cache.Get(ctx, cacheKey)
		if err != nil {
			a.logger.Warn("response cache lookup failed", "error", err)
		} else if ok {
			a.logger.Debug("response served from cache", "family", req.FamilyID)
			return Reply{Content: content, Cached: true}, nil
		}
	}

	llm, err := a.provider.ChatModel(req.Model)
	if err != nil {
		return Reply{}, err
	}

	var usage Usage
	runnable, err := a.graph(llm, a.Tools(Scope{FamilyID: req.FamilyID, UserID: req.UserID}), &usage).
		Compile(a.checkpointer, a.maxSteps)
	if err != nil {
		return Reply{}, err
	}

	threadID := req.ChatID
	if threadID == "" {
		threadID = shared.GenerateID()
		defer a.checkpointer.Delete(context.WithoutCancel(ctx), threadID)
	}

	state, err := runnable.Invoke(ctx, threadID, Input{
		Messages: []Message{UserMessage(req.Input)},
		Seed:     []Message{SystemMessage(SystemPrompt)},
		Model:    req.Model,
	})
	if errors.Is(err, ErrMaxSteps) {
		a.logger.Warn("agent step limit reached", "thread", threadID, "steps", a.maxSteps)
		return Reply{Content: maxStepsReply, Usage: usage}, nil
	}
	if err != nil {
		return Reply{}, err
	}

	reply := Reply{Content: state.Last().Content, Usage: usage}
	a.logger.Info("agent replied",
		"thread", threadID, "model", req.Model,
		"prompt_tokens", usage.PromptTokens, "completion_tokens", usage.CompletionTokens, "total_tokens", usage.TotalTokens)

	if a.cache != nil && reply.Content != modelErrorReply {
		if err := a.cache.Set(ctx, cacheKey, reply.Content); err != nil {
			a.logger.Warn("response cache store failed", "error", err)
		}
	}
	return reply, nil
}

// graph wires agent and tools nodes: the agent calls the model, tool calls loop through the tools
// node and back, and a plain answer ends the run.
func (a *Agent) graph(llm LLM, tools Toolset, usage *Usage) *Graph {
	definitions := tools.Definitions()

	callModel := func(ctx context.Context, state State) (Update, error) {
		completion, err := llm.Chat(ctx, state.Messages, definitions)
		if err != nil {
			a.logger.Error("model call failed", "model", state.Model, "error", err)
			return Update{Messages: []Message{AssistantMessage(modelErrorReply)}}, nil
		}
		*usage = usage.Add(completion.Usage)
		completion.Message.Role = RoleAssistant
		return Update{Messages: []Message{completion.Message}, Usage: completion.Usage}, nil
	}

	runTools := func(ctx context.Context, state State) (Update, error) {
		calls := state.Last().ToolCalls
		out := make([]Message, 0, len(calls))
		for _, call := range calls {
			a.logger.Debug("running tool", "tool", call.Name)
			out = append(out, ToolMessage(call.ID, call.Name, tools.Run(ctx, call)))
		}
		return Update{Messages: out}, nil
	}

	return NewGraph().
		AddNode(nodeAgent, callModel).
		AddNode(nodeTools, runTools).
		AddEdge(Start, nodeAgent).
		AddConditionalEdges(nodeAgent, routeToolCalls).
		AddEdge(nodeTools, nodeAgent)
}

func routeToolCalls(state State) string {
	if state.Last().HasToolCalls() {
		return nodeTools
	}
	return End
}
