// Package mcp exposes a family's assistant tools over the Model Context Protocol.
//
// Every agent tool (Spotify playback, notes, calculator) becomes an MCP tool with the same name and
// JSON schema, bound to one family and user. A "chat" tool runs a full agent turn.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/desertthunder/pihome/internal/agent"
	"github.com/desertthunder/pihome/internal/shared"
)

const ServerName = "pihome"

// Version is set at build time via ldflags.
var Version = "dev"

// Server is an MCP server for one family member.
type Server struct {
	mcp    *server.MCPServer
	agent  *agent.Agent
	scope  agent.Scope
	tools  agent.Toolset
	logger *log.Logger
}

// New registers the scope's agent tools plus "chat".
func New(a *agent.Agent, scope agent.Scope, logger *log.Logger) (*Server, error) {
	if scope.FamilyID == "" {
		return nil, fmt.Errorf("%w: family id", shared.ErrMissingArgument)
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}

	s := &Server{
		mcp: server.NewMCPServer(
			ServerName,
			Version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
			server.WithInstructions(instructions),
		),
		agent:  a,
		scope:  scope,
		tools:  a.Tools(scope),
		logger: logger,
	}

	for _, tool := range s.tools {
		def, err := definition(tool.ToolDefinition)
		if err != nil {
			return nil, err
		}
		s.mcp.AddTool(def, s.toolHandler(tool))
	}
	s.mcp.AddTool(chatDefinition(), s.handleChat)
	return s, nil
}

// MCPServer returns the underlying server, e.g. for in-process clients.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// ServeStdio serves JSON-RPC over stdin and stdout until ctx is done or stdin closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("mcp server ready", "family", s.scope.FamilyID, "tools", len(s.tools)+1)
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

func definition(def agent.ToolDefinition) (mcpgo.Tool, error) {
	raw, err := json.Marshal(def.Parameters)
	if err != nil {
		return mcpgo.Tool{}, fmt.Errorf("failed to encode schema for %s: %w", def.Name, err)
	}
	return mcpgo.NewToolWithRawSchema(def.Name, def.Description, raw), nil
}

// toolHandler adapts an agent tool. Tool failures are returned as MCP tool errors, not protocol errors.
func (s *Server) toolHandler(tool agent.Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcpgo.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		out, err := tool.Handler(ctx, args)
		if err != nil {
			s.logger.Warn("mcp tool failed", "tool", tool.Name, "error", err)
			return mcpgo.NewToolResultError(fmt.Sprintf("Error executing tool %s: %v", tool.Name, err)), nil
		}
		return mcpgo.NewToolResultText(out), nil
	}
}

func chatDefinition() mcpgo.Tool {
	return mcpgo.NewTool("chat",
		mcpgo.WithDescription("Ask the home assistant. It can control Spotify playback and read or write family notes."),
		mcpgo.WithString("message",
			mcpgo.Required(),
			mcpgo.Description("What to ask or tell the assistant"),
		),
		mcpgo.WithString("chat_id",
			mcpgo.Description("Conversation id; turns with the same id share memory"),
		),
		mcpgo.WithString("model",
			mcpgo.Description("Chat model key, e.g. openai/gpt-4o-mini"),
		),
	)
}

func (s *Server) handleChat(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	message := req.GetString("message", "")
	if message == "" {
		return mcpgo.NewToolResultError("'message' is required"), nil
	}

	reply, err := s.agent.ProcessMessage(ctx, agent.Request{
		Input:    message,
		FamilyID: s.scope.FamilyID,
		UserID:   s.scope.UserID,
		ChatID:   req.GetString("chat_id", ""),
		Model:    req.GetString("model", ""),
	})
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	return mcpgo.NewToolResultText(reply.Content), nil
}

const instructions = `pihome controls a family's Raspberry Pi speakers and shared notes.
Use the Spotify tools for playback (search with getFirstTrackUri before playTrack or queueTrack),
saveNote and searchNotes for the family notebook, or "chat" to hand a request to the home assistant.`
