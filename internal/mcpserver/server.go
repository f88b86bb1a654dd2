package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"reminder-assistant/internal/clock"
	"reminder-assistant/internal/intent"
	"reminder-assistant/internal/models"
)

const (
	serverName    = "reminder-assistant"
	serverVersion = "1.0.0"
)

// IntentHandler applies intents and lists reminders.
type IntentHandler interface {
	HandleIntent(ctx context.Context, in intent.Intent) (string, error)
	Open(ctx context.Context) ([]models.Reminder, error)
}

// Server exposes the reminder lifecycle as MCP tools for agent front-ends.
type Server struct {
	mcpServer *server.MCPServer
	intents   IntentHandler
	clock     clock.Clock
	logger    *slog.Logger
}

func New(intents IntentHandler, c clock.Clock, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{intents: intents, clock: c, logger: logger.With("component", "mcp")}
	s.mcpServer = server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(false))
	s.registerTools()
	return s
}

// MCPServer returns the underlying MCP server for serving.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("handle_intent",
			mcp.WithDescription("Apply a structured reminder intent (create, update, delete, pause, resume, list, call opt-out/in, acknowledge) and return the reply for the user"),
			mcp.WithString("intent", mcp.Required(), mcp.Description("One of create_reminder, update_reminder, delete_reminder, pause_reminder, resume_reminder, list_reminders, opt_out_calls, opt_in_calls, acknowledge")),
			mcp.WithString("title", mcp.Description("Reminder title")),
			mcp.WithString("description", mcp.Description("Optional details")),
			mcp.WithString("scheduled_time", mcp.Description("RFC3339 timestamp or a phrase like 'tomorrow at 9am'")),
			mcp.WithNumber("follow_up_minutes", mcp.Description("Minutes to wait for a response before calling (1-60)")),
			mcp.WithBoolean("call_if_no_response", mcp.Description("Place a phone call if the reminder goes unanswered")),
			mcp.WithString("target_reminder", mcp.Description("Words from the title of an existing reminder")),
			mcp.WithArray("target_positions", mcp.Description("1-based positions from the last shown list"), mcp.Items(map[string]any{"type": "integer"})),
		),
		s.handleIntent,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("list_reminders",
			mcp.WithDescription("List active and paused reminders in schedule order"),
		),
		s.handleListReminders,
	)
}

func (s *Server) handleIntent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(req.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	in, err := intent.Decode(raw, s.clock)
	if rej, ok := intent.AsRejection(err); ok {
		return mcp.NewToolResultText(rej.Message), nil
	}
	if errors.Is(err, intent.ErrMalformed) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err != nil {
		return nil, err
	}

	reply, err := s.intents.HandleIntent(ctx, in)
	if err != nil {
		s.logger.ErrorContext(ctx, "tool intent failed", "kind", in.Kind.String(), "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to apply intent: %v", err)), nil
	}
	return mcp.NewToolResultText(reply), nil
}

func (s *Server) handleListReminders(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	open, err := s.intents.Open(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list reminders: %v", err)), nil
	}
	if len(open) == 0 {
		return mcp.NewToolResultText("No reminders found."), nil
	}
	output, _ := json.MarshalIndent(open, "", "  ")
	return mcp.NewToolResultText(string(output)), nil
}
