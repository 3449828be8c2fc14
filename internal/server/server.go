// Package server owns the protocol surface: it bridges the tool registry to
// MCP sessions over stdio or streamable HTTP, audits every dispatched call,
// and supports mounting other servers under a name prefix.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/toolgate-ai/toolgate/internal/auth"
	"github.com/toolgate-ai/toolgate/internal/registry"
	"github.com/toolgate-ai/toolgate/internal/storage"
	"github.com/toolgate-ai/toolgate/internal/tool"
)

// DefaultToolSeparator joins a mount prefix and a tool name.
const DefaultToolSeparator = "_"

// Config configures a Server.
type Config struct {
	Name         string
	Version      string
	Instructions string
	Registry     *registry.Registry
	Writer       storage.EventWriter
	Logger       *zap.Logger
}

// Server exposes a registry's tools to MCP clients.
type Server struct {
	name         string
	version      string
	instructions string
	registry     *registry.Registry
	writer       storage.EventWriter
	logger       *zap.Logger
}

// New creates a Server. Registry is required; a nil logger is replaced with
// a no-op logger and a nil writer with a log-backed one.
func New(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	writer := cfg.Writer
	if writer == nil {
		writer = storage.NewLogWriter(logger)
	}
	version := cfg.Version
	if version == "" {
		version = "0.0.0"
	}
	return &Server{
		name:         cfg.Name,
		version:      version,
		instructions: cfg.Instructions,
		registry:     cfg.Registry,
		writer:       writer,
		logger:       logger,
	}, nil
}

// Registry returns the server's tool registry.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Mount imports every tool of other's registry under prefix plus the default
// separator, e.g. mounting "weather" makes other's "forecast" available as
// "weather_forecast". The receiving registry's duplicate policy governs
// collisions.
func (s *Server) Mount(prefix string, other *Server) error {
	return s.MountSeparated(prefix, DefaultToolSeparator, other)
}

// MountSeparated is Mount with a custom separator. An empty prefix imports
// the tools under their original names.
func (s *Server) MountSeparated(prefix, separator string, other *Server) error {
	full := ""
	if prefix != "" {
		full = prefix + separator
	}
	if err := s.registry.Merge(other.registry, full); err != nil {
		return fmt.Errorf("mount %q: %w", prefix, err)
	}
	s.logger.Info("mounted server",
		zap.String("server", other.name),
		zap.String("prefix", full),
		zap.Int("tools", other.registry.Len()),
	)
	return nil
}

// RunStdio serves a single MCP session on stdin/stdout until the client
// disconnects or ctx is cancelled.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.mcpServer("stdio").Run(ctx, &mcp.StdioTransport{})
}

// mcpServer builds an MCP server from the registry's current contents.
// Tools registered later are picked up by the next session, not this one.
func (s *Server) mcpServer(transport string) *mcp.Server {
	srv := mcp.NewServer(
		&mcp.Implementation{Name: s.name, Version: s.version},
		&mcp.ServerOptions{Instructions: s.instructions},
	)
	for _, desc := range s.registry.ListDescriptors() {
		name := desc.Name
		srv.AddTool(desc, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return s.handleCall(ctx, transport, name, req.Params.Arguments)
		})
	}
	return srv
}

// handleCall dispatches one tool call, audits it, and renders the result.
// An unknown tool is a protocol-level error; a failure inside the tool is an
// in-band tool error so the client sees the original failure text.
func (s *Server) handleCall(ctx context.Context, transport, name string, rawArgs any) (*mcp.CallToolResult, error) {
	start := time.Now()
	requestID := uuid.New().String()

	args, err := decodeArgs(rawArgs)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", name, err)
	}

	var projectID string
	if p := auth.ProjectFromContext(ctx); p != nil {
		projectID = p.ID
	}

	tc := &tool.Context{
		RequestID: requestID,
		ProjectID: projectID,
		Logger:    s.logger,
	}

	result, err := s.registry.Dispatch(ctx, name, args, tc)
	latencyMs := float32(float64(time.Since(start)) / float64(time.Millisecond))

	s.writeEvent(requestID, projectID, transport, name, args, err, latencyMs)

	if err != nil {
		if isUnknownTool(err) {
			return nil, err
		}
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		}, nil
	}

	content, err := resultContent(result)
	if err != nil {
		return nil, fmt.Errorf("tool %q: render result: %w", name, err)
	}
	return &mcp.CallToolResult{Content: content}, nil
}

func (s *Server) writeEvent(requestID, projectID, transport, name string, args map[string]any, callErr error, latencyMs float32) {
	outcome := storage.OutcomeOK
	errText := ""
	if callErr != nil {
		errText = callErr.Error()
		outcome = storage.OutcomeError
		if isUnknownTool(callErr) {
			outcome = storage.OutcomeUnknownTool
		}
	}

	intrinsic := name
	if t, ok := s.registry.Get(name); ok {
		intrinsic = t.Name()
	}

	argsJSON, err := json.Marshal(args)
	if err != nil {
		argsJSON = []byte("{}")
	}

	s.writer.Write(&storage.ToolCallEvent{
		RequestID:     requestID,
		ProjectID:     projectID,
		Timestamp:     time.Now(),
		ToolName:      name,
		IntrinsicName: intrinsic,
		ArgumentsJSON: string(argsJSON),
		Outcome:       outcome,
		ErrorText:     errText,
		LatencyMs:     latencyMs,
		Transport:     transport,
		ServerName:    s.name,
	})
}

func isUnknownTool(err error) bool {
	return errors.Is(err, registry.ErrUnknownTool)
}

// decodeArgs normalizes the wire representation of tool arguments. The SDK
// hands raw handlers a json.RawMessage; in-process callers may pass a map.
func decodeArgs(v any) (map[string]any, error) {
	switch a := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return a, nil
	case json.RawMessage:
		return unmarshalArgs([]byte(a))
	case []byte:
		return unmarshalArgs(a)
	default:
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("arguments are not an object: %w", err)
		}
		return unmarshalArgs(raw)
	}
}

func unmarshalArgs(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("arguments are not an object: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// resultContent renders a tool result for the wire: strings pass through,
// everything else is JSON-encoded.
func resultContent(v any) ([]mcp.Content, error) {
	switch r := v.(type) {
	case nil:
		return []mcp.Content{&mcp.TextContent{Text: ""}}, nil
	case string:
		return []mcp.Content{&mcp.TextContent{Text: r}}, nil
	default:
		raw, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		return []mcp.Content{&mcp.TextContent{Text: string(raw)}}, nil
	}
}
