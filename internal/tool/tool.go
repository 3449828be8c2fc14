// Package tool defines the callable tool capability hosted by the registry,
// plus the two concrete implementations the server ships with: function-backed
// tools and HTTP-backed proxy tools.
package tool

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// ErrInvalidArguments is returned when tool arguments fail schema validation.
var ErrInvalidArguments = errors.New("invalid tool arguments")

// Tool is a named, invocable capability exposed to protocol clients.
//
// Contract:
// - Name is stable for the lifetime of the tool.
// - Descriptor must render under the given name, which may differ from Name()
//   when the tool was imported under a prefix.
// - Run must honor ctx cancellation and return tool-specific errors unwrapped.
type Tool interface {
	// Name returns the tool's intrinsic name.
	Name() string

	// Descriptor renders the protocol-facing metadata for this tool under
	// the name it was registered as.
	Descriptor(registeredName string) *mcp.Tool

	// Run invokes the tool with the given arguments. The call context tc is
	// optional and passed through from the dispatching server unchanged.
	Run(ctx context.Context, args map[string]any, tc *Context) (any, error)
}

// Context carries per-call metadata from the dispatching server to the tool.
// Tools may ignore it; a nil Context is valid.
type Context struct {
	RequestID string
	SessionID string
	ProjectID string
	Logger    *zap.Logger
}

// Log returns the call logger, or a no-op logger when the context carries none.
func (c *Context) Log() *zap.Logger {
	if c == nil || c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
