// Package registry maps tool names to tools for the dispatching server.
// It owns registration policy (duplicate handling), lookup, protocol-facing
// listing, invocation dispatch, and prefixed imports from other registries.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/toolgate-ai/toolgate/internal/tool"
)

// Sentinel errors for registry operations.
var (
	// ErrDuplicateTool is returned by Register under the error policy when
	// the name is already taken.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrUnknownTool is returned by Dispatch when no tool is registered
	// under the requested name.
	ErrUnknownTool = errors.New("unknown tool")
)

// DuplicateBehavior governs what Register does when a name is already taken.
type DuplicateBehavior int

const (
	// DuplicateWarn overwrites the existing entry and logs a warning.
	DuplicateWarn DuplicateBehavior = iota
	// DuplicateReplace overwrites the existing entry silently.
	DuplicateReplace
	// DuplicateError rejects the registration and leaves the entry untouched.
	DuplicateError
	// DuplicateIgnore leaves the entry untouched and reports success.
	DuplicateIgnore
)

// String returns the config-facing name of the behavior.
func (b DuplicateBehavior) String() string {
	switch b {
	case DuplicateWarn:
		return "warn"
	case DuplicateReplace:
		return "replace"
	case DuplicateError:
		return "error"
	case DuplicateIgnore:
		return "ignore"
	default:
		return fmt.Sprintf("DuplicateBehavior(%d)", int(b))
	}
}

// ParseDuplicateBehavior maps a config string to a DuplicateBehavior.
// The empty string defaults to warn.
func ParseDuplicateBehavior(s string) (DuplicateBehavior, error) {
	switch s {
	case "warn", "":
		return DuplicateWarn, nil
	case "replace":
		return DuplicateReplace, nil
	case "error":
		return DuplicateError, nil
	case "ignore":
		return DuplicateIgnore, nil
	default:
		return DuplicateWarn, fmt.Errorf("unknown duplicate behavior %q", s)
	}
}

// Registry is a name-keyed tool mapping safe for concurrent use.
// The duplicate behavior is fixed at construction.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]tool.Tool
	order     []string // registration order of live names
	duplicate DuplicateBehavior
	logger    *zap.Logger
}

// New creates an empty registry with the given duplicate behavior.
// A nil logger is replaced with a no-op logger.
func New(duplicate DuplicateBehavior, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:     make(map[string]tool.Tool),
		duplicate: duplicate,
		logger:    logger,
	}
}

// DuplicateBehavior returns the policy fixed at construction.
func (r *Registry) DuplicateBehavior() DuplicateBehavior {
	return r.duplicate
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (tool.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// List returns all registered tools in registration order.
func (r *Registry) List() []tool.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]tool.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// ListDescriptors renders every registered tool under its registered name,
// in registration order. This is the listing the protocol layer serves.
func (r *Registry) ListDescriptors() []*mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Descriptor(name))
	}
	return out
}

// Register adds a tool under its intrinsic name.
func (r *Registry) Register(t tool.Tool) (tool.Tool, error) {
	return r.RegisterAs(t, "")
}

// RegisterAs adds a tool under an override name. An empty name falls back to
// the tool's intrinsic name. On collision the registry's duplicate behavior
// decides the outcome:
//
//	warn    — new tool wins, a warning is logged
//	replace — new tool wins silently
//	error   — ErrDuplicateTool, existing entry untouched
//	ignore  — existing entry untouched, call succeeds
//
// The passed-in tool is always returned on success, even under ignore when
// the stored entry is the older one.
func (r *Registry) RegisterAs(t tool.Tool, name string) (tool.Tool, error) {
	return r.registerAs(t, name, r.duplicate)
}

// RegisterReplace adds a tool under its intrinsic name, overwriting any
// existing entry regardless of the registry's duplicate behavior. Definition
// sources that refresh over time (the tool catalog) register through this so
// updated definitions always win.
func (r *Registry) RegisterReplace(t tool.Tool) (tool.Tool, error) {
	return r.registerAs(t, "", DuplicateReplace)
}

func (r *Registry) registerAs(t tool.Tool, name string, duplicate DuplicateBehavior) (tool.Tool, error) {
	if t == nil {
		return nil, fmt.Errorf("tool is nil")
	}
	if name == "" {
		name = t.Name()
	}
	if name == "" {
		return nil, fmt.Errorf("tool name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		switch duplicate {
		case DuplicateWarn:
			r.logger.Warn("tool already registered, replacing",
				zap.String("tool", name),
			)
		case DuplicateReplace:
			// new tool wins silently
		case DuplicateError:
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTool, name)
		case DuplicateIgnore:
			return t, nil
		}
		r.tools[name] = t
		return t, nil
	}

	r.tools[name] = t
	r.order = append(r.order, name)
	return t, nil
}

// RegisterFunc builds a function-backed tool and registers it under its name.
func (r *Registry) RegisterFunc(name, description string, inputSchema map[string]any, handler tool.Handler) (tool.Tool, error) {
	f, err := tool.NewFunc(name, description, inputSchema, handler)
	if err != nil {
		return nil, err
	}
	return r.Register(f)
}

// Dispatch looks up name and delegates to the tool's Run, passing args and
// the call context through unchanged. Failures from the tool itself are
// propagated as-is.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any, tc *tool.Context) (any, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t.Run(ctx, args, tc)
}

// Merge imports a snapshot of other's tools into r, prepending prefix to each
// registered name when prefix is non-empty. The receiving registry's own
// duplicate behavior governs collisions. Later changes to other are not
// reflected in r.
func (r *Registry) Merge(other *Registry, prefix string) error {
	names, tools := other.snapshot()
	for i, name := range names {
		effective := name
		if prefix != "" {
			effective = prefix + name
		}
		if _, err := r.RegisterAs(tools[i], effective); err != nil {
			return fmt.Errorf("import %q: %w", name, err)
		}
		r.logger.Debug("imported tool",
			zap.String("tool", tools[i].Name()),
			zap.String("from", name),
			zap.String("as", effective),
		)
	}
	return nil
}

func (r *Registry) snapshot() ([]string, []tool.Tool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	tools := make([]tool.Tool, len(names))
	for i, name := range names {
		tools[i] = r.tools[name]
	}
	return names, tools
}
