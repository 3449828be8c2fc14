package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBytes   = 4 * 1024 * 1024
)

// HTTPConfig describes an HTTP-backed proxy tool, typically loaded from the
// tool catalog.
type HTTPConfig struct {
	Name        string
	Description string
	InputSchema map[string]any
	Endpoint    string
	Method      string // defaults to POST
	Timeout     time.Duration
	Client      *http.Client // optional, for testing
}

// HTTP forwards tool calls to a remote endpoint. Arguments are sent as a
// JSON body; the JSON response body is returned as the tool result.
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTP builds an HTTP-backed proxy tool.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("tool %q: endpoint is required", cfg.Name)
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTP{cfg: cfg, client: client}, nil
}

func (h *HTTP) Name() string { return h.cfg.Name }

func (h *HTTP) Descriptor(registeredName string) *mcp.Tool {
	schema := h.cfg.InputSchema
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}
	return &mcp.Tool{
		Name:        registeredName,
		Description: h.cfg.Description,
		InputSchema: schema,
	}
}

func (h *HTTP) Run(ctx context.Context, args map[string]any, tc *Context) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("tool %q: encode arguments: %w", h.cfg.Name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, h.cfg.Method, h.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tool %q: build request: %w", h.cfg.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if tc != nil && tc.RequestID != "" {
		req.Header.Set("X-Request-Id", tc.RequestID)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", h.cfg.Name, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-side close

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("tool %q: read response: %w", h.cfg.Name, err)
	}

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tool %q: endpoint returned %d: %s", h.cfg.Name, resp.StatusCode, truncate(raw, 256))
	}

	// Non-JSON bodies are returned as plain text.
	var result any
	if err := json.Unmarshal(raw, &result); err != nil {
		return string(raw), nil
	}
	return result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
