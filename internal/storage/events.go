package storage

import "time"

// EventWriter is the interface for writing tool call audit events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *ToolCallEvent)
	Close()
}

// Dispatch outcomes recorded on ToolCallEvent.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeUnknownTool = "unknown_tool"
)

// ToolCallEvent represents a single dispatched tool call to be persisted.
type ToolCallEvent struct {
	RequestID     string
	ProjectID     string
	SessionID     string
	Timestamp     time.Time
	ToolName      string // registered name the call was dispatched under
	IntrinsicName string // the tool's own name, differs after prefixed imports
	ArgumentsJSON string
	Outcome       string // "ok", "error", "unknown_tool"
	ErrorText     string
	LatencyMs     float32
	Transport     string // "stdio" or "http"
	ServerName    string
}
