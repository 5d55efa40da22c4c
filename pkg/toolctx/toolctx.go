// Package toolctx implements the Tool Invocation Context (spec component
// C2): it binds an executing tool to its stream, session, and
// cancellation token, and guarantees exactly one terminal emission
// (result or error) per tool invocation.
package toolctx

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatsg/chatsg/pkg/logger"
	"github.com/chatsg/chatsg/pkg/stream"
)

// Status mirrors the Tool Execution Record lifecycle in spec §3.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record is the Tool Execution Record, persisted to a tool log distinct
// from the message log.
type Record struct {
	ToolID    string                 `json:"toolId"`
	ToolName  string                 `json:"toolName"`
	AgentName string                 `json:"agentName"`
	SessionID string                 `json:"sessionId"`
	Params    map[string]interface{} `json:"parameters,omitempty"`
	StartedAt time.Time              `json:"startedAt"`
	Status    Status                 `json:"status"`
	EndedAt   *time.Time             `json:"endedAt,omitempty"`
	Result    interface{}            `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Log is the append-only sink invocation records are written to; the
// session package provides the concrete implementation so tool records
// live alongside the message log under one session.
type Log interface {
	AppendToolRecord(ctx context.Context, sessionID string, rec Record) error
}

// Context is handed to a tool at invocation. Tools must not retain it
// past their Execute call.
type Context struct {
	SessionID string
	AgentName string
	Cancel    context.Context // cancellation token; Done() fires on timeout/cancellation

	mu      sync.Mutex
	writer  *stream.Stream // nil-safe: Write is guarded, absent writer means non-streaming
	log     Log
	inFlight map[string]*Record
	closed  bool
}

// New builds a Context. writer may be nil for non-streaming mode, in
// which case emissions are dropped but the tool log is still written.
func New(sessionID, agentName string, cancel context.Context, writer *stream.Stream, log Log) *Context {
	c := &Context{
		SessionID: sessionID,
		AgentName: agentName,
		Cancel:    cancel,
		writer:    writer,
		log:       log,
		inFlight:  make(map[string]*Record),
	}
	go c.watchCancellation()
	return c
}

func (c *Context) watchCancellation() {
	<-c.Cancel.Done()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id := range c.inFlight {
		c.finishLocked(id, StatusFailed, nil, "cancelled")
	}
}

// Start records a new tool invocation and emits tool_start. Returns the
// assigned toolId.
func (c *Context) Start(toolName string, params map[string]interface{}) string {
	toolID := uuid.NewString()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return toolID
	}
	c.inFlight[toolID] = &Record{
		ToolID:    toolID,
		ToolName:  toolName,
		AgentName: c.AgentName,
		SessionID: c.SessionID,
		Params:    params,
		StartedAt: time.Now(),
		Status:    StatusStarting,
	}
	c.emit(stream.Event{
		Type: stream.EventToolStart, ToolID: toolID, ToolName: toolName,
		AgentName: c.AgentName, Parameters: params,
	})
	return toolID
}

// Progress transitions a tool starting->running and emits tool_progress.
func (c *Context) Progress(toolID, text string, metadata map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.inFlight[toolID]
	if !ok || c.closed {
		return
	}
	if rec.Status == StatusStarting {
		rec.Status = StatusRunning
	}
	c.emit(stream.Event{Type: stream.EventToolProgress, ToolID: toolID, Progress: text, Metadata: metadata})
}

// Result emits the terminal tool_result and persists the record.
func (c *Context) Result(toolID string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.finishLocked(toolID, StatusCompleted, value, "")
}

// Error emits the terminal tool_error and persists the record.
func (c *Context) Error(toolID, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.finishLocked(toolID, StatusFailed, nil, message)
}

// finishLocked must be called with mu held; it is the single path that
// writes a terminal tool_result/tool_error and persists to the log.
func (c *Context) finishLocked(toolID string, status Status, result interface{}, errMsg string) {
	rec, ok := c.inFlight[toolID]
	if !ok {
		return
	}
	now := time.Now()
	rec.Status = status
	rec.EndedAt = &now
	rec.Result = result
	rec.Error = errMsg
	delete(c.inFlight, toolID)

	if status == StatusCompleted {
		c.emit(stream.Event{Type: stream.EventToolResult, ToolID: toolID, Result: result})
	} else {
		c.emit(stream.Event{Type: stream.EventToolError, ToolID: toolID, Error: errMsg})
	}

	if c.log != nil {
		if err := c.log.AppendToolRecord(context.Background(), c.SessionID, *rec); err != nil {
			logger.GetLogger().Error("tool log append failed", "toolId", toolID, "err", err)
		}
	}
}

// emit writes to the stream if present; must be called with mu held.
func (c *Context) emit(ev stream.Event) {
	if c.writer == nil {
		return
	}
	if err := c.writer.Write(ev); err != nil {
		logger.GetLogger().Warn("tool stream write failed", "err", err)
	}
}

// Close synthesizes an error terminal for any tool that returned from
// Execute without emitting one, per spec §4.2's synthesized-terminal
// policy. Callers invoke this after a tool's Execute returns.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for id := range c.inFlight {
		c.finishLocked(id, StatusFailed, nil, "tool returned without terminal")
	}
	c.closed = true
}
