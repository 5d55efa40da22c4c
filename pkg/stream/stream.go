// Package stream implements the typed event protocol and single-writer
// discipline for one response stream (spec component C1).
//
// A stream carries a finite, totally ordered sequence of events:
// connected -> start -> zero or more of {token, status, tool_start,
// tool_progress, tool_result, tool_error} -> exactly one terminal
// (done or error). Once a terminal has been written, every subsequent
// Write is a silent no-op so a misbehaving producer cannot violate the
// single-terminal guarantee.
package stream

import (
	"sync"
)

// EventType tags the variant carried by an Event.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventStart        EventType = "start"
	EventToken        EventType = "token"
	EventStatus       EventType = "status"
	EventToolStart    EventType = "tool_start"
	EventToolProgress EventType = "tool_progress"
	EventToolResult   EventType = "tool_result"
	EventToolError    EventType = "tool_error"
	EventDone         EventType = "done"
	EventError        EventType = "error"
)

// OrchestrationSummary accompanies a done event.
type OrchestrationSummary struct {
	Confidence        float64 `json:"confidence"`
	Reason            string  `json:"reason"`
	ExecutionTimeMs    int64   `json:"executionTimeMs"`
	AgentLockUsed      bool    `json:"agentLockUsed"`
	ForcedBySlashCommand bool  `json:"forcedBySlashCommand"`
}

// Event is one tagged element of a response stream. Only the fields
// relevant to Type are populated.
type Event struct {
	Type EventType `json:"type"`

	// start / done
	Agent string `json:"agent,omitempty"`

	// token
	Content string `json:"content,omitempty"`

	// status
	StatusType string                 `json:"statusType,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`

	// tool_*
	ToolID     string      `json:"toolId,omitempty"`
	ToolName   string      `json:"toolName,omitempty"`
	AgentName  string      `json:"agentName,omitempty"`
	Parameters interface{} `json:"parameters,omitempty"`
	Progress   string      `json:"progress,omitempty"`
	Result     interface{} `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`

	// done
	Summary *OrchestrationSummary `json:"orchestrationSummary,omitempty"`
}

// Writer is the single-producer sink a request's stream events are
// written to. Implementations (SSE transport, an in-memory channel for
// tests, a no-op sink for non-streaming mode) must be safe to call from
// one goroutine at a time — callers serialize concurrent tool emissions
// through the owning Stream, not through the Writer itself.
type Writer interface {
	Write(ev Event) error
	Close() error
}

// ChannelWriter is a Writer backed by a buffered Go channel, the shape
// used by in-process consumers (tests, the CLI, an SSE handler pumping
// a channel onto the wire).
type ChannelWriter struct {
	ch     chan Event
	once   sync.Once
}

// NewChannelWriter creates a ChannelWriter with the given buffer depth.
func NewChannelWriter(buffer int) *ChannelWriter {
	return &ChannelWriter{ch: make(chan Event, buffer)}
}

func (w *ChannelWriter) Write(ev Event) error {
	w.ch <- ev
	return nil
}

func (w *ChannelWriter) Close() error {
	w.once.Do(func() { close(w.ch) })
	return nil
}

// Events exposes the read side of the channel to a consumer.
func (w *ChannelWriter) Events() <-chan Event {
	return w.ch
}

// NullWriter drops every event; used in non-streaming mode where the
// orchestrator still wants a Writer to hand to agents and tool contexts.
type NullWriter struct{}

func (NullWriter) Write(Event) error { return nil }
func (NullWriter) Close() error      { return nil }

// Stream enforces the single-writer, single-terminal discipline on top
// of an underlying Writer. All of an agent's event emissions for one
// request must flow through the same Stream so that concurrent tool
// goroutines cannot interleave writes or emit after a terminal.
type Stream struct {
	mu       sync.Mutex
	w        Writer
	terminal bool
}

// New wraps w with terminal/serialization bookkeeping.
func New(w Writer) *Stream {
	return &Stream{w: w}
}

// Write serializes ev after the prior write and drops it if a terminal
// has already been sent (protocol violation by the agent; logged by the
// caller, not here — this package has no logging dependency).
func (s *Stream) Write(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal {
		return nil
	}
	if ev.Type == EventDone || ev.Type == EventError {
		s.terminal = true
	}
	return s.w.Write(ev)
}

// Terminal reports whether a done/error event has already been written.
func (s *Stream) Terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

// Close closes the underlying writer. If no terminal was ever written
// (e.g. cancellation raced the final write), callers should Write an
// error{"cancelled"} event before Close so the contract in spec §5 holds.
func (s *Stream) Close() error {
	return s.w.Close()
}

// Connected writes the connected event.
func (s *Stream) Connected() error { return s.Write(Event{Type: EventConnected}) }

// Start writes the start event.
func (s *Stream) Start(agent string) error {
	return s.Write(Event{Type: EventStart, Agent: agent})
}

// Token writes a token event; empty content is never emitted (spec §4.1).
func (s *Stream) Token(content string) error {
	if content == "" {
		return nil
	}
	return s.Write(Event{Type: EventToken, Content: content})
}

// Status writes a status event.
func (s *Stream) Status(statusType, message string, metadata map[string]interface{}) error {
	return s.Write(Event{Type: EventStatus, StatusType: statusType, Message: message, Metadata: metadata})
}

// Done writes the terminal done event.
func (s *Stream) Done(agent string, summary OrchestrationSummary) error {
	return s.Write(Event{Type: EventDone, Agent: agent, Summary: &summary})
}

// Err writes the terminal error event.
func (s *Stream) Err(message string) error {
	return s.Write(Event{Type: EventError, Error: message})
}
