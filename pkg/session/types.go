// Package session implements the Session Store (spec component C3): an
// append-only message log per session, a session-metadata index, and
// unread/last-read tracking, backed by one of three SQL dialects.
package session

import "time"

// MessageType discriminates the three kinds of log entry.
type MessageType string

const (
	MessageUser      MessageType = "user"
	MessageAssistant MessageType = "assistant"
	MessageTool      MessageType = "tool"
)

// Message is one append-only, never-mutated entry in a session's log.
type Message struct {
	Seq       int64                  `json:"seq"`
	SessionID string                 `json:"sessionId"`
	Type      MessageType            `json:"type"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Agent     string                 `json:"agent,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// UserPreferences mirrors spec §3.
type UserPreferences struct {
	CrossSessionMemory  bool       `json:"crossSessionMemory"`
	AgentLock           bool       `json:"agentLock"`
	PreferredAgent      string     `json:"preferredAgent,omitempty"`
	LastAgentUsed       string     `json:"lastAgentUsed,omitempty"`
	AgentLockTimestamp  *time.Time `json:"agentLockTimestamp,omitempty"`
}

// AgentHistoryEntry is one ring-buffered (<=50) routing decision.
type AgentHistoryEntry struct {
	AgentName    string    `json:"agentName"`
	Timestamp    time.Time `json:"timestamp"`
	Confidence   float64   `json:"confidence"`
	Reason       string    `json:"reason"`
	HandoffFrom  string    `json:"handoffFrom,omitempty"`
}

// AgentHistoryCap is the hard cap from spec §3 (FIFO eviction beyond it).
const AgentHistoryCap = 50

// Meta is the session-metadata index row.
type Meta struct {
	ID            string          `json:"id"`
	ActiveAgent   string          `json:"activeAgent,omitempty"`
	PreviousAgent string          `json:"previousAgent,omitempty"`
	Preferences   UserPreferences `json:"userPreferences"`
	AgentHistory  []AgentHistoryEntry `json:"agentHistory"`
	UnreadCount   int             `json:"unreadCount"`
	LastReadAt    *time.Time      `json:"lastReadAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	LastMessageAt time.Time       `json:"lastMessageAt"`
	MessageCount  int             `json:"messageCount"`
	Title         string          `json:"title,omitempty"`
}

// Page is the result of a paginated read.
type Page struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
	Total    int       `json:"total"`
}
