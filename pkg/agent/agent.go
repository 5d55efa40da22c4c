// Package agent defines the Agent Interface & Registry (spec component
// C5): the contract every specialized agent satisfies, its capability
// descriptor, and a thread-safe registry keyed by name.
package agent

import (
	"context"

	"github.com/chatsg/chatsg/pkg/session"
	"github.com/chatsg/chatsg/pkg/stream"
)

// Type distinguishes a single-responder agent from one that internally
// delegates to other agents/tools as an agency (spec §3).
type Type string

const (
	TypeIndividual Type = "individual"
	TypeAgency     Type = "agency"
)

// Info is returned by getInfo().
type Info struct {
	Name    string
	Version string
	Type    Type
}

// Capabilities is the static Agent Capability Descriptor (spec §3).
type Capabilities struct {
	Name                 string
	Version              string
	Type                 Type
	Features             []string
	SupportedModes       []string
	SupportsTools        bool
	SupportsStateSharing bool
}

// Input is what the orchestrator hands to processMessage.
type Input struct {
	SessionID      string
	UserInput      string
	RecalledContext string
	Writer         *stream.Stream // may be nil; the orchestrator always passes one (NullWriter-backed in non-streaming mode)
	Cancel         context.Context
}

// Agent is the contract every specialized agent satisfies (spec §4.5).
// Implementations may invoke zero or more tools via a toolctx.Context,
// emit tokens progressively through Input.Writer, and must return a
// final assistant message whose Content equals the concatenation of
// emitted token content when Input.Writer was non-nil.
type Agent interface {
	ProcessMessage(ctx context.Context, in Input) (session.Message, error)
	GetInfo() Info
	GetCapabilities() Capabilities
	Cleanup() error
}

// KeywordAffinity is how C7 scores agents during keyword routing
// (spec §4.7 step 3) — every specialized agent exposes its own pattern
// set rather than the core hard-coding per-agent keywords.
type KeywordAffinity interface {
	Keywords() []string
}
