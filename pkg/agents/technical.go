package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chatsg/chatsg/pkg/agent"
	"github.com/chatsg/chatsg/pkg/llm"
	"github.com/chatsg/chatsg/pkg/session"
	"github.com/chatsg/chatsg/pkg/toolctx"
)

// TechnicalAgent answers programming and systems questions, and
// invokes a diagnostic tool via the tool invocation context before
// answering when the question concerns system state.
type TechnicalAgent struct{ base }

// serverTimeArgs is the (empty) parameter shape for the server-time
// diagnostic tool, documented here so its schema can be advertised to
// an LLM that wants to call it explicitly in a future tool-use turn.
type serverTimeArgs struct{}

// NewTechnicalAgent builds the technical specialist. toolLog may be
// nil, in which case tool invocations are not persisted but still
// stream tool_start/tool_result events.
func NewTechnicalAgent(provider llm.Provider, toolLog toolctx.Log) *TechnicalAgent {
	return &TechnicalAgent{base: base{
		info: agent.Info{Name: "TechnicalAgent", Version: "1.0", Type: agent.TypeIndividual},
		caps: agent.Capabilities{
			Name: "TechnicalAgent", Version: "1.0", Type: agent.TypeIndividual,
			Features:       []string{"programming", "debugging", "architecture"},
			SupportedModes: []string{"interactive"},
			SupportsTools:  true,
		},
		keywords: []string{"code", "bug", "error", "function", "api", "deploy", "server", "database", "compile"},
		provider: provider,
		system:   "You are a technical assistant specialized in software engineering. Be concrete and correct.",
		toolLog:  toolLog,
	}}
}

func (a *TechnicalAgent) ProcessMessage(ctx context.Context, in agent.Input) (session.Message, error) {
	recalled := in.RecalledContext
	if needsServerStatus(in.UserInput) {
		status := a.runServerStatusTool(ctx, in)
		recalled = recalled + "\nDiagnostic tool output:\n" + status
		in.RecalledContext = recalled
	}
	return a.respond(ctx, in, llm.Options{Temperature: 0.3, MaxTokens: 1536})
}

func needsServerStatus(userInput string) bool {
	lower := strings.ToLower(userInput)
	for _, phrase := range []string{"server status", "uptime", "is the server up", "system status"} {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// runServerStatusTool demonstrates the C2 tool invocation lifecycle:
// start -> result, streamed through in.Writer and persisted to the
// session's tool log when toolLog is configured.
func (a *TechnicalAgent) runServerStatusTool(ctx context.Context, in agent.Input) string {
	schema, _ := toolctx.ParameterSchema[serverTimeArgs]()

	tc := toolctx.New(in.SessionID, a.info.Name, in.Cancel, in.Writer, a.toolLog)
	defer tc.Close()

	toolID := tc.Start("server_status", map[string]interface{}{"schema": schema})
	result := fmt.Sprintf("server time %s, status ok", time.Now().UTC().Format(time.RFC3339))
	tc.Result(toolID, result)
	return result
}
