package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chatsg/chatsg/pkg/agent"
	"github.com/chatsg/chatsg/pkg/llm"
	"github.com/chatsg/chatsg/pkg/session"
)

// Intent is the structured result of the CRM agent's query-understanding
// step (spec §4.6): a natural-language utterance translated into an
// action over CRM records before any tool is invoked.
type Intent struct {
	Action     string            `json:"action"` // lookup, create, update, list
	Entity     string            `json:"entity"` // contact, deal, account
	Filters    map[string]string `json:"filters,omitempty"`
	Confidence float64           `json:"confidence"`
}

// crmPattern is one deterministic pattern matched before falling back
// to the LLM.
type crmPattern struct {
	phrase string
	intent Intent
}

// CRMAgent is distinguished from the other specialists by needing a
// structured query-understanding step: pattern matching only applies at
// confidence >= patternConfidenceThreshold; otherwise an LLM call
// interprets the utterance, tolerating typos (spec §4.6).
type CRMAgent struct {
	base
	patterns []crmPattern
}

const patternConfidenceThreshold = 0.9

// NewCRMAgent builds the CRM specialist.
func NewCRMAgent(provider llm.Provider) *CRMAgent {
	return &CRMAgent{
		base: base{
			info: agent.Info{Name: "CRMAgent", Version: "1.0", Type: agent.TypeIndividual},
			caps: agent.Capabilities{
				Name: "CRMAgent", Version: "1.0", Type: agent.TypeIndividual,
				Features:       []string{"crm", "contacts", "deals", "accounts"},
				SupportedModes: []string{"interactive"},
				SupportsTools:  true,
			},
			keywords: []string{"contact", "lead", "deal", "account", "pipeline", "crm", "customer"},
			provider: provider,
			system:   "You are a CRM assistant. Translate the user's request into a structured intent, then describe the result.",
		},
		patterns: []crmPattern{
			{phrase: "show my contacts", intent: Intent{Action: "list", Entity: "contact"}},
			{phrase: "list my deals", intent: Intent{Action: "list", Entity: "deal"}},
			{phrase: "show pipeline", intent: Intent{Action: "list", Entity: "deal"}},
		},
	}
}

func (a *CRMAgent) ProcessMessage(ctx context.Context, in agent.Input) (session.Message, error) {
	intent, err := a.parseIntent(ctx, in.UserInput)
	if err != nil {
		return session.Message{}, fmt.Errorf("crm intent parsing: %w", err)
	}

	summary := fmt.Sprintf("Understood: %s %s (confidence %.2f).", intent.Action, intent.Entity, intent.Confidence)
	if in.Writer != nil {
		_ = in.Writer.Token(summary)
	}

	msg, err := a.respond(ctx, agent.Input{
		SessionID:       in.SessionID,
		UserInput:       in.UserInput,
		RecalledContext: in.RecalledContext + "\n" + summary,
		Writer:          in.Writer,
		Cancel:          in.Cancel,
	}, llm.Options{Temperature: 0.2, MaxTokens: 768})
	if err != nil || in.Writer == nil {
		return msg, err
	}
	// The summary was streamed as the first token, so it leads the content.
	msg.Content = summary + msg.Content
	return msg, nil
}

// parseIntent tries deterministic pattern matching first; it only
// commits to a pattern match at confidence >= patternConfidenceThreshold,
// otherwise it defers to the LLM, which tolerates typos naturally.
func (a *CRMAgent) parseIntent(ctx context.Context, input string) (Intent, error) {
	normalized := strings.ToLower(strings.TrimSpace(input))

	best := Intent{}
	bestScore := 0.0
	for _, p := range a.patterns {
		score := similarity(normalized, p.phrase)
		if score > bestScore {
			bestScore = score
			best = p.intent
			best.Confidence = score
		}
	}
	if bestScore >= patternConfidenceThreshold {
		return best, nil
	}

	return a.parseIntentViaLLM(ctx, input)
}

// parseIntentViaLLM asks the provider to emit a JSON intent; this is the
// path that tolerates typos and phrasing pattern matching cannot cover.
func (a *CRMAgent) parseIntentViaLLM(ctx context.Context, input string) (Intent, error) {
	prompt := fmt.Sprintf(`Translate this CRM request into JSON {"action":"lookup|create|update|list","entity":"contact|deal|account","filters":{}}.
Tolerate typos and informal phrasing. Request: %q`, input)

	text, err := a.provider.Generate(ctx, []llm.Message{
		{Role: "system", Content: "You output only a single JSON object, no prose."},
		{Role: "user", Content: prompt},
	}, llm.Options{Temperature: 0, MaxTokens: 256})
	if err != nil {
		return Intent{}, err
	}

	var intent Intent
	if err := json.Unmarshal([]byte(extractJSON(text)), &intent); err != nil {
		return Intent{Action: "lookup", Entity: "contact", Confidence: 0.3}, nil
	}
	intent.Confidence = 0.6
	return intent, nil
}

// extractJSON trims any prose surrounding a single JSON object, in case
// the model doesn't follow the "only JSON" instruction exactly.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return "{}"
	}
	return text[start : end+1]
}

// similarity returns a crude normalized similarity in [0,1] based on
// Levenshtein distance, used for typo-tolerant pattern matching.
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	dist := levenshtein(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(dist)/float64(maxLen)
}

func levenshtein(a, b string) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
