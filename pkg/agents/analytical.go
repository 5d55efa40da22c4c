package agents

import (
	"context"

	"github.com/chatsg/chatsg/pkg/agent"
	"github.com/chatsg/chatsg/pkg/llm"
	"github.com/chatsg/chatsg/pkg/session"
)

// AnalyticalAgent answers data-analysis and statistics questions.
type AnalyticalAgent struct{ base }

// NewAnalyticalAgent builds the analytical specialist.
func NewAnalyticalAgent(provider llm.Provider) *AnalyticalAgent {
	return &AnalyticalAgent{base: base{
		info: agent.Info{Name: "AnalyticalAgent", Version: "1.0", Type: agent.TypeIndividual},
		caps: agent.Capabilities{
			Name: "AnalyticalAgent", Version: "1.0", Type: agent.TypeIndividual,
			Features:       []string{"data-analysis", "statistics", "forecasting"},
			SupportedModes: []string{"interactive"},
			SupportsTools:  true,
		},
		keywords: []string{"analyze", "statistics", "data", "trend", "forecast", "metric", "chart", "correlation"},
		provider: provider,
		system:   "You are an analytical assistant specialized in data analysis, statistics, and forecasting. Be precise and quantitative.",
	}}
}

func (a *AnalyticalAgent) ProcessMessage(ctx context.Context, in agent.Input) (session.Message, error) {
	return a.respond(ctx, in, llm.Options{Temperature: 0.2, MaxTokens: 1024})
}
