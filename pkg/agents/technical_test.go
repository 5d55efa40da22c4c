package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatsg/chatsg/pkg/agent"
	"github.com/chatsg/chatsg/pkg/llm"
	"github.com/chatsg/chatsg/pkg/toolctx"
)

type stubProvider struct{ reply string }

func (p *stubProvider) Generate(ctx context.Context, messages []llm.Message, opts llm.Options) (string, error) {
	return p.reply, nil
}

func (p *stubProvider) Stream(ctx context.Context, messages []llm.Message, opts llm.Options) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk, 1)
	ch <- llm.Chunk{Content: p.reply}
	close(ch)
	return ch, nil
}

type stubToolLog struct {
	records []toolctx.Record
}

func (l *stubToolLog) AppendToolRecord(ctx context.Context, sessionID string, rec toolctx.Record) error {
	l.records = append(l.records, rec)
	return nil
}

func TestTechnicalAgentInvokesServerStatusToolWhenAsked(t *testing.T) {
	log := &stubToolLog{}
	a := NewTechnicalAgent(&stubProvider{reply: "all good"}, log)

	msg, err := a.ProcessMessage(context.Background(), agent.Input{
		SessionID: "sess-1",
		UserInput: "what is the server status right now?",
		Cancel:    context.Background(),
	})
	require.NoError(t, err)
	require.Equal(t, "all good", msg.Content)
	require.Len(t, log.records, 1)
	require.Equal(t, "server_status", log.records[0].ToolName)
	require.Equal(t, toolctx.StatusCompleted, log.records[0].Status)
}

func TestTechnicalAgentSkipsToolForOrdinaryQuestions(t *testing.T) {
	log := &stubToolLog{}
	a := NewTechnicalAgent(&stubProvider{reply: "use a mutex"}, log)

	msg, err := a.ProcessMessage(context.Background(), agent.Input{
		SessionID: "sess-1",
		UserInput: "how do I avoid a data race in Go?",
		Cancel:    context.Background(),
	})
	require.NoError(t, err)
	require.Equal(t, "use a mutex", msg.Content)
	require.Empty(t, log.records)
}
