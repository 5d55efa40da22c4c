package toolctx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatsg/chatsg/pkg/stream"
)

type fakeLog struct {
	records []Record
}

func (f *fakeLog) AppendToolRecord(ctx context.Context, sessionID string, rec Record) error {
	f.records = append(f.records, rec)
	return nil
}

func TestStartResultEmitsTerminalAndPersists(t *testing.T) {
	cw := stream.NewChannelWriter(16)
	s := stream.New(cw)
	log := &fakeLog{}

	c := New("sess-1", "TechnicalAgent", context.Background(), s, log)
	toolID := c.Start("lookup", map[string]interface{}{"query": "widgets"})
	c.Result(toolID, map[string]interface{}{"found": true})
	c.Close()
	_ = cw.Close()

	var events []stream.Event
	for ev := range cw.Events() {
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	require.Equal(t, stream.EventToolStart, events[0].Type)
	require.Equal(t, stream.EventToolResult, events[1].Type)

	require.Len(t, log.records, 1)
	require.Equal(t, StatusCompleted, log.records[0].Status)
}

func TestCloseSynthesizesErrorForUnterminatedTool(t *testing.T) {
	cw := stream.NewChannelWriter(16)
	s := stream.New(cw)
	log := &fakeLog{}

	c := New("sess-1", "TechnicalAgent", context.Background(), s, log)
	c.Start("lookup", nil)
	c.Close()
	_ = cw.Close()

	var gotError bool
	for ev := range cw.Events() {
		if ev.Type == stream.EventToolError {
			gotError = true
		}
	}
	require.True(t, gotError)
	require.Len(t, log.records, 1)
	require.Equal(t, StatusFailed, log.records[0].Status)
}

func TestCancellationFinishesInFlightTools(t *testing.T) {
	cw := stream.NewChannelWriter(16)
	s := stream.New(cw)
	log := &fakeLog{}

	ctx, cancel := context.WithCancel(context.Background())
	c := New("sess-1", "TechnicalAgent", ctx, s, log)
	c.Start("lookup", nil)
	cancel()

	require.Eventually(t, func() bool {
		return len(log.records) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, StatusFailed, log.records[0].Status)
	require.Equal(t, "cancelled", log.records[0].Error)
}
