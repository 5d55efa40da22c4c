package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chatsg/chatsg/pkg/handoff"
	"github.com/chatsg/chatsg/pkg/logger"
	"github.com/chatsg/chatsg/pkg/observability"
	"github.com/chatsg/chatsg/pkg/orchestrator"
)

// newHTTPServer builds the illustrative transport: a chi router exposing
// session message submission over SSE, a sync variant, a health probe,
// and an agent-registry listing. It is a thin wire adapter only — all
// request handling lives in the orchestrator.
func newHTTPServer(addr string, a *app) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observabilityMiddleware(a))

	r.Get("/healthz", a.handleHealthz)
	r.Get("/metrics", a.obsManager.MetricsHandler().ServeHTTP)
	r.Get("/v1/agents", a.handleListAgents)
	r.Post("/v1/sessions/{sessionId}/messages", a.handleStreamMessage)
	r.Post("/v1/sessions/{sessionId}/messages:sync", a.handleSyncMessage)
	r.Post("/v1/sessions/{sessionId}/handoff", a.handleHandoff)

	return &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE responses stay open for the life of the stream
	}
}

// observabilityMiddleware starts one span per HTTP request and records
// a matching Prometheus observation, using chi's RouteContext to label
// metrics by route pattern ("/v1/sessions/{sessionId}/messages") rather
// than raw path, so cardinality stays bounded regardless of session id.
func observabilityMiddleware(a *app) func(http.Handler) http.Handler {
	tracer := observability.GetTracer("chatsg.http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := tracer.Start(r.Context(), "http.request", trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
			))
			defer span.End()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))
			duration := time.Since(start)

			span.SetAttributes(attribute.Int("http.status_code", ww.Status()))
			if ww.Status() >= 500 {
				span.SetStatus(codes.Error, http.StatusText(ww.Status()))
			} else {
				span.SetStatus(codes.Ok, "")
			}

			pattern := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				pattern = rc.RoutePattern()
			}
			a.obsManager.Metrics().RecordHTTPRequest(r.Method, pattern, ww.Status(), duration, r.ContentLength, int64(ww.BytesWritten()))
		})
	}
}

func (a *app) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(r.Context()); err != nil {
		http.Error(w, fmt.Sprintf("session store unreachable: %v", err), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"inFlight": a.supervisor.InFlightCount(),
	})
}

func (a *app) handleListAgents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(a.registry.ListAgents())
}

type handoffBody struct {
	FromAgent           string `json:"fromAgent"`
	ToAgent             string `json:"toAgent"`
	Reason              string `json:"reason,omitempty"`
	ConversationSummary string `json:"conversationSummary,omitempty"`
	UserIntent          string `json:"userIntent,omitempty"`
}

// handleHandoff lets a caller (an agent's own decision logic, a CRM
// escalation flow, or an operator) explicitly transfer a session to a
// different agent mid-conversation, bounded by the configured handoff
// timeout rather than the full request timeout.
func (a *app) handleHandoff(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	var body handoffBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.Orchestrator.HandoffTimeout())
	defer cancel()

	ctx, release := a.supervisor.Track(ctx)
	defer release()

	result := a.handoff.Handoff(ctx, handoff.Request{
		SessionID:           sessionID,
		FromAgent:           body.FromAgent,
		ToAgent:             body.ToAgent,
		Reason:              body.Reason,
		ConversationSummary: body.ConversationSummary,
		UserIntent:          body.UserIntent,
	})

	w.Header().Set("Content-Type", "application/json")
	if !result.OK {
		w.WriteHeader(http.StatusConflict)
	}
	_ = json.NewEncoder(w).Encode(result)
}

type sendMessageBody struct {
	UserInput             string `json:"userInput"`
	CallerActiveSessionID string `json:"callerActiveSessionId,omitempty"`
}

func (a *app) handleSyncMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	var body sendMessageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
		return
	}

	ctx, release := a.supervisor.Track(r.Context())
	defer release()

	resp, err := a.orchestrator.HandleSync(ctx, orchestrator.Request{
		SessionID:             sessionID,
		UserInput:             body.UserInput,
		CallerActiveSessionID: body.CallerActiveSessionID,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleStreamMessage pumps the orchestrator's event channel onto an
// SSE wire, one "data:" line per JSON-encoded event, flushing after
// each write so the client sees tokens as they arrive.
func (a *app) handleStreamMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	var body sendMessageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, release := a.supervisor.Track(r.Context())
	defer release()

	cw := a.orchestrator.HandleStreaming(ctx, orchestrator.Request{
		SessionID:             sessionID,
		UserInput:             body.UserInput,
		CallerActiveSessionID: body.CallerActiveSessionID,
	})

	enc := json.NewEncoder(w)
	for ev := range cw.Events() {
		if _, err := fmt.Fprint(w, "data: "); err != nil {
			return
		}
		if err := enc.Encode(ev); err != nil {
			logger.GetLogger().Warn("encode sse event failed", "sessionId", sessionID, "err", err)
			return
		}
		if _, err := fmt.Fprint(w, "\n"); err != nil {
			return
		}
		flusher.Flush()
	}
}
