// Command orchestrator runs the public HTTP API for the Routing Host
// (C6): /ask, /chat/completions, /sse/agent-activity/{sessionId}, and the
// liveness trio /status, /health, /ping. Built on a
// chi-router-plus-otelhttp-plus-graceful-shutdown shape (see DESIGN.md).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/relaymesh/orchestrator/core"
	"github.com/relaymesh/orchestrator/internal/logger"
	"github.com/relaymesh/orchestrator/internal/telemetry"
	"github.com/relaymesh/orchestrator/orchestration"
	"github.com/relaymesh/orchestrator/registry"
	"github.com/relaymesh/orchestrator/resilience"
	"github.com/relaymesh/orchestrator/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := core.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: os.Getenv("LOG_LEVEL"), Format: os.Getenv("LOG_FORMAT")})

	var tel core.Telemetry = &core.NoOpTelemetry{}
	if cfg.Telemetry.Enabled {
		provider, err := telemetry.NewProvider(ctx, telemetry.Config{
			ServiceName: cfg.Telemetry.ServiceName,
			Endpoint:    cfg.Telemetry.Endpoint,
			DevMode:     cfg.DevMode,
		})
		if err != nil {
			log.Error("telemetry init failed", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				log.Error("telemetry shutdown failed", map[string]interface{}{"error": err.Error()})
			}
		}()
		tel = provider
	}

	app, err := buildApplication(ctx, cfg, log, tel)
	if err != nil {
		log.Error("application init failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "http.server", otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
	})
	router.Use(traceIDMiddleware)
	router.Use(core.LoggingMiddleware(log, cfg.DevMode))
	router.Use(core.CORSMiddleware(&cfg.HTTP.CORS))

	router.Get("/status", app.handleStatus)
	router.Get("/health", app.handleStatus)
	router.Get("/ping", app.handlePing)
	router.Post("/ask", app.handleAsk)
	router.Post("/chat/completions", app.handleChatCompletions)
	router.Get("/sse/agent-activity/{sessionId}", app.handleAgentActivity)

	addr := fmt.Sprintf("%s:%d", cfg.Address, cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("orchestrator listening", map[string]interface{}{"addr": addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown forced", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	log.Info("shutdown complete", nil)
}

// application bundles the wired C1-C8 collaborators the HTTP handlers
// delegate to; it owns no persisted state.
type application struct {
	router    *orchestration.Router
	registry  *registry.Registry
	log       core.Logger
	startedAt time.Time
}

func buildApplication(ctx context.Context, cfg *core.Config, log core.Logger, tel core.Telemetry) (*application, error) {
	reg := registry.New(log)
	var refreshOpts []registry.RefreshOption
	if cfg.Agents.File != "" {
		refreshOpts = append(refreshOpts, registry.WithRosterFile(cfg.Agents.File))
	}
	reg.Refresh(ctx, cfg.Agents.BaseURLs, refreshOpts...)

	transportClient := transport.NewClient(30*time.Second, log)
	delegatedClientCache := transport.NewClientCache(10*time.Minute, 128, 30*time.Second)

	wrapperOpts := []resilience.DependencyOption{resilience.WithLogger(log), resilience.WithTelemetry(tel)}
	if cfg.Redis.URL != "" {
		wrapperOpts = append(wrapperOpts, resilience.WithRedis(resilience.RedisStateConfig{
			URL:       cfg.Redis.URL,
			Namespace: cfg.Namespace,
		}))
	}
	coordinatorWrapper := resilience.NewResilientCallWrapper("coordinator", &cfg.Resilience, wrapperOpts...)
	specialistWrapper := resilience.NewResilientCallWrapper("specialist", &cfg.Resilience, wrapperOpts...)

	var coordinator orchestration.Coordinator
	switch cfg.Model.Provider {
	case "bedrock":
		bedrock, err := orchestration.NewBedrockCoordinator(ctx, cfg.Model, coordinatorWrapper, log)
		if err != nil {
			return nil, err
		}
		coordinator = bedrock
	default:
		coordinator = orchestration.NewOpenAICoordinator(cfg.Model, coordinatorWrapper, log)
	}

	caller := orchestration.NewSpecialistCaller(reg, transportClient, specialistWrapper, log,
		orchestration.WithClientCache(delegatedClientCache, 30*time.Second))
	synthesizer := orchestration.NewSynthesizer(coordinator, log)
	researchLoop := orchestration.NewResearchLoop(coordinator, caller, reg, cfg.Research.MaxRounds, log)

	var routerOpts []orchestration.RouterOption
	if cfg.Redis.URL != "" {
		if historySink, err := orchestration.NewRedisHistorySink(cfg.Redis.URL, cfg.Namespace, 200, 24*time.Hour, log); err != nil {
			log.Error("orchestrator: redis history sink unavailable, continuing stateless", map[string]interface{}{"error": err.Error()})
		} else {
			routerOpts = append(routerOpts, orchestration.WithHistorySink(historySink, 20))
		}
	}
	router := orchestration.NewRouter(coordinator, reg, caller, synthesizer, researchLoop, cfg.Research.MaxRounds, log, routerOpts...)

	return &application{router: router, registry: reg, log: log, startedAt: time.Now()}, nil
}

// traceIDMiddleware generates or extracts a correlation id and echoes it
// back in the response header.
func traceIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.New().String()
		}
		w.Header().Set("X-Trace-ID", traceID)
		ctx := logger.WithTraceID(r.Context(), traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type askRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"sessionId"`
}

type askResponse struct {
	Question  string `json:"question"`
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

// handleAsk serves POST /ask.
func (a *application) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" {
		writeJSONError(w, http.StatusBadRequest, "question is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	reqCtx := orchestration.RequestContext{
		SessionID:     req.SessionID,
		UserID:        r.Header.Get("X-User-ID"),
		Authorization: r.Header.Get("Authorization"),
	}

	response := a.router.ProcessMessage(r.Context(), req.Question, reqCtx)
	writeJSON(w, http.StatusOK, askResponse{
		Question:  req.Question,
		Response:  response,
		SessionID: req.SessionID,
		Status:    "ok",
	})
}

type chatCompletionsRequest struct {
	Messages    []chatMessage `json:"messages"`
	UserID      string        `json:"userId"`
	SessionID   string        `json:"sessionId"`
	UseRAG      bool          `json:"useRAG,omitempty"`
	UseMCPTools bool          `json:"useMCPTools,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsResponse struct {
	Message           responseMessage `json:"message"`
	AgentInteractions []interface{}   `json:"agentInteractions"`
}

type responseMessage struct {
	ID        string                 `json:"id"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp string                 `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// handleChatCompletions serves POST /chat/completions.
func (a *application) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeJSONError(w, http.StatusBadRequest, "messages is required")
		return
	}
	lastUser := req.Messages[len(req.Messages)-1].Content
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	reqCtx := orchestration.RequestContext{
		SessionID:     req.SessionID,
		UserID:        req.UserID,
		Authorization: r.Header.Get("Authorization"),
	}

	content := a.router.ProcessMessage(r.Context(), lastUser, reqCtx)

	writeJSON(w, http.StatusOK, chatCompletionsResponse{
		Message: responseMessage{
			ID:        uuid.New().String(),
			Role:      "assistant",
			Content:   content,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Metadata:  map[string]interface{}{"sessionId": req.SessionID},
		},
		AgentInteractions: []interface{}{},
	})
}

// handleAgentActivity serves GET /sse/agent-activity/{sessionId}: a
// heartbeat-only stream, since this core owns no persisted per-session
// activity log (a collaborator that does track activity would publish
// onto this stream).
func (a *application) handleAgentActivity(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSEEvent(w, "agent-activity", map[string]interface{}{
		"event": "stream/start",
		"data": map[string]interface{}{
			"agentName": "",
			"action":    "connected",
			"status":    "ok",
			"details":   fmt.Sprintf("subscribed to session %s", sessionID),
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeSSEEvent(w, "heartbeat", map[string]interface{}{
				"event":     "heartbeat",
				"data":      map[string]interface{}{"agentName": "", "action": "heartbeat", "status": "ok"},
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, body)
}

func (a *application) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *application) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        string(core.HealthHealthy),
		"uptimeSeconds": int(time.Since(a.startedAt).Seconds()),
		"specialists":   a.registry.Len(),
	})
}
