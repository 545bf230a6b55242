// Package main implements the OBi-2 diagnostics API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/autologic-mx/obi2/engine/catalog"
	"github.com/autologic-mx/obi2/engine/diagnose"
	"github.com/autologic-mx/obi2/engine/domain"
	"github.com/autologic-mx/obi2/engine/history"
	"github.com/autologic-mx/obi2/engine/lexicon"
	"github.com/autologic-mx/obi2/engine/provider"
	"github.com/autologic-mx/obi2/engine/recall"
	"github.com/autologic-mx/obi2/pkg/metrics"
	"github.com/autologic-mx/obi2/pkg/mid"
)

// Config holds all environment-based configuration.
type Config struct {
	Port            string
	ProviderURL     string
	StoreDomain     string
	StoreFallback   string
	StoreToken      string
	NATSURL         string
	Neo4jURL        string
	Neo4jUser       string
	Neo4jPass       string
	QdrantURL       string
	Collection      string
	OllamaURL       string
	EmbedModel      string
	EmbedDims       int
	CORSOrigin      string
	RateLimitPerSec float64
}

func loadConfig() Config {
	return Config{
		Port:            envOr("PORT", "8080"),
		ProviderURL:     envOr("DIAGNOSIS_URL", "http://localhost:9090"),
		StoreDomain:     envOr("STORE_DOMAIN", catalog.DefaultPrimaryDomain),
		StoreFallback:   envOr("STORE_FALLBACK_DOMAIN", catalog.DefaultFallbackDomain),
		StoreToken:      envOr("STORE_TOKEN", ""),
		NATSURL:         envOr("NATS_URL", ""),
		Neo4jURL:        envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:       envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:       envOr("NEO4J_PASS", "password"),
		QdrantURL:       envOr("QDRANT_URL", ""),
		Collection:      envOr("QDRANT_COLLECTION", "obi2_cases"),
		OllamaURL:       envOr("OLLAMA_URL", "http://localhost:11434"),
		EmbedModel:      envOr("EMBED_MODEL", "nomic-embed-text"),
		EmbedDims:       envIntOr("EMBED_DIMS", 768),
		CORSOrigin:      envOr("CORS_ORIGIN", "*"),
		RateLimitPerSec: envFloatOr("RATE_LIMIT_RPS", 20),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()

	// --- Diagnosis provider ---
	providerClient := provider.NewClient(cfg.ProviderURL, logger)

	// --- Storefront catalog ---
	store := catalog.New(catalog.Config{
		PrimaryDomain:  cfg.StoreDomain,
		FallbackDomain: cfg.StoreFallback,
		AccessToken:    cfg.StoreToken,
		Logger:         logger,
	})
	matcher := catalog.NewMatcher(store, logger)

	// --- Session history (Neo4j) ---
	neo4jDriver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer neo4jDriver.Close(ctx)
	historyStore := history.NewStore(neo4jDriver)

	// --- Case recall (Qdrant + Ollama), best-effort ---
	var memory diagnose.CaseMemory
	if cfg.QdrantURL != "" {
		caseStore, err := recall.NewStore(cfg.QdrantURL, cfg.Collection)
		if err != nil {
			logger.Warn("case recall disabled", "err", err)
		} else {
			defer caseStore.Close()
			if err := caseStore.EnsureCollection(ctx, cfg.EmbedDims); err != nil {
				logger.Warn("case recall collection not ready", "err", err)
			}
			embedder := recall.NewEmbedder(cfg.OllamaURL, cfg.EmbedModel)
			memory = recall.NewRecaller(embedder, caseStore, logger)
		}
	}

	// --- Session events (NATS), optional ---
	var events diagnose.EventPublisher = diagnose.NopPublisher{}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("obi2-api"))
		if err != nil {
			logger.Warn("session events disabled", "err", err)
		} else {
			defer nc.Drain()
			events = diagnose.NewNATSPublisher(nc, logger)
		}
	}

	orch := diagnose.New(diagnose.Config{
		Provider: providerClient,
		Matcher:  matcher,
		Cart:     store,
		Memory:   memory,
		Store:    historyStore,
		Events:   events,
		Metrics:  reg,
		Log:      logger,
	})

	sessions := newSessionRegistry(orch, reg)

	// --- HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/suggestions", handleSuggestions)
	mux.HandleFunc("POST /api/chat", handleChat(sessions, orch, logger))
	mux.HandleFunc("POST /api/diagnostics", handleSave(sessions, orch, logger))
	mux.HandleFunc("GET /api/diagnostics", handleHistory(orch, logger))
	mux.Handle("GET /metrics", reg.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.RateLimit(cfg.RateLimitPerSec, int(cfg.RateLimitPerSec)+5),
		mid.OTel("obi2-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Session registry ---

type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*diagnose.Session
	orch     *diagnose.Orchestrator
	active   *metrics.Gauge
}

func newSessionRegistry(orch *diagnose.Orchestrator, reg *metrics.Registry) *sessionRegistry {
	return &sessionRegistry{
		sessions: make(map[string]*diagnose.Session),
		orch:     orch,
		active:   reg.Gauge("obi2_active_sessions", "Sessions currently held in memory."),
	}
}

// get returns the session, creating and greeting a new one on first use.
func (r *sessionRegistry) get(id, userID string) (*diagnose.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s, false
	}
	s := diagnose.NewSession(id, userID)
	r.orch.Greet(s)
	r.sessions[id] = s
	r.active.Set(int64(len(r.sessions)))
	return s, true
}

func (r *sessionRegistry) lookup(id string) (*diagnose.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// SuggestionsResponse feeds the chat UI's pickers: common trouble codes,
// common symptom phrasings, and the situation quick-reply buttons.
type SuggestionsResponse struct {
	OBDCodes   []diagnose.OBDSuggestion `json:"obdCodes"`
	Symptoms   []string                 `json:"symptoms"`
	Situations []lexicon.Situation      `json:"situations"`
}

func handleSuggestions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SuggestionsResponse{
		OBDCodes:   diagnose.CodeSuggestions(),
		Symptoms:   diagnose.SymptomSuggestions(),
		Situations: lexicon.Situations(),
	})
}

// ChatRequest is the JSON body for POST /api/chat.
type ChatRequest struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
	Message   string `json:"message"`
}

// ChatResponse is the JSON response for POST /api/chat.
type ChatResponse struct {
	SessionID string          `json:"sessionId"`
	State     string          `json:"state"`
	Reply     diagnose.Result `json:"reply"`
}

func handleChat(sessions *sessionRegistry, orch *diagnose.Orchestrator, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.SessionID == "" {
			req.SessionID = uuid.NewString()
		}

		s, created := sessions.get(req.SessionID, req.UserID)
		result, err := orch.Turn(r.Context(), s, req.Message)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrTurnInFlight):
			http.Error(w, `{"error":"previous turn still in flight"}`, http.StatusConflict)
			return
		case errors.Is(err, domain.ErrEmptyMessage):
			http.Error(w, `{"error":"message is required"}`, http.StatusBadRequest)
			return
		default:
			logger.Error("chat turn failed", "session", req.SessionID, "err", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}

		if created {
			// A brand-new session's first response shows the welcome
			// before the turn's replies.
			greeting := s.Messages()[0]
			result.Messages = append([]domain.ChatMessage{greeting}, result.Messages...)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ChatResponse{
			SessionID: req.SessionID,
			State:     string(s.State()),
			Reply:     result,
		})
	}
}

// SaveRequest is the JSON body for POST /api/diagnostics.
type SaveRequest struct {
	SessionID string `json:"sessionId"`
}

func handleSave(sessions *sessionRegistry, orch *diagnose.Orchestrator, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SaveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
			http.Error(w, `{"error":"sessionId is required"}`, http.StatusBadRequest)
			return
		}
		s, ok := sessions.lookup(req.SessionID)
		if !ok {
			http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
			return
		}

		id, err := orch.Save(r.Context(), s)
		if err != nil {
			if errors.Is(err, domain.ErrEmptySession) {
				http.Error(w, `{"error":"session has no messages"}`, http.StatusBadRequest)
				return
			}
			logger.Error("save failed", "session", req.SessionID, "err", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": id})
	}
}

func handleHistory(orch *diagnose.Orchestrator, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userId")
		if userID == "" {
			http.Error(w, `{"error":"userId is required"}`, http.StatusBadRequest)
			return
		}
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			limit, _ = strconv.Atoi(v)
		}

		records, err := orch.History(r.Context(), userID, limit)
		if err != nil {
			logger.Error("history lookup failed", "user", userID, "err", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []history.Record{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(records)
	}
}
