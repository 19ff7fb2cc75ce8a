package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/elys-network/poolmigrator/internal/cache"
	"github.com/elys-network/poolmigrator/internal/logger"
	"github.com/elys-network/poolmigrator/internal/state"
	"github.com/elys-network/poolmigrator/internal/types"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// RunStore reads stored migration runs.
type RunStore interface {
	RecentRuns(limit int) ([]state.RunRecord, error)
	RunByPlanID(planID string) (*state.RunRecord, error)
	Stats() (*state.MigrationStats, error)
	Ping() error
}

// CacheInspector exposes the engine's route cache.
type CacheInspector interface {
	CacheStats(ctx context.Context) (cache.Stats, error)
	ClearCache(ctx context.Context) error
}

// Options are the collaborators the server reads from. Any of them may be nil,
// in which case the routes depending on it answer 503.
type Options struct {
	Store      RunStore
	Cache      CacheInspector
	Metrics    http.Handler
	Parameters *types.MigrationParameters
}

// WebServer serves the migrator's status API
type WebServer struct {
	router    *mux.Router
	port      string
	opts      Options
	logger    zerolog.Logger
	startedAt time.Time
}

// NewWebServer creates a new web server instance
func NewWebServer(port string, opts Options) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:    mux.NewRouter(),
		port:      port,
		opts:      opts,
		logger:    logger.GetForComponent("web_server"),
		startedAt: time.Now(),
	}

	server.setupRoutes()
	return server
}

// Handler returns the routed handler with middleware applied.
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	if ws.opts.Metrics != nil {
		ws.router.Handle("/metrics", ws.opts.Metrics).Methods("GET")
	}

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/migrations", ws.handleGetMigrations).Methods("GET")
	api.HandleFunc("/migrations/{id}", ws.handleGetMigration).Methods("GET")
	api.HandleFunc("/stats", ws.handleGetStats).Methods("GET")
	api.HandleFunc("/parameters", ws.handleGetParameters).Methods("GET")
	api.HandleFunc("/cache", ws.handleGetCache).Methods("GET")
	api.HandleFunc("/cache", ws.handleClearCache).Methods("DELETE")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	ws.logger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	database := "disabled"
	healthy := true
	if ws.opts.Store != nil {
		database = "ok"
		if err := ws.opts.Store.Ping(); err != nil {
			ws.logger.Warn().Err(err).Msg("Database health check failed")
			database = "unreachable"
			healthy = false
		}
	}

	overallStatus := "OK"
	statusCode := http.StatusOK
	if !healthy {
		overallStatus = "DEGRADED"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
			"uptime_seconds":   int64(time.Since(ws.startedAt).Seconds()),
		},
		"component": map[string]interface{}{
			"name":    "poolmigrator",
			"version": "1.0.0",
		},
		"migrator_status": map[string]interface{}{
			"database": database,
		},
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetMigrations returns the most recent runs
func (ws *WebServer) handleGetMigrations(w http.ResponseWriter, r *http.Request) {
	if ws.opts.Store == nil {
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "Persistence is disabled")
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	runs, err := ws.opts.Store.RecentRuns(limit)
	if err != nil {
		ws.logger.Error().Err(err).Msg("Failed to get recent runs")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve migrations")
		return
	}

	response := map[string]interface{}{
		"migrations": runs,
		"count":      len(runs),
		"limit":      limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetMigration returns the latest run of one plan
func (ws *WebServer) handleGetMigration(w http.ResponseWriter, r *http.Request) {
	if ws.opts.Store == nil {
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "Persistence is disabled")
		return
	}

	planID := mux.Vars(r)["id"]
	run, err := ws.opts.Store.RunByPlanID(planID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			ws.writeErrorResponse(w, http.StatusNotFound, "Migration not found")
			return
		}
		ws.logger.Error().Err(err).Str("planId", planID).Msg("Failed to get migration")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve migration")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, run)
}

// handleGetStats returns aggregated outcomes
func (ws *WebServer) handleGetStats(w http.ResponseWriter, r *http.Request) {
	if ws.opts.Store == nil {
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "Persistence is disabled")
		return
	}

	stats, err := ws.opts.Store.Stats()
	if err != nil {
		ws.logger.Error().Err(err).Msg("Failed to get migration stats")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve migration stats")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, stats)
}

// handleGetParameters returns the parameters the engine runs with
func (ws *WebServer) handleGetParameters(w http.ResponseWriter, r *http.Request) {
	if ws.opts.Parameters == nil {
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "Parameters are not available")
		return
	}

	response := map[string]interface{}{
		"parameters": ws.opts.Parameters,
		"timestamp":  time.Now().UTC(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

func (ws *WebServer) handleGetCache(w http.ResponseWriter, r *http.Request) {
	if ws.opts.Cache == nil {
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "Cache is not available")
		return
	}

	stats, err := ws.opts.Cache.CacheStats(r.Context())
	if err != nil {
		ws.logger.Error().Err(err).Msg("Failed to get cache stats")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve cache stats")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, stats)
}

func (ws *WebServer) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if ws.opts.Cache == nil {
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "Cache is not available")
		return
	}

	if err := ws.opts.Cache.ClearCache(r.Context()); err != nil {
		ws.logger.Error().Err(err).Msg("Failed to clear cache")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to clear cache")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"cleared": true})
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		ws.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		ws.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
