package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/caspervault/cvm/internal/engine"
	"github.com/caspervault/cvm/internal/logger"
	"github.com/caspervault/cvm/internal/state"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer serves the read-only vault API.
type WebServer struct {
	router *mux.Router
	port   string
	engine *engine.Engine
}

// NewWebServer creates a new web server instance bound to the given engine.
func NewWebServer(port string, eng *engine.Engine) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router: mux.NewRouter(),
		port:   port,
		engine: eng,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/vault/summary", ws.handleGetSummary).Methods("GET")
	api.HandleFunc("/vault/parameters", ws.handleGetParameters).Methods("GET")
	api.HandleFunc("/vault/positions/{account}", ws.handleGetPosition).Methods("GET")
	api.HandleFunc("/vault/requests/{id}", ws.handleGetRequest).Methods("GET")
	api.HandleFunc("/events", ws.handleGetEvents).Methods("GET")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

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

	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
	}

	overallStatus := "OK"
	if !dbHealthy {
		overallStatus = "DEGRADED"
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"gc_cycles":        memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "cvm-vault-manager",
			"version": "1.0.0",
		},
		"vault_status": map[string]interface{}{
			"paused":     ws.engine.IsPaused(),
			"db_healthy": dbHealthy,
		},
	}

	ws.writeJSON(w, http.StatusOK, response)
}

// handleGetSummary returns the live vault summary.
func (ws *WebServer) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := ws.engine.Summary()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to build vault summary")
		ws.writeError(w, http.StatusInternalServerError, "failed to build vault summary")
		return
	}
	ws.writeJSON(w, http.StatusOK, summary)
}

// handleGetParameters returns the live parameter set.
func (ws *WebServer) handleGetParameters(w http.ResponseWriter, r *http.Request) {
	ws.writeJSON(w, http.StatusOK, ws.engine.Parameters())
}

// handleGetPosition returns one account's position.
func (ws *WebServer) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	pos, ok := ws.engine.Position(account)
	if !ok {
		ws.writeError(w, http.StatusNotFound, "position not found")
		return
	}
	response := map[string]interface{}{
		"account":  account,
		"position": pos,
		"requests": ws.engine.RequestsFor(account),
	}
	ws.writeJSON(w, http.StatusOK, response)
}

// handleGetRequest returns a single withdrawal request.
func (ws *WebServer) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		ws.writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	req, ok := ws.engine.Request(id)
	if !ok {
		ws.writeError(w, http.StatusNotFound, "withdrawal request not found")
		return
	}
	ws.writeJSON(w, http.StatusOK, req)
}

// handleGetEvents returns recent audit events, optionally filtered by
// account via ?account= and capped via ?limit=.
func (ws *WebServer) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 || parsed > 1000 {
			ws.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = parsed
	}

	events, err := state.LoadRecentEvents(account, limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to load events")
		ws.writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	ws.writeJSON(w, http.StatusOK, events)
}

// writeJSON writes a JSON response with the given status code.
func (ws *WebServer) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response.
func (ws *WebServer) writeError(w http.ResponseWriter, status int, message string) {
	ws.writeJSON(w, status, map[string]string{"error": message})
}

// corsMiddleware adds CORS headers for browser clients.
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each request at debug level.
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		webLogger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
