package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bwallxyz/voicemod/internal/capture"
	"github.com/bwallxyz/voicemod/internal/config"
	"github.com/bwallxyz/voicemod/internal/dispatch"
	"github.com/bwallxyz/voicemod/internal/metrics"
	"github.com/bwallxyz/voicemod/internal/sink"
	"github.com/bwallxyz/voicemod/internal/store"
	"github.com/bwallxyz/voicemod/internal/transcription"
)

// HTTPServer provides the HTTP control and monitoring API
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	registry   *capture.Registry
	dispatcher *dispatch.Dispatcher
	client     *transcription.Client
	db         *store.Store
	hub        *sink.Hub
	metrics    *metrics.Metrics

	// Server state
	startTime time.Time
	mu        sync.RWMutex
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg *config.Config, logger *slog.Logger,
	registry *capture.Registry, dispatcher *dispatch.Dispatcher,
	client *transcription.Client, db *store.Store, hub *sink.Hub,
	m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:     logger,
		config:     cfg,
		registry:   registry,
		dispatcher: dispatcher,
		client:     client,
		db:         db,
		hub:        hub,
		metrics:    m,
		startTime:  time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Session lifecycle and monitoring endpoints
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoints
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/stats/transcription", h.withMetrics("/stats/transcription", h.handleTranscriptionStats))

	// Websocket observer endpoint
	if h.hub != nil {
		mux.HandleFunc("/ws", h.hub.HandleWS)
	}

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		// Call the original handler
		handler(ww, r)

		// Record metrics
		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		// Record error if status code indicates an error
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	dispatchStats := h.dispatcher.GetStats()
	clientStats := h.client.GetStats()

	storageStatus := "disabled"
	if h.db != nil {
		if h.db.Ready() {
			storageStatus = "ready"
		} else {
			storageStatus = "unreachable"
		}
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "voicemod",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"sessions": map[string]interface{}{
				"status":       "running",
				"active_count": len(h.registry.Sessions()),
			},
			"dispatcher": map[string]interface{}{
				"status":     "running",
				"dispatched": dispatchStats.Dispatched,
				"dropped":    dispatchStats.Dropped,
			},
			"transcription": map[string]interface{}{
				"status":          "running",
				"total_requests":  clientStats.TotalRequests,
				"success_rate":    clientStats.SuccessRate,
				"active_requests": clientStats.ActiveRequests,
			},
			"storage": map[string]interface{}{
				"status": storageStatus,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// sessionRequest is the POST /sessions body
type sessionRequest struct {
	SessionID   string `json:"session_id"`
	ServerID    string `json:"server_id"`
	ServerName  string `json:"server_name"`
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`
}

// speakerRequest is the POST /sessions/{id}/speakers body
type speakerRequest struct {
	SpeakerID   string `json:"speaker_id"`
	DisplayName string `json:"display_name"`
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listSessions(w, r)
	case http.MethodPost:
		h.startSession(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPServer) listSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := h.registry.Sessions()
	sessionInfos := make([]capture.SessionInfo, 0, len(sessions))

	for _, session := range sessions {
		sessionInfos = append(sessionInfos, session.Info())
	}

	response := map[string]interface{}{
		"total_sessions": len(sessionInfos),
		"timestamp":      time.Now().UTC(),
		"sessions":       sessionInfos,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (h *HTTPServer) startSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.SessionID == "" || req.ChannelID == "" {
		http.Error(w, "session_id and channel_id are required", http.StatusBadRequest)
		return
	}

	session, err := h.registry.StartSession(capture.ChannelContext{
		SessionID:   req.SessionID,
		ServerID:    req.ServerID,
		ServerName:  req.ServerName,
		ChannelID:   req.ChannelID,
		ChannelName: req.ChannelName,
	})
	if err != nil {
		if errors.Is(err, capture.ErrSessionExists) {
			http.Error(w, "Session already exists", http.StatusConflict)
			return
		}
		h.logger.Error("Failed to start session",
			slog.String("session_id", req.SessionID),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Failed to start session", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(session.Info())
}

// handleSessionDetail implements /sessions/{id} and its speaker and
// utterance subresources
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	// Extract path parts after /sessions/
	rest := strings.Trim(r.URL.Path[len("/sessions/"):], "/")
	if rest == "" {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}
	parts := strings.Split(rest, "/")
	sessionID := parts[0]

	switch {
	case len(parts) == 1:
		h.sessionByID(w, r, sessionID)
	case len(parts) == 2 && parts[1] == "speakers":
		h.sessionSpeakers(w, r, sessionID)
	case len(parts) == 3 && parts[1] == "speakers":
		h.sessionSpeakerByID(w, r, sessionID, parts[2])
	case len(parts) == 2 && parts[1] == "utterances":
		h.sessionUtterances(w, r, sessionID)
	default:
		http.NotFound(w, r)
	}
}

func (h *HTTPServer) sessionByID(w http.ResponseWriter, r *http.Request, sessionID string) {
	switch r.Method {
	case http.MethodGet:
		session, ok := h.registry.Session(sessionID)
		if !ok {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(session.Info())

	case http.MethodDelete:
		if err := h.registry.StopSession(sessionID); err != nil {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPServer) sessionSpeakers(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, ok := h.registry.Session(sessionID)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	var req speakerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.SpeakerID == "" {
		http.Error(w, "speaker_id is required", http.StatusBadRequest)
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.SpeakerID
	}

	pipeline, err := session.AddSpeaker(req.SpeakerID, req.DisplayName)
	if err != nil {
		h.logger.Error("Failed to add speaker",
			slog.String("session_id", sessionID),
			slog.String("speaker_id", req.SpeakerID),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Failed to add speaker", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(pipeline.Info())
}

func (h *HTTPServer) sessionSpeakerByID(w http.ResponseWriter, r *http.Request, sessionID, speakerID string) {
	session, ok := h.registry.Session(sessionID)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		pipeline, ok := session.Pipeline(speakerID)
		if !ok {
			http.Error(w, "Speaker not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(pipeline.Info())

	case http.MethodDelete:
		if !session.RemoveSpeaker(speakerID) {
			http.Error(w, "Speaker not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// sessionUtterances implements GET /sessions/{id}/utterances from storage
func (h *HTTPServer) sessionUtterances(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.db == nil {
		http.Error(w, "Storage disabled", http.StatusServiceUnavailable)
		return
	}

	utterances, err := h.db.UtterancesForSession(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("Failed to query utterances",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Storage query failed", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"session_id": sessionID,
		"count":      len(utterances),
		"utterances": utterances,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"http": map[string]interface{}{
			"port":    h.config.HTTP.Port,
			"address": h.config.HTTP.Address,
			"enabled": h.config.HTTP.Enabled,
		},
		"media": map[string]interface{}{
			"port":         h.config.Media.Port,
			"bind_address": h.config.Media.BindAddress,
			"buffer_size":  h.config.Media.BufferSize,
			"queue_size":   h.config.Media.QueueSize,
			"codec":        h.config.Media.Codec,
		},
		"audio": map[string]interface{}{
			"input_sample_rate":    h.config.Audio.InputSampleRate,
			"channels":             h.config.Audio.Channels,
			"provider_sample_rate": h.config.Audio.ProviderSampleRate,
		},
		"capture": map[string]interface{}{
			"silence_threshold_ms":  h.config.Capture.SilenceThresholdMs,
			"stall_timeout_ms":      h.config.Capture.StallTimeoutMs,
			"watchdog_interval_ms":  h.config.Capture.WatchdogIntervalMs,
			"min_utterance_bytes":   h.config.Capture.MinUtteranceBytes,
			"recovery_cooldown_ms":  h.config.Capture.RecoveryCooldownMs,
			"max_recovery_attempts": h.config.Capture.MaxRecoveryAttempts,
		},
		"transcription": map[string]interface{}{
			"endpoint":        h.config.Transcription.Endpoint,
			"model":           h.config.Transcription.Model,
			"timeout":         h.config.Transcription.Timeout,
			"max_concurrent":  h.config.Transcription.MaxConcurrent,
			"response_format": h.config.Transcription.ResponseFormat,
			// Note: API key is intentionally omitted for security
		},
		"storage": map[string]interface{}{
			"enabled": h.config.Storage.Enabled,
			"path":    h.config.Storage.Path,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	dispatchStats := h.dispatcher.GetStats()
	clientStats := h.client.GetStats()
	uptime := time.Since(h.startTime)

	sessions := h.registry.Sessions()
	speakerCount := 0
	for _, s := range sessions {
		speakerCount += s.SpeakerCount()
	}

	stats := map[string]interface{}{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"sessions": map[string]interface{}{
			"active_count":  len(sessions),
			"speaker_count": speakerCount,
		},
		"dispatch":      dispatchStats,
		"transcription": clientStats,
		"observers":     h.hub.ObserverCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleTranscriptionStats implements the /stats/transcription endpoint
func (h *HTTPServer) handleTranscriptionStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := h.client.GetStats()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Voice Capture and Transcription Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                                  "API documentation",
			"GET /health":                            "Service health check",
			"GET /sessions":                          "List all active sessions",
			"POST /sessions":                         "Start a capture session",
			"GET /sessions/{id}":                     "Get detailed session information",
			"DELETE /sessions/{id}":                  "Stop a capture session",
			"POST /sessions/{id}/speakers":           "Attach a speaker pipeline",
			"GET /sessions/{id}/speakers/{sid}":      "Get speaker pipeline state",
			"DELETE /sessions/{id}/speakers/{sid}":   "Detach a speaker pipeline",
			"GET /sessions/{id}/utterances":          "Get persisted transcripts for a session",
			"GET /config":                            "Get service configuration",
			"GET /stats":                             "Get service statistics",
			"GET /stats/transcription":               "Get transcription statistics",
			"GET /ws":                                "Websocket transcript stream",
			"GET /metrics":                           "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
