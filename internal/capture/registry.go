package capture

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/bwallxyz/voicemod/internal/metrics"
)

var (
	// ErrSessionExists is returned when starting a session whose ID is
	// already active.
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionNotFound is returned for operations on an unknown session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionStopped is returned when adding a speaker to a session
	// that has been torn down.
	ErrSessionStopped = errors.New("session stopped")
)

// Connector establishes the media transport for a session's channel.
type Connector interface {
	Connect(channel ChannelContext) (MediaSession, error)
}

// Registry owns all active capture sessions, keyed by session ID. Sessions
// own their speaker pipelines; the registry never reaches past a session
// into its speakers.
type Registry struct {
	cfg        PipelineConfig
	connector  Connector
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates a session registry
func NewRegistry(cfg PipelineConfig, connector Connector, dispatcher Dispatcher,
	logger *slog.Logger, m *metrics.Metrics) *Registry {

	return &Registry{
		cfg:        cfg,
		connector:  connector,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    m,
		sessions:   make(map[string]*Session),
	}
}

// StartSession connects to the channel and registers a new session. A
// duplicate session ID fails with ErrSessionExists and leaves the existing
// session untouched.
func (r *Registry) StartSession(channel ChannelContext) (*Session, error) {
	r.mu.Lock()
	if _, ok := r.sessions[channel.SessionID]; ok {
		r.mu.Unlock()
		return nil, ErrSessionExists
	}
	// Reserve the slot before the (possibly slow) connect so concurrent
	// starts for the same ID see the conflict.
	r.sessions[channel.SessionID] = nil
	r.mu.Unlock()

	media, err := r.connector.Connect(channel)
	if err != nil {
		r.mu.Lock()
		delete(r.sessions, channel.SessionID)
		r.mu.Unlock()
		return nil, err
	}

	s := newSession(channel, r.cfg, media, r.dispatcher, r.logger, r.metrics)

	r.mu.Lock()
	r.sessions[channel.SessionID] = s
	r.mu.Unlock()

	r.metrics.ActiveSessions.Inc()
	r.logger.Info("Session started",
		slog.String("session_id", channel.SessionID),
		slog.String("server_id", channel.ServerID),
		slog.String("channel_id", channel.ChannelID),
	)

	return s, nil
}

// StopSession tears down the session and removes it from the registry
func (r *Registry) StopSession(sessionID string) error {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	if !ok || s == nil {
		return ErrSessionNotFound
	}

	s.Stop()
	r.metrics.ActiveSessions.Dec()
	return nil
}

// Session returns the active session with the given ID
func (r *Registry) Session(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok || s == nil {
		return nil, false
	}
	return s, true
}

// SessionActive reports whether the session is still registered. The
// dispatcher checks this before side effects that need a live session.
func (r *Registry) SessionActive(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return ok && s != nil
}

// Sessions returns all active sessions ordered by session ID
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	result := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s != nil {
			result = append(result, s)
		}
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID() < result[j].ID()
	})
	return result
}

// Stop tears down every active session. Used during shutdown.
func (r *Registry) Stop() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s != nil {
			sessions = append(sessions, s)
		}
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
		r.metrics.ActiveSessions.Dec()
	}

	if len(sessions) > 0 {
		r.logger.Info("All sessions stopped",
			slog.Int("count", len(sessions)),
		)
	}
}
