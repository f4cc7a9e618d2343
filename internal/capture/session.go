package capture

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bwallxyz/voicemod/internal/metrics"
)

// Session is one active capture session bound to a voice channel. It owns
// its speaker pipelines directly; speakers are keyed by speaker ID within
// the session, never by a composite key.
type Session struct {
	channel   ChannelContext
	createdAt time.Time

	cfg        PipelineConfig
	media      MediaSession
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu        sync.Mutex
	pipelines map[string]*SpeakerPipeline
	stopped   bool
}

// SessionInfo represents session state for monitoring and APIs
type SessionInfo struct {
	Channel   ChannelContext `json:"channel"`
	CreatedAt time.Time      `json:"created_at"`
	Speakers  []PipelineInfo `json:"speakers"`
}

func newSession(channel ChannelContext, cfg PipelineConfig, media MediaSession,
	dispatcher Dispatcher, logger *slog.Logger, m *metrics.Metrics) *Session {

	return &Session{
		channel:    channel,
		createdAt:  time.Now(),
		cfg:        cfg,
		media:      media,
		dispatcher: dispatcher,
		logger: logger.With(
			slog.String("session_id", channel.SessionID),
			slog.String("channel_id", channel.ChannelID),
		),
		metrics:   m,
		pipelines: make(map[string]*SpeakerPipeline),
	}
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.channel.SessionID
}

// Channel returns the session's channel context
func (s *Session) Channel() ChannelContext {
	return s.channel
}

// AddSpeaker attaches a capture pipeline for the speaker. At most one
// pipeline exists per speaker; adding a speaker that already has one
// returns the existing pipeline unchanged.
func (s *Session) AddSpeaker(speakerID, displayName string) (*SpeakerPipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, ErrSessionStopped
	}

	if existing, ok := s.pipelines[speakerID]; ok {
		return existing, nil
	}

	p, err := newSpeakerPipeline(speakerID, displayName, s.channel,
		s.cfg, s.media, s.dispatcher, s.logger, s.metrics)
	if err != nil {
		return nil, err
	}

	s.pipelines[speakerID] = p
	s.metrics.ActivePipelines.Inc()

	s.logger.Info("Speaker pipeline started",
		slog.String("speaker_id", speakerID),
		slog.String("display_name", displayName),
	)

	return p, nil
}

// RemoveSpeaker stops and detaches the speaker's pipeline, flushing any
// pending audio. Returns false if the speaker has no pipeline.
func (s *Session) RemoveSpeaker(speakerID string) bool {
	s.mu.Lock()
	p, ok := s.pipelines[speakerID]
	if ok {
		delete(s.pipelines, speakerID)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}

	p.stop()
	s.metrics.ActivePipelines.Dec()
	return true
}

// Pipeline returns the speaker's pipeline, if one exists
func (s *Session) Pipeline(speakerID string) (*SpeakerPipeline, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pipelines[speakerID]
	return p, ok
}

// SpeakerCount returns the number of active speaker pipelines
func (s *Session) SpeakerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pipelines)
}

// Stop unwinds every speaker pipeline and marks the session dead. Further
// AddSpeaker calls fail. Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true

	pipelines := make([]*SpeakerPipeline, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		pipelines = append(pipelines, p)
	}
	s.pipelines = make(map[string]*SpeakerPipeline)
	s.mu.Unlock()

	for _, p := range pipelines {
		p.stop()
		s.metrics.ActivePipelines.Dec()
	}

	s.logger.Info("Session stopped",
		slog.Int("speakers", len(pipelines)),
		slog.Duration("lifetime", time.Since(s.createdAt)),
	)
}

// Info returns session state for monitoring
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	speakers := make([]PipelineInfo, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		speakers = append(speakers, p.Info())
	}
	s.mu.Unlock()

	sort.Slice(speakers, func(i, j int) bool {
		return speakers[i].SpeakerID < speakers[j].SpeakerID
	})

	return SessionInfo{
		Channel:   s.channel,
		CreatedAt: s.createdAt,
		Speakers:  speakers,
	}
}
