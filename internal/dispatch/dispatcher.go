package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwallxyz/voicemod/internal/capture"
	"github.com/bwallxyz/voicemod/internal/metrics"
	"github.com/bwallxyz/voicemod/internal/store"
	"github.com/bwallxyz/voicemod/internal/transcription"
)

// Path identifies which dispatch route an utterance takes
type Path int

const (
	// PathIntegrated transcribes and persists the utterance as one unit.
	PathIntegrated Path = iota
	// PathProviderOnly transcribes without touching storage.
	PathProviderOnly
)

// String returns a human-readable path name
func (p Path) String() string {
	if p == PathIntegrated {
		return "integrated"
	}
	return "provider_only"
}

// selectPath chooses the dispatch route from storage readiness alone
func selectPath(storeReady bool) Path {
	if storeReady {
		return PathIntegrated
	}
	return PathProviderOnly
}

// Transcriber is the transcription provider client
type Transcriber interface {
	Transcribe(ctx context.Context, req *transcription.Request) (*transcription.Result, error)
}

// Store is the persistence collaborator for the integrated path
type Store interface {
	Ready() bool
	FindOrCreateSpeaker(ctx context.Context, speakerID, displayName string) (*store.SpeakerRecord, error)
	AppendUtterance(ctx context.Context, rec *store.SpeakerRecord, data store.UtteranceData) error
}

// Transcript is one finished transcription result delivered to the sink
type Transcript struct {
	UtteranceID string                 `json:"utterance_id"`
	Channel     capture.ChannelContext `json:"channel"`
	SpeakerID   string                 `json:"speaker_id"`
	DisplayName string                 `json:"display_name"`
	Text        string                 `json:"text"`
	Confidence  float64                `json:"confidence"`
	StartedAt   time.Time              `json:"started_at"`
	EndedAt     time.Time              `json:"ended_at"`
}

// Line renders the transcript in its posted form
func (t *Transcript) Line() string {
	return fmt.Sprintf("%s: %s", t.DisplayName, t.Text)
}

// Sink receives transcripts for live delivery
type Sink interface {
	Post(t *Transcript) error
}

// Liveness reports whether a session is still registered. Live-delivery
// side effects are skipped for sessions that ended while the provider call
// was in flight.
type Liveness interface {
	SessionActive(sessionID string) bool
}

// Stats contains dispatcher statistics
type Stats struct {
	Dispatched  int64 `json:"dispatched"`
	Integrated  int64 `json:"integrated"`
	Fallbacks   int64 `json:"fallbacks"`
	Dropped     int64 `json:"dropped"`
	SinkPosts   int64 `json:"sink_posts"`
	SkippedDead int64 `json:"skipped_dead_sessions"`
}

// Dispatcher owns the asynchronous transcription flow for finalized
// utterances. It never blocks the calling pipeline.
type Dispatcher struct {
	client   Transcriber
	store    Store
	sink     Sink
	liveness Liveness
	logger   *slog.Logger
	metrics  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	// closeMu orders wg.Add against Close's wg.Wait
	closeMu sync.Mutex
	closed  bool
	wg      sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
}

// NewDispatcher creates a dispatcher. store may be nil, which pins every
// utterance to the provider-only path.
func NewDispatcher(client Transcriber, st Store, sink Sink, liveness Liveness,
	logger *slog.Logger, m *metrics.Metrics) *Dispatcher {

	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		client:   client,
		store:    st,
		sink:     sink,
		liveness: liveness,
		logger:   logger,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Dispatch hands one utterance to the transcription flow and returns
// immediately. The provider call runs on its own goroutine against the
// dispatcher's lifetime, so a pipeline stopping mid-flight does not cancel
// persistence of its last utterance.
func (d *Dispatcher) Dispatch(_ context.Context, utt *capture.Utterance) {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		d.logger.Warn("Dispatcher closed, dropping utterance",
			slog.String("utterance_id", utt.ID),
		)
		return
	}
	d.wg.Add(1)
	d.closeMu.Unlock()

	d.metrics.Dispatches.Inc()
	d.statsMu.Lock()
	d.stats.Dispatched++
	d.statsMu.Unlock()

	go func() {
		defer d.wg.Done()
		d.run(utt)
	}()
}

// Close stops accepting new work and waits for in-flight dispatches to
// finish before cancelling their shared context
func (d *Dispatcher) Close() {
	d.closeMu.Lock()
	d.closed = true
	d.closeMu.Unlock()

	d.wg.Wait()
	d.cancel()
}

// GetStats returns current dispatcher statistics
func (d *Dispatcher) GetStats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

func (d *Dispatcher) run(utt *capture.Utterance) {
	logger := d.logger.With(
		slog.String("utterance_id", utt.ID),
		slog.String("session_id", utt.Channel.SessionID),
		slog.String("speaker_id", utt.SpeakerID),
	)

	start := time.Now()
	path := selectPath(d.store != nil && d.store.Ready())

	var (
		result *transcription.Result
		err    error
	)

	switch path {
	case PathIntegrated:
		result, err = d.integrated(utt)
		if err != nil {
			// One fallback, never more.
			d.metrics.FallbackDispatches.Inc()
			d.statsMu.Lock()
			d.stats.Fallbacks++
			d.statsMu.Unlock()

			logger.Warn("Integrated dispatch failed, falling back to provider only",
				slog.String("error", err.Error()),
			)
			result, err = d.transcribe(utt)
		} else {
			d.metrics.IntegratedSuccesses.Inc()
			d.statsMu.Lock()
			d.stats.Integrated++
			d.statsMu.Unlock()
		}

	case PathProviderOnly:
		result, err = d.transcribe(utt)
	}

	d.metrics.TranscriptionDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		d.metrics.DroppedTranscriptions.Inc()
		d.statsMu.Lock()
		d.stats.Dropped++
		d.statsMu.Unlock()

		logger.Error("Transcription failed, dropping utterance",
			slog.String("path", path.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		logger.Debug("Empty transcript, nothing to deliver")
		return
	}

	d.deliver(logger, utt, text, result.Confidence)
}

// integrated transcribes the utterance and persists the result as one
// unit. A provider failure aborts before storage; a storage failure after a
// successful provider call reports the error but keeps the transcript,
// which the caller then delivers on the fallback accounting.
func (d *Dispatcher) integrated(utt *capture.Utterance) (*transcription.Result, error) {
	result, err := d.transcribe(utt)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return result, nil // nothing to persist
	}

	rec, err := d.store.FindOrCreateSpeaker(d.ctx, utt.SpeakerID, utt.DisplayName)
	if err != nil {
		d.metrics.StoreFailures.Inc()
		d.logger.Warn("Speaker lookup failed, transcript not persisted",
			slog.String("utterance_id", utt.ID),
			slog.String("error", err.Error()),
		)
		return result, nil
	}

	data := store.UtteranceData{
		ID:          utt.ID,
		SessionID:   utt.Channel.SessionID,
		ServerID:    utt.Channel.ServerID,
		ServerName:  utt.Channel.ServerName,
		ChannelID:   utt.Channel.ChannelID,
		ChannelName: utt.Channel.ChannelName,
		StartedAt:   utt.StartedAt,
		EndedAt:     utt.EndedAt,
		Text:        text,
		Confidence:  result.Confidence,
		AudioBytes:  len(utt.Audio),
	}

	if err := d.store.AppendUtterance(d.ctx, rec, data); err != nil {
		d.metrics.StoreFailures.Inc()
		d.logger.Warn("Utterance persist failed, transcript not persisted",
			slog.String("utterance_id", utt.ID),
			slog.String("error", err.Error()),
		)
		return result, nil
	}

	d.metrics.StoreWrites.Inc()
	return result, nil
}

func (d *Dispatcher) transcribe(utt *capture.Utterance) (*transcription.Result, error) {
	req := &transcription.Request{
		Audio:       utt.Audio,
		Filename:    fmt.Sprintf("%s.wav", utt.ID),
		RequestID:   utt.ID,
		SpeakerID:   utt.SpeakerID,
		SessionID:   utt.Channel.SessionID,
		ChannelID:   utt.Channel.ChannelID,
		StartedAt:   utt.StartedAt,
		DurationSec: utt.Duration().Seconds(),
	}
	return d.client.Transcribe(d.ctx, req)
}

// deliver posts the transcript to the sink, unless the owning session ended
// while transcription was in flight.
func (d *Dispatcher) deliver(logger *slog.Logger, utt *capture.Utterance, text string, confidence float64) {
	if d.liveness != nil && !d.liveness.SessionActive(utt.Channel.SessionID) {
		d.statsMu.Lock()
		d.stats.SkippedDead++
		d.statsMu.Unlock()

		logger.Debug("Session ended, skipping live delivery")
		return
	}

	t := &Transcript{
		UtteranceID: utt.ID,
		Channel:     utt.Channel,
		SpeakerID:   utt.SpeakerID,
		DisplayName: utt.DisplayName,
		Text:        text,
		Confidence:  confidence,
		StartedAt:   utt.StartedAt,
		EndedAt:     utt.EndedAt,
	}

	if err := d.sink.Post(t); err != nil {
		logger.Warn("Failed to post transcript",
			slog.String("error", err.Error()),
		)
		return
	}

	d.metrics.SinkPosts.Inc()
	d.statsMu.Lock()
	d.stats.SinkPosts++
	d.statsMu.Unlock()

	logger.Info("Transcript delivered",
		slog.String("display_name", utt.DisplayName),
		slog.Int("text_length", len(text)),
		slog.Float64("confidence", confidence),
	)
}
