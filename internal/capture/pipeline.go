package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bwallxyz/voicemod/internal/audio"
	"github.com/bwallxyz/voicemod/internal/codec"
	"github.com/bwallxyz/voicemod/internal/metrics"
	"github.com/bwallxyz/voicemod/internal/vad"
)

// PipelineState represents the lifecycle state of a speaker pipeline
type PipelineState int

const (
	StateRunning PipelineState = iota
	StateRecovering
	StateDisabled // terminal: recovery attempts exhausted
	StateStopped
)

// String returns a human-readable state name
func (s PipelineState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateRecovering:
		return "recovering"
	case StateDisabled:
		return "disabled"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// PipelineConfig contains the capture parameters for one speaker pipeline
type PipelineConfig struct {
	SilenceThreshold    time.Duration
	StallTimeout        time.Duration
	WatchdogInterval    time.Duration
	MinUtteranceBytes   int
	RecoveryCooldown    time.Duration
	MaxRecoveryAttempts int

	InputSampleRate    int
	ProviderSampleRate int

	// NewDecoder builds a fresh decoder for each recovery cycle
	NewDecoder func() (codec.Decoder, error)
}

// effectiveRate returns the sample rate of the audio reaching the sink
func (c *PipelineConfig) effectiveRate() int {
	if c.ProviderSampleRate > 0 && c.ProviderSampleRate != c.InputSampleRate {
		return c.ProviderSampleRate
	}
	return c.InputSampleRate
}

// SpeakerPipeline is the capture unit for one speaker within a session. It
// owns a decode chain, a sink chain, and a segmenter, all rebuilt as a unit
// on every recovery cycle and guarded by a generation counter.
type SpeakerPipeline struct {
	speakerID   string
	displayName string
	channel     ChannelContext
	createdAt   time.Time

	cfg        PipelineConfig
	media      MediaSession
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Per-generation state, swapped as a unit under mu during recovery
	generation       uint64
	state            PipelineState
	recoveryAttempts int
	source           FrameSource
	chain            *codec.Chain
	sinks            *audio.SinkChain
	segmenter        *vad.Segmenter

	mu sync.Mutex
}

// PipelineInfo represents pipeline state for monitoring and APIs
type PipelineInfo struct {
	SpeakerID        string    `json:"speaker_id"`
	DisplayName      string    `json:"display_name"`
	State            string    `json:"state"`
	Generation       uint64    `json:"generation"`
	RecoveryAttempts int       `json:"recovery_attempts"`
	CreatedAt        time.Time `json:"created_at"`
	VAD              vad.Stats `json:"vad"`
}

// newSpeakerPipeline creates and starts a pipeline for one speaker
func newSpeakerPipeline(speakerID, displayName string, channel ChannelContext,
	cfg PipelineConfig, media MediaSession, dispatcher Dispatcher,
	logger *slog.Logger, m *metrics.Metrics) (*SpeakerPipeline, error) {

	if cfg.NewDecoder == nil {
		return nil, fmt.Errorf("decoder factory is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &SpeakerPipeline{
		speakerID:   speakerID,
		displayName: displayName,
		channel:     channel,
		createdAt:   time.Now(),
		cfg:         cfg,
		media:       media,
		dispatcher:  dispatcher,
		logger: logger.With(
			slog.String("session_id", channel.SessionID),
			slog.String("speaker_id", speakerID),
		),
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}

	if _, err := p.attach(p.generation); err != nil {
		cancel()
		return nil, err
	}

	p.wg.Add(1)
	go p.watchdogLoop()

	return p, nil
}

// attach subscribes to the speaker's stream and builds a fresh decode chain,
// sink chain, and segmenter for the given generation. The install is fenced
// by the generation and state recheck under the lock: a stop or newer
// recovery that landed while the resources were being built wins, and the
// freshly built resources are released without being installed.
func (p *SpeakerPipeline) attach(gen uint64) (bool, error) {
	source, err := p.media.Subscribe(p.speakerID)
	if err != nil {
		return false, fmt.Errorf("failed to subscribe to speaker %s: %w", p.speakerID, err)
	}

	decoder, err := p.cfg.NewDecoder()
	if err != nil {
		source.Close()
		return false, fmt.Errorf("failed to create decoder: %w", err)
	}

	now := time.Now()
	sinks := audio.NewSinkChain(now)

	chain, err := codec.NewChain(codec.Config{
		Decoder:    decoder,
		InputRate:  p.cfg.InputSampleRate,
		OutputRate: p.cfg.ProviderSampleRate,
		Sink:       sinks,
	})
	if err != nil {
		source.Close()
		return false, fmt.Errorf("failed to build decode chain: %w", err)
	}

	segmenter, err := vad.NewSegmenter(p.cfg.SilenceThreshold)
	if err != nil {
		source.Close()
		chain.Close()
		return false, fmt.Errorf("failed to create segmenter: %w", err)
	}
	segmenter.Reset(now)

	p.mu.Lock()
	if p.generation != gen || p.state == StateStopped || p.state == StateDisabled {
		p.mu.Unlock()
		source.Close()
		chain.Close()
		return false, nil
	}
	p.source = source
	p.chain = chain
	p.sinks = sinks
	p.segmenter = segmenter
	p.state = StateRunning
	p.wg.Add(1)
	p.mu.Unlock()

	go p.frameLoop(gen, source, chain, sinks, segmenter)

	return true, nil
}

// frameLoop consumes one generation's frame stream until it closes or the
// pipeline shuts down. All per-frame state it touches belongs to its own
// generation; the generation check in handleFrame fences off stale loops.
func (p *SpeakerPipeline) frameLoop(gen uint64, source FrameSource,
	chain *codec.Chain, sinks *audio.SinkChain, segmenter *vad.Segmenter) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return

		case frame, ok := <-source.Frames():
			if !ok {
				p.onSourceClosed(gen, nil)
				return
			}
			p.handleFrame(gen, frame, chain, sinks, segmenter)

		case err := <-source.Done():
			p.onSourceClosed(gen, err)
			return
		}
	}
}

// handleFrame pushes one raw frame through the decode chain and segmenter
func (p *SpeakerPipeline) handleFrame(gen uint64, frame []byte,
	chain *codec.Chain, sinks *audio.SinkChain, segmenter *vad.Segmenter) {

	p.mu.Lock()
	if p.generation != gen || p.state == StateStopped || p.state == StateDisabled {
		p.mu.Unlock()
		return
	}
	// Frames are flowing again; the pipeline has earned back its full
	// recovery budget.
	p.recoveryAttempts = 0
	p.mu.Unlock()

	p.metrics.FramesReceived.Inc()
	now := time.Now()

	pcm, err := chain.Push(frame)
	if err != nil {
		p.metrics.DecodeErrors.Inc()
		p.logger.Warn("Decode chain error",
			slog.String("error", err.Error()),
		)
		return
	}

	// Silence frames may decode to nothing; the segmenter still observes
	// them so silence runs advance.
	if segmenter.Push(pcm, now) == vad.EventBoundary {
		finalized, startedAt := sinks.Rotate(now)
		p.emitUtterance(gen, finalized, startedAt, now)
	}
}

// emitUtterance builds and dispatches one finalized utterance. Utterances
// below the minimum byte floor are dropped as noise.
func (p *SpeakerPipeline) emitUtterance(gen uint64, pcm []byte, startedAt, endedAt time.Time) {
	p.mu.Lock()
	stale := p.generation != gen || p.state == StateStopped
	p.mu.Unlock()
	if stale {
		return
	}

	if len(pcm) < p.cfg.MinUtteranceBytes {
		p.metrics.UtterancesDropped.Inc()
		p.logger.Debug("Dropping short utterance",
			slog.Int("bytes", len(pcm)),
			slog.Int("floor", p.cfg.MinUtteranceBytes),
		)
		return
	}

	rate := p.cfg.effectiveRate()
	wav, err := audio.EncodeWAV(pcm, rate, 1)
	if err != nil {
		p.logger.Error("Failed to encode utterance",
			slog.String("error", err.Error()),
		)
		return
	}

	utt := &Utterance{
		ID:          uuid.NewString(),
		SpeakerID:   p.speakerID,
		DisplayName: p.displayName,
		Channel:     p.channel,
		StartedAt:   startedAt,
		EndedAt:     endedAt,
		Audio:       wav,
		SampleRate:  rate,
	}

	p.metrics.RecordUtterance(utt.Duration().Seconds(), len(wav))
	p.logger.Info("Utterance segmented",
		slog.String("utterance_id", utt.ID),
		slog.Float64("duration", utt.Duration().Seconds()),
		slog.Int("audio_bytes", len(wav)),
	)

	p.dispatcher.Dispatch(p.ctx, utt)
}

// watchdogLoop periodically checks stream liveness for the pipeline
func (p *SpeakerPipeline) watchdogLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.checkHealth()
		}
	}
}

// checkHealth detects a stalled stream and drives recovery
func (p *SpeakerPipeline) checkHealth() {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return
	}
	gen := p.generation
	last := p.segmenter.LastActivity()
	p.mu.Unlock()

	if time.Since(last) <= p.cfg.StallTimeout {
		return
	}

	p.metrics.Stalls.Inc()
	p.logger.Warn("Pipeline stalled, recovering",
		slog.Duration("since_last_frame", time.Since(last)),
	)

	p.recover(gen, "stall")
}

// onSourceClosed handles a close or error from the transport stream
func (p *SpeakerPipeline) onSourceClosed(gen uint64, reason error) {
	if p.ctx.Err() != nil {
		return // pipeline shutting down, not a fault
	}

	if reason != nil {
		p.logger.Warn("Frame stream closed with error",
			slog.String("error", reason.Error()),
		)
	} else {
		p.logger.Info("Frame stream closed")
	}

	p.recover(gen, "stream closed")
}

// recover tears down the current generation and schedules a rebuild after a
// cooldown. The generation check makes concurrent triggers (watchdog tick
// racing a stream close) collapse into one recovery cycle. Attempts are
// bounded; exhausting them disables the pipeline permanently.
func (p *SpeakerPipeline) recover(fromGen uint64, reason string) {
	p.mu.Lock()
	if p.generation != fromGen || p.state == StateStopped || p.state == StateDisabled {
		p.mu.Unlock()
		return
	}

	p.generation++
	gen := p.generation
	p.state = StateRecovering
	p.recoveryAttempts++
	attempt := p.recoveryAttempts

	source := p.source
	chain := p.chain
	sinks := p.sinks
	p.source = nil
	p.chain = nil
	p.mu.Unlock()

	// Old chain is fully destroyed before any new one exists.
	p.teardown(source, chain, sinks)
	p.metrics.Recoveries.Inc()

	if attempt > p.cfg.MaxRecoveryAttempts {
		p.mu.Lock()
		p.state = StateDisabled
		p.mu.Unlock()

		p.metrics.PipelinesDisabled.Inc()
		p.logger.Error("Speaker capture disabled, recovery attempts exhausted",
			slog.Int("attempts", attempt-1),
			slog.String("reason", reason),
		)
		return
	}

	// Exponential backoff from the base cooldown.
	cooldown := p.cfg.RecoveryCooldown << (attempt - 1)

	p.logger.Info("Scheduling pipeline recovery",
		slog.String("reason", reason),
		slog.Int("attempt", attempt),
		slog.Duration("cooldown", cooldown),
		slog.Uint64("generation", gen),
	)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		select {
		case <-time.After(cooldown):
		case <-p.ctx.Done():
			return
		}

		p.restart(gen)
	}()
}

// teardown closes one generation's source and chain and flushes its pending
// audio. A pending segment that already clears the size floor is dispatched
// rather than lost.
func (p *SpeakerPipeline) teardown(source FrameSource, chain *codec.Chain, sinks *audio.SinkChain) {
	if source != nil {
		if err := source.Close(); err != nil {
			p.logger.Warn("Error closing frame source",
				slog.String("error", err.Error()),
			)
		}
	}

	if chain != nil {
		if err := chain.Close(); err != nil {
			p.logger.Warn("Error closing decode chain",
				slog.String("error", err.Error()),
			)
		}
	}

	if sinks != nil && sinks.Pending() >= p.cfg.MinUtteranceBytes {
		now := time.Now()
		pcm, startedAt := sinks.Rotate(now)

		p.mu.Lock()
		gen := p.generation
		p.mu.Unlock()

		p.emitUtterance(gen, pcm, startedAt, now)
	}
}

// restart rebuilds the pipeline for the given generation. A stale
// generation (superseded by another recovery or a stop) is a no-op.
func (p *SpeakerPipeline) restart(gen uint64) {
	p.mu.Lock()
	if p.generation != gen || p.state != StateRecovering {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	installed, err := p.attach(gen)
	if err != nil {
		p.logger.Warn("Pipeline recovery attempt failed",
			slog.String("error", err.Error()),
		)
		p.recover(gen, "recovery attach failed")
		return
	}
	if !installed {
		return // superseded while rebuilding
	}

	p.logger.Info("Pipeline recovered",
		slog.Uint64("generation", gen),
	)
}

// stop permanently shuts the pipeline down and flushes pending audio.
// Called by the owning session; idempotent.
func (p *SpeakerPipeline) stop() {
	p.mu.Lock()
	if p.state == StateStopped {
		p.mu.Unlock()
		return
	}

	p.generation++ // invalidate in-flight callbacks
	prevState := p.state
	p.state = StateStopped

	source := p.source
	chain := p.chain
	sinks := p.sinks
	p.source = nil
	p.chain = nil
	p.sinks = nil
	p.mu.Unlock()

	if prevState != StateDisabled {
		p.flushOnStop(source, chain, sinks)
	}

	p.cancel()
	p.wg.Wait()

	p.logger.Info("Speaker pipeline stopped")
}

// flushOnStop finalizes the pending segment before shutdown. Unlike
// teardown it dispatches under the stopped state, so only side effects that
// survive session destruction (persistence) apply downstream.
func (p *SpeakerPipeline) flushOnStop(source FrameSource, chain *codec.Chain, sinks *audio.SinkChain) {
	if source != nil {
		source.Close()
	}

	if chain != nil {
		chain.Close()
	}

	if sinks == nil || sinks.Pending() < p.cfg.MinUtteranceBytes {
		return
	}

	now := time.Now()
	pcm, startedAt := sinks.Rotate(now)

	rate := p.cfg.effectiveRate()
	wav, err := audio.EncodeWAV(pcm, rate, 1)
	if err != nil {
		p.logger.Error("Failed to encode final utterance",
			slog.String("error", err.Error()),
		)
		return
	}

	utt := &Utterance{
		ID:          uuid.NewString(),
		SpeakerID:   p.speakerID,
		DisplayName: p.displayName,
		Channel:     p.channel,
		StartedAt:   startedAt,
		EndedAt:     now,
		Audio:       wav,
		SampleRate:  rate,
	}

	p.metrics.RecordUtterance(utt.Duration().Seconds(), len(wav))
	p.dispatcher.Dispatch(context.Background(), utt)
}

// State returns the pipeline's current lifecycle state
func (p *SpeakerPipeline) State() PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Generation returns the pipeline's current generation counter
func (p *SpeakerPipeline) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// Info returns pipeline state for monitoring
func (p *SpeakerPipeline) Info() PipelineInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	info := PipelineInfo{
		SpeakerID:        p.speakerID,
		DisplayName:      p.displayName,
		State:            p.state.String(),
		Generation:       p.generation,
		RecoveryAttempts: p.recoveryAttempts,
		CreatedAt:        p.createdAt,
	}

	if p.segmenter != nil {
		info.VAD = p.segmenter.GetStats()
	}

	return info
}
