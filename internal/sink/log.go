package sink

import (
	"log/slog"

	"github.com/bwallxyz/voicemod/internal/dispatch"
)

// LogSink writes transcripts to the service log. It is the delivery of
// last resort and never fails.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log-backed transcript sink
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Post logs the rendered transcript line
func (s *LogSink) Post(t *dispatch.Transcript) error {
	s.logger.Info("Transcript",
		slog.String("session_id", t.Channel.SessionID),
		slog.String("channel_id", t.Channel.ChannelID),
		slog.String("line", t.Line()),
	)
	return nil
}

// Multi fans a transcript out to several sinks in order. A sink failure is
// returned after the remaining sinks have run.
type Multi []dispatch.Sink

// Post delivers the transcript to every sink
func (m Multi) Post(t *dispatch.Transcript) error {
	var firstErr error
	for _, s := range m {
		if err := s.Post(t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
