package capture

import (
	"context"
	"time"
)

// ChannelContext identifies where a session's audio comes from and where
// transcripts are posted back to.
type ChannelContext struct {
	SessionID   string `json:"session_id"`
	ServerID    string `json:"server_id"`
	ServerName  string `json:"server_name,omitempty"`
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name,omitempty"`
}

// Utterance is one finalized, bounded span of a speaker's speech. It is
// immutable once built and handed to the dispatcher exactly once; the
// pipeline retains nothing of it after handoff.
type Utterance struct {
	ID          string
	SpeakerID   string
	DisplayName string
	Channel     ChannelContext
	StartedAt   time.Time
	EndedAt     time.Time
	Audio       []byte // WAV container
	SampleRate  int
}

// Duration returns the utterance's time span
func (u *Utterance) Duration() time.Duration {
	return u.EndedAt.Sub(u.StartedAt)
}

// FrameSource is one speaker's raw frame stream from the media session.
// Frames are delivered in arrival order on Frames; Done yields the close
// reason (nil for an orderly close) and is closed exactly once.
type FrameSource interface {
	Frames() <-chan []byte
	Done() <-chan error
	Close() error
}

// MediaSession is the voice transport collaborator. Subscribing to the same
// speaker after an unsubscribe yields a fresh, independent stream.
type MediaSession interface {
	Subscribe(speakerID string) (FrameSource, error)
}

// Dispatcher receives finalized utterances for transcription. Dispatch must
// not block frame ingestion; implementations run the provider call
// asynchronously.
type Dispatcher interface {
	Dispatch(ctx context.Context, utt *Utterance)
}
