package media

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bwallxyz/voicemod/internal/capture"
	"github.com/bwallxyz/voicemod/internal/config"
)

// Transport receives audio frame datagrams over UDP and routes them to
// subscribed speaker streams. One Transport serves every session; routing
// is two-level, session then speaker.
type Transport struct {
	conn   *net.UDPConn
	config config.MediaConfig
	logger *slog.Logger

	// Concurrency management
	ctx     context.Context
	cancel  context.CancelFunc
	recvWG  sync.WaitGroup
	routeWG sync.WaitGroup

	// Packet processing
	packetChan chan []byte

	// Routing table: session ID -> speaker ID -> stream
	routes map[string]map[string]*frameSource

	// Metrics (basic counters for now)
	packetsReceived uint64
	framesRouted    uint64
	framesDropped   uint64
	parseErrors     uint64
	mu              sync.RWMutex
}

// NewTransport creates a UDP media transport
func NewTransport(cfg config.MediaConfig, logger *slog.Logger) *Transport {
	ctx, cancel := context.WithCancel(context.Background())

	return &Transport{
		config:     cfg,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		packetChan: make(chan []byte, 1000),
		routes:     make(map[string]map[string]*frameSource),
	}
}

// Start begins listening for frame datagrams
func (t *Transport) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", t.config.BindAddress, t.config.Port))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	t.conn = conn

	if err := t.conn.SetReadBuffer(t.config.BufferSize); err != nil {
		t.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", t.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	t.logger.Info("Media transport started",
		slog.String("address", addr.String()),
		slog.Int("buffer_size", t.config.BufferSize),
	)

	t.routeWG.Add(1)
	go t.routeLoop()

	t.recvWG.Add(1)
	go t.receiveLoop()

	return nil
}

// Stop gracefully stops the transport and closes all speaker streams
func (t *Transport) Stop() error {
	t.logger.Info("Stopping media transport...")

	t.cancel()

	if t.conn != nil {
		if err := t.conn.Close(); err != nil {
			t.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	// The receive loop must be fully stopped before the queue closes, so a
	// late read can never send on a closed channel.
	t.recvWG.Wait()
	close(t.packetChan)
	t.routeWG.Wait()

	t.mu.Lock()
	for _, speakers := range t.routes {
		for _, src := range speakers {
			src.shutdown(nil)
		}
	}
	t.routes = make(map[string]map[string]*frameSource)
	t.mu.Unlock()

	t.mu.RLock()
	received := t.packetsReceived
	routed := t.framesRouted
	parseErrors := t.parseErrors
	t.mu.RUnlock()

	t.logger.Info("Media transport stopped",
		slog.Uint64("packets_received", received),
		slog.Uint64("frames_routed", routed),
		slog.Uint64("parse_errors", parseErrors),
	)

	return nil
}

// Connect returns the media session for a channel. Implements the capture
// connector contract; all sessions share the one UDP socket.
func (t *Transport) Connect(channel capture.ChannelContext) (capture.MediaSession, error) {
	return &transportSession{
		transport: t,
		sessionID: channel.SessionID,
	}, nil
}

// receiveLoop is the main datagram receiving loop
func (t *Transport) receiveLoop() {
	defer t.recvWG.Done()

	buffer := make([]byte, t.config.BufferSize)

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
			// Continue to receive packets
		}

		// Set read deadline to check for context cancellation periodically
		if err := t.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			t.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := t.conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}

			select {
			case <-t.ctx.Done():
				return
			default:
				t.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		t.mu.Lock()
		t.packetsReceived++
		t.mu.Unlock()

		// Copy out of the reused read buffer
		data := make([]byte, n)
		copy(data, buffer[:n])

		select {
		case t.packetChan <- data:
		default:
			t.logger.Warn("Frame routing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// routeLoop parses queued datagrams and delivers frames to speaker streams
func (t *Transport) routeLoop() {
	defer t.routeWG.Done()

	for data := range t.packetChan {
		packet, err := ParsePacket(data)
		if err != nil {
			t.mu.Lock()
			t.parseErrors++
			t.mu.Unlock()

			t.logger.Warn("Failed to parse media packet",
				slog.Int("packet_size", len(data)),
				slog.String("error", err.Error()),
			)
			continue
		}

		t.deliver(packet)
	}
}

func (t *Transport) deliver(packet *Packet) {
	t.mu.RLock()
	var src *frameSource
	if speakers, ok := t.routes[packet.SessionID]; ok {
		src = speakers[packet.SpeakerID]
	}
	t.mu.RUnlock()

	if src == nil {
		// No pipeline subscribed for this speaker; frame is dropped.
		t.mu.Lock()
		t.framesDropped++
		t.mu.Unlock()
		return
	}

	select {
	case src.frames <- packet.Frame:
		t.mu.Lock()
		t.framesRouted++
		t.mu.Unlock()
	default:
		t.mu.Lock()
		t.framesDropped++
		t.mu.Unlock()

		t.logger.Warn("Speaker frame queue full, dropping frame",
			slog.String("session_id", packet.SessionID),
			slog.String("speaker_id", packet.SpeakerID),
		)
	}
}

// subscribe registers a stream for the speaker, replacing any previous one
func (t *Transport) subscribe(sessionID, speakerID string) (*frameSource, error) {
	src := &frameSource{
		transport: t,
		sessionID: sessionID,
		speakerID: speakerID,
		frames:    make(chan []byte, t.config.QueueSize),
		done:      make(chan error, 1),
	}

	t.mu.Lock()
	speakers, ok := t.routes[sessionID]
	if !ok {
		speakers = make(map[string]*frameSource)
		t.routes[sessionID] = speakers
	}
	prev := speakers[speakerID]
	speakers[speakerID] = src
	t.mu.Unlock()

	if prev != nil {
		prev.shutdown(nil)
	}

	return src, nil
}

// unsubscribe removes the stream from the routing table if it is still the
// registered one
func (t *Transport) unsubscribe(src *frameSource) {
	t.mu.Lock()
	if speakers, ok := t.routes[src.sessionID]; ok && speakers[src.speakerID] == src {
		delete(speakers, src.speakerID)
		if len(speakers) == 0 {
			delete(t.routes, src.sessionID)
		}
	}
	t.mu.Unlock()
}

// Stats represents transport counters
type Stats struct {
	PacketsReceived uint64 `json:"packets_received"`
	FramesRouted    uint64 `json:"frames_routed"`
	FramesDropped   uint64 `json:"frames_dropped"`
	ParseErrors     uint64 `json:"parse_errors"`
}

// GetStats returns current transport statistics
func (t *Transport) GetStats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Stats{
		PacketsReceived: t.packetsReceived,
		FramesRouted:    t.framesRouted,
		FramesDropped:   t.framesDropped,
		ParseErrors:     t.parseErrors,
	}
}

// transportSession scopes subscriptions to one capture session
type transportSession struct {
	transport *Transport
	sessionID string
}

func (s *transportSession) Subscribe(speakerID string) (capture.FrameSource, error) {
	return s.transport.subscribe(s.sessionID, speakerID)
}

// frameSource is one speaker's routed frame stream
type frameSource struct {
	transport *Transport
	sessionID string
	speakerID string

	frames chan []byte
	done   chan error

	closeOnce sync.Once
}

func (f *frameSource) Frames() <-chan []byte {
	return f.frames
}

func (f *frameSource) Done() <-chan error {
	return f.done
}

// Close unsubscribes the stream. Safe to call more than once.
func (f *frameSource) Close() error {
	f.transport.unsubscribe(f)
	f.shutdown(nil)
	return nil
}

func (f *frameSource) shutdown(reason error) {
	f.closeOnce.Do(func() {
		if reason != nil {
			f.done <- reason
		}
		close(f.done)
	})
}
