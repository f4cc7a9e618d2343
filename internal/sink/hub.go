package sink

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bwallxyz/voicemod/internal/dispatch"
	"github.com/bwallxyz/voicemod/internal/metrics"
)

const (
	writeTimeout  = 5 * time.Second
	pongTimeout   = 60 * time.Second
	pingInterval  = 30 * time.Second
	sendQueueSize = 32
)

// Hub broadcasts transcripts to connected websocket observers. Each
// connection has exactly one writer goroutine; broadcasts and pings are
// queued to it, so no two goroutines ever write the same connection.
// Observers that cannot keep up are disconnected rather than allowed to
// stall the broadcast.
type Hub struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*observer]struct{}
	closed bool
}

// observer is one connected websocket client. The conn is written only by
// its writeLoop.
type observer struct {
	conn       *websocket.Conn
	remoteAddr string
	send       chan *dispatch.Transcript
	done       chan struct{}
	closeOnce  sync.Once
}

func (o *observer) shutdown() {
	o.closeOnce.Do(func() { close(o.done) })
}

// NewHub creates a websocket broadcast hub
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		logger:  logger,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*observer]struct{}),
	}
}

// HandleWS upgrades the request and registers the connection as an observer
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	obs := &observer{
		conn:       conn,
		remoteAddr: r.RemoteAddr,
		send:       make(chan *dispatch.Transcript, sendQueueSize),
		done:       make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.conns[obs] = struct{}{}
	count := len(h.conns)
	h.mu.Unlock()

	h.metrics.ConnectedObservers.Set(float64(count))
	h.logger.Info("Observer connected",
		slog.String("remote_addr", obs.remoteAddr),
		slog.Int("observers", count),
	)

	go h.readLoop(obs)
	go h.writeLoop(obs)
}

// readLoop drains inbound frames so pongs and close frames are processed.
// Observers are read-only; any payload they send is discarded.
func (h *Hub) readLoop(obs *observer) {
	defer h.drop(obs)

	obs.conn.SetReadLimit(512)
	obs.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	obs.conn.SetPongHandler(func(string) error {
		return obs.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		if _, _, err := obs.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop is the single writer for one connection. It owns the conn's
// lifetime: closing the conn on exit unblocks the readLoop.
func (h *Hub) writeLoop(obs *observer) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer obs.conn.Close()

	for {
		select {
		case t := <-obs.send:
			obs.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := obs.conn.WriteJSON(t); err != nil {
				h.drop(obs)
				return
			}

		case <-ticker.C:
			obs.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := obs.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(obs)
				return
			}

		case <-obs.done:
			obs.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeTimeout))
			return
		}
	}
}

func (h *Hub) drop(obs *observer) {
	obs.shutdown()

	h.mu.Lock()
	if _, ok := h.conns[obs]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, obs)
	count := len(h.conns)
	h.mu.Unlock()

	h.metrics.ConnectedObservers.Set(float64(count))
	h.logger.Info("Observer disconnected",
		slog.String("remote_addr", obs.remoteAddr),
		slog.Int("observers", count),
	)
}

// Post queues the transcript for every connected observer. Observers whose
// queue is full are dropped; Post itself never fails and never blocks.
func (h *Hub) Post(t *dispatch.Transcript) error {
	h.mu.Lock()
	observers := make([]*observer, 0, len(h.conns))
	for o := range h.conns {
		observers = append(observers, o)
	}
	h.mu.Unlock()

	for _, o := range observers {
		select {
		case o.send <- t:
		default:
			h.logger.Warn("Observer cannot keep up, disconnecting",
				slog.String("remote_addr", o.remoteAddr),
			)
			h.drop(o)
		}
	}

	return nil
}

// ObserverCount returns the number of connected observers
func (h *Hub) ObserverCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects all observers and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	observers := make([]*observer, 0, len(h.conns))
	for o := range h.conns {
		observers = append(observers, o)
	}
	h.conns = make(map[*observer]struct{})
	h.mu.Unlock()

	for _, o := range observers {
		o.shutdown()
	}

	h.metrics.ConnectedObservers.Set(0)
}
