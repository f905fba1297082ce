// Package hub pushes widget snapshots to websocket subscribers.
package hub

//go:generate mockgen -source=hub.go -destination=mock_conn_test.go -package=hub -mock_names=wsConn=MockWSConn

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/alexjbarnes/ambient-dash/internal/dashboard"
)

const (
	defaultQueueSize    = 16
	defaultWriteTimeout = 10 * time.Second
)

var (
	// ErrSlowSubscriber is returned by Serve when the subscriber's queue
	// overflowed and it was dropped.
	ErrSlowSubscriber = errors.New("subscriber too slow")
	ErrClosed         = errors.New("hub closed")
)

// wsConn abstracts the websocket connection so the hub can be tested
// without a real client. *websocket.Conn satisfies this interface.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Source supplies snapshots. *dashboard.Dashboard satisfies it.
type Source interface {
	Snapshots() []dashboard.Snapshot
	Subscribe(fn func(dashboard.Snapshot)) func()
}

// Message types sent to subscribers.
const (
	MessageSnapshot = "snapshot"
	MessageUpdate   = "update"
)

// Message is one JSON text frame. A snapshot message carries every
// widget and is sent once on connect; update messages carry one.
type Message struct {
	Type    string               `json:"type"`
	Widgets []dashboard.Snapshot `json:"widgets,omitempty"`
	Widget  *dashboard.Snapshot  `json:"widget,omitempty"`
}

type subscriber struct {
	id    string
	queue chan []byte
}

// Option configures a Hub.
type Option func(*Hub)

// WithQueueSize sets how many frames may wait for a slow subscriber
// before it is dropped.
func WithQueueSize(n int) Option {
	return func(h *Hub) { h.queueSize = n }
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) { h.writeTimeout = d }
}

// WithOriginPatterns allows cross-origin websocket upgrades from hosts
// matching patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.originPatterns = patterns }
}

// Hub fans snapshot updates out to every connected subscriber.
type Hub struct {
	source         Source
	logger         *slog.Logger
	queueSize      int
	writeTimeout   time.Duration
	originPatterns []string

	mu          sync.Mutex
	subs        map[string]*subscriber
	closed      bool
	done        chan struct{}
	unsubscribe func()
}

// New creates a hub and subscribes it to source.
func New(source Source, logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		source:       source,
		logger:       logger,
		queueSize:    defaultQueueSize,
		writeTimeout: defaultWriteTimeout,
		subs:         make(map[string]*subscriber),
		done:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(h)
	}

	h.unsubscribe = source.Subscribe(h.broadcast)

	return h
}

// ServeHTTP upgrades the request and streams snapshots until the client
// disconnects or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	if err := h.Serve(r.Context(), conn); err != nil {
		h.logger.Debug("subscriber disconnected", slog.String("error", err.Error()))
	}
}

// Serve registers conn as a subscriber, sends it the current snapshot of
// every widget and then every update until ctx is done, the client goes
// away, a write fails or the subscriber falls too far behind.
func (h *Hub) Serve(ctx context.Context, conn wsConn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub, err := h.register()
	if err != nil {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return err
	}
	defer h.unregister(sub)

	logger := h.logger.With(slog.String("subscriber", sub.id))
	logger.Debug("subscriber connected")

	// Subscribers never send anything meaningful; reading keeps control
	// frames flowing and notices when the client goes away.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()
	defer wg.Wait()
	defer cancel()

	for {
		select {
		case frame, ok := <-sub.queue:
			if !ok {
				logger.Warn("dropping slow subscriber")
				conn.Close(websocket.StatusPolicyViolation, "too slow")
				return ErrSlowSubscriber
			}

			if err := h.write(ctx, conn, frame); err != nil {
				conn.Close(websocket.StatusInternalError, "write failed")
				return err
			}

		case <-h.done:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return nil

		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return ctx.Err()
		}
	}
}

func (h *Hub) write(ctx context.Context, conn wsConn, frame []byte) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()

	return conn.Write(ctx, websocket.MessageText, frame)
}

// register adds a subscriber with the full snapshot already queued.
// The snapshot is taken under the lock so no update can be queued ahead
// of it.
func (h *Hub) register() (*subscriber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	frame, err := json.Marshal(Message{Type: MessageSnapshot, Widgets: h.source.Snapshots()})
	if err != nil {
		return nil, err
	}

	sub := &subscriber{
		id:    uuid.NewString(),
		queue: make(chan []byte, max(h.queueSize, 1)),
	}
	sub.queue <- frame
	h.subs[sub.id] = sub

	return sub, nil
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub.id)
	h.mu.Unlock()
}

func (h *Hub) broadcast(s dashboard.Snapshot) {
	frame, err := json.Marshal(Message{Type: MessageUpdate, Widget: &s})
	if err != nil {
		h.logger.Error("encoding snapshot", slog.String("widget", s.Name), slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.subs {
		select {
		case sub.queue <- frame:
		default:
			delete(h.subs, id)
			close(sub.queue)
		}
	}
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs)
}

// Close unsubscribes from the source and disconnects every subscriber.
// Serve calls after Close fail immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.closed = true
	h.unsubscribe()
	close(h.done)
}
