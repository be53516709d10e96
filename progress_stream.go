package fedtrain

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ProgressStreamConfig configures the live round-event stream.
type ProgressStreamConfig struct {
	// Enabled turns on the stream hub.
	Enabled bool `yaml:"enabled"`

	// BufferSize is the channel buffer per subscription. Default: 64.
	BufferSize int `yaml:"buffer_size"`

	// WriteTimeout bounds WebSocket writes. Default: 10s.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// PingInterval is how often idle WebSocket clients are pinged.
	// Default: 30s.
	PingInterval time.Duration `yaml:"ping_interval"`
}

// DefaultProgressStreamConfig returns default streaming configuration.
func DefaultProgressStreamConfig() ProgressStreamConfig {
	return ProgressStreamConfig{
		Enabled:      false,
		BufferSize:   64,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// RoundEvent is one completed round as seen by stream subscribers.
type RoundEvent struct {
	RunID     string    `json:"run_id"`
	Round     int       `json:"round"`
	Rounds    int       `json:"rounds"`
	Loss      float64   `json:"loss"`
	Accuracy  float64   `json:"accuracy"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressSubscription receives round events until closed.
type ProgressSubscription struct {
	ID string

	ch     chan RoundEvent
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// C returns the channel round events arrive on.
func (s *ProgressSubscription) C() <-chan RoundEvent {
	return s.ch
}

// Done is closed when the subscription ends; select on it together
// with C.
func (s *ProgressSubscription) Done() <-chan struct{} {
	return s.done
}

// Close ends the subscription.
func (s *ProgressSubscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

// ProgressHub fans round events out to in-process subscribers and
// WebSocket clients. A slow subscriber drops events rather than stalling
// the training loop.
type ProgressHub struct {
	cfg      ProgressStreamConfig
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	subs   map[string]*ProgressSubscription
	nextID uint64
	closed bool
}

// NewProgressHub creates a hub, backfilling zero config fields.
func NewProgressHub(cfg ProgressStreamConfig) *ProgressHub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &ProgressHub{
		cfg:  cfg,
		subs: make(map[string]*ProgressSubscription),
	}
}

// Subscribe registers a new event consumer.
func (h *ProgressHub) Subscribe() *ProgressSubscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &ProgressSubscription{
		ID:   fmt.Sprintf("sub-%d", h.nextID),
		ch:   make(chan RoundEvent, h.cfg.BufferSize),
		done: make(chan struct{}),
	}
	if !h.closed {
		h.subs[sub.ID] = sub
	}
	return sub
}

// Unsubscribe removes and closes a subscription.
func (h *ProgressHub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()
	if ok {
		sub.Close()
	}
}

// Publish delivers an event to every live subscriber without blocking.
func (h *ProgressHub) Publish(ev RoundEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		default:
			// Buffer full: the subscriber is behind, skip it.
		}
	}
}

// Close shuts the hub down and closes all subscriptions.
func (h *ProgressHub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*ProgressSubscription)
	h.closed = true
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// ServeHTTP upgrades the request to a WebSocket and streams round events
// as JSON messages until the client disconnects.
func (h *ProgressHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := h.Subscribe()
	defer h.Unsubscribe(sub.ID)

	// Drain client frames so close and pong handling keep working.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sub.Close()
				return
			}
		}
	}()

	ping := time.NewTicker(h.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-sub.ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.done:
			return
		}
	}
}
