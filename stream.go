package procession

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamConfig configures the live-tail streaming of recorded events.
type StreamConfig struct {
	// Enabled turns on event fan-out from the recorder.
	Enabled bool `yaml:"enabled"`
	// BufferSize is the channel buffer size per subscription. When a
	// subscriber falls behind, events are dropped for that subscriber
	// only; the recorder itself never blocks on a slow consumer.
	BufferSize int `yaml:"buffer_size"`
	// PingInterval is how often to ping WebSocket clients.
	PingInterval time.Duration `yaml:"-"`
	// WriteTimeout bounds WebSocket writes.
	WriteTimeout time.Duration `yaml:"-"`
}

// DefaultStreamConfig returns default streaming configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Enabled:      true,
		BufferSize:   1000,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Subscription is one active live-tail subscription.
type Subscription struct {
	ID string
	// Key filters events to one metric name; empty receives everything.
	Key string
	// Labels filters events to those carrying all of these pairs.
	Labels []Label

	ch      chan Metric
	done    chan struct{}
	closed  bool
	mu      sync.Mutex
	created time.Time
}

// C returns the channel recorded events are delivered on.
func (s *Subscription) C() <-chan Metric {
	return s.ch
}

// Close closes the subscription.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.ch)
}

// StreamHub fans recorded events out to live-tail subscribers.
type StreamHub struct {
	config StreamConfig
	mu     sync.RWMutex
	subs   map[string]*Subscription
	nextID uint64
}

// NewStreamHub creates a new streaming hub.
func NewStreamHub(cfg StreamConfig) *StreamHub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &StreamHub{
		config: cfg,
		subs:   make(map[string]*Subscription),
	}
}

// Subscribe creates a subscription filtered by metric name and label
// pairs. Empty filters match everything.
func (h *StreamHub) Subscribe(key string, labels ...Label) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		ID:      fmt.Sprintf("sub-%d", h.nextID),
		Key:     key,
		Labels:  labels,
		ch:      make(chan Metric, h.config.BufferSize),
		done:    make(chan struct{}),
		created: time.Now(),
	}
	h.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes and closes a subscription.
func (h *StreamHub) Unsubscribe(id string) {
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

// Publish delivers an event to every matching subscription. Sends never
// block; a full subscriber buffer drops the event for that subscriber.
func (h *StreamHub) Publish(m Metric) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !matches(sub, m) {
			continue
		}
		select {
		case sub.ch <- m:
		default:
		}
	}
}

func matches(sub *Subscription, m Metric) bool {
	if sub.Key != "" && sub.Key != m.Key {
		return false
	}
	for _, want := range sub.Labels {
		found := false
		for _, l := range m.Labels {
			if l == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Count returns the number of active subscriptions.
func (h *StreamHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamMessage is the JSON frame exchanged over the WebSocket tail.
type StreamMessage struct {
	Type   string  `json:"type"`
	Key    string  `json:"key,omitempty"`
	Metric *Metric `json:"metric,omitempty"`
	SubID  string  `json:"sub_id,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// WebSocketHandler returns an HTTP handler that tails recorded events over
// a WebSocket connection. Clients send {"type":"subscribe","key":...} and
// receive one {"type":"metric"} frame per recorded event.
func (h *StreamHub) WebSocketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer func() { _ = conn.Close() }()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		connSubs := make(map[string]*Subscription)
		var connMu sync.Mutex

		// The read loop and every forward goroutine share this
		// connection; it allows only one concurrent writer, so all
		// text frames go through writeMessage.
		var writeMu sync.Mutex
		writeMessage := func(msg []byte) error {
			writeMu.Lock()
			defer writeMu.Unlock()
			_ = conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			return conn.WriteMessage(websocket.TextMessage, msg)
		}

		go func() {
			defer cancel()
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}

				var cmd StreamMessage
				if err := json.Unmarshal(msg, &cmd); err != nil {
					h.sendError(writeMessage, "invalid message format")
					continue
				}

				switch cmd.Type {
				case "subscribe":
					sub := h.Subscribe(cmd.Key)
					connMu.Lock()
					connSubs[sub.ID] = sub
					connMu.Unlock()

					resp, _ := json.Marshal(StreamMessage{
						Type:  "subscribed",
						SubID: sub.ID,
					})
					_ = writeMessage(resp)

					go h.forward(ctx, conn, writeMessage, sub)

				case "unsubscribe":
					connMu.Lock()
					if sub, ok := connSubs[cmd.SubID]; ok {
						delete(connSubs, cmd.SubID)
						h.Unsubscribe(sub.ID)
					}
					connMu.Unlock()

					resp, _ := json.Marshal(StreamMessage{
						Type:  "unsubscribed",
						SubID: cmd.SubID,
					})
					_ = writeMessage(resp)

				default:
					h.sendError(writeMessage, "unknown command: "+cmd.Type)
				}
			}
		}()

		<-ctx.Done()

		connMu.Lock()
		for _, sub := range connSubs {
			h.Unsubscribe(sub.ID)
		}
		connMu.Unlock()
	}
}

// forward delivers one subscription's events over the connection. Text
// frames go through the shared write func; control frames may be written
// concurrently with it.
func (h *StreamHub) forward(ctx context.Context, conn *websocket.Conn, write func([]byte) error, sub *Subscription) {
	ping := time.NewTicker(h.config.PingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case <-ping.C:
			deadline := time.Now().Add(h.config.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case m, ok := <-sub.ch:
			if !ok {
				return
			}
			msg, _ := json.Marshal(StreamMessage{
				Type:   "metric",
				SubID:  sub.ID,
				Metric: &m,
			})
			if err := write(msg); err != nil {
				return
			}
		}
	}
}

func (h *StreamHub) sendError(write func([]byte) error, msg string) {
	resp, _ := json.Marshal(StreamMessage{
		Type:  "error",
		Error: msg,
	})
	_ = write(resp)
}
