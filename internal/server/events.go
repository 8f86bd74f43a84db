package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/limiquantix/servicecluster/internal/domain"
)

const (
	subscriberBuffer = 64
	eventWriteWait   = 10 * time.Second
	eventPongWait    = 60 * time.Second
	eventPingPeriod  = (eventPongWait * 9) / 10
)

// EventHub fans events out to in-process subscribers. Slow subscribers lose
// events instead of blocking publishers.
type EventHub struct {
	mu          sync.RWMutex
	subscribers map[string]chan domain.Event
	logger      *zap.Logger
}

// NewEventHub creates an empty hub.
func NewEventHub(logger *zap.Logger) *EventHub {
	return &EventHub{
		subscribers: make(map[string]chan domain.Event),
		logger:      logger.Named("events"),
	}
}

// Publish delivers event to every subscriber.
func (h *EventHub) Publish(ctx context.Context, event domain.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			h.logger.Warn("Dropping event for slow subscriber",
				zap.String("subscriber", id),
				zap.String("type", string(event.Type)),
			)
		}
	}
	return nil
}

// Subscribe registers a new subscriber. The returned cancel function removes
// it and closes the channel.
func (h *EventHub) Subscribe() (<-chan domain.Event, func()) {
	id := uuid.NewString()
	ch := make(chan domain.Event, subscriberBuffer)

	h.mu.Lock()
	h.subscribers[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of active subscribers.
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// EventStreamHandler streams hub events to websocket clients as JSON messages.
type EventStreamHandler struct {
	hub      *EventHub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewEventStreamHandler creates a websocket handler for hub.
func NewEventStreamHandler(hub *EventHub, logger *zap.Logger) *EventStreamHandler {
	return &EventStreamHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.Named("event-stream"),
	}
}

// RegisterRoutes registers the event stream route.
func (h *EventStreamHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET "+basePath+"/events", h)
}

// ServeHTTP upgrades the connection and forwards events until the client goes away.
func (h *EventStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, cancel := h.hub.Subscribe()
	defer cancel()

	logger := h.logger.With(zap.String("remote_addr", r.RemoteAddr))
	logger.Debug("Event stream client connected")

	// Reads only serve to notice the client closing and to process pongs.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(eventPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(eventPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debug("Event stream read error", zap.Error(err))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(eventPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			logger.Debug("Event stream client disconnected")
			return
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				logger.Debug("Event stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
