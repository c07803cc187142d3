// Package broadcast fans hook lifecycle events out to live listeners:
// SSE dashboard clients and an optional Kafka topic mirror.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrListenerClosed = errors.New("listener closed")
	ErrListenerFull   = errors.New("listener buffer full")
)

// Message is the envelope delivered to every listener.
type Message struct {
	Event     string    `json:"event"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Listener receives broadcast messages. Send must not block; a Send error
// evicts the listener from the hub.
type Listener interface {
	ID() string
	Send(msg Message) error
	Close() error
}

// Broadcaster is the publishing side of the hub.
type Broadcaster interface {
	Broadcast(event string, data any)
}

// Hub holds the listener set.
type Hub struct {
	pingInterval time.Duration
	now          func() time.Time

	mu        sync.Mutex
	listeners map[string]Listener

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub that pings listeners every pingInterval once started.
func NewHub(pingInterval time.Duration) *Hub {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Hub{
		pingInterval: pingInterval,
		now:          func() time.Time { return time.Now().UTC() },
		listeners:    make(map[string]Listener),
	}
}

// Add registers l. A listener with the same id replaces the previous one.
func (h *Hub) Add(l Listener) {
	h.mu.Lock()
	prev, ok := h.listeners[l.ID()]
	h.listeners[l.ID()] = l
	n := len(h.listeners)
	h.mu.Unlock()
	if ok && prev != l {
		_ = prev.Close()
	}
	slog.Debug("broadcast: listener added", "id", l.ID(), "listeners", n)
}

// Remove unregisters and closes the listener with id.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	l, ok := h.listeners[id]
	delete(h.listeners, id)
	n := len(h.listeners)
	h.mu.Unlock()
	if ok {
		_ = l.Close()
		slog.Debug("broadcast: listener removed", "id", id, "listeners", n)
	}
}

// Count returns the number of registered listeners.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// Broadcast delivers event to every listener and evicts those that fail.
func (h *Hub) Broadcast(event string, data any) {
	h.send(Message{Event: event, Data: data, Timestamp: h.now()})
}

func (h *Hub) send(msg Message) {
	h.mu.Lock()
	targets := make([]Listener, 0, len(h.listeners))
	for _, l := range h.listeners {
		targets = append(targets, l)
	}
	h.mu.Unlock()

	for _, l := range targets {
		if err := l.Send(msg); err != nil {
			slog.Debug("broadcast: evicting listener", "id", l.ID(), "event", msg.Event, "error", err)
			h.evict(l)
		}
	}
}

// evict removes l only if it is still the registered listener for its id.
func (h *Hub) evict(l Listener) {
	h.mu.Lock()
	cur, ok := h.listeners[l.ID()]
	if ok && cur == l {
		delete(h.listeners, l.ID())
	}
	h.mu.Unlock()
	if ok && cur == l {
		_ = l.Close()
	}
}

// Start runs the keepalive loop until ctx is cancelled or Stop is called.
func (h *Hub) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	go h.run(ctx)
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.send(Message{Event: "ping", Timestamp: h.now()})
		}
	}
}

// Stop ends the keepalive loop and closes every listener.
func (h *Hub) Stop() {
	if h.cancel == nil {
		h.closeAll()
		return
	}
	h.cancel()
	<-h.done
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	all := h.listeners
	h.listeners = make(map[string]Listener)
	h.mu.Unlock()
	for _, l := range all {
		_ = l.Close()
	}
}
