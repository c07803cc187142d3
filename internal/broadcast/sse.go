package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SSEListener buffers messages for one event-stream client. A full buffer
// is a send failure, so slow clients are evicted rather than blocking.
type SSEListener struct {
	id string
	ch chan Message

	mu     sync.Mutex
	closed bool
}

func NewSSEListener(buffer int) *SSEListener {
	if buffer <= 0 {
		buffer = 16
	}
	return &SSEListener{id: uuid.NewString(), ch: make(chan Message, buffer)}
}

func (l *SSEListener) ID() string { return l.id }

// Messages is closed when the listener is closed.
func (l *SSEListener) Messages() <-chan Message { return l.ch }

func (l *SSEListener) Send(msg Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrListenerClosed
	}
	select {
	case l.ch <- msg:
		return nil
	default:
		return ErrListenerFull
	}
}

func (l *SSEListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
	return nil
}

// ServeSSE streams hub messages to the client as Server-Sent Events until
// the client disconnects or the listener is evicted.
func ServeSSE(hub *Hub, buffer int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		rc := http.NewResponseController(w)
		if err := rc.SetWriteDeadline(time.Time{}); err != nil {
			slog.Debug("sse: failed to clear write deadline", "err", err)
		}

		l := NewSSEListener(buffer)
		hub.Add(l)
		defer hub.Remove(l.ID())

		// initial ping so the client knows it is connected
		writeSSEEvent(w, flusher, l.ID(), Message{Event: "ping", Timestamp: time.Now().UTC()})

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-l.Messages():
				if !ok {
					return
				}
				writeSSEEvent(w, flusher, l.ID(), msg)
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, id string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		data = []byte(`{}`)
	}
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", id, msg.Event, data)
	flusher.Flush()
}
