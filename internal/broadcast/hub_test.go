package broadcast

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type recordingListener struct {
	id      string
	mu      sync.Mutex
	msgs    []Message
	failErr error
	closed  bool
}

func (r *recordingListener) ID() string { return r.id }

func (r *recordingListener) Send(msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingListener) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *recordingListener) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.msgs {
		out = append(out, m.Event)
	}
	return out
}

func TestBroadcastEvictsFailingListener(t *testing.T) {
	hub := NewHub(time.Hour)
	good := &recordingListener{id: "good"}
	bad := &recordingListener{id: "bad", failErr: errors.New("gone")}
	hub.Add(good)
	hub.Add(bad)

	hub.Broadcast("session_start", map[string]string{"session_id": "s1"})

	if hub.Count() != 1 {
		t.Fatalf("expected failing listener evicted, have %d", hub.Count())
	}
	if !bad.closed {
		t.Fatalf("evicted listener should be closed")
	}
	if got := good.events(); len(got) != 1 || got[0] != "session_start" {
		t.Fatalf("unexpected events %v", got)
	}
	if good.msgs[0].Timestamp.IsZero() {
		t.Fatalf("expected timestamp on message")
	}
}

func TestHubPingsAndStopClosesListeners(t *testing.T) {
	hub := NewHub(10 * time.Millisecond)
	l := NewSSEListener(4)
	hub.Add(l)
	hub.Start(context.Background())

	select {
	case msg := <-l.Messages():
		if msg.Event != "ping" {
			t.Fatalf("expected ping, got %s", msg.Event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}

	hub.Stop()
	if hub.Count() != 0 {
		t.Fatalf("expected no listeners after stop")
	}
	if err := l.Send(Message{Event: "x"}); !errors.Is(err, ErrListenerClosed) {
		t.Fatalf("expected closed listener, got %v", err)
	}
}

func TestSSEListenerFullBufferFails(t *testing.T) {
	l := NewSSEListener(1)
	if err := l.Send(Message{Event: "a"}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := l.Send(Message{Event: "b"}); !errors.Is(err, ErrListenerFull) {
		t.Fatalf("expected full buffer error, got %v", err)
	}
	_ = l.Close()
	_ = l.Close()
}

func TestServeSSEStreamsMessages(t *testing.T) {
	hub := NewHub(time.Hour)
	srv := httptest.NewServer(ServeSSE(hub, 8))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, Message) {
		t.Helper()
		var event string
		var msg Message
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
					t.Fatalf("decode data: %v", err)
				}
			case line == "":
				return event, msg
			}
		}
	}

	if ev, _ := readEvent(); ev != "ping" {
		t.Fatalf("expected initial ping, got %q", ev)
	}
	hub.Broadcast("agent_start", map[string]any{"agent_id": "a1"})
	ev, msg := readEvent()
	if ev != "agent_start" || msg.Event != "agent_start" {
		t.Fatalf("unexpected event %q %+v", ev, msg)
	}
	data, _ := msg.Data.(map[string]any)
	if data["agent_id"] != "a1" {
		t.Fatalf("unexpected data %v", msg.Data)
	}
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func TestKafkaMirrorWritesJSON(t *testing.T) {
	w := &fakeWriter{}
	m := newKafkaMirror("hivemind.events", w, 8)
	hub := NewHub(time.Hour)
	hub.Add(m)

	hub.Broadcast("file_change", map[string]string{"file_path": "/a.go"})
	hub.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		t.Fatalf("writer should be closed on stop")
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one record, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "file_change" {
		t.Fatalf("unexpected key %q", w.msgs[0].Key)
	}
	var msg Message
	if err := json.Unmarshal(w.msgs[0].Value, &msg); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if msg.Event != "file_change" {
		t.Fatalf("unexpected record %+v", msg)
	}
	if err := m.Send(Message{Event: "late"}); !errors.Is(err, ErrListenerClosed) {
		t.Fatalf("expected closed mirror, got %v", err)
	}
	if m.ID() != "kafka:hivemind.events" {
		t.Fatalf("unexpected id %s", m.ID())
	}
}
