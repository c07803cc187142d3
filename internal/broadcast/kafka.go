package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaMirror republishes every broadcast as a JSON record on a Kafka
// topic. Messages are queued and written by a single goroutine; when the
// queue is full the message is dropped and the mirror stays registered.
type KafkaMirror struct {
	topic  string
	writer messageWriter
	queue  chan Message

	mu       sync.Mutex
	closed   bool
	stopOnce sync.Once
	done     chan struct{}
}

// NewKafkaMirror creates a mirror writing to topic on the comma-separated
// brokers.
func NewKafkaMirror(brokers, topic string, buffer int) *KafkaMirror {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(brokers, ",")...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newKafkaMirror(topic, w, buffer)
}

func newKafkaMirror(topic string, w messageWriter, buffer int) *KafkaMirror {
	if buffer <= 0 {
		buffer = 256
	}
	m := &KafkaMirror{
		topic:  topic,
		writer: w,
		queue:  make(chan Message, buffer),
		done:   make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *KafkaMirror) ID() string { return "kafka:" + m.topic }

func (m *KafkaMirror) Send(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrListenerClosed
	}
	select {
	case m.queue <- msg:
	default:
		slog.Debug("kafka mirror queue full, dropping message", "event", msg.Event)
	}
	return nil
}

func (m *KafkaMirror) run() {
	defer close(m.done)
	for msg := range m.queue {
		value, err := json.Marshal(msg)
		if err != nil {
			slog.Warn("kafka mirror: marshal failed", "event", msg.Event, "error", err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = m.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(msg.Event),
			Value: value,
			Time:  msg.Timestamp,
		})
		cancel()
		if err != nil {
			slog.Warn("kafka mirror: write failed", "topic", m.topic, "event", msg.Event, "error", err)
		}
	}
}

// Close drains queued messages and closes the writer.
func (m *KafkaMirror) Close() error {
	var err error
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		close(m.queue)
		m.mu.Unlock()
		<-m.done
		err = m.writer.Close()
	})
	return err
}
