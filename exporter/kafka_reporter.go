package exporter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/fllarpy/callprobe/domain/calls"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaReporter publishes call trees as JSON messages keyed by label.
type KafkaReporter struct {
	writer messageWriter
	topic  string
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewKafkaReporter writes asynchronously. Report only fails on encoding
// errors then; broker errors surface through the writer's completion
// callback and are logged to logger.
func NewKafkaReporter(brokers []string, topic string, logger zerolog.Logger) *KafkaReporter {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Async:        true,
		Balancer:     kafka.CRC32Balancer{},
		BatchSize:    100,
		Compression:  kafka.Lz4,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
	r := newKafkaReporter(w, topic)
	r.logger = logger
	w.Completion = r.completed
	return r
}

func newKafkaReporter(w messageWriter, topic string) *KafkaReporter {
	return &KafkaReporter{writer: w, topic: topic, logger: zerolog.Nop()}
}

func (r *KafkaReporter) completed(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	r.logger.Error().Err(err).
		Str("topic", r.topic).
		Int("messages", len(messages)).
		Msg("error writing call trees to kafka")
}

func (r *KafkaReporter) Report(ctx context.Context, record calls.Record) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}

	b, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding call tree: %w", err)
	}
	err = r.writer.WriteMessages(ctx, kafka.Message{
		Topic: r.topic,
		Key:   []byte(record.Label),
		Value: b,
	})
	if err != nil {
		return fmt.Errorf("writing call tree to kafka: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (r *KafkaReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.writer.Close()
}
