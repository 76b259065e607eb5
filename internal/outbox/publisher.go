package outbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/lazypower/rekindle/internal/store"
)

// Publisher hands one outbox entry to its downstream consumer.
type Publisher interface {
	Publish(ctx context.Context, e store.OutboxEntry) error
}

// LogPublisher writes entries to the log. Used when no broker is configured.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, e store.OutboxEntry) error {
	p.log.Info().
		Str("id", e.ID).
		Str("op", e.Op).
		Str("user_id", e.AggregateID).
		RawJSON("payload", e.Payload).
		Msg("outbox entry published")
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes entries to a topic, keyed by user so one user's
// effects stay ordered on a partition.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string, timeout time.Duration) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher: no brokers")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("kafka publisher: empty topic")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		WriteTimeout:           timeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: false,
	}}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, e store.OutboxEntry) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.AggregateID),
		Value: e.Payload,
		Headers: []kafka.Header{
			{Key: "op", Value: []byte(e.Op)},
			{Key: "outbox_id", Value: []byte(e.ID)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", e.Op, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
