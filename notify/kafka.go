package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned while the breaker rejects sends.
var ErrCircuitOpen = gobreaker.ErrOpenState

// MessageWriter is the part of *kafka.Writer used by KafkaSender.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the Kafka writer and its circuit breaker.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration

	BreakerTimeout      time.Duration
	BreakerMinRequests  uint32
	BreakerFailureRatio float64
}

// NewKafkaWriter builds a synchronous writer that waits for all replicas.
func NewKafkaWriter(cfg KafkaConfig) *kafka.Writer {
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
	}
}

// KafkaSender publishes messages to a topic consumed by the delivery service.
type KafkaSender struct {
	writer  MessageWriter
	topic   string
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger
}

// NewKafkaSender wraps writer with a circuit breaker that opens once the
// failure ratio over at least BreakerMinRequests sends reaches
// BreakerFailureRatio.
func NewKafkaSender(writer MessageWriter, cfg KafkaConfig, logger *slog.Logger) *KafkaSender {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.BreakerMinRequests == 0 {
		cfg.BreakerMinRequests = 5
	}
	if cfg.BreakerFailureRatio <= 0 {
		cfg.BreakerFailureRatio = 0.5
	}

	settings := gobreaker.Settings{
		Name:        "notify-kafka",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.BreakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}

	return &KafkaSender{
		writer:  writer,
		topic:   cfg.Topic,
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
		logger:  logger,
	}
}

// Send publishes msg keyed by address so messages for one recipient stay
// ordered.
func (s *KafkaSender) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	km := kafka.Message{
		Topic: s.topic,
		Key:   []byte(msg.Address),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(msg.Kind)},
			{Key: "message_id", Value: []byte(msg.ID)},
		},
	}

	_, err = s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.writer.WriteMessages(ctx, km)
	})
	if err != nil {
		return fmt.Errorf("publish notification to %s: %w", s.topic, err)
	}

	s.logger.DebugContext(ctx, "notification published",
		slog.String("topic", s.topic),
		slog.String("kind", string(msg.Kind)),
		slog.String("message_id", msg.ID),
	)
	return nil
}

// State reports the breaker state.
func (s *KafkaSender) State() gobreaker.State { return s.breaker.State() }

// Close flushes and closes the writer.
func (s *KafkaSender) Close() error { return s.writer.Close() }
