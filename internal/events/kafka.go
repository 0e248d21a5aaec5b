package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"wtbooking/internal/config"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink forwards every bus event to a Kafka topic, keyed by booking or
// unit id so one entity's events stay ordered within a partition.
type KafkaSink struct {
	writer  messageWriter
	logger  *zerolog.Logger
	timeout time.Duration
	mu      sync.RWMutex
	closed  bool
}

func NewKafkaSink(cfg config.KafkaConfig, logger *zerolog.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		Logger:       kafka.LoggerFunc(func(string, ...any) {}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Error().Msgf("kafka: "+msg, args...)
		}),
	}
	return newKafkaSink(writer, logger), nil
}

func newKafkaSink(w messageWriter, logger *zerolog.Logger) *KafkaSink {
	return &KafkaSink{writer: w, logger: logger, timeout: 5 * time.Second}
}

// Attach subscribes the sink to every event on the bus.
func (s *KafkaSink) Attach(bus *EventBus) {
	bus.Subscribe(AllEvents, s.Handle)
}

func (s *KafkaSink) Handle(event *Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   messageKey(event),
		Value: event.Payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s to kafka: %w", event.Type, err)
	}
	return nil
}

// messageKey picks the entity id out of the payload; events without one are
// spread by the balancer.
func messageKey(event *Event) []byte {
	var ids struct {
		BookingID string `json:"booking_id"`
		UnitID    string `json:"unit_id"`
	}
	if err := json.Unmarshal(event.Payload, &ids); err != nil {
		return nil
	}
	if ids.BookingID != "" {
		return []byte(ids.BookingID)
	}
	if ids.UnitID != "" {
		return []byte(ids.UnitID)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.writer.Close()
}
