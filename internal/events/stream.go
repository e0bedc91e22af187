package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-bidding/internal/models"
)

// StreamProducer appends every engine event to the ride-events kafka topic,
// keyed by ride ID so one ride's events stay ordered within a partition.
// Consumers (the feed indexer, analytics) replay from here.
type StreamProducer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewStreamProducer(brokers []string, topic string, logger *slog.Logger) *StreamProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &StreamProducer{writer: w, logger: logger}
}

func (s *StreamProducer) Publish(ev models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("stream marshal failed", "error", err)
		return
	}
	if err := s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.RideID), Value: b}); err != nil {
		s.logger.Warn("stream publish failed", "ride_id", ev.RideID, "kind", ev.Kind, "error", err)
	}
}

func (s *StreamProducer) Close() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
