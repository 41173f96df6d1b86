package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/station-data-etl/internal/config"
	"github.com/couchcryptid/station-data-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer publishes processed readings to the sink topic.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch publishes one message per processed reading. Messages are keyed
// by station and instant, so a reprocessed upload overwrites on compacted
// topics and a station's rows stay on one partition.
func (w *Writer) LoadBatch(ctx context.Context, batches []domain.ProcessedBatch) error {
	var msgs []kafkago.Message
	for _, b := range batches {
		for _, r := range b.Readings() {
			msg, err := serializeToMessage(r, b.UploadID, b.ProcessedAt)
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return err
	}
	w.logger.Debug("readings published", "messages", len(msgs), "topic", w.writer.Topic)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// messageKey identifies a reading by station and minute.
func messageKey(r domain.ProcessedReading) []byte {
	return []byte(r.Station + "|" + r.Datetime.UTC().Format(time.RFC3339))
}

// serializeToMessage marshals a ProcessedReading into a Kafka message.
func serializeToMessage(r domain.ProcessedReading, uploadID string, processedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize reading %s: %w", messageKey(r), err)
	}
	return kafkago.Message{
		Key:   messageKey(r),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "station", Value: []byte(r.Station)},
			{Key: "upload_id", Value: []byte(uploadID)},
			{Key: "processed_at", Value: []byte(processedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
