package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/aussiebroadwan/trackgate/internal/access/domain"
)

// SlogSink writes decisions to a structured logger. Denials are logged at
// info, grants at debug.
type SlogSink struct {
	Logger *slog.Logger
}

func (s SlogSink) Name() string { return "slog" }

func (s SlogSink) Write(ctx context.Context, batch []domain.Decision) error {
	for _, d := range batch {
		level := slog.LevelDebug
		if !d.Allowed() {
			level = slog.LevelInfo
		}
		s.Logger.LogAttrs(ctx, level, "authz_decision",
			slog.String("decision_id", d.ID),
			slog.String("subject_id", d.SubjectID),
			slog.String("resource_id", d.ResourceID),
			slog.String("resource_type", string(d.ResourceType)),
			slog.String("action", string(d.Action)),
			slog.String("role", string(d.Role)),
			slog.String("outcome", string(d.Outcome)),
			slog.String("reason", string(d.Reason)),
		)
	}
	return nil
}

// MessageWriter is the part of *kafka.Writer the Kafka sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes decisions as JSON, keyed by subject so one subject's
// decisions stay ordered within a partition.
type KafkaSink struct {
	w MessageWriter
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return NewKafkaSinkWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           5 * time.Second,
		AllowAutoTopicCreation: true,
	})
}

func NewKafkaSinkWithWriter(w MessageWriter) *KafkaSink {
	return &KafkaSink{w: w}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Write(ctx context.Context, batch []domain.Decision) error {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, d := range batch {
		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("kafka: marshal decision %s: %w", d.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(d.SubjectID),
			Value: data,
			Time:  d.Timestamp,
		})
	}
	if err := k.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka: write %d decisions: %w", len(msgs), err)
	}
	return nil
}

func (k *KafkaSink) Close() error { return k.w.Close() }
