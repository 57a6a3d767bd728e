package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mahaj/dupahar-support/pkg/model"
)

// KafkaPublisher writes events keyed by channel id, so all events of one
// channel land on one partition in publish order.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		logger: logger,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, channelID string, ev model.Event) error {
	msg, err := kafkaMessage(channelID, ev)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("bus: kafka write: %w", err)
	}
	p.logger.Debug("event published", "backend", BackendKafka, "channel_id", channelID, "type", ev.Type)
	return nil
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

func kafkaMessage(channelID string, ev model.Event) (kafka.Message, error) {
	payload, err := encode(channelID, ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{Key: []byte(channelID), Value: payload, Time: ev.Timestamp}, nil
}

// KafkaSubscriber reads the event topic from the newest offset.
type KafkaSubscriber struct {
	reader *kafka.Reader
	logger *slog.Logger
}

func NewKafkaSubscriber(brokers []string, topic, groupID string, logger *slog.Logger) *KafkaSubscriber {
	return &KafkaSubscriber{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			Topic:       topic,
			GroupID:     groupID,
			StartOffset: kafka.LastOffset,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     250 * time.Millisecond,
		}),
		logger: logger,
	}
}

// Run reads until ctx is cancelled. Read errors are retried after a second;
// undecodable messages are skipped.
func (s *KafkaSubscriber) Run(ctx context.Context, h Handler) error {
	defer s.reader.Close()
	for {
		m, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			s.logger.Warn("kafka read failed, retrying", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		ev, err := decode(m.Value)
		if err != nil {
			s.logger.Warn("skipping kafka message", "partition", m.Partition, "offset", m.Offset, "error", err)
			continue
		}
		h(ctx, ev)
	}
}
