package netsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ellanlabs/ecobridge/pkg/metrics"
)

// KafkaBackend publishes and subscribes over a kafka topic. The channel
// argument on Publish/Subscribe is ignored; the topic is fixed at
// construction.
type KafkaBackend struct {
	logger *zap.Logger
	writer *kafka.Writer
	reader *kafka.Reader
}

// NewKafkaBackend builds a writer/reader pair against the brokers. Each
// server gets its own consumer group so every instance sees every trade.
func NewKafkaBackend(brokers []string, topic, groupID string, logger *zap.Logger) *KafkaBackend {
	return &KafkaBackend{
		logger: logger.With(zap.String("component", "kafka_sync")),
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		}),
	}
}

// Publish marshals msg and writes it to the topic.
func (k *KafkaBackend) Publish(ctx context.Context, channel string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal sync message: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Value: data})
}

// Subscribe consumes the topic until ctx is cancelled. Read errors back
// off briefly; the reader rejoins its group on its own.
func (k *KafkaBackend) Subscribe(ctx context.Context, channel string, handler func([]byte)) error {
	go func() {
		for {
			m, err := k.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, io.EOF) {
					return
				}
				metrics.SyncReconnects.Inc()
				k.logger.Warn("Kafka read failed, retrying", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(reconnectStep):
				}
				continue
			}
			handler(m.Value)
		}
	}()
	return nil
}

// Close releases the writer and reader.
func (k *KafkaBackend) Close() error {
	werr := k.writer.Close()
	rerr := k.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
