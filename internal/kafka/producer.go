package kafka

import (
	"context"

	segmentio "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Producer interface {
	SendMessage(ctx context.Context, topic string, key []byte, value []byte) error
	Close() error
}

// WriterProducer publishes through a shared kafka-go writer. Messages are
// keyed by recovery id so all notifications for one recovery land on one
// partition and keep their order.
type WriterProducer struct {
	writer *segmentio.Writer
	logger *zap.Logger
}

func NewWriterProducer(brokers []string, logger *zap.Logger) *WriterProducer {
	return &WriterProducer{
		writer: &segmentio.Writer{
			Addr:         segmentio.TCP(brokers...),
			Balancer:     &segmentio.Hash{},
			RequiredAcks: segmentio.RequireOne,
		},
		logger: logger,
	}
}

func (p *WriterProducer) SendMessage(ctx context.Context, topic string, key []byte, value []byte) error {
	err := p.writer.WriteMessages(ctx, segmentio.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	})
	if err != nil {
		p.logger.Error("failed to write kafka message",
			zap.String("topic", topic),
			zap.ByteString("key", key),
			zap.Error(err))
		return err
	}
	return nil
}

func (p *WriterProducer) Close() error {
	return p.writer.Close()
}
