package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	segmentio "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/discbound/recovery/internal/logger"
	"github.com/discbound/recovery/internal/repository"
	"github.com/discbound/recovery/internal/storage"
)

// Reads the change feed and prints which recoveries moved. Clients consume
// the same payload to know when to re-fetch a projection.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log := logger.New()
	defer func() {
		_ = log.Sync()
	}()

	brokers := "localhost:9092"
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = v
	}

	reader := segmentio.NewReader(segmentio.ReaderConfig{
		Brokers:        strings.Split(brokers, ","),
		GroupID:        "recovery-change-consumer-group",
		Topic:          storage.ChangeTopic,
		MinBytes:       10e3,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        3 * time.Second,
	})
	defer func() {
		if err := reader.Close(); err != nil {
			log.Error("failed to close kafka reader", zap.Error(err))
		}
	}()

	log.Info("change feed consumer connected",
		zap.String("topic", storage.ChangeTopic),
		zap.String("brokers", brokers))

	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("shutdown signal received, stopping consumer")
				return
			}
			log.Error("failed to read message", zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}

		var changed repository.RecoveryChanged
		if err := json.Unmarshal(m.Value, &changed); err != nil {
			log.Warn("skipping malformed change payload",
				zap.Int64("offset", m.Offset),
				zap.Error(err))
			continue
		}

		log.Info("recovery changed",
			zap.String("recovery_event_id", changed.RecoveryEventID.String()),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Time("at", m.Time))
	}
}
