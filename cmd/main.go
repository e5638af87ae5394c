package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/discbound/recovery/internal/cache"
	"github.com/discbound/recovery/internal/db"
	"github.com/discbound/recovery/internal/kafka"
	"github.com/discbound/recovery/internal/logger"
	"github.com/discbound/recovery/internal/payment"
	"github.com/discbound/recovery/internal/repository/postgresql"
	"github.com/discbound/recovery/internal/server"
	"github.com/discbound/recovery/internal/storage"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log := logger.New()
	defer func() {
		_ = log.Sync()
	}()

	database, err := db.NewDb(ctx)
	if err != nil {
		log.Fatal("database init failed", zap.Error(err))
	}
	defer database.GetPool().Close()

	eventRepo := postgresql.NewRecoveryEventRepo(database)
	proposalRepo := postgresql.NewMeetupProposalRepo(database)
	dropOffRepo := postgresql.NewDropOffRepo(database)
	discRepo := postgresql.NewDiscRepo(database)
	userRepo := postgresql.NewUserRepo(database)
	historyRepo := postgresql.NewHistoryRepo(database)
	paymentRepo := postgresql.NewPaymentRepo(database)
	outboxRepo := postgresql.NewOutboxTaskRepo()

	eventCache := cache.NewRecoveryCache(eventRepo)
	if err := eventCache.LoadInitialData(ctx); err != nil {
		log.Warn("recovery cache warmup failed, starting cold", zap.Error(err))
	}

	provider := payment.NewHTTPProvider(
		envOr("PAYMENT_PROVIDER_URL", "http://localhost:9400"),
		os.Getenv("PAYMENT_PROVIDER_KEY"),
		log,
	)

	brokers := strings.Split(envOr("KAFKA_BROKERS", "localhost:9092"), ",")
	producer := kafka.NewWriterProducer(brokers, log)

	stg := storage.NewPostgresStorage(
		database,
		eventRepo, proposalRepo, dropOffRepo, discRepo, userRepo,
		historyRepo, paymentRepo, outboxRepo,
		provider, eventCache, log,
	)

	srv := server.New(stg, userRepo, producer, os.Getenv("PAYMENT_WEBHOOK_SECRET"), log)

	publisher := kafka.NewPublisher(database, outboxRepo, producer, kafka.PublisherConfig{
		PollInterval: 500 * time.Millisecond,
		BatchSize:    50,
		MaxAttempts:  5,
	}, log)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gCtx, envOr("SERVER_PORT", "9000"))
	})
	g.Go(func() error {
		publisher.Run(gCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatal("service exited", zap.Error(err))
	}
	log.Info("service stopped")
}
