package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sheikh-saqib/subscription-payments-ledger/internal/api"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/charges"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/config"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/events/kafka"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/events/local"
	interfaces "github.com/sheikh-saqib/subscription-payments-ledger/internal/interfaces"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/ledger"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/lock"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/logging"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/messaging"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/notify"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/processor"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/scheduler"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/storage/postgres"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/webhook"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/withdrawals"
)

const localQueueSize = 1024

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, consumer, closeTransport, err := openTransport(cfg, logger)
	if err != nil {
		return err
	}
	defer closeTransport()

	locker, closeLocker := openLocker(cfg, logger)
	defer closeLocker()

	if cfg.Processor.WebhookSecret == "" {
		logger.Warn("GGPIX_WEBHOOK_SECRET not set: payment webhooks are accepted unsigned")
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set: account and admin endpoints will refuse every request")
	}

	messenger := messaging.NewTelegram("")
	payments := processor.NewClient(cfg.Processor.BaseURL, cfg.Processor.APIKey, cfg.Server.WebhookURL, logger)
	outbox := notify.NewOutbox(publisher, cfg.Kafka.Topic, logger)
	worker := notify.NewWorker(store, messenger, cfg.Telegram.BotToken, logger)

	handler := api.NewHandler(api.Services{
		Ledger:   ledger.NewLedger(store),
		Charges:  charges.NewIssuer(store, payments, logger),
		Webhooks: webhook.NewReconciler(store, cfg.Fees, webhook.NewVerifier(cfg.Processor.WebhookSecret), outbox, logger),
		Withdrawals: withdrawals.NewService(store, cfg.Fees, payments, outbox, withdrawals.Config{
			Minimum:      cfg.MinWithdrawal,
			AdminGroupID: cfg.Telegram.AdminWithdrawalGroupID,
		}, logger),
	}, logger)

	gin.SetMode(gin.ReleaseMode)
	auth := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.IsAdmin)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(handler, auth, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweeper := scheduler.New(store, messenger, locker, cfg.SchedulerInterval, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		return consumer.Consume(gctx, worker.HandleMessage)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (interfaces.LedgerStore, func(), error) {
	if cfg.Database.URL == "" {
		logger.Warn("DATABASE_URL not set: using the in-memory store, data is lost on restart")
		return memory.NewMemoryLedgerStore(), func() {}, nil
	}
	db, err := postgres.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("connected to postgres")
	return postgres.NewPostgresLedgerStore(db), func() { _ = db.Close() }, nil
}

func openTransport(cfg *config.Config, logger logrus.FieldLogger) (interfaces.EventPublisher, interfaces.EventConsumer, func(), error) {
	if len(cfg.Kafka.Brokers) == 0 {
		logger.Info("KAFKA_BROKERS not set: notifications use an in-process queue")
		q := local.NewQueue(cfg.Kafka.Topic, localQueueSize, logger)
		return q, q, func() {}, nil
	}

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		GroupID: cfg.Kafka.GroupID,
	}, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	publisher := kafka.NewPublisher(cfg.Kafka.Brokers)
	logger.WithField("topic", cfg.Kafka.Topic).Info("notifications use kafka")
	return publisher, consumer, func() {
		if err := publisher.Close(); err != nil {
			logger.WithError(err).Warn("closing kafka publisher")
		}
		if err := consumer.Close(); err != nil {
			logger.WithError(err).Warn("closing kafka consumer")
		}
	}, nil
}

func openLocker(cfg *config.Config, logger logrus.FieldLogger) (lock.Locker, func()) {
	if cfg.Redis.Addr == "" {
		return lock.Noop{}, func() {}
	}
	client := lock.NewRedisClient(lock.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	logger.WithField("addr", cfg.Redis.Addr).Info("scheduler sweeps coordinated through redis")
	return lock.NewRedis(client, "ledger:"), func() { _ = client.Close() }
}
