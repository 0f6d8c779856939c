// Package sweeper собирает приложение планового обходчика подписок.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/payment-pipeline/internal/cache"
	"github.com/magabrotheeeer/payment-pipeline/internal/config"
	"github.com/magabrotheeeer/payment-pipeline/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/payment-pipeline/internal/metrics"
	"github.com/magabrotheeeer/payment-pipeline/internal/notify"
	sweeperservice "github.com/magabrotheeeer/payment-pipeline/internal/services/sweeper"
	"github.com/magabrotheeeer/payment-pipeline/internal/storage/repository"
)

// App приложение обходчика.
type App struct {
	sweeperService *sweeperservice.Service
	conn           *amqp.Connection
	ch             *amqp.Channel
	db             *repository.Storage
	logger         *slog.Logger
}

func waitForDB(db *repository.Storage) error {
	for range 10 {
		err := repository.CheckDatabaseReady(db)
		if err == nil {
			return nil
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("database not ready after retries")
}

// New создает приложение обходчика.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}

	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetPipelineQueues())
	if err != nil {
		closeResources(nil, conn, logger)
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}

	if err := waitForDB(db); err != nil {
		closeResources(ch, conn, logger)
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}

	m := metrics.New(prometheus.NewRegistry())
	gateway := notify.NewAMQPGateway(ch)

	sweeperService := sweeperservice.New(db, cacheRedis, gateway, m, sweeperservice.Options{
		Interval:       cfg.SweepInterval,
		WarnWindow:     cfg.WarnWindow,
		BatchSize:      cfg.BatchSize,
		LockTTL:        cfg.LockTTL,
		StaleClaimAge:  cfg.StaleClaimAge,
		StaleClaimsMax: cfg.StaleClaimsMax,
		PublishTimeout: cfg.PublishTimeout,
	}, logger)

	return &App{
		sweeperService: sweeperService,
		conn:           conn,
		ch:             ch,
		db:             db,
		logger:         logger,
	}, nil
}

func closeResources(ch *amqp.Channel, conn *amqp.Connection, logger *slog.Logger) {
	if ch != nil {
		if err := ch.Close(); err != nil {
			logger.Error("failed to close channel", "error", err)
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close connection", "error", err)
		}
	}
}

// Run запускает плановый обход и завершает его по отмене контекста.
func (a *App) Run(ctx context.Context) error {
	go a.sweeperService.Run(ctx)

	<-ctx.Done()

	a.logger.Info("shutting down sweeper service")

	closeResources(a.ch, a.conn, a.logger)
	if err := a.db.DB.Close(); err != nil {
		a.logger.Error("failed to close storage", slog.Any("err", err))
	}
	return nil
}
