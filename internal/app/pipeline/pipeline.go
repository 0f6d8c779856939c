// Package pipeline собирает HTTP-сервис конвейера платежных событий:
// хранилище, кеш, брокер сообщений, метрики, сервисы и маршруты.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/payment-pipeline/internal/analytics"
	"github.com/magabrotheeeer/payment-pipeline/internal/cache"
	"github.com/magabrotheeeer/payment-pipeline/internal/config"
	"github.com/magabrotheeeer/payment-pipeline/internal/lib/jwt"
	"github.com/magabrotheeeer/payment-pipeline/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/payment-pipeline/internal/metrics"
	"github.com/magabrotheeeer/payment-pipeline/internal/migrations"
	"github.com/magabrotheeeer/payment-pipeline/internal/notify"
	"github.com/magabrotheeeer/payment-pipeline/internal/paymentprovider"
	dispatcherservice "github.com/magabrotheeeer/payment-pipeline/internal/services/dispatcher"
	sweeperservice "github.com/magabrotheeeer/payment-pipeline/internal/services/sweeper"
	verificationservice "github.com/magabrotheeeer/payment-pipeline/internal/services/verification"
	"github.com/magabrotheeeer/payment-pipeline/internal/storage/repository"
)

// App приложение конвейера.
type App struct {
	server *http.Server
	logger *slog.Logger
	db     *repository.Storage
	conn   *amqp.Connection
	ch     *amqp.Channel
}

// New создает приложение: подключает зависимости и регистрирует маршруты.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetPipelineQueues())
	if err != nil {
		closeResources(nil, conn, logger)
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	gateway := notify.NewAMQPGateway(ch)
	sink := analytics.NewAMQPSink(ch)

	dispatcherService := dispatcherservice.New(db, gateway, sink, dispatcherservice.Options{
		RenewOnRecurringCharge: cfg.RenewOnRecurringCharge,
		RevokeOnRefund:         cfg.RevokeOnRefund,
		PublishTimeout:         cfg.PublishTimeout,
	}, logger)

	providerClient := paymentprovider.NewClient(
		cfg.ProviderAPIURL, cfg.ProviderShopID, cfg.ProviderSecretKey, cfg.ProviderTimeout)
	verificationService := verificationservice.New(
		providerClient, db, dispatcherService, cacheRedis, logger)

	sweeperService := sweeperservice.New(db, cacheRedis, gateway, m, sweeperservice.Options{
		Interval:       cfg.SweepInterval,
		WarnWindow:     cfg.WarnWindow,
		BatchSize:      cfg.BatchSize,
		LockTTL:        cfg.LockTTL,
		StaleClaimAge:  cfg.StaleClaimAge,
		StaleClaimsMax: cfg.StaleClaimsMax,
		PublishTimeout: cfg.PublishTimeout,
	}, logger)

	tokenMaker := jwt.NewMaker(cfg.TokenSecretKey, cfg.TokenTTL)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, db, m, registry, tokenMaker, cfg.WebhookSecret,
		dispatcherService, verificationService, sweeperService)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		db:     db,
		conn:   conn,
		ch:     ch,
	}, nil
}

// Run запускает HTTP-сервер и корректно завершает его по отмене контекста.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		closeResources(a.ch, a.conn, a.logger)
		if closeErr := a.db.DB.Close(); closeErr != nil {
			a.logger.Error("failed to close storage", slog.Any("err", closeErr))
		}
		return err
	}
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
