// Package pipeline предоставляет маршруты для основного приложения.
package pipeline

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/payment-pipeline/internal/http/handlers/health"
	"github.com/magabrotheeeer/payment-pipeline/internal/http/handlers/ordercreate"
	"github.com/magabrotheeeer/payment-pipeline/internal/http/handlers/sweep"
	"github.com/magabrotheeeer/payment-pipeline/internal/http/handlers/verify"
	"github.com/magabrotheeeer/payment-pipeline/internal/http/handlers/webhook"
	"github.com/magabrotheeeer/payment-pipeline/internal/http/middlewarectx"
	"github.com/magabrotheeeer/payment-pipeline/internal/lib/jwt"
	"github.com/magabrotheeeer/payment-pipeline/internal/metrics"
	dispatcherservice "github.com/magabrotheeeer/payment-pipeline/internal/services/dispatcher"
	sweeperservice "github.com/magabrotheeeer/payment-pipeline/internal/services/sweeper"
	verificationservice "github.com/magabrotheeeer/payment-pipeline/internal/services/verification"
	"github.com/magabrotheeeer/payment-pipeline/internal/storage/repository"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, db *repository.Storage,
	m *metrics.Metrics, registry *prometheus.Registry, tokenMaker jwt.Maker, webhookSecret string,
	dispatcherService *dispatcherservice.Dispatcher,
	verificationService *verificationservice.Service,
	sweeperService *sweeperservice.Service) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	limiter := rate.NewLimiter(10, 30)

	r.Route("/api/v1", func(r chi.Router) {
		// Webhook провайдера: аутентификация подписью тела, без токена
		// и без ограничения частоты — повторы должны доходить всегда.
		r.Post("/payments/webhook",
			webhook.New(logger, db, dispatcherService, m, webhookSecret).ServeHTTP)

		// Внутренние конечные точки под сервисным токеном
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.ServiceTokenMiddleware(tokenMaker, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger, limiter))
			r.Post("/payments/verify", verify.New(logger, verificationService).ServeHTTP)
			r.Post("/orders", ordercreate.New(logger, db).ServeHTTP)
			r.Post("/sweep", sweep.New(logger, sweeperService).ServeHTTP)
		})

		r.Get("/health", health.New(db.DB).ServeHTTP)
	})

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
