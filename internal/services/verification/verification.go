// Package verification реализует синхронную проверку платежа по запросу
// checkout-потока. Путь независим от webhook: перед тем как доверять
// локальному состоянию, статус платежа запрашивается у провайдера живьем
// (защита от задержки или потери webhook-доставки).
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/payment-pipeline/internal/lib/sl"
	"github.com/magabrotheeeer/payment-pipeline/internal/models"
	"github.com/magabrotheeeer/payment-pipeline/internal/paymentprovider"
)

// Provider живой источник статуса платежа.
type Provider interface {
	GetPayment(ctx context.Context, paymentID string) (*paymentprovider.Payment, error)
}

// Ledger методы хранилища, нужные верификации.
type Ledger interface {
	FindOrderByOrderID(ctx context.Context, orderID string) (*models.Order, error)
	MarkOrderSuccess(ctx context.Context, orderID, paymentID string) (bool, error)
}

// SubscriptionCreator процедура создания подписки диспетчера,
// общая для webhook-пути и верификации.
type SubscriptionCreator interface {
	ApplyCapturedPayment(ctx context.Context, order *models.Order) (string, bool, error)
}

// Cache краткоживущий кеш статусов платежей провайдера.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
}

// Result ответ верификации.
type Result struct {
	Verified        bool
	SubscriptionUID string
}

// Service сервис синхронной верификации платежа.
type Service struct {
	provider Provider
	ledger   Ledger
	creator  SubscriptionCreator
	cache    Cache
	log      *slog.Logger
}

// New создает сервис верификации.
func New(provider Provider, ledger Ledger, creator SubscriptionCreator, cache Cache, log *slog.Logger) *Service {
	return &Service{
		provider: provider,
		ledger:   ledger,
		creator:  creator,
		cache:    cache,
		log:      log,
	}
}

// Verify проверяет платеж у провайдера и при захваченном платеже
// приводит локальный заказ и подписку в согласованное состояние.
// Повторный вызов для уже обработанного платежа возвращает существующую
// подписку без побочных эффектов.
func (s *Service) Verify(ctx context.Context, paymentID, orderID string) (*Result, error) {
	const op = "verification.Verify"

	status, err := s.paymentStatus(ctx, paymentID)
	if err != nil {
		if errors.Is(err, paymentprovider.ErrPaymentNotFound) {
			s.log.Info("payment not found at provider", slog.String("payment_id", paymentID))
			return &Result{Verified: false}, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if status != paymentprovider.StatusCaptured {
		s.log.Info("payment is not captured yet",
			slog.String("payment_id", paymentID),
			slog.String("status", status))
		return &Result{Verified: false}, nil
	}

	order, err := s.ledger.FindOrderByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if order.Status != models.OrderStatusSuccess {
		updated, err := s.ledger.MarkOrderSuccess(ctx, order.OrderID, paymentID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if !updated {
			// Статус не перешел в success: заказ уже терминален. Если это
			// failed (захват пришел после отказа), подписка не создается.
			order, err = s.ledger.FindOrderByOrderID(ctx, order.OrderID)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			if order.Status != models.OrderStatusSuccess {
				s.log.Warn("payment captured but order is in terminal status",
					slog.String("order_id", order.OrderID),
					slog.String("status", order.Status))
				return &Result{Verified: false}, nil
			}
		}
	}

	subscriptionUID, created, err := s.creator.ApplyCapturedPayment(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if created {
		s.log.Info("subscription created by verification path",
			slog.String("order_id", orderID),
			slog.String("subscription_uid", subscriptionUID))
	}
	return &Result{Verified: true, SubscriptionUID: subscriptionUID}, nil
}

// paymentStatus возвращает статус платежа, используя краткоживущий кеш,
// чтобы не ходить к провайдеру на каждый повтор запроса checkout-потока.
func (s *Service) paymentStatus(ctx context.Context, paymentID string) (string, error) {
	cacheKey := "payment_status:" + paymentID

	var cached string
	if s.cache != nil {
		found, err := s.cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			s.log.Warn("failed to read payment status cache", sl.Err(err))
		}
		if found && cached == paymentprovider.StatusCaptured {
			return cached, nil
		}
	}

	payment, err := s.provider.GetPayment(ctx, paymentID)
	if err != nil {
		return "", err
	}

	if s.cache != nil && payment.Status == paymentprovider.StatusCaptured {
		if err := s.cache.Set(ctx, cacheKey, payment.Status, time.Minute); err != nil {
			s.log.Warn("failed to cache payment status", sl.Err(err))
		}
	}
	return payment.Status, nil
}
