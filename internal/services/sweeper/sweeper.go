// Package sweeper реализует плановый обход леджера: завершение подписок
// с истекшей датой, рассылку предупреждений о скором истечении и
// отчет о зависших захватах дедупликации и расхождениях премиум-доступа.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/payment-pipeline/internal/lib/sl"
	"github.com/magabrotheeeer/payment-pipeline/internal/metrics"
	"github.com/magabrotheeeer/payment-pipeline/internal/models"
	"github.com/magabrotheeeer/payment-pipeline/internal/notify"
)

// Ledger методы хранилища, которыми пользуется обходчик.
type Ledger interface {
	ExpireDueSubscriptions(ctx context.Context, now time.Time, batchSize int) (int, error)
	FindSubscriptionsToWarn(ctx context.Context, now time.Time, window time.Duration, limit int) ([]*models.Subscription, error)
	MarkWarned(ctx context.Context, subscriptionUID string, day time.Time) (bool, error)
	ListStaleClaims(ctx context.Context, olderThan time.Time, limit int) ([]*models.ProcessedEvent, error)
	CountEntitlementInconsistencies(ctx context.Context, now time.Time) (int, error)
}

// Locker распределенная блокировка: в каждый момент идет не более
// одного обхода, даже при нескольких экземплярах сервиса.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Options настройки обходчика.
type Options struct {
	Interval       time.Duration // период запуска
	WarnWindow     time.Duration // окно предупреждения об истечении
	BatchSize      int           // размер порции строк
	LockTTL        time.Duration // TTL распределенной блокировки
	StaleClaimAge  time.Duration // возраст захвата, после которого он считается зависшим
	StaleClaimsMax int
	PublishTimeout time.Duration
}

// Summary итоги одного обхода.
type Summary struct {
	Expired         int `json:"expired"`
	Warned          int `json:"warned"`
	StaleClaims     int `json:"stale_claims"`
	Inconsistencies int `json:"inconsistencies"`
}

const lockKey = "sweep:lock"

// Service плановый обходчик подписок.
type Service struct {
	ledger  Ledger
	locker  Locker
	gateway notify.Gateway
	metrics *metrics.Metrics
	opts    Options
	log     *slog.Logger
}

// New создает обходчик.
func New(ledger Ledger, locker Locker, gateway notify.Gateway, m *metrics.Metrics, opts Options, log *slog.Logger) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.WarnWindow <= 0 {
		opts.WarnWindow = 7 * 24 * time.Hour
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	if opts.StaleClaimsMax <= 0 {
		opts.StaleClaimsMax = 100
	}
	return &Service{
		ledger:  ledger,
		locker:  locker,
		gateway: gateway,
		metrics: m,
		opts:    opts,
		log:     log,
	}
}

// Sweep выполняет один обход леджера. Повторный запуск сразу после
// успешного обхода без новых данных ничего не меняет: завершение и
// предупреждения идемпотентны на уровне хранилища.
func (s *Service) Sweep(ctx context.Context, now time.Time) (Summary, error) {
	const op = "sweeper.Sweep"
	var summary Summary

	expired, err := s.ledger.ExpireDueSubscriptions(ctx, now, s.opts.BatchSize)
	summary.Expired = expired
	if err != nil {
		return summary, fmt.Errorf("%s: %w", op, err)
	}
	s.metrics.SweepExpired.Add(float64(expired))

	warned, err := s.warnExpiring(ctx, now)
	summary.Warned = warned
	if err != nil {
		return summary, fmt.Errorf("%s: %w", op, err)
	}
	s.metrics.SweepWarned.Add(float64(warned))

	summary.StaleClaims = s.reportStaleClaims(ctx, now)
	summary.Inconsistencies = s.reportInconsistencies(ctx, now)

	s.log.Info("sweep finished",
		slog.Int("expired", summary.Expired),
		slog.Int("warned", summary.Warned),
		slog.Int("stale_claims", summary.StaleClaims),
		slog.Int("inconsistencies", summary.Inconsistencies))
	return summary, nil
}

// warnExpiring обходит подписки в окне предупреждения порциями.
// MarkWarned фиксирует дату в леджере до публикации уведомления, поэтому
// повтор в тот же день не дает дубликатов даже после падения между ними:
// потерянное уведомление доберет следующий день, двойное — невозможно.
func (s *Service) warnExpiring(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for {
		subs, err := s.ledger.FindSubscriptionsToWarn(ctx, now, s.opts.WarnWindow, s.opts.BatchSize)
		if err != nil {
			return total, err
		}
		if len(subs) == 0 {
			return total, nil
		}

		for _, sub := range subs {
			marked, err := s.ledger.MarkWarned(ctx, sub.SubscriptionUID, now)
			if err != nil {
				return total, err
			}
			if !marked {
				continue
			}
			total++
			s.notifyWarning(sub)
		}

		if len(subs) < s.opts.BatchSize {
			return total, nil
		}
	}
}

func (s *Service) notifyWarning(sub *models.Subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.PublishTimeout)
	defer cancel()

	err := s.gateway.Notify(ctx, sub.UserUID, notify.KindSubscriptionWarning, map[string]any{
		"subscription_uid": sub.SubscriptionUID,
		"plan_type":        sub.PlanType,
		"end_date":         sub.EndDate.Format(time.RFC3339),
	})
	if err != nil {
		s.log.Warn("failed to publish warning notification",
			slog.String("subscription_uid", sub.SubscriptionUID), sl.Err(err))
	}
}

// reportStaleClaims сообщает о событиях, захваченных, но не завершенных:
// признак падения между захватом и обработкой, требует оператора.
func (s *Service) reportStaleClaims(ctx context.Context, now time.Time) int {
	claims, err := s.ledger.ListStaleClaims(ctx, now.Add(-s.opts.StaleClaimAge), s.opts.StaleClaimsMax)
	if err != nil {
		s.log.Error("failed to list stale claims", sl.Err(err))
		return 0
	}
	for _, claim := range claims {
		s.log.Error("stale dedup claim: event claimed but never completed",
			slog.String("event_key", claim.EventKey),
			slog.String("event_type", claim.EventType),
			slog.Time("claimed_at", claim.ClaimedAt))
	}
	s.metrics.StaleClaims.Set(float64(len(claims)))
	return len(claims)
}

// reportInconsistencies проверяет инвариант премиум-доступа. Ненулевое
// значение — самый опасный режим отказа (частично примененная операция),
// он никогда не проглатывается молча.
func (s *Service) reportInconsistencies(ctx context.Context, now time.Time) int {
	count, err := s.ledger.CountEntitlementInconsistencies(ctx, now)
	if err != nil {
		s.log.Error("failed to count entitlement inconsistencies", sl.Err(err))
		return 0
	}
	if count > 0 {
		s.log.Error("entitlement inconsistency detected: premium flag disagrees with subscriptions",
			slog.Int("count", count))
	}
	s.metrics.EntitlementInconsistency.Set(float64(count))
	return count
}

// Run запускает периодический обход. Каждый запуск берет распределенную
// блокировку: если обход уже идет в другом экземпляре, запуск пропускается.
func (s *Service) Run(ctx context.Context) {
	s.runLocked(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runLocked(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) runLocked(ctx context.Context) {
	acquired, err := s.locker.TryLock(ctx, lockKey, s.opts.LockTTL)
	if err != nil {
		s.log.Error("failed to acquire sweep lock", sl.Err(err))
		return
	}
	if !acquired {
		s.log.Info("sweep already in flight, skipping run")
		return
	}
	defer func() {
		if err := s.locker.Unlock(ctx, lockKey); err != nil {
			s.log.Warn("failed to release sweep lock", sl.Err(err))
		}
	}()

	if _, err := s.Sweep(ctx, time.Now().UTC()); err != nil {
		s.log.Error("sweep failed", sl.Err(err))
	}
}
