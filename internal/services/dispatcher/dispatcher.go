// Package dispatcher реализует маршрутизацию проверенных и
// дедуплицированных платежных событий к обработчикам и процедуру
// создания подписки. Соответствие тип события -> обработчик задано
// явной таблицей, собираемой в конструкторе.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/payment-pipeline/internal/analytics"
	"github.com/magabrotheeeer/payment-pipeline/internal/lib/sl"
	"github.com/magabrotheeeer/payment-pipeline/internal/models"
	"github.com/magabrotheeeer/payment-pipeline/internal/notify"
	"github.com/magabrotheeeer/payment-pipeline/internal/storage/repository"
)

// Result итог обработки события.
type Result int

const (
	// ResultApplied событие изменило состояние леджера.
	ResultApplied Result = iota
	// ResultAlreadyApplied событие уже было применено ранее, изменений нет.
	ResultAlreadyApplied
	// ResultIgnored событие распознано, но состояние не меняет
	// (неизвестный тип, отсутствующий заказ).
	ResultIgnored
)

// String возвращает краткий итог для записи дедупликации.
func (r Result) String() string {
	switch r {
	case ResultApplied:
		return "applied"
	case ResultAlreadyApplied:
		return "already_applied"
	default:
		return "ignored"
	}
}

// Ledger методы хранилища, которыми пользуется диспетчер. Хранилище —
// единственный писатель заказов, подписок и премиум-доступа.
type Ledger interface {
	FindOrderByOrderID(ctx context.Context, orderID string) (*models.Order, error)
	FindOrderByPaymentID(ctx context.Context, paymentID string) (*models.Order, error)
	MarkOrderSuccess(ctx context.Context, orderID, paymentID string) (bool, error)
	MarkOrderFailed(ctx context.Context, orderID, paymentID string) (bool, error)
	CreateSubscription(ctx context.Context, params repository.CreateSubscriptionParams) (string, bool, error)
	ExtendSubscription(ctx context.Context, orderID string, days int) (string, error)
	ExpireSubscriptionByOrder(ctx context.Context, orderID string) (bool, error)
	InsertDomainEvent(ctx context.Context, eventType string, eventData map[string]any, userUID *string) error
}

// Options бизнес-переключатели диспетчера.
type Options struct {
	// RenewOnRecurringCharge продлевать подписку при subscription.charged.
	RenewOnRecurringCharge bool
	// RevokeOnRefund отзывать подписку при refund.created. По умолчанию
	// возврат только журналируется: отзыв доступа — отдельное явное
	// действие администратора.
	RevokeOnRefund bool
	// PublishTimeout ограничивает вызовы шлюза уведомлений и аналитики.
	PublishTimeout time.Duration
}

type handlerFunc func(ctx context.Context, event *models.PaymentEvent) (Result, error)

// Dispatcher маршрутизирует события по таблице обработчиков.
type Dispatcher struct {
	ledger   Ledger
	gateway  notify.Gateway
	sink     analytics.Sink
	opts     Options
	log      *slog.Logger
	handlers map[models.EventType]handlerFunc
	now      func() time.Time
}

// New создает диспетчер и собирает таблицу обработчиков.
func New(ledger Ledger, gateway notify.Gateway, sink analytics.Sink, opts Options, log *slog.Logger) *Dispatcher {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	d := &Dispatcher{
		ledger:  ledger,
		gateway: gateway,
		sink:    sink,
		opts:    opts,
		log:     log,
		now:     time.Now,
	}
	d.handlers = map[models.EventType]handlerFunc{
		models.EventPaymentCaptured:     d.handleCaptured,
		models.EventPaymentFailed:       d.handleFailed,
		models.EventRefundCreated:       d.handleRefund,
		models.EventSubscriptionCharged: d.handleCharged,
	}
	return d
}

// Dispatch направляет событие в обработчик по его типу. Неизвестный тип
// не является ошибкой: он журналируется и подтверждается, чтобы не
// провоцировать шторм повторных доставок от провайдера.
func (d *Dispatcher) Dispatch(ctx context.Context, event *models.PaymentEvent) (Result, error) {
	handler, ok := d.handlers[event.Type]
	if !ok {
		d.log.Info("ignored unrecognized event",
			slog.String("event_type", event.RawType),
			slog.String("payment_id", event.PaymentID))
		return ResultIgnored, nil
	}
	return handler(ctx, event)
}

// findOrder ищет заказ по вложенному order_id либо по payment_id.
func (d *Dispatcher) findOrder(ctx context.Context, event *models.PaymentEvent) (*models.Order, error) {
	if event.OrderID != "" {
		return d.ledger.FindOrderByOrderID(ctx, event.OrderID)
	}
	return d.ledger.FindOrderByPaymentID(ctx, event.PaymentID)
}

func (d *Dispatcher) handleCaptured(ctx context.Context, event *models.PaymentEvent) (Result, error) {
	const op = "dispatcher.handleCaptured"

	order, err := d.findOrder(ctx, event)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			d.log.Warn("captured payment for unknown order",
				slog.String("payment_id", event.PaymentID),
				slog.String("order_id", event.OrderID))
			return ResultIgnored, nil
		}
		return ResultIgnored, fmt.Errorf("%s: %w", op, err)
	}

	alreadySuccess := order.Status == models.OrderStatusSuccess
	if !alreadySuccess {
		updated, err := d.ledger.MarkOrderSuccess(ctx, order.OrderID, event.PaymentID)
		if err != nil {
			return ResultIgnored, fmt.Errorf("%s: %w", op, err)
		}
		if !updated {
			// Заказ ушел в терминальный статус между чтением и обновлением.
			// Перечитываем: параллельная доставка могла отметить success,
			// а вот заказ в статусе failed подписку получать не должен
			// (captured после failed при доставке вне порядка).
			order, err = d.ledger.FindOrderByOrderID(ctx, order.OrderID)
			if err != nil {
				return ResultIgnored, fmt.Errorf("%s: %w", op, err)
			}
			if order.Status != models.OrderStatusSuccess {
				d.log.Warn("captured payment for order in terminal status, skipping",
					slog.String("order_id", order.OrderID),
					slog.String("status", order.Status),
					slog.String("payment_id", event.PaymentID))
				return ResultIgnored, nil
			}
		}
	}

	subscriptionUID, created, err := d.ApplyCapturedPayment(ctx, order)
	if err != nil {
		return ResultIgnored, fmt.Errorf("%s: %w", op, err)
	}
	if !created {
		return ResultAlreadyApplied, nil
	}

	d.publish(order.UserUID, notify.KindSubscriptionActivated,
		models.DomainSubscriptionCreated, map[string]any{
			"subscription_uid": subscriptionUID,
			"order_id":         order.OrderID,
			"plan_type":        order.PlanType,
		})
	return ResultApplied, nil
}

// ApplyCapturedPayment процедура создания подписки для успешного заказа:
// вычисляет длительность тарифа, создает подписку и выдает премиум-доступ
// одной операцией хранилища. Идемпотентна — существующая активная
// подписка возвращается без изменений (created = false).
func (d *Dispatcher) ApplyCapturedPayment(ctx context.Context, order *models.Order) (string, bool, error) {
	const op = "dispatcher.ApplyCapturedPayment"

	days, known := models.PlanDays(order.PlanType)
	if !known {
		d.log.Warn("unknown plan type, using default duration",
			slog.String("plan_type", order.PlanType),
			slog.Int("days", days))
	}
	startDate := d.now().UTC()
	subscriptionUID, created, err := d.ledger.CreateSubscription(ctx, repository.CreateSubscriptionParams{
		UserUID:   order.UserUID,
		PlanType:  order.PlanType,
		OrderID:   order.OrderID,
		StartDate: startDate,
		EndDate:   startDate.AddDate(0, 0, days),
	})
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	return subscriptionUID, created, nil
}

func (d *Dispatcher) handleFailed(ctx context.Context, event *models.PaymentEvent) (Result, error) {
	const op = "dispatcher.handleFailed"

	order, err := d.findOrder(ctx, event)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			d.log.Warn("failed payment for unknown order",
				slog.String("payment_id", event.PaymentID))
			return ResultIgnored, nil
		}
		return ResultIgnored, fmt.Errorf("%s: %w", op, err)
	}

	// Подписка и премиум-доступ не затрагиваются.
	updated, err := d.ledger.MarkOrderFailed(ctx, order.OrderID, event.PaymentID)
	if err != nil {
		return ResultIgnored, fmt.Errorf("%s: %w", op, err)
	}
	if !updated {
		return ResultAlreadyApplied, nil
	}

	d.mirror(order.UserUID, models.DomainPaymentFailed, map[string]any{
		"order_id":   order.OrderID,
		"payment_id": event.PaymentID,
	})
	return ResultApplied, nil
}

func (d *Dispatcher) handleRefund(ctx context.Context, event *models.PaymentEvent) (Result, error) {
	const op = "dispatcher.handleRefund"

	var userUID *string
	orderID := event.OrderID
	order, err := d.findOrder(ctx, event)
	if err == nil {
		userUID = &order.UserUID
		orderID = order.OrderID
	} else if !errors.Is(err, repository.ErrOrderNotFound) {
		return ResultIgnored, fmt.Errorf("%s: %w", op, err)
	}

	err = d.ledger.InsertDomainEvent(ctx, models.DomainRefundCreated, map[string]any{
		"order_id":   orderID,
		"payment_id": event.PaymentID,
	}, userUID)
	if err != nil {
		return ResultIgnored, fmt.Errorf("%s: %w", op, err)
	}

	if d.opts.RevokeOnRefund && orderID != "" {
		revoked, err := d.ledger.ExpireSubscriptionByOrder(ctx, orderID)
		if err != nil {
			return ResultIgnored, fmt.Errorf("%s: %w", op, err)
		}
		if revoked && userUID != nil {
			d.publish(*userUID, notify.KindSubscriptionExpired,
				models.DomainSubscriptionRevoked, map[string]any{
					"order_id": orderID,
				})
		}
	}
	return ResultApplied, nil
}

func (d *Dispatcher) handleCharged(ctx context.Context, event *models.PaymentEvent) (Result, error) {
	const op = "dispatcher.handleCharged"

	var userUID *string
	orderID := event.OrderID
	planType := event.PlanType
	order, err := d.findOrder(ctx, event)
	if err == nil {
		userUID = &order.UserUID
		orderID = order.OrderID
		planType = order.PlanType
	} else if !errors.Is(err, repository.ErrOrderNotFound) {
		return ResultIgnored, fmt.Errorf("%s: %w", op, err)
	}

	err = d.ledger.InsertDomainEvent(ctx, models.DomainRecurringCharge, map[string]any{
		"order_id":   orderID,
		"payment_id": event.PaymentID,
		"amount":     event.Amount,
	}, userUID)
	if err != nil {
		return ResultIgnored, fmt.Errorf("%s: %w", op, err)
	}

	if d.opts.RenewOnRecurringCharge && orderID != "" {
		days, _ := models.PlanDays(planType)
		if _, err := d.ledger.ExtendSubscription(ctx, orderID, days); err != nil {
			if !errors.Is(err, repository.ErrSubscriptionNotFound) {
				return ResultIgnored, fmt.Errorf("%s: %w", op, err)
			}
			d.log.Warn("recurring charge without active subscription",
				slog.String("order_id", orderID))
		}
	}
	return ResultApplied, nil
}

// publish отправляет решение об уведомлении и зеркалирует событие в
// аналитику. Оба вызова best-effort: ошибки журналируются и никогда
// не откатывают уже зафиксированную финансовую операцию.
func (d *Dispatcher) publish(userUID, kind, eventType string, payload map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.PublishTimeout)
	defer cancel()

	if d.gateway != nil {
		if err := d.gateway.Notify(ctx, userUID, kind, payload); err != nil {
			d.log.Warn("failed to publish notification decision", sl.Err(err))
		}
	}
	d.mirrorCtx(ctx, userUID, eventType, payload)
}

func (d *Dispatcher) mirror(userUID, eventType string, payload map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.PublishTimeout)
	defer cancel()
	d.mirrorCtx(ctx, userUID, eventType, payload)
}

func (d *Dispatcher) mirrorCtx(ctx context.Context, userUID, eventType string, payload map[string]any) {
	if d.sink == nil {
		return
	}
	if err := d.sink.Append(ctx, eventType, payload, userUID); err != nil {
		d.log.Warn("failed to append analytics event", sl.Err(err))
	}
}
