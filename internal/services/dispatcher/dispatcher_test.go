package dispatcher_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/payment-pipeline/internal/models"
	"github.com/magabrotheeeer/payment-pipeline/internal/services/dispatcher"
	"github.com/magabrotheeeer/payment-pipeline/internal/storage/repository"
)

type mockLedger struct {
	FindOrderByOrderIDFunc   func(ctx context.Context, orderID string) (*models.Order, error)
	FindOrderByPaymentIDFunc func(ctx context.Context, paymentID string) (*models.Order, error)
	MarkOrderSuccessFunc     func(ctx context.Context, orderID, paymentID string) (bool, error)
	MarkOrderFailedFunc      func(ctx context.Context, orderID, paymentID string) (bool, error)
	CreateSubscriptionFunc   func(ctx context.Context, params repository.CreateSubscriptionParams) (string, bool, error)
	ExtendSubscriptionFunc   func(ctx context.Context, orderID string, days int) (string, error)
	ExpireByOrderFunc        func(ctx context.Context, orderID string) (bool, error)
	InsertDomainEventFunc    func(ctx context.Context, eventType string, eventData map[string]any, userUID *string) error
}

func (m *mockLedger) FindOrderByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	return m.FindOrderByOrderIDFunc(ctx, orderID)
}

func (m *mockLedger) FindOrderByPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	return m.FindOrderByPaymentIDFunc(ctx, paymentID)
}

func (m *mockLedger) MarkOrderSuccess(ctx context.Context, orderID, paymentID string) (bool, error) {
	return m.MarkOrderSuccessFunc(ctx, orderID, paymentID)
}

func (m *mockLedger) MarkOrderFailed(ctx context.Context, orderID, paymentID string) (bool, error) {
	return m.MarkOrderFailedFunc(ctx, orderID, paymentID)
}

func (m *mockLedger) CreateSubscription(ctx context.Context, params repository.CreateSubscriptionParams) (string, bool, error) {
	return m.CreateSubscriptionFunc(ctx, params)
}

func (m *mockLedger) ExtendSubscription(ctx context.Context, orderID string, days int) (string, error) {
	return m.ExtendSubscriptionFunc(ctx, orderID, days)
}

func (m *mockLedger) ExpireSubscriptionByOrder(ctx context.Context, orderID string) (bool, error) {
	return m.ExpireByOrderFunc(ctx, orderID)
}

func (m *mockLedger) InsertDomainEvent(ctx context.Context, eventType string, eventData map[string]any, userUID *string) error {
	return m.InsertDomainEventFunc(ctx, eventType, eventData, userUID)
}

type mockGateway struct {
	NotifyFunc func(ctx context.Context, userUID, kind string, payload map[string]any) error
}

func (m *mockGateway) Notify(ctx context.Context, userUID, kind string, payload map[string]any) error {
	return m.NotifyFunc(ctx, userUID, kind, payload)
}

type mockSink struct {
	AppendFunc func(ctx context.Context, eventType string, eventData map[string]any, userUID string) error
}

func (m *mockSink) Append(ctx context.Context, eventType string, eventData map[string]any, userUID string) error {
	return m.AppendFunc(ctx, eventType, eventData, userUID)
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }

func makeLogger() *slog.Logger {
	return slog.New(discardHandler{})
}

func silentGateway() *mockGateway {
	return &mockGateway{NotifyFunc: func(context.Context, string, string, map[string]any) error {
		return nil
	}}
}

func silentSink() *mockSink {
	return &mockSink{AppendFunc: func(context.Context, string, map[string]any, string) error {
		return nil
	}}
}

func createdOrder() *models.Order {
	return &models.Order{
		OrderID:  "order_1",
		UserUID:  "c2a0b7d4-0000-0000-0000-000000000001",
		PlanType: models.PlanOneMonth,
		Amount:   499,
		Status:   models.OrderStatusCreated,
	}
}

func capturedEvent() *models.PaymentEvent {
	return &models.PaymentEvent{
		Type:      models.EventPaymentCaptured,
		PaymentID: "pay_1",
		OrderID:   "order_1",
	}
}

func TestDispatchCaptured(t *testing.T) {
	t.Run("creates subscription and notifies", func(t *testing.T) {
		var notified, marked bool
		ledger := &mockLedger{
			FindOrderByOrderIDFunc: func(_ context.Context, orderID string) (*models.Order, error) {
				require.Equal(t, "order_1", orderID)
				return createdOrder(), nil
			},
			MarkOrderSuccessFunc: func(_ context.Context, orderID, paymentID string) (bool, error) {
				marked = true
				require.Equal(t, "pay_1", paymentID)
				return true, nil
			},
			CreateSubscriptionFunc: func(_ context.Context, params repository.CreateSubscriptionParams) (string, bool, error) {
				require.Equal(t, models.PlanOneMonth, params.PlanType)
				require.Equal(t, 30, int(params.EndDate.Sub(params.StartDate).Hours()/24))
				return "sub-uid-1", true, nil
			},
		}
		gateway := &mockGateway{
			NotifyFunc: func(_ context.Context, userUID, kind string, payload map[string]any) error {
				notified = true
				assert.Equal(t, "subscription_activated", kind)
				assert.Equal(t, "sub-uid-1", payload["subscription_uid"])
				return nil
			},
		}

		d := dispatcher.New(ledger, gateway, silentSink(), dispatcher.Options{}, makeLogger())
		result, err := d.Dispatch(context.Background(), capturedEvent())

		require.NoError(t, err)
		assert.Equal(t, dispatcher.ResultApplied, result)
		assert.True(t, marked)
		assert.True(t, notified)
	})

	t.Run("duplicate capture is idempotent", func(t *testing.T) {
		ledger := &mockLedger{
			FindOrderByOrderIDFunc: func(context.Context, string) (*models.Order, error) {
				order := createdOrder()
				order.Status = models.OrderStatusSuccess
				return order, nil
			},
			CreateSubscriptionFunc: func(context.Context, repository.CreateSubscriptionParams) (string, bool, error) {
				return "sub-uid-1", false, nil
			},
		}
		gateway := &mockGateway{
			NotifyFunc: func(context.Context, string, string, map[string]any) error {
				t.Fatal("gateway should not be called on duplicate capture")
				return nil
			},
		}

		d := dispatcher.New(ledger, gateway, silentSink(), dispatcher.Options{}, makeLogger())
		result, err := d.Dispatch(context.Background(), capturedEvent())

		require.NoError(t, err)
		assert.Equal(t, dispatcher.ResultAlreadyApplied, result)
	})

	t.Run("capture after failed order does not grant subscription", func(t *testing.T) {
		ledger := &mockLedger{
			FindOrderByOrderIDFunc: func(context.Context, string) (*models.Order, error) {
				order := createdOrder()
				order.Status = models.OrderStatusFailed
				return order, nil
			},
			MarkOrderSuccessFunc: func(context.Context, string, string) (bool, error) {
				return false, nil
			},
			CreateSubscriptionFunc: func(context.Context, repository.CreateSubscriptionParams) (string, bool, error) {
				t.Fatal("subscription must not be created for an order that stays failed")
				return "", false, nil
			},
		}

		d := dispatcher.New(ledger, silentGateway(), silentSink(), dispatcher.Options{}, makeLogger())
		result, err := d.Dispatch(context.Background(), capturedEvent())

		require.NoError(t, err)
		assert.Equal(t, dispatcher.ResultIgnored, result)
	})

	t.Run("concurrent success transition still applies", func(t *testing.T) {
		finds := 0
		ledger := &mockLedger{
			FindOrderByOrderIDFunc: func(context.Context, string) (*models.Order, error) {
				finds++
				order := createdOrder()
				// Первое чтение видит created, параллельная доставка успевает
				// отметить success до нашего обновления.
				if finds > 1 {
					order.Status = models.OrderStatusSuccess
				}
				return order, nil
			},
			MarkOrderSuccessFunc: func(context.Context, string, string) (bool, error) {
				return false, nil
			},
			CreateSubscriptionFunc: func(context.Context, repository.CreateSubscriptionParams) (string, bool, error) {
				return "sub-uid-1", false, nil
			},
		}

		d := dispatcher.New(ledger, silentGateway(), silentSink(), dispatcher.Options{}, makeLogger())
		result, err := d.Dispatch(context.Background(), capturedEvent())

		require.NoError(t, err)
		assert.Equal(t, dispatcher.ResultAlreadyApplied, result)
		assert.Equal(t, 2, finds)
	})

	t.Run("unknown order is acknowledged", func(t *testing.T) {
		ledger := &mockLedger{
			FindOrderByOrderIDFunc: func(context.Context, string) (*models.Order, error) {
				return nil, repository.ErrOrderNotFound
			},
		}

		d := dispatcher.New(ledger, silentGateway(), silentSink(), dispatcher.Options{}, makeLogger())
		result, err := d.Dispatch(context.Background(), capturedEvent())

		require.NoError(t, err)
		assert.Equal(t, dispatcher.ResultIgnored, result)
	})

	t.Run("unknown plan falls back to default duration", func(t *testing.T) {
		ledger := &mockLedger{
			FindOrderByOrderIDFunc: func(context.Context, string) (*models.Order, error) {
				order := createdOrder()
				order.PlanType = "lifetime"
				return order, nil
			},
			MarkOrderSuccessFunc: func(context.Context, string, string) (bool, error) {
				return true, nil
			},
			CreateSubscriptionFunc: func(_ context.Context, params repository.CreateSubscriptionParams) (string, bool, error) {
				assert.Equal(t, models.DefaultPlanDays, int(params.EndDate.Sub(params.StartDate).Hours()/24))
				return "sub-uid-2", true, nil
			},
		}

		d := dispatcher.New(ledger, silentGateway(), silentSink(), dispatcher.Options{}, makeLogger())
		_, err := d.Dispatch(context.Background(), capturedEvent())
		require.NoError(t, err)
	})

	t.Run("notify failure does not fail dispatch", func(t *testing.T) {
		ledger := &mockLedger{
			FindOrderByOrderIDFunc: func(context.Context, string) (*models.Order, error) {
				return createdOrder(), nil
			},
			MarkOrderSuccessFunc: func(context.Context, string, string) (bool, error) {
				return true, nil
			},
			CreateSubscriptionFunc: func(context.Context, repository.CreateSubscriptionParams) (string, bool, error) {
				return "sub-uid-1", true, nil
			},
		}
		gateway := &mockGateway{
			NotifyFunc: func(context.Context, string, string, map[string]any) error {
				return errors.New("broker unavailable")
			},
		}
		sink := &mockSink{
			AppendFunc: func(context.Context, string, map[string]any, string) error {
				return errors.New("broker unavailable")
			},
		}

		d := dispatcher.New(ledger, gateway, sink, dispatcher.Options{}, makeLogger())
		result, err := d.Dispatch(context.Background(), capturedEvent())

		require.NoError(t, err)
		assert.Equal(t, dispatcher.ResultApplied, result)
	})
}

func TestDispatchFailed(t *testing.T) {
	failedEvent := &models.PaymentEvent{
		Type:      models.EventPaymentFailed,
		PaymentID: "pay_1",
		OrderID:   "order_1",
	}

	t.Run("marks order failed without touching subscription", func(t *testing.T) {
		ledger := &mockLedger{
			FindOrderByOrderIDFunc: func(context.Context, string) (*models.Order, error) {
				return createdOrder(), nil
			},
			MarkOrderFailedFunc: func(_ context.Context, orderID, paymentID string) (bool, error) {
				require.Equal(t, "order_1", orderID)
				return true, nil
			},
			CreateSubscriptionFunc: func(context.Context, repository.CreateSubscriptionParams) (string, bool, error) {
				t.Fatal("subscription must not be created for a failed payment")
				return "", false, nil
			},
		}

		d := dispatcher.New(ledger, silentGateway(), silentSink(), dispatcher.Options{}, makeLogger())
		result, err := d.Dispatch(context.Background(), failedEvent)

		require.NoError(t, err)
		assert.Equal(t, dispatcher.ResultApplied, result)
	})

	t.Run("already terminal order", func(t *testing.T) {
		ledger := &mockLedger{
			FindOrderByOrderIDFunc: func(context.Context, string) (*models.Order, error) {
				return createdOrder(), nil
			},
			MarkOrderFailedFunc: func(context.Context, string, string) (bool, error) {
				return false, nil
			},
		}

		d := dispatcher.New(ledger, silentGateway(), silentSink(), dispatcher.Options{}, makeLogger())
		result, err := d.Dispatch(context.Background(), failedEvent)

		require.NoError(t, err)
		assert.Equal(t, dispatcher.ResultAlreadyApplied, result)
	})
}

func TestDispatchRefund(t *testing.T) {
	refundEvent := &models.PaymentEvent{
		Type:      models.EventRefundCreated,
		PaymentID: "pay_1",
		OrderID:   "order_1",
	}

	t.Run("records event only by default", func(t *testing.T) {
		var recorded bool
		ledger := &mockLedger{
			FindOrderByOrderIDFunc: func(context.Context, string) (*models.Order, error) {
				return createdOrder(), nil
			},
			InsertDomainEventFunc: func(_ context.Context, eventType string, _ map[string]any, _ *string) error {
				recorded = true
				assert.Equal(t, models.DomainRefundCreated, eventType)
				return nil
			},
			ExpireByOrderFunc: func(context.Context, string) (bool, error) {
				t.Fatal("refund must not revoke subscription by default")
				return false, nil
			},
		}

		d := dispatcher.New(ledger, silentGateway(), silentSink(), dispatcher.Options{}, makeLogger())
		result, err := d.Dispatch(context.Background(), refundEvent)

		require.NoError(t, err)
		assert.Equal(t, dispatcher.ResultApplied, result)
		assert.True(t, recorded)
	})

	t.Run("revokes subscription when enabled", func(t *testing.T) {
		var revoked bool
		ledger := &mockLedger{
			FindOrderByOrderIDFunc: func(context.Context, string) (*models.Order, error) {
				return createdOrder(), nil
			},
			InsertDomainEventFunc: func(context.Context, string, map[string]any, *string) error {
				return nil
			},
			ExpireByOrderFunc: func(_ context.Context, orderID string) (bool, error) {
				revoked = true
				require.Equal(t, "order_1", orderID)
				return true, nil
			},
		}

		d := dispatcher.New(ledger, silentGateway(), silentSink(),
			dispatcher.Options{RevokeOnRefund: true}, makeLogger())
		result, err := d.Dispatch(context.Background(), refundEvent)

		require.NoError(t, err)
		assert.Equal(t, dispatcher.ResultApplied, result)
		assert.True(t, revoked)
	})
}

func TestDispatchCharged(t *testing.T) {
	chargedEvent := &models.PaymentEvent{
		Type:      models.EventSubscriptionCharged,
		PaymentID: "pay_2",
		OrderID:   "order_1",
		Amount:    499,
	}

	t.Run("records charge without renewal by default", func(t *testing.T) {
		var recorded bool
		ledger := &mockLedger{
			FindOrderByOrderIDFunc: func(context.Context, string) (*models.Order, error) {
				return createdOrder(), nil
			},
			InsertDomainEventFunc: func(_ context.Context, eventType string, _ map[string]any, _ *string) error {
				recorded = true
				assert.Equal(t, models.DomainRecurringCharge, eventType)
				return nil
			},
			ExtendSubscriptionFunc: func(context.Context, string, int) (string, error) {
				t.Fatal("recurring charge must not renew by default")
				return "", nil
			},
		}

		d := dispatcher.New(ledger, silentGateway(), silentSink(), dispatcher.Options{}, makeLogger())
		result, err := d.Dispatch(context.Background(), chargedEvent)

		require.NoError(t, err)
		assert.Equal(t, dispatcher.ResultApplied, result)
		assert.True(t, recorded)
	})

	t.Run("renews subscription when enabled", func(t *testing.T) {
		var extendedDays int
		ledger := &mockLedger{
			FindOrderByOrderIDFunc: func(context.Context, string) (*models.Order, error) {
				return createdOrder(), nil
			},
			InsertDomainEventFunc: func(context.Context, string, map[string]any, *string) error {
				return nil
			},
			ExtendSubscriptionFunc: func(_ context.Context, orderID string, days int) (string, error) {
				extendedDays = days
				return "sub-uid-1", nil
			},
		}

		d := dispatcher.New(ledger, silentGateway(), silentSink(),
			dispatcher.Options{RenewOnRecurringCharge: true}, makeLogger())
		result, err := d.Dispatch(context.Background(), chargedEvent)

		require.NoError(t, err)
		assert.Equal(t, dispatcher.ResultApplied, result)
		assert.Equal(t, 30, extendedDays)
	})
}

func TestDispatchUnknown(t *testing.T) {
	event := &models.PaymentEvent{
		Type:    models.EventUnknown,
		RawType: "payout.succeeded",
	}

	d := dispatcher.New(&mockLedger{}, silentGateway(), silentSink(), dispatcher.Options{}, makeLogger())
	result, err := d.Dispatch(context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, dispatcher.ResultIgnored, result)
}
