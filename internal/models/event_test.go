package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/payment-pipeline/internal/models"
)

func TestParseEvent(t *testing.T) {
	t.Run("captured event with metadata", func(t *testing.T) {
		body := []byte(`{
			"event": "payment.captured",
			"id": "evt_1",
			"object": {
				"id": "pay_1",
				"status": "succeeded",
				"amount": {"value": "499.00", "currency": "RUB"},
				"metadata": {"order_id": "order_1", "user_uid": "c2a0b7d4-0000-0000-0000-000000000001", "plan_type": "1_month"}
			}
		}`)

		event, err := models.ParseEvent(body)
		require.NoError(t, err)
		assert.Equal(t, models.EventPaymentCaptured, event.Type)
		assert.Equal(t, "pay_1", event.PaymentID)
		assert.Equal(t, "order_1", event.OrderID)
		assert.Equal(t, "1_month", event.PlanType)
		assert.InDelta(t, 499.00, event.Amount, 0.001)
		assert.Equal(t, "evt_1", event.EventKey())
	})

	t.Run("event key falls back to payment id and type", func(t *testing.T) {
		body := []byte(`{"event": "payment.failed", "object": {"id": "pay_2"}}`)

		event, err := models.ParseEvent(body)
		require.NoError(t, err)
		assert.Equal(t, "pay_2:payment.failed", event.EventKey())
	})

	t.Run("malformed amount yields zero", func(t *testing.T) {
		body := []byte(`{"event": "payment.captured", "object": {"id": "pay_5", "amount": {"value": "12.3abc"}}}`)

		event, err := models.ParseEvent(body)
		require.NoError(t, err)
		assert.Zero(t, event.Amount)
	})

	t.Run("unknown event type is not an error", func(t *testing.T) {
		body := []byte(`{"event": "payout.succeeded", "object": {"id": "po_1"}}`)

		event, err := models.ParseEvent(body)
		require.NoError(t, err)
		assert.Equal(t, models.EventUnknown, event.Type)
		assert.Equal(t, "payout.succeeded", event.RawType)
	})

	t.Run("event type is case insensitive", func(t *testing.T) {
		body := []byte(`{"event": "Payment.Captured", "object": {"id": "pay_3"}}`)

		event, err := models.ParseEvent(body)
		require.NoError(t, err)
		assert.Equal(t, models.EventPaymentCaptured, event.Type)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := models.ParseEvent([]byte(`{bad json`))
		require.Error(t, err)
	})

	t.Run("missing event type", func(t *testing.T) {
		_, err := models.ParseEvent([]byte(`{"object": {"id": "pay_4"}}`))
		require.Error(t, err)
	})
}
