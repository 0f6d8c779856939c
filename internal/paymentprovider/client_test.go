package paymentprovider_test

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/payment-pipeline/internal/paymentprovider"
)

func TestGetPayment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expectedAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("shop_1:secret"))
		require.Equal(t, expectedAuth, r.Header.Get("Authorization"))

		switch r.URL.Path {
		case "/payments/pay_1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"id": "pay_1",
				"status": "captured",
				"amount": {"value": "499.00", "currency": "RUB"},
				"metadata": {"order_id": "order_1"}
			}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := paymentprovider.NewClient(server.URL, "shop_1", "secret", 5*time.Second)

	t.Run("returns payment", func(t *testing.T) {
		payment, err := client.GetPayment(context.Background(), "pay_1")
		require.NoError(t, err)
		assert.Equal(t, "pay_1", payment.ID)
		assert.Equal(t, paymentprovider.StatusCaptured, payment.Status)
		assert.Equal(t, "499.00", payment.Amount.Value)
		assert.Equal(t, "order_1", payment.Metadata["order_id"])
	})

	t.Run("maps 404 to ErrPaymentNotFound", func(t *testing.T) {
		_, err := client.GetPayment(context.Background(), "pay_missing")
		require.ErrorIs(t, err, paymentprovider.ErrPaymentNotFound)
	})
}

func TestGetPaymentServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := paymentprovider.NewClient(server.URL, "shop_1", "secret", 5*time.Second)

	_, err := client.GetPayment(context.Background(), "pay_1")
	require.Error(t, err)
}
