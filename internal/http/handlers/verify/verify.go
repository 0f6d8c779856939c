// Package verify реализует HTTP-обработчик синхронной верификации платежа,
// вызываемой checkout-потоком. Обработчик валидирует запрос, запускает
// живую проверку у провайдера и возвращает признак верификации и UID
// созданной подписки.
package verify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/payment-pipeline/internal/http/response"
	"github.com/magabrotheeeer/payment-pipeline/internal/lib/sl"
	"github.com/magabrotheeeer/payment-pipeline/internal/services/verification"
)

// Request тело запроса верификации.
type Request struct {
	PaymentID string `json:"payment_id" validate:"required"`
	OrderID   string `json:"order_id" validate:"required"`
}

// Service сервис верификации платежа.
type Service interface {
	Verify(ctx context.Context, paymentID, orderID string) (*verification.Result, error)
}

// Handler обрабатывает POST /payments/verify.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.verify"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	result, err := h.service.Verify(r.Context(), req.PaymentID, req.OrderID)
	if err != nil {
		log.Error("failed to verify payment", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not verify payment"))
		return
	}

	data := map[string]any{"verified": result.Verified}
	if result.SubscriptionUID != "" {
		data["subscription_uid"] = result.SubscriptionUID
	}
	log.Info("payment verification finished",
		slog.String("payment_id", req.PaymentID),
		slog.Bool("verified", result.Verified))
	render.JSON(w, r, response.OKWithData(data))
}
