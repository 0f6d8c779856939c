// Package ordercreate реализует HTTP-обработчик заведения заказа
// checkout-потоком до оплаты. Заказ создается в статусе created;
// премиум-доступ на этом шаге не затрагивается.
package ordercreate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/magabrotheeeer/payment-pipeline/internal/http/response"
	"github.com/magabrotheeeer/payment-pipeline/internal/lib/sl"
	"github.com/magabrotheeeer/payment-pipeline/internal/models"
)

// Request тело запроса создания заказа.
type Request struct {
	OrderID  string  `json:"order_id" validate:"required"`
	UserUID  string  `json:"user_uid" validate:"required,uuid"`
	PlanType string  `json:"plan_type" validate:"required,oneof=1_month 3_month 6_month"`
	Amount   float64 `json:"amount" validate:"required,gt=0"`
}

// Ledger методы хранилища для создания заказа.
type Ledger interface {
	CreateOrder(ctx context.Context, order models.Order) (int64, error)
}

// Handler обрабатывает POST /orders.
type Handler struct {
	log      *slog.Logger
	ledger   Ledger
	validate *validator.Validate
}

// New создает новый Handler.
func New(log *slog.Logger, ledger Ledger) *Handler {
	return &Handler{
		log:      log,
		ledger:   ledger,
		validate: validator.New(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.ordercreate"
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

	id, err := h.ledger.CreateOrder(r.Context(), models.Order{
		OrderID:  req.OrderID,
		UserUID:  req.UserUID,
		PlanType: req.PlanType,
		Amount:   req.Amount,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			log.Warn("order already exists", slog.String("order_id", req.OrderID))
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error("order already exists"))
			return
		}
		log.Error("failed to create order", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not create order"))
		return
	}

	log.Info("order created",
		slog.String("order_id", req.OrderID),
		slog.Int64("id", id))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"order_id": req.OrderID,
	}))
}
