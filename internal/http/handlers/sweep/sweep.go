// Package sweep реализует HTTP-обработчик ручного запуска обхода
// подписок. Используется оперативно; плановый запуск выполняет
// отдельный сервис-обходчик.
package sweep

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/payment-pipeline/internal/http/response"
	"github.com/magabrotheeeer/payment-pipeline/internal/lib/sl"
	"github.com/magabrotheeeer/payment-pipeline/internal/services/sweeper"
)

// Service обходчик подписок.
type Service interface {
	Sweep(ctx context.Context, now time.Time) (sweeper.Summary, error)
}

// Handler обрабатывает POST /sweep.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.sweep"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	summary, err := h.service.Sweep(r.Context(), time.Now().UTC())
	if err != nil {
		log.Error("sweep failed", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("sweep failed"))
		return
	}

	log.Info("sweep triggered",
		slog.Int("expired", summary.Expired),
		slog.Int("warned", summary.Warned))
	render.JSON(w, r, response.OKWithData(summary))
}
