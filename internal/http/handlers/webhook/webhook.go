// Package webhook реализует HTTP-обработчик входящих событий платежного
// провайдера: проверку подписи тела, разбор события, захват дедупликации
// и передачу диспетчеру.
//
// Порядок действий фиксирован: захват дедупликации выполняется до любой
// рискованной работы, а при неудачной обработке захват снимается, чтобы
// повторная доставка от провайдера обработала событие заново.
package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/payment-pipeline/internal/http/response"
	"github.com/magabrotheeeer/payment-pipeline/internal/lib/signature"
	"github.com/magabrotheeeer/payment-pipeline/internal/lib/sl"
	"github.com/magabrotheeeer/payment-pipeline/internal/metrics"
	"github.com/magabrotheeeer/payment-pipeline/internal/models"
	"github.com/magabrotheeeer/payment-pipeline/internal/services/dispatcher"
	"github.com/magabrotheeeer/payment-pipeline/internal/storage/repository"
)

// SignatureHeader заголовок с подписью тела запроса.
const SignatureHeader = "X-Api-Signature"

// Deduplicator захват, завершение и освобождение прав обработки события.
type Deduplicator interface {
	ClaimEvent(ctx context.Context, eventKey, eventType string) error
	CompleteEvent(ctx context.Context, eventKey, outcomeSummary string) error
	ReleaseEvent(ctx context.Context, eventKey string) error
}

// Service диспетчер событий.
type Service interface {
	Dispatch(ctx context.Context, event *models.PaymentEvent) (dispatcher.Result, error)
}

// Handler обрабатывает POST /payments/webhook.
type Handler struct {
	log           *slog.Logger
	dedup         Deduplicator
	service       Service
	metrics       *metrics.Metrics
	webhookSecret string // Секрет для проверки подписи
}

// New создает новый Handler.
func New(log *slog.Logger, dedup Deduplicator, service Service, m *metrics.Metrics, secret string) *Handler {
	return &Handler{
		log:           log,
		dedup:         dedup,
		service:       service,
		metrics:       m,
		webhookSecret: secret,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	// Аутентификация доставки — подпись тела. Отказ не оставляет
	// никаких следов в леджере и журналируется как событие безопасности.
	sig := r.Header.Get(SignatureHeader)
	if !signature.Verify(body, sig, h.webhookSecret) {
		log.Error("invalid or missing webhook signature",
			slog.String("remote_addr", r.RemoteAddr))
		h.metrics.WebhookEvents.WithLabelValues("unverified", "rejected").Inc()
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("invalid signature"))
		return
	}

	event, err := models.ParseEvent(body)
	if err != nil {
		log.Error("failed to parse webhook payload", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("malformed payload"))
		return
	}

	// Нераспознанный тип подтверждается без захвата и побочных эффектов.
	if event.Type == models.EventUnknown {
		log.Info("acknowledged unrecognized event type",
			slog.String("event_type", event.RawType))
		h.metrics.WebhookEvents.WithLabelValues(event.RawType, "ignored").Inc()
		render.JSON(w, r, response.OK())
		return
	}

	eventKey := event.EventKey()
	if err := h.dedup.ClaimEvent(r.Context(), eventKey, string(event.Type)); err != nil {
		if errors.Is(err, repository.ErrAlreadyProcessed) {
			// Повторная доставка — не ошибка: подтверждаем без
			// повторного применения побочных эффектов.
			log.Info("duplicate webhook delivery",
				slog.String("event_key", eventKey))
			h.metrics.WebhookEvents.WithLabelValues(string(event.Type), "duplicate").Inc()
			render.JSON(w, r, response.OK())
			return
		}
		log.Error("failed to claim event", sl.Err(err))
		h.metrics.WebhookEvents.WithLabelValues(string(event.Type), "error").Inc()
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	result, err := h.service.Dispatch(r.Context(), event)
	if err != nil {
		log.Error("failed to dispatch event", sl.Err(err),
			slog.String("event_key", eventKey))
		// Захват снимается, чтобы повтор от провайдера не был молча
		// пропущен как дубликат.
		if releaseErr := h.dedup.ReleaseEvent(context.WithoutCancel(r.Context()), eventKey); releaseErr != nil {
			log.Error("failed to release claim after dispatch failure", sl.Err(releaseErr))
		}
		h.metrics.WebhookEvents.WithLabelValues(string(event.Type), "error").Inc()
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	if err := h.dedup.CompleteEvent(r.Context(), eventKey, result.String()); err != nil {
		// Побочные эффекты применены, захват существует: доставку можно
		// подтвердить, незавершенную запись поднимет отчет обходчика.
		log.Error("failed to complete claim", sl.Err(err),
			slog.String("event_key", eventKey))
	}

	log.Info("webhook processed",
		slog.String("event_type", string(event.Type)),
		slog.String("event_key", eventKey),
		slog.String("outcome", result.String()))
	h.metrics.WebhookEvents.WithLabelValues(string(event.Type), result.String()).Inc()
	render.JSON(w, r, response.OK())
}
