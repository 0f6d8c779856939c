// Package notify определяет шлюз уведомлений. Ядро только принимает
// решение "уведомить пользователя Y о Z" и публикует его; доставкой
// (почта, push) и её повторами занимается внешний сервис-потребитель.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/payment-pipeline/internal/lib/rabbitmq"
)

// Виды уведомлений.
const (
	KindSubscriptionActivated = "subscription_activated"
	KindSubscriptionWarning   = "subscription_warning"
	KindSubscriptionExpired   = "subscription_expired"
)

// Gateway шлюз уведомлений, fire-and-forget с точки зрения ядра.
type Gateway interface {
	Notify(ctx context.Context, userUID, kind string, payload map[string]any) error
}

// Message сообщение-решение, публикуемое в очередь уведомлений.
type Message struct {
	UserUID   string         `json:"user_uid"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// AMQPGateway публикует решения об уведомлениях в exchange notifications.
type AMQPGateway struct {
	ch *amqp.Channel
}

// NewAMQPGateway создает шлюз поверх открытого канала RabbitMQ.
func NewAMQPGateway(ch *amqp.Channel) *AMQPGateway {
	return &AMQPGateway{ch: ch}
}

// Notify публикует решение. Вызывающая сторона ограничивает время
// вызова контекстом; ошибка публикации логируется вызывающим и никогда
// не откатывает финансовую операцию.
func (g *AMQPGateway) Notify(ctx context.Context, userUID, kind string, payload map[string]any) error {
	const op = "notify.Notify"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	msg := Message{
		UserUID:   userUID,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := rabbitmq.PublishMessage(g.ch, rabbitmq.NotificationsExchange, kind, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
