package rabbitmq

import (
	"fmt"

	"github.com/streadway/amqp"
)

// Имена exchange конвейера.
const (
	NotificationsExchange = "notifications"
	AnalyticsExchange     = "analytics"
)

type QueueConfig struct {
	Exchange   string
	QueueName  string
	RoutingKey string
}

// GetPipelineQueues возвращает очереди, которые объявляет конвейер:
// решения об уведомлениях для шлюза доставки и зеркало доменных
// событий для аналитики.
func GetPipelineQueues() []QueueConfig {
	return []QueueConfig{
		{Exchange: NotificationsExchange, QueueName: "notification.warning", RoutingKey: "subscription_warning"},
		{Exchange: NotificationsExchange, QueueName: "notification.activated", RoutingKey: "subscription_activated"},
		{Exchange: NotificationsExchange, QueueName: "notification.expired", RoutingKey: "subscription_expired"},
		{Exchange: AnalyticsExchange, QueueName: "analytics.events", RoutingKey: "#"},
	}
}

// SetupChannel открывает канал и объявляет exchange и очереди.
func SetupChannel(conn *amqp.Connection, queues []QueueConfig) (*amqp.Channel, error) {
	const op = "rabbitmq.SetupChannel"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	declared := make(map[string]bool)
	for _, q := range queues {
		if !declared[q.Exchange] {
			if err := ch.ExchangeDeclare(q.Exchange, "topic", true, false, false, false, nil); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			declared[q.Exchange] = true
		}
		if _, err := ch.QueueDeclare(q.QueueName, true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := ch.QueueBind(q.QueueName, q.RoutingKey, q.Exchange, false, nil); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return ch, nil
}
