// Package analytics определяет приемник аналитики: внешнее зеркало
// журнала доменных событий. Запись best-effort — долговременный след
// хранит таблица domain_events, пишущаяся в одной транзакции с леджером.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/payment-pipeline/internal/lib/rabbitmq"
)

// Sink приемник доменных событий, только запись.
type Sink interface {
	Append(ctx context.Context, eventType string, eventData map[string]any, userUID string) error
}

// Event сообщение, публикуемое в exchange analytics.
type Event struct {
	EventType string         `json:"event_type"`
	EventData map[string]any `json:"event_data"`
	UserUID   string         `json:"user_uid,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AMQPSink публикует события в exchange analytics.
type AMQPSink struct {
	ch *amqp.Channel
}

func NewAMQPSink(ch *amqp.Channel) *AMQPSink {
	return &AMQPSink{ch: ch}
}

func (s *AMQPSink) Append(ctx context.Context, eventType string, eventData map[string]any, userUID string) error {
	const op = "analytics.Append"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	event := Event{
		EventType: eventType,
		EventData: eventData,
		UserUID:   userUID,
		Timestamp: time.Now().UTC(),
	}
	if err := rabbitmq.PublishMessage(s.ch, rabbitmq.AnalyticsExchange, eventType, event); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
