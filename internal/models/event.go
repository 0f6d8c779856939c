package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// EventType тип входящего события платежного провайдера.
type EventType string

// Распознаваемые типы событий. Все остальные типы отображаются
// в EventUnknown и подтверждаются без побочных эффектов.
const (
	EventPaymentCaptured     EventType = "payment.captured"
	EventPaymentFailed       EventType = "payment.failed"
	EventRefundCreated       EventType = "refund.created"
	EventSubscriptionCharged EventType = "subscription.charged"
	EventUnknown             EventType = "unknown"
)

// PaymentEvent типизированное webhook-событие. Поля объекта провайдера
// разложены в плоскую структуру, сырое тело сохраняется для журнала.
type PaymentEvent struct {
	Type      EventType
	RawType   string // исходная строка типа, для журналирования unknown
	EventID   string // ID события у провайдера, может быть пустым
	PaymentID string
	OrderID   string
	UserUID   string
	PlanType  string
	Amount    float64
	Raw       json.RawMessage
}

// EventKey возвращает ключ дедупликации: ID события провайдера, если он
// передан, иначе составной ключ payment_id + тип события.
func (e *PaymentEvent) EventKey() string {
	if e.EventID != "" {
		return e.EventID
	}
	return e.PaymentID + ":" + string(e.Type)
}

type rawEvent struct {
	Event  string `json:"event"`
	ID     string `json:"id"`
	Object struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount struct {
			Value    string `json:"value"`
			Currency string `json:"currency"`
		} `json:"amount"`
		Metadata map[string]string `json:"metadata"`
	} `json:"object"`
}

// ParseEvent разбирает сырое тело webhook в типизированное событие.
// Некорректный JSON это ошибка; нераспознанный тип события ошибкой
// не является и помечается как EventUnknown.
func ParseEvent(body []byte) (*PaymentEvent, error) {
	const op = "models.ParseEvent"

	var raw rawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if raw.Event == "" {
		return nil, fmt.Errorf("%s: missing event type", op)
	}

	event := &PaymentEvent{
		RawType:   raw.Event,
		EventID:   raw.ID,
		PaymentID: raw.Object.ID,
		OrderID:   raw.Object.Metadata["order_id"],
		UserUID:   raw.Object.Metadata["user_uid"],
		PlanType:  raw.Object.Metadata["plan_type"],
		Raw:       json.RawMessage(body),
	}
	if amount, err := strconv.ParseFloat(raw.Object.Amount.Value, 64); err == nil {
		event.Amount = amount
	}

	switch EventType(strings.ToLower(raw.Event)) {
	case EventPaymentCaptured:
		event.Type = EventPaymentCaptured
	case EventPaymentFailed:
		event.Type = EventPaymentFailed
	case EventRefundCreated:
		event.Type = EventRefundCreated
	case EventSubscriptionCharged:
		event.Type = EventSubscriptionCharged
	default:
		event.Type = EventUnknown
	}
	return event, nil
}
