// Package models содержит доменные структуры конвейера платежных событий:
// заказы, подписки, проекцию премиум-доступа пользователя, записи дедупликации
// и события аналитики.
package models

import "time"

// Статусы заказа. Статус движется только вперед: created -> success | failed.
const (
	OrderStatusCreated = "created"
	OrderStatusSuccess = "success"
	OrderStatusFailed  = "failed"
)

// Статусы подписки.
const (
	SubscriptionStatusActive  = "active"
	SubscriptionStatusExpired = "expired"
)

// Типы тарифов и их длительность в днях.
const (
	PlanOneMonth   = "1_month"
	PlanThreeMonth = "3_month"
	PlanSixMonth   = "6_month"

	// DefaultPlanDays запасная длительность для неизвестного тарифа.
	DefaultPlanDays = 30
)

// PlanDays возвращает длительность тарифа в днях.
// Неизвестный тариф получает длительность по умолчанию (30 дней),
// это документированный запасной вариант, а не ошибка.
func PlanDays(planType string) (int, bool) {
	switch planType {
	case PlanOneMonth:
		return 30, true
	case PlanThreeMonth:
		return 90, true
	case PlanSixMonth:
		return 180, true
	default:
		return DefaultPlanDays, false
	}
}

// Order представляет намерение оплатить: запись создается до платежа
// и переводится в терминальный статус диспетчером событий.
type Order struct {
	ID        int64      // Внутренний ID записи
	OrderID   string     // Внешний ID заказа, уникален и неизменяем
	UserUID   string     // UID пользователя-владельца
	PlanType  string     // Тариф: 1_month, 3_month, 6_month
	Amount    float64    // Сумма заказа
	Status    string     // created | success | failed
	PaymentID *string    // ID платежа у провайдера, nil до захвата
	CreatedAt time.Time  // Дата создания
	UpdatedAt *time.Time // Дата последнего изменения статуса
}

// Subscription представляет окно действия премиум-доступа,
// созданное успешным заказом.
type Subscription struct {
	ID              int64      // Внутренний ID записи
	SubscriptionUID string     // Публичный UID подписки
	UserUID         string     // UID пользователя-владельца
	PlanType        string     // Тариф
	Status          string     // active | expired
	StartDate       time.Time  // Начало действия
	EndDate         time.Time  // Конец действия, фиксируется при создании
	OrderID         string     // Заказ, породивший подписку
	LastWarnedAt    *time.Time // Дата последнего предупреждения об истечении
}

// Entitlement проекция премиум-доступа на запись пользователя.
// Инвариант: IsPremium == true тогда и только тогда, когда существует
// активная подписка с датой окончания в будущем.
type Entitlement struct {
	UserUID      string
	IsPremium    bool
	PremiumUntil *time.Time
}

// ProcessedEvent запись дедупликации webhook-события. Захват (claimed_at)
// и завершение обработки (completed_at) фиксируются отдельно, чтобы
// зависшие захваты были различимы.
type ProcessedEvent struct {
	EventKey       string
	EventType      string
	ClaimedAt      time.Time
	CompletedAt    *time.Time
	OutcomeSummary *string
}

// DomainEvent запись аналитического журнала. Журнал только пополняется,
// записи никогда не изменяются.
type DomainEvent struct {
	ID        int64
	EventType string
	EventData map[string]any
	UserUID   *string
	CreatedAt time.Time
}

// Типы доменных событий аналитики.
const (
	DomainSubscriptionCreated = "subscription_created"
	DomainSubscriptionRenewed = "subscription_renewed"
	DomainSubscriptionExpired = "subscription_expired"
	DomainSubscriptionWarning = "subscription_warning"
	DomainSubscriptionRevoked = "subscription_revoked"
	DomainPaymentFailed       = "payment_failed"
	DomainRefundCreated       = "refund_created"
	DomainRecurringCharge     = "recurring_charge"
)
