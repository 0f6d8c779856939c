package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/payment-pipeline/internal/models"
)

// CreateSubscriptionParams параметры процедуры создания подписки.
type CreateSubscriptionParams struct {
	UserUID   string
	PlanType  string
	OrderID   string
	StartDate time.Time
	EndDate   time.Time
}

// CreateSubscription создает подписку и выдает премиум-доступ одной
// транзакцией: вставка строки подписки, обновление is_premium и
// premium_until пользователя и запись доменного события subscription_created
// либо применяются вместе, либо откатываются вместе.
//
// Процедура идемпотентна: если у заказа или у пользователя уже есть
// активная подписка, возвращается её UID и created = false.
func (s *Storage) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (string, bool, error) {
	const op = "storage.CreateSubscription"
	select {
	case <-ctx.Done():
		return "", false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var existingUID string
	err = tx.QueryRowContext(ctx,
		`SELECT subscription_uid FROM subscriptions
		 WHERE (order_id = $1 OR user_uid = $2) AND status = $3
		 LIMIT 1
		 FOR UPDATE`,
		params.OrderID, params.UserUID, models.SubscriptionStatusActive).Scan(&existingUID)
	if err == nil {
		return existingUID, false, nil
	}
	if err != sql.ErrNoRows {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}

	subscriptionUID := uuid.New().String()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO subscriptions (subscription_uid, user_uid, plan_type, status,
			 start_date, end_date, order_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		subscriptionUID, params.UserUID, params.PlanType, models.SubscriptionStatusActive,
		params.StartDate, params.EndDate, params.OrderID)
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET is_premium = true, premium_until = $2 WHERE uid = $1`,
		params.UserUID, params.EndDate)
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}

	err = insertDomainEventTx(ctx, tx, models.DomainSubscriptionCreated, map[string]any{
		"subscription_uid": subscriptionUID,
		"order_id":         params.OrderID,
		"plan_type":        params.PlanType,
		"end_date":         params.EndDate.Format(time.RFC3339),
	}, &params.UserUID)
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}

	if err = tx.Commit(); err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	return subscriptionUID, true, nil
}

// FindSubscriptionByOrderID возвращает подписку, созданную заказом.
func (s *Storage) FindSubscriptionByOrderID(ctx context.Context, orderID string) (*models.Subscription, error) {
	const op = "storage.FindSubscriptionByOrderID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, subscription_uid, user_uid, plan_type, status,
				start_date, end_date, order_id, last_warned_at
			  FROM subscriptions WHERE order_id = $1`
	row := s.DB.QueryRowContext(ctx, query, orderID)

	var result models.Subscription
	err := row.Scan(&result.ID, &result.SubscriptionUID, &result.UserUID, &result.PlanType,
		&result.Status, &result.StartDate, &result.EndDate, &result.OrderID, &result.LastWarnedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, ErrSubscriptionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &result, nil
}

// ExtendSubscription продлевает активную подписку заказа на указанное
// число дней. Дата окончания и premium_until пользователя двигаются
// одной транзакцией вместе с событием subscription_renewed.
func (s *Storage) ExtendSubscription(ctx context.Context, orderID string, days int) (string, error) {
	const op = "storage.ExtendSubscription"
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var subscriptionUID, userUID string
	var newEndDate time.Time
	err = tx.QueryRowContext(ctx,
		`UPDATE subscriptions
		 SET end_date = end_date + make_interval(days => $2)
		 WHERE order_id = $1 AND status = $3
		 RETURNING subscription_uid, user_uid, end_date`,
		orderID, days, models.SubscriptionStatusActive).Scan(&subscriptionUID, &userUID, &newEndDate)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("%s: %w", op, ErrSubscriptionNotFound)
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET is_premium = true, premium_until = $2 WHERE uid = $1`,
		userUID, newEndDate)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	err = insertDomainEventTx(ctx, tx, models.DomainSubscriptionRenewed, map[string]any{
		"subscription_uid": subscriptionUID,
		"order_id":         orderID,
		"end_date":         newEndDate.Format(time.RFC3339),
	}, &userUID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if err = tx.Commit(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return subscriptionUID, nil
}

// ExpireSubscriptionByOrder досрочно завершает активную подписку заказа
// и отзывает премиум-доступ. Используется веткой возврата платежа,
// когда отзыв включен конфигурацией.
func (s *Storage) ExpireSubscriptionByOrder(ctx context.Context, orderID string) (bool, error) {
	const op = "storage.ExpireSubscriptionByOrder"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var subscriptionUID, userUID string
	err = tx.QueryRowContext(ctx,
		`UPDATE subscriptions
		 SET status = $2
		 WHERE order_id = $1 AND status = $3
		 RETURNING subscription_uid, user_uid`,
		orderID, models.SubscriptionStatusExpired, models.SubscriptionStatusActive).
		Scan(&subscriptionUID, &userUID)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET is_premium = false, premium_until = NULL WHERE uid = $1`,
		userUID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	err = insertDomainEventTx(ctx, tx, models.DomainSubscriptionRevoked, map[string]any{
		"subscription_uid": subscriptionUID,
		"order_id":         orderID,
	}, &userUID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}
