package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/magabrotheeeer/payment-pipeline/internal/models"
)

// ExpireDueSubscriptions переводит активные подписки с истекшей датой
// окончания в статус expired и отзывает премиум-доступ владельцев.
// Обход выполняется порциями по batchSize строк: каждая порция
// блокируется через FOR UPDATE SKIP LOCKED и обрабатывается одной
// транзакцией (статус, флаг пользователя, доменное событие), поэтому
// параллельный или повторный запуск над теми же строками безопасен.
func (s *Storage) ExpireDueSubscriptions(ctx context.Context, now time.Time, batchSize int) (int, error) {
	const op = "storage.ExpireDueSubscriptions"

	total := 0
	for {
		select {
		case <-ctx.Done():
			return total, fmt.Errorf("%s: %w", op, ctx.Err())
		default:
		}

		expired, err := s.expireBatch(ctx, now, batchSize)
		if err != nil {
			return total, fmt.Errorf("%s: %w", op, err)
		}
		total += expired
		if expired < batchSize {
			return total, nil
		}
	}
}

func (s *Storage) expireBatch(ctx context.Context, now time.Time, batchSize int) (int, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, subscription_uid, user_uid FROM subscriptions
		 WHERE status = $1 AND end_date < $2
		 ORDER BY id
		 LIMIT $3
		 FOR UPDATE SKIP LOCKED`,
		models.SubscriptionStatusActive, now, batchSize)
	if err != nil {
		return 0, err
	}

	type dueRow struct {
		id              int64
		subscriptionUID string
		userUID         string
	}
	var due []dueRow
	for rows.Next() {
		var r dueRow
		if err := rows.Scan(&r.id, &r.subscriptionUID, &r.userUID); err != nil {
			_ = rows.Close()
			return 0, err
		}
		due = append(due, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, err
	}
	_ = rows.Close()

	if len(due) == 0 {
		return 0, tx.Commit()
	}

	for _, r := range due {
		if _, err := tx.ExecContext(ctx,
			`UPDATE subscriptions SET status = $2 WHERE id = $1`,
			r.id, models.SubscriptionStatusExpired); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET is_premium = false, premium_until = NULL WHERE uid = $1`,
			r.userUID); err != nil {
			return 0, err
		}
		err := insertDomainEventTx(ctx, tx, models.DomainSubscriptionExpired, map[string]any{
			"subscription_uid": r.subscriptionUID,
		}, &r.userUID)
		if err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(due), nil
}

// FindSubscriptionsToWarn возвращает активные подписки, истекающие в
// пределах окна предупреждения и еще не предупрежденные сегодня.
func (s *Storage) FindSubscriptionsToWarn(ctx context.Context, now time.Time, window time.Duration, limit int) ([]*models.Subscription, error) {
	const op = "storage.FindSubscriptionsToWarn"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	day := now.Truncate(24 * time.Hour)
	query := `SELECT id, subscription_uid, user_uid, plan_type, status,
				start_date, end_date, order_id, last_warned_at
			  FROM subscriptions
			  WHERE status = $1
			    AND end_date >= $2 AND end_date < $3
			    AND (last_warned_at IS NULL OR last_warned_at < $4)
			  ORDER BY end_date
			  LIMIT $5`
	rows, err := s.DB.QueryContext(ctx, query,
		models.SubscriptionStatusActive, now, now.Add(window), day, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Subscription
	for rows.Next() {
		var sub models.Subscription
		if err := rows.Scan(&sub.ID, &sub.SubscriptionUID, &sub.UserUID, &sub.PlanType,
			&sub.Status, &sub.StartDate, &sub.EndDate, &sub.OrderID, &sub.LastWarnedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// MarkWarned фиксирует дату предупреждения подписки и пишет доменное
// событие subscription_warning одной транзакцией. Повторный вызов в тот
// же день возвращает false и ничего не меняет, поэтому пользователь не
// получает дубликаты предупреждений.
func (s *Storage) MarkWarned(ctx context.Context, subscriptionUID string, day time.Time) (bool, error) {
	const op = "storage.MarkWarned"
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

	day = day.Truncate(24 * time.Hour)
	var userUID string
	var endDate time.Time
	err = tx.QueryRowContext(ctx,
		`UPDATE subscriptions
		 SET last_warned_at = $2
		 WHERE subscription_uid = $1 AND status = $3
		   AND (last_warned_at IS NULL OR last_warned_at < $2)
		 RETURNING user_uid, end_date`,
		subscriptionUID, day, models.SubscriptionStatusActive).Scan(&userUID, &endDate)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}

	err = insertDomainEventTx(ctx, tx, models.DomainSubscriptionWarning, map[string]any{
		"subscription_uid": subscriptionUID,
		"end_date":         endDate.Format(time.RFC3339),
	}, &userUID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

// CountEntitlementInconsistencies считает пользователей, у которых флаг
// премиум-доступа расходится с фактическим наличием активной подписки.
// Ненулевое значение означает частично примененную операцию и требует
// ручного вмешательства.
func (s *Storage) CountEntitlementInconsistencies(ctx context.Context, now time.Time) (int, error) {
	const op = "storage.CountEntitlementInconsistencies"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT count(*) FROM users u
			  WHERE u.is_premium <> EXISTS (
			      SELECT 1 FROM subscriptions s
			      WHERE s.user_uid = u.uid
			        AND s.status = $1
			        AND s.end_date > $2
			  )`
	var count int
	if err := s.DB.QueryRowContext(ctx, query,
		models.SubscriptionStatusActive, now).Scan(&count); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}
