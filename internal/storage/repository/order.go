package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/magabrotheeeer/payment-pipeline/internal/models"
)

// CreateOrder вставляет новый заказ со статусом created и возвращает его ID.
func (s *Storage) CreateOrder(ctx context.Context, order models.Order) (int64, error) {
	const op = "storage.CreateOrder"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO orders (order_id, user_uid, plan_type, amount, status)
			  VALUES ($1, $2, $3, $4, $5)
			  RETURNING id`
	var newID int64
	err := s.DB.QueryRowContext(ctx, query,
		order.OrderID, order.UserUID, order.PlanType, order.Amount,
		models.OrderStatusCreated).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// FindOrderByOrderID возвращает заказ по внешнему ID.
func (s *Storage) FindOrderByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	const op = "storage.FindOrderByOrderID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, order_id, user_uid, plan_type, amount, status, payment_id, created_at, updated_at
			  FROM orders WHERE order_id = $1`
	return s.scanOrder(s.DB.QueryRowContext(ctx, query, orderID), op)
}

// FindOrderByPaymentID возвращает заказ по ID платежа у провайдера.
func (s *Storage) FindOrderByPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	const op = "storage.FindOrderByPaymentID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, order_id, user_uid, plan_type, amount, status, payment_id, created_at, updated_at
			  FROM orders WHERE payment_id = $1`
	return s.scanOrder(s.DB.QueryRowContext(ctx, query, paymentID), op)
}

func (s *Storage) scanOrder(row *sql.Row, op string) (*models.Order, error) {
	var result models.Order
	err := row.Scan(&result.ID, &result.OrderID, &result.UserUID, &result.PlanType,
		&result.Amount, &result.Status, &result.PaymentID, &result.CreatedAt, &result.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, ErrOrderNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &result, nil
}

// MarkOrderSuccess переводит заказ в статус success и привязывает payment_id.
// Статус меняется только из created: повторный вызов для уже успешного
// заказа возвращает false без изменений.
func (s *Storage) MarkOrderSuccess(ctx context.Context, orderID, paymentID string) (bool, error) {
	const op = "storage.MarkOrderSuccess"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE orders
			  SET status = $1, payment_id = $2, updated_at = now()
			  WHERE order_id = $3 AND status = $4`
	result, err := s.DB.ExecContext(ctx, query,
		models.OrderStatusSuccess, paymentID, orderID, models.OrderStatusCreated)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected > 0, nil
}

// MarkOrderFailed переводит заказ в статус failed и в той же транзакции
// пишет доменное событие payment_failed. Уже терминальный заказ не
// изменяется, событие в этом случае не пишется.
func (s *Storage) MarkOrderFailed(ctx context.Context, orderID, paymentID string) (bool, error) {
	const op = "storage.MarkOrderFailed"
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

	query := `UPDATE orders
			  SET status = $1, payment_id = $2, updated_at = now()
			  WHERE order_id = $3 AND status = $4
			  RETURNING user_uid`
	var userUID string
	err = tx.QueryRowContext(ctx, query,
		models.OrderStatusFailed, paymentID, orderID, models.OrderStatusCreated).Scan(&userUID)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}

	err = insertDomainEventTx(ctx, tx, models.DomainPaymentFailed, map[string]any{
		"order_id":   orderID,
		"payment_id": paymentID,
	}, &userUID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}
