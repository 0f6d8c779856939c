package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/magabrotheeeer/payment-pipeline/internal/models"
)

// ClaimEvent атомарно захватывает право обработки события по ключу.
// Уникальный ключ в базе является единственным примитивом конкурентности:
// при конфликте вставки возвращается ErrAlreadyProcessed, и доставка
// должна быть подтверждена провайдеру без повторных побочных эффектов.
func (s *Storage) ClaimEvent(ctx context.Context, eventKey, eventType string) error {
	const op = "storage.ClaimEvent"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO processed_events (event_key, event_type, claimed_at)
			  VALUES ($1, $2, now())
			  ON CONFLICT (event_key) DO NOTHING`
	result, err := s.DB.ExecContext(ctx, query, eventKey, eventType)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, ErrAlreadyProcessed)
	}
	return nil
}

// CompleteEvent помечает захваченное событие как обработанное
// и сохраняет краткий итог обработки.
func (s *Storage) CompleteEvent(ctx context.Context, eventKey, outcomeSummary string) error {
	const op = "storage.CompleteEvent"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE processed_events
			  SET completed_at = now(), outcome_summary = $2
			  WHERE event_key = $1`
	if _, err := s.DB.ExecContext(ctx, query, eventKey, outcomeSummary); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ReleaseEvent снимает захват после неудачной обработки, чтобы повторная
// доставка от провайдера смогла обработать событие заново.
func (s *Storage) ReleaseEvent(ctx context.Context, eventKey string) error {
	const op = "storage.ReleaseEvent"

	query := `DELETE FROM processed_events
			  WHERE event_key = $1 AND completed_at IS NULL`
	if _, err := s.DB.ExecContext(ctx, query, eventKey); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListStaleClaims возвращает события, захваченные раньше указанного
// момента и так и не завершенные. Такие записи означают падение между
// захватом и обработкой и требуют внимания оператора.
func (s *Storage) ListStaleClaims(ctx context.Context, olderThan time.Time, limit int) ([]*models.ProcessedEvent, error) {
	const op = "storage.ListStaleClaims"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT event_key, event_type, claimed_at, completed_at, outcome_summary
			  FROM processed_events
			  WHERE completed_at IS NULL AND claimed_at < $1
			  ORDER BY claimed_at
			  LIMIT $2`
	rows, err := s.DB.QueryContext(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.ProcessedEvent
	for rows.Next() {
		var pe models.ProcessedEvent
		if err := rows.Scan(&pe.EventKey, &pe.EventType, &pe.ClaimedAt,
			&pe.CompletedAt, &pe.OutcomeSummary); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &pe)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// InsertDomainEvent пишет доменное событие вне транзакции. Используется
// для веток, где запись журнала не сопровождается изменением леджера.
func (s *Storage) InsertDomainEvent(ctx context.Context, eventType string, eventData map[string]any, userUID *string) error {
	const op = "storage.InsertDomainEvent"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	if err := insertDomainEventTx(ctx, s.DB, eventType, eventData, userUID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// querier объединяет *sql.DB и *sql.Tx для записей журнала.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertDomainEventTx(ctx context.Context, q querier, eventType string, eventData map[string]any, userUID *string) error {
	payload, err := json.Marshal(eventData)
	if err != nil {
		return err
	}
	query := `INSERT INTO domain_events (event_type, event_data, user_uid)
			  VALUES ($1, $2, $3)`
	_, err = q.ExecContext(ctx, query, eventType, payload, userUID)
	return err
}
