package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"marketplace-ledger-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (r *repos) CreateTask(ctx context.Context, task *models.ReconciliationTask) error {
	if task.Id == "" {
		task.Id = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if task.Status == "" {
		task.Status = models.TaskOpen
	}

	_, err := r.q.ExecContext(ctx, queryInsertReconciliationTask,
		task.Id, task.Kind, task.Reference, task.UserId, task.Currency, task.Amount, task.Reason, task.Status, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert reconciliation task: %w", err)
	}

	zap.L().Warn("Reconciliation task recorded",
		zap.String("kind", task.Kind),
		zap.String("reference", task.Reference),
		zap.String("user_id", task.UserId),
		zap.String("currency", task.Currency),
		zap.Int64("amount", task.Amount),
		zap.String("reason", task.Reason))
	return nil
}

func (r *repos) ListOpenTasks(ctx context.Context, limit int) ([]models.ReconciliationTask, error) {
	rows, err := r.q.QueryContext(ctx, queryGetOpenReconciliationTasks, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliation tasks: %w", err)
	}
	defer closeRows(rows)

	var tasks []models.ReconciliationTask
	for rows.Next() {
		var task models.ReconciliationTask
		var resolvedAt sql.NullTime
		err := rows.Scan(&task.Id, &task.Kind, &task.Reference, &task.UserId, &task.Currency, &task.Amount,
			&task.Reason, &task.Status, &task.CreatedAt, &resolvedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation task: %w", err)
		}
		if resolvedAt.Valid {
			task.ResolvedAt = &resolvedAt.Time
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reconciliation rows: %w", err)
	}
	return tasks, nil
}

func (r *repos) ResolveTask(ctx context.Context, id string, at time.Time) error {
	result, err := r.q.ExecContext(ctx, queryResolveReconciliationTask, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to resolve reconciliation task: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: open reconciliation task %s", models.ErrNotFound, id)
	}
	return nil
}
