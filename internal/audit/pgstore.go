package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oryxworks/flowcore/model"
)

// PgStore is a PostgreSQL-backed audit Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL audit store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// AppendLog persists one execution log entry.
func (s *PgStore) AppendLog(ctx context.Context, entry model.ExecutionLogEntry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal log metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_execution_log
			(id, organization_id, entity_kind, entity_id, step_id, action,
			 actor_id, duration_ms, success, error_message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID, entry.OrganizationID, entry.EntityKind, entry.EntityID, entry.StepID, entry.Action,
		entry.ActorID, entry.DurationMS, entry.Success, entry.ErrorMessage, metadata, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution log: %w", err)
	}
	return nil
}

// Logs returns execution log entries for an entity, newest first.
func (s *PgStore) Logs(ctx context.Context, organizationID string, kind model.EntityKind, entityID string) ([]model.ExecutionLogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, organization_id, entity_kind, entity_id, step_id, action,
		       actor_id, duration_ms, success, error_message, metadata, created_at
		FROM workflow_execution_log
		WHERE organization_id = $1 AND entity_kind = $2 AND entity_id = $3
		ORDER BY created_at DESC`,
		organizationID, kind, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("query execution log: %w", err)
	}
	defer rows.Close()

	var result []model.ExecutionLogEntry
	for rows.Next() {
		var (
			entry    model.ExecutionLogEntry
			metadata []byte
		)
		if err := rows.Scan(
			&entry.ID, &entry.OrganizationID, &entry.EntityKind, &entry.EntityID, &entry.StepID, &entry.Action,
			&entry.ActorID, &entry.DurationMS, &entry.Success, &entry.ErrorMessage, &metadata, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan execution log: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal log metadata: %w", err)
			}
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

// Summary aggregates execution log rows for an organization since the given
// time.
func (s *PgStore) Summary(ctx context.Context, organizationID string, since time.Time) (model.AnalyticsSummary, error) {
	summary := model.AnalyticsSummary{
		OrganizationID: organizationID,
		ByAction:       make(map[string]int),
	}

	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE success),
		       COALESCE(AVG(duration_ms), 0)
		FROM workflow_execution_log
		WHERE organization_id = $1 AND created_at >= $2`,
		organizationID, since,
	).Scan(&summary.TotalOperations, &summary.SuccessCount, &summary.AverageDurationMS)
	if err != nil {
		return model.AnalyticsSummary{}, fmt.Errorf("aggregate execution log: %w", err)
	}
	if summary.TotalOperations > 0 {
		summary.SuccessRate = float64(summary.SuccessCount) / float64(summary.TotalOperations)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT action, COUNT(*)
		FROM workflow_execution_log
		WHERE organization_id = $1 AND created_at >= $2
		GROUP BY action`,
		organizationID, since,
	)
	if err != nil {
		return model.AnalyticsSummary{}, fmt.Errorf("aggregate actions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			action string
			count  int
		)
		if err := rows.Scan(&action, &count); err != nil {
			return model.AnalyticsSummary{}, fmt.Errorf("scan action count: %w", err)
		}
		summary.ByAction[action] = count
	}
	return summary, rows.Err()
}
