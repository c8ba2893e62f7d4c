package entity

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oryxworks/flowcore/model"
)

// PgStore is a PostgreSQL-backed entity Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL entity store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Load returns all columns of the entity row as a field map.
func (s *PgStore) Load(ctx context.Context, organizationID string, kind model.EntityKind, entityID string) (map[string]any, error) {
	strat, err := StrategyFor(kind)
	if err != nil {
		return nil, err
	}

	// Table and column names come from the closed strategy set, never from
	// caller input, so interpolation is safe here.
	query := fmt.Sprintf(
		`SELECT * FROM %s WHERE %s = $1 AND organization_id = $2`,
		strat.Table, strat.IDColumn,
	)
	rows, err := s.pool.Query(ctx, query, entityID, organizationID)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", strat.Table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query %s: %w", strat.Table, err)
		}
		return nil, model.NewNotFoundError(
			fmt.Sprintf("%s %q not found", strat.Kind, entityID),
		)
	}

	values, err := rows.Values()
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", strat.Table, err)
	}

	fields := make(map[string]any, len(values))
	for i, fd := range rows.FieldDescriptions() {
		fields[fd.Name] = normalize(values[i])
	}
	return fields, nil
}

// SetStatus updates the entity's status column.
func (s *PgStore) SetStatus(ctx context.Context, organizationID string, kind model.EntityKind, entityID, status string) error {
	strat, err := StrategyFor(kind)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(
		`UPDATE %s SET %s = $1, updated_at = $2 WHERE %s = $3 AND organization_id = $4`,
		strat.Table, strat.StatusColumn, strat.IDColumn,
	)
	tag, err := s.pool.Exec(ctx, query, status, time.Now().UTC(), entityID, organizationID)
	if err != nil {
		return fmt.Errorf("update %s status: %w", strat.Table, err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(
			fmt.Sprintf("%s %q not found", strat.Kind, entityID),
		)
	}
	return nil
}

// normalize converts pgx scan values into the plain types the condition
// evaluator compares against.
func normalize(v any) any {
	switch t := v.(type) {
	case [16]byte: // uuid
		return fmt.Sprintf("%x-%x-%x-%x-%x", t[0:4], t[4:6], t[6:8], t[8:10], t[10:16])
	default:
		return v
	}
}
