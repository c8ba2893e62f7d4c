package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oryxworks/flowcore/model"
)

// PgStore is a PostgreSQL-backed event Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL event store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Append persists the event. Payload and metadata go into jsonb columns; the
// organization ID is lifted into its own column for filtered queries.
func (s *PgStore) Append(ctx context.Context, event model.DomainEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}
	organizationID, _ := event.Metadata["organization_id"].(string)

	_, err = s.pool.Exec(ctx, `
		INSERT INTO domain_events
			(event_id, event_type, service_name, organization_id, correlation_id,
			 payload, metadata, processed_by, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.EventID, event.EventType, event.ServiceName, organizationID, event.CorrelationID,
		payload, metadata, event.ProcessedBy, event.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// MarkProcessed appends the consumer to the event's processed_by list.
func (s *PgStore) MarkProcessed(ctx context.Context, eventID, consumer string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE domain_events
		SET processed_by = array_append(processed_by, $1)
		WHERE event_id = $2 AND NOT ($1 = ANY(processed_by))`,
		consumer, eventID,
	)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

// Events returns persisted events, newest first.
func (s *PgStore) Events(ctx context.Context, organizationID, eventType, correlationID string, limit int) ([]model.DomainEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, event_type, service_name, correlation_id,
		       payload, metadata, processed_by, published_at
		FROM domain_events
		WHERE ($1 = '' OR organization_id = $1)
		  AND ($2 = '' OR event_type = $2)
		  AND ($3 = '' OR correlation_id = $3)
		ORDER BY published_at DESC
		LIMIT $4`,
		organizationID, eventType, correlationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var result []model.DomainEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, event)
	}
	return result, rows.Err()
}

// Event returns one persisted event by ID.
func (s *PgStore) Event(ctx context.Context, eventID string) (model.DomainEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, event_type, service_name, correlation_id,
		       payload, metadata, processed_by, published_at
		FROM domain_events
		WHERE event_id = $1`,
		eventID,
	)
	if err != nil {
		return model.DomainEvent{}, fmt.Errorf("query event: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return model.DomainEvent{}, fmt.Errorf("query event: %w", err)
		}
		return model.DomainEvent{}, model.NewNotFoundError(fmt.Sprintf("event %q not found", eventID))
	}
	return scanEvent(rows)
}

func scanEvent(rows pgx.Rows) (model.DomainEvent, error) {
	var (
		event    model.DomainEvent
		payload  []byte
		metadata []byte
	)
	if err := rows.Scan(
		&event.EventID, &event.EventType, &event.ServiceName, &event.CorrelationID,
		&payload, &metadata, &event.ProcessedBy, &event.PublishedAt,
	); err != nil {
		return model.DomainEvent{}, fmt.Errorf("scan event: %w", err)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &event.Payload); err != nil {
			return model.DomainEvent{}, fmt.Errorf("unmarshal event payload: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
			return model.DomainEvent{}, fmt.Errorf("unmarshal event metadata: %w", err)
		}
	}
	return event, nil
}
