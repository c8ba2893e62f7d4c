// Package audit records workflow execution history. Every operation attempt,
// successful or not, lands in the execution log; analytics aggregates over
// it.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oryxworks/flowcore/internal/observability"
	"github.com/oryxworks/flowcore/model"
)

// Store persists execution log entries.
type Store interface {
	// AppendLog persists one execution log entry.
	AppendLog(ctx context.Context, entry model.ExecutionLogEntry) error

	// Logs returns execution log entries for an entity, newest first.
	Logs(ctx context.Context, organizationID string, kind model.EntityKind, entityID string) ([]model.ExecutionLogEntry, error)

	// Summary aggregates execution log rows for an organization since the
	// given time.
	Summary(ctx context.Context, organizationID string, since time.Time) (model.AnalyticsSummary, error)
}

// Recorder writes execution log entries. Logging failures are reported to the
// application log but never fail the recorded operation.
type Recorder struct {
	store  Store
	logger *zap.Logger
}

// NewRecorder creates a Recorder over the given store.
func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Record appends one execution log entry. Best effort.
func (r *Recorder) Record(ctx context.Context, entry model.ExecutionLogEntry) {
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now().UTC()

	if err := r.store.AppendLog(ctx, entry); err != nil {
		observability.LoggerFrom(ctx, r.logger).Error("execution log write failed",
			zap.String("entity_id", entry.EntityID),
			zap.String("action", entry.Action),
			zap.Error(err),
		)
	}
}

// Logs returns the execution history for one entity.
func (r *Recorder) Logs(ctx context.Context, rc model.RequestContext, kind model.EntityKind, entityID string) ([]model.ExecutionLogEntry, error) {
	return r.store.Logs(ctx, rc.OrganizationID, kind, entityID)
}

// Summary aggregates the organization's execution history since the given
// time.
func (r *Recorder) Summary(ctx context.Context, rc model.RequestContext, since time.Time) (model.AnalyticsSummary, error) {
	return r.store.Summary(ctx, rc.OrganizationID, since)
}
