package transport

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/oryxworks/flowcore/internal/audit"
	"github.com/oryxworks/flowcore/internal/eventbus"
	"github.com/oryxworks/flowcore/model"
)

// defaultAnalyticsWindow bounds the summary query when no since parameter is
// given.
const defaultAnalyticsWindow = 30 * 24 * time.Hour

func handleAnalyticsSummary(recorder *audit.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())

		if orgID := chi.URLParam(r, "organizationId"); orgID != rctx.OrganizationID {
			WriteError(w, r, model.NewForbiddenError("analytics are scoped to your own organization"))
			return
		}

		since := time.Now().UTC().Add(-defaultAnalyticsWindow)
		if raw := r.URL.Query().Get("since"); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				WriteError(w, r, model.NewBadRequestError("since must be an RFC 3339 timestamp"))
				return
			}
			since = parsed
		}

		summary, err := recorder.Summary(r.Context(), *rctx, since)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, summary)
	}
}

func handleExecutionLogs(recorder *audit.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		kind, err := model.ParseEntityKind(chi.URLParam(r, "entityType"))
		if err != nil {
			WriteError(w, r, err)
			return
		}

		logs, err := recorder.Logs(r.Context(), *rctx, kind, chi.URLParam(r, "entityId"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": logs})
	}
}

func handleEventList(store eventbus.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())

		limit := 100
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 || parsed > 1000 {
				WriteError(w, r, model.NewBadRequestError("limit must be between 1 and 1000"))
				return
			}
			limit = parsed
		}

		events, err := store.Events(r.Context(),
			rctx.OrganizationID,
			r.URL.Query().Get("event_type"),
			r.URL.Query().Get("correlation_id"),
			limit,
		)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": events})
	}
}

func handleEventReplay(bus *eventbus.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		event, err := bus.Replay(r.Context(), chi.URLParam(r, "eventId"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"success": true, "event": event})
	}
}
