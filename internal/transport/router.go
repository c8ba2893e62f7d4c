package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/oryxworks/flowcore/internal/audit"
	"github.com/oryxworks/flowcore/internal/config"
	"github.com/oryxworks/flowcore/internal/eventbus"
	"github.com/oryxworks/flowcore/internal/observability"
	"github.com/oryxworks/flowcore/internal/registry"
	"github.com/oryxworks/flowcore/internal/workflow"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Engine       *workflow.Engine
	Registry     *registry.Service
	Recorder     *audit.Recorder
	Bus          *eventbus.Bus
	EventStore   eventbus.Store
	Metrics      *observability.Metrics
	Authenticate func(http.Handler) http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(deps.Logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if deps.Config.Observability.Tracing.Enabled {
		r.Use(observability.TracingMiddleware)
	}

	// Public routes — bypass authentication.
	r.Get("/healthz", handleHealth)
	r.Get("/readyz", handleReady)
	if deps.Config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = GatewayAuthenticator()
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext(deps.Config.Identity.ClaimPaths))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(deps.Logger))
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		// Workflow lifecycle.
		r.Post("/workflows/initialize", handleWorkflowInitialize(deps.Engine))
		r.Post("/workflows/transition", handleWorkflowTransition(deps.Engine))
		r.Post("/workflows/approve", handleWorkflowApprove(deps.Engine))
		r.Post("/workflows/reject", handleWorkflowReject(deps.Engine))
		r.Post("/workflows/reassign", handleWorkflowReassign(deps.Engine))
		r.Post("/workflows/complete", handleWorkflowComplete(deps.Engine))
		r.Get("/workflows/state/{entityType}/{entityId}", handleWorkflowState(deps.Engine))
		r.Get("/workflows/approvals/{entityType}/{entityId}", handleWorkflowApprovals(deps.Engine))

		// Execution history and analytics.
		r.Get("/workflows/logs/{entityType}/{entityId}", handleExecutionLogs(deps.Recorder))
		r.Get("/workflows/analytics/{organizationId}", handleAnalyticsSummary(deps.Recorder))

		// Template registry administration.
		r.Post("/templates", handleTemplateCreate(deps.Registry))
		r.Get("/templates", handleTemplateList(deps.Registry))
		r.Get("/templates/{templateId}", handleTemplateGet(deps.Registry))
		r.Put("/templates/{templateId}", handleTemplateUpdate(deps.Registry))
		r.Delete("/templates/{templateId}", handleTemplateDelete(deps.Registry))
		r.Post("/templates/{templateId}/default", handleTemplateSetDefault(deps.Registry))
		r.Post("/templates/{templateId}/steps", handleStepCreate(deps.Registry))
		r.Put("/steps/{stepId}", handleStepUpdate(deps.Registry))
		r.Delete("/steps/{stepId}", handleStepDelete(deps.Registry))
		r.Post("/steps/{stepId}/roles", handleRoleAssignmentCreate(deps.Registry))
		r.Get("/steps/{stepId}/roles", handleRoleAssignmentList(deps.Registry))
		r.Delete("/steps/{stepId}/roles/{assignmentId}", handleRoleAssignmentDelete(deps.Registry))
		r.Post("/steps/{stepId}/conditions", handleConditionCreate(deps.Registry))
		r.Get("/steps/{stepId}/conditions", handleConditionList(deps.Registry))
		r.Delete("/steps/{stepId}/conditions/{conditionId}", handleConditionDelete(deps.Registry))

		// Event store.
		r.Get("/events", handleEventList(deps.EventStore))
		r.Post("/events/{eventId}/replay", handleEventReplay(deps.Bus))
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
