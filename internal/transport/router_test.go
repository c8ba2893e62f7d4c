package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/oryxworks/flowcore/internal/audit"
	"github.com/oryxworks/flowcore/internal/authz"
	"github.com/oryxworks/flowcore/internal/config"
	"github.com/oryxworks/flowcore/internal/entity"
	"github.com/oryxworks/flowcore/internal/eventbus"
	"github.com/oryxworks/flowcore/internal/observability"
	"github.com/oryxworks/flowcore/internal/registry"
	"github.com/oryxworks/flowcore/internal/workflow"
	"github.com/oryxworks/flowcore/model"
)

const testOrg = "org-1"

type testStack struct {
	router    http.Handler
	registry  *registry.MemoryStore
	states    *workflow.MemoryStore
	entities  *entity.MemoryStore
	events    *eventbus.MemoryStore
	logs      *audit.MemoryStore
	bus       *eventbus.Bus
	evaluator *authz.Evaluator
}

// newTestStack wires the full service over in-memory stores with gateway
// authentication.
func newTestStack(t *testing.T) *testStack {
	t.Helper()

	s := &testStack{
		registry: registry.NewMemoryStore(),
		states:   workflow.NewMemoryStore(),
		entities: entity.NewMemoryStore(),
		events:   eventbus.NewMemoryStore(),
		logs:     audit.NewMemoryStore(),
	}

	cfg := config.Defaults()
	cfg.Server.CORS.AllowedOrigins = []string{"https://app.example.com"}
	cfg.Server.HandlerTimeout = 5 * time.Second

	logger := zap.NewNop()
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	s.bus = eventbus.New("flowcore", time.Second, s.events, logger, metrics)
	recorder := audit.NewRecorder(s.logs, logger)
	s.evaluator = authz.NewEvaluator(s.registry, time.Minute)
	engine := workflow.NewEngine(s.registry, s.states, s.entities, s.evaluator, s.bus, recorder, logger, metrics)
	svc := registry.NewService(s.registry, s.states, logger)
	svc.SetGrantCache(s.evaluator)

	s.router = NewRouter(Dependencies{
		Config:     cfg,
		Logger:     logger,
		Engine:     engine,
		Registry:   svc,
		Recorder:   recorder,
		Bus:        s.bus,
		EventStore: s.events,
		Metrics:    metrics,
	})
	return s
}

// seedTemplate installs a three-step work order template: Draft (no
// approval), Review (manager approves), Closed (terminal).
func (s *testStack) seedTemplate(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	tpl := model.WorkflowTemplate{
		ID: "tpl-1", OrganizationID: testOrg, EntityKind: model.KindWorkOrder,
		Name: "Standard Review", IsDefault: true, IsActive: true,
		Version: 1, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.registry.CreateTemplate(ctx, tpl); err != nil {
		t.Fatalf("seed template: %v", err)
	}
	steps := []model.TemplateStep{
		{ID: "step-draft", TemplateID: "tpl-1", Name: "Draft", StepOrder: 1,
			ApprovalType: model.ApprovalTypeNone, EntityStatus: "draft", CreatedAt: now},
		{ID: "step-review", TemplateID: "tpl-1", Name: "Review", StepOrder: 2,
			ApprovalType: model.ApprovalTypeRole, EntityStatus: "in_review",
			CanApprove: true, CanReject: true, CreatedAt: now},
		{ID: "step-closed", TemplateID: "tpl-1", Name: "Closed", StepOrder: 3,
			ApprovalType: model.ApprovalTypeRole, EntityStatus: "closed", CreatedAt: now},
	}
	for _, st := range steps {
		if err := s.registry.CreateStep(ctx, st); err != nil {
			t.Fatalf("seed step %s: %v", st.Name, err)
		}
	}
	grants := []model.StepRoleAssignment{
		{ID: "grant-review", StepID: "step-review", Role: "manager",
			CanView: true, CanApprove: true, CanReject: true, CreatedAt: now},
		{ID: "grant-closed", StepID: "step-closed", Role: "manager",
			CanView: true, CanApprove: true, CanReject: true, CreatedAt: now},
	}
	for _, g := range grants {
		if err := s.registry.CreateRoleAssignment(ctx, g); err != nil {
			t.Fatalf("seed grant: %v", err)
		}
	}
}

// request performs an authenticated request through the router using gateway
// identity headers.
func (s *testStack) request(t *testing.T, method, path, body string, roles ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", "user-1")
	req.Header.Set("X-Organization-Id", testOrg)
	if len(roles) > 0 {
		req.Header.Set("X-Roles", strings.Join(roles, ","))
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestRouterHealthEndpoints(t *testing.T) {
	s := newTestStack(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		if w.Code != 200 {
			t.Errorf("GET %s = %d, want 200 without credentials", path, w.Code)
		}
	}
}

func TestRouterRejectsMissingIdentity(t *testing.T) {
	s := newTestStack(t)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest("GET", "/templates", nil))
	if w.Code != 401 {
		t.Fatalf("status = %d, want 401 without identity headers", w.Code)
	}
}

func TestRouterSecurityAndCorrelationHeaders(t *testing.T) {
	s := newTestStack(t)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))

	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
	if w.Header().Get("X-Correlation-Id") == "" {
		t.Error("response should carry X-Correlation-Id")
	}
}

func TestWorkflowLifecycleOverHTTP(t *testing.T) {
	s := newTestStack(t)
	s.seedTemplate(t)
	s.entities.Put(testOrg, model.KindWorkOrder, "wo-1", map[string]any{"status": "new"})

	// Initialize: auto-advances past the Draft step into Review.
	w := s.request(t, "POST", "/workflows/initialize",
		`{"entity_type":"work_orders","entity_id":"wo-1"}`)
	if w.Code != 201 {
		t.Fatalf("initialize = %d, body %s", w.Code, w.Body.String())
	}

	w = s.request(t, "GET", "/workflows/state/work_orders/wo-1", "")
	if w.Code != 200 {
		t.Fatalf("state = %d", w.Code)
	}
	state := decodeBody(t, w)
	if state["current_step_id"] != "step-draft" {
		t.Errorf("current step = %v, want step-draft", state["current_step_id"])
	}

	// Completion before the terminal step is a conflict.
	w = s.request(t, "POST", "/workflows/complete",
		`{"entity_type":"work_orders","entity_id":"wo-1"}`, "manager")
	if w.Code != 409 {
		t.Errorf("complete at draft = %d, want 409", w.Code)
	}

	// Draft is an auto step, so approve advances to Review without a role
	// check.
	w = s.request(t, "POST", "/workflows/approve",
		`{"entity_type":"work_orders","entity_id":"wo-1"}`, "manager")
	if w.Code != 200 {
		t.Fatalf("approve draft = %d, body %s", w.Code, w.Body.String())
	}

	w = s.request(t, "GET", "/workflows/state/work_orders/wo-1", "")
	state = decodeBody(t, w)
	if state["current_step_id"] != "step-review" {
		t.Errorf("current step = %v, want step-review", state["current_step_id"])
	}

	// Review is role gated.
	w = s.request(t, "POST", "/workflows/approve",
		`{"entity_type":"work_orders","entity_id":"wo-1"}`, "technician")
	if w.Code != 403 {
		t.Errorf("approve review as technician = %d, want 403", w.Code)
	}

	w = s.request(t, "POST", "/workflows/approve",
		`{"entity_type":"work_orders","entity_id":"wo-1"}`, "manager")
	if w.Code != 200 {
		t.Fatalf("approve review = %d, body %s", w.Code, w.Body.String())
	}

	// Approving past the terminal step has no target.
	w = s.request(t, "POST", "/workflows/approve",
		`{"entity_type":"work_orders","entity_id":"wo-1"}`, "manager")
	if w.Code != 412 {
		t.Errorf("approve at terminal = %d, want 412", w.Code)
	}

	// Completion at the terminal step removes the state row.
	w = s.request(t, "POST", "/workflows/complete",
		`{"entity_type":"work_orders","entity_id":"wo-1"}`, "manager")
	if w.Code != 200 {
		t.Fatalf("complete = %d, body %s", w.Code, w.Body.String())
	}

	w = s.request(t, "GET", "/workflows/state/work_orders/wo-1", "")
	if w.Code != 404 {
		t.Errorf("state after completion = %d, want 404", w.Code)
	}
}

func TestTemplateCRUDOverHTTP(t *testing.T) {
	s := newTestStack(t)

	w := s.request(t, "POST", "/templates",
		`{"name":"Incident Flow","entity_type":"safety_incidents"}`, "admin")
	if w.Code != 201 {
		t.Fatalf("create template = %d, body %s", w.Code, w.Body.String())
	}
	created := decodeBody(t, w)
	tplID, _ := created["id"].(string)
	if tplID == "" {
		t.Fatal("created template has no id")
	}

	w = s.request(t, "POST", "/templates/"+tplID+"/steps",
		`{"name":"Draft","step_order":1,"approval_type":"none","entity_status":"draft"}`, "admin")
	if w.Code != 201 {
		t.Fatalf("create step = %d, body %s", w.Code, w.Body.String())
	}

	// Duplicate step order is rejected with a validation error.
	w = s.request(t, "POST", "/templates/"+tplID+"/steps",
		`{"name":"Also First","step_order":1,"entity_status":"draft"}`, "admin")
	if w.Code != 422 {
		t.Errorf("duplicate step order = %d, want 422", w.Code)
	}

	w = s.request(t, "POST", "/templates/"+tplID+"/default", "", "admin")
	if w.Code != 200 {
		t.Errorf("set default = %d, body %s", w.Code, w.Body.String())
	}

	w = s.request(t, "GET", "/templates", "")
	if w.Code != 200 {
		t.Fatalf("list templates = %d", w.Code)
	}

	w = s.request(t, "DELETE", "/templates/"+tplID, "", "admin")
	if w.Code != 200 {
		t.Errorf("delete template = %d, body %s", w.Code, w.Body.String())
	}
}

func TestUnknownEntityTypeRejected(t *testing.T) {
	s := newTestStack(t)

	w := s.request(t, "POST", "/workflows/initialize",
		`{"entity_type":"invoices","entity_id":"inv-1"}`)
	if w.Code != 400 {
		t.Errorf("status = %d, want 400 for unknown entity type", w.Code)
	}
}

func TestAnalyticsScopedToOwnOrganization(t *testing.T) {
	s := newTestStack(t)

	w := s.request(t, "GET", "/workflows/analytics/other-org", "")
	if w.Code != 403 {
		t.Errorf("status = %d, want 403 for foreign organization", w.Code)
	}

	w = s.request(t, "GET", "/workflows/analytics/"+testOrg, "")
	if w.Code != 200 {
		t.Errorf("status = %d, want 200 for own organization", w.Code)
	}
}

func TestEventListAndReplayOverHTTP(t *testing.T) {
	s := newTestStack(t)
	s.seedTemplate(t)
	s.entities.Put(testOrg, model.KindWorkOrder, "wo-2", map[string]any{"status": "new"})

	w := s.request(t, "POST", "/workflows/initialize",
		`{"entity_type":"work_orders","entity_id":"wo-2"}`)
	if w.Code != 201 {
		t.Fatalf("initialize = %d", w.Code)
	}

	w = s.request(t, "GET", "/events?event_type="+model.EventWorkflowInitialized, "")
	if w.Code != 200 {
		t.Fatalf("list events = %d", w.Code)
	}
	body := decodeBody(t, w)
	data, _ := body["data"].([]any)
	if len(data) != 1 {
		t.Fatalf("events = %d, want 1", len(data))
	}
	first, _ := data[0].(map[string]any)
	eventID, _ := first["event_id"].(string)

	w = s.request(t, "POST", "/events/"+eventID+"/replay", "")
	if w.Code != 200 {
		t.Errorf("replay = %d, body %s", w.Code, w.Body.String())
	}

	w = s.request(t, "POST", "/events/no-such-event/replay", "")
	if w.Code != 404 {
		t.Errorf("replay unknown = %d, want 404", w.Code)
	}
}

func TestExecutionLogsOverHTTP(t *testing.T) {
	s := newTestStack(t)
	s.seedTemplate(t)
	s.entities.Put(testOrg, model.KindWorkOrder, "wo-3", map[string]any{"status": "new"})

	w := s.request(t, "POST", "/workflows/initialize",
		`{"entity_type":"work_orders","entity_id":"wo-3"}`)
	if w.Code != 201 {
		t.Fatalf("initialize = %d", w.Code)
	}

	w = s.request(t, "GET", "/workflows/logs/work_orders/wo-3", "")
	if w.Code != 200 {
		t.Fatalf("logs = %d", w.Code)
	}
	body := decodeBody(t, w)
	data, _ := body["data"].([]any)
	if len(data) != 1 {
		t.Errorf("log rows = %d, want 1", len(data))
	}
}

func TestErrorEnvelopeCarriesCorrelationID(t *testing.T) {
	s := newTestStack(t)

	req := httptest.NewRequest("GET", "/workflows/state/work_orders/missing", nil)
	req.Header.Set("X-User-Id", "user-1")
	req.Header.Set("X-Organization-Id", testOrg)
	req.Header.Set("X-Correlation-Id", "corr-test-1")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != 404 {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	body := decodeBody(t, w)
	errBody, _ := body["error"].(map[string]any)
	if errBody["correlation_id"] != "corr-test-1" {
		t.Errorf("correlation_id = %v, want corr-test-1", errBody["correlation_id"])
	}
}
