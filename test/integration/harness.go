// Package integration provides a reusable test harness for end-to-end
// testing of the workflow core server. It starts a full HTTP server over
// in-memory stores with gateway-mode identity.
package integration

import (
	"context"
	"encoding/json"
	"io"
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
	"github.com/oryxworks/flowcore/internal/transport"
	"github.com/oryxworks/flowcore/internal/workflow"
)

// Identity carries the gateway headers attached to harness requests.
type Identity struct {
	UserID         string
	OrganizationID string
	Email          string
	Roles          []string
}

// Admin returns the identity used to administer templates.
func Admin(org string) Identity {
	return Identity{UserID: "user-admin", OrganizationID: org, Email: "admin@example.com", Roles: []string{"admin"}}
}

// Manager returns an identity holding the manager role.
func Manager(org string) Identity {
	return Identity{UserID: "user-manager", OrganizationID: org, Email: "manager@example.com", Roles: []string{"manager"}}
}

// Technician returns an identity with no approval grants.
func Technician(org string) Identity {
	return Identity{UserID: "user-tech", OrganizationID: org, Email: "tech@example.com", Roles: []string{"technician"}}
}

// TestHarness encapsulates a fully wired server instance over in-memory
// stores.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	// Internal components exposed for advanced test scenarios.
	Entities *entity.MemoryStore
	Events   *eventbus.MemoryStore
	Bus      *eventbus.Bus
}

// NewTestHarness creates and starts a full server instance. The server is
// cleaned up when the test completes.
func NewTestHarness(t *testing.T) *TestHarness {
	t.Helper()

	h := &TestHarness{
		t:        t,
		Entities: entity.NewMemoryStore(),
		Events:   eventbus.NewMemoryStore(),
	}

	cfg := config.Defaults()
	cfg.Store.Driver = "memory"
	cfg.Server.HandlerTimeout = 10 * time.Second
	cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}

	logger := zap.NewNop()
	metrics := observability.InitMetrics(prometheus.NewRegistry())

	registryStore := registry.NewMemoryStore()
	states := workflow.NewMemoryStore()
	logs := audit.NewMemoryStore()

	h.Bus = eventbus.New("flowcore", time.Second, h.Events, logger, metrics)
	recorder := audit.NewRecorder(logs, logger)
	evaluator := authz.NewEvaluator(registryStore, time.Minute)
	engine := workflow.NewEngine(registryStore, states, h.Entities, evaluator, h.Bus, recorder, logger, metrics)
	svc := registry.NewService(registryStore, states, logger)
	svc.SetGrantCache(evaluator)

	router := transport.NewRouter(transport.Dependencies{
		Config:     cfg,
		Logger:     logger,
		Engine:     engine,
		Registry:   svc,
		Recorder:   recorder,
		Bus:        h.Bus,
		EventStore: h.Events,
		Metrics:    metrics,
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(func() {
		h.server.Close()
		h.Bus.Close(time.Second)
	})
	return h
}

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path string, id Identity) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, id)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, id Identity) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, id)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path string, id Identity) *http.Response {
	h.t.Helper()
	return h.doRequest("DELETE", path, nil, id)
}

func (h *TestHarness) doRequest(method, path string, body any, id Identity) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-User-Id", id.UserID)
	req.Header.Set("X-Organization-Id", id.OrganizationID)
	req.Header.Set("X-Email", id.Email)
	req.Header.Set("X-Roles", strings.Join(id.Roles, ","))

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks the status code and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	h.AssertStatus(t, resp, expected)
	h.ParseJSON(resp, target)
}
