package integration

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/oryxworks/flowcore/model"
)

const org = "acme-corp"

// buildIncidentTemplate configures a three-step safety incident template
// entirely over the HTTP API: Reported (no approval), Investigation (manager
// approves, gated on severity), Resolved (terminal).
func buildIncidentTemplate(t *testing.T, h *TestHarness) (templateID string, stepIDs map[string]string) {
	t.Helper()
	admin := Admin(org)
	stepIDs = make(map[string]string)

	var tpl map[string]any
	resp := h.POST("/templates", map[string]any{
		"name":        "Incident Handling",
		"entity_type": "safety_incidents",
	}, admin)
	h.AssertJSON(t, resp, http.StatusCreated, &tpl)
	templateID, _ = tpl["id"].(string)

	steps := []map[string]any{
		{"name": "Reported", "step_order": 1, "approval_type": "none", "entity_status": "reported"},
		{"name": "Investigation", "step_order": 2, "approval_type": "role",
			"entity_status": "investigating", "sla_hours": 48},
		{"name": "Resolved", "step_order": 3, "approval_type": "role", "entity_status": "resolved"},
	}
	for _, body := range steps {
		var step map[string]any
		resp := h.POST(fmt.Sprintf("/templates/%s/steps", templateID), body, admin)
		h.AssertJSON(t, resp, http.StatusCreated, &step)
		name, _ := body["name"].(string)
		stepIDs[name], _ = step["id"].(string)
	}

	for _, stepName := range []string{"Investigation", "Resolved"} {
		resp := h.POST(fmt.Sprintf("/steps/%s/roles", stepIDs[stepName]), map[string]any{
			"role": "manager", "can_view": true, "can_approve": true, "can_reject": true, "can_assign": true,
		}, admin)
		h.AssertStatus(t, resp, http.StatusCreated)
	}

	// Resolution requires the incident severity to be settled below critical.
	resp = h.POST(fmt.Sprintf("/steps/%s/conditions", stepIDs["Resolved"]), map[string]any{
		"field_name": "severity", "operator": "less_than", "expected_value": "4",
	}, admin)
	h.AssertStatus(t, resp, http.StatusCreated)

	resp = h.POST(fmt.Sprintf("/templates/%s/default", templateID), nil, admin)
	h.AssertStatus(t, resp, http.StatusOK)
	return templateID, stepIDs
}

func TestIncidentLifecycleEndToEnd(t *testing.T) {
	h := NewTestHarness(t)
	_, stepIDs := buildIncidentTemplate(t, h)

	h.Entities.Put(org, model.KindSafetyIncident, "inc-100", map[string]any{
		"status":   "new",
		"severity": 5,
	})

	manager := Manager(org)
	tech := Technician(org)

	resp := h.POST("/workflows/initialize", map[string]any{
		"entity_type": "safety_incidents", "entity_id": "inc-100",
	}, tech)
	h.AssertStatus(t, resp, http.StatusCreated)

	if got := h.Entities.Status(org, model.KindSafetyIncident, "inc-100"); got != "reported" {
		t.Errorf("entity status = %q, want reported", got)
	}

	// Reported is an auto step: anyone can move the incident forward.
	resp = h.POST("/workflows/approve", map[string]any{
		"entity_type": "safety_incidents", "entity_id": "inc-100", "comments": "triaged",
	}, tech)
	h.AssertStatus(t, resp, http.StatusOK)

	// Investigation is manager-gated.
	resp = h.POST("/workflows/approve", map[string]any{
		"entity_type": "safety_incidents", "entity_id": "inc-100",
	}, tech)
	h.AssertStatus(t, resp, http.StatusForbidden)

	// Severity 5 fails the resolution gate even for a manager.
	resp = h.POST("/workflows/approve", map[string]any{
		"entity_type": "safety_incidents", "entity_id": "inc-100",
	}, manager)
	h.AssertStatus(t, resp, http.StatusPreconditionFailed)

	// After mitigation the severity drops and the approval goes through.
	h.Entities.Put(org, model.KindSafetyIncident, "inc-100", map[string]any{
		"status":   "investigating",
		"severity": 2,
	})
	resp = h.POST("/workflows/approve", map[string]any{
		"entity_type": "safety_incidents", "entity_id": "inc-100", "comments": "mitigated",
	}, manager)
	h.AssertStatus(t, resp, http.StatusOK)

	var state map[string]any
	resp = h.GET("/workflows/state/safety_incidents/inc-100", manager)
	h.AssertJSON(t, resp, http.StatusOK, &state)
	if state["current_step_id"] != stepIDs["Resolved"] {
		t.Errorf("current step = %v, want %v", state["current_step_id"], stepIDs["Resolved"])
	}

	// Completing a safety incident can open a corrective work order.
	resp = h.POST("/workflows/complete", map[string]any{
		"entity_type": "safety_incidents", "entity_id": "inc-100",
		"comments": "closed out", "create_corrective_work_order": true,
	}, manager)
	h.AssertStatus(t, resp, http.StatusOK)

	var approvals map[string]any
	resp = h.GET("/workflows/approvals/safety_incidents/inc-100", manager)
	h.AssertJSON(t, resp, http.StatusOK, &approvals)
	rows, _ := approvals["data"].([]any)

	var workOrderRows int
	for _, raw := range rows {
		row, _ := raw.(map[string]any)
		if row["action"] == model.ActionWorkOrderCreated {
			workOrderRows++
		}
	}
	if workOrderRows != 1 {
		t.Errorf("work order rows = %d, want 1", workOrderRows)
	}

	if got := h.Entities.Status(org, model.KindSafetyIncident, "inc-100"); got != "resolved" {
		t.Errorf("entity status = %q, want resolved", got)
	}
}

func TestRejectReturnsToEarlierStep(t *testing.T) {
	h := NewTestHarness(t)
	_, stepIDs := buildIncidentTemplate(t, h)

	h.Entities.Put(org, model.KindSafetyIncident, "inc-200", map[string]any{
		"status": "new", "severity": 1,
	})

	manager := Manager(org)
	tech := Technician(org)

	resp := h.POST("/workflows/initialize", map[string]any{
		"entity_type": "safety_incidents", "entity_id": "inc-200",
	}, tech)
	h.AssertStatus(t, resp, http.StatusCreated)

	resp = h.POST("/workflows/approve", map[string]any{
		"entity_type": "safety_incidents", "entity_id": "inc-200",
	}, tech)
	h.AssertStatus(t, resp, http.StatusOK)

	resp = h.POST("/workflows/reject", map[string]any{
		"entity_type": "safety_incidents", "entity_id": "inc-200", "comments": "insufficient detail",
	}, manager)
	h.AssertStatus(t, resp, http.StatusOK)

	var state map[string]any
	resp = h.GET("/workflows/state/safety_incidents/inc-200", manager)
	h.AssertJSON(t, resp, http.StatusOK, &state)
	if state["current_step_id"] != stepIDs["Reported"] {
		t.Errorf("current step = %v, want %v after rejection", state["current_step_id"], stepIDs["Reported"])
	}
}

func TestRoleGrantChangesTakeEffectImmediately(t *testing.T) {
	h := NewTestHarness(t)
	_, stepIDs := buildIncidentTemplate(t, h)

	h.Entities.Put(org, model.KindSafetyIncident, "inc-300", map[string]any{
		"status": "new", "severity": 1,
	})

	admin := Admin(org)
	tech := Technician(org)

	resp := h.POST("/workflows/initialize", map[string]any{
		"entity_type": "safety_incidents", "entity_id": "inc-300",
	}, tech)
	h.AssertStatus(t, resp, http.StatusCreated)
	resp = h.POST("/workflows/approve", map[string]any{
		"entity_type": "safety_incidents", "entity_id": "inc-300",
	}, tech)
	h.AssertStatus(t, resp, http.StatusOK)

	// Denied, then granted. The second attempt must see the fresh grant
	// despite the evaluator's cache.
	resp = h.POST("/workflows/approve", map[string]any{
		"entity_type": "safety_incidents", "entity_id": "inc-300",
	}, tech)
	h.AssertStatus(t, resp, http.StatusForbidden)

	resp = h.POST(fmt.Sprintf("/steps/%s/roles", stepIDs["Investigation"]), map[string]any{
		"role": "technician", "can_approve": true,
	}, admin)
	h.AssertStatus(t, resp, http.StatusCreated)

	resp = h.POST("/workflows/approve", map[string]any{
		"entity_type": "safety_incidents", "entity_id": "inc-300",
	}, tech)
	h.AssertStatus(t, resp, http.StatusOK)
}

func TestEventsPersistedAcrossLifecycle(t *testing.T) {
	h := NewTestHarness(t)
	buildIncidentTemplate(t, h)

	h.Entities.Put(org, model.KindSafetyIncident, "inc-400", map[string]any{
		"status": "new", "severity": 1,
	})

	tech := Technician(org)
	resp := h.POST("/workflows/initialize", map[string]any{
		"entity_type": "safety_incidents", "entity_id": "inc-400",
	}, tech)
	h.AssertStatus(t, resp, http.StatusCreated)
	resp = h.POST("/workflows/approve", map[string]any{
		"entity_type": "safety_incidents", "entity_id": "inc-400",
	}, tech)
	h.AssertStatus(t, resp, http.StatusOK)

	var events map[string]any
	resp = h.GET("/events", tech)
	h.AssertJSON(t, resp, http.StatusOK, &events)
	data, _ := events["data"].([]any)
	if len(data) != 2 {
		t.Fatalf("persisted events = %d, want 2 (initialized, transitioned)", len(data))
	}

	var analytics map[string]any
	resp = h.GET("/workflows/analytics/"+org, tech)
	h.AssertJSON(t, resp, http.StatusOK, &analytics)
}
