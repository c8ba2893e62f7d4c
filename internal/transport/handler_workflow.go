package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/oryxworks/flowcore/internal/workflow"
	"github.com/oryxworks/flowcore/model"
)

type workflowRequest struct {
	EntityType   string `json:"entity_type"`
	EntityID     string `json:"entity_id"`
	TargetStepID string `json:"target_step_id"`
	Action       string `json:"action"`
	AssigneeID   string `json:"assignee_id"`
	Comments     string `json:"comments"`

	// CreateCorrectiveWorkOrder applies only to safety incident completion.
	CreateCorrectiveWorkOrder bool `json:"create_corrective_work_order"`
}

func decodeWorkflowRequest(w http.ResponseWriter, r *http.Request) (workflowRequest, model.EntityKind, bool) {
	var body workflowRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
		return workflowRequest{}, "", false
	}
	kind, err := model.ParseEntityKind(body.EntityType)
	if err != nil {
		WriteError(w, r, err)
		return workflowRequest{}, "", false
	}
	if body.EntityID == "" {
		WriteError(w, r, model.NewBadRequestError("entity_id is required"))
		return workflowRequest{}, "", false
	}
	return body, kind, true
}

func handleWorkflowInitialize(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		body, kind, ok := decodeWorkflowRequest(w, r)
		if !ok {
			return
		}

		state, err := engine.Initialize(r.Context(), *rctx, kind, body.EntityID)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusCreated, state)
	}
}

func handleWorkflowTransition(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		body, kind, ok := decodeWorkflowRequest(w, r)
		if !ok {
			return
		}
		if body.TargetStepID == "" {
			WriteError(w, r, model.NewBadRequestError("target_step_id is required"))
			return
		}
		action := body.Action
		if action == "" {
			action = model.ActionTransition
		}

		state, err := engine.Transition(r.Context(), *rctx, kind, body.EntityID, body.TargetStepID, action, body.Comments)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"success": true, "state": state})
	}
}

func handleWorkflowApprove(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		body, kind, ok := decodeWorkflowRequest(w, r)
		if !ok {
			return
		}

		state, err := engine.Approve(r.Context(), *rctx, kind, body.EntityID, body.TargetStepID, body.Comments)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"success": true, "state": state})
	}
}

func handleWorkflowReject(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		body, kind, ok := decodeWorkflowRequest(w, r)
		if !ok {
			return
		}

		state, err := engine.Reject(r.Context(), *rctx, kind, body.EntityID, body.Comments)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"success": true, "state": state})
	}
}

func handleWorkflowReassign(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		body, kind, ok := decodeWorkflowRequest(w, r)
		if !ok {
			return
		}

		state, err := engine.Reassign(r.Context(), *rctx, kind, body.EntityID, body.AssigneeID, body.Comments)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"success": true, "state": state})
	}
}

func handleWorkflowComplete(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		body, kind, ok := decodeWorkflowRequest(w, r)
		if !ok {
			return
		}

		if err := engine.CompleteTerminal(r.Context(), *rctx, kind, body.EntityID, body.Comments, body.CreateCorrectiveWorkOrder); err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"success": true, "completed": true})
	}
}

func handleWorkflowState(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		kind, err := model.ParseEntityKind(chi.URLParam(r, "entityType"))
		if err != nil {
			WriteError(w, r, err)
			return
		}

		state, err := engine.State(r.Context(), *rctx, kind, chi.URLParam(r, "entityId"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, state)
	}
}

func handleWorkflowApprovals(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		kind, err := model.ParseEntityKind(chi.URLParam(r, "entityType"))
		if err != nil {
			WriteError(w, r, err)
			return
		}

		approvals, err := engine.Approvals(r.Context(), *rctx, kind, chi.URLParam(r, "entityId"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": approvals})
	}
}
