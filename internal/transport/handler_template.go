package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/oryxworks/flowcore/internal/registry"
	"github.com/oryxworks/flowcore/model"
)

type templateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	EntityType  string `json:"entity_type"`
	IsActive    *bool  `json:"is_active"`
}

func handleTemplateCreate(svc *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())

		var body templateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
			return
		}

		active := true
		if body.IsActive != nil {
			active = *body.IsActive
		}
		tpl, err := svc.CreateTemplate(r.Context(), *rctx, model.WorkflowTemplate{
			Name:        body.Name,
			Description: body.Description,
			EntityKind:  model.EntityKind(body.EntityType),
			IsActive:    active,
		})
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusCreated, tpl)
	}
}

func handleTemplateList(svc *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())

		templates, err := svc.Templates(r.Context(), *rctx)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": templates})
	}
}

func handleTemplateGet(svc *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())

		tpl, steps, err := svc.Template(r.Context(), *rctx, chi.URLParam(r, "templateId"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"template": tpl, "steps": steps})
	}
}

func handleTemplateUpdate(svc *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())

		var body templateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
			return
		}

		active := true
		if body.IsActive != nil {
			active = *body.IsActive
		}
		tpl, err := svc.UpdateTemplate(r.Context(), *rctx, model.WorkflowTemplate{
			ID:          chi.URLParam(r, "templateId"),
			Name:        body.Name,
			Description: body.Description,
			IsActive:    active,
		})
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, tpl)
	}
}

func handleTemplateDelete(svc *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())

		if err := svc.DeleteTemplate(r.Context(), *rctx, chi.URLParam(r, "templateId")); err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func handleTemplateSetDefault(svc *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())

		if err := svc.SetDefault(r.Context(), *rctx, chi.URLParam(r, "templateId")); err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

type stepRequest struct {
	Name               string  `json:"name"`
	StepOrder          int     `json:"step_order"`
	ApprovalType       string  `json:"approval_type"`
	SLAHours           *int    `json:"sla_hours"`
	EntityStatus       string  `json:"entity_status"`
	CanApprove         bool    `json:"can_approve"`
	CanReject          bool    `json:"can_reject"`
	CanAssign          bool    `json:"can_assign"`
	CanTransition      bool    `json:"can_transition"`
	RejectTargetStepID *string `json:"reject_target_step_id"`
}

func (b stepRequest) toStep() model.TemplateStep {
	approvalType := b.ApprovalType
	if approvalType == "" {
		approvalType = model.ApprovalTypeRole
	}
	return model.TemplateStep{
		Name:               b.Name,
		StepOrder:          b.StepOrder,
		ApprovalType:       approvalType,
		SLAHours:           b.SLAHours,
		EntityStatus:       b.EntityStatus,
		CanApprove:         b.CanApprove,
		CanReject:          b.CanReject,
		CanAssign:          b.CanAssign,
		CanTransition:      b.CanTransition,
		RejectTargetStepID: b.RejectTargetStepID,
	}
}

func handleStepCreate(svc *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())

		var body stepRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
			return
		}

		step := body.toStep()
		step.TemplateID = chi.URLParam(r, "templateId")
		created, err := svc.CreateStep(r.Context(), *rctx, step)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusCreated, created)
	}
}

func handleStepUpdate(svc *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())

		var body stepRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
			return
		}

		step := body.toStep()
		step.ID = chi.URLParam(r, "stepId")
		updated, err := svc.UpdateStep(r.Context(), *rctx, step)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, updated)
	}
}

func handleStepDelete(svc *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())

		if err := svc.DeleteStep(r.Context(), *rctx, chi.URLParam(r, "stepId")); err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func handleRoleAssignmentCreate(svc *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())

		var body struct {
			Role       string `json:"role"`
			CanView    bool   `json:"can_view"`
			CanEdit    bool   `json:"can_edit"`
			CanApprove bool   `json:"can_approve"`
			CanReject  bool   `json:"can_reject"`
			CanAssign  bool   `json:"can_assign"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
			return
		}

		created, err := svc.CreateRoleAssignment(r.Context(), *rctx, model.StepRoleAssignment{
			StepID:     chi.URLParam(r, "stepId"),
			Role:       body.Role,
			CanView:    body.CanView,
			CanEdit:    body.CanEdit,
			CanApprove: body.CanApprove,
			CanReject:  body.CanReject,
			CanAssign:  body.CanAssign,
		})
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusCreated, created)
	}
}

func handleRoleAssignmentList(svc *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())

		grants, err := svc.RoleAssignments(r.Context(), *rctx, chi.URLParam(r, "stepId"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": grants})
	}
}

func handleRoleAssignmentDelete(svc *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())

		if err := svc.DeleteRoleAssignment(r.Context(), *rctx, chi.URLParam(r, "assignmentId")); err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func handleConditionCreate(svc *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())

		var body struct {
			FieldName     string `json:"field_name"`
			Operator      string `json:"operator"`
			ExpectedValue string `json:"expected_value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
			return
		}

		created, err := svc.CreateCondition(r.Context(), *rctx, model.StepCondition{
			StepID:        chi.URLParam(r, "stepId"),
			FieldName:     body.FieldName,
			Operator:      body.Operator,
			ExpectedValue: body.ExpectedValue,
		})
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusCreated, created)
	}
}

func handleConditionList(svc *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())

		conditions, err := svc.Conditions(r.Context(), *rctx, chi.URLParam(r, "stepId"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": conditions})
	}
}

func handleConditionDelete(svc *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())

		if err := svc.DeleteCondition(r.Context(), *rctx, chi.URLParam(r, "conditionId")); err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}
