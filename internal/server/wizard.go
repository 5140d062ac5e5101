package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"pfmt/internal/domain"
	"pfmt/internal/engine"
	"pfmt/internal/validation"
)

var wizardErrors = []int{
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

type sessionPath struct {
	ID string `path:"id"`
}

func (h api) registerWizard(a huma.API) {
	huma.Register(a, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/templates",
		Summary:     "List wizard templates",
	}, func(ctx context.Context, _ *struct{}) (*response[[]TemplateResponse], error) {
		if _, err := principal(ctx); err != nil {
			return nil, err
		}
		out := []TemplateResponse{}
		for _, id := range templateIDs(h.e.Config.Templates) {
			t := h.e.Config.Templates[id]
			out = append(out, *templateResponse(id, &t))
		}
		return ok(out), nil
	})

	huma.Register(a, huma.Operation{
		OperationID:   "init-session",
		Method:        http.MethodPost,
		Path:          "/init",
		Summary:       "Start a wizard session",
		DefaultStatus: http.StatusCreated,
		Errors:        wizardErrors,
	}, func(ctx context.Context, input *struct {
		Body *InitSessionRequest `required:"false"`
	}) (*response[SessionInitResponse], error) {
		p, herr := principal(ctx)
		if herr != nil {
			return nil, herr
		}
		var templateID *string
		if input.Body != nil && input.Body.TemplateID != "" {
			templateID = &input.Body.TemplateID
		}
		started, err := h.e.InitializeSession(ctx, p, templateID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		res := SessionInitResponse{Session: started.Session}
		if templateID != nil {
			res.Template = templateResponse(*templateID, started.Template)
		}
		return ok(res), nil
	})

	huma.Register(a, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List the caller's wizard sessions",
		Errors:      wizardErrors,
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"active,completed,cancelled"`
	}) (*response[[]domain.WizardSession], error) {
		p, herr := principal(ctx)
		if herr != nil {
			return nil, herr
		}
		list, err := h.e.ListSessions(ctx, p, input.Status)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		if list == nil {
			list = []domain.WizardSession{}
		}
		return ok(list), nil
	})

	huma.Register(a, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/session/{id}",
		Summary:     "Get a wizard session",
		Errors:      wizardErrors,
	}, func(ctx context.Context, input *sessionPath) (*response[domain.WizardSession], error) {
		p, herr := principal(ctx)
		if herr != nil {
			return nil, herr
		}
		s, err := h.e.GetSession(ctx, p, input.ID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return ok(s), nil
	})

	huma.Register(a, huma.Operation{
		OperationID: "update-step",
		Method:      http.MethodPost,
		Path:        "/session/{id}/step/{stepId}",
		Summary:     "Submit data for a wizard step",
		Description: "Merges data into the step, validates it, and optionally advances to the next step.",
		Errors:      wizardErrors,
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		StepID int    `path:"stepId"`
		Body   StepRequest
	}) (*response[domain.WizardSession], error) {
		p, herr := principal(ctx)
		if herr != nil {
			return nil, herr
		}
		sub := engine.StepSubmission{Step: &input.StepID, Fields: input.Body.Data}
		var s domain.WizardSession
		var err error
		if input.Body.Advance {
			s, err = h.e.Advance(ctx, p, input.ID, &sub)
		} else {
			s, err = h.e.UpdateStep(ctx, p, input.ID, sub)
		}
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return ok(s), nil
	})

	huma.Register(a, huma.Operation{
		OperationID: "advance-session",
		Method:      http.MethodPost,
		Path:        "/session/{id}/next",
		Summary:     "Move to the next wizard step",
		Errors:      wizardErrors,
	}, func(ctx context.Context, input *sessionPath) (*response[domain.WizardSession], error) {
		p, herr := principal(ctx)
		if herr != nil {
			return nil, herr
		}
		s, err := h.e.Advance(ctx, p, input.ID, nil)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return ok(s), nil
	})

	huma.Register(a, huma.Operation{
		OperationID: "retreat-session",
		Method:      http.MethodPost,
		Path:        "/session/{id}/back",
		Summary:     "Move to the previous wizard step",
		Errors:      wizardErrors,
	}, func(ctx context.Context, input *sessionPath) (*response[domain.WizardSession], error) {
		p, herr := principal(ctx)
		if herr != nil {
			return nil, herr
		}
		s, err := h.e.Retreat(ctx, p, input.ID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return ok(s), nil
	})

	huma.Register(a, huma.Operation{
		OperationID: "validate-session",
		Method:      http.MethodPost,
		Path:        "/session/{id}/validate",
		Summary:     "Dry-run validation",
		Description: "Without a step, validates all accumulated data against the completion rules.",
		Errors:      wizardErrors,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body *ValidateRequest `required:"false"`
	}) (*response[ValidateResponse], error) {
		p, herr := principal(ctx)
		if herr != nil {
			return nil, herr
		}
		var step int
		var fields map[string]any
		if input.Body != nil {
			step, fields = input.Body.Step, input.Body.Data
		}
		errs, err := h.e.ValidateStep(ctx, p, input.ID, step, fields)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		res := ValidateResponse{Valid: len(errs) == 0}
		if len(errs) > 0 {
			res.FieldErrors = validation.Group(errs)
		}
		return ok(res), nil
	})

	huma.Register(a, huma.Operation{
		OperationID:   "complete-session",
		Method:        http.MethodPost,
		Path:          "/session/{id}/complete",
		Summary:       "Complete the wizard and create the project",
		DefaultStatus: http.StatusCreated,
		Errors:        wizardErrors,
	}, func(ctx context.Context, input *sessionPath) (*response[domain.Project], error) {
		p, herr := principal(ctx)
		if herr != nil {
			return nil, herr
		}
		proj, err := h.e.CompleteWizard(ctx, p, input.ID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return ok(proj), nil
	})

	huma.Register(a, huma.Operation{
		OperationID: "cancel-session",
		Method:      http.MethodDelete,
		Path:        "/session/{id}",
		Summary:     "Cancel a wizard session",
		Errors:      wizardErrors,
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Reason string `query:"reason"`
	}) (*response[domain.WizardSession], error) {
		p, herr := principal(ctx)
		if herr != nil {
			return nil, herr
		}
		s, err := h.e.CancelWizard(ctx, p, input.ID, input.Reason)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return ok(s), nil
	})
}
