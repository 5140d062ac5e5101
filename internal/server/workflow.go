package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"pfmt/internal/domain"
)

var workflowErrors = []int{
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

type projectPath struct {
	ID string `path:"id"`
}

func (h api) registerWorkflow(a huma.API) {
	huma.Register(a, huma.Operation{
		OperationID:   "initiate-project",
		Method:        http.MethodPost,
		Path:          "/initiate",
		Summary:       "Initiate a project",
		DefaultStatus: http.StatusCreated,
		Errors:        workflowErrors,
	}, func(ctx context.Context, input *struct {
		Body InitiateRequest
	}) (*response[domain.Project], error) {
		p, herr := principal(ctx)
		if herr != nil {
			return nil, herr
		}
		proj, err := h.e.Initiate(ctx, p, input.Body.toEngine())
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return ok(proj), nil
	})

	huma.Register(a, huma.Operation{
		OperationID: "assign-project",
		Method:      http.MethodPost,
		Path:        "/{id}/assign",
		Summary:     "Assign project managers",
		Errors:      workflowErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body AssignRequest
	}) (*response[domain.Project], error) {
		p, herr := principal(ctx)
		if herr != nil {
			return nil, herr
		}
		proj, err := h.e.Assign(ctx, p, input.ID, engineAssign(input.Body))
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return ok(proj), nil
	})

	huma.Register(a, huma.Operation{
		OperationID: "finalize-project",
		Method:      http.MethodPost,
		Path:        "/{id}/finalize",
		Summary:     "Finalize project details",
		Errors:      workflowErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body FinalizeRequest
	}) (*response[domain.Project], error) {
		p, herr := principal(ctx)
		if herr != nil {
			return nil, herr
		}
		proj, err := h.e.Finalize(ctx, p, input.ID, input.Body.toEngine())
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return ok(proj), nil
	})

	huma.Register(a, huma.Operation{
		OperationID: "transition-project",
		Method:      http.MethodPost,
		Path:        "/{id}/transition",
		Summary:     "Change the workflow status of a finalized project",
		Errors:      workflowErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body TransitionRequest
	}) (*response[domain.Project], error) {
		p, herr := principal(ctx)
		if herr != nil {
			return nil, herr
		}
		proj, err := h.e.Transition(ctx, p, input.ID, input.Body.Status)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return ok(proj), nil
	})

	huma.Register(a, huma.Operation{
		OperationID: "workflow-status",
		Method:      http.MethodGet,
		Path:        "/{id}/status",
		Summary:     "Workflow status",
		Errors:      workflowErrors,
	}, func(ctx context.Context, input *projectPath) (*response[WorkflowStatusResponse], error) {
		p, herr := principal(ctx)
		if herr != nil {
			return nil, herr
		}
		view, err := h.e.WorkflowStatus(ctx, p, input.ID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return ok(workflowStatusResponse(view)), nil
	})
}
