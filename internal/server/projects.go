package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"pfmt/internal/domain"
	"pfmt/internal/engine"
	"pfmt/internal/repo"
)

func engineAssign(r AssignRequest) engine.AssignRequest {
	return engine.AssignRequest{AssignedPM: r.AssignedPM, AssignedSPM: r.AssignedSPM}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func (h api) registerProjects(a huma.API) {
	huma.Register(a, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      workflowErrors,
	}, func(ctx context.Context, input *struct {
		WorkflowStatus string `query:"workflowStatus" enum:"initiated,assigned,finalized,active,on_hold,complete,archived"`
		CreatedBy      string `query:"createdBy"`
		Limit          int    `query:"limit" default:"50"`
	}) (*response[[]domain.Project], error) {
		p, herr := principal(ctx)
		if herr != nil {
			return nil, herr
		}
		list, err := h.e.ListProjects(ctx, p, repo.ProjectFilters{
			WorkflowStatus: input.WorkflowStatus,
			CreatedBy:      input.CreatedBy,
			Limit:          normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		if list == nil {
			list = []domain.Project{}
		}
		return ok(list), nil
	})

	huma.Register(a, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{id}",
		Summary:     "Get a project with its dependent rows",
		Errors:      workflowErrors,
	}, func(ctx context.Context, input *projectPath) (*response[ProjectDetailResponse], error) {
		p, herr := principal(ctx)
		if herr != nil {
			return nil, herr
		}
		d, err := h.e.GetProject(ctx, p, input.ID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return ok(projectDetailResponse(d)), nil
	})

	huma.Register(a, huma.Operation{
		OperationID: "list-project-events",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/events",
		Summary:     "Audit trail of a project, newest first",
		Errors:      workflowErrors,
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Limit  int    `query:"limit" default:"50"`
		Cursor int64  `query:"cursor"`
	}) (*response[EventsResponse], error) {
		p, herr := principal(ctx)
		if herr != nil {
			return nil, herr
		}
		limit := normalizeLimit(input.Limit)
		items, err := h.e.ProjectEvents(ctx, p, input.ID, limit+1, input.Cursor)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		res := EventsResponse{Items: []domain.Event{}}
		if len(items) > limit {
			res.NextCursor = items[limit-1].ID
			items = items[:limit]
		}
		res.Items = append(res.Items, items...)
		return ok(res), nil
	})
}

type versionPath struct {
	ID        string `path:"id"`
	VersionID string `path:"vid"`
}

func (h api) registerVersions(a huma.API) {
	huma.Register(a, huma.Operation{
		OperationID: "list-versions",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/versions",
		Summary:     "List project versions",
		Errors:      workflowErrors,
	}, func(ctx context.Context, input *projectPath) (*response[[]domain.ProjectVersion], error) {
		p, herr := principal(ctx)
		if herr != nil {
			return nil, herr
		}
		list, err := h.e.ListVersions(ctx, p, input.ID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		if list == nil {
			list = []domain.ProjectVersion{}
		}
		return ok(list), nil
	})

	huma.Register(a, huma.Operation{
		OperationID:   "create-version",
		Method:        http.MethodPost,
		Path:          "/projects/{id}/versions",
		Summary:       "Create a draft version",
		DefaultStatus: http.StatusCreated,
		Errors:        workflowErrors,
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body *DraftVersionRequest `required:"false"`
	}) (*response[domain.ProjectVersion], error) {
		p, herr := principal(ctx)
		if herr != nil {
			return nil, herr
		}
		var req engine.DraftRequest
		if input.Body != nil {
			req = engine.DraftRequest{ChangeSummary: input.Body.ChangeSummary, Snapshot: input.Body.Snapshot}
		}
		v, err := h.e.CreateDraftVersion(ctx, p, input.ID, req)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return ok(v), nil
	})

	huma.Register(a, huma.Operation{
		OperationID: "submit-version",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/versions/{vid}/submit",
		Summary:     "Submit a draft version for approval",
		Errors:      workflowErrors,
	}, func(ctx context.Context, input *versionPath) (*response[domain.ProjectVersion], error) {
		p, herr := principal(ctx)
		if herr != nil {
			return nil, herr
		}
		v, err := h.e.SubmitVersion(ctx, p, input.ID, input.VersionID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return ok(v), nil
	})

	huma.Register(a, huma.Operation{
		OperationID: "approve-version",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/versions/{vid}/approve",
		Summary:     "Approve a pending version and make it current",
		Errors:      workflowErrors,
	}, func(ctx context.Context, input *versionPath) (*response[domain.ProjectVersion], error) {
		p, herr := principal(ctx)
		if herr != nil {
			return nil, herr
		}
		v, err := h.e.ApproveVersion(ctx, p, input.ID, input.VersionID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return ok(v), nil
	})

	huma.Register(a, huma.Operation{
		OperationID: "reject-version",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/versions/{vid}/reject",
		Summary:     "Reject a pending version",
		Errors:      workflowErrors,
	}, func(ctx context.Context, input *struct {
		ID        string `path:"id"`
		VersionID string `path:"vid"`
		Body      RejectVersionRequest
	}) (*response[domain.ProjectVersion], error) {
		p, herr := principal(ctx)
		if herr != nil {
			return nil, herr
		}
		v, err := h.e.RejectVersion(ctx, p, input.ID, input.VersionID, input.Body.Reason)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return ok(v), nil
	})
}
