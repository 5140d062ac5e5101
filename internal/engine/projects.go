package engine

import (
	"context"
	"errors"

	"pfmt/internal/domain"
	"pfmt/internal/engine/auth"
	"pfmt/internal/repo"
)

// ProjectDetail is a project with its dependent rows.
type ProjectDetail struct {
	Project        domain.Project
	Stakeholders   []domain.Stakeholder
	Milestones     []domain.Milestone
	Location       *domain.Location
	CurrentVersion *domain.ProjectVersion
	Counts         repo.AssociationCounts
}

func (e Engine) GetProject(ctx context.Context, p auth.Principal, id string) (ProjectDetail, error) {
	if !p.Valid() {
		return ProjectDetail{}, auth.ForbiddenError{Operation: "read projects"}
	}
	var d ProjectDetail
	var err error
	if d.Project, err = e.Repo.GetProject(ctx, nil, id); err != nil {
		return d, err
	}
	if d.Stakeholders, err = e.Repo.ListStakeholders(ctx, nil, id); err != nil {
		return d, err
	}
	if d.Milestones, err = e.Repo.ListMilestones(ctx, nil, id); err != nil {
		return d, err
	}
	loc, err := e.Repo.GetLocation(ctx, nil, id)
	switch {
	case err == nil:
		d.Location = &loc
	case !errors.Is(err, repo.ErrNotFound):
		return d, err
	}
	v, err := e.Repo.CurrentVersion(ctx, nil, id)
	switch {
	case err == nil:
		d.CurrentVersion = &v
	case !errors.Is(err, repo.ErrNotFound):
		return d, err
	}
	if d.Counts, err = e.Repo.CountAssociations(ctx, nil, id); err != nil {
		return d, err
	}
	return d, nil
}

func (e Engine) ListProjects(ctx context.Context, p auth.Principal, f repo.ProjectFilters) ([]domain.Project, error) {
	if !p.Valid() {
		return nil, auth.ForbiddenError{Operation: "list projects"}
	}
	return e.Repo.ListProjects(ctx, nil, f)
}

// ProjectEvents returns the audit trail of one project, newest first.
func (e Engine) ProjectEvents(ctx context.Context, p auth.Principal, id string, limit int, cursor int64) ([]domain.Event, error) {
	if !p.Valid() {
		return nil, auth.ForbiddenError{Operation: "read project events"}
	}
	if _, err := e.Repo.GetProject(ctx, nil, id); err != nil {
		return nil, err
	}
	return e.Repo.LatestEvents(ctx, nil, limit, cursor, id, "", "", "")
}
