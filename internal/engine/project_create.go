package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"pfmt/internal/db"
	"pfmt/internal/domain"
	"pfmt/internal/engine/auth"
	"pfmt/internal/events"
	"pfmt/internal/validation"
)

// projectPlan is the typed content of a wizard session, ready to insert.
type projectPlan struct {
	basic    domain.BasicInfo
	location domain.LocationInfo
	budget   domain.BudgetInfo
	team     domain.TeamInfo
	estimate float64
}

func planFromSession(s domain.WizardSession) (projectPlan, error) {
	var plan projectPlan
	decode := func(key domain.StepKey, out any) error {
		if errs := validation.Decode(s.StepData.Fields(key), out); len(errs) > 0 {
			return invalid(errs)
		}
		return nil
	}
	if err := decode(domain.StepBasicInfo, &plan.basic); err != nil {
		return plan, err
	}
	if err := decode(domain.StepLocation, &plan.location); err != nil {
		return plan, err
	}
	if err := decode(domain.StepBudget, &plan.budget); err != nil {
		return plan, err
	}
	if err := decode(domain.StepTeam, &plan.team); err != nil {
		return plan, err
	}
	plan.estimate = validation.EstimatedBudget(s.StepData)
	return plan, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (plan projectPlan) project(code string, p auth.Principal, s domain.WizardSession, now string) domain.Project {
	sessionID := s.ID
	finalizedAt := now
	return domain.Project{
		ID:                     newID(),
		Code:                   code,
		Name:                   plan.basic.ProjectName,
		Description:            plan.basic.Description,
		Scope:                  plan.basic.Scope,
		Category:               plan.basic.Category,
		ProjectType:            plan.basic.ProjectType,
		Region:                 plan.basic.Region,
		Ministry:               plan.basic.Ministry,
		Budget:                 plan.estimate,
		FundingSource:          plan.budget.FundingSource,
		StartDate:              plan.basic.StartDate,
		EndDate:                plan.basic.ExpectedCompletion,
		ProjectManagerID:       optional(plan.team.ProjectManager),
		SeniorProjectManagerID: optional(plan.team.SeniorProjectManager),
		DirectorID:             optional(plan.team.Director),
		Status:                 "active",
		Phase:                  "planning",
		WorkflowStatus:         domain.WorkflowFinalized,
		LifecycleStatus:        "active",
		CreatedBy:              p.ID,
		Source:                 "wizard",
		SessionID:              &sessionID,
		CreatedAt:              now,
		UpdatedAt:              now,
		FinalizedAt:            &finalizedAt,
	}
}

// dependents is the set of child rows shared by wizard completion and
// workflow finalize.
type dependents struct {
	stakeholders []domain.TeamMemberInput
	risks        []domain.RiskInput
	vendors      []domain.VendorInput
	milestones   []domain.MilestoneInput
	location     *domain.LocationInfo
	budgetItems  []domain.BudgetLine
}

func (e Engine) insertPlanRows(ctx context.Context, q db.Querier, projectID string, plan projectPlan, now string) error {
	deps := dependents{
		risks:       plan.basic.Risks,
		vendors:     plan.team.Vendors,
		milestones:  plan.budget.Milestones,
		budgetItems: plan.budget.LineItems(),
	}
	for _, lead := range []struct{ id, role string }{
		{plan.team.ProjectManager, auth.RoleProjectManager},
		{plan.team.SeniorProjectManager, auth.RoleSeniorProjectManager},
		{plan.team.Director, auth.RoleDirector},
	} {
		if lead.id != "" {
			deps.stakeholders = append(deps.stakeholders, domain.TeamMemberInput{UserID: lead.id, Role: lead.role})
		}
	}
	deps.stakeholders = append(deps.stakeholders, plan.team.TeamMembers...)
	if !plan.location.Empty() {
		loc := plan.location
		deps.location = &loc
	}
	return e.insertDependents(ctx, q, projectID, deps, now)
}

func (e Engine) insertDependents(ctx context.Context, q db.Querier, projectID string, deps dependents, now string) error {
	for _, m := range deps.stakeholders {
		if err := e.Repo.InsertStakeholder(ctx, q, domain.Stakeholder{ID: newID(), ProjectID: projectID, UserID: m.UserID, Role: m.Role, CreatedAt: now}); err != nil {
			return fmt.Errorf("insert stakeholder: %w", err)
		}
	}
	for _, r := range deps.risks {
		if err := e.Repo.InsertRisk(ctx, q, domain.Risk{ID: newID(), ProjectID: projectID, Description: r.Description, Impact: r.Impact, Probability: r.Probability, Mitigation: r.Mitigation, CreatedAt: now}); err != nil {
			return fmt.Errorf("insert risk: %w", err)
		}
	}
	for _, v := range deps.vendors {
		if err := e.Repo.InsertVendor(ctx, q, domain.VendorAssignment{ID: newID(), ProjectID: projectID, VendorID: v.VendorID, Role: v.Role, ContractValue: v.ContractValue.Float(), CreatedAt: now}); err != nil {
			return fmt.Errorf("insert vendor: %w", err)
		}
	}
	for _, m := range deps.milestones {
		if err := e.Repo.InsertMilestone(ctx, q, domain.Milestone{ID: newID(), ProjectID: projectID, Title: m.Title, DueDate: m.DueDate, Amount: m.Amount.Float(), Status: "planned", CreatedAt: now}); err != nil {
			return fmt.Errorf("insert milestone: %w", err)
		}
	}
	if l := deps.location; l != nil {
		loc := domain.Location{
			ID: newID(), ProjectID: projectID, Address: l.Address, City: l.City, Municipality: l.Municipality,
			PostalCode: l.PostalCode, Latitude: l.Latitude, Longitude: l.Longitude, CreatedAt: now,
		}
		if ll := l.LegalLand; ll != nil {
			loc.Quarter, loc.Section, loc.Township, loc.Range, loc.Meridian = ll.Quarter, ll.Section, ll.Township, ll.Range, ll.Meridian
		}
		if err := e.Repo.InsertLocation(ctx, q, loc); err != nil {
			return fmt.Errorf("insert location: %w", err)
		}
	}
	for _, b := range deps.budgetItems {
		if err := e.Repo.InsertBudgetItem(ctx, q, domain.BudgetItem{ID: newID(), ProjectID: projectID, Category: b.Category, Amount: b.Amount, CreatedAt: now}); err != nil {
			return fmt.Errorf("insert budget item: %w", err)
		}
	}
	return nil
}

// initialVersion records the approved baseline of a wizard-created project.
func (e Engine) initialVersion(ctx context.Context, q db.Querier, proj domain.Project, p auth.Principal, s domain.WizardSession, now string) (domain.ProjectVersion, error) {
	snapshot, err := json.Marshal(s.StepData)
	if err != nil {
		return domain.ProjectVersion{}, fmt.Errorf("encode snapshot: %w", err)
	}
	decidedBy := p.ID
	decidedAt := now
	v := domain.ProjectVersion{
		ID:            newID(),
		ProjectID:     proj.ID,
		VersionNumber: 1,
		Status:        domain.VersionApproved,
		IsCurrent:     true,
		Snapshot:      string(snapshot),
		ChangeSummary: "created from wizard session " + s.ID,
		CreatedBy:     p.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
		DecidedBy:     &decidedBy,
		DecidedAt:     &decidedAt,
	}
	if err := e.Repo.InsertVersion(ctx, q, v); err != nil {
		return v, fmt.Errorf("insert version: %w", err)
	}
	return v, nil
}

func projectEvent(typ string, proj domain.Project, p auth.Principal, payload events.EventPayload) events.Event {
	return events.Event{Type: typ, ProjectID: proj.ID, EntityKind: "project", EntityID: proj.ID, ActorID: p.ID, Payload: payload}
}

func versionEvent(typ string, v domain.ProjectVersion, p auth.Principal, payload events.EventPayload) events.Event {
	if payload == nil {
		payload = events.EventPayload{}
	}
	payload["version_number"] = v.VersionNumber
	return events.Event{Type: typ, ProjectID: v.ProjectID, EntityKind: "project_version", EntityID: v.ID, ActorID: p.ID, Payload: payload}
}
