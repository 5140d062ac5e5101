package engine

import (
	"context"
	"fmt"
	"sort"

	"pfmt/internal/config"
	"pfmt/internal/domain"
	"pfmt/internal/engine/auth"
	"pfmt/internal/events"
	"pfmt/internal/repo"
	"pfmt/internal/validation"
)

// InitiateRequest creates a project directly, without a wizard session.
type InitiateRequest struct {
	Basic         domain.BasicInfo
	Budget        *domain.Amount
	FundingSource string
}

type AssignRequest struct {
	AssignedPM  string
	AssignedSPM *string
}

// FinalizeRequest carries the dependent rows written at finalize.
type FinalizeRequest struct {
	Vendors         []domain.VendorInput
	BudgetBreakdown map[string]domain.Amount
	Milestones      []domain.MilestoneInput
	Stakeholders    []domain.TeamMemberInput
	Risks           []domain.RiskInput
	Location        *domain.LocationInfo
}

// WorkflowView is the workflow status of one project.
type WorkflowView struct {
	Project domain.Project
	Counts  repo.AssociationCounts
}

// Lifecycle status that accompanies each post-finalize workflow status.
var lifecycleFor = map[string]string{
	domain.WorkflowActive:   "active",
	domain.WorkflowOnHold:   "on_hold",
	domain.WorkflowComplete: "complete",
	domain.WorkflowArchived: "archived",
}

func ensureWorkflowTransition(old, next string) error {
	if old == next {
		return conflict(CodeInvalidWorkflowTransition, "project is already %s", old)
	}
	switch old {
	case domain.WorkflowInitiated:
		if next == domain.WorkflowAssigned {
			return nil
		}
	case domain.WorkflowAssigned:
		if next == domain.WorkflowFinalized {
			return nil
		}
	case domain.WorkflowFinalized:
		if next == domain.WorkflowActive {
			return nil
		}
	case domain.WorkflowActive:
		if next == domain.WorkflowOnHold || next == domain.WorkflowComplete {
			return nil
		}
	case domain.WorkflowOnHold:
		if next == domain.WorkflowActive || next == domain.WorkflowArchived {
			return nil
		}
	case domain.WorkflowComplete:
		if next == domain.WorkflowArchived {
			return nil
		}
	}
	return conflict(CodeInvalidWorkflowTransition, "cannot move project from %s to %s", old, next)
}

func (e Engine) policy() config.Policy {
	return e.Config.Policy
}

func (e Engine) Initiate(ctx context.Context, p auth.Principal, req InitiateRequest) (domain.Project, error) {
	if err := auth.RequireRole(p, "initiate projects", e.policy().Initiate); err != nil {
		return domain.Project{}, err
	}
	v := e.validator()
	errs, err := v.BasicInfo(ctx, req.Basic)
	if err != nil {
		return domain.Project{}, err
	}
	switch {
	case req.Budget == nil:
		errs = append(errs, validation.FieldError{Field: "budget", Message: "budget is required", Code: validation.CodeRequired})
	case !req.Budget.Finite():
		errs = append(errs, validation.FieldError{Field: "budget", Message: "budget must be a finite number", Code: validation.CodeInvalidType})
	case *req.Budget <= 0:
		errs = append(errs, validation.FieldError{Field: "budget", Message: "budget must be greater than zero", Code: validation.CodeMinValue})
	case float64(*req.Budget) > v.Rules.BudgetCeiling:
		errs = append(errs, validation.FieldError{Field: "budget", Message: fmt.Sprintf("budget must not exceed %.0f", v.Rules.BudgetCeiling), Code: validation.CodeExceedsMaximum})
	}
	errs = append(errs, v.Rules.FundingSource("fundingSource", req.FundingSource)...)
	if len(errs) > 0 {
		return domain.Project{}, invalid(errs)
	}

	var created domain.Project
	err = e.withProjectCode(ctx, req.Basic.ProjectName, func(t *txn, code string) error {
		now := e.timestamp()
		proj := domain.Project{
			ID:              newID(),
			Code:            code,
			Name:            req.Basic.ProjectName,
			Description:     req.Basic.Description,
			Scope:           req.Basic.Scope,
			Category:        req.Basic.Category,
			ProjectType:     req.Basic.ProjectType,
			Region:          req.Basic.Region,
			Ministry:        req.Basic.Ministry,
			Budget:          float64(*req.Budget),
			FundingSource:   req.FundingSource,
			StartDate:       req.Basic.StartDate,
			EndDate:         req.Basic.ExpectedCompletion,
			Status:          "planning",
			Phase:           "initiation",
			WorkflowStatus:  domain.WorkflowInitiated,
			LifecycleStatus: "planning",
			CreatedBy:       p.ID,
			Source:          "workflow",
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if p.Role == auth.RoleDirector {
			proj.DirectorID = &p.ID
		}
		if err := e.Repo.InsertProject(ctx, t.q, proj); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		if err := e.insertDependents(ctx, t.q, proj.ID, dependents{risks: req.Basic.Risks}, now); err != nil {
			return err
		}
		draft, err := e.insertDraft(ctx, t.q, proj, p, "initial draft", now)
		if err != nil {
			return err
		}
		if err := t.emit(ctx, projectEvent(events.ProjectInitiated, proj, p, events.EventPayload{"code": proj.Code})); err != nil {
			return err
		}
		if err := t.emit(ctx, versionEvent(events.VersionCreated, draft, p, nil)); err != nil {
			return err
		}
		created = proj
		return nil
	})
	if err != nil {
		return domain.Project{}, err
	}
	return created, nil
}

// Assign checks the workflow state before the payload, as Finalize does.
func (e Engine) Assign(ctx context.Context, p auth.Principal, id string, req AssignRequest) (domain.Project, error) {
	if err := auth.RequireRole(p, "assign projects", e.policy().Assign); err != nil {
		return domain.Project{}, err
	}
	current, err := e.Repo.GetProject(ctx, nil, id)
	if err != nil {
		return domain.Project{}, err
	}
	if err := ensureWorkflowTransition(current.WorkflowStatus, domain.WorkflowAssigned); err != nil {
		return domain.Project{}, err
	}
	var errs []validation.FieldError
	if req.AssignedPM == "" {
		errs = append(errs, validation.FieldError{Field: "assignedPM", Message: "project manager is required", Code: validation.CodeRequired})
	}
	spm := ""
	if req.AssignedSPM != nil {
		spm = *req.AssignedSPM
	}
	errs = append(errs, e.Validator.Rules.Team(domain.TeamInfo{ProjectManager: req.AssignedPM, SeniorProjectManager: spm})...)
	if len(errs) > 0 {
		return domain.Project{}, invalid(renameFields(errs, map[string]string{"projectManager": "assignedPM", "seniorProjectManager": "assignedSPM"}))
	}

	err = e.inTx(ctx, func(t *txn) error {
		proj, err := e.Repo.GetProject(ctx, t.q, id)
		if err != nil {
			return err
		}
		if err := ensureWorkflowTransition(proj.WorkflowStatus, domain.WorkflowAssigned); err != nil {
			return err
		}
		now := e.timestamp()
		if err := e.Repo.AssignProject(ctx, t.q, id, req.AssignedPM, optional(spm), now); err != nil {
			if isStale(err) {
				return conflict(CodeInvalidWorkflowTransition, "project %s is no longer initiated", id)
			}
			return fmt.Errorf("assign project: %w", err)
		}
		deps := dependents{stakeholders: []domain.TeamMemberInput{{UserID: req.AssignedPM, Role: auth.RoleProjectManager}}}
		if spm != "" {
			deps.stakeholders = append(deps.stakeholders, domain.TeamMemberInput{UserID: spm, Role: auth.RoleSeniorProjectManager})
		}
		if err := e.insertDependents(ctx, t.q, id, deps, now); err != nil {
			return err
		}
		return t.emit(ctx, projectEvent(events.ProjectAssigned, proj, p, events.EventPayload{"assigned_pm": req.AssignedPM, "assigned_spm": spm}))
	})
	if err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, nil, id)
}

// Finalize checks the workflow state before the caller's authority, so an
// out-of-order call reports the conflict whoever makes it.
func (e Engine) Finalize(ctx context.Context, p auth.Principal, id string, req FinalizeRequest) (domain.Project, error) {
	proj, err := e.Repo.GetProject(ctx, nil, id)
	if err != nil {
		return domain.Project{}, err
	}
	if err := ensureWorkflowTransition(proj.WorkflowStatus, domain.WorkflowFinalized); err != nil {
		return domain.Project{}, err
	}
	if !config.Allows(e.policy().Finalize, p.Role) && !isAssignee(proj, p) {
		return domain.Project{}, auth.ForbiddenError{Operation: "finalize this project", Role: p.Role}
	}
	if errs := e.finalizeErrors(proj, req); len(errs) > 0 {
		return domain.Project{}, invalid(errs)
	}

	err = e.inTx(ctx, func(t *txn) error {
		now := e.timestamp()
		if err := e.Repo.FinalizeProject(ctx, t.q, id, now); err != nil {
			if isStale(err) {
				return conflict(CodeInvalidWorkflowTransition, "project %s is no longer assigned", id)
			}
			return fmt.Errorf("finalize project: %w", err)
		}
		deps := dependents{
			stakeholders: req.Stakeholders,
			risks:        req.Risks,
			vendors:      req.Vendors,
			milestones:   req.Milestones,
		}
		for _, cat := range sortedCategories(req.BudgetBreakdown) {
			deps.budgetItems = append(deps.budgetItems, domain.BudgetLine{Category: cat, Amount: float64(req.BudgetBreakdown[cat])})
		}
		if req.Location != nil && !req.Location.Empty() {
			deps.location = req.Location
		}
		if err := e.insertDependents(ctx, t.q, id, deps, now); err != nil {
			return err
		}
		return t.emit(ctx, projectEvent(events.ProjectFinalized, proj, p, events.EventPayload{
			"vendors":    len(req.Vendors),
			"milestones": len(req.Milestones),
		}))
	})
	if err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, nil, id)
}

func isAssignee(proj domain.Project, p auth.Principal) bool {
	if !p.Valid() {
		return false
	}
	return (proj.ProjectManagerID != nil && *proj.ProjectManagerID == p.ID) ||
		(proj.SeniorProjectManagerID != nil && *proj.SeniorProjectManagerID == p.ID)
}

func (e Engine) finalizeErrors(proj domain.Project, req FinalizeRequest) []validation.FieldError {
	r := e.Validator.Rules
	var errs []validation.FieldError
	errs = append(errs, r.Vendors("vendors", req.Vendors)...)
	errs = append(errs, r.Milestones("milestones", req.Milestones)...)
	errs = append(errs, r.TeamMembers("stakeholders", req.Stakeholders)...)
	errs = append(errs, r.Risks("risks", req.Risks)...)
	errs = append(errs, r.BudgetBreakdown("budgetBreakdown", req.BudgetBreakdown)...)
	if req.Location != nil {
		for _, fe := range r.Location(*req.Location) {
			fe.Field = "location." + fe.Field
			errs = append(errs, fe)
		}
	}
	var sum float64
	for _, v := range req.BudgetBreakdown {
		sum += float64(v)
	}
	if proj.Budget > 0 && sum > proj.Budget {
		errs = append(errs, validation.FieldError{Field: "budgetBreakdown", Message: "budget breakdown exceeds the project budget", Code: validation.CodeBudgetExceeds})
	}
	return errs
}

// Transition moves a finalized project through its lifecycle.
func (e Engine) Transition(ctx context.Context, p auth.Principal, id, to string) (domain.Project, error) {
	if err := auth.RequireRole(p, "change project status", e.policy().Transition); err != nil {
		return domain.Project{}, err
	}
	lifecycle, ok := lifecycleFor[to]
	if !ok {
		return domain.Project{}, invalidField("status", fmt.Sprintf("unsupported target status %q", to), validation.CodeInvalidEnum)
	}
	err := e.inTx(ctx, func(t *txn) error {
		proj, err := e.Repo.GetProject(ctx, t.q, id)
		if err != nil {
			return err
		}
		if err := ensureWorkflowTransition(proj.WorkflowStatus, to); err != nil {
			return err
		}
		if err := e.Repo.TransitionProject(ctx, t.q, id, proj.WorkflowStatus, to, lifecycle, e.timestamp()); err != nil {
			if isStale(err) {
				return conflict(CodeInvalidWorkflowTransition, "project %s changed concurrently", id)
			}
			return fmt.Errorf("transition project: %w", err)
		}
		return t.emit(ctx, projectEvent(events.ProjectTransition, proj, p, events.EventPayload{"from": proj.WorkflowStatus, "to": to}))
	})
	if err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, nil, id)
}

func (e Engine) WorkflowStatus(ctx context.Context, p auth.Principal, id string) (WorkflowView, error) {
	if !p.Valid() {
		return WorkflowView{}, auth.ForbiddenError{Operation: "read workflow status"}
	}
	proj, err := e.Repo.GetProject(ctx, nil, id)
	if err != nil {
		return WorkflowView{}, err
	}
	counts, err := e.Repo.CountAssociations(ctx, nil, id)
	if err != nil {
		return WorkflowView{}, err
	}
	return WorkflowView{Project: proj, Counts: counts}, nil
}

func renameFields(errs []validation.FieldError, names map[string]string) []validation.FieldError {
	for i := range errs {
		if n, ok := names[errs[i].Field]; ok {
			errs[i].Field = n
		}
	}
	return errs
}

func sortedCategories(m map[string]domain.Amount) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
