package server

import (
	"sort"

	"pfmt/internal/config"
	"pfmt/internal/domain"
	"pfmt/internal/engine"
	"pfmt/internal/repo"
	"pfmt/internal/validation"
)

// envelope wraps every successful response.
type envelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

type response[T any] struct {
	Body envelope[T]
}

func ok[T any](data T) *response[T] {
	return &response[T]{Body: envelope[T]{Success: true, Data: data}}
}

// Request payloads

type InitSessionRequest struct {
	TemplateID string `json:"templateId,omitempty"`
}

type StepRequest struct {
	Data    map[string]any `json:"data"`
	Advance bool           `json:"advance,omitempty"`
}

type ValidateRequest struct {
	Step int            `json:"step,omitempty" minimum:"0"`
	Data map[string]any `json:"data,omitempty"`
}

type InitiateRequest struct {
	ProjectName        string             `json:"projectName,omitempty"`
	Description        string             `json:"description,omitempty"`
	Scope              string             `json:"scope,omitempty"`
	Category           string             `json:"category,omitempty"`
	ProjectType        string             `json:"projectType,omitempty"`
	Region             string             `json:"region,omitempty"`
	Ministry           string             `json:"ministry,omitempty"`
	StartDate          string             `json:"startDate,omitempty"`
	ExpectedCompletion string             `json:"expectedCompletion,omitempty"`
	Risks              []domain.RiskInput `json:"risks,omitempty"`
	Budget             *domain.Amount     `json:"budget,omitempty"`
	FundingSource      string             `json:"fundingSource,omitempty"`
}

func (r InitiateRequest) toEngine() engine.InitiateRequest {
	return engine.InitiateRequest{
		Basic: domain.BasicInfo{
			ProjectName:        r.ProjectName,
			Description:        r.Description,
			Scope:              r.Scope,
			Category:           r.Category,
			ProjectType:        r.ProjectType,
			Region:             r.Region,
			Ministry:           r.Ministry,
			StartDate:          r.StartDate,
			ExpectedCompletion: r.ExpectedCompletion,
			Risks:              r.Risks,
		},
		Budget:        r.Budget,
		FundingSource: r.FundingSource,
	}
}

type AssignRequest struct {
	AssignedPM  string  `json:"assignedPM,omitempty"`
	AssignedSPM *string `json:"assignedSPM,omitempty"`
}

type FinalizeRequest struct {
	Vendors         []domain.VendorInput     `json:"vendors,omitempty"`
	BudgetBreakdown map[string]domain.Amount `json:"budgetBreakdown,omitempty"`
	Milestones      []domain.MilestoneInput  `json:"milestones,omitempty"`
	Stakeholders    []domain.TeamMemberInput `json:"stakeholders,omitempty"`
	Risks           []domain.RiskInput       `json:"risks,omitempty"`
	Location        *domain.LocationInfo     `json:"location,omitempty"`
}

func (r FinalizeRequest) toEngine() engine.FinalizeRequest {
	return engine.FinalizeRequest{
		Vendors:         r.Vendors,
		BudgetBreakdown: r.BudgetBreakdown,
		Milestones:      r.Milestones,
		Stakeholders:    r.Stakeholders,
		Risks:           r.Risks,
		Location:        r.Location,
	}
}

type TransitionRequest struct {
	Status string `json:"status" enum:"active,on_hold,complete,archived"`
}

type DraftVersionRequest struct {
	ChangeSummary string         `json:"changeSummary,omitempty"`
	Snapshot      map[string]any `json:"snapshot,omitempty"`
}

type RejectVersionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Response payloads

type TemplateResponse struct {
	ID          string                    `json:"id"`
	Name        string                    `json:"name"`
	Description string                    `json:"description,omitempty"`
	Defaults    map[string]map[string]any `json:"defaults,omitempty"`
}

type SessionInitResponse struct {
	Session  domain.WizardSession `json:"session"`
	Template *TemplateResponse    `json:"template,omitempty"`
}

func templateResponse(id string, t *config.Template) *TemplateResponse {
	if t == nil {
		return nil
	}
	return &TemplateResponse{ID: id, Name: t.Name, Description: t.Description, Defaults: t.Defaults}
}

type ValidateResponse struct {
	Valid       bool                                `json:"valid"`
	FieldErrors map[string][]validation.FieldDetail `json:"fieldErrors,omitempty"`
}

type WorkflowStatusResponse struct {
	ProjectID       string                 `json:"projectId"`
	Code            string                 `json:"code"`
	WorkflowStatus  string                 `json:"workflowStatus"`
	LifecycleStatus string                 `json:"lifecycleStatus"`
	AssignedPM      *string                `json:"assignedPM,omitempty"`
	AssignedSPM     *string                `json:"assignedSPM,omitempty"`
	DirectorID      *string                `json:"directorId,omitempty"`
	AssignedAt      *string                `json:"assignedAt,omitempty"`
	FinalizedAt     *string                `json:"finalizedAt,omitempty"`
	Counts          repo.AssociationCounts `json:"counts"`
}

func workflowStatusResponse(v engine.WorkflowView) WorkflowStatusResponse {
	p := v.Project
	return WorkflowStatusResponse{
		ProjectID:       p.ID,
		Code:            p.Code,
		WorkflowStatus:  p.WorkflowStatus,
		LifecycleStatus: p.LifecycleStatus,
		AssignedPM:      p.ProjectManagerID,
		AssignedSPM:     p.SeniorProjectManagerID,
		DirectorID:      p.DirectorID,
		AssignedAt:      p.AssignedAt,
		FinalizedAt:     p.FinalizedAt,
		Counts:          v.Counts,
	}
}

type ProjectDetailResponse struct {
	Project        domain.Project         `json:"project"`
	Stakeholders   []domain.Stakeholder   `json:"stakeholders"`
	Milestones     []domain.Milestone     `json:"milestones"`
	Location       *domain.Location       `json:"location,omitempty"`
	CurrentVersion *domain.ProjectVersion `json:"currentVersion,omitempty"`
	Counts         repo.AssociationCounts `json:"counts"`
}

func projectDetailResponse(d engine.ProjectDetail) ProjectDetailResponse {
	res := ProjectDetailResponse{
		Project:        d.Project,
		Stakeholders:   d.Stakeholders,
		Milestones:     d.Milestones,
		Location:       d.Location,
		CurrentVersion: d.CurrentVersion,
		Counts:         d.Counts,
	}
	if res.Stakeholders == nil {
		res.Stakeholders = []domain.Stakeholder{}
	}
	if res.Milestones == nil {
		res.Milestones = []domain.Milestone{}
	}
	return res
}

type EventsResponse struct {
	Items      []domain.Event `json:"items"`
	NextCursor int64          `json:"nextCursor,omitempty"`
}

func templateIDs(templates map[string]config.Template) []string {
	ids := make([]string, 0, len(templates))
	for id := range templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
