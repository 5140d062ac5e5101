package domain

// Session statuses.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
	SessionCancelled = "cancelled"
)

// Workflow statuses stored in projects.workflow_status.
const (
	WorkflowInitiated = "initiated"
	WorkflowAssigned  = "assigned"
	WorkflowFinalized = "finalized"
	WorkflowActive    = "active"
	WorkflowOnHold    = "on_hold"
	WorkflowComplete  = "complete"
	WorkflowArchived  = "archived"
)

// Version statuses.
const (
	VersionDraft           = "Draft"
	VersionPendingApproval = "PendingApproval"
	VersionApproved        = "Approved"
	VersionRejected        = "Rejected"
)

type WizardSession struct {
	ID                 string   `json:"session_id"`
	UserID             string   `json:"user_id"`
	CurrentStep        int      `json:"current_step"`
	TemplateID         *string  `json:"template_id,omitempty"`
	StepData           StepData `json:"step_data"`
	Status             string   `json:"status" enum:"active,completed,cancelled"`
	ProjectID          *string  `json:"project_id,omitempty"`
	Version            int      `json:"version"`
	CreatedAt          string   `json:"created_at" format:"date-time"`
	UpdatedAt          string   `json:"updated_at" format:"date-time"`
	CompletedAt        *string  `json:"completed_at,omitempty" format:"date-time"`
	CancelledAt        *string  `json:"cancelled_at,omitempty" format:"date-time"`
	CancellationReason *string  `json:"cancellation_reason,omitempty"`
}

// Terminal reports whether the session accepts no further mutation.
func (s WizardSession) Terminal() bool {
	return s.Status == SessionCompleted || s.Status == SessionCancelled
}

type Project struct {
	ID                     string  `json:"id"`
	Code                   string  `json:"code"`
	Name                   string  `json:"name"`
	Description            string  `json:"description,omitempty"`
	Scope                  string  `json:"scope,omitempty"`
	Category               string  `json:"category,omitempty"`
	ProjectType            string  `json:"project_type,omitempty"`
	Region                 string  `json:"region,omitempty"`
	Ministry               string  `json:"ministry,omitempty"`
	Budget                 float64 `json:"budget"`
	FundingSource          string  `json:"funding_source,omitempty"`
	StartDate              string  `json:"start_date,omitempty"`
	EndDate                string  `json:"end_date,omitempty"`
	ProjectManagerID       *string `json:"project_manager_id,omitempty"`
	SeniorProjectManagerID *string `json:"senior_project_manager_id,omitempty"`
	DirectorID             *string `json:"director_id,omitempty"`
	Status                 string  `json:"status"`
	Phase                  string  `json:"phase,omitempty"`
	WorkflowStatus         string  `json:"workflow_status" enum:"initiated,assigned,finalized,active,on_hold,complete,archived"`
	LifecycleStatus        string  `json:"lifecycle_status"`
	CreatedBy              string  `json:"created_by"`
	Source                 string  `json:"source" enum:"wizard,workflow"`
	SessionID              *string `json:"session_id,omitempty"`
	CreatedAt              string  `json:"created_at" format:"date-time"`
	UpdatedAt              string  `json:"updated_at" format:"date-time"`
	AssignedAt             *string `json:"assigned_at,omitempty" format:"date-time"`
	FinalizedAt            *string `json:"finalized_at,omitempty" format:"date-time"`
}

type Stakeholder struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Risk struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Description string `json:"description"`
	Impact      string `json:"impact" enum:"low,medium,high"`
	Probability string `json:"probability" enum:"low,medium,high"`
	Mitigation  string `json:"mitigation,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type VendorAssignment struct {
	ID            string   `json:"id"`
	ProjectID     string   `json:"project_id"`
	VendorID      string   `json:"vendor_id"`
	Role          string   `json:"role,omitempty"`
	ContractValue *float64 `json:"contract_value,omitempty"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
}

type Milestone struct {
	ID        string   `json:"id"`
	ProjectID string   `json:"project_id"`
	Title     string   `json:"title"`
	DueDate   string   `json:"due_date"`
	Amount    *float64 `json:"amount,omitempty"`
	Status    string   `json:"status"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

type Location struct {
	ID           string   `json:"id"`
	ProjectID    string   `json:"project_id"`
	Address      string   `json:"address,omitempty"`
	City         string   `json:"city,omitempty"`
	Municipality string   `json:"municipality,omitempty"`
	PostalCode   string   `json:"postal_code,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	Quarter      string   `json:"quarter,omitempty"`
	Section      string   `json:"section,omitempty"`
	Township     string   `json:"township,omitempty"`
	Range        string   `json:"range,omitempty"`
	Meridian     string   `json:"meridian,omitempty"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
}

type BudgetItem struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"project_id"`
	Category  string  `json:"category"`
	Amount    float64 `json:"amount"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type ProjectVersion struct {
	ID             string  `json:"id"`
	ProjectID      string  `json:"project_id"`
	VersionNumber  int     `json:"version_number"`
	Status         string  `json:"status" enum:"Draft,PendingApproval,Approved,Rejected"`
	IsCurrent      bool    `json:"is_current"`
	Snapshot       string  `json:"snapshot_json"`
	ChangeSummary  string  `json:"change_summary,omitempty"`
	CreatedBy      string  `json:"created_by"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
	SubmittedAt    *string `json:"submitted_at,omitempty" format:"date-time"`
	DecidedBy      *string `json:"decided_by,omitempty"`
	DecidedAt      *string `json:"decided_at,omitempty" format:"date-time"`
	DecisionReason *string `json:"decision_reason,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID          string `json:"id"`
	PrincipalID string `json:"principal_id"`
	Role        string `json:"role"`
	Name        string `json:"name,omitempty"`
	KeyHash     string `json:"key_hash"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}
