package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// StepKey names one record in a session's step data.
type StepKey string

const (
	StepBasicInfo StepKey = "basic_info"
	StepLocation  StepKey = "location"
	StepBudget    StepKey = "budget"
	StepTeam      StepKey = "team"
	StepReview    StepKey = "review"
)

// WizardSteps is ordered by step number; WizardSteps[0] is step 1.
var WizardSteps = []StepKey{StepBasicInfo, StepLocation, StepBudget, StepTeam, StepReview}

// StepKeyFor maps a 1-based step number to its key.
func StepKeyFor(step int) (StepKey, bool) {
	if step < 1 || step > len(WizardSteps) {
		return "", false
	}
	return WizardSteps[step-1], true
}

// StepRecord is the accumulated state of one wizard step.
type StepRecord struct {
	Fields      map[string]any `json:"fields"`
	Completed   bool           `json:"completed"`
	CompletedAt string         `json:"completed_at,omitempty"`
}

type StepData map[StepKey]StepRecord

// Clone copies the top-level maps so merges never alias a stored session.
func (d StepData) Clone() StepData {
	out := make(StepData, len(d))
	for k, rec := range d {
		fields := make(map[string]any, len(rec.Fields))
		for fk, fv := range rec.Fields {
			fields[fk] = fv
		}
		rec.Fields = fields
		out[k] = rec
	}
	return out
}

// Merge shallow-merges fields into the record for key. Keys absent from
// fields keep their previous value.
func (d StepData) Merge(key StepKey, fields map[string]any) StepData {
	out := d.Clone()
	rec := out[key]
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	for k, v := range fields {
		rec.Fields[k] = v
	}
	out[key] = rec
	return out
}

// MarkCompleted flags key as complete. The first completion time is kept.
func (d StepData) MarkCompleted(key StepKey, ts string) {
	rec := d[key]
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	if !rec.Completed {
		rec.Completed = true
		rec.CompletedAt = ts
	}
	d[key] = rec
}

func (d StepData) IsCompleted(key StepKey) bool {
	return d[key].Completed
}

// Fields returns the accumulated fields for key, never nil.
func (d StepData) Fields(key StepKey) map[string]any {
	if rec, ok := d[key]; ok && rec.Fields != nil {
		return rec.Fields
	}
	return map[string]any{}
}

// Amount is a money value that accepts JSON numbers and numeric strings
// such as "1,250,000.00".
type Amount float64

func (a *Amount) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimPrefix(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), "$")
		if s == "" {
			return fmt.Errorf("amount is empty")
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || !Amount(f).Finite() {
			return fmt.Errorf("invalid amount %q", s)
		}
		*a = Amount(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*a = Amount(f)
	return nil
}

// Schema lets request validation accept both encodings UnmarshalJSON does.
func (Amount) Schema(huma.Registry) *huma.Schema {
	return &huma.Schema{
		Description: "Amount as a number or a formatted string such as \"1,250,000.00\"",
		OneOf: []*huma.Schema{
			{Type: huma.TypeNumber},
			{Type: huma.TypeString},
		},
	}
}

// Finite reports whether the amount is a real number, not NaN or infinite.
func (a Amount) Finite() bool {
	f := float64(a)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Float returns the value or nil.
func (a *Amount) Float() *float64 {
	if a == nil {
		return nil
	}
	f := float64(*a)
	return &f
}

type RiskInput struct {
	Description string `json:"description"`
	Impact      string `json:"impact"`
	Probability string `json:"probability"`
	Mitigation  string `json:"mitigation,omitempty"`
}

type BasicInfo struct {
	ProjectName        string      `json:"projectName"`
	Description        string      `json:"description"`
	Scope              string      `json:"scope,omitempty"`
	Category           string      `json:"category"`
	ProjectType        string      `json:"projectType,omitempty"`
	Region             string      `json:"region,omitempty"`
	Ministry           string      `json:"ministry,omitempty"`
	StartDate          string      `json:"startDate,omitempty"`
	ExpectedCompletion string      `json:"expectedCompletion,omitempty"`
	EstimatedBudget    *Amount     `json:"estimatedBudget,omitempty"`
	Risks              []RiskInput `json:"risks,omitempty"`
}

type LegalLand struct {
	Quarter  string `json:"quarter,omitempty"`
	Section  string `json:"section,omitempty"`
	Township string `json:"township,omitempty"`
	Range    string `json:"range,omitempty"`
	Meridian string `json:"meridian,omitempty"`
}

// Empty reports whether no part of the description was given.
func (l LegalLand) Empty() bool {
	return l.Quarter == "" && l.Section == "" && l.Township == "" && l.Range == "" && l.Meridian == ""
}

type LocationInfo struct {
	Address      string     `json:"address,omitempty"`
	City         string     `json:"city,omitempty"`
	Municipality string     `json:"municipality,omitempty"`
	PostalCode   string     `json:"postalCode,omitempty"`
	Latitude     *float64   `json:"latitude,omitempty"`
	Longitude    *float64   `json:"longitude,omitempty"`
	LegalLand    *LegalLand `json:"legalLand,omitempty"`
}

// Empty reports whether the record carries nothing worth persisting.
func (l LocationInfo) Empty() bool {
	return l.Address == "" && l.City == "" && l.Municipality == "" && l.PostalCode == "" &&
		l.Latitude == nil && l.Longitude == nil && (l.LegalLand == nil || l.LegalLand.Empty())
}

type MilestoneInput struct {
	Title   string  `json:"title"`
	DueDate string  `json:"dueDate"`
	Amount  *Amount `json:"amount,omitempty"`
}

type BudgetInfo struct {
	TotalBudget        *Amount          `json:"totalBudget,omitempty"`
	DesignBudget       *Amount          `json:"designBudget,omitempty"`
	ConstructionBudget *Amount          `json:"constructionBudget,omitempty"`
	EquipmentBudget    *Amount          `json:"equipmentBudget,omitempty"`
	ContingencyBudget  *Amount          `json:"contingencyBudget,omitempty"`
	OtherBudget        *Amount          `json:"otherBudget,omitempty"`
	FundingSource      string           `json:"fundingSource,omitempty"`
	Milestones         []MilestoneInput `json:"milestones,omitempty"`
}

// LineItems returns the itemized sub-budgets keyed by category, skipping
// the ones that were not given.
func (b BudgetInfo) LineItems() []BudgetLine {
	var out []BudgetLine
	for _, it := range []struct {
		field    string
		category string
		v        *Amount
	}{
		{"designBudget", "design", b.DesignBudget},
		{"constructionBudget", "construction", b.ConstructionBudget},
		{"equipmentBudget", "equipment", b.EquipmentBudget},
		{"contingencyBudget", "contingency", b.ContingencyBudget},
		{"otherBudget", "other", b.OtherBudget},
	} {
		if it.v != nil {
			out = append(out, BudgetLine{Field: it.field, Category: it.category, Amount: float64(*it.v)})
		}
	}
	return out
}

type BudgetLine struct {
	Field    string
	Category string
	Amount   float64
}

type TeamMemberInput struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

type VendorInput struct {
	VendorID      string  `json:"vendorId"`
	Role          string  `json:"role,omitempty"`
	ContractValue *Amount `json:"contractValue,omitempty"`
}

type TeamInfo struct {
	ProjectManager       string            `json:"projectManager,omitempty"`
	SeniorProjectManager string            `json:"seniorProjectManager,omitempty"`
	Director             string            `json:"director,omitempty"`
	TeamMembers          []TeamMemberInput `json:"teamMembers,omitempty"`
	Vendors              []VendorInput     `json:"vendors,omitempty"`
}

type ReviewInfo struct {
	Confirmed bool   `json:"confirmed,omitempty"`
	Notes     string `json:"notes,omitempty"`
}
