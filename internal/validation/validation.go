// Package validation checks wizard and workflow payloads. Validators are
// pure functions over typed records and a Rules value; only the project
// name check reaches storage, through NameChecker.
package validation

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"pfmt/internal/config"
	"pfmt/internal/domain"
)

// FieldError describes one user-correctable problem.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

const (
	CodeRequired          = "REQUIRED_FIELD"
	CodeMinLength         = "MIN_LENGTH"
	CodeMaxLength         = "MAX_LENGTH"
	CodeMinValue          = "MIN_VALUE"
	CodeInvalidEnum       = "INVALID_ENUM"
	CodeInvalidDate       = "INVALID_DATE"
	CodeDateInPast        = "DATE_IN_PAST"
	CodeInvalidDateRange  = "INVALID_DATE_RANGE"
	CodeInvalidType       = "INVALID_TYPE"
	CodeUnknownField      = "UNKNOWN_FIELD"
	CodeNegative          = "NEGATIVE_VALUE"
	CodeExceedsMaximum    = "EXCEEDS_MAXIMUM"
	CodeBudgetExceeds     = "BUDGET_EXCEEDS_TOTAL"
	CodeInvalidUUID       = "INVALID_UUID"
	CodeInvalidFormat     = "INVALID_FORMAT"
	CodeOutOfRegion       = "OUT_OF_REGION"
	CodeIncompleteLegal   = "INCOMPLETE_LEGAL_LAND"
	CodeDuplicateName     = "DUPLICATE_PROJECT_NAME"
	CodeConflictingValues = "CONFLICTING_VALUES"
	CodeInvalidTemplate   = "INVALID_TEMPLATE"
)

const (
	minNameLen        = 3
	maxNameLen        = 255
	minDescriptionLen = 10
	maxRoleLen        = 100
)

// Rules carries the configurable parts of validation.
type Rules struct {
	Categories     []string
	ProjectTypes   []string
	Regions        []string
	Ministries     []string
	FundingSources []string
	BudgetCeiling  float64
	PostalPattern  *regexp.Regexp
	Bounds         config.Bounds
	Meridians      []string
	Now            func() time.Time
}

// RulesFrom derives validation rules from the domain config.
func RulesFrom(cfg *config.Config, now func() time.Time) (Rules, error) {
	r := Rules{
		Categories:     cfg.Enums.Categories,
		ProjectTypes:   cfg.Enums.ProjectTypes,
		Regions:        cfg.Enums.Regions,
		Ministries:     cfg.Enums.Ministries,
		FundingSources: cfg.Enums.FundingSources,
		BudgetCeiling:  cfg.Budget.Ceiling,
		Bounds:         cfg.Region.Bounds,
		Meridians:      cfg.Region.Meridians,
		Now:            now,
	}
	if cfg.Region.PostalPattern != "" {
		re, err := regexp.Compile(cfg.Region.PostalPattern)
		if err != nil {
			return Rules{}, fmt.Errorf("postal pattern: %w", err)
		}
		r.PostalPattern = re
	}
	if r.Now == nil {
		r.Now = time.Now
	}
	return r, nil
}

// NameChecker reports whether a project already uses name, compared
// case-insensitively.
type NameChecker interface {
	ProjectNameExists(ctx context.Context, name string) (bool, error)
}

type Validator struct {
	Rules Rules
	Names NameChecker
}

func New(rules Rules, names NameChecker) Validator {
	return Validator{Rules: rules, Names: names}
}

// Step validates the merged fields of one step. Unknown step keys pass.
func (v Validator) Step(ctx context.Context, key domain.StepKey, fields map[string]any) ([]FieldError, error) {
	switch key {
	case domain.StepBasicInfo:
		var rec domain.BasicInfo
		if errs := Decode(fields, &rec); len(errs) > 0 {
			return errs, nil
		}
		return v.BasicInfo(ctx, rec)
	case domain.StepLocation:
		var rec domain.LocationInfo
		if errs := Decode(fields, &rec); len(errs) > 0 {
			return errs, nil
		}
		return v.Rules.Location(rec), nil
	case domain.StepBudget:
		var rec domain.BudgetInfo
		if errs := Decode(fields, &rec); len(errs) > 0 {
			return errs, nil
		}
		return v.Rules.Budget(rec), nil
	case domain.StepTeam:
		var rec domain.TeamInfo
		if errs := Decode(fields, &rec); len(errs) > 0 {
			return errs, nil
		}
		return v.Rules.Team(rec), nil
	case domain.StepReview:
		var rec domain.ReviewInfo
		return Decode(fields, &rec), nil
	}
	return nil, nil
}

// BasicInfo runs the pure basic-info rules, then the name check when the
// name itself is acceptable.
func (v Validator) BasicInfo(ctx context.Context, b domain.BasicInfo) ([]FieldError, error) {
	errs := v.Rules.BasicInfo(b)
	if hasField(errs, "projectName") || v.Names == nil {
		return errs, nil
	}
	taken, err := v.Names.ProjectNameExists(ctx, b.ProjectName)
	if err != nil {
		return nil, fmt.Errorf("check project name: %w", err)
	}
	if taken {
		errs = append(errs, FieldError{Field: "projectName", Message: "a project with this name already exists", Code: CodeDuplicateName})
	}
	return errs, nil
}

// Complete validates the union of all accumulated step data with the
// stricter completion rule set.
func (v Validator) Complete(ctx context.Context, data domain.StepData) ([]FieldError, error) {
	var errs []FieldError

	var basic domain.BasicInfo
	basicOK := true
	if de := Decode(data.Fields(domain.StepBasicInfo), &basic); len(de) > 0 {
		errs = append(errs, de...)
		basicOK = false
	} else {
		be, err := v.BasicInfo(ctx, basic)
		if err != nil {
			return nil, err
		}
		errs = append(errs, be...)
	}

	var budget domain.BudgetInfo
	budgetOK := false
	if _, ok := data[domain.StepBudget]; ok {
		if de := Decode(data.Fields(domain.StepBudget), &budget); len(de) > 0 {
			errs = append(errs, de...)
		} else {
			budgetOK = true
			errs = append(errs, v.Rules.Budget(budget)...)
		}
	}
	for _, key := range []domain.StepKey{domain.StepLocation, domain.StepTeam, domain.StepReview} {
		if _, ok := data[key]; !ok {
			continue
		}
		se, err := v.Step(ctx, key, data.Fields(key))
		if err != nil {
			return nil, err
		}
		errs = append(errs, se...)
	}

	var total *domain.Amount
	if budgetOK {
		total = budget.TotalBudget
	}
	var estimated *domain.Amount
	if basicOK {
		estimated = basic.EstimatedBudget
	}
	switch {
	case total == nil && estimated == nil:
		errs = append(errs, FieldError{Field: "estimatedBudget", Message: "an estimated budget is required", Code: CodeRequired})
	case total != nil && estimated != nil && *total != *estimated:
		errs = append(errs, FieldError{Field: "estimatedBudget", Message: "estimated budget differs from the total budget", Code: CodeConflictingValues})
	default:
		b := total
		if b == nil {
			b = estimated
		}
		if !b.Finite() || *b <= 0 {
			errs = append(errs, FieldError{Field: "estimatedBudget", Message: "estimated budget must be greater than zero", Code: CodeMinValue})
		}
	}
	return errs, nil
}

// EstimatedBudget picks the budget a completed wizard should record.
func EstimatedBudget(data domain.StepData) float64 {
	var budget domain.BudgetInfo
	if len(Decode(data.Fields(domain.StepBudget), &budget)) == 0 && budget.TotalBudget != nil {
		return float64(*budget.TotalBudget)
	}
	var basic domain.BasicInfo
	if len(Decode(data.Fields(domain.StepBasicInfo), &basic)) == 0 && basic.EstimatedBudget != nil {
		return float64(*basic.EstimatedBudget)
	}
	return 0
}

// Group aggregates errors by field for API responses.
func Group(errs []FieldError) map[string][]FieldDetail {
	out := make(map[string][]FieldDetail, len(errs))
	for _, e := range errs {
		out[e.Field] = append(out[e.Field], FieldDetail{Message: e.Message, Code: e.Code})
	}
	return out
}

type FieldDetail struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func hasField(errs []FieldError, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}

// HasCode reports whether any error carries code.
func HasCode(errs []FieldError, code string) bool {
	for _, e := range errs {
		if e.Code == code {
			return true
		}
	}
	return false
}
