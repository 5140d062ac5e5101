package validation

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"pfmt/internal/config"
	"pfmt/internal/domain"
)

var levels = []string{"low", "medium", "high"}

func (r Rules) BasicInfo(b domain.BasicInfo) []FieldError {
	var errs []FieldError
	name := strings.TrimSpace(b.ProjectName)
	switch n := utf8.RuneCountInString(name); {
	case n == 0:
		errs = append(errs, required("projectName", "project name"))
	case n < minNameLen:
		errs = append(errs, FieldError{Field: "projectName", Message: fmt.Sprintf("project name must be at least %d characters", minNameLen), Code: CodeMinLength})
	case n > maxNameLen:
		errs = append(errs, FieldError{Field: "projectName", Message: fmt.Sprintf("project name must be at most %d characters", maxNameLen), Code: CodeMaxLength})
	}
	desc := strings.TrimSpace(b.Description)
	switch n := utf8.RuneCountInString(desc); {
	case n == 0:
		errs = append(errs, required("description", "description"))
	case n < minDescriptionLen:
		errs = append(errs, FieldError{Field: "description", Message: fmt.Sprintf("description must be at least %d characters", minDescriptionLen), Code: CodeMinLength})
	}
	if b.Category == "" {
		errs = append(errs, required("category", "category"))
	} else {
		errs = appendEnum(errs, "category", b.Category, r.Categories)
	}
	errs = appendEnum(errs, "projectType", b.ProjectType, r.ProjectTypes)
	errs = appendEnum(errs, "region", b.Region, r.Regions)
	errs = appendEnum(errs, "ministry", b.Ministry, r.Ministries)

	start, startErr := r.futureDate(b.StartDate, "startDate")
	if startErr != nil {
		errs = append(errs, *startErr)
	}
	end, endErr := r.futureDate(b.ExpectedCompletion, "expectedCompletion")
	if endErr != nil {
		errs = append(errs, *endErr)
	}
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		errs = append(errs, FieldError{Field: "expectedCompletion", Message: "expected completion must be after the start date", Code: CodeInvalidDateRange})
	}
	if b.EstimatedBudget != nil {
		errs = r.appendAmount(errs, "estimatedBudget", float64(*b.EstimatedBudget))
	}
	errs = append(errs, r.Risks("risks", b.Risks)...)
	return errs
}

func (r Rules) Risks(prefix string, risks []domain.RiskInput) []FieldError {
	var errs []FieldError
	for i, risk := range risks {
		field := fmt.Sprintf("%s[%d]", prefix, i)
		if strings.TrimSpace(risk.Description) == "" {
			errs = append(errs, required(field+".description", "risk description"))
		}
		if risk.Impact == "" {
			errs = append(errs, required(field+".impact", "risk impact"))
		} else {
			errs = appendEnum(errs, field+".impact", risk.Impact, levels)
		}
		if risk.Probability == "" {
			errs = append(errs, required(field+".probability", "risk probability"))
		} else {
			errs = appendEnum(errs, field+".probability", risk.Probability, levels)
		}
	}
	return errs
}

func (r Rules) Location(l domain.LocationInfo) []FieldError {
	var errs []FieldError
	if l.PostalCode != "" && r.PostalPattern != nil {
		if !r.PostalPattern.MatchString(strings.ToUpper(strings.TrimSpace(l.PostalCode))) {
			errs = append(errs, FieldError{Field: "postalCode", Message: "postal code format is invalid", Code: CodeInvalidFormat})
		}
	}
	switch {
	case l.Latitude != nil && l.Longitude == nil:
		errs = append(errs, required("longitude", "longitude"))
	case l.Latitude == nil && l.Longitude != nil:
		errs = append(errs, required("latitude", "latitude"))
	case l.Latitude != nil && l.Longitude != nil:
		if r.Bounds != (config.Bounds{}) && !r.Bounds.Contains(*l.Latitude, *l.Longitude) {
			errs = append(errs, FieldError{Field: "latitude", Message: "coordinates fall outside the supported region", Code: CodeOutOfRegion})
		}
	}
	if ll := l.LegalLand; ll != nil {
		if ll.Section != "" {
			for _, part := range []struct{ field, value string }{
				{"legalLand.township", ll.Township},
				{"legalLand.range", ll.Range},
				{"legalLand.meridian", ll.Meridian},
			} {
				if strings.TrimSpace(part.value) == "" {
					errs = append(errs, FieldError{Field: part.field, Message: "required when a section is given", Code: CodeIncompleteLegal})
				}
			}
		}
		if ll.Meridian != "" && len(r.Meridians) > 0 {
			errs = appendEnum(errs, "legalLand.meridian", strings.ToUpper(ll.Meridian), r.Meridians)
		}
	}
	return errs
}

func (r Rules) Budget(b domain.BudgetInfo) []FieldError {
	var errs []FieldError
	if b.TotalBudget == nil {
		errs = append(errs, required("totalBudget", "total budget"))
	} else {
		errs = r.appendAmount(errs, "totalBudget", float64(*b.TotalBudget))
	}
	var sum float64
	for _, item := range b.LineItems() {
		errs = r.appendAmount(errs, item.Field, item.Amount)
		sum += item.Amount
	}
	if b.TotalBudget != nil && sum > float64(*b.TotalBudget) {
		errs = append(errs, FieldError{Field: "totalBudget", Message: "itemized budgets exceed the total budget", Code: CodeBudgetExceeds})
	}
	errs = appendEnum(errs, "fundingSource", b.FundingSource, r.FundingSources)
	errs = append(errs, r.Milestones("milestones", b.Milestones)...)
	return errs
}

// FundingSource checks value against the configured funding sources.
func (r Rules) FundingSource(field, value string) []FieldError {
	return appendEnum(nil, field, value, r.FundingSources)
}

func (r Rules) Milestones(prefix string, ms []domain.MilestoneInput) []FieldError {
	var errs []FieldError
	for i, m := range ms {
		field := fmt.Sprintf("%s[%d]", prefix, i)
		if strings.TrimSpace(m.Title) == "" {
			errs = append(errs, required(field+".title", "milestone title"))
		}
		if m.DueDate == "" {
			errs = append(errs, required(field+".dueDate", "milestone due date"))
		} else if _, err := ParseDate(m.DueDate); err != nil {
			errs = append(errs, FieldError{Field: field + ".dueDate", Message: "due date is not a valid date", Code: CodeInvalidDate})
		}
		if m.Amount != nil {
			errs = r.appendAmount(errs, field+".amount", float64(*m.Amount))
		}
	}
	return errs
}

// BudgetBreakdown checks a category to amount mapping against the ceiling.
func (r Rules) BudgetBreakdown(prefix string, items map[string]domain.Amount) []FieldError {
	var errs []FieldError
	for _, cat := range sortedKeys(items) {
		field := prefix + "." + cat
		if strings.TrimSpace(cat) == "" {
			errs = append(errs, required(prefix, "budget category"))
			continue
		}
		errs = r.appendAmount(errs, field, float64(items[cat]))
	}
	return errs
}

func (r Rules) Team(t domain.TeamInfo) []FieldError {
	var errs []FieldError
	errs = appendUUID(errs, "projectManager", t.ProjectManager)
	errs = appendUUID(errs, "seniorProjectManager", t.SeniorProjectManager)
	errs = appendUUID(errs, "director", t.Director)
	errs = append(errs, r.TeamMembers("teamMembers", t.TeamMembers)...)
	errs = append(errs, r.Vendors("vendors", t.Vendors)...)
	return errs
}

func (r Rules) TeamMembers(prefix string, members []domain.TeamMemberInput) []FieldError {
	var errs []FieldError
	for i, m := range members {
		field := fmt.Sprintf("%s[%d]", prefix, i)
		if m.UserID == "" {
			errs = append(errs, required(field+".userId", "user id"))
		} else {
			errs = appendUUID(errs, field+".userId", m.UserID)
		}
		role := strings.TrimSpace(m.Role)
		switch {
		case role == "":
			errs = append(errs, required(field+".role", "role"))
		case utf8.RuneCountInString(role) > maxRoleLen:
			errs = append(errs, FieldError{Field: field + ".role", Message: fmt.Sprintf("role must be at most %d characters", maxRoleLen), Code: CodeMaxLength})
		}
	}
	return errs
}

func (r Rules) Vendors(prefix string, vendors []domain.VendorInput) []FieldError {
	var errs []FieldError
	for i, v := range vendors {
		field := fmt.Sprintf("%s[%d]", prefix, i)
		if v.VendorID == "" {
			errs = append(errs, required(field+".vendorId", "vendor id"))
		} else {
			errs = appendUUID(errs, field+".vendorId", v.VendorID)
		}
		if v.ContractValue != nil {
			errs = r.appendAmount(errs, field+".contractValue", float64(*v.ContractValue))
		}
	}
	return errs
}

// ParseDate accepts a calendar date or an RFC3339 timestamp.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// futureDate parses s and rejects days before today. Empty input yields a
// zero time and no error.
func (r Rules) futureDate(s, field string) (time.Time, *FieldError) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := ParseDate(s)
	if err != nil {
		return time.Time{}, &FieldError{Field: field, Message: "use YYYY-MM-DD or an RFC3339 timestamp", Code: CodeInvalidDate}
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	if day(t).Before(day(now())) {
		return t, &FieldError{Field: field, Message: "date must not be in the past", Code: CodeDateInPast}
	}
	return t, nil
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (r Rules) appendAmount(errs []FieldError, field string, v float64) []FieldError {
	if !domain.Amount(v).Finite() {
		return append(errs, FieldError{Field: field, Message: "must be a finite number", Code: CodeInvalidType})
	}
	if v < 0 {
		return append(errs, FieldError{Field: field, Message: "must not be negative", Code: CodeNegative})
	}
	if r.BudgetCeiling > 0 && v > r.BudgetCeiling {
		return append(errs, FieldError{Field: field, Message: fmt.Sprintf("must not exceed %.0f", r.BudgetCeiling), Code: CodeExceedsMaximum})
	}
	return errs
}

func appendEnum(errs []FieldError, field, value string, allowed []string) []FieldError {
	if value == "" || len(allowed) == 0 {
		return errs
	}
	for _, a := range allowed {
		if a == value {
			return errs
		}
	}
	return append(errs, FieldError{Field: field, Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")), Code: CodeInvalidEnum})
}

func appendUUID(errs []FieldError, field, value string) []FieldError {
	if value == "" {
		return errs
	}
	if _, err := uuid.Parse(value); err != nil {
		return append(errs, FieldError{Field: field, Message: "must be a UUID", Code: CodeInvalidUUID})
	}
	return errs
}

func sortedKeys(m map[string]domain.Amount) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func required(field, label string) FieldError {
	return FieldError{Field: field, Message: label + " is required", Code: CodeRequired}
}
