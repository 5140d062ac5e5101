package validation

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pfmt/internal/config"
	"pfmt/internal/domain"
)

type fakeNames map[string]bool

func (f fakeNames) ProjectNameExists(_ context.Context, name string) (bool, error) {
	return f[strings.ToLower(name)], nil
}

type failingNames struct{}

func (failingNames) ProjectNameExists(context.Context, string) (bool, error) {
	return false, errors.New("db down")
}

func testRules(t *testing.T) Rules {
	t.Helper()
	r, err := RulesFrom(config.Default(), func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	})
	require.NoError(t, err)
	return r
}

func codes(errs []FieldError) map[string]string {
	out := map[string]string{}
	for _, e := range errs {
		out[e.Field] = e.Code
	}
	return out
}

func validBasic() map[string]any {
	return map[string]any{
		"projectName": "Bridge A",
		"description": "Replace aging bridge structure",
		"category":    "Infrastructure",
	}
}

func TestBasicInfoStep(t *testing.T) {
	v := New(testRules(t), fakeNames{"bridge b": true})
	ctx := context.Background()

	errs, err := v.Step(ctx, domain.StepBasicInfo, validBasic())
	require.NoError(t, err)
	assert.Empty(t, errs)

	errs, err = v.Step(ctx, domain.StepBasicInfo, map[string]any{
		"projectName":        "Br",
		"description":        "short",
		"category":           "Spaceflight",
		"startDate":          "2025-05-01",
		"expectedCompletion": "not a date",
		"estimatedBudget":    -5,
		"risks":              []any{map[string]any{"description": "flood", "impact": "severe", "probability": "low"}},
	})
	require.NoError(t, err)
	got := codes(errs)
	assert.Equal(t, CodeMinLength, got["projectName"])
	assert.Equal(t, CodeMinLength, got["description"])
	assert.Equal(t, CodeInvalidEnum, got["category"])
	assert.Equal(t, CodeDateInPast, got["startDate"])
	assert.Equal(t, CodeInvalidDate, got["expectedCompletion"])
	assert.Equal(t, CodeNegative, got["estimatedBudget"])
	assert.Equal(t, CodeInvalidEnum, got["risks[0].impact"])

	fields := validBasic()
	fields["projectName"] = "BRIDGE b"
	errs, err = v.Step(ctx, domain.StepBasicInfo, fields)
	require.NoError(t, err)
	assert.Equal(t, CodeDuplicateName, codes(errs)["projectName"])
}

func TestDateRange(t *testing.T) {
	r := testRules(t)
	errs := r.BasicInfo(domain.BasicInfo{
		ProjectName: "Bridge A", Description: "Replace aging bridge", Category: "Infrastructure",
		StartDate: "2026-01-10", ExpectedCompletion: "2026-01-10T00:00:00Z",
	})
	assert.Equal(t, CodeInvalidDateRange, codes(errs)["expectedCompletion"])

	errs = r.BasicInfo(domain.BasicInfo{
		ProjectName: "Bridge A", Description: "Replace aging bridge", Category: "Infrastructure",
		StartDate: "2025-06-01", ExpectedCompletion: "2027-01-01",
	})
	assert.Empty(t, errs, "today is not in the past")
}

func TestNameCheckFailureIsInfrastructure(t *testing.T) {
	v := New(testRules(t), failingNames{})
	_, err := v.Step(context.Background(), domain.StepBasicInfo, validBasic())
	assert.Error(t, err)
}

func TestDecodeReportsTypeAndUnknownFields(t *testing.T) {
	var rec domain.BudgetInfo
	errs := Decode(map[string]any{"totalBudget": true, "colour": "blue", "designBudget": "1,000"}, &rec)
	got := codes(errs)
	assert.Equal(t, CodeUnknownField, got["colour"])
	assert.Contains(t, got, "totalBudget")
	assert.NotContains(t, got, "designBudget")
	assert.Nil(t, rec.TotalBudget, "record stays empty on error")

	errs = Decode(map[string]any{"totalBudget": "2,500,000", "designBudget": 100.5}, &rec)
	require.Empty(t, errs)
	assert.Equal(t, domain.Amount(2500000), *rec.TotalBudget)
	assert.Equal(t, domain.Amount(100.5), *rec.DesignBudget)
}

func TestBudgetRules(t *testing.T) {
	r := testRules(t)
	total := domain.Amount(100)
	over := domain.Amount(80)
	ceiling := domain.Amount(1e13)
	errs := r.Budget(domain.BudgetInfo{
		TotalBudget:        &total,
		DesignBudget:       &over,
		ConstructionBudget: &over,
		EquipmentBudget:    &ceiling,
		FundingSource:      "Lottery",
		Milestones:         []domain.MilestoneInput{{Title: "", DueDate: "soon"}},
	})
	got := codes(errs)
	assert.Equal(t, CodeBudgetExceeds, got["totalBudget"])
	assert.Equal(t, CodeExceedsMaximum, got["equipmentBudget"])
	assert.Equal(t, CodeInvalidEnum, got["fundingSource"])
	assert.Equal(t, CodeRequired, got["milestones[0].title"])
	assert.Equal(t, CodeInvalidDate, got["milestones[0].dueDate"])

	assert.Equal(t, CodeRequired, codes(r.Budget(domain.BudgetInfo{}))["totalBudget"])
}

func TestNonFiniteAmountsAreRejected(t *testing.T) {
	for _, raw := range []string{"NaN", "Inf", "-Inf", "+Infinity"} {
		var rec domain.BudgetInfo
		errs := Decode(map[string]any{"totalBudget": raw}, &rec)
		assert.Equal(t, CodeInvalidType, codes(errs)["totalBudget"], raw)
		assert.Nil(t, rec.TotalBudget, raw)
	}

	r := testRules(t)
	nan := domain.Amount(math.NaN())
	inf := domain.Amount(math.Inf(1))
	got := codes(r.Budget(domain.BudgetInfo{TotalBudget: &nan, DesignBudget: &inf}))
	assert.Equal(t, CodeInvalidType, got["totalBudget"])
	assert.Equal(t, CodeInvalidType, got["designBudget"])

	v := New(r, fakeNames{})
	errs, err := v.Complete(context.Background(), domain.StepData{}.Merge(domain.StepBasicInfo, validBasic()).Merge(domain.StepBudget, map[string]any{"totalBudget": "NaN"}))
	require.NoError(t, err)
	assert.NotEmpty(t, errs, "a NaN total budget never passes the complete rule set")
}

func TestLocationRules(t *testing.T) {
	r := testRules(t)
	lat, lng := 51.05, -114.07
	assert.Empty(t, r.Location(domain.LocationInfo{PostalCode: "T2P 1J9", Latitude: &lat, Longitude: &lng}))

	outLat, outLng := 45.5, -73.6
	got := codes(r.Location(domain.LocationInfo{
		PostalCode: "12345",
		Latitude:   &outLat,
		Longitude:  &outLng,
		LegalLand:  &domain.LegalLand{Section: "12", Meridian: "W9"},
	}))
	assert.Equal(t, CodeInvalidFormat, got["postalCode"])
	assert.Equal(t, CodeOutOfRegion, got["latitude"])
	assert.Equal(t, CodeIncompleteLegal, got["legalLand.township"])
	assert.Equal(t, CodeIncompleteLegal, got["legalLand.range"])
	assert.Equal(t, CodeInvalidEnum, got["legalLand.meridian"])

	assert.Equal(t, CodeRequired, codes(r.Location(domain.LocationInfo{Latitude: &lat}))["longitude"])
}

func TestTeamRules(t *testing.T) {
	r := testRules(t)
	neg := domain.Amount(-1)
	got := codes(r.Team(domain.TeamInfo{
		ProjectManager: "not-a-uuid",
		TeamMembers: []domain.TeamMemberInput{
			{UserID: "2f1b7c1e-7d5e-4b9a-9f0e-2a7d9f4b1c3d", Role: strings.Repeat("x", 101)},
			{UserID: "", Role: ""},
		},
		Vendors: []domain.VendorInput{{VendorID: "bad", ContractValue: &neg}},
	}))
	assert.Equal(t, CodeInvalidUUID, got["projectManager"])
	assert.Equal(t, CodeMaxLength, got["teamMembers[0].role"])
	assert.Equal(t, CodeRequired, got["teamMembers[1].userId"])
	assert.Equal(t, CodeRequired, got["teamMembers[1].role"])
	assert.Equal(t, CodeInvalidUUID, got["vendors[0].vendorId"])
	assert.Equal(t, CodeNegative, got["vendors[0].contractValue"])
}

func TestUnknownStepPasses(t *testing.T) {
	v := New(testRules(t), nil)
	errs, err := v.Step(context.Background(), domain.StepKey("extras"), map[string]any{"anything": 1})
	require.NoError(t, err)
	assert.Empty(t, errs)
}

func TestCompleteRuleSet(t *testing.T) {
	v := New(testRules(t), fakeNames{})
	ctx := context.Background()

	data := domain.StepData{}.Merge(domain.StepBasicInfo, validBasic())
	errs, err := v.Complete(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, CodeRequired, codes(errs)["estimatedBudget"])

	withBudget := data.Merge(domain.StepBudget, map[string]any{"totalBudget": 5000000})
	errs, err = v.Complete(ctx, withBudget)
	require.NoError(t, err)
	assert.Empty(t, errs)

	conflicting := withBudget.Merge(domain.StepBasicInfo, map[string]any{"estimatedBudget": 4000000})
	errs, err = v.Complete(ctx, conflicting)
	require.NoError(t, err)
	assert.Equal(t, CodeConflictingValues, codes(errs)["estimatedBudget"])

	zero := data.Merge(domain.StepBasicInfo, map[string]any{"estimatedBudget": 0})
	errs, err = v.Complete(ctx, zero)
	require.NoError(t, err)
	assert.Equal(t, CodeMinValue, codes(errs)["estimatedBudget"])

	errs, err = v.Complete(ctx, domain.StepData{})
	require.NoError(t, err)
	got := codes(errs)
	for _, f := range []string{"projectName", "description", "category", "estimatedBudget"} {
		assert.Equal(t, CodeRequired, got[f], f)
	}
	assert.Equal(t, 5000000.0, EstimatedBudget(withBudget))
}

func TestGroup(t *testing.T) {
	g := Group([]FieldError{
		{Field: "a", Message: "m1", Code: "X"},
		{Field: "a", Message: "m2", Code: "Y"},
		{Field: "b", Message: "m3", Code: "Z"},
	})
	assert.Len(t, g["a"], 2)
	assert.Equal(t, "Z", g["b"][0].Code)
}
