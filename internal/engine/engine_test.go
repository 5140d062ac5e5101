package engine_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pfmt/internal/config"
	"pfmt/internal/db"
	"pfmt/internal/domain"
	"pfmt/internal/engine"
	"pfmt/internal/engine/auth"
	"pfmt/internal/engine/gate"
	"pfmt/internal/events"
	"pfmt/internal/migrate"
	"pfmt/internal/repo"
	"pfmt/internal/validation"
)

const (
	pmID  = "2f1c7a52-8d0b-4d7e-9a51-0c7e2b6f4a10"
	spmID = "8b3e55c1-1f44-4b8e-a0d2-6e9f7c3d2b21"
)

var (
	u1       = auth.Principal{ID: "u1", Role: auth.RoleProjectManager}
	u2       = auth.Principal{ID: "u2", Role: auth.RoleProjectManager}
	admin    = auth.Principal{ID: "admin-1", Role: auth.RoleAdmin}
	director = auth.Principal{ID: "director-1", Role: auth.RoleDirector}
	pm       = auth.Principal{ID: pmID, Role: auth.RoleProjectManager}
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context

	mu        sync.Mutex
	published []events.Event
}

func (env *testEnv) eventTypes() []string {
	env.mu.Lock()
	defer env.mu.Unlock()
	var out []string
	for _, e := range env.published {
		out = append(out, e.Type)
	}
	return out
}

func newTestEnv(t *testing.T, opts ...func(*config.Config)) *testEnv {
	t.Helper()
	ctx := context.Background()
	g, err := db.Open(ctx, db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	require.NoError(t, migrate.Migrate(ctx, g))

	cfg := config.Default()
	for _, o := range opts {
		o(cfg)
	}
	env := &testEnv{Ctx: ctx}
	bus := events.NewBus(events.SubscriberFunc(func(_ context.Context, evt events.Event) {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.published = append(env.published, evt)
	}))
	eng, err := engine.New(g, cfg, bus, zaptest.NewLogger(t))
	require.NoError(t, err)
	eng.Now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	env.Engine = eng
	return env
}

func basicInfo(name string) map[string]any {
	return map[string]any{
		"projectName": name,
		"description": "Replace aging bridge structure",
		"category":    "Infrastructure",
	}
}

func budgetStep() map[string]any {
	return map[string]any{
		"totalBudget":        "1,000,000",
		"designBudget":       150000,
		"constructionBudget": 700000,
		"fundingSource":      "Provincial",
		"milestones": []any{
			map[string]any{"title": "Design complete", "dueDate": "2026-01-15", "amount": 150000},
			map[string]any{"title": "Construction complete", "dueDate": "2026-09-30"},
		},
	}
}

// fillWizard completes steps 1 to 4 of a fresh session owned by p.
func fillWizard(t *testing.T, env *testEnv, p auth.Principal, name string) domain.WizardSession {
	t.Helper()
	started, err := env.Engine.InitializeSession(env.Ctx, p, nil)
	require.NoError(t, err)
	id := started.Session.ID
	steps := []map[string]any{
		basicInfo(name),
		{"city": "Edmonton", "postalCode": "T5J 0N3", "latitude": 53.54, "longitude": -113.49},
		budgetStep(),
		{"projectManager": pmID, "seniorProjectManager": spmID, "teamMembers": []any{map[string]any{"userId": spmID, "role": "reviewer"}}},
	}
	var s domain.WizardSession
	for i, fields := range steps {
		s, err = env.Engine.Advance(env.Ctx, p, id, &engine.StepSubmission{Step: stepNo(i + 1), Fields: fields})
		require.NoError(t, err, "step %d", i+1)
	}
	return s
}

func stepNo(n int) *int { return &n }

func asValidation(t *testing.T, err error) *engine.ValidationError {
	t.Helper()
	var ve *engine.ValidationError
	require.True(t, errors.As(err, &ve), "expected validation error, got %v", err)
	return ve
}

func asConflict(t *testing.T, err error) *engine.ConflictError {
	t.Helper()
	var ce *engine.ConflictError
	require.True(t, errors.As(err, &ce), "expected conflict, got %v", err)
	return ce
}

func TestUpdateStepThenAdvance(t *testing.T) {
	env := newTestEnv(t)
	started, err := env.Engine.InitializeSession(env.Ctx, u1, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, started.Session.CurrentStep)
	assert.Equal(t, domain.SessionActive, started.Session.Status)

	s, err := env.Engine.UpdateStep(env.Ctx, u1, started.Session.ID, engine.StepSubmission{Fields: basicInfo("Bridge A")})
	require.NoError(t, err)
	assert.True(t, s.StepData.IsCompleted(domain.StepBasicInfo))

	s, err = env.Engine.Advance(env.Ctx, u1, s.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, s.CurrentStep)

	stored, err := env.Engine.GetSession(env.Ctx, u1, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.CurrentStep)
	assert.Equal(t, "Bridge A", stored.StepData.Fields(domain.StepBasicInfo)["projectName"])
	assert.Equal(t, []string{events.SessionCreated, events.SessionStepUpdated, events.SessionAdvanced}, env.eventTypes())
}

func TestStepGateDeniesSkippedSteps(t *testing.T) {
	env := newTestEnv(t)
	started, err := env.Engine.InitializeSession(env.Ctx, u1, nil)
	require.NoError(t, err)

	_, err = env.Engine.UpdateStep(env.Ctx, u1, started.Session.ID, engine.StepSubmission{Step: stepNo(3), Fields: budgetStep()})
	ce := asConflict(t, err)
	assert.Equal(t, gate.CodeOutOfOrder, ce.Code)
	require.NotNil(t, ce.NextAllowed)
	assert.Equal(t, 1, *ce.NextAllowed)

	_, err = env.Engine.UpdateStep(env.Ctx, u1, started.Session.ID, engine.StepSubmission{Step: stepNo(9), Fields: budgetStep()})
	assert.Equal(t, gate.CodeAccessDenied, asConflict(t, err).Code)

	_, err = env.Engine.UpdateStep(env.Ctx, u1, started.Session.ID, engine.StepSubmission{Step: stepNo(0), Fields: basicInfo("Bridge A")})
	ce = asConflict(t, err)
	assert.Equal(t, gate.CodeAccessDenied, ce.Code, "step 0 is out of range, not the current step")
	require.NotNil(t, ce.NextAllowed)
	assert.Equal(t, 1, *ce.NextAllowed)

	stored, err := env.Engine.GetSession(env.Ctx, u1, started.Session.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.StepData)
}

func TestInvalidStepPersistsNothing(t *testing.T) {
	env := newTestEnv(t)
	started, err := env.Engine.InitializeSession(env.Ctx, u1, nil)
	require.NoError(t, err)

	_, err = env.Engine.UpdateStep(env.Ctx, u1, started.Session.ID, engine.StepSubmission{Fields: map[string]any{"projectName": "Br"}})
	ve := asValidation(t, err)
	assert.True(t, ve.HasCode(validation.CodeMinLength))
	assert.True(t, ve.HasCode(validation.CodeRequired))

	stored, err := env.Engine.GetSession(env.Ctx, u1, started.Session.ID)
	require.NoError(t, err)
	assert.False(t, stored.StepData.IsCompleted(domain.StepBasicInfo))
	assert.Empty(t, stored.StepData.Fields(domain.StepBasicInfo))
	assert.Equal(t, started.Session.Version, stored.Version)
}

func TestNonFiniteBudgetIsAFieldError(t *testing.T) {
	env := newTestEnv(t)
	started, err := env.Engine.InitializeSession(env.Ctx, u1, nil)
	require.NoError(t, err)
	id := started.Session.ID
	_, err = env.Engine.Advance(env.Ctx, u1, id, &engine.StepSubmission{Fields: basicInfo("Bridge A")})
	require.NoError(t, err)
	_, err = env.Engine.Advance(env.Ctx, u1, id, &engine.StepSubmission{Fields: map[string]any{"city": "Edmonton"}})
	require.NoError(t, err)

	budget := budgetStep()
	budget["totalBudget"] = "NaN"
	_, err = env.Engine.UpdateStep(env.Ctx, u1, id, engine.StepSubmission{Fields: budget})
	assert.True(t, asValidation(t, err).HasCode(validation.CodeInvalidType))

	stored, err := env.Engine.GetSession(env.Ctx, u1, id)
	require.NoError(t, err)
	assert.False(t, stored.StepData.IsCompleted(domain.StepBudget))
}

func TestMergeIsIdempotentAndKeepsFields(t *testing.T) {
	env := newTestEnv(t)
	started, err := env.Engine.InitializeSession(env.Ctx, u1, nil)
	require.NoError(t, err)
	id := started.Session.ID

	first, err := env.Engine.UpdateStep(env.Ctx, u1, id, engine.StepSubmission{Fields: basicInfo("Bridge A")})
	require.NoError(t, err)
	again, err := env.Engine.UpdateStep(env.Ctx, u1, id, engine.StepSubmission{Fields: basicInfo("Bridge A")})
	require.NoError(t, err)
	assert.Equal(t, first.StepData, again.StepData)

	partial, err := env.Engine.UpdateStep(env.Ctx, u1, id, engine.StepSubmission{Fields: map[string]any{"scope": "Deck and piers"}})
	require.NoError(t, err)
	fields := partial.StepData.Fields(domain.StepBasicInfo)
	assert.Equal(t, "Bridge A", fields["projectName"])
	assert.Equal(t, "Deck and piers", fields["scope"])
}

func TestOwnershipMismatchIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	started, err := env.Engine.InitializeSession(env.Ctx, u1, nil)
	require.NoError(t, err)

	_, err = env.Engine.GetSession(env.Ctx, u2, started.Session.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Engine.UpdateStep(env.Ctx, u2, started.Session.ID, engine.StepSubmission{Fields: basicInfo("Bridge A")})
	assert.ErrorIs(t, err, repo.ErrNotFound)

	list, err := env.Engine.ListSessions(env.Ctx, u2, "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestInitializeSessionTemplates(t *testing.T) {
	env := newTestEnv(t)
	tpl := "infrastructure"
	started, err := env.Engine.InitializeSession(env.Ctx, u1, &tpl)
	require.NoError(t, err)
	require.NotNil(t, started.Template)
	assert.Equal(t, "Infrastructure", started.Template.Defaults["basic_info"]["category"])
	assert.Empty(t, started.Session.StepData)

	unknown := "nope"
	_, err = env.Engine.InitializeSession(env.Ctx, u1, &unknown)
	assert.True(t, asValidation(t, err).HasCode(validation.CodeInvalidTemplate))
}

func TestAdvanceAndRetreatLimits(t *testing.T) {
	env := newTestEnv(t)
	started, err := env.Engine.InitializeSession(env.Ctx, u1, nil)
	require.NoError(t, err)
	id := started.Session.ID

	_, err = env.Engine.Retreat(env.Ctx, u1, id)
	assert.Equal(t, engine.CodeStepLimitReached, asConflict(t, err).Code)
	_, err = env.Engine.Advance(env.Ctx, u1, id, nil)
	assert.Equal(t, engine.CodeStepIncomplete, asConflict(t, err).Code)

	s := fillWizard(t, env, u1, "Bridge B")
	assert.Equal(t, 5, s.CurrentStep)
	s, err = env.Engine.Advance(env.Ctx, u1, s.ID, &engine.StepSubmission{Step: stepNo(5), Fields: map[string]any{"confirmed": true}})
	assert.Equal(t, engine.CodeStepLimitReached, asConflict(t, err).Code)

	back, err := env.Engine.Retreat(env.Ctx, u1, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, back.CurrentStep)
	assert.True(t, back.StepData.IsCompleted(domain.StepReview))
}

func TestCompleteWithoutBudgetFails(t *testing.T) {
	env := newTestEnv(t)
	started, err := env.Engine.InitializeSession(env.Ctx, u1, nil)
	require.NoError(t, err)
	_, err = env.Engine.UpdateStep(env.Ctx, u1, started.Session.ID, engine.StepSubmission{Fields: basicInfo("Bridge A")})
	require.NoError(t, err)

	_, err = env.Engine.CompleteWizard(env.Ctx, u1, started.Session.ID)
	ve := asValidation(t, err)
	var found bool
	for _, fe := range ve.Errors {
		if fe.Field == "estimatedBudget" && fe.Code == validation.CodeRequired {
			found = true
		}
	}
	assert.True(t, found, "errors: %+v", ve.Errors)

	s, err := env.Engine.GetSession(env.Ctx, u1, started.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, s.Status)
	exists, err := env.Engine.Repo.ProjectNameExists(env.Ctx, "Bridge A")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCompleteWizardCreatesProject(t *testing.T) {
	env := newTestEnv(t)
	s := fillWizard(t, env, u1, "Bridge A")

	proj, err := env.Engine.CompleteWizard(env.Ctx, u1, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "BRIDGE-A-001", proj.Code)
	assert.Equal(t, domain.WorkflowFinalized, proj.WorkflowStatus)
	assert.Equal(t, "active", proj.LifecycleStatus)
	assert.Equal(t, 1000000.0, proj.Budget)
	assert.Equal(t, u1.ID, proj.CreatedBy)

	detail, err := env.Engine.GetProject(env.Ctx, u1, proj.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.AssociationCounts{Stakeholders: 3, Milestones: 2, Locations: 1, BudgetItems: 2}, detail.Counts)
	require.NotNil(t, detail.Location)
	assert.Equal(t, "Edmonton", detail.Location.City)
	require.NotNil(t, detail.CurrentVersion)
	assert.Equal(t, domain.VersionApproved, detail.CurrentVersion.Status)
	assert.Equal(t, 1, detail.CurrentVersion.VersionNumber)

	done, err := env.Engine.GetSession(env.Ctx, u1, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, done.Status)
	require.NotNil(t, done.ProjectID)
	assert.Equal(t, proj.ID, *done.ProjectID)

	_, err = env.Engine.CompleteWizard(env.Ctx, u1, s.ID)
	assert.Equal(t, engine.CodeInvalidState, asConflict(t, err).Code)

	evts, err := env.Engine.ProjectEvents(env.Ctx, u1, proj.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, events.VersionApproved, evts[0].Type)
	assert.Equal(t, events.ProjectCreated, evts[1].Type)
}

func TestCompleteRollsBackOnFailure(t *testing.T) {
	env := newTestEnv(t)
	s := fillWizard(t, env, u1, "Bridge A")
	_, err := env.Engine.DB.ExecContext(env.Ctx, `DROP TABLE project_milestones`)
	require.NoError(t, err)

	_, err = env.Engine.CompleteWizard(env.Ctx, u1, s.ID)
	require.Error(t, err)

	exists, err := env.Engine.Repo.ProjectNameExists(env.Ctx, "Bridge A")
	require.NoError(t, err)
	assert.False(t, exists)
	stored, err := env.Engine.GetSession(env.Ctx, u1, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, stored.Status)
	assert.NotContains(t, env.eventTypes(), events.ProjectCreated)
}

func TestConcurrentCompleteSameName(t *testing.T) {
	env := newTestEnv(t)
	a := fillWizard(t, env, u1, "Bridge A")
	b := fillWizard(t, env, u2, "Bridge A")

	type result struct {
		proj domain.Project
		err  error
	}
	results := make([]result, 2)
	var wg sync.WaitGroup
	for i, run := range []struct {
		p  auth.Principal
		id string
	}{{u1, a.ID}, {u2, b.ID}} {
		wg.Add(1)
		go func(i int, p auth.Principal, id string) {
			defer wg.Done()
			proj, err := env.Engine.CompleteWizard(env.Ctx, p, id)
			results[i] = result{proj, err}
		}(i, run.p, run.id)
	}
	wg.Wait()

	var ok, dup int
	for _, r := range results {
		if r.err == nil {
			ok++
			continue
		}
		var ve *engine.ValidationError
		if errors.As(r.err, &ve) && ve.HasCode(validation.CodeDuplicateName) {
			dup++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, dup)
}

func TestCancelledSessionRejectsMutation(t *testing.T) {
	env := newTestEnv(t)
	started, err := env.Engine.InitializeSession(env.Ctx, u1, nil)
	require.NoError(t, err)
	s, err := env.Engine.CancelWizard(env.Ctx, u1, started.Session.ID, "no longer needed")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCancelled, s.Status)

	_, err = env.Engine.UpdateStep(env.Ctx, u1, s.ID, engine.StepSubmission{Fields: basicInfo("Bridge A")})
	assert.Equal(t, engine.CodeInvalidState, asConflict(t, err).Code)
	_, err = env.Engine.CancelWizard(env.Ctx, u1, s.ID, "")
	assert.Equal(t, engine.CodeInvalidState, asConflict(t, err).Code)

	stored, err := env.Engine.GetSession(env.Ctx, u1, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCancelled, stored.Status)
	require.NotNil(t, stored.CancellationReason)
	assert.Equal(t, "no longer needed", *stored.CancellationReason)
}

func TestValidateStepIsDryRun(t *testing.T) {
	env := newTestEnv(t)
	started, err := env.Engine.InitializeSession(env.Ctx, u1, nil)
	require.NoError(t, err)

	errs, err := env.Engine.ValidateStep(env.Ctx, u1, started.Session.ID, 1, map[string]any{"projectName": "Bridge A", "budget": 5})
	require.NoError(t, err)
	assert.True(t, validation.HasCode(errs, validation.CodeUnknownField))

	errs, err = env.Engine.ValidateStep(env.Ctx, u1, started.Session.ID, 42, map[string]any{"anything": true})
	require.NoError(t, err)
	assert.Empty(t, errs)

	errs, err = env.Engine.ValidateStep(env.Ctx, u1, started.Session.ID, 0, nil)
	require.NoError(t, err)
	assert.True(t, validation.HasCode(errs, validation.CodeRequired))

	stored, err := env.Engine.GetSession(env.Ctx, u1, started.Session.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.StepData)
}

func initiate(t *testing.T, env *testEnv, name string) domain.Project {
	t.Helper()
	budget := domain.Amount(2500000)
	proj, err := env.Engine.Initiate(env.Ctx, director, engine.InitiateRequest{
		Basic: domain.BasicInfo{
			ProjectName: name,
			Description: "New school in the north east",
			Category:    "Education",
			Risks:       []domain.RiskInput{{Description: "Soil conditions", Impact: "high", Probability: "low"}},
		},
		Budget:        &budget,
		FundingSource: "Provincial",
	})
	require.NoError(t, err)
	return proj
}

func TestWorkflowLifecycle(t *testing.T) {
	env := newTestEnv(t)
	proj := initiate(t, env, "North School")
	assert.Equal(t, domain.WorkflowInitiated, proj.WorkflowStatus)
	assert.Equal(t, "planning", proj.LifecycleStatus)
	require.NotNil(t, proj.DirectorID)
	assert.Equal(t, director.ID, *proj.DirectorID)

	_, err := env.Engine.Finalize(env.Ctx, admin, proj.ID, engine.FinalizeRequest{})
	assert.Equal(t, engine.CodeInvalidWorkflowTransition, asConflict(t, err).Code)
	unchanged, err := env.Engine.Repo.GetProject(env.Ctx, nil, proj.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowInitiated, unchanged.WorkflowStatus)
	assert.Equal(t, proj.UpdatedAt, unchanged.UpdatedAt)

	_, err = env.Engine.Assign(env.Ctx, pm, proj.ID, engine.AssignRequest{AssignedPM: pmID})
	var fe auth.ForbiddenError
	assert.ErrorAs(t, err, &fe)
	_, err = env.Engine.Assign(env.Ctx, director, proj.ID, engine.AssignRequest{AssignedPM: "not-a-uuid"})
	assert.True(t, asValidation(t, err).HasCode(validation.CodeInvalidUUID))

	spm := spmID
	assigned, err := env.Engine.Assign(env.Ctx, director, proj.ID, engine.AssignRequest{AssignedPM: pmID, AssignedSPM: &spm})
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowAssigned, assigned.WorkflowStatus)
	_, err = env.Engine.Assign(env.Ctx, director, proj.ID, engine.AssignRequest{AssignedPM: pmID})
	assert.Equal(t, engine.CodeInvalidWorkflowTransition, asConflict(t, err).Code)
	_, err = env.Engine.Assign(env.Ctx, director, proj.ID, engine.AssignRequest{AssignedPM: "not-a-uuid"})
	assert.Equal(t, engine.CodeInvalidWorkflowTransition, asConflict(t, err).Code, "state is checked before the payload")

	_, err = env.Engine.Finalize(env.Ctx, u2, proj.ID, engine.FinalizeRequest{})
	assert.ErrorAs(t, err, &fe)
	_, err = env.Engine.Finalize(env.Ctx, pm, proj.ID, engine.FinalizeRequest{
		BudgetBreakdown: map[string]domain.Amount{"construction": 2000000, "design": 900000},
	})
	assert.True(t, asValidation(t, err).HasCode(validation.CodeBudgetExceeds))

	amount := domain.Amount(500000)
	final, err := env.Engine.Finalize(env.Ctx, pm, proj.ID, engine.FinalizeRequest{
		Vendors:         []domain.VendorInput{{VendorID: "5d9a1c3e-7b2f-4e60-8a4d-1f0b9c8e7d65", Role: "general contractor", ContractValue: &amount}},
		BudgetBreakdown: map[string]domain.Amount{"construction": 2000000, "design": 400000},
		Milestones:      []domain.MilestoneInput{{Title: "Ground breaking", DueDate: "2026-04-01"}},
		Location:        &domain.LocationInfo{City: "Fort McMurray"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowFinalized, final.WorkflowStatus)
	assert.Equal(t, "active", final.LifecycleStatus)

	view, err := env.Engine.WorkflowStatus(env.Ctx, u1, proj.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.AssociationCounts{Stakeholders: 2, Risks: 1, Vendors: 1, Milestones: 1, Locations: 1, BudgetItems: 2}, view.Counts)

	for _, to := range []string{domain.WorkflowActive, domain.WorkflowOnHold, domain.WorkflowArchived} {
		p, err := env.Engine.Transition(env.Ctx, admin, proj.ID, to)
		require.NoError(t, err, "to %s", to)
		assert.Equal(t, to, p.WorkflowStatus)
	}
	_, err = env.Engine.Transition(env.Ctx, admin, proj.ID, domain.WorkflowActive)
	assert.Equal(t, engine.CodeInvalidWorkflowTransition, asConflict(t, err).Code)

	assert.Contains(t, env.eventTypes(), events.ProjectFinalized)
}

func TestInitiateValidation(t *testing.T) {
	env := newTestEnv(t)
	zero := domain.Amount(0)
	_, err := env.Engine.Initiate(env.Ctx, director, engine.InitiateRequest{
		Basic:         domain.BasicInfo{ProjectName: "North School", Description: "New school in the north east", Category: "Education"},
		Budget:        &zero,
		FundingSource: "Lottery",
	})
	ve := asValidation(t, err)
	assert.True(t, ve.HasCode(validation.CodeMinValue))
	assert.True(t, ve.HasCode(validation.CodeInvalidEnum))

	_, err = env.Engine.Initiate(env.Ctx, u1, engine.InitiateRequest{})
	var fe auth.ForbiddenError
	assert.ErrorAs(t, err, &fe)

	nan := domain.Amount(math.NaN())
	_, err = env.Engine.Initiate(env.Ctx, director, engine.InitiateRequest{
		Basic:  domain.BasicInfo{ProjectName: "North School", Description: "New school in the north east", Category: "Education"},
		Budget: &nan,
	})
	assert.True(t, asValidation(t, err).HasCode(validation.CodeInvalidType))

	initiate(t, env, "North School")
	budget := domain.Amount(10)
	_, err = env.Engine.Initiate(env.Ctx, admin, engine.InitiateRequest{
		Basic:  domain.BasicInfo{ProjectName: "north school", Description: "Another school up north", Category: "Education"},
		Budget: &budget,
	})
	assert.True(t, asValidation(t, err).HasCode(validation.CodeDuplicateName))
}

func TestProjectCodesIncrement(t *testing.T) {
	env := newTestEnv(t)
	a := initiate(t, env, "Bridge")
	b := initiate(t, env, "Bridge!")
	assert.Equal(t, "BRIDGE-001", a.Code)
	assert.Equal(t, "BRIDGE-002", b.Code)
}

func TestVersionApprovalFlow(t *testing.T) {
	env := newTestEnv(t)
	proj := initiate(t, env, "North School")

	versions, err := env.Engine.ListVersions(env.Ctx, u1, proj.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	v1 := versions[0]
	assert.Equal(t, domain.VersionDraft, v1.Status)
	assert.False(t, v1.IsCurrent)

	_, err = env.Engine.ApproveVersion(env.Ctx, director, proj.ID, v1.ID)
	assert.Equal(t, engine.CodeInvalidVersionTransition, asConflict(t, err).Code)

	_, err = env.Engine.SubmitVersion(env.Ctx, pm, proj.ID, v1.ID)
	require.NoError(t, err)
	_, err = env.Engine.ApproveVersion(env.Ctx, pm, proj.ID, v1.ID)
	var fe auth.ForbiddenError
	assert.ErrorAs(t, err, &fe)
	approved, err := env.Engine.ApproveVersion(env.Ctx, director, proj.ID, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VersionApproved, approved.Status)
	assert.True(t, approved.IsCurrent)

	v2, err := env.Engine.CreateDraftVersion(env.Ctx, pm, proj.ID, engine.DraftRequest{ChangeSummary: "rebaseline", Snapshot: map[string]any{"budget": 2600000}})
	require.NoError(t, err)
	assert.Equal(t, 2, v2.VersionNumber)
	_, err = env.Engine.SubmitVersion(env.Ctx, pm, proj.ID, v2.ID)
	require.NoError(t, err)
	_, err = env.Engine.RejectVersion(env.Ctx, director, proj.ID, v2.ID, " ")
	assert.True(t, asValidation(t, err).HasCode(validation.CodeRequired))
	rejected, err := env.Engine.RejectVersion(env.Ctx, director, proj.ID, v2.ID, "over budget")
	require.NoError(t, err)
	assert.Equal(t, domain.VersionRejected, rejected.Status)
	require.NotNil(t, rejected.DecisionReason)
	assert.Equal(t, "over budget", *rejected.DecisionReason)

	current, err := env.Engine.Repo.CurrentVersion(env.Ctx, nil, proj.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, current.ID)

	other := initiate(t, env, "South School")
	_, err = env.Engine.SubmitVersion(env.Ctx, pm, other.ID, v2.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"Bridge A":                       "BRIDGE-A",
		"  école / North  ":              "COLE-NORTH",
		"!!!":                            "PRJ",
		"Highway 63 Twinning Phase Two":  "HIGHWAY-63-TWINN",
		"Abcdefghijklmno pq":             "ABCDEFGHIJKLMNO",
	}
	for in, want := range cases {
		assert.Equal(t, want, engine.Slug(in), in)
	}
}
