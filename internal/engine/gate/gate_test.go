package gate

import (
	"testing"

	"pfmt/internal/domain"
)

func session(completed ...domain.StepKey) domain.WizardSession {
	data := domain.StepData{}
	for _, k := range completed {
		data = data.Merge(k, map[string]any{"x": 1})
		data.MarkCompleted(k, "2025-01-01T00:00:00Z")
	}
	return domain.WizardSession{Status: domain.SessionActive, CurrentStep: 1, StepData: data}
}

func TestDeniesWhenPriorStepIncomplete(t *testing.T) {
	d := CanAccess(session(), 3, 5)
	if d.Allowed || d.Code != CodeOutOfOrder || d.NextAllowed != 1 {
		t.Fatalf("unexpected decision %+v", d)
	}
	d = CanAccess(session(domain.StepBasicInfo), 3, 5)
	if d.Allowed || d.NextAllowed != 2 {
		t.Fatalf("expected next allowed 2, got %+v", d)
	}
}

func TestNextAllowedIsReachable(t *testing.T) {
	for _, s := range []domain.WizardSession{
		session(),
		session(domain.StepBasicInfo),
		session(domain.StepBasicInfo, domain.StepLocation, domain.StepBudget),
	} {
		for requested := 1; requested <= 5; requested++ {
			d := CanAccess(s, requested, 5)
			if d.Allowed {
				continue
			}
			if d.NextAllowed > requested {
				t.Fatalf("next allowed %d beyond requested %d", d.NextAllowed, requested)
			}
			if again := CanAccess(s, d.NextAllowed, 5); !again.Allowed {
				t.Fatalf("next allowed %d is not reachable: %+v", d.NextAllowed, again)
			}
		}
	}
}

func TestFirstStepAlwaysOpen(t *testing.T) {
	if d := CanAccess(session(), 1, 5); !d.Allowed {
		t.Fatalf("step 1 must be open: %+v", d)
	}
}

func TestOutOfRange(t *testing.T) {
	if d := CanAccess(session(domain.StepBasicInfo), 6, 5); d.Allowed || d.Code != CodeAccessDenied || d.NextAllowed != 2 {
		t.Fatalf("step 6: unexpected %+v", d)
	}
	for _, step := range []int{0, -1} {
		d := CanAccess(session(domain.StepBasicInfo, domain.StepLocation), step, 5)
		if d.Allowed || d.Code != CodeAccessDenied || d.NextAllowed != 1 {
			t.Fatalf("step %d: unexpected %+v", step, d)
		}
		if again := CanAccess(session(), d.NextAllowed, 5); !again.Allowed {
			t.Fatalf("step %d: next allowed %d is not reachable", step, d.NextAllowed)
		}
	}
}

func TestCompletedSessionAllowsEverything(t *testing.T) {
	s := session()
	s.Status = domain.SessionCompleted
	if d := CanAccess(s, 5, 5); !d.Allowed {
		t.Fatalf("completed session should allow all steps")
	}
}
