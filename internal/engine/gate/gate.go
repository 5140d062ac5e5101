// Package gate decides whether a wizard step may be accessed given which
// earlier steps are complete.
package gate

import "pfmt/internal/domain"

const (
	CodeOutOfOrder   = "STEP_OUT_OF_ORDER"
	CodeAccessDenied = "STEP_ACCESS_DENIED"
)

// Decision is the gate's verdict. NextAllowed is set when access is denied.
type Decision struct {
	Allowed     bool
	Code        string
	NextAllowed int
}

// CanAccess allows a step when every step before it is complete. Completed
// sessions may read any step. Requests above maxSteps are denied and
// pointed at the first incomplete step; requests below 1 are pointed at
// step 1, the nearest step that exists.
func CanAccess(s domain.WizardSession, requested, maxSteps int) Decision {
	if requested < 1 {
		return Decision{Code: CodeAccessDenied, NextAllowed: 1}
	}
	if requested > maxSteps {
		return Decision{Code: CodeAccessDenied, NextAllowed: firstIncomplete(s, maxSteps)}
	}
	if s.Status == domain.SessionCompleted {
		return Decision{Allowed: true}
	}
	for step := 1; step < requested; step++ {
		key, _ := domain.StepKeyFor(step)
		if !s.StepData.IsCompleted(key) {
			return Decision{Code: CodeOutOfOrder, NextAllowed: step}
		}
	}
	return Decision{Allowed: true}
}

func firstIncomplete(s domain.WizardSession, maxSteps int) int {
	for step := 1; step <= maxSteps; step++ {
		key, _ := domain.StepKeyFor(step)
		if !s.StepData.IsCompleted(key) {
			return step
		}
	}
	return maxSteps
}
