package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"pfmt/internal/config"
	"pfmt/internal/db"
	"pfmt/internal/domain"
	"pfmt/internal/engine/auth"
	"pfmt/internal/engine/gate"
	"pfmt/internal/events"
	"pfmt/internal/repo"
	"pfmt/internal/validation"
)

// StepSubmission is one step's payload. A nil Step means the session's
// current step.
type StepSubmission struct {
	Step   *int
	Fields map[string]any
}

// SessionInit is a new session plus the defaults of its template, which
// are returned to the caller but never written into step data.
type SessionInit struct {
	Session  domain.WizardSession
	Template *config.Template
}

func (e Engine) InitializeSession(ctx context.Context, p auth.Principal, templateID *string) (SessionInit, error) {
	if !p.Valid() {
		return SessionInit{}, auth.ForbiddenError{Operation: "start a wizard session"}
	}
	var tpl *config.Template
	if templateID != nil && *templateID != "" {
		t, ok := e.Config.Templates[*templateID]
		if !ok {
			return SessionInit{}, invalidField("templateId", fmt.Sprintf("unknown template %s", *templateID), validation.CodeInvalidTemplate)
		}
		tpl = &t
	} else {
		templateID = nil
	}
	now := e.timestamp()
	s := domain.WizardSession{
		ID:          newID(),
		UserID:      p.ID,
		CurrentStep: 1,
		TemplateID:  templateID,
		StepData:    domain.StepData{},
		Status:      domain.SessionActive,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := e.inTx(ctx, func(t *txn) error {
		if err := e.Repo.InsertSession(ctx, t.q, s); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return t.emit(ctx, sessionEvent(events.SessionCreated, s, p, events.EventPayload{"template_id": templateID}))
	})
	if err != nil {
		return SessionInit{}, err
	}
	return SessionInit{Session: s, Template: tpl}, nil
}

// loadOwned reads a session and hides it from anyone but its owner.
func (e Engine) loadOwned(ctx context.Context, q db.Querier, p auth.Principal, id string) (domain.WizardSession, error) {
	s, err := e.Repo.GetSession(ctx, q, id)
	if err != nil {
		return s, err
	}
	if s.UserID != p.ID {
		return domain.WizardSession{}, repo.ErrNotFound
	}
	return s, nil
}

func (e Engine) GetSession(ctx context.Context, p auth.Principal, id string) (domain.WizardSession, error) {
	return e.loadOwned(ctx, nil, p, id)
}

func (e Engine) ListSessions(ctx context.Context, p auth.Principal, status string) ([]domain.WizardSession, error) {
	if !p.Valid() {
		return nil, auth.ForbiddenError{Operation: "list wizard sessions"}
	}
	return e.Repo.ListSessions(ctx, nil, repo.SessionFilters{UserID: p.ID, Status: status})
}

func ensureActive(s domain.WizardSession) error {
	if s.Terminal() {
		return conflict(CodeInvalidState, "session %s is %s", s.ID, s.Status)
	}
	return nil
}

// UpdateStep validates the merged step data and persists it only when it
// is valid, marking the step complete.
func (e Engine) UpdateStep(ctx context.Context, p auth.Principal, id string, sub StepSubmission) (domain.WizardSession, error) {
	s, err := e.loadOwned(ctx, nil, p, id)
	if err != nil {
		return s, err
	}
	if err := ensureActive(s); err != nil {
		return s, err
	}
	step := s.CurrentStep
	if sub.Step != nil {
		step = *sub.Step
	}
	if d := gate.CanAccess(s, step, e.maxSteps()); !d.Allowed {
		msg := fmt.Sprintf("step %d is not accessible yet", step)
		if d.Code == gate.CodeAccessDenied {
			msg = fmt.Sprintf("step %d is outside 1..%d", step, e.maxSteps())
		}
		return s, (&ConflictError{Code: d.Code, Message: msg}).withSteps(d.NextAllowed, s.CurrentStep)
	}
	key, _ := domain.StepKeyFor(step)

	merged := s.StepData.Merge(key, sub.Fields)
	errs, err := e.validator().Step(ctx, key, merged.Fields(key))
	if err != nil {
		return s, err
	}
	if len(errs) > 0 {
		return s, invalid(errs)
	}
	now := e.timestamp()
	merged.MarkCompleted(key, now)

	next := s
	next.StepData = merged
	next.UpdatedAt = now
	if err := e.saveProgress(ctx, p, next, events.SessionStepUpdated, events.EventPayload{"step": step, "step_key": string(key)}); err != nil {
		return s, err
	}
	next.Version++
	return next, nil
}

// saveProgress writes step data and current step, honoring the optional
// version check.
func (e Engine) saveProgress(ctx context.Context, p auth.Principal, s domain.WizardSession, evtType string, payload events.EventPayload) error {
	return e.inTx(ctx, func(t *txn) error {
		err := e.Repo.UpdateSessionProgress(ctx, t.q, s, e.Config.Wizard.OptimisticLocking)
		if isStale(err) {
			cur, gerr := e.Repo.GetSession(ctx, t.q, s.ID)
			if gerr != nil {
				return gerr
			}
			if cur.Terminal() {
				return conflict(CodeInvalidState, "session %s is %s", s.ID, cur.Status)
			}
			return conflict(CodeSessionModified, "session %s changed since version %d", s.ID, s.Version)
		}
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		return t.emit(ctx, sessionEvent(evtType, s, p, payload))
	})
}

// Advance optionally applies a submission, then moves to the next step.
// The current step must be complete and below the last step.
func (e Engine) Advance(ctx context.Context, p auth.Principal, id string, sub *StepSubmission) (domain.WizardSession, error) {
	var s domain.WizardSession
	var err error
	if sub != nil && len(sub.Fields) > 0 {
		s, err = e.UpdateStep(ctx, p, id, *sub)
	} else {
		s, err = e.loadOwned(ctx, nil, p, id)
	}
	if err != nil {
		return s, err
	}
	if err := ensureActive(s); err != nil {
		return s, err
	}
	if s.CurrentStep >= e.maxSteps() {
		return s, conflict(CodeStepLimitReached, "already at the last step").withSteps(0, s.CurrentStep)
	}
	key, _ := domain.StepKeyFor(s.CurrentStep)
	if !s.StepData.IsCompleted(key) {
		return s, conflict(CodeStepIncomplete, "step %d must be completed before advancing", s.CurrentStep).withSteps(s.CurrentStep, s.CurrentStep)
	}
	next := s
	next.CurrentStep++
	next.UpdatedAt = e.timestamp()
	if err := e.saveProgress(ctx, p, next, events.SessionAdvanced, events.EventPayload{"from": s.CurrentStep, "to": next.CurrentStep}); err != nil {
		return s, err
	}
	next.Version++
	return next, nil
}

// Retreat moves back one step. Data entered for later steps is kept.
func (e Engine) Retreat(ctx context.Context, p auth.Principal, id string) (domain.WizardSession, error) {
	s, err := e.loadOwned(ctx, nil, p, id)
	if err != nil {
		return s, err
	}
	if err := ensureActive(s); err != nil {
		return s, err
	}
	if s.CurrentStep <= 1 {
		return s, conflict(CodeStepLimitReached, "already at the first step").withSteps(0, s.CurrentStep)
	}
	next := s
	next.CurrentStep--
	next.UpdatedAt = e.timestamp()
	if err := e.saveProgress(ctx, p, next, events.SessionRetreated, events.EventPayload{"from": s.CurrentStep, "to": next.CurrentStep}); err != nil {
		return s, err
	}
	next.Version++
	return next, nil
}

// ValidateStep is a dry run. With step 0 it applies the completion rule
// set to the accumulated data; unknown step numbers validate nothing.
func (e Engine) ValidateStep(ctx context.Context, p auth.Principal, id string, step int, fields map[string]any) ([]validation.FieldError, error) {
	s, err := e.loadOwned(ctx, nil, p, id)
	if err != nil {
		return nil, err
	}
	if step == 0 {
		return e.validator().Complete(ctx, s.StepData)
	}
	key, ok := domain.StepKeyFor(step)
	if !ok {
		return nil, nil
	}
	return e.validator().Step(ctx, key, s.StepData.Merge(key, fields).Fields(key))
}

func (e Engine) CancelWizard(ctx context.Context, p auth.Principal, id, reason string) (domain.WizardSession, error) {
	s, err := e.loadOwned(ctx, nil, p, id)
	if err != nil {
		return s, err
	}
	if err := ensureActive(s); err != nil {
		return s, err
	}
	now := e.timestamp()
	err = e.inTx(ctx, func(t *txn) error {
		if err := e.Repo.MarkSessionCancelled(ctx, t.q, id, reason, now); err != nil {
			if isStale(err) {
				return conflict(CodeInvalidState, "session %s is no longer active", id)
			}
			return fmt.Errorf("cancel session: %w", err)
		}
		return t.emit(ctx, sessionEvent(events.SessionCancelled, s, p, events.EventPayload{"reason": reason}))
	})
	if err != nil {
		return s, err
	}
	return e.Repo.GetSession(ctx, nil, id)
}

// CompleteWizard validates all accumulated data and creates the project,
// its dependent rows and its first version in one transaction.
func (e Engine) CompleteWizard(ctx context.Context, p auth.Principal, id string) (domain.Project, error) {
	s, err := e.loadOwned(ctx, nil, p, id)
	if err != nil {
		return domain.Project{}, err
	}
	if err := ensureActive(s); err != nil {
		return domain.Project{}, err
	}
	errs, err := e.validator().Complete(ctx, s.StepData)
	if err != nil {
		return domain.Project{}, err
	}
	if len(errs) > 0 {
		return domain.Project{}, invalid(errs)
	}
	plan, err := planFromSession(s)
	if err != nil {
		return domain.Project{}, err
	}

	var created domain.Project
	err = e.withProjectCode(ctx, plan.basic.ProjectName, func(t *txn, code string) error {
		now := e.timestamp()
		proj := plan.project(code, p, s, now)
		if err := e.Repo.InsertProject(ctx, t.q, proj); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		if err := e.insertPlanRows(ctx, t.q, proj.ID, plan, now); err != nil {
			return err
		}
		v, err := e.initialVersion(ctx, t.q, proj, p, s, now)
		if err != nil {
			return err
		}
		if err := e.Repo.MarkSessionCompleted(ctx, t.q, s.ID, proj.ID, now); err != nil {
			if isStale(err) {
				return conflict(CodeInvalidState, "session %s is no longer active", s.ID)
			}
			return fmt.Errorf("complete session: %w", err)
		}
		if err := t.emit(ctx, projectEvent(events.ProjectCreated, proj, p, events.EventPayload{"code": proj.Code, "session_id": s.ID})); err != nil {
			return err
		}
		if err := t.emit(ctx, versionEvent(events.VersionApproved, v, p, nil)); err != nil {
			return err
		}
		if err := t.emit(ctx, sessionEvent(events.SessionCompleted, s, p, events.EventPayload{"project_id": proj.ID})); err != nil {
			return err
		}
		created = proj
		return nil
	})
	if err != nil {
		var ce *ConflictError
		var ve *ValidationError
		if !errors.As(err, &ce) && !errors.As(err, &ve) {
			e.Log.Error("wizard completion rolled back", zap.String("session_id", s.ID), zap.Error(err))
		}
		return domain.Project{}, err
	}
	return created, nil
}

func sessionEvent(typ string, s domain.WizardSession, p auth.Principal, payload events.EventPayload) events.Event {
	return events.Event{Type: typ, EntityKind: "wizard_session", EntityID: s.ID, ActorID: p.ID, Payload: payload}
}
