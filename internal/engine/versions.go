package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"pfmt/internal/db"
	"pfmt/internal/domain"
	"pfmt/internal/engine/auth"
	"pfmt/internal/events"
	"pfmt/internal/repo"
	"pfmt/internal/validation"
)

// DraftRequest creates a new draft version. A nil Snapshot captures the
// project as currently stored.
type DraftRequest struct {
	ChangeSummary string
	Snapshot      map[string]any
}

func (e Engine) insertDraft(ctx context.Context, q db.Querier, proj domain.Project, p auth.Principal, summary string, now string) (domain.ProjectVersion, error) {
	return e.insertDraftSnapshot(ctx, q, proj, p, summary, proj, now)
}

func (e Engine) insertDraftSnapshot(ctx context.Context, q db.Querier, proj domain.Project, p auth.Principal, summary string, snapshot any, now string) (domain.ProjectVersion, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return domain.ProjectVersion{}, fmt.Errorf("encode snapshot: %w", err)
	}
	n, err := e.Repo.NextVersionNumber(ctx, q, proj.ID)
	if err != nil {
		return domain.ProjectVersion{}, fmt.Errorf("next version number: %w", err)
	}
	v := domain.ProjectVersion{
		ID:            newID(),
		ProjectID:     proj.ID,
		VersionNumber: n,
		Status:        domain.VersionDraft,
		Snapshot:      string(data),
		ChangeSummary: summary,
		CreatedBy:     p.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.Repo.InsertVersion(ctx, q, v); err != nil {
		return v, fmt.Errorf("insert version: %w", err)
	}
	return v, nil
}

func (e Engine) CreateDraftVersion(ctx context.Context, p auth.Principal, projectID string, req DraftRequest) (domain.ProjectVersion, error) {
	if err := auth.RequireRole(p, "draft project versions", e.policy().Draft); err != nil {
		return domain.ProjectVersion{}, err
	}
	var created domain.ProjectVersion
	err := e.inTx(ctx, func(t *txn) error {
		proj, err := e.Repo.GetProject(ctx, t.q, projectID)
		if err != nil {
			return err
		}
		var snapshot any = proj
		if req.Snapshot != nil {
			snapshot = req.Snapshot
		}
		v, err := e.insertDraftSnapshot(ctx, t.q, proj, p, req.ChangeSummary, snapshot, e.timestamp())
		if err != nil {
			return err
		}
		created = v
		return t.emit(ctx, versionEvent(events.VersionCreated, v, p, nil))
	})
	if err != nil {
		return domain.ProjectVersion{}, err
	}
	return created, nil
}

// versionOf loads a version and checks it belongs to projectID.
func (e Engine) versionOf(ctx context.Context, q db.Querier, projectID, id string) (domain.ProjectVersion, error) {
	v, err := e.Repo.GetVersion(ctx, q, id)
	if err != nil {
		return v, err
	}
	if v.ProjectID != projectID {
		return domain.ProjectVersion{}, repo.ErrNotFound
	}
	return v, nil
}

func (e Engine) SubmitVersion(ctx context.Context, p auth.Principal, projectID, id string) (domain.ProjectVersion, error) {
	if err := auth.RequireRole(p, "submit project versions", e.policy().Draft); err != nil {
		return domain.ProjectVersion{}, err
	}
	err := e.inTx(ctx, func(t *txn) error {
		v, err := e.versionOf(ctx, t.q, projectID, id)
		if err != nil {
			return err
		}
		if v.Status != domain.VersionDraft {
			return conflict(CodeInvalidVersionTransition, "version %d is %s, only drafts can be submitted", v.VersionNumber, v.Status)
		}
		if err := e.Repo.SubmitVersion(ctx, t.q, id, e.timestamp()); err != nil {
			if isStale(err) {
				return conflict(CodeInvalidVersionTransition, "version %d is no longer a draft", v.VersionNumber)
			}
			return fmt.Errorf("submit version: %w", err)
		}
		return t.emit(ctx, versionEvent(events.VersionSubmitted, v, p, nil))
	})
	if err != nil {
		return domain.ProjectVersion{}, err
	}
	return e.Repo.GetVersion(ctx, nil, id)
}

// ApproveVersion approves a pending version and makes it the project's
// current version in the same transaction.
func (e Engine) ApproveVersion(ctx context.Context, p auth.Principal, projectID, id string) (domain.ProjectVersion, error) {
	return e.decide(ctx, p, projectID, id, domain.VersionApproved, "")
}

func (e Engine) RejectVersion(ctx context.Context, p auth.Principal, projectID, id, reason string) (domain.ProjectVersion, error) {
	if err := auth.RequireRole(p, "reject project versions", e.policy().Approve); err != nil {
		return domain.ProjectVersion{}, err
	}
	if strings.TrimSpace(reason) == "" {
		return domain.ProjectVersion{}, invalidField("reason", "a rejection reason is required", validation.CodeRequired)
	}
	return e.decide(ctx, p, projectID, id, domain.VersionRejected, reason)
}

func (e Engine) decide(ctx context.Context, p auth.Principal, projectID, id, status, reason string) (domain.ProjectVersion, error) {
	verb := "approve"
	evtType := events.VersionApproved
	if status == domain.VersionRejected {
		verb = "reject"
		evtType = events.VersionRejected
	}
	if err := auth.RequireRole(p, verb+" project versions", e.policy().Approve); err != nil {
		return domain.ProjectVersion{}, err
	}
	err := e.inTx(ctx, func(t *txn) error {
		v, err := e.versionOf(ctx, t.q, projectID, id)
		if err != nil {
			return err
		}
		if v.Status != domain.VersionPendingApproval {
			return conflict(CodeInvalidVersionTransition, "version %d is %s, only pending versions can be decided", v.VersionNumber, v.Status)
		}
		if err := e.Repo.DecideVersion(ctx, t.q, id, status, p.ID, reason, e.timestamp()); err != nil {
			if isStale(err) {
				return conflict(CodeInvalidVersionTransition, "version %d is no longer pending", v.VersionNumber)
			}
			return fmt.Errorf("%s version: %w", verb, err)
		}
		if status == domain.VersionApproved {
			if err := e.Repo.SetCurrentVersion(ctx, t.q, projectID, id); err != nil {
				return fmt.Errorf("set current version: %w", err)
			}
		}
		var payload events.EventPayload
		if reason != "" {
			payload = events.EventPayload{"reason": reason}
		}
		return t.emit(ctx, versionEvent(evtType, v, p, payload))
	})
	if err != nil {
		return domain.ProjectVersion{}, err
	}
	return e.Repo.GetVersion(ctx, nil, id)
}

func (e Engine) ListVersions(ctx context.Context, p auth.Principal, projectID string) ([]domain.ProjectVersion, error) {
	if !p.Valid() {
		return nil, auth.ForbiddenError{Operation: "list project versions"}
	}
	if _, err := e.Repo.GetProject(ctx, nil, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListVersions(ctx, nil, projectID)
}
