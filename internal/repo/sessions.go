package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"pfmt/internal/db"
	"pfmt/internal/domain"
)

const sessionColumns = `id,user_id,current_step,template_id,step_data,status,project_id,version,created_at,updated_at,completed_at,cancelled_at,cancellation_reason`

func scanSession(row scanner) (domain.WizardSession, error) {
	var s domain.WizardSession
	var tpl, projectID, completedAt, cancelledAt, reason sql.NullString
	var data string
	err := row.Scan(&s.ID, &s.UserID, &s.CurrentStep, &tpl, &data, &s.Status, &projectID, &s.Version,
		&s.CreatedAt, &s.UpdatedAt, &completedAt, &cancelledAt, &reason)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.StepData = domain.StepData{}
	if data != "" {
		if err := json.Unmarshal([]byte(data), &s.StepData); err != nil {
			return s, fmt.Errorf("decode step data for session %s: %w", s.ID, err)
		}
	}
	s.TemplateID = stringPtr(tpl)
	s.ProjectID = stringPtr(projectID)
	s.CompletedAt = stringPtr(completedAt)
	s.CancelledAt = stringPtr(cancelledAt)
	s.CancellationReason = stringPtr(reason)
	return s, nil
}

func encodeStepData(d domain.StepData) (string, error) {
	if d == nil {
		d = domain.StepData{}
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode step data: %w", err)
	}
	return string(b), nil
}

func (r Repo) InsertSession(ctx context.Context, q db.Querier, s domain.WizardSession) error {
	data, err := encodeStepData(s.StepData)
	if err != nil {
		return err
	}
	_, err = r.conn(q).ExecContext(ctx, `INSERT INTO wizard_sessions(id,user_id,current_step,template_id,step_data,status,version,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		s.ID, s.UserID, s.CurrentStep, nullableStringPtr(s.TemplateID), data, s.Status, s.Version, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetSession(ctx context.Context, q db.Querier, id string) (domain.WizardSession, error) {
	return scanSession(r.conn(q).QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM wizard_sessions WHERE id=?`, id))
}

// SessionFilters narrows ListSessions. Empty fields match everything.
type SessionFilters struct {
	UserID string
	Status string
	Limit  int
}

func (r Repo) ListSessions(ctx context.Context, q db.Querier, f SessionFilters) ([]domain.WizardSession, error) {
	var clauses []string
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	rows, err := r.conn(q).QueryContext(ctx, `SELECT `+sessionColumns+` FROM wizard_sessions `+whereClause(clauses)+` ORDER BY updated_at DESC, id LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WizardSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// UpdateSessionProgress writes step data and current step of an active
// session and bumps its version. With checkVersion the write only applies
// when the stored version still equals s.Version; otherwise ErrStale.
func (r Repo) UpdateSessionProgress(ctx context.Context, q db.Querier, s domain.WizardSession, checkVersion bool) error {
	data, err := encodeStepData(s.StepData)
	if err != nil {
		return err
	}
	query := `UPDATE wizard_sessions SET step_data=?, current_step=?, updated_at=?, version=version+1 WHERE id=? AND status='active'`
	args := []any{data, s.CurrentStep, s.UpdatedAt, s.ID}
	if checkVersion {
		query += ` AND version=?`
		args = append(args, s.Version)
	}
	return expectOne(r.conn(q).ExecContext(ctx, query, args...))
}

// MarkSessionCompleted moves an active session to completed and links it
// to its project. Returns ErrStale when the session is no longer active.
func (r Repo) MarkSessionCompleted(ctx context.Context, q db.Querier, id, projectID, at string) error {
	return expectOne(r.conn(q).ExecContext(ctx, `UPDATE wizard_sessions SET status='completed', project_id=?, completed_at=?, updated_at=?, version=version+1 WHERE id=? AND status='active'`,
		projectID, at, at, id))
}

// MarkSessionCancelled moves an active session to cancelled.
func (r Repo) MarkSessionCancelled(ctx context.Context, q db.Querier, id, reason, at string) error {
	return expectOne(r.conn(q).ExecContext(ctx, `UPDATE wizard_sessions SET status='cancelled', cancelled_at=?, cancellation_reason=?, updated_at=?, version=version+1 WHERE id=? AND status='active'`,
		at, nullable(reason), at, id))
}
