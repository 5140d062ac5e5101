package repo

import (
	"context"
	"database/sql"

	"pfmt/internal/db"
	"pfmt/internal/domain"
)

const versionColumns = `id,project_id,version_number,status,is_current,snapshot_json,change_summary,created_by,created_at,updated_at,submitted_at,decided_by,decided_at,decision_reason`

func scanVersion(row scanner) (domain.ProjectVersion, error) {
	var v domain.ProjectVersion
	var submittedAt, decidedBy, decidedAt, reason sql.NullString
	err := row.Scan(&v.ID, &v.ProjectID, &v.VersionNumber, &v.Status, &v.IsCurrent, &v.Snapshot, &v.ChangeSummary,
		&v.CreatedBy, &v.CreatedAt, &v.UpdatedAt, &submittedAt, &decidedBy, &decidedAt, &reason)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	v.SubmittedAt = stringPtr(submittedAt)
	v.DecidedBy = stringPtr(decidedBy)
	v.DecidedAt = stringPtr(decidedAt)
	v.DecisionReason = stringPtr(reason)
	return v, nil
}

func (r Repo) InsertVersion(ctx context.Context, q db.Querier, v domain.ProjectVersion) error {
	_, err := r.conn(q).ExecContext(ctx, `INSERT INTO project_versions(`+versionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		v.ID, v.ProjectID, v.VersionNumber, v.Status, v.IsCurrent, v.Snapshot, v.ChangeSummary, v.CreatedBy,
		v.CreatedAt, v.UpdatedAt, nullableStringPtr(v.SubmittedAt), nullableStringPtr(v.DecidedBy),
		nullableStringPtr(v.DecidedAt), nullableStringPtr(v.DecisionReason))
	return err
}

func (r Repo) GetVersion(ctx context.Context, q db.Querier, id string) (domain.ProjectVersion, error) {
	return scanVersion(r.conn(q).QueryRowContext(ctx, `SELECT `+versionColumns+` FROM project_versions WHERE id=?`, id))
}

func (r Repo) ListVersions(ctx context.Context, q db.Querier, projectID string) ([]domain.ProjectVersion, error) {
	rows, err := r.conn(q).QueryContext(ctx, `SELECT `+versionColumns+` FROM project_versions WHERE project_id=? ORDER BY version_number DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProjectVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func (r Repo) NextVersionNumber(ctx context.Context, q db.Querier, projectID string) (int, error) {
	var n int
	err := r.conn(q).QueryRowContext(ctx, `SELECT COALESCE(MAX(version_number),0)+1 FROM project_versions WHERE project_id=?`, projectID).Scan(&n)
	return n, err
}

// SubmitVersion moves a draft to pending approval.
func (r Repo) SubmitVersion(ctx context.Context, q db.Querier, id, at string) error {
	return expectOne(r.conn(q).ExecContext(ctx, `UPDATE project_versions SET status=?, submitted_at=?, updated_at=? WHERE id=? AND status=?`,
		domain.VersionPendingApproval, at, at, id, domain.VersionDraft))
}

// DecideVersion records an approval or rejection of a pending version.
func (r Repo) DecideVersion(ctx context.Context, q db.Querier, id, status, decidedBy, reason, at string) error {
	return expectOne(r.conn(q).ExecContext(ctx, `UPDATE project_versions SET status=?, decided_by=?, decided_at=?, decision_reason=?, updated_at=? WHERE id=? AND status=?`,
		status, decidedBy, at, nullable(reason), at, id, domain.VersionPendingApproval))
}

// SetCurrentVersion clears the current flag on every version of the
// project, then sets it on id. Run inside a transaction.
func (r Repo) SetCurrentVersion(ctx context.Context, q db.Querier, projectID, id string) error {
	if _, err := r.conn(q).ExecContext(ctx, `UPDATE project_versions SET is_current=? WHERE project_id=? AND is_current=?`, false, projectID, true); err != nil {
		return err
	}
	return expectOne(r.conn(q).ExecContext(ctx, `UPDATE project_versions SET is_current=? WHERE id=? AND project_id=?`, true, id, projectID))
}

func (r Repo) CurrentVersion(ctx context.Context, q db.Querier, projectID string) (domain.ProjectVersion, error) {
	return scanVersion(r.conn(q).QueryRowContext(ctx, `SELECT `+versionColumns+` FROM project_versions WHERE project_id=? AND is_current=?`, projectID, true))
}
