package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"pfmt/internal/db"
	"pfmt/internal/domain"
)

const projectColumns = `id,code,name,description,scope,category,project_type,region,ministry,budget,funding_source,start_date,end_date,project_manager_id,senior_project_manager_id,director_id,status,phase,workflow_status,lifecycle_status,created_by,source,session_id,created_at,updated_at,assigned_at,finalized_at`

func scanProject(row scanner) (domain.Project, error) {
	var p domain.Project
	var pm, spm, director, sessionID, assignedAt, finalizedAt sql.NullString
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Description, &p.Scope, &p.Category, &p.ProjectType, &p.Region, &p.Ministry,
		&p.Budget, &p.FundingSource, &p.StartDate, &p.EndDate, &pm, &spm, &director, &p.Status, &p.Phase,
		&p.WorkflowStatus, &p.LifecycleStatus, &p.CreatedBy, &p.Source, &sessionID, &p.CreatedAt, &p.UpdatedAt,
		&assignedAt, &finalizedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.ProjectManagerID = stringPtr(pm)
	p.SeniorProjectManagerID = stringPtr(spm)
	p.DirectorID = stringPtr(director)
	p.SessionID = stringPtr(sessionID)
	p.AssignedAt = stringPtr(assignedAt)
	p.FinalizedAt = stringPtr(finalizedAt)
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, q db.Querier, p domain.Project) error {
	_, err := r.conn(q).ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Code, p.Name, p.Description, p.Scope, p.Category, p.ProjectType, p.Region, p.Ministry,
		p.Budget, p.FundingSource, p.StartDate, p.EndDate, nullableStringPtr(p.ProjectManagerID),
		nullableStringPtr(p.SeniorProjectManagerID), nullableStringPtr(p.DirectorID), p.Status, p.Phase,
		p.WorkflowStatus, p.LifecycleStatus, p.CreatedBy, p.Source, nullableStringPtr(p.SessionID),
		p.CreatedAt, p.UpdatedAt, nullableStringPtr(p.AssignedAt), nullableStringPtr(p.FinalizedAt))
	return err
}

func (r Repo) GetProject(ctx context.Context, q db.Querier, id string) (domain.Project, error) {
	return scanProject(r.conn(q).QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

type ProjectFilters struct {
	WorkflowStatus string
	CreatedBy      string
	Limit          int
}

func (r Repo) ListProjects(ctx context.Context, q db.Querier, f ProjectFilters) ([]domain.Project, error) {
	var clauses []string
	var args []any
	if f.WorkflowStatus != "" {
		clauses = append(clauses, "workflow_status=?")
		args = append(args, f.WorkflowStatus)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	rows, err := r.conn(q).QueryContext(ctx, `SELECT `+projectColumns+` FROM projects `+whereClause(clauses)+` ORDER BY created_at DESC, code LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ProjectNameExists compares names case-insensitively.
func (r Repo) ProjectNameExists(ctx context.Context, name string) (bool, error) {
	return r.ProjectNameExistsTx(ctx, nil, name)
}

func (r Repo) ProjectNameExistsTx(ctx context.Context, q db.Querier, name string) (bool, error) {
	var n int
	err := r.conn(q).QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE lower(name)=lower(?)`, strings.TrimSpace(name)).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// NextProjectCode returns slug-NNN where NNN is one more than the highest
// numeric suffix already used with that slug.
func (r Repo) NextProjectCode(ctx context.Context, q db.Querier, slug string) (string, error) {
	rows, err := r.conn(q).QueryContext(ctx, `SELECT code FROM projects WHERE code LIKE ?`, slug+"-%")
	if err != nil {
		return "", err
	}
	defer rows.Close()
	highest := 0
	prefix := slug + "-"
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return "", err
		}
		n, err := strconv.Atoi(strings.TrimPrefix(code, prefix))
		if err != nil || !strings.HasPrefix(code, prefix) {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%03d", slug, highest+1), nil
}

// AssignProject moves an initiated project to assigned. ErrStale when the
// project is not in initiated any more.
func (r Repo) AssignProject(ctx context.Context, q db.Querier, id string, pm string, spm *string, at string) error {
	return expectOne(r.conn(q).ExecContext(ctx, `UPDATE projects SET project_manager_id=?, senior_project_manager_id=?, workflow_status=?, assigned_at=?, updated_at=? WHERE id=? AND workflow_status=?`,
		pm, nullableStringPtr(spm), domain.WorkflowAssigned, at, at, id, domain.WorkflowInitiated))
}

// FinalizeProject moves an assigned project to finalized and activates its
// lifecycle.
func (r Repo) FinalizeProject(ctx context.Context, q db.Querier, id, at string) error {
	return expectOne(r.conn(q).ExecContext(ctx, `UPDATE projects SET workflow_status=?, lifecycle_status='active', status='active', finalized_at=?, updated_at=? WHERE id=? AND workflow_status=?`,
		domain.WorkflowFinalized, at, at, id, domain.WorkflowAssigned))
}

// TransitionProject changes workflow status from one value to another.
func (r Repo) TransitionProject(ctx context.Context, q db.Querier, id, from, to, lifecycle, at string) error {
	return expectOne(r.conn(q).ExecContext(ctx, `UPDATE projects SET workflow_status=?, lifecycle_status=?, status=?, updated_at=? WHERE id=? AND workflow_status=?`,
		to, lifecycle, lifecycle, at, id, from))
}
