package repo

import (
	"context"
	"database/sql"

	"pfmt/internal/db"
	"pfmt/internal/domain"
)

func (r Repo) InsertStakeholder(ctx context.Context, q db.Querier, s domain.Stakeholder) error {
	_, err := r.conn(q).ExecContext(ctx, `INSERT INTO project_stakeholders(id,project_id,user_id,role,created_at) VALUES (?,?,?,?,?)`,
		s.ID, s.ProjectID, s.UserID, s.Role, s.CreatedAt)
	return err
}

func (r Repo) InsertRisk(ctx context.Context, q db.Querier, rk domain.Risk) error {
	_, err := r.conn(q).ExecContext(ctx, `INSERT INTO project_risks(id,project_id,description,impact,probability,mitigation,created_at) VALUES (?,?,?,?,?,?,?)`,
		rk.ID, rk.ProjectID, rk.Description, rk.Impact, rk.Probability, rk.Mitigation, rk.CreatedAt)
	return err
}

func (r Repo) InsertVendor(ctx context.Context, q db.Querier, v domain.VendorAssignment) error {
	_, err := r.conn(q).ExecContext(ctx, `INSERT INTO project_vendors(id,project_id,vendor_id,role,contract_value,created_at) VALUES (?,?,?,?,?,?)`,
		v.ID, v.ProjectID, v.VendorID, v.Role, nullableFloatPtr(v.ContractValue), v.CreatedAt)
	return err
}

func (r Repo) InsertMilestone(ctx context.Context, q db.Querier, m domain.Milestone) error {
	_, err := r.conn(q).ExecContext(ctx, `INSERT INTO project_milestones(id,project_id,title,due_date,amount,status,created_at) VALUES (?,?,?,?,?,?,?)`,
		m.ID, m.ProjectID, m.Title, m.DueDate, nullableFloatPtr(m.Amount), m.Status, m.CreatedAt)
	return err
}

func (r Repo) InsertLocation(ctx context.Context, q db.Querier, l domain.Location) error {
	_, err := r.conn(q).ExecContext(ctx, `INSERT INTO project_locations(id,project_id,address,city,municipality,postal_code,latitude,longitude,quarter,section,township,range_no,meridian,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		l.ID, l.ProjectID, l.Address, l.City, l.Municipality, l.PostalCode, nullableFloatPtr(l.Latitude), nullableFloatPtr(l.Longitude),
		l.Quarter, l.Section, l.Township, l.Range, l.Meridian, l.CreatedAt)
	return err
}

func (r Repo) InsertBudgetItem(ctx context.Context, q db.Querier, b domain.BudgetItem) error {
	_, err := r.conn(q).ExecContext(ctx, `INSERT INTO project_budget_items(id,project_id,category,amount,created_at) VALUES (?,?,?,?,?)`,
		b.ID, b.ProjectID, b.Category, b.Amount, b.CreatedAt)
	return err
}

func (r Repo) ListStakeholders(ctx context.Context, q db.Querier, projectID string) ([]domain.Stakeholder, error) {
	rows, err := r.conn(q).QueryContext(ctx, `SELECT id,project_id,user_id,role,created_at FROM project_stakeholders WHERE project_id=? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Stakeholder
	for rows.Next() {
		var s domain.Stakeholder
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.UserID, &s.Role, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) ListMilestones(ctx context.Context, q db.Querier, projectID string) ([]domain.Milestone, error) {
	rows, err := r.conn(q).QueryContext(ctx, `SELECT id,project_id,title,due_date,amount,status,created_at FROM project_milestones WHERE project_id=? ORDER BY due_date, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Milestone
	for rows.Next() {
		var m domain.Milestone
		var amount sql.NullFloat64
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Title, &m.DueDate, &amount, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Amount = floatPtr(amount)
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) GetLocation(ctx context.Context, q db.Querier, projectID string) (domain.Location, error) {
	var l domain.Location
	var lat, lng sql.NullFloat64
	err := r.conn(q).QueryRowContext(ctx, `SELECT id,project_id,address,city,municipality,postal_code,latitude,longitude,quarter,section,township,range_no,meridian,created_at FROM project_locations WHERE project_id=?`, projectID).
		Scan(&l.ID, &l.ProjectID, &l.Address, &l.City, &l.Municipality, &l.PostalCode, &lat, &lng, &l.Quarter, &l.Section, &l.Township, &l.Range, &l.Meridian, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	l.Latitude = floatPtr(lat)
	l.Longitude = floatPtr(lng)
	return l, nil
}

// AssociationCounts summarizes the dependent rows of a project.
type AssociationCounts struct {
	Stakeholders int `json:"stakeholders"`
	Risks        int `json:"risks"`
	Vendors      int `json:"vendors"`
	Milestones   int `json:"milestones"`
	Locations    int `json:"locations"`
	BudgetItems  int `json:"budget_items"`
}

func (r Repo) CountAssociations(ctx context.Context, q db.Querier, projectID string) (AssociationCounts, error) {
	var c AssociationCounts
	err := r.conn(q).QueryRowContext(ctx, `SELECT
  (SELECT COUNT(*) FROM project_stakeholders WHERE project_id=?),
  (SELECT COUNT(*) FROM project_risks WHERE project_id=?),
  (SELECT COUNT(*) FROM project_vendors WHERE project_id=?),
  (SELECT COUNT(*) FROM project_milestones WHERE project_id=?),
  (SELECT COUNT(*) FROM project_locations WHERE project_id=?),
  (SELECT COUNT(*) FROM project_budget_items WHERE project_id=?)`,
		projectID, projectID, projectID, projectID, projectID, projectID).
		Scan(&c.Stakeholders, &c.Risks, &c.Vendors, &c.Milestones, &c.Locations, &c.BudgetItems)
	return c, err
}
