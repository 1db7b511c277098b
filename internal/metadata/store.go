package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/msageha/tcexec/internal/model"
)

// Store keeps projects, plans, cases and reported results in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at dsn and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(dsn string) (*Store, error) {
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("create metadata dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	// A single connection keeps ":memory:" coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) UpsertProject(ctx context.Context, name, prefix string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (name, prefix) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET prefix = excluded.prefix`, name, prefix)
	if err != nil {
		return fmt.Errorf("upsert project %q: %w", name, err)
	}
	return nil
}

// UpsertPlan creates or updates a plan and returns its id.
func (s *Store) UpsertPlan(ctx context.Context, p model.PlanInfo) (int, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plans (project, name, active, description) VALUES (?, ?, ?, ?)
		 ON CONFLICT(project, name) DO UPDATE SET active = excluded.active, description = excluded.description`,
		p.ProjectName, p.Name, boolToInt(p.Active), p.Description)
	if err != nil {
		return 0, fmt.Errorf("upsert plan %q: %w", p.Name, err)
	}
	var id int
	err = s.db.QueryRowContext(ctx,
		`SELECT plan_id FROM plans WHERE project = ? AND name = ?`, p.ProjectName, p.Name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("read plan id %q: %w", p.Name, err)
	}
	return id, nil
}

func (s *Store) UpsertCase(ctx context.Context, c model.CaseInfo) error {
	if c.InternalID == 0 {
		return errors.New("case internal id is required")
	}
	if c.ExecOrder == 0 {
		c.ExecOrder = model.DefaultExecOrder
	}
	if c.ExecMode == "" {
		c.ExecMode = model.ExecModeManual
	}
	if c.Importance == 0 {
		c.Importance = model.ImportanceMedium
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cases (internal_id, external_id, project, name, summary, exec_order, exec_mode, importance)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(internal_id) DO UPDATE SET
		   external_id = excluded.external_id, project = excluded.project, name = excluded.name,
		   summary = excluded.summary, exec_order = excluded.exec_order,
		   exec_mode = excluded.exec_mode, importance = excluded.importance`,
		c.InternalID, c.ExternalID, c.ProjectName, c.Name, c.Summary, c.ExecOrder, string(c.ExecMode), int(c.Importance))
	if err != nil {
		return fmt.Errorf("upsert case %d: %w", c.InternalID, err)
	}
	return nil
}

// AddCaseToPlan links a case to a plan. A non-zero order overrides the case's
// own execution order within this plan.
func (s *Store) AddCaseToPlan(ctx context.Context, planID, internalID, order int) error {
	var ord any
	if order != 0 {
		ord = order
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plan_cases (plan_id, internal_id, exec_order) VALUES (?, ?, ?)
		 ON CONFLICT(plan_id, internal_id) DO UPDATE SET exec_order = excluded.exec_order`,
		planID, internalID, ord)
	if err != nil {
		return fmt.Errorf("add case %d to plan %d: %w", internalID, planID, err)
	}
	return nil
}

func (s *Store) ResolvePlan(ctx context.Context, project, plan string) (model.PlanInfo, error) {
	info := model.PlanInfo{ProjectName: project, Name: plan}
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT plan_id, active, description FROM plans WHERE project = ? AND name = ?`,
		project, plan).Scan(&info.ID, &active, &info.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PlanInfo{}, fmt.Errorf("plan %q in project %q: %w", plan, project, ErrNotFound)
	}
	if err != nil {
		return model.PlanInfo{}, fmt.Errorf("resolve plan %q: %w", plan, err)
	}
	info.Active = active != 0
	return info, nil
}

const caseColumns = `c.internal_id, c.external_id, COALESCE(p.prefix, ''), c.project, c.name, c.summary,
	%s, c.exec_mode, c.importance`

func (s *Store) OrderedCases(ctx context.Context, planID int) ([]model.CaseInfo, error) {
	query := fmt.Sprintf(`SELECT `+caseColumns+`
		FROM plan_cases pc
		JOIN cases c ON c.internal_id = pc.internal_id
		LEFT JOIN projects p ON p.name = c.project
		WHERE pc.plan_id = ?
		ORDER BY COALESCE(pc.exec_order, c.exec_order), c.internal_id`, "COALESCE(pc.exec_order, c.exec_order)")
	rows, err := s.db.QueryContext(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("list cases for plan %d: %w", planID, err)
	}
	defer rows.Close()

	var out []model.CaseInfo
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases for plan %d: %w", planID, err)
	}
	return out, nil
}

func (s *Store) CaseInfo(ctx context.Context, internalID int) (model.CaseInfo, error) {
	query := fmt.Sprintf(`SELECT `+caseColumns+`
		FROM cases c LEFT JOIN projects p ON p.name = c.project
		WHERE c.internal_id = ?`, "c.exec_order")
	c, err := scanCase(s.db.QueryRowContext(ctx, query, internalID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.CaseInfo{}, fmt.Errorf("case %d: %w", internalID, ErrNotFound)
	}
	return c, err
}

func (s *Store) ReportResult(ctx context.Context, r model.ReportedResult) error {
	if r.Status == "" {
		return errors.New("result status is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO results (project, plan, internal_id, case_name, build, status, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ProjectName, r.PlanName, r.CaseID, r.CaseName, r.BuildName, r.Status, r.Notes,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("report result for case %d: %w", r.CaseID, err)
	}
	return nil
}

// Results lists the verdicts reported for a plan, oldest first.
func (s *Store) Results(ctx context.Context, project, plan string) ([]model.ReportedResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project, plan, internal_id, case_name, build, status, notes
		 FROM results WHERE project = ? AND plan = ? ORDER BY result_id`, project, plan)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []model.ReportedResult
	for rows.Next() {
		var r model.ReportedResult
		if err := rows.Scan(&r.ProjectName, &r.PlanName, &r.CaseID, &r.CaseName, &r.BuildName, &r.Status, &r.Notes); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCase(row scanner) (model.CaseInfo, error) {
	var (
		c          model.CaseInfo
		mode       string
		importance int
	)
	err := row.Scan(&c.InternalID, &c.ExternalID, &c.Prefix, &c.ProjectName, &c.Name, &c.Summary,
		&c.ExecOrder, &mode, &importance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("scan case: %w", err)
	}
	c.ExecMode = model.ExecMode(mode)
	c.Importance = model.Importance(importance)
	return c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
