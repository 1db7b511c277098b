package metadata

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/tcexec/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_ResolvePlan(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertProject(ctx, "P1", "WEB"))
	id, err := s.UpsertPlan(ctx, model.PlanInfo{Name: "Plan1", ProjectName: "P1", Active: true, Description: "smoke"})
	require.NoError(t, err)
	assert.NotZero(t, id)

	again, err := s.UpsertPlan(ctx, model.PlanInfo{Name: "Plan1", ProjectName: "P1", Active: false})
	require.NoError(t, err)
	assert.Equal(t, id, again)

	info, err := s.ResolvePlan(ctx, "P1", "Plan1")
	require.NoError(t, err)
	assert.Equal(t, id, info.ID)
	assert.False(t, info.Active)
	assert.Equal(t, "P1", info.ProjectName)

	_, err = s.ResolvePlan(ctx, "P1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_OrderedCases(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertProject(ctx, "P1", "WEB"))
	planID, err := s.UpsertPlan(ctx, model.PlanInfo{Name: "Plan1", ProjectName: "P1", Active: true})
	require.NoError(t, err)

	cases := []model.CaseInfo{
		{InternalID: 42, ExternalID: 1, ProjectName: "P1", Name: "login", ExecMode: model.ExecModeAuto},
		{InternalID: 43, ExternalID: 2, ProjectName: "P1", Name: "logout", ExecOrder: 10},
		{InternalID: 44, ExternalID: 3, ProjectName: "P1", Name: "unlinked"},
	}
	for _, c := range cases {
		require.NoError(t, s.UpsertCase(ctx, c))
	}
	require.NoError(t, s.AddCaseToPlan(ctx, planID, 42, 0))
	require.NoError(t, s.AddCaseToPlan(ctx, planID, 43, 0))

	got, err := s.OrderedCases(ctx, planID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 43, got[0].InternalID)
	assert.Equal(t, 42, got[1].InternalID)
	assert.Equal(t, "WEB", got[1].Prefix)
	assert.Equal(t, model.ExecModeAuto, got[1].ExecMode)
	assert.Equal(t, model.DefaultExecOrder, got[1].ExecOrder)
	assert.Equal(t, model.ExecModeManual, got[0].ExecMode)

	// A plan-level order overrides the case default.
	require.NoError(t, s.AddCaseToPlan(ctx, planID, 42, 1))
	got, err = s.OrderedCases(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, 42, got[0].InternalID)
	assert.Equal(t, 1, got[0].ExecOrder)
}

func TestStore_CaseInfo(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertProject(ctx, "P1", "WEB"))
	require.NoError(t, s.UpsertCase(ctx, model.CaseInfo{InternalID: 7, ExternalID: 9, ProjectName: "P1", Name: "search", Importance: model.ImportanceHigh}))

	c, err := s.CaseInfo(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "search", c.Name)
	assert.Equal(t, "WEB", c.Prefix)
	assert.Equal(t, model.ImportanceHigh, c.Importance)
	assert.Equal(t, "WEB-9", model.NewTestCase(c).VisibleID())

	_, err = s.CaseInfo(ctx, 8)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.UpsertCase(ctx, model.CaseInfo{Name: "no id"}))
}

func TestStore_ReportResult(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.ReportResult(ctx, model.ReportedResult{
		ProjectName: "P1", PlanName: "Plan1", CaseID: 42, CaseName: "login", BuildName: "b1", Status: "p", Notes: "ok",
	}))
	require.NoError(t, s.ReportResult(ctx, model.ReportedResult{
		ProjectName: "P1", PlanName: "Plan1", CaseID: 43, CaseName: "logout", Status: "f",
	}))
	assert.Error(t, s.ReportResult(ctx, model.ReportedResult{ProjectName: "P1", PlanName: "Plan1", CaseID: 1}))

	results, err := s.Results(ctx, "P1", "Plan1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "p", results[0].Status)
	assert.Equal(t, "b1", results[0].BuildName)
	assert.Equal(t, 43, results[1].CaseID)

	other, err := s.Results(ctx, "P1", "Plan2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestStore_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.UpsertProject(context.Background(), "P1", ""))
	_, err = s.UpsertPlan(context.Background(), model.PlanInfo{Name: "Plan1", ProjectName: "P1"})
	require.NoError(t, err)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

const fixturesYAML = `
projects:
  - name: P1
    prefix: WEB
    cases:
      - internal_id: 42
        external_id: 1
        name: login
        exec_mode: auto
      - internal_id: 43
        external_id: 2
        name: logout
        exec_mode: auto
        exec_order: 6000
    plans:
      - name: Plan1
        description: smoke
        cases: [42, 43]
      - name: Retired
        active: false
        cases: [43]
`

func TestStore_LoadFixtures(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixturesYAML), 0644))

	require.NoError(t, s.LoadFixtures(ctx, path))
	require.NoError(t, s.LoadFixtures(ctx, path))

	plan, err := s.ResolvePlan(ctx, "P1", "Plan1")
	require.NoError(t, err)
	assert.True(t, plan.Active)
	assert.Equal(t, "smoke", plan.Description)

	cases, err := s.OrderedCases(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, "login", cases[0].Name)
	assert.Equal(t, "P1", cases[0].ProjectName)

	retired, err := s.ResolvePlan(ctx, "P1", "Retired")
	require.NoError(t, err)
	assert.False(t, retired.Active)

	assert.Error(t, s.LoadFixtures(ctx, filepath.Join(t.TempDir(), "missing.yaml")))
}
