package model

import (
	"fmt"
	"sync"
)

type ExecMode string

const (
	ExecModeManual ExecMode = "manual"
	ExecModeAuto   ExecMode = "auto"
)

type Importance int

const (
	ImportanceLow    Importance = 1
	ImportanceMedium Importance = 2
	ImportanceHigh   Importance = 3
)

// DefaultExecOrder places cases without an explicit order in the middle of the range.
const DefaultExecOrder = 5000

// CaseInfo is the metadata describing a test case as stored upstream.
type CaseInfo struct {
	InternalID  int        `yaml:"internal_id" json:"internal_id"`
	ExternalID  int        `yaml:"external_id" json:"external_id"`
	Prefix      string     `yaml:"prefix" json:"prefix"`
	Name        string     `yaml:"name" json:"name"`
	Summary     string     `yaml:"summary,omitempty" json:"summary,omitempty"`
	ProjectName string     `yaml:"project,omitempty" json:"project,omitempty"`
	ExecOrder   int        `yaml:"exec_order" json:"exec_order"`
	ExecMode    ExecMode   `yaml:"exec_mode" json:"exec_mode"`
	Importance  Importance `yaml:"importance" json:"importance"`
}

// TestCase is a case loaded into a plan. Identity, order and mode are fixed at
// construction; only the bound executor may change afterwards.
type TestCase struct {
	info CaseInfo

	mu       sync.RWMutex
	executor Executor
}

func NewTestCase(info CaseInfo) *TestCase {
	if info.ExecOrder == 0 {
		info.ExecOrder = DefaultExecOrder
	}
	if info.ExecMode == "" {
		info.ExecMode = ExecModeManual
	}
	if info.Importance == 0 {
		info.Importance = ImportanceMedium
	}
	return &TestCase{info: info}
}

func (tc *TestCase) Info() CaseInfo { return tc.info }

func (tc *TestCase) InternalID() int { return tc.info.InternalID }

// VisibleID returns PREFIX-externalID, or "" when either part is missing.
func (tc *TestCase) VisibleID() string {
	if tc.info.Prefix == "" || tc.info.ExternalID == 0 {
		return ""
	}
	return fmt.Sprintf("%s-%d", tc.info.Prefix, tc.info.ExternalID)
}

func (tc *TestCase) Name() string { return tc.info.Name }

func (tc *TestCase) ProjectName() string { return tc.info.ProjectName }

func (tc *TestCase) ExecOrder() int { return tc.info.ExecOrder }

func (tc *TestCase) ExecMode() ExecMode { return tc.info.ExecMode }

func (tc *TestCase) IsManual() bool { return tc.info.ExecMode != ExecModeAuto }

func (tc *TestCase) IsAuto() bool { return tc.info.ExecMode == ExecModeAuto }

func (tc *TestCase) Importance() Importance { return tc.info.Importance }

func (tc *TestCase) Executor() Executor {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.executor
}

func (tc *TestCase) SetExecutor(e Executor) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.executor = e
}

// Label is the most descriptive identifier available, used in logs and notes.
func (tc *TestCase) Label() string {
	if v := tc.VisibleID(); v != "" {
		return fmt.Sprintf("%s (%s)", v, tc.info.Name)
	}
	if tc.info.Name != "" {
		return tc.info.Name
	}
	return fmt.Sprintf("#%d", tc.info.InternalID)
}

// PlanInfo is the metadata describing a test plan as stored upstream.
type PlanInfo struct {
	ID          int    `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	ProjectName string `yaml:"project" json:"project"`
	Active      bool   `yaml:"active" json:"active"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// ReportedResult is one verdict pushed upstream for a case under a plan and build.
type ReportedResult struct {
	ProjectName string `yaml:"project" json:"project"`
	PlanName    string `yaml:"plan" json:"plan"`
	CaseID      int    `yaml:"case_id" json:"case_id"`
	CaseName    string `yaml:"case_name" json:"case_name"`
	BuildName   string `yaml:"build,omitempty" json:"build,omitempty"`
	Status      string `yaml:"status" json:"status"`
	Notes       string `yaml:"notes,omitempty" json:"notes,omitempty"`
}
