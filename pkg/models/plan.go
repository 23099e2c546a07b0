package models

import (
	"time"

	"github.com/google/uuid"
)

// ActionType constants for executable plan steps.
const (
	ActionCreateIndex          = "create_index"
	ActionDropIndex            = "drop_index"
	ActionCreateCompositeIndex = "create_composite_index"
)

// Action is one concrete, executable step in a plan. It is created by the
// planner and consumed exactly once by the executor.
type Action struct {
	ID              uuid.UUID `json:"id"`
	Type            string    `json:"type"`
	Table           string    `json:"table"`
	Index           string    `json:"index"`
	Columns         []string  `json:"columns,omitempty"`
	SQL             string    `json:"sql"`
	Priority        string    `json:"priority"`
	EstimatedImpact float64   `json:"estimated_impact"`
	Reason          string    `json:"reason,omitempty"`

	// SupersededIndexes lists the single-column indexes a composite action
	// replaces; they are best-effort dropped after the composite is created.
	SupersededIndexes []string `json:"superseded_indexes,omitempty"`
}

// RiskLevel constants.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Risk is one itemized concern in a plan's risk assessment.
type Risk struct {
	Level       string `json:"level"`
	Description string `json:"description"`
	Mitigation  string `json:"mitigation"`
}

// RiskAssessment summarizes the risks of executing a plan.
type RiskAssessment struct {
	Level string `json:"level"`
	Risks []Risk `json:"risks"`
}

// Plan is an ordered, risk-assessed batch of actions, one per control-loop
// cycle.
type Plan struct {
	ID              uuid.UUID      `json:"id"`
	Actions         []Action       `json:"actions"`
	Priority        string         `json:"priority"`
	EstimatedImpact float64        `json:"estimated_impact"`
	Risk            RiskAssessment `json:"risk"`
	CreatedAt       time.Time      `json:"created_at"`
}

// ActionStatus constants for per-action execution outcomes.
const (
	ActionSucceeded = "succeeded"
	ActionSkipped   = "skipped" // idempotent no-op ("already exists" / "does not exist")
	ActionFailed    = "failed"
)

// ActionResult records the outcome of one executed action.
type ActionResult struct {
	ActionID uuid.UUID     `json:"action_id"`
	Type     string        `json:"type"`
	Table    string        `json:"table"`
	Index    string        `json:"index"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
}

// ExecutionResult is the full accounting of running one plan: successes and
// failures are always both reported, never raised as a bare error.
type ExecutionResult struct {
	PlanID               uuid.UUID      `json:"plan_id"`
	Results              []ActionResult `json:"results"`
	Succeeded            int            `json:"succeeded"`
	Skipped              int            `json:"skipped"`
	Failed               int            `json:"failed"`
	Started              time.Time      `json:"started"`
	Finished             time.Time      `json:"finished"`
	EstimatedImprovement float64        `json:"estimated_improvement"`
}

// LearningRecord is a timestamped rollup of one control-loop cycle, appended
// to the bounded learning history.
type LearningRecord struct {
	Timestamp        time.Time        `json:"timestamp"`
	AnalysisSummary  AnalysisSummary  `json:"analysis_summary"`
	PlanSummary      PlanSummary      `json:"plan_summary"`
	ExecutionSummary ExecutionSummary `json:"execution_summary"`
}

// AnalysisSummary condenses an AnalysisReport for the learning history.
type AnalysisSummary struct {
	Tables          int `json:"tables"`
	Indexes         int `json:"indexes"`
	Duplicates      int `json:"duplicates"`
	Unused          int `json:"unused"`
	Inefficient     int `json:"inefficient"`
	Recommendations int `json:"recommendations"`
}

// PlanSummary condenses a Plan for the learning history.
type PlanSummary struct {
	Actions         int     `json:"actions"`
	Priority        string  `json:"priority"`
	EstimatedImpact float64 `json:"estimated_impact"`
	RiskLevel       string  `json:"risk_level"`
}

// ExecutionSummary condenses an ExecutionResult for the learning history.
type ExecutionSummary struct {
	Succeeded            int     `json:"succeeded"`
	Skipped              int     `json:"skipped"`
	Failed               int     `json:"failed"`
	EstimatedImprovement float64 `json:"estimated_improvement"`
}
