package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/voca9204/db3-sub000/pkg/analyzer"
	"github.com/voca9204/db3-sub000/pkg/apperrors"
	"github.com/voca9204/db3-sub000/pkg/executor"
	"github.com/voca9204/db3-sub000/pkg/learning"
	"github.com/voca9204/db3-sub000/pkg/metrics"
	"github.com/voca9204/db3-sub000/pkg/models"
	"github.com/voca9204/db3-sub000/pkg/patterns"
	"github.com/voca9204/db3-sub000/pkg/planner"
)

// CycleResult bundles the three phases of one optimization cycle.
type CycleResult struct {
	Report    *models.AnalysisReport  `json:"report"`
	Plan      *models.Plan            `json:"plan"`
	Execution *models.ExecutionResult `json:"execution"`
	Elapsed   time.Duration           `json:"elapsed"`
}

// Status describes the optimizer's current state.
type Status struct {
	Running        bool               `json:"running"`
	LastCycle      time.Time          `json:"last_cycle,omitempty"`
	CyclesRun      int64              `json:"cycles_run"`
	Trends         learning.Trends    `json:"trends"`
	Insights       []learning.Insight `json:"insights"`
	LastPlanSize   int                `json:"last_plan_size"`
	LastSucceeded  int                `json:"last_succeeded"`
	LastFailed     int                `json:"last_failed"`
	UsageAvailable bool               `json:"usage_available"`
}

// Optimizer is the batch control loop: analyze, plan, execute, learn.
// At most one cycle runs at a time.
type Optimizer struct {
	analyzer *analyzer.Analyzer
	planner  *planner.Planner
	executor *executor.Executor
	learning *learning.Store
	tracker  *patterns.Tracker
	metrics  *metrics.Metrics
	logger   *zap.Logger

	running   atomic.Bool
	cyclesRun atomic.Int64

	mu         sync.Mutex
	lastCycle  time.Time
	lastReport *models.AnalysisReport
	lastResult *models.ExecutionResult
	lastPlan   *models.Plan
}

// NewOptimizer creates the batch control loop. The metrics argument may be
// nil.
func NewOptimizer(
	a *analyzer.Analyzer,
	p *planner.Planner,
	e *executor.Executor,
	l *learning.Store,
	tracker *patterns.Tracker,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Optimizer {
	return &Optimizer{
		analyzer: a,
		planner:  p,
		executor: e,
		learning: l,
		tracker:  tracker,
		metrics:  m,
		logger:   logger,
	}
}

// Analyze runs one analysis pass, folds the tracker's recommendations into
// the report, and refreshes the tracker's view of existing indexes so
// already-covered patterns stop producing recommendations.
func (o *Optimizer) Analyze(ctx context.Context) (*models.AnalysisReport, error) {
	report, err := o.analyzer.Analyze(ctx)
	if err != nil {
		return nil, fmt.Errorf("analysis pass: %w", err)
	}

	o.tracker.UpdateIndexCatalog(report.Indexes)
	report.Recommendations = o.tracker.Regenerate()

	o.mu.Lock()
	o.lastReport = report
	o.mu.Unlock()

	o.logger.Info("analysis complete",
		zap.Int("tables", len(report.Tables)),
		zap.Int("indexes", len(report.Indexes)),
		zap.Int("duplicates", len(report.Duplicates)),
		zap.Int("unused", len(report.Unused)),
		zap.Int("recommendations", len(report.Recommendations)),
		zap.Bool("usage_available", report.UsageAvailable))
	return report, nil
}

// Plan builds a plan from the given report, or from a fresh analysis when
// nil.
func (o *Optimizer) Plan(ctx context.Context, report *models.AnalysisReport) (*models.Plan, error) {
	if report == nil {
		var err error
		report, err = o.Analyze(ctx)
		if err != nil {
			return nil, err
		}
	}

	plan := o.planner.BuildPlan(report, report.Recommendations)

	o.mu.Lock()
	o.lastPlan = plan
	o.mu.Unlock()

	o.logger.Info("plan built",
		zap.String("plan_id", plan.ID.String()),
		zap.Int("actions", len(plan.Actions)),
		zap.String("priority", plan.Priority),
		zap.String("risk", plan.Risk.Level))
	return plan, nil
}

// Execute runs a plan and records per-action metrics.
func (o *Optimizer) Execute(ctx context.Context, plan *models.Plan) (*models.ExecutionResult, error) {
	result, err := o.executor.Execute(ctx, plan)
	if result != nil {
		for _, ar := range result.Results {
			o.metrics.Action(ar.Type, ar.Status)
		}
		o.mu.Lock()
		o.lastResult = result
		o.mu.Unlock()
	}
	return result, err
}

// RunCycle runs one full analyze/plan/execute/learn cycle. Overlapping calls
// fail fast with apperrors.ErrCycleRunning instead of queueing.
func (o *Optimizer) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !o.running.CompareAndSwap(false, true) {
		o.metrics.Cycle("busy", 0)
		return nil, apperrors.ErrCycleRunning
	}
	defer o.running.Store(false)

	started := time.Now()

	report, err := o.Analyze(ctx)
	if err != nil {
		o.metrics.Cycle("error", time.Since(started).Seconds())
		return nil, err
	}

	plan, err := o.Plan(ctx, report)
	if err != nil {
		o.metrics.Cycle("error", time.Since(started).Seconds())
		return nil, err
	}

	var execution *models.ExecutionResult
	if len(plan.Actions) > 0 {
		execution, err = o.Execute(ctx, plan)
		if err != nil {
			// Partial results still feed the learning history.
			o.learning.Record(report, plan, execution)
			o.metrics.Cycle("error", time.Since(started).Seconds())
			return nil, fmt.Errorf("execute plan: %w", err)
		}
	} else {
		o.logger.Info("plan is empty, nothing to execute")
	}

	o.learning.Record(report, plan, execution)
	o.cyclesRun.Add(1)

	o.mu.Lock()
	o.lastCycle = time.Now()
	o.mu.Unlock()

	elapsed := time.Since(started)
	o.metrics.Cycle("ok", elapsed.Seconds())
	o.logger.Info("cycle complete",
		zap.Duration("elapsed", elapsed),
		zap.Int("actions", len(plan.Actions)))

	return &CycleResult{Report: report, Plan: plan, Execution: execution, Elapsed: elapsed}, nil
}

// RunPeriodic runs cycles at the given interval until the context ends. The
// first cycle starts after one interval.
func (o *Optimizer) RunPeriodic(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := o.RunCycle(ctx); err != nil {
				if errors.Is(err, apperrors.ErrCycleRunning) {
					o.logger.Warn("previous cycle still running, skipping tick")
					continue
				}
				o.logger.Error("cycle failed", zap.Error(err))
			}
		}
	}
}

// Status reports the optimizer's current state, trends and insights.
func (o *Optimizer) Status() Status {
	o.mu.Lock()
	lastCycle := o.lastCycle
	report := o.lastReport
	plan := o.lastPlan
	result := o.lastResult
	o.mu.Unlock()

	s := Status{
		Running:   o.running.Load(),
		LastCycle: lastCycle,
		CyclesRun: o.cyclesRun.Load(),
		Trends:    o.learning.Trends(),
		Insights:  o.learning.Insights(report, o.tracker.Patterns()),
	}
	if report != nil {
		s.UsageAvailable = report.UsageAvailable
	}
	if plan != nil {
		s.LastPlanSize = len(plan.Actions)
	}
	if result != nil {
		s.LastSucceeded = result.Succeeded
		s.LastFailed = result.Failed
	}
	return s
}
