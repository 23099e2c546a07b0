// Package engine wires the optimizer's two control paths: the per-query
// acceleration path (cache, rewrite, execute, analyze, track) and the batch
// index-optimization loop (analyze, plan, execute, learn).
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voca9204/db3-sub000/pkg/apperrors"
	"github.com/voca9204/db3-sub000/pkg/audit"
	"github.com/voca9204/db3-sub000/pkg/cache"
	"github.com/voca9204/db3-sub000/pkg/db"
	"github.com/voca9204/db3-sub000/pkg/explain"
	"github.com/voca9204/db3-sub000/pkg/metrics"
	"github.com/voca9204/db3-sub000/pkg/patterns"
	"github.com/voca9204/db3-sub000/pkg/rewriter"
	"github.com/voca9204/db3-sub000/pkg/sqlparse"
)

// QueryOutcome is everything the engine learned while running one query.
type QueryOutcome struct {
	SQL           string            `json:"sql"`
	ExecutedSQL   string            `json:"executed_sql"`
	Applied       []string          `json:"applied,omitempty"` // rewrites that changed the statement
	Issues        []rewriter.Issue  `json:"issues,omitempty"`
	Warnings      []string          `json:"warnings,omitempty"`
	Result        *db.QueryResult   `json:"result"`
	FromCache     bool              `json:"from_cache"`
	ElapsedMillis float64           `json:"elapsed_millis"`
	Analysis      *explain.Analysis `json:"analysis,omitempty"`
}

// Stats aggregates the engine's per-query path.
type Stats struct {
	Queries   int64   `json:"queries"`
	AvgMillis float64 `json:"avg_millis"`
	// Rewritten counts executed queries whose statement was changed by the
	// rewrite layer; RewriteRate is their fraction of Queries.
	Rewritten       int64       `json:"rewritten"`
	RewriteRate     float64     `json:"rewrite_rate"`
	Cache           cache.Stats `json:"cache"`
	Patterns        int         `json:"patterns"`
	Recommendations int         `json:"recommendations"`
}

// Engine is the per-query optimization path. Every statement flows through
// it; SELECTs gain caching, rewriting and plan analysis, writes invalidate
// the affected cache entries.
type Engine struct {
	executor db.Executor
	cache    *cache.Manager
	rewriter *rewriter.Rewriter
	explain  *explain.Analyzer
	tracker  *patterns.Tracker
	metrics  *metrics.Metrics
	auditor  *audit.Auditor
	logger   *zap.Logger

	mu          sync.Mutex
	queries     int64
	rewritten   int64
	totalMillis float64
}

// NewEngine creates the per-query engine. The metrics argument may be nil.
func NewEngine(
	executor db.Executor,
	queryCache *cache.Manager,
	rw *rewriter.Rewriter,
	planAnalyzer *explain.Analyzer,
	tracker *patterns.Tracker,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		executor: executor,
		cache:    queryCache,
		rewriter: rw,
		explain:  planAnalyzer,
		tracker:  tracker,
		metrics:  m,
		auditor:  audit.New(logger),
		logger:   logger,
	}
}

// Run executes one statement through the full per-query path.
func (e *Engine) Run(ctx context.Context, sql string, params ...any) (*QueryOutcome, error) {
	if findings := sqlparse.CheckParams(params...); len(findings) > 0 {
		for _, f := range findings {
			e.auditor.InjectionAttempt(audit.InjectionDetails{
				Position:    f.Position,
				Value:       f.Value,
				Fingerprint: f.Fingerprint,
				SQL:         sql,
			})
		}
		e.metrics.Query("rejected", 0)
		return nil, fmt.Errorf("parameter %d: %w", findings[0].Position, apperrors.ErrUnsafeParameter)
	}

	shape := sqlparse.Parse(sql)
	isSelect := shape.Statement == "SELECT"

	outcome := &QueryOutcome{SQL: sql, ExecutedSQL: sql}

	if isSelect {
		if data, ok := e.cache.Get(sql, params); ok {
			if qr, ok := data.(*db.QueryResult); ok {
				outcome.Result = qr
				outcome.FromCache = true
				e.metrics.CacheHit()
				e.metrics.Query("cached", 0)
				return outcome, nil
			}
		}
		e.metrics.CacheMiss()

		res := e.rewriter.Rewrite(sql)
		outcome.ExecutedSQL = res.Rewritten
		outcome.Applied = res.Applied
		outcome.Issues = res.Issues
		outcome.Warnings = res.Warnings
		for _, kind := range res.Applied {
			e.metrics.Rewrite(kind)
		}
	}

	started := time.Now()
	result, err := e.executor.Execute(ctx, outcome.ExecutedSQL, params...)
	elapsed := time.Since(started)
	outcome.ElapsedMillis = float64(elapsed) / float64(time.Millisecond)

	if err != nil {
		e.metrics.Query("error", elapsed.Seconds())
		return nil, fmt.Errorf("execute query: %w", err)
	}
	outcome.Result = result
	e.metrics.Query("ok", elapsed.Seconds())

	signals := patterns.PlanSignals{}
	if isSelect {
		e.cache.Set(sql, params, result)

		analysis, aerr := e.explain.Analyze(ctx, outcome.ExecutedSQL, outcome.ElapsedMillis)
		if aerr != nil {
			e.logger.Debug("plan analysis failed", zap.Error(aerr))
		} else if analysis != nil {
			outcome.Analysis = analysis
			signals.FullScan = analysis.FullScan
			signals.Filesort = analysis.Filesort
		}
	} else {
		for _, t := range shape.Tables {
			if n := e.cache.InvalidateTable(t.Name); n > 0 {
				e.logger.Debug("invalidated cache entries after write",
					zap.String("table", t.Name), zap.Int("entries", n))
			}
		}
	}

	e.tracker.Observe(sql, outcome.ElapsedMillis, signals)
	e.metrics.SetActivePatterns(len(e.tracker.Patterns()))

	e.mu.Lock()
	e.queries++
	if len(outcome.Applied) > 0 {
		e.rewritten++
	}
	e.totalMillis += outcome.ElapsedMillis
	e.mu.Unlock()

	return outcome, nil
}

// Stats returns the engine's aggregate counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	queries, rewritten, total := e.queries, e.rewritten, e.totalMillis
	e.mu.Unlock()

	s := Stats{
		Queries:         queries,
		Rewritten:       rewritten,
		Cache:           e.cache.Stats(5),
		Patterns:        len(e.tracker.Patterns()),
		Recommendations: len(e.tracker.Recommendations()),
	}
	if queries > 0 {
		s.AvgMillis = total / float64(queries)
		s.RewriteRate = float64(rewritten) / float64(queries)
	}
	return s
}
