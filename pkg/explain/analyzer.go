// Package explain wraps the database's execution-plan facility for SELECT
// statements and keeps a bounded history of analyses for trend reporting.
package explain

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voca9204/db3-sub000/pkg/db"
	"github.com/voca9204/db3-sub000/pkg/sqlparse"
)

// Plan warnings surfaced to callers.
const (
	WarnFullScan  = "full table scan"
	WarnFilesort  = "filesort"
	WarnTemporary = "temporary table"
)

// Analysis summarizes one executed SELECT.
type Analysis struct {
	SQL           string    `json:"sql"`
	ElapsedMillis float64   `json:"elapsed_millis"`
	Tables        int       `json:"tables"`
	Joins         int       `json:"joins"`
	UsedIndexes   []string  `json:"used_indexes"`
	EstimatedRows int64     `json:"estimated_rows"`
	Warnings      []string  `json:"warnings"`
	Suggestions   []string  `json:"suggestions"`
	Complexity    int       `json:"complexity"` // 0-100

	FullScan  bool `json:"full_scan"`
	Filesort  bool `json:"filesort"`
	Temporary bool `json:"temporary"`

	AnalyzedAt time.Time `json:"analyzed_at"`
}

// Config tunes the analyzer.
type Config struct {
	// SlowQueryMillis is the elapsed time above which a query lands on the
	// slow list.
	SlowQueryMillis float64
	// HistorySize bounds the ring of recent analyses.
	HistorySize int
	// SlowQueryListSize bounds the slow-query list.
	SlowQueryListSize int
}

// Analyzer runs and summarizes execution plans.
type Analyzer struct {
	catalog db.Catalog
	cfg     Config
	logger  *zap.Logger

	mu     sync.Mutex
	recent []*Analysis // ring, oldest first
	slow   []*Analysis // bounded, oldest dropped
}

// New creates an Analyzer.
func New(catalog db.Catalog, cfg Config, logger *zap.Logger) *Analyzer {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if cfg.SlowQueryListSize <= 0 {
		cfg.SlowQueryListSize = 50
	}
	return &Analyzer{catalog: catalog, cfg: cfg, logger: logger}
}

// Analyze explains a SELECT and summarizes the plan. Non-SELECT statements
// return (nil, nil). When the plan facility is unavailable the analysis
// degrades to the textual shape alone instead of failing.
func (a *Analyzer) Analyze(ctx context.Context, sql string, elapsedMillis float64) (*Analysis, error) {
	shape := sqlparse.Parse(sql)
	if shape.Statement != "SELECT" {
		return nil, nil
	}

	analysis := &Analysis{
		SQL:           sql,
		ElapsedMillis: elapsedMillis,
		Tables:        len(shape.Tables),
		Joins:         len(shape.Joins),
		AnalyzedAt:    time.Now(),
	}

	if a.catalog != nil && a.catalog.SupportsExplain() {
		plan, err := a.catalog.Explain(ctx, sql)
		if err != nil {
			a.logger.Warn("explain failed, falling back to textual analysis",
				zap.Error(err))
		} else {
			a.applyPlan(analysis, plan)
		}
	}

	a.suggest(analysis, shape)
	analysis.Complexity = complexityScore(analysis, shape)

	a.record(analysis)
	return analysis, nil
}

// applyPlan folds plan rows into the analysis.
func (a *Analyzer) applyPlan(analysis *Analysis, plan []db.ExplainRow) {
	seenTables := make(map[string]bool)
	for _, row := range plan {
		if row.Table != "" {
			seenTables[row.Table] = true
		}
		if row.Key != "" {
			analysis.UsedIndexes = append(analysis.UsedIndexes, row.Key)
		}
		analysis.EstimatedRows += row.Rows

		if row.AccessType == "ALL" {
			analysis.FullScan = true
			analysis.Warnings = append(analysis.Warnings,
				fmt.Sprintf("%s on %s", WarnFullScan, row.Table))
		}
		extra := strings.ToLower(row.Extra)
		if strings.Contains(extra, "filesort") {
			analysis.Filesort = true
			analysis.Warnings = append(analysis.Warnings, WarnFilesort)
		}
		if strings.Contains(extra, "temporary") {
			analysis.Temporary = true
			analysis.Warnings = append(analysis.Warnings, WarnTemporary)
		}
	}
	if len(seenTables) > analysis.Tables {
		analysis.Tables = len(seenTables)
	}
}

// suggest converts plan warnings and textual signals into recommendations.
func (a *Analyzer) suggest(analysis *Analysis, shape *sqlparse.Shape) {
	if analysis.FullScan {
		cols := whereColumns(shape)
		if len(cols) > 0 {
			analysis.Suggestions = append(analysis.Suggestions,
				fmt.Sprintf("add an index covering %s", strings.Join(cols, ", ")))
		} else {
			analysis.Suggestions = append(analysis.Suggestions,
				"add an index supporting this query's filter")
		}
	}
	if analysis.Filesort && len(shape.OrderBy) > 0 {
		cols := make([]string, len(shape.OrderBy))
		for i, c := range shape.OrderBy {
			cols[i] = c.Column
		}
		analysis.Suggestions = append(analysis.Suggestions,
			fmt.Sprintf("a composite index on (%s) would avoid the sort", strings.Join(cols, ", ")))
	}
	if analysis.Temporary {
		analysis.Suggestions = append(analysis.Suggestions,
			"restructure to avoid temporary table materialization")
	}
	if !shape.HasLimit {
		analysis.Suggestions = append(analysis.Suggestions, "add a row cap (LIMIT)")
	}
	if analysis.Joins > 3 {
		analysis.Suggestions = append(analysis.Suggestions,
			fmt.Sprintf("query joins %d tables; consider splitting it", analysis.Joins+1))
	}
}

func whereColumns(shape *sqlparse.Shape) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, c := range shape.Where {
		if !seen[c.Column] {
			seen[c.Column] = true
			cols = append(cols, c.Column)
		}
	}
	return cols
}

// complexityScore computes a bounded 0-100 score from textual counts plus
// plan-derived penalties.
func complexityScore(analysis *Analysis, shape *sqlparse.Shape) int {
	score := analysis.Joins * 10
	score += shape.Subqueries * 15
	score += shape.Functions * 5
	if analysis.FullScan {
		score += 20
	}
	if analysis.Filesort {
		score += 10
	}
	if analysis.Temporary {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

func (a *Analyzer) record(analysis *Analysis) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.recent = append(a.recent, analysis)
	if len(a.recent) > a.cfg.HistorySize {
		a.recent = a.recent[len(a.recent)-a.cfg.HistorySize:]
	}

	if a.cfg.SlowQueryMillis > 0 && analysis.ElapsedMillis > a.cfg.SlowQueryMillis {
		a.slow = append(a.slow, analysis)
		if len(a.slow) > a.cfg.SlowQueryListSize {
			a.slow = a.slow[len(a.slow)-a.cfg.SlowQueryListSize:]
		}
	}
}

// Recent returns a copy of the bounded analysis ring, oldest first.
func (a *Analyzer) Recent() []*Analysis {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Analysis, len(a.recent))
	copy(out, a.recent)
	return out
}

// SlowQueries returns a copy of the slow-query list, oldest first.
func (a *Analyzer) SlowQueries() []*Analysis {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Analysis, len(a.slow))
	copy(out, a.slow)
	return out
}

// Trend directions.
const (
	TrendImproving = "improving"
	TrendDegrading = "degrading"
	TrendStable    = "stable"
)

// Trends compares the recent half of the history window against the older
// half for both average execution time and average complexity.
type Trends struct {
	AvgMillisOlder      float64 `json:"avg_millis_older"`
	AvgMillisRecent     float64 `json:"avg_millis_recent"`
	TimeTrend           string  `json:"time_trend"`
	AvgComplexityOlder  float64 `json:"avg_complexity_older"`
	AvgComplexityRecent float64 `json:"avg_complexity_recent"`
	ComplexityTrend     string  `json:"complexity_trend"`
	Samples             int     `json:"samples"`
}

// Trends computes windowed averages over the bounded history.
func (a *Analyzer) Trends() Trends {
	a.mu.Lock()
	defer a.mu.Unlock()

	t := Trends{Samples: len(a.recent)}
	if len(a.recent) < 4 {
		t.TimeTrend = TrendStable
		t.ComplexityTrend = TrendStable
		return t
	}

	mid := len(a.recent) / 2
	older, newer := a.recent[:mid], a.recent[mid:]

	t.AvgMillisOlder = avgMillis(older)
	t.AvgMillisRecent = avgMillis(newer)
	t.TimeTrend = direction(t.AvgMillisOlder, t.AvgMillisRecent)

	t.AvgComplexityOlder = avgComplexity(older)
	t.AvgComplexityRecent = avgComplexity(newer)
	t.ComplexityTrend = direction(t.AvgComplexityOlder, t.AvgComplexityRecent)
	return t
}

func avgMillis(list []*Analysis) float64 {
	if len(list) == 0 {
		return 0
	}
	var sum float64
	for _, a := range list {
		sum += a.ElapsedMillis
	}
	return sum / float64(len(list))
}

func avgComplexity(list []*Analysis) float64 {
	if len(list) == 0 {
		return 0
	}
	var sum float64
	for _, a := range list {
		sum += float64(a.Complexity)
	}
	return sum / float64(len(list))
}

// direction classifies a change, with a 10% dead band around stable.
func direction(older, recent float64) string {
	if older == 0 {
		return TrendStable
	}
	delta := (recent - older) / older
	switch {
	case delta > 0.1:
		return TrendDegrading
	case delta < -0.1:
		return TrendImproving
	default:
		return TrendStable
	}
}
