// Package learning keeps a bounded history of control-loop cycles, per-table
// size baselines and per-index effectiveness series, and derives trends and
// insights from them.
package learning

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/voca9204/db3-sub000/pkg/apperrors"
	"github.com/voca9204/db3-sub000/pkg/models"
)

// TablePoint is one table's size observation from one analysis pass.
type TablePoint struct {
	Timestamp time.Time `json:"timestamp"`
	RowCount  int64     `json:"row_count"`
	DataBytes int64     `json:"data_bytes"`
}

// IndexPoint is one index's effectiveness score from one analysis pass.
type IndexPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	Effectiveness float64   `json:"effectiveness"`
}

// Store accumulates cycle records, per-table size baselines and per-index
// effectiveness series. Each is a ring capped at a fixed size; the oldest
// entry is evicted when full.
type Store struct {
	mu             sync.Mutex
	cap            int
	history        []models.LearningRecord
	tableActivity  map[string]int          // actions planned per table, across all cycles
	tableBaselines map[string][]TablePoint // keyed by table name
	indexSeries    map[string][]IndexPoint // keyed by "table.index"
	logger         *zap.Logger
}

// New creates a Store keeping at most historyCap records per series.
func New(historyCap int, logger *zap.Logger) *Store {
	if historyCap <= 0 {
		historyCap = 50
	}
	return &Store{
		cap:            historyCap,
		tableActivity:  make(map[string]int),
		tableBaselines: make(map[string][]TablePoint),
		indexSeries:    make(map[string][]IndexPoint),
		logger:         logger,
	}
}

// Record appends one cycle's rollup. Any of the three inputs may be nil when
// the corresponding phase did not run.
func (s *Store) Record(report *models.AnalysisReport, plan *models.Plan, exec *models.ExecutionResult) {
	rec := models.LearningRecord{Timestamp: time.Now()}

	if report != nil {
		rec.AnalysisSummary = models.AnalysisSummary{
			Tables:          len(report.Tables),
			Indexes:         len(report.Indexes),
			Duplicates:      len(report.Duplicates),
			Unused:          len(report.Unused),
			Inefficient:     len(report.Inefficient),
			Recommendations: len(report.Recommendations),
		}
	}
	if plan != nil {
		rec.PlanSummary = models.PlanSummary{
			Actions:         len(plan.Actions),
			Priority:        plan.Priority,
			EstimatedImpact: plan.EstimatedImpact,
			RiskLevel:       plan.Risk.Level,
		}
	}
	if exec != nil {
		rec.ExecutionSummary = models.ExecutionSummary{
			Succeeded:            exec.Succeeded,
			Skipped:              exec.Skipped,
			Failed:               exec.Failed,
			EstimatedImprovement: exec.EstimatedImprovement,
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if plan != nil {
		for _, a := range plan.Actions {
			s.tableActivity[a.Table]++
		}
	}
	if report != nil {
		for _, t := range report.Tables {
			s.tableBaselines[t.Name] = appendBounded(s.tableBaselines[t.Name], TablePoint{
				Timestamp: rec.Timestamp,
				RowCount:  t.RowCount,
				DataBytes: t.DataBytes,
			}, s.cap)
		}
		for _, idx := range report.Indexes {
			key := idx.Table + "." + idx.Name
			s.indexSeries[key] = appendBounded(s.indexSeries[key], IndexPoint{
				Timestamp:     rec.Timestamp,
				Effectiveness: idx.Effectiveness,
			}, s.cap)
		}
	}
	s.history = append(s.history, rec)
	if len(s.history) > s.cap {
		s.history = s.history[len(s.history)-s.cap:]
	}
}

func appendBounded[T any](series []T, point T, limit int) []T {
	series = append(series, point)
	if len(series) > limit {
		series = series[len(series)-limit:]
	}
	return series
}

// TableBaseline returns the retained row/byte series of one table, oldest
// first.
func (s *Store) TableBaseline(table string) ([]TablePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	series, ok := s.tableBaselines[table]
	if !ok {
		return nil, fmt.Errorf("baseline for table %s: %w", table, apperrors.ErrNotFound)
	}
	return append([]TablePoint(nil), series...), nil
}

// IndexEffectiveness returns the retained effectiveness series of one index,
// oldest first.
func (s *Store) IndexEffectiveness(table, index string) ([]IndexPoint, error) {
	key := table + "." + index
	s.mu.Lock()
	defer s.mu.Unlock()
	series, ok := s.indexSeries[key]
	if !ok {
		return nil, fmt.Errorf("effectiveness series for index %s: %w", key, apperrors.ErrNotFound)
	}
	return append([]IndexPoint(nil), series...), nil
}

// History returns a copy of the retained records, oldest first.
func (s *Store) History() []models.LearningRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.LearningRecord, len(s.history))
	copy(out, s.history)
	return out
}

// Trends summarizes the retained history.
type Trends struct {
	Cycles int `json:"cycles"`
	// AvgCycleInterval is the mean time between consecutive cycles.
	AvgCycleInterval time.Duration `json:"avg_cycle_interval"`
	// SuccessRate is succeeded/(succeeded+failed) over the last ten cycles,
	// in [0,1]. Skips do not count either way.
	SuccessRate float64 `json:"success_rate"`
	// RecentImprovement is the mean estimated improvement over the last ten
	// cycles.
	RecentImprovement float64 `json:"recent_improvement"`
}

// Trends computes rolling statistics over the retained history.
func (s *Store) Trends() Trends {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := Trends{Cycles: len(s.history)}
	if len(s.history) == 0 {
		return t
	}

	if len(s.history) > 1 {
		span := s.history[len(s.history)-1].Timestamp.Sub(s.history[0].Timestamp)
		t.AvgCycleInterval = span / time.Duration(len(s.history)-1)
	}

	recent := s.history
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}

	succeeded, failed := 0, 0
	for _, rec := range recent {
		succeeded += rec.ExecutionSummary.Succeeded
		failed += rec.ExecutionSummary.Failed
	}
	if succeeded+failed > 0 {
		t.SuccessRate = float64(succeeded) / float64(succeeded+failed)
	}

	var improvement float64
	for _, rec := range recent {
		improvement += rec.ExecutionSummary.EstimatedImprovement
	}
	t.RecentImprovement = improvement / float64(len(recent))
	return t
}

// Insight is one human-readable observation derived from history and the
// latest analysis.
type Insight struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Insight kinds.
const (
	InsightLowSuccessRate = "low_success_rate"
	InsightHotTable       = "hot_table"
	InsightWeakIndexes    = "weak_indexes"
	InsightSlowPatterns   = "slow_patterns"
	InsightMissingUsage   = "missing_usage_statistics"
)

// Insights derives observations from trends, table activity, the latest
// report and the current pattern set. The report and patterns may be nil.
func (s *Store) Insights(report *models.AnalysisReport, patterns []models.QueryPattern) []Insight {
	trends := s.Trends()
	var out []Insight

	if trends.Cycles >= 3 && trends.SuccessRate < 0.7 {
		out = append(out, Insight{
			Kind: InsightLowSuccessRate,
			Message: fmt.Sprintf("only %.0f%% of actions succeeded over recent cycles, review failure causes before widening plans",
				trends.SuccessRate*100),
		})
	}

	if table, count := s.hottestTable(); count >= 5 {
		out = append(out, Insight{
			Kind: InsightHotTable,
			Message: fmt.Sprintf("table %s accumulated %s planned actions, its schema may need a redesign rather than more indexes",
				table, humanize.Comma(int64(count))),
		})
	}

	if report != nil {
		if n := len(report.Inefficient); n >= 3 {
			out = append(out, Insight{
				Kind:    InsightWeakIndexes,
				Message: fmt.Sprintf("%d indexes score below the effectiveness floor, consider consolidating them", n),
			})
		}
		if !report.UsageAvailable {
			out = append(out, Insight{
				Kind:    InsightMissingUsage,
				Message: "usage statistics are unavailable, drop decisions are suspended until they return",
			})
		}
	}

	slow := 0
	for _, p := range patterns {
		if p.AvgExecMillis > 1000 {
			slow++
		}
	}
	if slow >= 3 {
		out = append(out, Insight{
			Kind:    InsightSlowPatterns,
			Message: fmt.Sprintf("%d query patterns average over a second, prioritize their recommendations", slow),
		})
	}

	return out
}

func (s *Store) hottestTable() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	best, bestCount := "", 0
	for table, count := range s.tableActivity {
		if count > bestCount || (count == bestCount && table < best) {
			best, bestCount = table, count
		}
	}
	return best, bestCount
}

// snapshot is the export wire format.
type snapshot struct {
	History        []models.LearningRecord `json:"history"`
	TableActivity  map[string]int          `json:"table_activity"`
	TableBaselines map[string][]TablePoint `json:"table_baselines,omitempty"`
	IndexSeries    map[string][]IndexPoint `json:"index_series,omitempty"`
}

// Export serializes the retained state as JSON.
func (s *Store) Export() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(snapshot{
		History:        s.history,
		TableActivity:  s.tableActivity,
		TableBaselines: s.tableBaselines,
		IndexSeries:    s.indexSeries,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal learning state: %w", err)
	}
	return data, nil
}

// Import replaces the retained state from a previous Export, re-applying the
// history cap.
func (s *Store) Import(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("unmarshal learning state: %w", err)
	}

	sort.Slice(snap.History, func(i, j int) bool {
		return snap.History[i].Timestamp.Before(snap.History[j].Timestamp)
	})
	if len(snap.History) > s.cap {
		snap.History = snap.History[len(snap.History)-s.cap:]
	}
	if snap.TableActivity == nil {
		snap.TableActivity = make(map[string]int)
	}
	if snap.TableBaselines == nil {
		snap.TableBaselines = make(map[string][]TablePoint)
	}
	if snap.IndexSeries == nil {
		snap.IndexSeries = make(map[string][]IndexPoint)
	}

	s.mu.Lock()
	s.history = snap.History
	s.tableActivity = snap.TableActivity
	s.tableBaselines = snap.TableBaselines
	s.indexSeries = snap.IndexSeries
	s.mu.Unlock()

	s.logger.Info("imported learning state", zap.Int("records", len(snap.History)))
	return nil
}
