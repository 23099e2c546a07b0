// Package patterns mines executed SQL for indexable access shapes and turns
// frequently observed shapes into index recommendations.
package patterns

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voca9204/db3-sub000/pkg/models"
	"github.com/voca9204/db3-sub000/pkg/sqlparse"
)

// Config tunes recommendation generation.
type Config struct {
	// RegenerateEvery rebuilds the recommendation list every N observations.
	RegenerateEvery int
	// MinFrequency is the floor below which a pattern is never recommended.
	MinFrequency int
	// MinConfidence is the emission threshold.
	MinConfidence int
	// MaxRecommendations caps the list.
	MaxRecommendations int
}

// PlanSignals carries the execution-plan facts that feed confidence scoring.
type PlanSignals struct {
	FullScan bool
	Filesort bool
}

// Tracker maintains the frequency/timing mapping keyed by
// (kind, table, columns) and regenerates recommendations periodically.
type Tracker struct {
	cfg    Config
	logger *zap.Logger

	mu           sync.Mutex
	patterns     map[string]*models.QueryPattern
	observations int
	indexes      map[string][][]string // table -> column lists of existing indexes
	recs         []models.Recommendation
}

// New creates a Tracker.
func New(cfg Config, logger *zap.Logger) *Tracker {
	if cfg.RegenerateEvery <= 0 {
		cfg.RegenerateEvery = 25
	}
	if cfg.MinFrequency <= 0 {
		cfg.MinFrequency = 3
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 75
	}
	if cfg.MaxRecommendations <= 0 {
		cfg.MaxRecommendations = 20
	}
	return &Tracker{
		cfg:      cfg,
		logger:   logger,
		patterns: make(map[string]*models.QueryPattern),
		indexes:  make(map[string][][]string),
	}
}

// Observe extracts the statement's access shapes and updates the pattern
// mapping. Every RegenerateEvery observations the recommendation list is
// rebuilt.
func (t *Tracker) Observe(sql string, elapsedMillis float64, signals PlanSignals) {
	shape := sqlparse.Parse(sql)
	if shape.Statement != "SELECT" && shape.Statement != "UPDATE" && shape.Statement != "DELETE" {
		return
	}

	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, c := range shape.Where {
		t.upsert(models.PatternWhere, c.Table, []string{c.Column}, c.Operator, elapsedMillis, signals, now)
	}
	t.observeCompositeWhere(shape, elapsedMillis, signals, now)
	for _, j := range shape.Joins {
		t.upsert(models.PatternJoin, j.LeftTable, []string{j.LeftColumn}, "=", elapsedMillis, signals, now)
		t.upsert(models.PatternJoin, j.RightTable, []string{j.RightColumn}, "=", elapsedMillis, signals, now)
	}
	for table, cols := range groupByTable(shape.OrderBy) {
		t.upsert(models.PatternOrderBy, table, cols, "", elapsedMillis, signals, now)
	}
	for table, cols := range groupByTable(shape.GroupBy) {
		t.upsert(models.PatternGroupBy, table, cols, "", elapsedMillis, signals, now)
	}

	t.observations++
	if t.observations%t.cfg.RegenerateEvery == 0 {
		t.regenerateLocked()
	}
}

// observeCompositeWhere records a composite pattern when a statement filters
// one table by two or more equality predicates.
func (t *Tracker) observeCompositeWhere(shape *sqlparse.Shape, elapsedMillis float64, signals PlanSignals, now time.Time) {
	equalities := make(map[string][]string)
	for _, c := range shape.Where {
		if c.Operator == "=" && c.Table != "" {
			equalities[c.Table] = append(equalities[c.Table], c.Column)
		}
	}
	for table, cols := range equalities {
		if len(cols) >= 2 {
			t.upsert(models.PatternCompositeWhere, table, cols, "=", elapsedMillis, signals, now)
		}
	}
}

// groupByTable collects ORDER BY / GROUP BY columns per table so multi-column
// sorts become composite candidates.
func groupByTable(refs []sqlparse.ColumnRef) map[string][]string {
	grouped := make(map[string][]string)
	for _, r := range refs {
		if r.Table != "" {
			grouped[r.Table] = append(grouped[r.Table], r.Column)
		}
	}
	return grouped
}

func patternKey(kind, table string, columns []string, operator string) string {
	return kind + "|" + strings.ToLower(table) + "|" +
		strings.ToLower(strings.Join(columns, ",")) + "|" + operator
}

func (t *Tracker) upsert(kind, table string, columns []string, operator string,
	elapsedMillis float64, signals PlanSignals, now time.Time) {

	if table == "" || len(columns) == 0 {
		return
	}

	key := patternKey(kind, table, columns, operator)
	p, ok := t.patterns[key]
	if !ok {
		p = &models.QueryPattern{
			Kind:      kind,
			Table:     table,
			Columns:   append([]string(nil), columns...),
			Operator:  operator,
			FirstSeen: now,
		}
		t.patterns[key] = p
	}

	p.Frequency++
	p.LastSeen = now
	p.AvgExecMillis += (elapsedMillis - p.AvgExecMillis) / float64(p.Frequency)
	p.SawFullScan = p.SawFullScan || signals.FullScan
	p.SawFilesort = p.SawFilesort || signals.Filesort
	p.Priority = patternPriority(p)
}

func patternPriority(p *models.QueryPattern) string {
	switch {
	case p.AvgExecMillis > 1000 || p.Frequency >= 10:
		return models.PriorityHigh
	case p.AvgExecMillis > 500 || p.Frequency >= 5:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

// UpdateIndexCatalog replaces the tracker's view of existing indexes, used to
// suppress recommendations an index already covers.
func (t *Tracker) UpdateIndexCatalog(indexes []models.Index) {
	byTable := make(map[string][][]string)
	for _, idx := range indexes {
		byTable[strings.ToLower(idx.Table)] = append(byTable[strings.ToLower(idx.Table)], lowered(idx.ColumnNames()))
	}

	t.mu.Lock()
	t.indexes = byTable
	t.mu.Unlock()
}

func lowered(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = strings.ToLower(c)
	}
	return out
}

// coveredLocked reports whether an existing index already serves the
// table+columns: the pattern's columns must match the index's leading
// columns, order-insensitively.
func (t *Tracker) coveredLocked(table string, columns []string) bool {
	want := make(map[string]bool, len(columns))
	for _, c := range columns {
		want[strings.ToLower(c)] = true
	}

	for _, indexCols := range t.indexes[strings.ToLower(table)] {
		if len(indexCols) < len(columns) {
			continue
		}
		matched := 0
		for _, c := range indexCols[:len(columns)] {
			if want[c] {
				matched++
			}
		}
		if matched == len(columns) {
			return true
		}
	}
	return false
}

// Confidence computes the 0-100 score for a pattern: base 50, frequency
// bonus, plan-derived bonuses, slow-execution bonus. Higher observed
// frequency never lowers the score.
func Confidence(p *models.QueryPattern) int {
	score := 50

	switch {
	case p.Frequency >= 10:
		score += 20
	case p.Frequency >= 5:
		score += 10
	}

	if p.SawFullScan {
		score += 25
	}
	if p.SawFilesort {
		score += 15
	}

	switch {
	case p.AvgExecMillis > 1000:
		score += 20
	case p.AvgExecMillis > 500:
		score += 10
	}

	if score > 100 {
		score = 100
	}
	return score
}

// regenerateLocked rebuilds the recommendation list from the current
// patterns. The previous list is superseded, not merged.
func (t *Tracker) regenerateLocked() {
	var recs []models.Recommendation

	for _, p := range t.patterns {
		if p.Frequency < t.cfg.MinFrequency {
			continue
		}
		if t.coveredLocked(p.Table, p.Columns) {
			continue
		}
		conf := Confidence(p)
		if conf < t.cfg.MinConfidence {
			continue
		}

		recType := models.RecommendationCreate
		if len(p.Columns) > 1 {
			recType = models.RecommendationComposite
		}

		recs = append(recs, models.Recommendation{
			Type:            recType,
			Table:           p.Table,
			Columns:         append([]string(nil), p.Columns...),
			Confidence:      conf,
			Priority:        p.Priority,
			EstimatedImpact: estimateImpact(p, conf),
			SQL:             createIndexSQL(p.Table, p.Columns),
			Reason: fmt.Sprintf("%s pattern on %s(%s) observed %d times, avg %.0f ms",
				p.Kind, p.Table, strings.Join(p.Columns, ", "), p.Frequency, p.AvgExecMillis),
		})
	}

	sort.Slice(recs, func(i, j int) bool {
		pi, pj := priorityRank(recs[i].Priority), priorityRank(recs[j].Priority)
		if pi != pj {
			return pi > pj
		}
		return recs[i].Confidence > recs[j].Confidence
	})
	if len(recs) > t.cfg.MaxRecommendations {
		recs = recs[:t.cfg.MaxRecommendations]
	}

	t.recs = recs
	if t.logger != nil {
		t.logger.Debug("recommendations regenerated",
			zap.Int("patterns", len(t.patterns)),
			zap.Int("recommendations", len(recs)))
	}
}

func priorityRank(p string) int {
	switch p {
	case models.PriorityHigh:
		return 3
	case models.PriorityMedium:
		return 2
	default:
		return 1
	}
}

// estimateImpact blends frequency and confidence into a 0-100 estimate.
func estimateImpact(p *models.QueryPattern, confidence int) float64 {
	impact := float64(p.Frequency)*2 + float64(confidence)/2
	if impact > 100 {
		impact = 100
	}
	return impact
}

func createIndexSQL(table string, columns []string) string {
	name := IndexName(table, columns)
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)", name, table, strings.Join(columns, ", "))
}

// IndexName derives a deterministic candidate index name.
func IndexName(table string, columns []string) string {
	parts := append([]string{"idx", strings.ToLower(table)}, lowered(columns)...)
	return strings.Join(parts, "_")
}

// Recommendations returns the last regenerated list.
func (t *Tracker) Recommendations() []models.Recommendation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Recommendation, len(t.recs))
	copy(out, t.recs)
	return out
}

// Regenerate forces a rebuild outside the periodic cadence, used by the
// batch control loop right before planning.
func (t *Tracker) Regenerate() []models.Recommendation {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.regenerateLocked()
	out := make([]models.Recommendation, len(t.recs))
	copy(out, t.recs)
	return out
}

// Patterns returns a snapshot of all tracked patterns.
func (t *Tracker) Patterns() []models.QueryPattern {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.QueryPattern, 0, len(t.patterns))
	for _, p := range t.patterns {
		out = append(out, *p)
	}
	return out
}

// Reset clears all patterns and recommendations in bulk. Individual patterns
// are never deleted.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.patterns = make(map[string]*models.QueryPattern)
	t.recs = nil
	t.observations = 0
}
