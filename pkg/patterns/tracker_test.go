package patterns

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voca9204/db3-sub000/pkg/models"
)

func newTestTracker(cfg Config) *Tracker {
	return New(cfg, zap.NewNop())
}

func findPattern(t *Tracker, kind, table string) *models.QueryPattern {
	for _, p := range t.Patterns() {
		if p.Kind == kind && p.Table == table {
			cp := p
			return &cp
		}
	}
	return nil
}

func TestObserveWherePattern(t *testing.T) {
	tr := newTestTracker(Config{})

	tr.Observe("SELECT * FROM orders WHERE customer_id = ?", 100, PlanSignals{})
	tr.Observe("SELECT * FROM orders WHERE customer_id = ?", 300, PlanSignals{})

	p := findPattern(tr, models.PatternWhere, "orders")
	require.NotNil(t, p)
	assert.Equal(t, []string{"customer_id"}, p.Columns)
	assert.Equal(t, 2, p.Frequency)
	assert.InDelta(t, 200, p.AvgExecMillis, 1e-9, "rolling average")
}

func TestObserveIgnoresInserts(t *testing.T) {
	tr := newTestTracker(Config{})
	tr.Observe("INSERT INTO orders (customer_id) VALUES (?)", 10, PlanSignals{})
	assert.Empty(t, tr.Patterns())
}

func TestObserveCompositeWhere(t *testing.T) {
	tr := newTestTracker(Config{})
	tr.Observe("SELECT * FROM orders WHERE customer_id = ? AND status = ?", 100, PlanSignals{})

	p := findPattern(tr, models.PatternCompositeWhere, "orders")
	require.NotNil(t, p)
	assert.Len(t, p.Columns, 2)
}

func TestObserveJoinBothSides(t *testing.T) {
	tr := newTestTracker(Config{})
	tr.Observe("SELECT * FROM users u JOIN orders o ON u.id = o.user_id", 50, PlanSignals{})

	assert.NotNil(t, findPattern(tr, models.PatternJoin, "users"))
	assert.NotNil(t, findPattern(tr, models.PatternJoin, "orders"))
}

func TestConfidenceScoring(t *testing.T) {
	base := &models.QueryPattern{Frequency: 1}
	assert.Equal(t, 50, Confidence(base))

	// the canonical case: 12 observations averaging 600 ms
	p := &models.QueryPattern{Frequency: 12, AvgExecMillis: 600}
	assert.Equal(t, 80, Confidence(p))

	maxed := &models.QueryPattern{
		Frequency:     20,
		AvgExecMillis: 2000,
		SawFullScan:   true,
		SawFilesort:   true,
	}
	assert.Equal(t, 100, Confidence(maxed), "score is clamped at 100")
}

func TestConfidenceMonotonicInFrequency(t *testing.T) {
	prev := 0
	for freq := 1; freq <= 30; freq++ {
		c := Confidence(&models.QueryPattern{Frequency: freq, AvgExecMillis: 600})
		assert.GreaterOrEqual(t, c, prev, "frequency %d", freq)
		prev = c
	}
}

func TestRecommendationEmitted(t *testing.T) {
	tr := newTestTracker(Config{MinFrequency: 3, MinConfidence: 75})

	for i := 0; i < 12; i++ {
		tr.Observe("SELECT * FROM orders WHERE customer_id = ?", 600, PlanSignals{})
	}

	recs := tr.Regenerate()
	require.NotEmpty(t, recs)
	rec := recs[0]
	assert.Equal(t, models.RecommendationCreate, rec.Type)
	assert.Equal(t, "orders", rec.Table)
	assert.Equal(t, []string{"customer_id"}, rec.Columns)
	assert.Equal(t, 80, rec.Confidence)
	assert.Equal(t, "CREATE INDEX idx_orders_customer_id ON orders (customer_id)", rec.SQL)
	assert.Equal(t, models.PriorityHigh, rec.Priority, "12 observations is a high-frequency pattern")
}

func TestRecommendationSuppressedBelowFrequency(t *testing.T) {
	tr := newTestTracker(Config{MinFrequency: 3})
	tr.Observe("SELECT * FROM orders WHERE customer_id = ?", 2000, PlanSignals{FullScan: true})

	assert.Empty(t, tr.Regenerate(), "one observation is below the frequency floor")
}

func TestRecommendationSuppressedByExistingIndex(t *testing.T) {
	tr := newTestTracker(Config{MinFrequency: 3, MinConfidence: 75})
	for i := 0; i < 12; i++ {
		tr.Observe("SELECT * FROM orders WHERE customer_id = ?", 600, PlanSignals{})
	}
	require.NotEmpty(t, tr.Regenerate())

	tr.UpdateIndexCatalog([]models.Index{{
		Table: "orders",
		Name:  "idx_orders_customer_id",
		Columns: []models.IndexColumn{
			{Name: "customer_id", SeqInIndex: 1},
		},
	}})
	assert.Empty(t, tr.Regenerate(), "covered patterns stop producing recommendations")
}

func TestCoverageUsesLeadingColumns(t *testing.T) {
	tr := newTestTracker(Config{MinFrequency: 3, MinConfidence: 75})
	for i := 0; i < 12; i++ {
		tr.Observe("SELECT * FROM orders WHERE status = ?", 600, PlanSignals{})
	}

	// (status, created_at) covers a status-only pattern
	tr.UpdateIndexCatalog([]models.Index{{
		Table: "orders",
		Name:  "idx_orders_status_created",
		Columns: []models.IndexColumn{
			{Name: "status", SeqInIndex: 1},
			{Name: "created_at", SeqInIndex: 2},
		},
	}})
	assert.Empty(t, tr.Regenerate())

	// (created_at, status) does not; status is not a leading column
	tr.UpdateIndexCatalog([]models.Index{{
		Table: "orders",
		Name:  "idx_orders_created_status",
		Columns: []models.IndexColumn{
			{Name: "created_at", SeqInIndex: 1},
			{Name: "status", SeqInIndex: 2},
		},
	}})
	assert.NotEmpty(t, tr.Regenerate())
}

func TestCompositeRecommendationType(t *testing.T) {
	tr := newTestTracker(Config{MinFrequency: 3, MinConfidence: 50})
	for i := 0; i < 12; i++ {
		tr.Observe("SELECT * FROM orders WHERE customer_id = ? AND status = ?", 700, PlanSignals{})
	}

	var composite *models.Recommendation
	for _, rec := range tr.Regenerate() {
		if rec.Type == models.RecommendationComposite {
			cp := rec
			composite = &cp
		}
	}
	require.NotNil(t, composite)
	assert.Len(t, composite.Columns, 2)
}

func TestRecommendationListCapped(t *testing.T) {
	tr := newTestTracker(Config{MinFrequency: 3, MinConfidence: 50, MaxRecommendations: 5})
	for i := 0; i < 20; i++ {
		for n := 0; n < 5; n++ {
			tr.Observe(fmt.Sprintf("SELECT * FROM t%d WHERE c = ?", i), 800, PlanSignals{})
		}
	}
	assert.Len(t, tr.Regenerate(), 5)
}

func TestRegenerateSupersedesPreviousList(t *testing.T) {
	tr := newTestTracker(Config{MinFrequency: 3, MinConfidence: 50})
	for i := 0; i < 12; i++ {
		tr.Observe("SELECT * FROM orders WHERE customer_id = ?", 600, PlanSignals{})
	}
	first := tr.Regenerate()
	require.NotEmpty(t, first)

	tr.Reset()
	assert.Empty(t, tr.Regenerate(), "reset drops patterns, so the list regenerates empty")
}

func TestPlanSignalsRaiseConfidence(t *testing.T) {
	without := Confidence(&models.QueryPattern{Frequency: 5, AvgExecMillis: 100})
	with := Confidence(&models.QueryPattern{Frequency: 5, AvgExecMillis: 100, SawFullScan: true})
	assert.Greater(t, with, without)
}
