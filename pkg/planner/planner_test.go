package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voca9204/db3-sub000/pkg/models"
)

func newTestPlanner(cfg Config) *Planner {
	return New(cfg, zap.NewNop())
}

func singleIndex(table, name, column string, examined int64) models.Index {
	return models.Index{
		Table:        table,
		Name:         name,
		Columns:      []models.IndexColumn{{Name: column, SeqInIndex: 1}},
		RowsExamined: examined,
	}
}

func TestBuildPlanFromRecommendations(t *testing.T) {
	p := newTestPlanner(Config{})
	report := &models.AnalysisReport{UsageAvailable: true}
	recs := []models.Recommendation{{
		Type:            models.RecommendationCreate,
		Table:           "orders",
		Columns:         []string{"customer_id"},
		Confidence:      80,
		Priority:        models.PriorityHigh,
		EstimatedImpact: 64,
		SQL:             "CREATE INDEX idx_orders_customer_id ON orders (customer_id)",
	}}

	plan := p.BuildPlan(report, recs)
	require.Len(t, plan.Actions, 1)
	a := plan.Actions[0]
	assert.Equal(t, models.ActionCreateIndex, a.Type)
	assert.Equal(t, "idx_orders_customer_id", a.Index)
	assert.Equal(t, models.PriorityHigh, plan.Priority, "any high action makes the plan high")
}

func TestBuildPlanSkipsExistingIndexes(t *testing.T) {
	p := newTestPlanner(Config{})
	report := &models.AnalysisReport{
		Indexes:        []models.Index{singleIndex("orders", "idx_orders_customer_id", "customer_id", 10)},
		UsageAvailable: true,
	}
	recs := []models.Recommendation{{
		Type:    models.RecommendationCreate,
		Table:   "orders",
		Columns: []string{"customer_id"},
		SQL:     "CREATE INDEX idx_orders_customer_id ON orders (customer_id)",
	}}

	plan := p.BuildPlan(report, recs)
	assert.Empty(t, plan.Actions)
}

func TestBuildPlanDropsDuplicatesAndUnused(t *testing.T) {
	p := newTestPlanner(Config{})
	report := &models.AnalysisReport{
		Duplicates: []models.DuplicatePair{
			{Table: "orders", Keep: "idx_a", Drop: "idx_b", Similarity: 1.0},
		},
		Unused:         []models.Index{singleIndex("orders", "idx_cold", "status", 0)},
		UsageAvailable: true,
	}

	plan := p.BuildPlan(report, nil)
	require.Len(t, plan.Actions, 2)
	for _, a := range plan.Actions {
		assert.Equal(t, models.ActionDropIndex, a.Type)
		assert.Contains(t, a.SQL, "DROP INDEX")
	}
}

func TestBuildPlanSuppressesDropsWithoutUsageStats(t *testing.T) {
	p := newTestPlanner(Config{})
	report := &models.AnalysisReport{
		Duplicates: []models.DuplicatePair{
			{Table: "orders", Keep: "idx_a", Drop: "idx_b", Similarity: 1.0},
		},
		Unused:         []models.Index{singleIndex("orders", "idx_cold", "status", 0)},
		UsageAvailable: false,
	}

	plan := p.BuildPlan(report, nil)
	assert.Empty(t, plan.Actions, "no drops when statistics were unavailable")
}

func TestBuildPlanNeverDropsPrimary(t *testing.T) {
	p := newTestPlanner(Config{})
	report := &models.AnalysisReport{
		Unused:         []models.Index{singleIndex("orders", "PRIMARY", "id", 0)},
		UsageAvailable: true,
	}
	plan := p.BuildPlan(report, nil)
	assert.Empty(t, plan.Actions)
}

func TestCompositeConsolidation(t *testing.T) {
	p := newTestPlanner(Config{CompositeMinUsage: 100})
	report := &models.AnalysisReport{
		Indexes: []models.Index{
			singleIndex("orders", "idx_customer", "customer_id", 900),
			singleIndex("orders", "idx_status", "status", 500),
			singleIndex("orders", "idx_created", "created_at", 300),
			singleIndex("orders", "idx_note", "note", 50), // below threshold
		},
		UsageAvailable: true,
	}

	plan := p.BuildPlan(report, nil)

	var composite *models.Action
	for i := range plan.Actions {
		if plan.Actions[i].Type == models.ActionCreateCompositeIndex {
			composite = &plan.Actions[i]
		}
	}
	require.NotNil(t, composite)
	assert.Equal(t, []string{"customer_id", "status", "created_at"}, composite.Columns,
		"columns ordered by usage, top three only")
	assert.ElementsMatch(t, []string{"idx_customer", "idx_status", "idx_created"},
		composite.SupersededIndexes)
	assert.NotContains(t, composite.SupersededIndexes, "idx_note")
}

func TestCompositeNeedsTwoCandidates(t *testing.T) {
	p := newTestPlanner(Config{CompositeMinUsage: 100})
	report := &models.AnalysisReport{
		Indexes: []models.Index{
			singleIndex("orders", "idx_customer", "customer_id", 900),
		},
		UsageAvailable: true,
	}
	plan := p.BuildPlan(report, nil)
	for _, a := range plan.Actions {
		assert.NotEqual(t, models.ActionCreateCompositeIndex, a.Type)
	}
}

func TestRiskAssessment(t *testing.T) {
	p := newTestPlanner(Config{LargeTables: []string{"events"}, BatchSize: 5})

	var recs []models.Recommendation
	for _, col := range []string{"a", "b", "c", "d", "e", "f"} {
		recs = append(recs, models.Recommendation{
			Type:    models.RecommendationCreate,
			Table:   "events",
			Columns: []string{col},
			SQL:     "CREATE INDEX idx_events_" + col + " ON events (" + col + ")",
		})
	}

	plan := p.BuildPlan(&models.AnalysisReport{UsageAvailable: true}, recs)
	require.Len(t, plan.Actions, 6)
	assert.Equal(t, models.RiskHigh, plan.Risk.Level)

	levels := make(map[string]int)
	for _, r := range plan.Risk.Risks {
		levels[r.Level]++
	}
	assert.Greater(t, levels[models.RiskHigh], 0, "large table and oversize plan are high risks")
	assert.Greater(t, levels[models.RiskMedium], 0, "more than five creates is a write-amplification risk")
}

func TestPlanPriorityEscalation(t *testing.T) {
	p := newTestPlanner(Config{})

	small := p.BuildPlan(&models.AnalysisReport{
		Duplicates:     []models.DuplicatePair{{Table: "t", Keep: "a", Drop: "b", Similarity: 1}},
		UsageAvailable: true,
	}, nil)
	assert.Equal(t, models.PriorityLow, small.Priority)

	big := p.BuildPlan(&models.AnalysisReport{
		Duplicates: []models.DuplicatePair{
			{Table: "t", Keep: "a", Drop: "b", Similarity: 1},
			{Table: "t", Keep: "a", Drop: "c", Similarity: 1},
			{Table: "t", Keep: "a", Drop: "d", Similarity: 1},
			{Table: "t", Keep: "a", Drop: "e", Similarity: 1},
		},
		UsageAvailable: true,
	}, nil)
	assert.Equal(t, models.PriorityMedium, big.Priority, "more than three actions escalates")
}

func TestActionsSortedByPriority(t *testing.T) {
	p := newTestPlanner(Config{})
	recs := []models.Recommendation{
		{Type: models.RecommendationCreate, Table: "t", Columns: []string{"low"},
			Priority: models.PriorityLow, SQL: "CREATE INDEX i1 ON t (low)"},
		{Type: models.RecommendationCreate, Table: "t", Columns: []string{"high"},
			Priority: models.PriorityHigh, SQL: "CREATE INDEX i2 ON t (high)"},
	}
	plan := p.BuildPlan(&models.AnalysisReport{UsageAvailable: true}, recs)
	require.Len(t, plan.Actions, 2)
	assert.Equal(t, models.PriorityHigh, plan.Actions[0].Priority)
}
