package learning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voca9204/db3-sub000/pkg/apperrors"
	"github.com/voca9204/db3-sub000/pkg/models"
)

func newTestStore(cap int) *Store {
	return New(cap, zap.NewNop())
}

func execResult(succeeded, failed int, improvement float64) *models.ExecutionResult {
	return &models.ExecutionResult{
		Succeeded:            succeeded,
		Failed:               failed,
		EstimatedImprovement: improvement,
	}
}

func TestRecordAndHistory(t *testing.T) {
	s := newTestStore(10)
	s.Record(&models.AnalysisReport{
		Indexes: make([]models.Index, 4),
		Unused:  make([]models.Index, 1),
	}, nil, execResult(2, 0, 30))

	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, 4, history[0].AnalysisSummary.Indexes)
	assert.Equal(t, 1, history[0].AnalysisSummary.Unused)
	assert.Equal(t, 2, history[0].ExecutionSummary.Succeeded)
}

func TestHistoryCapEvictsOldest(t *testing.T) {
	s := newTestStore(3)
	for i := 0; i < 5; i++ {
		s.Record(nil, nil, execResult(i, 0, 0))
	}

	history := s.History()
	require.Len(t, history, 3)
	assert.Equal(t, 2, history[0].ExecutionSummary.Succeeded, "oldest records are dropped")
	assert.Equal(t, 4, history[2].ExecutionSummary.Succeeded)
}

func TestTrendsSuccessRate(t *testing.T) {
	s := newTestStore(10)
	s.Record(nil, nil, execResult(3, 1, 20))
	s.Record(nil, nil, execResult(2, 2, 40))

	trends := s.Trends()
	assert.Equal(t, 2, trends.Cycles)
	assert.InDelta(t, 5.0/8.0, trends.SuccessRate, 1e-9)
	assert.InDelta(t, 30, trends.RecentImprovement, 1e-9)
}

func TestTrendsSuccessRateWindowsRecentCycles(t *testing.T) {
	s := newTestStore(50)
	// old cycles fail everything, the last ten succeed everything
	for i := 0; i < 10; i++ {
		s.Record(nil, nil, execResult(0, 3, 0))
	}
	for i := 0; i < 10; i++ {
		s.Record(nil, nil, execResult(3, 0, 0))
	}

	trends := s.Trends()
	assert.Equal(t, 20, trends.Cycles)
	assert.InDelta(t, 1.0, trends.SuccessRate, 1e-9,
		"old failures age out of the success rate")
}

func TestRecordFeedsBaselinesAndIndexSeries(t *testing.T) {
	s := newTestStore(10)
	for i := 0; i < 2; i++ {
		s.Record(&models.AnalysisReport{
			Tables: []models.TableSnapshot{
				{Name: "orders", RowCount: int64(1000 + i*100), DataBytes: int64(1 << 20)},
			},
			Indexes: []models.Index{
				{Table: "orders", Name: "idx_customer", Effectiveness: float64(60 + i*5)},
			},
		}, nil, nil)
	}

	baseline, err := s.TableBaseline("orders")
	require.NoError(t, err)
	require.Len(t, baseline, 2)
	assert.Equal(t, int64(1000), baseline[0].RowCount)
	assert.Equal(t, int64(1100), baseline[1].RowCount)
	assert.Equal(t, int64(1<<20), baseline[0].DataBytes)

	series, err := s.IndexEffectiveness("orders", "idx_customer")
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.InDelta(t, 60, series[0].Effectiveness, 1e-9)
	assert.InDelta(t, 65, series[1].Effectiveness, 1e-9)

	_, err = s.TableBaseline("phantom")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = s.IndexEffectiveness("orders", "phantom")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestBaselineSeriesAreBounded(t *testing.T) {
	s := newTestStore(3)
	for i := 0; i < 5; i++ {
		s.Record(&models.AnalysisReport{
			Tables: []models.TableSnapshot{{Name: "t", RowCount: int64(i)}},
		}, nil, nil)
	}

	baseline, err := s.TableBaseline("t")
	require.NoError(t, err)
	require.Len(t, baseline, 3)
	assert.Equal(t, int64(2), baseline[0].RowCount, "oldest points are dropped")
	assert.Equal(t, int64(4), baseline[2].RowCount)
}

func TestTrendsEmptyHistory(t *testing.T) {
	trends := newTestStore(10).Trends()
	assert.Zero(t, trends.Cycles)
	assert.Zero(t, trends.SuccessRate)
}

func TestInsightLowSuccessRate(t *testing.T) {
	s := newTestStore(10)
	for i := 0; i < 3; i++ {
		s.Record(nil, nil, execResult(1, 2, 0))
	}

	insights := s.Insights(nil, nil)
	kinds := insightKinds(insights)
	assert.Contains(t, kinds, InsightLowSuccessRate)
}

func TestInsightHotTable(t *testing.T) {
	s := newTestStore(10)
	plan := &models.Plan{Actions: []models.Action{
		{Table: "orders"}, {Table: "orders"}, {Table: "orders"},
	}}
	s.Record(nil, plan, nil)
	s.Record(nil, plan, nil)

	kinds := insightKinds(s.Insights(nil, nil))
	assert.Contains(t, kinds, InsightHotTable)
}

func TestInsightSlowPatternsAndWeakIndexes(t *testing.T) {
	s := newTestStore(10)
	report := &models.AnalysisReport{
		Inefficient:    make([]models.Index, 3),
		UsageAvailable: false,
	}
	patterns := []models.QueryPattern{
		{AvgExecMillis: 1500}, {AvgExecMillis: 2000}, {AvgExecMillis: 1200},
	}

	kinds := insightKinds(s.Insights(report, patterns))
	assert.Contains(t, kinds, InsightWeakIndexes)
	assert.Contains(t, kinds, InsightSlowPatterns)
	assert.Contains(t, kinds, InsightMissingUsage)
}

func TestExportImportRoundTrip(t *testing.T) {
	s := newTestStore(10)
	s.Record(&models.AnalysisReport{
		Tables:  []models.TableSnapshot{{Name: "orders", RowCount: 500}},
		Indexes: []models.Index{{Table: "orders", Name: "idx_customer", Effectiveness: 72}},
	},
		&models.Plan{Actions: []models.Action{{Table: "orders"}}},
		execResult(1, 0, 10))

	data, err := s.Export()
	require.NoError(t, err)

	restored := newTestStore(10)
	require.NoError(t, restored.Import(data))

	require.Len(t, restored.History(), 1)
	assert.Equal(t, s.Trends(), restored.Trends())

	baseline, err := restored.TableBaseline("orders")
	require.NoError(t, err)
	require.Len(t, baseline, 1)
	assert.Equal(t, int64(500), baseline[0].RowCount)

	series, err := restored.IndexEffectiveness("orders", "idx_customer")
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.InDelta(t, 72, series[0].Effectiveness, 1e-9)
}

func TestImportReappliesCap(t *testing.T) {
	s := newTestStore(10)
	for i := 0; i < 6; i++ {
		s.Record(nil, nil, execResult(i, 0, 0))
	}
	data, err := s.Export()
	require.NoError(t, err)

	small := newTestStore(2)
	require.NoError(t, small.Import(data))
	assert.Len(t, small.History(), 2)
}

func TestImportRejectsGarbage(t *testing.T) {
	s := newTestStore(10)
	assert.Error(t, s.Import([]byte("not json")))
}

func insightKinds(insights []Insight) []string {
	kinds := make([]string, len(insights))
	for i, in := range insights {
		kinds[i] = in.Kind
	}
	return kinds
}
