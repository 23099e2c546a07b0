package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voca9204/db3-sub000/pkg/db"
	"github.com/voca9204/db3-sub000/pkg/models"
)

// fakeDB scripts Execute outcomes by SQL substring and mirrors successful
// index DDL into its catalog, so post-condition checks see the change.
type fakeDB struct {
	mu       sync.Mutex
	executed []string
	failOn   map[string]error // substring -> error
	tables   []db.TableStat
	columns  map[string][]db.ColumnStat
	indexes  []db.IndexStat
	indexErr error

	// frozen leaves the catalog untouched by DDL
	frozen bool
}

func (f *fakeDB) Execute(ctx context.Context, sql string, params ...any) (*db.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, sql)
	for sub, err := range f.failOn {
		if strings.Contains(sql, sub) {
			return nil, err
		}
	}
	if !f.frozen {
		f.applyDDL(sql)
	}
	return &db.QueryResult{}, nil
}

// applyDDL mutates the catalog for "CREATE INDEX name ON table" and
// "DROP INDEX name ON table" statements. Caller holds the mutex.
func (f *fakeDB) applyDDL(sql string) {
	fields := strings.Fields(sql)
	if len(fields) < 5 || fields[1] != "INDEX" || fields[3] != "ON" {
		return
	}
	name, table := fields[2], fields[4]
	switch fields[0] {
	case "CREATE":
		f.indexes = append(f.indexes, db.IndexStat{Table: table, Name: name, ColumnName: "c", SeqInIndex: 1})
	case "DROP":
		kept := f.indexes[:0]
		for _, s := range f.indexes {
			if s.Table != table || s.Name != name {
				kept = append(kept, s)
			}
		}
		f.indexes = kept
	}
}

func (f *fakeDB) executedSQL() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

func (f *fakeDB) Tables(ctx context.Context) ([]db.TableStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]db.TableStat(nil), f.tables...), nil
}

func (f *fakeDB) Columns(ctx context.Context, table string) ([]db.ColumnStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.columns[table], nil
}

func (f *fakeDB) Indexes(ctx context.Context) ([]db.IndexStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]db.IndexStat(nil), f.indexes...), f.indexErr
}

func (f *fakeDB) Explain(ctx context.Context, sql string) ([]db.ExplainRow, error) { return nil, nil }
func (f *fakeDB) SupportsExplain() bool                                            { return false }
func (f *fakeDB) Close() error                                                     { return nil }

var _ db.Database = (*fakeDB)(nil)

// catalogFake builds a fake whose catalog knows the given tables, each with
// columns id, c, a and b.
func catalogFake(tables ...string) *fakeDB {
	f := &fakeDB{columns: make(map[string][]db.ColumnStat)}
	for _, name := range tables {
		f.tables = append(f.tables, db.TableStat{Name: name, RowCount: 1000})
		f.columns[name] = []db.ColumnStat{
			{Name: "id"}, {Name: "c"}, {Name: "a"}, {Name: "b"},
		}
	}
	return f
}

func createAction(table, index string) models.Action {
	return models.Action{
		ID:              uuid.New(),
		Type:            models.ActionCreateIndex,
		Table:           table,
		Index:           index,
		Columns:         []string{"c"},
		SQL:             "CREATE INDEX " + index + " ON " + table + " (c)",
		EstimatedImpact: 10,
	}
}

func newTestExecutor(database db.Database) *Executor {
	return New(database, Config{BatchSize: 5, BatchPause: time.Millisecond}, zap.NewNop())
}

func TestExecuteAllSucceed(t *testing.T) {
	fake := catalogFake("t")
	e := newTestExecutor(fake)
	plan := &models.Plan{ID: uuid.New(), Actions: []models.Action{
		createAction("t", "idx_a"),
		createAction("t", "idx_b"),
	}}

	result, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.Zero(t, result.Failed)
	assert.Len(t, fake.executedSQL(), 2)
}

func TestExecutePartialFailureContinues(t *testing.T) {
	fake := catalogFake("t")
	fake.failOn = map[string]error{"idx_b": errors.New("disk full")}
	e := newTestExecutor(fake)
	plan := &models.Plan{ID: uuid.New(), Actions: []models.Action{
		createAction("t", "idx_a"),
		createAction("t", "idx_b"),
		createAction("t", "idx_c"),
	}}

	result, err := e.Execute(context.Background(), plan)
	require.NoError(t, err, "action failures are accounted, not raised")
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Results, 3)
	assert.Equal(t, models.ActionFailed, result.Results[1].Status)
	assert.Contains(t, result.Results[1].Error, "disk full")
	assert.Equal(t, models.ActionSucceeded, result.Results[2].Status,
		"the action after a failure is still attempted")
}

func TestExecuteSkipsExistingIndex(t *testing.T) {
	fake := catalogFake("t")
	fake.indexes = []db.IndexStat{
		{Table: "t", Name: "idx_a", ColumnName: "c", SeqInIndex: 1},
	}
	e := newTestExecutor(fake)
	plan := &models.Plan{ID: uuid.New(), Actions: []models.Action{
		createAction("t", "idx_a"),
	}}

	result, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, fake.executedSQL(), "pre-validation avoids the round trip")
}

func TestExecuteSkipsMissingIndexOnDrop(t *testing.T) {
	fake := catalogFake("t")
	e := newTestExecutor(fake)
	plan := &models.Plan{ID: uuid.New(), Actions: []models.Action{{
		ID:    uuid.New(),
		Type:  models.ActionDropIndex,
		Table: "t",
		Index: "idx_gone",
		SQL:   "DROP INDEX idx_gone ON t",
	}}}

	result, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, result.Failed)
	assert.Empty(t, fake.executedSQL())
}

func TestExecuteRejectsCreateOnMissingTable(t *testing.T) {
	fake := catalogFake("t")
	e := newTestExecutor(fake)
	plan := &models.Plan{ID: uuid.New(), Actions: []models.Action{
		createAction("phantom", "idx_a"),
	}}

	result, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Results, 1)
	assert.Contains(t, result.Results[0].Error, "table does not exist")
	assert.Empty(t, fake.executedSQL(), "validation rejects the action before any DDL")
}

func TestExecuteRejectsCreateOnMissingColumn(t *testing.T) {
	fake := catalogFake("orders")
	e := newTestExecutor(fake)
	action := createAction("orders", "idx_orders_missing")
	action.Columns = []string{"a", "no_such_column"}
	action.SQL = "CREATE INDEX idx_orders_missing ON orders (a, no_such_column)"
	plan := &models.Plan{ID: uuid.New(), Actions: []models.Action{action}}

	result, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Zero(t, result.Succeeded)
	require.Len(t, result.Results, 1)
	assert.Contains(t, result.Results[0].Error, "no_such_column")
	assert.Contains(t, result.Results[0].Error, "column does not exist")
	assert.Empty(t, fake.executedSQL(), "validation rejects the action before any DDL")
}

func TestExecuteRejectsDropOfPrimary(t *testing.T) {
	fake := catalogFake("t")
	fake.indexes = []db.IndexStat{
		{Table: "t", Name: "PRIMARY", ColumnName: "id", SeqInIndex: 1},
	}
	e := newTestExecutor(fake)
	plan := &models.Plan{ID: uuid.New(), Actions: []models.Action{{
		ID:    uuid.New(),
		Type:  models.ActionDropIndex,
		Table: "t",
		Index: "PRIMARY",
		SQL:   "DROP INDEX PRIMARY ON t",
	}}}

	result, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, result.Results[0].Error, "PRIMARY")
	assert.Empty(t, fake.executedSQL())
}

func TestExecuteFailsWhenCreateNotVisibleAfterDDL(t *testing.T) {
	fake := catalogFake("t")
	fake.frozen = true // DDL reports success but the catalog never changes
	e := newTestExecutor(fake)
	plan := &models.Plan{ID: uuid.New(), Actions: []models.Action{
		createAction("t", "idx_a"),
	}}

	result, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Zero(t, result.Succeeded)
	assert.Contains(t, result.Results[0].Error, "not present after create")
	assert.Len(t, fake.executedSQL(), 1, "the DDL itself did run")
}

func TestExecuteWithoutPrevalidationDowngradesDuplicateError(t *testing.T) {
	// catalog unavailable: pre-validation is off, the server error downgrades
	fake := &fakeDB{
		indexErr: errors.New("catalog offline"),
		failOn: map[string]error{"idx_a": &mysql.MySQLError{
			Number: 1061, Message: "Duplicate key name 'idx_a'",
		}},
	}
	e := newTestExecutor(fake)
	plan := &models.Plan{ID: uuid.New(), Actions: []models.Action{
		createAction("t", "idx_a"),
	}}

	result, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, result.Failed)
}

func TestExecuteCompositeDropsSuperseded(t *testing.T) {
	fake := catalogFake("orders")
	fake.indexes = []db.IndexStat{
		{Table: "orders", Name: "idx_a", ColumnName: "a", SeqInIndex: 1},
		{Table: "orders", Name: "idx_b", ColumnName: "b", SeqInIndex: 1},
	}
	e := newTestExecutor(fake)
	plan := &models.Plan{ID: uuid.New(), Actions: []models.Action{{
		ID:                uuid.New(),
		Type:              models.ActionCreateCompositeIndex,
		Table:             "orders",
		Index:             "idx_orders_a_b",
		Columns:           []string{"a", "b"},
		SQL:               "CREATE INDEX idx_orders_a_b ON orders (a, b)",
		SupersededIndexes: []string{"idx_a", "idx_b"},
	}}}

	result, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)

	executed := fake.executedSQL()
	require.Len(t, executed, 3)
	assert.Contains(t, executed[1], "DROP INDEX idx_a")
	assert.Contains(t, executed[2], "DROP INDEX idx_b")
}

func TestExecuteSupersededDropFailureIsBestEffort(t *testing.T) {
	fake := catalogFake("orders")
	fake.failOn = map[string]error{"DROP INDEX idx_a": errors.New("lock timeout")}
	e := newTestExecutor(fake)
	plan := &models.Plan{ID: uuid.New(), Actions: []models.Action{{
		ID:                uuid.New(),
		Type:              models.ActionCreateCompositeIndex,
		Table:             "orders",
		Index:             "idx_orders_a_b",
		Columns:           []string{"a", "b"},
		SQL:               "CREATE INDEX idx_orders_a_b ON orders (a, b)",
		SupersededIndexes: []string{"idx_a"},
	}}}

	result, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded, "a failed superseded drop does not fail the action")
	assert.Zero(t, result.Failed)
}

func TestExecuteHonorsCancellation(t *testing.T) {
	fake := catalogFake("t")
	e := New(fake, Config{BatchSize: 1, BatchPause: time.Hour}, zap.NewNop())
	plan := &models.Plan{ID: uuid.New(), Actions: []models.Action{
		createAction("t", "idx_a"),
		createAction("t", "idx_b"),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var result *models.ExecutionResult
	var execErr error
	go func() {
		result, execErr = e.Execute(ctx, plan)
		close(done)
	}()

	// let the first one-action batch run, then cancel during the pause
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return after cancellation")
	}

	require.Error(t, execErr)
	assert.ErrorIs(t, execErr, context.Canceled)
	require.NotNil(t, result, "partial accounting survives cancellation")
	assert.Equal(t, 1, result.Succeeded)
	assert.Len(t, result.Results, 1, "the second action was never attempted")
}
