// Package db defines the narrow database contract the optimizer core consumes:
// one execution primitive plus read-only schema-catalog queries. Connection
// pooling, retries and timeouts belong to the adapter, not to the core.
package db

import (
	"context"
	"time"
)

// QueryResult contains the results of a SQL execution.
type QueryResult struct {
	Columns      []string         `json:"columns"`
	Rows         []map[string]any `json:"rows"`
	RowsAffected int64            `json:"rows_affected"`
}

// Executor executes SQL against the managed database.
type Executor interface {
	// Execute runs a statement with positional parameters and returns results.
	Execute(ctx context.Context, sql string, params ...any) (*QueryResult, error)
}

// TableStat is one table's shape as reported by the schema catalog.
type TableStat struct {
	Name       string
	RowCount   int64
	DataBytes  int64
	IndexBytes int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ColumnStat is one column as reported by the schema catalog.
type ColumnStat struct {
	Name     string
	DataType string
	Nullable bool
}

// IndexStat is one (index, column) row from the schema catalog, mirroring
// information_schema.statistics: multi-column indexes produce one row per
// column with increasing SeqInIndex.
type IndexStat struct {
	Table       string
	Name        string
	ColumnName  string
	SeqInIndex  int // 1-based
	Cardinality int64
	Unique      bool
	SizeBytes   int64

	// Usage counters; zero when the statistics source is unavailable.
	RowsExamined int64
	RowsRead     int64
}

// ExplainRow is one row of a classic EXPLAIN plan.
type ExplainRow struct {
	SelectType   string
	Table        string
	AccessType   string // "ALL" means full table scan
	PossibleKeys []string
	Key          string
	Rows         int64
	Filtered     float64
	Extra        string // "Using filesort", "Using temporary", ...
}

// Catalog provides read-only schema introspection.
type Catalog interface {
	// Tables lists user tables with row and byte counts.
	Tables(ctx context.Context) ([]TableStat, error)

	// Columns lists the columns of one table.
	Columns(ctx context.Context, table string) ([]ColumnStat, error)

	// Indexes lists all index columns with order, uniqueness and usage
	// counters. Implementations must degrade usage counters to zero when the
	// statistics source is unavailable rather than fail.
	Indexes(ctx context.Context) ([]IndexStat, error)

	// Explain returns the execution plan for a SELECT statement.
	Explain(ctx context.Context, sql string) ([]ExplainRow, error)

	// SupportsExplain reports whether Explain is usable on this adapter.
	SupportsExplain() bool
}

// Database bundles the two capabilities the core needs from its environment.
type Database interface {
	Executor
	Catalog

	// Close releases the underlying connection.
	Close() error
}
