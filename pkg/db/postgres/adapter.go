// Package postgres implements the db.Database contract over a PostgreSQL
// connection pool.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/voca9204/db3-sub000/pkg/db"
	"github.com/voca9204/db3-sub000/pkg/logging"
	"github.com/voca9204/db3-sub000/pkg/retry"
)

// Config holds PostgreSQL connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Adapter is a PostgreSQL-backed db.Database.
type Adapter struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New opens a pgx pool and verifies the database is reachable.
func New(ctx context.Context, cfg *Config, logger *zap.Logger) (*Adapter, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	pingCfg := retry.DefaultConfig()
	pingCfg.RetryIf = db.IsRetryable
	if err := retry.Do(ctx, pingCfg, func() error { return pool.Ping(ctx) }); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to postgres",
		zap.String("target", logging.SanitizeConnectionString(connStr)))

	return &Adapter{pool: pool, logger: logger}, nil
}

// Execute runs a statement with positional parameters ($1, $2, ...).
func (a *Adapter) Execute(ctx context.Context, sqlText string, params ...any) (*db.QueryResult, error) {
	rows, err := a.pool.Query(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("execute statement: %w", err)
	}
	defer rows.Close()

	result := &db.QueryResult{}

	fieldDescs := rows.FieldDescriptions()
	if len(fieldDescs) > 0 {
		result.Columns = make([]string, len(fieldDescs))
		for i, fd := range fieldDescs {
			result.Columns[i] = string(fd.Name)
		}

		result.Rows = make([]map[string]any, 0)
		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				return nil, fmt.Errorf("read row values: %w", err)
			}
			rowMap := make(map[string]any, len(result.Columns))
			for i, col := range result.Columns {
				rowMap[col] = values[i]
			}
			result.Rows = append(result.Rows, rowMap)
		}
	} else {
		// DDL/DML without RETURNING: iteration still triggers execution
		// because pgx defers it until rows are consumed.
		for rows.Next() {
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during execution: %w", err)
	}

	result.RowsAffected = rows.CommandTag().RowsAffected()
	return result, nil
}

// Tables lists user tables with row estimates and byte counts.
func (a *Adapter) Tables(ctx context.Context) ([]db.TableStat, error) {
	const q = `
		SELECT c.relname,
		       GREATEST(c.reltuples::bigint, 0),
		       pg_table_size(c.oid),
		       pg_indexes_size(c.oid)
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind = 'r'
		  AND n.nspname NOT IN ('pg_catalog', 'information_schema')
		ORDER BY c.relname`

	rows, err := a.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var stats []db.TableStat
	for rows.Next() {
		var t db.TableStat
		if err := rows.Scan(&t.Name, &t.RowCount, &t.DataBytes, &t.IndexBytes); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		stats = append(stats, t)
	}
	return stats, rows.Err()
}

// Columns lists the columns of one table in ordinal position order.
func (a *Adapter) Columns(ctx context.Context, table string) ([]db.ColumnStat, error) {
	const q = `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
		  AND table_name = $1
		ORDER BY ordinal_position`

	rows, err := a.pool.Query(ctx, q, table)
	if err != nil {
		return nil, fmt.Errorf("list columns for %s: %w", table, err)
	}
	defer rows.Close()

	var cols []db.ColumnStat
	for rows.Next() {
		var c db.ColumnStat
		var nullable string
		if err := rows.Scan(&c.Name, &c.DataType, &nullable); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		c.Nullable = nullable == "YES"
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// Indexes lists index columns with order, uniqueness, cardinality estimates
// and usage counters from pg_stat_user_indexes. Postgres names the table's
// primary key "<table>_pkey"; it is normalized to "PRIMARY" so the core's
// primary-key protection applies uniformly across adapters.
func (a *Adapter) Indexes(ctx context.Context) ([]db.IndexStat, error) {
	const q = `
		SELECT s.relname,
		       s.indexrelname,
		       a.attname,
		       k.ord::int,
		       i.indisunique,
		       i.indisprimary,
		       pg_relation_size(s.indexrelid),
		       COALESCE(s.idx_tup_read, 0),
		       COALESCE(s.idx_tup_fetch, 0),
		       GREATEST(COALESCE(st.n_distinct, 0), 0)::bigint
		FROM pg_stat_user_indexes s
		JOIN pg_index i ON i.indexrelid = s.indexrelid
		JOIN LATERAL unnest(i.indkey) WITH ORDINALITY AS k(attnum, ord) ON true
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = k.attnum
		LEFT JOIN pg_stats st ON st.tablename = s.relname AND st.attname = a.attname
		ORDER BY s.relname, s.indexrelname, k.ord`

	rows, err := a.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}
	defer rows.Close()

	var stats []db.IndexStat
	for rows.Next() {
		var s db.IndexStat
		var primary bool
		if err := rows.Scan(&s.Table, &s.Name, &s.ColumnName, &s.SeqInIndex,
			&s.Unique, &primary, &s.SizeBytes, &s.RowsExamined, &s.RowsRead,
			&s.Cardinality); err != nil {
			return nil, fmt.Errorf("scan index row: %w", err)
		}
		if primary {
			s.Name = "PRIMARY"
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Explain runs EXPLAIN and maps the text plan onto the classic row shape so
// plan analysis works uniformly: Seq Scan becomes access type ALL, index
// scans surface the index name, and sorts surface a filesort marker.
func (a *Adapter) Explain(ctx context.Context, sqlText string) ([]db.ExplainRow, error) {
	rows, err := a.pool.Query(ctx, "EXPLAIN "+sqlText)
	if err != nil {
		return nil, fmt.Errorf("explain query: %w", err)
	}
	defer rows.Close()

	var planLines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("scan explain output: %w", err)
		}
		planLines = append(planLines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read explain output: %w", err)
	}

	return parseTextPlan(planLines), nil
}

// parseTextPlan translates a Postgres text plan into ExplainRows.
func parseTextPlan(lines []string) []db.ExplainRow {
	var plan []db.ExplainRow

	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " ->")

		switch {
		case strings.HasPrefix(trimmed, "Seq Scan on "):
			plan = append(plan, db.ExplainRow{
				SelectType: "SIMPLE",
				Table:      scanTarget(trimmed, "Seq Scan on "),
				AccessType: "ALL",
				Rows:       planRows(trimmed),
			})
		case strings.HasPrefix(trimmed, "Index Scan using "), strings.HasPrefix(trimmed, "Index Only Scan using "):
			rest := strings.TrimPrefix(trimmed, "Index Only Scan using ")
			rest = strings.TrimPrefix(rest, "Index Scan using ")
			fields := strings.Fields(rest)
			row := db.ExplainRow{SelectType: "SIMPLE", AccessType: "ref", Rows: planRows(trimmed)}
			if len(fields) > 0 {
				row.Key = fields[0]
			}
			if on := strings.Index(rest, " on "); on >= 0 {
				row.Table = scanTarget(rest[on+4:], "")
			}
			plan = append(plan, row)
		case strings.HasPrefix(trimmed, "Sort"):
			plan = append(plan, db.ExplainRow{SelectType: "SIMPLE", Extra: "Using filesort"})
		case strings.HasPrefix(trimmed, "Materialize"), strings.HasPrefix(trimmed, "HashAggregate"):
			plan = append(plan, db.ExplainRow{SelectType: "SIMPLE", Extra: "Using temporary"})
		}
	}
	return plan
}

func scanTarget(s, prefix string) string {
	s = strings.TrimPrefix(s, prefix)
	if i := strings.IndexAny(s, " ("); i >= 0 {
		s = s[:i]
	}
	return s
}

// planRows extracts the rows= estimate from a plan line.
func planRows(line string) int64 {
	i := strings.Index(line, "rows=")
	if i < 0 {
		return 0
	}
	var n int64
	fmt.Sscanf(line[i:], "rows=%d", &n)
	return n
}

// SupportsExplain reports EXPLAIN availability.
func (a *Adapter) SupportsExplain() bool { return true }

// Close releases the pool.
func (a *Adapter) Close() error {
	a.pool.Close()
	return nil
}

// Ensure Adapter implements db.Database at compile time.
var _ db.Database = (*Adapter)(nil)
