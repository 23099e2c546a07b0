// Package mysql implements the db.Database contract over a MySQL connection.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/voca9204/db3-sub000/pkg/db"
	"github.com/voca9204/db3-sub000/pkg/retry"
)

// innodbPageBytes is the default InnoDB page size used to convert the
// per-index page counts in mysql.innodb_index_stats into bytes.
const innodbPageBytes = 16384

// Config holds MySQL connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// Adapter is a MySQL-backed db.Database.
type Adapter struct {
	pool   *sql.DB
	schema string
	logger *zap.Logger
}

// New opens a MySQL connection and verifies it is reachable.
func New(ctx context.Context, cfg *Config, logger *zap.Logger) (*Adapter, error) {
	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.DBName = cfg.Database
	mc.ParseTime = true

	pool, err := sql.Open("mysql", mc.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	pingCfg := retry.DefaultConfig()
	pingCfg.RetryIf = db.IsRetryable
	if err := retry.Do(ctx, pingCfg, func() error { return pool.PingContext(ctx) }); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	return &Adapter{pool: pool, schema: cfg.Database, logger: logger}, nil
}

// Execute runs a statement with positional parameters.
func (a *Adapter) Execute(ctx context.Context, sqlText string, params ...any) (*db.QueryResult, error) {
	trimmed := strings.TrimSpace(strings.ToUpper(sqlText))
	if strings.HasPrefix(trimmed, "SELECT") || strings.HasPrefix(trimmed, "SHOW") ||
		strings.HasPrefix(trimmed, "EXPLAIN") {
		return a.query(ctx, sqlText, params...)
	}

	res, err := a.pool.ExecContext(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("execute statement: %w", err)
	}
	affected, _ := res.RowsAffected()
	return &db.QueryResult{RowsAffected: affected}, nil
}

func (a *Adapter) query(ctx context.Context, sqlText string, params ...any) (*db.QueryResult, error) {
	rows, err := a.pool.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	result := &db.QueryResult{Columns: cols, Rows: make([]map[string]any, 0)}
	values := make([]any, len(cols))
	scanTargets := make([]any, len(cols))
	for i := range values {
		scanTargets[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rowMap := make(map[string]any, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			rowMap[col] = v
		}
		result.Rows = append(result.Rows, rowMap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

// Tables lists the base tables of the connected schema with row and byte
// counts.
func (a *Adapter) Tables(ctx context.Context) ([]db.TableStat, error) {
	const q = `
		SELECT table_name,
		       IFNULL(table_rows, 0),
		       IFNULL(data_length, 0),
		       IFNULL(index_length, 0),
		       create_time,
		       update_time
		FROM information_schema.tables
		WHERE table_schema = ? AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	rows, err := a.pool.QueryContext(ctx, q, a.schema)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var stats []db.TableStat
	for rows.Next() {
		var t db.TableStat
		var created, updated sql.NullTime
		if err := rows.Scan(&t.Name, &t.RowCount, &t.DataBytes, &t.IndexBytes, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		t.CreatedAt = created.Time
		t.UpdatedAt = updated.Time
		stats = append(stats, t)
	}
	return stats, rows.Err()
}

// Columns lists the columns of one table in ordinal position order.
func (a *Adapter) Columns(ctx context.Context, table string) ([]db.ColumnStat, error) {
	const q = `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`

	rows, err := a.pool.QueryContext(ctx, q, a.schema, table)
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

// Indexes lists all index columns with order, cardinality and uniqueness from
// information_schema.statistics, merged with usage counters from
// performance_schema and size estimates from mysql.innodb_index_stats. Both
// optional sources degrade to zero values when unavailable.
func (a *Adapter) Indexes(ctx context.Context) ([]db.IndexStat, error) {
	const q = `
		SELECT table_name, index_name, column_name, seq_in_index,
		       IFNULL(cardinality, 0), non_unique
		FROM information_schema.statistics
		WHERE table_schema = ?
		ORDER BY table_name, index_name, seq_in_index`

	rows, err := a.pool.QueryContext(ctx, q, a.schema)
	if err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}
	defer rows.Close()

	var stats []db.IndexStat
	for rows.Next() {
		var s db.IndexStat
		var nonUnique int
		if err := rows.Scan(&s.Table, &s.Name, &s.ColumnName, &s.SeqInIndex, &s.Cardinality, &nonUnique); err != nil {
			return nil, fmt.Errorf("scan index row: %w", err)
		}
		s.Unique = nonUnique == 0
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	usage := a.indexUsage(ctx)
	sizes := a.indexSizes(ctx)
	for i := range stats {
		key := stats[i].Table + "." + stats[i].Name
		if u, ok := usage[key]; ok {
			stats[i].RowsExamined = u.examined
			stats[i].RowsRead = u.read
		}
		stats[i].SizeBytes = sizes[key]
	}
	return stats, nil
}

type usageCounters struct {
	examined int64
	read     int64
}

// indexUsage reads per-index I/O counters from performance_schema. When the
// instrument is disabled or the table is missing, analysis proceeds with
// usage assumed zero.
func (a *Adapter) indexUsage(ctx context.Context) map[string]usageCounters {
	const q = `
		SELECT object_name, index_name, count_read, count_fetch
		FROM performance_schema.table_io_waits_summary_by_index_usage
		WHERE object_schema = ? AND index_name IS NOT NULL`

	usage := make(map[string]usageCounters)
	rows, err := a.pool.QueryContext(ctx, q, a.schema)
	if err != nil {
		a.logger.Warn("index usage statistics unavailable, assuming zero usage",
			zap.Error(err))
		return usage
	}
	defer rows.Close()

	for rows.Next() {
		var table, index string
		var read, fetch int64
		if err := rows.Scan(&table, &index, &read, &fetch); err != nil {
			a.logger.Warn("failed to scan index usage row", zap.Error(err))
			continue
		}
		usage[table+"."+index] = usageCounters{examined: read, read: fetch}
	}
	return usage
}

// indexSizes estimates per-index byte sizes from mysql.innodb_index_stats.
// Requires SELECT on the mysql schema; degrades to zero sizes without it.
func (a *Adapter) indexSizes(ctx context.Context) map[string]int64 {
	const q = `
		SELECT table_name, index_name, stat_value
		FROM mysql.innodb_index_stats
		WHERE database_name = ? AND stat_name = 'size'`

	sizes := make(map[string]int64)
	rows, err := a.pool.QueryContext(ctx, q, a.schema)
	if err != nil {
		a.logger.Debug("index size statistics unavailable", zap.Error(err))
		return sizes
	}
	defer rows.Close()

	for rows.Next() {
		var table, index string
		var pages int64
		if err := rows.Scan(&table, &index, &pages); err != nil {
			continue
		}
		sizes[table+"."+index] = pages * innodbPageBytes
	}
	return sizes
}

// Explain runs a classic EXPLAIN and maps its rows.
func (a *Adapter) Explain(ctx context.Context, sqlText string) ([]db.ExplainRow, error) {
	result, err := a.query(ctx, "EXPLAIN "+sqlText)
	if err != nil {
		return nil, fmt.Errorf("explain query: %w", err)
	}

	plan := make([]db.ExplainRow, 0, len(result.Rows))
	for _, row := range result.Rows {
		r := db.ExplainRow{
			SelectType: asString(row["select_type"]),
			Table:      asString(row["table"]),
			AccessType: asString(row["type"]),
			Key:        asString(row["key"]),
			Extra:      asString(row["Extra"]),
			Rows:       asInt64(row["rows"]),
			Filtered:   asFloat64(row["filtered"]),
		}
		if pk := asString(row["possible_keys"]); pk != "" {
			r.PossibleKeys = strings.Split(pk, ",")
		}
		plan = append(plan, r)
	}
	return plan, nil
}

// SupportsExplain reports EXPLAIN availability.
func (a *Adapter) SupportsExplain() bool { return true }

// Close releases the connection pool.
func (a *Adapter) Close() error { return a.pool.Close() }

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		var out int64
		fmt.Sscanf(n, "%d", &out)
		return out
	case []byte:
		var out int64
		fmt.Sscanf(string(n), "%d", &out)
		return out
	default:
		return 0
	}
}

func asFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		var out float64
		fmt.Sscanf(n, "%f", &out)
		return out
	case []byte:
		var out float64
		fmt.Sscanf(string(n), "%f", &out)
		return out
	default:
		return 0
	}
}

// Ensure Adapter implements db.Database at compile time.
var _ db.Database = (*Adapter)(nil)
