package models

import "time"

// IndexColumn is one column of an index, in index order.
type IndexColumn struct {
	Name        string `json:"name"`
	SeqInIndex  int    `json:"seq_in_index"` // 1-based position within the index
	Cardinality int64  `json:"cardinality"`  // estimated distinct values
}

// Index describes one index on one table, rebuilt from the schema catalog on
// every analysis pass. Usage counters come from the database's statistics
// tables and are zero when those are unavailable.
type Index struct {
	Table        string        `json:"table"`
	Name         string        `json:"name"`
	Columns      []IndexColumn `json:"columns"`
	Unique       bool          `json:"unique"`
	SizeBytes    int64         `json:"size_bytes"`
	RowsExamined int64         `json:"rows_examined"`
	RowsRead     int64         `json:"rows_read"`

	// Effectiveness is the derived 0-100 usefulness score.
	Effectiveness float64 `json:"effectiveness"`
}

// IsPrimary reports whether this is the table's PRIMARY index.
// PRIMARY is never a candidate for drop, duplicate, or unused classification.
func (i *Index) IsPrimary() bool {
	return i.Name == "PRIMARY"
}

// ColumnNames returns the index's column names in index order.
func (i *Index) ColumnNames() []string {
	names := make([]string, len(i.Columns))
	for n, c := range i.Columns {
		names[n] = c.Name
	}
	return names
}

// TableSnapshot captures one table's shape at analysis time. Snapshots are
// replaced wholesale each analysis and diffed against the prior one to detect
// schema drift.
type TableSnapshot struct {
	Name       string    `json:"name"`
	RowCount   int64     `json:"row_count"`
	DataBytes  int64     `json:"data_bytes"`
	IndexBytes int64     `json:"index_bytes"`
	Columns    []string  `json:"columns"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SchemaChangeType constants for drift detection.
const (
	SchemaChangeTableAdded    = "table_added"
	SchemaChangeTableRemoved  = "table_removed"
	SchemaChangeColumnAdded   = "column_added"
	SchemaChangeColumnRemoved = "column_removed"
	SchemaChangeRowDelta      = "row_count_delta"
)

// SchemaChange is one detected difference between consecutive snapshots.
type SchemaChange struct {
	Type    string `json:"type"`
	Table   string `json:"table"`
	Column  string `json:"column,omitempty"`
	OldRows int64  `json:"old_rows,omitempty"`
	NewRows int64  `json:"new_rows,omitempty"`
}

// DuplicatePair records two overlapping indexes on the same table and which
// one should be dropped (the one with lower usage).
type DuplicatePair struct {
	Table      string  `json:"table"`
	Keep       string  `json:"keep"`
	Drop       string  `json:"drop"`
	Similarity float64 `json:"similarity"`
}

// AnalysisReport is the full output of one analysis pass.
type AnalysisReport struct {
	Tables          []TableSnapshot  `json:"tables"`
	Indexes         []Index          `json:"indexes"`
	Duplicates      []DuplicatePair  `json:"duplicates"`
	Unused          []Index          `json:"unused"`
	Inefficient     []Index          `json:"inefficient"`
	SchemaChanges   []SchemaChange   `json:"schema_changes"`
	Recommendations []Recommendation `json:"recommendations"`
	UsageAvailable  bool             `json:"usage_available"` // false when statistics sources were missing
	GeneratedAt     time.Time        `json:"generated_at"`
}
