// Package analyzer introspects the schema and scores every index, feeding
// the duplicate/unused/inefficient classifications the planner acts on.
package analyzer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voca9204/db3-sub000/pkg/db"
	"github.com/voca9204/db3-sub000/pkg/models"
)

// Config tunes classification.
type Config struct {
	// RedundancyThreshold is the minimum ordered-prefix overlap ratio for a
	// duplicate pair.
	RedundancyThreshold float64
	// InefficiencyThreshold is the effectiveness floor.
	InefficiencyThreshold float64
	// DriftRowDeltaRatio is the relative row-count change that counts as
	// schema drift.
	DriftRowDeltaRatio float64
}

// Analyzer rebuilds the index/table catalog view on every pass.
type Analyzer struct {
	catalog db.Catalog
	cfg     Config
	logger  *zap.Logger

	mu   sync.Mutex
	prev map[string]models.TableSnapshot // keyed by table name, for drift detection
}

// New creates an Analyzer.
func New(catalog db.Catalog, cfg Config, logger *zap.Logger) *Analyzer {
	if cfg.RedundancyThreshold <= 0 {
		cfg.RedundancyThreshold = 0.8
	}
	if cfg.InefficiencyThreshold <= 0 {
		cfg.InefficiencyThreshold = 40
	}
	if cfg.DriftRowDeltaRatio <= 0 {
		cfg.DriftRowDeltaRatio = 0.1
	}
	return &Analyzer{catalog: catalog, cfg: cfg, logger: logger}
}

// Analyze produces a full report: snapshots, scored indexes,
// classifications, and drift against the previous pass. It fails only when
// the schema catalog itself is unreadable; missing per-table details degrade
// with a warning.
func (a *Analyzer) Analyze(ctx context.Context) (*models.AnalysisReport, error) {
	tables, err := a.catalog.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("read table catalog: %w", err)
	}

	snapshots := make([]models.TableSnapshot, 0, len(tables))
	for _, t := range tables {
		snap := models.TableSnapshot{
			Name:       t.Name,
			RowCount:   t.RowCount,
			DataBytes:  t.DataBytes,
			IndexBytes: t.IndexBytes,
			CreatedAt:  t.CreatedAt,
			UpdatedAt:  t.UpdatedAt,
		}
		cols, err := a.catalog.Columns(ctx, t.Name)
		if err != nil {
			a.logger.Warn("failed to list columns, snapshot will have none",
				zap.String("table", t.Name), zap.Error(err))
		}
		for _, c := range cols {
			snap.Columns = append(snap.Columns, c.Name)
		}
		snapshots = append(snapshots, snap)
	}

	stats, err := a.catalog.Indexes(ctx)
	if err != nil {
		return nil, fmt.Errorf("read index catalog: %w", err)
	}
	indexes := assemble(stats)

	usageAvailable := false
	for i := range indexes {
		indexes[i].Effectiveness = Effectiveness(&indexes[i])
		if indexes[i].RowsExamined > 0 || indexes[i].RowsRead > 0 {
			usageAvailable = true
		}
	}

	report := &models.AnalysisReport{
		Tables:         snapshots,
		Indexes:        indexes,
		Duplicates:     a.findDuplicates(indexes),
		Unused:         findUnused(indexes),
		Inefficient:    a.findInefficient(indexes),
		UsageAvailable: usageAvailable,
		GeneratedAt:    time.Now(),
	}

	a.mu.Lock()
	report.SchemaChanges = a.detectDriftLocked(snapshots)
	a.prev = snapshotMap(snapshots)
	a.mu.Unlock()

	return report, nil
}

// assemble groups per-column catalog rows into Index values, preserving
// column order.
func assemble(stats []db.IndexStat) []models.Index {
	byKey := make(map[string]*models.Index)
	var order []string

	for _, s := range stats {
		key := s.Table + "." + s.Name
		idx, ok := byKey[key]
		if !ok {
			idx = &models.Index{
				Table:  s.Table,
				Name:   s.Name,
				Unique: s.Unique,
			}
			byKey[key] = idx
			order = append(order, key)
		}
		idx.Columns = append(idx.Columns, models.IndexColumn{
			Name:        s.ColumnName,
			SeqInIndex:  s.SeqInIndex,
			Cardinality: s.Cardinality,
		})
		if s.SizeBytes > idx.SizeBytes {
			idx.SizeBytes = s.SizeBytes
		}
		if s.RowsExamined > idx.RowsExamined {
			idx.RowsExamined = s.RowsExamined
		}
		if s.RowsRead > idx.RowsRead {
			idx.RowsRead = s.RowsRead
		}
	}

	indexes := make([]models.Index, 0, len(order))
	for _, key := range order {
		idx := byKey[key]
		sort.Slice(idx.Columns, func(i, j int) bool {
			return idx.Columns[i].SeqInIndex < idx.Columns[j].SeqInIndex
		})
		indexes = append(indexes, *idx)
	}
	return indexes
}

// Effectiveness computes the canonical 0-100 score: base 50, a logarithmic
// usage bonus capped at 25, a cardinality bonus, a composite-shape
// adjustment (small bonus, penalty past 3 columns), and a uniqueness bonus.
func Effectiveness(idx *models.Index) float64 {
	score := 50.0

	if idx.RowsExamined > 0 {
		bonus := math.Log10(float64(idx.RowsExamined)) * 5
		if bonus > 25 {
			bonus = 25
		}
		score += bonus
	}

	if avg := avgCardinality(idx); avg > 0 {
		switch {
		case avg > 1000:
			score += 15
		case avg > 100:
			score += 10
		case avg > 10:
			score += 5
		}
	}

	if n := len(idx.Columns); n > 1 {
		score += 5
		if n > 3 {
			score -= float64(n-3) * 5
		}
	}

	if idx.Unique {
		score += 10
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

func avgCardinality(idx *models.Index) float64 {
	if len(idx.Columns) == 0 {
		return 0
	}
	var sum int64
	for _, c := range idx.Columns {
		sum += c.Cardinality
	}
	return float64(sum) / float64(len(idx.Columns))
}

// Similarity is the ordered-prefix overlap ratio of two indexes: matching
// leading column count divided by the longer index's column count. It is
// symmetric by construction.
func Similarity(a, b *models.Index) float64 {
	aCols, bCols := a.ColumnNames(), b.ColumnNames()
	longer := len(aCols)
	if len(bCols) > longer {
		longer = len(bCols)
	}
	if longer == 0 {
		return 0
	}

	matched := 0
	for i := 0; i < len(aCols) && i < len(bCols); i++ {
		if !strings.EqualFold(aCols[i], bCols[i]) {
			break
		}
		matched++
	}
	return float64(matched) / float64(longer)
}

// findDuplicates flags same-table index pairs whose prefix overlap meets the
// redundancy threshold. The lower-usage index of each pair is the drop
// candidate; PRIMARY never participates.
func (a *Analyzer) findDuplicates(indexes []models.Index) []models.DuplicatePair {
	byTable := make(map[string][]*models.Index)
	for i := range indexes {
		if indexes[i].IsPrimary() {
			continue
		}
		byTable[indexes[i].Table] = append(byTable[indexes[i].Table], &indexes[i])
	}

	var pairs []models.DuplicatePair
	for table, list := range byTable {
		for i := 0; i < len(list); i++ {
			for j := i + 1; j < len(list); j++ {
				sim := Similarity(list[i], list[j])
				if sim < a.cfg.RedundancyThreshold {
					continue
				}
				keep, drop := list[i], list[j]
				if drop.RowsExamined > keep.RowsExamined {
					keep, drop = drop, keep
				}
				pairs = append(pairs, models.DuplicatePair{
					Table:      table,
					Keep:       keep.Name,
					Drop:       drop.Name,
					Similarity: sim,
				})
			}
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Table != pairs[j].Table {
			return pairs[i].Table < pairs[j].Table
		}
		return pairs[i].Drop < pairs[j].Drop
	})
	return pairs
}

func findUnused(indexes []models.Index) []models.Index {
	var unused []models.Index
	for _, idx := range indexes {
		if idx.IsPrimary() {
			continue
		}
		if idx.RowsExamined == 0 {
			unused = append(unused, idx)
		}
	}
	return unused
}

func (a *Analyzer) findInefficient(indexes []models.Index) []models.Index {
	var inefficient []models.Index
	for _, idx := range indexes {
		if idx.Effectiveness < a.cfg.InefficiencyThreshold {
			inefficient = append(inefficient, idx)
		}
	}
	return inefficient
}

// detectDriftLocked diffs the new snapshots against the previous pass.
func (a *Analyzer) detectDriftLocked(snapshots []models.TableSnapshot) []models.SchemaChange {
	if a.prev == nil {
		return nil
	}

	var changes []models.SchemaChange
	current := snapshotMap(snapshots)

	for name, snap := range current {
		old, existed := a.prev[name]
		if !existed {
			changes = append(changes, models.SchemaChange{Type: models.SchemaChangeTableAdded, Table: name})
			continue
		}

		oldCols := stringSet(old.Columns)
		newCols := stringSet(snap.Columns)
		for col := range newCols {
			if !oldCols[col] {
				changes = append(changes, models.SchemaChange{
					Type: models.SchemaChangeColumnAdded, Table: name, Column: col,
				})
			}
		}
		for col := range oldCols {
			if !newCols[col] {
				changes = append(changes, models.SchemaChange{
					Type: models.SchemaChangeColumnRemoved, Table: name, Column: col,
				})
			}
		}

		if old.RowCount > 0 {
			delta := math.Abs(float64(snap.RowCount-old.RowCount)) / float64(old.RowCount)
			if delta > a.cfg.DriftRowDeltaRatio {
				changes = append(changes, models.SchemaChange{
					Type:    models.SchemaChangeRowDelta,
					Table:   name,
					OldRows: old.RowCount,
					NewRows: snap.RowCount,
				})
			}
		}
	}

	for name := range a.prev {
		if _, still := current[name]; !still {
			changes = append(changes, models.SchemaChange{Type: models.SchemaChangeTableRemoved, Table: name})
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Table != changes[j].Table {
			return changes[i].Table < changes[j].Table
		}
		return changes[i].Type < changes[j].Type
	})
	return changes
}

func snapshotMap(snapshots []models.TableSnapshot) map[string]models.TableSnapshot {
	m := make(map[string]models.TableSnapshot, len(snapshots))
	for _, s := range snapshots {
		m[s.Name] = s
	}
	return m
}

func stringSet(list []string) map[string]bool {
	set := make(map[string]bool, len(list))
	for _, s := range list {
		set[s] = true
	}
	return set
}
