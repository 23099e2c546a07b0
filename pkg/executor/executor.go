// Package executor runs plans against the live database in fixed-size
// batches. Each action is validated against the schema catalog before its
// DDL runs and verified against it afterwards, with idempotent skips and
// full partial-failure accounting.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/voca9204/db3-sub000/pkg/apperrors"
	"github.com/voca9204/db3-sub000/pkg/audit"
	"github.com/voca9204/db3-sub000/pkg/db"
	"github.com/voca9204/db3-sub000/pkg/models"
)

// Config tunes batch execution.
type Config struct {
	// BatchSize is the number of actions per batch.
	BatchSize int
	// BatchPause is the settle time between batches.
	BatchPause time.Duration
}

// Executor applies plan actions. One action failing never aborts the plan;
// every outcome lands in the ExecutionResult.
type Executor struct {
	database db.Database
	cfg      Config
	auditor  *audit.Auditor
	logger   *zap.Logger
}

// New creates an Executor.
func New(database db.Database, cfg Config, logger *zap.Logger) *Executor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.BatchPause <= 0 {
		cfg.BatchPause = 2 * time.Second
	}
	return &Executor{database: database, cfg: cfg, auditor: audit.New(logger), logger: logger}
}

// Execute runs the plan's actions in order, BatchSize at a time, pausing
// between batches. Cancellation is honored between actions and between
// batches; the partial result accumulated so far is returned alongside the
// context error.
func (e *Executor) Execute(ctx context.Context, plan *models.Plan) (*models.ExecutionResult, error) {
	result := &models.ExecutionResult{
		PlanID:  plan.ID,
		Started: time.Now(),
	}

	snap, err := e.snapshotSchema(ctx)
	if err != nil {
		e.logger.Warn("schema snapshot failed, pre-validation disabled", zap.Error(err))
	}

	for start := 0; start < len(plan.Actions); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(plan.Actions) {
			end = len(plan.Actions)
		}
		batch := plan.Actions[start:end]
		e.logger.Info("executing batch",
			zap.Int("batch_start", start),
			zap.Int("batch_size", len(batch)),
			zap.Int("plan_actions", len(plan.Actions)))

		for i := range batch {
			if err := ctx.Err(); err != nil {
				result.Finished = time.Now()
				return result, fmt.Errorf("execution cancelled: %w", err)
			}
			ar := e.runAction(ctx, &batch[i], snap)
			result.Results = append(result.Results, ar)
			switch ar.Status {
			case models.ActionSucceeded:
				result.Succeeded++
				result.EstimatedImprovement += batch[i].EstimatedImpact
			case models.ActionSkipped:
				result.Skipped++
			default:
				result.Failed++
			}
		}

		if end < len(plan.Actions) {
			select {
			case <-ctx.Done():
				result.Finished = time.Now()
				return result, fmt.Errorf("execution cancelled: %w", ctx.Err())
			case <-time.After(e.cfg.BatchPause):
			}
		}
	}

	result.Finished = time.Now()
	if result.EstimatedImprovement > 100 {
		result.EstimatedImprovement = 100
	}
	return result, nil
}

// runAction executes one action as validate, execute, verify. Pre-validation
// checks the action's table, columns and target index against the schema
// snapshot; after the DDL succeeds the catalog is re-read to confirm the
// index actually landed (or disappeared). "Already exists" and "does not
// exist" outcomes are skips, not failures.
func (e *Executor) runAction(ctx context.Context, action *models.Action, snap *schemaSnapshot) models.ActionResult {
	ar := models.ActionResult{
		ActionID: action.ID,
		Type:     action.Type,
		Table:    action.Table,
		Index:    action.Index,
	}
	started := time.Now()
	defer func() { ar.Elapsed = time.Since(started) }()

	key := action.Table + "." + action.Index
	isDrop := action.Type == models.ActionDropIndex

	if snap != nil {
		if err := e.validate(ctx, action, snap); err != nil {
			ar.Error = err.Error()
			if errors.Is(err, apperrors.ErrIndexExists) || errors.Is(err, apperrors.ErrIndexNotFound) {
				ar.Status = models.ActionSkipped
				e.logger.Info("skipping action", zap.String("index", key), zap.String("reason", ar.Error))
				return ar
			}
			ar.Status = models.ActionFailed
			e.logger.Warn("action rejected by pre-validation",
				zap.String("type", action.Type),
				zap.String("index", key),
				zap.Error(err))
			return ar
		}
	}

	if _, err := e.database.Execute(ctx, action.SQL); err != nil {
		if !isDrop && db.IsIndexExists(err) {
			ar.Status = models.ActionSkipped
			ar.Error = "index already exists"
			return ar
		}
		if isDrop && db.IsIndexMissing(err) {
			ar.Status = models.ActionSkipped
			ar.Error = "index does not exist"
			return ar
		}
		ar.Status = models.ActionFailed
		ar.Error = err.Error()
		e.logger.Warn("action failed",
			zap.String("type", action.Type),
			zap.String("index", key),
			zap.Error(err))
		return ar
	}

	if snap != nil {
		if err := e.verify(ctx, action, isDrop); err != nil {
			ar.Status = models.ActionFailed
			ar.Error = err.Error()
			e.logger.Warn("post-condition check failed",
				zap.String("type", action.Type),
				zap.String("index", key),
				zap.Error(err))
			return ar
		}
		snap.indexes[key] = !isDrop
	}
	ar.Status = models.ActionSucceeded
	e.auditor.SchemaChange(audit.SchemaChangeDetails{
		Action: action.Type,
		Table:  action.Table,
		Index:  action.Index,
		SQL:    action.SQL,
		Status: models.ActionSucceeded,
	})
	e.logger.Info("action succeeded",
		zap.String("type", action.Type),
		zap.String("index", key),
		zap.Duration("elapsed", time.Since(started)))

	if action.Type == models.ActionCreateCompositeIndex {
		e.dropSuperseded(ctx, action, snap)
	}
	return ar
}

// validate checks an action against the schema snapshot before any DDL runs.
// Creates require the table and every referenced column to exist and the
// target index to be absent; drops require the index to exist and never
// touch PRIMARY.
func (e *Executor) validate(ctx context.Context, action *models.Action, snap *schemaSnapshot) error {
	key := action.Table + "." + action.Index

	if action.Type == models.ActionDropIndex {
		if action.Index == "PRIMARY" {
			return apperrors.ErrPrimaryProtected
		}
		if !snap.indexes[key] {
			return fmt.Errorf("%s: %w", key, apperrors.ErrIndexNotFound)
		}
		return nil
	}

	if !snap.tables[action.Table] {
		return fmt.Errorf("%s: %w", action.Table, apperrors.ErrTableNotFound)
	}
	cols, err := snap.tableColumns(ctx, e.database, action.Table)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrCatalogUnavailable, err)
	}
	for _, c := range action.Columns {
		if !cols[c] {
			return fmt.Errorf("%s.%s: %w", action.Table, c, apperrors.ErrColumnNotFound)
		}
	}
	if snap.indexes[key] {
		return fmt.Errorf("%s: %w", key, apperrors.ErrIndexExists)
	}
	return nil
}

// verify re-reads the schema catalog after a successful DDL statement and
// confirms its post-condition. A catalog outage during the check is logged,
// not treated as a failed action.
func (e *Executor) verify(ctx context.Context, action *models.Action, isDrop bool) error {
	key := action.Table + "." + action.Index
	stats, err := e.database.Indexes(ctx)
	if err != nil {
		e.logger.Warn("post-condition check unavailable",
			zap.String("index", key),
			zap.Error(fmt.Errorf("%w: %v", apperrors.ErrCatalogUnavailable, err)))
		return nil
	}

	present := false
	for _, s := range stats {
		if s.Table == action.Table && s.Name == action.Index {
			present = true
			break
		}
	}
	if isDrop && present {
		return fmt.Errorf("index %s still present after drop", key)
	}
	if !isDrop && !present {
		return fmt.Errorf("index %s not present after create", key)
	}
	return nil
}

// dropSuperseded removes the single-column indexes a composite replaced.
// These drops are best effort; a failure leaves a redundant index behind,
// which the next analysis pass will flag again.
func (e *Executor) dropSuperseded(ctx context.Context, action *models.Action, snap *schemaSnapshot) {
	for _, name := range action.SupersededIndexes {
		if name == "PRIMARY" {
			continue
		}
		sql := fmt.Sprintf("DROP INDEX %s ON %s", name, action.Table)
		if _, err := e.database.Execute(ctx, sql); err != nil {
			if db.IsIndexMissing(err) {
				continue
			}
			e.logger.Warn("failed to drop superseded index",
				zap.String("table", action.Table),
				zap.String("index", name),
				zap.Error(err))
			continue
		}
		if snap != nil {
			snap.indexes[action.Table+"."+name] = false
		}
		e.auditor.SchemaChange(audit.SchemaChangeDetails{
			Action: models.ActionDropIndex,
			Table:  action.Table,
			Index:  name,
			SQL:    sql,
			Status: models.ActionSucceeded,
		})
		e.logger.Info("dropped superseded index",
			zap.String("table", action.Table),
			zap.String("index", name))
	}
}

// schemaSnapshot caches catalog state for one plan execution: the table set,
// the live index set, and per-table column sets fetched lazily on first use.
type schemaSnapshot struct {
	tables  map[string]bool
	columns map[string]map[string]bool
	indexes map[string]bool // "table.index"
}

// tableColumns returns the column set of one table, querying the catalog on
// first access.
func (s *schemaSnapshot) tableColumns(ctx context.Context, catalog db.Catalog, table string) (map[string]bool, error) {
	if cols, ok := s.columns[table]; ok {
		return cols, nil
	}
	stats, err := catalog.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	cols := make(map[string]bool, len(stats))
	for _, c := range stats {
		cols[c.Name] = true
	}
	s.columns[table] = cols
	return cols, nil
}

// snapshotSchema reads the current table and index sets for pre-validation.
// A catalog read failure disables pre-validation rather than blocking
// execution; the per-action error classification still downgrades idempotent
// outcomes.
func (e *Executor) snapshotSchema(ctx context.Context) (*schemaSnapshot, error) {
	tables, err := e.database.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrCatalogUnavailable, err)
	}
	stats, err := e.database.Indexes(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrCatalogUnavailable, err)
	}

	snap := &schemaSnapshot{
		tables:  make(map[string]bool, len(tables)),
		columns: make(map[string]map[string]bool),
		indexes: make(map[string]bool, len(stats)),
	}
	for _, t := range tables {
		snap.tables[t.Name] = true
	}
	for _, s := range stats {
		snap.indexes[s.Table+"."+s.Name] = true
	}
	return snap, nil
}
