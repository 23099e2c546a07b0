// Package planner turns an analysis report and the current recommendation
// set into an ordered, risk-assessed batch of executable actions.
package planner

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voca9204/db3-sub000/pkg/models"
)

// Config tunes plan construction.
type Config struct {
	// CompositeMinUsage is the minimum rows-examined a single-column index
	// needs before it is considered for consolidation into a composite.
	CompositeMinUsage int64
	// LargeTables lists tables where DDL is treated as high risk.
	LargeTables []string
	// BatchSize is the executor's batch width; plans wider than one batch are
	// flagged in the risk assessment.
	BatchSize int
}

// Planner builds plans. It is stateless; every call starts from the report.
type Planner struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a Planner.
func New(cfg Config, logger *zap.Logger) *Planner {
	if cfg.CompositeMinUsage <= 0 {
		cfg.CompositeMinUsage = 100
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	return &Planner{cfg: cfg, logger: logger}
}

// BuildPlan assembles create, drop and composite actions from the report and
// the pattern recommendations. It never proposes dropping PRIMARY, never
// proposes drops at all when usage statistics were unavailable, and never
// proposes creating an index that already exists.
func (p *Planner) BuildPlan(report *models.AnalysisReport, recs []models.Recommendation) *models.Plan {
	plan := &models.Plan{
		ID:        uuid.New(),
		CreatedAt: time.Now(),
	}

	existing := existingIndexNames(report.Indexes)
	seen := make(map[string]bool) // table.index already planned

	for _, rec := range recs {
		if rec.Type == models.RecommendationDrop {
			continue // drops come from index analysis, not pattern mining
		}
		name := indexNameFromSQL(rec.SQL)
		if name == "" {
			name = compositeName(rec.Table, rec.Columns)
		}
		key := rec.Table + "." + name
		if existing[key] || seen[key] {
			continue
		}
		seen[key] = true

		plan.Actions = append(plan.Actions, models.Action{
			ID:              uuid.New(),
			Type:            models.ActionCreateIndex,
			Table:           rec.Table,
			Index:           name,
			Columns:         rec.Columns,
			SQL:             rec.SQL,
			Priority:        rec.Priority,
			EstimatedImpact: rec.EstimatedImpact,
			Reason:          rec.Reason,
		})
	}

	plan.Actions = append(plan.Actions, p.compositeActions(report, existing, seen)...)

	if report.UsageAvailable {
		plan.Actions = append(plan.Actions, p.dropActions(report, seen)...)
	} else if len(report.Duplicates) > 0 || len(report.Unused) > 0 {
		p.logger.Info("usage statistics unavailable, suppressing drop actions",
			zap.Int("duplicates", len(report.Duplicates)),
			zap.Int("unused", len(report.Unused)))
	}

	sortActions(plan.Actions)
	plan.EstimatedImpact = totalImpact(plan.Actions)
	plan.Priority = planPriority(plan.Actions, plan.EstimatedImpact)
	plan.Risk = p.assessRisk(plan.Actions)
	return plan
}

// compositeActions consolidates heavily used single-column indexes on the
// same table into one composite. The top three by usage are merged, in usage
// order, and the originals are marked superseded.
func (p *Planner) compositeActions(report *models.AnalysisReport, existing, seen map[string]bool) []models.Action {
	byTable := make(map[string][]models.Index)
	for _, idx := range report.Indexes {
		if idx.IsPrimary() || idx.Unique || len(idx.Columns) != 1 {
			continue
		}
		if idx.RowsExamined < p.cfg.CompositeMinUsage {
			continue
		}
		byTable[idx.Table] = append(byTable[idx.Table], idx)
	}

	var actions []models.Action
	for table, candidates := range byTable {
		if len(candidates) < 2 {
			continue
		}
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].RowsExamined > candidates[j].RowsExamined
		})
		if len(candidates) > 3 {
			candidates = candidates[:3]
		}

		var cols, superseded []string
		for _, idx := range candidates {
			cols = append(cols, idx.Columns[0].Name)
			superseded = append(superseded, idx.Name)
		}

		name := compositeName(table, cols)
		key := table + "." + name
		if existing[key] || seen[key] {
			continue
		}
		seen[key] = true

		actions = append(actions, models.Action{
			ID:                uuid.New(),
			Type:              models.ActionCreateCompositeIndex,
			Table:             table,
			Index:             name,
			Columns:           cols,
			SQL:               fmt.Sprintf("CREATE INDEX %s ON %s (%s)", name, table, strings.Join(cols, ", ")),
			Priority:          models.PriorityMedium,
			EstimatedImpact:   40,
			Reason:            fmt.Sprintf("consolidates %d heavily used single-column indexes", len(superseded)),
			SupersededIndexes: superseded,
		})
	}
	return actions
}

// dropActions proposes dropping the losing half of each duplicate pair and
// every unused index.
func (p *Planner) dropActions(report *models.AnalysisReport, seen map[string]bool) []models.Action {
	var actions []models.Action

	add := func(table, index, reason string, impact float64) {
		if index == "PRIMARY" {
			return
		}
		key := table + "." + index
		if seen["drop:"+key] {
			return
		}
		seen["drop:"+key] = true
		actions = append(actions, models.Action{
			ID:              uuid.New(),
			Type:            models.ActionDropIndex,
			Table:           table,
			Index:           index,
			SQL:             fmt.Sprintf("DROP INDEX %s ON %s", index, table),
			Priority:        models.PriorityLow,
			EstimatedImpact: impact,
			Reason:          reason,
		})
	}

	for _, pair := range report.Duplicates {
		add(pair.Table, pair.Drop,
			fmt.Sprintf("duplicate of %s (similarity %.2f)", pair.Keep, pair.Similarity), 15)
	}
	for _, idx := range report.Unused {
		add(idx.Table, idx.Name, "no recorded usage since last statistics reset", 10)
	}
	return actions
}

func (p *Planner) assessRisk(actions []models.Action) models.RiskAssessment {
	var risks []models.Risk
	creates, drops := 0, 0
	for _, a := range actions {
		switch a.Type {
		case models.ActionDropIndex:
			drops++
		default:
			creates++
		}
		if p.isLargeTable(a.Table) {
			risks = append(risks, models.Risk{
				Level:       models.RiskHigh,
				Description: fmt.Sprintf("DDL on large table %s may lock writes", a.Table),
				Mitigation:  "run during a low-traffic window",
			})
		}
	}

	if creates > 5 {
		risks = append(risks, models.Risk{
			Level:       models.RiskMedium,
			Description: fmt.Sprintf("%d new indexes increase write amplification", creates),
			Mitigation:  "monitor insert and update latency after execution",
		})
	}
	if drops > 3 {
		risks = append(risks, models.Risk{
			Level:       models.RiskLow,
			Description: fmt.Sprintf("%d index drops in one plan", drops),
			Mitigation:  "keep the DDL to recreate dropped indexes",
		})
	}
	if len(actions) > p.cfg.BatchSize {
		risks = append(risks, models.Risk{
			Level:       models.RiskHigh,
			Description: fmt.Sprintf("plan spans %d actions across multiple batches", len(actions)),
			Mitigation:  "review the plan before execution and split if needed",
		})
	}

	return models.RiskAssessment{Level: overallRisk(risks), Risks: risks}
}

func (p *Planner) isLargeTable(table string) bool {
	for _, t := range p.cfg.LargeTables {
		if strings.EqualFold(t, table) {
			return true
		}
	}
	return false
}

func overallRisk(risks []models.Risk) string {
	level := models.RiskLow
	for _, r := range risks {
		switch r.Level {
		case models.RiskHigh:
			return models.RiskHigh
		case models.RiskMedium:
			level = models.RiskMedium
		}
	}
	return level
}

func planPriority(actions []models.Action, impact float64) string {
	for _, a := range actions {
		if a.Priority == models.PriorityHigh {
			return models.PriorityHigh
		}
	}
	if len(actions) > 3 || impact > 50 {
		return models.PriorityMedium
	}
	return models.PriorityLow
}

func totalImpact(actions []models.Action) float64 {
	var sum float64
	for _, a := range actions {
		sum += a.EstimatedImpact
	}
	if sum > 100 {
		sum = 100
	}
	return sum
}

// sortActions orders by priority, then impact, so batching executes the most
// valuable actions first.
func sortActions(actions []models.Action) {
	rank := map[string]int{
		models.PriorityHigh:   0,
		models.PriorityMedium: 1,
		models.PriorityLow:    2,
	}
	sort.SliceStable(actions, func(i, j int) bool {
		if rank[actions[i].Priority] != rank[actions[j].Priority] {
			return rank[actions[i].Priority] < rank[actions[j].Priority]
		}
		return actions[i].EstimatedImpact > actions[j].EstimatedImpact
	})
}

func existingIndexNames(indexes []models.Index) map[string]bool {
	m := make(map[string]bool, len(indexes))
	for _, idx := range indexes {
		m[idx.Table+"."+idx.Name] = true
	}
	return m
}

func compositeName(table string, cols []string) string {
	return "idx_" + table + "_" + strings.Join(cols, "_")
}

// indexNameFromSQL pulls the index name out of a CREATE INDEX statement.
func indexNameFromSQL(sql string) string {
	fields := strings.Fields(sql)
	for i, f := range fields {
		if strings.EqualFold(f, "INDEX") && i+1 < len(fields) {
			return strings.Trim(fields[i+1], "`\"")
		}
	}
	return ""
}
