package models

import "time"

// PatternKind constants for mined query access shapes.
const (
	PatternWhere          = "where"
	PatternJoin           = "join"
	PatternOrderBy        = "order_by"
	PatternGroupBy        = "group_by"
	PatternCompositeWhere = "composite_where"
)

// Priority levels shared by patterns, recommendations and actions.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// QueryPattern is a normalized access shape extracted from executed SQL.
// Created on first observation; frequency, timestamps and the rolling average
// execution time are updated on every later observation.
type QueryPattern struct {
	Kind     string   `json:"kind"`
	Table    string   `json:"table"`
	Columns  []string `json:"columns"`
	Operator string   `json:"operator,omitempty"` // WHERE patterns only
	Priority string   `json:"priority"`

	Frequency     int       `json:"frequency"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
	AvgExecMillis float64   `json:"avg_exec_millis"`

	// Plan signals observed for this pattern, used in confidence scoring.
	SawFullScan bool `json:"saw_full_scan"`
	SawFilesort bool `json:"saw_filesort"`
}

// RecommendationType constants.
const (
	RecommendationCreate    = "create"
	RecommendationDrop      = "drop"
	RecommendationComposite = "composite"
)

// Recommendation is a proposed index change derived from mined patterns or
// from index analysis. The list is regenerated (superseded, not merged) every
// cycle.
type Recommendation struct {
	Type            string   `json:"type"`
	Table           string   `json:"table"`
	Columns         []string `json:"columns"`
	Confidence      int      `json:"confidence"` // 0-100
	Priority        string   `json:"priority"`
	EstimatedImpact float64  `json:"estimated_impact"`
	SQL             string   `json:"sql"`
	Reason          string   `json:"reason"`
}
