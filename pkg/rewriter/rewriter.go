// Package rewriter detects known-inefficient query patterns and applies the
// small set of rewrites that are safe without schema knowledge.
package rewriter

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/voca9204/db3-sub000/pkg/sqlparse"
)

// Issue severity levels.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// Issue codes.
const (
	IssueSelectStar    = "select_star"
	IssueMissingLimit  = "missing_limit"
	IssueOrChain       = "or_chain"
	IssueFunctionWhere = "function_on_where_column"
)

// Issue is one detected inefficiency.
type Issue struct {
	Code           string `json:"code"`
	Severity       string `json:"severity"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation"`
}

// Result is the outcome of one rewrite pass.
type Result struct {
	Original  string   `json:"original"`
	Rewritten string   `json:"rewritten"`
	Applied   []string `json:"applied"`
	Issues    []Issue  `json:"issues"`
	Warnings  []string `json:"warnings"`
}

// Changed reports whether the rewrite altered the statement.
func (r *Result) Changed() bool { return r.Rewritten != r.Original }

// Config tunes the rewriter.
type Config struct {
	// DefaultLimit is injected into unbounded SELECTs. 0 disables injection.
	DefaultLimit int
	// AddIndexHints appends a hint comment naming candidate indexes for
	// WHERE/JOIN columns.
	AddIndexHints bool
}

// Rewriter applies rule-based rewrites to SELECT statements.
type Rewriter struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a Rewriter.
func New(cfg Config, logger *zap.Logger) *Rewriter {
	return &Rewriter{cfg: cfg, logger: logger}
}

// Analyze reports inefficiencies without touching the statement.
func (r *Rewriter) Analyze(sql string) []Issue {
	shape := sqlparse.Parse(sql)
	if shape.Statement != "SELECT" {
		return nil
	}

	var issues []Issue
	if shape.SelectStar {
		issues = append(issues, Issue{
			Code:           IssueSelectStar,
			Severity:       SeverityMedium,
			Description:    "unqualified SELECT * fetches every column",
			Recommendation: "select only the columns the caller uses",
		})
	}
	if !shape.HasLimit {
		issues = append(issues, Issue{
			Code:           IssueMissingLimit,
			Severity:       SeverityMedium,
			Description:    "no row limit; result size is unbounded",
			Recommendation: "add a LIMIT clause",
		})
	}
	if shape.OrCount >= 2 {
		issues = append(issues, Issue{
			Code:           IssueOrChain,
			Severity:       SeverityLow,
			Description:    fmt.Sprintf("WHERE clause has %d OR branches", shape.OrCount+1),
			Recommendation: "consolidate same-column OR branches into IN (...)",
		})
	}
	for _, fn := range shape.WhereFunctions {
		issues = append(issues, Issue{
			Code:           IssueFunctionWhere,
			Severity:       SeverityHigh,
			Description:    fmt.Sprintf("%s() wraps a WHERE column, which defeats index usage", fn),
			Recommendation: "move the function to the comparison value side or use a generated column",
		})
	}
	return issues
}

// Rewrite applies safe rewrites and validates the result. OR chains are
// reported by Analyze but the OR-to-IN consolidation itself is intentionally
// not applied; merging branches requires knowing the branches hit the same
// column with compatible types, which this layer cannot verify.
func (r *Rewriter) Rewrite(sql string) *Result {
	result := &Result{Original: sql, Rewritten: sql, Issues: r.Analyze(sql)}

	shape := sqlparse.Parse(sql)
	if shape.Statement != "SELECT" {
		return result
	}

	if rewritten, ok := rewriteCountStar(result.Rewritten); ok {
		result.Rewritten = rewritten
		result.Applied = append(result.Applied, "count_star_to_count_1")
	}

	if r.cfg.DefaultLimit > 0 && !shape.HasLimit {
		result.Rewritten = injectLimit(result.Rewritten, r.cfg.DefaultLimit)
		result.Applied = append(result.Applied, fmt.Sprintf("limit_%d_injected", r.cfg.DefaultLimit))
	}

	if r.cfg.AddIndexHints {
		if hint := indexHintComment(shape); hint != "" {
			result.Rewritten = hint + result.Rewritten
			result.Applied = append(result.Applied, "index_hints")
		}
	}

	r.validate(result)
	return result
}

// validate checks that a rewrite preserved the statement's structure.
func (r *Rewriter) validate(result *Result) {
	if !result.Changed() {
		return
	}

	for _, kw := range []string{"SELECT", "FROM"} {
		before := sqlparse.CountKeyword(result.Original, kw)
		after := sqlparse.CountKeyword(result.Rewritten, kw)
		if before != after {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s count changed from %d to %d; rewrite discarded", kw, before, after))
			result.Rewritten = result.Original
			result.Applied = nil
			if r.logger != nil {
				r.logger.Warn("rewrite discarded after structure check failed",
					zap.String("keyword", kw))
			}
			return
		}
	}

	if before, after := sqlparse.CountParams(result.Original), sqlparse.CountParams(result.Rewritten); before != after {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("parameter count changed from %d to %d", before, after))
	}
}

// rewriteCountStar normalizes COUNT(*) to COUNT(1). Matching is
// case-insensitive and whitespace-tolerant; string literals, quoted
// identifiers and comments are copied through untouched.
func rewriteCountStar(sql string) (string, bool) {
	var b strings.Builder
	changed := false
	n := len(sql)
	i := 0

	for i < n {
		if j := literalEnd(sql, i); j > i {
			b.WriteString(sql[i:j])
			i = j
			continue
		}

		c := sql[i]
		if (c == 'c' || c == 'C') && i+5 <= n && strings.EqualFold(sql[i:i+5], "count") &&
			(i == 0 || !isWordChar(sql[i-1])) {
			k := skipSpaces(sql, i+5)
			if k < n && sql[k] == '(' {
				k = skipSpaces(sql, k+1)
				if k < n && sql[k] == '*' {
					k = skipSpaces(sql, k+1)
					if k < n && sql[k] == ')' {
						b.WriteString(sql[i : i+5]) // preserve original casing of COUNT
						b.WriteString("(1)")
						changed = true
						i = k + 1
						continue
					}
				}
			}
		}

		b.WriteByte(c)
		i++
	}

	return b.String(), changed
}

// literalEnd returns the index just past the string literal, quoted
// identifier or comment starting at i, or i when none starts there.
func literalEnd(sql string, i int) int {
	n := len(sql)
	switch sql[i] {
	case '\'':
		j := i + 1
		for j < n {
			if sql[j] == '\'' {
				if j+1 < n && sql[j+1] == '\'' { // escaped quote
					j += 2
					continue
				}
				return j + 1
			}
			j++
		}
		return n
	case '`', '"':
		quote := sql[i]
		j := i + 1
		for j < n && sql[j] != quote {
			j++
		}
		if j < n {
			j++
		}
		return j
	case '-':
		if i+1 < n && sql[i+1] == '-' {
			j := i + 2
			for j < n && sql[j] != '\n' {
				j++
			}
			return j
		}
	case '#':
		j := i + 1
		for j < n && sql[j] != '\n' {
			j++
		}
		return j
	case '/':
		if i+1 < n && sql[i+1] == '*' {
			j := i + 2
			for j+1 < n && !(sql[j] == '*' && sql[j+1] == '/') {
				j++
			}
			if j+1 < n {
				return j + 2
			}
			return n
		}
	}
	return i
}

func isWordChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func skipSpaces(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	return i
}

// injectLimit appends a LIMIT clause, keeping a trailing semicolon in place.
func injectLimit(sql string, limit int) string {
	trimmed := strings.TrimRight(sql, " \t\n\r")
	if strings.HasSuffix(trimmed, ";") {
		return fmt.Sprintf("%s LIMIT %d;", strings.TrimRight(trimmed[:len(trimmed)-1], " \t\n\r"), limit)
	}
	return fmt.Sprintf("%s LIMIT %d", trimmed, limit)
}

// indexHintComment builds a leading comment naming one candidate index per
// WHERE/JOIN column, e.g. /* candidate indexes: idx_orders_customer_id */.
// A comment keeps the annotation dialect-neutral; nothing forces the
// database to use (or even have) the named indexes.
func indexHintComment(shape *sqlparse.Shape) string {
	seen := make(map[string]bool)
	var names []string

	add := func(table, column string) {
		if table == "" || column == "" {
			return
		}
		name := fmt.Sprintf("idx_%s_%s", strings.ToLower(table), strings.ToLower(column))
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	for _, c := range shape.Where {
		add(c.Table, c.Column)
	}
	for _, j := range shape.Joins {
		add(j.LeftTable, j.LeftColumn)
		add(j.RightTable, j.RightColumn)
	}

	if len(names) == 0 {
		return ""
	}
	return fmt.Sprintf("/* candidate indexes: %s */ ", strings.Join(names, ", "))
}
