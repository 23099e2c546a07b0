package sqlparse

import "strings"

// TableRef is a table referenced by a statement, with its alias if any.
type TableRef struct {
	Name  string
	Alias string
}

// Condition is one indexable WHERE predicate.
type Condition struct {
	Table    string
	Column   string
	Operator string
}

// JoinCondition is one equality join predicate.
type JoinCondition struct {
	LeftTable   string
	LeftColumn  string
	RightTable  string
	RightColumn string
}

// ColumnRef is a column in an ORDER BY or GROUP BY list.
type ColumnRef struct {
	Table  string
	Column string
	Desc   bool
}

// Shape is the indexable access shape of one statement, plus the textual
// signals the rewrite layer cares about.
type Shape struct {
	Statement string // SELECT, INSERT, UPDATE, DELETE, or the leading keyword

	Tables  []TableRef
	Where   []Condition
	Joins   []JoinCondition
	OrderBy []ColumnRef
	GroupBy []ColumnRef

	SelectStar     bool
	HasLimit       bool
	OrCount        int      // OR branches inside the WHERE clause
	WhereFunctions []string // function names wrapping a WHERE column
	ParamCount     int
	Subqueries     int
	Functions      int
}

// clause keywords that terminate table or column lists at depth zero.
var clauseStops = map[string]bool{
	"WHERE": true, "GROUP": true, "ORDER": true, "LIMIT": true,
	"HAVING": true, "UNION": true, "INTERSECT": true, "EXCEPT": true,
	"JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true, "FULL": true,
	"CROSS": true, "OUTER": true, "ON": true, "SET": true, "VALUES": true,
	"FETCH": true, "OFFSET": true, "FOR": true, "INTO": true, "USING": true,
}

// words that can never be a table alias.
var notAlias = map[string]bool{
	"AS": true, "AND": true, "OR": true, "NOT": true, "IN": true,
	"IS": true, "LIKE": true, "BETWEEN": true, "EXISTS": true, "BY": true,
	"SELECT": true,
}

// Parse extracts the access shape of a statement. It never fails: statements
// it cannot make sense of produce an empty shape with only the leading
// keyword set.
func Parse(sql string) *Shape {
	tokens := Tokenize(sql)
	shape := &Shape{}
	if len(tokens) == 0 {
		return shape
	}
	if tokens[0].Kind == TokenIdent {
		shape.Statement = tokens[0].Upper
	}

	p := &parser{tokens: tokens, shape: shape}
	p.run()
	shape.resolveQualifiers(p.pending)
	return shape
}

// pendingCondition holds a condition before alias resolution.
type pendingCondition struct {
	qualifier string
	column    string
	operator  string
}

type parser struct {
	tokens []Token
	shape  *Shape

	pending struct {
		where   []pendingCondition
		joins   [][4]string // leftQual, leftCol, rightQual, rightCol
		orderBy []pendingColumnRef
		groupBy []pendingColumnRef
	}
}

type pendingColumnRef struct {
	qualifier string
	column    string
	desc      bool
}

func (p *parser) run() {
	depth := 0
	selectSeen := 0
	sawFrom := false
	sawInto := false

	for i := 0; i < len(p.tokens); i++ {
		t := p.tokens[i]

		switch {
		case t.Kind == TokenPunct && t.Text == "(":
			depth++
		case t.Kind == TokenPunct && t.Text == ")":
			if depth > 0 {
				depth--
			}
		case t.Kind == TokenParam:
			p.shape.ParamCount++
		case t.Kind == TokenIdent:
			switch {
			case t.IsKeyword("SELECT"):
				selectSeen++
				if selectSeen == 1 && depth == 0 {
					p.scanSelectList(i + 1)
				}
			case t.IsKeyword("FROM") && depth == 0 && !sawFrom:
				sawFrom = true
				i = p.parseTableList(i + 1)
			case t.IsKeyword("UPDATE") && depth == 0 && i == 0:
				i = p.parseTableList(i + 1)
			case t.IsKeyword("INTO") && depth == 0 && !sawInto &&
				(p.shape.Statement == "INSERT" || p.shape.Statement == "REPLACE"):
				sawInto = true
				i = p.parseTableList(i + 1)
			case t.IsKeyword("JOIN") && depth == 0:
				i = p.parseJoin(i + 1)
			case t.IsKeyword("WHERE") && depth == 0:
				i = p.parseWhere(i + 1)
			case t.IsKeyword("GROUP") && depth == 0:
				i = p.parseColumnList(i+1, &p.pending.groupBy)
			case t.IsKeyword("ORDER") && depth == 0:
				i = p.parseColumnList(i+1, &p.pending.orderBy)
			case t.IsKeyword("LIMIT") && depth == 0, t.IsKeyword("FETCH") && depth == 0:
				p.shape.HasLimit = true
			default:
				// function call: identifier immediately followed by "("
				if !t.Quoted && i+1 < len(p.tokens) && p.tokens[i+1].Text == "(" &&
					!clauseStops[t.Upper] && !notAlias[t.Upper] && t.Upper != "SELECT" {
					p.shape.Functions++
				}
			}
		}
	}

	if selectSeen > 1 {
		p.shape.Subqueries = selectSeen - 1
	}
}

// scanSelectList looks for an unqualified * between SELECT and FROM.
func (p *parser) scanSelectList(start int) {
	depth := 0
	for i := start; i < len(p.tokens); i++ {
		t := p.tokens[i]
		switch {
		case t.Text == "(":
			depth++
		case t.Text == ")":
			depth--
		case depth == 0 && t.IsKeyword("FROM"):
			return
		case depth == 0 && t.Kind == TokenOperator && t.Text == "*":
			// a qualified t.* follows a dot; COUNT(*) sits at depth > 0
			if i == start || p.tokens[i-1].Text != "." {
				p.shape.SelectStar = true
			}
		}
	}
}

// parseTableList reads comma-separated table references with optional
// aliases. Returns the index of the last consumed token.
func (p *parser) parseTableList(start int) int {
	i := start
	for i < len(p.tokens) {
		name, next, ok := p.identChain(i)
		if !ok {
			return i - 1
		}
		i = next

		ref := TableRef{Name: name}
		if i < len(p.tokens) && p.tokens[i].IsKeyword("AS") {
			i++
		}
		if i < len(p.tokens) && p.tokens[i].Kind == TokenIdent &&
			!clauseStops[p.tokens[i].Upper] && !notAlias[p.tokens[i].Upper] {
			ref.Alias = p.tokens[i].Text
			i++
		}
		p.shape.Tables = append(p.shape.Tables, ref)

		if i < len(p.tokens) && p.tokens[i].Text == "," {
			i++
			continue
		}
		return i - 1
	}
	return i - 1
}

// parseJoin reads one joined table and its ON equality conditions.
func (p *parser) parseJoin(start int) int {
	name, i, ok := p.identChain(start)
	if !ok {
		return start
	}

	ref := TableRef{Name: name}
	if i < len(p.tokens) && p.tokens[i].IsKeyword("AS") {
		i++
	}
	if i < len(p.tokens) && p.tokens[i].Kind == TokenIdent &&
		!clauseStops[p.tokens[i].Upper] && !notAlias[p.tokens[i].Upper] {
		ref.Alias = p.tokens[i].Text
		i++
	}
	p.shape.Tables = append(p.shape.Tables, ref)

	if i >= len(p.tokens) || !p.tokens[i].IsKeyword("ON") {
		return i - 1
	}
	i++

	// col = col pairs joined by AND
	for i < len(p.tokens) {
		lq, lc, next, ok := p.qualifiedColumn(i)
		if !ok {
			break
		}
		i = next
		if i >= len(p.tokens) || p.tokens[i].Text != "=" {
			break
		}
		i++
		rq, rc, next, ok := p.qualifiedColumn(i)
		if !ok {
			break
		}
		i = next
		p.pending.joins = append(p.pending.joins, [4]string{lq, lc, rq, rc})

		if i < len(p.tokens) && p.tokens[i].IsKeyword("AND") {
			i++
			continue
		}
		break
	}
	return i - 1
}

// parseWhere reads predicates until the next depth-zero clause keyword.
func (p *parser) parseWhere(start int) int {
	depth := 0
	i := start
	for i < len(p.tokens) {
		t := p.tokens[i]

		if t.Text == "(" {
			depth++
			i++
			continue
		}
		if t.Text == ")" {
			if depth == 0 {
				return i - 1
			}
			depth--
			i++
			continue
		}
		if depth == 0 && t.Kind == TokenIdent && whereStops[t.Upper] && !t.Quoted {
			return i - 1
		}
		if t.IsKeyword("OR") {
			p.shape.OrCount++
			i++
			continue
		}

		// function wrapping a column: fn(...) <op> ...
		if t.Kind == TokenIdent && !t.Quoted && i+1 < len(p.tokens) && p.tokens[i+1].Text == "(" &&
			!notAlias[t.Upper] && !whereStops[t.Upper] {
			end := p.matchParen(i + 1)
			if end < 0 {
				i += 2 // unbalanced parens, skip past "fn("
				continue
			}
			if end+1 < len(p.tokens) && isComparison(p.tokens[end+1]) {
				p.shape.WhereFunctions = append(p.shape.WhereFunctions, strings.ToUpper(t.Text))
				i = end + 2
				continue
			}
			i = end + 1
			continue
		}

		// plain predicate: [qual.]col <op> value
		if t.Kind == TokenIdent && !t.IsKeyword("AND") && !t.IsKeyword("NOT") {
			qual, col, next, ok := p.qualifiedColumn(i)
			if ok && next < len(p.tokens) {
				op, opEnd := comparisonOperator(p.tokens, next)
				if op != "" {
					p.pending.where = append(p.pending.where, pendingCondition{
						qualifier: qual, column: col, operator: op,
					})
					i = opEnd
					continue
				}
			}
			i = next
			continue
		}

		i++
	}
	return i - 1
}

var whereStops = map[string]bool{
	"GROUP": true, "ORDER": true, "LIMIT": true, "HAVING": true,
	"UNION": true, "INTERSECT": true, "EXCEPT": true, "FETCH": true,
	"OFFSET": true, "FOR": true, "RETURNING": true,
}

// parseColumnList reads a BY column list (order by / group by).
func (p *parser) parseColumnList(start int, out *[]pendingColumnRef) int {
	i := start
	if i < len(p.tokens) && p.tokens[i].IsKeyword("BY") {
		i++
	}

	for i < len(p.tokens) {
		t := p.tokens[i]
		if t.Kind == TokenIdent && (whereStops[t.Upper] || t.Upper == "GROUP" || t.Upper == "ORDER") && !t.Quoted {
			return i - 1
		}
		if t.Kind != TokenIdent {
			// positional (ORDER BY 1) or expression entries are skipped to
			// the next comma
			for i < len(p.tokens) && p.tokens[i].Text != "," {
				if p.tokens[i].Kind == TokenIdent && whereStops[p.tokens[i].Upper] {
					return i - 1
				}
				i++
			}
			i++
			continue
		}

		qual, col, next, ok := p.qualifiedColumn(i)
		if !ok {
			return i
		}
		ref := pendingColumnRef{qualifier: qual, column: col}
		i = next
		if i < len(p.tokens) && (p.tokens[i].IsKeyword("DESC") || p.tokens[i].IsKeyword("ASC")) {
			ref.desc = p.tokens[i].IsKeyword("DESC")
			i++
		}
		*out = append(*out, ref)

		if i < len(p.tokens) && p.tokens[i].Text == "," {
			i++
			continue
		}
		return i - 1
	}
	return i - 1
}

// identChain reads a dotted identifier chain and returns its last segment
// (schema qualifiers are dropped).
func (p *parser) identChain(i int) (name string, next int, ok bool) {
	if i >= len(p.tokens) || p.tokens[i].Kind != TokenIdent || clauseStops[p.tokens[i].Upper] {
		return "", i, false
	}
	name = p.tokens[i].Text
	i++
	for i+1 < len(p.tokens) && p.tokens[i].Text == "." && p.tokens[i+1].Kind == TokenIdent {
		name = p.tokens[i+1].Text
		i += 2
	}
	return name, i, true
}

// qualifiedColumn reads [qual.]col and returns both parts.
func (p *parser) qualifiedColumn(i int) (qual, col string, next int, ok bool) {
	if i >= len(p.tokens) || p.tokens[i].Kind != TokenIdent {
		return "", "", i, false
	}
	first := p.tokens[i].Text
	i++
	if i+1 < len(p.tokens) && p.tokens[i].Text == "." && p.tokens[i+1].Kind == TokenIdent {
		return first, p.tokens[i+1].Text, i + 2, true
	}
	return "", first, i, true
}

// matchParen returns the index of the ")" matching the "(" at open, or -1.
func (p *parser) matchParen(open int) int {
	depth := 0
	for i := open; i < len(p.tokens); i++ {
		switch p.tokens[i].Text {
		case "(":
			depth++
		case ")":
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func isComparison(t Token) bool {
	if t.Kind == TokenOperator {
		switch t.Text {
		case "=", "<", ">", "<=", ">=", "<>", "!=":
			return true
		}
		return false
	}
	if t.Kind == TokenIdent {
		switch t.Upper {
		case "IN", "LIKE", "BETWEEN", "IS":
			return true
		}
	}
	return false
}

// comparisonOperator reads the operator at position i, returning its
// canonical text and the index after the full operator ("NOT IN" spans two
// tokens).
func comparisonOperator(tokens []Token, i int) (string, int) {
	t := tokens[i]
	if t.Kind == TokenOperator {
		switch t.Text {
		case "=", "<", ">", "<=", ">=", "<>", "!=":
			return t.Text, i + 1
		}
		return "", i
	}
	if t.Kind != TokenIdent {
		return "", i
	}
	switch t.Upper {
	case "IN", "LIKE", "BETWEEN", "IS":
		return t.Upper, i + 1
	case "NOT":
		if i+1 < len(tokens) && tokens[i+1].Kind == TokenIdent {
			switch tokens[i+1].Upper {
			case "IN", "LIKE", "BETWEEN":
				return "NOT " + tokens[i+1].Upper, i + 2
			}
		}
	}
	return "", i
}

// resolveQualifiers maps alias-qualified references back to table names and
// fills in the table for unqualified columns when the statement touches a
// single table.
func (s *Shape) resolveQualifiers(pending struct {
	where   []pendingCondition
	joins   [][4]string
	orderBy []pendingColumnRef
	groupBy []pendingColumnRef
}) {
	aliases := make(map[string]string, len(s.Tables)*2)
	for _, t := range s.Tables {
		aliases[strings.ToLower(t.Name)] = t.Name
		if t.Alias != "" {
			aliases[strings.ToLower(t.Alias)] = t.Name
		}
	}

	resolve := func(qual string) string {
		if qual == "" {
			if len(s.Tables) > 0 {
				return s.Tables[0].Name
			}
			return ""
		}
		if name, ok := aliases[strings.ToLower(qual)]; ok {
			return name
		}
		return qual
	}

	for _, c := range pending.where {
		s.Where = append(s.Where, Condition{
			Table:    resolve(c.qualifier),
			Column:   c.column,
			Operator: c.operator,
		})
	}
	for _, j := range pending.joins {
		s.Joins = append(s.Joins, JoinCondition{
			LeftTable:   resolve(j[0]),
			LeftColumn:  j[1],
			RightTable:  resolve(j[2]),
			RightColumn: j[3],
		})
	}
	for _, c := range pending.orderBy {
		s.OrderBy = append(s.OrderBy, ColumnRef{Table: resolve(c.qualifier), Column: c.column, Desc: c.desc})
	}
	for _, c := range pending.groupBy {
		s.GroupBy = append(s.GroupBy, ColumnRef{Table: resolve(c.qualifier), Column: c.column, Desc: c.desc})
	}
}
