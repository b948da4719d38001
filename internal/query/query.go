// Package query assembles parameterized SELECT statements from small
// composable predicates, so the count query and the page query of a listing
// always share the same WHERE clause.
package query

import (
	"strings"
)

// Predicate renders one boolean SQL expression with '?' placeholders.
type Predicate interface {
	SQL() (string, []any)
}

type raw struct {
	expr string
	args []any
}

func (r raw) SQL() (string, []any) { return r.expr, r.args }

// Like matches col against %term%. An empty term matches every non-null value.
func Like(col, term string) Predicate {
	return raw{expr: col + " LIKE ?", args: []any{"%" + term + "%"}}
}

// Eq matches col = v.
func Eq(col string, v any) Predicate {
	return raw{expr: col + " = ?", args: []any{v}}
}

// IsNull matches col IS NULL.
func IsNull(col string) Predicate {
	return raw{expr: col + " IS NULL"}
}

// Where is a conjunction of predicates. The zero value renders no WHERE clause.
type Where struct {
	preds []Predicate
}

// And returns a new Where with p appended; nil predicates are skipped.
func (w Where) And(p ...Predicate) Where {
	preds := make([]Predicate, 0, len(w.preds)+len(p))
	preds = append(preds, w.preds...)
	for _, pred := range p {
		if pred != nil {
			preds = append(preds, pred)
		}
	}
	return Where{preds: preds}
}

// SQL renders " WHERE a AND b" (with a leading space) or "" when empty.
func (w Where) SQL() (string, []any) {
	if len(w.preds) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(w.preds))
	var args []any
	for _, p := range w.preds {
		expr, a := p.SQL()
		parts = append(parts, "("+expr+")")
		args = append(args, a...)
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

// Select describes a paginated listing over one FROM clause.
type Select struct {
	Columns string   // select list of the page query
	From    string   // table plus joins, e.g. "products p LEFT JOIN ..."
	CountOf string   // expression counted, defaults to "*"
	Where   Where    // shared by both queries
	OrderBy []string // deterministic ordering, primary key first
}

// Count returns the COUNT query and its args.
func (s Select) Count() (string, []any) {
	countOf := s.CountOf
	if countOf == "" {
		countOf = "*"
	}
	where, args := s.Where.SQL()
	return "SELECT COUNT(" + countOf + ") FROM " + s.From + where, args
}

// Page returns the data query with ORDER BY, LIMIT and OFFSET appended.
func (s Select) Page(limit, offset int) (string, []any) {
	where, args := s.Where.SQL()

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(s.Columns)
	b.WriteString(" FROM ")
	b.WriteString(s.From)
	b.WriteString(where)
	if len(s.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(s.OrderBy, ", "))
	}
	b.WriteString(" LIMIT ? OFFSET ?")

	return b.String(), append(args, limit, offset)
}
