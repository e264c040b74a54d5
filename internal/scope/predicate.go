package scope

import (
	"fmt"
	"regexp"
	"strings"

	"logbook.org/internal/apperr"
	"logbook.org/internal/auth"
)

// Columns names the ancestor columns a table carries. Empty means the table
// has no such column.
type Columns struct {
	Org        string
	Department string
	Staff      string
	Student    string
}

var (
	DepartmentColumns  = Columns{Org: "organization_id", Department: "id"}
	StaffColumns       = Columns{Org: "organization_id", Department: "department_id", Staff: "id"}
	StudentColumns     = Columns{Org: "organization_id", Department: "department_id", Staff: "staff_id", Student: "id"}
	ActivityLogColumns = Columns{Org: "organization_id", Department: "department_id", Staff: "staff_id", Student: "student_id"}
	StaffLogColumns    = Columns{Org: "organization_id", Department: "department_id", Staff: "staff_id"}
)

// Qualified prefixes every column with alias.
func (c Columns) Qualified(alias string) Columns {
	q := func(col string) string {
		if col == "" {
			return ""
		}
		return alias + "." + col
	}
	return Columns{Org: q(c.Org), Department: q(c.Department), Staff: q(c.Staff), Student: q(c.Student)}
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\.[a-z_][a-z0-9_]*)?$`)

// Condition is one equality test on a column.
type Condition struct {
	Column string
	Value  any
}

// Predicate is a conjunction of column equalities. Values are only ever
// bound as parameters.
type Predicate struct {
	conds []Condition
}

// For derives the mandatory scope predicate from claims for a table. Scope is
// never taken from request input.
func For(c auth.Claims, cols Columns) (Predicate, error) {
	own, err := FromClaims(c)
	if err != nil {
		return Predicate{}, err
	}
	var p Predicate
	pairs := []struct {
		col string
		id  int64
	}{
		{cols.Org, own.OrgID},
		{cols.Department, own.DepartmentID},
		{cols.Staff, own.StaffID},
		{cols.Student, own.StudentID},
	}
	for _, pair := range pairs {
		if pair.id == 0 {
			continue
		}
		if pair.col == "" {
			// The caller sits below this resource; it can never be in scope.
			return Predicate{}, fmt.Errorf("%w: resource is above the caller's tier", apperr.ErrForbidden)
		}
		p = p.And(pair.col, pair.id)
	}
	return p, nil
}

// And returns a copy of p with one more equality. It panics on a malformed
// column name since columns are always compile-time constants.
func (p Predicate) And(column string, value any) Predicate {
	if !identRe.MatchString(column) {
		panic(fmt.Sprintf("scope: invalid column %q", column))
	}
	conds := make([]Condition, len(p.conds), len(p.conds)+1)
	copy(conds, p.conds)
	return Predicate{conds: append(conds, Condition{Column: column, Value: value})}
}

// Conditions returns the equality tests in order.
func (p Predicate) Conditions() []Condition {
	out := make([]Condition, len(p.conds))
	copy(out, p.conds)
	return out
}

// Len is the number of conditions.
func (p Predicate) Len() int { return len(p.conds) }

// SQL renders the predicate with positional placeholders starting at $start.
// An empty predicate renders as "true".
func (p Predicate) SQL(start int) (string, []any) {
	if len(p.conds) == 0 {
		return "true", nil
	}
	parts := make([]string, 0, len(p.conds))
	args := make([]any, 0, len(p.conds))
	for i, c := range p.conds {
		parts = append(parts, fmt.Sprintf("%s = $%d", c.Column, start+i))
		args = append(args, c.Value)
	}
	return strings.Join(parts, " and "), args
}

// Eval applies the predicate to an in-memory row; lookup returns the value of a
// column for that row.
func (p Predicate) Eval(lookup func(column string) any) bool {
	for _, c := range p.conds {
		if lookup(c.Column) != c.Value {
			return false
		}
	}
	return true
}
