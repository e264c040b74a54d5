package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logbook.org/internal/apperr"
	"logbook.org/internal/auth"
)

func TestCheckPath(t *testing.T) {
	dept := auth.DepartmentClaims(1, 3)

	require.NoError(t, CheckPath(dept, Ancestry{DepartmentID: 3}))
	require.NoError(t, CheckPath(dept, Ancestry{OrgID: 1, DepartmentID: 3, StaffID: 99}))
	assert.ErrorIs(t, CheckPath(dept, Ancestry{DepartmentID: 4}), apperr.ErrForbidden)
	assert.ErrorIs(t, CheckPath(dept, Ancestry{OrgID: 2}), apperr.ErrForbidden)

	staff := auth.StaffClaims(1, 3, 7)
	assert.ErrorIs(t, CheckPath(staff, Ancestry{StaffID: 8}), apperr.ErrForbidden)
	assert.NoError(t, CheckPath(staff, Ancestry{StaffID: 7}))

	assert.ErrorIs(t, CheckPath(auth.Claims{}, Ancestry{}), apperr.ErrForbidden)
}

func TestResolve(t *testing.T) {
	student := Ancestry{OrgID: 1, DepartmentID: 3, StaffID: 7, StudentID: 9}

	cases := []struct {
		name   string
		claims auth.Claims
		ok     bool
	}{
		{"org owner", auth.OrganizationClaims(1), true},
		{"other org", auth.OrganizationClaims(2), false},
		{"department owner", auth.DepartmentClaims(1, 3), true},
		{"sibling department", auth.DepartmentClaims(1, 4), false},
		{"staff owner", auth.StaffClaims(1, 3, 7), true},
		{"other staff same department", auth.StaffClaims(1, 3, 8), false},
		{"student self", auth.StudentClaims(1, 3, 7, 9), true},
		{"other student", auth.StudentClaims(1, 3, 7, 10), false},
		{"unknown role", auth.Claims{OrgID: 1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Resolve(tc.claims, student)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, apperr.ErrNotFound)
			}
		})
	}

	// Missing ancestor ids on the entity never satisfy a claim that carries them.
	assert.False(t, Owns(auth.StaffClaims(1, 3, 7), Ancestry{OrgID: 1, DepartmentID: 3}))
}

func TestPredicateFor(t *testing.T) {
	p, err := For(auth.StaffClaims(1, 3, 7), ActivityLogColumns)
	require.NoError(t, err)
	sql, args := p.SQL(1)
	assert.Equal(t, "organization_id = $1 and department_id = $2 and staff_id = $3", sql)
	assert.Equal(t, []any{int64(1), int64(3), int64(7)}, args)

	p, err = For(auth.OrganizationClaims(1), StudentColumns.Qualified("s"))
	require.NoError(t, err)
	sql, args = p.And("s.email", "a@b.c").SQL(3)
	assert.Equal(t, "s.organization_id = $3 and s.email = $4", sql)
	assert.Equal(t, []any{int64(1), "a@b.c"}, args)

	_, err = For(auth.StudentClaims(1, 3, 7, 9), StaffLogColumns)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	empty := Predicate{}
	sql, args = empty.SQL(1)
	assert.Equal(t, "true", sql)
	assert.Nil(t, args)
}

func TestPredicateEval(t *testing.T) {
	p, err := For(auth.DepartmentClaims(1, 3), StaffColumns)
	require.NoError(t, err)
	row := map[string]any{"organization_id": int64(1), "department_id": int64(3), "id": int64(7)}
	assert.True(t, p.Eval(func(col string) any { return row[col] }))

	row["department_id"] = int64(4)
	assert.False(t, p.Eval(func(col string) any { return row[col] }))
}

func TestPredicateRejectsBadColumn(t *testing.T) {
	assert.Panics(t, func() { Predicate{}.And("id; drop table x", 1) })
}
