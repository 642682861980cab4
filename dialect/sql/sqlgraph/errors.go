package sqlgraph

import (
	"errors"
	"slices"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// Constraint identifies the kind of a violated database constraint.
type Constraint uint8

// Constraint kinds.
const (
	NoConstraint Constraint = iota
	UniqueConstraint
	ForeignKeyConstraint
	CheckConstraint
	NotNullConstraint
)

// String returns the constraint kind in SQL terms.
func (c Constraint) String() string {
	switch c {
	case UniqueConstraint:
		return "UNIQUE"
	case ForeignKeyConstraint:
		return "FOREIGN KEY"
	case CheckConstraint:
		return "CHECK"
	case NotNullConstraint:
		return "NOT NULL"
	}
	return "none"
}

// signature describes how each supported driver reports a violation of
// one constraint kind.
type signature struct {
	kind     Constraint
	sqlState string   // postgres SQLSTATE, class 23
	mysql    []uint16 // mysql error numbers
	sqlite   []int    // sqlite extended result codes
	messages []string // message fragments of drivers without typed errors
}

var signatures = []signature{
	{
		kind:     UniqueConstraint,
		sqlState: "23505",
		mysql:    []uint16{1062},
		sqlite:   []int{1555, 2067}, // SQLITE_CONSTRAINT_PRIMARYKEY, SQLITE_CONSTRAINT_UNIQUE
		messages: []string{"Error 1062", "violates unique constraint", "UNIQUE constraint failed"},
	},
	{
		kind:     ForeignKeyConstraint,
		sqlState: "23503",
		mysql:    []uint16{1451, 1452}, // parent row, child row
		sqlite:   []int{787},
		messages: []string{"Error 1451", "Error 1452", "violates foreign key constraint", "FOREIGN KEY constraint failed"},
	},
	{
		kind:     CheckConstraint,
		sqlState: "23514",
		mysql:    []uint16{3819},
		sqlite:   []int{275},
		messages: []string{"Error 3819", "violates check constraint", "CHECK constraint failed"},
	},
	{
		kind:     NotNullConstraint,
		sqlState: "23502",
		mysql:    []uint16{1048},
		sqlite:   []int{1299},
		messages: []string{"Error 1048", "violates not-null constraint", "NOT NULL constraint failed"},
	},
}

// sqliteError is implemented by *sqlite.Error of modernc.org/sqlite.
type sqliteError interface {
	error
	Code() int
}

// stateError is implemented by drivers that expose the SQLSTATE of an
// error, such as pgx.
type stateError interface {
	error
	SQLState() string
}

// ConstraintOf returns the kind of constraint whose violation caused err,
// or NoConstraint. Typed driver errors anywhere in the chain are preferred
// over message matching.
func ConstraintOf(err error) Constraint {
	if err == nil {
		return NoConstraint
	}
	var (
		pe *pq.Error
		me *mysql.MySQLError
		se sqliteError
		st stateError
	)
	match := func(f func(signature) bool) Constraint {
		for _, s := range signatures {
			if f(s) {
				return s.kind
			}
		}
		return NoConstraint
	}
	switch {
	case errors.As(err, &pe):
		return match(func(s signature) bool { return string(pe.Code) == s.sqlState })
	case errors.As(err, &me):
		return match(func(s signature) bool { return slices.Contains(s.mysql, me.Number) })
	case errors.As(err, &se):
		return match(func(s signature) bool { return slices.Contains(s.sqlite, se.Code()) })
	case errors.As(err, &st):
		return match(func(s signature) bool { return st.SQLState() == s.sqlState })
	}
	msg := err.Error()
	return match(func(s signature) bool {
		return slices.ContainsFunc(s.messages, func(m string) bool { return strings.Contains(msg, m) })
	})
}

// IsConstraintError reports if err resulted from a database constraint
// violation.
func IsConstraintError(err error) bool {
	return ConstraintOf(err) != NoConstraint
}
