package sqlgraph

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

type sqliteCoded int

func (e sqliteCoded) Error() string { return fmt.Sprintf("constraint failed (%d)", int(e)) }
func (e sqliteCoded) Code() int     { return int(e) }

type stateCoded string

func (e stateCoded) Error() string    { return "state error " + string(e) }
func (e stateCoded) SQLState() string { return string(e) }

func TestConstraintOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Constraint
	}{
		{"Nil", nil, NoConstraint},
		{"Other", errors.New("connection reset"), NoConstraint},
		{"SQLiteUniqueMessage", errors.New("constraint failed: UNIQUE constraint failed: books.id (1555)"), UniqueConstraint},
		{"SQLiteForeignKeyMessage", errors.New("FOREIGN KEY constraint failed"), ForeignKeyConstraint},
		{"SQLiteCheckMessage", errors.New("CHECK constraint failed: pages"), CheckConstraint},
		{"SQLiteNotNullMessage", errors.New("NOT NULL constraint failed: authors.name"), NotNullConstraint},
		{"SQLitePrimaryKey", sqliteCoded(1555), UniqueConstraint},
		{"SQLiteForeignKey", sqliteCoded(787), ForeignKeyConstraint},
		{"SQLiteNotNull", sqliteCoded(1299), NotNullConstraint},
		{"SQLiteBusy", sqliteCoded(5), NoConstraint},
		{"MySQLMessage", errors.New("Error 1062 (23000): Duplicate entry 'x' for key 'PRIMARY'"), UniqueConstraint},
		{"MySQLDuplicate", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, UniqueConstraint},
		{"MySQLChildRow", &mysql.MySQLError{Number: 1452}, ForeignKeyConstraint},
		{"MySQLCheck", &mysql.MySQLError{Number: 3819}, CheckConstraint},
		{"MySQLBadNull", &mysql.MySQLError{Number: 1048}, NotNullConstraint},
		{"MySQLLockWait", &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}, NoConstraint},
		{"PQUnique", &pq.Error{Code: "23505"}, UniqueConstraint},
		{"PQNotNull", &pq.Error{Code: "23502"}, NotNullConstraint},
		{"PQOther", &pq.Error{Code: "42P01"}, NoConstraint},
		{"SQLState", stateCoded("23514"), CheckConstraint},
		{"Wrapped", fmt.Errorf("dialect/sql: exec: %w", &pq.Error{Code: "23503"}), ForeignKeyConstraint},
		{"Joined", errors.Join(errors.New("rollback failed"), &mysql.MySQLError{Number: 1451}), ForeignKeyConstraint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConstraintOf(tt.err))
			assert.Equal(t, tt.want != NoConstraint, IsConstraintError(tt.err))
		})
	}
}

func TestConstraint_String(t *testing.T) {
	assert.Equal(t, "UNIQUE", UniqueConstraint.String())
	assert.Equal(t, "FOREIGN KEY", ForeignKeyConstraint.String())
	assert.Equal(t, "CHECK", CheckConstraint.String())
	assert.Equal(t, "NOT NULL", NotNullConstraint.String())
	assert.Equal(t, "none", NoConstraint.String())
}
