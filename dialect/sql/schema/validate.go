package schema

import (
	"fmt"
	"strings"

	"github.com/syssam/velomigrate/dialect/sql"
)

// ValidationError is one problem found in a table or column.
type ValidationError struct {
	Table   string
	Column  string
	Message string
	// Breaking is set when writes through the layout will fail.
	Breaking bool
}

func (e *ValidationError) Error() string {
	name := e.Table
	if e.Column != "" {
		name += "." + e.Column
	}
	return name + ": " + e.Message
}

// ValidationResult collects the problems found by a validation.
type ValidationResult struct {
	Errors   []*ValidationError
	Warnings []*ValidationError
}

func (r *ValidationResult) fail(table, column, format string, args ...any) *ValidationError {
	e := &ValidationError{Table: table, Column: column, Message: fmt.Sprintf(format, args...)}
	r.Errors = append(r.Errors, e)
	return e
}

func (r *ValidationResult) warn(table, column, format string, args ...any) {
	r.Warnings = append(r.Warnings, &ValidationError{Table: table, Column: column, Message: fmt.Sprintf(format, args...)})
}

// breaking records an error that makes writes fail.
func (r *ValidationResult) breaking(table, column, msg string) {
	r.fail(table, column, "%s", msg).Breaking = true
}

func (r *ValidationResult) merge(o *ValidationResult) {
	r.Errors = append(r.Errors, o.Errors...)
	r.Warnings = append(r.Warnings, o.Warnings...)
}

// HasErrors reports whether validation failed.
func (r *ValidationResult) HasErrors() bool { return len(r.Errors) > 0 }

// HasWarnings reports whether validation found non-fatal problems.
func (r *ValidationResult) HasWarnings() bool { return len(r.Warnings) > 0 }

// Err returns the errors of the result as a single error, or nil.
func (r *ValidationResult) Err() error {
	if !r.HasErrors() {
		return nil
	}
	return fmt.Errorf("sql/schema: database does not match the model:\n%s", r)
}

func (r *ValidationResult) String() string {
	if !r.HasErrors() && !r.HasWarnings() {
		return "No issues found"
	}
	var b strings.Builder
	for _, section := range []struct {
		title string
		list  []*ValidationError
	}{{"Errors", r.Errors}, {"Warnings", r.Warnings}} {
		if len(section.list) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s:\n", section.title)
		for _, e := range section.list {
			b.WriteString("  - " + e.Error())
			if e.Breaking {
				b.WriteString(" [BREAKING]")
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// ValidateOption configures ValidateDiff.
type ValidateOption func(*validateConfig)

type validateConfig struct {
	strictTypes bool
}

// StrictTypes reports column type mismatches as errors instead of warnings.
func StrictTypes() ValidateOption {
	return func(c *validateConfig) { c.strictTypes = true }
}

// ValidateDiff checks that the tables found in a database (current) can
// store the layout (desired). Extra tables and nullable extra columns are
// ignored; missing tables or columns are errors.
func ValidateDiff(current, desired []*Table, opts ...ValidateOption) *ValidationResult {
	var cfg validateConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	found := make(map[string]*Table, len(current))
	for _, t := range current {
		found[t.Name] = t
	}
	res := &ValidationResult{}
	for _, want := range desired {
		if have, ok := found[want.Name]; ok {
			diffColumns(res, have, want, cfg)
		} else {
			res.breaking(want.Name, "", "table does not exist")
		}
	}
	return res
}

func diffColumns(res *ValidationResult, have, want *Table, cfg validateConfig) {
	name := have.Name
	for _, c := range have.Columns {
		if _, ok := want.Column(c.Name); !ok && !c.Nullable {
			res.breaking(name, c.Name, "NOT NULL column is not part of the model")
		}
	}
	for _, w := range want.Columns {
		h, ok := have.Column(w.Name)
		if !ok {
			res.breaking(name, w.Name, "column does not exist")
			continue
		}
		if h.Type != w.Type {
			if cfg.strictTypes {
				res.fail(name, w.Name, "column type is %v, model expects %v", h.Type, w.Type)
			} else {
				res.warn(name, w.Name, "column type is %v, model expects %v", h.Type, w.Type)
			}
		}
		if !h.Nullable && w.Nullable {
			res.breaking(name, w.Name, "column is NOT NULL but the model allows unset values")
		}
		if h.Nullable && !w.Nullable {
			res.warn(name, w.Name, "column allows NULL but the model requires a value")
		}
		if h.Size > 0 && w.Size > h.Size {
			res.warn(name, w.Name, "column size %d is smaller than %d and may truncate IDs", h.Size, w.Size)
		}
	}
}

// ValidateTable checks the names, indexes and foreign keys of a table.
func ValidateTable(t *Table) *ValidationResult {
	res := &ValidationResult{}
	if !sql.ValidIdentifier(t.Name) {
		res.fail(t.Name, "", "invalid table name")
	}
	if len(t.PrimaryKey) == 0 {
		res.warn(t.Name, "", "table has no primary key")
	}
	columns := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if !sql.ValidIdentifier(c.Name) {
			res.fail(t.Name, c.Name, "invalid column name")
		}
		if columns[c.Name] {
			res.fail(t.Name, c.Name, "duplicate column name")
		}
		columns[c.Name] = true
	}
	indexes := make(map[string]bool, len(t.Indexes))
	for _, idx := range t.Indexes {
		if indexes[idx.Name] {
			res.fail(t.Name, "", "duplicate index name: %s", idx.Name)
		}
		indexes[idx.Name] = true
		for _, c := range idx.Columns {
			if !columns[c.Name] {
				res.fail(t.Name, "", "index %q references non-existent column %q", idx.Name, c.Name)
			}
		}
	}
	for _, fk := range t.ForeignKeys {
		for _, c := range fk.Columns {
			if !columns[c.Name] {
				res.fail(t.Name, "", "foreign key references non-existent column %q", c.Name)
			}
		}
	}
	return res
}

// ValidateSchema validates every table of a layout and the tables their
// foreign keys reference.
func ValidateSchema(tables []*Table) *ValidationResult {
	res := &ValidationResult{}
	names := make(map[string]bool, len(tables))
	for _, t := range tables {
		if names[t.Name] {
			res.fail(t.Name, "", "duplicate table name")
		}
		names[t.Name] = true
		res.merge(ValidateTable(t))
	}
	for _, t := range tables {
		for _, fk := range t.ForeignKeys {
			if !names[fk.RefTable.Name] {
				res.fail(t.Name, "", "foreign key references non-existent table %q", fk.RefTable.Name)
			}
		}
	}
	return res
}
