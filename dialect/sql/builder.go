package sql

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/syssam/velomigrate/dialect"
)

// validIdentifierRe validates SQL identifiers (alphanumeric and underscores).
var validIdentifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidIdentifier reports whether s can be used as a table or column name.
// Identifiers are limited to 63 bytes, the PostgreSQL maximum.
func ValidIdentifier(s string) bool {
	return s != "" && len(s) <= 63 && validIdentifierRe.MatchString(s)
}

// Quote quotes an identifier for the given dialect. The identifier must be
// valid; see ValidIdentifier.
func Quote(d, ident string) string {
	if d == dialect.MySQL {
		return "`" + ident + "`"
	}
	return `"` + ident + `"`
}

// Rebind replaces the "?" placeholders of query with the placeholder
// syntax of the dialect. Question marks inside quoted strings are kept.
func Rebind(d, query string) string {
	if d != dialect.Postgres || !strings.Contains(query, "?") {
		return query
	}
	var (
		b     strings.Builder
		n     int
		quote byte
	)
	b.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '?':
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Placeholders returns n comma separated "?" placeholders.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
