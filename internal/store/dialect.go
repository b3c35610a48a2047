package store

import (
	"strconv"
	"strings"
)

// dialect captures the SQL differences between the supported databases.
// Queries are written with ? placeholders and rebound per dialect.
type dialect struct {
	driver     string
	schema     string
	lockSuffix string
	numbered   bool
}

var (
	sqliteDialect = dialect{
		driver: DriverSQLite,
		schema: sqliteSchema,
	}
	postgresDialect = dialect{
		driver:     DriverPostgres,
		schema:     postgresSchema,
		lockSuffix: " FOR UPDATE",
		numbered:   true,
	}
)

// rebind rewrites ? placeholders to $N for dialects that need it.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
