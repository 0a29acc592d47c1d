package repository

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Dialect selects the SQL flavour of the backing database
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect maps a configured database type onto a Dialect
func ParseDialect(dbType string) (Dialect, error) {
	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3", "":
		return DialectSQLite, nil
	case "postgres", "postgresql":
		return DialectPostgres, nil
	}
	return "", fmt.Errorf("unsupported database type %q", dbType)
}

// System returns the OpenTelemetry db.system value
func (d Dialect) System() string {
	if d == DialectPostgres {
		return "postgresql"
	}
	return "sqlite"
}

// args accumulates positional parameters and hands out their placeholders
// in order of first use. SQLite numbers "$n" parameters by first appearance,
// so placeholders must be emitted in the order they are added.
type args struct {
	values []interface{}
}

func (a *args) add(v interface{}) string {
	a.values = append(a.values, v)
	return fmt.Sprintf("$%d", len(a.values))
}

// jsonParam renders a JSON document parameter
func (d Dialect) jsonParam(a *args, raw []byte) string {
	if d == DialectPostgres {
		return a.add(string(raw)) + "::jsonb"
	}
	return "json(" + a.add(string(raw)) + ")"
}

// inSet renders "expr is one of values"
func (d Dialect) inSet(a *args, expr string, values []string) string {
	if d == DialectPostgres {
		return fmt.Sprintf("%s = ANY(%s)", expr, a.add(pq.Array(values)))
	}
	return fmt.Sprintf("%s IN (SELECT value FROM json_each(%s))", expr, a.add(stringSet(values)))
}

// fieldInSet renders "payload field equals one of values"
func (d Dialect) fieldInSet(a *args, field string, values []string) string {
	if d == DialectPostgres {
		return fmt.Sprintf("payload #>> %s::text[] = ANY(%s)", a.add(pq.Array(strings.Split(field, "."))), a.add(pq.Array(values)))
	}
	return d.inSet(a, fmt.Sprintf("json_extract(payload, %s)", a.add("$."+field)), values)
}

// fieldIntersects renders "payload array field shares a value with values"
func (d Dialect) fieldIntersects(a *args, field string, values []string) string {
	if d == DialectPostgres {
		return fmt.Sprintf("COALESCE(payload #> %s::text[], '[]'::jsonb) ?| %s::text[]",
			a.add(pq.Array(strings.Split(field, "."))), a.add(pq.Array(values)))
	}
	path := a.add("$." + field)
	return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(records.payload, %s) AS f WHERE f.value IN (SELECT value FROM json_each(%s)))",
		path, a.add(stringSet(values)))
}

// greatest is the two-argument maximum function
func (d Dialect) greatest() string {
	if d == DialectPostgres {
		return "GREATEST"
	}
	return "MAX"
}

// pagination renders LIMIT/OFFSET; SQLite needs a LIMIT before OFFSET
func (d Dialect) pagination(a *args, limit, offset int) string {
	var sb strings.Builder
	if limit > 0 {
		sb.WriteString(" LIMIT " + a.add(limit))
	} else if offset > 0 {
		if d == DialectPostgres {
			sb.WriteString(" LIMIT ALL")
		} else {
			sb.WriteString(" LIMIT -1")
		}
	}
	if offset > 0 {
		sb.WriteString(" OFFSET " + a.add(offset))
	}
	return sb.String()
}

func stringSet(values []string) string {
	if values == nil {
		values = []string{}
	}
	b, _ := json.Marshal(values)
	return string(b)
}
