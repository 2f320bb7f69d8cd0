package querysql

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/roach88/ormso/internal/schema"
)

// SQLiteTimeLayout is the fixed-width UTC layout dates are stored in on
// SQLite. Fixed width keeps text comparison consistent with time order.
const SQLiteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// Dialect captures the syntax differences between SQL backends.
type Dialect interface {
	// Name returns the dialect name ("sqlite", "postgres").
	Name() string

	// Quote quotes an identifier.
	Quote(ident string) string

	// Placeholder returns the parameter marker for the 1-based index.
	Placeholder(index int) string

	// Arg converts a bound value for the driver.
	Arg(index int, v any) any

	// Like returns the case-insensitive pattern operator.
	Like(negate bool) string

	// LimitOffset renders the paging clause; empty when both are zero.
	LimitOffset(skip, take int) string

	// ColumnType returns the DDL type of a column.
	ColumnType(c schema.Column) string

	// Literal renders a value as a DDL literal (column defaults only).
	Literal(v any) string
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	case "postgres", "postgresql", "pgx":
		return Postgres{}, nil
	default:
		return nil, fmt.Errorf("unknown SQL dialect %q", name)
	}
}

// SQLite is the SQLite dialect. Parameters are named (:p1) and bound with
// sql.Named.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (SQLite) Placeholder(index int) string {
	return ":" + paramName(index)
}

func (SQLite) Arg(index int, v any) any {
	if t, ok := v.(time.Time); ok {
		v = t.UTC().Format(SQLiteTimeLayout)
	}
	return sql.Named(paramName(index), v)
}

func (SQLite) Like(negate bool) string {
	if negate {
		return "NOT LIKE"
	}
	return "LIKE"
}

func (SQLite) LimitOffset(skip, take int) string {
	switch {
	case take > 0 && skip > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", take, skip)
	case take > 0:
		return fmt.Sprintf(" LIMIT %d", take)
	case skip > 0:
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", skip)
	default:
		return ""
	}
}

func (SQLite) ColumnType(c schema.Column) string {
	switch c.Type {
	case schema.Integer:
		return "INTEGER"
	case schema.Float:
		return "REAL"
	case schema.Date:
		return "DATETIME"
	case schema.Boolean:
		return "BOOLEAN"
	case schema.Blob:
		return "BLOB"
	default:
		return "TEXT"
	}
}

func (d SQLite) Literal(v any) string {
	switch x := v.(type) {
	case bool:
		if x {
			return "1"
		}
		return "0"
	case time.Time:
		return quoteString(x.UTC().Format(SQLiteTimeLayout))
	}
	return literal(v)
}

// Postgres is the PostgreSQL dialect. Parameters are positional ($1).
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) Quote(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

func (Postgres) Placeholder(index int) string {
	return "$" + strconv.Itoa(index)
}

func (Postgres) Arg(_ int, v any) any {
	return v
}

func (Postgres) Like(negate bool) string {
	if negate {
		return "NOT ILIKE"
	}
	return "ILIKE"
}

func (Postgres) LimitOffset(skip, take int) string {
	var b strings.Builder
	if take > 0 {
		fmt.Fprintf(&b, " LIMIT %d", take)
	}
	if skip > 0 {
		fmt.Fprintf(&b, " OFFSET %d", skip)
	}
	return b.String()
}

func (Postgres) ColumnType(c schema.Column) string {
	switch c.Type {
	case schema.Integer:
		return "BIGINT"
	case schema.Float:
		return "DOUBLE PRECISION"
	case schema.Date:
		return "TIMESTAMPTZ"
	case schema.Boolean:
		return "BOOLEAN"
	case schema.Blob:
		return "BYTEA"
	default:
		return "TEXT"
	}
}

func (Postgres) Literal(v any) string {
	switch x := v.(type) {
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case time.Time:
		return quoteString(x.UTC().Format(time.RFC3339Nano))
	case []byte:
		return fmt.Sprintf(`'\x%x'::bytea`, x)
	}
	return literal(v)
}

func paramName(index int) string {
	return "p" + strconv.Itoa(index)
}

func literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return quoteString(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []byte:
		return fmt.Sprintf("X'%X'", x)
	default:
		return quoteString(fmt.Sprint(x))
	}
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
