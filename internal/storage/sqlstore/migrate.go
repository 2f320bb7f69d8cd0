package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/ormso/internal/querysql"
	"github.com/roach88/ormso/internal/schema"
)

// ddl is the per-backend schema introspection and column rendering.
type ddl interface {
	// columns returns the existing column names, or ok=false when the table
	// does not exist.
	columns(ctx context.Context, q queryer, table string) (map[string]bool, bool, error)

	indexExists(ctx context.Context, q queryer, name string) (bool, error)

	// columnDef renders one column of CREATE TABLE / ADD COLUMN.
	columnDef(col schema.Column) string
}

// UpdateSchema creates the table if missing, then adds missing columns and
// indexes. Existing columns are never altered or dropped. It reports whether
// any statement was executed; a second call on an unchanged definition
// reports false.
//
// Relations are not declared as foreign-key constraints: the data model
// engine owns referential consistency, and sync writes children before
// their parents are known.
func (s *Store) UpdateSchema(ctx context.Context, ti *schema.TableInfo) (bool, error) {
	if ti.IsAbstract() {
		return false, nil
	}
	q := s.conn(ctx)
	table := ti.Name()

	existing, ok, err := s.ddl.columns(ctx, q, table)
	if err != nil {
		return false, fmt.Errorf("inspect table %q: %w", table, err)
	}

	changed := false
	if !ok {
		defs := make([]string, len(ti.Columns))
		for i, col := range ti.Columns {
			defs[i] = s.ddl.columnDef(col)
		}
		stmt := fmt.Sprintf("CREATE TABLE %s (%s)", s.dialect.Quote(table), strings.Join(defs, ", "))
		if err := s.exec(ctx, q, "create table", table, stmt); err != nil {
			return false, err
		}
		changed = true
	} else {
		for _, col := range ti.Columns {
			if existing[col.Name] {
				continue
			}
			if col.PrimaryKey {
				return false, fmt.Errorf("table %q: cannot add primary key column %q to an existing table", table, col.Name)
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", s.dialect.Quote(table), s.ddl.columnDef(col))
			if err := s.exec(ctx, q, "add column", table, stmt); err != nil {
				return false, err
			}
			changed = true
		}
	}

	for _, col := range ti.Columns {
		if col.PrimaryKey || (!col.Indexed && !col.Unique && col.Relation == nil) {
			continue
		}
		name, create := indexName(table, col.Name), "CREATE INDEX"
		if col.Unique {
			name, create = uniqueIndexName(table, col.Name), "CREATE UNIQUE INDEX"
		}
		exists, err := s.ddl.indexExists(ctx, q, name)
		if err != nil {
			return false, fmt.Errorf("inspect index %q: %w", name, err)
		}
		if exists {
			continue
		}
		stmt := fmt.Sprintf("%s %s ON %s (%s)", create,
			s.dialect.Quote(name), s.dialect.Quote(table), s.dialect.Quote(col.Name))
		if err := s.exec(ctx, q, "create index", table, stmt); err != nil {
			return false, err
		}
		changed = true
	}

	if changed {
		s.logger.InfoContext(ctx, "schema updated", "table", table)
	}
	return changed, nil
}

func (s *Store) exec(ctx context.Context, q queryer, op, table, stmt string) error {
	st := querysql.Statement{SQL: stmt}
	s.trace(ctx, op, st)
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return storageError(op, table, st, err)
	}
	return nil
}

func indexName(table, column string) string {
	return "ix_" + table + "_" + column
}

func uniqueIndexName(table, column string) string {
	return "ux_" + table + "_" + column
}

// defaultClause renders " DEFAULT <literal>" for columns with a default.
func defaultClause(d querysql.Dialect, col schema.Column) string {
	if col.Default == nil {
		return ""
	}
	v, err := col.Coerce(col.Default)
	if err != nil {
		return ""
	}
	return " DEFAULT " + d.Literal(v)
}

type sqliteDDL struct {
	dialect querysql.Dialect
}

func (d sqliteDDL) columns(ctx context.Context, q queryer, table string) (map[string]bool, bool, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", d.dialect.Quote(table)))
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, false, err
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return cols, len(cols) > 0, nil
}

func (d sqliteDDL) indexExists(ctx context.Context, q queryer, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?", name).Scan(&n)
	return n > 0, err
}

func (d sqliteDDL) columnDef(col schema.Column) string {
	def := d.dialect.Quote(col.Name) + " " + d.dialect.ColumnType(col)
	if col.PrimaryKey {
		if col.AutoIncrement && col.Type == schema.Integer {
			return def + " PRIMARY KEY AUTOINCREMENT"
		}
		return def + " PRIMARY KEY"
	}
	return def + defaultClause(d.dialect, col)
}

type postgresDDL struct {
	dialect querysql.Dialect
}

func (d postgresDDL) columns(ctx context.Context, q queryer, table string) (map[string]bool, bool, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT column_name FROM information_schema.columns
		 WHERE table_schema = current_schema() AND table_name = $1`, table)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, false, err
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return cols, len(cols) > 0, nil
}

func (d postgresDDL) indexExists(ctx context.Context, q queryer, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pg_indexes WHERE schemaname = current_schema() AND indexname = $1", name).Scan(&n)
	return n > 0, err
}

func (d postgresDDL) columnDef(col schema.Column) string {
	def := d.dialect.Quote(col.Name) + " " + d.dialect.ColumnType(col)
	if col.PrimaryKey {
		if col.AutoIncrement && col.Type == schema.Integer {
			return def + " GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
		}
		return def + " PRIMARY KEY"
	}
	return def + defaultClause(d.dialect, col)
}
