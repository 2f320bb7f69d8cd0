package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/ormso/internal/schema"
	"github.com/roach88/ormso/internal/storage"
	"github.com/roach88/ormso/internal/where"
)

// Select compiles a select over ti.
//
//	SELECT t0."A", t0."B" FROM "T" t0 [WHERE ...] ORDER BY ..., t0."Id" ASC [LIMIT n] [OFFSET n]
func (c *Compiler) Select(ti *schema.TableInfo, q storage.Query) (Statement, error) {
	b := c.newBuilder()

	cols, err := projection(ti, q.Columns)
	if err != nil {
		return Statement{}, err
	}
	refs := make([]string, len(cols))
	for i, name := range cols {
		refs[i] = b.col(rootAlias, name)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s %s", strings.Join(refs, ", "), b.table(ti), rootAlias)

	if q.Where != nil {
		w, err := b.where(ti, rootAlias, q.Where)
		if err != nil {
			return Statement{}, err
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(w)
	}

	order, err := b.orderBy(ti, rootAlias, q.OrderBy)
	if err != nil {
		return Statement{}, err
	}
	if order != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(order)
	}

	sb.WriteString(c.dialect.LimitOffset(q.Skip, q.Take))
	return Statement{SQL: sb.String(), Args: b.args}, nil
}

// SelectByID compiles a single-row select by primary key.
func (c *Compiler) SelectByID(ti *schema.TableInfo, id any, columns []string) (Statement, error) {
	if id == nil {
		return Statement{}, compileErrorf(ErrCodeMissingKey, "", "table %q: select by id without a key", ti.Name())
	}
	return c.Select(ti, storage.Query{
		Columns: columns,
		Where:   where.Eq(ti.PrimaryKey.Name, id),
		Take:    1,
	})
}

// Count compiles a row count over ti.
func (c *Compiler) Count(ti *schema.TableInfo, filter where.Expr) (Statement, error) {
	b := c.newBuilder()
	sql := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", b.table(ti), rootAlias)
	if filter != nil {
		w, err := b.where(ti, rootAlias, filter)
		if err != nil {
			return Statement{}, err
		}
		sql += " WHERE " + w
	}
	return Statement{SQL: sql, Args: b.args}, nil
}

// Insert compiles an insert of the row's set columns. Unset columns with a
// declared default get the default. An auto-increment primary key without
// a value is left to the database. The statement returns the primary key.
func (c *Compiler) Insert(ti *schema.TableInfo, row *schema.Row) (Statement, error) {
	b := c.newBuilder()
	var names, marks []string
	for _, col := range ti.Columns {
		v, ok := row.Get(col.Name)
		if !ok {
			if col.Default == nil {
				continue
			}
			v = col.Default
		}
		if col.PrimaryKey && col.AutoIncrement && v == nil {
			continue
		}
		cv, err := col.Coerce(v)
		if err != nil {
			return Statement{}, compileErrorf(ErrCodeInvalidValue, ti.Name()+"."+col.Name, "%v", err)
		}
		names = append(names, b.d.Quote(col.Name))
		marks = append(marks, b.bind(cv))
	}

	pk := b.d.Quote(ti.PrimaryKey.Name)
	if len(names) == 0 {
		return Statement{
			SQL: fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", b.table(ti), pk),
		}, nil
	}
	return Statement{
		SQL: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
			b.table(ti), strings.Join(names, ", "), strings.Join(marks, ", "), pk),
		Args: b.args,
	}, nil
}

// Update compiles a partial update: only columns set on the row are
// written. The row must carry its primary key.
func (c *Compiler) Update(ti *schema.TableInfo, row *schema.Row) (Statement, error) {
	b := c.newBuilder()
	pk := ti.PrimaryKey
	id, err := keyOf(ti, row)
	if err != nil {
		return Statement{}, err
	}

	var sets []string
	for _, col := range ti.Columns {
		if col.PrimaryKey {
			continue
		}
		v, ok := row.Get(col.Name)
		if !ok {
			continue
		}
		cv, err := col.Coerce(v)
		if err != nil {
			return Statement{}, compileErrorf(ErrCodeInvalidValue, ti.Name()+"."+col.Name, "%v", err)
		}
		sets = append(sets, fmt.Sprintf("%s = %s", b.d.Quote(col.Name), b.bind(cv)))
	}
	if len(sets) == 0 {
		// Nothing to write; still touch the row so Affected reports existence.
		sets = append(sets, fmt.Sprintf("%s = %s", b.d.Quote(pk.Name), b.d.Quote(pk.Name)))
	}

	return Statement{
		SQL: fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
			b.table(ti), strings.Join(sets, ", "), b.d.Quote(pk.Name), b.bind(id)),
		Args: b.args,
	}, nil
}

// Delete compiles a delete by primary key.
func (c *Compiler) Delete(ti *schema.TableInfo, row *schema.Row) (Statement, error) {
	b := c.newBuilder()
	id, err := keyOf(ti, row)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:  fmt.Sprintf("DELETE FROM %s WHERE %s = %s", b.table(ti), b.d.Quote(ti.PrimaryKey.Name), b.bind(id)),
		Args: b.args,
	}, nil
}

// UpdateWhere compiles a set-based update. The filter and lookups refer to
// the updated table by its quoted name.
//
//	UPDATE "T" SET "A" = (SELECT t1."Id" FROM "P" t1 WHERE t1."ServerId" = "T"."ServerPId") WHERE ...
func (c *Compiler) UpdateWhere(ti *schema.TableInfo, set []storage.Assignment, filter where.Expr) (Statement, error) {
	if len(set) == 0 {
		return Statement{}, compileErrorf(ErrCodeUnsupported, "", "table %q: update without assignments", ti.Name())
	}
	b := c.newBuilder()
	outer := b.table(ti)

	sets := make([]string, 0, len(set))
	for _, a := range set {
		col, ok := ti.Column(a.Column)
		if !ok {
			return Statement{}, compileErrorf(ErrCodeUnknownColumn, a.Column, "table %q has no column %q", ti.Name(), a.Column)
		}
		if a.Lookup == nil {
			cv, err := col.Coerce(a.Value)
			if err != nil {
				return Statement{}, compileErrorf(ErrCodeInvalidValue, a.Column, "%v", err)
			}
			sets = append(sets, fmt.Sprintf("%s = %s", b.d.Quote(col.Name), b.bind(cv)))
			continue
		}

		l := a.Lookup
		for _, name := range []string{l.Select, l.Match} {
			if !l.Table.HasColumn(name) {
				return Statement{}, compileErrorf(ErrCodeUnknownColumn, a.Column, "table %q has no column %q", l.Table.Name(), name)
			}
		}
		if !ti.HasColumn(l.Outer) {
			return Statement{}, compileErrorf(ErrCodeUnknownColumn, a.Column, "table %q has no column %q", ti.Name(), l.Outer)
		}
		la := b.alias()
		sets = append(sets, fmt.Sprintf("%s = (SELECT %s FROM %s %s WHERE %s = %s)",
			b.d.Quote(col.Name), b.col(la, l.Select), b.table(l.Table), la, b.col(la, l.Match), b.col(outer, l.Outer)))
	}

	sql := fmt.Sprintf("UPDATE %s SET %s", outer, strings.Join(sets, ", "))
	if filter != nil {
		w, err := b.where(ti, outer, filter)
		if err != nil {
			return Statement{}, err
		}
		sql += " WHERE " + w
	}
	return Statement{SQL: sql, Args: b.args}, nil
}

func keyOf(ti *schema.TableInfo, row *schema.Row) (any, error) {
	pk := ti.PrimaryKey
	v, ok := row.Get(pk.Name)
	if !ok || v == nil {
		return nil, compileErrorf(ErrCodeMissingKey, ti.Name()+"."+pk.Name, "row has no primary key value")
	}
	id, err := pk.Coerce(v)
	if err != nil {
		return nil, compileErrorf(ErrCodeInvalidValue, ti.Name()+"."+pk.Name, "%v", err)
	}
	return id, nil
}

func projection(ti *schema.TableInfo, columns []string) ([]string, error) {
	if len(columns) == 0 {
		return ti.ColumnNames(), nil
	}
	seen := make(map[string]bool, len(columns))
	out := make([]string, 0, len(columns))
	for _, name := range columns {
		if seen[name] {
			continue
		}
		if !ti.HasColumn(name) {
			return nil, compileErrorf(ErrCodeUnknownColumn, name, "table %q has no column %q", ti.Name(), name)
		}
		seen[name] = true
		out = append(out, name)
	}
	return out, nil
}
