package sqlstore

import (
	"context"
	"fmt"

	"github.com/roach88/ormso/internal/querysql"
	"github.com/roach88/ormso/internal/schema"
	"github.com/roach88/ormso/internal/storage"
	"github.com/roach88/ormso/internal/where"
)

// Insert writes a row and returns the stored primary key.
func (s *Store) Insert(ctx context.Context, ti *schema.TableInfo, row *schema.Row) (storage.Result, error) {
	st, err := s.compiler.Insert(ti, row)
	if err != nil {
		return storage.Result{}, fmt.Errorf("insert %s: %w", ti.Name(), err)
	}
	s.trace(ctx, "insert", st)

	var id any
	if err := s.conn(ctx).QueryRowContext(ctx, st.SQL, st.Args...).Scan(&id); err != nil {
		return storage.Result{}, storageError("insert", ti.Name(), st, err)
	}
	key, err := ti.PrimaryKey.Coerce(id)
	if err != nil {
		return storage.Result{}, fmt.Errorf("insert %s: returned key: %w", ti.Name(), err)
	}
	return storage.Result{Affected: 1, ID: key}, nil
}

// Update writes the row's set columns.
func (s *Store) Update(ctx context.Context, ti *schema.TableInfo, row *schema.Row) (storage.Result, error) {
	st, err := s.compiler.Update(ti, row)
	if err != nil {
		return storage.Result{}, fmt.Errorf("update %s: %w", ti.Name(), err)
	}
	return s.execWrite(ctx, "update", ti, st, row.Value(ti.PrimaryKey.Name))
}

// Delete removes the row by primary key.
func (s *Store) Delete(ctx context.Context, ti *schema.TableInfo, row *schema.Row) (storage.Result, error) {
	st, err := s.compiler.Delete(ti, row)
	if err != nil {
		return storage.Result{}, fmt.Errorf("delete %s: %w", ti.Name(), err)
	}
	return s.execWrite(ctx, "delete", ti, st, row.Value(ti.PrimaryKey.Name))
}

// UpdateWhere performs a set-based update.
func (s *Store) UpdateWhere(ctx context.Context, ti *schema.TableInfo, set []storage.Assignment, filter where.Expr) (storage.Result, error) {
	st, err := s.compiler.UpdateWhere(ti, set, filter)
	if err != nil {
		return storage.Result{}, fmt.Errorf("update %s: %w", ti.Name(), err)
	}
	return s.execWrite(ctx, "update where", ti, st, nil)
}

func (s *Store) execWrite(ctx context.Context, op string, ti *schema.TableInfo, st querysql.Statement, id any) (storage.Result, error) {
	s.trace(ctx, op, st)
	res, err := s.conn(ctx).ExecContext(ctx, st.SQL, st.Args...)
	if err != nil {
		return storage.Result{}, storageError(op, ti.Name(), st, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storage.Result{}, storageError(op, ti.Name(), st, err)
	}
	return storage.Result{Affected: n, ID: id}, nil
}

// Select returns the rows matching q.
func (s *Store) Select(ctx context.Context, ti *schema.TableInfo, q storage.Query) ([]*schema.Row, error) {
	st, err := s.compiler.Select(ti, q)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", ti.Name(), err)
	}
	return s.query(ctx, ti, st)
}

// SelectByID returns the row with the primary key id, or nil.
func (s *Store) SelectByID(ctx context.Context, ti *schema.TableInfo, id any, columns []string) (*schema.Row, error) {
	st, err := s.compiler.SelectByID(ti, id, columns)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", ti.Name(), err)
	}
	rows, err := s.query(ctx, ti, st)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// SelectCount returns the number of rows matching filter.
func (s *Store) SelectCount(ctx context.Context, ti *schema.TableInfo, filter where.Expr) (int64, error) {
	st, err := s.compiler.Count(ti, filter)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", ti.Name(), err)
	}
	s.trace(ctx, "count", st)

	var n int64
	if err := s.conn(ctx).QueryRowContext(ctx, st.SQL, st.Args...).Scan(&n); err != nil {
		return 0, storageError("count", ti.Name(), st, err)
	}
	return n, nil
}

// query runs a select and decodes every row. The result set is fully read
// and closed before returning so the connection is free for the caller.
func (s *Store) query(ctx context.Context, ti *schema.TableInfo, st querysql.Statement) ([]*schema.Row, error) {
	s.trace(ctx, "select", st)
	rows, err := s.conn(ctx).QueryContext(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, storageError("select", ti.Name(), st, err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, storageError("select", ti.Name(), st, err)
	}
	cols := make([]schema.Column, len(names))
	for i, name := range names {
		col, ok := ti.Column(name)
		if !ok {
			return nil, fmt.Errorf("select %s: unexpected result column %q", ti.Name(), name)
		}
		cols[i] = col
	}

	var out []*schema.Row
	for rows.Next() {
		raw := make([]any, len(names))
		dest := make([]any, len(names))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, storageError("select", ti.Name(), st, err)
		}

		row := schema.NewRow(nil)
		for i, col := range cols {
			v, err := col.Coerce(raw[i])
			if err != nil {
				return nil, fmt.Errorf("select %s: %w", ti.Name(), err)
			}
			row.Set(col.Name, v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("select", ti.Name(), st, err)
	}
	return out, nil
}
