package model

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/ormso/internal/schema"
	"github.com/roach88/ormso/internal/storage"
	"github.com/roach88/ormso/internal/where"
)

// Select returns the rows matching the combined filter of opts, expanded
// along opts.Expand. When opts.RequireTotalCount is set the count of all
// matching rows, ignoring skip and take, is issued after the row query.
func (m *DataModel) Select(ctx context.Context, opts *SelectOptions) (*SelectResult, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &SelectOptions{}
	}
	filter := m.CombinedWhere(opts)

	rows, err := m.ctx.adapter.Select(ctx, m.info, storage.Query{
		Columns: m.projection(opts),
		Where:   filter,
		OrderBy: opts.OrderBy,
		Skip:    opts.Skip,
		Take:    opts.Take,
	})
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", m.Name(), err)
	}
	if err := m.expandAll(ctx, rows, opts); err != nil {
		return nil, err
	}

	res := &SelectResult{Rows: rows}
	if opts.RequireTotalCount {
		n, err := m.ctx.adapter.SelectCount(ctx, m.info, filter)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", m.Name(), err)
		}
		res.Count = &n
	}
	return res, nil
}

// SelectByID returns the row with primary key id, or nil when it does not
// exist or the combined filter hides it. opts may be nil; its skip, take and
// order are ignored.
func (m *DataModel) SelectByID(ctx context.Context, id any, opts *SelectOptions) (*schema.Row, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &SelectOptions{}
	}
	byID := *opts
	byID.Where = where.AllOf(where.Eq(m.info.PrimaryKey.Name, id), opts.Where)

	rows, err := m.ctx.adapter.Select(ctx, m.info, storage.Query{
		Columns: m.projection(opts),
		Where:   m.CombinedWhere(&byID),
		Take:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("select %s %v: %w", m.Name(), id, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if err := m.expandAll(ctx, rows, opts); err != nil {
		return nil, err
	}
	return rows[0], nil
}

// SelectCount returns the number of rows matching the combined filter.
func (m *DataModel) SelectCount(ctx context.Context, opts *SelectOptions) (int64, error) {
	if err := m.ready(); err != nil {
		return 0, err
	}
	n, err := m.ctx.adapter.SelectCount(ctx, m.info, m.CombinedWhere(opts))
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", m.Name(), err)
	}
	return n, nil
}

// Expand eager-loads the association path ("A/B/C") onto rows. A to-parent
// segment attaches a single row (nil when absent); a to-child segment
// attaches a slice. Related rows pass through their own table's combined
// filter.
func (m *DataModel) Expand(ctx context.Context, rows []*schema.Row, path string, opts *SelectOptions) error {
	path = strings.Trim(path, "/")
	if len(rows) == 0 || path == "" {
		return nil
	}
	seg, rest, _ := strings.Cut(path, "/")
	rel, dir, err := m.info.LookupAssociation(seg)
	if errors.Is(err, schema.ErrAmbiguousAssociation) {
		return fmt.Errorf("expand %s: %w", m.Name(), err)
	}
	if err != nil {
		return fmt.Errorf("expand %s: %w: %q", m.Name(), ErrUnknownAssociation, seg)
	}
	inner := &SelectOptions{IncludeSoftDeleted: opts != nil && opts.IncludeSoftDeleted}

	var (
		next    *DataModel
		fetched []*schema.Row
	)
	switch dir {
	case schema.ToParent:
		if next, err = m.ctx.modelFor(rel.Parent); err != nil {
			return err
		}
		parentPK := rel.Parent.PrimaryKey.Name
		if keys := distinctValues(rows, rel.Column.Name); len(keys) > 0 {
			if fetched, err = next.selectRows(ctx, where.In(parentPK, keys), inner); err != nil {
				return fmt.Errorf("expand %s.%s: %w", m.Name(), seg, err)
			}
		}
		byKey := make(map[string]*schema.Row, len(fetched))
		for _, p := range fetched {
			byKey[keyString(p.Value(parentPK))] = p
		}
		for _, r := range rows {
			fk := r.Value(rel.Column.Name)
			if fk == nil {
				r.SetParent(seg, nil)
				continue
			}
			r.SetParent(seg, byKey[keyString(fk)])
		}

	case schema.ToChild:
		if next, err = m.ctx.modelFor(rel.Child); err != nil {
			return err
		}
		if keys := distinctValues(rows, m.info.PrimaryKey.Name); len(keys) > 0 {
			if fetched, err = next.selectRows(ctx, where.In(rel.Column.Name, keys), inner); err != nil {
				return fmt.Errorf("expand %s.%s: %w", m.Name(), seg, err)
			}
		}
		groups := make(map[string][]*schema.Row)
		for _, c := range fetched {
			k := keyString(c.Value(rel.Column.Name))
			groups[k] = append(groups[k], c)
		}
		for _, r := range rows {
			r.SetChildren(seg, groups[keyString(r.Value(m.info.PrimaryKey.Name))])
		}
	}

	if rest == "" {
		return nil
	}
	return next.Expand(ctx, fetched, rest, opts)
}

func (m *DataModel) expandAll(ctx context.Context, rows []*schema.Row, opts *SelectOptions) error {
	return Sequential(ctx, opts.Expand, func(ctx context.Context, path string) error {
		return m.Expand(ctx, rows, path, opts)
	})
}

func (m *DataModel) selectRows(ctx context.Context, filter where.Expr, opts *SelectOptions) ([]*schema.Row, error) {
	scoped := *opts
	scoped.Where = filter
	return m.ctx.adapter.Select(ctx, m.info, storage.Query{Where: m.CombinedWhere(&scoped)})
}

// projection returns the requested columns plus the key columns the
// expansion paths need to join on. Nil selects every column.
func (m *DataModel) projection(opts *SelectOptions) []string {
	if len(opts.Columns) == 0 {
		return nil
	}
	cols := slices.Clone(opts.Columns)
	need := func(name string) {
		if !slices.Contains(cols, name) {
			cols = append(cols, name)
		}
	}
	for _, path := range opts.Expand {
		seg, _, _ := strings.Cut(strings.Trim(path, "/"), "/")
		rel, dir, ok := m.info.Association(seg)
		if !ok {
			continue
		}
		if dir == schema.ToParent {
			need(rel.Column.Name)
		} else {
			need(m.info.PrimaryKey.Name)
		}
	}
	return cols
}

func distinctValues(rows []*schema.Row, column string) []any {
	seen := make(map[string]bool, len(rows))
	var out []any
	for _, r := range rows {
		v := r.Value(column)
		if v == nil {
			continue
		}
		k := keyString(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}
