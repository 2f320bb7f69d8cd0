package model

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/ormso/internal/schema"
)

// Insert runs the insert pipeline: before-insert hooks, the physical
// insert, the child cascade and after-insert hooks. The generated primary
// key is set on the returned row. A text primary key without
// auto-increment that is absent receives a UUIDv7.
func (m *DataModel) Insert(ctx context.Context, row *schema.Row) (*schema.Row, error) {
	if row == nil {
		return nil, fmt.Errorf("insert %s: %w", m.Name(), ErrNoItem)
	}
	if err := m.ready(); err != nil {
		return nil, err
	}
	var out *schema.Row
	err := m.inTx(ctx, func(ctx context.Context) error {
		var err error
		out, err = m.insert(ctx, row)
		return err
	})
	return out, err
}

// Update runs the update pipeline for the set columns of row. It fails with
// ErrNotFound when no stored row has the primary key.
func (m *DataModel) Update(ctx context.Context, row *schema.Row) (*schema.Row, error) {
	if err := m.checkKeyed("update", row); err != nil {
		return nil, err
	}
	var out *schema.Row
	err := m.inTx(ctx, func(ctx context.Context) error {
		var err error
		out, err = m.update(ctx, row)
		return err
	})
	return out, err
}

// Delete runs the delete pipeline. Children are not deleted.
func (m *DataModel) Delete(ctx context.Context, row *schema.Row) (*schema.Row, error) {
	if err := m.checkKeyed("delete", row); err != nil {
		return nil, err
	}
	var out *schema.Row
	err := m.inTx(ctx, func(ctx context.Context) error {
		var err error
		out, err = m.delete(ctx, row)
		return err
	})
	return out, err
}

// UpdateOrInsert updates the row when its primary key is stored, and
// inserts it otherwise.
func (m *DataModel) UpdateOrInsert(ctx context.Context, row *schema.Row) (*schema.Row, error) {
	if row == nil {
		return nil, fmt.Errorf("update or insert %s: %w", m.Name(), ErrNoItem)
	}
	if err := m.ready(); err != nil {
		return nil, err
	}
	var out *schema.Row
	err := m.inTx(ctx, func(ctx context.Context) error {
		var err error
		out, err = m.updateOrInsert(ctx, row)
		return err
	})
	return out, err
}

// InsertAndSelect inserts row and returns it as stored.
func (m *DataModel) InsertAndSelect(ctx context.Context, row *schema.Row, opts *SelectOptions) (*schema.Row, error) {
	saved, err := m.Insert(ctx, row)
	if err != nil {
		return nil, err
	}
	return m.reselect(ctx, saved, opts)
}

// UpdateAndSelect updates row and returns it as stored.
func (m *DataModel) UpdateAndSelect(ctx context.Context, row *schema.Row, opts *SelectOptions) (*schema.Row, error) {
	saved, err := m.Update(ctx, row)
	if err != nil {
		return nil, err
	}
	return m.reselect(ctx, saved, opts)
}

// UpdateOrInsertAndSelect upserts row and returns it as stored.
func (m *DataModel) UpdateOrInsertAndSelect(ctx context.Context, row *schema.Row, opts *SelectOptions) (*schema.Row, error) {
	saved, err := m.UpdateOrInsert(ctx, row)
	if err != nil {
		return nil, err
	}
	return m.reselect(ctx, saved, opts)
}

func (m *DataModel) reselect(ctx context.Context, saved *schema.Row, opts *SelectOptions) (*schema.Row, error) {
	id := saved.Value(m.info.PrimaryKey.Name)
	row, err := m.SelectByID(ctx, id, opts)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("select %s %v: %w", m.Name(), id, ErrNotFound)
	}
	return row, nil
}

func (m *DataModel) checkKeyed(op string, row *schema.Row) error {
	if row == nil {
		return fmt.Errorf("%s %s: %w", op, m.Name(), ErrNoItem)
	}
	if err := m.ready(); err != nil {
		return err
	}
	if id, ok := row.Get(m.info.PrimaryKey.Name); !ok || id == nil {
		return fmt.Errorf("%s %s: %w", op, m.Name(), ErrNoPrimaryKey)
	}
	return nil
}

// inTx runs fn in a storage transaction joined to any carried by ctx.
func (m *DataModel) inTx(ctx context.Context, fn func(context.Context) error) error {
	a := m.ctx.adapter
	txCtx, err := a.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", m.Name(), err)
	}
	if err := fn(txCtx); err != nil {
		if rbErr := a.RollbackTransaction(txCtx); rbErr != nil {
			m.ctx.logger.ErrorContext(ctx, "rollback failed", "table", m.Name(), "error", rbErr)
		}
		return err
	}
	if err := a.CommitTransaction(txCtx); err != nil {
		return fmt.Errorf("%s: %w", m.Name(), err)
	}
	return nil
}

func (m *DataModel) trigger(ctx context.Context, row *schema.Row) *TriggerArgs {
	return &TriggerArgs{Model: m, Row: row, Origin: OriginFrom(ctx)}
}

func (m *DataModel) insert(ctx context.Context, row *schema.Row) (*schema.Row, error) {
	pk := m.info.PrimaryKey
	if id, ok := row.Get(pk.Name); (!ok || id == nil) && pk.Type == schema.Text && !pk.AutoIncrement {
		row.Set(pk.Name, uuid.Must(uuid.NewV7()).String())
	}

	args := m.trigger(ctx, row)
	if err := m.runHooks(ctx, BeforeInsert, args); err != nil {
		return nil, err
	}
	if args.Cancel {
		return args.Row, nil
	}
	row = args.Row

	res, err := m.ctx.adapter.Insert(ctx, m.info, row)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", m.Name(), err)
	}
	if res.ID != nil {
		row.Set(pk.Name, res.ID)
	}
	m.ctx.logger.DebugContext(ctx, "row inserted",
		"table", m.Name(),
		"id", row.Value(pk.Name),
		"origin", args.Origin.String(),
	)

	if err := m.saveChildRelations(ctx, row); err != nil {
		return nil, err
	}
	if err := m.runHooks(ctx, AfterInsert, args); err != nil {
		return nil, err
	}
	return row, nil
}

func (m *DataModel) update(ctx context.Context, row *schema.Row) (*schema.Row, error) {
	args := m.trigger(ctx, row)
	if err := m.runHooks(ctx, BeforeUpdate, args); err != nil {
		return nil, err
	}
	if args.Cancel {
		return args.Row, nil
	}
	row = args.Row

	res, err := m.ctx.adapter.Update(ctx, m.info, row)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", m.Name(), err)
	}
	if res.Affected == 0 {
		return nil, fmt.Errorf("update %s %v: %w", m.Name(), row.Value(m.info.PrimaryKey.Name), ErrNotFound)
	}
	m.ctx.logger.DebugContext(ctx, "row updated",
		"table", m.Name(),
		"id", row.Value(m.info.PrimaryKey.Name),
		"origin", args.Origin.String(),
	)

	if err := m.saveChildRelations(ctx, row); err != nil {
		return nil, err
	}
	if err := m.runHooks(ctx, AfterUpdate, args); err != nil {
		return nil, err
	}
	return row, nil
}

func (m *DataModel) delete(ctx context.Context, row *schema.Row) (*schema.Row, error) {
	args := m.trigger(ctx, row)
	if err := m.runHooks(ctx, BeforeDelete, args); err != nil {
		return nil, err
	}
	if args.Cancel {
		return args.Row, nil
	}
	row = args.Row

	res, err := m.ctx.adapter.Delete(ctx, m.info, row)
	if err != nil {
		return nil, fmt.Errorf("delete %s: %w", m.Name(), err)
	}
	if res.Affected == 0 {
		return nil, fmt.Errorf("delete %s %v: %w", m.Name(), row.Value(m.info.PrimaryKey.Name), ErrNotFound)
	}
	m.ctx.logger.DebugContext(ctx, "row deleted",
		"table", m.Name(),
		"id", row.Value(m.info.PrimaryKey.Name),
		"origin", args.Origin.String(),
	)

	if err := m.runHooks(ctx, AfterDelete, args); err != nil {
		return nil, err
	}
	return row, nil
}

func (m *DataModel) updateOrInsert(ctx context.Context, row *schema.Row) (*schema.Row, error) {
	pk := m.info.PrimaryKey.Name
	if id, ok := row.Get(pk); ok && id != nil {
		existing, err := m.ctx.adapter.SelectByID(ctx, m.info, id, []string{pk})
		if err != nil {
			return nil, fmt.Errorf("update or insert %s: %w", m.Name(), err)
		}
		if existing != nil {
			return m.update(ctx, row)
		}
	}
	return m.insert(ctx, row)
}

// saveChildRelations persists the child collections carried by row.
//
// Each child is stamped with row's primary key in the relation column, then
// inserted when it has no primary key and upserted otherwise. When the row
// also carries the previous child keys for an association, previously
// associated children missing from the new collection are deleted.
func (m *DataModel) saveChildRelations(ctx context.Context, row *schema.Row) error {
	parentID := row.Value(m.info.PrimaryKey.Name)

	for _, rel := range m.info.ToChildren {
		assoc := rel.ChildAssociation
		if assoc == "" {
			continue
		}
		children, hasChildren := row.Children(assoc)
		prev, hasPrev := row.PreviousKeys(assoc)
		if !hasChildren && !hasPrev {
			continue
		}
		if m.info.AmbiguousAssociation(assoc) {
			return fmt.Errorf("save %s.%s: %w", m.Name(), assoc, schema.ErrAmbiguousAssociation)
		}

		child, err := m.ctx.modelFor(rel.Child)
		if err != nil {
			return err
		}
		childPK := rel.Child.PrimaryKey.Name
		kept := make(map[string]bool, len(children))

		err = Sequential(ctx, children, func(ctx context.Context, c *schema.Row) error {
			c.Set(rel.Column.Name, parentID)
			var saved *schema.Row
			var err error
			if id, ok := c.Get(childPK); ok && id != nil {
				saved, err = child.updateOrInsert(ctx, c)
			} else {
				saved, err = child.insert(ctx, c)
			}
			if err != nil {
				return fmt.Errorf("save %s.%s: %w", m.Name(), assoc, err)
			}
			kept[keyString(saved.Value(childPK))] = true
			return nil
		})
		if err != nil {
			return err
		}

		if !hasPrev {
			continue
		}
		err = Sequential(ctx, prev, func(ctx context.Context, id any) error {
			if id == nil || kept[keyString(id)] {
				return nil
			}
			existing, err := m.ctx.adapter.SelectByID(ctx, rel.Child, id, nil)
			if err != nil {
				return fmt.Errorf("load removed %s.%s: %w", m.Name(), assoc, err)
			}
			// Already gone, or moved to another parent since the edit began.
			if existing == nil || keyString(existing.Value(rel.Column.Name)) != keyString(parentID) {
				return nil
			}
			if _, err := child.delete(ctx, existing); err != nil {
				return fmt.Errorf("delete removed %s.%s: %w", m.Name(), assoc, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// keyString normalizes key values of differing Go types for comparison.
func keyString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
