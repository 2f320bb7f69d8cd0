package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/ormso/internal/schema"
	"github.com/roach88/ormso/internal/where"
)

// HookKind selects the point of the write pipeline a hook runs at.
type HookKind int

const (
	BeforeInsert HookKind = iota
	AfterInsert
	BeforeUpdate
	AfterUpdate
	BeforeDelete
	AfterDelete
	hookKinds
)

func (k HookKind) String() string {
	switch k {
	case BeforeInsert:
		return "before-insert"
	case AfterInsert:
		return "after-insert"
	case BeforeUpdate:
		return "before-update"
	case AfterUpdate:
		return "after-update"
	case BeforeDelete:
		return "before-delete"
	case AfterDelete:
		return "after-delete"
	default:
		return "unknown"
	}
}

// TriggerArgs is passed to every hook of one write.
//
// Row may be mutated by before-hooks; the physical write uses it as left by
// the last hook. Cancel set by a before-hook does not stop the remaining
// before-hooks; once they have all run, the physical write, the cascade and
// the after-hooks are skipped.
type TriggerArgs struct {
	Model  *DataModel
	Row    *schema.Row
	Origin Origin
	Cancel bool
}

// Hook is a lifecycle callback. ctx carries the write's transaction; any
// storage work a hook does must use it.
type Hook func(ctx context.Context, args *TriggerArgs) error

// WhereProvider contributes a filter fragment for a select. It returns nil
// to contribute nothing for these options.
type WhereProvider func(opts *SelectOptions) where.Expr

// DataModel orchestrates persistence for one table.
type DataModel struct {
	ctx  *Context
	info *schema.TableInfo
	base *DataModel

	mu        sync.RWMutex
	hooks     [hookKinds][]Hook
	fixed     []where.Expr
	providers []WhereProvider
}

// Name returns the table name.
func (m *DataModel) Name() string {
	return m.info.Name()
}

// Info returns the table metadata. It is resolved once the context is
// finalized.
func (m *DataModel) Info() *schema.TableInfo {
	return m.info
}

// Base returns the model this one inherits from, or nil.
func (m *DataModel) Base() *DataModel {
	return m.base
}

// Context returns the owning registry.
func (m *DataModel) Context() *Context {
	return m.ctx
}

// AddColumn appends a column to the table declaration. It is only allowed
// before Finalize.
func (m *DataModel) AddColumn(col schema.Column) error {
	return m.ctx.catalog.AddColumn(m.Name(), col)
}

// On registers a hook.
func (m *DataModel) On(kind HookKind, h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[kind] = append(m.hooks[kind], h)
}

// AppendFixedWhere adds a fragment ANDed into every select of this table
// and of tables inheriting from it.
func (m *DataModel) AppendFixedWhere(e where.Expr) {
	if e == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixed = append(m.fixed, e)
}

// AddWhereProvider adds a contextual filter fragment.
func (m *DataModel) AddWhereProvider(p WhereProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = append(m.providers, p)
}

// chain returns the hooks of kind: own hooks first, then each base's.
func (m *DataModel) chain(kind HookKind) []Hook {
	var out []Hook
	for dm := m; dm != nil; dm = dm.base {
		dm.mu.RLock()
		out = append(out, dm.hooks[kind]...)
		dm.mu.RUnlock()
	}
	return out
}

func (m *DataModel) runHooks(ctx context.Context, kind HookKind, args *TriggerArgs) error {
	for i, h := range m.chain(kind) {
		if err := h(ctx, args); err != nil {
			return fmt.Errorf("%s %s hook %d: %w", m.Name(), kind, i, err)
		}
	}
	return nil
}

// CombinedWhere returns the filter a select with opts applies: the custom
// where, the fixed fragments, the providers' fragments and, recursively, the
// base table's combined filter without the custom where.
func (m *DataModel) CombinedWhere(opts *SelectOptions) where.Expr {
	if opts == nil {
		opts = &SelectOptions{}
	}
	return where.AllOf(append([]where.Expr{opts.Where}, m.filters(opts)...)...)
}

func (m *DataModel) filters(opts *SelectOptions) []where.Expr {
	m.mu.RLock()
	parts := append([]where.Expr(nil), m.fixed...)
	providers := append([]WhereProvider(nil), m.providers...)
	m.mu.RUnlock()

	for _, p := range providers {
		if e := p(opts); e != nil {
			parts = append(parts, e)
		}
	}
	if m.base != nil {
		parts = append(parts, m.base.filters(opts)...)
	}
	return parts
}

func (m *DataModel) ready() error {
	if !m.ctx.Finalized() {
		return fmt.Errorf("%s: %w", m.Name(), ErrNotFinalized)
	}
	return nil
}
