package model

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/ormso/internal/schema"
	"github.com/roach88/ormso/internal/storage"
)

// Context is the registry of data models sharing one catalog and one
// storage adapter.
type Context struct {
	adapter storage.Adapter
	catalog *schema.Catalog
	logger  *slog.Logger

	mu     sync.RWMutex
	models map[string]*DataModel
	order  []*DataModel
}

// Option configures a Context.
type Option func(*Context)

// WithLogger sets the logger for write tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Context) {
		c.logger = logger
	}
}

// NewContext creates an empty registry over adapter.
func NewContext(adapter storage.Adapter, opts ...Option) *Context {
	c := &Context{
		adapter: adapter,
		catalog: schema.NewCatalog(),
		logger:  slog.Default(),
		models:  make(map[string]*DataModel),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterOption configures a table registration.
type RegisterOption func(*registration)

type registration struct {
	base *DataModel
}

// WithBase makes the new table inherit the columns and hooks of base.
func WithBase(base *DataModel) RegisterOption {
	return func(r *registration) {
		r.base = base
	}
}

// Register declares a table and returns its data model. It fails with
// ErrDuplicateModel for a name already registered and with
// schema.ErrFinalized after Finalize.
func (c *Context) Register(t schema.Table, opts ...RegisterOption) (*DataModel, error) {
	var reg registration
	for _, opt := range opts {
		opt(&reg)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.models[t.Name]; exists {
		return nil, fmt.Errorf("register %q: %w", t.Name, ErrDuplicateModel)
	}
	baseName := ""
	if reg.base != nil {
		if reg.base.ctx != c {
			return nil, fmt.Errorf("register %q: base %q belongs to another context", t.Name, reg.base.Name())
		}
		baseName = reg.base.Name()
	}

	ti, err := c.catalog.Add(t, baseName)
	if err != nil {
		return nil, fmt.Errorf("register %q: %w", t.Name, err)
	}
	dm := &DataModel{ctx: c, info: ti, base: reg.base}
	c.models[t.Name] = dm
	c.order = append(c.order, dm)
	return dm, nil
}

// Finalize resolves the catalog and migrates every non-abstract table. It
// returns the names of tables whose structure changed. A second call fails
// with schema.ErrFinalized.
func (c *Context) Finalize(ctx context.Context) ([]string, error) {
	if err := c.catalog.Finalize(); err != nil {
		return nil, err
	}

	var changed []string
	for _, dm := range c.Models() {
		if dm.info.IsAbstract() {
			continue
		}
		ok, err := c.adapter.UpdateSchema(ctx, dm.info)
		if err != nil {
			return changed, fmt.Errorf("update schema %q: %w", dm.Name(), err)
		}
		if ok {
			changed = append(changed, dm.Name())
		}
	}
	c.logger.InfoContext(ctx, "schema finalized",
		"tables", len(c.order),
		"changed", len(changed),
	)
	return changed, nil
}

// Finalized reports whether Finalize has completed.
func (c *Context) Finalized() bool {
	return c.catalog.Finalized()
}

// Model returns the data model registered under name.
func (c *Context) Model(name string) (*DataModel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dm, ok := c.models[name]
	return dm, ok
}

// Models returns all models in registration order.
func (c *Context) Models() []*DataModel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*DataModel, len(c.order))
	copy(out, c.order)
	return out
}

// Catalog returns the schema catalog.
func (c *Context) Catalog() *schema.Catalog {
	return c.catalog
}

// Adapter returns the storage adapter.
func (c *Context) Adapter() storage.Adapter {
	return c.adapter
}

// Logger returns the context's logger.
func (c *Context) Logger() *slog.Logger {
	return c.logger
}

func (c *Context) modelFor(ti *schema.TableInfo) (*DataModel, error) {
	dm, ok := c.Model(ti.Name())
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, ti.Name())
	}
	return dm, nil
}
