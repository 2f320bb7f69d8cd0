package schema

import (
	"fmt"
	"strings"
	"sync"
)

// Catalog is the set of registered tables.
//
// Tables and columns may be added until Finalize. Finalize resolves column
// inheritance, primary keys and the relation graph exactly once; afterwards
// the catalog is read-only and safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	tables    []*TableInfo
	byName    map[string]*TableInfo
	finalized bool
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{byName: make(map[string]*TableInfo)}
}

// Add registers a table. base names an already registered table whose
// columns are inherited; it may be empty.
//
// The returned TableInfo is a shell until Finalize fills in the resolved
// columns, primary key and relations.
func (c *Catalog) Add(t Table, base string) (*TableInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finalized {
		return nil, fmt.Errorf("add table %q: %w", t.Name, ErrFinalized)
	}
	if strings.TrimSpace(t.Name) == "" {
		return nil, fmt.Errorf("add table: empty table name")
	}
	if _, exists := c.byName[t.Name]; exists {
		return nil, fmt.Errorf("add table %q: %w", t.Name, ErrDuplicateTable)
	}

	seen := make(map[string]bool, len(t.Columns))
	for _, col := range t.Columns {
		if col.Name == "" {
			return nil, fmt.Errorf("add table %q: column with empty name", t.Name)
		}
		if seen[col.Name] {
			return nil, fmt.Errorf("add table %q: duplicate column %q", t.Name, col.Name)
		}
		seen[col.Name] = true
	}

	ti := &TableInfo{
		Table:   cloneTable(t),
		catalog: c,
	}
	if base != "" {
		b, ok := c.byName[base]
		if !ok {
			return nil, fmt.Errorf("add table %q: base %q: %w", t.Name, base, ErrUnknownTable)
		}
		ti.Base = b
	}

	c.tables = append(c.tables, ti)
	c.byName[t.Name] = ti
	return ti, nil
}

// AddColumn appends a column to a registered table's declaration.
func (c *Catalog) AddColumn(table string, col Column) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finalized {
		return fmt.Errorf("add column %s.%s: %w", table, col.Name, ErrFinalized)
	}
	ti, ok := c.byName[table]
	if !ok {
		return fmt.Errorf("add column %s.%s: %w", table, col.Name, ErrUnknownTable)
	}
	if _, exists := ti.Table.Column(col.Name); exists {
		return fmt.Errorf("add column %s.%s: duplicate column", table, col.Name)
	}
	ti.Table.Columns = append(ti.Table.Columns, col)
	return nil
}

// Lookup returns the table registered under name.
func (c *Catalog) Lookup(name string) (*TableInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ti, ok := c.byName[name]
	return ti, ok
}

// Tables returns all tables in registration order.
func (c *Catalog) Tables() []*TableInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*TableInfo, len(c.tables))
	copy(out, c.tables)
	return out
}

// Finalized reports whether Finalize has completed.
func (c *Catalog) Finalized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.finalized
}

// Finalize resolves every registered table. It may be called once.
//
// Validation:
//   - every non-abstract table has exactly one primary-key column
//   - every relation targets a registered, non-abstract parent table
//   - association names never shadow a column
//   - parent association names are unique per table
//
// A child association name inherited by several descendants of the child
// table is kept; LookupAssociation reports it as ambiguous.
func (c *Catalog) Finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finalized {
		return fmt.Errorf("finalize: %w", ErrFinalized)
	}

	// Bases are always registered before their descendants, so a single
	// pass in registration order sees resolved base columns.
	for _, ti := range c.tables {
		ti.Columns = resolveColumns(ti)
		pk, err := primaryKey(ti)
		if err != nil {
			return err
		}
		ti.PrimaryKey = pk
		ti.ToParents = nil
		ti.ToChildren = nil
	}

	for _, ti := range c.tables {
		if ti.IsAbstract() {
			continue
		}
		for _, col := range ti.Columns {
			if col.Relation == nil {
				continue
			}
			rel, err := c.resolveRelation(ti, col)
			if err != nil {
				return err
			}
			ti.ToParents = append(ti.ToParents, rel)
			rel.Parent.ToChildren = append(rel.Parent.ToChildren, rel)
		}
	}

	for _, ti := range c.tables {
		if err := checkAssociations(ti); err != nil {
			return err
		}
	}

	c.finalized = true
	return nil
}

func (c *Catalog) resolveRelation(child *TableInfo, col Column) (*RelationInfo, error) {
	r := col.Relation
	parent, ok := c.byName[r.ParentTable]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s references unknown table %q",
			ErrInvalidRelation, child.Name(), col.Name, r.ParentTable)
	}
	if parent.IsAbstract() {
		return nil, fmt.Errorf("%w: %s.%s references abstract table %q",
			ErrInvalidRelation, child.Name(), col.Name, r.ParentTable)
	}
	if r.ParentAssociation == "" {
		return nil, fmt.Errorf("%w: %s.%s has no parent association name",
			ErrInvalidRelation, child.Name(), col.Name)
	}
	return &RelationInfo{
		Child:             child,
		Column:            col,
		Parent:            parent,
		ParentAssociation: r.ParentAssociation,
		ChildAssociation:  r.ChildAssociation,
	}, nil
}

func resolveColumns(ti *TableInfo) []Column {
	cols := make([]Column, 0, len(ti.Table.Columns))
	seen := make(map[string]bool)
	for _, col := range ti.Table.Columns {
		cols = append(cols, col)
		seen[col.Name] = true
	}
	if ti.Base != nil {
		for _, col := range ti.Base.Columns {
			if !seen[col.Name] {
				cols = append(cols, col)
				seen[col.Name] = true
			}
		}
	}
	return cols
}

func primaryKey(ti *TableInfo) (Column, error) {
	var pks []Column
	for _, col := range ti.Columns {
		if col.PrimaryKey {
			pks = append(pks, col)
		}
	}
	switch {
	case len(pks) == 1:
		return pks[0], nil
	case ti.IsAbstract() && len(pks) == 0:
		return Column{}, nil
	default:
		return Column{}, fmt.Errorf("table %q has %d primary keys: %w", ti.Name(), len(pks), ErrPrimaryKey)
	}
}

func checkAssociations(ti *TableInfo) error {
	for _, r := range ti.ToChildren {
		if r.ChildAssociation != "" && ti.HasColumn(r.ChildAssociation) {
			return fmt.Errorf("%w: association %s.%s shadows a column", ErrInvalidRelation, ti.Name(), r.ChildAssociation)
		}
	}
	names := make(map[string]bool)
	for _, r := range ti.ToParents {
		name := r.ParentAssociation
		if ti.HasColumn(name) {
			return fmt.Errorf("%w: association %s.%s shadows a column", ErrInvalidRelation, ti.Name(), name)
		}
		if names[name] {
			return fmt.Errorf("%w: duplicate association %s.%s", ErrInvalidRelation, ti.Name(), name)
		}
		names[name] = true
	}
	return nil
}

func cloneTable(t Table) Table {
	out := t
	out.Columns = make([]Column, len(t.Columns))
	copy(out.Columns, t.Columns)
	return out
}
