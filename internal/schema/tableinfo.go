package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Direction tells which side of a relation an association name reaches.
type Direction int

const (
	// ToParent navigates from a child row to its single parent row.
	ToParent Direction = iota + 1
	// ToChild navigates from a parent row to its collection of children.
	ToChild
)

func (d Direction) String() string {
	switch d {
	case ToParent:
		return "to-parent"
	case ToChild:
		return "to-child"
	default:
		return "unknown"
	}
}

// RelationInfo is a resolved foreign-key relation between two tables.
//
// Column is the foreign-key column on Child; it references the primary key
// of Parent.
type RelationInfo struct {
	Child             *TableInfo
	Column            Column
	Parent            *TableInfo
	ParentAssociation string
	ChildAssociation  string
}

// TableInfo is the resolved metadata of a table, computed by Catalog.Finalize.
type TableInfo struct {
	// Table is the declaration as registered (own columns only).
	Table Table

	// Base is the table this one inherits columns from, if any.
	Base *TableInfo

	// Columns is the resolved column set: own columns followed by the base
	// chain's columns not redeclared here.
	Columns []Column

	// PrimaryKey is the single primary-key column. Zero for abstract tables
	// that declare none.
	PrimaryKey Column

	// ToParents lists relations where this table is the child.
	ToParents []*RelationInfo

	// ToChildren lists relations where this table is the parent.
	ToChildren []*RelationInfo

	catalog *Catalog
}

// Name returns the table name.
func (ti *TableInfo) Name() string {
	return ti.Table.Name
}

// IsAbstract reports whether the table is abstract.
func (ti *TableInfo) IsAbstract() bool {
	return ti.Table.IsAbstract
}

// Column returns the resolved column with the given name.
func (ti *TableInfo) Column(name string) (Column, bool) {
	for _, c := range ti.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// HasColumn reports whether name is a resolved column.
func (ti *TableInfo) HasColumn(name string) bool {
	_, ok := ti.Column(name)
	return ok
}

// ColumnNames returns resolved column names in order.
func (ti *TableInfo) ColumnNames() []string {
	names := make([]string, len(ti.Columns))
	for i, c := range ti.Columns {
		names[i] = c.Name
	}
	return names
}

// Association resolves an association name to its relation. ok is false
// for unknown names and for ambiguous ones; LookupAssociation tells the two
// apart.
func (ti *TableInfo) Association(name string) (*RelationInfo, Direction, bool) {
	rel, dir, err := ti.LookupAssociation(name)
	return rel, dir, err == nil
}

// LookupAssociation resolves an association name to its relation. A parent
// association wins over child associations of the same name. A child
// association declared by more than one relation returns
// ErrAmbiguousAssociation; an unknown name returns ErrUnknownField.
func (ti *TableInfo) LookupAssociation(name string) (*RelationInfo, Direction, error) {
	for _, r := range ti.ToParents {
		if r.ParentAssociation == name {
			return r, ToParent, nil
		}
	}
	var found *RelationInfo
	var tables []string
	for _, r := range ti.ToChildren {
		if r.ChildAssociation == "" || r.ChildAssociation != name {
			continue
		}
		if found == nil {
			found = r
		}
		tables = append(tables, r.Child.Name())
	}
	switch len(tables) {
	case 0:
		return nil, 0, fmt.Errorf("%w: %s.%s", ErrUnknownField, ti.Name(), name)
	case 1:
		return found, ToChild, nil
	default:
		return nil, 0, fmt.Errorf("%w: %s.%s is declared by %s",
			ErrAmbiguousAssociation, ti.Name(), name, strings.Join(tables, ", "))
	}
}

// AmbiguousAssociation reports whether name is a child association declared
// by more than one relation.
func (ti *TableInfo) AmbiguousAssociation(name string) bool {
	_, _, err := ti.LookupAssociation(name)
	return errors.Is(err, ErrAmbiguousAssociation)
}

// RelationByColumn returns the to-parent relation whose foreign-key column
// is name.
func (ti *TableInfo) RelationByColumn(name string) (*RelationInfo, bool) {
	for _, r := range ti.ToParents {
		if r.Column.Name == name {
			return r, true
		}
	}
	return nil, false
}

// Ancestors returns the base chain, nearest first.
func (ti *TableInfo) Ancestors() []*TableInfo {
	var out []*TableInfo
	for b := ti.Base; b != nil; b = b.Base {
		out = append(out, b)
	}
	return out
}

// Catalog returns the catalog the table was registered in.
func (ti *TableInfo) Catalog() *Catalog {
	return ti.catalog
}
