package schema

import (
	"sort"
)

// PrevKeysPrefix marks the wire key carrying the child primary keys that
// were associated before an edit, e.g. "_prev_Orders".
const PrevKeysPrefix = "_prev_"

// Row is one record of a table.
//
// Column values are kept apart from association payloads: a parent
// association holds a single *Row (or nil when the parent is absent), a
// child association holds a slice of rows, and the previous-key shadow
// lists drive the cascading child diff.
type Row struct {
	values   map[string]any
	parents  map[string]*Row
	children map[string][]*Row
	prevKeys map[string][]any
}

// NewRow creates a row holding the given column values.
func NewRow(values map[string]any) *Row {
	r := &Row{values: make(map[string]any, len(values))}
	for k, v := range values {
		r.values[k] = v
	}
	return r
}

// Get returns a column value and whether it is set. A set value can be nil.
func (r *Row) Get(name string) (any, bool) {
	if r == nil || r.values == nil {
		return nil, false
	}
	v, ok := r.values[name]
	return v, ok
}

// Value returns a column value, or nil when unset.
func (r *Row) Value(name string) any {
	v, _ := r.Get(name)
	return v
}

// Set assigns a column value.
func (r *Row) Set(name string, v any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	r.values[name] = v
}

// Unset removes a column value.
func (r *Row) Unset(name string) {
	delete(r.values, name)
}

// Has reports whether a column value is set.
func (r *Row) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Columns returns the names of set columns, sorted.
func (r *Row) Columns() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.values))
	for k := range r.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Values returns a copy of the column values.
func (r *Row) Values() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Parent returns the row attached under a parent association.
// The second result is false when nothing is attached (not even nil).
func (r *Row) Parent(assoc string) (*Row, bool) {
	if r == nil || r.parents == nil {
		return nil, false
	}
	p, ok := r.parents[assoc]
	return p, ok
}

// SetParent attaches a parent row. A nil parent records that the parent was
// looked up and not found.
func (r *Row) SetParent(assoc string, parent *Row) {
	if r.parents == nil {
		r.parents = make(map[string]*Row)
	}
	r.parents[assoc] = parent
}

// Children returns the rows attached under a child association.
func (r *Row) Children(assoc string) ([]*Row, bool) {
	if r == nil || r.children == nil {
		return nil, false
	}
	c, ok := r.children[assoc]
	return c, ok
}

// SetChildren attaches child rows. An empty, non-nil slice means "no
// children" and is distinct from not carrying the association at all.
func (r *Row) SetChildren(assoc string, children []*Row) {
	if r.children == nil {
		r.children = make(map[string][]*Row)
	}
	if children == nil {
		children = []*Row{}
	}
	r.children[assoc] = children
}

// PreviousKeys returns the child keys that were associated before an edit.
func (r *Row) PreviousKeys(assoc string) ([]any, bool) {
	if r == nil || r.prevKeys == nil {
		return nil, false
	}
	k, ok := r.prevKeys[assoc]
	return k, ok
}

// SetPreviousKeys records the child keys associated before an edit.
func (r *Row) SetPreviousKeys(assoc string, keys []any) {
	if r.prevKeys == nil {
		r.prevKeys = make(map[string][]any)
	}
	r.prevKeys[assoc] = keys
}

// ParentAssociations returns the attached parent association names, sorted.
func (r *Row) ParentAssociations() []string {
	return sortedKeys(r.parents)
}

// ChildAssociations returns the attached child association names, sorted.
func (r *Row) ChildAssociations() []string {
	return sortedKeys(r.children)
}

// Clone returns a deep copy of the row and its attached associations.
func (r *Row) Clone() *Row {
	if r == nil {
		return nil
	}
	out := NewRow(r.values)
	for k, p := range r.parents {
		out.SetParent(k, p.Clone())
	}
	for k, cs := range r.children {
		cloned := make([]*Row, len(cs))
		for i, c := range cs {
			cloned[i] = c.Clone()
		}
		out.SetChildren(k, cloned)
	}
	for k, keys := range r.prevKeys {
		out.SetPreviousKeys(k, append([]any(nil), keys...))
	}
	return out
}

// ToMap renders the row and its associations as a plain map, suitable for
// JSON encoding. Previous-key lists are not rendered.
func (r *Row) ToMap() map[string]any {
	if r == nil {
		return nil
	}
	out := r.Values()
	for k, p := range r.parents {
		if p == nil {
			out[k] = nil
			continue
		}
		out[k] = p.ToMap()
	}
	for k, cs := range r.children {
		list := make([]map[string]any, len(cs))
		for i, c := range cs {
			list[i] = c.ToMap()
		}
		out[k] = list
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
