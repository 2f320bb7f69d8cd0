package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DecodeRow builds a Row from a decoded JSON object or a scanned database
// record.
//
// Column keys are coerced to their column types. Association keys are
// decoded recursively against the related table: a parent association takes
// an object (or null), a child association takes an array of objects. A key
// "_prev_<ChildAssociation>" carries the child primary keys present before
// an edit.
//
// In strict mode any other key is an error wrapping ErrUnknownField; in
// lenient mode such keys are dropped.
func (ti *TableInfo) DecodeRow(m map[string]any, strict bool) (*Row, error) {
	row := NewRow(nil)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		v := m[key]
		if col, ok := ti.Column(key); ok {
			cv, err := col.Coerce(v)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", ti.Name(), err)
			}
			row.Set(key, cv)
			continue
		}

		rel, dir, err := ti.LookupAssociation(key)
		if err == nil {
			if err := ti.decodeAssociation(row, key, rel, dir, v, strict); err != nil {
				return nil, err
			}
			continue
		}
		if errors.Is(err, ErrAmbiguousAssociation) {
			if strict {
				return nil, fmt.Errorf("decode %s: %w", ti.Name(), err)
			}
			continue
		}

		if assoc, ok := strings.CutPrefix(key, PrevKeysPrefix); ok {
			if rel, dir, found := ti.Association(assoc); found && dir == ToChild {
				keys, err := decodeKeys(rel.Child.PrimaryKey, v)
				if err != nil {
					return nil, fmt.Errorf("decode %s.%s: %w", ti.Name(), key, err)
				}
				row.SetPreviousKeys(assoc, keys)
				continue
			}
		}

		if strict {
			return nil, fmt.Errorf("decode %s: %w: %q", ti.Name(), ErrUnknownField, key)
		}
	}
	return row, nil
}

func (ti *TableInfo) decodeAssociation(row *Row, key string, rel *RelationInfo, dir Direction, v any, strict bool) error {
	switch dir {
	case ToParent:
		if v == nil {
			row.SetParent(key, nil)
			return nil
		}
		obj, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("decode %s.%s: %w: expected object, got %T", ti.Name(), key, ErrInvalidValue, v)
		}
		parent, err := rel.Parent.DecodeRow(obj, strict)
		if err != nil {
			return err
		}
		row.SetParent(key, parent)
	case ToChild:
		if v == nil {
			row.SetChildren(key, nil)
			return nil
		}
		list, ok := v.([]any)
		if !ok {
			return fmt.Errorf("decode %s.%s: %w: expected array, got %T", ti.Name(), key, ErrInvalidValue, v)
		}
		children := make([]*Row, 0, len(list))
		for i, item := range list {
			obj, ok := item.(map[string]any)
			if !ok {
				return fmt.Errorf("decode %s.%s[%d]: %w: expected object, got %T", ti.Name(), key, i, ErrInvalidValue, item)
			}
			child, err := rel.Child.DecodeRow(obj, strict)
			if err != nil {
				return err
			}
			children = append(children, child)
		}
		row.SetChildren(key, children)
	}
	return nil
}

func decodeKeys(pk Column, v any) ([]any, error) {
	if v == nil {
		return []any{}, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected array of keys, got %T", ErrInvalidValue, v)
	}
	keys := make([]any, 0, len(list))
	for _, item := range list {
		k, err := pk.Coerce(item)
		if err != nil {
			return nil, err
		}
		if k != nil {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
