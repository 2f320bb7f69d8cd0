package schemaload

import (
	"fmt"
	"time"

	"cuelang.org/go/cue"

	"github.com/roach88/ormso/internal/model"
	"github.com/roach88/ormso/internal/schema"
	"github.com/roach88/ormso/internal/syncer"
)

// Declaration is one declared table.
type Declaration struct {
	Table schema.Table
	Base  string

	// Sync is nil for local-only tables.
	Sync *SyncDeclaration
}

// SyncDeclaration is the sync block of a table. URLs may be relative to
// the configured remote base URL.
type SyncDeclaration struct {
	LoadURL              string
	PostURL              string
	ServerPrimaryKey     string
	ServerPrimaryKeyType schema.DataType
	Mappings             []syncer.FieldMapping
	MaxInterval          time.Duration
	SelectOptions        *model.SelectOptions
}

// CompileTable compiles the value of one `table: <Name>: {...}` field.
//
//	table: Customer: {
//		base?:     "Entity"
//		abstract?: bool
//		columns: Id:   { type: "integer", primaryKey: true, autoIncrement: true }
//		columns: Name: { type: "text", indexed: true }
//		sync?: { loadUrl: "customers", postUrl: "customers", serverPrimaryKey: "ServerId" }
//	}
func CompileTable(v cue.Value) (*Declaration, error) {
	if err := v.Err(); err != nil {
		return nil, fromCUE(ErrCodeBuildFailed, err)
	}

	d := &Declaration{}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		d.Table.Name = labels[len(labels)-1].String()
	}

	var err error
	if d.Base, err = optionalString(v, "base"); err != nil {
		return nil, err
	}
	if d.Table.IsAbstract, err = optionalBool(v, "abstract"); err != nil {
		return nil, err
	}

	colsVal := v.LookupPath(cue.ParsePath("columns"))
	if colsVal.Exists() {
		iter, err := colsVal.Fields()
		if err != nil {
			return nil, fromCUE(ErrCodeInvalidColumn, err)
		}
		for iter.Next() {
			col, err := compileColumn(iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			d.Table.Columns = append(d.Table.Columns, col)
		}
	}
	if len(d.Table.Columns) == 0 && d.Base == "" {
		return nil, errorf(ErrCodeInvalidColumn, v.Pos(), "table %s declares no columns", d.Table.Name)
	}

	syncVal := v.LookupPath(cue.ParsePath("sync"))
	if syncVal.Exists() {
		if d.Table.IsAbstract {
			return nil, errorf(ErrCodeSync, syncVal.Pos(), "abstract table %s cannot be synchronized", d.Table.Name)
		}
		if d.Sync, err = compileSync(syncVal); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func compileColumn(name string, v cue.Value) (schema.Column, error) {
	col := schema.Column{Name: name}

	typeName, err := optionalString(v, "type")
	if err != nil {
		return col, err
	}
	if typeName == "" {
		return col, errorf(ErrCodeInvalidColumn, v.Pos(), "column %s: type is required", name)
	}
	if col.Type, err = schema.ParseDataType(typeName); err != nil {
		return col, errorf(ErrCodeInvalidType, v.LookupPath(cue.ParsePath("type")).Pos(), "column %s: %v", name, err)
	}

	if col.PrimaryKey, err = optionalBool(v, "primaryKey"); err != nil {
		return col, err
	}
	if col.AutoIncrement, err = optionalBool(v, "autoIncrement"); err != nil {
		return col, err
	}
	if col.Indexed, err = optionalBool(v, "indexed"); err != nil {
		return col, err
	}
	if col.Unique, err = optionalBool(v, "unique"); err != nil {
		return col, err
	}
	if col.AutoIncrement && col.Type != schema.Integer {
		return col, errorf(ErrCodeInvalidColumn, v.Pos(), "column %s: autoIncrement requires an integer column", name)
	}

	defVal := v.LookupPath(cue.ParsePath("default"))
	if defVal.Exists() {
		var raw any
		if err := defVal.Decode(&raw); err != nil {
			return col, fromCUE(ErrCodeInvalidColumn, err)
		}
		if col.Default, err = col.Coerce(raw); err != nil {
			return col, errorf(ErrCodeInvalidColumn, defVal.Pos(), "column %s: default: %v", name, err)
		}
	}

	relVal := v.LookupPath(cue.ParsePath("relation"))
	if relVal.Exists() {
		rel := &schema.Relation{}
		if rel.ParentTable, err = optionalString(relVal, "parent"); err != nil {
			return col, err
		}
		if rel.ParentAssociation, err = optionalString(relVal, "parentAssociation"); err != nil {
			return col, err
		}
		if rel.ChildAssociation, err = optionalString(relVal, "childAssociation"); err != nil {
			return col, err
		}
		if rel.ParentTable == "" || rel.ParentAssociation == "" {
			return col, errorf(ErrCodeRelation, relVal.Pos(), "column %s: relation needs parent and parentAssociation", name)
		}
		col.Relation = rel
	}
	return col, nil
}

func compileSync(v cue.Value) (*SyncDeclaration, error) {
	s := &SyncDeclaration{}
	var err error
	if s.LoadURL, err = optionalString(v, "loadUrl"); err != nil {
		return nil, err
	}
	if s.PostURL, err = optionalString(v, "postUrl"); err != nil {
		return nil, err
	}
	if s.ServerPrimaryKey, err = optionalString(v, "serverPrimaryKey"); err != nil {
		return nil, err
	}
	if s.ServerPrimaryKey == "" {
		return nil, errorf(ErrCodeSync, v.Pos(), "serverPrimaryKey is required")
	}
	if s.LoadURL == "" && s.PostURL == "" {
		return nil, errorf(ErrCodeSync, v.Pos(), "loadUrl or postUrl is required")
	}

	typeName, err := optionalString(v, "serverPrimaryKeyType")
	if err != nil {
		return nil, err
	}
	if typeName != "" {
		if s.ServerPrimaryKeyType, err = schema.ParseDataType(typeName); err != nil {
			return nil, errorf(ErrCodeInvalidType, v.Pos(), "serverPrimaryKeyType: %v", err)
		}
	}

	interval, err := optionalString(v, "maxInterval")
	if err != nil {
		return nil, err
	}
	if interval != "" {
		if s.MaxInterval, err = time.ParseDuration(interval); err != nil {
			return nil, errorf(ErrCodeSync, v.LookupPath(cue.ParsePath("maxInterval")).Pos(), "maxInterval: %v", err)
		}
	}

	mapVal := v.LookupPath(cue.ParsePath("mappings"))
	if mapVal.Exists() {
		iter, err := mapVal.List()
		if err != nil {
			return nil, fromCUE(ErrCodeSync, err)
		}
		for iter.Next() {
			var m syncer.FieldMapping
			if m.Local, err = optionalString(iter.Value(), "local"); err != nil {
				return nil, err
			}
			if m.Remote, err = optionalString(iter.Value(), "remote"); err != nil {
				return nil, err
			}
			if m.Local == "" || m.Remote == "" {
				return nil, errorf(ErrCodeSync, iter.Value().Pos(), "mapping needs local and remote")
			}
			s.Mappings = append(s.Mappings, m)
		}
	}

	optsVal := v.LookupPath(cue.ParsePath("selectOptions"))
	if optsVal.Exists() {
		data, err := optsVal.MarshalJSON()
		if err != nil {
			return nil, fromCUE(ErrCodeSync, err)
		}
		if s.SelectOptions, err = model.ParseSelectOptions(data); err != nil {
			return nil, errorf(ErrCodeSync, optsVal.Pos(), "selectOptions: %v", err)
		}
	}
	return s, nil
}

// Options converts the declaration to engine options, resolving relative
// URLs with resolve.
func (s *SyncDeclaration) Options(resolve func(string) (string, error)) (syncer.Options, error) {
	load, err := resolve(s.LoadURL)
	if err != nil {
		return syncer.Options{}, fmt.Errorf("loadUrl: %w", err)
	}
	post, err := resolve(s.PostURL)
	if err != nil {
		return syncer.Options{}, fmt.Errorf("postUrl: %w", err)
	}
	return syncer.Options{
		LoadURL:              load,
		PostURL:              post,
		ServerPrimaryKey:     s.ServerPrimaryKey,
		ServerPrimaryKeyType: s.ServerPrimaryKeyType,
		Mappings:             s.Mappings,
		MaxSyncInterval:      s.MaxInterval,
		SelectOptions:        s.SelectOptions,
	}, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", errorf(ErrCodeGeneric, fv.Pos(), "%s must be a string", field)
	}
	return s, nil
}

func optionalBool(v cue.Value, field string) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return false, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, errorf(ErrCodeGeneric, fv.Pos(), "%s must be a bool", field)
	}
	return b, nil
}
