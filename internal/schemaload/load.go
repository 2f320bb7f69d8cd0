// Package schemaload reads table declarations written in CUE.
//
// A schema directory holds one CUE package whose top-level `table` struct
// declares every table in order:
//
//	table: Customer: {
//		columns: Id:   { type: "integer", primaryKey: true, autoIncrement: true }
//		columns: Name: { type: "text", indexed: true }
//		sync: { loadUrl: "customers", postUrl: "customers", serverPrimaryKey: "ServerId" }
//	}
//
// Tables and columns keep their CUE declaration order. Errors carry the
// file, line and column of the offending declaration.
package schemaload

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Result is a loaded schema.
type Result struct {
	Declarations []Declaration
	FileCount    int
}

// Tables returns the declared table names in order.
func (r *Result) Tables() []string {
	names := make([]string, len(r.Declarations))
	for i, d := range r.Declarations {
		names[i] = d.Table.Name
	}
	return names
}

// LoadDir loads the CUE package in dir.
func LoadDir(dir string, mode LoadMode) (*Result, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{errorf(ErrCodeNotFound, token.NoPos, "schema directory not found: %s", dir)}
	}
	if err != nil {
		return nil, []error{errorf(ErrCodeNotFound, token.NoPos, "error accessing schema directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, []error{errorf(ErrCodeNotFound, token.NoPos, "not a directory: %s", dir)}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{errorf(ErrCodeScanError, token.NoPos, "error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, []error{errorf(ErrCodeNoFiles, token.NoPos, "no CUE files found in %s", dir)}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{errorf(ErrCodeLoadFailed, token.NoPos, "no CUE instances loaded")}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{fromCUE(ErrCodeLoadFailed, inst.Err)}
	}

	value := cuecontext.New().BuildInstance(inst)
	res, errs := compile(value, mode)
	if res != nil {
		res.FileCount = len(files)
	}
	return res, errs
}

// CompileString compiles CUE source. filename is used in error positions.
func CompileString(src, filename string, mode LoadMode) (*Result, []error) {
	value := cuecontext.New().CompileString(src, cue.Filename(filename))
	res, errs := compile(value, mode)
	if res != nil {
		res.FileCount = 1
	}
	return res, errs
}

func compile(value cue.Value, mode LoadMode) (*Result, []error) {
	if err := value.Validate(); err != nil {
		return nil, []error{fromCUE(ErrCodeBuildFailed, err)}
	}

	res := &Result{}
	var errs []error

	tablesVal := value.LookupPath(cue.ParsePath("table"))
	if !tablesVal.Exists() {
		return res, []error{errorf(ErrCodeNoTables, value.Pos(), "no table declarations found")}
	}
	iter, err := tablesVal.Fields()
	if err != nil {
		return res, []error{fromCUE(ErrCodeGeneric, err)}
	}
	for iter.Next() {
		d, err := CompileTable(iter.Value())
		if err != nil {
			errs = append(errs, fmt.Errorf("table %s: %w", iter.Label(), err))
			if mode == LoadModeFailFast {
				return res, errs
			}
			continue
		}
		res.Declarations = append(res.Declarations, *d)
	}
	if len(res.Declarations) == 0 && len(errs) == 0 {
		errs = append(errs, errorf(ErrCodeNoTables, tablesVal.Pos(), "no table declarations found"))
	}
	return res, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
