package schemaload

import (
	"fmt"
	"net/url"

	"cuelang.org/go/cue/token"

	"github.com/roach88/ormso/internal/model"
	"github.com/roach88/ormso/internal/schema"
	"github.com/roach88/ormso/internal/syncer"
)

// Apply registers the declarations on mctx and binds the synchronized ones
// on engine, which may be nil to skip sync. Relative sync URLs are
// resolved against baseURL. mctx must not be finalized yet.
//
// Bases are registered before the tables built on them; sync bindings
// follow declaration order, so declare parents before their children.
func Apply(mctx *model.Context, engine *syncer.Engine, decls []Declaration, baseURL string) ([]*model.DataModel, error) {
	ordered, err := baseOrder(decls)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*model.DataModel, len(decls))
	for _, d := range ordered {
		var opts []model.RegisterOption
		if d.Base != "" {
			opts = append(opts, model.WithBase(byName[d.Base]))
		}
		dm, err := mctx.Register(d.Table, opts...)
		if err != nil {
			return nil, err
		}
		byName[d.Table.Name] = dm
	}

	models := make([]*model.DataModel, len(decls))
	for i, d := range decls {
		models[i] = byName[d.Table.Name]
	}
	if engine == nil {
		return models, nil
	}

	resolve := resolver(baseURL)
	for i, d := range decls {
		if d.Sync == nil {
			continue
		}
		opts, err := d.Sync.Options(resolve)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", d.Table.Name, err)
		}
		if err := engine.Register(models[i], opts); err != nil {
			return nil, err
		}
	}
	return models, nil
}

// Check resolves the declarations in a scratch catalog without touching a
// database. It reports the same base, key and relation errors Apply and
// Finalize would, plus unresolvable sync URLs.
func Check(decls []Declaration, baseURL string) error {
	ordered, err := baseOrder(decls)
	if err != nil {
		return err
	}
	c := schema.NewCatalog()
	for _, d := range ordered {
		if _, err := c.Add(d.Table, d.Base); err != nil {
			return err
		}
	}
	if err := c.Finalize(); err != nil {
		return err
	}

	resolve := resolver(baseURL)
	for _, d := range decls {
		if d.Sync == nil {
			continue
		}
		if _, err := d.Sync.Options(resolve); err != nil {
			return fmt.Errorf("table %s: %w", d.Table.Name, err)
		}
	}
	return nil
}

// baseOrder sorts declarations so every base precedes its derived tables,
// keeping declaration order otherwise.
func baseOrder(decls []Declaration) ([]Declaration, error) {
	index := make(map[string]int, len(decls))
	for i, d := range decls {
		index[d.Table.Name] = i
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(decls))
	out := make([]Declaration, 0, len(decls))

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			return errorf(ErrCodeBase, token.NoPos, "table %s: cyclic base", decls[i].Table.Name)
		}
		state[i] = visiting
		if b := decls[i].Base; b != "" {
			j, ok := index[b]
			if !ok {
				return errorf(ErrCodeBase, token.NoPos, "table %s: unknown base %q", decls[i].Table.Name, b)
			}
			if err := visit(j); err != nil {
				return err
			}
		}
		state[i] = done
		out = append(out, decls[i])
		return nil
	}

	for i := range decls {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// resolver resolves sync URLs against base. Absolute URLs and an empty
// base leave the URL unchanged.
func resolver(base string) func(string) (string, error) {
	return func(ref string) (string, error) {
		if ref == "" || base == "" {
			return ref, nil
		}
		b, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("parse base url: %w", err)
		}
		r, err := url.Parse(ref)
		if err != nil {
			return "", err
		}
		if r.IsAbs() {
			return ref, nil
		}
		if b.Path != "" && b.Path[len(b.Path)-1] != '/' {
			b.Path += "/"
		}
		return b.ResolveReference(r).String(), nil
	}
}
