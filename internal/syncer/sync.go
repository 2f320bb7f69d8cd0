package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/ormso/internal/model"
	"github.com/roach88/ormso/internal/remote"
	"github.com/roach88/ormso/internal/schema"
	"github.com/roach88/ormso/internal/storage"
	"github.com/roach88/ormso/internal/where"
)

// run is one table sync.
type run struct {
	engine *Engine
	b      *binding
	id     string
	logger *slog.Logger

	throttled bool
	pushed    int
	pulled    int
	watermark time.Time
}

func (r *run) execute(ctx context.Context) (err error) {
	e, b := r.engine, r.b
	name := b.name()

	prev, hasPrev, err := e.Watermark(ctx, name)
	if err != nil {
		return &SyncError{Table: name, Phase: PhaseWatermark, Err: err}
	}
	r.watermark = prev
	if b.opts.MaxSyncInterval > 0 && hasPrev && e.clock.Now().Sub(prev) < b.opts.MaxSyncInterval {
		r.throttled = true
		r.logger.DebugContext(ctx, "sync throttled", "last_sync", prev)
		return nil
	}

	if b.opts.AfterSync != nil {
		defer func() { b.opts.AfterSync(ctx, name, err) }()
	}
	if b.opts.BeforeSync != nil {
		if err := b.opts.BeforeSync(ctx, name); err != nil {
			return &SyncError{Table: name, Phase: PhaseBefore, Err: err}
		}
	}

	start := e.clock.Now()
	if err := r.push(ctx); err != nil {
		return &SyncError{Table: name, Phase: PhasePush, Err: err}
	}
	if err := r.pull(ctx, prev, hasPrev); err != nil {
		return &SyncError{Table: name, Phase: PhasePull, Err: err}
	}
	if !hasPrev {
		if err := r.remap(ctx); err != nil {
			return &SyncError{Table: name, Phase: PhaseRemap, Err: err}
		}
	}

	mark := start
	if prev.After(start) {
		mark = prev
	}
	if err := e.saveWatermark(ctx, name, mark); err != nil {
		return &SyncError{Table: name, Phase: PhaseWatermark, Err: err}
	}
	r.watermark = mark
	return nil
}

// push sends every dirty row, soft-deleted ones included, one at a time.
func (r *run) push(ctx context.Context) error {
	b := r.b
	if b.opts.PostURL == "" {
		return nil
	}
	dm := b.model
	pk := b.info().PrimaryKey.Name
	spk := b.opts.ServerPrimaryKey

	res, err := dm.Select(ctx, &model.SelectOptions{
		Where:              where.Eq(DirtyColumn, true),
		OrderBy:            []where.Order{{Field: pk}},
		IncludeSoftDeleted: true,
	})
	if err != nil {
		return fmt.Errorf("select dirty rows: %w", err)
	}
	confirm := model.WithOrigin(ctx, model.SyncPushConfirm)

	return model.Sequential(ctx, res.Rows, func(ctx context.Context, row *schema.Row) error {
		localID := row.Value(pk)
		serverID := row.Value(spk)

		if deleted, _ := row.Value(DeletedColumn).(bool); deleted {
			if serverID != nil {
				err := r.engine.remote.Delete(ctx, deleteURL(b.opts.PostURL, serverID), nil)
				if err != nil && !remote.IsNotFound(err) {
					return fmt.Errorf("delete %v: %w", serverID, err)
				}
			}
			if _, err := dm.Delete(confirm, schema.NewRow(map[string]any{pk: localID})); err != nil {
				return fmt.Errorf("purge %v: %w", localID, err)
			}
			r.pushed++
			return nil
		}

		payload, err := r.outbound(ctx, row)
		if err != nil {
			return err
		}
		resp, err := r.engine.remote.Post(ctx, b.opts.PostURL, payload, nil)
		if err != nil {
			return fmt.Errorf("post %v: %w", localID, err)
		}
		upd, err := r.inbound(ctx, resp, false)
		if err != nil {
			return fmt.Errorf("decode response for %v: %w", localID, err)
		}
		upd.Set(pk, localID)
		if _, err := dm.Update(confirm, upd); err != nil {
			return fmt.Errorf("confirm %v: %w", localID, err)
		}
		r.pushed++

		if sid := upd.Value(spk); sid != nil {
			serverID = sid
		}
		return r.propagate(ctx, localID, serverID)
	})
}

// pull loads remote rows changed since the watermark and saves them.
func (r *run) pull(ctx context.Context, prev time.Time, hasPrev bool) error {
	b := r.b
	if b.opts.LoadURL == "" {
		return nil
	}
	dm := b.model
	pk := b.info().PrimaryKey.Name
	spk := b.opts.ServerPrimaryKey

	loadURL, err := changedSinceURL(b.opts.LoadURL, prev, hasPrev)
	if err != nil {
		return err
	}
	header := http.Header{}
	if b.opts.SelectOptions != nil {
		data, err := json.Marshal(b.opts.SelectOptions)
		if err != nil {
			return fmt.Errorf("encode select options: %w", err)
		}
		header.Set(SelectOptionsHeader, string(data))
	}
	rows, err := r.engine.remote.Load(ctx, loadURL, header)
	if err != nil {
		return err
	}

	// Rows pushed earlier in this run already carry server keys, so the
	// server key lookup is only skipped when no local row has one.
	lookup := hasPrev
	if !lookup {
		n, err := dm.SelectCount(ctx, &model.SelectOptions{
			Where:              where.Cmp(spk, where.OpNe, nil),
			IncludeSoftDeleted: true,
		})
		if err != nil {
			return fmt.Errorf("count synced rows: %w", err)
		}
		lookup = n > 0
	}
	pullCtx := model.WithOrigin(ctx, model.SyncPull)

	return model.Sequential(ctx, rows, func(ctx context.Context, raw map[string]any) error {
		if b.opts.OnRemoteRow != nil {
			keep, err := b.opts.OnRemoteRow(ctx, b.name(), raw)
			if err != nil {
				return err
			}
			if !keep {
				return nil
			}
		}
		if raw[spk] == nil {
			return fmt.Errorf("remote row has no %q", spk)
		}
		row, err := r.inbound(ctx, raw, true)
		if err != nil {
			return err
		}
		serverID := row.Value(spk)

		var existing *schema.Row
		if lookup {
			if existing, err = r.findByServerID(ctx, serverID); err != nil {
				return err
			}
		}

		var saved *schema.Row
		if existing != nil {
			row.Set(pk, existing.Value(pk))
			saved, err = dm.Update(pullCtx, row)
		} else {
			saved, err = dm.Insert(pullCtx, row)
		}
		if err != nil {
			return fmt.Errorf("save %v: %w", serverID, err)
		}
		r.pulled++
		return r.propagate(ctx, saved.Value(pk), serverID)
	})
}

// remap repairs mapped foreign keys with set-based lookups into the
// parents' server keys: local rows gain the parent's server id, pulled
// rows gain the parent's local id.
func (r *run) remap(ctx context.Context) error {
	b := r.b
	adapter := r.engine.mctx.Adapter()
	for _, m := range b.opts.Mappings {
		rel, pb := r.parentOf(m)
		if pb == nil {
			continue
		}
		parentPK := rel.Parent.PrimaryKey.Name
		parentSPK := pb.opts.ServerPrimaryKey

		_, err := adapter.UpdateWhere(ctx, b.info(), []storage.Assignment{{
			Column: m.Remote,
			Lookup: &storage.Lookup{Table: rel.Parent, Select: parentSPK, Match: parentPK, Outer: m.Local},
		}}, where.AllOf(where.Cmp(m.Local, where.OpNe, nil), where.IsNull(m.Remote)))
		if err != nil {
			return fmt.Errorf("remap %s: %w", m.Remote, err)
		}

		_, err = adapter.UpdateWhere(ctx, b.info(), []storage.Assignment{{
			Column: m.Local,
			Lookup: &storage.Lookup{Table: rel.Parent, Select: parentPK, Match: parentSPK, Outer: m.Remote},
		}}, where.AllOf(where.Cmp(m.Remote, where.OpNe, nil), where.IsNull(m.Local)))
		if err != nil {
			return fmt.Errorf("remap %s: %w", m.Local, err)
		}
	}
	return nil
}

// propagate records a now-known local/server id pair of this table on the
// child rows of every synchronized table mapping to it.
func (r *run) propagate(ctx context.Context, localID, serverID any) error {
	if localID == nil || serverID == nil {
		return nil
	}
	repair := model.WithOrigin(ctx, model.ConstraintRepair)

	for _, cb := range r.engine.bindingsInOrder() {
		for _, m := range cb.opts.Mappings {
			rel, ok := cb.info().RelationByColumn(m.Local)
			if !ok || rel.Parent != r.b.info() {
				continue
			}
			cpk := cb.info().PrimaryKey.Name

			err := r.repairEach(repair, cb, cpk, where.AllOf(
				where.Eq(m.Local, localID),
				where.AnyOf(where.IsNull(m.Remote), where.Cmp(m.Remote, where.OpNe, serverID)),
			), m.Remote, serverID)
			if err != nil {
				return err
			}
			err = r.repairEach(repair, cb, cpk, where.AllOf(
				where.Eq(m.Remote, serverID),
				where.IsNull(m.Local),
			), m.Local, localID)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *run) repairEach(ctx context.Context, cb *binding, cpk string, filter where.Expr, column string, value any) error {
	res, err := cb.model.Select(ctx, &model.SelectOptions{
		Columns:            []string{cpk},
		Where:              filter,
		IncludeSoftDeleted: true,
	})
	if err != nil {
		return fmt.Errorf("propagate to %s: %w", cb.name(), err)
	}
	return model.Sequential(ctx, res.Rows, func(ctx context.Context, child *schema.Row) error {
		_, err := cb.model.Update(ctx, schema.NewRow(map[string]any{
			cpk:    child.Value(cpk),
			column: value,
		}))
		if err != nil {
			return fmt.Errorf("propagate to %s: %w", cb.name(), err)
		}
		return nil
	})
}

// outbound renders a local row for the wire: no local primary key, no
// bookkeeping flags, no local foreign keys. Missing remote mapping values
// are resolved from the parent's server key.
func (r *run) outbound(ctx context.Context, row *schema.Row) (map[string]any, error) {
	out := make(map[string]any)
	for _, col := range row.Columns() {
		if r.localOnly(col) {
			continue
		}
		out[col] = row.Value(col)
	}
	for _, m := range r.b.opts.Mappings {
		if out[m.Remote] != nil {
			continue
		}
		localFK := row.Value(m.Local)
		if localFK == nil {
			continue
		}
		sid, err := r.parentServerID(ctx, m, localFK)
		if err != nil {
			return nil, err
		}
		out[m.Remote] = sid
	}
	return out, nil
}

// inbound decodes a remote row leniently, keeping only wire columns. With
// remapLocal, mapped foreign keys are resolved to the parents' local ids.
func (r *run) inbound(ctx context.Context, raw map[string]any, remapLocal bool) (*schema.Row, error) {
	info := r.b.info()
	filtered := make(map[string]any, len(raw))
	for k, v := range raw {
		if !info.HasColumn(k) || r.localOnly(k) {
			continue
		}
		filtered[k] = v
	}
	row, err := info.DecodeRow(filtered, false)
	if err != nil {
		return nil, err
	}
	if !remapLocal {
		return row, nil
	}
	for _, m := range r.b.opts.Mappings {
		if !row.Has(m.Remote) {
			continue
		}
		sfk := row.Value(m.Remote)
		if sfk == nil {
			row.Set(m.Local, nil)
			continue
		}
		lid, err := r.parentLocalID(ctx, m, sfk)
		if err != nil {
			return nil, err
		}
		row.Set(m.Local, lid)
	}
	return row, nil
}

// localOnly reports whether a column never goes on the wire.
func (r *run) localOnly(col string) bool {
	switch col {
	case DirtyColumn, DeletedColumn:
		return true
	}
	if col == r.b.info().PrimaryKey.Name && col != r.b.opts.ServerPrimaryKey {
		return true
	}
	for _, m := range r.b.opts.Mappings {
		if m.Local == col {
			return true
		}
	}
	return false
}

func (r *run) findByServerID(ctx context.Context, serverID any) (*schema.Row, error) {
	pk := r.b.info().PrimaryKey.Name
	res, err := r.b.model.Select(ctx, &model.SelectOptions{
		Columns:            []string{pk},
		Where:              where.Eq(r.b.opts.ServerPrimaryKey, serverID),
		Take:               1,
		IncludeSoftDeleted: true,
	})
	if err != nil {
		return nil, fmt.Errorf("find %v: %w", serverID, err)
	}
	if len(res.Rows) == 0 {
		return nil, nil
	}
	return res.Rows[0], nil
}

// parentOf returns the relation of a mapping and the parent's binding, nil
// when the parent is not synchronized.
func (r *run) parentOf(m FieldMapping) (*schema.RelationInfo, *binding) {
	rel, ok := r.b.info().RelationByColumn(m.Local)
	if !ok {
		return nil, nil
	}
	return rel, r.engine.bindingFor(rel.Parent.Name())
}

func (r *run) parentServerID(ctx context.Context, m FieldMapping, localFK any) (any, error) {
	rel, pb := r.parentOf(m)
	if pb == nil {
		return nil, nil
	}
	parent, err := pb.model.SelectByID(ctx, localFK, &model.SelectOptions{
		Columns:            []string{pb.opts.ServerPrimaryKey},
		IncludeSoftDeleted: true,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve %s %v: %w", rel.Parent.Name(), localFK, err)
	}
	if parent == nil {
		return nil, nil
	}
	return parent.Value(pb.opts.ServerPrimaryKey), nil
}

func (r *run) parentLocalID(ctx context.Context, m FieldMapping, serverFK any) (any, error) {
	rel, pb := r.parentOf(m)
	if pb == nil {
		return nil, nil
	}
	sub := &run{engine: r.engine, b: pb}
	parent, err := sub.findByServerID(ctx, serverFK)
	if err != nil {
		return nil, fmt.Errorf("resolve %s %v: %w", rel.Parent.Name(), serverFK, err)
	}
	if parent == nil {
		return nil, nil
	}
	return parent.Value(rel.Parent.PrimaryKey.Name), nil
}

func changedSinceURL(base string, prev time.Time, hasPrev bool) (string, error) {
	if !hasPrev {
		return base, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse load url: %w", err)
	}
	q := u.Query()
	q.Set(ChangedSinceParam, prev.UTC().Format(time.RFC3339Nano))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func deleteURL(postURL string, serverID any) string {
	return strings.TrimRight(postURL, "/") + "/" + url.PathEscape(fmt.Sprint(serverID))
}
