package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/roach88/ormso/internal/model"
	"github.com/roach88/ormso/internal/schema"
	"github.com/roach88/ormso/internal/where"
)

const (
	// StateTable is the bookkeeping table holding one watermark per table.
	StateTable = "_sync_state"

	// DirtyColumn flags rows with local changes pending push.
	DirtyColumn = "_isDirty"

	// DeletedColumn flags soft-deleted rows.
	DeletedColumn = "_isDeleted"

	// SelectOptionsHeader carries a binding's select options on load.
	SelectOptionsHeader = "X-Select-Options"

	// ChangedSinceParam is the load query parameter carrying the watermark.
	ChangedSinceParam = "changedSince"
)

// Remote is the transport the engine syncs through. remote.Client
// implements it.
type Remote interface {
	Load(ctx context.Context, url string, header http.Header) ([]map[string]any, error)
	Post(ctx context.Context, url string, body map[string]any, header http.Header) (map[string]any, error)
	Delete(ctx context.Context, url string, header http.Header) error
}

// Clock supplies the time used for watermarks and throttling.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// FieldMapping pairs a local foreign-key column with the column carrying
// the parent's server id. Remote is the name used on the wire.
type FieldMapping struct {
	Local  string
	Remote string
}

// Options configures one synchronized table.
type Options struct {
	// LoadURL is fetched by the pull phase. Empty disables pull.
	LoadURL string

	// PostURL receives pushed rows; deletes go to PostURL/<serverId>.
	// Empty disables push.
	PostURL string

	// ServerPrimaryKey is the column holding the remote primary key.
	ServerPrimaryKey string

	// ServerPrimaryKeyType is the type of an injected server key column.
	// Zero means Integer.
	ServerPrimaryKeyType schema.DataType

	Mappings []FieldMapping

	// MaxSyncInterval skips a sync while the last successful one is
	// younger than this. Zero disables throttling.
	MaxSyncInterval time.Duration

	// SelectOptions are sent with every load in SelectOptionsHeader.
	SelectOptions *model.SelectOptions

	BeforeSync func(ctx context.Context, table string) error
	AfterSync  func(ctx context.Context, table string, err error)

	// OnRemoteRow may mutate a pulled row before it is saved. Returning
	// false skips the row.
	OnRemoteRow func(ctx context.Context, table string, row map[string]any) (bool, error)
}

type binding struct {
	model *model.DataModel
	opts  Options

	// guarded by Engine.mu
	status Status
}

func (b *binding) name() string { return b.model.Name() }

func (b *binding) info() *schema.TableInfo { return b.model.Info() }

// Engine synchronizes bound tables with the remote.
type Engine struct {
	mctx   *model.Context
	remote Remote
	state  *model.DataModel
	clock  Clock
	logger *slog.Logger

	mu         sync.Mutex
	bindings   map[string]*binding
	order      []*binding
	syncingAll bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// New creates an engine and registers its bookkeeping table on mctx. It
// must be called before mctx is finalized.
func New(mctx *model.Context, remote Remote, opts ...Option) (*Engine, error) {
	state, err := mctx.Register(schema.Table{Name: StateTable, Columns: []schema.Column{
		{Name: "Id", Type: schema.Integer, PrimaryKey: true, AutoIncrement: true},
		{Name: "TableName", Type: schema.Text, Unique: true},
		{Name: "LastSync", Type: schema.Date},
	}})
	if err != nil {
		return nil, fmt.Errorf("register sync state: %w", err)
	}
	e := &Engine{
		mctx:     mctx,
		remote:   remote,
		state:    state,
		clock:    systemClock{},
		logger:   slog.Default(),
		bindings: make(map[string]*binding),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Register binds dm for synchronization, injecting the bookkeeping columns
// and hooks. It must be called before the model context is finalized.
// Parents referenced by mappings should be registered first so that the
// injected remote columns take the parent's server key type.
func (e *Engine) Register(dm *model.DataModel, opts Options) error {
	name := dm.Name()
	if opts.ServerPrimaryKey == "" {
		return fmt.Errorf("register %s: %w: server primary key is required", name, ErrInvalidOptions)
	}
	if opts.LoadURL == "" && opts.PostURL == "" {
		return fmt.Errorf("register %s: %w: load or post url is required", name, ErrInvalidOptions)
	}
	if opts.ServerPrimaryKeyType == 0 {
		opts.ServerPrimaryKeyType = schema.Integer
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.bindings[name]; exists {
		return fmt.Errorf("register %s: %w", name, ErrDuplicateBinding)
	}

	inject := []schema.Column{
		{Name: DirtyColumn, Type: schema.Boolean, Default: false, Indexed: true},
		{Name: DeletedColumn, Type: schema.Boolean, Default: false},
		{Name: opts.ServerPrimaryKey, Type: opts.ServerPrimaryKeyType, Indexed: true},
	}
	for _, m := range opts.Mappings {
		local, ok := declared(dm, m.Local)
		if !ok || local.Relation == nil {
			return fmt.Errorf("register %s: %w: mapping %q is not a declared relation column", name, ErrInvalidOptions, m.Local)
		}
		if m.Remote == "" || m.Remote == m.Local {
			return fmt.Errorf("register %s: %w: mapping %q needs a distinct remote column", name, ErrInvalidOptions, m.Local)
		}
		typ := schema.Integer
		if parent, ok := e.bindings[local.Relation.ParentTable]; ok {
			typ = parent.opts.ServerPrimaryKeyType
		}
		inject = append(inject, schema.Column{Name: m.Remote, Type: typ, Indexed: true})
	}
	for _, col := range inject {
		if _, ok := declared(dm, col.Name); ok {
			continue
		}
		if err := dm.AddColumn(col); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}

	dm.On(model.BeforeInsert, markDirty)
	dm.On(model.BeforeUpdate, markDirty)
	dm.On(model.BeforeDelete, softDelete)
	dm.AddWhereProvider(hideDeleted)

	b := &binding{model: dm, opts: opts, status: Status{Table: name, State: Idle}}
	e.bindings[name] = b
	e.order = append(e.order, b)
	return nil
}

// declared finds a column in the table's declaration or its base chain.
// It works before Finalize.
func declared(dm *model.DataModel, name string) (schema.Column, bool) {
	for ti := dm.Info(); ti != nil; ti = ti.Base {
		if col, ok := ti.Table.Column(name); ok {
			return col, true
		}
	}
	return schema.Column{}, false
}

// markDirty maintains the dirty flag by write origin.
func markDirty(ctx context.Context, args *model.TriggerArgs) error {
	switch args.Origin {
	case model.Local:
		args.Row.Set(DirtyColumn, true)
	case model.SyncPull, model.SyncPushConfirm:
		args.Row.Set(DirtyColumn, false)
	}
	return nil
}

// softDelete turns a local delete into an update flagging the row deleted.
// The update is local, so it also marks the row dirty.
func softDelete(ctx context.Context, args *model.TriggerArgs) error {
	if args.Origin != model.Local || args.Cancel {
		return nil
	}
	args.Cancel = true
	pk := args.Model.Info().PrimaryKey.Name
	_, err := args.Model.Update(ctx, schema.NewRow(map[string]any{
		pk:            args.Row.Value(pk),
		DeletedColumn: true,
	}))
	return err
}

func hideDeleted(opts *model.SelectOptions) where.Expr {
	if opts.IncludeSoftDeleted {
		return nil
	}
	return where.AnyOf(where.IsNull(DeletedColumn), where.Eq(DeletedColumn, false))
}

func (e *Engine) binding(table string) (*binding, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.bindings[table]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return b, nil
}

// bindingFor returns the binding of a table, or nil.
func (e *Engine) bindingFor(table string) *binding {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bindings[table]
}

func (e *Engine) bindingsInOrder() []*binding {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*binding, len(e.order))
	copy(out, e.order)
	return out
}

// Tables returns the synchronized table names in registration order.
func (e *Engine) Tables() []string {
	bs := e.bindingsInOrder()
	names := make([]string, len(bs))
	for i, b := range bs {
		names[i] = b.name()
	}
	return names
}
