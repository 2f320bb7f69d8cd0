package syncer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ormso/internal/model"
	"github.com/roach88/ormso/internal/remote"
	"github.com/roach88/ormso/internal/schema"
	"github.com/roach88/ormso/internal/storage"
	"github.com/roach88/ormso/internal/testutil"
	"github.com/roach88/ormso/internal/where"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type syncFixture struct {
	mctx     *model.Context
	engine   *Engine
	customer *model.DataModel
	order    *model.DataModel
	fake     *testutil.FakeRemote
	clock    *testutil.Clock
}

// newSyncFixture registers Customer <- Order and hands the unfinalized
// fixture to bind, which registers the sync bindings.
func newSyncFixture(t *testing.T, bind func(f *syncFixture)) *syncFixture {
	t.Helper()
	return newSyncFixtureOn(t, testutil.NewSQLiteStore(t), bind)
}

func newSyncFixtureOn(t *testing.T, store storage.Adapter, bind func(f *syncFixture)) *syncFixture {
	t.Helper()
	f := &syncFixture{
		mctx:  model.NewContext(store),
		clock: testutil.NewClock(t0),
	}
	f.fake = testutil.NewFakeRemote(t, f.clock.Now)

	var err error
	f.customer, err = f.mctx.Register(schema.Table{Name: "Customer", Columns: []schema.Column{
		{Name: "Id", Type: schema.Integer, PrimaryKey: true, AutoIncrement: true},
		{Name: "Name", Type: schema.Text},
	}})
	require.NoError(t, err)
	f.order, err = f.mctx.Register(schema.Table{Name: "Order", Columns: []schema.Column{
		{Name: "Id", Type: schema.Integer, PrimaryKey: true, AutoIncrement: true},
		{Name: "Total", Type: schema.Float},
		{Name: "CustomerId", Type: schema.Integer, Relation: &schema.Relation{
			ParentTable: "Customer", ParentAssociation: "Customer", ChildAssociation: "Orders",
		}},
	}})
	require.NoError(t, err)

	client, err := remote.New()
	require.NoError(t, err)
	f.engine, err = New(f.mctx, client,
		WithClock(f.clock),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	if bind == nil {
		bind = func(f *syncFixture) {
			require.NoError(t, f.engine.Register(f.customer, f.customerOptions()))
			require.NoError(t, f.engine.Register(f.order, f.orderOptions()))
		}
	}
	bind(f)

	_, err = f.mctx.Finalize(context.Background())
	require.NoError(t, err)
	return f
}

func (f *syncFixture) customerOptions() Options {
	return Options{
		LoadURL:          f.fake.URL("customers"),
		PostURL:          f.fake.URL("customers"),
		ServerPrimaryKey: "ServerId",
	}
}

func (f *syncFixture) orderOptions() Options {
	return Options{
		LoadURL:          f.fake.URL("orders"),
		PostURL:          f.fake.URL("orders"),
		ServerPrimaryKey: "ServerId",
		Mappings:         []FieldMapping{{Local: "CustomerId", Remote: "CustomerServerId"}},
	}
}

func rows(t *testing.T, dm *model.DataModel, opts *model.SelectOptions) []*schema.Row {
	t.Helper()
	if opts == nil {
		opts = &model.SelectOptions{}
	}
	if opts.OrderBy == nil {
		opts.OrderBy = []where.Order{{Field: "Id"}}
	}
	res, err := dm.Select(context.Background(), opts)
	require.NoError(t, err)
	return res.Rows
}

func insert(t *testing.T, dm *model.DataModel, values map[string]any) *schema.Row {
	t.Helper()
	row, err := dm.Insert(context.Background(), schema.NewRow(values))
	require.NoError(t, err)
	return row
}

func TestStateTable_UniqueTableName(t *testing.T) {
	f := newSyncFixture(t, nil)
	ctx := context.Background()

	col, ok := f.engine.state.Info().Column("TableName")
	require.True(t, ok)
	assert.True(t, col.Unique)

	_, err := f.engine.state.Insert(ctx, schema.NewRow(map[string]any{"TableName": "Customer", "LastSync": t0}))
	require.NoError(t, err)
	_, err = f.engine.state.Insert(ctx, schema.NewRow(map[string]any{"TableName": "Customer", "LastSync": t0}))
	assert.Error(t, err, "one state row per table")
}

func TestRegister_InjectsColumns(t *testing.T) {
	f := newSyncFixture(t, nil)

	for _, col := range []string{DirtyColumn, DeletedColumn, "ServerId"} {
		assert.True(t, f.customer.Info().HasColumn(col), col)
	}
	assert.True(t, f.order.Info().HasColumn("CustomerServerId"))
	assert.Equal(t, []string{"Customer", "Order"}, f.engine.Tables())

	_, ok := f.mctx.Model(StateTable)
	assert.True(t, ok)
}

func TestRegister_Rejects(t *testing.T) {
	newSyncFixture(t, func(f *syncFixture) {
		cases := []struct {
			name string
			opts Options
			want error
		}{
			{"no server key", Options{LoadURL: "http://x"}, ErrInvalidOptions},
			{"no urls", Options{ServerPrimaryKey: "ServerId"}, ErrInvalidOptions},
			{"mapping on plain column", Options{
				LoadURL: "http://x", ServerPrimaryKey: "ServerId",
				Mappings: []FieldMapping{{Local: "Total", Remote: "TotalServer"}},
			}, ErrInvalidOptions},
			{"mapping without remote column", Options{
				LoadURL: "http://x", ServerPrimaryKey: "ServerId",
				Mappings: []FieldMapping{{Local: "CustomerId"}},
			}, ErrInvalidOptions},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				assert.ErrorIs(t, f.engine.Register(f.order, tc.opts), tc.want)
			})
		}

		require.NoError(t, f.engine.Register(f.customer, f.customerOptions()))
		assert.ErrorIs(t, f.engine.Register(f.customer, f.customerOptions()), ErrDuplicateBinding)
	})
}

func TestDirtyFlag_FollowsOrigin(t *testing.T) {
	f := newSyncFixture(t, nil)
	ctx := context.Background()

	row := insert(t, f.customer, map[string]any{"Name": "Ada"})
	got := rows(t, f.customer, nil)
	require.Len(t, got, 1)
	assert.Equal(t, true, got[0].Value(DirtyColumn), "local insert marks dirty")

	_, err := f.customer.Update(model.WithOrigin(ctx, model.SyncPull), schema.NewRow(map[string]any{
		"Id": row.Value("Id"), "Name": "Ada L.",
	}))
	require.NoError(t, err)
	assert.Equal(t, false, rows(t, f.customer, nil)[0].Value(DirtyColumn), "pulled write is clean")

	_, err = f.customer.Update(model.WithOrigin(ctx, model.ConstraintRepair), schema.NewRow(map[string]any{
		"Id": row.Value("Id"), "ServerId": int64(4),
	}))
	require.NoError(t, err)
	assert.Equal(t, false, rows(t, f.customer, nil)[0].Value(DirtyColumn), "repair keeps the flag")
}

func TestSync_PushAssignsServerID(t *testing.T) {
	f := newSyncFixture(t, nil)
	ctx := context.Background()
	local := insert(t, f.customer, map[string]any{"Name": "Ada"})

	require.NoError(t, f.engine.Sync(ctx, "Customer"))

	posts := f.fake.RequestsFor(http.MethodPost, "customers")
	require.Len(t, posts, 1)
	body := posts[0].Body
	assert.Equal(t, "Ada", body["Name"])
	assert.NotContains(t, body, "Id", "local key stays local")
	assert.NotContains(t, body, DirtyColumn)
	assert.NotContains(t, body, DeletedColumn)

	got := rows(t, f.customer, nil)
	require.Len(t, got, 1, "pull after push must not duplicate the row")
	assert.Equal(t, local.Value("Id"), got[0].Value("Id"))
	assert.Equal(t, int64(1), got[0].Value("ServerId"))
	assert.Equal(t, false, got[0].Value(DirtyColumn))

	st, err := f.engine.Status("Customer")
	require.NoError(t, err)
	assert.Equal(t, 1, st.RowsPushed)
	assert.Equal(t, 1, st.RowsPulled)
	assert.Empty(t, st.LastError)
	assert.True(t, t0.Equal(st.LastSync))
	assert.NotEmpty(t, st.LastRunID)

	require.NoError(t, f.engine.Sync(ctx, "Customer"))
	assert.Len(t, f.fake.RequestsFor(http.MethodPost, "customers"), 1, "clean rows are not pushed again")
}

func TestSync_PullInsertsThenUpdates(t *testing.T) {
	f := newSyncFixture(t, nil)
	ctx := context.Background()

	f.fake.Put("customers", map[string]any{"ServerId": int64(10), "Name": "Ada"})
	f.fake.Put("customers", map[string]any{"ServerId": int64(11), "Name": "Grace"})
	first := f.clock.Advance(time.Minute)

	require.NoError(t, f.engine.Sync(ctx, "Customer"))
	got := rows(t, f.customer, nil)
	require.Len(t, got, 2)
	assert.Equal(t, int64(10), got[0].Value("ServerId"))
	assert.Equal(t, false, got[0].Value(DirtyColumn))
	assert.Empty(t, f.fake.RequestsFor(http.MethodGet, "customers")[0].Query, "first sync loads everything")

	wm, ok, err := f.engine.Watermark(ctx, "Customer")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, first.Equal(wm))

	f.clock.Advance(time.Minute)
	f.fake.Put("customers", map[string]any{"ServerId": int64(10), "Name": "Ada Lovelace"})
	f.fake.Put("customers", map[string]any{"ServerId": int64(12), "Name": "Alan"})

	require.NoError(t, f.engine.Sync(ctx, "Customer"))

	loads := f.fake.RequestsFor(http.MethodGet, "customers")
	require.Len(t, loads, 2)
	assert.Equal(t, first.Format(time.RFC3339Nano), loads[1].Query[ChangedSinceParam])

	got = rows(t, f.customer, nil)
	require.Len(t, got, 3)
	assert.Equal(t, "Ada Lovelace", got[0].Value("Name"))
	assert.Equal(t, int64(1), got[0].Value("Id"), "existing row updated in place")
	assert.Equal(t, "Alan", got[2].Value("Name"))

	st, err := f.engine.Status("Customer")
	require.NoError(t, err)
	assert.Equal(t, 2, st.RowsPulled)
}

// keyLookups counts single-row selects filtered on a server key column.
type keyLookups struct {
	storage.Adapter
	mu sync.Mutex
	n  map[string]int
}

func (k *keyLookups) Select(ctx context.Context, ti *schema.TableInfo, q storage.Query) ([]*schema.Row, error) {
	if q.Take == 1 && q.Where != nil && strings.Contains(where.String(q.Where), "ServerId") {
		k.mu.Lock()
		k.n[ti.Name()]++
		k.mu.Unlock()
	}
	return k.Adapter.Select(ctx, ti, q)
}

func (k *keyLookups) count(table string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.n[table]
}

func TestSync_PullSkipsServerKeyLookups(t *testing.T) {
	testCases := []struct {
		name    string
		local   []string
		lookups int
		rows    int
	}{
		{name: "first sync with no local rows", lookups: 0, rows: 2},
		{name: "first sync after pushing a local row", local: []string{"Local"}, lookups: 3, rows: 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			counter := &keyLookups{Adapter: testutil.NewSQLiteStore(t), n: map[string]int{}}
			f := newSyncFixtureOn(t, counter, nil)
			ctx := context.Background()

			for _, name := range tc.local {
				insert(t, f.customer, map[string]any{"Name": name})
			}
			f.fake.Put("customers", map[string]any{"ServerId": int64(10), "Name": "Ada"})
			f.fake.Put("customers", map[string]any{"ServerId": int64(11), "Name": "Grace"})
			f.clock.Advance(time.Minute)

			require.NoError(t, f.engine.Sync(ctx, "Customer"))

			assert.Len(t, rows(t, f.customer, nil), tc.rows)
			assert.Equal(t, tc.lookups, counter.count("Customer"))

			st, err := f.engine.Status("Customer")
			require.NoError(t, err)
			assert.Equal(t, 2+len(tc.local), st.RowsPulled)
		})
	}

	t.Run("later syncs look rows up", func(t *testing.T) {
		counter := &keyLookups{Adapter: testutil.NewSQLiteStore(t), n: map[string]int{}}
		f := newSyncFixtureOn(t, counter, nil)
		ctx := context.Background()

		f.fake.Put("customers", map[string]any{"ServerId": int64(10), "Name": "Ada"})
		f.clock.Advance(time.Minute)
		require.NoError(t, f.engine.Sync(ctx, "Customer"))
		require.Zero(t, counter.count("Customer"))

		f.clock.Advance(time.Minute)
		f.fake.Put("customers", map[string]any{"ServerId": int64(10), "Name": "Ada Lovelace"})
		require.NoError(t, f.engine.Sync(ctx, "Customer"))

		assert.Equal(t, 1, counter.count("Customer"))
		got := rows(t, f.customer, nil)
		require.Len(t, got, 1)
		assert.Equal(t, "Ada Lovelace", got[0].Value("Name"))
	})
}

func TestSync_WatermarkNeverMovesBack(t *testing.T) {
	f := newSyncFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.engine.Sync(ctx, "Customer"))
	f.clock.Set(t0.Add(-time.Hour))
	require.NoError(t, f.engine.Sync(ctx, "Customer"))

	wm, ok, err := f.engine.Watermark(ctx, "Customer")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, t0.Equal(wm))
}

func TestSync_FailureKeepsWatermark(t *testing.T) {
	f := newSyncFixture(t, nil)
	ctx := context.Background()

	f.fake.FailNext(http.MethodGet, "customers", http.StatusInternalServerError)
	require.NoError(t, f.engine.Sync(ctx, "Customer"), "sync failures are recorded, not returned")

	_, ok, err := f.engine.Watermark(ctx, "Customer")
	require.NoError(t, err)
	assert.False(t, ok)

	st, err := f.engine.Status("Customer")
	require.NoError(t, err)
	assert.Contains(t, st.LastError, "pull")
	assert.Equal(t, "idle; last sync failed for Customer", f.engine.GetSyncStatus())

	require.NoError(t, f.engine.Sync(ctx, "Customer"))
	st, err = f.engine.Status("Customer")
	require.NoError(t, err)
	assert.Empty(t, st.LastError)
	assert.Equal(t, "idle", f.engine.GetSyncStatus())
}

func TestSync_AfterSyncSeesError(t *testing.T) {
	var got []error
	f := newSyncFixture(t, func(f *syncFixture) {
		opts := f.customerOptions()
		opts.AfterSync = func(ctx context.Context, table string, err error) {
			got = append(got, err)
		}
		require.NoError(t, f.engine.Register(f.customer, opts))
	})
	ctx := context.Background()

	insert(t, f.customer, map[string]any{"Name": "Ada"})
	f.fake.FailNext(http.MethodPost, "customers", http.StatusBadGateway)
	require.NoError(t, f.engine.Sync(ctx, "Customer"))
	require.NoError(t, f.engine.Sync(ctx, "Customer"))

	require.Len(t, got, 2)
	require.Error(t, got[0])
	assert.True(t, IsSyncError(got[0]))
	assert.True(t, remote.IsStatusError(got[0]))
	assert.NoError(t, got[1])

	assert.Len(t, f.fake.Rows("customers"), 1, "dirty row retried on the next sync")
}

func TestSync_SoftDeleteThenPush(t *testing.T) {
	f := newSyncFixture(t, nil)
	ctx := context.Background()

	row := insert(t, f.customer, map[string]any{"Name": "Ada"})
	require.NoError(t, f.engine.Sync(ctx, "Customer"))
	require.Len(t, f.fake.Rows("customers"), 1)

	_, err := f.customer.Delete(ctx, schema.NewRow(map[string]any{"Id": row.Value("Id")}))
	require.NoError(t, err)

	assert.Empty(t, rows(t, f.customer, nil), "soft-deleted rows are hidden")
	hidden := rows(t, f.customer, &model.SelectOptions{IncludeSoftDeleted: true})
	require.Len(t, hidden, 1)
	assert.Equal(t, true, hidden[0].Value(DeletedColumn))
	assert.Equal(t, true, hidden[0].Value(DirtyColumn))

	f.clock.Advance(time.Minute)
	require.NoError(t, f.engine.Sync(ctx, "Customer"))

	dels := f.fake.RequestsFor(http.MethodDelete, "customers")
	require.Len(t, dels, 1)
	assert.Equal(t, "/customers/1", dels[0].Path)
	assert.Empty(t, f.fake.Rows("customers"))
	assert.Empty(t, rows(t, f.customer, &model.SelectOptions{IncludeSoftDeleted: true}), "purged after confirm")
}

func TestSync_DeleteNeverPushedPurgesLocally(t *testing.T) {
	f := newSyncFixture(t, nil)
	ctx := context.Background()

	row := insert(t, f.customer, map[string]any{"Name": "Ada"})
	_, err := f.customer.Delete(ctx, schema.NewRow(map[string]any{"Id": row.Value("Id")}))
	require.NoError(t, err)

	require.NoError(t, f.engine.Sync(ctx, "Customer"))

	assert.Empty(t, f.fake.RequestsFor(http.MethodDelete, "customers"))
	assert.Empty(t, f.fake.RequestsFor(http.MethodPost, "customers"))
	assert.Empty(t, rows(t, f.customer, &model.SelectOptions{IncludeSoftDeleted: true}))
}

func TestSync_RemoteDeleteNotFoundTolerated(t *testing.T) {
	f := newSyncFixture(t, nil)
	ctx := context.Background()

	row := insert(t, f.customer, map[string]any{"Name": "Ada"})
	require.NoError(t, f.engine.Sync(ctx, "Customer"))
	synced, err := f.customer.SelectByID(ctx, row.Value("Id"), nil)
	require.NoError(t, err)
	serverID := synced.Value("ServerId")
	require.NotNil(t, serverID)

	_, err = f.customer.Delete(ctx, schema.NewRow(map[string]any{"Id": row.Value("Id")}))
	require.NoError(t, err)
	require.True(t, f.fake.Remove("customers", serverID), "deleted remotely by another client")

	f.clock.Advance(time.Minute)
	require.NoError(t, f.engine.Sync(ctx, "Customer"))

	assert.Len(t, f.fake.RequestsFor(http.MethodDelete, "customers"), 1)
	st, err := f.engine.Status("Customer")
	require.NoError(t, err)
	assert.Empty(t, st.LastError)
	assert.Empty(t, rows(t, f.customer, &model.SelectOptions{IncludeSoftDeleted: true}))
}

func TestSync_RemoteDeleteNotFoundWhileRowStillRemote(t *testing.T) {
	f := newSyncFixture(t, nil)
	ctx := context.Background()

	row := insert(t, f.customer, map[string]any{"Name": "Ada"})
	require.NoError(t, f.engine.Sync(ctx, "Customer"))
	_, err := f.customer.Delete(ctx, schema.NewRow(map[string]any{"Id": row.Value("Id")}))
	require.NoError(t, err)

	// The remote answers 404 but keeps the row; it stays authoritative and
	// the pull of the same run brings the row back as a clean local copy.
	f.fake.FailNext(http.MethodDelete, "customers", http.StatusNotFound)
	require.NoError(t, f.engine.Sync(ctx, "Customer"))

	st, err := f.engine.Status("Customer")
	require.NoError(t, err)
	assert.Empty(t, st.LastError)
	require.Len(t, f.fake.Rows("customers"), 1)

	got := rows(t, f.customer, &model.SelectOptions{IncludeSoftDeleted: true})
	require.Len(t, got, 1)
	assert.Equal(t, "Ada", got[0].Value("Name"))
	assert.Equal(t, false, got[0].Value(DirtyColumn))
	assert.Equal(t, false, got[0].Value(DeletedColumn))
	assert.NotEqual(t, row.Value("Id"), got[0].Value("Id"), "re-inserted under a new local key")
}

func TestSync_Throttle(t *testing.T) {
	f := newSyncFixture(t, func(f *syncFixture) {
		opts := f.customerOptions()
		opts.MaxSyncInterval = time.Hour
		require.NoError(t, f.engine.Register(f.customer, opts))
	})
	ctx := context.Background()

	require.NoError(t, f.engine.Sync(ctx, "Customer"))
	f.clock.Advance(10 * time.Minute)
	require.NoError(t, f.engine.Sync(ctx, "Customer"))

	assert.Len(t, f.fake.RequestsFor(http.MethodGet, "customers"), 1)
	st, err := f.engine.Status("Customer")
	require.NoError(t, err)
	assert.True(t, st.Throttled)

	f.clock.Advance(time.Hour)
	require.NoError(t, f.engine.Sync(ctx, "Customer"))
	assert.Len(t, f.fake.RequestsFor(http.MethodGet, "customers"), 2)
	st, err = f.engine.Status("Customer")
	require.NoError(t, err)
	assert.False(t, st.Throttled)
}

func TestSync_ActiveAndUnknown(t *testing.T) {
	var nested error
	var during string
	var active bool
	var f *syncFixture
	f = newSyncFixture(t, func(fx *syncFixture) {
		opts := fx.customerOptions()
		opts.BeforeSync = func(ctx context.Context, table string) error {
			nested = f.engine.Sync(ctx, table)
			during = f.engine.GetSyncStatus()
			active = f.engine.IsSyncActive()
			return nil
		}
		require.NoError(t, fx.engine.Register(fx.customer, opts))
	})
	ctx := context.Background()

	assert.ErrorIs(t, f.engine.Sync(ctx, "Nope"), ErrUnknownTable)
	_, err := f.engine.Status("Nope")
	assert.ErrorIs(t, err, ErrUnknownTable)
	assert.ErrorIs(t, f.engine.ResetWatermark(ctx, "Nope"), ErrUnknownTable)

	require.NoError(t, f.engine.Sync(ctx, "Customer"))
	assert.ErrorIs(t, nested, ErrSyncActive)
	assert.Equal(t, "syncing Customer", during)
	assert.True(t, active)
	assert.False(t, f.engine.IsSyncActive())
}

func TestSyncAll_StatusAndGuard(t *testing.T) {
	var during string
	var nested error
	var f *syncFixture
	f = newSyncFixture(t, func(fx *syncFixture) {
		require.NoError(t, fx.engine.Register(fx.customer, fx.customerOptions()))
		opts := fx.orderOptions()
		opts.BeforeSync = func(ctx context.Context, table string) error {
			during = f.engine.GetSyncStatus()
			nested = f.engine.SyncAll(ctx)
			return nil
		}
		require.NoError(t, fx.engine.Register(fx.order, opts))
	})

	require.NoError(t, f.engine.SyncAll(context.Background()))
	assert.Equal(t, "syncing all tables (current: Order)", during)
	assert.ErrorIs(t, nested, ErrSyncAllActive)

	statuses := f.engine.Statuses()
	require.Len(t, statuses, 2)
	for _, st := range statuses {
		assert.Equal(t, "idle", st.StateName)
		assert.False(t, st.LastSync.IsZero(), st.Table)
	}
}

func TestSync_SelectOptionsHeaderAndRowFilter(t *testing.T) {
	f := newSyncFixture(t, func(f *syncFixture) {
		opts := f.customerOptions()
		opts.PostURL = ""
		opts.SelectOptions = &model.SelectOptions{Where: where.Eq("Name", "Ada"), Take: 5}
		opts.OnRemoteRow = func(ctx context.Context, table string, row map[string]any) (bool, error) {
			if row["Name"] == "skip" {
				return false, nil
			}
			row["Name"] = fmt.Sprintf("%s (%s)", row["Name"], table)
			return true, nil
		}
		require.NoError(t, f.engine.Register(f.customer, opts))
	})
	ctx := context.Background()

	f.fake.Put("customers", map[string]any{"Name": "Ada"})
	f.fake.Put("customers", map[string]any{"Name": "skip"})
	require.NoError(t, f.engine.Sync(ctx, "Customer"))

	loads := f.fake.RequestsFor(http.MethodGet, "customers")
	require.Len(t, loads, 1)
	sent, err := model.ParseSelectOptions([]byte(loads[0].Header.Get(SelectOptionsHeader)))
	require.NoError(t, err)
	assert.Equal(t, 5, sent.Take)
	assert.NotNil(t, sent.Where)

	got := rows(t, f.customer, nil)
	require.Len(t, got, 1)
	assert.Equal(t, "Ada (Customer)", got[0].Value("Name"))
}

func TestSync_PushResolvesParentServerID(t *testing.T) {
	f := newSyncFixture(t, nil)
	ctx := context.Background()

	c := insert(t, f.customer, map[string]any{"Name": "Ada"})
	insert(t, f.order, map[string]any{"Total": 9.5, "CustomerId": c.Value("Id")})

	require.NoError(t, f.engine.SyncAll(ctx))

	orders := rows(t, f.order, nil)
	require.Len(t, orders, 1)
	assert.Equal(t, int64(1), orders[0].Value("CustomerServerId"), "propagated from the pushed parent")
	assert.Equal(t, c.Value("Id"), orders[0].Value("CustomerId"))

	posts := f.fake.RequestsFor(http.MethodPost, "orders")
	require.Len(t, posts, 1)
	assert.Equal(t, "1", fmt.Sprint(posts[0].Body["CustomerServerId"]))
	assert.NotContains(t, posts[0].Body, "CustomerId", "local foreign keys stay local")
}

func TestSync_PullResolvesParentLocalID(t *testing.T) {
	f := newSyncFixture(t, nil)
	ctx := context.Background()

	f.fake.Put("customers", map[string]any{"ServerId": int64(5), "Name": "Ada"})
	f.fake.Put("orders", map[string]any{"ServerId": int64(7), "Total": 3.0, "CustomerServerId": int64(5)})

	require.NoError(t, f.engine.SyncAll(ctx))

	customers := rows(t, f.customer, nil)
	require.Len(t, customers, 1)
	orders := rows(t, f.order, nil)
	require.Len(t, orders, 1)
	assert.Equal(t, customers[0].Value("Id"), orders[0].Value("CustomerId"))
	assert.Equal(t, false, orders[0].Value(DirtyColumn))
}

func TestSync_ChildPulledBeforeParentIsRepaired(t *testing.T) {
	f := newSyncFixture(t, nil)
	ctx := context.Background()

	f.fake.Put("customers", map[string]any{"ServerId": int64(5), "Name": "Ada"})
	f.fake.Put("orders", map[string]any{"ServerId": int64(7), "Total": 3.0, "CustomerServerId": int64(5)})

	require.NoError(t, f.engine.Sync(ctx, "Order"))
	orders := rows(t, f.order, nil)
	require.Len(t, orders, 1)
	assert.Nil(t, orders[0].Value("CustomerId"), "parent not known yet")

	require.NoError(t, f.engine.Sync(ctx, "Customer"))
	customers := rows(t, f.customer, nil)
	require.Len(t, customers, 1)

	orders = rows(t, f.order, nil)
	assert.Equal(t, customers[0].Value("Id"), orders[0].Value("CustomerId"))
	assert.Equal(t, false, orders[0].Value(DirtyColumn), "repair does not dirty the child")
}

func TestResetWatermark_ForcesFullLoad(t *testing.T) {
	f := newSyncFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.engine.Sync(ctx, "Customer"))
	require.NoError(t, f.engine.ResetWatermark(ctx, "Customer"))
	_, ok, err := f.engine.Watermark(ctx, "Customer")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.engine.Sync(ctx, "Customer"))
	loads := f.fake.RequestsFor(http.MethodGet, "customers")
	require.Len(t, loads, 2)
	assert.Empty(t, loads[1].Query)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newSyncFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		return len(f.fake.RequestsFor(http.MethodGet, "orders")) >= 2
	}, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}
