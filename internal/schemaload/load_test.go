package schemaload

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ormso/internal/model"
	"github.com/roach88/ormso/internal/remote"
	"github.com/roach88/ormso/internal/schema"
	"github.com/roach88/ormso/internal/syncer"
	"github.com/roach88/ormso/internal/testutil"
)

func TestLoadDir_Shop(t *testing.T) {
	res, errs := LoadDir("testdata/shop", LoadModeCollectAll)
	require.Empty(t, errs)
	assert.Equal(t, 2, res.FileCount)

	byName := map[string]Declaration{}
	for _, d := range res.Declarations {
		byName[d.Table.Name] = d
	}
	require.Len(t, byName, 3)

	entity := byName["Entity"]
	assert.True(t, entity.Table.IsAbstract)

	customer := byName["Customer"]
	assert.Equal(t, "Entity", customer.Base)
	require.Len(t, customer.Table.Columns, 2)
	assert.Equal(t, "Id", customer.Table.Columns[0].Name, "declaration order")
	assert.True(t, customer.Table.Columns[0].PrimaryKey)
	assert.True(t, customer.Table.Columns[1].Indexed)
	require.NotNil(t, customer.Sync)
	assert.Equal(t, 5*time.Minute, customer.Sync.MaxInterval)

	order := byName["Order"]
	paid, ok := order.Table.Column("Paid")
	require.True(t, ok)
	assert.Equal(t, schema.Boolean, paid.Type)
	assert.Equal(t, false, paid.Default)
	total, _ := order.Table.Column("Total")
	assert.Equal(t, float64(0), total.Default)
	cid, _ := order.Table.Column("CustomerId")
	require.NotNil(t, cid.Relation)
	assert.Equal(t, "Orders", cid.Relation.ChildAssociation)
	require.NotNil(t, order.Sync.SelectOptions)
	assert.Equal(t, 50, order.Sync.SelectOptions.Take)
	assert.NotNil(t, order.Sync.SelectOptions.Where)
	assert.Equal(t, []syncer.FieldMapping{{Local: "CustomerId", Remote: "CustomerServerId"}}, order.Sync.Mappings)
}

func TestLoadDir_Missing(t *testing.T) {
	_, errs := LoadDir("testdata/nope", LoadModeFailFast)
	require.Len(t, errs, 1)
	var le *LoadError
	require.ErrorAs(t, errs[0], &le)
	assert.Equal(t, ErrCodeNotFound, le.Code)

	_, errs = LoadDir(t.TempDir(), LoadModeFailFast)
	require.Len(t, errs, 1)
	require.ErrorAs(t, errs[0], &le)
	assert.Equal(t, ErrCodeNoFiles, le.Code)
}

func TestCompileString_Errors(t *testing.T) {
	testCases := []struct {
		name string
		src  string
		code string
		line int
	}{
		{
			name: "unknown type",
			src:  "table: A: {\n\tcolumns: Id: {type: \"uuid\", primaryKey: true}\n}\n",
			code: ErrCodeInvalidType,
			line: 2,
		},
		{
			name: "missing type",
			src:  "table: A: {\n\tcolumns: Id: {primaryKey: true}\n}\n",
			code: ErrCodeInvalidColumn,
			line: 2,
		},
		{
			name: "relation without parent",
			src:  "table: A: {\n\tcolumns: Id: {type: \"int\", primaryKey: true}\n\tcolumns: B: {type: \"int\", relation: {parentAssociation: \"B\"}}\n}\n",
			code: ErrCodeRelation,
			line: 3,
		},
		{
			name: "sync without server key",
			src:  "table: A: {\n\tcolumns: Id: {type: \"int\", primaryKey: true}\n\tsync: {loadUrl: \"a\"}\n}\n",
			code: ErrCodeSync,
			line: 3,
		},
		{
			name: "bad interval",
			src:  "table: A: {\n\tcolumns: Id: {type: \"int\", primaryKey: true}\n\tsync: {loadUrl: \"a\", serverPrimaryKey: \"S\",\n\t\tmaxInterval: \"often\"}\n}\n",
			code: ErrCodeSync,
			line: 4,
		},
		{
			name: "no tables",
			src:  "other: 1\n",
			code: ErrCodeNoTables,
		},
		{
			name: "cue conflict",
			src:  "table: A: columns: Id: type: \"int\"\ntable: A: columns: Id: type: \"text\"\n",
			code: ErrCodeBuildFailed,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, errs := CompileString(tc.src, "test.cue", LoadModeFailFast)
			require.NotEmpty(t, errs)
			var le *LoadError
			require.ErrorAs(t, errs[0], &le)
			assert.Equal(t, tc.code, le.Code, errs[0].Error())
			if tc.line > 0 {
				require.True(t, le.Pos.IsValid(), "position expected")
				assert.Equal(t, tc.line, le.Pos.Line())
				assert.Contains(t, errs[0].Error(), "test.cue:")
			}
		})
	}
}

func TestCompileString_CollectAll(t *testing.T) {
	src := `
table: A: columns: Id: {type: "nope"}
table: B: columns: Id: {type: "int", primaryKey: true}
table: C: columns: Id: {}
`
	res, errs := CompileString(src, "multi.cue", LoadModeCollectAll)
	assert.Len(t, errs, 2)
	assert.Equal(t, []string{"B"}, res.Tables())

	_, errs = CompileString(src, "multi.cue", LoadModeFailFast)
	assert.Len(t, errs, 1)
}

func TestApply_RegistersAndBinds(t *testing.T) {
	res, errs := LoadDir("testdata/shop", LoadModeFailFast)
	require.Empty(t, errs)

	mctx := model.NewContext(testutil.NewSQLiteStore(t))
	client, err := remote.New()
	require.NoError(t, err)
	engine, err := syncer.New(mctx, client)
	require.NoError(t, err)

	models, err := Apply(mctx, engine, orderedForSync(res.Declarations), "https://api.example.com/v1")
	require.NoError(t, err)
	require.Len(t, models, 3)

	changed, err := mctx.Finalize(context.Background())
	require.NoError(t, err)
	assert.Contains(t, changed, "Customer")
	assert.Contains(t, changed, "Order")

	customer, ok := mctx.Model("Customer")
	require.True(t, ok)
	assert.True(t, customer.Info().HasColumn("Note"), "inherited from the abstract base")
	assert.True(t, customer.Info().HasColumn(syncer.DirtyColumn))

	order, _ := mctx.Model("Order")
	assert.True(t, order.Info().HasColumn("CustomerServerId"))
	assert.Equal(t, []string{"Customer", "Order"}, engine.Tables())
}

func TestApply_BaseErrors(t *testing.T) {
	mctx := model.NewContext(testutil.NewSQLiteStore(t))
	_, err := Apply(mctx, nil, []Declaration{
		{Table: schema.Table{Name: "A", Columns: []schema.Column{{Name: "Id", Type: schema.Integer, PrimaryKey: true}}}, Base: "Missing"},
	}, "")
	assert.True(t, IsLoadError(err))

	_, err = Apply(mctx, nil, []Declaration{
		{Table: schema.Table{Name: "A"}, Base: "B"},
		{Table: schema.Table{Name: "B"}, Base: "A"},
	}, "")
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeBase, le.Code)
}

func TestCheck(t *testing.T) {
	res, errs := LoadDir("testdata/shop", LoadModeFailFast)
	require.Empty(t, errs)
	require.NoError(t, Check(res.Declarations, "https://api.example.com"))

	orphan := Declaration{Table: schema.Table{Name: "Line", Columns: []schema.Column{
		{Name: "Id", Type: schema.Integer, PrimaryKey: true},
		{Name: "OrderId", Type: schema.Integer, Relation: &schema.Relation{ParentTable: "Order"}},
	}}}
	assert.Error(t, Check([]Declaration{orphan}, ""), "relation to an undeclared parent")

	assert.True(t, IsLoadError(Check([]Declaration{{Table: schema.Table{Name: "A"}, Base: "Missing"}}, "")))
}

func TestResolver(t *testing.T) {
	testCases := []struct {
		base, ref, want string
	}{
		{"https://api.example.com/v1", "customers", "https://api.example.com/v1/customers"},
		{"https://api.example.com/v1/", "customers", "https://api.example.com/v1/customers"},
		{"https://api.example.com", "https://other.test/x", "https://other.test/x"},
		{"", "customers", "customers"},
		{"https://api.example.com", "", ""},
	}
	for _, tc := range testCases {
		got, err := resolver(tc.base)(tc.ref)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s + %s", tc.base, tc.ref)
	}
}

// orderedForSync puts the declarations in file-independent order: parents
// before children.
func orderedForSync(decls []Declaration) []Declaration {
	rank := map[string]int{"Entity": 0, "Customer": 1, "Order": 2}
	out := make([]Declaration, len(decls))
	for _, d := range decls {
		out[rank[d.Table.Name]] = d
	}
	return out
}
