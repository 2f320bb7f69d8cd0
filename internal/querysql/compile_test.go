package querysql

import (
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ormso/internal/schema"
	"github.com/roach88/ormso/internal/storage"
	"github.com/roach88/ormso/internal/where"
)

// testCatalog declares Country <- Customer <- Order.
func testCatalog(t *testing.T) *schema.Catalog {
	t.Helper()
	c := schema.NewCatalog()
	tables := []schema.Table{
		{
			Name: "Country",
			Columns: []schema.Column{
				{Name: "Id", Type: schema.Integer, PrimaryKey: true, AutoIncrement: true},
				{Name: "Code", Type: schema.Text},
			},
		},
		{
			Name: "Customer",
			Columns: []schema.Column{
				{Name: "Id", Type: schema.Integer, PrimaryKey: true, AutoIncrement: true},
				{Name: "Name", Type: schema.Text, Indexed: true},
				{Name: "CountryId", Type: schema.Integer, Relation: &schema.Relation{
					ParentTable: "Country", ParentAssociation: "Country", ChildAssociation: "Customers",
				}},
				{Name: "ServerId", Type: schema.Integer},
			},
		},
		{
			Name: "Order",
			Columns: []schema.Column{
				{Name: "Id", Type: schema.Integer, PrimaryKey: true, AutoIncrement: true},
				{Name: "Total", Type: schema.Float},
				{Name: "CustomerId", Type: schema.Integer, Relation: &schema.Relation{
					ParentTable: "Customer", ParentAssociation: "Customer", ChildAssociation: "Orders",
				}},
				{Name: "ServerCustomerId", Type: schema.Integer},
			},
		},
	}
	for _, tbl := range tables {
		_, err := c.Add(tbl, "")
		require.NoError(t, err)
	}
	require.NoError(t, c.Finalize())
	return c
}

func lookup(t *testing.T, c *schema.Catalog, name string) *schema.TableInfo {
	t.Helper()
	ti, ok := c.Lookup(name)
	require.True(t, ok, name)
	return ti
}

func mustParse(t *testing.T, raw string) where.Expr {
	t.Helper()
	e, err := where.ParseJSON([]byte(raw))
	require.NoError(t, err)
	return e
}

func argValues(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		if n, ok := a.(sql.NamedArg); ok {
			out[i] = n.Value
			continue
		}
		out[i] = a
	}
	return out
}

func TestCompileWhere_ValuesAreParameterized(t *testing.T) {
	c := testCatalog(t)
	compiler := NewCompiler(SQLite{})

	sql, args, err := compiler.CompileWhere(lookup(t, c, "Customer"), where.Eq("Name", "Robert'); DROP TABLE x;--"))
	require.NoError(t, err)

	assert.Equal(t, `t0."Name" = :p1`, sql)
	assert.NotContains(t, sql, "DROP")
	assert.Equal(t, []any{"Robert'); DROP TABLE x;--"}, argValues(args))
}

func TestCompileWhere_Forms(t *testing.T) {
	c := testCatalog(t)
	customer := lookup(t, c, "Customer")
	compiler := NewCompiler(SQLite{})

	testCases := []struct {
		name string
		raw  string
		sql  string
		args []any
	}{
		{
			name: "null equality",
			raw:  `["Name", "=", "null"]`,
			sql:  `t0."Name" IS NULL`,
		},
		{
			name: "null inequality",
			raw:  `["Name", "<>", "null"]`,
			sql:  `t0."Name" IS NOT NULL`,
		},
		{
			name: "two-branch or",
			raw:  `[["Name", "contains", "X"], "or", ["Name", "contains", "X"]]`,
			sql:  `(t0."Name" LIKE :p1 ESCAPE '\' OR t0."Name" LIKE :p2 ESCAPE '\')`,
			args: []any{"%X%", "%X%"},
		},
		{
			name: "group",
			raw:  `[["Id", ">", 1]]`,
			sql:  `(t0."Id" > :p1)`,
			args: []any{int64(1)},
		},
		{
			name: "implicit and",
			raw:  `[["Id", ">=", 1], ["Id", "<", 5]]`,
			sql:  `(t0."Id" >= :p1 AND t0."Id" < :p2)`,
			args: []any{int64(1), int64(5)},
		},
		{
			name: "not contains",
			raw:  `["Name", "notcontains", "a"]`,
			sql:  `t0."Name" NOT LIKE :p1 ESCAPE '\'`,
			args: []any{"%a%"},
		},
		{
			name: "ends with escapes wildcards",
			raw:  `["Name", "endswith", "_x"]`,
			sql:  `t0."Name" LIKE :p1 ESCAPE '\'`,
			args: []any{`%\_x`},
		},
		{
			name: "literal coerced to column type",
			raw:  `["Id", "42"]`,
			sql:  `t0."Id" = :p1`,
			args: []any{int64(42)},
		},
		{
			name: "parent path",
			raw:  `["Country.Code", "NL"]`,
			sql:  `(SELECT t1."Code" FROM "Country" t1 WHERE t1."Id" = t0."CountryId") = :p1`,
			args: []any{"NL"},
		},
		{
			name: "child path compiles to exists",
			raw:  `["Orders.Total", ">", 10]`,
			sql:  `EXISTS (SELECT 1 FROM "Order" t1 WHERE t1."CustomerId" = t0."Id" AND t1."Total" > :p1)`,
			args: []any{float64(10)},
		},
		{
			name: "exists without inner filter",
			raw:  `["Orders", []]`,
			sql:  `EXISTS (SELECT 1 FROM "Order" t1 WHERE t1."CustomerId" = t0."Id")`,
		},
		{
			name: "mixed path exists",
			raw:  `["Country.Customers", ["Name", "Ada"]]`,
			sql: `EXISTS (SELECT 1 FROM "Country" t1 WHERE t1."Id" = t0."CountryId" AND ` +
				`EXISTS (SELECT 1 FROM "Customer" t2 WHERE t2."CountryId" = t1."Id" AND t2."Name" = :p1))`,
			args: []any{"Ada"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sql, args, err := compiler.CompileWhere(customer, mustParse(t, tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.sql, sql)
			if tc.args == nil {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tc.args, argValues(args))
			}
		})
	}
}

func TestCompileWhere_In(t *testing.T) {
	c := testCatalog(t)
	compiler := NewCompiler(Postgres{})

	sql, args, err := compiler.CompileWhere(lookup(t, c, "Order"), where.In("CustomerId", []any{int64(1), nil, "2"}))
	require.NoError(t, err)
	assert.Equal(t, `t0."CustomerId" IN ($1, $2)`, sql)
	assert.Equal(t, []any{int64(1), int64(2)}, args)

	sql, args, err = compiler.CompileWhere(lookup(t, c, "Order"), where.In("CustomerId", nil))
	require.NoError(t, err)
	assert.Equal(t, "1 = 0", sql)
	assert.Empty(t, args)
}

func TestCompileWhere_Errors(t *testing.T) {
	c := testCatalog(t)
	customer := lookup(t, c, "Customer")
	compiler := NewCompiler(SQLite{})

	testCases := []struct {
		name string
		expr where.Expr
		code CompileErrorCode
	}{
		{"unknown column", where.Eq("Nope", 1), ErrCodeUnknownColumn},
		{"unknown relation", where.Eq("Nope.Name", 1), ErrCodeUnknownRelation},
		{"unknown column behind relation", where.Eq("Country.Nope", 1), ErrCodeUnknownColumn},
		{"null with ordering operator", where.Cmp("Name", where.OpGt, nil), ErrCodeNullOperator},
		{"uncoercible literal", where.Eq("Id", "abc"), ErrCodeInvalidValue},
		{"unknown exists path", where.Exists{Path: "Invoices"}, ErrCodeUnknownRelation},
		{"operator outside grammar", where.Cmp("Name", where.Operator("~"), "x"), ErrCodeUnsupported},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := compiler.CompileWhere(customer, tc.expr)
			require.Error(t, err)
			assert.True(t, IsCompileError(err))
			assert.True(t, IsErrorCode(err, tc.code), err.Error())

			var ce *CompileError
			require.ErrorAs(t, err, &ce)
			assert.NotEmpty(t, ce.Fragment)
		})
	}
}

func TestCompileWhere_AmbiguousInheritedAssociation(t *testing.T) {
	c := schema.NewCatalog()
	owned := schema.Column{Name: "OwnerId", Type: schema.Integer, Relation: &schema.Relation{
		ParentTable: "User", ParentAssociation: "Owner", ChildAssociation: "Docs",
	}}
	id := schema.Column{Name: "Id", Type: schema.Integer, PrimaryKey: true}
	decls := []struct {
		table schema.Table
		base  string
	}{
		{table: schema.Table{Name: "User", Columns: []schema.Column{id}}},
		{table: schema.Table{Name: "Doc", IsAbstract: true, Columns: []schema.Column{owned}}},
		{table: schema.Table{Name: "Invoice", Columns: []schema.Column{id}}, base: "Doc"},
		{table: schema.Table{Name: "Memo", Columns: []schema.Column{id}}, base: "Doc"},
	}
	for _, d := range decls {
		_, err := c.Add(d.table, d.base)
		require.NoError(t, err)
	}
	require.NoError(t, c.Finalize())
	compiler := NewCompiler(SQLite{})

	testCases := []struct {
		name  string
		table string
		expr  where.Expr
		code  CompileErrorCode
	}{
		{"exists through ambiguous association", "User", where.Exists{Path: "Docs"}, ErrCodeAmbiguousRelation},
		{"field through ambiguous association", "User", where.Eq("Docs.Id", 1), ErrCodeAmbiguousRelation},
		{"unknown association stays unknown", "User", where.Exists{Path: "Notes"}, ErrCodeUnknownRelation},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := compiler.CompileWhere(lookup(t, c, tc.table), tc.expr)
			require.Error(t, err)
			assert.True(t, IsErrorCode(err, tc.code), err.Error())
		})
	}

	for _, name := range []string{"Invoice", "Memo"} {
		sql, _, err := compiler.CompileWhere(lookup(t, c, name), where.Eq("Owner.Id", 1))
		require.NoError(t, err, name)
		assert.Contains(t, sql, `"Id"`)
	}
}

func TestSelect_OrderByAlwaysEndsWithPrimaryKey(t *testing.T) {
	c := testCatalog(t)
	compiler := NewCompiler(SQLite{})
	customer := lookup(t, c, "Customer")

	st, err := compiler.Select(customer, storage.Query{})
	require.NoError(t, err)
	assert.Equal(t, `SELECT t0."Id", t0."Name", t0."CountryId", t0."ServerId" FROM "Customer" t0 ORDER BY t0."Id" ASC`, st.SQL)

	st, err = compiler.Select(customer, storage.Query{
		Columns: []string{"Name"},
		OrderBy: []where.Order{{Field: "Id", Desc: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT t0."Name" FROM "Customer" t0 ORDER BY t0."Id" DESC`, st.SQL)
}

func TestSelect_Paging(t *testing.T) {
	c := testCatalog(t)
	customer := lookup(t, c, "Customer")

	testCases := []struct {
		name    string
		dialect Dialect
		skip    int
		take    int
		suffix  string
	}{
		{"sqlite none", SQLite{}, 0, 0, `ORDER BY t0."Id" ASC`},
		{"sqlite take", SQLite{}, 0, 5, `ORDER BY t0."Id" ASC LIMIT 5`},
		{"sqlite skip", SQLite{}, 10, 0, `ORDER BY t0."Id" ASC LIMIT -1 OFFSET 10`},
		{"sqlite both", SQLite{}, 10, 5, `ORDER BY t0."Id" ASC LIMIT 5 OFFSET 10`},
		{"postgres skip", Postgres{}, 10, 0, `ORDER BY t0."Id" ASC OFFSET 10`},
		{"postgres both", Postgres{}, 10, 5, `ORDER BY t0."Id" ASC LIMIT 5 OFFSET 10`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			st, err := NewCompiler(tc.dialect).Select(customer, storage.Query{Skip: tc.skip, Take: tc.take})
			require.NoError(t, err)
			assert.True(t, strings.HasSuffix(st.SQL, tc.suffix), st.SQL)
		})
	}
}

func TestSelect_OrderThroughChildRejected(t *testing.T) {
	c := testCatalog(t)
	_, err := NewCompiler(SQLite{}).Select(lookup(t, c, "Customer"), storage.Query{
		OrderBy: []where.Order{{Field: "Orders.Total"}},
	})
	assert.True(t, IsErrorCode(err, ErrCodeUnsupported))
}

func TestSelect_UnknownProjection(t *testing.T) {
	c := testCatalog(t)
	_, err := NewCompiler(SQLite{}).Select(lookup(t, c, "Customer"), storage.Query{Columns: []string{"Nope"}})
	assert.True(t, IsErrorCode(err, ErrCodeUnknownColumn))
}

func TestUpdate_Partial(t *testing.T) {
	c := testCatalog(t)
	compiler := NewCompiler(SQLite{})
	customer := lookup(t, c, "Customer")

	st, err := compiler.Update(customer, schema.NewRow(map[string]any{"Id": int64(7), "Name": "Ada"}))
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "Customer" SET "Name" = :p1 WHERE "Id" = :p2`, st.SQL)
	assert.Equal(t, []any{"Ada", int64(7)}, argValues(st.Args))

	st, err = compiler.Update(customer, schema.NewRow(map[string]any{"Id": int64(7)}))
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "Customer" SET "Id" = "Id" WHERE "Id" = :p1`, st.SQL)

	_, err = compiler.Update(customer, schema.NewRow(map[string]any{"Name": "Ada"}))
	assert.True(t, IsErrorCode(err, ErrCodeMissingKey))
}

func TestInsert_DefaultsAndAutoIncrement(t *testing.T) {
	c := schema.NewCatalog()
	_, err := c.Add(schema.Table{Name: "Flag", Columns: []schema.Column{
		{Name: "Id", Type: schema.Integer, PrimaryKey: true, AutoIncrement: true},
		{Name: "On", Type: schema.Boolean, Default: false},
	}}, "")
	require.NoError(t, err)
	require.NoError(t, c.Finalize())
	flag := lookup(t, c, "Flag")

	st, err := NewCompiler(Postgres{}).Insert(flag, schema.NewRow(nil))
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "Flag" ("On") VALUES ($1) RETURNING "Id"`, st.SQL)
	assert.Equal(t, []any{false}, st.Args)

	st, err = NewCompiler(Postgres{}).Insert(flag, schema.NewRow(map[string]any{"Id": nil, "On": true}))
	require.NoError(t, err)
	assert.Equal(t, []any{true}, st.Args)
}

func TestInsert_DefaultValues(t *testing.T) {
	c := schema.NewCatalog()
	_, err := c.Add(schema.Table{Name: "Seq", Columns: []schema.Column{
		{Name: "Id", Type: schema.Integer, PrimaryKey: true, AutoIncrement: true},
	}}, "")
	require.NoError(t, err)
	require.NoError(t, c.Finalize())

	st, err := NewCompiler(SQLite{}).Insert(lookup(t, c, "Seq"), schema.NewRow(nil))
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "Seq" DEFAULT VALUES RETURNING "Id"`, st.SQL)
}

func TestSQLiteArg_FormatsTimesFixedWidth(t *testing.T) {
	c := schema.NewCatalog()
	_, err := c.Add(schema.Table{Name: "Ev", Columns: []schema.Column{
		{Name: "Id", Type: schema.Integer, PrimaryKey: true},
		{Name: "At", Type: schema.Date},
	}}, "")
	require.NoError(t, err)
	require.NoError(t, c.Finalize())

	_, args, err := NewCompiler(SQLite{}).CompileWhere(lookup(t, c, "Ev"), where.Cmp("At", where.OpGt, "2024-01-02T03:04:05Z"))
	require.NoError(t, err)
	assert.Equal(t, []any{"2024-01-02T03:04:05.000000000Z"}, argValues(args))
}

func TestDialectFor(t *testing.T) {
	d, err := DialectFor("sqlite3")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())

	d, err = DialectFor("postgres")
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())
	assert.Equal(t, `"we""ird"`, d.Quote(`we"ird`))

	_, err = DialectFor("oracle")
	assert.Error(t, err)
}
