// Package storage defines the contract between the data model engine and a
// physical store.
//
// Any conforming Adapter may be substituted. The SQL implementation lives in
// storage/sqlstore.
package storage

import (
	"context"

	"github.com/roach88/ormso/internal/schema"
	"github.com/roach88/ormso/internal/where"
)

// Adapter executes schema migrations and CRUD against a physical store.
//
// Transactions are carried by the context returned from BeginTransaction.
// Nested BeginTransaction calls on a context that already carries a
// transaction increment a reference count; only the outermost
// CommitTransaction commits. RollbackTransaction marks the transaction
// rollback-only; the outermost commit then rolls back and reports
// ErrRolledBack.
type Adapter interface {
	// UpdateSchema idempotently creates the table, missing columns and
	// indexes. It reports whether anything structural changed.
	UpdateSchema(ctx context.Context, ti *schema.TableInfo) (bool, error)

	// Insert writes a new row. Result.ID carries the stored primary key.
	Insert(ctx context.Context, ti *schema.TableInfo, row *schema.Row) (Result, error)

	// Update writes the set columns of row, keyed by its primary key.
	Update(ctx context.Context, ti *schema.TableInfo, row *schema.Row) (Result, error)

	// Delete removes the row keyed by its primary key.
	Delete(ctx context.Context, ti *schema.TableInfo, row *schema.Row) (Result, error)

	// UpdateWhere performs a set-based update of every row matching filter.
	UpdateWhere(ctx context.Context, ti *schema.TableInfo, set []Assignment, filter where.Expr) (Result, error)

	// Select returns rows matching q. Only schema columns are populated.
	Select(ctx context.Context, ti *schema.TableInfo, q Query) ([]*schema.Row, error)

	// SelectByID returns the row with the given primary key, or nil.
	SelectByID(ctx context.Context, ti *schema.TableInfo, id any, columns []string) (*schema.Row, error)

	// SelectCount returns the number of rows matching filter.
	SelectCount(ctx context.Context, ti *schema.TableInfo, filter where.Expr) (int64, error)

	BeginTransaction(ctx context.Context) (context.Context, error)
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// Result reports the effect of a write.
type Result struct {
	Affected int64
	ID       any
}

// Query describes a select.
//
// Skip and Take of zero mean "absent": no OFFSET or LIMIT is emitted.
type Query struct {
	Columns []string
	Where   where.Expr
	OrderBy []where.Order
	Skip    int
	Take    int
}

// Assignment sets one column in a set-based update. Exactly one of Value or
// Lookup is used; Lookup takes precedence when non-nil.
type Assignment struct {
	Column string
	Value  any
	Lookup *Lookup
}

// Lookup is a correlated scalar subselect:
//
//	(SELECT <Table>.<Select> FROM <Table> WHERE <Table>.<Match> = <outer>.<Outer>)
type Lookup struct {
	Table  *schema.TableInfo
	Select string
	Match  string
	Outer  string
}
