// Package schema provides the declarative schema model for ORMSO.
//
// A Table is pure data: a name, an ordered list of Columns and an abstract
// flag. Tables are registered with a Catalog, which resolves them exactly
// once (Finalize) into TableInfo values:
//
//	[Table declarations] → Catalog.Add → Catalog.Finalize → [TableInfo graph]
//
// Finalize computes, per table:
//   - the resolved column set (own columns, then the base table's columns
//     appended in declaration order)
//   - the single primary-key column (non-abstract tables only)
//   - relations where the table is the child (to-parent) and where it is
//     the parent (to-child)
//
// # Invariants
//
//   - Relation resolution runs once, after every table is registered.
//   - Registering a table or adding a column after Finalize fails with
//     ErrFinalized.
//   - Abstract tables contribute columns and never own relations.
//
// Rows are typed against a TableInfo: column values live in the value map,
// nested association payloads (eager loads, cascading writes) live in a
// separate side-channel so they never collide with column names.
package schema
