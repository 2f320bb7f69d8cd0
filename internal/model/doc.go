// Package model implements the data model engine.
//
// A Context owns the schema catalog and the storage adapter. Tables are
// registered on it as DataModels before Finalize migrates the store; after
// that each DataModel orchestrates CRUD for its table:
//
//   - the lifecycle hook pipeline (before/after insert, update, delete), where
//     a table with a base runs its own hooks followed by the base chain's
//   - cascading persistence of child associations, including the previous-key
//     diff that deletes children dropped from the collection
//   - the combined filter (custom where, fixed fragments, where providers and
//     the base table's combined filter)
//   - eager-load expansion along association paths such as "Orders/Lines"
//
// Every write runs in one storage transaction carried on the context. The
// operation origin (Local, SyncPull, SyncPushConfirm, ConstraintRepair) is
// carried on the context too and exposed to hooks.
package model
