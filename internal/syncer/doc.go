// Package syncer reconciles local tables with an HTTP remote.
//
// Each synchronized table is bound with Options naming its load and post
// URLs and the column holding the remote primary key. Binding injects the
// bookkeeping columns (_isDirty, _isDeleted, the server key and the remote
// side of every field mapping) and installs hooks on the table's data model:
//
//   - local inserts and updates mark the row dirty; writes made by the
//     sync engine itself clear the flag, and foreign-key repairs leave it
//   - local deletes become soft deletes, pushed like any other change
//   - ordinary selects do not see soft-deleted rows
//
// A table sync runs: throttle check, push of dirty rows, pull of rows
// changed since the watermark, a foreign-key remap on first sync, then the
// new watermark is saved. Failures are logged and recorded on the table's
// status; the watermark is left untouched so the next attempt reprocesses
// the same window.
package syncer
