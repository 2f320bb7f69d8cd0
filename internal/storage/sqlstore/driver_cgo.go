//go:build !purego_sqlite

// CGO SQLite driver using mattn/go-sqlite3. This is the default.
//
// Requires: CGO_ENABLED=1
package sqlstore

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	sqliteDriverName    = "sqlite3"
	sqliteDriverPackage = "github.com/mattn/go-sqlite3"
)
