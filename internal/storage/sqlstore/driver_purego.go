//go:build purego_sqlite

// Pure-Go SQLite driver using modernc.org/sqlite.
//
// Build with: go build -tags purego_sqlite
package sqlstore

import (
	_ "modernc.org/sqlite"
)

const (
	sqliteDriverName    = "sqlite"
	sqliteDriverPackage = "modernc.org/sqlite"
)
