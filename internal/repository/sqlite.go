package repository

import (
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const sqliteDefaultPath = "./kestrel.db"

// sqlitePragmas are applied to every connection.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"foreign_keys(ON)",
}

// sqliteDSN builds a modernc.org/sqlite DSN. ":memory:" yields a private
// in-memory database.
func sqliteDSN(path string) string {
	if path == "" {
		path = sqliteDefaultPath
	}
	dsn := "file:" + path + "?"
	if path == ":memory:" {
		dsn = "file::memory:?"
	}
	for i, p := range sqlitePragmas {
		if i > 0 {
			dsn += "&"
		}
		dsn += "_pragma=" + p
	}
	return dsn
}

// ensureSQLiteDir creates the parent directory of a file database.
func ensureSQLiteDir(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}
	return nil
}
