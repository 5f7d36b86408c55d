// File: internal/storage/sqlite.go
package storage

import (
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/crosslane/bridge-coordinator/pkg/utils"
)

// NewSQLiteStorage creates SQLite-backed storage
func NewSQLiteStorage(config *StorageConfig) *SQLStorage {
	return &SQLStorage{
		config:  config,
		dialect: dialect{name: "sqlite", driver: "sqlite"},
		logger:  utils.GetLogger(),
	}
}

// ensureSQLiteDir creates the parent directory of a file-backed database
func ensureSQLiteDir(connectionString string) error {
	path := strings.TrimPrefix(connectionString, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || strings.HasPrefix(path, ":memory:") {
		return nil
	}

	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
	}
	return nil
}
