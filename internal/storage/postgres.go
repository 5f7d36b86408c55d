// File: internal/storage/postgres.go
package storage

import (
	_ "github.com/lib/pq"

	"github.com/crosslane/bridge-coordinator/pkg/utils"
)

// NewPostgresStorage creates PostgreSQL-backed storage
func NewPostgresStorage(config *StorageConfig) *SQLStorage {
	return &SQLStorage{
		config:  config,
		dialect: dialect{name: "postgres", driver: "postgres", rebindable: true},
		logger:  utils.GetLogger(),
	}
}
