// File: internal/storage/factory.go
package storage

import (
	"fmt"

	"github.com/crosslane/bridge-coordinator/pkg/utils"
)

// NewStorage creates a storage instance for the configured engine
func NewStorage(config *StorageConfig) (Storage, error) {
	if config == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Storage config is required")
	}
	if config.ConnectionString == "" {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Storage connection string is required")
	}

	switch config.Type {
	case "sqlite", "":
		if err := ensureSQLiteDir(config.ConnectionString); err != nil {
			return nil, err
		}
		return NewSQLiteStorage(config), nil
	case "postgres", "postgresql":
		return NewPostgresStorage(config), nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			fmt.Sprintf("Unsupported storage type: %s", config.Type))
	}
}
