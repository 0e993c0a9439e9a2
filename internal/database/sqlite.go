package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/parleralab/parlera/backend/internal/auth"
	"github.com/parleralab/parlera/backend/internal/authorization"
	"github.com/parleralab/parlera/backend/internal/examples"
	"github.com/parleralab/parlera/backend/internal/repositories"
	"github.com/parleralab/parlera/backend/internal/users"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// Migrate applies the schema and any recorded data migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(
		&users.User{},
		&auth.APIToken{},
		&repositories.Category{},
		&repositories.Repository{},
		&examples.Update{},
		&examples.Example{},
		&examples.Entity{},
		&examples.TranslatedExample{},
		&examples.TranslatedEntity{},
		&authorization.Authorization{},
		&authorization.AccessRequest{},
		&migrationRecord{},
	); err != nil {
		return err
	}

	return applyMigrations(db, logger)
}
