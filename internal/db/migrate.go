package db

import (
	"fmt"

	"github.com/switchyard-ci/switchyard/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Change{},
		&models.SourceStamp{},
		&models.Patch{},
		&models.Buildset{},
		&models.BuildsetSourceStamp{},
		&models.BuildRequest{},
		&models.Builder{},
		&models.Build{},
		&models.Object{},
		&models.ObjectState{},
		&models.SchedulerClaim{},
		&models.Master{},
		&models.Log{},
		&models.LogChunk{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
