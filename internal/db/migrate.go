package db

import (
	"fmt"

	"github.com/zulandar/convoy/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model persisted by convoy.
func AllModels() []interface{} {
	return []interface{}{
		&models.Task{},
		&models.Conversation{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
