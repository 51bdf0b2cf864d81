package db

import (
	"fmt"

	types "github.com/yungbote/modmon/internal/domain"
	"gorm.io/gorm"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(types.Entities()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
