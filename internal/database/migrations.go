package database

import (
	"gorm.io/gorm"

	"github.com/charlesng35/liveclass/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.ClassSession{},
		&models.AttendanceRecord{},
		&models.ViolationRecord{},
		&models.SystemSetting{},
		&models.RateCounter{},
	)
}
