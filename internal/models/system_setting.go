package models

import "time"

// SystemSetting is an installation-wide key/value pair, such as the generated JWT secret,
// that must survive restarts.
type SystemSetting struct {
	Key       string `gorm:"primaryKey;size:128"`
	Value     string `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
