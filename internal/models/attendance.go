package models

import "time"

// AttendanceRecord stores one stay of a participant in a class room.
type AttendanceRecord struct {
	BaseModel

	SessionID     string     `gorm:"type:uuid;not null;index" json:"session_id"`
	ParticipantID string     `gorm:"type:varchar(128);not null;index" json:"participant_id"`
	DisplayName   string     `gorm:"type:varchar(255)" json:"display_name"`
	Role          string     `gorm:"type:varchar(16);not null" json:"role"`
	Hidden        bool       `gorm:"not null;default:false" json:"hidden"`
	JoinedAt      time.Time  `gorm:"not null;index" json:"joined_at"`
	LeftAt        *time.Time `gorm:"index" json:"left_at,omitempty"`
}
