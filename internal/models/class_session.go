package models

import (
	"time"

	"gorm.io/datatypes"
)

// Session statuses persisted for class sessions. They mirror the lifecycle status machine.
const (
	ClassSessionScheduled = "scheduled"
	ClassSessionLive      = "live"
	ClassSessionEnded     = "ended"
	ClassSessionCancelled = "cancelled"
)

// ClassSession is a scheduled live class owned by one teacher.
type ClassSession struct {
	BaseModel

	OwnerID           string         `gorm:"type:varchar(128);not null;index" json:"owner_id"`
	Title             string         `gorm:"type:varchar(255)" json:"title"`
	ScheduledStart    *time.Time     `gorm:"index" json:"scheduled_start,omitempty"`
	DurationMinutes   int            `gorm:"not null;default:0" json:"duration_minutes"`
	PrepBufferMinutes int            `gorm:"not null;default:0" json:"prep_buffer_minutes"`
	MaxSessionsPerDay int            `gorm:"not null;default:0" json:"max_sessions_per_day"`
	Status            string         `gorm:"type:varchar(16);not null;index" json:"status"`
	LiveSince         *time.Time     `gorm:"index" json:"live_since,omitempty"`
	ClosedAt          *time.Time     `json:"closed_at,omitempty"`
	Metadata          datatypes.JSON `gorm:"type:json" json:"metadata,omitempty"`

	Attendance []AttendanceRecord `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"attendance,omitempty"`
	Violations []ViolationRecord  `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"violations,omitempty"`
}

// EndsAt returns the scheduled end, or nil for sessions without a schedule.
func (s ClassSession) EndsAt() *time.Time {
	if s.ScheduledStart == nil || s.ScheduledStart.IsZero() || s.DurationMinutes <= 0 {
		return nil
	}
	end := s.ScheduledStart.Add(time.Duration(s.DurationMinutes) * time.Minute)
	return &end
}
