package models

import "time"

// UserActivity records the most recent inbound message per user. Written by
// the platform's SMS webhook; read by the quiet-hours active-user override.
type UserActivity struct {
	UserID        string `gorm:"primaryKey;size:64"`
	LastInboundAt time.Time
}
