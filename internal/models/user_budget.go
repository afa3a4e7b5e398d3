package models

import "time"

// UserBudget tracks per-user, per-day send counters and delivery policy.
// Rows are created lazily on the first limit check for a (user, day) and
// mutated only by the atomic increment.
type UserBudget struct {
	UserID            string `gorm:"primaryKey;size:64"`
	Date              string `gorm:"primaryKey;size:10"` // UTC calendar day, YYYY-MM-DD
	MessagesSent      int    `gorm:"default:0"`
	LastMessageAt     *time.Time
	DailyLimit        int `gorm:"default:0"`
	HourlyLimit       int `gorm:"default:0"`
	QuietHoursEnabled bool
	QuietHoursStart   *int // local hour 0-23; nil means use configured default
	QuietHoursEnd     *int
	Timezone          string `gorm:"size:64"`
}
