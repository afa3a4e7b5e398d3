package models

import "time"

// DeliveryRecord is one row per dispatched unit. A multi-part sequence
// produces exactly one record, same as a standalone message. Backs the
// trailing-hour rate window and the operator digest.
type DeliveryRecord struct {
	ID      uint      `gorm:"primaryKey;autoIncrement"`
	UserID  string    `gorm:"size:64;not null;index:idx_user_sent,priority:1"`
	UnitKey string    `gorm:"size:64"` // message ID, or sequence ID for sequences
	Parts   int       `gorm:"default:1"`
	SentAt  time.Time `gorm:"index:idx_user_sent,priority:2"`
}
