package models

import "time"

// Message status lifecycle. A policy-blocked message stays queued with a
// pushed-out scheduled_for; there is no separate blocked status.
const (
	StatusQueued     = "queued"
	StatusSent       = "sent"
	StatusCancelled  = "cancelled"
	StatusSuperseded = "superseded"
)

// Priority levels, highest first.
const (
	PriorityUrgent = "urgent"
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// QueuedMessage is one outbound message part awaiting delivery. Rows sharing
// a non-null sequence_id form a single delivery unit and are sent together,
// in sequence_position order, or not at all.
type QueuedMessage struct {
	ID               string    `gorm:"primaryKey;size:36"`
	UserID           string    `gorm:"size:64;not null;index"`
	AgentID          string    `gorm:"size:64"`
	Payload          string    `gorm:"type:text"`
	FinalText        string    `gorm:"type:text"`
	ScheduledFor     time.Time `gorm:"index:idx_due,priority:2"`
	Priority         string    `gorm:"size:8;default:medium"`
	Status           string    `gorm:"size:16;default:queued;index:idx_due,priority:1"`
	SequenceID       *string   `gorm:"size:64;index"`
	SequencePosition *int
	SequenceTotal    *int
	Attempts         int `gorm:"default:0"`
	ClaimedAt        *time.Time
	SentAt           *time.Time
	CreatedAt        time.Time
}
