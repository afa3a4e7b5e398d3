// Package queue provides durable storage operations for pending delivery
// units and the grouping of sequence rows into units.
package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/courier/internal/models"
	"gorm.io/gorm"
)

// EnqueueOpts holds optional parameters for queueing a message.
type EnqueueOpts struct {
	Priority         string // defaults to "medium"
	FinalText        string // pre-rendered text; empty means render at dispatch
	ScheduledFor     time.Time
	SequenceID       string
	SequencePosition int
	SequenceTotal    int
}

// Enqueue inserts one queue row for the user. Sequence parts share a
// SequenceID and carry a 1-indexed position out of a total.
func Enqueue(db *gorm.DB, userID, agentID, payload string, opts EnqueueOpts) (*models.QueuedMessage, error) {
	if userID == "" {
		return nil, fmt.Errorf("queue: userID is required")
	}
	if agentID == "" {
		return nil, fmt.Errorf("queue: agentID is required")
	}
	if payload == "" && opts.FinalText == "" {
		return nil, fmt.Errorf("queue: payload or final text is required")
	}

	priority := opts.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !validPriority(priority) {
		return nil, fmt.Errorf("queue: invalid priority %q", priority)
	}

	scheduledFor := opts.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = time.Now()
	}

	msg := models.QueuedMessage{
		ID:           uuid.NewString(),
		UserID:       userID,
		AgentID:      agentID,
		Payload:      payload,
		FinalText:    opts.FinalText,
		ScheduledFor: scheduledFor,
		Priority:     priority,
		Status:       models.StatusQueued,
		CreatedAt:    time.Now(),
	}

	if opts.SequenceID != "" {
		if opts.SequencePosition < 1 || opts.SequenceTotal < 1 || opts.SequencePosition > opts.SequenceTotal {
			return nil, fmt.Errorf("queue: sequence position %d/%d is invalid",
				opts.SequencePosition, opts.SequenceTotal)
		}
		seqID := opts.SequenceID
		pos := opts.SequencePosition
		total := opts.SequenceTotal
		msg.SequenceID = &seqID
		msg.SequencePosition = &pos
		msg.SequenceTotal = &total
	}

	if err := db.Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("queue: enqueue for %s: %w", userID, err)
	}
	return &msg, nil
}

// Due returns queued rows whose scheduled time has passed, oldest first, up
// to limit. Rows claimed by another live processor instance are excluded;
// claims older than claimTTL are stale (crashed instance) and included.
func Due(db *gorm.DB, now time.Time, limit int, claimTTL time.Duration) ([]models.QueuedMessage, error) {
	var rows []models.QueuedMessage
	err := db.Where("status = ? AND scheduled_for <= ?", models.StatusQueued, now).
		Where("claimed_at IS NULL OR claimed_at < ?", now.Add(-claimTTL)).
		Order("scheduled_for ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("queue: fetch due rows: %w", err)
	}
	return rows, nil
}

// CompleteSequences widens a due-row fetch to whole sequences: for every
// sequence represented in rows, queued sibling rows missed by the batch cap
// or by a later per-row scheduled time are fetched and appended. A unit is
// due when its earliest part is due, and completeness is judged against
// every live row, never the fetch window. Siblings claimed by another
// instance are included on purpose; the unit claim then fails whole.
func CompleteSequences(db *gorm.DB, rows []models.QueuedMessage) ([]models.QueuedMessage, error) {
	have := make(map[string]bool, len(rows))
	seen := make(map[string]bool)
	var seqIDs []string
	for _, r := range rows {
		have[r.ID] = true
		if r.SequenceID == nil || *r.SequenceID == "" {
			continue
		}
		if !seen[*r.SequenceID] {
			seen[*r.SequenceID] = true
			seqIDs = append(seqIDs, *r.SequenceID)
		}
	}
	if len(seqIDs) == 0 {
		return rows, nil
	}

	var siblings []models.QueuedMessage
	err := db.Where("sequence_id IN ? AND status = ?", seqIDs, models.StatusQueued).
		Find(&siblings).Error
	if err != nil {
		return nil, fmt.Errorf("queue: fetch sequence siblings: %w", err)
	}
	for _, r := range siblings {
		if !have[r.ID] {
			rows = append(rows, r)
		}
	}
	return rows, nil
}

// MarkSent marks every row of a dispatched unit as sent and releases the
// claim.
func MarkSent(db *gorm.DB, ids []string, sentAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := db.Model(&models.QueuedMessage{}).Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"status":     models.StatusSent,
			"sent_at":    sentAt,
			"claimed_at": nil,
		}).Error
	if err != nil {
		return fmt.Errorf("queue: mark sent: %w", err)
	}
	return nil
}

// Reschedule pushes every row of a blocked unit to the same new time. Rows
// stay queued; the unit re-enters ordering when it next becomes due.
func Reschedule(db *gorm.DB, ids []string, until time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := db.Model(&models.QueuedMessage{}).Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"scheduled_for": until,
			"claimed_at":    nil,
		}).Error
	if err != nil {
		return fmt.Errorf("queue: reschedule: %w", err)
	}
	return nil
}

// BumpAttempts increments the failure counter on every row of a unit and
// releases the claim, leaving the unit queued for retry on a later tick.
func BumpAttempts(db *gorm.DB, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := db.Model(&models.QueuedMessage{}).Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"claimed_at": nil,
		}).Error
	if err != nil {
		return fmt.Errorf("queue: bump attempts: %w", err)
	}
	return nil
}

// Cancel flips a queued row to cancelled. Rows already dispatched or
// terminal are left alone.
func Cancel(db *gorm.DB, id string) error {
	return setTerminal(db, id, models.StatusCancelled)
}

// Supersede flips a queued row to superseded, for producers replacing a
// stale candidate message with a newer one.
func Supersede(db *gorm.DB, id string) error {
	return setTerminal(db, id, models.StatusSuperseded)
}

func setTerminal(db *gorm.DB, id, status string) error {
	if id == "" {
		return fmt.Errorf("queue: id is required")
	}
	result := db.Model(&models.QueuedMessage{}).
		Where("id = ? AND status = ?", id, models.StatusQueued).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("queue: mark %s %s: %w", id, status, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("queue: message %s is not queued", id)
	}
	return nil
}

// List returns rows filtered by status (empty means all), newest first.
func List(db *gorm.DB, status string, limit int) ([]models.QueuedMessage, error) {
	q := db.Order("created_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var rows []models.QueuedMessage
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("queue: list: %w", err)
	}
	return rows, nil
}

// CountQueued returns the number of rows awaiting delivery.
func CountQueued(db *gorm.DB) (int64, error) {
	var n int64
	err := db.Model(&models.QueuedMessage{}).
		Where("status = ?", models.StatusQueued).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("queue: count queued: %w", err)
	}
	return n, nil
}

func validPriority(p string) bool {
	switch p {
	case models.PriorityUrgent, models.PriorityHigh, models.PriorityMedium, models.PriorityLow:
		return true
	}
	return false
}
