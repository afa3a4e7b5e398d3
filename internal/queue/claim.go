package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/courier/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotClaimable means some row of the unit is no longer claimable: it was
// cancelled or superseded after the due fetch, or another processor instance
// holds a live claim on it. The whole unit is skipped; partial claims are
// never taken.
var ErrNotClaimable = errors.New("queue: unit is not claimable")

// ClaimUnit atomically claims every row of a unit for this processor
// instance. It re-checks status = queued inside a locking transaction
// (SELECT ... FOR UPDATE SKIP LOCKED) so a last-moment cancellation or a
// concurrent instance's claim is honored. Claims expire after claimTTL so a
// crashed instance's rows become reclaimable.
//
// The locking clause applies on MySQL only. SQLite has no row-level locks;
// correctness there is preserved by its single-writer transaction
// serialization.
func ClaimUnit(db *gorm.DB, ids []string, now time.Time, claimTTL time.Duration) error {
	if len(ids) == 0 {
		return fmt.Errorf("queue: no rows to claim")
	}

	return db.Transaction(func(tx *gorm.DB) error {
		q := tx.Where("id IN ? AND status = ?", ids, models.StatusQueued).
			Where("claimed_at IS NULL OR claimed_at < ?", now.Add(-claimTTL))
		if tx.Dialector.Name() == "mysql" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var rows []models.QueuedMessage
		err := q.Find(&rows).Error
		if err != nil {
			return fmt.Errorf("queue: lock unit rows: %w", err)
		}
		if len(rows) != len(ids) {
			return ErrNotClaimable
		}

		if err := tx.Model(&models.QueuedMessage{}).Where("id IN ?", ids).
			Update("claimed_at", now).Error; err != nil {
			return fmt.Errorf("queue: claim unit rows: %w", err)
		}
		return nil
	})
}

// ReleaseClaim clears the claim on a unit's rows without other changes, for
// units the processor decided not to touch after claiming.
func ReleaseClaim(db *gorm.DB, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := db.Model(&models.QueuedMessage{}).Where("id IN ?", ids).
		Update("claimed_at", nil).Error
	if err != nil {
		return fmt.Errorf("queue: release claim: %w", err)
	}
	return nil
}
