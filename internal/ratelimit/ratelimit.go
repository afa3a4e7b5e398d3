// Package ratelimit decides whether a user may receive a message right now.
// It owns the per-user daily/hourly budgets, the quiet-hours window, and the
// active-user override.
package ratelimit

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/courier/internal/config"
	"github.com/zulandar/courier/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Block reasons returned by CheckLimits.
const (
	ReasonDailyLimit  = "daily_limit_reached"
	ReasonHourlyLimit = "hourly_limit_reached"
	ReasonStoreError  = "store_error" // fail-closed mode only
)

// CheckResult is the outcome of a budget check.
type CheckResult struct {
	Allowed         bool
	Reason          string
	NextAvailableAt time.Time
}

// Limiter evaluates delivery policy against the budget store.
type Limiter struct {
	db  *gorm.DB
	cfg *config.Config
	now func() time.Time
}

// New creates a Limiter backed by the given store and configuration.
func New(db *gorm.DB, cfg *config.Config) *Limiter {
	return &Limiter{db: db, cfg: cfg, now: time.Now}
}

// SetClock overrides the limiter's clock. Tests only.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

// budgetDay formats a time as the UTC calendar day used as the budget key.
func budgetDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// CheckLimits reports whether a message may be sent to the user now. When the
// budget store is unreachable the answer follows the configured fail mode:
// open (allow, the default) or closed (block until the next tick).
func (l *Limiter) CheckLimits(userID string) CheckResult {
	if userID == "" {
		return CheckResult{Allowed: false, Reason: ReasonStoreError, NextAvailableAt: l.now().Add(l.cfg.PollInterval())}
	}

	now := l.now()
	budget, err := l.loadOrCreateBudget(userID, now)
	if err != nil {
		return l.failMode("load budget", userID, err)
	}

	if budget.MessagesSent >= budget.DailyLimit {
		return CheckResult{
			Allowed:         false,
			Reason:          ReasonDailyLimit,
			NextAvailableAt: startOfNextDay(now),
		}
	}

	var hourCount int64
	if err := l.db.Model(&models.DeliveryRecord{}).
		Where("user_id = ? AND sent_at > ?", userID, now.Add(-time.Hour)).
		Count(&hourCount).Error; err != nil {
		return l.failMode("count recent deliveries", userID, err)
	}

	if int(hourCount) >= budget.HourlyLimit {
		next := now.Add(time.Hour)
		if budget.LastMessageAt != nil {
			next = budget.LastMessageAt.Add(time.Hour)
		}
		return CheckResult{Allowed: false, Reason: ReasonHourlyLimit, NextAvailableAt: next}
	}

	return CheckResult{Allowed: true}
}

// IncrementBudget counts one dispatched unit against today's budget. The
// upsert is atomic (insert-or-increment) so concurrent callers never lose an
// update. Called exactly once per unit regardless of part count.
func (l *Limiter) IncrementBudget(userID string) error {
	if userID == "" {
		return fmt.Errorf("ratelimit: userID is required")
	}

	now := l.now()
	budget := models.UserBudget{
		UserID:            userID,
		Date:              budgetDay(now),
		MessagesSent:      1,
		LastMessageAt:     &now,
		DailyLimit:        l.cfg.Limits.Daily,
		HourlyLimit:       l.cfg.Limits.Hourly,
		QuietHoursEnabled: true,
		Timezone:          "",
	}

	err := l.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"messages_sent":   gorm.Expr("messages_sent + 1"),
			"last_message_at": now,
		}),
	}).Create(&budget).Error
	if err != nil {
		return fmt.Errorf("ratelimit: increment budget for %s: %w", userID, err)
	}
	return nil
}

// RecordDelivery logs one dispatched unit for the trailing-hour rate window
// and the operator digest. Parts is the unit's row count; the record still
// counts once.
func (l *Limiter) RecordDelivery(userID, unitKey string, parts int) error {
	rec := models.DeliveryRecord{
		UserID:  userID,
		UnitKey: unitKey,
		Parts:   parts,
		SentAt:  l.now(),
	}
	if err := l.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("ratelimit: record delivery for %s: %w", userID, err)
	}
	return nil
}

// loadOrCreateBudget returns today's budget row for the user, creating it
// with configured defaults on first contact.
func (l *Limiter) loadOrCreateBudget(userID string, now time.Time) (*models.UserBudget, error) {
	day := budgetDay(now)

	var budget models.UserBudget
	err := l.db.Where("user_id = ? AND date = ?", userID, day).First(&budget).Error
	if err == nil {
		return &budget, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// Carry per-user policy overrides forward from the most recent day.
	budget = models.UserBudget{
		UserID:            userID,
		Date:              day,
		DailyLimit:        l.cfg.Limits.Daily,
		HourlyLimit:       l.cfg.Limits.Hourly,
		QuietHoursEnabled: true,
	}
	var prev models.UserBudget
	if prevErr := l.db.Where("user_id = ? AND date < ?", userID, day).
		Order("date DESC").First(&prev).Error; prevErr == nil {
		budget.DailyLimit = prev.DailyLimit
		budget.HourlyLimit = prev.HourlyLimit
		budget.QuietHoursEnabled = prev.QuietHoursEnabled
		budget.QuietHoursStart = prev.QuietHoursStart
		budget.QuietHoursEnd = prev.QuietHoursEnd
		budget.Timezone = prev.Timezone
		budget.LastMessageAt = prev.LastMessageAt
	}

	// A concurrent caller may have created the row between the lookup and
	// this insert; fall back to re-reading it.
	if err := l.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&budget).Error; err != nil {
		if readErr := l.db.Where("user_id = ? AND date = ?", userID, day).First(&budget).Error; readErr != nil {
			return nil, err
		}
	}
	return &budget, nil
}

// failMode converts a store error into the configured fail-open or
// fail-closed answer.
func (l *Limiter) failMode(op, userID string, err error) CheckResult {
	log.Printf("ratelimit: %s for %s: %v (fail mode: %s)", op, userID, err, l.cfg.Limits.FailMode)
	if l.cfg.Limits.FailMode == config.FailClosed {
		return CheckResult{
			Allowed:         false,
			Reason:          ReasonStoreError,
			NextAvailableAt: l.now().Add(l.cfg.PollInterval()),
		}
	}
	return CheckResult{Allowed: true}
}

// startOfNextDay returns midnight UTC of the day after t.
func startOfNextDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
