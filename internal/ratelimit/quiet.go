package ratelimit

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/courier/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IsQuietHours reports whether delivery to the user is currently suppressed
// by their local quiet-hours window. A user who messaged inbound within the
// active window is never in quiet hours. Failures answer false (deliver):
// suppression is a courtesy, not a guarantee.
func (l *Limiter) IsQuietHours(userID string) bool {
	budget, err := l.loadOrCreateBudget(userID, l.now())
	if err != nil {
		log.Printf("ratelimit: quiet hours load budget for %s: %v (treating as not quiet)", userID, err)
		return false
	}
	if !budget.QuietHoursEnabled {
		return false
	}
	if l.IsUserActive(userID) {
		return false
	}

	loc, err := l.userLocation(budget)
	if err != nil {
		log.Printf("ratelimit: quiet hours timezone for %s: %v (treating as not quiet)", userID, err)
		return false
	}

	start, end := l.quietBounds(budget)
	hour := l.now().In(loc).Hour()
	return inQuietWindow(hour, start, end)
}

// IsUserActive reports whether the user sent an inbound message within the
// configured active window (default 10 minutes).
func (l *Limiter) IsUserActive(userID string) bool {
	var act models.UserActivity
	err := l.db.Where("user_id = ?", userID).First(&act).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("ratelimit: load activity for %s: %v (treating as inactive)", userID, err)
		}
		return false
	}
	return l.now().Sub(act.LastInboundAt) <= l.cfg.ActiveWindow()
}

// QuietHoursEnd returns the next instant the user's quiet-hours window
// closes, in UTC. Used to reschedule units blocked by quiet hours.
func (l *Limiter) QuietHoursEnd(userID string) time.Time {
	now := l.now()

	budget, err := l.loadOrCreateBudget(userID, now)
	if err != nil {
		log.Printf("ratelimit: quiet hours end for %s: %v (using next tick)", userID, err)
		return now.Add(l.cfg.PollInterval())
	}

	loc, err := l.userLocation(budget)
	if err != nil {
		return now.Add(l.cfg.PollInterval())
	}

	_, end := l.quietBounds(budget)
	local := now.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), end, 0, 0, 0, loc)
	if !candidate.After(local) {
		candidate = candidate.Add(24 * time.Hour)
	}
	return candidate.UTC()
}

// RecordInbound marks the user as recently active. Called by the platform's
// inbound SMS webhook.
func RecordInbound(db *gorm.DB, userID string, at time.Time) error {
	if userID == "" {
		return fmt.Errorf("ratelimit: userID is required")
	}
	act := models.UserActivity{UserID: userID, LastInboundAt: at}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_inbound_at"}),
	}).Create(&act).Error
	if err != nil {
		return fmt.Errorf("ratelimit: record inbound for %s: %w", userID, err)
	}
	return nil
}

// userLocation resolves the user's timezone, falling back to the configured
// default when the budget row has none.
func (l *Limiter) userLocation(budget *models.UserBudget) (*time.Location, error) {
	tz := budget.Timezone
	if tz == "" {
		tz = l.cfg.Limits.Timezone
	}
	return time.LoadLocation(tz)
}

// quietBounds resolves the user's quiet-hours window, falling back to the
// configured defaults.
func (l *Limiter) quietBounds(budget *models.UserBudget) (start, end int) {
	start = l.cfg.Limits.QuietHoursStart
	end = l.cfg.Limits.QuietHoursEnd
	if budget.QuietHoursStart != nil {
		start = *budget.QuietHoursStart
	}
	if budget.QuietHoursEnd != nil {
		end = *budget.QuietHoursEnd
	}
	return start, end
}

// inQuietWindow reports whether hour falls inside [start, end), handling
// windows that wrap midnight (start > end).
func inQuietWindow(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start > end {
		return hour >= start || hour < end
	}
	return hour >= start && hour < end
}
