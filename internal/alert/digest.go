package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/courier/internal/models"
	"gorm.io/gorm"
)

// DailyReport holds delivery metrics for a 24-hour period.
type DailyReport struct {
	PeriodStart    time.Time
	PeriodEnd      time.Time
	UnitsDelivered int
	PartsDelivered int
	UsersReached   int
	Queued         int   // rows created in period
	Backlog        int64 // rows still awaiting delivery
	Cancelled      int
	Superseded     int
	FailingUnits   int // queued rows with at least one failed dispatch attempt
}

// BuildDailyDigest queries the store for the last 24 hours and returns a
// formatted digest event. Returns nil when there was no activity.
func BuildDailyDigest(db *gorm.DB) (*Event, error) {
	now := time.Now()
	since := now.Add(-24 * time.Hour)

	report, err := buildDailyReport(db, since, now)
	if err != nil {
		return nil, fmt.Errorf("alert: daily digest: %w", err)
	}

	// Suppress when no activity.
	if report.UnitsDelivered == 0 && report.Queued == 0 &&
		report.Cancelled == 0 && report.Superseded == 0 && report.FailingUnits == 0 {
		return nil, nil
	}

	evt := FormatDaily(report)
	return &evt, nil
}

// buildDailyReport queries delivery metrics within the given time range.
func buildDailyReport(db *gorm.DB, since, until time.Time) (*DailyReport, error) {
	report := &DailyReport{PeriodStart: since, PeriodEnd: until}

	// Delivered units and parts from the delivery log.
	var delivered struct {
		Units int64
		Parts int64
	}
	if err := db.Model(&models.DeliveryRecord{}).
		Where("sent_at >= ? AND sent_at < ?", since, until).
		Select("COUNT(*) as units, COALESCE(SUM(parts), 0) as parts").
		Scan(&delivered).Error; err != nil {
		return nil, err
	}
	report.UnitsDelivered = int(delivered.Units)
	report.PartsDelivered = int(delivered.Parts)

	var usersReached int64
	db.Model(&models.DeliveryRecord{}).
		Where("sent_at >= ? AND sent_at < ?", since, until).
		Distinct("user_id").Count(&usersReached)
	report.UsersReached = int(usersReached)

	// Rows created in the period.
	var queued int64
	db.Model(&models.QueuedMessage{}).
		Where("created_at >= ? AND created_at < ?", since, until).
		Count(&queued)
	report.Queued = int(queued)

	// Current backlog.
	db.Model(&models.QueuedMessage{}).
		Where("status = ?", models.StatusQueued).
		Count(&report.Backlog)

	// Terminal non-delivery outcomes.
	var cancelled, superseded int64
	db.Model(&models.QueuedMessage{}).
		Where("status = ? AND created_at >= ? AND created_at < ?", models.StatusCancelled, since, until).
		Count(&cancelled)
	db.Model(&models.QueuedMessage{}).
		Where("status = ? AND created_at >= ? AND created_at < ?", models.StatusSuperseded, since, until).
		Count(&superseded)
	report.Cancelled = int(cancelled)
	report.Superseded = int(superseded)

	// Rows that have failed at least one dispatch and are still queued.
	var failing int64
	db.Model(&models.QueuedMessage{}).
		Where("status = ? AND attempts > 0", models.StatusQueued).
		Count(&failing)
	report.FailingUnits = int(failing)

	return report, nil
}

// FormatDaily formats a daily report as an alert Event.
func FormatDaily(report *DailyReport) Event {
	var bodyLines []string
	bodyLines = append(bodyLines, fmt.Sprintf("**Period**: %s – %s",
		report.PeriodStart.Format("Jan 2 15:04"),
		report.PeriodEnd.Format("Jan 2 15:04")))
	bodyLines = append(bodyLines, fmt.Sprintf("**Delivered**: %d units (%d parts) to %d users",
		report.UnitsDelivered, report.PartsDelivered, report.UsersReached))
	bodyLines = append(bodyLines, fmt.Sprintf("**Queued**: %d new, %d backlog",
		report.Queued, report.Backlog))
	if report.Cancelled > 0 || report.Superseded > 0 {
		bodyLines = append(bodyLines, fmt.Sprintf("**Dropped**: %d cancelled, %d superseded",
			report.Cancelled, report.Superseded))
	}

	severity := "info"
	if report.FailingUnits > 0 {
		severity = "warning"
		bodyLines = append(bodyLines, fmt.Sprintf("**Failing**: %d rows with dispatch failures awaiting retry",
			report.FailingUnits))
	}

	fields := []Field{
		{Name: "Delivered", Value: fmt.Sprintf("%d", report.UnitsDelivered), Short: true},
		{Name: "Users", Value: fmt.Sprintf("%d", report.UsersReached), Short: true},
		{Name: "New", Value: fmt.Sprintf("%d", report.Queued), Short: true},
		{Name: "Backlog", Value: fmt.Sprintf("%d", report.Backlog), Short: true},
	}
	if report.FailingUnits > 0 {
		fields = append(fields, Field{Name: "Failing", Value: fmt.Sprintf("%d", report.FailingUnits), Short: true})
	}

	return Event{
		Title:    "Courier Daily Digest",
		Body:     strings.Join(bodyLines, "\n"),
		Severity: severity,
		Fields:   fields,
	}
}
