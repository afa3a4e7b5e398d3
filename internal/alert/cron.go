package alert

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration parses a 5-field cron expression and returns the duration
// until the next fire time. Returns 0 on parse error.
func nextCronDuration(expr string) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	next := sched.Next(time.Now())
	d := time.Until(next)
	if d < 0 {
		return 0
	}
	return d
}

// RunDigestLoop posts the daily digest on the given cron schedule until ctx
// is cancelled. An unparsable expression disables the loop.
func RunDigestLoop(ctx context.Context, db *gorm.DB, notifier Notifier, expr string) {
	if expr == "" {
		return
	}
	if _, err := cronParser.Parse(expr); err != nil {
		log.Printf("alert: invalid digest cron %q: %v (digest disabled)", expr, err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(nextCronDuration(expr)):
		}

		evt, err := BuildDailyDigest(db)
		if err != nil {
			log.Printf("alert: build digest: %v", err)
			continue
		}
		if evt == nil {
			continue // no activity
		}
		if err := notifier.Notify(ctx, *evt); err != nil {
			log.Printf("alert: post digest: %v", err)
		}
	}
}
