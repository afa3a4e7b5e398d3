// Package processor drives the delivery pipeline: a single-threaded polling
// loop that fetches due queue rows, groups them into units, gates each unit
// through the rate limiter, and dispatches or reschedules whole units. One
// tick runs to completion before the next may start.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/courier/internal/alert"
	"github.com/zulandar/courier/internal/config"
	"github.com/zulandar/courier/internal/dispatch"
	"github.com/zulandar/courier/internal/models"
	"github.com/zulandar/courier/internal/queue"
	"github.com/zulandar/courier/internal/ratelimit"
	"gorm.io/gorm"
)

// Processor owns the poll loop and the per-unit decision flow.
type Processor struct {
	db       *gorm.DB
	cfg      *config.Config
	limiter  *ratelimit.Limiter
	disp     *dispatch.Dispatcher
	notifier alert.Notifier
	stats    *Stats
	out      io.Writer
	trigger  chan struct{}
	tickMu   sync.Mutex
	now      func() time.Time
}

// New creates a Processor. The notifier may be alert.NopNotifier; out may be
// nil to discard progress output.
func New(db *gorm.DB, cfg *config.Config, limiter *ratelimit.Limiter, disp *dispatch.Dispatcher, notifier alert.Notifier, stats *Stats, out io.Writer) (*Processor, error) {
	if db == nil {
		return nil, fmt.Errorf("processor: db is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("processor: config is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("processor: limiter is required")
	}
	if disp == nil {
		return nil, fmt.Errorf("processor: dispatcher is required")
	}
	if notifier == nil {
		notifier = alert.NopNotifier{}
	}
	if stats == nil {
		stats = NewStats()
	}
	if out == nil {
		out = io.Discard
	}
	return &Processor{
		db:       db,
		cfg:      cfg,
		limiter:  limiter,
		disp:     disp,
		notifier: notifier,
		stats:    stats,
		out:      out,
		trigger:  make(chan struct{}, 1),
		now:      time.Now,
	}, nil
}

// SetClock overrides the processor's clock. Tests only.
func (p *Processor) SetClock(now func() time.Time) { p.now = now }

// Stats returns the processor's metrics sink.
func (p *Processor) Stats() *Stats { return p.stats }

// Trigger requests an immediate tick. Coalesces with a pending request.
func (p *Processor) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run executes the poll loop until ctx is cancelled. A tick failure is
// logged and the loop continues; only context cancellation stops it.
func (p *Processor) Run(ctx context.Context) error {
	interval := p.cfg.PollInterval()
	fmt.Fprintf(p.out, "Processor starting (poll every %s, batch %d)...\n", interval, p.cfg.Processor.BatchSize)

	p.stats.setRunning(true)
	defer func() {
		p.stats.setRunning(false)
		fmt.Fprintf(p.out, "Processor stopped.\n")
	}()

	for {
		if err := p.ProcessDueMessages(ctx); err != nil {
			log.Printf("processor: tick error: %v", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-p.trigger:
		case <-time.After(interval):
		}
	}
}

// ProcessDueMessages runs one tick: fetch due rows, group into units, order
// them, and process each unit with isolated error handling. A unit failure
// never prevents later units in the same batch from being processed. Ticks
// are serialized; a caller-driven tick and the poll loop never overlap.
func (p *Processor) ProcessDueMessages(ctx context.Context) error {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	now := p.now()
	defer p.stats.markTick(now)

	rows, err := queue.Due(p.db, now, p.cfg.Processor.BatchSize, p.cfg.ClaimTTL())
	if err != nil {
		return fmt.Errorf("processor: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	// A sequence truncated by the batch cap, or with later-scheduled parts,
	// must still be judged and dispatched whole.
	rows, err = queue.CompleteSequences(p.db, rows)
	if err != nil {
		return fmt.Errorf("processor: %w", err)
	}

	units := queue.GroupDueMessages(rows)
	queue.SortUnits(units)
	fmt.Fprintf(p.out, "Tick: %d due rows, %d units\n", len(rows), len(units))

	for _, unit := range units {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err := p.processUnit(ctx, unit); err != nil {
			log.Printf("processor: unit %s: %v", unit.Key(), err)
		}
	}
	return nil
}

// processUnit claims, gates, and dispatches one delivery unit. Every outcome
// is whole-unit: sent, rescheduled, or left queued for retry.
func (p *Processor) processUnit(ctx context.Context, unit queue.DeliveryUnit) error {
	now := p.now()
	ids := unit.IDs()

	if unit.Incomplete {
		p.flagIncomplete(ctx, unit)
		if p.cfg.Sequences.IncompletePolicy == config.IncompleteHold {
			until := now.Add(p.cfg.PollInterval())
			fmt.Fprintf(p.out, "Unit %s held (incomplete sequence) until %s\n",
				unit.Key(), until.Format(time.RFC3339))
			return queue.Reschedule(p.db, ids, until)
		}
	}

	// Claim re-checks status = queued so a last-moment cancellation or a
	// concurrent instance wins over this tick's stale fetch.
	if err := queue.ClaimUnit(p.db, ids, now, p.cfg.ClaimTTL()); err != nil {
		if errors.Is(err, queue.ErrNotClaimable) {
			fmt.Fprintf(p.out, "Unit %s skipped (cancelled or claimed elsewhere)\n", unit.Key())
			return nil
		}
		return err
	}

	userID := unit.UserID()

	// Budget check first: its reason is more specific than quiet hours.
	if res := p.limiter.CheckLimits(userID); !res.Allowed {
		until := res.NextAvailableAt
		if until.IsZero() {
			until = now.Add(p.cfg.PollInterval())
		}
		p.stats.addBlocked()
		fmt.Fprintf(p.out, "Unit %s blocked (%s), rescheduled to %s\n",
			unit.Key(), res.Reason, until.Format(time.RFC3339))
		return queue.Reschedule(p.db, ids, until)
	}

	if p.limiter.IsQuietHours(userID) {
		until := p.limiter.QuietHoursEnd(userID)
		p.stats.addBlocked()
		fmt.Fprintf(p.out, "Unit %s blocked (quiet hours), rescheduled to %s\n",
			unit.Key(), until.Format(time.RFC3339))
		return queue.Reschedule(p.db, ids, until)
	}

	if err := p.disp.Dispatch(ctx, unit); err != nil {
		p.stats.addFailure()
		if bumpErr := queue.BumpAttempts(p.db, ids); bumpErr != nil {
			log.Printf("processor: record failure for unit %s: %v", unit.Key(), bumpErr)
		}
		p.maybeAlertFailure(ctx, unit, err)
		return err
	}

	if err := queue.MarkSent(p.db, ids, p.now()); err != nil {
		// The send happened; the rows will be retried next tick and the
		// provider may deduplicate. Surface loudly.
		return fmt.Errorf("processor: unit %s sent but not marked: %w", unit.Key(), err)
	}
	if err := p.limiter.RecordDelivery(userID, unit.Key(), len(unit.Rows)); err != nil {
		log.Printf("processor: %v", err)
	}
	// One increment per unit, regardless of part count.
	if err := p.limiter.IncrementBudget(userID); err != nil {
		log.Printf("processor: %v", err)
	}

	p.stats.addProcessed()
	fmt.Fprintf(p.out, "Unit %s sent (%d parts) to user %s\n", unit.Key(), len(unit.Rows), userID)
	return nil
}

// flagIncomplete logs and alerts an incomplete sequence. The condition is a
// producer-side integrity problem and must never be silent.
func (p *Processor) flagIncomplete(ctx context.Context, unit queue.DeliveryUnit) {
	missing := make([]string, len(unit.Missing))
	for i, pos := range unit.Missing {
		missing[i] = fmt.Sprintf("%d", pos)
	}
	detail := "inconsistent totals or duplicate positions"
	if len(missing) > 0 {
		detail = "missing positions " + strings.Join(missing, ", ")
	}
	log.Printf("processor: integrity warning: sequence %s has %d of expected parts (%s)",
		unit.SequenceID, len(unit.Rows), detail)

	err := p.notifier.Notify(ctx, alert.Event{
		Title:    "Incomplete message sequence",
		Body:     fmt.Sprintf("Sequence %s for user %s: %s.", unit.SequenceID, unit.UserID(), detail),
		Severity: "warning",
		Fields: []alert.Field{
			{Name: "Sequence", Value: unit.SequenceID, Short: true},
			{Name: "Parts present", Value: fmt.Sprintf("%d", len(unit.Rows)), Short: true},
			{Name: "Policy", Value: p.cfg.Sequences.IncompletePolicy, Short: true},
		},
	})
	if err != nil {
		log.Printf("processor: notify incomplete sequence %s: %v", unit.SequenceID, err)
	}
}

// maybeAlertFailure notifies operators once a unit's dispatch failures reach
// the configured threshold. Attempts on the rows were bumped before this.
func (p *Processor) maybeAlertFailure(ctx context.Context, unit queue.DeliveryUnit, dispatchErr error) {
	attempts := maxAttempts(unit.Rows) + 1
	if attempts != p.cfg.Alerts.FailureThreshold {
		return
	}

	err := p.notifier.Notify(ctx, alert.Event{
		Title:    "Repeated dispatch failure",
		Body:     fmt.Sprintf("Unit %s for user %s has failed %d times. Latest: %v", unit.Key(), unit.UserID(), attempts, dispatchErr),
		Severity: "error",
		Fields: []alert.Field{
			{Name: "Unit", Value: unit.Key(), Short: true},
			{Name: "User", Value: unit.UserID(), Short: true},
			{Name: "Attempts", Value: fmt.Sprintf("%d", attempts), Short: true},
		},
	})
	if err != nil {
		log.Printf("processor: notify dispatch failure for unit %s: %v", unit.Key(), err)
	}
}

func maxAttempts(rows []models.QueuedMessage) int {
	max := 0
	for _, r := range rows {
		if r.Attempts > max {
			max = r.Attempts
		}
	}
	return max
}
