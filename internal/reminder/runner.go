// Package reminder publishes reminder_due events for the next day's
// sessions.
package reminder

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/practicum-scheduling/internal/appointment"
	"github.com/hackgods/practicum-scheduling/internal/metrics"
)

// Marks live in Redis under MarkPrefix and outlast the day they refer to.
const (
	MarkPrefix = "reminder:"
	MarkTTL    = 48 * time.Hour
)

type Source interface {
	DueOn(ctx context.Context, day time.Time) ([]appointment.Appointment, error)
}

// Enqueuer accepts a reminder for delivery or says why it could not.
type Enqueuer interface {
	Enqueue(ctx context.Context, ev appointment.Event) error
}

// Deduper remembers which reminders already went out.
type Deduper interface {
	MarkOnce(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

type Result struct {
	Day       string
	Due       int
	Published int
	Skipped   int
	Failed    int
}

type Runner struct {
	source    Source
	queue     Enqueuer
	dedupe    Deduper
	policy    appointment.Policy
	log       *zap.Logger
	metrics   *metrics.Collector
}

func NewRunner(source Source, queue Enqueuer, dedupe Deduper, policy appointment.Policy, log *zap.Logger, m *metrics.Collector) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		source:    source,
		queue:     queue,
		dedupe:    dedupe,
		policy:    policy,
		log:       log.Named("reminder"),
		metrics:   m,
	}
}

// Run publishes one reminder_due event per open appointment starting on the
// clinic's next calendar day. Appointments already reminded are skipped.
func (r *Runner) Run(ctx context.Context, now time.Time) (Result, error) {
	today := r.policy.WallClock(now)
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	res := Result{Day: day.Format(appointment.DateLayout)}

	items, err := r.source.DueOn(ctx, day)
	if err != nil {
		return res, fmt.Errorf("load appointments due %s: %w", res.Day, err)
	}
	res.Due = len(items)

	for _, a := range items {
		key := a.ID.String() + ":" + a.Date()

		first, err := r.dedupe.MarkOnce(ctx, key)
		if err != nil {
			res.Failed++
			r.metrics.Reminder("failed")
			r.log.Warn("reminder dedupe failed", zap.String("appointment_id", a.ID.String()), zap.Error(err))
			continue
		}
		if !first {
			res.Skipped++
			r.metrics.Reminder("skipped")
			continue
		}

		err = r.queue.Enqueue(ctx, appointment.Event{
			Type:        appointment.EventReminderDue,
			Appointment: a,
			OccurredAt:  now,
		})
		if err != nil {
			res.Failed++
			r.metrics.Reminder("failed")
			r.log.Warn("reminder not queued", zap.String("appointment_id", a.ID.String()), zap.Error(err))
			// The next run retries it.
			if ferr := r.dedupe.Forget(context.WithoutCancel(ctx), key); ferr != nil {
				r.log.Warn("clear reminder mark", zap.String("appointment_id", a.ID.String()), zap.Error(ferr))
			}
			continue
		}
		res.Published++
		r.metrics.Reminder("published")
	}

	r.log.Info("reminder run complete",
		zap.String("day", res.Day),
		zap.Int("due", res.Due),
		zap.Int("published", res.Published),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}
