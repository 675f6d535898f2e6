package reminder

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/practicum-scheduling/internal/appointment"
)

const forgetTimeout = 500 * time.Millisecond

// Invalidator clears the reminder mark of a moved appointment so the next
// run reminds the patient of the new time. It runs on the request path, so
// the Redis call is bounded by timeout.
type Invalidator struct {
	dedupe  Deduper
	log     *zap.Logger
	timeout time.Duration
}

func NewInvalidator(dedupe Deduper, log *zap.Logger) *Invalidator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Invalidator{dedupe: dedupe, log: log.Named("reminder"), timeout: forgetTimeout}
}

func (i *Invalidator) Publish(ctx context.Context, ev appointment.Event) {
	if ev.Type != appointment.EventRescheduled || ev.PreviousStartsAt == nil {
		return
	}
	key := ev.Appointment.ID.String() + ":" + ev.PreviousStartsAt.Format(appointment.DateLayout)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.timeout)
	defer cancel()
	if err := i.dedupe.Forget(ctx, key); err != nil {
		i.log.Warn("clear reminder mark", zap.String("appointment_id", ev.Appointment.ID.String()), zap.Error(err))
	}
}

var _ appointment.Publisher = (*Invalidator)(nil)
