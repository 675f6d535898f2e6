package appointment

import (
	"fmt"
	"time"

	"github.com/hackgods/practicum-scheduling/internal/config"
)

// PolicyFromConfig builds the scheduling rules from the clinic settings.
func PolicyFromConfig(c config.ClinicConfig) (Policy, error) {
	p := DefaultPolicy()

	opens, err := config.ParseClock(c.OpensAt)
	if err != nil {
		return Policy{}, fmt.Errorf("opening time: %w", err)
	}
	closes, err := config.ParseClock(c.ClosesAt)
	if err != nil {
		return Policy{}, fmt.Errorf("closing time: %w", err)
	}
	if opens >= closes {
		return Policy{}, fmt.Errorf("clinic opens at %s but closes at %s", c.OpensAt, c.ClosesAt)
	}
	p.OpensAtMins, p.ClosesAtMins = opens, closes

	if c.DefaultDurationMins > 0 {
		p.DefaultDurationMins = c.DefaultDurationMins
	}
	if c.CancellationNotice > 0 {
		p.CancellationNotice = c.CancellationNotice
	}
	p.EnforceCancellationNotice = c.EnforceCancellationNotice

	if c.Timezone != "" {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return Policy{}, fmt.Errorf("clinic timezone: %w", err)
		}
		p.Location = loc
	}
	return p, nil
}
