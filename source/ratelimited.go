package source

import (
	"context"

	"airweave.dev/syncengine/entity"
)

// Waiter is the subset of ratelimit.Limiter a driver wrapper needs; defined
// here instead of importing ratelimit directly so source stays free of a
// dependency on the limiter's Redis/local selection logic (spec §4.2).
type Waiter interface {
	Wait(ctx context.Context) error
}

// RateLimitedDriver wraps a Driver so every List call waits on both the
// org-scoped and source-scoped limiters first, implementing spec §4.2's
// "every outbound call passes through both" rule without each connector
// needing to know about rate limiting itself.
type RateLimitedDriver struct {
	Driver
	org    Waiter
	source Waiter
}

// NewRateLimitedDriver wraps driver with org- and source-scoped waiters.
// Either may be nil to skip that scope (e.g. RateLimitLevel == RateLimitNone).
func NewRateLimitedDriver(driver Driver, org, source Waiter) *RateLimitedDriver {
	return &RateLimitedDriver{Driver: driver, org: org, source: source}
}

func (d *RateLimitedDriver) List(ctx context.Context, connectionID string, cursor entity.Cursor) (Page, error) {
	if d.org != nil {
		if err := d.org.Wait(ctx); err != nil {
			return Page{}, err
		}
	}
	if d.source != nil {
		if err := d.source.Wait(ctx); err != nil {
			return Page{}, err
		}
	}
	return d.Driver.List(ctx, connectionID, cursor)
}
