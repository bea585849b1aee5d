package dm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited caps the hardware update rate of a DM.  Membrane mirrors have
// a finite settle time; pushing frames faster than the device can follow
// only heats the membrane.  Writes block until the limiter admits them.
type RateLimited struct {
	DM
	limiter *rate.Limiter
	ctx     context.Context
}

// Limit wraps a DM so that SetArray and Zero are admitted at most hz times
// per second
func Limit(d DM, hz float64) *RateLimited {
	return &RateLimited{
		DM:      d,
		limiter: rate.NewLimiter(rate.Limit(hz), 1),
		ctx:     context.Background(),
	}
}

// SetArray waits for the limiter, then forwards to the device
func (r *RateLimited) SetArray(values []float64) error {
	if err := r.limiter.Wait(r.ctx); err != nil {
		return err
	}
	return r.DM.SetArray(values)
}

// Zero waits for the limiter, then forwards to the device
func (r *RateLimited) Zero() error {
	if err := r.limiter.Wait(r.ctx); err != nil {
		return err
	}
	return r.DM.Zero()
}
