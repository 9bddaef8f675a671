package synth

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces successive synthesis or playback-adjacent calls so that
// per-line provider requests and queued dialogue do not hammer rate
// limits. A zero interval produces a no-op pacer.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer returns a pacer that allows one event per interval with a
// burst of one, so the first call passes immediately.
func NewPacer(interval time.Duration) *Pacer {
	if interval <= 0 {
		return &Pacer{}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next slot or until ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}
