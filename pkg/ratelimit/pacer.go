package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces loop iterations so that no more than perSecond run per second
// on average, allowing bursts of burst iterations.
type Pacer struct {
	limiter *rate.Limiter
	now     func() time.Time
}

// NewPacer returns nil when perSecond <= 0, which callers treat as unpaced
func NewPacer(perSecond float64, burst int) *Pacer {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Pacer{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		now:     time.Now,
	}
}

// Delay reserves the next iteration slot and returns how long to wait for it
func (p *Pacer) Delay() time.Duration {
	if p == nil {
		return 0
	}
	now := p.now()
	r := p.limiter.ReserveN(now, 1)
	if !r.OK() {
		return 0
	}
	return r.DelayFrom(now)
}
