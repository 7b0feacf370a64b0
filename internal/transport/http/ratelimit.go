package http

import "golang.org/x/time/rate"

// cursorLimiter throttles cursor frames of one connection. Frames over the
// rate are dropped, never queued.
type cursorLimiter struct {
	limiter *rate.Limiter
}

func newCursorLimiter(perSecond float64) *cursorLimiter {
	if perSecond <= 0 {
		return &cursorLimiter{}
	}
	return &cursorLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

func (l *cursorLimiter) allow() bool {
	if l == nil || l.limiter == nil {
		return true
	}
	return l.limiter.Allow()
}
