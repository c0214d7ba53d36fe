package embeddings

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// windowLimiter caps the number of provider requests inside a rolling window.
// Callers that would exceed the cap block until the oldest request falls out
// of the window; the limiter never returns a rate error of its own. A token
// bucket in front spaces requests evenly so callers do not burn the whole
// window budget in the first instant.
type windowLimiter struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	stamps []time.Time

	bucket *rate.Limiter

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func newWindowLimiter(maxRequests int, window time.Duration) *windowLimiter {
	perSecond := float64(maxRequests) / window.Seconds()
	return &windowLimiter{
		window: window,
		max:    maxRequests,
		stamps: make([]time.Time, 0, maxRequests),
		bucket: rate.NewLimiter(rate.Limit(perSecond), maxRequests),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Wait blocks until the caller may issue one request. It returns an error
// only when ctx is done.
func (l *windowLimiter) Wait(ctx context.Context) error {
	if l.bucket != nil {
		if err := l.bucket.Wait(ctx); err != nil {
			return err
		}
	}
	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)
		if len(l.stamps) < l.max {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			return nil
		}
		waitFor := l.stamps[0].Add(l.window).Sub(now)
		l.mu.Unlock()
		if waitFor <= 0 {
			continue
		}
		if err := l.sleep(ctx, waitFor); err != nil {
			return err
		}
	}
}

// prune drops timestamps older than the window. Callers hold l.mu.
func (l *windowLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	idx := 0
	for idx < len(l.stamps) && !l.stamps[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[idx:]...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
