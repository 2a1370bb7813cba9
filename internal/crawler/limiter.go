package crawler

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds the number of requests in flight across a whole run.
type Limiter struct {
	sem      *semaphore.Weighted
	size     int
	inFlight atomic.Int64
}

// NewLimiter returns a Limiter with size permits (minimum 1).
func NewLimiter(size int) *Limiter {
	if size <= 0 {
		size = 1
	}
	return &Limiter{
		sem:  semaphore.NewWeighted(int64(size)),
		size: size,
	}
}

// Acquire blocks until a permit is free or ctx ends.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire permit: %w", err)
	}
	l.inFlight.Add(1)
	return nil
}

// Release returns a permit taken by Acquire.
func (l *Limiter) Release() {
	l.inFlight.Add(-1)
	l.sem.Release(1)
}

// Do runs fn while holding a permit. The permit is released on every path.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn(ctx)
}

// InFlight returns the number of permits currently held.
func (l *Limiter) InFlight() int {
	return int(l.inFlight.Load())
}

// Size returns the permit budget.
func (l *Limiter) Size() int {
	return l.size
}
