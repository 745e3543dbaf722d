package core

// apply_limiter.go bounds how many imports are written concurrently.
//
// Each apply holds one slot for its whole run. When all slots are taken a
// new apply waits up to maxWait and then fails with ErrTooManyApplies.
// WaitForDrain lets shutdown wait for running applies.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyApplies is returned when no apply slot frees up within the wait time.
var ErrTooManyApplies = errors.New("too many imports being applied, please try again later")

// DefaultMaxConcurrentApplies is the default limit for parallel applies.
const DefaultMaxConcurrentApplies = 3

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// ApplyLimiter is a semaphore over apply runs.
type ApplyLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
}

// NewApplyLimiter creates a limiter allowing maxConcurrent simultaneous applies.
func NewApplyLimiter(maxConcurrent int, maxWait time.Duration) *ApplyLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentApplies
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &ApplyLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// Acquire waits for a slot. The caller must call Release after a nil return.
func (l *ApplyLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyApplies
	}
}

// Release frees a slot taken by Acquire.
func (l *ApplyLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of running applies.
func (l *ApplyLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// ApplyLimiterStatus is a snapshot of limiter state.
type ApplyLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Status returns the current limiter state.
func (l *ApplyLimiter) Status() ApplyLimiterStatus {
	return ApplyLimiterStatus{
		Active:        l.ActiveCount(),
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
	}
}

// WaitForDrain blocks until no apply is running or ctx ends.
func (l *ApplyLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
