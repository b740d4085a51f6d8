package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/product-scout/pkg/utils"
)

const defaultPerHost = 2

type hostSlot struct {
	sem       *semaphore.Weighted
	users     int64     // holders plus waiters
	idleSince time.Time // set when users drops to zero
}

// HostLimiter caps in-flight direct requests per host. Robots discovery and
// sitemap fetches share one limiter.
type HostLimiter struct {
	mu      sync.Mutex
	slots   map[string]*hostSlot
	perHost int64
	waitCap time.Duration // 0 waits as long as ctx allows
	log     *logrus.Entry
}

// NewHostLimiter allows perHost concurrent requests per host. A caller that
// waits longer than waitCap for a slot gets utils.ErrSemaphoreTimeout.
func NewHostLimiter(perHost int, waitCap time.Duration, log *logrus.Entry) *HostLimiter {
	if perHost <= 0 {
		log.Warnf("max_requests_per_host invalid or zero, defaulting to %d", defaultPerHost)
		perHost = defaultPerHost
	}
	return &HostLimiter{
		slots:   make(map[string]*hostSlot),
		perHost: int64(perHost),
		waitCap: waitCap,
		log:     log,
	}
}

func (l *HostLimiter) join(host string) *hostSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[host]
	if !ok {
		slot = &hostSlot{sem: semaphore.NewWeighted(l.perHost)}
		l.slots[host] = slot
		l.log.WithFields(logrus.Fields{"host": host, "limit": l.perHost}).Debug("Tracking new host")
	}
	slot.users++
	return slot
}

func (l *HostLimiter) leave(slot *hostSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.users--
	if slot.users == 0 {
		slot.idleSince = time.Now()
	}
}

// Acquire blocks until host has a free slot. Cancellation of ctx is returned
// unchanged; exceeding the wait cap wraps utils.ErrSemaphoreTimeout.
func (l *HostLimiter) Acquire(ctx context.Context, host string) error {
	slot := l.join(host)

	waitCtx := ctx
	if l.waitCap > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.waitCap)
		defer cancel()
	}

	if err := slot.sem.Acquire(waitCtx, 1); err != nil {
		l.leave(slot)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: host %s after %v", utils.ErrSemaphoreTimeout, host, l.waitCap)
	}
	return nil
}

// Release frees the slot taken by a successful Acquire.
func (l *HostLimiter) Release(host string) {
	l.mu.Lock()
	slot, ok := l.slots[host]
	l.mu.Unlock()
	if !ok {
		l.log.Errorf("Release called for untracked host: %s", host)
		return
	}
	slot.sem.Release(1)
	l.leave(slot)
}

// RunSweeper forgets hosts idle for at least every, checking on that period
// until ctx ends.
func (l *HostLimiter) RunSweeper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep(every)
		}
	}
}

func (l *HostLimiter) sweep(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	for host, slot := range l.slots {
		if slot.users == 0 && !slot.idleSince.After(cutoff) {
			delete(l.slots, host)
		}
	}
}

// Hosts returns how many hosts are tracked.
func (l *HostLimiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
