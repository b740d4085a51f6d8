package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimiter spaces out requests to the same host
type RateLimiter struct {
	mu              sync.Mutex
	hostLastRequest map[string]time.Time     // host -> last request attempt time
	hostDelay       map[string]time.Duration // per-host overrides, set from site config
	defaultDelay    time.Duration
	log             *logrus.Entry
}

// NewRateLimiter creates a RateLimiter with a fallback delay for hosts without an override
func NewRateLimiter(defaultDelay time.Duration, log *logrus.Entry) *RateLimiter {
	return &RateLimiter{
		hostLastRequest: make(map[string]time.Time),
		hostDelay:       make(map[string]time.Duration),
		defaultDelay:    defaultDelay,
		log:             log,
	}
}

// SetHostDelay overrides the delay for one host. A non-positive delay removes the override.
func (rl *RateLimiter) SetHostDelay(host string, delay time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if delay <= 0 {
		delete(rl.hostDelay, host)
		return
	}
	rl.hostDelay[host] = delay
}

// delayFor returns the effective delay for host. Caller holds mu.
func (rl *RateLimiter) delayFor(host string, minDelay time.Duration) time.Duration {
	if minDelay > 0 {
		return minDelay
	}
	if d, ok := rl.hostDelay[host]; ok {
		return d
	}
	return rl.defaultDelay
}

// ApplyDelay sleeps until minDelay (or the host's configured delay when
// minDelay <= 0) has passed since the last request to host. The sleep carries
// +/-10% jitter and ends early if ctx is cancelled.
func (rl *RateLimiter) ApplyDelay(ctx context.Context, host string, minDelay time.Duration) {
	rl.mu.Lock()
	delay := rl.delayFor(host, minDelay)
	lastReqTime, exists := rl.hostLastRequest[host]
	rl.mu.Unlock()

	if delay <= 0 || !exists {
		return
	}

	elapsed := time.Since(lastReqTime)
	if elapsed >= delay {
		return
	}
	sleepDuration := delay - elapsed

	var jitter time.Duration
	if jitterRange := int64(sleepDuration) / 5; jitterRange > 0 {
		jitter = time.Duration(rand.Int63n(jitterRange)) - (sleepDuration / 10)
	}
	finalSleep := sleepDuration + jitter
	if finalSleep <= 0 {
		return
	}

	rl.log.WithFields(logrus.Fields{
		"host": host, "sleep": finalSleep, "required_delay": delay, "elapsed": elapsed,
	}).Debug("Rate limit applying sleep")

	timer := time.NewTimer(finalSleep)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// UpdateLastRequestTime records now as the last request attempt for host.
// Call it after the request attempt.
func (rl *RateLimiter) UpdateLastRequestTime(host string) {
	rl.mu.Lock()
	rl.hostLastRequest[host] = time.Now()
	rl.mu.Unlock()
}
