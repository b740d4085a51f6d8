package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/product-scout/pkg/config"
	"github.com/Sriram-PR/product-scout/pkg/utils"
)

// maxBodyBytes bounds a single sitemap or robots.txt download
const maxBodyBytes = 100 << 20

var errBodyTooLarge = errors.New("body exceeds size limit")

// Fetcher performs direct HTTP GETs with per-host politeness, per-host and
// global concurrency caps, and optional backoff retries for 5xx/429.
type Fetcher struct {
	client      *http.Client
	rateLimiter *RateLimiter
	hosts       *HostLimiter
	globalSem   *semaphore.Weighted // nil = no global cap
	cfg         *config.AppConfig
	log         *logrus.Entry
	maxBody     int64
}

// NewFetcher creates a Fetcher. globalSem may be nil.
func NewFetcher(
	client *http.Client,
	rateLimiter *RateLimiter,
	hosts *HostLimiter,
	globalSem *semaphore.Weighted,
	cfg *config.AppConfig,
	log *logrus.Entry,
) *Fetcher {
	return &Fetcher{
		client:      client,
		rateLimiter: rateLimiter,
		hosts:       hosts,
		globalSem:   globalSem,
		cfg:         cfg,
		log:         log,
		maxBody:     maxBodyBytes,
	}
}

// GetRaw issues a GET and returns the status code and body of the final attempt.
//
// Any completed HTTP exchange is returned without error, whatever its status;
// interpreting the status is up to the caller. An error means no response was
// obtained: it wraps utils.ErrTransport for network failures (including the
// per-request timeout), or carries the cancellation of ctx, a semaphore
// timeout, or a request construction failure.
//
// With max_retries > 0, 5xx and 429 responses are retried with exponential
// backoff and jitter. Transport errors are never retried here.
func (f *Fetcher) GetRaw(ctx context.Context, rawURL string, headers http.Header, timeout time.Duration) (int, []byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return 0, nil, fmt.Errorf("%w: invalid URL %q", utils.ErrRequestCreation, rawURL)
	}
	host := strings.ToLower(u.Host)
	reqLog := f.log.WithField("url", rawURL)

	if f.globalSem != nil {
		if err := f.acquireGlobal(ctx); err != nil {
			return 0, nil, err
		}
		defer f.globalSem.Release(1)
	}
	if f.hosts != nil {
		if err := f.hosts.Acquire(ctx, host); err != nil {
			return 0, nil, err
		}
		defer f.hosts.Release(host)
	}

	maxRetries := f.cfg.MaxRetries
	var status int
	var body []byte
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt, f.cfg.InitialRetryDelay, f.cfg.MaxRetryDelay)
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": maxRetries, "delay": delay, "status_code": status}).Warn("Retrying request...")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return 0, nil, fmt.Errorf("context cancelled during retry delay after status %d: %w", status, ctx.Err())
			}
		}

		if f.rateLimiter != nil {
			f.rateLimiter.ApplyDelay(ctx, host, 0)
		}
		status, body, err = f.doOnce(ctx, rawURL, headers, timeout)
		if f.rateLimiter != nil {
			f.rateLimiter.UpdateLastRequestTime(host)
		}
		if err != nil {
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "error_type": utils.CategorizeError(err)}).Debugf("Direct fetch failed: %v", err)
			return 0, nil, err
		}

		if !retryableStatus(status) {
			reqLog.WithFields(logrus.Fields{"status_code": status, "bytes": len(body), "attempt": attempt}).Debug("Direct fetch completed")
			return status, body, nil
		}
	}

	reqLog.WithField("status_code", status).Warnf("All %d attempts returned a retryable status", maxRetries+1)
	return status, body, nil
}

// doOnce performs a single request with its own timeout.
func (f *Fetcher) doOnce(ctx context.Context, rawURL string, headers http.Header, timeout time.Duration) (int, []byte, error) {
	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", f.cfg.DefaultUserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, fmt.Errorf("request aborted: %w", ctx.Err())
		}
		return 0, nil, fmt.Errorf("%w: %w", utils.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := readCapped(resp.Body, f.maxBody)
	if errors.Is(err, errBodyTooLarge) {
		return 0, nil, fmt.Errorf("%w: %s: %w (%d bytes)", utils.ErrResponseBodyRead, rawURL, err, f.maxBody)
	}
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, fmt.Errorf("reading body aborted: %w", ctx.Err())
		}
		return 0, nil, fmt.Errorf("%w: %w: %w", utils.ErrTransport, utils.ErrResponseBodyRead, err)
	}
	return resp.StatusCode, body, nil
}

func (f *Fetcher) acquireGlobal(ctx context.Context) error {
	timeout := f.cfg.SemaphoreAcquireTimeout
	if timeout <= 0 {
		return f.globalSem.Acquire(ctx, 1)
	}
	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := f.globalSem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: global request semaphore after %v", utils.ErrSemaphoreTimeout, timeout)
	}
	return nil
}

func retryableStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

// backoffDelay returns initial * 2^(attempt-1) capped at maxDelay, with +/-10% jitter.
func backoffDelay(attempt int, initial, maxDelay time.Duration) time.Duration {
	delay := time.Duration(float64(initial) * math.Pow(2, float64(attempt-1)))
	if delay <= 0 || (maxDelay > 0 && delay > maxDelay) {
		delay = maxDelay
	}
	if delay <= 0 {
		return 0
	}
	var jitter time.Duration
	if jitterRange := int64(delay) / 5; jitterRange > 0 {
		jitter = time.Duration(rand.Int63n(jitterRange)) - (delay / 10)
	}
	if delay+jitter < 0 {
		return 0
	}
	return delay + jitter
}

// readCapped reads all of r, failing with errBodyTooLarge rather than
// returning a truncated body when r holds more than limit bytes.
func readCapped(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// IsTransportError reports whether err means no HTTP response was obtained.
func IsTransportError(err error) bool {
	return errors.Is(err, utils.ErrTransport)
}
