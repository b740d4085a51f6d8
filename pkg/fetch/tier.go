package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/product-scout/pkg/models"
	"github.com/Sriram-PR/product-scout/pkg/parse"
	"github.com/Sriram-PR/product-scout/pkg/utils"
)

const gzipSuffix = ".xml.gz"

// TierOptions are the per-site knobs of the fetch tier.
type TierOptions struct {
	UserAgent      string
	RequestTimeout time.Duration
	SettleDelay    time.Duration
	MaxRetries     int // retries the PageFetcher applies to 5xx/429
}

// TierStats counts what the tier did during a run.
type TierStats struct {
	Direct      int64 `yaml:"direct" json:"direct"`
	Rendered    int64 `yaml:"rendered" json:"rendered"`
	Escalations int64 `yaml:"escalations" json:"escalations"`
	Failures    int64 `yaml:"failures" json:"failures"`
}

// Tier fetches sitemap content, switching a domain to the rendered path for
// the rest of the run after a 403 or a transport error.
type Tier struct {
	pages      PageFetcher
	escalation *EscalationState
	opts       TierOptions
	log        *logrus.Entry

	direct      atomic.Int64
	rendered    atomic.Int64
	escalations atomic.Int64
	failures    atomic.Int64
}

// NewTier creates a Tier. escalation is shared by every Tier in a run; nil
// gets a private state.
func NewTier(pages PageFetcher, escalation *EscalationState, opts TierOptions, log *logrus.Entry) *Tier {
	if escalation == nil {
		escalation = NewEscalationState()
	}
	return &Tier{pages: pages, escalation: escalation, opts: opts, log: log}
}

// Escalation returns the escalation state the tier consults.
func (t *Tier) Escalation() *EscalationState { return t.escalation }

// Stats returns a snapshot of the tier counters.
func (t *Tier) Stats() TierStats {
	return TierStats{
		Direct:      t.direct.Load(),
		Rendered:    t.rendered.Load(),
		Escalations: t.escalations.Load(),
		Failures:    t.failures.Load(),
	}
}

// FetchContent returns the text content of rawURL.
//
// A non-2xx status other than 403 yields a *utils.HTTPStatusError. A body
// that fails gzip decoding yields utils.ErrDecompress. Rendered failures wrap
// utils.ErrRender.
func (t *Tier) FetchContent(ctx context.Context, rawURL string) (string, error) {
	domain := parse.Domain(rawURL)
	fetchLog := t.log.WithFields(logrus.Fields{"url": rawURL, "domain": domain})

	if t.escalation.IsEscalated(domain) {
		return t.render(ctx, rawURL, fetchLog)
	}

	headers := http.Header{}
	if t.opts.UserAgent != "" {
		headers.Set("User-Agent", t.opts.UserAgent)
	}

	t.direct.Add(1)
	status, body, err := t.pages.GetRaw(ctx, rawURL, headers, t.opts.RequestTimeout)
	if err != nil {
		if !IsTransportError(err) {
			t.failures.Add(1)
			return "", err
		}
		t.escalate(domain, fetchLog.WithField("error_type", utils.CategorizeError(err)), "transport error")
		return t.render(ctx, rawURL, fetchLog)
	}

	if status == http.StatusForbidden {
		t.escalate(domain, fetchLog, "HTTP 403")
		return t.render(ctx, rawURL, fetchLog)
	}
	if status < 200 || status > 299 {
		t.failures.Add(1)
		statusErr := utils.NewHTTPStatusError(rawURL, status)
		if t.opts.MaxRetries > 0 && retryableStatus(status) {
			return "", fmt.Errorf("%w: %w", utils.ErrRetryFailed, statusErr)
		}
		return "", statusErr
	}

	if parse.HasPathSuffix(rawURL, gzipSuffix) {
		text, err := gunzip(body, maxBodyBytes)
		if err != nil {
			t.failures.Add(1)
			return "", fmt.Errorf("%w: %s: %w", utils.ErrDecompress, rawURL, err)
		}
		fetchLog.WithField("path", models.FetchPathDirect).Debug("Fetched compressed sitemap")
		return text, nil
	}

	fetchLog.WithFields(logrus.Fields{"path": models.FetchPathDirect, "bytes": len(body)}).Debug("Fetched sitemap")
	return string(body), nil
}

func (t *Tier) escalate(domain string, log *logrus.Entry, reason string) {
	if t.escalation.Escalate(domain) {
		t.escalations.Add(1)
		log.Warnf("Escalating domain to rendered fetch after %s", reason)
	}
}

func (t *Tier) render(ctx context.Context, rawURL string, log *logrus.Entry) (string, error) {
	t.rendered.Add(1)
	markup, err := t.pages.RenderedFetch(ctx, rawURL, t.opts.SettleDelay)
	if err != nil {
		t.failures.Add(1)
		if !errors.Is(err, utils.ErrRender) {
			err = fmt.Errorf("%w: %w", utils.ErrRender, err)
		}
		return "", err
	}
	log.WithFields(logrus.Fields{"path": models.FetchPathRendered, "bytes": len(markup)}).Debug("Fetched sitemap")
	return markup, nil
}

func gunzip(body []byte, limit int64) (string, error) {
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer zr.Close()
	out, err := readCapped(zr, limit)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
