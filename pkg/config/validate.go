package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sriram-PR/product-scout/pkg/filter"
	"github.com/Sriram-PR/product-scout/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if c.DefaultUserAgent == "" {
		c.DefaultUserAgent = DefaultUserAgent
	}

	// RequestTimeout
	if c.RequestTimeout < 0 {
		warnings = append(warnings, "request_timeout cannot be negative, defaulting to 10s")
		c.RequestTimeout = 0
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}

	// Rendered fetch timings
	if c.RenderSettleDelay < 0 {
		warnings = append(warnings, "render_settle_delay cannot be negative, defaulting to 3s")
		c.RenderSettleDelay = 0
	}
	if c.RenderSettleDelay == 0 {
		c.RenderSettleDelay = 3 * time.Second
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = 60 * time.Second
	}
	if c.RenderTimeout <= c.RenderSettleDelay {
		warnings = append(warnings, fmt.Sprintf(
			"render_timeout (%v) must exceed render_settle_delay (%v), using %v",
			c.RenderTimeout, c.RenderSettleDelay, c.RenderSettleDelay+30*time.Second))
		c.RenderTimeout = c.RenderSettleDelay + 30*time.Second
	}

	// DefaultDelayPerHost
	if c.DefaultDelayPerHost < 0 {
		warnings = append(warnings, "default_delay_per_host cannot be negative, setting to 0")
		c.DefaultDelayPerHost = 0
	}

	// MaxRequests
	if c.MaxRequests <= 0 {
		warnings = append(warnings, "max_requests should be > 0, defaulting to 10")
		c.MaxRequests = 10
	}

	// MaxRequestsPerHost
	if c.MaxRequestsPerHost <= 0 {
		warnings = append(warnings, "max_requests_per_host should be > 0, defaulting to 2")
		c.MaxRequestsPerHost = 2
	}

	// TraversalWorkers
	if c.TraversalWorkers < 0 {
		warnings = append(warnings, "traversal_workers cannot be negative, defaulting to 1")
	}
	if c.TraversalWorkers <= 0 {
		c.TraversalWorkers = 1
	}
	if c.TraversalWorkers > c.MaxRequests {
		warnings = append(warnings, fmt.Sprintf(
			"traversal_workers (%d) exceeds max_requests (%d); extra workers will wait on the request semaphore",
			c.TraversalWorkers, c.MaxRequests))
	}

	// OutputBaseDir
	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './product_links'")
		c.OutputBaseDir = "./product_links"
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './scout_state'")
		c.StateDir = "./scout_state"
	}

	// MaxRetries (0 = a single direct attempt)
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}

	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	// SemaphoreAcquireTimeout
	if c.SemaphoreAcquireTimeout <= 0 {
		c.SemaphoreAcquireTimeout = 30 * time.Second
	}

	// GlobalCrawlTimeout
	if c.GlobalCrawlTimeout < 0 {
		warnings = append(warnings, "global_crawl_timeout cannot be negative, disabling timeout")
		c.GlobalCrawlTimeout = 0
	}

	// OutputFormats
	if err := validateOutputFormats(c.OutputFormats); err != nil {
		return warnings, err
	}
	if len(c.OutputFormats) == 0 {
		c.OutputFormats = []string{FormatXLSX}
	}

	// FilterPolicy
	if c.FilterPolicy != nil {
		if _, err := filter.New(filter.DefaultPolicy().Merge(c.FilterPolicy)); err != nil {
			return warnings, fmt.Errorf("%w: global filter_policy: %v", utils.ErrConfigValidation, err)
		}
	}

	c.validateHTTPClientSettings()

	if c.EnableMetadataYAML && c.MetadataYAMLFilename == "" {
		c.MetadataYAMLFilename = "metadata.yaml"
	}

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks SiteConfig fields and applies defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place (trims the root URL's trailing slash).
func (c *SiteConfig) Validate() (warnings []string, err error) {
	// Required: URL
	if strings.TrimSpace(c.URL) == "" {
		return nil, fmt.Errorf("%w: site has no url", utils.ErrConfigValidation)
	}
	if err := checkAbsoluteHTTPURL(c.URL); err != nil {
		return nil, fmt.Errorf("%w: site url: %v", utils.ErrConfigValidation, err)
	}
	c.URL = strings.TrimRight(strings.TrimSpace(c.URL), "/")

	for i, sm := range c.SitemapURLs {
		if err := checkAbsoluteHTTPURL(sm); err != nil {
			return nil, fmt.Errorf("%w: sitemap_urls[%d]: %v", utils.ErrConfigValidation, i, err)
		}
	}

	if c.SkipRobots && len(c.SitemapURLs) == 0 {
		return nil, fmt.Errorf("%w: skip_robots is set but no sitemap_urls are configured", utils.ErrConfigValidation)
	}

	if c.FilterPolicy != nil {
		if c.FilterPolicy.IsZero() {
			warnings = append(warnings, "Site filter_policy is empty, built-in lists apply")
		}
		if _, err := filter.New(filter.DefaultPolicy().Merge(c.FilterPolicy)); err != nil {
			return nil, fmt.Errorf("%w: site filter_policy: %v", utils.ErrConfigValidation, err)
		}
	}

	if err := validateOutputFormats(c.OutputFormats); err != nil {
		return nil, err
	}

	if c.DelayPerHost < 0 {
		warnings = append(warnings, "Site delay_per_host cannot be negative, using the global delay")
		c.DelayPerHost = 0
	}

	return warnings, nil
}

func checkAbsoluteHTTPURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

func validateOutputFormats(formats []string) error {
	for _, f := range formats {
		switch f {
		case FormatXLSX, FormatText:
		default:
			return fmt.Errorf("%w: unknown output format %q (want %s or %s)", utils.ErrConfigValidation, f, FormatXLSX, FormatText)
		}
	}
	return nil
}
