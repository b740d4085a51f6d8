package config

import (
	"time"

	"github.com/Sriram-PR/product-scout/pkg/filter"
)

// DefaultUserAgent is a desktop Chrome User-Agent sent on direct fetches.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36"

// SiteConfig holds configuration specific to a single storefront
type SiteConfig struct {
	URL                string         `yaml:"url"`                     // Site root; robots.txt is read from here
	SitemapURLs        []string       `yaml:"sitemap_urls,omitempty"`  // Extra root sitemaps traversed alongside robots.txt entries
	SkipRobots         bool           `yaml:"skip_robots,omitempty"`   // Only traverse sitemap_urls
	FilterPolicy       *filter.Policy `yaml:"filter_policy,omitempty"` // Non-empty lists replace the global ones
	ForceRender        *bool          `yaml:"force_render,omitempty"`  // Start the run with the domain already escalated
	UserAgent          string         `yaml:"user_agent,omitempty"`
	DelayPerHost       time.Duration  `yaml:"delay_per_host,omitempty"`
	OutputFormats      []string       `yaml:"output_formats,omitempty"`
	EnableMetadataYAML *bool          `yaml:"enable_metadata_yaml,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	DefaultUserAgent        string                `yaml:"default_user_agent"`
	RequestTimeout          time.Duration         `yaml:"request_timeout,omitempty"`      // Per direct GET
	RenderSettleDelay       time.Duration         `yaml:"render_settle_delay,omitempty"`  // Wait after navigation before capturing markup
	RenderTimeout           time.Duration         `yaml:"render_timeout,omitempty"`       // Upper bound for one browser session
	ChromePath              string                `yaml:"chrome_path,omitempty"`          // Empty = let chromedp find a browser
	RenderHeadless          *bool                 `yaml:"render_headless,omitempty"`      // nil = headless
	DefaultDelayPerHost     time.Duration         `yaml:"default_delay_per_host"`
	MaxRequests             int                   `yaml:"max_requests"`
	MaxRequestsPerHost      int                   `yaml:"max_requests_per_host"`
	MaxRetries              int                   `yaml:"max_retries,omitempty"` // Retries for 5xx/429 on the direct path, 0 = single attempt
	InitialRetryDelay       time.Duration         `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay           time.Duration         `yaml:"max_retry_delay,omitempty"`
	SemaphoreAcquireTimeout time.Duration         `yaml:"semaphore_acquire_timeout,omitempty"`
	GlobalCrawlTimeout      time.Duration         `yaml:"global_crawl_timeout,omitempty"`
	TraversalWorkers        int                   `yaml:"traversal_workers,omitempty"` // Concurrent sitemap fetches per traversal
	OutputBaseDir           string                `yaml:"output_base_dir"`
	StateDir                string                `yaml:"state_dir"`
	OutputFormats           []string              `yaml:"output_formats,omitempty"` // xlsx, txt
	EnableProductHistory    bool                  `yaml:"enable_product_history,omitempty"`
	EnableMetadataYAML      bool                  `yaml:"enable_metadata_yaml,omitempty"`
	MetadataYAMLFilename    string                `yaml:"metadata_yaml_filename,omitempty"`
	HTTPClientSettings      HTTPClientConfig      `yaml:"http_client_settings,omitempty"`
	FilterPolicy            *filter.Policy        `yaml:"filter_policy,omitempty"` // Overrides the built-in lists
	Sites                   map[string]SiteConfig `yaml:"sites"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall client timeout, per-request timeouts still apply
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// Output format names accepted in output_formats
const (
	FormatXLSX = "xlsx"
	FormatText = "txt"
)

// GetEffectiveUserAgent determines the User-Agent sent on direct fetches
func GetEffectiveUserAgent(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.UserAgent != "" {
		return siteCfg.UserAgent
	}
	if appCfg.DefaultUserAgent != "" {
		return appCfg.DefaultUserAgent
	}
	return DefaultUserAgent
}

// GetEffectiveDelayPerHost determines the politeness delay between requests to one host
func GetEffectiveDelayPerHost(siteCfg SiteConfig, appCfg AppConfig) time.Duration {
	if siteCfg.DelayPerHost > 0 {
		return siteCfg.DelayPerHost
	}
	return appCfg.DefaultDelayPerHost
}

// GetEffectiveFilterPolicy layers the global and per-site overrides over the built-in policy
func GetEffectiveFilterPolicy(siteCfg SiteConfig, appCfg AppConfig) filter.Policy {
	return filter.DefaultPolicy().Merge(appCfg.FilterPolicy).Merge(siteCfg.FilterPolicy)
}

// GetEffectiveForceRender reports whether the site's domain starts escalated
func GetEffectiveForceRender(siteCfg SiteConfig) bool {
	return siteCfg.ForceRender != nil && *siteCfg.ForceRender
}

// GetEffectiveRenderHeadless determines whether the browser runs headless (default true)
func GetEffectiveRenderHeadless(appCfg AppConfig) bool {
	if appCfg.RenderHeadless != nil {
		return *appCfg.RenderHeadless
	}
	return true
}

// GetEffectiveOutputFormats determines which result files are written for a site
func GetEffectiveOutputFormats(siteCfg SiteConfig, appCfg AppConfig) []string {
	if len(siteCfg.OutputFormats) > 0 {
		return siteCfg.OutputFormats
	}
	if len(appCfg.OutputFormats) > 0 {
		return appCfg.OutputFormats
	}
	return []string{FormatXLSX}
}

// GetEffectiveEnableMetadataYAML determines if YAML metadata should be generated.
func GetEffectiveEnableMetadataYAML(siteCfg SiteConfig, appCfg AppConfig) bool {
	if siteCfg.EnableMetadataYAML != nil {
		return *siteCfg.EnableMetadataYAML
	}
	return appCfg.EnableMetadataYAML
}

// GetEffectiveMetadataYAMLFilename determines the filename for the YAML metadata.
func GetEffectiveMetadataYAMLFilename(appCfg AppConfig) string {
	if appCfg.MetadataYAMLFilename != "" {
		return appCfg.MetadataYAMLFilename
	}
	return "metadata.yaml"
}
