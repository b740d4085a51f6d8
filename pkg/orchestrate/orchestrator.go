package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/product-scout/pkg/config"
	"github.com/Sriram-PR/product-scout/pkg/fetch"
	"github.com/Sriram-PR/product-scout/pkg/filter"
	"github.com/Sriram-PR/product-scout/pkg/models"
	"github.com/Sriram-PR/product-scout/pkg/output"
	"github.com/Sriram-PR/product-scout/pkg/parse"
	"github.com/Sriram-PR/product-scout/pkg/sitemap"
	"github.com/Sriram-PR/product-scout/pkg/storage"
	"github.com/Sriram-PR/product-scout/pkg/utils"
)

// SiteResult contains the result of discovering products for a single site
type SiteResult struct {
	SiteKey      string
	Domain       string
	Success      bool
	Error        error
	Roots        []string
	Links        []string
	ProductCount int
	NewProducts  int // -1 when product history is disabled
	ProductHash  string
	Stats        models.TraversalStats
	OutputFiles  []string
	Duration     time.Duration
}

// Progress reports how far a site run has come
type Progress struct {
	RootsTotal int
	RootsDone  int
	Products   int
}

// ProgressFunc receives progress updates for a site
type ProgressFunc func(siteKey string, p Progress)

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithPageFetcher replaces the HTTP client and browser the orchestrator would build
func WithPageFetcher(pages fetch.PageFetcher) Option {
	return func(o *Orchestrator) { o.pages = pages }
}

// WithHistory records every site's products into store
func WithHistory(store storage.ProductStore) Option {
	return func(o *Orchestrator) { o.history = store }
}

// WithEscalation shares an existing escalation state
func WithEscalation(state *fetch.EscalationState) Option {
	return func(o *Orchestrator) { o.escalation = state }
}

// WithProgress registers a progress callback
func WithProgress(fn ProgressFunc) Option {
	return func(o *Orchestrator) { o.onProgress = fn }
}

// Orchestrator runs product discovery for configured sites, one after another
type Orchestrator struct {
	appCfg *config.AppConfig
	log    *logrus.Entry

	// Shared resources
	pages       fetch.PageFetcher
	rateLimiter *fetch.RateLimiter
	hosts       *fetch.HostLimiter
	escalation  *fetch.EscalationState
	tiers       []*fetch.Tier
	history     storage.ProductStore
	onProgress  ProgressFunc
}

// NewOrchestrator creates an orchestrator. Unless WithPageFetcher is given it
// builds the direct fetcher (shared client, rate limiter, host and global
// semaphores) and the browser renderer from appCfg.
func NewOrchestrator(appCfg *config.AppConfig, log *logrus.Entry, opts ...Option) *Orchestrator {
	o := &Orchestrator{appCfg: appCfg, log: log}
	for _, opt := range opts {
		opt(o)
	}

	if o.escalation == nil {
		o.escalation = fetch.NewEscalationState()
	}
	if o.pages == nil {
		httpClient := fetch.NewClient(appCfg.HTTPClientSettings, log.WithField("component", "http_client"))
		o.rateLimiter = fetch.NewRateLimiter(appCfg.DefaultDelayPerHost, log.WithField("component", "rate_limiter"))
		o.hosts = fetch.NewHostLimiter(appCfg.MaxRequestsPerHost, appCfg.SemaphoreAcquireTimeout, log.WithField("component", "host_limiter"))

		var globalSem *semaphore.Weighted
		if appCfg.MaxRequests > 0 {
			globalSem = semaphore.NewWeighted(int64(appCfg.MaxRequests))
		}
		fetcher := fetch.NewFetcher(httpClient, o.rateLimiter, o.hosts, globalSem, appCfg, log.WithField("component", "fetcher"))
		renderer := fetch.NewRenderer(appCfg, log.WithField("component", "renderer"))
		o.pages = fetch.NewPages(fetcher, renderer)
	}
	return o
}

// Escalation returns the run-wide escalation state
func (o *Orchestrator) Escalation() *fetch.EscalationState { return o.escalation }

// Run processes siteKeys sequentially and returns one result per key
func (o *Orchestrator) Run(ctx context.Context, siteKeys []string) []SiteResult {
	startTime := time.Now()
	o.log.Infof("Starting product discovery for %d sites: %v", len(siteKeys), siteKeys)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if o.hosts != nil {
		go o.hosts.RunSweeper(runCtx, 5*time.Minute)
	}

	results := make([]SiteResult, 0, len(siteKeys))
	for _, siteKey := range siteKeys {
		if err := runCtx.Err(); err != nil {
			results = append(results, SiteResult{SiteKey: siteKey, Error: err, NewProducts: -1})
			continue
		}
		results = append(results, o.RunSite(runCtx, siteKey))
	}

	o.logSummary(results, time.Since(startTime))
	return results
}

// RunSite discovers the products of one configured site and writes its outputs
func (o *Orchestrator) RunSite(ctx context.Context, siteKey string) SiteResult {
	startTime := time.Now()
	result := SiteResult{SiteKey: siteKey, NewProducts: -1}
	defer func() { result.Duration = time.Since(startTime) }()

	siteCfg, exists := o.appCfg.Sites[siteKey]
	if !exists {
		result.Error = fmt.Errorf("site '%s' not found in configuration", siteKey)
		o.log.Errorf("Site '%s' not found in configuration", siteKey)
		return result
	}

	result.Domain = utils.DomainStem(parse.Hostname(siteCfg.URL))
	siteLog := o.log.WithFields(logrus.Fields{"site": siteKey, "domain": result.Domain})

	flt, err := filter.New(config.GetEffectiveFilterPolicy(siteCfg, *o.appCfg))
	if err != nil {
		result.Error = fmt.Errorf("site '%s': %w", siteKey, err)
		siteLog.Errorf("Invalid filter policy: %v", err)
		return result
	}

	o.prepareHosts(siteCfg, siteLog)

	userAgent := config.GetEffectiveUserAgent(siteCfg, *o.appCfg)
	tier := fetch.NewTier(o.pages, o.escalation, fetch.TierOptions{
		UserAgent:      userAgent,
		RequestTimeout: o.appCfg.RequestTimeout,
		SettleDelay:    o.appCfg.RenderSettleDelay,
		MaxRetries:     o.appCfg.MaxRetries,
	}, siteLog.WithField("component", "fetch_tier"))
	o.tiers = append(o.tiers, tier)

	result.Roots = o.collectRoots(ctx, siteCfg, userAgent, siteLog)
	if len(result.Roots) == 0 {
		siteLog.Warn("No sitemap roots found (robots.txt had none and no sitemap_urls configured)")
	}

	traverser := sitemap.NewTraverser(tier, flt, o.appCfg.TraversalWorkers, siteLog.WithField("component", "traverser"))
	products := sitemap.NewProductSet()
	rootsMeta := make([]models.RootMetadata, 0, len(result.Roots))

	for i, root := range result.Roots {
		if ctx.Err() != nil {
			break
		}
		siteLog.Infof("Traversing root sitemap %d/%d: %s", i+1, len(result.Roots), root)
		rootResult := traverser.Traverse(ctx, root)
		products.Merge(sitemap.NewProductSet(rootResult.Links...))
		result.Stats.Add(rootResult.Stats)
		rootsMeta = append(rootsMeta, models.RootMetadata{
			URL:          root,
			ProductCount: len(rootResult.Links),
			Stats:        rootResult.Stats,
		})
		if o.onProgress != nil {
			o.onProgress(siteKey, Progress{RootsTotal: len(result.Roots), RootsDone: i + 1, Products: products.Len()})
		}
		if rootResult.Err != nil {
			break
		}
	}

	result.Links = products.Sorted()
	result.ProductCount = len(result.Links)
	result.ProductHash = utils.HashLinkSet(result.Links)

	// Partial results are still written when the run is cancelled
	writeCtx := context.WithoutCancel(ctx)
	writeErr := o.writeOutputs(writeCtx, siteCfg, &result, siteLog)

	if o.history != nil {
		if n, err := o.history.CountNewSince(result.Domain, startTime); err != nil {
			siteLog.Warnf("Could not count new products: %v", err)
		} else {
			result.NewProducts = n
		}
	}

	if config.GetEffectiveEnableMetadataYAML(siteCfg, *o.appCfg) {
		metaPath := filepath.Join(o.appCfg.OutputBaseDir, result.Domain+"_"+config.GetEffectiveMetadataYAMLFilename(*o.appCfg))
		meta := &models.SiteRunMetadata{
			SiteKey:           siteKey,
			Domain:            result.Domain,
			RunStartTime:      startTime,
			RunEndTime:        time.Now(),
			ProductCount:      result.ProductCount,
			ProductSetHash:    result.ProductHash,
			Roots:             rootsMeta,
			EscalatedDomains:  o.escalation.Domains(),
			OutputFiles:       result.OutputFiles,
			SiteConfiguration: output.SiteConfigMap(siteCfg),
		}
		if result.NewProducts > 0 {
			meta.NewProductCount = result.NewProducts
		}
		if err := output.WriteRunMetadata(metaPath, meta); err != nil {
			siteLog.Errorf("Failed to write run metadata: %v", err)
			writeErr = errors.Join(writeErr, err)
		} else {
			siteLog.Infof("Wrote run metadata to %s", metaPath)
		}
	}

	switch {
	case ctx.Err() != nil:
		result.Error = fmt.Errorf("site '%s' interrupted after %d products: %w", siteKey, result.ProductCount, ctx.Err())
	case writeErr != nil:
		result.Error = writeErr
	default:
		result.Success = true
	}

	siteLog.WithFields(logrus.Fields{
		"roots":            len(result.Roots),
		"products":         result.ProductCount,
		"sitemaps_fetched": result.Stats.SitemapsFetched,
		"sitemaps_failed":  result.Stats.SitemapsFailed,
		"escalated":        tier.Escalation().Domains(),
	}).Info("Site discovery finished")
	return result
}

// prepareHosts applies the site's politeness delay and force_render flag to
// every host the site is fetched from.
func (o *Orchestrator) prepareHosts(siteCfg config.SiteConfig, log *logrus.Entry) {
	hosts := []string{parse.Domain(siteCfg.URL)}
	for _, u := range siteCfg.SitemapURLs {
		hosts = append(hosts, parse.Domain(u))
	}

	delay := config.GetEffectiveDelayPerHost(siteCfg, *o.appCfg)
	forceRender := config.GetEffectiveForceRender(siteCfg)
	for _, host := range hosts {
		if host == "" {
			continue
		}
		if o.rateLimiter != nil {
			o.rateLimiter.SetHostDelay(host, delay)
		}
		if forceRender && o.escalation.Escalate(host) {
			log.WithField("host", host).Info("force_render set, using rendered fetch from the start")
		}
	}
}

// collectRoots merges robots.txt sitemaps with the configured ones, keeping
// first-seen order and dropping duplicates after normalization.
func (o *Orchestrator) collectRoots(ctx context.Context, siteCfg config.SiteConfig, userAgent string, log *logrus.Entry) []string {
	var candidates []string
	if !siteCfg.SkipRobots {
		robots := fetch.NewRobotsDiscoverer(o.pages, userAgent, o.appCfg.RequestTimeout, log.WithField("component", "robots"))
		candidates = append(candidates, robots.DiscoverSitemaps(ctx, siteCfg.URL)...)
	}
	candidates = append(candidates, siteCfg.SitemapURLs...)

	seen := make(map[string]bool, len(candidates))
	roots := make([]string, 0, len(candidates))
	for _, c := range candidates {
		n := parse.NormalizeURL(c)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		roots = append(roots, n)
	}
	return roots
}

func (o *Orchestrator) writeOutputs(ctx context.Context, siteCfg config.SiteConfig, result *SiteResult, log *logrus.Entry) error {
	fileSinks, err := output.NewFileSinks(config.GetEffectiveOutputFormats(siteCfg, *o.appCfg), o.appCfg.OutputBaseDir, log.WithField("component", "output"))
	if err != nil {
		return err
	}
	for _, sink := range fileSinks {
		if p, ok := sink.(interface{ Path(string) string }); ok {
			result.OutputFiles = append(result.OutputFiles, p.Path(result.Domain))
		}
	}

	sinks := fileSinks
	if o.history != nil {
		sinks = append(sinks, o.history)
	}
	if err := sinks.Write(ctx, result.Domain, result.Links); err != nil {
		log.Errorf("Failed to write results: %v", err)
		return err
	}
	return nil
}

// TierStats sums the fetch tier counters of every site run so far
func (o *Orchestrator) TierStats() fetch.TierStats {
	var total fetch.TierStats
	for _, t := range o.tiers {
		s := t.Stats()
		total.Direct += s.Direct
		total.Rendered += s.Rendered
		total.Escalations += s.Escalations
		total.Failures += s.Failures
	}
	return total
}

// logSummary logs a summary of all site results
func (o *Orchestrator) logSummary(results []SiteResult, totalDuration time.Duration) {
	o.log.Info("============================================")
	o.log.Infof("Product discovery completed in %v", totalDuration)
	o.log.Info("Site Results:")

	totalProducts := 0
	successCount := 0
	failCount := 0

	for _, r := range results {
		status := "SUCCESS"
		if !r.Success {
			status = "FAILED"
			failCount++
		} else {
			successCount++
		}
		totalProducts += r.ProductCount

		o.log.Infof("  %s: %s - %d products from %d roots in %v", r.SiteKey, status, r.ProductCount, len(r.Roots), r.Duration)
		if r.NewProducts >= 0 {
			o.log.Infof("    New since last run: %d", r.NewProducts)
		}
		if r.Error != nil {
			o.log.Infof("    Error: %v", r.Error)
		}
	}

	tierStats := o.TierStats()
	o.log.Info("--------------------------------------------")
	o.log.Infof("Total: %d sites (%d success, %d failed), %d products", len(results), successCount, failCount, totalProducts)
	o.log.Infof("Fetches: %d direct, %d rendered, %d escalations, %d failed", tierStats.Direct, tierStats.Rendered, tierStats.Escalations, tierStats.Failures)
	if domains := o.escalation.Domains(); len(domains) > 0 {
		o.log.Infof("Escalated domains: %v", domains)
	}
	o.log.Info("============================================")
}

// ValidateSiteKeys checks that all provided site keys exist in the config
func ValidateSiteKeys(appCfg *config.AppConfig, siteKeys []string) error {
	for _, key := range siteKeys {
		if _, exists := appCfg.Sites[key]; !exists {
			return fmt.Errorf("site '%s' not found. Available sites: %v", key, GetAllSiteKeys(appCfg))
		}
	}
	return nil
}

// GetAllSiteKeys returns all site keys from the config, sorted
func GetAllSiteKeys(appCfg *config.AppConfig) []string {
	keys := make([]string, 0, len(appCfg.Sites))
	for k := range appCfg.Sites {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
