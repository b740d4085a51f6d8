package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/product-scout/pkg/config"
	"github.com/Sriram-PR/product-scout/pkg/orchestrate"
	"github.com/Sriram-PR/product-scout/pkg/parse"
	"github.com/Sriram-PR/product-scout/pkg/storage"
	"github.com/Sriram-PR/product-scout/pkg/utils"
	"github.com/Sriram-PR/product-scout/pkg/watch"
)

const version = "1.0.0"

const dbGCInterval = 10 * time.Minute

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "crawl":
		runCrawl(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "list-sites":
		runListSites(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("product-scout %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `product-scout - Storefront product URL discovery from sitemaps

Usage:
  product-scout <command> [options]

Commands:
  crawl       Discover product links for one or more sites
  watch       Re-run discovery on a schedule
  validate    Validate configuration file
  list-sites  List available site keys
  mcp-server  Start MCP server for AI tool integration
  version     Show version info

Run 'product-scout <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// siteSelection is what -site, -sites and --all-sites resolve to
type siteSelection struct {
	keys []string
	all  bool
}

// parseSiteSelection picks the sites named on the command line. --all-sites
// wins over -sites, which wins over -site.
func parseSiteSelection(site, sites string, allSites bool) (siteSelection, error) {
	if allSites {
		return siteSelection{all: true}, nil
	}
	if sites != "" {
		var keys []string
		for _, s := range strings.Split(sites, ",") {
			if s = strings.TrimSpace(s); s != "" {
				keys = append(keys, s)
			}
		}
		if len(keys) == 0 {
			return siteSelection{}, errors.New("-sites contains no site keys")
		}
		return siteSelection{keys: keys}, nil
	}
	if site != "" {
		return siteSelection{keys: []string{site}}, nil
	}
	return siteSelection{}, errors.New("one of -site, -sites, or --all-sites is required")
}

// resolve turns the selection into validated site keys
func (sel siteSelection) resolve(appCfg *config.AppConfig) ([]string, error) {
	keys := sel.keys
	if sel.all {
		keys = orchestrate.GetAllSiteKeys(appCfg)
		if len(keys) == 0 {
			return nil, errors.New("config defines no sites")
		}
	}
	if err := orchestrate.ValidateSiteKeys(appCfg, keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// crawlOptions carries the parsed crawl flags
type crawlOptions struct {
	configFile      string
	selection       siteSelection
	logLevel        string
	pprofAddr       string
	resetHistory    bool
	writeProductLog bool
	logOutput       io.Writer
}

// runCrawl handles the crawl subcommand
func runCrawl(args []string) {
	fs := flag.NewFlagSet("crawl", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key from config (single site)")
	sites := fs.String("sites", "", "Comma-separated site keys")
	allSites := fs.Bool("all-sites", false, "Discover products for all configured sites")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	pprofAddr := fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")
	resetHistory := fs.Bool("reset-history", false, "Wipe the product history DB before running")
	writeProductLog := fs.Bool("write-product-log", false, "Write every product ever seen per site from the history DB")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: product-scout crawl [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  product-scout crawl -site allbirds\n")
		fmt.Fprintf(os.Stderr, "  product-scout crawl -sites allbirds,gymshark\n")
		fmt.Fprintf(os.Stderr, "  product-scout crawl --all-sites\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	selection, err := parseSiteSelection(*siteKey, *sites, *allSites)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		os.Exit(1)
	}

	os.Exit(executeCrawl(crawlOptions{
		configFile:      *configFile,
		selection:       selection,
		logLevel:        *logLevel,
		pprofAddr:       *pprofAddr,
		resetHistory:    *resetHistory,
		writeProductLog: *writeProductLog,
		logOutput:       os.Stderr,
	}))
}

// executeCrawl runs discovery for the selected sites and returns the exit code
func executeCrawl(opts crawlOptions) int {
	log := setupLogger(opts.logLevel, opts.logOutput)

	appCfg, err := loadAndValidateConfig(opts.configFile, log)
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}
	siteKeys, err := opts.selection.resolve(appCfg)
	if err != nil {
		log.Errorf("Invalid site keys: %v", err)
		return 1
	}
	if err := validateSiteConfigs(appCfg, siteKeys, log); err != nil {
		log.Error(err)
		return 1
	}
	logAppConfig(appCfg, log)
	startPprof(opts.pprofAddr, log)

	// ===========================================================
	// == Setup Global Context & Signal Handling ==
	// ===========================================================
	runCtx, cancelRun := newRunContext(appCfg, log)
	defer cancelRun()
	stopSignals := handleSignals(runCtx, cancelRun, log)
	defer stopSignals()

	// ===========================================================
	// == Initialize Components ==
	// ===========================================================
	var orchOpts []orchestrate.Option
	var store *storage.BadgerStore
	if appCfg.EnableProductHistory {
		store, err = storage.NewBadgerStore(runCtx, appCfg.StateDir, opts.resetHistory, log.WithField("component", "history"))
		if err != nil {
			log.Errorf("Failed to open product history DB: %v", err)
			return 1
		}
		defer store.Close()
		go store.RunGC(runCtx, dbGCInterval)
		orchOpts = append(orchOpts, orchestrate.WithHistory(store))
	} else if opts.resetHistory || opts.writeProductLog {
		log.Warn("Product history is disabled (enable_product_history), ignoring history flags")
	}

	orch := orchestrate.NewOrchestrator(appCfg, log.WithField("component", "discover"), orchOpts...)

	// ===========================================================
	// == Run Discovery ==
	// ===========================================================
	results := orch.Run(runCtx, siteKeys)

	if store != nil && opts.writeProductLog {
		for _, r := range results {
			if r.Domain == "" {
				continue
			}
			logPath := filepath.Join(appCfg.OutputBaseDir, r.Domain+"_product_history.txt")
			if err := store.WriteProductLog(r.Domain, logPath); err != nil {
				log.Errorf("Error writing product history log for %s: %v", r.SiteKey, err)
			}
		}
	}

	// --- Exit ---
	switch err := runCtx.Err(); {
	case errors.Is(err, context.DeadlineExceeded):
		log.Error("Discovery timed out (global timeout).")
		return 1
	case errors.Is(err, context.Canceled):
		log.Warn("Discovery cancelled gracefully, partial results were written.")
		return 0
	}

	for _, r := range results {
		if !r.Success {
			return 1
		}
	}
	log.Info("Discovery completed successfully.")
	return 0
}

// runWatch handles the watch subcommand
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key from config (single site)")
	sites := fs.String("sites", "", "Comma-separated site keys")
	allSites := fs.Bool("all-sites", false, "Watch all configured sites")
	interval := fs.String("interval", "24h", "Discovery interval (e.g., 30m, 1h, 24h, 7d)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: product-scout watch [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  product-scout watch -site allbirds --interval 24h\n")
		fmt.Fprintf(os.Stderr, "  product-scout watch --all-sites --interval 6h\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	selection, err := parseSiteSelection(*siteKey, *sites, *allSites)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		os.Exit(1)
	}

	os.Exit(executeWatch(*configFile, selection, *interval, *logLevel))
}

// executeWatch runs the watch scheduler until a signal arrives
func executeWatch(configFile string, selection siteSelection, intervalStr, logLevelStr string) int {
	log := setupLogger(logLevelStr, os.Stderr)

	interval, err := watch.ParseInterval(intervalStr)
	if err != nil {
		log.Errorf("Invalid interval: %v", err)
		return 1
	}
	log.Infof("Watch interval: %s", watch.FormatInterval(interval))

	appCfg, err := loadAndValidateConfig(configFile, log)
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}
	siteKeys, err := selection.resolve(appCfg)
	if err != nil {
		log.Errorf("Invalid site keys: %v", err)
		return 1
	}
	if err := validateSiteConfigs(appCfg, siteKeys, log); err != nil {
		log.Error(err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var orchOpts []orchestrate.Option
	if appCfg.EnableProductHistory {
		store, err := storage.NewBadgerStore(ctx, appCfg.StateDir, false, log.WithField("component", "history"))
		if err != nil {
			log.Errorf("Failed to open product history DB: %v", err)
			return 1
		}
		defer store.Close()
		go store.RunGC(ctx, dbGCInterval)
		orchOpts = append(orchOpts, orchestrate.WithHistory(store))
	}

	scheduler := watch.NewScheduler(appCfg, siteKeys, interval, log.WithField("component", "watch"), orchOpts...)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal %v, stopping watch...", sig)
			scheduler.Stop()
		case <-ctx.Done():
		}
	}()

	if err := scheduler.Run(ctx); err != nil {
		log.Errorf("Watch scheduler error: %v", err)
		return 1
	}

	log.Info("Watch mode stopped")
	return 0
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key to validate (optional, validates all if empty)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: product-scout validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, *siteKey, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath, siteKey string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	if siteKey != "" {
		siteCfg, ok := appCfg.Sites[siteKey]
		if !ok {
			fmt.Fprintf(stderr, "Error: site '%s' not found in config\n", siteKey)
			return 1
		}
		siteWarnings, err := siteCfg.Validate()
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: [%s] %v\n", siteKey, err)
			return 1
		}
		for _, w := range siteWarnings {
			fmt.Fprintf(stdout, "WARN: [%s] %s\n", siteKey, w)
		}
		fmt.Fprintf(stdout, "OK: Site '%s' configuration is valid\n", siteKey)
	} else {
		hasError := false
		for _, key := range orchestrate.GetAllSiteKeys(appCfg) {
			siteCfg := appCfg.Sites[key]
			siteWarnings, err := siteCfg.Validate()
			if err != nil {
				fmt.Fprintf(stderr, "ERROR: [%s] %v\n", key, err)
				hasError = true
				continue
			}
			for _, w := range siteWarnings {
				fmt.Fprintf(stdout, "WARN: [%s] %s\n", key, w)
			}
			fmt.Fprintf(stdout, "OK: [%s]\n", key)
		}
		if hasError {
			return 1
		}
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runListSites handles the list-sites subcommand
func runListSites(args []string) {
	fs := flag.NewFlagSet("list-sites", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: product-scout list-sites [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doListSites(*configFile, os.Stdout, os.Stderr))
}

// doListSites lists sites and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doListSites(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Sites in %s:\n\n", configPath)
	for _, key := range orchestrate.GetAllSiteKeys(appCfg) {
		site := appCfg.Sites[key]
		fmt.Fprintf(stdout, "  %s\n", key)
		fmt.Fprintf(stdout, "    URL: %s\n", site.URL)
		fmt.Fprintf(stdout, "    Domain: %s\n", utils.DomainStem(parse.Hostname(site.URL)))
		if len(site.SitemapURLs) > 0 {
			fmt.Fprintf(stdout, "    Sitemap URLs: %d\n", len(site.SitemapURLs))
		}
		if site.SkipRobots {
			fmt.Fprintln(stdout, "    robots.txt: skipped")
		}
		if config.GetEffectiveForceRender(site) {
			fmt.Fprintln(stdout, "    Force render: yes")
		}
		fmt.Fprintln(stdout)
	}
	return 0
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
		log.Debugf("Setting log level to: %s", level.String())
	}

	return log
}

// loadAndValidateConfig loads the config file, validates it, and logs warnings.
func loadAndValidateConfig(configFile string, log *logrus.Logger) (*config.AppConfig, error) {
	log.Infof("Loading configuration from %s", configFile)
	appCfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}

	appWarnings, err := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}
	if err != nil {
		return nil, err
	}
	return appCfg, nil
}

// validateSiteConfigs validates each selected site and stores the normalized config back.
func validateSiteConfigs(appCfg *config.AppConfig, siteKeys []string, log *logrus.Logger) error {
	for _, key := range siteKeys {
		siteCfg := appCfg.Sites[key]
		siteWarnings, err := siteCfg.Validate()
		if err != nil {
			return fmt.Errorf("site '%s' configuration error: %w", key, err)
		}
		for _, w := range siteWarnings {
			log.Warnf("[%s] %s", key, w)
		}
		appCfg.Sites[key] = siteCfg
	}
	return nil
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr == "" {
		return
	}
	go func() {
		log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Errorf("pprof server error: %v", err)
		}
	}()
}

// newRunContext applies the global timeout, if any
func newRunContext(appCfg *config.AppConfig, log *logrus.Logger) (context.Context, context.CancelFunc) {
	if appCfg.GlobalCrawlTimeout > 0 {
		log.Infof("Setting global crawl timeout: %v", appCfg.GlobalCrawlTimeout)
		return context.WithTimeout(context.Background(), appCfg.GlobalCrawlTimeout)
	}
	log.Debug("No global crawl timeout set.")
	return context.WithCancel(context.Background())
}

// handleSignals cancels the run on the first SIGINT/SIGTERM and forces an exit
// on the second one or when the grace period runs out.
func handleSignals(ctx context.Context, cancel context.CancelFunc, log *logrus.Logger) (stop func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("PANIC in signal handler: %v", r)
			}
		}()
		var sig os.Signal
		select {
		case sig = <-sigChan:
		case <-done:
			return
		}
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}

// logAppConfig logs the effective global configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Global Config: TraversalWorkers:%d, MaxReqs:%d, MaxReqPerHost:%d, DefaultDelay:%v",
		appCfg.TraversalWorkers, appCfg.MaxRequests, appCfg.MaxRequestsPerHost, appCfg.DefaultDelayPerHost)
	log.Infof("Global Config: StateDir:%s, OutputDir:%s, Formats:%v, History:%t",
		appCfg.StateDir, appCfg.OutputBaseDir, appCfg.OutputFormats, appCfg.EnableProductHistory)
	log.Infof("Global Config Retries: Max:%d, InitialDelay:%v, MaxDelay:%v",
		appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay)
	log.Infof("Global Config Timeouts: Request:%v, SemaphoreAcquire:%v, GlobalCrawl:%v",
		appCfg.RequestTimeout, appCfg.SemaphoreAcquireTimeout, appCfg.GlobalCrawlTimeout)
	log.Infof("Global Config Render: SettleDelay:%v, Timeout:%v, Headless:%t, Chrome:'%s'",
		appCfg.RenderSettleDelay, appCfg.RenderTimeout, config.GetEffectiveRenderHeadless(*appCfg), appCfg.ChromePath)
	log.Infof("Global Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v, TLSTimeout:%v, DialerTimeout:%v",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns, appCfg.HTTPClientSettings.MaxIdleConnsPerHost,
		appCfg.HTTPClientSettings.IdleConnTimeout, appCfg.HTTPClientSettings.TLSHandshakeTimeout, appCfg.HTTPClientSettings.DialerTimeout)
	log.Infof("Global Config YAML Metadata: Enabled Globally:%t, Default Global Filename:'%s'",
		appCfg.EnableMetadataYAML, appCfg.MetadataYAMLFilename)
}
