package watch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/product-scout/pkg/config"
	"github.com/Sriram-PR/product-scout/pkg/fetch"
	"github.com/Sriram-PR/product-scout/pkg/orchestrate"
)

// Scheduler re-runs product discovery for sites whose interval has elapsed
type Scheduler struct {
	appCfg       *config.AppConfig
	siteKeys     []string
	interval     time.Duration
	log          *logrus.Entry
	stateManager *StateManager
	orchOpts     []orchestrate.Option
	escalation   *fetch.EscalationState // lives as long as the scheduler

	running atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new watch scheduler. opts are passed to every
// orchestrator the scheduler builds, and every pass shares one escalation state.
func NewScheduler(appCfg *config.AppConfig, siteKeys []string, interval time.Duration, log *logrus.Entry, opts ...orchestrate.Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		appCfg:       appCfg,
		siteKeys:     siteKeys,
		interval:     interval,
		log:          log,
		stateManager: NewStateManager(appCfg.StateDir),
		orchOpts:     opts,
		escalation:   fetch.NewEscalationState(),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// State exposes the scheduler's persisted state
func (s *Scheduler) State() *StateManager { return s.stateManager }

// Escalation returns the domains escalated to rendered fetches so far
func (s *Scheduler) Escalation() *fetch.EscalationState { return s.escalation }

// Run starts the watch loop and blocks until parent is done or Stop is called
func (s *Scheduler) Run(parent context.Context) error {
	if err := s.stateManager.Load(); err != nil {
		s.log.Warnf("Failed to load watch state: %v (starting fresh)", err)
	}

	go func() {
		select {
		case <-parent.Done():
			s.cancel()
		case <-s.ctx.Done():
		}
	}()

	s.log.Infof("Starting watch mode for %d sites with interval %s", len(s.siteKeys), FormatInterval(s.interval))
	s.logSchedule()

	s.runDueSites()

	ticker := time.NewTicker(s.calculateTickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.log.Info("Watch scheduler shutting down...")
			s.wg.Wait()
			return nil
		case <-ticker.C:
			s.runDueSites()
		}
	}
}

// Stop stops the watch scheduler
func (s *Scheduler) Stop() {
	s.log.Info("Stopping watch scheduler...")
	s.cancel()
}

// runDueSites starts a background pass unless the previous one is still going
func (s *Scheduler) runDueSites() {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug("Previous discovery pass still running, skipping tick")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.RunOnce(s.ctx)
	}()
}

// RunOnce discovers products for every due site, records the results and
// saves the state file. It returns the results of the sites it ran.
func (s *Scheduler) RunOnce(ctx context.Context) []orchestrate.SiteResult {
	dueSites := s.getDueSites()
	if len(dueSites) == 0 {
		s.logNextRun()
		return nil
	}

	s.log.Infof("Running discovery for %d due sites: %v", len(dueSites), dueSites)

	opts := append([]orchestrate.Option{}, s.orchOpts...)
	opts = append(opts, orchestrate.WithEscalation(s.escalation))
	orch := orchestrate.NewOrchestrator(s.appCfg, s.log, opts...)
	results := orch.Run(ctx, dueSites)

	for _, result := range results {
		changed := s.stateManager.UpdateSiteState(result.SiteKey, SiteRun{
			Success:      result.Success,
			ProductCount: result.ProductCount,
			ProductHash:  result.ProductHash,
			NewProducts:  result.NewProducts,
			Error:        result.Error,
		})
		if changed {
			s.log.WithFields(logrus.Fields{
				"site":     result.SiteKey,
				"products": result.ProductCount,
				"new":      result.NewProducts,
			}).Info("Product set changed since last run")
		}
	}

	if err := s.stateManager.Save(); err != nil {
		s.log.Errorf("Failed to save watch state: %v", err)
	}

	s.logNextRun()
	return results
}

// getDueSites returns sites that are due for a run
func (s *Scheduler) getDueSites() []string {
	var due []string
	for _, siteKey := range s.siteKeys {
		if s.stateManager.ShouldRun(siteKey, s.interval) {
			due = append(due, siteKey)
		}
	}
	return due
}

// calculateTickInterval returns how often to check for due sites
func (s *Scheduler) calculateTickInterval() time.Duration {
	// a tenth of the interval, clamped to [1m, 10m]
	checkInterval := s.interval / 10
	if checkInterval < time.Minute {
		checkInterval = time.Minute
	}
	if checkInterval > 10*time.Minute {
		checkInterval = 10 * time.Minute
	}
	return checkInterval
}

func (s *Scheduler) logSchedule() {
	s.log.Info("Watch schedule:")
	for _, siteKey := range s.siteKeys {
		state, exists := s.stateManager.GetSiteState(siteKey)
		if !exists {
			s.log.Infof("  %s: never run, will run immediately", siteKey)
			continue
		}
		status := "success"
		if !state.LastRunSuccess {
			status = "failed"
		}
		s.log.Infof("  %s: last run %s (%s, %d products), next run %s",
			siteKey,
			state.LastRunTime.Format(time.RFC3339),
			status,
			state.ProductCount,
			s.stateManager.GetNextRunTime(siteKey, s.interval).Format(time.RFC3339))
	}
}

func (s *Scheduler) logNextRun() {
	type nextRun struct {
		site string
		at   time.Time
	}
	runs := make([]nextRun, 0, len(s.siteKeys))
	for _, siteKey := range s.siteKeys {
		runs = append(runs, nextRun{siteKey, s.stateManager.GetNextRunTime(siteKey, s.interval)})
	}
	if len(runs) == 0 {
		return
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].at.Before(runs[j].at) })

	next := runs[0]
	until := time.Until(next.at)
	if until < 0 {
		until = 0
	}
	s.log.Infof("Next discovery: %s in %v (at %s)", next.site, until.Round(time.Second), next.at.Format("15:04:05"))
}

// SiteStatus contains the status of a watched site
type SiteStatus struct {
	SiteKey        string
	LastRunTime    time.Time
	LastRunSuccess bool
	ProductCount   int
	Changed        bool
	ErrorMessage   string
	NextRunTime    time.Time
	NeverRun       bool
}

// GetStatus returns the current status of all watched sites
func (s *Scheduler) GetStatus() map[string]SiteStatus {
	status := make(map[string]SiteStatus, len(s.siteKeys))
	for _, siteKey := range s.siteKeys {
		state, exists := s.stateManager.GetSiteState(siteKey)
		status[siteKey] = SiteStatus{
			SiteKey:        siteKey,
			LastRunTime:    state.LastRunTime,
			LastRunSuccess: state.LastRunSuccess,
			ProductCount:   state.ProductCount,
			Changed:        state.Changed,
			ErrorMessage:   state.ErrorMessage,
			NextRunTime:    s.stateManager.GetNextRunTime(siteKey, s.interval),
			NeverRun:       !exists,
		}
	}
	return status
}

// FormatInterval formats a duration for display, using a day unit
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval parses a duration string, accepting a leading day count ("7d", "1d12h")
func ParseInterval(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("interval must be positive: %s", s)
		}
		return d, nil
	}

	var days int
	var remaining string
	n, _ := fmt.Sscanf(s, "%dd%s", &days, &remaining)
	if n >= 1 && days > 0 {
		d = time.Duration(days) * 24 * time.Hour
		if remaining != "" {
			extra, err := time.ParseDuration(remaining)
			if err != nil {
				return 0, fmt.Errorf("invalid interval format: %s", s)
			}
			d += extra
		}
		return d, nil
	}

	return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 24h, 7d)", s)
}
