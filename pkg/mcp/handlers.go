package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/product-scout/pkg/config"
	"github.com/Sriram-PR/product-scout/pkg/filter"
	"github.com/Sriram-PR/product-scout/pkg/models"
	"github.com/Sriram-PR/product-scout/pkg/orchestrate"
	"github.com/Sriram-PR/product-scout/pkg/output"
	"github.com/Sriram-PR/product-scout/pkg/parse"
	"github.com/Sriram-PR/product-scout/pkg/utils"
)

// handleListSites handles the list_sites tool
func (s *Server) handleListSites(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appCfg := s.cfg.AppConfig
	keys := orchestrate.GetAllSiteKeys(appCfg)
	sites := make([]map[string]interface{}, 0, len(keys))

	for _, key := range keys {
		siteCfg := appCfg.Sites[key]
		siteInfo := map[string]interface{}{
			"key":          key,
			"url":          siteCfg.URL,
			"domain":       utils.DomainStem(parse.Hostname(siteCfg.URL)),
			"sitemap_urls": len(siteCfg.SitemapURLs),
			"skip_robots":  siteCfg.SkipRobots,
			"force_render": config.GetEffectiveForceRender(siteCfg),
		}

		if meta := s.lastRunMetadata(siteCfg); meta != nil {
			siteInfo["last_run"] = meta.RunEndTime.Format(time.RFC3339)
			siteInfo["last_product_count"] = meta.ProductCount
		}

		if s.jobManager.IsRunning(key) {
			siteInfo["status"] = "running"
		}

		sites = append(sites, siteInfo)
	}

	result := map[string]interface{}{
		"sites":       sites,
		"config_path": s.cfg.ConfigPath,
		"total_sites": len(sites),
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleDiscoverProducts handles the discover_products tool
func (s *Server) handleDiscoverProducts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	siteKey := request.GetString("site_key", "")
	if siteKey == "" {
		return mcp.NewToolResultError("site_key parameter is required"), nil
	}

	if err := orchestrate.ValidateSiteKeys(s.cfg.AppConfig, []string{siteKey}); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	job, created := s.jobManager.CreateJob(siteKey)
	if !created {
		result := map[string]interface{}{
			"status":   "already_running",
			"message":  "Product discovery is already in progress for this site",
			"job_id":   job.ID,
			"site_key": siteKey,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		s.runDiscoveryJob(job.ID, siteKey)
	}()

	result := map[string]interface{}{
		"status":   "started",
		"message":  "Product discovery started",
		"job_id":   job.ID,
		"site_key": siteKey,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job := s.jobManager.GetJob(jobID)
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := map[string]interface{}{
		"job_id":         job.ID,
		"site_key":       job.SiteKey,
		"status":         job.Status,
		"started_at":     job.StartedAt.Format(time.RFC3339),
		"roots_total":    job.RootsTotal,
		"roots_done":     job.RootsDone,
		"products_found": job.ProductsFound,
	}

	if job.NewProducts >= 0 {
		result["new_products"] = job.NewProducts
	}
	if len(job.OutputFiles) > 0 {
		result["output_files"] = job.OutputFiles
	}
	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}
	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleCancelJob handles the cancel_job tool
func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}
	if s.jobManager.GetJob(jobID) == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := map[string]interface{}{
		"job_id":    jobID,
		"cancelled": s.jobManager.CancelJob(jobID),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleCheckProductLink handles the check_product_link tool
func (s *Server) handleCheckProductLink(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawURL := request.GetString("url", "")
	if rawURL == "" {
		return mcp.NewToolResultError("url parameter is required"), nil
	}

	siteCfg := config.SiteConfig{}
	domain := request.GetString("domain", "")
	if siteKey := request.GetString("site_key", ""); siteKey != "" {
		cfg, ok := s.cfg.AppConfig.Sites[siteKey]
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("site '%s' not found", siteKey)), nil
		}
		siteCfg = cfg
		if domain == "" {
			domain = parse.Hostname(cfg.URL)
		}
	}
	if domain == "" {
		domain = parse.Hostname(rawURL)
	}
	if domain == "" {
		return mcp.NewToolResultError(fmt.Sprintf("cannot determine a domain for '%s'", rawURL)), nil
	}

	flt, err := filter.New(config.GetEffectiveFilterPolicy(siteCfg, *s.cfg.AppConfig))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid filter policy: %v", err)), nil
	}

	result := map[string]interface{}{
		"url":             rawURL,
		"normalized_url":  parse.NormalizeURL(rawURL),
		"domain":          domain,
		"is_product_link": flt.IsProductLink(rawURL, domain),
		"should_descend":  flt.ShouldDescend(rawURL),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// runDiscoveryJob runs one site through the orchestrator and records the outcome
func (s *Server) runDiscoveryJob(jobID, siteKey string) {
	s.jobManager.UpdateStatus(jobID, JobStatusRunning, "")
	jobCtx := s.jobManager.GetContext(jobID)
	jobLog := s.log.WithFields(logrus.Fields{"job_id": jobID, "site": siteKey})

	opts := append([]orchestrate.Option{}, s.cfg.Options...)
	opts = append(opts,
		orchestrate.WithEscalation(s.escalation),
		orchestrate.WithProgress(func(_ string, p orchestrate.Progress) {
			s.jobManager.UpdateProgress(jobID, p)
		}),
	)

	orch := orchestrate.NewOrchestrator(s.cfg.AppConfig, jobLog, opts...)
	result := orch.RunSite(jobCtx, siteKey)
	s.jobManager.Finish(jobID, result)

	jobLog.Infof("Discovery job finished: %d products, success=%v", result.ProductCount, result.Success)
}

// lastRunMetadata reads the metadata file of the site's previous run, if any
func (s *Server) lastRunMetadata(siteCfg config.SiteConfig) *models.SiteRunMetadata {
	appCfg := *s.cfg.AppConfig
	if !config.GetEffectiveEnableMetadataYAML(siteCfg, appCfg) {
		return nil
	}
	domain := utils.DomainStem(parse.Hostname(siteCfg.URL))
	path := filepath.Join(appCfg.OutputBaseDir, domain+"_"+config.GetEffectiveMetadataYAMLFilename(appCfg))
	meta, err := output.ReadRunMetadata(path)
	if err != nil {
		return nil
	}
	return meta
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
