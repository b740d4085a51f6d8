package fetch

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"

	"github.com/Sriram-PR/product-scout/pkg/parse"
	"github.com/Sriram-PR/product-scout/pkg/utils"
)

const sitemapDirective = "sitemap:"

// RobotsDiscoverer extracts sitemap roots from a site's robots.txt.
type RobotsDiscoverer struct {
	pages     PageFetcher
	userAgent string
	timeout   time.Duration
	log       *logrus.Entry
}

// NewRobotsDiscoverer creates a RobotsDiscoverer that fetches through pages.
func NewRobotsDiscoverer(pages PageFetcher, userAgent string, timeout time.Duration, log *logrus.Entry) *RobotsDiscoverer {
	return &RobotsDiscoverer{pages: pages, userAgent: userAgent, timeout: timeout, log: log}
}

// DiscoverSitemaps returns the Sitemap: entries of <siteRoot>/robots.txt whose
// path ends in .xml or .xml.gz, deduplicated in first-seen order. A missing
// or unreachable robots.txt yields an empty slice.
func (d *RobotsDiscoverer) DiscoverSitemaps(ctx context.Context, siteRoot string) []string {
	robotsURL := parse.NormalizeURL(siteRoot) + "/robots.txt"
	robotsLog := d.log.WithField("url", robotsURL)

	headers := http.Header{}
	if d.userAgent != "" {
		headers.Set("User-Agent", d.userAgent)
	}

	status, body, err := d.pages.GetRaw(ctx, robotsURL, headers, d.timeout)
	if err != nil {
		robotsLog.WithFields(logrus.Fields{
			"error":      err,
			"error_type": utils.CategorizeError(err),
		}).Warn("Could not fetch robots.txt")
		return []string{}
	}
	if status != http.StatusOK {
		robotsLog.WithField("status", status).Warn("robots.txt not available")
		return []string{}
	}

	var candidates []string
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		robotsLog.WithError(err).Debug("robots.txt parse failed, scanning lines for Sitemap directives")
		candidates = scanSitemapLines(string(body))
	} else {
		candidates = data.Sitemaps
	}

	sitemaps := filterSitemapCandidates(candidates)
	robotsLog.WithFields(logrus.Fields{
		"declared": len(candidates),
		"kept":     len(sitemaps),
	}).Info("Discovered sitemaps from robots.txt")
	return sitemaps
}

// scanSitemapLines finds Sitemap: directives case-insensitively, one per line.
func scanSitemapLines(text string) []string {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) < len(sitemapDirective) || !strings.EqualFold(line[:len(sitemapDirective)], sitemapDirective) {
			continue
		}
		if value := strings.TrimSpace(line[len(sitemapDirective):]); value != "" {
			out = append(out, value)
		}
	}
	return out
}

func filterSitemapCandidates(candidates []string) []string {
	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		if !parse.HasPathSuffix(c, ".xml") && !parse.HasPathSuffix(c, gzipSuffix) {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
