package filter

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/Sriram-PR/product-scout/pkg/utils"
)

// Filter decides which sitemap entries are product pages and which are
// sub-sitemaps worth descending into. Safe for concurrent use.
type Filter struct {
	productMarkers  []string
	excludedMarkers []string
	extensions      []string
	ignoredHosts    []string
	sitemapMarkers  []string
	disallowed      []*regexp.Regexp
	policy          Policy
}

// New builds a Filter from a policy. Path markers, extensions and sitemap
// markers are lowercased; host lists are kept as given.
func New(p Policy) (*Filter, error) {
	disallowed, err := utils.CompileRegexPatterns(p.DisallowedURLPatterns)
	if err != nil {
		return nil, fmt.Errorf("filter policy: %w", err)
	}
	return &Filter{
		productMarkers:  lowerAll(p.ProductPathMarkers),
		excludedMarkers: lowerAll(p.ExcludedPathMarkers),
		extensions:      lowerAll(p.IgnoredExtensions),
		ignoredHosts:    p.IgnoredHosts,
		sitemapMarkers:  lowerAll(p.SitemapNameMarkers),
		disallowed:      disallowed,
		policy:          p.clone(),
	}, nil
}

// Default returns a Filter over DefaultPolicy.
func Default() *Filter {
	f, err := New(DefaultPolicy())
	if err != nil {
		panic(err) // default policy carries no regexes
	}
	return f
}

// Policy returns a copy of the policy the filter was built from.
func (f *Filter) Policy() Policy {
	return f.policy.clone()
}

// IsProductLink reports whether rawURL looks like a product detail page on baseDomain.
//
// The host must contain baseDomain and must not contain an ignored host. The
// lowercased path must not end in an ignored extension, must contain a product
// marker and must not contain an excluded marker.
func (f *Filter) IsProductLink(rawURL, baseDomain string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || !strings.Contains(host, strings.ToLower(baseDomain)) {
		return false
	}

	path := strings.ToLower(u.Path)
	if hasAnySuffix(path, f.extensions) {
		return false
	}
	if containsAny(host, f.ignoredHosts) {
		return false
	}
	if !containsAny(path, f.productMarkers) {
		return false
	}
	if containsAny(path, f.excludedMarkers) {
		return false
	}
	if utils.MatchesAny(f.disallowed, rawURL) {
		return false
	}
	return true
}

// ShouldDescend reports whether an entry of an index document is a
// product-relevant sub-sitemap. Its path must contain ".xml" and the full
// lowercased URL must contain a sitemap name marker.
func (f *Filter) ShouldDescend(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if !strings.Contains(strings.ToLower(u.Path), ".xml") {
		return false
	}
	return containsAny(strings.ToLower(rawURL), f.sitemapMarkers)
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if suf != "" && strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}
