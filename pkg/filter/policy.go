package filter

// Policy holds the tunable marker lists used to classify sitemap entries.
// Lists are matched as plain substrings; see Filter for the exact rules.
type Policy struct {
	ProductPathMarkers  []string `yaml:"product_path_markers,omitempty"`
	ExcludedPathMarkers []string `yaml:"excluded_path_markers,omitempty"`
	IgnoredExtensions   []string `yaml:"ignored_extensions,omitempty"`
	IgnoredHosts        []string `yaml:"ignored_hosts,omitempty"`
	SitemapNameMarkers  []string `yaml:"sitemap_name_markers,omitempty"`
	// Regexes matched against the full product URL; a match rejects the link
	DisallowedURLPatterns []string `yaml:"disallowed_url_patterns,omitempty"`
}

// DefaultPolicy returns the lists tuned against common storefront platforms.
func DefaultPolicy() Policy {
	return Policy{
		ProductPathMarkers:  []string{"/product/", "/products/", "/p/", "/item/", "/shop/", "/details/"},
		ExcludedPathMarkers: []string{"collection", "category", "blog"},
		IgnoredExtensions: []string{
			".jpg", ".jpeg", ".png", ".gif", ".svg",
			".css", ".js", ".webp", ".woff", ".woff2", ".ttf",
		},
		IgnoredHosts: []string{"cdn.shopify.com", "images.ctfassets.net", "assets.adobedtm.com"},
		SitemapNameMarkers: []string{
			"sitemap-product", "sitemap_products", "products", "inventory",
			"sitemap-v2", "sitemap/pdp", "sitemaps/prod",
		},
	}
}

// Merge returns a copy of p where every non-empty list in override replaces
// the corresponding list. A nil override returns p unchanged.
func (p Policy) Merge(override *Policy) Policy {
	merged := p.clone()
	if override == nil {
		return merged
	}
	pick := func(dst *[]string, src []string) {
		if len(src) > 0 {
			*dst = append([]string(nil), src...)
		}
	}
	pick(&merged.ProductPathMarkers, override.ProductPathMarkers)
	pick(&merged.ExcludedPathMarkers, override.ExcludedPathMarkers)
	pick(&merged.IgnoredExtensions, override.IgnoredExtensions)
	pick(&merged.IgnoredHosts, override.IgnoredHosts)
	pick(&merged.SitemapNameMarkers, override.SitemapNameMarkers)
	pick(&merged.DisallowedURLPatterns, override.DisallowedURLPatterns)
	return merged
}

// IsZero reports whether no list is set.
func (p Policy) IsZero() bool {
	return len(p.ProductPathMarkers) == 0 &&
		len(p.ExcludedPathMarkers) == 0 &&
		len(p.IgnoredExtensions) == 0 &&
		len(p.IgnoredHosts) == 0 &&
		len(p.SitemapNameMarkers) == 0 &&
		len(p.DisallowedURLPatterns) == 0
}

func (p Policy) clone() Policy {
	cp := func(s []string) []string {
		if s == nil {
			return nil
		}
		return append([]string(nil), s...)
	}
	return Policy{
		ProductPathMarkers:    cp(p.ProductPathMarkers),
		ExcludedPathMarkers:   cp(p.ExcludedPathMarkers),
		IgnoredExtensions:     cp(p.IgnoredExtensions),
		IgnoredHosts:          cp(p.IgnoredHosts),
		SitemapNameMarkers:    cp(p.SitemapNameMarkers),
		DisallowedURLPatterns: cp(p.DisallowedURLPatterns),
	}
}
