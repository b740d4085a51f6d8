package models

import "time"

// SitemapTask is one sitemap URL waiting to be fetched by a traversal worker
type SitemapTask struct {
	URL    string
	Depth  int    // 0 for the root sitemap
	Parent string // Normalized URL of the index that listed this sitemap, empty for the root
}

// ProductEntry stores the history of a product link in the database
type ProductEntry struct {
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	SeenCount int       `json:"seen_count"`
}

// TraversalStats counts node outcomes for one or more sitemap traversals
type TraversalStats struct {
	SitemapsFetched   int `yaml:"sitemaps_fetched" json:"sitemaps_fetched"`
	SitemapsFailed    int `yaml:"sitemaps_failed" json:"sitemaps_failed"`
	DuplicatesSkipped int `yaml:"duplicates_skipped" json:"duplicates_skipped"`
	SelfReferences    int `yaml:"self_references" json:"self_references"`
	Terminal          int `yaml:"terminal" json:"terminal"`
	Index             int `yaml:"index" json:"index"`
	Unparseable       int `yaml:"unparseable" json:"unparseable"`
	MaxDepth          int `yaml:"max_depth" json:"max_depth"`
}

// Add accumulates other into s.
func (s *TraversalStats) Add(other TraversalStats) {
	s.SitemapsFetched += other.SitemapsFetched
	s.SitemapsFailed += other.SitemapsFailed
	s.DuplicatesSkipped += other.DuplicatesSkipped
	s.SelfReferences += other.SelfReferences
	s.Terminal += other.Terminal
	s.Index += other.Index
	s.Unparseable += other.Unparseable
	if other.MaxDepth > s.MaxDepth {
		s.MaxDepth = other.MaxDepth
	}
}

// RootMetadata summarizes the traversal of a single root sitemap.
type RootMetadata struct {
	URL          string         `yaml:"url"`
	ProductCount int            `yaml:"product_count"`
	Stats        TraversalStats `yaml:"stats"`
}

// SiteRunMetadata holds the summary of one discovery run for a site.
type SiteRunMetadata struct {
	SiteKey           string                 `yaml:"site_key"`
	Domain            string                 `yaml:"domain"`
	RunStartTime      time.Time              `yaml:"run_start_time"`
	RunEndTime        time.Time              `yaml:"run_end_time"`
	ProductCount      int                    `yaml:"product_count"`
	NewProductCount   int                    `yaml:"new_product_count,omitempty"`
	ProductSetHash    string                 `yaml:"product_set_hash,omitempty"`
	Roots             []RootMetadata         `yaml:"roots"`
	EscalatedDomains  []string               `yaml:"escalated_domains,omitempty"`
	OutputFiles       []string               `yaml:"output_files,omitempty"`
	SiteConfiguration map[string]interface{} `yaml:"site_configuration,omitempty"`
}
