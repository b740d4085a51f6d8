package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestProductEntry_JSONRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second).UTC()
	entry := ProductEntry{
		FirstSeen: now.Add(-48 * time.Hour),
		LastSeen:  now,
		SeenCount: 3,
	}

	data, err := json.Marshal(entry)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"seen_count":3`)

	var got ProductEntry
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, entry, got)
}

func TestTraversalStats_Add(t *testing.T) {
	total := TraversalStats{SitemapsFetched: 2, Terminal: 1, Index: 1, MaxDepth: 1}
	total.Add(TraversalStats{
		SitemapsFetched:   3,
		SitemapsFailed:    1,
		DuplicatesSkipped: 2,
		SelfReferences:    1,
		Terminal:          2,
		Index:             1,
		Unparseable:       1,
		MaxDepth:          3,
	})

	assert.Equal(t, TraversalStats{
		SitemapsFetched:   5,
		SitemapsFailed:    1,
		DuplicatesSkipped: 2,
		SelfReferences:    1,
		Terminal:          3,
		Index:             2,
		Unparseable:       1,
		MaxDepth:          3,
	}, total)

	total.Add(TraversalStats{MaxDepth: 1})
	assert.Equal(t, 3, total.MaxDepth, "MaxDepth keeps the larger value")
}

func TestSiteRunMetadata_YAMLRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second).UTC()
	meta := SiteRunMetadata{
		SiteKey:      "example",
		Domain:       "example.com",
		RunStartTime: now,
		RunEndTime:   now.Add(time.Minute),
		ProductCount: 3,
		Roots: []RootMetadata{
			{
				URL:          "https://example.com/sitemap.xml",
				ProductCount: 3,
				Stats:        TraversalStats{SitemapsFetched: 2, Terminal: 1, Index: 1},
			},
		},
		EscalatedDomains: []string{"example.com"},
	}

	data, err := yaml.Marshal(meta)
	require.NoError(t, err)

	var got SiteRunMetadata
	require.NoError(t, yaml.Unmarshal(data, &got))
	assert.Equal(t, meta, got)
}

func TestSiteRunMetadata_OmitEmpty(t *testing.T) {
	meta := SiteRunMetadata{SiteKey: "test"}

	data, err := yaml.Marshal(meta)
	require.NoError(t, err)

	raw := string(data)
	assert.NotContains(t, raw, "new_product_count")
	assert.NotContains(t, raw, "escalated_domains")
	assert.NotContains(t, raw, "site_configuration")
}
