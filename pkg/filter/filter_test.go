package filter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/product-scout/pkg/utils"
)

func TestIsProductLink_DefaultPolicy(t *testing.T) {
	f := Default()

	tests := []struct {
		name       string
		url        string
		baseDomain string
		want       bool
	}{
		{"ProductsPath", "https://example.com/products/widget-1", "example.com", true},
		{"CDNImage", "https://cdn.shopify.com/products/widget-1.jpg", "example.com", false},
		{"CollectionExcluded", "https://example.com/collection/summer", "example.com", false},
		{"ProductMarkerCaseInsensitive", "https://example.com/Products/Widget-2", "example.com", true},
		{"ShortMarker", "https://example.com/p/12345", "example.com", true},
		{"ItemMarker", "https://example.com/item/abc", "example.com", true},
		{"NoMarker", "https://example.com/about-us", "example.com", false},
		{"CategoryUnderProducts", "https://example.com/products/category/shoes", "example.com", false},
		{"BlogUnderShop", "https://example.com/shop/blog/post", "example.com", false},
		{"ImageExtensionUppercase", "https://example.com/products/widget.PNG", "example.com", false},
		{"FontExtension", "https://example.com/products/font.woff2", "example.com", false},
		{"SubdomainContainsBase", "https://shop.example.com/products/widget", "example.com", true},
		{"OtherDomain", "https://other.org/products/widget", "example.com", false},
		{"IgnoredHostEvenIfBaseMatches", "https://cdn.shopify.com/products/widget", "shopify.com", false},
		{"Relative", "/products/widget", "example.com", false},
		{"Empty", "", "example.com", false},
		{"Garbage", "://bad url", "example.com", false},
		{"QueryKept", "https://example.com/products/widget?variant=2", "example.com", true},
		{"UppercaseHost", "https://WWW.Example.COM/products/widget", "example.com", true},
		{"UppercaseBaseDomain", "https://example.com/products/widget", "Example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.IsProductLink(tt.url, tt.baseDomain), "IsProductLink(%q, %q)", tt.url, tt.baseDomain)
		})
	}
}

func TestShouldDescend_DefaultPolicy(t *testing.T) {
	f := Default()

	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/sitemap-products-1.xml", true},
		{"https://example.com/sitemap-pages-1.xml", false},
		{"https://example.com/sitemap_products_1.xml.gz", true},
		{"https://example.com/sitemaps/prod/feed.xml", true},
		{"https://example.com/sitemap/pdp/0.xml", true},
		{"https://example.com/Sitemap-Product-Feed.XML", true},
		{"https://example.com/inventory.xml", true},
		{"https://example.com/products", false},            // no .xml
		{"https://example.com/sitemap.xml", false},         // no marker
		{"https://example.com/feed?f=products.xml", false}, // .xml only in the query
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, f.ShouldDescend(tt.url), "ShouldDescend(%q)", tt.url)
		})
	}
}

func TestIsProductLink_DisallowedPatterns(t *testing.T) {
	p := DefaultPolicy()
	p.DisallowedURLPatterns = []string{`/gift-?cards?`}
	f, err := New(p)
	require.NoError(t, err)

	assert.False(t, f.IsProductLink("https://example.com/products/gift-card", "example.com"))
	assert.True(t, f.IsProductLink("https://example.com/products/widget", "example.com"))
}

func TestNew_InvalidPattern(t *testing.T) {
	p := DefaultPolicy()
	p.DisallowedURLPatterns = []string{`[unclosed`}

	_, err := New(p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrConfigValidation))
}

func TestNew_EmptyPolicyRejectsEverything(t *testing.T) {
	f, err := New(Policy{})
	require.NoError(t, err)

	assert.False(t, f.IsProductLink("https://example.com/products/widget", "example.com"), "no product markers means nothing qualifies")
	assert.False(t, f.ShouldDescend("https://example.com/sitemap-products.xml"))
}

func TestPolicy_Merge(t *testing.T) {
	base := DefaultPolicy()

	t.Run("NilOverride", func(t *testing.T) {
		assert.Equal(t, base, base.Merge(nil))
	})

	t.Run("ReplacesNonEmptyLists", func(t *testing.T) {
		merged := base.Merge(&Policy{
			ProductPathMarkers: []string{"/dp/"},
			IgnoredHosts:       []string{"static.example.net"},
		})
		assert.Equal(t, []string{"/dp/"}, merged.ProductPathMarkers)
		assert.Equal(t, []string{"static.example.net"}, merged.IgnoredHosts)
		assert.Equal(t, base.ExcludedPathMarkers, merged.ExcludedPathMarkers)
		assert.Equal(t, base.SitemapNameMarkers, merged.SitemapNameMarkers)
	})

	t.Run("DoesNotAlias", func(t *testing.T) {
		override := &Policy{ExcludedPathMarkers: []string{"outlet"}}
		merged := base.Merge(override)
		override.ExcludedPathMarkers[0] = "changed"
		merged.ProductPathMarkers[0] = "/changed/"

		assert.Equal(t, []string{"outlet"}, merged.ExcludedPathMarkers)
		assert.Equal(t, "/product/", DefaultPolicy().ProductPathMarkers[0])
		assert.Equal(t, "/product/", base.ProductPathMarkers[0])
	})
}

func TestPolicy_IsZero(t *testing.T) {
	assert.True(t, Policy{}.IsZero())
	assert.False(t, DefaultPolicy().IsZero())
	assert.False(t, Policy{DisallowedURLPatterns: []string{"x"}}.IsZero())
}

func TestFilter_PolicyCopy(t *testing.T) {
	f := Default()
	p := f.Policy()
	p.ProductPathMarkers[0] = "/mutated/"

	assert.True(t, f.IsProductLink("https://example.com/product/widget", "example.com"))
	assert.Equal(t, "/product/", f.Policy().ProductPathMarkers[0])
}
