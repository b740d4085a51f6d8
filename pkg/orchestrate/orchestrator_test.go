package orchestrate

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/product-scout/pkg/config"
	"github.com/Sriram-PR/product-scout/pkg/output"
	"github.com/Sriram-PR/product-scout/pkg/storage"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func boolPtr(b bool) *bool { return &b }

func testAppConfig(siteKeys ...string) *config.AppConfig {
	sites := make(map[string]config.SiteConfig, len(siteKeys))
	for _, key := range siteKeys {
		sites[key] = config.SiteConfig{URL: "https://" + key + ".example.com"}
	}
	return &config.AppConfig{
		Sites: sites,
	}
}

// fakePages serves a small storefront entirely from memory
type fakePages struct {
	mu       sync.Mutex
	direct   map[string]string
	status   map[string]int
	rendered map[string]string
	gets     []string
	renders  []string
}

func newFakePages() *fakePages {
	return &fakePages{direct: map[string]string{}, status: map[string]int{}, rendered: map[string]string{}}
}

func (p *fakePages) GetRaw(_ context.Context, url string, _ http.Header, _ time.Duration) (int, []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gets = append(p.gets, url)
	if code, ok := p.status[url]; ok {
		return code, nil, nil
	}
	body, ok := p.direct[url]
	if !ok {
		return http.StatusNotFound, nil, nil
	}
	return http.StatusOK, []byte(body), nil
}

func (p *fakePages) RenderedFetch(_ context.Context, url string, _ time.Duration) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.renders = append(p.renders, url)
	return p.rendered[url], nil
}

func (p *fakePages) fetched(url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, g := range p.gets {
		if g == url {
			return true
		}
	}
	return false
}

const (
	shopIndex = `<?xml version="1.0"?><sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<sitemap><loc>https://www.shop.example/sitemap_products_1.xml</loc></sitemap>
<sitemap><loc>https://www.shop.example/sitemap_blogs_1.xml</loc></sitemap>
<sitemap><loc>https://www.shop.example/products/gift-card</loc></sitemap>
</sitemapindex>`
	shopProducts = `<?xml version="1.0"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9" xmlns:image="http://www.google.com/schemas/sitemap-image/1.1">
<url><loc>https://www.shop.example/products/mug</loc><image:image><image:loc>https://cdn.shopify.com/mug.jpg</image:loc></image:image></url>
<url><loc>https://www.shop.example/products/tee/</loc></url>
<url><loc>https://www.shop.example/collections/all</loc></url>
</urlset>`
)

func shopPages() *fakePages {
	p := newFakePages()
	p.direct["https://www.shop.example/robots.txt"] = "User-agent: *\nDisallow: /cart\nSitemap: https://www.shop.example/sitemap.xml\n"
	p.direct["https://www.shop.example/sitemap.xml"] = shopIndex
	p.direct["https://www.shop.example/sitemap_products_1.xml"] = shopProducts
	return p
}

var shopExpected = []string{
	"https://www.shop.example/products/gift-card",
	"https://www.shop.example/products/mug",
	"https://www.shop.example/products/tee",
}

func shopConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	return &config.AppConfig{
		OutputBaseDir:      t.TempDir(),
		OutputFormats:      []string{config.FormatXLSX, config.FormatText},
		EnableMetadataYAML: true,
		TraversalWorkers:   2,
		Sites: map[string]config.SiteConfig{
			"shop": {URL: "https://www.shop.example"},
		},
	}
}

func TestRunSite_EndToEnd(t *testing.T) {
	cfg := shopConfig(t)
	pages := shopPages()
	o := NewOrchestrator(cfg, testLogger(), WithPageFetcher(pages))

	res := o.RunSite(context.Background(), "shop")

	require.NoError(t, res.Error)
	assert.True(t, res.Success)
	assert.Equal(t, "shop.example", res.Domain)
	assert.Equal(t, []string{"https://www.shop.example/sitemap.xml"}, res.Roots)
	assert.Equal(t, shopExpected, res.Links)
	assert.Equal(t, 3, res.ProductCount)
	assert.Equal(t, -1, res.NewProducts)
	assert.NotEmpty(t, res.ProductHash)
	assert.False(t, pages.fetched("https://www.shop.example/sitemap_blogs_1.xml"), "non-product sub-sitemaps are not descended")

	txt, err := os.ReadFile(filepath.Join(cfg.OutputBaseDir, "shop.example_products.txt"))
	require.NoError(t, err)
	assert.Equal(t, strings.Join(shopExpected, "\n")+"\n", string(txt))
	assert.FileExists(t, filepath.Join(cfg.OutputBaseDir, "shop.example_products.xlsx"))
	assert.Len(t, res.OutputFiles, 2)

	meta, err := output.ReadRunMetadata(filepath.Join(cfg.OutputBaseDir, "shop.example_metadata.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "shop", meta.SiteKey)
	assert.Equal(t, 3, meta.ProductCount)
	require.Len(t, meta.Roots, 1)
	assert.Equal(t, 2, meta.Roots[0].Stats.SitemapsFetched)
	assert.Equal(t, res.ProductHash, meta.ProductSetHash)
}

func TestRunSite_WithHistory(t *testing.T) {
	cfg := shopConfig(t)
	store, err := storage.NewBadgerStore(context.Background(), t.TempDir(), false, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	o := NewOrchestrator(cfg, testLogger(), WithPageFetcher(shopPages()), WithHistory(store))

	first := o.RunSite(context.Background(), "shop")
	require.True(t, first.Success)
	assert.Equal(t, 3, first.NewProducts)

	second := o.RunSite(context.Background(), "shop")
	require.True(t, second.Success)
	assert.Equal(t, 0, second.NewProducts)

	count, err := store.CountProducts("shop.example")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRunSite_SkipRobotsAndExtraRoots(t *testing.T) {
	cfg := shopConfig(t)
	cfg.Sites["shop"] = config.SiteConfig{
		URL:         "https://www.shop.example",
		SkipRobots:  true,
		SitemapURLs: []string{"https://www.shop.example/sitemap_products_1.xml/", "https://www.shop.example/sitemap_products_1.xml"},
	}
	pages := shopPages()
	o := NewOrchestrator(cfg, testLogger(), WithPageFetcher(pages))

	res := o.RunSite(context.Background(), "shop")

	require.True(t, res.Success)
	assert.Equal(t, []string{"https://www.shop.example/sitemap_products_1.xml"}, res.Roots)
	assert.Equal(t, []string{"https://www.shop.example/products/mug", "https://www.shop.example/products/tee"}, res.Links)
	assert.False(t, pages.fetched("https://www.shop.example/robots.txt"))
}

func TestRunSite_ForceRender(t *testing.T) {
	cfg := shopConfig(t)
	cfg.Sites["shop"] = config.SiteConfig{
		URL:         "https://www.shop.example",
		SkipRobots:  true,
		SitemapURLs: []string{"https://www.shop.example/sitemap.xml"},
		ForceRender: boolPtr(true),
	}
	pages := shopPages()
	pages.rendered["https://www.shop.example/sitemap.xml"] = "<html><body>" + strings.TrimPrefix(shopIndex, `<?xml version="1.0"?>`) + "</body></html>"
	pages.rendered["https://www.shop.example/sitemap_products_1.xml"] = shopProducts
	o := NewOrchestrator(cfg, testLogger(), WithPageFetcher(pages))

	res := o.RunSite(context.Background(), "shop")

	require.True(t, res.Success)
	assert.Equal(t, shopExpected, res.Links)
	assert.Empty(t, pages.gets, "force_render skips direct fetches")
	assert.Len(t, pages.renders, 2)
}

func TestRun_EscalationSharedAcrossSites(t *testing.T) {
	cfg := shopConfig(t)
	cfg.Sites["shop-eu"] = config.SiteConfig{
		URL:         "https://www.shop.example/eu",
		SkipRobots:  true,
		SitemapURLs: []string{"https://www.shop.example/eu/sitemap_products_1.xml"},
	}
	pages := shopPages()
	pages.status["https://www.shop.example/sitemap_products_1.xml"] = http.StatusForbidden
	pages.rendered["https://www.shop.example/sitemap_products_1.xml"] = shopProducts
	pages.rendered["https://www.shop.example/eu/sitemap_products_1.xml"] = shopProducts
	o := NewOrchestrator(cfg, testLogger(), WithPageFetcher(pages))

	results := o.Run(context.Background(), []string{"shop", "shop-eu"})

	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.Equal(t, shopExpected, results[0].Links)
	assert.True(t, results[1].Success)
	assert.False(t, pages.fetched("https://www.shop.example/eu/sitemap_products_1.xml"), "escalation carries over to later sites")
	assert.Equal(t, []string{"www.shop.example"}, o.Escalation().Domains())
	assert.Equal(t, int64(1), o.TierStats().Escalations)
}

func TestRunSite_UnknownSite(t *testing.T) {
	o := NewOrchestrator(shopConfig(t), testLogger(), WithPageFetcher(newFakePages()))

	res := o.RunSite(context.Background(), "missing")

	require.Error(t, res.Error)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error.Error(), "missing")
}

func TestRunSite_NoRoots(t *testing.T) {
	cfg := shopConfig(t)
	o := NewOrchestrator(cfg, testLogger(), WithPageFetcher(newFakePages()))

	res := o.RunSite(context.Background(), "shop")

	assert.True(t, res.Success, "a site without sitemaps is an empty result, not a failure")
	assert.Empty(t, res.Links)
	assert.FileExists(t, filepath.Join(cfg.OutputBaseDir, "shop.example_products.xlsx"))
}

func TestRun_CancelledContext(t *testing.T) {
	cfg := shopConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := NewOrchestrator(cfg, testLogger(), WithPageFetcher(shopPages())).Run(ctx, []string{"shop"})

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.ErrorIs(t, results[0].Error, context.Canceled)
}

func TestRun_ProgressCallback(t *testing.T) {
	var updates []Progress
	o := NewOrchestrator(shopConfig(t), testLogger(), WithPageFetcher(shopPages()),
		WithProgress(func(siteKey string, p Progress) {
			assert.Equal(t, "shop", siteKey)
			updates = append(updates, p)
		}))

	o.Run(context.Background(), []string{"shop"})

	require.Len(t, updates, 1)
	assert.Equal(t, Progress{RootsTotal: 1, RootsDone: 1, Products: 3}, updates[0])
}

func TestValidateSiteKeys(t *testing.T) {
	t.Run("all valid", func(t *testing.T) {
		cfg := testAppConfig("docs", "blog")
		err := ValidateSiteKeys(cfg, []string{"docs", "blog"})
		assert.NoError(t, err)
	})

	t.Run("one invalid", func(t *testing.T) {
		cfg := testAppConfig("docs", "blog")
		err := ValidateSiteKeys(cfg, []string{"docs", "missing"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing")
	})

	t.Run("empty keys no error", func(t *testing.T) {
		cfg := testAppConfig("docs")
		err := ValidateSiteKeys(cfg, []string{})
		assert.NoError(t, err)
	})

	t.Run("empty config", func(t *testing.T) {
		cfg := testAppConfig()
		err := ValidateSiteKeys(cfg, []string{"anything"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "anything")
	})
}

func TestGetAllSiteKeys(t *testing.T) {
	t.Run("multiple sites sorted", func(t *testing.T) {
		cfg := testAppConfig("gamma", "alpha", "beta")
		assert.Equal(t, []string{"alpha", "beta", "gamma"}, GetAllSiteKeys(cfg))
	})

	t.Run("no sites", func(t *testing.T) {
		assert.Empty(t, GetAllSiteKeys(testAppConfig()))
	})
}
