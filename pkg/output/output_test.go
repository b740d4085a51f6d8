package output

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Sriram-PR/product-scout/pkg/config"
	"github.com/Sriram-PR/product-scout/pkg/models"
	"github.com/Sriram-PR/product-scout/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

var sampleLinks = []string{
	"https://shop.example/products/a",
	"https://shop.example/products/b",
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "shop.example_products.xlsx", FileName("www.shop.example", "xlsx"))
	assert.Equal(t, "shop.example_products.txt", FileName("Shop.Example:8443", "txt"))
}

func TestXLSXSink_Write(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	sink := NewXLSXSink(dir, testLogger())

	require.NoError(t, sink.Write(context.Background(), "www.shop.example", sampleLinks))

	f, err := excelize.OpenFile(filepath.Join(dir, "shop.example_products.xlsx"))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Sheet1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Product Link"}, rows[0])
	assert.Equal(t, []string{sampleLinks[0]}, rows[1])
	assert.Equal(t, []string{sampleLinks[1]}, rows[2])
}

func TestXLSXSink_EmptyResultStillWritesHeader(t *testing.T) {
	dir := t.TempDir()
	sink := NewXLSXSink(dir, testLogger())

	require.NoError(t, sink.Write(context.Background(), "shop.example", nil))

	f, err := excelize.OpenFile(sink.Path("shop.example"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Sheet1")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Product Link"}}, rows)
}

func TestTextSink_Write(t *testing.T) {
	dir := t.TempDir()
	sink := NewTextSink(dir, testLogger())

	require.NoError(t, sink.Write(context.Background(), "shop.example", sampleLinks))

	data, err := os.ReadFile(filepath.Join(dir, "shop.example_products.txt"))
	require.NoError(t, err)
	assert.Equal(t, sampleLinks[0]+"\n"+sampleLinks[1]+"\n", string(data))
}

func TestSinks_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dir := t.TempDir()

	assert.ErrorIs(t, NewTextSink(dir, testLogger()).Write(ctx, "shop.example", sampleLinks), context.Canceled)
	assert.ErrorIs(t, NewXLSXSink(dir, testLogger()).Write(ctx, "shop.example", sampleLinks), context.Canceled)
}

type failingSink struct{ calls int }

func (f *failingSink) Write(context.Context, string, []string) error {
	f.calls++
	return errors.New("disk full")
}

func TestMultiSink(t *testing.T) {
	dir := t.TempDir()
	bad := &failingSink{}
	multi := MultiSink{bad, NewTextSink(dir, testLogger())}

	err := multi.Write(context.Background(), "shop.example", sampleLinks)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, bad.calls)
	assert.FileExists(t, filepath.Join(dir, "shop.example_products.txt"), "later sinks still run")
}

func TestNewFileSinks(t *testing.T) {
	sinks, err := NewFileSinks([]string{"xlsx", " TXT ", "xlsx"}, t.TempDir(), testLogger())
	require.NoError(t, err)
	require.Len(t, sinks, 2)
	assert.IsType(t, &XLSXSink{}, sinks[0])
	assert.IsType(t, &TextSink{}, sinks[1])

	_, err = NewFileSinks([]string{config.FormatXLSX, "csv"}, t.TempDir(), testLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrConfigValidation))
}

func TestRunMetadata_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "metadata.yaml")
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	meta := &models.SiteRunMetadata{
		SiteKey:      "shop",
		Domain:       "shop.example",
		RunStartTime: start,
		RunEndTime:   start.Add(time.Minute),
		ProductCount: 2,
		Roots: []models.RootMetadata{{
			URL:          "https://shop.example/sitemap.xml",
			ProductCount: 2,
			Stats:        models.TraversalStats{SitemapsFetched: 3, Terminal: 2, Index: 1},
		}},
		EscalatedDomains:  []string{"shop.example"},
		SiteConfiguration: SiteConfigMap(config.SiteConfig{URL: "https://shop.example"}),
	}

	require.NoError(t, WriteRunMetadata(path, meta))
	got, err := ReadRunMetadata(path)
	require.NoError(t, err)

	assert.Equal(t, meta.SiteKey, got.SiteKey)
	assert.True(t, meta.RunStartTime.Equal(got.RunStartTime))
	assert.Equal(t, meta.Roots, got.Roots)
	assert.Equal(t, meta.EscalatedDomains, got.EscalatedDomains)
	assert.Equal(t, "https://shop.example", got.SiteConfiguration["url"])
}

func TestReadRunMetadata_Missing(t *testing.T) {
	_, err := ReadRunMetadata(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrFilesystem))
}
