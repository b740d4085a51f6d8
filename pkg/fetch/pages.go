package fetch

import (
	"context"
	"net/http"
	"time"
)

// PageFetcher is the raw capability the fetch tier is built on: a direct GET
// and a rendered-browser fetch. Tier decides when each is used.
type PageFetcher interface {
	// GetRaw returns the status and body of a direct GET. The error wraps
	// utils.ErrTransport when no HTTP response was obtained.
	GetRaw(ctx context.Context, url string, headers http.Header, timeout time.Duration) (int, []byte, error)
	// RenderedFetch returns the rendered markup of url. The error wraps utils.ErrRender.
	RenderedFetch(ctx context.Context, url string, settle time.Duration) (string, error)
}

// Pages joins a direct Fetcher and a Renderer into a PageFetcher.
type Pages struct {
	*Fetcher
	*Renderer
}

// NewPages creates a PageFetcher from its two halves.
func NewPages(fetcher *Fetcher, renderer *Renderer) *Pages {
	return &Pages{Fetcher: fetcher, Renderer: renderer}
}

var _ PageFetcher = (*Pages)(nil)
