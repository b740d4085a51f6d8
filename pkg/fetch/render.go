package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/product-scout/pkg/config"
	"github.com/Sriram-PR/product-scout/pkg/utils"
)

// maxConcurrentBrowsers bounds how many Chrome processes run at once
const maxConcurrentBrowsers = 2

// Renderer loads a URL in a fresh headless Chrome and returns the rendered markup.
type Renderer struct {
	chromePath string
	headless   bool
	userAgent  string
	timeout    time.Duration
	browsers   *semaphore.Weighted
	log        *logrus.Entry
}

// NewRenderer creates a Renderer from the application config.
func NewRenderer(cfg *config.AppConfig, log *logrus.Entry) *Renderer {
	return &Renderer{
		chromePath: cfg.ChromePath,
		headless:   config.GetEffectiveRenderHeadless(*cfg),
		userAgent:  cfg.DefaultUserAgent,
		timeout:    cfg.RenderTimeout,
		browsers:   semaphore.NewWeighted(maxConcurrentBrowsers),
		log:        log,
	}
}

func (r *Renderer) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", r.headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.WindowSize(1920, 1080),
	)
	if r.userAgent != "" {
		opts = append(opts, chromedp.UserAgent(r.userAgent))
	}
	if r.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(r.chromePath))
	}
	return opts
}

// RenderedFetch starts a browser, navigates to rawURL, waits settle, captures
// document.documentElement.outerHTML and shuts the browser down. Every failure
// wraps utils.ErrRender.
func (r *Renderer) RenderedFetch(ctx context.Context, rawURL string, settle time.Duration) (string, error) {
	if err := r.browsers.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("%w: waiting for a browser slot: %w", utils.ErrRender, err)
	}
	defer r.browsers.Release(1)

	renderLog := r.log.WithField("url", rawURL)
	start := time.Now()

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(runCtx, r.allocatorOptions()...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(renderLog.Debugf))
	defer cancelBrowser()

	var markup string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(rawURL),
		chromedp.Sleep(settle),
		chromedp.Evaluate(`document.documentElement ? document.documentElement.outerHTML : ""`, &markup),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", utils.ErrRender, rawURL, err)
	}

	renderLog.WithFields(logrus.Fields{"bytes": len(markup), "duration": time.Since(start)}).Debug("Rendered fetch completed")
	return markup, nil
}
