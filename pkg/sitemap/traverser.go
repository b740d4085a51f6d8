package sitemap

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/product-scout/pkg/filter"
	"github.com/Sriram-PR/product-scout/pkg/models"
	"github.com/Sriram-PR/product-scout/pkg/parse"
	"github.com/Sriram-PR/product-scout/pkg/queue"
	"github.com/Sriram-PR/product-scout/pkg/utils"
)

// ContentFetcher returns the text of a sitemap URL.
type ContentFetcher interface {
	FetchContent(ctx context.Context, url string) (string, error)
}

// Result is the outcome of traversing one root sitemap.
type Result struct {
	Links []string // sorted, normalized product links
	Stats models.TraversalStats
	Err   error // cancellation of ctx when the walk stopped early
}

// Traverser walks a sitemap tree from a root and collects product links.
type Traverser struct {
	fetcher ContentFetcher
	filter  *filter.Filter
	workers int
	log     *logrus.Entry
}

// NewTraverser creates a Traverser. workers < 1 means one worker.
func NewTraverser(fetcher ContentFetcher, flt *filter.Filter, workers int, log *logrus.Entry) *Traverser {
	if workers < 1 {
		workers = 1
	}
	if flt == nil {
		flt = filter.Default()
	}
	return &Traverser{fetcher: fetcher, filter: flt, workers: workers, log: log}
}

// Traverse walks rootURL with a fresh VisitedSet.
func (t *Traverser) Traverse(ctx context.Context, rootURL string) Result {
	return t.TraverseWithVisited(ctx, rootURL, NewVisitedSet())
}

// run holds the state shared by the workers of one traversal.
type run struct {
	baseDomain string
	visited    *VisitedSet
	products   *ProductSet
	queue      *queue.SitemapQueue
	pending    sync.WaitGroup

	statsMu sync.Mutex
	stats   models.TraversalStats
}

func (r *run) record(fn func(s *models.TraversalStats)) {
	r.statsMu.Lock()
	fn(&r.stats)
	r.statsMu.Unlock()
}

// TraverseWithVisited walks rootURL, skipping every sitemap already in
// visited and adding every sitemap it claims. If the root itself is already
// visited nothing is fetched and the result is empty.
//
// A node that cannot be fetched contributes no links; its siblings and
// ancestors are unaffected. Cancelling ctx stops fetching and returns what
// was found so far.
func (t *Traverser) TraverseWithVisited(ctx context.Context, rootURL string, visited *VisitedSet) Result {
	root := parse.NormalizeURL(rootURL)
	rootLog := t.log.WithField("root", root)

	if visited.Contains(root) {
		rootLog.Debug("Root sitemap already visited, skipping")
		return Result{Links: []string{}, Stats: models.TraversalStats{DuplicatesSkipped: 1}}
	}

	r := &run{
		baseDomain: parse.Hostname(root),
		visited:    visited,
		products:   NewProductSet(),
		queue:      queue.NewSitemapQueue(queue.DeepestFirst, rootLog),
	}

	r.pending.Add(1)
	r.queue.Add(&models.SitemapTask{URL: root, Depth: 0})

	// The queue closes once every queued task, including ones queued by
	// workers, has been processed.
	go func() {
		r.pending.Wait()
		r.queue.Close()
	}()

	g, gctx := errgroup.WithContext(ctx)
	// Wake workers blocked in Pop once the group's context ends.
	go func() {
		<-gctx.Done()
		r.queue.Close()
	}()
	for i := 0; i < t.workers; i++ {
		workerLog := rootLog.WithField("worker", i)
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				task, ok := r.queue.Pop()
				if !ok {
					return nil
				}
				t.processTask(gctx, r, task, workerLog)
			}
		})
	}
	err := g.Wait()
	if err != nil {
		for range r.queue.Drain() {
			r.pending.Done()
		}
		rootLog.WithError(err).Warn("Sitemap traversal stopped early")
	}

	links := r.products.Sorted()
	rootLog.WithFields(logrus.Fields{
		"products":         len(links),
		"sitemaps_fetched": r.stats.SitemapsFetched,
		"sitemaps_failed":  r.stats.SitemapsFailed,
	}).Info("Sitemap traversal finished")
	return Result{Links: links, Stats: r.stats, Err: err}
}

// processTask handles one node and queues its sub-sitemaps. It always marks
// the task done, even on panic.
func (t *Traverser) processTask(ctx context.Context, r *run, task *models.SitemapTask, log *logrus.Entry) {
	defer r.pending.Done()

	taskLog := log.WithFields(logrus.Fields{"sitemap_url": task.URL, "depth": task.Depth})
	if task.Parent != "" {
		taskLog = taskLog.WithField("parent", task.Parent)
	}

	defer func() {
		if rec := recover(); rec != nil {
			taskLog.WithFields(logrus.Fields{
				"panic_info":  rec,
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC Recovered in sitemap traversal worker")
		}
	}()

	if ctx.Err() != nil {
		return
	}

	if !r.visited.Visit(task.URL) {
		r.record(func(s *models.TraversalStats) { s.DuplicatesSkipped++ })
		taskLog.WithField("outcome", models.NodeOutcomeDuplicate).Debug("Sitemap already visited")
		return
	}

	outcome, children := t.visitNode(ctx, r, task, taskLog)

	r.record(func(s *models.TraversalStats) {
		switch outcome {
		case models.NodeOutcomeTerminal:
			s.Terminal++
		case models.NodeOutcomeIndex:
			s.Index++
		case models.NodeOutcomeUnparseable:
			s.Unparseable++
		case models.NodeOutcomeFailed:
			s.SitemapsFailed++
		}
		if outcome.IsFetched() {
			s.SitemapsFetched++
		}
		if task.Depth > s.MaxDepth {
			s.MaxDepth = task.Depth
		}
	})

	for _, child := range children {
		r.pending.Add(1)
		if !r.queue.Add(&models.SitemapTask{URL: child, Depth: task.Depth + 1, Parent: task.URL}) {
			r.pending.Done()
		}
	}
}

// visitNode fetches and classifies one sitemap, adds its product links to the
// run and returns the sub-sitemaps to descend into.
func (t *Traverser) visitNode(ctx context.Context, r *run, task *models.SitemapTask, log *logrus.Entry) (models.NodeOutcome, []string) {
	content, err := t.fetcher.FetchContent(ctx, task.URL)
	if err != nil {
		log.WithFields(logrus.Fields{
			"outcome":    models.NodeOutcomeFailed,
			"error":      err,
			"error_type": utils.CategorizeError(err),
		}).Warn("Sitemap fetch failed, contributing no links")
		return models.NodeOutcomeFailed, nil
	}

	doc := parse.Classify(content)
	if doc.Kind == parse.KindTerminal {
		kept := 0
		for _, entry := range doc.Entries {
			link, err := parse.ResolveAndNormalize(task.URL, entry)
			if err != nil {
				log.WithError(err).Debug("Skipping unresolvable entry")
				continue
			}
			if t.filter.IsProductLink(link, r.baseDomain) {
				r.products.Add(link)
				kept++
			}
		}
		log.WithFields(logrus.Fields{
			"outcome":  models.NodeOutcomeTerminal,
			"entries":  len(doc.Entries),
			"products": kept,
			"parser":   doc.Parser,
		}).Info("Processed terminal sitemap")
		return models.NodeOutcomeTerminal, nil
	}

	outcome := models.NodeOutcomeIndex
	if doc.Kind == parse.KindUnparseable {
		outcome = models.NodeOutcomeUnparseable
	}

	var children []string
	kept, selfRefs := 0, 0
	for _, entry := range doc.Entries {
		link, err := parse.ResolveAndNormalize(task.URL, entry)
		if err != nil {
			log.WithError(err).Debug("Skipping unresolvable entry")
			continue
		}
		if link == task.URL {
			selfRefs++
			continue
		}
		if t.filter.ShouldDescend(link) {
			children = append(children, link)
			continue
		}
		if t.filter.IsProductLink(link, r.baseDomain) {
			r.products.Add(link)
			kept++
		}
	}
	if selfRefs > 0 {
		r.record(func(s *models.TraversalStats) { s.SelfReferences += selfRefs })
	}

	log.WithFields(logrus.Fields{
		"outcome":   outcome,
		"entries":   len(doc.Entries),
		"descend":   len(children),
		"products":  kept,
		"self_refs": selfRefs,
		"parser":    doc.Parser,
	}).Info("Processed sitemap index")
	return outcome, children
}
