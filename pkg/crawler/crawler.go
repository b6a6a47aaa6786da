// Package crawler runs the index -> detail -> filter pipeline for one listing site.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/fetch"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/filter"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/models"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/parse"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/source"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

const defaultWorkers = 8

// Options tunes one crawl.
type Options struct {
	Workers   int           // detail-fetch pool size, default 8
	Timeout   time.Duration // 0 = no deadline beyond the parent context
	StoreMode models.StoreMode
}

// Stats counts what happened at each stage of a crawl.
type Stats struct {
	Targets        int            `json:"targets"`
	FailedTargets  int            `json:"failed_targets"`
	Pages          int            `json:"pages"`
	Posts          int            `json:"posts"`
	FetchFailures  int            `json:"fetch_failures"`
	Dropped        int            `json:"dropped"`
	Extracted      int            `json:"extracted"`
	Accepted       int            `json:"accepted"`
	RejectedByRule map[string]int `json:"rejected_by_rule,omitempty"`
	Duration       time.Duration  `json:"duration"`
}

// Result is the eligible subset of a crawl plus its counters.
type Result struct {
	Source   string            `json:"source"`
	Listings []*models.Listing `json:"listings"`
	Stats    Stats             `json:"stats"`
}

// Progress is a snapshot of a running crawl.
type Progress struct {
	Source         string
	PostsQueued    int64
	PostsProcessed int64
	IsRunning      bool
}

// Crawler crawls one source.
type Crawler struct {
	log     *logrus.Entry
	adapter source.Adapter
	fetcher *fetch.DocumentFetcher
	chain   filter.Chain
	opts    Options

	queued    atomic.Int64
	processed atomic.Int64
	running   atomic.Bool
}

// New creates a Crawler. fetcher is used for detail pages unless the adapter
// implements source.DetailFetcher.
func New(adapter source.Adapter, fetcher *fetch.DocumentFetcher, chain filter.Chain, opts Options, log *logrus.Entry) *Crawler {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if !opts.StoreMode.IsValid() {
		opts.StoreMode = models.StoreModeManual
	}
	return &Crawler{
		log:     log.WithField("source", adapter.Alias()),
		adapter: adapter,
		fetcher: fetcher,
		chain:   chain,
		opts:    opts,
	}
}

// GetProgress returns the current progress of the crawler.
func (c *Crawler) GetProgress() Progress {
	return Progress{
		Source:         c.adapter.Alias(),
		PostsQueued:    c.queued.Load(),
		PostsProcessed: c.processed.Load(),
		IsRunning:      c.running.Load(),
	}
}

// counters are updated by the producer and the workers.
type counters struct {
	mu    sync.Mutex
	stats Stats
}

func (k *counters) add(fn func(s *Stats)) {
	k.mu.Lock()
	fn(&k.stats)
	k.mu.Unlock()
}

// Run crawls every target of the source and returns the eligible listings.
//
// Index pages of a target are fetched one after another by a producer
// goroutine that streams posts to a bounded pool of detail workers. A target
// whose page count cannot be determined contributes nothing; its siblings
// continue. When the timeout fires the listings gathered so far are returned
// together with an error wrapping utils.ErrCrawlTimeout.
func (c *Crawler) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	c.running.Store(true)
	defer c.running.Store(false)

	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	targets, err := c.adapter.Targets()
	if err != nil {
		return nil, fmt.Errorf("expanding targets of '%s': %w", c.adapter.Alias(), err)
	}
	c.log.Infof("Crawl starting: %d target(s), %d worker(s)", len(targets), c.opts.Workers)

	k := &counters{stats: Stats{Targets: len(targets), RejectedByRule: map[string]int{}}}
	posts := make(chan models.Post, c.opts.Workers*4)
	go c.produce(ctx, targets, posts, k)

	var (
		mu        sync.Mutex
		extracted []*models.Listing
	)
	g := new(errgroup.Group)
	g.SetLimit(c.opts.Workers)
	for post := range posts {
		g.Go(func() error {
			if l := c.processPost(ctx, post, k); l != nil {
				mu.Lock()
				extracted = append(extracted, l)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	listings := c.mergeAndFilter(extracted, k)
	k.stats.Accepted = len(listings)
	k.stats.Duration = time.Since(start)
	result := &Result{Source: c.adapter.Alias(), Listings: listings, Stats: k.stats}
	c.logSummary(result.Stats)

	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return result, fmt.Errorf("%w: source '%s' after %v", utils.ErrCrawlTimeout, c.adapter.Alias(), c.opts.Timeout)
		}
		return result, err
	}
	return result, nil
}

// produce walks the index pages of every target and sends each distinct post once.
func (c *Crawler) produce(ctx context.Context, targets []source.Target, out chan<- models.Post, k *counters) {
	defer close(out)
	seen := make(map[string]bool)

	for _, target := range targets {
		targetLog := c.log.WithField("target", target.URL)
		pages, err := c.adapter.DiscoverPages(ctx, target)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			targetLog.WithField("error_category", utils.CategorizeError(err)).Warnf("Skipping target, cannot determine its pages: %v", err)
			k.add(func(s *Stats) { s.FailedTargets++ })
			continue
		}
		targetLog.Infof("Target has %d index page(s)", pages)

		for page := 1; page <= pages; page++ {
			if ctx.Err() != nil {
				return
			}
			found, err := c.adapter.HarvestPosts(ctx, target, page)
			if err != nil {
				targetLog.WithFields(logrus.Fields{
					"page":           page,
					"error_category": utils.CategorizeError(err),
				}).Warnf("Skipping index page: %v", err)
				continue
			}
			k.add(func(s *Stats) { s.Pages++ })

			for _, post := range found {
				key, _, err := parse.ParseAndNormalize(post.Link)
				if err != nil {
					key = post.Link
				}
				if seen[key] {
					continue
				}
				seen[key] = true
				select {
				case out <- post:
					c.queued.Add(1)
					k.add(func(s *Stats) { s.Posts++ })
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// processPost fetches and extracts one detail page. It returns nil when the
// post is skipped; the reason is logged and counted.
func (c *Crawler) processPost(ctx context.Context, post models.Post, k *counters) (listing *models.Listing) {
	taskLog := c.log.WithField("url", post.Link)
	startTime := time.Now()
	defer c.processed.Add(1)
	defer func() {
		if r := recover(); r != nil {
			taskLog.WithFields(logrus.Fields{
				"panic_info":  r,
				"duration":    time.Since(startTime).String(),
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered while processing post")
			k.add(func(s *Stats) { s.Dropped++ })
			listing = nil
		}
	}()

	if ctx.Err() != nil {
		return nil
	}

	doc, err := c.fetchDetail(ctx, post)
	if err != nil {
		if ctx.Err() == nil {
			taskLog.WithField("error_category", utils.CategorizeError(err)).Warnf("Skipping post, detail page unavailable: %v", err)
		}
		k.add(func(s *Stats) { s.FetchFailures++ })
		return nil
	}

	l, err := c.adapter.ExtractListing(ctx, post, doc)
	if err != nil {
		taskLog.WithField("error_category", utils.CategorizeError(err)).Warnf("Dropping post: %v", err)
		k.add(func(s *Stats) { s.Dropped++ })
		return nil
	}
	l.StoreMode = c.opts.StoreMode
	k.add(func(s *Stats) { s.Extracted++ })
	taskLog.WithFields(logrus.Fields{
		"house_id": l.SourceID,
		"duration": time.Since(startTime).String(),
	}).Debug("Post extracted")
	return l
}

func (c *Crawler) fetchDetail(ctx context.Context, post models.Post) (*goquery.Document, error) {
	return fetchDetail(ctx, c.adapter, c.fetcher, post)
}

func fetchDetail(ctx context.Context, adapter source.Adapter, fetcher *fetch.DocumentFetcher, post models.Post) (*goquery.Document, error) {
	if df, ok := adapter.(source.DetailFetcher); ok {
		return df.FetchDetail(ctx, post)
	}
	return fetcher.FetchDocument(ctx, post.Link)
}

// Preview fetches and extracts the single post at link without storing it.
// rule is the first eligibility rule rejecting the listing, "" if accepted.
func Preview(ctx context.Context, adapter source.Adapter, fetcher *fetch.DocumentFetcher, chain filter.Chain, link string) (listing *models.Listing, rule string, err error) {
	post := models.Post{Link: link}
	doc, err := fetchDetail(ctx, adapter, fetcher, post)
	if err != nil {
		return nil, "", err
	}
	listing, err = adapter.ExtractListing(ctx, post, doc)
	if err != nil {
		return nil, "", err
	}
	return listing, chain.Evaluate(listing), nil
}

// mergeAndFilter keeps one listing per identity, the last extracted winning,
// then applies the eligibility chain. The result is sorted by key.
func (c *Crawler) mergeAndFilter(extracted []*models.Listing, k *counters) []*models.Listing {
	byKey := make(map[string]*models.Listing, len(extracted))
	for _, l := range extracted {
		byKey[l.Key()] = l
	}

	accepted := make([]*models.Listing, 0, len(byKey))
	for _, l := range byKey {
		if rule := c.chain.Evaluate(l); rule != "" {
			c.log.WithFields(logrus.Fields{"house_id": l.SourceID, "rule": rule}).Debug("Listing rejected")
			k.stats.RejectedByRule[rule]++
			continue
		}
		accepted = append(accepted, l)
	}
	sort.Slice(accepted, func(i, j int) bool { return accepted[i].Key() < accepted[j].Key() })
	return accepted
}

func (c *Crawler) logSummary(s Stats) {
	c.log.Info("========================================================================")
	c.log.Info("CRAWL FINISHED")
	c.log.Infof("Duration:        %v", s.Duration)
	c.log.Infof("Targets:         %d (%d failed)", s.Targets, s.FailedTargets)
	c.log.Infof("Pages / Posts:   %d / %d", s.Pages, s.Posts)
	c.log.Infof("Extracted:       %d (fetch failures %d, dropped %d)", s.Extracted, s.FetchFailures, s.Dropped)
	c.log.Infof("Accepted:        %d", s.Accepted)
	for rule, n := range s.RejectedByRule {
		c.log.Infof("  rejected by %-18s %d", rule+":", n)
	}
	c.log.Info("========================================================================")
}
