// Package orchestrate imports listings from several sources concurrently and
// persists each source's eligible set.
package orchestrate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/config"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/crawler"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/fetch"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/filter"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/models"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/source"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/storage"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

// AllSources selects every enabled source.
const AllSources = "all"

// SourceResult contains the result of importing a single source.
type SourceResult struct {
	Source   string        `json:"source"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Stored   bool          `json:"stored"`
	Accepted int           `json:"accepted"`
	Stats    crawler.Stats `json:"stats"`
	Duration time.Duration `json:"duration"`

	err error
}

// Err returns the failure of the source, if any.
func (r SourceResult) Err() error { return r.err }

// RunSummary describes one import run.
type RunSummary struct {
	RunID     string           `json:"run_id"`
	StoreMode models.StoreMode `json:"store_mode"`
	StartedAt time.Time        `json:"started_at"`
	Duration  time.Duration    `json:"duration"`
	Results   []SourceResult   `json:"results"`
}

// Failed returns the sources that did not complete.
func (s *RunSummary) Failed() []string {
	var failed []string
	for _, r := range s.Results {
		if !r.Success {
			failed = append(failed, r.Source)
		}
	}
	return failed
}

// Orchestrator runs source crawls in parallel over shared fetch resources.
type Orchestrator struct {
	appCfg   *config.AppConfig
	registry *source.Registry
	fetcher  *fetch.DocumentFetcher
	store    storage.ListingStore
	chain    filter.Chain
	log      *logrus.Entry

	runningMu sync.Mutex
	running   map[string]*crawler.Crawler
}

// NewOrchestrator creates an orchestrator. appCfg must have been validated.
func NewOrchestrator(appCfg *config.AppConfig, registry *source.Registry, fetcher *fetch.DocumentFetcher, store storage.ListingStore, log *logrus.Entry) *Orchestrator {
	return &Orchestrator{
		appCfg:   appCfg,
		registry: registry,
		fetcher:  fetcher,
		store:    store,
		chain:    filter.NewChain(appCfg.Eligibility),
		log:      log,
		running:  make(map[string]*crawler.Crawler),
	}
}

// Run imports the given sources concurrently, tagging listings with mode.
// Unknown aliases fail the whole run before any crawl starts; a failing
// source does not affect the others.
func (o *Orchestrator) Run(ctx context.Context, aliases []string, mode models.StoreMode) (*RunSummary, error) {
	if err := ValidateSourceKeys(o.registry, aliases); err != nil {
		return nil, err
	}

	summary := &RunSummary{
		RunID:     uuid.NewString(),
		StoreMode: mode,
		StartedAt: time.Now(),
	}
	runLog := o.log.WithFields(logrus.Fields{"run_id": summary.RunID, "store_mode": mode})
	runLog.Infof("Starting import of %d source(s): %v", len(aliases), aliases)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make([]SourceResult, 0, len(aliases))
	)
	for _, alias := range aliases {
		wg.Add(1)
		go func(alias string) {
			defer wg.Done()
			result := o.importSource(ctx, alias, mode, runLog)
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}(alias)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Source < results[j].Source })
	summary.Results = results
	summary.Duration = time.Since(summary.StartedAt)
	o.logSummary(runLog, summary)
	return summary, nil
}

// importSource crawls one source and replaces its stored listings.
func (o *Orchestrator) importSource(ctx context.Context, alias string, mode models.StoreMode, runLog *logrus.Entry) SourceResult {
	startTime := time.Now()
	result := SourceResult{Source: alias}
	srcLog := runLog.WithField("source", alias)
	fail := func(err error) SourceResult {
		result.err = err
		result.Error = err.Error()
		result.Duration = time.Since(startTime)
		srcLog.WithField("error_category", utils.CategorizeError(err)).Errorf("Import failed: %v", err)
		return result
	}

	adapter, _ := o.registry.Get(alias)
	srcCfg := o.appCfg.Sources[alias]
	c := crawler.New(adapter, o.fetcher, o.chain, crawler.Options{
		Workers:   config.GetEffectiveWorkers(srcCfg, *o.appCfg),
		Timeout:   config.GetEffectiveCrawlTimeout(srcCfg, *o.appCfg),
		StoreMode: mode,
	}, srcLog)

	o.track(alias, c)
	defer o.untrack(alias)

	crawlResult, err := c.Run(ctx)
	if crawlResult != nil {
		result.Stats = crawlResult.Stats
		result.Accepted = len(crawlResult.Listings)
	}
	if err != nil {
		// a partial set must not replace what is stored
		return fail(err)
	}

	if len(crawlResult.Listings) == 0 {
		srcLog.Warn("Import produced no eligible listings")
		if !o.appCfg.ReplaceOnEmpty {
			srcLog.Warn("Keeping previously stored listings (replace_on_empty is off)")
			result.Success = true
			result.Duration = time.Since(startTime)
			return result
		}
	}

	if err := o.store.ReplaceAll(ctx, alias, crawlResult.Listings); err != nil {
		return fail(fmt.Errorf("storing listings of '%s': %w", alias, err))
	}
	result.Stored = true
	result.Success = true
	result.Duration = time.Since(startTime)
	return result
}

func (o *Orchestrator) track(alias string, c *crawler.Crawler) {
	o.runningMu.Lock()
	o.running[alias] = c
	o.runningMu.Unlock()
}

func (o *Orchestrator) untrack(alias string) {
	o.runningMu.Lock()
	delete(o.running, alias)
	o.runningMu.Unlock()
}

// GetProgress returns the progress of the crawls currently running, sorted by source.
func (o *Orchestrator) GetProgress() []crawler.Progress {
	o.runningMu.Lock()
	defer o.runningMu.Unlock()

	progress := make([]crawler.Progress, 0, len(o.running))
	for _, c := range o.running {
		progress = append(progress, c.GetProgress())
	}
	sort.Slice(progress, func(i, j int) bool { return progress[i].Source < progress[j].Source })
	return progress
}

// logSummary logs a summary of all import results
func (o *Orchestrator) logSummary(log *logrus.Entry, s *RunSummary) {
	log.Info("============================================")
	log.Infof("Import completed in %v", s.Duration)
	log.Info("Source Results:")

	successCount, failCount, totalAccepted := 0, 0, 0
	for _, r := range s.Results {
		status := "SUCCESS"
		if !r.Success {
			status = "FAILED"
			failCount++
		} else {
			successCount++
		}
		totalAccepted += r.Accepted

		stored := "stored"
		if !r.Stored {
			stored = "not stored"
		}
		log.Infof("  %s: %s - %d accepted of %d posts (%s) in %v", r.Source, status, r.Accepted, r.Stats.Posts, stored, r.Duration)
		if r.Error != "" {
			log.Infof("    Error: %s", r.Error)
		}
	}

	log.Info("--------------------------------------------")
	log.Infof("Total: %d sources (%d success, %d failed), %d listings accepted",
		len(s.Results), successCount, failCount, totalAccepted)
	log.Info("============================================")
}

// ValidateSourceKeys checks that every alias has a registered adapter.
func ValidateSourceKeys(registry *source.Registry, aliases []string) error {
	for _, alias := range aliases {
		if _, ok := registry.Get(alias); !ok {
			return fmt.Errorf("%w: source '%s' not found. Available sources: %v", utils.ErrUnknownSource, alias, registry.Aliases())
		}
	}
	return nil
}

// ResolveSourceKeys turns a selector ("all", one alias or a comma separated
// list) into validated aliases. "all" expands to every registered source
// enabled in appCfg.
func ResolveSourceKeys(appCfg *config.AppConfig, registry *source.Registry, selector string) ([]string, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" || strings.EqualFold(selector, AllSources) {
		var aliases []string
		for _, alias := range registry.Aliases() {
			if config.IsSourceEnabled(appCfg.Sources[alias]) {
				aliases = append(aliases, alias)
			}
		}
		return aliases, nil
	}

	seen := make(map[string]bool)
	var aliases []string
	for _, part := range strings.Split(selector, ",") {
		alias := strings.ToLower(strings.TrimSpace(part))
		if alias == "" || seen[alias] {
			continue
		}
		seen[alias] = true
		aliases = append(aliases, alias)
	}
	if err := ValidateSourceKeys(registry, aliases); err != nil {
		return nil, err
	}
	return aliases, nil
}
