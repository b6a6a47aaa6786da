package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/api"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/config"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/export"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/fetch"
	applog "github.com/fabiosalasm-zz/uy-home-finder/pkg/log"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/models"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/orchestrate"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/source"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/source/all"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/storage"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/watch"
)

const version = "0.4.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "crawl":
		runCrawl(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "listings":
		runListings(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "list-sources":
		runListSources(os.Args[2:])
	case "version":
		fmt.Printf("uy-home-finder %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `uy-home-finder - Rental listing crawler for Uruguayan real estate sites

Usage:
  uy-home-finder <command> [options]

Commands:
  crawl         Import listings once from one, several or all sources
  watch         Re-import sources on a schedule (AUTOMATIC store mode)
  serve         Start the HTTP API
  mcp-server    Start an MCP server exposing the importer as AI tools
  listings      Print or export the stored listings of a source
  validate      Validate configuration file
  list-sources  List configured sources
  version       Show version info

Run 'uy-home-finder <command> -h' for command-specific help.`)
}

// loadConfig loads the config file and applies the environment overlay.
func loadConfig(path string) (*config.AppConfig, error) {
	return config.Load(path)
}

// setupLogger creates the application logger, falling back to info/text on bad flags.
func setupLogger(levelStr, formatStr string) *logrus.Logger {
	log, err := applog.New(levelStr, formatStr, os.Stderr)
	if err != nil {
		log, _ = applog.New("info", applog.FormatText, os.Stderr)
		log.Warnf("Invalid logging flags, using info/text. Error: %v", err)
	}
	return log
}

// loadAndValidateConfig loads the config file, validates it, and logs warnings.
func loadAndValidateConfig(configFile string, log *logrus.Logger) *config.AppConfig {
	log.Infof("Loading configuration from %s", configFile)
	appCfg, err := loadConfig(configFile)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	appWarnings, err := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	return appCfg
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr == "" {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("PANIC in pprof server: %v", r)
			}
		}()
		log.Infof("Starting pprof HTTP server on: http://%s/debug/pprof/", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Errorf("Pprof server failed to start on %s: %v", addr, err)
		}
	}()
}

// handleSignals cancels on the first SIGINT/SIGTERM and forces exit on the
// second one or when the grace period runs out. The returned func stops it.
func handleSignals(cancel context.CancelFunc, grace time.Duration, log *logrus.Logger) func() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("PANIC in signal handler: %v", r)
			}
		}()
		var sig os.Signal
		select {
		case sig = <-sigChan:
		case <-done:
			return
		}
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(grace):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}

// app holds the components shared by crawl, watch and serve.
type app struct {
	cfg      *config.AppConfig
	registry *source.Registry
	fetcher  *fetch.DocumentFetcher
	store    storage.ListingStore
	orch     *orchestrate.Orchestrator
	lock     *storage.RunLock
	log      *logrus.Entry
}

// newApp takes the run lock on the state directory and wires fetcher,
// registry, store and orchestrator.
func newApp(ctx context.Context, appCfg *config.AppConfig, log *logrus.Entry) (*app, error) {
	lock, err := storage.AcquireRunLock(appCfg.StateDir)
	if err != nil {
		return nil, err
	}

	df := all.NewDocumentFetcher(appCfg, log.WithField("component", "fetch"))
	registry, err := all.NewRegistry(appCfg, df, log.WithField("component", "source"))
	if err != nil {
		lock.Release()
		return nil, err
	}

	store, err := storage.Open(ctx, appCfg.Storage, appCfg.StateDir, log.WithField("component", "storage"))
	if err != nil {
		lock.Release()
		return nil, err
	}
	if bs, ok := store.(*storage.BadgerStore); ok {
		go bs.RunGC(ctx, 10*time.Minute)
	}

	return &app{
		cfg:      appCfg,
		registry: registry,
		fetcher:  df,
		store:    store,
		orch:     orchestrate.NewOrchestrator(appCfg, registry, df, store, log.WithField("component", "orchestrate")),
		lock:     lock,
		log:      log,
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Errorf("Error closing listing store: %v", err)
	}
	if err := a.lock.Release(); err != nil {
		a.log.Errorf("Error releasing run lock: %v", err)
	}
}

// storeModeFor returns the flag override or the configured mode.
func storeModeFor(flagValue string, appCfg *config.AppConfig) (models.StoreMode, error) {
	if flagValue == "" {
		flagValue = appCfg.StoreMode
	}
	return models.ParseStoreMode(flagValue)
}

// runCrawl handles the crawl subcommand
func runCrawl(args []string) {
	fs := flag.NewFlagSet("crawl", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	sourceSel := fs.String("source", orchestrate.AllSources, "Source alias, comma separated aliases, or 'all'")
	storeMode := fs.String("mode", "", "Store mode tag for imported listings (MANUAL or AUTOMATIC, default from config)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	logFormat := fs.String("logformat", applog.FormatText, "Log format (text or json)")
	pprofAddr := fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: uy-home-finder crawl [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  uy-home-finder crawl -source all\n")
		fmt.Fprintf(os.Stderr, "  uy-home-finder crawl -source gallito,infocasas\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := setupLogger(*logLevel, *logFormat)
	appCfg := loadAndValidateConfig(*configFile, log)
	logAppConfig(appCfg, log)
	startPprof(*pprofAddr, log)

	os.Exit(executeCrawl(appCfg, *sourceSel, *storeMode, log))
}

// executeCrawl runs one import and returns the exit code.
func executeCrawl(appCfg *config.AppConfig, selector, modeFlag string, log *logrus.Logger) int {
	mode, err := storeModeFor(modeFlag, appCfg)
	if err != nil {
		log.Errorf("Invalid store mode: %v", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopSignals := handleSignals(cancel, 30*time.Second, log)
	defer stopSignals()

	a, err := newApp(ctx, appCfg, log.WithField("command", "crawl"))
	if err != nil {
		if errors.Is(err, utils.ErrRunLocked) {
			log.Errorf("Another import is using state dir %s: %v", appCfg.StateDir, err)
			return 1
		}
		log.Errorf("Failed to initialize: %v", err)
		return 1
	}
	defer a.close()

	aliases, err := orchestrate.ResolveSourceKeys(appCfg, a.registry, selector)
	if err != nil {
		log.Errorf("Invalid sources: %v", err)
		return 1
	}
	if len(aliases) == 0 {
		log.Warn("No enabled sources to import.")
		return 0
	}

	summary, err := a.orch.Run(ctx, aliases, mode)
	if err != nil {
		log.Errorf("Import failed: %v", err)
		return 1
	}

	if ctx.Err() != nil {
		log.Warn("Import cancelled gracefully.")
		return 0
	}
	if failed := summary.Failed(); len(failed) > 0 {
		log.Errorf("Import finished with failed sources: %v", failed)
		return 1
	}
	log.Info("Import completed successfully.")
	return 0
}

// runWatch handles the watch subcommand
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	sourceSel := fs.String("source", orchestrate.AllSources, "Source alias, comma separated aliases, or 'all'")
	interval := fs.String("interval", "24h", "Import interval (e.g., 30m, 1h, 24h, 7d)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	logFormat := fs.String("logformat", applog.FormatText, "Log format (text or json)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: uy-home-finder watch [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  uy-home-finder watch -interval 24h\n")
		fmt.Fprintf(os.Stderr, "  uy-home-finder watch -source gallito -interval 6h\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := setupLogger(*logLevel, *logFormat)
	every, err := watch.ParseInterval(*interval)
	if err != nil {
		log.Fatalf("Invalid interval: %v", err)
	}
	log.Infof("Watch interval: %v", watch.FormatInterval(every))

	appCfg := loadAndValidateConfig(*configFile, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopSignals := handleSignals(cancel, time.Minute, log)
	defer stopSignals()

	a, err := newApp(ctx, appCfg, log.WithField("command", "watch"))
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.close()

	aliases, err := orchestrate.ResolveSourceKeys(appCfg, a.registry, *sourceSel)
	if err != nil {
		log.Fatalf("Invalid sources: %v", err)
	}

	scheduler := watch.NewScheduler(a.orch, aliases, every, appCfg.StateDir, log.WithField("component", "watch"))
	if err := scheduler.Run(ctx); err != nil {
		log.Errorf("Watch scheduler error: %v", err)
		return
	}
	log.Info("Watch mode stopped")
}

// runServe handles the serve subcommand
func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	addr := fs.String("addr", "", "Listen address (default from config, ':8080')")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	logFormat := fs.String("logformat", applog.FormatText, "Log format (text or json)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: uy-home-finder serve [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := setupLogger(*logLevel, *logFormat)
	appCfg := loadAndValidateConfig(*configFile, log)
	listenAddr := appCfg.ListenAddr
	if *addr != "" {
		listenAddr = *addr
	}

	mode, err := storeModeFor("", appCfg)
	if err != nil {
		log.Fatalf("Invalid store mode: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopSignals := handleSignals(cancel, 30*time.Second, log)
	defer stopSignals()

	a, err := newApp(ctx, appCfg, log.WithField("command", "serve"))
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.close()

	srv, err := api.NewServer(api.ServerConfig{
		Importer: a.orch,
		Resolve: func(selector string) ([]string, error) {
			return orchestrate.ResolveSourceKeys(appCfg, a.registry, selector)
		},
		Store:     a.store,
		StoreMode: mode,
		Logger:    log.WithField("command", "serve"),
	})
	if err != nil {
		log.Fatalf("Failed to create API server: %v", err)
	}

	if err := srv.ListenAndServe(ctx, listenAddr); err != nil {
		log.Errorf("HTTP API error: %v", err)
		return
	}
	log.Info("HTTP API stopped")
}

// runListings handles the listings subcommand
func runListings(args []string) {
	fs := flag.NewFlagSet("listings", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	sourceKey := fs.String("source", "", "Source alias (required)")
	format := fs.String("format", string(export.FormatTSV), "Output format (jsonl, tsv, yaml)")
	outFile := fs.String("out", "", "Write to this file instead of stdout")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: uy-home-finder listings -source <alias> [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *sourceKey == "" {
		fmt.Fprintln(os.Stderr, "Error: -source is required")
		fs.Usage()
		os.Exit(1)
	}

	os.Exit(doListings(*configFile, *sourceKey, *format, *outFile, os.Stdout, os.Stderr))
}

// doListings prints the stored listings of one source.
// Returns exit code (0 = success, 1 = error).
func doListings(configPath, sourceKey, formatStr, outFile string, stdout, stderr io.Writer) int {
	format, err := export.ParseFormat(formatStr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if _, err := appCfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if _, ok := appCfg.Sources[sourceKey]; !ok {
		fmt.Fprintf(stderr, "Error: source '%s' not found in config. Available sources: %v\n", sourceKey, configuredSources(appCfg))
		return 1
	}

	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	ctx := context.Background()
	store, err := storage.Open(ctx, appCfg.Storage, appCfg.StateDir, logrus.NewEntry(quiet))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	listings, err := store.ListBySource(ctx, sourceKey)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	w := export.NewWriter(format)
	if outFile != "" {
		if info, statErr := os.Stat(outFile); statErr == nil && info.IsDir() {
			outFile = filepath.Join(outFile, w.FileName(sourceKey))
		}
		if err := w.WriteFile(outFile, sourceKey, listings); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Wrote %d listings of '%s' to %s\n", len(listings), sourceKey, outFile)
		return 0
	}
	if err := w.Write(stdout, sourceKey, listings); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	sourceKey := fs.String("source", "", "Source alias to validate (optional, validates all if empty)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: uy-home-finder validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, *sourceKey, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath, sourceKey string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	keys := configuredSources(appCfg)
	if sourceKey != "" {
		if _, ok := appCfg.Sources[sourceKey]; !ok {
			fmt.Fprintf(stderr, "Error: source '%s' not found in config\n", sourceKey)
			return 1
		}
		keys = []string{sourceKey}
	}

	known := make(map[string]bool)
	for _, k := range all.Known() {
		known[k] = true
	}

	hasError := false
	for _, key := range keys {
		srcCfg := appCfg.Sources[key]
		if !known[key] {
			fmt.Fprintf(stderr, "ERROR: [%s] %v\n", key, utils.WrapErrorf(utils.ErrUnknownSource, "no adapter for '%s'. Available sources: %v", key, all.Known()))
			hasError = true
			continue
		}
		srcWarnings, err := srcCfg.Validate()
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: [%s] %v\n", key, err)
			hasError = true
			continue
		}
		for _, w := range srcWarnings {
			fmt.Fprintf(stdout, "WARN: [%s] %s\n", key, w)
		}
		fmt.Fprintf(stdout, "OK: [%s]\n", key)
	}
	if hasError {
		return 1
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runListSources handles the list-sources subcommand
func runListSources(args []string) {
	fs := flag.NewFlagSet("list-sources", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: uy-home-finder list-sources [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doListSources(*configFile, os.Stdout, os.Stderr))
}

// doListSources lists sources and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doListSources(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Sources in %s:\n\n", configPath)
	for _, key := range configuredSources(appCfg) {
		src := appCfg.Sources[key]
		fmt.Fprintf(stdout, "  %s\n", key)
		fmt.Fprintf(stdout, "    URL Template: %s\n", src.URLTemplate)
		if !config.IsSourceEnabled(src) {
			fmt.Fprintf(stdout, "    Enabled: false\n")
		}
		params := make([]string, 0, len(src.Params))
		for name, values := range src.Params {
			params = append(params, fmt.Sprintf("%s=%s", name, strings.Join(values, "|")))
		}
		sort.Strings(params)
		if len(params) > 0 {
			fmt.Fprintf(stdout, "    Params: %s\n", strings.Join(params, ", "))
		}
		fmt.Fprintln(stdout)
	}
	fmt.Fprintf(stdout, "Supported sources: %s\n", strings.Join(all.Known(), ", "))
	return 0
}

func configuredSources(appCfg *config.AppConfig) []string {
	keys := make([]string, 0, len(appCfg.Sources))
	for k := range appCfg.Sources {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// logAppConfig logs the effective global configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Global Config: Workers:%d, MaxReqs:%d, MaxReqPerHost:%d, ReqPerSecond:%.1f",
		appCfg.NumWorkers, appCfg.MaxRequests, appCfg.MaxRequestsPerHost, appCfg.RequestsPerSecond)
	log.Infof("Global Config: StoreMode:%s, StateDir:%s, Storage:%s, ReplaceOnEmpty:%t",
		appCfg.StoreMode, appCfg.StateDir, appCfg.Storage.Driver, appCfg.ReplaceOnEmpty)
	log.Infof("Global Config Retries: Max:%d, Delay:%v, RedirectHops:%d",
		appCfg.MaxRetries, appCfg.RetryDelay, appCfg.MaxRedirectHops)
	log.Infof("Global Config Timeouts: SemaphoreAcquire:%v, Crawl:%v, RobotsTxt:%t",
		appCfg.SemaphoreAcquireTimeout, appCfg.CrawlTimeout, appCfg.RespectRobotsTxt)
	log.Infof("Global Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v, TLSTimeout:%v, DialerTimeout:%v",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns, appCfg.HTTPClientSettings.MaxIdleConnsPerHost,
		appCfg.HTTPClientSettings.IdleConnTimeout, appCfg.HTTPClientSettings.TLSHandshakeTimeout, appCfg.HTTPClientSettings.DialerTimeout)
}
