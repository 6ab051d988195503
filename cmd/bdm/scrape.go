package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pevans/bdmscrape/article"
	"github.com/pevans/bdmscrape/config"
	"github.com/pevans/bdmscrape/crawler"
	"github.com/pevans/bdmscrape/discovery"
	"github.com/pevans/bdmscrape/extract"
	"github.com/pevans/bdmscrape/fetch"
	"github.com/pevans/bdmscrape/logging"
	"github.com/pevans/bdmscrape/metrics"
	"github.com/pevans/bdmscrape/scraper"
	"github.com/pevans/bdmscrape/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func handleScrape(cfg *config.Config, args []string) {
	// Parse flags for scrape command
	fs := flag.NewFlagSet("scrape", flag.ExitOnError)
	category := fs.String("category", "", "Scrape a single category (default: all configured)")
	maxPages := fs.Int("max-pages", cfg.Crawl.MaxPages, "Listing pages to walk per category")
	workers := fs.Int("workers", cfg.Crawl.Workers, "Concurrent article fetches")
	mode := fs.String("mode", cfg.Site.DiscoveryMode, "Discovery mode: list, feed, or both")
	logLevel := fs.String("log-level", cfg.Logging.Level, "Log level: debug, info, warn, error")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address while scraping (e.g., :9090)")
	quiet := fs.Bool("quiet", false, "Only print the final summary")
	fs.Parse(args)

	if *category != "" {
		if !article.ValidCategory(*category) {
			fmt.Fprintf(os.Stderr, "Error: unknown category: %s (must be one of %v)\n", *category, article.Categories)
			os.Exit(1)
		}
		cfg.Crawl.Categories = []string{*category}
	}
	if *maxPages < 1 || *workers < 1 {
		fmt.Fprintf(os.Stderr, "Error: -max-pages and -workers must be at least 1\n")
		os.Exit(1)
	}
	if *mode != "" && !discovery.ValidMode(*mode) {
		fmt.Fprintf(os.Stderr, "Error: invalid mode: %s (must be list, feed, or both)\n", *mode)
		os.Exit(1)
	}
	cfg.Crawl.MaxPages = *maxPages
	cfg.Crawl.Workers = *workers
	cfg.Site.DiscoveryMode = *mode
	cfg.Logging.Level = *logLevel

	os.Exit(runScrape(cfg, *metricsAddr, *quiet))
}

// runScrape performs the crawl and returns the process exit code. It
// returns instead of exiting so deferred cleanup runs.
func runScrape(cfg *config.Config, metricsAddr string, quiet bool) int {
	logger, closer, err := logging.New(cfg.LoggingOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closer.Close()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw := openStore(ctx, cfg)
	defer gw.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if metricsAddr != "" {
		srv := serveMetrics(metricsAddr, reg, logger)
		defer shutdown(srv)
	}

	fetchOpts := cfg.FetchOptions()
	fetchOpts.Logger = logger
	fetchOpts.Metrics = m
	client := fetch.NewClient(fetchOpts)

	walker := discovery.NewWalker(client, cfg.WalkerConfig(), logger, m)
	articles := scraper.New(gw, client, extract.New(cfg.Site.Article, logger), scraper.Options{
		StoreRetry: cfg.RetryPolicy(),
		Logger:     logger,
		Metrics:    m,
	})

	opts := crawler.Options{Logger: logger}
	if !quiet {
		opts.Progress = printProgress
	}
	c := crawler.New(gw, walker, articles, cfg.CrawlerConfig(), opts)

	fmt.Printf("Scraping %v from %s (%d pages max, %d workers)...\n",
		cfg.Crawl.Categories, cfg.Crawl.BaseURL, cfg.Crawl.MaxPages, cfg.Crawl.Workers)
	fmt.Println()

	report, err := c.Run(ctx)
	if report == nil {
		fmt.Fprintf(os.Stderr, "Error: scrape failed: %v\n", err)
		return 1
	}

	printRunReport(report)

	switch {
	case crawler.IsInterrupted(err):
		fmt.Println("✗ Interrupted; articles stored so far are kept")
		return 130
	case report.Failed > 0:
		fmt.Printf("⚠ %d article(s) failed; run 'bdm scrape' again to retry them\n", report.Failed)
		return 1
	}
	fmt.Println("✓ Scrape finished")
	return 0
}

// printProgress prints a one-line progress report
func printProgress(p crawler.Progress) {
	fmt.Printf("  [%s] %d/%d done (%d stored, %d skipped, %d failed)\n",
		p.Category, p.Done, p.Total, p.Stored, p.Skipped, p.Failed)
}

// printRunReport prints the per-category and overall totals of a run
func printRunReport(report *crawler.RunReport) {
	fmt.Println()
	fmt.Println("Scrape completed:")
	for _, c := range report.Categories {
		status := "✓"
		if c.Err != nil {
			status = "✗"
		}
		fmt.Printf("  %s %-10s %3d found on %2d page(s), %3d new, %3d skipped, %3d failed (%s, %s)\n",
			status, c.Category, c.Discovered, c.Pages, c.New(), c.Skipped, c.Failed,
			c.Stop, formatDuration(c.Elapsed))
		if c.Err != nil && !crawler.IsInterrupted(c.Err) {
			fmt.Printf("      %v\n", c.Err)
		}
		if c.Abandoned > 0 || c.NotDispatched > 0 {
			fmt.Printf("      %d abandoned, %d not started\n", c.Abandoned, c.NotDispatched)
		}
	}
	fmt.Println()
	fmt.Printf("  Run:           %s\n", report.RunID)
	fmt.Printf("  New articles:  %d\n", report.TotalNew)
	fmt.Printf("  Failed:        %d\n", report.Failed)
	fmt.Printf("  Stored total:  %d (was %d)\n", report.CountAfter, report.CountBefore)
	fmt.Printf("  Elapsed:       %s\n", formatDuration(report.Elapsed))
	fmt.Println()
}

// serveMetrics exposes reg over HTTP until shut down.
func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

func handleArticle(cfg *config.Config, args []string) {
	// Parse flags for article command
	fs := flag.NewFlagSet("article", flag.ExitOnError)
	live := fs.Bool("fetch", false, "Fetch and extract the page now instead of reading the store (nothing is saved)")
	category := fs.String("category", "", "Category to attach when fetching")
	favtag := fs.String("favtag", "", "Favtag to attach when fetching")
	content := fs.Bool("content", false, "Show the full article text")
	format := fs.String("format", "table", "Output format: table, json")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: article URL is required\n")
		fmt.Fprintf(os.Stderr, "Usage: bdm article [-fetch] <url>\n")
		os.Exit(1)
	}
	url := fs.Arg(0)
	ctx := context.Background()

	var record *article.Record
	if *live {
		client := fetch.NewClient(cfg.FetchOptions())
		s := scraper.New(nil, client, extract.New(cfg.Site.Article, nil), scraper.Options{})

		var err error
		record, err = s.Preview(ctx, url, extract.Hints{Favtag: *favtag})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if *category != "" {
			record.Category = article.StringPtr(*category)
		}
	} else {
		gw := openStore(ctx, cfg)
		defer gw.Close()

		var err error
		record, err = gw.Get(ctx, url)
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Error: article not stored: %s\n", url)
			fmt.Fprintf(os.Stderr, "Use 'bdm article -fetch %s' to extract it without saving\n", url)
			gw.Close()
			os.Exit(1)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to get article: %v\n", err)
			gw.Close()
			os.Exit(1)
		}
	}

	switch *format {
	case "json":
		printJSON(record)
	case "table":
		printArticle(record, *content)
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid format: %s (must be table or json)\n", *format)
		os.Exit(1)
	}
}
