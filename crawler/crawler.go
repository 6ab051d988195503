// Package crawler drives discovery and scraping across categories with a
// bounded worker pool.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pevans/bdmscrape/article"
	"github.com/pevans/bdmscrape/discovery"
	"github.com/pevans/bdmscrape/logging"
	"github.com/pevans/bdmscrape/retry"
	"github.com/pevans/bdmscrape/scraper"
	"github.com/pevans/bdmscrape/store"
	"go.uber.org/zap"
)

// Discoverer builds the work list of a category. *discovery.Walker
// implements it.
type Discoverer interface {
	Discover(ctx context.Context, category string) (*discovery.Result, error)
}

// ArticleScraper handles one work item. *scraper.Scraper implements it.
type ArticleScraper interface {
	Scrape(ctx context.Context, item article.WorkItem) (scraper.Result, error)
}

// Config holds the orchestration settings.
type Config struct {
	Categories []string
	// Workers bounds the article fetches in flight per category.
	Workers int
	// CategoryDelay separates consecutive categories.
	CategoryDelay time.Duration
	// ProgressEvery is the number of completions between progress reports.
	ProgressEvery int
}

// DefaultConfig returns the orchestration defaults.
func DefaultConfig() Config {
	return Config{
		Categories:    article.Categories,
		Workers:       8,
		CategoryDelay: time.Second,
		ProgressEvery: 10,
	}
}

// Progress is a snapshot of a category's fetch phase.
type Progress struct {
	Category string
	Done     int
	Total    int
	Stored   int
	Skipped  int
	Failed   int
}

// ProgressFunc receives progress reports. It is called from a single
// goroutine.
type ProgressFunc func(Progress)

// CategoryReport summarizes one category.
type CategoryReport struct {
	Category   string
	Discovered int
	Pages      int
	Stop       discovery.StopReason
	Inserted   int
	Updated    int
	Skipped    int
	Failed     int
	// Abandoned counts in-flight items cut short by cancellation.
	Abandoned int
	// NotDispatched counts items never started because of cancellation.
	NotDispatched int
	Elapsed       time.Duration
	Err           error
}

// New returns the number of newly stored or refreshed articles.
func (r CategoryReport) New() int {
	return r.Inserted + r.Updated
}

// RunReport summarizes a run over several categories.
type RunReport struct {
	RunID       uuid.UUID
	StartedAt   time.Time
	FinishedAt  time.Time
	Elapsed     time.Duration
	Categories  []CategoryReport
	CountBefore int64
	CountAfter  int64
	TotalNew    int
	Failed      int
	Interrupted bool
}

// Run converts the report to its stored form.
func (r *RunReport) Run() store.Run {
	names := make([]string, len(r.Categories))
	for i, c := range r.Categories {
		names[i] = c.Category
	}
	return store.Run{
		RunID:       r.RunID,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		Categories:  names,
		CountBefore: r.CountBefore,
		CountAfter:  r.CountAfter,
		TotalNew:    r.TotalNew,
		Failed:      r.Failed,
		Interrupted: r.Interrupted,
	}
}

// Options carries the optional collaborators of a Crawler.
type Options struct {
	Logger   *zap.Logger
	Progress ProgressFunc
	// Now defaults to time.Now.
	Now func() time.Time
}

// Crawler orchestrates discovery and scraping.
type Crawler struct {
	store    store.Gateway
	walker   Discoverer
	scraper  ArticleScraper
	cfg      Config
	logger   *zap.Logger
	progress ProgressFunc
	now      func() time.Time
}

// New creates a crawler. Zero config fields take their defaults.
func New(gw store.Gateway, walker Discoverer, s ArticleScraper, cfg Config, opts Options) *Crawler {
	def := DefaultConfig()
	if len(cfg.Categories) == 0 {
		cfg.Categories = def.Categories
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = def.ProgressEvery
	}

	c := &Crawler{
		store:    gw,
		walker:   walker,
		scraper:  s,
		cfg:      cfg,
		logger:   logging.OrNop(opts.Logger),
		progress: opts.Progress,
		now:      opts.Now,
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// CrawlCategory discovers the articles of category and scrapes them on the
// worker pool. Single item failures are counted, not returned. The error is
// non-nil only when the category could not run to completion.
func (c *Crawler) CrawlCategory(ctx context.Context, category string) (CategoryReport, error) {
	start := c.now()
	report := CategoryReport{Category: category}
	logger := c.logger.With(zap.String("category", category))

	found, err := c.walker.Discover(ctx, category)
	if found != nil {
		report.Discovered = len(found.Items)
		report.Pages = len(found.Pages)
		report.Stop = found.Stop
	}
	if err != nil {
		report.Err = err
		report.Elapsed = c.now().Sub(start)
		return report, fmt.Errorf("failed to discover %s: %w", category, err)
	}

	logger.Info("dispatching articles",
		zap.Int("articles", len(found.Items)),
		zap.Int("workers", c.cfg.Workers),
	)

	progress := Progress{Category: category, Total: len(found.Items)}
	completions := Dispatch(ctx, c.cfg.Workers, found.Items, c.scraper.Scrape)
	for done := range completions {
		progress.Done++
		switch {
		case IsInterrupted(done.Err):
			report.Abandoned++
		case done.Err != nil:
			report.Failed++
			progress.Failed++
		case done.Result.Status == scraper.StatusSkipped:
			report.Skipped++
			progress.Skipped++
		case done.Result.Status == scraper.StatusUpdated:
			report.Updated++
			progress.Stored++
		default:
			report.Inserted++
			progress.Stored++
		}

		if progress.Done%c.cfg.ProgressEvery == 0 {
			c.report(progress)
		}
	}
	if progress.Done == 0 || progress.Done%c.cfg.ProgressEvery != 0 {
		c.report(progress)
	}

	report.NotDispatched = len(found.Items) - progress.Done
	report.Elapsed = c.now().Sub(start)
	logger.Info("category finished",
		zap.Int("new", report.New()),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("elapsed", report.Elapsed),
	)

	if err := ctx.Err(); err != nil {
		report.Err = err
		return report, err
	}
	return report, nil
}

func (c *Crawler) report(p Progress) {
	if c.progress != nil {
		c.progress(p)
	}
}

// Run crawls every configured category in order, pausing between them, and
// records the run in the store. The report is returned even when the run is
// interrupted; the error is then the context's.
func (c *Crawler) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{RunID: uuid.New(), StartedAt: c.now()}
	logger := c.logger.With(zap.String("run_id", report.RunID.String()))

	before, err := c.store.CountAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count articles: %w", err)
	}
	report.CountBefore = before

	logger.Info("run started", zap.Strings("categories", c.cfg.Categories))

	var runErr error
	for i, category := range c.cfg.Categories {
		cr, err := c.CrawlCategory(ctx, category)
		report.Categories = append(report.Categories, cr)
		report.TotalNew += cr.New()
		report.Failed += cr.Failed

		if ctxErr := ctx.Err(); ctxErr != nil {
			runErr = ctxErr
			break
		}
		if err != nil {
			// A broken category never aborts the others.
			logger.Error("category failed", zap.String("category", category), zap.Error(err))
		}

		if i < len(c.cfg.Categories)-1 {
			if err := retry.Sleep(ctx, c.cfg.CategoryDelay); err != nil {
				runErr = err
				break
			}
		}
	}
	report.Interrupted = runErr != nil

	// The run is accounted for even after cancellation.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	after, err := c.store.CountAll(finishCtx)
	if err != nil {
		logger.Error("failed to count articles after run", zap.Error(err))
		after = report.CountBefore
	}
	report.CountAfter = after
	report.FinishedAt = c.now()
	report.Elapsed = report.FinishedAt.Sub(report.StartedAt)

	if err := c.store.RecordRun(finishCtx, report.Run()); err != nil {
		logger.Error("failed to record run", zap.Error(err))
	}

	logger.Info("run finished",
		zap.Int("total_new", report.TotalNew),
		zap.Int("failed", report.Failed),
		zap.Int64("count_before", report.CountBefore),
		zap.Int64("count_after", report.CountAfter),
		zap.Bool("interrupted", report.Interrupted),
		zap.Duration("elapsed", report.Elapsed),
	)

	if runErr != nil {
		return report, runErr
	}
	return report, nil
}

// IsInterrupted reports whether err comes from cancelling a run.
func IsInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
