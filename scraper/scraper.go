// Package scraper fetches single articles, extracts their fields and stores
// them.
package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pevans/bdmscrape/article"
	"github.com/pevans/bdmscrape/extract"
	"github.com/pevans/bdmscrape/logging"
	"github.com/pevans/bdmscrape/metrics"
	"github.com/pevans/bdmscrape/retry"
	"github.com/pevans/bdmscrape/store"
	"go.uber.org/zap"
)

// Fetcher retrieves a page body. *fetch.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Status is the outcome of a successful Scrape.
type Status string

const (
	StatusInserted Status = "inserted"
	StatusUpdated  Status = "updated"
	StatusSkipped  Status = "skipped"
	// StatusFailed is only used for metrics and reports; Scrape returns an
	// error instead.
	StatusFailed Status = "failed"
)

// Stored reports whether the status means a record was written.
func (s Status) Stored() bool {
	return s == StatusInserted || s == StatusUpdated
}

// Result describes one scraped article.
type Result struct {
	URL    string
	Status Status
	// Record is nil for skipped articles.
	Record *article.Record
}

// Options configures a Scraper.
type Options struct {
	// StoreRetry governs retries of the store write.
	StoreRetry retry.Policy
	// Now stamps scraped_at; defaults to time.Now.
	Now     func() time.Time
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Scraper turns work items into stored records. It is safe for concurrent
// use when its store and fetcher are.
type Scraper struct {
	store     store.Gateway
	fetcher   Fetcher
	extractor *extract.Extractor
	retry     retry.Policy
	now       func() time.Time
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// New creates a scraper.
func New(gw store.Gateway, fetcher Fetcher, extractor *extract.Extractor, opts Options) *Scraper {
	s := &Scraper{
		store:     gw,
		fetcher:   fetcher,
		extractor: extractor,
		retry:     opts.StoreRetry,
		now:       opts.Now,
		logger:    logging.OrNop(opts.Logger),
		metrics:   opts.Metrics,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Scrape fetches, extracts and stores the article described by item. URLs
// already in the store are skipped before any network request is made.
func (s *Scraper) Scrape(ctx context.Context, item article.WorkItem) (Result, error) {
	result, err := s.scrape(ctx, item)
	logger := s.logger.With(zap.String("url", item.URL), zap.String("category", item.Category))
	if err != nil {
		s.metrics.Article(item.Category, string(StatusFailed))
		logger.Error("article failed", zap.Error(err))
		return result, err
	}

	s.metrics.Article(item.Category, string(result.Status))
	if result.Status == StatusSkipped {
		logger.Debug("article already stored, skipped")
	} else {
		logger.Info("article stored", zap.String("status", string(result.Status)))
	}
	return result, nil
}

func (s *Scraper) scrape(ctx context.Context, item article.WorkItem) (Result, error) {
	result := Result{URL: item.URL}

	exists, err := s.store.Exists(ctx, item.URL)
	if err != nil {
		return result, fmt.Errorf("failed to check store: %w", err)
	}
	if exists {
		result.Status = StatusSkipped
		return result, nil
	}

	favtag := strings.Join(strings.Fields(item.Favtag), " ")
	record, err := s.Preview(ctx, item.URL, extract.Hints{Favtag: favtag, Thumbnail: item.Thumbnail})
	if err != nil {
		return result, err
	}

	// Listing context is authoritative for categorization.
	record.Category = article.StringPtr(item.Category)
	record.Favtag = article.StringPtr(favtag)
	record.ScrapedAt = s.now().UTC()
	record.Normalize()

	var upserted store.UpsertResult
	err = s.retry.Do(ctx, storeRetryable(ctx), func(ctx context.Context) error {
		var err error
		upserted, err = s.store.Upsert(ctx, record)
		return err
	})
	if err != nil {
		return result, fmt.Errorf("failed to store article: %w", err)
	}

	result.Record = record
	result.Status = StatusInserted
	if upserted == store.Updated {
		result.Status = StatusUpdated
	}
	return result, nil
}

// Preview fetches and extracts the article at url without touching the
// store.
func (s *Scraper) Preview(ctx context.Context, url string, hints extract.Hints) (*article.Record, error) {
	body, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch article: %w", err)
	}

	record, err := s.extractor.ExtractHTML(bytes.NewReader(body), url, hints)
	if err != nil {
		return nil, fmt.Errorf("failed to extract article: %w", err)
	}
	record.ScrapedAt = s.now().UTC()
	record.Normalize()
	return record, nil
}

// storeRetryable retries failed writes, including driver-side deadlines,
// while the caller's context is live.
func storeRetryable(ctx context.Context) func(error) bool {
	return func(err error) bool {
		return ctx.Err() == nil && !errors.Is(err, context.Canceled)
	}
}
