// Package discovery builds the list of articles to fetch for a category by
// walking its paginated listing pages, optionally seeded from its RSS feed.
package discovery

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/pevans/bdmscrape/article"
	"github.com/pevans/bdmscrape/extract"
	"github.com/pevans/bdmscrape/fetch"
	"github.com/pevans/bdmscrape/logging"
	"github.com/pevans/bdmscrape/metrics"
	"github.com/pevans/bdmscrape/retry"
	"go.uber.org/zap"
)

// Fetcher retrieves a page body. *fetch.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Discovery modes.
const (
	ModeList = "list"
	ModeFeed = "feed"
	ModeBoth = "both"
)

// ListingSelectors locate article entries on a listing page.
type ListingSelectors struct {
	Entry          string   `yaml:"entry"`
	Favtag         string   `yaml:"favtag"`
	ThumbnailAttrs []string `yaml:"thumbnail_attrs"`
}

// DefaultListingSelectors returns the selectors for the source site's
// category listings.
func DefaultListingSelectors() ListingSelectors {
	return ListingSelectors{
		Entry:          "article.post",
		Favtag:         "span.favtag",
		ThumbnailAttrs: []string{"src", "data-src", "data-lazy-src"},
	}
}

// Config controls a Walker.
type Config struct {
	BaseURL string
	// MaxPages bounds the listing pages visited per category.
	MaxPages int
	// PageDelay separates consecutive listing page fetches.
	PageDelay time.Duration
	Mode      string
	Selectors ListingSelectors
}

// DefaultConfig returns the walker defaults for the source site.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "https://www.blogdumoderateur.com",
		MaxPages:  10,
		PageDelay: 500 * time.Millisecond,
		Mode:      ModeList,
		Selectors: DefaultListingSelectors(),
	}
}

// StopReason tells why a listing walk ended.
type StopReason string

const (
	StopMaxPages  StopReason = "max_pages"
	StopNotFound  StopReason = "not_found"
	StopMisses    StopReason = "consecutive_misses"
	StopCancelled StopReason = "cancelled"
)

// Result is the outcome of discovering one category.
type Result struct {
	Category string
	// Items are deduplicated by URL and keep discovery order.
	Items []article.WorkItem
	// Pages lists the listing page numbers fetched, in order.
	Pages []int
	Stop  StopReason
	// FeedItems counts the items contributed by the feed.
	FeedItems int
}

// Walker discovers the articles of a category.
type Walker struct {
	fetcher Fetcher
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewWalker creates a walker. Zero config fields take their defaults.
func NewWalker(fetcher Fetcher, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Walker {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeList
	}
	if cfg.Selectors.Entry == "" {
		cfg.Selectors.Entry = def.Selectors.Entry
	}
	if cfg.Selectors.Favtag == "" {
		cfg.Selectors.Favtag = def.Selectors.Favtag
	}
	if len(cfg.Selectors.ThumbnailAttrs) == 0 {
		cfg.Selectors.ThumbnailAttrs = def.Selectors.ThumbnailAttrs
	}

	return &Walker{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logging.OrNop(logger),
		metrics: m,
	}
}

// ValidMode reports whether mode names a discovery mode.
func ValidMode(mode string) bool {
	switch mode {
	case ModeList, ModeFeed, ModeBoth:
		return true
	}
	return false
}

// ListingURL returns the URL of listing page n of category.
func (w *Walker) ListingURL(category string, page int) string {
	base := fmt.Sprintf("%s/%s/", w.cfg.BaseURL, category)
	if page <= 1 {
		return base
	}
	return fmt.Sprintf("%spage/%d/", base, page)
}

// Discover builds the work list for category according to the configured
// mode. A cancelled context returns what was found so far together with the
// context error.
func (w *Walker) Discover(ctx context.Context, category string) (*Result, error) {
	result := &Result{Category: category, Items: []article.WorkItem{}, Pages: []int{}}
	seen := make(map[string]struct{})

	if w.cfg.Mode == ModeList || w.cfg.Mode == ModeBoth {
		if err := w.walk(ctx, category, result, seen); err != nil {
			return result, err
		}
	}

	if w.cfg.Mode == ModeFeed || w.cfg.Mode == ModeBoth {
		items, err := w.feedItems(ctx, category)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			// The feed only supplements the listing walk.
			w.logger.Warn("feed discovery failed",
				zap.String("category", category), zap.Error(err))
		}
		for _, item := range items {
			if add(result, seen, item) {
				result.FeedItems++
			}
		}
	}

	return result, nil
}

func add(result *Result, seen map[string]struct{}, item article.WorkItem) bool {
	if _, ok := seen[item.URL]; ok {
		return false
	}
	seen[item.URL] = struct{}{}
	result.Items = append(result.Items, item)
	return true
}

// walk visits listing pages in order until the pagination state machine
// stops.
func (w *Walker) walk(ctx context.Context, category string, result *Result, seen map[string]struct{}) error {
	state := advancing
	for page := 1; ; page++ {
		if page > w.cfg.MaxPages {
			result.Stop = StopMaxPages
			break
		}
		if page > 1 {
			if err := retry.Sleep(ctx, w.cfg.PageDelay); err != nil {
				result.Stop = StopCancelled
				return err
			}
		}

		pageURL := w.ListingURL(category, page)
		result.Pages = append(result.Pages, page)

		out, added, err := w.visit(ctx, category, pageURL, result, seen)
		if ctxErr := ctx.Err(); ctxErr != nil {
			result.Stop = StopCancelled
			return ctxErr
		}
		w.metrics.ListingPage(category, out.String())

		logger := w.logger.With(
			zap.String("category", category),
			zap.Int("page", page),
			zap.String("url", pageURL),
		)
		switch out {
		case outcomeEntries:
			logger.Info("listing page visited", zap.Int("new_links", added))
		case outcomeEmpty:
			logger.Warn("no articles on listing page")
		case outcomeNotFound:
			logger.Info("listing page not found, end of pagination")
		case outcomeError:
			logger.Error("listing page failed", zap.Error(err))
		}

		state = state.next(out)
		if state == stopped {
			if out == outcomeNotFound {
				result.Stop = StopNotFound
			} else {
				result.Stop = StopMisses
			}
			break
		}
	}

	w.logger.Info("listing walk finished",
		zap.String("category", category),
		zap.Int("pages", len(result.Pages)),
		zap.Int("links", len(result.Items)),
		zap.String("stop", string(result.Stop)),
	)
	return nil
}

// visit fetches and parses one listing page, appending new entries to
// result. It returns the page outcome and the number of entries added.
func (w *Walker) visit(ctx context.Context, category, pageURL string, result *Result, seen map[string]struct{}) (outcome, int, error) {
	body, err := w.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		if fetch.IsNotFound(err) {
			return outcomeNotFound, 0, err
		}
		return outcomeError, 0, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return outcomeError, 0, fmt.Errorf("failed to parse HTML: %w", err)
	}

	entries := ParseListing(doc, pageURL, category, w.cfg.Selectors)
	if len(entries) == 0 {
		return outcomeEmpty, 0, nil
	}

	added := 0
	for _, e := range entries {
		if add(result, seen, e) {
			added++
		}
	}
	return outcomeEntries, added, nil
}

// ParseListing extracts the article entries of a listing page in document
// order. Entries without a resolvable link are skipped. Duplicates within
// the page are kept; callers deduplicate across pages.
func ParseListing(doc *goquery.Document, pageURL, category string, sel ListingSelectors) []article.WorkItem {
	var items []article.WorkItem
	doc.Find(sel.Entry).Each(func(_ int, s *goquery.Selection) {
		href, ok := entryLink(s)
		if !ok {
			return
		}

		item := article.WorkItem{
			URL:      extract.Resolve(pageURL, href),
			Category: category,
			Favtag:   strings.Join(strings.Fields(s.Find(sel.Favtag).First().Text()), " "),
		}
		if thumb, ok := extract.ListingThumbnail(s, sel.ThumbnailAttrs); ok {
			item.Thumbnail = extract.Resolve(pageURL, thumb)
		}
		items = append(items, item)
	})
	return items
}

// entryLink returns the entry's first descendant link, falling back to the
// closest enclosing link.
func entryLink(s *goquery.Selection) (string, bool) {
	if href, ok := s.Find("a[href]").First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		return strings.TrimSpace(href), true
	}
	if href, ok := s.Closest("a[href]").Attr("href"); ok && strings.TrimSpace(href) != "" {
		return strings.TrimSpace(href), true
	}
	return "", false
}
