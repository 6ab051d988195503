package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pevans/bdmscrape/article"
	"github.com/pevans/bdmscrape/extract"
	"github.com/pevans/bdmscrape/fetch"
	"github.com/pevans/bdmscrape/retry"
	"github.com/pevans/bdmscrape/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const articlePage = `<html><body>
	<h1 class="entry-title">Google lance une nouveauté</h1>
	<img class="attachment-full" src="/uploads/page-thumb.jpg">
	<time class="updated" datetime="2024-02-10T08:00:00+01:00">10 février 2024</time>
	<a class="post-tag">Google</a><a class="post-tag">SEO</a>
	<div class="entry-content"><p>Texte.</p><img src="/uploads/inline.png" alt="capture"></div>
</body></html>`

var fixedNow = time.Date(2024, 2, 11, 9, 0, 0, 0, time.UTC)

// Test helper: an article server that counts requests
func newArticleServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		fmt.Fprint(w, articlePage)
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func newTestScraper(t *testing.T, gw store.Gateway, opts Options) *Scraper {
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	opts.Logger = zaptest.NewLogger(t)
	client := fetch.NewClient(fetch.Options{Retry: retry.None()})
	return New(gw, client, extract.New(extract.Selectors{}, nil), opts)
}

func newFileStore(t *testing.T) store.Gateway {
	gw, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return gw
}

// TestScrape_SkipsStoredURLWithoutFetching verifies the existence check runs
// before any network call
func TestScrape_SkipsStoredURLWithoutFetching(t *testing.T) {
	server, hits := newArticleServer(t, http.StatusOK)
	gw := newFileStore(t)
	url := server.URL + "/deja-vu/"

	_, err := gw.Upsert(context.Background(), &article.Record{URL: url, ScrapedAt: fixedNow})
	require.NoError(t, err)

	res, err := newTestScraper(t, gw, Options{}).Scrape(context.Background(), article.WorkItem{URL: url, Category: "web"})
	require.NoError(t, err)

	assert.Equal(t, StatusSkipped, res.Status)
	assert.Nil(t, res.Record)
	assert.Equal(t, int32(0), hits.Load(), "skipped articles must not be fetched")
}

// TestScrape_InsertsWithListingMetadata verifies listing metadata overrides
// the page and the record is stamped and stored
func TestScrape_InsertsWithListingMetadata(t *testing.T) {
	server, hits := newArticleServer(t, http.StatusOK)
	gw := newFileStore(t)
	url := server.URL + "/google-nouveaute/"

	res, err := newTestScraper(t, gw, Options{}).Scrape(context.Background(), article.WorkItem{
		URL:       url,
		Category:  "tech",
		Favtag:    "Moteurs de recherche",
		Thumbnail: "https://cdn.example.com/listing.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusInserted, res.Status)
	assert.Equal(t, int32(1), hits.Load())

	stored, err := gw.Get(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, "tech", *stored.Category)
	assert.Equal(t, "Moteurs de recherche", *stored.Favtag)
	assert.Equal(t, []string{"Moteurs de recherche", "Google", "SEO"}, stored.Tags)
	assert.Equal(t, "https://cdn.example.com/listing.jpg", *stored.Thumbnail)
	assert.Equal(t, "Google lance une nouveauté", *stored.Title)
	assert.Equal(t, "2024-02-10", *stored.PublicationDate)
	assert.Equal(t, server.URL+"/uploads/inline.png", stored.Images[0].URL)
	assert.True(t, stored.ScrapedAt.Equal(fixedNow))
}

// TestScrape_PageThumbnailWithoutHint verifies the page search runs without
// a listing thumbnail
func TestScrape_PageThumbnailWithoutHint(t *testing.T) {
	server, _ := newArticleServer(t, http.StatusOK)
	gw := newFileStore(t)

	res, err := newTestScraper(t, gw, Options{}).Scrape(context.Background(), article.WorkItem{
		URL:      server.URL + "/a/",
		Category: "web",
	})
	require.NoError(t, err)

	require.NotNil(t, res.Record.Thumbnail)
	assert.Equal(t, server.URL+"/uploads/page-thumb.jpg", *res.Record.Thumbnail)
	assert.Nil(t, res.Record.Favtag)
	assert.Equal(t, []string{"Google", "SEO"}, res.Record.Tags)
}

// TestScrape_FetchFailureIsAnError verifies failed fetches store nothing
func TestScrape_FetchFailureIsAnError(t *testing.T) {
	server, _ := newArticleServer(t, http.StatusInternalServerError)
	gw := newFileStore(t)

	_, err := newTestScraper(t, gw, Options{}).Scrape(context.Background(), article.WorkItem{URL: server.URL + "/x/"})
	require.Error(t, err)

	var se *fetch.StatusError
	assert.True(t, errors.As(err, &se))

	n, err := gw.CountAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

// flakyGateway fails Upsert a fixed number of times. Methods it does not
// override are never called by the scraper.
type flakyGateway struct {
	store.Gateway
	failures int32
	err      error
	calls    atomic.Int32
	result   store.UpsertResult
}

func (g *flakyGateway) Exists(ctx context.Context, url string) (bool, error) {
	return false, nil
}

func (g *flakyGateway) Upsert(ctx context.Context, r *article.Record) (store.UpsertResult, error) {
	if g.calls.Add(1) <= g.failures {
		if g.err != nil {
			return 0, g.err
		}
		return 0, errors.New("database is locked")
	}
	return g.result, nil
}

// TestScrape_RetriesStoreWrites verifies the store write follows the retry
// policy
func TestScrape_RetriesStoreWrites(t *testing.T) {
	server, hits := newArticleServer(t, http.StatusOK)
	gw := &flakyGateway{failures: 2, result: store.Updated}

	s := newTestScraper(t, gw, Options{StoreRetry: retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}})
	res, err := s.Scrape(context.Background(), article.WorkItem{URL: server.URL + "/a/"})
	require.NoError(t, err)

	assert.Equal(t, StatusUpdated, res.Status)
	assert.Equal(t, int32(3), gw.calls.Load())
	assert.Equal(t, int32(1), hits.Load(), "store retries must not refetch")
}

func TestScrape_StoreFailureAfterRetries(t *testing.T) {
	server, _ := newArticleServer(t, http.StatusOK)
	gw := &flakyGateway{failures: 10}

	s := newTestScraper(t, gw, Options{StoreRetry: retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}})
	_, err := s.Scrape(context.Background(), article.WorkItem{URL: server.URL + "/a/"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to store article")
	assert.Equal(t, int32(2), gw.calls.Load())
}

// TestScrape_RetriesStoreDeadline verifies a write that hits its own
// deadline is retried while the run is still live
func TestScrape_RetriesStoreDeadline(t *testing.T) {
	server, _ := newArticleServer(t, http.StatusOK)
	gw := &flakyGateway{
		failures: 1,
		err:      fmt.Errorf("insert article: %w", context.DeadlineExceeded),
		result:   store.Inserted,
	}

	s := newTestScraper(t, gw, Options{StoreRetry: retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}})
	res, err := s.Scrape(context.Background(), article.WorkItem{URL: server.URL + "/a/"})
	require.NoError(t, err)

	assert.Equal(t, StatusInserted, res.Status)
	assert.Equal(t, int32(2), gw.calls.Load())
}

func TestScrape_CancelledRunIsNotRetried(t *testing.T) {
	server, _ := newArticleServer(t, http.StatusOK)
	gw := &flakyGateway{failures: 10, err: context.Canceled}

	s := newTestScraper(t, gw, Options{StoreRetry: retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}})
	_, err := s.Scrape(context.Background(), article.WorkItem{URL: server.URL + "/a/"})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), gw.calls.Load())
}

// TestScrape_CollapsesFavtag verifies the stored favtag and its tag entry
// are the same string
func TestScrape_CollapsesFavtag(t *testing.T) {
	server, _ := newArticleServer(t, http.StatusOK)
	gw := newFileStore(t)

	res, err := newTestScraper(t, gw, Options{}).Scrape(context.Background(), article.WorkItem{
		URL:      server.URL + "/a/",
		Category: "tech",
		Favtag:   "  Moteurs  de\trecherche ",
	})
	require.NoError(t, err)

	require.NotNil(t, res.Record.Favtag)
	assert.Equal(t, "Moteurs de recherche", *res.Record.Favtag)
	assert.Equal(t, []string{"Moteurs de recherche", "Google", "SEO"}, res.Record.Tags)
}

// TestUpsert_RescrapeIsIdempotent verifies extracting and storing the same
// page twice keeps one record that differs only in its scrape time
func TestUpsert_RescrapeIsIdempotent(t *testing.T) {
	server, _ := newArticleServer(t, http.StatusOK)
	gw := newFileStore(t)
	ctx := context.Background()
	url := server.URL + "/google-nouveaute/"

	var ticks atomic.Int32
	s := newTestScraper(t, gw, Options{Now: func() time.Time {
		return fixedNow.Add(time.Duration(ticks.Add(1)) * time.Hour)
	}})
	hints := extract.Hints{Favtag: "Google"}

	first, err := s.Preview(ctx, url, hints)
	require.NoError(t, err)
	res, err := gw.Upsert(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, store.Inserted, res)
	storedFirst, err := gw.Get(ctx, url)
	require.NoError(t, err)

	second, err := s.Preview(ctx, url, hints)
	require.NoError(t, err)
	res, err = gw.Upsert(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, store.Updated, res)
	storedSecond, err := gw.Get(ctx, url)
	require.NoError(t, err)

	n, err := gw.CountAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.True(t, storedSecond.ScrapedAt.After(storedFirst.ScrapedAt))

	storedFirst.ScrapedAt = time.Time{}
	storedSecond.ScrapedAt = time.Time{}
	assert.Equal(t, storedFirst, storedSecond)
}

// TestPreview_DoesNotTouchStore verifies preview works without a store
func TestPreview_DoesNotTouchStore(t *testing.T) {
	server, _ := newArticleServer(t, http.StatusOK)

	record, err := newTestScraper(t, nil, Options{}).Preview(context.Background(), server.URL+"/a/", extract.Hints{Favtag: "Google"})
	require.NoError(t, err)

	assert.Equal(t, "Google lance une nouveauté", *record.Title)
	assert.Equal(t, []string{"Google", "SEO"}, record.Tags)
	assert.True(t, record.ScrapedAt.Equal(fixedNow))
}

func TestStatus_Stored(t *testing.T) {
	assert.True(t, StatusInserted.Stored())
	assert.True(t, StatusUpdated.Stored())
	assert.False(t, StatusSkipped.Stored())
	assert.False(t, StatusFailed.Stored())
}

func TestSiteConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultSiteConfig().Validate())
	assert.NoError(t, SiteConfig{}.Validate())
	assert.Error(t, SiteConfig{DiscoveryMode: "direct"}.Validate())
}
