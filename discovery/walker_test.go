package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/pevans/bdmscrape/fetch"
	"github.com/pevans/bdmscrape/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// page is one canned response of the fake site.
type page struct {
	status int
	body   string
}

// fakeSite serves canned pages by path and records every request path.
type fakeSite struct {
	server *httptest.Server
	pages  map[string]page

	mu       sync.Mutex
	requests []string
}

func newFakeSite(t *testing.T, pages map[string]page) *fakeSite {
	s := &fakeSite{pages: pages}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.URL.Path)
		s.mu.Unlock()

		p, ok := s.pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if p.status != 0 {
			w.WriteHeader(p.status)
		}
		fmt.Fprint(w, p.body)
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *fakeSite) paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Test helper: a listing page with one article entry per slug
func listing(slugs ...string) page {
	var b strings.Builder
	b.WriteString("<html><body><main>")
	for _, slug := range slugs {
		fmt.Fprintf(&b, `<article class="post"><a href="/%s/"><img data-src="/img/%s.jpg"></a><span class="favtag"> Tag %s </span></article>`, slug, slug, slug)
	}
	b.WriteString("</main></body></html>")
	return page{body: b.String()}
}

func empty() page {
	return page{body: "<html><body><p>Aucun article</p></body></html>"}
}

func newTestWalker(t *testing.T, site *fakeSite, cfg Config) *Walker {
	cfg.BaseURL = site.server.URL
	client := fetch.NewClient(fetch.Options{Retry: retry.None()})
	return NewWalker(client, cfg, zaptest.NewLogger(t), nil)
}

func slugs(site *fakeSite, r *Result) []string {
	out := make([]string, len(r.Items))
	for i, item := range r.Items {
		out[i] = strings.Trim(strings.TrimPrefix(item.URL, site.server.URL), "/")
	}
	return out
}

// TestWalk_StopsAtNotFound verifies a 404 ends pagination and the next page
// is never requested
func TestWalk_StopsAtNotFound(t *testing.T) {
	site := newFakeSite(t, map[string]page{
		"/web/":        listing("a"),
		"/web/page/2/": listing("b"),
		"/web/page/3/": listing("c"),
		"/web/page/5/": listing("e"),
	})
	w := newTestWalker(t, site, Config{MaxPages: 10})

	result, err := w.Discover(context.Background(), "web")
	require.NoError(t, err)

	assert.Equal(t, []string{"/web/", "/web/page/2/", "/web/page/3/", "/web/page/4/"}, site.paths())
	assert.Equal(t, []int{1, 2, 3, 4}, result.Pages)
	assert.Equal(t, StopNotFound, result.Stop)
	assert.Equal(t, []string{"a", "b", "c"}, slugs(site, result))
}

// TestWalk_TwoConsecutiveEmptyPagesStop verifies the miss limit
func TestWalk_TwoConsecutiveEmptyPagesStop(t *testing.T) {
	site := newFakeSite(t, map[string]page{
		"/web/":        listing("a"),
		"/web/page/2/": empty(),
		"/web/page/3/": empty(),
		"/web/page/4/": listing("d"),
	})
	w := newTestWalker(t, site, Config{MaxPages: 10})

	result, err := w.Discover(context.Background(), "web")
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, result.Pages)
	assert.NotContains(t, site.paths(), "/web/page/4/")
	assert.Equal(t, StopMisses, result.Stop)
	assert.Equal(t, []string{"a"}, slugs(site, result))
}

// TestWalk_MissStreakResets verifies a page with entries clears a single miss
func TestWalk_MissStreakResets(t *testing.T) {
	site := newFakeSite(t, map[string]page{
		"/web/":        listing("a"),
		"/web/page/2/": empty(),
		"/web/page/3/": listing("c"),
		"/web/page/4/": empty(),
		"/web/page/5/": listing("e"),
	})
	w := newTestWalker(t, site, Config{MaxPages: 10})

	result, err := w.Discover(context.Background(), "web")
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, result.Pages)
	assert.Equal(t, StopNotFound, result.Stop)
	assert.Equal(t, []string{"a", "c", "e"}, slugs(site, result))
}

// TestWalk_ServerErrorsCountAsMisses verifies non-404 failures advance with
// a miss
func TestWalk_ServerErrorsCountAsMisses(t *testing.T) {
	t.Run("two failures stop", func(t *testing.T) {
		site := newFakeSite(t, map[string]page{
			"/web/":        listing("a"),
			"/web/page/2/": {status: http.StatusInternalServerError},
			"/web/page/3/": {status: http.StatusBadGateway},
			"/web/page/4/": listing("d"),
		})
		result, err := newTestWalker(t, site, Config{}).Discover(context.Background(), "web")
		require.NoError(t, err)

		assert.Equal(t, []int{1, 2, 3}, result.Pages)
		assert.Equal(t, StopMisses, result.Stop)
	})

	t.Run("failure then empty page stop", func(t *testing.T) {
		site := newFakeSite(t, map[string]page{
			"/web/":        listing("a"),
			"/web/page/2/": {status: http.StatusForbidden},
			"/web/page/3/": empty(),
		})
		result, err := newTestWalker(t, site, Config{}).Discover(context.Background(), "web")
		require.NoError(t, err)

		assert.Equal(t, []int{1, 2, 3}, result.Pages)
		assert.Equal(t, StopMisses, result.Stop)
	})

	t.Run("single failure is skipped", func(t *testing.T) {
		site := newFakeSite(t, map[string]page{
			"/web/":        listing("a"),
			"/web/page/2/": {status: http.StatusInternalServerError},
			"/web/page/3/": listing("c"),
		})
		result, err := newTestWalker(t, site, Config{}).Discover(context.Background(), "web")
		require.NoError(t, err)

		assert.Equal(t, []int{1, 2, 3, 4}, result.Pages)
		assert.Equal(t, []string{"a", "c"}, slugs(site, result))
	})
}

// TestWalk_MaxPages verifies the page cap
func TestWalk_MaxPages(t *testing.T) {
	site := newFakeSite(t, map[string]page{
		"/tech/":        listing("a"),
		"/tech/page/2/": listing("b"),
		"/tech/page/3/": listing("c"),
	})
	result, err := newTestWalker(t, site, Config{MaxPages: 2}).Discover(context.Background(), "tech")
	require.NoError(t, err)

	assert.Equal(t, []string{"/tech/", "/tech/page/2/"}, site.paths())
	assert.Equal(t, StopMaxPages, result.Stop)
}

// TestWalk_DeduplicatesAcrossPages verifies first-seen order is kept and a
// page of repeats still counts as a page with entries
func TestWalk_DeduplicatesAcrossPages(t *testing.T) {
	site := newFakeSite(t, map[string]page{
		"/web/":        listing("a", "b", "a"),
		"/web/page/2/": listing("b", "a"),
		"/web/page/3/": listing("c", "b"),
	})
	result, err := newTestWalker(t, site, Config{}).Discover(context.Background(), "web")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, slugs(site, result))
	assert.Equal(t, []int{1, 2, 3, 4}, result.Pages)
}

func TestWalk_CancelledContext(t *testing.T) {
	site := newFakeSite(t, map[string]page{"/web/": listing("a")})
	w := newTestWalker(t, site, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := w.Discover(ctx, "web")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StopCancelled, result.Stop)
	assert.Empty(t, result.Items)
}

func TestParseListing(t *testing.T) {
	html := `<html><body>
		<article class="post">
			<span class="favtag">  Réseaux
			  sociaux </span>
			<img src="" data-lazy-src="https://cdn.example.com/t.jpg">
			<h2><a href="/instagram-nouveautes/">Instagram</a></h2>
			<a href="/autre/">second link</a>
		</article>
		<a href="https://www.blogdumoderateur.com/wrapped/"><article class="post"><h2>Wrapped</h2></article></a>
		<article class="post"><h2>No link</h2></article>
		<article class="page"><a href="/not-a-post/">x</a></article>
	</body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	items := ParseListing(doc, "https://www.blogdumoderateur.com/social/page/2/", "social", DefaultListingSelectors())
	require.Len(t, items, 2)

	assert.Equal(t, "https://www.blogdumoderateur.com/instagram-nouveautes/", items[0].URL)
	assert.Equal(t, "social", items[0].Category)
	assert.Equal(t, "Réseaux sociaux", items[0].Favtag)
	assert.Equal(t, "https://cdn.example.com/t.jpg", items[0].Thumbnail)

	assert.Equal(t, "https://www.blogdumoderateur.com/wrapped/", items[1].URL)
	assert.Empty(t, items[1].Favtag)
	assert.Empty(t, items[1].Thumbnail)
}

func TestListingURL(t *testing.T) {
	w := NewWalker(nil, Config{BaseURL: "https://example.com/"}, nil, nil)

	assert.Equal(t, "https://example.com/web/", w.ListingURL("web", 1))
	assert.Equal(t, "https://example.com/web/page/7/", w.ListingURL("web", 7))
	assert.Equal(t, "https://example.com/web/feed/", w.FeedURL("web"))
}

func TestPaginationState(t *testing.T) {
	tests := []struct {
		from paginationState
		on   outcome
		want paginationState
	}{
		{advancing, outcomeEntries, advancing},
		{advancing, outcomeEmpty, oneMiss},
		{advancing, outcomeError, oneMiss},
		{advancing, outcomeNotFound, stopped},
		{oneMiss, outcomeEntries, advancing},
		{oneMiss, outcomeEmpty, stopped},
		{oneMiss, outcomeError, stopped},
		{oneMiss, outcomeNotFound, stopped},
		{stopped, outcomeEntries, stopped},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.next(tt.on), "%d on %s", tt.from, tt.on)
	}
}
