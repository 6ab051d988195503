package discovery

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"
	"github.com/pevans/bdmscrape/article"
	"github.com/pevans/bdmscrape/extract"
)

// FeedURL returns the RSS feed URL of category.
func (w *Walker) FeedURL(category string) string {
	return fmt.Sprintf("%s/%s/feed/", w.cfg.BaseURL, category)
}

func (w *Walker) feedItems(ctx context.Context, category string) ([]article.WorkItem, error) {
	feedURL := w.FeedURL(category)
	body, err := w.fetcher.Fetch(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	return FeedWorkItems(feed, feedURL, category), nil
}

// FeedWorkItems converts feed entries to work items. gofeed normalizes RSS
// and Atom links to item.Link; items without one are skipped.
func FeedWorkItems(feed *gofeed.Feed, feedURL, category string) []article.WorkItem {
	var items []article.WorkItem
	for _, item := range feed.Items {
		link := strings.TrimSpace(item.Link)
		if link == "" {
			continue
		}
		items = append(items, article.WorkItem{
			URL:       extract.Resolve(feedURL, link),
			Category:  category,
			Favtag:    feedFavtag(item, category),
			Thumbnail: feedThumbnail(item),
		})
	}
	return items
}

// feedFavtag picks the first feed category that is not the section itself.
// WordPress lists the primary tag before the others.
func feedFavtag(item *gofeed.Item, category string) string {
	for _, c := range item.Categories {
		c = strings.TrimSpace(c)
		if c != "" && !strings.EqualFold(c, category) {
			return c
		}
	}
	return ""
}

func feedThumbnail(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	return ""
}
