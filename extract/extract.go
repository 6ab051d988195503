package extract

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pevans/bdmscrape/article"
	"github.com/pevans/bdmscrape/logging"
	"go.uber.org/zap"
)

// Strategy looks up one field value under root. It reports false when it
// found nothing usable.
type Strategy func(root *goquery.Selection) (string, bool)

// Chain is an ordered list of strategies; the first one that succeeds wins.
type Chain []Strategy

// Resolve runs the strategies in order and returns the first value found.
func (c Chain) Resolve(root *goquery.Selection) (string, bool) {
	for _, s := range c {
		if v, ok := s(root); ok {
			return v, true
		}
	}
	return "", false
}

// Text returns a strategy reading the whitespace-collapsed text of the first
// element matching selector.
func Text(selector string) Strategy {
	return func(root *goquery.Selection) (string, bool) {
		v := collapse(root.Find(selector).First().Text())
		return v, v != ""
	}
}

// Attr returns a strategy reading the first present, non-empty attribute of
// the first element matching selector.
func Attr(selector string, attrs ...string) Strategy {
	return func(root *goquery.Selection) (string, bool) {
		sel := root.Find(selector).First()
		if sel.Length() == 0 {
			return "", false
		}
		return firstAttr(sel, attrs)
	}
}

// ISODate returns a strategy parsing the datetime (or content) attribute of
// the first element matching selector as an ISO-8601 timestamp.
func ISODate(selector string) Strategy {
	return func(root *goquery.Selection) (string, bool) {
		raw, ok := Attr(selector, "datetime", "content")(root)
		if !ok {
			return "", false
		}
		day, err := ParseISODate(raw)
		return day, err == nil
	}
}

// FrenchDate returns a strategy parsing the text of the first element
// matching selector as a French date.
func FrenchDate(selector string) Strategy {
	return func(root *goquery.Selection) (string, bool) {
		text := strings.TrimSpace(root.Find(selector).First().Text())
		if text == "" {
			return "", false
		}
		day, err := ParseFrenchDate(text)
		return day, err == nil
	}
}

// Hints carries metadata already known from the listing page.
type Hints struct {
	Favtag    string
	Thumbnail string
}

// Extractor turns article pages into records.
type Extractor struct {
	sel       Selectors
	title     Chain
	thumbnail Chain
	summary   Chain
	date      Chain
	author    Chain
	logger    *zap.Logger
}

// New builds an extractor from sel. Empty selector fields fall back to the
// defaults.
func New(sel Selectors, logger *zap.Logger) *Extractor {
	sel = sel.Merge(DefaultSelectors())

	e := &Extractor{sel: sel, logger: logging.OrNop(logger)}
	for _, s := range sel.Title {
		e.title = append(e.title, Text(s))
	}
	for _, s := range sel.Thumbnail {
		e.thumbnail = append(e.thumbnail, Attr(s, sel.ThumbnailAttrs...))
	}
	for _, s := range sel.Summary {
		e.summary = append(e.summary, Text(s))
	}
	for _, s := range sel.DateISO {
		e.date = append(e.date, ISODate(s))
	}
	for _, s := range sel.DateText {
		e.date = append(e.date, FrenchDate(s))
	}
	for _, s := range sel.Author {
		e.author = append(e.author, Text(s))
	}
	return e
}

// ExtractHTML parses r and extracts a record from it. Only a failure to
// parse the document is an error.
func (e *Extractor) ExtractHTML(r io.Reader, pageURL string, hints Hints) (*article.Record, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return e.Extract(doc, pageURL, hints), nil
}

// Extract resolves every field of the article at pageURL. Fields that no
// strategy can resolve are left nil. The document is not modified.
func (e *Extractor) Extract(doc *goquery.Document, pageURL string, hints Hints) *article.Record {
	root := doc.Selection
	base, _ := url.Parse(pageURL)

	record := &article.Record{
		URL:    pageURL,
		Favtag: article.StringPtr(collapse(hints.Favtag)),
	}

	if v, ok := e.title.Resolve(root); ok {
		record.Title = &v
	}

	if hints.Thumbnail != "" {
		record.Thumbnail = article.StringPtr(hints.Thumbnail)
	} else if v, ok := e.thumbnail.Resolve(root); ok {
		record.Thumbnail = article.StringPtr(resolve(base, v))
	}

	record.Tags = e.tags(root, hints.Favtag)

	if v, ok := e.summary.Resolve(root); ok {
		record.Summary = &v
	}

	if v, ok := e.date.Resolve(root); ok {
		record.PublicationDate = &v
	} else {
		e.logger.Debug("publication date not found", zap.String("url", pageURL))
	}

	if v, ok := e.author.Resolve(root); ok {
		record.Author = &v
	}

	container := root.Find(e.sel.Content).First()
	record.Images = e.images(container, base)
	if container.Length() > 0 {
		record.Content = article.StringPtr(e.content(container))
	}

	return record
}

func (e *Extractor) tags(root *goquery.Selection, favtag string) []string {
	tags := article.NewTagSet()
	tags.Add(collapse(favtag))
	root.Find(e.sel.Tags).Each(func(_ int, s *goquery.Selection) {
		tags.Add(collapse(s.Text()))
	})
	return tags.Slice()
}

func (e *Extractor) images(container *goquery.Selection, base *url.URL) []article.Image {
	images := []article.Image{}
	container.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, ok := firstAttr(img, e.sel.ImageAttrs)
		if !ok || strings.HasPrefix(src, e.sel.ExcludeImagePrefix) {
			return
		}
		alt, _ := img.Attr("alt")
		images = append(images, article.Image{
			URL:      resolve(base, src),
			AltText:  strings.TrimSpace(alt),
			Position: len(images),
		})
	})
	return images
}

func (e *Extractor) content(container *goquery.Selection) string {
	body := container.Clone()
	body.Find(e.sel.ContentExclude).Remove()

	var blocks []string
	body.Find(e.sel.ContentBlocks).Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			blocks = append(blocks, text)
		}
	})
	return strings.Join(blocks, "\n\n")
}

// ListingThumbnail returns the first usable image URL inside an element
// using the given attribute priority.
func ListingThumbnail(s *goquery.Selection, attrs []string) (string, bool) {
	var found string
	s.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		if v, ok := firstAttr(img, attrs); ok {
			found = v
			return false
		}
		return true
	})
	return found, found != ""
}

func firstAttr(sel *goquery.Selection, attrs []string) (string, bool) {
	for _, a := range attrs {
		if v, ok := sel.Attr(a); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v, true
			}
		}
	}
	return "", false
}

// collapse trims s and replaces every run of whitespace with one space.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// resolve makes ref absolute against base. Unparseable references are
// returned unchanged.
func resolve(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

// Resolve is the exported form of resolve for listing pages.
func Resolve(pageURL, ref string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return ref
	}
	return resolve(base, ref)
}
