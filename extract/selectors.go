package extract

// Selectors defines where each article field is looked up on an article
// page. Every list is tried in order; the first non-empty match wins.
type Selectors struct {
	Title          []string `yaml:"title"`
	Thumbnail      []string `yaml:"thumbnail"`
	ThumbnailAttrs []string `yaml:"thumbnail_attrs"`
	Tags           string   `yaml:"tags"`
	Summary        []string `yaml:"summary"`
	// DateISO elements carry an ISO-8601 value in their datetime or content
	// attribute.
	DateISO            []string `yaml:"date_iso"`
	DateText           []string `yaml:"date_text"`
	Author             []string `yaml:"author"`
	Content            string   `yaml:"content"`
	ContentExclude     string   `yaml:"content_exclude"`
	ContentBlocks      string   `yaml:"content_blocks"`
	ImageAttrs         []string `yaml:"image_attrs"`
	ExcludeImagePrefix string   `yaml:"exclude_image_prefix"`
}

// DefaultSelectors returns the selectors matching the source site's
// WordPress theme.
func DefaultSelectors() Selectors {
	return Selectors{
		Title: []string{"h1.entry-title"},
		Thumbnail: []string{
			"img.attachment-full",
			"img.wp-post-image",
			"img.attachment-thumbnail",
			"img.size-thumbnail",
			"div.post-thumbnail img",
		},
		ThumbnailAttrs: []string{"src", "data-src", "data-lazy-src"},
		Tags:           "a.post-tag",
		Summary:        []string{"div.article-hat p", "div.entry-summary"},
		DateISO: []string{
			"time.updated[datetime]",
			`meta[property="article:published_time"][content]`,
		},
		DateText:           []string{"time.updated", "time.entry-date", "time"},
		Author:             []string{"span.byline a", `a[rel="author"]`},
		Content:            "div.entry-content",
		ContentExclude:     "script, style, iframe, .related-posts, .sharedaddy, .jp-relatedposts",
		ContentBlocks:      "p, h2, h3, h4, ul, ol, blockquote",
		ImageAttrs:         []string{"src", "data-lazy-src"},
		ExcludeImagePrefix: "data:",
	}
}

// Merge returns s with every empty field filled from defaults.
func (s Selectors) Merge(defaults Selectors) Selectors {
	pickList := func(v, d []string) []string {
		if len(v) == 0 {
			return d
		}
		return v
	}
	pick := func(v, d string) string {
		if v == "" {
			return d
		}
		return v
	}

	return Selectors{
		Title:              pickList(s.Title, defaults.Title),
		Thumbnail:          pickList(s.Thumbnail, defaults.Thumbnail),
		ThumbnailAttrs:     pickList(s.ThumbnailAttrs, defaults.ThumbnailAttrs),
		Tags:               pick(s.Tags, defaults.Tags),
		Summary:            pickList(s.Summary, defaults.Summary),
		DateISO:            pickList(s.DateISO, defaults.DateISO),
		DateText:           pickList(s.DateText, defaults.DateText),
		Author:             pickList(s.Author, defaults.Author),
		Content:            pick(s.Content, defaults.Content),
		ContentExclude:     pick(s.ContentExclude, defaults.ContentExclude),
		ContentBlocks:      pick(s.ContentBlocks, defaults.ContentBlocks),
		ImageAttrs:         pickList(s.ImageAttrs, defaults.ImageAttrs),
		ExcludeImagePrefix: pick(s.ExcludeImagePrefix, defaults.ExcludeImagePrefix),
	}
}
