package article

import (
	"strings"
	"time"
)

// DateLayout is the calendar-day layout used for publication dates.
const DateLayout = "2006-01-02"

// Categories lists the top-level sections of the source site in crawl order.
// Each one maps directly to a path segment of the site's URL scheme.
var Categories = []string{"web", "marketing", "social", "tech", "tools"}

// ValidCategory reports whether name is one of the known top-level sections.
func ValidCategory(name string) bool {
	for _, c := range Categories {
		if c == name {
			return true
		}
	}
	return false
}

// Image is an image embedded in an article body.
type Image struct {
	URL      string `json:"url" bson:"url"`
	AltText  string `json:"alt_text" bson:"alt_text"`
	Position int    `json:"position" bson:"position"`
}

// Record is a single stored article, keyed by URL. Optional fields are nil
// when extraction could not resolve them; they are serialized as explicit
// nulls so that consumers see every field.
type Record struct {
	URL             string    `json:"url" bson:"url"`
	Title           *string   `json:"title" bson:"title"`
	Thumbnail       *string   `json:"thumbnail" bson:"thumbnail"`
	Category        *string   `json:"category" bson:"category"`
	Favtag          *string   `json:"favtag" bson:"favtag"`
	Tags            []string  `json:"tags" bson:"tags"`
	Summary         *string   `json:"summary" bson:"summary"`
	PublicationDate *string   `json:"publication_date" bson:"publication_date"`
	Author          *string   `json:"author" bson:"author"`
	Images          []Image   `json:"images" bson:"images"`
	Content         *string   `json:"content" bson:"content"`
	ScrapedAt       time.Time `json:"scraped_at" bson:"scraped_at"`
}

// Normalize makes sure the collection fields are non-nil and that the tag
// invariants hold: no duplicates, favtag present.
func (r *Record) Normalize() {
	tags := NewTagSet()
	if r.Favtag != nil {
		tags.Add(*r.Favtag)
	}
	for _, t := range r.Tags {
		tags.Add(t)
	}
	r.Tags = tags.Slice()

	if r.Images == nil {
		r.Images = []Image{}
	}
}

// WorkItem describes one article to fetch, carrying metadata seen on the
// listing page.
type WorkItem struct {
	URL       string
	Category  string
	Favtag    string
	Thumbnail string
}

// TagSet is an insertion-ordered set of tags.
type TagSet struct {
	order []string
	seen  map[string]struct{}
}

// NewTagSet creates an empty tag set.
func NewTagSet() *TagSet {
	return &TagSet{seen: make(map[string]struct{})}
}

// Add appends tag unless it is blank or already present. It returns true when
// the tag was added.
func (s *TagSet) Add(tag string) bool {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return false
	}
	if _, ok := s.seen[tag]; ok {
		return false
	}
	s.seen[tag] = struct{}{}
	s.order = append(s.order, tag)
	return true
}

// Slice returns the tags in insertion order. The result is never nil.
func (s *TagSet) Slice() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// StringPtr returns a pointer to s, or nil when s is blank.
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the value behind p, or "" for nil.
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
