package store

import (
	"cmp"
	"slices"
	"strings"

	"github.com/pevans/bdmscrape/article"
)

// Match reports whether r satisfies every constraint of f.
func (f Filter) Match(r *article.Record) bool {
	if f.Category != "" && article.Deref(r.Category) != f.Category {
		return false
	}
	if f.Tag != "" && !slices.Contains(r.Tags, f.Tag) {
		return false
	}
	if f.CategoryLike != "" &&
		!containsFold(article.Deref(r.Category), f.CategoryLike) &&
		!containsFold(article.Deref(r.Favtag), f.CategoryLike) {
		return false
	}
	if f.DateFrom != "" || f.DateTo != "" {
		if r.PublicationDate == nil {
			return false
		}
		if f.DateFrom != "" && *r.PublicationDate < f.DateFrom {
			return false
		}
		if f.DateTo != "" && *r.PublicationDate > f.DateTo {
			return false
		}
	}
	if f.Query != "" && !matchesQuery(r, f.Query) {
		return false
	}
	return true
}

func matchesQuery(r *article.Record, q string) bool {
	if containsFold(article.Deref(r.Title), q) ||
		containsFold(article.Deref(r.Summary), q) ||
		containsFold(article.Deref(r.Content), q) {
		return true
	}
	return slices.ContainsFunc(r.Tags, func(t string) bool {
		return containsFold(t, q)
	})
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// sortKey returns the value records are ordered by, and false for nulls.
func sortKey(r *article.Record, field string) (string, bool) {
	switch field {
	case SortScrapedAt:
		return formatTime(r.ScrapedAt), true
	case SortTitle:
		return article.Deref(r.Title), r.Title != nil
	default:
		return article.Deref(r.PublicationDate), r.PublicationDate != nil
	}
}

// sortRecords orders records in place the same way the SQL backend does:
// nulls last, then by key, then by URL.
func sortRecords(records []article.Record, opts FindOptions) {
	slices.SortStableFunc(records, func(a, b article.Record) int {
		ka, okA := sortKey(&a, opts.Sort)
		kb, okB := sortKey(&b, opts.Sort)
		if okA != okB {
			if okA {
				return -1
			}
			return 1
		}
		c := cmp.Compare(ka, kb)
		if opts.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.URL, b.URL)
	})
}

// paginate applies offset and limit to items.
func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

// facetValues returns the values of field held by r.
func facetValues(r *article.Record, field Field) []string {
	switch field {
	case FieldCategory:
		return optional(r.Category)
	case FieldFavtag:
		return optional(r.Favtag)
	case FieldAuthor:
		return optional(r.Author)
	case FieldTags:
		return r.Tags
	}
	return nil
}

func optional(p *string) []string {
	if p == nil {
		return nil
	}
	return []string{*p}
}

// rankFacets orders counts by count descending, then value ascending, and
// truncates to limit when positive.
func rankFacets(counts map[string]int64, limit int) []FacetCount {
	facets := make([]FacetCount, 0, len(counts))
	for v, n := range counts {
		facets = append(facets, FacetCount{Value: v, Count: n})
	}
	slices.SortFunc(facets, func(a, b FacetCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Value, b.Value)
	})
	if limit > 0 && len(facets) > limit {
		facets = facets[:limit]
	}
	return facets
}
