package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
	"github.com/pevans/bdmscrape/article"
	"github.com/pevans/bdmscrape/store"
)

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

// printArticles prints records in the requested format.
func printArticles(records []article.Record, total int64, offset int, format string) {
	switch format {
	case "json":
		printJSON(map[string]any{"articles": records, "total": total})
	case "compact":
		printArticlesCompact(records)
	case "table":
		printArticlesTable(records, total, offset)
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid format: %s (must be table, json, or compact)\n", format)
		os.Exit(1)
	}
}

// printArticlesTable prints records in human-readable table format
func printArticlesTable(records []article.Record, total int64, offset int) {
	if len(records) == 0 {
		fmt.Println("No articles to display.")
		return
	}

	fmt.Printf("Showing %d-%d of %d articles\n\n", offset+1, offset+len(records), total)

	for _, r := range records {
		fmt.Printf("%s %s\n",
			pad(deref(r.PublicationDate, "----------"), 10),
			truncate(deref(r.Title, "(untitled)"), 68),
		)
		fmt.Printf("           %s | %s | %s\n",
			deref(r.Category, "?"),
			deref(r.Favtag, "-"),
			deref(r.Author, "unknown author"),
		)
		if len(r.Tags) > 0 {
			fmt.Printf("           Tags: %s\n", truncate(strings.Join(r.Tags, ", "), 68))
		}
		fmt.Printf("           %s\n", r.URL)
		fmt.Println()
	}
}

// printArticlesCompact prints one line per record
func printArticlesCompact(records []article.Record) {
	if len(records) == 0 {
		fmt.Println("No articles to display.")
		return
	}

	for _, r := range records {
		fmt.Printf("%s  %s  %s\n",
			pad(deref(r.PublicationDate, "----------"), 10),
			pad(deref(r.Category, "?"), 9),
			truncate(deref(r.Title, r.URL), 60),
		)
	}
}

// printArticle prints one record in full
func printArticle(r *article.Record, showContent bool) {
	fmt.Println(rule)
	fmt.Println(deref(r.Title, "(untitled)"))
	fmt.Println(rule)
	fmt.Println()

	fmt.Printf("Category:    %s\n", deref(r.Category, "-"))
	fmt.Printf("Favtag:      %s\n", deref(r.Favtag, "-"))
	fmt.Printf("Author:      %s\n", deref(r.Author, "Unknown"))
	fmt.Printf("Published:   %s\n", deref(r.PublicationDate, "Unknown"))
	fmt.Printf("Scraped:     %s\n", r.ScrapedAt.Local().Format("2006-01-02 15:04:05"))
	if len(r.Tags) > 0 {
		fmt.Printf("Tags:        %s\n", strings.Join(r.Tags, ", "))
	}
	fmt.Println()

	fmt.Printf("URL:         %s\n", r.URL)
	if r.Thumbnail != nil {
		fmt.Printf("Thumbnail:   %s\n", *r.Thumbnail)
	}
	fmt.Println()

	if r.Summary != nil {
		fmt.Println("Summary:")
		fmt.Println(wrapText(*r.Summary, 80))
		fmt.Println()
	}

	if len(r.Images) > 0 {
		fmt.Printf("Images (%d):\n", len(r.Images))
		for _, img := range r.Images {
			alt := ""
			if img.AltText != "" {
				alt = " (" + truncate(img.AltText, 40) + ")"
			}
			fmt.Printf("  %2d. %s%s\n", img.Position+1, img.URL, alt)
		}
		fmt.Println()
	}

	if r.Content == nil {
		return
	}
	if showContent {
		fmt.Println("Content:")
		for _, para := range strings.Split(*r.Content, "\n\n") {
			fmt.Println(wrapText(para, 80))
			fmt.Println()
		}
	} else {
		fmt.Printf("Content:     %d characters (use -content to show)\n", utf8.RuneCountInString(*r.Content))
	}
}

// printFacets prints value counts as an aligned two-column table
func printFacets(title string, facets []store.FacetCount) {
	fmt.Printf("%s:\n", title)
	if len(facets) == 0 {
		fmt.Println("  (none)")
		return
	}

	width := 0
	for _, f := range facets {
		width = max(width, runewidth.StringWidth(f.Value))
	}
	width = min(width, 40)

	for _, f := range facets {
		fmt.Printf("  %s  %6d\n", pad(truncate(f.Value, 40), width), f.Count)
	}
}

// printJSON prints v as indented JSON
func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to marshal JSON: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(string(data))
}

// truncate shortens s to at most width terminal columns.
func truncate(s string, width int) string {
	return runewidth.Truncate(s, width, "...")
}

// pad right-fills s with spaces to width terminal columns.
func pad(s string, width int) string {
	return runewidth.FillRight(s, width)
}

// wrapText wraps text to a maximum line width
func wrapText(text string, width int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return text
	}

	var lines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range words {
		w := runewidth.StringWidth(word)
		switch {
		case lineWidth == 0:
			currentLine.WriteString(word)
			lineWidth = w
		case lineWidth+1+w <= width:
			currentLine.WriteString(" ")
			currentLine.WriteString(word)
			lineWidth += 1 + w
		default:
			lines = append(lines, currentLine.String())
			currentLine.Reset()
			currentLine.WriteString(word)
			lineWidth = w
		}
	}

	if currentLine.Len() > 0 {
		lines = append(lines, currentLine.String())
	}

	return strings.Join(lines, "\n")
}
