package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pevans/bdmscrape/article"
	"github.com/pevans/bdmscrape/config"
	"github.com/pevans/bdmscrape/store"
)

// queryFlags are the filter and paging flags shared by articles and search.
type queryFlags struct {
	category     *string
	tag          *string
	categoryLike *string
	since        *string
	until        *string
	sortBy       *string
	order        *string
	limit        *int
	offset       *int
	format       *string
}

func addQueryFlags(fs *flag.FlagSet) *queryFlags {
	return &queryFlags{
		category:     fs.String("category", "", "Filter by category (web, marketing, social, tech, tools)"),
		tag:          fs.String("tag", "", "Filter by exact tag"),
		categoryLike: fs.String("like", "", "Filter by text contained in category or favtag"),
		since:        fs.String("since", "", "Published on or after a date (YYYY-MM-DD) or duration ago (e.g., 7d)"),
		until:        fs.String("until", "", "Published on or before a date (YYYY-MM-DD) or duration ago"),
		sortBy:       fs.String("sort", store.SortPublicationDate, "Sort by: publication_date, scraped_at, title"),
		order:        fs.String("order", "desc", "Sort order: asc, desc"),
		limit:        fs.Int("limit", 20, "Maximum number of articles to display"),
		offset:       fs.Int("offset", 0, "Number of articles to skip"),
		format:       fs.String("format", "table", "Output format: table, json, compact"),
	}
}

// build turns the flags into a store query or exits on invalid input.
func (q *queryFlags) build(now time.Time) (store.Filter, store.FindOptions) {
	if *q.category != "" && !article.ValidCategory(*q.category) {
		fmt.Fprintf(os.Stderr, "Error: unknown category: %s (must be one of %v)\n", *q.category, article.Categories)
		os.Exit(1)
	}

	since, err := parseDateBound(*q.since, now)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid -since: %v\n", err)
		os.Exit(1)
	}
	until, err := parseDateBound(*q.until, now)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid -until: %v\n", err)
		os.Exit(1)
	}

	if *q.order != "asc" && *q.order != "desc" {
		fmt.Fprintf(os.Stderr, "Error: invalid order: %s (must be asc or desc)\n", *q.order)
		os.Exit(1)
	}
	if *q.limit < 0 || *q.offset < 0 {
		fmt.Fprintf(os.Stderr, "Error: -limit and -offset must not be negative\n")
		os.Exit(1)
	}

	filter := store.Filter{
		Category:     *q.category,
		Tag:          *q.tag,
		CategoryLike: *q.categoryLike,
		DateFrom:     since,
		DateTo:       until,
	}
	opts := store.FindOptions{
		Sort:   *q.sortBy,
		Desc:   *q.order == "desc",
		Limit:  *q.limit,
		Offset: *q.offset,
	}
	return filter, opts
}

func handleArticles(cfg *config.Config, args []string) {
	// Parse flags for articles command
	fs := flag.NewFlagSet("articles", flag.ExitOnError)
	q := addQueryFlags(fs)
	fs.Parse(args)

	filter, opts := q.build(time.Now())
	runQuery(cfg, filter, opts, *q.format)
}

func handleSearch(cfg *config.Config, args []string) {
	// Parse flags for search command
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	q := addQueryFlags(fs)
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: search text is required\n")
		fmt.Fprintf(os.Stderr, "Usage: bdm search [flags] <text>\n")
		os.Exit(1)
	}

	filter, opts := q.build(time.Now())
	filter.Query = strings.Join(fs.Args(), " ")
	runQuery(cfg, filter, opts, *q.format)
}

func runQuery(cfg *config.Config, filter store.Filter, opts store.FindOptions, format string) {
	ctx := context.Background()
	gw := openStore(ctx, cfg)
	defer gw.Close()

	total, err := gw.Count(ctx, filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to count articles: %v\n", err)
		os.Exit(1)
	}
	records, err := gw.Find(ctx, filter, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to list articles: %v\n", err)
		os.Exit(1)
	}

	printArticles(records, total, opts.Offset, format)
}

func handleStats(cfg *config.Config, args []string) {
	// Parse flags for stats command
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	field := fs.String("field", "", "Show only the value counts of one field: category, favtag, tags, author")
	top := fs.Int("top", 10, "Number of values to show per field (0 for all)")
	format := fs.String("format", "table", "Output format: table, json")
	fs.Parse(args)

	ctx := context.Background()
	gw := openStore(ctx, cfg)
	defer gw.Close()

	if *field != "" {
		f, err := store.ParseField(*field)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		facets, err := gw.AggregateDistinctCounts(ctx, f, *top)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to count %s: %v\n", f, err)
			os.Exit(1)
		}
		if *format == "json" {
			printJSON(map[string]any{"field": f, "values": facets})
			return
		}
		printFacets(strings.ToUpper(string(f)), facets)
		return
	}

	total, err := gw.CountAll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to count articles: %v\n", err)
		os.Exit(1)
	}
	categories, err := gw.AggregateDistinctCounts(ctx, store.FieldCategory, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to count categories: %v\n", err)
		os.Exit(1)
	}
	tags, err := gw.AggregateDistinctCounts(ctx, store.FieldTags, *top)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to count tags: %v\n", err)
		os.Exit(1)
	}
	oldest, newest, err := gw.PublicationDateRange(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to read date range: %v\n", err)
		os.Exit(1)
	}

	if *format == "json" {
		printJSON(map[string]any{
			"total":      total,
			"categories": categories,
			"top_tags":   tags,
			"oldest":     oldest,
			"newest":     newest,
		})
		return
	}

	fmt.Printf("Articles stored: %d\n", total)
	if oldest != nil && newest != nil {
		fmt.Printf("Published:       %s to %s\n", *oldest, *newest)
	}
	fmt.Println()
	printFacets("Categories", categories)
	fmt.Println()
	printFacets("Top tags", tags)
}

func handleRuns(cfg *config.Config, args []string) {
	// Parse flags for runs command
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	limit := fs.Int("limit", 10, "Number of runs to show")
	format := fs.String("format", "table", "Output format: table, json")
	fs.Parse(args)

	ctx := context.Background()
	gw := openStore(ctx, cfg)
	defer gw.Close()

	runs, err := gw.ListRuns(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to list runs: %v\n", err)
		os.Exit(1)
	}

	if *format == "json" {
		printJSON(map[string]any{"runs": runs, "total": len(runs)})
		return
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded yet. Run 'bdm scrape' to start one.")
		return
	}

	fmt.Printf("%-19s %-9s %5s %6s %8s  %s\n", "STARTED", "ELAPSED", "NEW", "FAILED", "TOTAL", "CATEGORIES")
	fmt.Println("--------------------------------------------------------------------------------")
	for _, run := range runs {
		marker := ""
		if run.Interrupted {
			marker = " (interrupted)"
		}
		fmt.Printf("%-19s %-9s %5d %6d %8d  %s%s\n",
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			formatDuration(run.FinishedAt.Sub(run.StartedAt)),
			run.TotalNew,
			run.Failed,
			run.CountAfter,
			strings.Join(run.Categories, ","),
			marker,
		)
	}
}
