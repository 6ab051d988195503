package main

import (
	"fmt"
	"os"

	"github.com/pevans/bdmscrape/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Get subcommand
	subcommand := os.Args[1]
	args := os.Args[2:]

	switch subcommand {
	case "help", "--help", "-h":
		printUsage()
		return
	}

	cfg := loadConfig()

	switch subcommand {
	case "init":
		handleInit(cfg, args)
	case "doctor":
		handleDoctor(cfg, args)
	case "scrape":
		handleScrape(cfg, args)
	case "article":
		handleArticle(cfg, args)
	case "articles":
		handleArticles(cfg, args)
	case "search":
		handleSearch(cfg, args)
	case "stats":
		handleStats(cfg, args)
	case "runs":
		handleRuns(cfg, args)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}
}

// loadConfig resolves settings with precedence: environment variables, the
// config file, defaults. An unreadable config file is only a warning.
func loadConfig() *config.Config {
	cfg, warning, err := config.Load()
	if warning != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config file: %v\n", warning)
		fmt.Fprintf(os.Stderr, "Continuing with defaults and environment variables...\n\n")
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func printUsage() {
	fmt.Println("bdm - Blog du Modérateur article scraper")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  bdm <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init       Create the config file and initialize storage")
	fmt.Println("  doctor     Check configuration and storage health")
	fmt.Println("  scrape     Crawl categories and store new articles")
	fmt.Println("  article    Show one article, from the store or fetched live")
	fmt.Println("  articles   List stored articles")
	fmt.Println("  search     Search stored articles by text")
	fmt.Println("  stats      Show counts by category, tag, and date")
	fmt.Println("  runs       Show recent crawl runs")
	fmt.Println("  help       Show this help message")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  BDM_CONFIG         Path to config file (default: ~/.bdm/config.yaml)")
	fmt.Println("  BDM_STORAGE_TYPE   Storage backend: sqlite, mongo, or file (default: sqlite)")
	fmt.Println("  BDM_STORAGE_DSN    Database path, mongo URI, or directory")
	fmt.Println("  BDM_BASE_URL       Site to crawl")
	fmt.Println("  BDM_WORKERS        Concurrent article fetches")
	fmt.Println("  BDM_MAX_PAGES      Listing pages per category")
	fmt.Println("  BDM_LOG_LEVEL      debug, info, warn, or error")
	fmt.Println("  BDM_LOG_FILE       Also write logs to this rotating file")
}
