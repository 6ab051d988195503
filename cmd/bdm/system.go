package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pevans/bdmscrape/config"
	"github.com/pevans/bdmscrape/store"
)

func handleInit(cfg *config.Config, args []string) {
	// Parse flags for init command
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "Overwrite the config file with the defaults")
	fs.Parse(args)

	fmt.Println("Initializing bdm...")
	fmt.Println()

	initSucceeded := true
	createdSomething := false

	// Create default config file as the first step
	created, err := config.WriteDefaultConfigFile(*force)
	configPath, _ := config.ConfigFilePath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "  ✗ Failed to create config file: %v\n", err)
		initSucceeded = false
	} else if created {
		fmt.Printf("  ✓ Config file: %s\n", configPath)
		createdSomething = true

		// Re-resolve so storage is created where the new file says
		cfg = loadConfig()
	} else {
		fmt.Printf("  Config file: %s (already exists)\n", configPath)
	}

	storeExists := storageExists(cfg)
	if storeExists && !*force {
		fmt.Printf("  Storage (%s): %s (already exists)\n", cfg.Storage.Type, cfg.Redacted().Storage.DSN)
	} else if initSucceeded {
		if cfg.Storage.Type == store.BackendSQLite {
			if dir := filepath.Dir(cfg.Storage.DSN); dir != "." {
				if err := os.MkdirAll(dir, 0o700); err != nil {
					fmt.Fprintf(os.Stderr, "  ✗ Failed to create storage directory: %v\n", err)
					initSucceeded = false
				}
			}
		}

		if initSucceeded {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			gw, err := store.Open(ctx, cfg.StoreOptions())
			cancel()
			if err != nil {
				fmt.Fprintf(os.Stderr, "  ✗ Failed to initialize %s storage: %v\n", cfg.Storage.Type, err)
				initSucceeded = false
			} else {
				gw.Close()
				fmt.Printf("  ✓ Storage (%s): %s\n", cfg.Storage.Type, cfg.Redacted().Storage.DSN)
				createdSomething = true
			}
		}
	}

	fmt.Println()

	if !initSucceeded {
		fmt.Println("✗ Initialization failed")
		os.Exit(1)
	}

	if !createdSomething && !*force {
		fmt.Println("✓ Already initialized")
		fmt.Println()
		fmt.Println("Use 'bdm doctor' to check storage health")
	} else {
		fmt.Println("✓ Initialized successfully")
		fmt.Println()
		fmt.Println("You can now:")
		fmt.Println("  - Scrape articles with 'bdm scrape'")
		fmt.Println("  - Check storage health with 'bdm doctor'")
	}
}

// storageExists reports whether local storage is already present. Remote
// backends are always (re)initialized, which is idempotent.
func storageExists(cfg *config.Config) bool {
	switch cfg.Storage.Type {
	case store.BackendSQLite, store.BackendFile:
		_, err := os.Stat(cfg.Storage.DSN)
		return err == nil
	}
	return false
}

func handleDoctor(cfg *config.Config, args []string) {
	// Parse flags for doctor command
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	verbose := fs.Bool("verbose", false, "Show detailed diagnostic information")
	fs.Parse(args)

	fmt.Println("Checking bdm health...")
	fmt.Println()

	hasErrors := false
	hasWarnings := false

	// Check config file
	fmt.Println("Configuration:")
	if cfg.Path != "" {
		fmt.Printf("  Path: %s\n", cfg.Path)
		fmt.Println("  ✓ Config file is readable")
	} else {
		configPath, _ := config.ConfigFilePath()
		fmt.Printf("  Path: %s\n", configPath)
		fmt.Println("  ⚠ Warning: No config file; using defaults")
		fmt.Println("    Run 'bdm init' to create it")
		hasWarnings = true
	}
	if *verbose {
		fmt.Printf("  Site: %s\n", cfg.Crawl.BaseURL)
		fmt.Printf("  Categories: %v\n", cfg.Crawl.Categories)
		fmt.Printf("  Workers: %d, max pages: %d, discovery: %s\n", cfg.Crawl.Workers, cfg.Crawl.MaxPages, cfg.Site.DiscoveryMode)
	}

	fmt.Println()

	// Check storage
	fmt.Printf("Storage (%s):\n", cfg.Storage.Type)
	fmt.Printf("  DSN: %s\n", cfg.Redacted().Storage.DSN)

	if cfg.Storage.Type != store.BackendMongo {
		if stat, err := os.Stat(cfg.Storage.DSN); os.IsNotExist(err) {
			fmt.Println("  ✗ Storage does not exist")
			fmt.Println("    Run 'bdm init' to create it")
			hasErrors = true
		} else if err != nil {
			fmt.Printf("  ✗ Cannot access storage: %v\n", err)
			hasErrors = true
		} else {
			// Database files should be 0600, directories 0700 (owner only)
			perm := stat.Mode().Perm()
			expected := "600"
			if stat.IsDir() {
				expected = "700"
			}
			if *verbose {
				fmt.Printf("  Permissions: %o\n", perm)
			}
			if perm&0o077 != 0 {
				fmt.Println("  ⚠ Warning: Storage has overly permissive permissions")
				fmt.Printf("    Current: %o, expected: %s\n", perm, expected)
				fmt.Printf("    Consider: chmod %s %s\n", expected, cfg.Storage.DSN)
				hasWarnings = true
			}
		}
	}

	if !hasErrors {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		gw, err := store.Open(ctx, cfg.StoreOptions())
		if err != nil {
			fmt.Printf("  ✗ Failed to open storage: %v\n", err)
			hasErrors = true
		} else {
			defer gw.Close()
			fmt.Println("  ✓ Storage is accessible")

			if total, err := gw.CountAll(ctx); err != nil {
				fmt.Printf("  ✗ Could not count articles: %v\n", err)
				hasErrors = true
			} else {
				fmt.Printf("  Articles stored: %d\n", total)
			}

			if runs, err := gw.ListRuns(ctx, 1); err != nil {
				fmt.Printf("  ⚠ Warning: Could not list runs: %v\n", err)
				hasWarnings = true
			} else if len(runs) > 0 {
				last := runs[0]
				fmt.Printf("  Last run: %s (%d new", last.StartedAt.Local().Format("2006-01-02 15:04"), last.TotalNew)
				if last.Interrupted {
					fmt.Print(", interrupted")
				}
				fmt.Println(")")
			} else if *verbose {
				fmt.Println("  Last run: never")
			}

			// Per-file problems only show up in the file backend
			if fileStore, ok := gw.(*store.FileStore); ok {
				result, err := fileStore.List(ctx)
				if err != nil {
					fmt.Printf("  ⚠ Warning: Could not list articles: %v\n", err)
					hasWarnings = true
				} else if len(result.Errors) > 0 {
					fmt.Printf("  ⚠ Warning: %d article file(s) could not be read\n", len(result.Errors))
					if *verbose {
						for _, readErr := range result.Errors {
							fmt.Printf("    %s\n", readErr.Error())
						}
					}
					hasWarnings = true
				}
			}
		}
	}

	fmt.Println()

	// Print summary
	if hasErrors {
		fmt.Println("✗ Storage has errors")
		fmt.Println("  Run 'bdm init' to initialize storage")
		os.Exit(1)
	} else if hasWarnings {
		fmt.Println("✓ Functional but has warnings")
		if !*verbose {
			fmt.Println("  Run 'bdm doctor -verbose' for more details")
		}
	} else {
		fmt.Println("✓ All checks passed")
	}
}
