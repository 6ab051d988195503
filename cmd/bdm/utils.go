package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pevans/bdmscrape/article"
	"github.com/pevans/bdmscrape/config"
	"github.com/pevans/bdmscrape/store"
)

// openStore opens the configured store or exits.
func openStore(ctx context.Context, cfg *config.Config) store.Gateway {
	gw, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open %s store: %v\n", cfg.Storage.Type, err)
		os.Exit(1)
	}
	return gw
}

// parseDuration extends time.ParseDuration to support 'd' (days) and 'w'
// (weeks)
func parseDuration(s string) (time.Duration, error) {
	// Try standard parsing first
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	for suffix, unit := range map[string]time.Duration{"d": 24 * time.Hour, "w": 7 * 24 * time.Hour} {
		if !strings.HasSuffix(s, suffix) {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(strings.TrimSuffix(s, suffix), "%d", &n); err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		return time.Duration(n) * unit, nil
	}

	return 0, fmt.Errorf("invalid duration: %s", s)
}

// parseDateBound accepts a YYYY-MM-DD date or a duration back from now
// (e.g. 7d) and returns the date it designates.
func parseDateBound(s string, now time.Time) (string, error) {
	if s == "" {
		return "", nil
	}
	if _, err := time.Parse(article.DateLayout, s); err == nil {
		return s, nil
	}
	d, err := parseDuration(s)
	if err != nil {
		return "", fmt.Errorf("expected YYYY-MM-DD or a duration like 7d: %s", s)
	}
	return now.Add(-d).Format(article.DateLayout), nil
}

// formatDuration formats a duration in human-readable form
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}

// deref returns the pointed-to string or a placeholder.
func deref(p *string, placeholder string) string {
	if p == nil || *p == "" {
		return placeholder
	}
	return *p
}
