package scraper

import (
	"fmt"

	"github.com/pevans/bdmscrape/discovery"
	"github.com/pevans/bdmscrape/extract"
)

// SiteConfig defines how articles are discovered and extracted on the source
// website. Empty fields fall back to the defaults for the site's theme.
type SiteConfig struct {
	DiscoveryMode string                     `yaml:"discovery_mode"` // "list", "feed" or "both"
	Listing       discovery.ListingSelectors `yaml:"listing"`
	Article       extract.Selectors          `yaml:"article"`
}

// DefaultSiteConfig returns the configuration matching the source site.
func DefaultSiteConfig() SiteConfig {
	return SiteConfig{
		DiscoveryMode: discovery.ModeList,
		Listing:       discovery.DefaultListingSelectors(),
		Article:       extract.DefaultSelectors(),
	}
}

// Validate checks the fields that have no usable fallback.
func (c SiteConfig) Validate() error {
	if c.DiscoveryMode != "" && !discovery.ValidMode(c.DiscoveryMode) {
		return fmt.Errorf("discovery_mode must be list, feed, or both (got %q)", c.DiscoveryMode)
	}
	return nil
}
