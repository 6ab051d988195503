// Package config resolves bdm settings with precedence: environment
// variables, then the config file (~/.bdm/config.yaml), then defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/pevans/bdmscrape/article"
	"github.com/pevans/bdmscrape/crawler"
	"github.com/pevans/bdmscrape/discovery"
	"github.com/pevans/bdmscrape/fetch"
	"github.com/pevans/bdmscrape/logging"
	"github.com/pevans/bdmscrape/retry"
	"github.com/pevans/bdmscrape/scraper"
	"github.com/pevans/bdmscrape/store"
)

const (
	defaultSQLiteFile = "articles.db"
	defaultFileDir    = "articles"
	defaultMongoURI   = "mongodb://localhost:27017"
)

// StorageConfig selects the store backend.
type StorageConfig struct {
	Type     string `yaml:"type" json:"type"`
	DSN      string `yaml:"dsn" json:"dsn"`
	Database string `yaml:"database,omitempty" json:"database,omitempty"`
}

// RetryConfig mirrors retry.Policy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
}

// CrawlConfig controls discovery, fetching and the worker pool.
type CrawlConfig struct {
	BaseURL           string        `yaml:"base_url" json:"base_url"`
	Categories        []string      `yaml:"categories" json:"categories"`
	MaxPages          int           `yaml:"max_pages" json:"max_pages"`
	Workers           int           `yaml:"workers" json:"workers"`
	PageDelay         time.Duration `yaml:"page_delay" json:"page_delay"`
	CategoryDelay     time.Duration `yaml:"category_delay" json:"category_delay"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"`
	UserAgent         string        `yaml:"user_agent" json:"user_agent"`
	AcceptLanguage    string        `yaml:"accept_language" json:"accept_language"`
	Retry             RetryConfig   `yaml:"retry" json:"retry"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// APIConfig controls the browse API server.
type APIConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// Config represents the structure of ~/.bdm/config.yaml and the resolved
// settings.
type Config struct {
	Storage StorageConfig      `yaml:"storage" json:"storage"`
	Crawl   CrawlConfig        `yaml:"crawl" json:"crawl"`
	Site    scraper.SiteConfig `yaml:"site" json:"site"`
	Logging LoggingConfig      `yaml:"logging" json:"logging"`
	API     APIConfig          `yaml:"api" json:"api"`

	// Path is the config file the settings were read from, if any.
	Path string `yaml:"-" json:"path,omitempty"`
}

// Default returns the default settings. The storage DSN is left empty and
// resolved per backend by Load.
func Default() *Config {
	walker := discovery.DefaultConfig()
	orchestration := crawler.DefaultConfig()
	policy := retry.DefaultPolicy()

	return &Config{
		Storage: StorageConfig{Type: store.BackendSQLite},
		Crawl: CrawlConfig{
			BaseURL:        walker.BaseURL,
			Categories:     slices.Clone(article.Categories),
			MaxPages:       walker.MaxPages,
			Workers:        orchestration.Workers,
			PageDelay:      walker.PageDelay,
			CategoryDelay:  orchestration.CategoryDelay,
			FetchTimeout:   30 * time.Second,
			UserAgent:      fetch.DefaultUserAgent,
			AcceptLanguage: fetch.DefaultAcceptLanguage,
			Retry: RetryConfig{
				MaxAttempts: policy.MaxAttempts,
				BaseDelay:   policy.BaseDelay,
				MaxDelay:    policy.MaxDelay,
			},
		},
		Site:    scraper.DefaultSiteConfig(),
		Logging: LoggingConfig{Level: "info"},
		API:     APIConfig{Addr: ":8080"},
	}
}

// Load resolves the settings from the config file and the environment. A
// config file that cannot be read is returned as a warning alongside the
// settings resolved without it, so callers can continue as the CLI does.
func Load() (cfg *Config, warning error, err error) {
	cfg, warning = LoadConfigFile()
	if cfg == nil {
		cfg = Default()
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, warning, err
	}
	cfg.fillDefaultDSN()

	if err := cfg.Validate(); err != nil {
		return nil, warning, err
	}
	return cfg, warning, nil
}

// ApplyEnv overrides settings from environment variables read through
// getenv. Empty variables are ignored.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"BDM_STORAGE_TYPE", &c.Storage.Type},
		{"BDM_STORAGE_DSN", &c.Storage.DSN},
		{"BDM_STORAGE_DATABASE", &c.Storage.Database},
		{"BDM_BASE_URL", &c.Crawl.BaseURL},
		{"BDM_USER_AGENT", &c.Crawl.UserAgent},
		{"BDM_DISCOVERY_MODE", &c.Site.DiscoveryMode},
		{"BDM_LOG_LEVEL", &c.Logging.Level},
		{"BDM_LOG_FILE", &c.Logging.File},
		{"BDM_API_ADDR", &c.API.Addr},
	}
	for _, s := range strs {
		if val := getenv(s.key); val != "" {
			*s.dst = val
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"BDM_WORKERS", &c.Crawl.Workers},
		{"BDM_MAX_PAGES", &c.Crawl.MaxPages},
	}
	for _, i := range ints {
		val := getenv(i.key)
		if val == "" {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", i.key, err)
		}
		*i.dst = n
	}

	return nil
}

func (c *Config) fillDefaultDSN() {
	if c.Storage.DSN != "" {
		return
	}
	switch c.Storage.Type {
	case store.BackendMongo:
		c.Storage.DSN = defaultMongoURI
	case store.BackendFile:
		c.Storage.DSN = defaultFileDir
	default:
		c.Storage.DSN = defaultSQLiteFile
	}
}

// Validate checks the resolved settings.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Type {
	case store.BackendSQLite, store.BackendMongo, store.BackendFile:
	default:
		errs = append(errs, fmt.Errorf("storage.type must be sqlite, mongo, or file (got %q)", c.Storage.Type))
	}

	if u, err := url.Parse(c.Crawl.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("crawl.base_url must be an absolute http(s) URL (got %q)", c.Crawl.BaseURL))
	}
	if len(c.Crawl.Categories) == 0 {
		errs = append(errs, errors.New("crawl.categories must not be empty"))
	}
	for _, name := range c.Crawl.Categories {
		if !article.ValidCategory(name) {
			errs = append(errs, fmt.Errorf("unknown category %q", name))
		}
	}
	if c.Crawl.MaxPages < 1 {
		errs = append(errs, errors.New("crawl.max_pages must be at least 1"))
	}
	if c.Crawl.Workers < 1 {
		errs = append(errs, errors.New("crawl.workers must be at least 1"))
	}
	if c.Crawl.PageDelay < 0 || c.Crawl.CategoryDelay < 0 || c.Crawl.FetchTimeout < 0 {
		errs = append(errs, errors.New("crawl delays and timeouts must not be negative"))
	}
	if c.Crawl.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("crawl.requests_per_second must not be negative"))
	}
	if c.Crawl.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("crawl.retry.max_attempts must be at least 1"))
	}
	if err := c.Site.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// StoreOptions returns the options for store.Open.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Type:     c.Storage.Type,
		DSN:      c.Storage.DSN,
		Database: c.Storage.Database,
	}
}

// RetryPolicy returns the policy shared by fetches and store writes.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Crawl.Retry.MaxAttempts,
		BaseDelay:   c.Crawl.Retry.BaseDelay,
		MaxDelay:    c.Crawl.Retry.MaxDelay,
	}
}

// FetchOptions returns the fetch client options. Logger and metrics are
// left for the caller.
func (c *Config) FetchOptions() fetch.Options {
	return fetch.Options{
		UserAgent:         c.Crawl.UserAgent,
		AcceptLanguage:    c.Crawl.AcceptLanguage,
		Timeout:           c.Crawl.FetchTimeout,
		RequestsPerSecond: c.Crawl.RequestsPerSecond,
		Retry:             c.RetryPolicy(),
	}
}

// WalkerConfig returns the listing walker settings.
func (c *Config) WalkerConfig() discovery.Config {
	return discovery.Config{
		BaseURL:   c.Crawl.BaseURL,
		MaxPages:  c.Crawl.MaxPages,
		PageDelay: c.Crawl.PageDelay,
		Mode:      c.Site.DiscoveryMode,
		Selectors: c.Site.Listing,
	}
}

// CrawlerConfig returns the orchestration settings.
func (c *Config) CrawlerConfig() crawler.Config {
	return crawler.Config{
		Categories:    slices.Clone(c.Crawl.Categories),
		Workers:       c.Crawl.Workers,
		CategoryDelay: c.Crawl.CategoryDelay,
	}
}

// LoggingOptions returns the logger options.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{Level: c.Logging.Level, File: c.Logging.File}
}
