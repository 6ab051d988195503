package config

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	cfg.fillDefaultDSN()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "articles.db", cfg.Storage.DSN)
	assert.Equal(t, []string{"web", "marketing", "social", "tech", "tools"}, cfg.Crawl.Categories)
	assert.Equal(t, 8, cfg.Crawl.Workers)
	assert.Equal(t, 10, cfg.Crawl.MaxPages)
	assert.Equal(t, 500*time.Millisecond, cfg.Crawl.PageDelay)
	assert.Equal(t, time.Second, cfg.Crawl.CategoryDelay)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"BDM_STORAGE_TYPE":   "file",
		"BDM_STORAGE_DSN":    "/var/lib/bdm",
		"BDM_WORKERS":        "2",
		"BDM_MAX_PAGES":      "4",
		"BDM_LOG_LEVEL":      "debug",
		"BDM_DISCOVERY_MODE": "feed",
		"BDM_API_ADDR":       "127.0.0.1:9000",
	}))
	require.NoError(t, err)

	assert.Equal(t, "file", cfg.Storage.Type)
	assert.Equal(t, "/var/lib/bdm", cfg.Storage.DSN)
	assert.Equal(t, 2, cfg.Crawl.Workers)
	assert.Equal(t, 4, cfg.Crawl.MaxPages)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "feed", cfg.Site.DiscoveryMode)
	assert.Equal(t, "127.0.0.1:9000", cfg.API.Addr)
	assert.Equal(t, Default().Crawl.BaseURL, cfg.Crawl.BaseURL, "unset variables change nothing")
}

func TestApplyEnv_InvalidNumber(t *testing.T) {
	err := Default().ApplyEnv(envMap(map[string]string{"BDM_WORKERS": "many"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BDM_WORKERS")
}

// TestLoad_Precedence verifies env vars beat the file and the file beats
// defaults
func TestLoad_Precedence(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`storage:
  type: file
crawl:
  workers: 3
  max_pages: 5
`), 0o600))
	t.Setenv("BDM_CONFIG", configPath)
	t.Setenv("BDM_WORKERS", "6")
	t.Setenv("BDM_STORAGE_DSN", "")
	t.Setenv("BDM_STORAGE_TYPE", "")
	t.Setenv("BDM_MAX_PAGES", "")

	cfg, warning, err := Load()
	require.NoError(t, err)
	require.NoError(t, warning)

	assert.Equal(t, 6, cfg.Crawl.Workers, "env beats file")
	assert.Equal(t, 5, cfg.Crawl.MaxPages, "file beats default")
	assert.Equal(t, Default().Crawl.PageDelay, cfg.Crawl.PageDelay)
	assert.Equal(t, "file", cfg.Storage.Type)
	assert.Equal(t, "articles", cfg.Storage.DSN, "default DSN follows the backend")
}

func TestLoad_BrokenFileIsAWarning(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("crawl: [oops"), 0o600))
	t.Setenv("BDM_CONFIG", configPath)

	cfg, warning, err := Load()
	require.NoError(t, err)
	assert.Error(t, warning)
	assert.Equal(t, Default().Crawl.Workers, cfg.Crawl.Workers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.Storage.Type = "postgres" }, "storage.type"},
		{"relative base url", func(c *Config) { c.Crawl.BaseURL = "/blog" }, "crawl.base_url"},
		{"unknown category", func(c *Config) { c.Crawl.Categories = []string{"sport"} }, `unknown category "sport"`},
		{"no categories", func(c *Config) { c.Crawl.Categories = nil }, "crawl.categories"},
		{"zero workers", func(c *Config) { c.Crawl.Workers = 0 }, "crawl.workers"},
		{"zero pages", func(c *Config) { c.Crawl.MaxPages = 0 }, "crawl.max_pages"},
		{"negative delay", func(c *Config) { c.Crawl.PageDelay = -time.Second }, "must not be negative"},
		{"no attempts", func(c *Config) { c.Crawl.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"bad mode", func(c *Config) { c.Site.DiscoveryMode = "sitemap" }, "discovery_mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Storage = StorageConfig{Type: "mongo", DSN: "mongodb://localhost", Database: "bdm"}
	cfg.Crawl.Categories = []string{"tech"}
	cfg.Crawl.RequestsPerSecond = 4

	assert.Equal(t, "mongo", cfg.StoreOptions().Type)
	assert.Equal(t, "bdm", cfg.StoreOptions().Database)

	fetchOpts := cfg.FetchOptions()
	assert.Equal(t, 4.0, fetchOpts.RequestsPerSecond)
	assert.Equal(t, 30*time.Second, fetchOpts.Timeout)
	assert.Equal(t, 3, fetchOpts.Retry.MaxAttempts)

	walker := cfg.WalkerConfig()
	assert.Equal(t, "https://www.blogdumoderateur.com", walker.BaseURL)
	assert.Equal(t, "article.post", walker.Selectors.Entry)

	crawl := cfg.CrawlerConfig()
	assert.Equal(t, []string{"tech"}, crawl.Categories)
	assert.Equal(t, 8, crawl.Workers)

	assert.Equal(t, "info", cfg.LoggingOptions().Level)
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Storage.DSN = "mongodb://scraper:s3cret@db:27017"

	redacted := cfg.Redacted()
	assert.NotContains(t, redacted.Storage.DSN, "s3cret")
	assert.Contains(t, cfg.Storage.DSN, "s3cret", "receiver is untouched")

	cfg.Storage.DSN = "/home/me/.bdm/articles.db"
	assert.Equal(t, cfg.Storage.DSN, cfg.Redacted().Storage.DSN)
}

func TestHandleGetConfig(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := Default()
	cfg.Storage.DSN = "mongodb://scraper:s3cret@db:27017"

	router := gin.New()
	NewHandler(cfg).Register(router.Group("/api/v1/meta"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/meta/config", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "s3cret")

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	crawl := body["crawl"].(map[string]any)
	assert.Equal(t, "https://www.blogdumoderateur.com", crawl["base_url"])
}
