package config

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
)

// Handler serves the effective configuration read-only.
type Handler struct {
	cfg *Config
}

// NewHandler creates a config handler for cfg.
func NewHandler(cfg *Config) *Handler {
	return &Handler{cfg: cfg}
}

// Register adds the config routes to group.
func (h *Handler) Register(group *gin.RouterGroup) {
	group.GET("/config", h.HandleGetConfig)
}

// HandleGetConfig handles GET /api/v1/meta/config.
func (h *Handler) HandleGetConfig(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, h.cfg.Redacted())
}

// Redacted returns a copy of c with credentials removed from the storage
// DSN.
func (c *Config) Redacted() *Config {
	out := *c
	if u, err := url.Parse(c.Storage.DSN); err == nil && u.User != nil {
		out.Storage.DSN = u.Redacted()
	}
	return &out
}
