// Package api serves a read-only JSON browse API over the article store.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pevans/bdmscrape/article"
	"github.com/pevans/bdmscrape/config"
	"github.com/pevans/bdmscrape/logging"
	"github.com/pevans/bdmscrape/store"
	"go.uber.org/zap"
)

const (
	defaultLimit = 50
	maxLimit     = 500
	dateLayout   = "2006-01-02"
)

// Options carries the optional collaborators of a Server.
type Options struct {
	Logger *zap.Logger
	// Config, when set, is served at /api/v1/meta/config.
	Config *config.Config
}

// Server represents the HTTP browse API.
type Server struct {
	store  store.Gateway
	logger *zap.Logger
	cfg    *config.Config
}

// NewServer creates a browse API server over gw.
func NewServer(gw store.Gateway, opts Options) *Server {
	return &Server{
		store:  gw,
		logger: logging.OrNop(opts.Logger),
		cfg:    opts.Config,
	}
}

// SetupRouter configures the Gin router with all browse routes.
func (s *Server) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.logger))

	// Add CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	api := router.Group("/api/v1")
	api.GET("/articles", s.HandleListArticles)
	api.GET("/articles/lookup", s.HandleGetArticle)
	api.GET("/facets/:field", s.HandleFacets)
	api.GET("/stats", s.HandleStats)
	api.GET("/runs", s.HandleListRuns)

	if s.cfg != nil {
		config.NewHandler(s.cfg).Register(api.Group("/meta"))
	}

	return router
}

// requestLogger logs one line per request.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

// ListArticlesResponse represents the response for GET /api/v1/articles.
type ListArticlesResponse struct {
	Articles []article.Record `json:"articles"`
	Total    int64            `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// StatsResponse represents the response for GET /api/v1/stats.
type StatsResponse struct {
	Total      int64              `json:"total"`
	Categories []store.FacetCount `json:"categories"`
	TopTags    []store.FacetCount `json:"top_tags"`
	Oldest     *string            `json:"oldest"`
	Newest     *string            `json:"newest"`
}

// errorResponse creates a standardized error response.
func errorResponse(code, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// handleError maps store errors to HTTP responses.
func (s *Server) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse("not_found", err.Error()))
	case errors.Is(err, store.ErrInvalidField):
		c.JSON(http.StatusBadRequest, errorResponse("validation_error", err.Error()))
	default:
		s.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Failed to process request"))
	}
}

// HandleListArticles handles GET /api/v1/articles.
func (s *Server) HandleListArticles(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", err.Error()))
		return
	}
	opts, err := parseFindOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", err.Error()))
		return
	}

	ctx := c.Request.Context()
	total, err := s.store.Count(ctx, filter)
	if err != nil {
		s.handleError(c, err)
		return
	}
	records, err := s.store.Find(ctx, filter, opts)
	if err != nil {
		s.handleError(c, err)
		return
	}
	if records == nil {
		records = []article.Record{}
	}

	c.JSON(http.StatusOK, ListArticlesResponse{
		Articles: records,
		Total:    total,
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
}

// HandleGetArticle handles GET /api/v1/articles/lookup?url=.
func (s *Server) HandleGetArticle(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", "url parameter is required"))
		return
	}

	record, err := s.store.Get(c.Request.Context(), url)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

// HandleFacets handles GET /api/v1/facets/{field}.
func (s *Server) HandleFacets(c *gin.Context) {
	field, err := store.ParseField(c.Param("field"))
	if err != nil {
		s.handleError(c, err)
		return
	}
	limit, err := intParam(c, "limit", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", err.Error()))
		return
	}

	facets, err := s.store.AggregateDistinctCounts(c.Request.Context(), field, limit)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"field": field, "values": facets})
}

// HandleStats handles GET /api/v1/stats.
func (s *Server) HandleStats(c *gin.Context) {
	top, err := intParam(c, "top", 10)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", err.Error()))
		return
	}

	ctx := c.Request.Context()
	var stats StatsResponse

	if stats.Total, err = s.store.CountAll(ctx); err != nil {
		s.handleError(c, err)
		return
	}
	if stats.Categories, err = s.store.AggregateDistinctCounts(ctx, store.FieldCategory, 0); err != nil {
		s.handleError(c, err)
		return
	}
	if stats.TopTags, err = s.store.AggregateDistinctCounts(ctx, store.FieldTags, top); err != nil {
		s.handleError(c, err)
		return
	}
	if stats.Oldest, stats.Newest, err = s.store.PublicationDateRange(ctx); err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// HandleListRuns handles GET /api/v1/runs.
func (s *Server) HandleListRuns(c *gin.Context) {
	limit, err := intParam(c, "limit", 20)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", err.Error()))
		return
	}

	runs, err := s.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.handleError(c, err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs, "total": len(runs)})
}

func parseFilter(c *gin.Context) (store.Filter, error) {
	f := store.Filter{
		Category:     c.Query("category"),
		Tag:          c.Query("tag"),
		CategoryLike: c.Query("category_like"),
		Query:        c.Query("q"),
		DateFrom:     c.Query("since"),
		DateTo:       c.Query("until"),
	}

	if f.Category != "" && !article.ValidCategory(f.Category) {
		return f, errors.New("invalid category parameter")
	}
	for _, d := range []string{f.DateFrom, f.DateTo} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(dateLayout, d); err != nil {
			return f, errors.New("invalid date parameter (expected YYYY-MM-DD)")
		}
	}

	return f, nil
}

func parseFindOptions(c *gin.Context) (store.FindOptions, error) {
	opts := store.DefaultFindOptions()
	if sort := c.Query("sort"); sort != "" {
		opts.Sort = sort
	}

	switch c.DefaultQuery("order", "desc") {
	case "desc":
		opts.Desc = true
	case "asc":
		opts.Desc = false
	default:
		return opts, errors.New("invalid order parameter (must be asc or desc)")
	}

	limit, err := intParam(c, "limit", defaultLimit)
	if err != nil {
		return opts, err
	}
	opts.Limit = min(limit, maxLimit)
	if opts.Limit == 0 {
		opts.Limit = defaultLimit
	}

	if opts.Offset, err = intParam(c, "offset", 0); err != nil {
		return opts, err
	}

	return opts, nil
}

// intParam reads a non-negative integer query parameter.
func intParam(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name + " parameter")
	}
	return n, nil
}
