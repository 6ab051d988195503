package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/pevans/bdmscrape/logging"
	"github.com/pevans/bdmscrape/metrics"
	"github.com/pevans/bdmscrape/retry"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
)

// Default request headers. The source site serves French content, so the
// language preference asks for it first.
const (
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	DefaultAcceptLanguage = "fr-FR,fr;q=0.9,en-US;q=0.8,en;q=0.7"
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 10 << 20

// ErrTimeout is returned when a single request exceeds the client timeout
// while the caller's context is still live. It is transient.
var ErrTimeout = errors.New("request timed out")

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error: %d %s (%s)", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// IsTransient reports whether err is worth retrying: transport failures,
// request timeouts, 429 and 5xx responses. Cancellation of the caller's
// context is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return true
}

// Options configures a Client.
type Options struct {
	UserAgent      string
	AcceptLanguage string
	// Timeout bounds each individual request.
	Timeout time.Duration
	// RequestsPerSecond caps the request rate across all callers; zero
	// disables the limiter.
	RequestsPerSecond float64
	Burst             int
	Retry             retry.Policy
	HTTPClient        *http.Client
	Logger            *zap.Logger
	Metrics           *metrics.Metrics
}

// Client performs paced GET requests against the source site. It is safe
// for concurrent use.
type Client struct {
	http           *http.Client
	userAgent      string
	acceptLanguage string
	timeout        time.Duration
	limiter        *rate.Limiter
	retry          retry.Policy
	logger         *zap.Logger
	metrics        *metrics.Metrics
}

// NewClient creates a fetch client with the given options.
func NewClient(opts Options) *Client {
	c := &Client{
		http:           opts.HTTPClient,
		userAgent:      opts.UserAgent,
		acceptLanguage: opts.AcceptLanguage,
		timeout:        opts.Timeout,
		retry:          opts.Retry,
		logger:         logging.OrNop(opts.Logger),
		metrics:        opts.Metrics,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.acceptLanguage == "" {
		c.acceptLanguage = DefaultAcceptLanguage
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), max(opts.Burst, 1))
	}
	return c
}

// Fetch GETs url and returns the body decoded to UTF-8. Transient failures
// are retried according to the client's retry policy.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := c.retry.Do(ctx, IsTransient, func(ctx context.Context) error {
		var err error
		body, err = c.get(ctx, url)
		if err != nil && IsTransient(err) {
			c.logger.Debug("transient fetch failure", zap.String("url", url), zap.Error(err))
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Document fetches url and parses it as HTML.
func (c *Client) Document(ctx context.Context, url string) (*goquery.Document, error) {
	body, err := c.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Language", c.acceptLanguage)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.Request("error")
		return nil, c.transportError(ctx, reqCtx, "failed to fetch URL", err)
	}
	defer resp.Body.Close()

	c.metrics.Request(statusClass(resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	reader, err := charset.NewReader(io.LimitReader(resp.Body, maxBodyBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, c.transportError(ctx, reqCtx, "failed to detect charset", err)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, c.transportError(ctx, reqCtx, "failed to read body", err)
	}
	return body, nil
}

// transportError classifies a failed request by context: the caller's
// cancellation wins, then the per-request deadline, then the raw error.
func (c *Client) transportError(ctx, reqCtx context.Context, msg string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if reqCtx.Err() != nil {
		return fmt.Errorf("%s: %w after %s", msg, ErrTimeout, c.timeout)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}
