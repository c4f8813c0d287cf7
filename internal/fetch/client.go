// Package fetch provides the layered HTTP fetcher used by all source
// adapters and the article extractor: plain HTTP with UA rotation and
// jittered delays first, a stealth headless browser when a target blocks,
// and an archival mirror for historical pages.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// ErrBotWall indicates the target answered with a blocking status and the
// browser fallback is either unavailable or also failed.
var ErrBotWall = errors.New("request blocked by bot protection")

var defaultUserAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0",
}

var blockedStatusCodes = map[int]bool{
	http.StatusForbidden:          true,
	http.StatusTooManyRequests:    true,
	http.StatusServiceUnavailable: true,
}

// domainFailureThreshold is the failure count after which the browser path is
// preferred for a domain.
const domainFailureThreshold = 2

// Options controls a single Get call.
type Options struct {
	// AllowStatus lists non-2xx status codes that are returned to the caller
	// instead of being retried.
	AllowStatus []int
	// Allow404 makes a 404 return (nil body, no error) instead of an error.
	Allow404 bool
	// NoBrowserFallback disables the browser escalation path (API endpoints).
	NoBrowserFallback bool
	// CheckContent, when set, validates the fetched document; a failing check
	// escalates to the browser the same way a blocked status does.
	CheckContent func(*goquery.Document) bool
}

// Response carries the result of a plain HTTP fetch.
type Response struct {
	URL        string
	StatusCode int
	Body       string
	Header     http.Header
}

// Config holds fetcher tuning knobs.
type Config struct {
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	MinDelay    time.Duration
	MaxDelay    time.Duration
	UserAgents  []string
	// Browser is the escalation path; nil disables browser fallback entirely.
	Browser *Browser
}

// Client is the layered HTTP fetcher.
type Client struct {
	httpClient *http.Client
	cfg        Config
	browser    *Browser
	logger     zerolog.Logger

	mu            sync.Mutex
	failedDomains map[string]int
	rng           *rand.Rand
}

// NewClient creates a fetcher with the given configuration.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 1500 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = defaultUserAgents
	}

	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		cfg:           cfg,
		browser:       cfg.Browser,
		logger:        logger,
		failedDomains: make(map[string]int),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *Client) randomHeaders() http.Header {
	c.mu.Lock()
	ua := c.cfg.UserAgents[c.rng.Intn(len(c.cfg.UserAgents))]
	c.mu.Unlock()

	h := http.Header{}
	h.Set("User-Agent", ua)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Cache-Control", "max-age=0")
	return h
}

func (c *Client) sleepABit(ctx context.Context) {
	if c.cfg.MaxDelay <= 0 {
		return
	}
	c.mu.Lock()
	span := c.cfg.MaxDelay - c.cfg.MinDelay
	delay := c.cfg.MinDelay
	if span > 0 {
		delay += time.Duration(c.rng.Int63n(int64(span)))
	}
	c.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

func (c *Client) markDomainFailed(rawURL string) {
	d := domainOf(rawURL)
	if d == "" {
		return
	}
	c.mu.Lock()
	c.failedDomains[d]++
	c.mu.Unlock()
}

func (c *Client) preferBrowser(rawURL string) bool {
	d := domainOf(rawURL)
	if d == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failedDomains[d] >= domainFailureThreshold
}

// Get performs a plain HTTP GET with jittered delay, UA rotation, and
// exponential retry on transient failures. Blocked statuses are returned as
// ErrBotWall so callers (and GetDocument) can escalate.
func (c *Client) Get(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	allowed := make(map[int]bool, len(opts.AllowStatus))
	for _, s := range opts.AllowStatus {
		allowed[s] = true
	}

	var resp *Response
	operation := func() error {
		c.sleepABit(ctx)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("invalid url: %w", err))
		}
		req.Header = c.randomHeaders()

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer httpResp.Body.Close()

		if opts.Allow404 && httpResp.StatusCode == http.StatusNotFound {
			resp = nil
			return nil
		}

		if blockedStatusCodes[httpResp.StatusCode] && !allowed[httpResp.StatusCode] {
			c.markDomainFailed(rawURL)
			return backoff.Permanent(fmt.Errorf("%w: status %d for %s", ErrBotWall, httpResp.StatusCode, rawURL))
		}

		if httpResp.StatusCode >= 500 && !allowed[httpResp.StatusCode] {
			return fmt.Errorf("server error: status %d for %s", httpResp.StatusCode, rawURL)
		}

		if httpResp.StatusCode >= 400 && !allowed[httpResp.StatusCode] {
			return backoff.Permanent(fmt.Errorf("http error: status %d for %s", httpResp.StatusCode, rawURL))
		}

		body, err := readBody(httpResp)
		if err != nil {
			return fmt.Errorf("failed to read body: %w", err)
		}

		resp = &Response{
			URL:        httpResp.Request.URL.String(),
			StatusCode: httpResp.StatusCode,
			Body:       body,
			Header:     httpResp.Header,
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(c.cfg.BackoffBase),
			backoff.WithMaxInterval(30*time.Second),
		),
		uint64(c.cfg.MaxRetries),
	), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetDocument fetches a page as a parsed HTML document with the full
// escalation ladder: plain HTTP, then the stealth browser on blocking or a
// failed content check.
func (c *Client) GetDocument(ctx context.Context, rawURL string, opts Options) (*goquery.Document, error) {
	useBrowser := c.browser != nil && !opts.NoBrowserFallback

	// Domains with a failure history skip the plain path.
	if useBrowser && c.preferBrowser(rawURL) {
		c.logger.Info().Str("url", rawURL).Msg("using browser directly for flagged domain")
		return c.browser.GetDocument(ctx, rawURL)
	}

	resp, err := c.Get(ctx, rawURL, opts)
	if err != nil {
		if errors.Is(err, ErrBotWall) && useBrowser {
			c.logger.Info().Str("url", rawURL).Msg("plain fetch blocked, escalating to browser")
			return c.browser.GetDocument(ctx, rawURL)
		}
		if useBrowser {
			c.logger.Warn().Err(err).Str("url", rawURL).Msg("plain fetch failed, trying browser")
			if doc, berr := c.browser.GetDocument(ctx, rawURL); berr == nil {
				return doc, nil
			}
		}
		return nil, err
	}
	if resp == nil {
		return nil, nil // allowed 404
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	if opts.CheckContent != nil && !opts.CheckContent(doc) {
		if useBrowser {
			c.logger.Info().Str("url", rawURL).Msg("content check failed, escalating to browser")
			bdoc, berr := c.browser.GetDocument(ctx, rawURL)
			if berr == nil && opts.CheckContent(bdoc) {
				return bdoc, nil
			}
			return nil, fmt.Errorf("%w: content check failed for %s", ErrBotWall, rawURL)
		}
		return nil, fmt.Errorf("content check failed for %s", rawURL)
	}

	return doc, nil
}

func readBody(resp *http.Response) (string, error) {
	reader, err := decompressedReader(resp)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	b, err := io.ReadAll(io.LimitReader(reader, 16<<20))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
