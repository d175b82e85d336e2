// Package goodreads scrapes catalog metadata from Goodreads search results
// and book pages.
package goodreads

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bookhive/bookhive/pkg/config"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

const userAgent = "Mozilla/5.0 (compatible; BookHive/1.0; +https://bookhive.buzz)"

// maxPageBytes caps how much of a page is read. Goodreads book pages are a
// few hundred KB.
const maxPageBytes = 8 << 20

// ErrUnexpectedStatus is wrapped into errors for non-200 responses.
var ErrUnexpectedStatus = errors.New("unexpected status from goodreads")

type Client struct {
	httpClient  *http.Client
	baseURL     *url.URL
	rateLimiter *rate.Limiter
}

// NewClient builds a client against cfg.GoodreadsBaseURL, limited to
// cfg.GoodreadsRequestsPerSecond outbound requests.
func NewClient(cfg *config.Config) (*Client, error) {
	base, err := url.Parse(cfg.GoodreadsBaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid goodreads base url")
	}
	rps := cfg.GoodreadsRequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:     base,
		rateLimiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}, nil
}

// resolve turns a stored source URL into one on the configured host, so tests
// and mirrors can point the client somewhere else.
func (c *Client) resolve(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Wrap(err, "invalid goodreads url")
	}
	u.Scheme = c.baseURL.Scheme
	u.Host = c.baseURL.Host
	return u.String(), nil
}

func (c *Client) fetch(ctx context.Context, target string) (*html.Node, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, errors.WithStack(err)
	}

	log := logger.FromContext(ctx)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "goodreads request failed")
	}
	defer resp.Body.Close()

	log.Debug("goodreads fetch", logger.Data{
		"url":         target,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, errors.Wrap(ErrUnexpectedStatus, fmt.Sprintf("GET %s: %d", target, resp.StatusCode))
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse goodreads page")
	}
	return doc, nil
}

func (c *Client) absolute(href string) string {
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if u.IsAbs() {
		return href
	}
	return c.baseURL.ResolveReference(u).String()
}

// cleanBookURL drops the search tracking query from a /book/show/ link.
func cleanBookURL(raw string) string {
	if i := strings.Index(raw, "?"); i >= 0 {
		return raw[:i]
	}
	return raw
}
