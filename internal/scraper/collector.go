package scraper

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
)

// CollectorOptions are the HTTP settings shared by every source
type CollectorOptions struct {
	UserAgent string
	// Delay is the pause between requests to the same site
	Delay   time.Duration
	Timeout time.Duration
}

// newCollector builds a collector restricted to the host of baseURL
func newCollector(baseURL string, opts CollectorOptions) (*colly.Collector, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid base url %q: missing host", baseURL)
	}

	options := []colly.CollectorOption{
		colly.AllowedDomains(u.Hostname()),
		// polls revisit the same listing pages
		colly.AllowURLRevisit(),
	}
	if opts.UserAgent != "" {
		options = append(options, colly.UserAgent(opts.UserAgent))
	}
	c := colly.NewCollector(options...)

	// Set rate limiting to be respectful
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Delay:       opts.Delay,
		RandomDelay: opts.Delay / 2,
	}); err != nil {
		return nil, fmt.Errorf("set rate limit: %w", err)
	}
	if opts.Timeout > 0 {
		c.SetRequestTimeout(opts.Timeout)
	}
	return c, nil
}

// abortOnCancel stops requests once ctx is done; colly has no native
// context support.
func abortOnCancel(ctx context.Context, c *colly.Collector) {
	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
}
