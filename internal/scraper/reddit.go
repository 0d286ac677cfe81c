package scraper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/TheUltimateAbsol/technews/internal/models"
	"github.com/TheUltimateAbsol/technews/internal/text"
)

// RedditSourceName identifies threads scraped from old.reddit
const RedditSourceName = "reddit"

// RedditOptions configures a RedditSource
type RedditOptions struct {
	BaseURL    string
	Subreddits []string
	// Listing is one of hot, new, top or rising
	Listing   string
	PostLimit int
	// MaxAge drops posts older than this; zero keeps everything
	MaxAge    time.Duration
	Collector CollectorOptions
	Now       func() time.Time
}

// RedditSource handles scraping Reddit for posts and comment threads
type RedditSource struct {
	collector  *colly.Collector
	baseURL    string
	subreddits []string
	listing    string
	postLimit  int
	maxAge     time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// redditListing is a post found on a subreddit listing page
type redditListing struct {
	fullname  string
	post      *models.Post
	permalink string
}

// NewRedditSource creates a new Reddit scraper instance
func NewRedditSource(opts RedditOptions, logger *zap.Logger) (*RedditSource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := newCollector(opts.BaseURL, opts.Collector)
	if err != nil {
		return nil, err
	}
	listing := opts.Listing
	if listing == "" {
		listing = "hot"
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &RedditSource{
		collector:  c,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		subreddits: opts.Subreddits,
		listing:    listing,
		postLimit:  opts.PostLimit,
		maxAge:     opts.MaxAge,
		now:        now,
		logger:     logger.With(zap.String("source", RedditSourceName)),
	}, nil
}

// Name implements Source
func (rs *RedditSource) Name() string { return RedditSourceName }

// FetchThreads scrapes every configured subreddit. A failing subreddit is
// logged and skipped; the error is returned only when all of them fail.
func (rs *RedditSource) FetchThreads(ctx context.Context, skip func(postID string) bool) ([]Thread, error) {
	var (
		threads []Thread
		errs    []error
	)
	for _, subreddit := range rs.subreddits {
		if err := ctx.Err(); err != nil {
			return threads, err
		}
		found, err := rs.scrapeSubreddit(ctx, subreddit, skip)
		if err != nil {
			rs.logger.Warn("Error scraping subreddit", zap.String("subreddit", subreddit), zap.Error(err))
			errs = append(errs, fmt.Errorf("r/%s: %w", subreddit, err))
			continue
		}
		threads = append(threads, found...)
	}
	if len(rs.subreddits) > 0 && len(errs) == len(rs.subreddits) {
		return nil, errors.Join(errs...)
	}
	return threads, nil
}

// scrapeSubreddit scrapes a specific subreddit listing and then each post
func (rs *RedditSource) scrapeSubreddit(ctx context.Context, subreddit string, skip func(string) bool) ([]Thread, error) {
	listURL := fmt.Sprintf("%s/r/%s/%s", rs.baseURL, subreddit, rs.listing)

	// Clone the collector for this specific request
	c := rs.collector.Clone()
	abortOnCancel(ctx, c)

	var listings []redditListing
	c.OnHTML("#siteTable > div.thing.link", func(e *colly.HTMLElement) {
		if e.DOM.HasClass("promoted") {
			return
		}
		if rs.postLimit > 0 && len(listings) >= rs.postLimit {
			return
		}
		listings = append(listings, rs.parseListing(e, subreddit))
	})

	c.OnRequest(func(r *colly.Request) {
		rs.logger.Debug("Visiting", zap.String("url", r.URL.String()))
	})

	if err := c.Visit(listURL); err != nil {
		return nil, err
	}

	cutoff := time.Time{}
	if rs.maxAge > 0 {
		cutoff = rs.now().Add(-rs.maxAge)
	}

	var threads []Thread
	for _, l := range listings {
		if err := ctx.Err(); err != nil {
			return threads, err
		}
		if l.post.Timestamp.Before(cutoff) {
			continue
		}
		if skip != nil && skip(l.post.ID) {
			continue
		}
		records := rs.scrapePostDetails(ctx, l)
		threads = append(threads, Thread{
			Post:       l.post,
			Records:    records,
			RootParent: models.CommentID(l.fullname),
		})
		rs.logger.Info("Found new post",
			zap.String("title", l.post.Title),
			zap.String("post_id", l.post.ID),
			zap.Time("posted", l.post.Timestamp),
		)
	}
	return threads, nil
}

func (rs *RedditSource) parseListing(e *colly.HTMLElement, subreddit string) redditListing {
	fullname := e.Attr("data-fullname")

	post := &models.Post{
		ID:        RedditSourceName + ":" + fullname,
		Source:    RedditSourceName,
		Community: "r/" + subreddit,
		Title:     strings.TrimSpace(e.ChildText("a.title")),
		Author:    e.Attr("data-author"),
		Timestamp: rs.parsePostTime(e),
	}

	// Extract author from href (format: /user/username)
	if post.Author == "" {
		post.Author = strings.TrimPrefix(e.ChildAttr("a.author", "href"), "/user/")
	}
	if score, err := strconv.ParseInt(e.Attr("data-score"), 10, 64); err == nil {
		post.Score = score
	}
	if count, err := strconv.Atoi(e.Attr("data-comments-count")); err == nil {
		post.CommentsCount = count
	}

	permalink := e.Attr("data-permalink")
	if permalink == "" {
		permalink = e.ChildAttr("a.comments", "href")
	}
	if permalink != "" {
		permalink = e.Request.AbsoluteURL(permalink)
	}

	post.URL = e.Attr("data-url")
	if post.URL == "" {
		post.URL = e.ChildAttr("a.title", "href")
	}
	if post.URL != "" {
		post.URL = e.Request.AbsoluteURL(post.URL)
	}

	return redditListing{fullname: fullname, post: post, permalink: permalink}
}

// parsePostTime reads data-timestamp (unix milliseconds), falling back to
// the time element and finally to now.
func (rs *RedditSource) parsePostTime(e *colly.HTMLElement) time.Time {
	if ts := e.Attr("data-timestamp"); ts != "" {
		if millis, err := strconv.ParseInt(ts, 10, 64); err == nil {
			return time.UnixMilli(millis).UTC()
		}
		rs.logger.Debug("Error parsing timestamp", zap.String("value", ts))
	}
	if datetime := e.ChildAttr("time", "datetime"); datetime != "" {
		if parsed, err := time.Parse(time.RFC3339, datetime); err == nil {
			return parsed.UTC()
		}
	}
	return rs.now().UTC()
}

// scrapePostDetails fetches the full post body and every comment on the
// page as a flat record list. Replies on old.reddit are nested inside
// their parent's markup, so the parent is the closest enclosing comment.
func (rs *RedditSource) scrapePostDetails(ctx context.Context, l redditListing) []models.CommentRecord {
	if l.permalink == "" {
		return nil
	}
	c := rs.collector.Clone()
	abortOnCancel(ctx, c)

	post := l.post
	// Extract post body (the first usertext on the page, not a comment)
	c.OnHTML("#siteTable div.usertext-body", func(e *colly.HTMLElement) {
		if post.Body == "" {
			post.Body = text.Normalize(e.Text)
		}
	})

	var records []models.CommentRecord
	c.OnHTML("div.commentarea div.thing.comment", func(e *colly.HTMLElement) {
		id := e.Attr("data-fullname")
		if id == "" {
			return
		}
		entry := e.DOM.ChildrenFiltered("div.entry")
		parent := e.DOM.ParentsFiltered("div.thing.comment").First().AttrOr("data-fullname", l.fullname)

		author := strings.TrimSpace(entry.Find("p.tagline a.author").First().Text())
		if author == "" {
			author = "[deleted]"
		}
		record := models.CommentRecord{
			ID:       models.CommentID(id),
			ParentID: models.CommentID(parent),
			Author:   author,
			Content:  text.Normalize(entry.Find("div.usertext-body").First().Text()),
			Score:    models.ParseScore(entry.Find("p.tagline span.score.unvoted").First().AttrOr("title", "")),
		}
		if datetime, ok := entry.Find("p.tagline time").First().Attr("datetime"); ok {
			if created, err := time.Parse(time.RFC3339, datetime); err == nil {
				millis := created.UnixMilli()
				record.Created = &millis
			}
		}
		records = append(records, record)
	})

	c.OnError(func(r *colly.Response, err error) {
		rs.logger.Warn("Error fetching post details", zap.String("url", r.Request.URL.String()), zap.Error(err))
	})

	if err := c.Visit(l.permalink); err != nil {
		rs.logger.Debug("Post details visit failed", zap.String("post_id", post.ID), zap.Error(err))
	}
	return records
}
