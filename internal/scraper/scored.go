package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/TheUltimateAbsol/technews/internal/models"
)

// ScoredSourceName identifies threads from a communities.win style API
const ScoredSourceName = "scored"

// ScoredOptions configures a ScoredSource
type ScoredOptions struct {
	BaseURL   string
	Community string
	PostLimit int
	// RootParent is the comment_parent_id the API gives top-level comments
	RootParent models.CommentID
	Collector  CollectorOptions
}

// ScoredSource fetches hot posts and their comments from the JSON API used
// by patriots.win and its sister communities.
type ScoredSource struct {
	collector  *colly.Collector
	baseURL    string
	community  string
	postLimit  int
	rootParent models.CommentID
	logger     *zap.Logger
}

type scoredPost struct {
	ID        models.CommentID `json:"id"`
	Title     string           `json:"title"`
	Score     float64          `json:"score"`
	UUID      string           `json:"uuid"`
	Created   float64          `json:"created"`
	Content   string           `json:"content"`
	Author    string           `json:"author"`
	Community string           `json:"community"`
}

type scoredListing struct {
	Posts []scoredPost `json:"posts"`
}

type scoredDetails struct {
	Posts    []scoredPost    `json:"posts"`
	Comments json.RawMessage `json:"comments"`
}

// NewScoredSource creates a new scored API source
func NewScoredSource(opts ScoredOptions, logger *zap.Logger) (*ScoredSource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := newCollector(opts.BaseURL, opts.Collector)
	if err != nil {
		return nil, err
	}
	return &ScoredSource{
		collector:  c,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		community:  opts.Community,
		postLimit:  opts.PostLimit,
		rootParent: opts.RootParent,
		logger:     logger.With(zap.String("source", ScoredSourceName), zap.String("community", opts.Community)),
	}, nil
}

// Name implements Source
func (s *ScoredSource) Name() string { return ScoredSourceName }

// FetchThreads implements Source. A post whose details cannot be fetched
// is logged and left out.
func (s *ScoredSource) FetchThreads(ctx context.Context, skip func(postID string) bool) ([]Thread, error) {
	var listing scoredListing
	listURL := fmt.Sprintf("%s/api/v2/post/hotv2.json?community=%s", s.baseURL, url.QueryEscape(s.community))
	if err := s.getJSON(ctx, listURL, &listing); err != nil {
		return nil, fmt.Errorf("fetch %s hot posts: %w", s.community, err)
	}

	posts := listing.Posts
	if s.postLimit > 0 && len(posts) > s.postLimit {
		posts = posts[:s.postLimit]
	}

	var threads []Thread
	for i, p := range posts {
		if err := ctx.Err(); err != nil {
			return threads, err
		}
		postID := ScoredSourceName + ":" + string(p.ID)
		if skip != nil && skip(postID) {
			continue
		}

		s.logger.Debug("Fetching post", zap.Int("index", i+1), zap.Int("total", len(posts)), zap.String("post_id", postID))
		thread, err := s.fetchThread(ctx, p.ID)
		if err != nil {
			s.logger.Warn("Error fetching post details", zap.String("post_id", postID), zap.Error(err))
			continue
		}
		threads = append(threads, thread)
	}
	return threads, nil
}

func (s *ScoredSource) fetchThread(ctx context.Context, id models.CommentID) (Thread, error) {
	var details scoredDetails
	detailsURL := fmt.Sprintf("%s/api/v2/post/post.json?id=%s&comments=true", s.baseURL, url.QueryEscape(string(id)))
	if err := s.getJSON(ctx, detailsURL, &details); err != nil {
		return Thread{}, err
	}

	if len(details.Posts) == 0 {
		return Thread{}, fmt.Errorf("post %s: no details returned", id)
	}
	meta := details.Posts[0]

	community := meta.Community
	if community == "" {
		community = s.community
	}
	post := &models.Post{
		ID:        ScoredSourceName + ":" + string(id),
		Source:    ScoredSourceName,
		Community: community,
		Title:     meta.Title,
		Body:      meta.Content,
		Author:    meta.Author,
		URL:       fmt.Sprintf("%s/p/%s", s.baseURL, meta.UUID),
		Score:     int64(meta.Score),
	}
	if meta.Created > 0 {
		post.Timestamp = time.UnixMilli(int64(meta.Created)).UTC()
	}

	return Thread{
		Post:       post,
		Records:    s.decodeComments(details.Comments, post.ID),
		RootParent: s.rootParent,
	}, nil
}

// decodeComments tolerates a missing or non-list comments field, which the
// API returns for locked or removed posts. A missing comment_parent_id stays
// empty; forest.Build files it under the thread's root parent.
func (s *ScoredSource) decodeComments(raw json.RawMessage, postID string) []models.CommentRecord {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil
	}
	var records []models.CommentRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		s.logger.Warn("Error decoding comments", zap.String("post_id", postID), zap.Error(err))
		return nil
	}
	return records
}

func (s *ScoredSource) getJSON(ctx context.Context, target string, v any) error {
	c := s.collector.Clone()
	abortOnCancel(ctx, c)

	var decodeErr error
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
	})
	c.OnResponse(func(r *colly.Response) {
		if err := json.Unmarshal(r.Body, v); err != nil {
			decodeErr = fmt.Errorf("decode %s: %w", r.Request.URL, err)
		}
	})

	if err := ctx.Err(); err != nil {
		return err
	}
	err := c.Visit(target)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		return err
	}
	return decodeErr
}
