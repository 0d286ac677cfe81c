package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TheUltimateAbsol/technews/internal/forest"
	"github.com/TheUltimateAbsol/technews/internal/models"
	"github.com/TheUltimateAbsol/technews/internal/storage"
)

// ErrAllSourcesFailed is returned by ScrapeNew when no source succeeded
var ErrAllSourcesFailed = errors.New("all sources failed")

// Thread is one fetched post with its flat comment list
type Thread struct {
	Post    *models.Post
	Records []models.CommentRecord
	// RootParent is the parent id of top-level comments in Records
	RootParent models.CommentID
}

// Source fetches threads from one forum
type Source interface {
	Name() string
	// FetchThreads returns threads whose post ids skip rejects; skip may be nil
	FetchThreads(ctx context.Context, skip func(postID string) bool) ([]Thread, error)
}

// Scraper pulls threads from every source and turns their comments into
// bounded forests.
type Scraper struct {
	sources []Source
	storage storage.Storage
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.RWMutex
	forest    forest.Config
	overrides map[string]forest.Config
}

// New creates a scraper. store may be nil, in which case every post is
// treated as new and SavePosts is unavailable.
func New(sources []Source, store storage.Storage, cfg forest.Config, logger *zap.Logger) *Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		sources: sources,
		storage: store,
		logger:  logger,
		now:     time.Now,
		forest:  cfg,
	}
}

// SetForestConfig swaps the forest limits used by subsequent scrapes.
// overrides are keyed by source name and replace cfg for that source.
func (s *Scraper) SetForestConfig(cfg forest.Config, overrides map[string]forest.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forest = cfg
	s.overrides = overrides
}

// ForestConfig returns the limits applied to threads from the named source
func (s *Scraper) ForestConfig(source string) forest.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cfg, ok := s.overrides[source]; ok {
		return cfg
	}
	return s.forest
}

// ScrapeNew scrapes new posts from all sources concurrently. Failing sources
// are logged and skipped.
func (s *Scraper) ScrapeNew(ctx context.Context) ([]*models.Post, error) {
	runID := uuid.NewString()
	logger := s.logger.With(zap.String("run_id", runID))

	results := make([][]*models.Post, len(s.sources))
	errs := make([]error, len(s.sources))

	// A failing source is recorded in errs and never cancels its siblings,
	// so the group carries no context and Wait always returns nil.
	var g errgroup.Group
	for i, src := range s.sources {
		i, src := i, src // per-iteration copy; go directive is below 1.22
		g.Go(func() error {
			threads, err := src.FetchThreads(ctx, s.isProcessed)
			if err != nil {
				logger.Error("Error scraping source", zap.String("source", src.Name()), zap.Error(err))
				errs[i] = fmt.Errorf("%s: %w", src.Name(), err)
			}
			results[i] = s.buildPosts(src.Name(), threads, runID)
			logger.Info("Scraped source", zap.String("source", src.Name()), zap.Int("new_posts", len(results[i])))
			return nil
		})
	}
	_ = g.Wait()

	var posts []*models.Post
	failed := 0
	for i := range s.sources {
		posts = append(posts, results[i]...)
		if errs[i] != nil {
			failed++
		}
	}
	if len(s.sources) > 0 && failed == len(s.sources) && len(posts) == 0 {
		return nil, errors.Join(append([]error{ErrAllSourcesFailed}, errs...)...)
	}
	return posts, ctx.Err()
}

func (s *Scraper) buildPosts(source string, threads []Thread, runID string) []*models.Post {
	cfg := s.ForestConfig(source)
	posts := make([]*models.Post, 0, len(threads))
	for _, th := range threads {
		cfg.Sentinel = th.RootParent
		post := th.Post
		post.Comments = forest.Build(th.Records, cfg)
		if post.CommentsCount == 0 {
			post.CommentsCount = len(th.Records)
		}
		post.RunID = runID
		post.ProcessedAt = s.now().UTC()
		posts = append(posts, post)
	}
	return posts
}

// isProcessed reports whether a post is already stored. Lookup failures
// skip the post rather than risk reprocessing it.
func (s *Scraper) isProcessed(postID string) bool {
	if s.storage == nil {
		return false
	}
	processed, err := s.storage.IsProcessed(postID)
	if err != nil {
		s.logger.Warn("Error checking if post is processed", zap.String("post_id", postID), zap.Error(err))
		return true
	}
	return processed
}

// SavePosts saves posts to storage, continuing past individual failures
func (s *Scraper) SavePosts(posts []*models.Post) error {
	if s.storage == nil {
		return errors.New("no storage configured")
	}
	var errs []error
	for _, post := range posts {
		if err := s.storage.SavePost(post); err != nil {
			s.logger.Error("Error saving post", zap.String("post_id", post.ID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		s.logger.Debug("Saved post", zap.String("post_id", post.ID))
	}
	return errors.Join(errs...)
}
