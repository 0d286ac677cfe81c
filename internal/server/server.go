// Package server exposes stored posts, manual scrapes and the comment
// forest builder over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/TheUltimateAbsol/technews/internal/forest"
	"github.com/TheUltimateAbsol/technews/internal/models"
	"github.com/TheUltimateAbsol/technews/internal/storage"
)

// Scraper is the part of the scraper the HTTP API drives
type Scraper interface {
	ScrapeNew(ctx context.Context) ([]*models.Post, error)
	SavePosts(posts []*models.Post) error
}

// Options configures the router
type Options struct {
	// Forest returns the limits POST /forest starts from
	Forest     func() forest.Config
	RequestLog bool
}

// Server holds the handlers' dependencies
type Server struct {
	store   storage.Storage
	scraper Scraper
	logger  *zap.Logger
	opts    Options
}

// New builds the gin router
func New(store storage.Storage, sc Scraper, logger *zap.Logger, opts Options) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Forest == nil {
		opts.Forest = forest.DefaultConfig
	}
	s := &Server{store: store, scraper: sc, logger: logger, opts: opts}

	router := gin.New()
	router.Use(gin.Recovery())
	if opts.RequestLog {
		router.Use(requestLogger(logger))
	}

	router.GET("/health", s.health)
	router.GET("/posts", s.listPosts)
	router.GET("/posts/:id", s.getPost)
	router.POST("/scrape", s.scrape)
	router.POST("/forest", s.buildForest)
	return router
}

// requestLogger logs every request through zap
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now(),
	})
}

// Get all processed posts
func (s *Server) listPosts(c *gin.Context) {
	posts, err := s.store.GetAllPosts()
	if err != nil {
		s.logger.Error("Error listing posts", zap.Error(err))
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{
		"count": len(posts),
		"posts": posts,
	})
}

func (s *Server) getPost(c *gin.Context) {
	post, err := s.store.GetPost(c.Param("id"))
	if errors.Is(err, storage.ErrPostNotFound) {
		c.IndentedJSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.logger.Error("Error loading post", zap.String("post_id", c.Param("id")), zap.Error(err))
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.IndentedJSON(http.StatusOK, post)
}

// Trigger manual scrape
func (s *Server) scrape(c *gin.Context) {
	s.logger.Info("Manual scrape triggered")
	posts, err := s.scraper.ScrapeNew(c.Request.Context())
	if err != nil {
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if len(posts) > 0 {
		if err := s.scraper.SavePosts(posts); err != nil {
			c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	c.IndentedJSON(http.StatusOK, gin.H{
		"message":   "Scrape completed",
		"new_posts": len(posts),
	})
}

// buildForest turns a posted JSON array of comment records into a forest.
// Query parameters override the configured limits.
func (s *Server) buildForest(c *gin.Context) {
	cfg := s.opts.Forest()
	if cfg.Sentinel == "" {
		cfg.Sentinel = forest.DefaultConfig().Sentinel
	}

	for name, dst := range map[string]*int{
		"root_limit":   &cfg.RootLimit,
		"branch_limit": &cfg.BranchLimit,
		"max_depth":    &cfg.MaxDepth,
	} {
		raw, ok := c.GetQuery(name)
		if !ok {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.IndentedJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + ": " + raw})
			return
		}
		*dst = v
	}
	if cfg.MaxDepth < 1 {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"error": "max_depth must be at least 1"})
		return
	}
	if raw, ok := c.GetQuery("fields"); ok {
		fields, err := forest.ParseFieldPolicy(raw)
		if err != nil {
			c.IndentedJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		cfg.Fields = fields
	}
	if raw, ok := c.GetQuery("sentinel"); ok {
		cfg.Sentinel = models.CommentID(raw)
	}

	var records []models.CommentRecord
	if err := c.ShouldBindJSON(&records); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.IndentedJSON(http.StatusOK, gin.H{
		"count":    len(records),
		"comments": forest.Build(records, cfg),
	})
}
