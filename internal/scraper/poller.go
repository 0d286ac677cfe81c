package scraper

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Poller runs the scraper at regular intervals and stores what it finds
type Poller struct {
	scraper *Scraper
	logger  *zap.Logger
}

// NewPoller creates a poller for a scraper that has storage
func NewPoller(sc *Scraper, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{scraper: sc, logger: logger}
}

// Run scrapes once immediately and then on every tick until ctx is done
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info("Starting initial scrape")
	p.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Poller stopped")
			return
		case <-ticker.C:
			p.logger.Info("Running scheduled scrape")
			p.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single scrape and save, returning the number of new posts
func (p *Poller) RunOnce(ctx context.Context) int {
	posts, err := p.scraper.ScrapeNew(ctx)
	if err != nil {
		p.logger.Error("Scrape error", zap.Error(err))
	}
	p.logger.Info("Found new posts", zap.Int("count", len(posts)))

	if len(posts) > 0 {
		if err := p.scraper.SavePosts(posts); err != nil {
			p.logger.Error("Error saving posts", zap.Error(err))
		}
	}
	return len(posts)
}
