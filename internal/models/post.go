package models

import "time"

// Post represents a forum post together with its comment forest
type Post struct {
	ID            string        `json:"id" yaml:"id"`
	Source        string        `json:"source" yaml:"source"`
	Community     string        `json:"community" yaml:"community"`
	Title         string        `json:"title" yaml:"title"`
	Body          string        `json:"body" yaml:"body"`
	Author        string        `json:"author" yaml:"author"`
	URL           string        `json:"url" yaml:"url"`
	Score         int64         `json:"score" yaml:"score"`
	CommentsCount int           `json:"comments_count" yaml:"comments_count"`
	Timestamp     time.Time     `json:"timestamp" yaml:"timestamp"`
	Comments      []CommentNode `json:"comments" yaml:"comments"`
	RunID         string        `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	ProcessedAt   time.Time     `json:"processed_at" yaml:"processed_at"`
}

// PostedAt formats the post timestamp the way reports display it
func (p *Post) PostedAt() string {
	if p.Timestamp.IsZero() {
		return ""
	}
	return p.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC")
}
