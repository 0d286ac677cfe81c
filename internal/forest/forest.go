// Package forest turns a flat list of comment records into a bounded,
// score-ranked comment forest.
package forest

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/TheUltimateAbsol/technews/internal/models"
)

// FieldPolicy selects which optional record fields are copied onto nodes.
// Content and author are always copied.
type FieldPolicy uint8

const (
	FieldScore FieldPolicy = 1 << iota
	FieldCreated
)

const (
	FieldsBasic FieldPolicy = 0
	FieldsFull              = FieldScore | FieldCreated
)

// ParseFieldPolicy accepts "basic", "full", or a comma separated list of
// optional fields ("score,created").
func ParseFieldPolicy(s string) (FieldPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "full":
		return FieldsFull, nil
	case "basic":
		return FieldsBasic, nil
	}
	var p FieldPolicy
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "score":
			p |= FieldScore
		case "created":
			p |= FieldCreated
		case "content", "author":
		default:
			return 0, fmt.Errorf("unknown comment field %q", part)
		}
	}
	return p, nil
}

func (p FieldPolicy) String() string {
	switch p {
	case FieldsBasic:
		return "basic"
	case FieldsFull:
		return "full"
	case FieldScore:
		return "score"
	case FieldCreated:
		return "created"
	}
	return fmt.Sprintf("FieldPolicy(%d)", uint8(p))
}

// Config bounds the forest produced by Build
type Config struct {
	// RootLimit caps the number of top-level chains
	RootLimit int
	// BranchLimit caps the replies kept under any node
	BranchLimit int
	// MaxDepth is the tree height; nodes at this depth get no replies
	MaxDepth int
	Fields   FieldPolicy
	// Sentinel is the parent id that marks a record as top-level
	Sentinel models.CommentID
}

// DefaultConfig matches the limits used for the scored forum threads
func DefaultConfig() Config {
	return Config{
		RootLimit:   10,
		BranchLimit: 4,
		MaxDepth:    4,
		Fields:      FieldsFull,
		Sentinel:    "0",
	}
}

type builder struct {
	cfg      Config
	children map[models.CommentID][]*models.CommentRecord
	// path holds the ids from the current root down to the node being built
	path []models.CommentID
}

// Build materializes the comment forest for one thread. It never fails and
// never modifies records; the returned nodes share nothing with the input.
//
// A record without a parent id is top-level, like one whose parent is the
// sentinel. Records whose parent is neither the sentinel nor the id of
// another record are unreachable and silently dropped.
func Build(records []models.CommentRecord, cfg Config) []models.CommentNode {
	cfg = clamp(cfg)
	b := &builder{
		cfg:      cfg,
		children: group(records, cfg.Sentinel),
	}

	roots := head(b.children[cfg.Sentinel], cfg.RootLimit)
	forest := make([]models.CommentNode, 0, len(roots))
	for _, r := range roots {
		forest = append(forest, b.materialize(r, 1))
	}
	return forest
}

func clamp(cfg Config) Config {
	cfg.RootLimit = max(cfg.RootLimit, 0)
	cfg.BranchLimit = max(cfg.BranchLimit, 0)
	cfg.MaxDepth = max(cfg.MaxDepth, 1)
	return cfg
}

// group buckets records by parent id and ranks each bucket. Buckets keep
// input order on equal scores. An empty parent id is filed under sentinel.
func group(records []models.CommentRecord, sentinel models.CommentID) map[models.CommentID][]*models.CommentRecord {
	children := make(map[models.CommentID][]*models.CommentRecord)
	for i := range records {
		r := &records[i]
		parent := r.ParentID
		if parent == "" {
			parent = sentinel
		}
		children[parent] = append(children[parent], r)
	}
	for _, bucket := range children {
		slices.SortStableFunc(bucket, func(a, b *models.CommentRecord) int {
			return cmp.Compare(b.Rank(), a.Rank())
		})
	}
	return children
}

func (b *builder) materialize(r *models.CommentRecord, depth int) models.CommentNode {
	node := b.node(r)
	if depth >= b.cfg.MaxDepth {
		return node
	}

	// records already on the path are skipped before the branch limit
	// applies, so the next ranked sibling takes their slot
	b.path = append(b.path, r.ID)
	for _, child := range b.children[r.ID] {
		if len(node.Replies) == b.cfg.BranchLimit {
			break
		}
		if slices.Contains(b.path, child.ID) {
			continue
		}
		node.Replies = append(node.Replies, b.materialize(child, depth+1))
	}
	b.path = b.path[:len(b.path)-1]
	return node
}

func (b *builder) node(r *models.CommentRecord) models.CommentNode {
	n := models.CommentNode{
		Content: r.Content,
		Author:  r.Author,
		Replies: []models.CommentNode{},
	}
	if b.cfg.Fields&FieldScore != 0 && r.Score != nil {
		s := *r.Score
		n.Score = &s
	}
	if b.cfg.Fields&FieldCreated != 0 && r.Created != nil {
		c := *r.Created
		n.Created = &c
	}
	return n
}

func head(bucket []*models.CommentRecord, limit int) []*models.CommentRecord {
	if len(bucket) > limit {
		return bucket[:limit]
	}
	return bucket
}
