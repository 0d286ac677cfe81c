package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// CommentID is an opaque comment identifier. Forums hand these out either as
// numbers or as strings, so both decode into the same string form.
type CommentID string

// UnmarshalJSON accepts a JSON string, number or null
func (id *CommentID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = CommentID(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("comment id: %w", err)
		}
		*id = CommentID(n.String())
		return nil
	}
}

// CommentRecord is a single comment as delivered by a fetcher, before any
// tree structure is imposed on it.
type CommentRecord struct {
	ID CommentID `json:"id"`
	// ParentID is empty when the forum omits it; such a record is top-level
	ParentID CommentID `json:"comment_parent_id"`
	Score    *float64  `json:"score,omitempty"`
	Author   string    `json:"author"`
	Content  string    `json:"raw_content"`
	// Created is epoch milliseconds
	Created *int64 `json:"created,omitempty"`
}

// UnmarshalJSON decodes a record, taking the body from raw_content or, when
// that is missing, from content.
func (r *CommentRecord) UnmarshalJSON(data []byte) error {
	var aux struct {
		ID         CommentID `json:"id"`
		ParentID   CommentID `json:"comment_parent_id"`
		Score      *float64  `json:"score"`
		Author     string    `json:"author"`
		RawContent string    `json:"raw_content"`
		Content    string    `json:"content"`
		Created    *int64    `json:"created"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = CommentRecord{
		ID:       aux.ID,
		ParentID: aux.ParentID,
		Score:    aux.Score,
		Author:   aux.Author,
		Content:  aux.RawContent,
		Created:  aux.Created,
	}
	if r.Content == "" {
		r.Content = aux.Content
	}
	return nil
}

// Rank returns the score used for ordering; a missing score ranks as zero.
func (r *CommentRecord) Rank() float64 {
	if r.Score == nil {
		return 0
	}
	return *r.Score
}

// CommentNode is one materialized comment in a comment forest
type CommentNode struct {
	Content string   `json:"raw_content" yaml:"raw_content"`
	Author  string   `json:"author" yaml:"author"`
	Score   *float64 `json:"score,omitempty" yaml:"score,omitempty"`
	Created *int64   `json:"created,omitempty" yaml:"created,omitempty"`
	// Replies is never nil so that it serializes as [] at the depth limit
	Replies []CommentNode `json:"replies" yaml:"replies"`
}

// ParseScore turns a displayed score into a value, returning nil for text
// such as "[score hidden]".
func ParseScore(s string) *float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
