package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheUltimateAbsol/technews/internal/forest"
	"github.com/TheUltimateAbsol/technews/internal/models"
)

const scoredListingJSON = `{"posts": [
	{"id": 101, "title": "first"},
	{"id": 102, "title": "second"},
	{"id": 103, "title": "third"},
	{"id": 104, "title": "gone"}
]}`

func scoredDetailsJSON(id string) string {
	switch id {
	case "101":
		return `{
			"posts": [{"id": 101, "title": "First post", "score": 250, "uuid": "17abc", "created": 1700000000000, "content": "hello", "author": "op"}],
			"comments": [
				{"id": 1, "comment_parent_id": 0, "score": 5, "author": "a", "raw_content": "root a", "created": 1700000001000},
				{"id": 2, "score": 9, "author": "b", "raw_content": "root b"},
				{"id": 3, "comment_parent_id": 1, "score": 1, "author": "c", "raw_content": "reply c"}
			]
		}`
	case "102":
		return `{"posts": [{"id": 102, "title": "Locked", "uuid": "17def"}], "comments": "locked"}`
	case "104":
		return `{"posts": [], "comments": []}`
	default:
		return ""
	}
}

func newScoredServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/post/hotv2.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "thedonald", r.URL.Query().Get("community"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, scoredListingJSON)
	})
	mux.HandleFunc("/api/v2/post/post.json", func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		assert.Equal(t, "true", r.URL.Query().Get("comments"))
		body := scoredDetailsJSON(r.URL.Query().Get("id"))
		if body == "" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestScoredSource(t *testing.T, baseURL string, limit int) *ScoredSource {
	t.Helper()
	src, err := NewScoredSource(ScoredOptions{
		BaseURL:    baseURL,
		Community:  "thedonald",
		PostLimit:  limit,
		RootParent: "0",
		Collector:  CollectorOptions{Timeout: 5 * time.Second},
	}, nil)
	require.NoError(t, err)
	return src
}

func TestScoredSource_FetchThreads(t *testing.T) {
	srv := newScoredServer(t, nil)
	src := newTestScoredSource(t, srv.URL, 20)

	threads, err := src.FetchThreads(context.Background(), nil)
	require.NoError(t, err)
	// post 103 fails and post 104 has no details; both are skipped
	require.Len(t, threads, 2)

	first := threads[0]
	assert.Equal(t, "scored:101", first.Post.ID)
	assert.Equal(t, "scored", first.Post.Source)
	assert.Equal(t, "thedonald", first.Post.Community)
	assert.Equal(t, "First post", first.Post.Title)
	assert.Equal(t, "hello", first.Post.Body)
	assert.Equal(t, int64(250), first.Post.Score)
	assert.Equal(t, srv.URL+"/p/17abc", first.Post.URL)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), first.Post.Timestamp)
	assert.Equal(t, models.CommentID("0"), first.RootParent)

	require.Len(t, first.Records, 3)
	assert.Equal(t, models.CommentID("0"), first.Records[0].ParentID)
	assert.Empty(t, first.Records[1].ParentID)
	assert.Equal(t, models.CommentID("1"), first.Records[2].ParentID)

	// a missing parent is a top-level comment
	cfg := forest.DefaultConfig()
	cfg.Sentinel = first.RootParent
	roots := forest.Build(first.Records, cfg)
	require.Len(t, roots, 2)
	assert.Equal(t, "root b", roots[0].Content)
	assert.Equal(t, "root a", roots[1].Content)

	locked := threads[1]
	assert.Equal(t, "scored:102", locked.Post.ID)
	assert.Empty(t, locked.Records)
}

func TestScoredSource_PostLimitAndSkip(t *testing.T) {
	var hits atomic.Int32
	srv := newScoredServer(t, &hits)
	src := newTestScoredSource(t, srv.URL, 2)

	threads, err := src.FetchThreads(context.Background(), func(id string) bool {
		return id == "scored:101"
	})
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "scored:102", threads[0].Post.ID)
	assert.Equal(t, int32(1), hits.Load(), "skipped and over-limit posts must not be fetched")
}

func TestScoredSource_ListingError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	src := newTestScoredSource(t, srv.URL, 20)
	_, err := src.FetchThreads(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hot posts")
}

func TestScoredSource_Cancelled(t *testing.T) {
	srv := newScoredServer(t, nil)
	src := newTestScoredSource(t, srv.URL, 20)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.FetchThreads(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewScoredSource_BadURL(t *testing.T) {
	_, err := NewScoredSource(ScoredOptions{BaseURL: "not a url"}, nil)
	assert.Error(t, err)
}
