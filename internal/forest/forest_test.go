package forest

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheUltimateAbsol/technews/internal/models"
)

func score(v float64) *float64 { return &v }

func rec(id, parent string, s float64) models.CommentRecord {
	return models.CommentRecord{
		ID:       models.CommentID(id),
		ParentID: models.CommentID(parent),
		Score:    score(s),
		Author:   "user" + id,
		Content:  "comment " + id,
	}
}

func contents(nodes []models.CommentNode) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Content)
	}
	return out
}

func TestBuild_ExampleScenario(t *testing.T) {
	records := []models.CommentRecord{
		rec("1", "0", 5),
		rec("2", "0", 9),
		rec("3", "1", 1),
		rec("4", "1", 7),
		rec("5", "4", 3),
	}
	cfg := Config{RootLimit: 5, BranchLimit: 4, MaxDepth: 2, Fields: FieldsFull, Sentinel: "0"}

	got := Build(records, cfg)

	require.Len(t, got, 2)
	assert.Equal(t, []string{"comment 2", "comment 1"}, contents(got))
	assert.Empty(t, got[0].Replies)
	assert.Equal(t, []string{"comment 4", "comment 3"}, contents(got[1].Replies))
	for _, reply := range got[1].Replies {
		assert.NotNil(t, reply.Replies)
		assert.Empty(t, reply.Replies, "depth limit must cut off %s", reply.Content)
	}
}

func TestBuild_EmptyInput(t *testing.T) {
	got := Build(nil, DefaultConfig())
	require.NotNil(t, got)
	assert.Empty(t, got)

	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestBuild_RootLimit(t *testing.T) {
	var records []models.CommentRecord
	for i := 0; i < 12; i++ {
		records = append(records, rec(fmt.Sprint(i+1), "0", float64(i)))
	}

	got := Build(records, Config{RootLimit: 5, BranchLimit: 4, MaxDepth: 4, Sentinel: "0"})

	require.Len(t, got, 5)
	assert.Equal(t, []string{"comment 12", "comment 11", "comment 10", "comment 9", "comment 8"}, contents(got))
}

func TestBuild_BranchLimit(t *testing.T) {
	records := []models.CommentRecord{rec("1", "0", 1)}
	for i := 0; i < 7; i++ {
		records = append(records, rec(fmt.Sprint(100+i), "1", float64(i)))
	}

	got := Build(records, Config{RootLimit: 10, BranchLimit: 4, MaxDepth: 3, Sentinel: "0"})
	require.Len(t, got, 1)
	assert.Equal(t, []string{"comment 106", "comment 105", "comment 104", "comment 103"}, contents(got[0].Replies))

	got = Build(records, Config{RootLimit: 10, BranchLimit: 0, MaxDepth: 3, Sentinel: "0"})
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Replies)
}

func TestBuild_StableOnTies(t *testing.T) {
	records := []models.CommentRecord{
		rec("a", "0", 2),
		rec("b", "0", 5),
		rec("c", "0", 2),
		{ID: "d", ParentID: "0", Content: "comment d"},
		rec("e", "0", 2),
		rec("f", "0", 0),
	}

	got := Build(records, Config{RootLimit: 10, BranchLimit: 4, MaxDepth: 1, Sentinel: "0"})

	// d has no score and ranks as 0, ahead of f by input order
	assert.Equal(t, []string{"comment b", "comment a", "comment c", "comment e", "comment d", "comment f"}, contents(got))
}

func TestBuild_DropsOrphans(t *testing.T) {
	records := []models.CommentRecord{
		rec("1", "0", 1),
		rec("2", "1", 1),
		rec("3", "missing", 100),
		rec("4", "3", 100),
	}

	got := Build(records, Config{RootLimit: 10, BranchLimit: 10, MaxDepth: 10, Sentinel: "0"})

	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "comment 3")
	assert.NotContains(t, string(data), "comment 4")
	require.Len(t, got, 1)
	assert.Equal(t, []string{"comment 2"}, contents(got[0].Replies))
}

func TestBuild_DepthTruncation(t *testing.T) {
	// a single chain 1 -> 2 -> ... -> 10
	records := []models.CommentRecord{rec("1", "0", 0)}
	for i := 2; i <= 10; i++ {
		records = append(records, rec(fmt.Sprint(i), fmt.Sprint(i-1), 0))
	}

	for _, maxDepth := range []int{1, 2, 4, 9} {
		t.Run(fmt.Sprintf("max_depth=%d", maxDepth), func(t *testing.T) {
			got := Build(records, Config{RootLimit: 1, BranchLimit: 1, MaxDepth: maxDepth, Sentinel: "0"})
			assert.Equal(t, maxDepth, height(got))

			node := got[0]
			for depth := 1; depth < maxDepth; depth++ {
				require.Len(t, node.Replies, 1)
				node = node.Replies[0]
			}
			assert.Empty(t, node.Replies)
		})
	}
}

func TestBuild_FieldPolicy(t *testing.T) {
	created := int64(1700000000000)
	records := []models.CommentRecord{{
		ID: "1", ParentID: "0", Score: score(3), Author: "alice", Content: "hi", Created: &created,
	}}

	basic := Build(records, Config{RootLimit: 1, MaxDepth: 1, Fields: FieldsBasic, Sentinel: "0"})
	data, err := json.Marshal(basic)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"raw_content":"hi","author":"alice","replies":[]}]`, string(data))

	full := Build(records, Config{RootLimit: 1, MaxDepth: 1, Fields: FieldsFull, Sentinel: "0"})
	data, err = json.Marshal(full)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"raw_content":"hi","author":"alice","score":3,"created":1700000000000,"replies":[]}]`, string(data))

	// nodes own their values
	*full[0].Score = 99
	assert.Equal(t, 3.0, *records[0].Score)
}

func TestBuild_DoesNotMutateInput(t *testing.T) {
	records := []models.CommentRecord{
		rec("1", "0", 1),
		{ID: "2", ParentID: "0", Content: "comment 2"},
		rec("3", "0", 7),
	}
	before := append([]models.CommentRecord(nil), records...)

	Build(records, DefaultConfig())

	assert.Equal(t, before, records)
	assert.Nil(t, records[1].Score)
}

func TestBuild_CustomSentinel(t *testing.T) {
	records := []models.CommentRecord{
		rec("t1_a", "t3_post", 1),
		rec("t1_b", "t1_a", 1),
		rec("t1_c", "0", 50),
	}

	got := Build(records, Config{RootLimit: 5, BranchLimit: 4, MaxDepth: 4, Sentinel: "t3_post"})

	require.Len(t, got, 1)
	assert.Equal(t, "comment t1_a", got[0].Content)
	assert.Equal(t, []string{"comment t1_b"}, contents(got[0].Replies))
}

func TestBuild_SelfReferenceIsNotRepeated(t *testing.T) {
	records := []models.CommentRecord{
		rec("0", "0", 10),
		rec("1", "0", 5),
		rec("2", "2", 5),
	}

	got := Build(records, Config{RootLimit: 5, BranchLimit: 4, MaxDepth: 6, Sentinel: "0"})

	require.Len(t, got, 2)
	assert.Equal(t, []string{"comment 0", "comment 1"}, contents(got))
	// record 1 is placed once as a root and once under record 0, whose id
	// collides with the sentinel; record 0 never nests under itself
	assert.Equal(t, []string{"comment 1"}, contents(got[0].Replies))
}

func TestBuild_SelfReferenceKeepsBranchSlot(t *testing.T) {
	// record 0 collides with the sentinel, so it ranks first among its own
	// children and is skipped there
	records := []models.CommentRecord{
		rec("0", "0", 10),
		rec("1", "0", 5),
		rec("2", "0", 4),
		rec("3", "0", 3),
	}

	got := Build(records, Config{RootLimit: 1, BranchLimit: 2, MaxDepth: 4, Sentinel: "0"})

	require.Len(t, got, 1)
	assert.Equal(t, "comment 0", got[0].Content)
	assert.Equal(t, []string{"comment 1", "comment 2"}, contents(got[0].Replies))
}

func TestBuild_AbsentParentIsRoot(t *testing.T) {
	var records []models.CommentRecord
	require.NoError(t, json.Unmarshal([]byte(`[
		{"id": 1, "score": 5, "raw_content": "no parent"},
		{"id": 2, "comment_parent_id": 1, "score": 1, "raw_content": "reply"},
		{"id": 3, "comment_parent_id": 0, "score": 7, "raw_content": "explicit root"}
	]`), &records))

	got := Build(records, DefaultConfig())

	require.Len(t, got, 2)
	assert.Equal(t, []string{"explicit root", "no parent"}, contents(got))
	assert.Equal(t, []string{"reply"}, contents(got[1].Replies))
	assert.Empty(t, records[0].ParentID, "records are not modified")

	cfg := DefaultConfig()
	cfg.Sentinel = "t3_abc"
	got = Build(records, cfg)
	require.Len(t, got, 1)
	assert.Equal(t, "no parent", got[0].Content)
}

func TestBuild_ClampsConfig(t *testing.T) {
	records := []models.CommentRecord{rec("1", "0", 1), rec("2", "1", 1)}

	got := Build(records, Config{RootLimit: -3, BranchLimit: 4, MaxDepth: 4, Sentinel: "0"})
	assert.Empty(t, got)

	got = Build(records, Config{RootLimit: 3, BranchLimit: -1, MaxDepth: 0, Sentinel: "0"})
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Replies)
}

func TestBuild_Idempotent(t *testing.T) {
	records := randomThread(500, 42)
	cfg := Config{RootLimit: 10, BranchLimit: 4, MaxDepth: 4, Fields: FieldsFull, Sentinel: "0"}

	first := Build(records, cfg)
	second := Build(records, cfg)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Build() not deterministic (-first +second):\n%s", diff)
	}
}

func TestBuild_Bounds(t *testing.T) {
	records := randomThread(2000, 7)
	configs := []Config{
		{RootLimit: 5, BranchLimit: 4, MaxDepth: 4, Fields: FieldsFull, Sentinel: "0"},
		{RootLimit: 10, BranchLimit: 4, MaxDepth: 4, Fields: FieldsFull, Sentinel: "0"},
		{RootLimit: 3, BranchLimit: 2, MaxDepth: 7, Fields: FieldsFull, Sentinel: "0"},
		{RootLimit: 100, BranchLimit: 100, MaxDepth: 1, Fields: FieldsFull, Sentinel: "0"},
	}
	for _, cfg := range configs {
		t.Run(fmt.Sprintf("%d/%d/%d", cfg.RootLimit, cfg.BranchLimit, cfg.MaxDepth), func(t *testing.T) {
			got := Build(records, cfg)
			assert.LessOrEqual(t, len(got), cfg.RootLimit)
			assert.LessOrEqual(t, height(got), cfg.MaxDepth)
			assertSorted(t, got)
			walk(got, func(n models.CommentNode) {
				assert.LessOrEqual(t, len(n.Replies), cfg.BranchLimit)
				assertSorted(t, n.Replies)
			})
		})
	}
}

func TestBuild_Concurrent(t *testing.T) {
	records := randomThread(300, 3)
	cfg := DefaultConfig()
	want := Build(records, cfg)

	var wg sync.WaitGroup
	results := make([][]models.CommentNode, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = Build(records, cfg)
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("result %d differs (-want +got):\n%s", i, diff)
		}
	}
}

func TestParseFieldPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    FieldPolicy
		wantErr bool
	}{
		{in: "", want: FieldsFull},
		{in: "full", want: FieldsFull},
		{in: "Basic", want: FieldsBasic},
		{in: "score", want: FieldScore},
		{in: "score, created", want: FieldsFull},
		{in: "content,author,created", want: FieldCreated},
		{in: "votes", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFieldPolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// randomThread builds a deterministic pseudo-random thread where every
// record's parent is an earlier record or the "0" sentinel.
func randomThread(n int, seed uint32) []models.CommentRecord {
	next := func() uint32 {
		seed ^= seed << 13
		seed ^= seed >> 17
		seed ^= seed << 5
		return seed
	}
	records := make([]models.CommentRecord, 0, n)
	for i := 1; i <= n; i++ {
		parent := "0"
		if i > 1 && next()%4 != 0 {
			parent = fmt.Sprint(next()%uint32(i-1) + 1)
		}
		r := rec(fmt.Sprint(i), parent, float64(next()%20))
		if next()%10 == 0 {
			r.Score = nil
		}
		records = append(records, r)
	}
	return records
}

func height(nodes []models.CommentNode) int {
	h := 0
	for _, n := range nodes {
		h = max(h, 1+height(n.Replies))
	}
	return h
}

func walk(nodes []models.CommentNode, fn func(models.CommentNode)) {
	for _, n := range nodes {
		fn(n)
		walk(n.Replies, fn)
	}
}

func assertSorted(t *testing.T, nodes []models.CommentNode) {
	t.Helper()
	for i := 1; i < len(nodes); i++ {
		prev, cur := 0.0, 0.0
		if nodes[i-1].Score != nil {
			prev = *nodes[i-1].Score
		}
		if nodes[i].Score != nil {
			cur = *nodes[i].Score
		}
		assert.GreaterOrEqual(t, prev, cur, "siblings out of order at %d", i)
	}
}
