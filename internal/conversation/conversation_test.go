package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memtier/internal/model"
	"github.com/rcliao/memtier/internal/search"
	"github.com/rcliao/memtier/internal/store"
)

type fixed float64

func (f fixed) Float64() float64 { return float64(f) }

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// tick returns a clock advancing one second per call.
func tick() func() time.Time {
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return t0.Add(time.Duration(n) * time.Second)
	}
}

func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.Enrich = false
	return cfg
}

func turn(i, size int) string {
	s := fmt.Sprintf("turn %d about topic%d ", i, i)
	return s + strings.Repeat("x", size-len(s))
}

func TestAppendKeepsUsageWithinBudget(t *testing.T) {
	ctx := context.Background()
	c, err := New("c1", quietConfig(), Deps{Clock: tick()})
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 30; i++ {
		res, err := c.Append(ctx, "user", turn(i, 150))
		require.NoError(t, err)
		assert.Empty(t, res.CompressError)
		assert.Equal(t, 150, res.Item.CharCount)
	}

	st := c.Stats()
	assert.LessOrEqual(t, st.TotalChars, st.BudgetMax)
	assert.Positive(t, st.Summaries)
	assert.Positive(t, st.Archived)
	assert.Equal(t, st.Items, st.Raw+st.Summaries)
}

func TestAppendTopicsFromKeywords(t *testing.T) {
	c, err := New("c1", quietConfig(), Deps{Clock: tick()})
	require.NoError(t, err)
	defer c.Close()

	res, err := c.Append(context.Background(), "user", "Deploying kubernetes clusters with kubernetes operators")
	require.NoError(t, err)
	assert.Contains(t, res.Item.Topics, "kubernetes")
	assert.Equal(t, "user", res.Item.Role)
}

func TestExportImportByteIdentical(t *testing.T) {
	ctx := context.Background()
	c, err := New("c1", quietConfig(), Deps{Clock: tick()})
	require.NoError(t, err)
	for i := 0; i < 25; i++ {
		_, err := c.Append(ctx, "user", turn(i, 150))
		require.NoError(t, err)
	}
	require.NoError(t, c.Close())

	first, err := c.ExportJSON()
	require.NoError(t, err)

	st, err := store.DecodeState(first)
	require.NoError(t, err)
	restored, err := FromState("c2", st, DefaultConfig(), Deps{})
	require.NoError(t, err)
	defer restored.Close()

	second, err := restored.ExportJSON()
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestFromStateTakesPersistedSettings(t *testing.T) {
	st := model.State{Items: []model.Item{model.NewRaw("r1", "user", "hi", nil, t0)}, BudgetMax: 900,
		Thresholds: model.Thresholds{L1: 7, Hierarchical: 0.3}}
	c, err := FromState("c1", st, DefaultConfig(), Deps{})
	require.NoError(t, err)
	defer c.Close()

	cfg := c.Config().Compress
	assert.Equal(t, 900, cfg.BudgetMax)
	assert.Equal(t, 7, cfg.L1Threshold)
	assert.Equal(t, 0.3, cfg.HierarchicalThreshold)
}

func TestFromStateRejectsInvalid(t *testing.T) {
	bad := model.NewRaw("r1", "user", "hi", nil, t0)
	bad.CharCount = 99
	_, err := FromState("c1", model.State{Items: []model.Item{bad}}, DefaultConfig(), Deps{})
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestDecompress(t *testing.T) {
	ctx := context.Background()
	cfg := quietConfig()
	cfg.Compress.L1Pressure = 0
	c, err := New("c1", cfg, Deps{Clock: tick()})
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 8; i++ {
		_, err := c.Append(ctx, "user", turn(i, 50))
		require.NoError(t, err)
	}
	var summary model.Item
	for _, it := range c.Export().Items {
		if it.IsSummary() {
			summary = it
			break
		}
	}
	require.NotEmpty(t, summary.ID, "expected a summary")

	raws, err := c.Decompress(summary.ID, 0)
	require.NoError(t, err)
	require.Len(t, raws, len(summary.Covers))
	for i, it := range raws {
		assert.Equal(t, summary.Covers[i], it.ID)
		assert.Equal(t, 0, it.Level)
	}

	// Archived ids resolve too.
	again, err := c.Decompress(summary.Covers[0], 0)
	require.NoError(t, err)
	assert.Equal(t, summary.Covers[0], again[0].ID)

	_, err = c.Decompress("missing", 0)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSearchArchive(t *testing.T) {
	ctx := context.Background()
	cfg := quietConfig()
	cfg.Compress.L1Pressure = 0
	c, err := New("c1", cfg, Deps{Clock: tick()})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Append(ctx, "user", "the migration to postgres finished overnight")
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		_, err := c.Append(ctx, "user", turn(i, 60))
		require.NoError(t, err)
	}

	res := c.SearchArchive("postgres")
	require.NotEmpty(t, res.Matches)
	assert.Contains(t, res.Matches[0].Entry.Text, "postgres")
	assert.Empty(t, c.SearchArchive("   ").Matches)
}

func TestEnrichmentRunsLocalThenFallback(t *testing.T) {
	var mu sync.Mutex
	var asked []string
	external := search.ExternalFunc(func(ctx context.Context, q string) ([]model.SearchResult, error) {
		mu.Lock()
		asked = append(asked, q)
		mu.Unlock()
		return []model.SearchResult{{ID: "ext-" + q, Content: "remembered " + q, RelevanceScore: 0.5}}, nil
	})

	cfg := DefaultConfig()
	cfg.Interest.Jitter = 0
	cfg.Interest.RandomSearchChance = 1
	cfg.Search.Budget = time.Second
	c, err := New("c1", cfg, Deps{Clock: tick(), Random: fixed(0), External: external})
	require.NoError(t, err)

	res, err := c.Append(context.Background(), "user", "kubernetes upgrade")
	require.NoError(t, err)
	require.NotEmpty(t, res.Interest.Triggers)
	c.Wait()

	enr := c.Enrichments()
	var local, fallback int
	for _, e := range enr {
		if e.Fallback {
			fallback++
			for _, r := range e.Results {
				assert.Equal(t, model.SourceFallback, r.Source)
			}
			continue
		}
		local++
		assert.Equal(t, res.Item.ID, e.Results[0].ID)
	}
	assert.Positive(t, local)
	assert.Positive(t, fallback)

	mu.Lock()
	assert.Len(t, asked, len(res.Interest.Triggers))
	mu.Unlock()
	require.NoError(t, c.Close())
}

func TestEnrichmentFallbackErrorIsSwallowed(t *testing.T) {
	external := search.ExternalFunc(func(ctx context.Context, q string) ([]model.SearchResult, error) {
		return nil, fmt.Errorf("backend down")
	})
	cfg := DefaultConfig()
	cfg.Interest.Jitter = 0
	cfg.Interest.RandomSearchChance = 1
	cfg.Search.Budget = time.Second
	c, err := New("c1", cfg, Deps{Clock: tick(), Random: fixed(0), External: external})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Append(context.Background(), "user", "kubernetes upgrade")
	require.NoError(t, err)
	c.Wait()
	for _, e := range c.Enrichments() {
		assert.False(t, e.Fallback)
	}
}

func TestAppendAfterClose(t *testing.T) {
	c, err := New("c1", quietConfig(), Deps{})
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.Append(context.Background(), "user", "hello")
	assert.Error(t, err)
}

func TestCompressionFailureDoesNotFailAppend(t *testing.T) {
	ctx := context.Background()
	cfg := quietConfig()
	cfg.Compress.L1Pressure = 0
	failing := summarizeFail{}
	c, err := New("c1", cfg, Deps{Clock: tick(), Summarizer: failing})
	require.NoError(t, err)
	defer c.Close()

	var last AppendResult
	for i := 0; i < 8; i++ {
		last, err = c.Append(ctx, "user", turn(i, 40))
		require.NoError(t, err)
	}
	assert.Contains(t, last.CompressError, "summarization failed")
	assert.Equal(t, 8, c.Stats().Raw)
}

type summarizeFail struct{}

func (summarizeFail) Summarize(context.Context, []string, int) (string, error) {
	return "", fmt.Errorf("model offline")
}

func TestBuildIncludesRecentTurns(t *testing.T) {
	ctx := context.Background()
	c, err := New("c1", quietConfig(), Deps{Clock: tick()})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Append(ctx, "user", "what is the capital of France")
	require.NoError(t, err)
	_, err = c.Append(ctx, "assistant", "Paris")
	require.NoError(t, err)

	text, err := c.Build(ctx, "France", 500)
	require.NoError(t, err)
	assert.Equal(t, "user: what is the capital of France\nassistant: Paris", text)
}

func TestFromStateRestoresInterestHistory(t *testing.T) {
	ctx := context.Background()
	const msg = "the database query is slow again"
	deps := Deps{Clock: func() time.Time { return t0 }, Random: fixed(0.99)}

	live, err := New("c1", quietConfig(), deps)
	require.NoError(t, err)
	defer live.Close()
	for i := 0; i < 6; i++ {
		_, err := live.Append(ctx, "user", msg)
		require.NoError(t, err)
	}

	restored, err := FromState("c1", live.Export(), quietConfig(), deps)
	require.NoError(t, err)
	defer restored.Close()

	want, err := live.Append(ctx, "user", msg)
	require.NoError(t, err)
	got, err := restored.Append(ctx, "user", msg)
	require.NoError(t, err)

	assert.Equal(t, want.Interest.Scores, got.Interest.Scores)
	assert.NotEmpty(t, got.Interest.Triggers)
	for _, tr := range got.Interest.Triggers {
		assert.False(t, tr.Random)
	}
}
