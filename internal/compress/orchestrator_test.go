package compress

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memtier/internal/archive"
	"github.com/rcliao/memtier/internal/items"
	"github.com/rcliao/memtier/internal/model"
	"github.com/rcliao/memtier/internal/summarize"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store *items.Store
	arc   *archive.Archive
	orch  *Orchestrator
	raw   []string
	next  int
}

func newFixture(t *testing.T, cfg Config, s summarize.Summarizer) *fixture {
	t.Helper()
	require.NoError(t, cfg.Validate())
	f := &fixture{store: items.New(), arc: archive.New()}
	f.arc.SetClock(func() time.Time { return epoch })
	n := 0
	f.orch = New(cfg, f.store, f.arc, s,
		WithClock(func() time.Time { return epoch }),
		WithIDs(func() string { n++; return fmt.Sprintf("sum-%03d", n) }),
	)
	return f
}

func text(i, n int) string {
	s := fmt.Sprintf("msg%03d ", i) + strings.Repeat("lorem ", n/6+1)
	return s[:n]
}

func (f *fixture) appendRaw(t *testing.T, count, chars int) {
	t.Helper()
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("raw-%03d", f.next)
		it := model.NewRaw(id, "user", text(f.next, chars), []string{"lorem"}, epoch.Add(time.Duration(f.next)*time.Minute))
		require.NoError(t, f.store.Append(it))
		f.raw = append(f.raw, id)
		f.next++
	}
}

func (f *fixture) state() model.State {
	cfg := f.orch.Config()
	return model.State{
		Items:      f.store.Items(),
		Archive:    f.arc.Entries(),
		BudgetMax:  cfg.BudgetMax,
		Thresholds: model.Thresholds{L1: cfg.L1Threshold, Hierarchical: cfg.HierarchicalThreshold},
	}
}

func TestSingleLevel1UnderPressure(t *testing.T) {
	f := newFixture(t, DefaultConfig(), summarize.NewTruncating(0))
	ctx := context.Background()

	f.appendRaw(t, 10, 150)
	act, err := f.orch.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, None, act.Kind)
	assert.Equal(t, 1500, act.TotalChars)

	f.appendRaw(t, 5, 150)
	act, err = f.orch.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, CreatedLevel1, act.Kind)
	require.Len(t, act.Steps, 1)
	assert.Equal(t, f.raw[:5], act.Evicted)
	assert.Less(t, f.store.TotalChars(), 2000)
	assert.False(t, act.BudgetUnsatisfiable)

	summary := act.Created[0]
	pos, err := f.store.Position(summary.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, pos)
	assert.Equal(t, 1, summary.Level)
	for _, id := range f.raw[:5] {
		e, err := f.arc.Get(id)
		require.NoError(t, err)
		assert.Equal(t, summary.ID, e.ReplacedBy)
	}
}

func TestMergeOldestPair(t *testing.T) {
	f := newFixture(t, DefaultConfig(), summarize.NewTruncating(0))
	ctx := context.Background()

	f.appendRaw(t, 8, 250)
	var level1 []string
	for pass := 1; pass <= 4; pass++ {
		if pass > 1 {
			f.appendRaw(t, 5, 250)
		}
		act, err := f.orch.Process(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, act.Count(CreatedLevel1), "pass %d", pass)
		level1 = append(level1, act.Created[0].ID)

		if pass < 4 {
			assert.Equal(t, 0, act.Count(MergedToHigherLevel), "pass %d", pass)
			continue
		}
		assert.Equal(t, MergedToHigherLevel, act.Kind)
		require.Equal(t, 1, act.Count(MergedToHigherLevel))

		merged := act.Steps[len(act.Steps)-1].Summary
		assert.Equal(t, 2, merged.Level)
		assert.Equal(t, level1[:2], merged.Covers)
		for _, id := range level1[:2] {
			e, err := f.arc.Get(id)
			require.NoError(t, err)
			assert.Equal(t, merged.ID, e.ReplacedBy)
		}
	}
	assert.Equal(t, 0.5, f.store.SummaryRatio())
	assert.Len(t, f.store.ByLevel(1), 2)
}

func TestFewerThanThresholdNeverSummarizes(t *testing.T) {
	f := newFixture(t, DefaultConfig(), summarize.NewTruncating(0))
	f.appendRaw(t, 4, 600)

	act, err := f.orch.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, None, act.Kind)
	assert.Empty(t, act.Steps)
	assert.Equal(t, 0, f.arc.Len())
}

func TestSingleOversizedItemIsUnsatisfiable(t *testing.T) {
	f := newFixture(t, DefaultConfig(), summarize.NewTruncating(0))
	f.appendRaw(t, 1, 2500)

	act, err := f.orch.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, None, act.Kind)
	assert.True(t, act.BudgetUnsatisfiable)
	assert.ErrorIs(t, act.Err(), model.ErrBudgetUnsatisfiable)
	assert.Equal(t, 1, f.store.Len())
}

func TestSummarizerFailureLeavesStoreUntouched(t *testing.T) {
	failing := true
	s := summarize.Func(func(ctx context.Context, texts []string, level int) (string, error) {
		if failing {
			return "", errors.New("upstream timeout")
		}
		return summarize.NewTruncating(0).Summarize(ctx, texts, level)
	})
	f := newFixture(t, DefaultConfig(), s)
	f.appendRaw(t, 15, 150)
	before := f.store.Items()

	act, err := f.orch.Process(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrSummarizationFailed)
	assert.Equal(t, None, act.Kind)
	assert.Equal(t, before, f.store.Items())
	assert.Equal(t, 0, f.arc.Len())

	failing = false
	act, err = f.orch.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CreatedLevel1, act.Kind)
}

func TestFailureMidPassKeepsAppliedSteps(t *testing.T) {
	calls := 0
	s := summarize.Func(func(ctx context.Context, texts []string, level int) (string, error) {
		calls++
		if calls > 1 {
			return "", errors.New("model offline")
		}
		return "first block", nil
	})
	f := newFixture(t, DefaultConfig(), s)
	f.appendRaw(t, 20, 150)

	act, err := f.orch.Process(context.Background())
	require.ErrorIs(t, err, model.ErrSummarizationFailed)
	assert.Equal(t, CreatedLevel1, act.Kind)
	require.Len(t, act.Steps, 1)
	assert.False(t, act.BudgetUnsatisfiable)
	assert.Equal(t, 1, f.store.CountByKind()[model.KindSummary])
	assert.Equal(t, 15, f.store.CountByKind()[model.KindRaw])
	assert.Equal(t, 5, f.arc.Len())
}

func TestEmptySummaryIsFailure(t *testing.T) {
	s := summarize.Func(func(context.Context, []string, int) (string, error) { return "  ", nil })
	f := newFixture(t, DefaultConfig(), s)
	f.appendRaw(t, 15, 150)

	_, err := f.orch.Process(context.Background())
	assert.ErrorIs(t, err, model.ErrSummarizationFailed)
	assert.Equal(t, 15, f.store.Len())
}

func TestApplyAbortsWhenTargetsVanish(t *testing.T) {
	var f *fixture
	s := summarize.Func(func(ctx context.Context, texts []string, level int) (string, error) {
		// Simulates a racing pass evicting one of the targets.
		require.NoError(t, f.store.RemoveAll([]string{f.raw[0]}))
		return "summary", nil
	})
	f = newFixture(t, DefaultConfig(), s)
	f.appendRaw(t, 15, 150)

	_, err := f.orch.Process(context.Background())
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, 0, f.arc.Len())
	assert.Equal(t, 14, f.store.Len())
}

func TestSummaryMetadata(t *testing.T) {
	f := newFixture(t, DefaultConfig(), summarize.NewTruncating(0))
	for i := 0; i < 7; i++ {
		it := model.NewRaw(fmt.Sprintf("raw-%03d", i), "user", text(i, 300), []string{fmt.Sprintf("t%d", i%3)}, epoch)
		it.Authority = float64(i) / 10
		require.NoError(t, f.store.Append(it))
	}

	act, err := f.orch.Process(context.Background())
	require.NoError(t, err)
	require.Len(t, act.Created, 1)
	s := act.Created[0]
	assert.Equal(t, []string{"t0", "t1", "t2"}, s.Topics)
	assert.InDelta(t, 0.2, s.Authority, 1e-9)
	assert.InDelta(t, 0.5, s.UserFeedback, 1e-9)
	assert.InDelta(t, 0.1, s.AccessCost, 1e-9)
	assert.Equal(t, epoch, s.CreatedAt)
}

// Every pass keeps the state valid and never loses a raw message.
func TestInvariantsHoldAcrossManyPasses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BudgetMax = 1200
	cfg.L1Pressure = 0
	f := newFixture(t, cfg, summarize.NewTruncating(0))
	rng := rand.New(rand.NewSource(7))
	ctx := context.Background()

	for i := 0; i < 80; i++ {
		f.appendRaw(t, 1, 50+rng.Intn(250))
		before := f.store.TotalChars()
		act, err := f.orch.Process(ctx)
		require.NoError(t, err)
		if act.Kind != None {
			assert.LessOrEqual(t, f.store.TotalChars(), before, "pass %d", i)
		}
		if act.BudgetUnsatisfiable {
			assertNothingLeftToCompress(t, f, cfg)
		}

		st := f.state()
		require.NoError(t, st.Validate(), "pass %d", i)
		assertCoverage(t, f)
	}
	assert.Greater(t, f.store.MaxLevel(), 1)
}

func assertNothingLeftToCompress(t *testing.T, f *fixture, cfg Config) {
	t.Helper()
	counts := f.store.CountByKind()
	assert.Less(t, counts[model.KindRaw]-cfg.ReserveRecent, cfg.L1Threshold)
	for level := 1; level <= f.store.MaxLevel(); level++ {
		assert.Less(t, len(f.store.ByLevel(level)), 2, "level %d", level)
	}
}

func assertCoverage(t *testing.T, f *fixture) {
	t.Helper()
	var got []string
	for _, it := range f.store.Items() {
		if it.Kind == model.KindRaw {
			got = append(got, it.ID)
			continue
		}
		raws, err := f.arc.Decompress(it, 0)
		require.NoError(t, err)
		for _, r := range raws {
			got = append(got, r.ID)
		}
	}
	sort.Strings(got)
	want := append([]string(nil), f.raw...)
	sort.Strings(want)
	require.Equal(t, want, got)
}

func TestConcurrentAppendAndProcess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.L1Pressure = 0
	f := newFixture(t, cfg, summarize.NewTruncating(0))
	ctx := context.Background()

	var mu sync.Mutex
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				id := fmt.Sprintf("w%d-%03d", w, i)
				it := model.NewRaw(id, "user", text(i, 120), nil, epoch)
				if err := f.store.Append(it); err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				f.raw = append(f.raw, id)
				mu.Unlock()
				if _, err := f.orch.Process(ctx); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	st := f.state()
	require.NoError(t, st.Validate())
	assertCoverage(t, f)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero budget", func(c *Config) { c.BudgetMax = 0 }},
		{"tiny threshold", func(c *Config) { c.L1Threshold = 1 }},
		{"negative pressure", func(c *Config) { c.L1Pressure = -0.1 }},
		{"negative reserve", func(c *Config) { c.ReserveRecent = -1 }},
		{"ratio too high", func(c *Config) { c.HierarchicalThreshold = 1.5 }},
		{"ratio zero", func(c *Config) { c.HierarchicalThreshold = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}
