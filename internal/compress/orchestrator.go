// Package compress applies the eviction and promotion policy that keeps a
// conversation's live items under its character budget.
package compress

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rcliao/memtier/internal/archive"
	"github.com/rcliao/memtier/internal/items"
	"github.com/rcliao/memtier/internal/logging"
	"github.com/rcliao/memtier/internal/model"
	"github.com/rcliao/memtier/internal/summarize"
)

var tracer = otel.Tracer("github.com/rcliao/memtier/internal/compress")

// Orchestrator runs compression passes over one conversation. Passes are
// serialized; the summarizer is called without holding the item store lock.
type Orchestrator struct {
	mu         sync.Mutex
	cfg        Config
	items      *items.Store
	archive    *archive.Archive
	summarizer summarize.Summarizer
	log        logging.Logger
	now        func() time.Time
	ids        func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) { o.log = logging.OrNop(l) }
}

// WithClock sets the clock used for summary timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDs sets the summary id source.
func WithIDs(next func() string) Option {
	return func(o *Orchestrator) { o.ids = next }
}

// New returns an orchestrator over store and arc.
func New(cfg Config, store *items.Store, arc *archive.Archive, s summarize.Summarizer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		items:      store,
		archive:    arc,
		summarizer: s,
		log:        logging.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.ids == nil {
		o.ids = model.NewIDGenerator(o.now).New
	}
	return o
}

// Config returns the policy in effect.
func (o *Orchestrator) Config() Config { return o.cfg }

// Process runs one compression pass: a level-1 summary under pressure, the
// budget backstop, then hierarchical merging. On summarizer failure the pass
// stops, the targeted items stay in place and the steps already applied are
// returned alongside an error wrapping model.ErrSummarizationFailed, so
// Action.Kind names the most significant applied step rather than None.
func (o *Orchestrator) Process(ctx context.Context) (act Action, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ctx, span := tracer.Start(ctx, "compress.Process")
	act.Kind = None
	defer func() {
		act.TotalChars = o.items.TotalChars()
		act.BudgetMax = o.cfg.BudgetMax
		act.BudgetUnsatisfiable = err == nil && act.TotalChars > o.cfg.BudgetMax
		span.SetAttributes(
			attribute.String("memtier.action", string(act.Kind)),
			attribute.Int("memtier.steps", len(act.Steps)),
			attribute.Int("memtier.total_chars", act.TotalChars),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if act.BudgetUnsatisfiable {
			o.log.Warn("compress: %d chars still over budget %d, nothing left to compress", act.TotalChars, act.BudgetMax)
		}
	}()

	if block := o.rawBlock(); block != nil && o.underPressure() {
		if err := o.replaceRaw(ctx, &act, block, CreatedLevel1); err != nil {
			return act, err
		}
	}

	for o.items.TotalChars() > o.cfg.BudgetMax {
		block := o.rawBlock()
		if block == nil {
			break
		}
		if err := o.replaceRaw(ctx, &act, block, ReplacedRawWithSummary); err != nil {
			return act, err
		}
	}

	for o.items.SummaryRatio() > o.cfg.HierarchicalThreshold {
		pair := o.mergeablePair()
		if pair == nil {
			break
		}
		if err := o.merge(ctx, &act, pair); err != nil {
			return act, err
		}
	}

	// Raw material is exhausted; keep folding summaries while that still shrinks usage.
	for o.items.TotalChars() > o.cfg.BudgetMax {
		pair := o.mergeablePair()
		if pair == nil {
			break
		}
		before := o.items.TotalChars()
		if err := o.merge(ctx, &act, pair); err != nil {
			return act, err
		}
		if o.items.TotalChars() >= before {
			break
		}
	}
	return act, nil
}

func (o *Orchestrator) underPressure() bool {
	return float64(o.items.TotalChars()) > o.cfg.L1Pressure*float64(o.cfg.BudgetMax)
}

// rawBlock returns the oldest run of L1Threshold raw items that are adjacent
// in display order, excluding the ReserveRecent newest raw items.
func (o *Orchestrator) rawBlock() []model.Item {
	all := o.items.Items()
	rawSeen := 0
	for _, it := range all {
		if it.Kind == model.KindRaw {
			rawSeen++
		}
	}
	eligible := rawSeen - o.cfg.ReserveRecent
	if eligible < o.cfg.L1Threshold {
		return nil
	}

	var run []model.Item
	n := 0
	for _, it := range all {
		if it.Kind != model.KindRaw {
			run = run[:0]
			continue
		}
		if n == eligible {
			break
		}
		n++
		run = append(run, it)
		if len(run) == o.cfg.L1Threshold {
			return run
		}
	}
	return nil
}

// mergeablePair returns the two oldest summaries at the lowest level holding at least two.
func (o *Orchestrator) mergeablePair() []model.Item {
	max := o.items.MaxLevel()
	for level := 1; level <= max; level++ {
		if sums := o.items.ByLevel(level); len(sums) >= 2 {
			return sums[:2]
		}
	}
	return nil
}

func (o *Orchestrator) replaceRaw(ctx context.Context, act *Action, block []model.Item, kind ActionKind) error {
	summary, err := o.summarizeInto(ctx, block, 1)
	if err != nil {
		return err
	}
	return o.apply(act, kind, summary)
}

func (o *Orchestrator) merge(ctx context.Context, act *Action, pair []model.Item) error {
	summary, err := o.summarizeInto(ctx, pair, pair[0].Level+1)
	if err != nil {
		return err
	}
	return o.apply(act, MergedToHigherLevel, summary)
}

// summarizeInto calls the summarizer for inputs and builds the replacing item.
func (o *Orchestrator) summarizeInto(ctx context.Context, inputs []model.Item, level int) (model.Item, error) {
	texts := make([]string, len(inputs))
	inChars := 0
	for i, it := range inputs {
		texts[i] = it.Text
		inChars += it.CharCount
	}

	trace.SpanFromContext(ctx).AddEvent("summarize", trace.WithAttributes(
		attribute.Int("memtier.level", level),
		attribute.Int("memtier.inputs", len(inputs)),
		attribute.Int("memtier.input_chars", inChars),
	))
	text, err := o.summarizer.Summarize(ctx, texts, level)
	if err != nil {
		o.log.Warn("compress: summarize %d items to level %d: %v", len(inputs), level, err)
		return model.Item{}, fmt.Errorf("summarize level %d: %w: %w", level, model.ErrSummarizationFailed, err)
	}
	if strings.TrimSpace(text) == "" {
		o.log.Warn("compress: summarizer returned empty text for level %d", level)
		return model.Item{}, fmt.Errorf("summarize level %d: empty output: %w", level, model.ErrSummarizationFailed)
	}
	if n := model.CharLen(text); n > inChars {
		o.log.Warn("compress: level %d summary is %d chars, longer than its %d char input", level, n, inChars)
	}

	summary := model.Item{
		ID:        o.ids(),
		Kind:      model.KindSummary,
		Level:     level,
		Text:      text,
		CharCount: model.CharLen(text),
		CreatedAt: o.now().UTC(),
		Covers:    make([]string, len(inputs)),
	}
	var topics []string
	var authority, feedback, cost float64
	for i, it := range inputs {
		summary.Covers[i] = it.ID
		topics = append(topics, it.Topics...)
		authority += it.Authority
		feedback += it.UserFeedback
		cost += it.AccessCost
	}
	n := float64(len(inputs))
	summary.Topics = model.NormalizeTopics(topics)
	summary.Authority = authority / n
	summary.UserFeedback = feedback / n
	summary.AccessCost = min(1, cost/n+0.1)
	return summary, nil
}

// apply swaps the covered items for summary and archives them in one step.
func (o *Orchestrator) apply(act *Action, kind ActionKind, summary model.Item) error {
	ids := summary.Covers
	err := o.items.Replace(ids, summary, func(removed []model.Item) error {
		return o.archive.Add(summary.ID, removed...)
	})
	if err != nil {
		return fmt.Errorf("apply %s: %w", summary.ID, err)
	}
	o.log.Debug("compress: %s %s level %d covering %s", kind, summary.ID, summary.Level, strings.Join(ids, ","))
	act.add(Step{Kind: kind, Summary: summary.Clone(), Evicted: append([]string(nil), ids...)})
	return nil
}
