// Package interest decides per message whether background retrieval is worth
// running. Scoring is a cheap keyword heuristic.
package interest

import (
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rcliao/memtier/internal/keywords"
	"github.com/rcliao/memtier/internal/logging"
)

const (
	DefaultSearchThreshold    = 0.7
	DefaultRandomSearchChance = 0.10
	DefaultJitter             = 0.1
	DefaultHalfLife           = 24 * time.Hour
)

const (
	weightFrequency  = 0.3
	weightRelevance  = 0.4
	weightRecency    = 0.2
	weightComplexity = 0.1
)

// Config tunes trigger sensitivity.
type Config struct {
	SearchThreshold    float64       `yaml:"search_threshold"`
	RandomSearchChance float64       `yaml:"random_search_chance"`
	Jitter             float64       `yaml:"jitter"`
	HalfLife           time.Duration `yaml:"half_life"`
}

// DefaultConfig returns the default trigger settings.
func DefaultConfig() Config {
	return Config{
		SearchThreshold:    DefaultSearchThreshold,
		RandomSearchChance: DefaultRandomSearchChance,
		Jitter:             DefaultJitter,
		HalfLife:           DefaultHalfLife,
	}
}

// Random is the randomness source for jitter and the random trigger channel.
// *rand.Rand satisfies it.
type Random interface {
	Float64() float64
}

// Trigger is a tag worth searching for.
type Trigger struct {
	Tag    string  `json:"tag"`
	Score  float64 `json:"score"`
	Random bool    `json:"random,omitempty"`
}

// Analysis is the outcome of scoring one message.
type Analysis struct {
	Tags     []string           `json:"tags"`
	Scores   map[string]float64 `json:"scores"`
	Triggers []Trigger          `json:"triggers,omitempty"`
}

// Analyzer keeps per-conversation tag history.
type Analyzer struct {
	mu       sync.Mutex
	cfg      Config
	rng      Random
	now      func() time.Time
	log      logging.Logger
	counts   map[string]int
	lastSeen map[string]time.Time
	maxCount int
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithRandom injects the random source.
func WithRandom(r Random) Option { return func(a *Analyzer) { a.rng = r } }

// WithClock injects the clock used for recency.
func WithClock(now func() time.Time) Option { return func(a *Analyzer) { a.now = now } }

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option { return func(a *Analyzer) { a.log = logging.OrNop(l) } }

// New returns an analyzer with empty history.
func New(cfg Config, opts ...Option) *Analyzer {
	a := &Analyzer{
		cfg:      cfg,
		now:      time.Now,
		log:      logging.Nop(),
		counts:   make(map[string]int),
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.rng == nil {
		a.rng = &lockedRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
	}
	if a.cfg.HalfLife <= 0 {
		a.cfg.HalfLife = DefaultHalfLife
	}
	return a
}

// Analyze tags message, scores each tag against the history seen so far and
// then records the tags. Tags are scored in sorted order so a seeded random
// source gives repeatable results.
func (a *Analyzer) Analyze(message string) Analysis {
	a.mu.Lock()
	defer a.mu.Unlock()

	tags := keywords.Extract(message)
	lower := strings.ToLower(message)
	now := a.now()

	res := Analysis{Tags: tags, Scores: make(map[string]float64, len(tags))}
	for _, tag := range tags {
		score := weightFrequency*a.frequency(tag) +
			weightRelevance*Relevance(tag, lower) +
			weightRecency*a.recency(tag, now) +
			weightComplexity*complexity(tag) +
			a.rng.Float64()*a.cfg.Jitter
		score = math.Min(1, score)
		res.Scores[tag] = score

		switch {
		case score > a.cfg.SearchThreshold:
			res.Triggers = append(res.Triggers, Trigger{Tag: tag, Score: score})
		case a.rng.Float64() < a.cfg.RandomSearchChance:
			res.Triggers = append(res.Triggers, Trigger{Tag: tag, Score: score, Random: true})
		}
	}

	a.observe(tags, now)
	if len(res.Triggers) > 0 {
		a.log.Debug("interest: %d of %d tags triggered", len(res.Triggers), len(tags))
	}
	return res
}

// Observe records tags seen at a past time without scoring them. It rebuilds
// history for a restored conversation.
func (a *Analyzer) Observe(tags []string, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observe(tags, at)
}

func (a *Analyzer) observe(tags []string, at time.Time) {
	for _, tag := range tags {
		a.counts[tag]++
		if last, ok := a.lastSeen[tag]; !ok || at.After(last) {
			a.lastSeen[tag] = at
		}
		if a.counts[tag] > a.maxCount {
			a.maxCount = a.counts[tag]
		}
	}
}

func (a *Analyzer) frequency(tag string) float64 {
	if a.maxCount == 0 {
		return 0
	}
	return float64(a.counts[tag]) / float64(a.maxCount)
}

func (a *Analyzer) recency(tag string, now time.Time) float64 {
	last, ok := a.lastSeen[tag]
	if !ok {
		return 0
	}
	age := now.Sub(last)
	if age < 0 {
		age = 0
	}
	return math.Exp(-math.Ln2 * float64(age) / float64(a.cfg.HalfLife))
}

func complexity(tag string) float64 {
	if keywords.IsComplex(tag) {
		return 1
	}
	return 0
}

// Relevance is 1 when tag occurs in text verbatim. Otherwise it is the
// fraction of the tag's tokens found in text, where a token sharing a prefix
// of at least three letters with a text token earns proportional credit.
func Relevance(tag, text string) float64 {
	tag = strings.ToLower(strings.TrimSpace(tag))
	text = strings.ToLower(text)
	if tag == "" {
		return 0
	}
	if strings.Contains(text, tag) {
		return 1
	}
	tagTokens := keywords.Tokenize(tag)
	if len(tagTokens) == 0 {
		return 0
	}
	textTokens := keywords.Tokenize(text)
	var total float64
	for _, tt := range tagTokens {
		best := 0.0
		for _, w := range textTokens {
			if tt == w {
				best = 1
				break
			}
			if p := commonPrefix(tt, w); p >= 3 {
				best = math.Max(best, float64(p)/float64(max(len([]rune(tt)), len([]rune(w)))))
			}
		}
		total += best
	}
	return total / float64(len(tagTokens))
}

func commonPrefix(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	n := 0
	for n < len(ra) && n < len(rb) && ra[n] == rb[n] {
		n++
	}
	return n
}

// History returns tag counts, most frequent first.
func (a *Analyzer) History() []TagCount {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]TagCount, 0, len(a.counts))
	for tag, n := range a.counts {
		out = append(out, TagCount{Tag: tag, Count: n, LastSeen: a.lastSeen[tag]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}

// TagCount is one tag's history entry.
type TagCount struct {
	Tag      string    `json:"tag"`
	Count    int       `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

// lockedRand makes a *rand.Rand safe to share.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}
