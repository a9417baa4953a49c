// Package summarize defines the summarization collaborator used by the
// compression orchestrator.
package summarize

import (
	"context"
	"strings"
)

// Summarizer produces a short text from N source texts. targetLevel is the
// level of the summary being produced.
type Summarizer interface {
	Summarize(ctx context.Context, texts []string, targetLevel int) (string, error)
}

// Func adapts a plain function to Summarizer.
type Func func(ctx context.Context, texts []string, targetLevel int) (string, error)

func (f Func) Summarize(ctx context.Context, texts []string, targetLevel int) (string, error) {
	return f(ctx, texts, targetLevel)
}

// DefaultMaxChars bounds the output of Truncating.
const DefaultMaxChars = 160

// Truncating is a deterministic summarizer for tests and offline use. It keeps
// an equal-sized head of every input and joins them, never exceeding MaxChars.
type Truncating struct {
	MaxChars int
}

// NewTruncating returns a Truncating summarizer. maxChars <= 0 uses DefaultMaxChars.
func NewTruncating(maxChars int) *Truncating {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Truncating{MaxChars: maxChars}
}

const sep = " | "

func (t *Truncating) Summarize(ctx context.Context, texts []string, targetLevel int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var parts []string
	for _, s := range texts {
		if s = strings.Join(strings.Fields(s), " "); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "", nil
	}

	max := t.MaxChars
	if max <= 0 {
		max = DefaultMaxChars
	}
	per := (max - len(sep)*(len(parts)-1)) / len(parts)
	if per < 1 {
		per = 1
	}
	for i, p := range parts {
		parts[i] = head(p, per)
	}
	return head(strings.Join(parts, sep), max), nil
}

func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
