package summarize

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncatingRespectsMaxChars(t *testing.T) {
	s := NewTruncating(60)
	texts := []string{
		strings.Repeat("alpha ", 30),
		strings.Repeat("beta ", 30),
		strings.Repeat("gamma ", 30),
	}
	out, err := s.Summarize(context.Background(), texts, 1)
	if err != nil {
		t.Fatal(err)
	}
	if utf8.RuneCountInString(out) > 60 {
		t.Errorf("summary too long: %d", utf8.RuneCountInString(out))
	}
	for _, w := range []string{"alpha", "beta", "gamma"} {
		if !strings.Contains(out, w) {
			t.Errorf("expected %q to be represented in %q", w, out)
		}
	}
}

func TestTruncatingDeterministic(t *testing.T) {
	s := NewTruncating(0)
	in := []string{"one two three", "four five"}
	a, _ := s.Summarize(context.Background(), in, 2)
	b, _ := s.Summarize(context.Background(), in, 2)
	if a != b {
		t.Errorf("expected deterministic output, got %q vs %q", a, b)
	}
	if a != "one two three | four five" {
		t.Errorf("unexpected short-input summary %q", a)
	}
}

func TestTruncatingEmptyInput(t *testing.T) {
	out, err := NewTruncating(10).Summarize(context.Background(), []string{"  ", ""}, 1)
	if err != nil || out != "" {
		t.Errorf("expected empty output, got %q %v", out, err)
	}
}

func TestTruncatingCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewTruncating(10).Summarize(ctx, []string{"x"}, 1); err == nil {
		t.Error("expected context error")
	}
}

func TestFuncAdapter(t *testing.T) {
	f := Func(func(_ context.Context, texts []string, level int) (string, error) {
		return strings.Join(texts, "+"), nil
	})
	out, _ := f.Summarize(context.Background(), []string{"a", "b"}, 1)
	if out != "a+b" {
		t.Errorf("got %q", out)
	}
}
