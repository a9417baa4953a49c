// Package chunker splits long conversation text into snippet chunks so search
// results can show the part of a turn that matched.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/rcliao/memtier/internal/keywords"
)

const (
	DefaultTargetSize = 200
	DefaultMaxSize    = 400
)

// Options configures chunking behavior. Sizes are in characters.
type Options struct {
	TargetSize int
	MaxSize    int
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{
		TargetSize: DefaultTargetSize,
		MaxSize:    DefaultMaxSize,
	}
}

// ChunkResult is a chunk with its character offsets in the original text.
type ChunkResult struct {
	Text  string
	Start int
	End   int
}

// Chunk splits text into chunks. Text no longer than MaxSize is one chunk.
func Chunk(text string, opts Options) []ChunkResult {
	if opts.TargetSize == 0 {
		opts = DefaultOptions()
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= opts.MaxSize {
		return []ChunkResult{{Text: strings.TrimSpace(text), Start: 0, End: utf8.RuneCountInString(text)}}
	}
	return mergeSegments(splitSentences(text), opts)
}

// segment is a sentence or paragraph with rune offsets.
type segment struct {
	text  string
	start int
	end   int
}

// splitSentences breaks text after sentence punctuation and on newlines.
func splitSentences(text string) []segment {
	var segs []segment
	runes := []rune(text)
	start := 0

	flush := func(end int) {
		if end <= start {
			return
		}
		raw := string(runes[start:end])
		if strings.TrimSpace(raw) != "" {
			segs = append(segs, segment{text: raw, start: start, end: end})
		}
		start = end
	}

	for i, r := range runes {
		switch r {
		case '\n':
			flush(i + 1)
		case '.', '!', '?':
			if i+1 == len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' {
				flush(i + 1)
			}
		}
	}
	flush(len(runes))
	return segs
}

// mergeSegments packs sentences up to TargetSize and hard-splits oversized ones.
func mergeSegments(segs []segment, opts Options) []ChunkResult {
	var results []ChunkResult
	var accum segment
	have := false

	flushAccum := func() {
		if !have {
			return
		}
		if utf8.RuneCountInString(accum.text) > opts.MaxSize {
			results = append(results, hardSplit(accum, opts)...)
		} else if t := strings.TrimSpace(accum.text); t != "" {
			results = append(results, ChunkResult{Text: t, Start: accum.start, End: accum.end})
		}
		accum = segment{}
		have = false
	}

	for _, s := range segs {
		if !have {
			accum, have = s, true
			continue
		}
		if utf8.RuneCountInString(accum.text)+utf8.RuneCountInString(s.text) <= opts.TargetSize {
			accum.text += s.text
			accum.end = s.end
			continue
		}
		flushAccum()
		accum, have = s, true
	}
	flushAccum()
	return results
}

// hardSplit breaks a segment longer than MaxSize on word boundaries.
func hardSplit(s segment, opts Options) []ChunkResult {
	runes := []rune(s.text)
	var results []ChunkResult
	for from := 0; from < len(runes); {
		to := from + opts.TargetSize
		if to >= len(runes) {
			to = len(runes)
		} else if cut := lastSpace(runes[from:to]); cut > 0 {
			to = from + cut
		}
		if t := strings.TrimSpace(string(runes[from:to])); t != "" {
			results = append(results, ChunkResult{Text: t, Start: s.start + from, End: s.start + to})
		}
		from = to
	}
	return results
}

func lastSpace(rs []rune) int {
	for i := len(rs) - 1; i > 0; i-- {
		if rs[i] == ' ' || rs[i] == '\n' {
			return i
		}
	}
	return 0
}

// Snippet returns the chunk of text that best matches query: an exact
// substring wins, then the most keyword hits, then the earliest chunk.
func Snippet(text, query string, opts Options) string {
	chunks := Chunk(text, opts)
	if len(chunks) == 0 {
		return ""
	}
	q := strings.ToLower(strings.TrimSpace(query))
	terms := keywords.Terms(q)

	best, bestScore := 0, -1
	for i, c := range chunks {
		lower := strings.ToLower(c.Text)
		score := 0
		if q != "" && strings.Contains(lower, q) {
			score += 100
		}
		for _, t := range terms {
			if strings.Contains(lower, t) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return chunks[best].Text
}
