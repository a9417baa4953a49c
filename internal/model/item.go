// Package model defines the core memory data types.
package model

import (
	"sort"
	"time"
	"unicode/utf8"
)

// Kind distinguishes verbatim turns from generated summaries.
type Kind string

const (
	KindRaw     Kind = "raw"
	KindSummary Kind = "summary"
)

// Item is a memory item counted against the conversation budget.
type Item struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	Level        int       `json:"level"`
	Role         string    `json:"role,omitempty"`
	Text         string    `json:"text"`
	CharCount    int       `json:"char_count"`
	CreatedAt    time.Time `json:"created_at"`
	Topics       []string  `json:"topics,omitempty"`
	Covers       []string  `json:"covers,omitempty"`
	Authority    float64   `json:"authority"`
	UserFeedback float64   `json:"user_feedback"`
	AccessCost   float64   `json:"access_cost"`
}

// ArchiveEntry is an item moved out of the item store.
type ArchiveEntry struct {
	Item
	ReplacedBy string    `json:"replaced_by"`
	ArchivedAt time.Time `json:"archived_at"`
}

// CharLen returns the character count used for budget accounting.
func CharLen(text string) int {
	return utf8.RuneCountInString(text)
}

// NewRaw builds a level-0 item for a conversation turn.
func NewRaw(id, role, text string, topics []string, createdAt time.Time) Item {
	return Item{
		ID:           id,
		Kind:         KindRaw,
		Level:        0,
		Role:         role,
		Text:         text,
		CharCount:    CharLen(text),
		CreatedAt:    createdAt.UTC(),
		Topics:       NormalizeTopics(topics),
		Authority:    0.5,
		UserFeedback: 0.5,
		AccessCost:   0,
	}
}

// IsSummary reports whether the item is a generated summary.
func (i Item) IsSummary() bool { return i.Kind == KindSummary }

// Clone returns a copy that shares no slices with i.
func (i Item) Clone() Item {
	c := i
	if i.Topics != nil {
		c.Topics = append([]string(nil), i.Topics...)
	}
	if i.Covers != nil {
		c.Covers = append([]string(nil), i.Covers...)
	}
	return c
}

// HasTopic reports whether the item is tagged with topic.
func (i Item) HasTopic(topic string) bool {
	for _, t := range i.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// NormalizeTopics deduplicates and sorts topic tags so exports are stable.
func NormalizeTopics(topics []string) []string {
	if len(topics) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Source says where a search result came from.
type Source string

const (
	SourceLocal    Source = "local"
	SourceFallback Source = "fallback"
)

// SearchResult is an ephemeral ranked match.
type SearchResult struct {
	ID             string         `json:"id"`
	Content        string         `json:"content"`
	Level          int            `json:"level"`
	RelevanceScore float64        `json:"relevance_score"`
	Source         Source         `json:"source"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}
