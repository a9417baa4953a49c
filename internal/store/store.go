// Package store persists conversation snapshots.
package store

import (
	"context"
	"time"

	"github.com/rcliao/memtier/internal/model"
)

// ConversationInfo summarizes one saved conversation.
type ConversationInfo struct {
	ID         string    `json:"id"`
	Items      int       `json:"items"`
	Archived   int       `json:"archived"`
	TotalChars int       `json:"total_chars"`
	BudgetMax  int       `json:"budget_max"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store defines the snapshot storage interface.
type Store interface {
	// Save replaces the stored snapshot of conversation id.
	Save(ctx context.Context, id string, st model.State) error

	// Load returns the snapshot of conversation id, or model.ErrNotFound.
	Load(ctx context.Context, id string) (model.State, error)

	// List returns every stored conversation, most recently updated first.
	List(ctx context.Context) ([]ConversationInfo, error)

	// Delete removes conversation id, or returns model.ErrNotFound.
	Delete(ctx context.Context, id string) error

	// Close closes the store.
	Close() error
}

// ArchiveSearcher finds archived text across conversations.
type ArchiveSearcher interface {
	SearchArchived(ctx context.Context, query, excludeID string, limit int) ([]model.SearchResult, error)
}

func info(id string, st model.State, updated time.Time) ConversationInfo {
	ci := ConversationInfo{
		ID:        id,
		Items:     len(st.Items),
		Archived:  len(st.Archive),
		BudgetMax: st.BudgetMax,
		UpdatedAt: updated,
	}
	for _, it := range st.Items {
		ci.TotalChars += it.CharCount
	}
	return ci
}
