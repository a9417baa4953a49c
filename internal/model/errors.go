package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when an id resolves in neither the item store nor the archive.
	ErrNotFound = errors.New("memory: item not found")

	// ErrBrokenChain is returned when a covers reference cannot be resolved.
	ErrBrokenChain = errors.New("memory: broken covers chain")

	// ErrSummarizationFailed is returned when the summarizer errors or returns empty text.
	ErrSummarizationFailed = errors.New("memory: summarization failed")

	// ErrDimensionMismatch is returned when two embedding vectors differ in length.
	ErrDimensionMismatch = errors.New("memory: embedding dimension mismatch")

	// ErrBudgetUnsatisfiable reports that no further compression can bring usage under budget.
	ErrBudgetUnsatisfiable = errors.New("memory: budget unsatisfiable")

	// ErrInvalidState is returned when an imported state violates an invariant.
	ErrInvalidState = errors.New("memory: invalid state")

	// ErrExists is returned when creating a conversation whose id is taken.
	ErrExists = errors.New("memory: already exists")
)

// BrokenChainError is a partial decompression result.
type BrokenChainError struct {
	RootID  string
	Missing []string
	Partial []Item
}

func (e *BrokenChainError) Error() string {
	return fmt.Sprintf("decompress %s: missing %s", e.RootID, strings.Join(e.Missing, ", "))
}

func (e *BrokenChainError) Unwrap() error { return ErrBrokenChain }
