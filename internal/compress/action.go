package compress

import (
	"fmt"

	"github.com/rcliao/memtier/internal/model"
)

// ActionKind tags the outcome of a compression pass.
type ActionKind string

const (
	None                   ActionKind = "none"
	CreatedLevel1          ActionKind = "created_level1"
	ReplacedRawWithSummary ActionKind = "replaced_raw_with_summary"
	MergedToHigherLevel    ActionKind = "merged_to_higher_level"
)

func (k ActionKind) rank() int {
	switch k {
	case CreatedLevel1:
		return 1
	case ReplacedRawWithSummary:
		return 2
	case MergedToHigherLevel:
		return 3
	default:
		return 0
	}
}

// Step is one summary created during a pass.
type Step struct {
	Kind    ActionKind `json:"kind"`
	Summary model.Item `json:"summary"`
	Evicted []string   `json:"evicted"`
}

// Action reports what a pass did. Kind is the most significant step taken.
type Action struct {
	Kind                ActionKind   `json:"kind"`
	Steps               []Step       `json:"steps,omitempty"`
	Created             []model.Item `json:"created,omitempty"`
	Evicted             []string     `json:"evicted,omitempty"`
	TotalChars          int          `json:"total_chars"`
	BudgetMax           int          `json:"budget_max"`
	BudgetUnsatisfiable bool         `json:"budget_unsatisfiable,omitempty"`
}

func (a *Action) add(s Step) {
	a.Steps = append(a.Steps, s)
	a.Created = append(a.Created, s.Summary)
	a.Evicted = append(a.Evicted, s.Evicted...)
	if s.Kind.rank() > a.Kind.rank() {
		a.Kind = s.Kind
	}
}

// Count returns the number of steps of kind k.
func (a Action) Count(k ActionKind) int {
	n := 0
	for _, s := range a.Steps {
		if s.Kind == k {
			n++
		}
	}
	return n
}

// Err returns model.ErrBudgetUnsatisfiable when the pass could not get under budget.
func (a Action) Err() error {
	if !a.BudgetUnsatisfiable {
		return nil
	}
	return fmt.Errorf("%d chars over budget of %d: %w", a.TotalChars-a.BudgetMax, a.BudgetMax, model.ErrBudgetUnsatisfiable)
}
