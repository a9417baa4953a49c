package compress

import "fmt"

const (
	DefaultBudgetMax             = 2000
	DefaultL1Threshold           = 5
	DefaultL1Pressure            = 0.8
	DefaultReserveRecent         = 2
	DefaultHierarchicalThreshold = 0.5
)

// Config holds the compression policy settings.
type Config struct {
	// BudgetMax is the character budget for live items.
	BudgetMax int
	// L1Threshold is the raw block size summarized into one level-1 item.
	L1Threshold int
	// L1Pressure is the fraction of BudgetMax usage must exceed before a
	// level-1 summary is created ahead of the budget backstop. Zero makes
	// level-1 creation a pure count trigger.
	L1Pressure float64
	// ReserveRecent raw items at the tail are never summarized.
	ReserveRecent int
	// HierarchicalThreshold is the summary ratio above which summaries merge upward.
	HierarchicalThreshold float64
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		BudgetMax:             DefaultBudgetMax,
		L1Threshold:           DefaultL1Threshold,
		L1Pressure:            DefaultL1Pressure,
		ReserveRecent:         DefaultReserveRecent,
		HierarchicalThreshold: DefaultHierarchicalThreshold,
	}
}

// Validate rejects settings the policy cannot run with.
func (c Config) Validate() error {
	if c.BudgetMax <= 0 {
		return fmt.Errorf("budget_max must be positive, got %d", c.BudgetMax)
	}
	if c.L1Threshold < 2 {
		return fmt.Errorf("l1_threshold must be at least 2, got %d", c.L1Threshold)
	}
	if c.L1Pressure < 0 {
		return fmt.Errorf("l1_pressure must not be negative, got %v", c.L1Pressure)
	}
	if c.ReserveRecent < 0 {
		return fmt.Errorf("reserve_recent must not be negative, got %d", c.ReserveRecent)
	}
	if c.HierarchicalThreshold <= 0 || c.HierarchicalThreshold > 1 {
		return fmt.Errorf("hierarchical_threshold must be in (0,1], got %v", c.HierarchicalThreshold)
	}
	return nil
}
