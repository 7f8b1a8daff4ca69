package domain

import (
	"encoding/json"
	"time"
)

// ParameterSet is a versioned, optionally branch-scoped RFV rule configuration.
// It is read-only to the scoring engine.
type ParameterSet struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`

	// BranchID restricts the set to one scope. Nil applies to every scope
	// not covered by a branch-specific set.
	BranchID *string `json:"branchId,omitempty"`

	// WindowDays is the trailing window used to aggregate transactions.
	WindowDays int `json:"windowDays"`

	// Bin lists, kept as raw JSON so a malformed stored rule degrades to the
	// default score instead of failing the load.
	RecencyRule   json.RawMessage `json:"recencyRule"`
	FrequencyRule json.RawMessage `json:"frequencyRule"`
	ValueRule     json.RawMessage `json:"valueRule"`

	EffectiveFrom time.Time  `json:"effectiveFrom"`
	EffectiveTo   *time.Time `json:"effectiveTo,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// ActiveAt reports whether asOf falls inside the validity interval.
// Both ends are inclusive.
func (p *ParameterSet) ActiveAt(asOf time.Time) bool {
	if p.EffectiveFrom.After(asOf) {
		return false
	}
	return p.EffectiveTo == nil || !p.EffectiveTo.Before(asOf)
}

// DisplayName returns the name used in reports, falling back to the ID.
func (p *ParameterSet) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// RecencyBin maps "at most MaxDays since the last purchase" to a score.
// A nil MaxDays is a catch-all.
type RecencyBin struct {
	MaxDays *float64 `json:"maxDays,omitempty"`
	Score   int      `json:"score"`
}

// FrequencyBin maps "at least MinCount purchases" to a score.
type FrequencyBin struct {
	MinCount *float64 `json:"minCount,omitempty"`
	Score    int      `json:"score"`
}

// ValueBin maps "at least MinAmount spent" to a score.
type ValueBin struct {
	MinAmount *float64 `json:"minAmount,omitempty"`
	Score     int      `json:"score"`
}
