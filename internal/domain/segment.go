package domain

import (
	"encoding/json"
	"time"
)

// Segment is a named classification rule owned by one ParameterSet.
// Segments are deleted together with their ParameterSet.
type Segment struct {
	ID             string `json:"id"`
	TenantID       string `json:"tenantId"`
	ParameterSetID string `json:"parameterSetId"`
	Name           string `json:"name"`

	// Priority orders evaluation: higher first.
	Priority int `json:"priority"`

	// Rules holds up to three comparisons against the discrete scores,
	// e.g. {"R": ">= 4", "F": ">= 4", "V": ">= 4"}. Missing dimensions
	// always hold.
	Rules json.RawMessage `json:"rules"`

	// Filter is an optional CEL boolean expression over r, f, v,
	// recency_days, frequency and value.
	Filter string `json:"filter,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Unsegmented is returned when no segment matches.
const Unsegmented = "Unsegmented"

// Score dimensions.
const (
	DimensionRecency   = "R"
	DimensionFrequency = "F"
	DimensionValue     = "V"
)
