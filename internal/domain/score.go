package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CustomerMetrics holds the raw RFV metrics of one customer over a window.
type CustomerMetrics struct {
	CustomerID       string          `json:"customerId"`
	RecencyDays      int             `json:"recencyDays"`
	Frequency        int             `json:"frequency"`
	Value            decimal.Decimal `json:"value"`
	LastPurchaseDate time.Time       `json:"lastPurchaseDate"`
}

// ScoredCustomer is the per-customer output of a scoring run.
type ScoredCustomer struct {
	CustomerID       string          `json:"customerId"`
	RecencyDays      int             `json:"recencyDays"`
	Frequency        int             `json:"frequency"`
	Value            decimal.Decimal `json:"value"`
	LastPurchaseDate time.Time       `json:"lastPurchaseDate"`

	RecencyScore   int `json:"recencyScore"`
	FrequencyScore int `json:"frequencyScore"`
	ValueScore     int `json:"valueScore"`

	// Code is the R, F and V scores concatenated, e.g. "534".
	Code    string `json:"code"`
	Segment string `json:"segment"`
	Ranking string `json:"ranking"`
}

// ScoreReport is the result of calculateScores.
type ScoreReport struct {
	ParameterSetID   string           `json:"parameterSetId"`
	ParameterSetUsed string           `json:"parameterSetUsed"`
	BranchID         *string          `json:"branchId,omitempty"`
	AnalysisDate     time.Time        `json:"analysisDate"`
	WindowDays       int              `json:"windowDays"`
	Results          []ScoredCustomer `json:"results"`
}

// ScoreRun is the stored summary of an asynchronous scoring run.
type ScoreRun struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenantId"`
	BranchID       *string        `json:"branchId,omitempty"`
	Status         string         `json:"status"`
	ParameterSetID string         `json:"parameterSetId,omitempty"`
	AnalysisDate   time.Time      `json:"analysisDate"`
	Customers      int            `json:"customers"`
	Segments       map[string]int `json:"segments,omitempty"`
	Rankings       map[string]int `json:"rankings,omitempty"`
	Error          string         `json:"error,omitempty"`
	RequestedAt    time.Time      `json:"requestedAt"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
}

// Score run statuses.
const (
	RunStatusPending   = "pending"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Summarize fills the histogram fields of a run from a report.
func (r *ScoreRun) Summarize(report *ScoreReport) {
	r.ParameterSetID = report.ParameterSetID
	r.AnalysisDate = report.AnalysisDate
	r.Customers = len(report.Results)
	r.Segments = make(map[string]int)
	r.Rankings = make(map[string]int)
	for _, c := range report.Results {
		r.Segments[c.Segment]++
		r.Rankings[c.Ranking]++
	}
}
