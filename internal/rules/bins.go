package rules

import (
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultScore is returned when a rule set is missing, empty, malformed,
// or has no bin for the value.
const DefaultScore = 1

type direction int

const (
	// ascending sorts by threshold low to high and matches threshold >= value.
	ascending direction = iota
	// descending sorts by threshold high to low and matches threshold <= value.
	descending
)

type bin struct {
	threshold float64
	bounded   bool
	score     int
}

// Scale is an immutable, pre-sorted list of bins.
// Build it once per parameter set and share it across customers.
type Scale struct {
	dir  direction
	bins []bin
}

func newScale(dir direction, bins []bin) *Scale {
	sorted := slices.Clone(bins)
	slices.SortStableFunc(sorted, func(a, b bin) int {
		// Catch-all bins always sort last.
		switch {
		case a.bounded && !b.bounded:
			return -1
		case !a.bounded && b.bounded:
			return 1
		case !a.bounded && !b.bounded:
			return 0
		}
		if dir == ascending {
			return cmp.Compare(a.threshold, b.threshold)
		}
		return cmp.Compare(b.threshold, a.threshold)
	})
	return &Scale{dir: dir, bins: sorted}
}

// NewRecencyScale sorts bins ascending by MaxDays.
func NewRecencyScale(bins []domain.RecencyBin) *Scale {
	out := make([]bin, 0, len(bins))
	for _, b := range bins {
		out = append(out, toBin(b.MaxDays, b.Score))
	}
	return newScale(ascending, out)
}

// NewFrequencyScale sorts bins descending by MinCount.
func NewFrequencyScale(bins []domain.FrequencyBin) *Scale {
	out := make([]bin, 0, len(bins))
	for _, b := range bins {
		out = append(out, toBin(b.MinCount, b.Score))
	}
	return newScale(descending, out)
}

// NewValueScale sorts bins descending by MinAmount.
func NewValueScale(bins []domain.ValueBin) *Scale {
	out := make([]bin, 0, len(bins))
	for _, b := range bins {
		out = append(out, toBin(b.MinAmount, b.Score))
	}
	return newScale(descending, out)
}

func toBin(threshold *float64, score int) bin {
	if threshold == nil {
		return bin{score: score}
	}
	return bin{threshold: *threshold, bounded: true, score: score}
}

// Score returns the score of the first matching bin, or DefaultScore.
func (s *Scale) Score(v float64) int {
	if s == nil {
		return DefaultScore
	}
	for _, b := range s.bins {
		if !b.bounded {
			return b.score
		}
		if s.dir == ascending && b.threshold >= v {
			return b.score
		}
		if s.dir == descending && b.threshold <= v {
			return b.score
		}
	}
	return DefaultScore
}

// Len returns the number of bins.
func (s *Scale) Len() int {
	if s == nil {
		return 0
	}
	return len(s.bins)
}

// ScoreRecency scores days since the last purchase against literal bins.
func ScoreRecency(days float64, bins []domain.RecencyBin) int {
	return NewRecencyScale(bins).Score(days)
}

// ScoreFrequency scores a purchase count against literal bins.
func ScoreFrequency(count float64, bins []domain.FrequencyBin) int {
	return NewFrequencyScale(bins).Score(count)
}

// ScoreValue scores a monetary total against literal bins.
func ScoreValue(amount float64, bins []domain.ValueBin) int {
	return NewValueScale(bins).Score(amount)
}

// rawBin decodes any of the three bin kinds; the caller picks the threshold.
// Score is a pointer so a missing score can be told apart from zero.
type rawBin struct {
	MaxDays   *float64 `json:"maxDays"`
	MinCount  *float64 `json:"minCount"`
	MinAmount *float64 `json:"minAmount"`
	Score     *int     `json:"score"`
}

// DecodeRecencyRule parses a stored recency rule. On error the returned
// scale holds whatever bins were usable; it is never nil.
func DecodeRecencyRule(raw json.RawMessage) (*Scale, error) {
	bins, err := decodeBins(raw, func(b rawBin) *float64 { return b.MaxDays })
	return newScale(ascending, bins), err
}

// DecodeFrequencyRule parses a stored frequency rule.
func DecodeFrequencyRule(raw json.RawMessage) (*Scale, error) {
	bins, err := decodeBins(raw, func(b rawBin) *float64 { return b.MinCount })
	return newScale(descending, bins), err
}

// DecodeValueRule parses a stored value rule.
func DecodeValueRule(raw json.RawMessage) (*Scale, error) {
	bins, err := decodeBins(raw, func(b rawBin) *float64 { return b.MinAmount })
	return newScale(descending, bins), err
}

func decodeBins(raw json.RawMessage, threshold func(rawBin) *float64) ([]bin, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var decoded []rawBin
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return nil, fmt.Errorf("decode bins: %w", err)
	}

	var errs []error
	bins := make([]bin, 0, len(decoded))
	for i, rb := range decoded {
		if rb.Score == nil {
			errs = append(errs, fmt.Errorf("bin %d: score is required", i))
			continue
		}
		bins = append(bins, toBin(threshold(rb), *rb.Score))
	}
	return bins, errors.Join(errs...)
}
