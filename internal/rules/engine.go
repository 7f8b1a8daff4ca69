// Package rules compiles RFV parameter sets and segments into immutable
// scoring snapshots.
package rules

import (
	"errors"

	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine compiles configuration. It holds only the CEL environment, which
// is immutable, so one Engine can be shared by every request.
type Engine struct {
	env *cel.Env
}

// NewEngine creates a new rule compilation engine.
func NewEngine() (*Engine, error) {
	env, err := newFilterEnv()
	if err != nil {
		return nil, err
	}
	return &Engine{env: env}, nil
}

// Snapshot is a compiled ParameterSet with its segments. It is read-only
// for the duration of a scoring run.
type Snapshot struct {
	ParameterSet *domain.ParameterSet
	Recency      *Scale
	Frequency    *Scale
	Value        *Scale
	Matcher      *Matcher
}

// Compile builds a snapshot. Malformed rules are returned as issues
// (*domain.MalformedRuleError) and degrade to their safe defaults; the
// snapshot is always usable.
func (e *Engine) Compile(ps *domain.ParameterSet, segments []*domain.Segment) (*Snapshot, []error) {
	var issues []error
	malformed := func(dim string, err error) {
		if err != nil {
			issues = append(issues, &domain.MalformedRuleError{ParameterSetID: ps.ID, Dimension: dim, Err: err})
		}
	}

	recency, err := DecodeRecencyRule(ps.RecencyRule)
	malformed(domain.DimensionRecency, err)
	frequency, err := DecodeFrequencyRule(ps.FrequencyRule)
	malformed(domain.DimensionFrequency, err)
	value, err := DecodeValueRule(ps.ValueRule)
	malformed(domain.DimensionValue, err)

	matcher, segIssues := e.NewMatcher(segments)
	issues = append(issues, segIssues...)

	return &Snapshot{
		ParameterSet: ps,
		Recency:      recency,
		Frequency:    frequency,
		Value:        value,
		Matcher:      matcher,
	}, issues
}

// NewMatcher compiles segments into a Matcher sorted by priority.
func (e *Engine) NewMatcher(segments []*domain.Segment) (*Matcher, []error) {
	return newMatcher(e.env, segments)
}

// Score computes the three discrete scores for one customer.
func (s *Snapshot) Score(m domain.CustomerMetrics) Scores {
	return Scores{
		R: s.Recency.Score(float64(m.RecencyDays)),
		F: s.Frequency.Score(float64(m.Frequency)),
		V: s.Value.Score(m.Value.InexactFloat64()),
	}
}

// Classify returns the matching segment name for a customer.
func (s *Snapshot) Classify(scores Scores, m domain.CustomerMetrics) string {
	return s.Matcher.MatchCustomer(scores, m)
}

// ValidateParameterSet rejects a set whose rules would not compile cleanly.
func (e *Engine) ValidateParameterSet(ps *domain.ParameterSet) error {
	if ps == nil {
		return errors.New("parameter set is required")
	}
	_, issues := e.Compile(ps, nil)
	return errors.Join(issues...)
}

// ValidateSegment rejects a segment with a malformed condition or filter.
func (e *Engine) ValidateSegment(seg *domain.Segment) error {
	if seg == nil {
		return errors.New("segment is required")
	}
	_, issues := compileSegment(e.env, seg)
	return errors.Join(issues...)
}
