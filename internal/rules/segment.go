package rules

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Scores holds the three discrete scores of a customer.
type Scores struct {
	R int `json:"r"`
	F int `json:"f"`
	V int `json:"v"`
}

// Code concatenates the scores in R, F, V order.
func (s Scores) Code() string {
	return strconv.Itoa(s.R) + strconv.Itoa(s.F) + strconv.Itoa(s.V)
}

// Sum is the input of the automatic ranking.
func (s Scores) Sum() int {
	return s.R + s.F + s.V
}

type compiledSegment struct {
	id       string
	name     string
	priority int

	// conditions is indexed R, F, V; nil means no condition.
	conditions [3]*Condition
	filter     cel.Program

	// broken segments carry a malformed condition and never match.
	broken bool
}

func (s *compiledSegment) matches(scores Scores, m domain.CustomerMetrics) bool {
	if s.broken {
		return false
	}
	values := [3]int{scores.R, scores.F, scores.V}
	for i, c := range s.conditions {
		if c != nil && !c.Holds(values[i]) {
			return false
		}
	}
	if s.filter != nil && !evalFilter(s.filter, scores, m) {
		return false
	}
	return true
}

// Matcher classifies scores against a priority-ordered segment list.
// It is immutable once built and safe for concurrent use.
type Matcher struct {
	segments []compiledSegment
}

// Match returns the name of the first matching segment, or domain.Unsegmented.
// Filters see zero raw metrics.
func (m *Matcher) Match(s Scores) string {
	return m.MatchCustomer(s, domain.CustomerMetrics{})
}

// MatchCustomer is Match with raw metrics available to CEL filters.
func (m *Matcher) MatchCustomer(s Scores, metrics domain.CustomerMetrics) string {
	if m == nil {
		return domain.Unsegmented
	}
	for i := range m.segments {
		if m.segments[i].matches(s, metrics) {
			return m.segments[i].name
		}
	}
	return domain.Unsegmented
}

// Names returns segment names in evaluation order.
func (m *Matcher) Names() []string {
	if m == nil {
		return nil
	}
	names := make([]string, len(m.segments))
	for i, s := range m.segments {
		names[i] = s.name
	}
	return names
}

func newMatcher(env *cel.Env, segments []*domain.Segment) (*Matcher, []error) {
	var issues []error
	compiled := make([]compiledSegment, 0, len(segments))
	for _, seg := range segments {
		if seg == nil {
			continue
		}
		cs, errs := compileSegment(env, seg)
		issues = append(issues, errs...)
		compiled = append(compiled, cs)
	}

	slices.SortStableFunc(compiled, func(a, b compiledSegment) int {
		if c := cmp.Compare(b.priority, a.priority); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})

	return &Matcher{segments: compiled}, issues
}

func compileSegment(env *cel.Env, seg *domain.Segment) (compiledSegment, []error) {
	cs := compiledSegment{id: seg.ID, name: seg.Name, priority: seg.Priority}
	malformed := func(dim string, err error) error {
		cs.broken = true
		return &domain.MalformedRuleError{
			ParameterSetID: seg.ParameterSetID,
			SegmentID:      seg.ID,
			Dimension:      dim,
			Err:            err,
		}
	}

	var issues []error
	conditions, err := decodeSegmentRules(seg.Rules)
	if err != nil {
		issues = append(issues, malformed("rules", err))
	}
	for dim, text := range conditions {
		idx := dimensionIndex(dim)
		if idx < 0 {
			issues = append(issues, malformed(dim, fmt.Errorf("unknown dimension")))
			continue
		}
		c, err := ParseCondition(text)
		if err != nil {
			issues = append(issues, malformed(dim, err))
			continue
		}
		cs.conditions[idx] = &c
	}

	if strings.TrimSpace(seg.Filter) != "" {
		program, err := compileFilter(env, seg.Filter)
		if err != nil {
			issues = append(issues, malformed("filter", err))
		} else {
			cs.filter = program
		}
	}
	return cs, issues
}

// decodeSegmentRules reads {"R": ">= 4", ...}. Keys are case-insensitive
// and may name a dimension only once; empty or null values mean no condition.
func decodeSegmentRules(raw json.RawMessage) (map[string]string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var decoded map[string]any
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return nil, fmt.Errorf("decode segment rules: %w", err)
	}

	out := make(map[string]string, len(decoded))
	seen := make(map[string]string, len(decoded))
	for key, val := range decoded {
		dim := strings.ToUpper(strings.TrimSpace(key))
		if prev, dup := seen[dim]; dup {
			first, second := prev, key
			if second < first {
				first, second = second, first
			}
			return nil, fmt.Errorf("segment rules %q and %q both name dimension %s", first, second, dim)
		}
		seen[dim] = key
		switch v := val.(type) {
		case nil:
			continue
		case string:
			if strings.TrimSpace(v) == "" {
				continue
			}
			out[dim] = v
		default:
			return out, fmt.Errorf("segment rule %s: expected a string, got %T", key, val)
		}
	}
	return out, nil
}

func dimensionIndex(dim string) int {
	switch dim {
	case domain.DimensionRecency:
		return 0
	case domain.DimensionFrequency:
		return 1
	case domain.DimensionValue:
		return 2
	default:
		return -1
	}
}
