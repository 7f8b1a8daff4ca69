package rules

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine()
	require.NoError(t, err)
	return engine
}

func seg(id, name string, priority int, rules string) *domain.Segment {
	return &domain.Segment{
		ID:             id,
		ParameterSetID: "ps-1",
		Name:           name,
		Priority:       priority,
		Rules:          json.RawMessage(rules),
	}
}

func TestScoresCode(t *testing.T) {
	assert.Equal(t, "534", Scores{R: 5, F: 3, V: 4}.Code())
	assert.Equal(t, "111", Scores{R: 1, F: 1, V: 1}.Code())
	assert.Equal(t, "10510", Scores{R: 10, F: 5, V: 10}.Code())
	assert.Equal(t, 12, Scores{R: 5, F: 3, V: 4}.Sum())
}

func TestMatcher_Champion(t *testing.T) {
	engine := newTestEngine(t)
	matcher, issues := engine.NewMatcher([]*domain.Segment{
		seg("s1", "Champions", 10, `{"R":">= 4","F":">= 4","V":">= 4"}`),
	})
	require.Empty(t, issues)

	assert.Equal(t, "Champions", matcher.Match(Scores{R: 5, F: 5, V: 5}))
	assert.Equal(t, domain.Unsegmented, matcher.Match(Scores{R: 2, F: 5, V: 5}))
}

func TestMatcher_PriorityWinsRegardlessOfOrder(t *testing.T) {
	engine := newTestEngine(t)
	low := seg("a", "Loyal", 5, `{"F":">= 3"}`)
	high := seg("b", "Champions", 10, `{"R":">= 4","F":">= 4"}`)

	for _, order := range [][]*domain.Segment{{low, high}, {high, low}} {
		matcher, issues := engine.NewMatcher(order)
		require.Empty(t, issues)
		assert.Equal(t, "Champions", matcher.Match(Scores{R: 5, F: 5, V: 1}))
		assert.Equal(t, "Loyal", matcher.Match(Scores{R: 1, F: 5, V: 1}))
		assert.Equal(t, []string{"Champions", "Loyal"}, matcher.Names())
	}
}

func TestMatcher_EqualPriorityBreaksOnID(t *testing.T) {
	engine := newTestEngine(t)
	for _, order := range [][]*domain.Segment{
		{seg("z", "Second", 5, `{}`), seg("m", "First", 5, `{}`)},
		{seg("m", "First", 5, `{}`), seg("z", "Second", 5, `{}`)},
	} {
		matcher, _ := engine.NewMatcher(order)
		assert.Equal(t, "First", matcher.Match(Scores{R: 3, F: 3, V: 3}))
	}
}

func TestMatcher_EmptyRulesMatchEverything(t *testing.T) {
	engine := newTestEngine(t)
	matcher, issues := engine.NewMatcher([]*domain.Segment{
		seg("s1", "Everyone", 0, `null`),
	})
	require.Empty(t, issues)
	assert.Equal(t, "Everyone", matcher.Match(Scores{R: 1, F: 1, V: 1}))
}

func TestMatcher_NilAndEmpty(t *testing.T) {
	var nilMatcher *Matcher
	assert.Equal(t, domain.Unsegmented, nilMatcher.Match(Scores{R: 5, F: 5, V: 5}))
	assert.Nil(t, nilMatcher.Names())

	engine := newTestEngine(t)
	matcher, issues := engine.NewMatcher(nil)
	require.Empty(t, issues)
	assert.Equal(t, domain.Unsegmented, matcher.Match(Scores{R: 5, F: 5, V: 5}))
}

func TestMatcher_MalformedConditionFailsClosed(t *testing.T) {
	engine := newTestEngine(t)

	tests := []struct {
		name  string
		rules string
	}{
		{"BadOperator", `{"R":"=> 4"}`},
		{"BadThreshold", `{"R":">= four"}`},
		{"UnknownDimension", `{"X":">= 1"}`},
		{"NonStringValue", `{"R": 4}`},
		{"NotAnObject", `[1,2,3]`},
		{"DuplicateDimension", `{"r":">= 4","R":"<= 2"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matcher, issues := engine.NewMatcher([]*domain.Segment{
				seg("bad", "Broken", 100, tt.rules),
				seg("ok", "Fallback", 1, `{}`),
			})
			require.NotEmpty(t, issues)

			var malformed *domain.MalformedRuleError
			require.True(t, errors.As(issues[0], &malformed))
			assert.Equal(t, "bad", malformed.SegmentID)

			assert.Equal(t, "Fallback", matcher.Match(Scores{R: 5, F: 5, V: 5}))
		})
	}
}

func TestMatcher_DimensionKeysAreCaseInsensitive(t *testing.T) {
	engine := newTestEngine(t)
	matcher, issues := engine.NewMatcher([]*domain.Segment{
		seg("s1", "Recent", 1, `{"r":"= 5"," f ":""}`),
	})
	require.Empty(t, issues)
	assert.Equal(t, "Recent", matcher.Match(Scores{R: 5, F: 1, V: 1}))
	assert.Equal(t, domain.Unsegmented, matcher.Match(Scores{R: 4, F: 1, V: 1}))
}

func TestMatcher_CaseFoldedDuplicateKeysRejected(t *testing.T) {
	engine := newTestEngine(t)
	for range 20 {
		matcher, issues := engine.NewMatcher([]*domain.Segment{
			seg("dup", "Ambiguous", 10, `{"r":">= 4"," R ":"<= 2","F":""}`),
		})
		require.Len(t, issues, 1)

		var malformed *domain.MalformedRuleError
		require.True(t, errors.As(issues[0], &malformed))
		assert.Equal(t, "rules", malformed.Dimension)
		assert.Contains(t, issues[0].Error(), "dimension R")

		for r := 1; r <= 5; r++ {
			assert.Equal(t, domain.Unsegmented, matcher.Match(Scores{R: r, F: 3, V: 3}))
		}
	}
}

func TestMatcher_Deterministic(t *testing.T) {
	engine := newTestEngine(t)
	segments := []*domain.Segment{
		seg("c", "At Risk", 3, `{"R":"<= 2","F":">= 3"}`),
		seg("a", "Champions", 9, `{"R":">= 4","F":">= 4","V":">= 4"}`),
		seg("b", "Loyal", 6, `{"F":">= 4"}`),
		seg("d", "Hibernating", 1, `{"R":"<= 2"}`),
	}
	matcher, _ := engine.NewMatcher(segments)

	first := make(map[Scores]string)
	for r := 1; r <= 5; r++ {
		for f := 1; f <= 5; f++ {
			for v := 1; v <= 5; v++ {
				s := Scores{R: r, F: f, V: v}
				first[s] = matcher.Match(s)
			}
		}
	}
	for i := 0; i < 20; i++ {
		again, _ := engine.NewMatcher(segments)
		for s, name := range first {
			require.Equal(t, name, again.Match(s))
		}
	}
}

func TestMatcher_Filter(t *testing.T) {
	engine := newTestEngine(t)

	t.Run("FilterNarrowsMatch", func(t *testing.T) {
		s := seg("s1", "Big Spenders", 5, `{"V":">= 4"}`)
		s.Filter = "value >= 1000.0 && frequency > 2"
		matcher, issues := engine.NewMatcher([]*domain.Segment{s})
		require.Empty(t, issues)

		scores := Scores{R: 3, F: 3, V: 5}
		rich := domain.CustomerMetrics{Frequency: 3, Value: decimal.NewFromInt(1500)}
		poor := domain.CustomerMetrics{Frequency: 3, Value: decimal.NewFromInt(500)}

		assert.Equal(t, "Big Spenders", matcher.MatchCustomer(scores, rich))
		assert.Equal(t, domain.Unsegmented, matcher.MatchCustomer(scores, poor))
	})

	t.Run("FilterOnScores", func(t *testing.T) {
		s := seg("s1", "Balanced", 1, `{}`)
		s.Filter = "r == f && f == v"
		matcher, _ := engine.NewMatcher([]*domain.Segment{s})
		assert.Equal(t, "Balanced", matcher.Match(Scores{R: 3, F: 3, V: 3}))
		assert.Equal(t, domain.Unsegmented, matcher.Match(Scores{R: 3, F: 2, V: 3}))
	})

	t.Run("InvalidFilterFailsClosed", func(t *testing.T) {
		bad := seg("s1", "Broken", 10, `{}`)
		bad.Filter = "this is not CEL !!!"
		nonBool := seg("s2", "NonBool", 9, `{}`)
		nonBool.Filter = "r + f"

		matcher, issues := engine.NewMatcher([]*domain.Segment{bad, nonBool})
		assert.Len(t, issues, 2)
		assert.Equal(t, domain.Unsegmented, matcher.Match(Scores{R: 5, F: 5, V: 5}))
	})
}
