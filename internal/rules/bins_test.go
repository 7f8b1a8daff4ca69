package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func f64(v float64) *float64 { return &v }

func TestScoreRecency(t *testing.T) {
	bins := []domain.RecencyBin{
		{MaxDays: f64(30), Score: 5},
		{MaxDays: f64(90), Score: 3},
		{Score: 1},
	}

	tests := []struct {
		days float64
		want int
	}{
		{10, 5},
		{30, 5},
		{31, 3},
		{60, 3},
		{90, 3},
		{400, 1},
		{0, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ScoreRecency(tt.days, bins), "days=%v", tt.days)
	}
}

func TestScoreRecency_InputOrderIrrelevant(t *testing.T) {
	shuffled := []domain.RecencyBin{
		{Score: 1},
		{MaxDays: f64(90), Score: 3},
		{MaxDays: f64(30), Score: 5},
	}
	assert.Equal(t, 5, ScoreRecency(10, shuffled))
	assert.Equal(t, 3, ScoreRecency(60, shuffled))
	assert.Equal(t, 1, ScoreRecency(400, shuffled))
}

func TestScoreRecency_AdversarialScores(t *testing.T) {
	// Higher scores for older customers: the engine follows the bins, not intent.
	bins := []domain.RecencyBin{
		{MaxDays: f64(30), Score: 1},
		{MaxDays: f64(90), Score: 4},
		{Score: 5},
	}
	assert.Equal(t, 1, ScoreRecency(10, bins))
	assert.Equal(t, 4, ScoreRecency(60, bins))
	assert.Equal(t, 5, ScoreRecency(400, bins))
}

func TestScoreFrequency(t *testing.T) {
	bins := []domain.FrequencyBin{
		{MinCount: f64(2), Score: 2},
		{MinCount: f64(10), Score: 5},
		{Score: 1},
		{MinCount: f64(5), Score: 4},
	}

	tests := []struct {
		count float64
		want  int
	}{
		{0, 1},
		{1, 1},
		{2, 2},
		{4, 2},
		{5, 4},
		{9, 4},
		{10, 5},
		{250, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ScoreFrequency(tt.count, bins), "count=%v", tt.count)
	}
}

func TestScoreValue(t *testing.T) {
	bins := []domain.ValueBin{
		{MinAmount: f64(1000), Score: 5},
		{MinAmount: f64(100.5), Score: 3},
		{Score: 2},
	}
	assert.Equal(t, 5, ScoreValue(1000, bins))
	assert.Equal(t, 3, ScoreValue(100.5, bins))
	assert.Equal(t, 2, ScoreValue(100.49, bins))
	assert.Equal(t, 2, ScoreValue(-5, bins))
}

func TestScale_Defaults(t *testing.T) {
	t.Run("NilScale", func(t *testing.T) {
		var s *Scale
		assert.Equal(t, DefaultScore, s.Score(3))
		assert.Equal(t, 0, s.Len())
	})

	t.Run("EmptyBins", func(t *testing.T) {
		assert.Equal(t, DefaultScore, ScoreRecency(3, nil))
		assert.Equal(t, DefaultScore, ScoreFrequency(3, []domain.FrequencyBin{}))
	})

	t.Run("NoBinMatches", func(t *testing.T) {
		recency := []domain.RecencyBin{{MaxDays: f64(30), Score: 5}}
		assert.Equal(t, DefaultScore, ScoreRecency(31, recency))

		value := []domain.ValueBin{{MinAmount: f64(500), Score: 4}}
		assert.Equal(t, DefaultScore, ScoreValue(10, value))
	})
}

func TestScale_CatchAllNeverFallsBack(t *testing.T) {
	recency := NewRecencyScale([]domain.RecencyBin{
		{MaxDays: f64(7), Score: 9},
		{MaxDays: f64(14), Score: 8},
		{Score: 7},
	})
	frequency := NewFrequencyScale([]domain.FrequencyBin{
		{MinCount: f64(3), Score: 9},
		{Score: 7},
	})

	for v := -10.0; v <= 1000; v += 0.5 {
		assert.NotEqual(t, DefaultScore, recency.Score(v), "recency v=%v", v)
		assert.NotEqual(t, DefaultScore, frequency.Score(v), "frequency v=%v", v)
	}
}

func TestScale_EqualThresholdsKeepConfigurationOrder(t *testing.T) {
	bins := []domain.RecencyBin{
		{MaxDays: f64(30), Score: 4},
		{MaxDays: f64(30), Score: 2},
		{Score: 1},
	}
	assert.Equal(t, 4, ScoreRecency(12, bins))
}

func TestDecodeRules(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		scale, err := DecodeRecencyRule(json.RawMessage(`[{"maxDays":30,"score":5},{"maxDays":90,"score":3},{"score":1}]`))
		require.NoError(t, err)
		assert.Equal(t, 3, scale.Len())
		assert.Equal(t, 5, scale.Score(10))
		assert.Equal(t, 3, scale.Score(60))
		assert.Equal(t, 1, scale.Score(400))
	})

	t.Run("FrequencyUsesMinCount", func(t *testing.T) {
		scale, err := DecodeFrequencyRule(json.RawMessage(`[{"minCount":5,"score":5},{"score":1}]`))
		require.NoError(t, err)
		assert.Equal(t, 5, scale.Score(6))
		assert.Equal(t, 1, scale.Score(4))
	})

	t.Run("ValueUsesMinAmount", func(t *testing.T) {
		scale, err := DecodeValueRule(json.RawMessage(`[{"minAmount":250.75,"score":4},{"score":2}]`))
		require.NoError(t, err)
		assert.Equal(t, 4, scale.Score(250.75))
		assert.Equal(t, 2, scale.Score(250.74))
	})

	t.Run("MissingIsNotAnError", func(t *testing.T) {
		for _, raw := range []string{"", "null", "  "} {
			scale, err := DecodeValueRule(json.RawMessage(raw))
			require.NoError(t, err)
			assert.Equal(t, DefaultScore, scale.Score(100))
		}
	})

	t.Run("MalformedDegradesToDefault", func(t *testing.T) {
		scale, err := DecodeFrequencyRule(json.RawMessage(`{"minCount": "lots"}`))
		require.Error(t, err)
		require.NotNil(t, scale)
		assert.Equal(t, DefaultScore, scale.Score(1000))
	})

	t.Run("BinWithoutScoreIsDropped", func(t *testing.T) {
		scale, err := DecodeRecencyRule(json.RawMessage(`[{"maxDays":30},{"maxDays":90,"score":3},{"score":2}]`))
		require.Error(t, err)
		assert.Equal(t, 2, scale.Len())
		assert.Equal(t, 3, scale.Score(10))
	})
}
