package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCondition(t *testing.T) {
	tests := []struct {
		in   string
		want Condition
	}{
		{">= 4", Condition{Op: OpGTE, Threshold: 4}},
		{">=4", Condition{Op: OpGTE, Threshold: 4}},
		{"  <= 2 ", Condition{Op: OpLTE, Threshold: 2}},
		{"> 3", Condition{Op: OpGT, Threshold: 3}},
		{"<1", Condition{Op: OpLT, Threshold: 1}},
		{"= 5", Condition{Op: OpEQ, Threshold: 5}},
		{"== 5", Condition{Op: OpEQ, Threshold: 5}},
		{">= 3.5", Condition{Op: OpGTE, Threshold: 3.5}},
	}
	for _, tt := range tests {
		got, err := ParseCondition(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseCondition_Malformed(t *testing.T) {
	for _, in := range []string{"", "4", ">=", "=> 4", ">= four", "!= 3", ">= NaN", "< +Inf"} {
		_, err := ParseCondition(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestConditionHolds(t *testing.T) {
	tests := []struct {
		cond  Condition
		score int
		want  bool
	}{
		{Condition{OpGTE, 4}, 4, true},
		{Condition{OpGTE, 4}, 3, false},
		{Condition{OpLTE, 2}, 2, true},
		{Condition{OpLTE, 2}, 3, false},
		{Condition{OpGT, 3}, 3, false},
		{Condition{OpGT, 3}, 4, true},
		{Condition{OpLT, 1}, 0, true},
		{Condition{OpLT, 1}, 1, false},
		{Condition{OpEQ, 5}, 5, true},
		{Condition{OpEQ, 5}, 4, false},
		{Condition{OpGTE, 3.5}, 3, false},
		{Condition{Operator("~"), 1}, 1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.cond.Holds(tt.score), "%s vs %d", tt.cond, tt.score)
	}
}
