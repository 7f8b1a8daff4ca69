package rules

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Operator is a comparison applied to a discrete score.
type Operator string

const (
	OpGTE Operator = ">="
	OpLTE Operator = "<="
	OpGT  Operator = ">"
	OpLT  Operator = "<"
	OpEQ  Operator = "="
)

// Condition compares a discrete score with a threshold.
type Condition struct {
	Op        Operator `json:"op"`
	Threshold float64  `json:"threshold"`
}

// Two-character operators must be tried before their one-character prefixes.
var operatorSpellings = []struct {
	text string
	op   Operator
}{
	{">=", OpGTE},
	{"<=", OpLTE},
	{"==", OpEQ},
	{">", OpGT},
	{"<", OpLT},
	{"=", OpEQ},
}

// ParseCondition parses strings such as ">= 4", "<3" or "= 5".
func ParseCondition(s string) (Condition, error) {
	text := strings.TrimSpace(s)
	for _, sp := range operatorSpellings {
		if !strings.HasPrefix(text, sp.text) {
			continue
		}
		operand := strings.TrimSpace(text[len(sp.text):])
		if operand == "" {
			return Condition{}, fmt.Errorf("condition %q: missing threshold", s)
		}
		threshold, err := strconv.ParseFloat(operand, 64)
		if err != nil {
			return Condition{}, fmt.Errorf("condition %q: invalid threshold: %w", s, err)
		}
		if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
			return Condition{}, fmt.Errorf("condition %q: threshold must be finite", s)
		}
		return Condition{Op: sp.op, Threshold: threshold}, nil
	}
	return Condition{}, fmt.Errorf("condition %q: unknown operator", s)
}

// Holds reports whether score satisfies the condition.
func (c Condition) Holds(score int) bool {
	v := float64(score)
	switch c.Op {
	case OpGTE:
		return v >= c.Threshold
	case OpLTE:
		return v <= c.Threshold
	case OpGT:
		return v > c.Threshold
	case OpLT:
		return v < c.Threshold
	case OpEQ:
		return v == c.Threshold
	default:
		return false
	}
}

func (c Condition) String() string {
	return string(c.Op) + " " + strconv.FormatFloat(c.Threshold, 'f', -1, 64)
}
