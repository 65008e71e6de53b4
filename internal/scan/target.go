package scan

import (
	"fmt"
	"math"
)

// TargetOp represents comparison operations for hit collection
type TargetOp string

const (
	OpEqual        TargetOp = "eq"
	OpGreater      TargetOp = "gt"
	OpGreaterEqual TargetOp = "ge"
	OpLess         TargetOp = "lt"
	OpLessEqual    TargetOp = "le"
	OpBetween      TargetOp = "between"
	OpOutside      TargetOp = "outside"
)

// DefaultTolerance absorbs float noise in table multipliers.
const DefaultTolerance = 1e-9

// Valid reports whether op is a known operation.
func (op TargetOp) Valid() bool {
	switch op {
	case OpEqual, OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpBetween, OpOutside:
		return true
	}
	return false
}

// Target selects which drops are reported as hits, by multiplier.
type Target struct {
	Op        TargetOp `json:"op" yaml:"op"`
	Value     float64  `json:"value" yaml:"value"`
	Value2    float64  `json:"value2,omitempty" yaml:"value2,omitempty"` // for "between" and "outside"
	Tolerance float64  `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	Limit     int      `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// TargetEvaluator handles target condition evaluation with tolerance
type TargetEvaluator struct {
	op        TargetOp
	val1      float64
	val2      float64
	tolerance float64
}

// NewTargetEvaluator creates a new target evaluator
func NewTargetEvaluator(op TargetOp, val1, val2, tolerance float64) *TargetEvaluator {
	return &TargetEvaluator{
		op:        op,
		val1:      val1,
		val2:      val2,
		tolerance: tolerance,
	}
}

func newEvaluator(t *Target) (*TargetEvaluator, error) {
	if t == nil {
		return nil, nil
	}
	if !t.Op.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOp, t.Op)
	}
	if (t.Op == OpBetween || t.Op == OpOutside) && t.Value2 < t.Value {
		return nil, fmt.Errorf("%w: %s needs value2 >= value", ErrInvalidOp, t.Op)
	}
	tol := t.Tolerance
	if tol == 0 {
		tol = DefaultTolerance
	}
	return NewTargetEvaluator(t.Op, t.Value, t.Value2, tol), nil
}

// Matches checks if a multiplier matches the target criteria
func (te *TargetEvaluator) Matches(metric float64) bool {
	switch te.op {
	case OpEqual:
		return math.Abs(metric-te.val1) <= te.tolerance
	case OpGreater:
		return metric > te.val1+te.tolerance
	case OpGreaterEqual:
		return metric >= te.val1-te.tolerance
	case OpLess:
		return metric < te.val1-te.tolerance
	case OpLessEqual:
		return metric <= te.val1+te.tolerance
	case OpBetween:
		return metric >= te.val1-te.tolerance && metric <= te.val2+te.tolerance
	case OpOutside:
		return metric < te.val1-te.tolerance || metric > te.val2+te.tolerance
	default:
		return false
	}
}
