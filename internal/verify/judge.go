package verify

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"math"

	"github.com/casbin/govaluate"
)

const (
	// DefaultJudge passes a measurement within tolerance of the expected value.
	DefaultJudge     = "abs(measured - expected) <= expected * tolerance"
	DefaultTolerance = 0.2
)

// Judge decides whether a measurement passes. The expression sees the
// variables expected, measured and tolerance and may call abs().
type Judge struct {
	expression string
	evaluable  *govaluate.EvaluableExpression
	tolerance  float64
}

func judgeFunctions() map[string]govaluate.ExpressionFunction {
	functions := make(map[string]govaluate.ExpressionFunction)
	functions["abs"] = func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("abs takes one argument, got %d", len(args))
		}
		v, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("abs argument is not a number: %v", args[0])
		}
		return math.Abs(v), nil
	}
	return functions
}

// NewJudge parses expression once. An empty expression selects DefaultJudge.
func NewJudge(expression string, tolerance float64) (*Judge, error) {
	if expression == "" {
		expression = DefaultJudge
	}
	if tolerance < 0 {
		return nil, fmt.Errorf("tolerance cannot be negative: %g", tolerance)
	}
	evaluable, err := govaluate.NewEvaluableExpressionWithFunctions(expression, judgeFunctions())
	if err != nil {
		return nil, fmt.Errorf("invalid judge expression %q: %w", expression, err)
	}
	for _, v := range evaluable.Vars() {
		switch v {
		case "expected", "measured", "tolerance":
		default:
			return nil, fmt.Errorf("judge expression %q uses unknown variable %q", expression, v)
		}
	}
	return &Judge{expression: expression, evaluable: evaluable, tolerance: tolerance}, nil
}

func (j *Judge) String() string {
	return j.expression
}

// Pass evaluates the expression for one measurement.
func (j *Judge) Pass(expected, measured float64) (bool, error) {
	result, err := j.evaluable.Evaluate(map[string]any{
		"expected":  expected,
		"measured":  measured,
		"tolerance": j.tolerance,
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate %q: %w", j.expression, err)
	}
	passed, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("judge expression %q does not yield a boolean: %v", j.expression, result)
	}
	return passed, nil
}
