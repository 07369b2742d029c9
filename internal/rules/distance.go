package rules

import "github.com/rhino11/formation/internal/geo"

// DistanceRule passes when the horizontal separation falls within [Min, Max].
type DistanceRule struct {
	base
	Min, Max float64
}

// NewDistanceRule constructs a DistanceRule at the given priority.
func NewDistanceRule(name string, priority Priority, min, max float64) *DistanceRule {
	return &DistanceRule{base: newBase(name, priority), Min: min, Max: max}
}

// Evaluate implements Rule.
func (r *DistanceRule) Evaluate(ctx *RuleContext) RuleResult {
	d := geo.HorizontalDistance(ctx.State1.Position, ctx.State2.Position)
	passed := d >= r.Min && d <= r.Max

	var confidence float64
	if passed {
		mid := (r.Min + r.Max) / 2
		span := r.Max - r.Min
		if span <= 0 {
			confidence = 1.0
		} else {
			confidence = clamp(1-abs(d-mid)/span, 0.5, 1.0)
		}
	}

	r.recordStat(passed)
	return RuleResult{
		Passed: passed, Confidence: confidence, Priority: r.priority,
		Message: "distance check", Details: map[string]interface{}{"distance_m": d},
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
