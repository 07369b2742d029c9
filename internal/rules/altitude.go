package rules

import "github.com/rhino11/formation/internal/geo"

// AltitudeRule passes when the vertical separation does not exceed MaxDelta.
type AltitudeRule struct {
	base
	MaxDelta          float64
	SameLayerPreferred bool
}

// NewAltitudeRule constructs an AltitudeRule at the given priority.
func NewAltitudeRule(name string, priority Priority, maxDelta float64, sameLayerPreferred bool) *AltitudeRule {
	return &AltitudeRule{base: newBase(name, priority), MaxDelta: maxDelta, SameLayerPreferred: sameLayerPreferred}
}

// Evaluate implements Rule.
func (r *AltitudeRule) Evaluate(ctx *RuleContext) RuleResult {
	v := geo.VerticalDistance(ctx.State1.Position, ctx.State2.Position)
	passed := v <= r.MaxDelta

	var confidence float64
	if passed {
		if r.MaxDelta > 0 {
			confidence = 1 - v/r.MaxDelta
		} else {
			confidence = 1
		}
		if r.SameLayerPreferred {
			l1 := geo.ClassifyAltitude(ctx.State1.Position.Altitude)
			l2 := geo.ClassifyAltitude(ctx.State2.Position.Altitude)
			if l1 == l2 {
				confidence = clamp(confidence+0.1, 0, 1)
			}
		}
	}

	r.recordStat(passed)
	return RuleResult{
		Passed: passed, Confidence: confidence, Priority: r.priority,
		Message: "altitude check", Details: map[string]interface{}{"vertical_m": v},
	}
}
