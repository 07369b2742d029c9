package rules

import "github.com/rhino11/formation/internal/geo"

// HeadingRule passes when headings agree within MaxDelta on the shortest
// arc, or — if AllowReciprocal — are within MaxDelta of being exactly
// opposite (reciprocal headings, e.g. a head-on escort pass).
type HeadingRule struct {
	base
	MaxDelta       float64
	AllowReciprocal bool
}

// NewHeadingRule constructs a HeadingRule at the given priority.
func NewHeadingRule(name string, priority Priority, maxDelta float64, allowReciprocal bool) *HeadingRule {
	return &HeadingRule{base: newBase(name, priority), MaxDelta: maxDelta, AllowReciprocal: allowReciprocal}
}

// Evaluate implements Rule.
func (r *HeadingRule) Evaluate(ctx *RuleContext) RuleResult {
	diff := abs(geo.HeadingDiff(ctx.State1.Heading, ctx.State2.Heading))

	sameDir := diff <= r.MaxDelta
	reciprocalDiff := abs(diff - 180)
	reciprocal := r.AllowReciprocal && reciprocalDiff <= r.MaxDelta

	passed := sameDir || reciprocal
	var confidence float64
	switch {
	case sameDir && r.MaxDelta > 0:
		confidence = 1 - diff/r.MaxDelta
	case sameDir:
		confidence = 1
	case reciprocal && r.MaxDelta > 0:
		confidence = 0.7 * (1 - reciprocalDiff/r.MaxDelta)
	case reciprocal:
		confidence = 0.7
	}

	r.recordStat(passed)
	return RuleResult{
		Passed: passed, Confidence: confidence, Priority: r.priority,
		Message: "heading check", Details: map[string]interface{}{"diff_deg": diff, "reciprocal": reciprocal},
	}
}
