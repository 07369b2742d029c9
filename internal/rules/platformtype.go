package rules

import "github.com/rhino11/formation/internal/models"

// TypePair is an unordered pair of platform types, e.g. (Fighter, Bomber).
type TypePair [2]models.PlatformType

func (p TypePair) matches(a, b models.PlatformType) bool {
	return (p[0] == a && p[1] == b) || (p[0] == b && p[1] == a)
}

// PlatformTypeRule rejects forbidden type pairs, upweights allowed ones, and
// passes unknown types with a flat discounted confidence. Confidence above
// 1.0 for allowed pairs is an intentional upweight, per SPEC_FULL.md §4.3.
type PlatformTypeRule struct {
	base
	AllowedPairs   []TypePair
	ForbiddenPairs []TypePair
}

// NewPlatformTypeRule constructs a PlatformTypeRule at the given priority.
func NewPlatformTypeRule(name string, priority Priority, allowed, forbidden []TypePair) *PlatformTypeRule {
	return &PlatformTypeRule{base: newBase(name, priority), AllowedPairs: allowed, ForbiddenPairs: forbidden}
}

func anyMatches(pairs []TypePair, a, b models.PlatformType) bool {
	for _, p := range pairs {
		if p.matches(a, b) {
			return true
		}
	}
	return false
}

// Evaluate implements Rule.
func (r *PlatformTypeRule) Evaluate(ctx *RuleContext) RuleResult {
	t1, t2 := ctx.Attrs1.PlatformType, ctx.Attrs2.PlatformType

	if anyMatches(r.ForbiddenPairs, t1, t2) {
		r.recordStat(false)
		return RuleResult{Passed: false, Priority: r.priority, Message: "forbidden type pair"}
	}

	unknown := t1 == models.PlatformUnknown || t2 == models.PlatformUnknown || t1 == "" || t2 == ""
	var confidence float64
	switch {
	case unknown:
		confidence = 0.8
	case anyMatches(r.AllowedPairs, t1, t2):
		confidence = 1.2
	default:
		confidence = 0.9
	}

	r.recordStat(true)
	return RuleResult{Passed: true, Confidence: confidence, Priority: r.priority, Message: "platform type check"}
}
