package rules

// HostilePair is an unordered pair of nations/alliances treated as mutually
// hostile. Defaults to a single {RED, BLUE} entry, matching the Python
// original's hard-coded table (original_source's attribute rule); see the
// open question in SPEC_FULL.md §9 about whether this should be configurable.
type HostilePair [2]string

// AttributeRule rejects hostile pairs and optionally requires matching
// alliance/theatre.
type AttributeRule struct {
	base
	HostileCheck bool
	HostilePairs []HostilePair
	SameAlliance bool
	SameTheatre  bool
}

// NewAttributeRule constructs an AttributeRule at the given priority.
func NewAttributeRule(name string, priority Priority, hostileCheck, sameAlliance, sameTheatre bool, hostilePairs []HostilePair) *AttributeRule {
	return &AttributeRule{
		base: newBase(name, priority), HostileCheck: hostileCheck,
		SameAlliance: sameAlliance, SameTheatre: sameTheatre, HostilePairs: hostilePairs,
	}
}

func (r *AttributeRule) isHostilePair(a, b string) bool {
	for _, p := range r.HostilePairs {
		if (p[0] == a && p[1] == b) || (p[0] == b && p[1] == a) {
			return true
		}
	}
	return false
}

// Evaluate implements Rule.
func (r *AttributeRule) Evaluate(ctx *RuleContext) RuleResult {
	passed := true
	reason := "ok"

	if r.HostileCheck {
		if r.isHostilePair(ctx.Attrs1.Nation, ctx.Attrs2.Nation) || r.isHostilePair(ctx.Attrs1.Alliance, ctx.Attrs2.Alliance) {
			passed = false
			reason = "hostile pair"
		}
	}
	if passed && r.SameAlliance && ctx.Attrs1.Alliance != "" && ctx.Attrs2.Alliance != "" {
		if ctx.Attrs1.Alliance != ctx.Attrs2.Alliance {
			passed = false
			reason = "alliance mismatch"
		}
	}
	if passed && r.SameTheatre && ctx.Attrs1.Theatre != "" && ctx.Attrs2.Theatre != "" {
		if ctx.Attrs1.Theatre != ctx.Attrs2.Theatre {
			passed = false
			reason = "theatre mismatch"
		}
	}

	var confidence float64
	if passed {
		confidence = 1.0
	}

	r.recordStat(passed)
	return RuleResult{
		Passed: passed, Confidence: confidence, Priority: r.priority,
		Message: reason, Details: map[string]interface{}{"reason": reason},
	}
}
