package rules

// CustomRule wraps a user-supplied predicate, for presets or call sites that
// need domain logic beyond the built-in rule kinds.
type CustomRule struct {
	base
	Predicate func(ctx *RuleContext) RuleResult
}

// NewCustomRule constructs a CustomRule at the given priority.
func NewCustomRule(name string, priority Priority, predicate func(ctx *RuleContext) RuleResult) *CustomRule {
	return &CustomRule{base: newBase(name, priority), Predicate: predicate}
}

// Evaluate implements Rule.
func (r *CustomRule) Evaluate(ctx *RuleContext) RuleResult {
	result := r.Predicate(ctx)
	result.Priority = r.priority
	r.recordStat(result.Passed)
	return result
}
