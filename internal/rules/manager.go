package rules

import "sort"

// AggregateResult is the outcome of evaluating a full rule set against one
// pair, per SPEC_FULL.md §4.3.
type AggregateResult struct {
	Passed          bool
	Confidence      float64
	CriticalFailed  bool
	PerRule         map[string]RuleResult
}

// Manager holds the active rule set and evaluates it against pairs.
type Manager struct {
	rules []Rule
}

// NewManager creates an empty rule manager.
func NewManager() *Manager {
	return &Manager{}
}

// AddRule appends rule to the active set.
func (m *Manager) AddRule(r Rule) {
	m.rules = append(m.rules, r)
}

// AddRules appends multiple rules.
func (m *Manager) AddRules(rs []Rule) {
	m.rules = append(m.rules, rs...)
}

// Clear removes every rule.
func (m *Manager) Clear() {
	m.rules = nil
}

// Rules returns the active rule set, sorted by priority ascending (CRITICAL first).
func (m *Manager) Rules() []Rule {
	sorted := make([]Rule, len(m.rules))
	copy(sorted, m.rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority() < sorted[j].Priority() })
	return sorted
}

// GetRule returns the named rule, if present.
func (m *Manager) GetRule(name string) (Rule, bool) {
	for _, r := range m.rules {
		if r.Name() == name {
			return r, true
		}
	}
	return nil, false
}

// EnabledRuleNames returns the names of every currently enabled rule.
func (m *Manager) EnabledRuleNames() []string {
	var names []string
	for _, r := range m.rules {
		if r.Enabled() {
			names = append(names, r.Name())
		}
	}
	return names
}

// EvaluatePair evaluates the active rule set against ctx. Rules run in
// priority order; disabled rules are skipped. The first failing CRITICAL
// rule short-circuits with passed=false, confidence=0. Otherwise every rule
// runs, and the aggregate confidence uses the priority-weighted average
// chosen in SPEC_FULL.md §9: weight = Priority.AggregationWeight(), so
// CRITICAL carries the most influence rather than the least.
func (m *Manager) EvaluatePair(ctx *RuleContext) AggregateResult {
	result := AggregateResult{Passed: true, PerRule: make(map[string]RuleResult)}

	var totalWeighted, totalWeight float64
	allNonDisabledPassed := true

	for _, r := range m.Rules() {
		if !r.Enabled() {
			continue
		}
		rr := r.Evaluate(ctx)
		result.PerRule[r.Name()] = rr

		if !rr.Passed {
			allNonDisabledPassed = false
			if r.Priority() == Critical {
				result.Passed = false
				result.Confidence = 0
				result.CriticalFailed = true
				return result
			}
			continue
		}

		weight := r.Priority().AggregationWeight() * r.Weight()
		totalWeighted += rr.Confidence * weight
		totalWeight += weight
	}

	if totalWeight > 0 {
		result.Confidence = totalWeighted / totalWeight
	}
	result.Passed = allNonDisabledPassed
	return result
}
