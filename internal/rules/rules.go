// Package rules implements the rule engine: named, priority-tagged, weighted
// predicates over a pair of target tracks (SPEC_FULL.md §4.3).
package rules

import (
	"time"

	"github.com/rhino11/formation/internal/models"
	"github.com/rhino11/formation/internal/track"
)

// Priority orders rule strength; smaller numbers are stronger.
type Priority int

const (
	Critical Priority = 0
	High     Priority = 1
	Medium   Priority = 2
	Low      Priority = 3
	Optional Priority = 4
)

// maxPriorityValue is Optional's numeric value, used by the aggregation
// weight fix chosen in SPEC_FULL.md §9.
const maxPriorityValue = int(Optional)

// AggregationWeight returns the (MAX_PRIORITY + 1 - priorityValue) weight
// this implementation uses, so CRITICAL (0) carries the largest weight
// instead of being washed out by a raw priority-value multiplier.
func (p Priority) AggregationWeight() float64 {
	return float64(maxPriorityValue + 1 - int(p))
}

// RuleContext is the shared evaluation context for a pair of tracks at a
// common sample time.
type RuleContext struct {
	Track1, Track2 *track.Track
	State1, State2 models.TargetState
	Attrs1, Attrs2 models.TargetAttributes
	Now            time.Time
	Params         map[string]interface{}
	cache          map[string]interface{}
}

// GetCache returns a context-scoped memoized value, following the Python
// original's RuleContext._cache (original_source/rules.py).
func (c *RuleContext) GetCache(key string) (interface{}, bool) {
	if c.cache == nil {
		return nil, false
	}
	v, ok := c.cache[key]
	return v, ok
}

// SetCache stores a context-scoped memoized value.
func (c *RuleContext) SetCache(key string, value interface{}) {
	if c.cache == nil {
		c.cache = make(map[string]interface{})
	}
	c.cache[key] = value
}

// RuleResult is the outcome of evaluating one rule against a RuleContext.
type RuleResult struct {
	Passed     bool
	Confidence float64
	Priority   Priority
	Message    string
	Details    map[string]interface{}
}

// Stats tracks per-rule evaluation counters.
type Stats struct {
	Evaluations int
	Passed      int
	Failed      int
}

// Rule is a named, priority-tagged, enable-able, weighted predicate.
type Rule interface {
	Name() string
	Priority() Priority
	Enabled() bool
	SetEnabled(bool)
	Weight() float64
	SetWeight(float64)
	Evaluate(ctx *RuleContext) RuleResult
	Stats() Stats
}

// base implements the enable/weight/stats bookkeeping shared by every rule
// kind, mirroring original_source/rules.py's BaseRule.
type base struct {
	name     string
	priority Priority
	enabled  bool
	weight   float64
	stats    Stats
}

func newBase(name string, priority Priority) base {
	return base{name: name, priority: priority, enabled: true, weight: 1.0}
}

func (b *base) Name() string        { return b.name }
func (b *base) Priority() Priority  { return b.priority }
func (b *base) Enabled() bool       { return b.enabled }
func (b *base) SetEnabled(e bool)   { b.enabled = e }
func (b *base) Weight() float64     { return b.weight }
func (b *base) SetWeight(w float64) { b.weight = w }
func (b *base) Stats() Stats        { return b.stats }

func (b *base) recordStat(passed bool) {
	b.stats.Evaluations++
	if passed {
		b.stats.Passed++
	} else {
		b.stats.Failed++
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
