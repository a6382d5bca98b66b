// Package filter describes metadata constraints applied to vector search and deletion.
package filter

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
)

// MaxConditions is the maximum number of conditions per group.
const MaxConditions = 32

// Expression combines payload conditions with must/should/must_not semantics.
// The zero value matches everything.
type Expression struct {
	must    []Condition
	should  []Condition
	mustNot []Condition
}

// NewExpression validates and creates an Expression.
func NewExpression(must, should, mustNot []Condition) (Expression, error) {
	for name, group := range map[string][]Condition{"must": must, "should": should, "must_not": mustNot} {
		if len(group) > MaxConditions {
			return Expression{}, fmt.Errorf("too many %s conditions (max %d)", name, MaxConditions)
		}
	}
	return Expression{must: must, should: should, mustNot: mustNot}, nil
}

// Equals builds an exact-match expression from key/value pairs, e.g. source_file = X.
// Keys are sorted so the resulting query text is deterministic.
func Equals(fields map[string]string) (Expression, error) {
	keys := slices.Sorted(maps.Keys(fields))
	must := make([]Condition, 0, len(keys))
	for _, k := range keys {
		c, err := NewMatch(k, fields[k])
		if err != nil {
			return Expression{}, err
		}
		must = append(must, c)
	}
	return NewExpression(must, nil, nil)
}

// Must returns the conditions that all have to hold.
func (e Expression) Must() []Condition { return e.must }

// Should returns the conditions of which at least one has to hold.
func (e Expression) Should() []Condition { return e.should }

// MustNot returns the conditions that must not hold.
func (e Expression) MustNot() []Condition { return e.mustNot }

// IsEmpty reports whether the expression has no conditions.
func (e Expression) IsEmpty() bool {
	return len(e.must) == 0 && len(e.should) == 0 && len(e.mustNot) == 0
}

// Matches evaluates the expression against a stored payload.
func (e Expression) Matches(payload map[string]string) bool {
	for _, c := range e.must {
		if !c.Matches(payload) {
			return false
		}
	}
	for _, c := range e.mustNot {
		if c.Matches(payload) {
			return false
		}
	}
	if len(e.should) == 0 {
		return true
	}
	for _, c := range e.should {
		if c.Matches(payload) {
			return true
		}
	}
	return false
}

// Condition is either an exact match on a payload key or a numeric range.
type Condition struct {
	key       string
	match     string
	rangeExpr *Range
}

// NewMatch creates an exact match condition.
func NewMatch(key, value string) (Condition, error) {
	if key == "" {
		return Condition{}, fmt.Errorf("filter key is required")
	}
	if value == "" {
		return Condition{}, fmt.Errorf("match value is required for key %q", key)
	}
	return Condition{key: key, match: value}, nil
}

// NewRange creates a numeric range condition.
func NewRange(key string, r Range) (Condition, error) {
	if key == "" {
		return Condition{}, fmt.Errorf("filter key is required")
	}
	return Condition{key: key, rangeExpr: &r}, nil
}

// Key returns the payload key.
func (c Condition) Key() string { return c.key }

// Match returns the exact match value.
func (c Condition) Match() string { return c.match }

// Range returns the numeric range, nil for match conditions.
func (c Condition) Range() *Range { return c.rangeExpr }

// IsMatch reports whether this is a match condition.
func (c Condition) IsMatch() bool { return c.match != "" }

// IsRange reports whether this is a range condition.
func (c Condition) IsRange() bool { return c.rangeExpr != nil }

// Matches evaluates the condition against a payload. Missing keys never match.
func (c Condition) Matches(payload map[string]string) bool {
	v, ok := payload[c.key]
	if !ok {
		return false
	}
	if c.IsMatch() {
		return v == c.match
	}
	if c.rangeExpr == nil {
		return false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return false
	}
	return c.rangeExpr.Contains(f)
}

// Range is a numeric interval with optional gt/gte/lt/lte bounds.
type Range struct {
	gt, gte, lt, lte *float64
}

// NewRangeFilter validates and creates a Range.
// At least one bound is required; gt/gte and lt/lte are mutually exclusive.
func NewRangeFilter(gt, gte, lt, lte *float64) (Range, error) {
	if gt == nil && gte == nil && lt == nil && lte == nil {
		return Range{}, fmt.Errorf("at least one range boundary is required")
	}
	if gt != nil && gte != nil {
		return Range{}, fmt.Errorf("cannot specify both gt and gte")
	}
	if lt != nil && lte != nil {
		return Range{}, fmt.Errorf("cannot specify both lt and lte")
	}
	return Range{gt: gt, gte: gte, lt: lt, lte: lte}, nil
}

// GT returns the lower exclusive bound.
func (r Range) GT() *float64 { return r.gt }

// GTE returns the lower inclusive bound.
func (r Range) GTE() *float64 { return r.gte }

// LT returns the upper exclusive bound.
func (r Range) LT() *float64 { return r.lt }

// LTE returns the upper inclusive bound.
func (r Range) LTE() *float64 { return r.lte }

// Contains reports whether f lies inside the range.
func (r Range) Contains(f float64) bool {
	switch {
	case r.gt != nil && f <= *r.gt:
		return false
	case r.gte != nil && f < *r.gte:
		return false
	case r.lt != nil && f >= *r.lt:
		return false
	case r.lte != nil && f > *r.lte:
		return false
	}
	return true
}
