package mapeval

import (
	"fmt"
	"math"
	"strconv"

	"timelapsemap/pkg/profile"
)

// MinGroup selects the smallest numeric value of the reference column as the
// reference group.
const MinGroup = "min"

// NoReference is the reference index of rows outside the reference group.
const NoReference int64 = -1

// ReferenceSelector decides which rows belong to the reference group.
type ReferenceSelector struct {
	// Column holds the treatment label, e.g. the dose
	Column string
	// Value is the resolved reference label
	Value string

	numeric bool
	num     float64
}

// ResolveReference fixes the reference group against t. group is either
// MinGroup or a literal label; literals that parse as numbers are compared
// numerically so "0" and "0.0" select the same rows.
func ResolveReference(t *profile.Table, column, group string) (ReferenceSelector, error) {
	if !t.Has(column) {
		return ReferenceSelector{}, fmt.Errorf("%w: %s", profile.ErrColumnNotFound, column)
	}
	if group == MinGroup {
		vals, err := t.UniqueFloats(column)
		if err != nil {
			return ReferenceSelector{}, err
		}
		if len(vals) == 0 {
			return ReferenceSelector{}, fmt.Errorf("mapeval: reference column %s has no numeric values", column)
		}
		return ReferenceSelector{
			Column:  column,
			Value:   strconv.FormatFloat(vals[0], 'g', -1, 64),
			numeric: true,
			num:     vals[0],
		}, nil
	}
	sel := ReferenceSelector{Column: column, Value: group}
	if v, err := strconv.ParseFloat(group, 64); err == nil {
		sel.numeric = true
		sel.num = v
	}
	return sel, nil
}

// Predicate returns a row test for t. t must contain the selector's column.
func (s ReferenceSelector) Predicate(t *profile.Table) (func(row int) bool, error) {
	c, err := t.Column(s.Column)
	if err != nil {
		return nil, err
	}
	if s.numeric {
		return func(row int) bool {
			v := c.Float(row)
			return !math.IsNaN(v) && v == s.num
		}, nil
	}
	return func(row int) bool { return c.Format(row) == s.Value }, nil
}

// AssignReferenceIndex adds an int column named col to t. Rows for which
// isRef holds get their own row position; all others get defaultValue. It
// returns the number of reference rows.
func AssignReferenceIndex(t *profile.Table, col string, isRef func(row int) bool, defaultValue int64) (int, error) {
	idx := make([]int64, t.NumRows())
	n := 0
	for r := range idx {
		if isRef(r) {
			idx[r] = int64(r)
			n++
			continue
		}
		idx[r] = defaultValue
	}
	return n, t.AddInt(col, idx)
}
