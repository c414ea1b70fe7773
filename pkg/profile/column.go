package profile

import (
	"math"
	"strconv"
)

// Kind is the storage type of a column.
type Kind int

const (
	// KindFloat columns hold float64 values; NaN marks a missing value.
	KindFloat Kind = iota
	// KindInt columns hold int64 values.
	KindInt
	// KindString columns hold string values; "" marks a missing value.
	KindString
	// KindBool columns hold bool values.
	KindBool
)

// String returns the kind name used in schema errors and config files.
func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Numeric reports whether values of this kind can be used as feature values.
func (k Kind) Numeric() bool {
	return k == KindFloat || k == KindInt
}

// Column is a named, typed vector of values. Exactly one backing slice is
// populated, selected by Kind.
type Column struct {
	name  string
	kind  Kind
	f64   []float64
	i64   []int64
	str   []string
	flags []bool
}

// NewFloatColumn wraps values in a float column. The slice is not copied.
func NewFloatColumn(name string, values []float64) *Column {
	return &Column{name: name, kind: KindFloat, f64: values}
}

// NewIntColumn wraps values in an int column. The slice is not copied.
func NewIntColumn(name string, values []int64) *Column {
	return &Column{name: name, kind: KindInt, i64: values}
}

// NewStringColumn wraps values in a string column. The slice is not copied.
func NewStringColumn(name string, values []string) *Column {
	return &Column{name: name, kind: KindString, str: values}
}

// NewBoolColumn wraps values in a bool column. The slice is not copied.
func NewBoolColumn(name string, values []bool) *Column {
	return &Column{name: name, kind: KindBool, flags: values}
}

// Name returns the column name.
func (c *Column) Name() string { return c.name }

// Kind returns the storage kind.
func (c *Column) Kind() Kind { return c.kind }

// Len returns the number of values.
func (c *Column) Len() int {
	switch c.kind {
	case KindFloat:
		return len(c.f64)
	case KindInt:
		return len(c.i64)
	case KindString:
		return len(c.str)
	default:
		return len(c.flags)
	}
}

// Float returns value i as a float64. Strings are parsed and become NaN when
// they are not numbers; bools map to 0 and 1.
func (c *Column) Float(i int) float64 {
	switch c.kind {
	case KindFloat:
		return c.f64[i]
	case KindInt:
		return float64(c.i64[i])
	case KindString:
		v, err := strconv.ParseFloat(c.str[i], 64)
		if err != nil {
			return math.NaN()
		}
		return v
	default:
		if c.flags[i] {
			return 1
		}
		return 0
	}
}

// Int returns value i as an int64. Floats are truncated; NaN becomes 0.
func (c *Column) Int(i int) int64 {
	switch c.kind {
	case KindInt:
		return c.i64[i]
	case KindFloat:
		if math.IsNaN(c.f64[i]) {
			return 0
		}
		return int64(c.f64[i])
	case KindString:
		v, err := strconv.ParseInt(c.str[i], 10, 64)
		if err != nil {
			return int64(c.Float(i))
		}
		return v
	default:
		if c.flags[i] {
			return 1
		}
		return 0
	}
}

// Bool returns value i as a bool.
func (c *Column) Bool(i int) bool {
	switch c.kind {
	case KindBool:
		return c.flags[i]
	case KindString:
		v, _ := strconv.ParseBool(c.str[i])
		return v
	default:
		f := c.Float(i)
		return !math.IsNaN(f) && f != 0
	}
}

// Format returns value i in the canonical string form used for grouping and
// equality checks between rows.
func (c *Column) Format(i int) string {
	switch c.kind {
	case KindFloat:
		return strconv.FormatFloat(c.f64[i], 'g', -1, 64)
	case KindInt:
		return strconv.FormatInt(c.i64[i], 10)
	case KindString:
		return c.str[i]
	default:
		return strconv.FormatBool(c.flags[i])
	}
}

// IsMissing reports whether value i is missing (NaN float or empty string).
func (c *Column) IsMissing(i int) bool {
	switch c.kind {
	case KindFloat:
		return math.IsNaN(c.f64[i])
	case KindString:
		return c.str[i] == ""
	default:
		return false
	}
}

// Rename returns a shallow copy of the column under a new name.
func (c *Column) Rename(name string) *Column {
	cp := *c
	cp.name = name
	return &cp
}

// take gathers the rows at idx into a new column.
func (c *Column) take(idx []int) *Column {
	out := &Column{name: c.name, kind: c.kind}
	switch c.kind {
	case KindFloat:
		out.f64 = make([]float64, len(idx))
		for i, j := range idx {
			out.f64[i] = c.f64[j]
		}
	case KindInt:
		out.i64 = make([]int64, len(idx))
		for i, j := range idx {
			out.i64[i] = c.i64[j]
		}
	case KindString:
		out.str = make([]string, len(idx))
		for i, j := range idx {
			out.str[i] = c.str[j]
		}
	default:
		out.flags = make([]bool, len(idx))
		for i, j := range idx {
			out.flags[i] = c.flags[j]
		}
	}
	return out
}

// clone returns a deep copy.
func (c *Column) clone() *Column {
	out := &Column{name: c.name, kind: c.kind}
	out.f64 = append([]float64(nil), c.f64...)
	out.i64 = append([]int64(nil), c.i64...)
	out.str = append([]string(nil), c.str...)
	out.flags = append([]bool(nil), c.flags...)
	return out
}

// missing returns a column of n missing values of the given kind.
func missing(name string, kind Kind, n int) *Column {
	switch kind {
	case KindFloat, KindInt:
		// Ints cannot represent a missing value, so a column that needs
		// padding is widened to float.
		v := make([]float64, n)
		for i := range v {
			v[i] = math.NaN()
		}
		return NewFloatColumn(name, v)
	case KindString:
		return NewStringColumn(name, make([]string, n))
	default:
		return NewBoolColumn(name, make([]bool, n))
	}
}

// appendFrom appends all values of src (converted to c's kind) to c.
func (c *Column) appendFrom(src *Column) {
	n := src.Len()
	for i := 0; i < n; i++ {
		switch c.kind {
		case KindFloat:
			c.f64 = append(c.f64, src.Float(i))
		case KindInt:
			c.i64 = append(c.i64, src.Int(i))
		case KindString:
			c.str = append(c.str, src.Format(i))
		default:
			c.flags = append(c.flags, src.Bool(i))
		}
	}
}
