// Package profile holds the in-memory representation of morphology profiles:
// an ordered set of typed columns where the column name decides whether a
// column is descriptive metadata or a numeric feature.
package profile

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// DefaultMetadataPrefix marks metadata columns in every profile file of the
// experiment. Columns without it are features.
const DefaultMetadataPrefix = "Metadata_"

var (
	// ErrColumnNotFound is returned when a named column is absent.
	ErrColumnNotFound = errors.New("column not found")
	// ErrLengthMismatch is returned when a column does not match the table height.
	ErrLengthMismatch = errors.New("column length does not match table")
	// ErrNotNumeric is returned when a numeric view is requested of a non-numeric column.
	ErrNotNumeric = errors.New("column is not numeric")
)

// Role separates descriptive columns from measured features.
type Role int

const (
	// RoleFeature columns are numeric morphology measurements.
	RoleFeature Role = iota
	// RoleMetadata columns describe the observation (well, time, dose, ids).
	RoleMetadata
)

func (r Role) String() string {
	if r == RoleMetadata {
		return "metadata"
	}
	return "feature"
}

// Table is an ordered collection of equally long columns.
type Table struct {
	prefix string
	cols   []*Column
	index  map[string]int
	rows   int
}

// New returns an empty table that classifies columns by prefix. An empty
// prefix selects DefaultMetadataPrefix.
func New(prefix string) *Table {
	if prefix == "" {
		prefix = DefaultMetadataPrefix
	}
	return &Table{prefix: prefix, index: make(map[string]int)}
}

// FromColumns builds a table from columns of equal length.
func FromColumns(prefix string, cols ...*Column) (*Table, error) {
	t := New(prefix)
	for _, c := range cols {
		if err := t.AddColumn(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// MetadataPrefix returns the prefix that marks metadata columns.
func (t *Table) MetadataPrefix() string { return t.prefix }

// NumRows returns the number of rows.
func (t *Table) NumRows() int { return t.rows }

// NumCols returns the number of columns.
func (t *Table) NumCols() int { return len(t.cols) }

// Names returns the column names in order.
func (t *Table) Names() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.name
	}
	return names
}

// Has reports whether a column exists.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column returns the named column.
func (t *Table) Column(name string) (*Column, error) {
	i, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
	}
	return t.cols[i], nil
}

// ColumnAt returns the i-th column.
func (t *Table) ColumnAt(i int) *Column { return t.cols[i] }

// RoleOf classifies a column name.
func (t *Table) RoleOf(name string) Role {
	if strings.HasPrefix(name, t.prefix) {
		return RoleMetadata
	}
	return RoleFeature
}

// MetadataColumns returns the metadata column names in table order.
func (t *Table) MetadataColumns() []string {
	var out []string
	for _, c := range t.cols {
		if t.RoleOf(c.name) == RoleMetadata {
			out = append(out, c.name)
		}
	}
	return out
}

// FeatureColumns returns the feature column names in table order.
func (t *Table) FeatureColumns() []string {
	var out []string
	for _, c := range t.cols {
		if t.RoleOf(c.name) == RoleFeature {
			out = append(out, c.name)
		}
	}
	return out
}

// AddColumn appends c, or replaces an existing column of the same name in place.
func (t *Table) AddColumn(c *Column) error {
	if len(t.cols) > 0 && c.Len() != t.rows {
		return fmt.Errorf("%w: %s has %d values, table has %d rows", ErrLengthMismatch, c.name, c.Len(), t.rows)
	}
	if len(t.cols) == 0 {
		t.rows = c.Len()
	}
	if i, ok := t.index[c.name]; ok {
		t.cols[i] = c
		return nil
	}
	t.index[c.name] = len(t.cols)
	t.cols = append(t.cols, c)
	return nil
}

// InsertColumn places c at position pos, shifting later columns right.
func (t *Table) InsertColumn(pos int, c *Column) error {
	if t.Has(c.name) {
		t.dropOne(c.name)
	}
	if err := t.AddColumn(c); err != nil {
		return err
	}
	if pos < 0 || pos >= len(t.cols)-1 {
		return nil
	}
	last := t.cols[len(t.cols)-1]
	copy(t.cols[pos+1:], t.cols[pos:len(t.cols)-1])
	t.cols[pos] = last
	t.reindex()
	return nil
}

// AddFloat adds or replaces a float column.
func (t *Table) AddFloat(name string, v []float64) error {
	return t.AddColumn(NewFloatColumn(name, v))
}

// AddInt adds or replaces an int column.
func (t *Table) AddInt(name string, v []int64) error {
	return t.AddColumn(NewIntColumn(name, v))
}

// AddString adds or replaces a string column.
func (t *Table) AddString(name string, v []string) error {
	return t.AddColumn(NewStringColumn(name, v))
}

// AddBool adds or replaces a bool column.
func (t *Table) AddBool(name string, v []bool) error {
	return t.AddColumn(NewBoolColumn(name, v))
}

// Floats returns a copy of a numeric column as float64. Int columns are widened.
func (t *Table) Floats(name string) ([]float64, error) {
	c, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	if !c.kind.Numeric() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotNumeric, name, c.kind)
	}
	out := make([]float64, c.Len())
	for i := range out {
		out[i] = c.Float(i)
	}
	return out, nil
}

// Numeric returns a column coerced to float64. Values that cannot be parsed
// become NaN rather than failing.
func (t *Table) Numeric(name string) ([]float64, error) {
	c, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, c.Len())
	for i := range out {
		out[i] = c.Float(i)
	}
	return out, nil
}

// Strings returns the canonical string form of every value of a column.
func (t *Table) Strings(name string) ([]string, error) {
	c, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	out := make([]string, c.Len())
	for i := range out {
		out[i] = c.Format(i)
	}
	return out, nil
}

// Value returns the canonical string form of one cell, or "" when the column
// does not exist.
func (t *Table) Value(name string, row int) string {
	c, err := t.Column(name)
	if err != nil {
		return ""
	}
	return c.Format(row)
}

// Take returns a new table holding the rows at idx, in that order.
func (t *Table) Take(idx []int) *Table {
	out := New(t.prefix)
	for _, c := range t.cols {
		out.index[c.name] = len(out.cols)
		out.cols = append(out.cols, c.take(idx))
	}
	out.rows = len(idx)
	return out
}

// Filter returns the rows for which keep returns true.
func (t *Table) Filter(keep func(row int) bool) *Table {
	var idx []int
	for i := 0; i < t.rows; i++ {
		if keep(i) {
			idx = append(idx, i)
		}
	}
	return t.Take(idx)
}

// Select returns a table with only the named columns, in the given order.
// The column data is shared with t.
func (t *Table) Select(names ...string) (*Table, error) {
	out := New(t.prefix)
	out.rows = t.rows
	for _, n := range names {
		c, err := t.Column(n)
		if err != nil {
			return nil, err
		}
		out.index[n] = len(out.cols)
		out.cols = append(out.cols, c)
	}
	return out, nil
}

// Drop returns a table without the named columns. Unknown names are ignored.
func (t *Table) Drop(names ...string) *Table {
	skip := make(map[string]bool, len(names))
	for _, n := range names {
		skip[n] = true
	}
	out := New(t.prefix)
	out.rows = t.rows
	for _, c := range t.cols {
		if skip[c.name] {
			continue
		}
		out.index[c.name] = len(out.cols)
		out.cols = append(out.cols, c)
	}
	return out
}

// Rename renames a column in place.
func (t *Table) Rename(from, to string) error {
	i, ok := t.index[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrColumnNotFound, from)
	}
	if from == to {
		return nil
	}
	if t.Has(to) {
		t.dropOne(to)
		i = t.index[from]
	}
	t.cols[i] = t.cols[i].Rename(to)
	t.reindex()
	return nil
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := New(t.prefix)
	out.rows = t.rows
	for _, c := range t.cols {
		out.index[c.name] = len(out.cols)
		out.cols = append(out.cols, c.clone())
	}
	return out
}

// CompleteRows returns the indices of rows with no missing value in the named
// numeric columns.
func (t *Table) CompleteRows(names []string) ([]int, error) {
	cols := make([]*Column, len(names))
	for i, n := range names {
		c, err := t.Column(n)
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	var idx []int
	for r := 0; r < t.rows; r++ {
		ok := true
		for _, c := range cols {
			if math.IsNaN(c.Float(r)) {
				ok = false
				break
			}
		}
		if ok {
			idx = append(idx, r)
		}
	}
	return idx, nil
}

// FeatureRows returns the named columns as one float64 vector per row.
func (t *Table) FeatureRows(names []string) ([][]float64, error) {
	cols := make([]*Column, len(names))
	for i, n := range names {
		c, err := t.Column(n)
		if err != nil {
			return nil, err
		}
		if !c.kind.Numeric() {
			return nil, fmt.Errorf("%w: %s is %s", ErrNotNumeric, n, c.kind)
		}
		cols[i] = c
	}
	out := make([][]float64, t.rows)
	for r := range out {
		row := make([]float64, len(cols))
		for j, c := range cols {
			row[j] = c.Float(r)
		}
		out[r] = row
	}
	return out, nil
}

// FeatureMatrix returns the named columns as a rows x len(names) matrix.
func (t *Table) FeatureMatrix(names []string) (*mat.Dense, error) {
	if t.rows == 0 || len(names) == 0 {
		return nil, fmt.Errorf("empty feature matrix (%d rows, %d columns)", t.rows, len(names))
	}
	rows, err := t.FeatureRows(names)
	if err != nil {
		return nil, err
	}
	data := make([]float64, 0, t.rows*len(names))
	for _, r := range rows {
		data = append(data, r...)
	}
	return mat.NewDense(t.rows, len(names), data), nil
}

// Group is one distinct combination of key values and the rows holding it.
type Group struct {
	Key    string
	Values []string
	Rows   []int
}

// GroupBy partitions rows by the canonical values of the named columns.
// Groups are returned in order of first appearance.
func (t *Table) GroupBy(names ...string) ([]Group, error) {
	cols := make([]*Column, len(names))
	for i, n := range names {
		c, err := t.Column(n)
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	pos := make(map[string]int)
	var groups []Group
	for r := 0; r < t.rows; r++ {
		vals := make([]string, len(cols))
		for i, c := range cols {
			vals[i] = c.Format(r)
		}
		key := strings.Join(vals, "\x1f")
		g, ok := pos[key]
		if !ok {
			g = len(groups)
			pos[key] = g
			groups = append(groups, Group{Key: key, Values: vals})
		}
		groups[g].Rows = append(groups[g].Rows, r)
	}
	return groups, nil
}

// UniqueFloats returns the distinct non-NaN values of a column, ascending.
func (t *Table) UniqueFloats(name string) ([]float64, error) {
	vals, err := t.Numeric(name)
	if err != nil {
		return nil, err
	}
	seen := make(map[float64]bool)
	var out []float64
	for _, v := range vals {
		if math.IsNaN(v) || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Float64s(out)
	return out, nil
}

// ShuffleColumns permutes the values of each named column independently.
func (t *Table) ShuffleColumns(rng *rand.Rand, names ...string) error {
	for _, n := range names {
		c, err := t.Column(n)
		if err != nil {
			return err
		}
		perm := rng.Perm(t.rows)
		t.cols[t.index[n]] = c.take(perm)
	}
	return nil
}

// PrefixColumns renames every column not in except by prepending prefix.
func (t *Table) PrefixColumns(prefix string, except ...string) {
	keep := make(map[string]bool, len(except))
	for _, e := range except {
		keep[e] = true
	}
	for i, c := range t.cols {
		if keep[c.name] {
			continue
		}
		t.cols[i] = c.Rename(prefix + c.name)
	}
	t.reindex()
}

func (t *Table) dropOne(name string) {
	i := t.index[name]
	t.cols = append(t.cols[:i], t.cols[i+1:]...)
	t.reindex()
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.cols))
	for i, c := range t.cols {
		t.index[c.name] = i
	}
}
