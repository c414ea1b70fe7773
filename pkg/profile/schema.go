package profile

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrSchemaMismatch is returned when a loaded table does not satisfy a schema.
var ErrSchemaMismatch = errors.New("schema mismatch")

// ColumnSpec describes one column a pipeline stage depends on.
type ColumnSpec struct {
	Name string
	Role Role
	Kind Kind
}

// Schema lists the columns a stage requires, on top of the prefix rule that
// classifies every other column.
type Schema struct {
	MetadataPrefix string
	Columns        []ColumnSpec
}

// Metadata is shorthand for a metadata ColumnSpec.
func Metadata(name string, kind Kind) ColumnSpec {
	return ColumnSpec{Name: name, Role: RoleMetadata, Kind: kind}
}

// Feature is shorthand for a float feature ColumnSpec.
func Feature(name string) ColumnSpec {
	return ColumnSpec{Name: name, Role: RoleFeature, Kind: KindFloat}
}

// Validate checks that every listed column is present with a compatible kind
// and the role implied by its name, and that every feature column of t is
// numeric. All problems are reported together.
func (s Schema) Validate(t *Table) error {
	prefix := s.MetadataPrefix
	if prefix == "" {
		prefix = t.prefix
	}
	var problems []string
	for _, spec := range s.Columns {
		c, err := t.Column(spec.Name)
		if err != nil {
			problems = append(problems, fmt.Sprintf("missing column %s", spec.Name))
			continue
		}
		role := RoleFeature
		if strings.HasPrefix(spec.Name, prefix) {
			role = RoleMetadata
		}
		if role != spec.Role {
			problems = append(problems, fmt.Sprintf("column %s is named as %s but declared %s", spec.Name, role, spec.Role))
		}
		if !compatible(spec.Kind, c.kind) {
			problems = append(problems, fmt.Sprintf("column %s is %s, expected %s", spec.Name, c.kind, spec.Kind))
		} else if spec.Kind == KindFloat && c.kind == KindString {
			if row, ok := firstNonNumeric(c); ok {
				problems = append(problems, fmt.Sprintf("column %s holds non-numeric %q at row %d", spec.Name, c.str[row], row))
			}
		}
	}
	for _, c := range t.cols {
		if strings.HasPrefix(c.name, prefix) {
			continue
		}
		if !c.kind.Numeric() {
			problems = append(problems, fmt.Sprintf("feature column %s is %s", c.name, c.kind))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrSchemaMismatch, strings.Join(problems, "; "))
	}
	return nil
}

func compatible(want, got Kind) bool {
	if want == got {
		return true
	}
	// Ints are valid wherever floats are expected. Metadata strings such as
	// doses written as "0.78" are too, provided every value parses.
	return want == KindFloat && (got == KindInt || got == KindString)
}

// firstNonNumeric returns the first non-missing value of a string column
// that does not parse as a number.
func firstNonNumeric(c *Column) (int, bool) {
	for i, v := range c.str {
		if v == "" {
			continue
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return i, true
		}
	}
	return 0, false
}

// FeatureSet selects a named subset of feature columns by substring.
type FeatureSet struct {
	Name string `yaml:"name"`
	// Contains keeps features containing any of these substrings. Empty keeps all.
	Contains []string `yaml:"contains,omitempty"`
	// Excludes drops features containing any of these substrings.
	Excludes []string `yaml:"excludes,omitempty"`
	// Columns, when non-nil, keeps exactly these features.
	Columns []string `yaml:"columns,omitempty"`
}

// Select returns the feature columns of t that belong to the set.
func (fs FeatureSet) Select(t *Table) []string {
	var keep map[string]bool
	if fs.Columns != nil {
		keep = make(map[string]bool, len(fs.Columns))
		for _, c := range fs.Columns {
			keep[c] = true
		}
	}
	var out []string
	for _, name := range t.FeatureColumns() {
		if keep != nil && !keep[name] {
			continue
		}
		if len(fs.Contains) > 0 && !containsAny(name, fs.Contains) {
			continue
		}
		if containsAny(name, fs.Excludes) {
			continue
		}
		out = append(out, name)
	}
	return out
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// DefaultFeatureSets are the CellProfiler, scDINO and combined feature spaces.
func DefaultFeatureSets() []FeatureSet {
	return []FeatureSet{
		{Name: "CP", Excludes: []string{"scDINO"}},
		{Name: "scDINO", Contains: []string{"scDINO"}},
		{Name: "CP_scDINO"},
	}
}
