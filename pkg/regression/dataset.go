package regression

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/mat"

	"timelapsemap/pkg/profile"
)

// DefaultTargetPrefix marks the endpoint feature columns a model predicts.
const DefaultTargetPrefix = "Terminal_"

// Dataset is a table split into model inputs, responses and the metadata
// that identifies each row.
type Dataset struct {
	Meta   *profile.Table
	X      *mat.Dense
	XNames []string
	// Y and YNames are nil for a dataset without responses
	Y      *mat.Dense
	YNames []string
	// Dropped counts rows removed for missing values
	Dropped int
}

// Rows returns the number of observations.
func (d *Dataset) Rows() int { return d.Meta.NumRows() }

// Split separates the feature columns of t into inputs and the responses
// starting with targetPrefix. Rows with a missing input or response are
// dropped.
func Split(t *profile.Table, targetPrefix string) (*Dataset, error) {
	var xNames, yNames []string
	for _, name := range t.FeatureColumns() {
		if strings.HasPrefix(name, targetPrefix) {
			yNames = append(yNames, name)
		} else {
			xNames = append(xNames, name)
		}
	}
	if len(xNames) == 0 || len(yNames) == 0 {
		return nil, fmt.Errorf("regression: %d input and %d %s columns", len(xNames), len(yNames), targetPrefix)
	}
	return build(t, xNames, yNames)
}

// Inputs builds a dataset without responses from the named input columns.
func Inputs(t *profile.Table, xNames []string) (*Dataset, error) {
	if len(xNames) == 0 {
		return nil, fmt.Errorf("regression: no input columns")
	}
	return build(t, xNames, nil)
}

func build(t *profile.Table, xNames, yNames []string) (*Dataset, error) {
	complete, err := t.CompleteRows(append(append([]string(nil), xNames...), yNames...))
	if err != nil {
		return nil, err
	}
	rows := t.Take(complete)
	meta, err := rows.Select(rows.MetadataColumns()...)
	if err != nil {
		return nil, err
	}
	d := &Dataset{Meta: meta, XNames: xNames, Dropped: t.NumRows() - len(complete)}
	if d.X, err = rows.FeatureMatrix(xNames); err != nil {
		return nil, err
	}
	if len(yNames) > 0 {
		d.YNames = yNames
		if d.Y, err = rows.FeatureMatrix(yNames); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Shuffled returns a copy of d in which every input and response column is
// permuted independently. Metadata keeps its order.
func (d *Dataset) Shuffled(rng *rand.Rand) *Dataset {
	out := *d
	out.X = shuffleColumns(d.X, rng)
	if d.Y != nil {
		out.Y = shuffleColumns(d.Y, rng)
	}
	return &out
}

func shuffleColumns(m *mat.Dense, rng *rand.Rand) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, m)
		rng.Shuffle(r, func(a, b int) { col[a], col[b] = col[b], col[a] })
		out.SetCol(j, col)
	}
	return out
}
