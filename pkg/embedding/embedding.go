// Package embedding projects feature profiles into a low-dimensional space
// fitted on a reference subset.
package embedding

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"timelapsemap/pkg/profile"
)

// ErrNotFitted is returned by Transform before Fit.
var ErrNotFitted = errors.New("embedding: model is not fitted")

// Embedder learns a projection from reference rows and applies it to others.
type Embedder interface {
	Fit(reference *mat.Dense) error
	Transform(x *mat.Dense) (*mat.Dense, error)
	Dims() int
}

// PCA is a principal-component projection centred on the reference mean.
type PCA struct {
	Components int

	mean []float64
	vecs *mat.Dense
}

// NewPCA returns an unfitted PCA with k output dimensions.
func NewPCA(k int) *PCA { return &PCA{Components: k} }

// Dims returns the number of output dimensions.
func (p *PCA) Dims() int { return p.Components }

// Fit computes the principal axes of reference.
func (p *PCA) Fit(reference *mat.Dense) error {
	r, c := reference.Dims()
	if p.Components < 1 || p.Components > c {
		return fmt.Errorf("embedding: %d components requested for %d features", p.Components, c)
	}
	if r < 2 {
		return fmt.Errorf("embedding: need at least 2 reference rows, got %d", r)
	}
	var pc stat.PC
	if ok := pc.PrincipalComponents(reference, nil); !ok {
		return fmt.Errorf("embedding: principal component analysis failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	_, avail := vecs.Dims()
	if avail < p.Components {
		return fmt.Errorf("embedding: only %d components available", avail)
	}
	p.vecs = mat.DenseCopyOf(vecs.Slice(0, c, 0, p.Components))

	p.mean = make([]float64, c)
	for j := 0; j < c; j++ {
		p.mean[j] = stat.Mean(mat.Col(nil, j, reference), nil)
	}
	return nil
}

// Transform projects the rows of x onto the fitted axes.
func (p *PCA) Transform(x *mat.Dense) (*mat.Dense, error) {
	if p.vecs == nil {
		return nil, ErrNotFitted
	}
	r, c := x.Dims()
	if c != len(p.mean) {
		return nil, fmt.Errorf("embedding: fitted on %d features, got %d", len(p.mean), c)
	}
	centered := mat.NewDense(r, c, nil)
	centered.Apply(func(_, j int, v float64) float64 { return v - p.mean[j] }, x)
	var out mat.Dense
	out.Mul(centered, p.vecs)
	return &out, nil
}

// EmbedByFirstTimepoint fits emb on the complete rows of the earliest
// timepoint and transforms every complete row. The result holds the
// embedding columns prefix0..prefix(k-1) followed by the metadata columns.
// Rows with missing features are dropped.
func EmbedByFirstTimepoint(t *profile.Table, features []string, timeColumn string, emb Embedder, prefix string) (*profile.Table, error) {
	complete, err := t.CompleteRows(features)
	if err != nil {
		return nil, err
	}
	rows := t.Take(complete)
	times, err := rows.UniqueFloats(timeColumn)
	if err != nil {
		return nil, err
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("embedding: no timepoints in %s", timeColumn)
	}
	tcol, _ := rows.Numeric(timeColumn)
	first := rows.Filter(func(r int) bool { return tcol[r] == times[0] })

	ref, err := first.FeatureMatrix(features)
	if err != nil {
		return nil, err
	}
	if err := emb.Fit(ref); err != nil {
		return nil, err
	}
	all, err := rows.FeatureMatrix(features)
	if err != nil {
		return nil, err
	}
	proj, err := emb.Transform(all)
	if err != nil {
		return nil, err
	}

	out := profile.New(t.MetadataPrefix())
	for k := 0; k < emb.Dims(); k++ {
		if err := out.AddFloat(fmt.Sprintf("%s%d", prefix, k), mat.Col(nil, k, proj)); err != nil {
			return nil, err
		}
	}
	for _, name := range rows.MetadataColumns() {
		c, _ := rows.Column(name)
		if err := out.AddColumn(c); err != nil {
			return nil, err
		}
	}
	return out, nil
}
