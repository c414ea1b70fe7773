// Package regression predicts the terminal endpoint profile of a well from its
// time-lapse profile with a multi-output linear model, alongside a control
// model trained on shuffled data.
package regression

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrNotFitted is returned by Predict before Fit.
var ErrNotFitted = errors.New("regression: model is not fitted")

// Ridge is an L2-penalised least-squares regressor with one output per
// column of the response. Inputs are standardised before fitting and the
// intercept is not penalised.
type Ridge struct {
	Alpha float64

	xMean  []float64
	xScale []float64
	yMean  []float64
	coef   *mat.Dense
}

// NewRidge returns an unfitted model with penalty alpha.
func NewRidge(alpha float64) *Ridge { return &Ridge{Alpha: alpha} }

// Fit solves (XᵀX + αI)B = XᵀY on standardised x and centred y.
func (m *Ridge) Fit(x, y mat.Matrix) error {
	if m.Alpha <= 0 {
		return fmt.Errorf("regression: alpha must be positive, got %v", m.Alpha)
	}
	n, p := x.Dims()
	ny, q := y.Dims()
	if n != ny {
		return fmt.Errorf("regression: %d input rows, %d response rows", n, ny)
	}
	if n < 2 {
		return fmt.Errorf("regression: need at least 2 rows, got %d", n)
	}

	m.xMean = make([]float64, p)
	m.xScale = make([]float64, p)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		mat.Col(col, j, x)
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 {
			std = 1
		}
		m.xMean[j], m.xScale[j] = mean, std
	}
	m.yMean = make([]float64, q)
	for j := 0; j < q; j++ {
		m.yMean[j] = stat.Mean(mat.Col(col, j, y), nil)
	}

	xs := m.standardize(x)
	yc := mat.NewDense(n, q, nil)
	yc.Apply(func(_, j int, v float64) float64 { return v - m.yMean[j] }, y)

	var gram mat.SymDense
	gram.SymOuterK(1, xs.T())
	for i := 0; i < p; i++ {
		gram.SetSym(i, i, gram.At(i, i)+m.Alpha)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(&gram); !ok {
		return fmt.Errorf("regression: normal equations are not positive definite")
	}
	var xty mat.Dense
	xty.Mul(xs.T(), yc)
	var coef mat.Dense
	if err := chol.SolveTo(&coef, &xty); err != nil {
		return fmt.Errorf("regression: solve: %w", err)
	}
	m.coef = &coef
	return nil
}

// Predict returns one row of predicted responses per row of x.
func (m *Ridge) Predict(x mat.Matrix) (*mat.Dense, error) {
	if m.coef == nil {
		return nil, ErrNotFitted
	}
	if _, p := x.Dims(); p != len(m.xMean) {
		return nil, fmt.Errorf("regression: fitted on %d inputs, got %d", len(m.xMean), p)
	}
	var out mat.Dense
	out.Mul(m.standardize(x), m.coef)
	out.Apply(func(_, j int, v float64) float64 { return v + m.yMean[j] }, &out)
	return &out, nil
}

func (m *Ridge) standardize(x mat.Matrix) *mat.Dense {
	n, p := x.Dims()
	out := mat.NewDense(n, p, nil)
	out.Apply(func(_, j int, v float64) float64 { return (v - m.xMean[j]) / m.xScale[j] }, x)
	return out
}
