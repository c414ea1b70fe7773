package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ConstName labels the intercept term of an OLS fit.
const ConstName = "const"

// OLSResult holds an ordinary-least-squares fit with an intercept.
type OLSResult struct {
	// Names lists the terms, intercept first
	Names   []string
	Coef    []float64
	StdErr  []float64
	T       []float64
	P       []float64
	R2      float64
	N       int
	Rank    int
	DFResid float64
}

// FitOLS regresses y on the columns of x plus an intercept. The solution uses
// the SVD pseudo-inverse, so collinear designs yield the minimum-norm
// coefficients instead of failing.
func FitOLS(x mat.Matrix, y []float64, names []string) (*OLSResult, error) {
	n, c := x.Dims()
	if len(y) != n {
		return nil, fmt.Errorf("stats: design has %d rows, response has %d", n, len(y))
	}
	if len(names) != c {
		return nil, fmt.Errorf("stats: %d names for %d design columns", len(names), c)
	}
	p := c + 1
	if n <= p {
		return nil, fmt.Errorf("%w: %d observations for %d terms", ErrInsufficientData, n, p)
	}

	design := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		design.Set(i, 0, 1)
		for j := 0; j < c; j++ {
			design.Set(i, j+1, x.At(i, j))
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(design, mat.SVDThin); !ok {
		return nil, fmt.Errorf("stats: SVD of design matrix failed")
	}
	sv := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	tol := float64(max(n, p)) * sv[0] * 2.220446049250313e-16
	yv := mat.NewVecDense(n, y)
	proj := make([]float64, len(sv))
	rank := 0
	for i, s := range sv {
		if s <= tol {
			continue
		}
		rank++
		proj[i] = mat.Dot(u.ColView(i), yv) / s
	}

	res := &OLSResult{
		Names:  append([]string{ConstName}, names...),
		Coef:   make([]float64, p),
		StdErr: make([]float64, p),
		T:      make([]float64, p),
		P:      make([]float64, p),
		N:      n,
		Rank:   rank,
	}
	for j := 0; j < p; j++ {
		for i := range sv {
			res.Coef[j] += v.At(j, i) * proj[i]
		}
	}

	fitted := make([]float64, n)
	for i := 0; i < n; i++ {
		fitted[i] = floats.Dot(design.RawRowView(i), res.Coef)
	}
	resid := make([]float64, n)
	floats.SubTo(resid, y, fitted)
	rss := floats.Dot(resid, resid)
	mean := stat.Mean(y, nil)
	var tss float64
	for _, yi := range y {
		tss += (yi - mean) * (yi - mean)
	}
	if tss > 0 {
		res.R2 = 1 - rss/tss
	} else {
		res.R2 = math.NaN()
	}

	res.DFResid = float64(n - rank)
	sigma2 := rss / res.DFResid
	tdist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: res.DFResid}
	for j := 0; j < p; j++ {
		var cov float64
		for i, s := range sv {
			if s <= tol {
				continue
			}
			cov += v.At(j, i) * v.At(j, i) / (s * s)
		}
		res.StdErr[j] = math.Sqrt(sigma2 * cov)
		res.T[j] = res.Coef[j] / res.StdErr[j]
		res.P[j] = 2 * tdist.Survival(math.Abs(res.T[j]))
	}
	return res, nil
}
