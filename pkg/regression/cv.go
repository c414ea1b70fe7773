package regression

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"timelapsemap/internal/models"
	"timelapsemap/pkg/profile"
)

// CrossValidate scores every ridge penalty in alphas by its held-out R² on a
// seeded, shuffled k-fold partition of d, and returns the per-fold scores and
// the penalty with the highest mean R². Ties keep the earlier penalty. The
// first n%folds folds hold one extra row.
func CrossValidate(ctx context.Context, d *Dataset, alphas []float64, folds int, seed uint64) ([]models.CVScore, float64, error) {
	if len(alphas) == 0 {
		return nil, 0, fmt.Errorf("regression: no penalties to cross-validate")
	}
	if d.Y == nil {
		return nil, 0, fmt.Errorf("regression: cross-validation data has no responses")
	}
	n := d.Rows()
	if folds < 2 || folds > n {
		return nil, 0, fmt.Errorf("regression: %d folds for %d rows", folds, n)
	}

	perm := rand.New(rand.NewPCG(seed, streamFolds)).Perm(n)
	foldOf := make([]int, n)
	start := 0
	for k := 0; k < folds; k++ {
		size := n / folds
		if k < n%folds {
			size++
		}
		for _, i := range perm[start : start+size] {
			foldOf[i] = k
		}
		start += size
	}

	scores := make([]models.CVScore, len(alphas)*folds)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for a, alpha := range alphas {
		for k := 0; k < folds; k++ {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				var train, held []int
				for i, f := range foldOf {
					if f == k {
						held = append(held, i)
					} else {
						train = append(train, i)
					}
				}
				m := NewRidge(alpha)
				if err := m.Fit(rows(d.X, train), rows(d.Y, train)); err != nil {
					return fmt.Errorf("alpha %v fold %d: %w", alpha, k, err)
				}
				pred, err := m.Predict(rows(d.X, held))
				if err != nil {
					return err
				}
				s, err := Score(rows(d.Y, held), pred)
				if err != nil {
					return err
				}
				scores[a*folds+k] = models.CVScore{Alpha: alpha, Fold: k, R2: s.R2}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	best, bestR2 := alphas[0], MeanR2(scores, alphas[0])
	for _, alpha := range alphas[1:] {
		if r2 := MeanR2(scores, alpha); r2 > bestR2 {
			best, bestR2 = alpha, r2
		}
	}
	return scores, best, nil
}

// MeanR2 averages the fold scores of one penalty.
func MeanR2(scores []models.CVScore, alpha float64) float64 {
	var sum float64
	n := 0
	for _, s := range scores {
		if s.Alpha == alpha {
			sum += s.R2
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// CVTable lays cross-validation scores out one row per penalty and fold.
func CVTable(scores []models.CVScore, selected float64) *profile.Table {
	n := len(scores)
	alpha, r2 := make([]float64, n), make([]float64, n)
	fold := make([]int64, n)
	chosen := make([]bool, n)
	for i, s := range scores {
		alpha[i], fold[i], r2[i], chosen[i] = s.Alpha, int64(s.Fold), s.R2, s.Alpha == selected
	}
	t, _ := profile.FromColumns("",
		profile.NewFloatColumn("alpha", alpha),
		profile.NewIntColumn("fold", fold),
		profile.NewFloatColumn("R2", r2),
		profile.NewBoolColumn("selected", chosen),
	)
	return t
}

func rows(m *mat.Dense, idx []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(idx), c, nil)
	for r, i := range idx {
		out.SetRow(r, m.RawRowView(i))
	}
	return out
}
