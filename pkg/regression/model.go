package regression

import (
	"context"
	"fmt"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"timelapsemap/internal/models"
	"timelapsemap/pkg/profile"
)

// Shuffle streams seed the independent permutations of each data split.
const (
	streamTrain uint64 = iota + 1
	streamTest
	streamPredict
	streamFolds
)

// Pair holds a model fitted on real data and its control fitted on the same
// data with every column shuffled.
type Pair struct {
	Final   *Ridge
	Control *Ridge

	XNames []string
	YNames []string
	Seed   uint64
}

// TrainWithControl fits the final and control models concurrently.
func TrainWithControl(ctx context.Context, train *Dataset, alpha float64, seed uint64) (*Pair, error) {
	if train.Y == nil {
		return nil, fmt.Errorf("regression: training data has no responses")
	}
	p := &Pair{
		Final:   NewRidge(alpha),
		Control: NewRidge(alpha),
		XNames:  train.XNames,
		YNames:  train.YNames,
		Seed:    seed,
	}
	shuffled := train.Shuffled(rand.New(rand.NewPCG(seed, streamTrain)))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return p.Final.Fit(train.X, train.Y)
	})
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return p.Control.Fit(shuffled.X, shuffled.Y)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return p, nil
}

// Evaluate scores the final model on train and test and the control on the
// shuffled train and test data. It returns one score per split and the
// stacked predictions.
func (p *Pair) Evaluate(train, test *Dataset) ([]models.ModelScore, *profile.Table, error) {
	type job struct {
		split    string
		shuffled bool
		data     *Dataset
	}
	jobs := []job{
		{"train", false, train},
		{"train_shuffled", true, train.Shuffled(rand.New(rand.NewPCG(p.Seed, streamTrain)))},
		{"test", false, test},
		{"test_shuffled", true, test.Shuffled(rand.New(rand.NewPCG(p.Seed, streamTest)))},
	}
	var (
		scores []models.ModelScore
		tables []*profile.Table
	)
	for _, j := range jobs {
		if j.data.Y == nil {
			return nil, nil, fmt.Errorf("regression: %s split has no responses", j.split)
		}
		model := p.Final
		if j.shuffled {
			model = p.Control
		}
		pred, err := model.Predict(j.data.X)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", j.split, err)
		}
		s, err := Score(j.data.Y, pred)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", j.split, err)
		}
		s.Split, s.Shuffled, s.Alpha = j.split, j.shuffled, model.Alpha
		scores = append(scores, s)

		tbl, err := p.predictionTable(j.data.Meta, pred)
		if err != nil {
			return nil, nil, err
		}
		if err := labelRows(tbl, j.split, j.shuffled); err != nil {
			return nil, nil, err
		}
		tables = append(tables, tbl)
	}
	return scores, profile.Concat(tables...), nil
}

// Predict runs the final model on d, or the control on a shuffled copy of d.
// The result holds the metadata of d, one column per response and a
// "shuffled" flag.
func (p *Pair) Predict(d *Dataset, shuffled bool) (*profile.Table, error) {
	model := p.Final
	if shuffled {
		model = p.Control
		d = d.Shuffled(rand.New(rand.NewPCG(p.Seed, streamPredict)))
	}
	pred, err := model.Predict(d.X)
	if err != nil {
		return nil, err
	}
	tbl, err := p.predictionTable(d.Meta, pred)
	if err != nil {
		return nil, err
	}
	flags := make([]bool, tbl.NumRows())
	for i := range flags {
		flags[i] = shuffled
	}
	return tbl, tbl.AddBool("shuffled", flags)
}

func (p *Pair) predictionTable(meta *profile.Table, pred *mat.Dense) (*profile.Table, error) {
	out := meta.Clone()
	for j, name := range p.YNames {
		if err := out.AddFloat(name, mat.Col(nil, j, pred)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func labelRows(t *profile.Table, split string, shuffled bool) error {
	n := t.NumRows()
	splits := make([]string, n)
	flags := make([]bool, n)
	for i := range splits {
		splits[i] = split
		flags[i] = shuffled
	}
	if err := t.InsertColumn(0, profile.NewStringColumn("Metadata_data_split", splits)); err != nil {
		return err
	}
	return t.InsertColumn(1, profile.NewBoolColumn("Metadata_shuffled", flags))
}

// ScoreTable lays scores out one row per split.
func ScoreTable(scores []models.ModelScore) *profile.Table {
	n := len(scores)
	var (
		mae, mse, r2, evs, alpha = make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n)
		split                    = make([]string, n)
		shuffled                 = make([]bool, n)
	)
	for i, s := range scores {
		mae[i], mse[i], r2[i], evs[i] = s.MAE, s.MSE, s.R2, s.EVS
		split[i], shuffled[i], alpha[i] = s.Split, s.Shuffled, s.Alpha
	}
	t, _ := profile.FromColumns("",
		profile.NewFloatColumn("MAE", mae),
		profile.NewFloatColumn("MSE", mse),
		profile.NewFloatColumn("R2", r2),
		profile.NewFloatColumn("EVS", evs),
		profile.NewStringColumn("data_split", split),
		profile.NewBoolColumn("shuffled", shuffled),
		profile.NewFloatColumn("alpha", alpha),
	)
	return t
}
