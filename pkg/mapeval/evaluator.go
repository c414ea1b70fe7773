package mapeval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"go.uber.org/zap"

	"timelapsemap/pkg/profile"
)

// ErrNoReferenceRows is reported for a timepoint without any reference profile.
var ErrNoReferenceRows = errors.New("mapeval: no reference rows")

// Params configures an Evaluator
type Params struct {
	// TimeColumn stratifies the scoring; empty scores the table as one stratum
	TimeColumn           string
	ReferenceColumn      string
	ReferenceIndexColumn string
	// ReferenceGroup is MinGroup or a literal label of ReferenceColumn
	ReferenceGroup string

	NullSize  int
	Threshold float64
	Seed      uint64

	// Shuffle permutes every feature column before scoring, as a negative control
	Shuffle bool
	// ShuffleColumn receives "True" or "False" on every result row
	ShuffleColumn string
}

// DefaultParams returns the settings used for dose-versus-vehicle scoring.
func DefaultParams() Params {
	return Params{
		TimeColumn:           "Metadata_Time",
		ReferenceColumn:      "Metadata_dose",
		ReferenceIndexColumn: "Metadata_reference_index",
		ReferenceGroup:       MinGroup,
		ShuffleColumn:        "Metadata_Shuffle",
		NullSize:             1000000,
		Threshold:            0.05,
		Seed:                 0,
	}
}

// Evaluator computes time-stratified mean average precision.
type Evaluator struct {
	params Params
	logger *zap.Logger
}

// NewEvaluator validates params and returns an Evaluator. A nil logger
// disables logging.
func NewEvaluator(params Params, logger *zap.Logger) (*Evaluator, error) {
	if params.NullSize <= 0 {
		return nil, fmt.Errorf("mapeval: null size must be positive, got %d", params.NullSize)
	}
	if params.Threshold <= 0 || params.Threshold >= 1 {
		return nil, fmt.Errorf("mapeval: threshold must be in (0, 1), got %v", params.Threshold)
	}
	if params.ReferenceGroup == "" {
		params.ReferenceGroup = MinGroup
	}
	if params.ShuffleColumn == "" {
		params.ShuffleColumn = DefaultParams().ShuffleColumn
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{params: params, logger: logger}, nil
}

// Result holds one mAP table per timepoint.
type Result struct {
	// Times lists the timepoints in ascending order. Without a time column
	// it holds the single key 0.
	Times  []float64
	Tables map[float64]*profile.Table
}

// Concat stacks the per-timepoint tables in time order.
func (r *Result) Concat() *profile.Table {
	tables := make([]*profile.Table, 0, len(r.Times))
	for _, tp := range r.Times {
		tables = append(tables, r.Tables[tp])
	}
	return profile.Concat(tables...)
}

// Run scores every timepoint of t. features selects the feature columns; nil
// uses every feature column of t. Each result table carries the time and
// shuffle columns first, then the treatment group, mAP and significance.
func (e *Evaluator) Run(ctx context.Context, t *profile.Table, features []string) (*Result, error) {
	p := e.params
	if features == nil {
		features = t.FeatureColumns()
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("mapeval: no feature columns")
	}
	ref, err := ResolveReference(t, p.ReferenceColumn, p.ReferenceGroup)
	if err != nil {
		return nil, err
	}
	work, err := t.Select(append(t.MetadataColumns(), features...)...)
	if err != nil {
		return nil, err
	}
	if p.Shuffle {
		work = work.Clone()
		rng := rand.New(rand.NewPCG(p.Seed, 1))
		if err := work.ShuffleColumns(rng, features...); err != nil {
			return nil, err
		}
	}

	times := []float64{0}
	var tcol []float64
	if p.TimeColumn != "" {
		if times, err = work.UniqueFloats(p.TimeColumn); err != nil {
			return nil, err
		}
		tcol, _ = work.Numeric(p.TimeColumn)
	}
	e.logger.Info("Scoring timepoints",
		zap.Int("timepoints", len(times)),
		zap.Int("features", len(features)),
		zap.String("reference", ref.Value),
		zap.Bool("shuffle", p.Shuffle))

	res := &Result{Times: times, Tables: make(map[float64]*profile.Table, len(times))}
	for _, tp := range times {
		sub := work
		if tcol != nil {
			sub = work.Filter(func(r int) bool { return tcol[r] == tp })
		}
		tbl, err := e.score(ctx, sub, features, ref)
		if errors.Is(err, ErrNoReferenceRows) {
			e.logger.Warn("No reference rows at timepoint, skipping",
				zap.Float64("time", tp), zap.String("reference", ref.Value))
			tbl = e.emptyResult(work)
		} else if err != nil {
			return nil, fmt.Errorf("time %v: %w", tp, err)
		}
		if err := e.decorate(tbl, tp); err != nil {
			return nil, err
		}
		res.Tables[tp] = tbl
	}
	return res, nil
}

// score runs reference assignment, AP and mAP on one timepoint.
func (e *Evaluator) score(ctx context.Context, sub *profile.Table, features []string, ref ReferenceSelector) (*profile.Table, error) {
	p := e.params
	isRef, err := ref.Predicate(sub)
	if err != nil {
		return nil, err
	}
	sub = sub.Clone()
	nRef, err := AssignReferenceIndex(sub, p.ReferenceIndexColumn, isRef, NoReference)
	if err != nil {
		return nil, err
	}
	if nRef == 0 {
		return nil, ErrNoReferenceRows
	}

	complete, err := sub.CompleteRows(features)
	if err != nil {
		return nil, err
	}
	if dropped := sub.NumRows() - len(complete); dropped > 0 {
		e.logger.Warn("Dropped rows with missing feature values", zap.Int("rows", dropped))
	}
	sub = sub.Take(complete)

	meta, err := sub.Select(sub.MetadataColumns()...)
	if err != nil {
		return nil, err
	}
	feats, err := sub.FeatureRows(features)
	if err != nil {
		return nil, err
	}
	ap, err := AveragePrecision(ctx, meta, feats, ReferencePairing(p.ReferenceColumn, p.ReferenceIndexColumn))
	if err != nil {
		return nil, err
	}

	isRefAP, err := ref.Predicate(ap)
	if err != nil {
		return nil, err
	}
	treated := ap.Filter(func(r int) bool { return !isRefAP(r) })
	m, err := MeanAveragePrecision(ctx, treated, []string{p.ReferenceColumn, p.ReferenceIndexColumn}, NullOptions{
		Size:      p.NullSize,
		Threshold: p.Threshold,
		Seed:      p.Seed,
	})
	if err != nil {
		return nil, err
	}
	corrected, _ := m.Floats(ColCorrectedP)
	nlog := make([]float64, len(corrected))
	for i, v := range corrected {
		nlog[i] = -math.Log10(v)
	}
	if err := m.AddFloat(ColNegLog10P, nlog); err != nil {
		return nil, err
	}
	return m, nil
}

// emptyResult is the zero-row table reported for a timepoint that cannot be scored.
func (e *Evaluator) emptyResult(work *profile.Table) *profile.Table {
	p := e.params
	refCol, _ := work.Column(p.ReferenceColumn)
	out := profile.New(work.MetadataPrefix())
	cols := []*profile.Column{
		profile.NewStringColumn(p.ReferenceColumn, nil),
		profile.NewIntColumn(p.ReferenceIndexColumn, nil),
		profile.NewFloatColumn(ColMAP, nil),
		profile.NewFloatColumn(ColPValue, nil),
		profile.NewFloatColumn(ColCorrectedP, nil),
		profile.NewBoolColumn(ColBelowP, nil),
		profile.NewBoolColumn(ColBelowCorrectedP, nil),
		profile.NewFloatColumn(ColNegLog10P, nil),
	}
	if refCol != nil && refCol.Kind().Numeric() {
		cols[0] = profile.NewFloatColumn(p.ReferenceColumn, nil)
	}
	for _, c := range cols {
		_ = out.AddColumn(c)
	}
	return out
}

// decorate puts the time and shuffle columns in front of a result table.
func (e *Evaluator) decorate(tbl *profile.Table, tp float64) error {
	n := tbl.NumRows()
	label := "False"
	if e.params.Shuffle {
		label = "True"
	}
	shuffle := make([]string, n)
	for i := range shuffle {
		shuffle[i] = label
	}
	if err := tbl.InsertColumn(0, profile.NewStringColumn(e.params.ShuffleColumn, shuffle)); err != nil {
		return err
	}
	if e.params.TimeColumn == "" {
		return nil
	}
	times := make([]float64, n)
	for i := range times {
		times[i] = tp
	}
	return tbl.InsertColumn(0, profile.NewFloatColumn(e.params.TimeColumn, times))
}
