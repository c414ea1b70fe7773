// Package split assigns profiles to training, validation and test sets.
// Whole wells are held out so that a model is never scored on cells from a
// well it was trained on.
package split

import (
	"fmt"
	"math/rand/v2"

	"timelapsemap/pkg/profile"
)

// Split labels
const (
	Train          = "train"
	Val            = "val"
	Test           = "test"
	WellHoldout    = "well_holdout"
	NonTrainedPair = "non_trained_pair"
)

// WellsSplitColumn names the label column of a wells table.
const WellsSplitColumn = "data_split"

// BulkSplit is the result of holding out one well per dose.
type BulkSplit struct {
	Train *profile.Table
	Test  *profile.Table
	// Wells lists every well with its label, training wells first
	Wells *profile.Table
}

// TestWellPerDose picks one well of every dose at random for testing and
// keeps the remaining wells for training. Doses are visited in order of
// first appearance.
func TestWellPerDose(t *profile.Table, doseColumn, wellColumn string, seed uint64) (*BulkSplit, error) {
	pairs, err := t.GroupBy(doseColumn, wellColumn)
	if err != nil {
		return nil, err
	}
	var doses []string
	wellsOf := make(map[string][]string)
	for _, g := range pairs {
		dose, well := g.Values[0], g.Values[1]
		if _, ok := wellsOf[dose]; !ok {
			doses = append(doses, dose)
		}
		wellsOf[dose] = append(wellsOf[dose], well)
	}

	rng := rand.New(rand.NewPCG(seed, 0))
	isTest := make(map[string]bool, len(doses))
	var testWells []string
	for _, d := range doses {
		w := wellsOf[d][rng.IntN(len(wellsOf[d]))]
		isTest[w] = true
		testWells = append(testWells, w)
	}
	var trainWells []string
	for _, d := range doses {
		for _, w := range wellsOf[d] {
			if !isTest[w] {
				trainWells = append(trainWells, w)
			}
		}
	}

	wells, err := t.Strings(wellColumn)
	if err != nil {
		return nil, err
	}
	labels := make([]string, 0, len(trainWells)+len(testWells))
	for range trainWells {
		labels = append(labels, Train)
	}
	for range testWells {
		labels = append(labels, Test)
	}
	wt, err := profile.FromColumns(t.MetadataPrefix(),
		profile.NewStringColumn(wellColumn, append(trainWells, testWells...)),
		profile.NewStringColumn(WellsSplitColumn, labels),
	)
	if err != nil {
		return nil, err
	}
	return &BulkSplit{
		Train: t.Filter(func(r int) bool { return !isTest[wells[r]] }),
		Test:  t.Filter(func(r int) bool { return isTest[wells[r]] }),
		Wells: wt,
	}, nil
}

// PrepareBulk joins the last timepoint of the well-level time-lapse profiles
// with the endpoint profiles of the same wells. Endpoint features are
// renamed with targetPrefix and the time column is dropped. Endpoint
// metadata other than the keys is discarded.
func PrepareBulk(bulk, endpoint *profile.Table, timeColumn, targetPrefix string, keys ...string) (*profile.Table, error) {
	times, err := bulk.UniqueFloats(timeColumn)
	if err != nil {
		return nil, err
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("split: no timepoints in %s", timeColumn)
	}
	last := times[len(times)-1]
	tcol, _ := bulk.Numeric(timeColumn)
	final := bulk.Filter(func(r int) bool { return tcol[r] == last }).Drop(timeColumn)

	cols := append(append([]string(nil), keys...), endpoint.FeatureColumns()...)
	targets, err := endpoint.Select(cols...)
	if err != nil {
		return nil, err
	}
	targets = targets.Clone()
	targets.PrefixColumns(targetPrefix, keys...)
	return profile.LeftJoin(final, targets, keys...)
}

// LabelByWell adds splitColumn to t holding the wells-table label of each
// row's well. Wells labelled test become well_holdout when holdout is set.
// Rows of unknown wells get an empty label.
func LabelByWell(t, wells *profile.Table, wellColumn, splitColumn string, holdout bool) error {
	names, err := wells.Strings(wellColumn)
	if err != nil {
		return err
	}
	labels, err := wells.Strings(WellsSplitColumn)
	if err != nil {
		return err
	}
	byWell := make(map[string]string, len(names))
	for i, w := range names {
		l := labels[i]
		if holdout && l == Test {
			l = WellHoldout
		}
		byWell[w] = l
	}
	rows, err := t.Strings(wellColumn)
	if err != nil {
		return err
	}
	out := make([]string, len(rows))
	for i, w := range rows {
		out[i] = byWell[w]
	}
	return t.AddString(splitColumn, out)
}

// MarkUntrainedPairs relabels training rows observed at any time other than
// trainTime, since the model only saw that timepoint of its training wells.
func MarkUntrainedPairs(t *profile.Table, splitColumn, timeColumn string, trainTime float64) error {
	labels, err := t.Strings(splitColumn)
	if err != nil {
		return err
	}
	times, err := t.Numeric(timeColumn)
	if err != nil {
		return err
	}
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = l
		if l == Train && times[i] != trainTime {
			out[i] = NonTrainedPair
		}
	}
	return t.AddString(splitColumn, out)
}
