// Package matching links endpoint-annotated cells to the single-cell tracks
// observed in the time-lapse, by nucleus position within a field of view.
package matching

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"

	"timelapsemap/internal/models"
	"timelapsemap/pkg/profile"
)

// ErrMissingColumn is returned when an input table lacks a column the
// matcher needs.
var ErrMissingColumn = errors.New("matching: missing column")

// TieBreak selects which track wins when several lie within the radius of one
// endpoint cell.
type TieBreak string

const (
	// TieBreakLast keeps the candidate with the highest tracked row index.
	TieBreakLast TieBreak = "last"
	// TieBreakNearest keeps the closest candidate, lower row index on equal distance.
	TieBreakNearest TieBreak = "nearest"
)

// ParseTieBreak validates a tie-break name from configuration.
func ParseTieBreak(s string) (TieBreak, error) {
	switch TieBreak(s) {
	case "", TieBreakLast:
		return TieBreakLast, nil
	case TieBreakNearest:
		return TieBreakNearest, nil
	}
	return "", fmt.Errorf("matching: unknown tie-break %q", s)
}

// Params holds the column names and thresholds used by the matcher
type Params struct {
	WellColumn    string
	FOVColumn     string
	TrackColumn   string
	TimeColumn    string
	XColumn       string
	YColumn       string
	TrackIDColumn string
	WellFOVColumn string
	CountColumn   string

	// Threshold is the exclusive matching radius in pixels
	Threshold float64
	TieBreak  TieBreak

	// TerminalTime overwrites the time column of matched rows. Negative disables it.
	TerminalTime float64
}

// DefaultParams returns the column names used by the cell-profiling outputs.
func DefaultParams() Params {
	return Params{
		WellColumn:    "Metadata_Well",
		FOVColumn:     "Metadata_FOV",
		TrackColumn:   "Metadata_track_id",
		TimeColumn:    "Metadata_Time",
		XColumn:       "Metadata_Nuclei_Location_Center_X",
		YColumn:       "Metadata_Nuclei_Location_Center_Y",
		TrackIDColumn: "Metadata_sc_unique_track_id",
		WellFOVColumn: "Metadata_Well_FOV",
		CountColumn:   "Metadata_sc_unique_track_id_count",
		Threshold:     10,
		TieBreak:      TieBreakLast,
		TerminalTime:  13,
	}
}

// Matcher assigns track identifiers to endpoint cells.
type Matcher struct {
	params Params
}

// NewMatcher returns a matcher. A non-positive threshold is rejected.
func NewMatcher(params Params) (*Matcher, error) {
	if params.Threshold <= 0 || math.IsNaN(params.Threshold) {
		return nil, fmt.Errorf("matching: threshold must be positive, got %v", params.Threshold)
	}
	tb, err := ParseTieBreak(string(params.TieBreak))
	if err != nil {
		return nil, err
	}
	params.TieBreak = tb
	return &Matcher{params: params}, nil
}

// Params returns the matcher configuration.
func (m *Matcher) Params() Params { return m.params }

type group struct {
	tree *kdtree.Tree
	ids  []string
}

// Match returns the endpoint rows that lie strictly within the threshold of a
// tracked cell in the same well and field of view, with the winning track's
// unique id appended. Endpoint rows with a missing centroid are excluded
// before matching and unmatched rows are dropped.
func (m *Matcher) Match(tracked, endpoint *profile.Table) (*profile.Table, models.MatchSummary, error) {
	p := m.params
	summary := models.MatchSummary{EndpointRows: endpoint.NumRows()}

	for _, name := range []string{p.WellColumn, p.FOVColumn, p.XColumn, p.YColumn} {
		if !tracked.Has(name) {
			return nil, summary, fmt.Errorf("%w: tracked table has no %s", ErrMissingColumn, name)
		}
		if !endpoint.Has(name) {
			return nil, summary, fmt.Errorf("%w: endpoint table has no %s", ErrMissingColumn, name)
		}
	}
	ids, err := trackIDs(tracked, p)
	if err != nil {
		return nil, summary, err
	}

	tx, _ := tracked.Numeric(p.XColumn)
	ty, _ := tracked.Numeric(p.YColumn)
	tkeys, _ := wellFOVs(tracked, p)
	byKey := make(map[string]Centroids)
	for r := range tx {
		if math.IsNaN(tx[r]) || math.IsNaN(ty[r]) {
			continue
		}
		byKey[tkeys[r]] = append(byKey[tkeys[r]], Centroid{X: tx[r], Y: ty[r], Row: r})
	}

	ex, _ := endpoint.Numeric(p.XColumn)
	ey, _ := endpoint.Numeric(p.YColumn)
	ekeys, _ := wellFOVs(endpoint, p)

	groups := make(map[string]*group)
	var rows []int
	var matchedIDs, matchedKeys []string
	for r := range ex {
		if math.IsNaN(ex[r]) || math.IsNaN(ey[r]) {
			summary.Excluded++
			continue
		}
		key := ekeys[r]
		g, ok := groups[key]
		if !ok {
			pts := byKey[key]
			g = &group{}
			if len(pts) > 0 {
				g.tree = kdtree.New(pts, true)
			}
			groups[key] = g
			summary.Groups++
		}
		if g.tree == nil {
			continue
		}
		hits := within(g.tree, Centroid{X: ex[r], Y: ey[r]}, p.Threshold)
		if len(hits) == 0 {
			continue
		}
		if len(hits) > 1 {
			summary.Ambiguous++
		}
		best := pick(hits, p.TieBreak)
		rows = append(rows, r)
		matchedIDs = append(matchedIDs, ids[best])
		matchedKeys = append(matchedKeys, key)
	}
	summary.Matched = len(rows)

	out := endpoint.Take(rows)
	if err := out.AddString(p.WellFOVColumn, matchedKeys); err != nil {
		return nil, summary, err
	}
	if err := out.AddString(p.TrackIDColumn, matchedIDs); err != nil {
		return nil, summary, err
	}
	if p.TerminalTime >= 0 && p.TimeColumn != "" {
		times := make([]float64, len(rows))
		for i := range times {
			times[i] = p.TerminalTime
		}
		if err := out.AddFloat(p.TimeColumn, times); err != nil {
			return nil, summary, err
		}
	}
	return out, summary, nil
}

// pick returns the tracked row chosen among candidates.
func pick(hits []kdtree.ComparableDist, tb TieBreak) int {
	best := hits[0]
	for _, h := range hits[1:] {
		row := h.Comparable.(Centroid).Row
		cur := best.Comparable.(Centroid).Row
		switch tb {
		case TieBreakNearest:
			if h.Dist < best.Dist || (h.Dist == best.Dist && row < cur) {
				best = h
			}
		default:
			if row > cur {
				best = h
			}
		}
	}
	return best.Comparable.(Centroid).Row
}
