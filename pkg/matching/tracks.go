package matching

import (
	"fmt"
	"math"

	"timelapsemap/pkg/profile"
)

// UniqueTrackID joins well, field of view and per-FOV track number into an id
// that is unique across the plate.
func UniqueTrackID(well, fov, track string) string {
	return well + "_" + fov + "_" + track
}

// WellFOV joins well and field of view into the matching group key.
func WellFOV(well, fov string) string {
	return well + "_" + fov
}

func wellFOVs(t *profile.Table, p Params) ([]string, error) {
	wells, err := t.Strings(p.WellColumn)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, p.WellColumn)
	}
	fovs, err := t.Strings(p.FOVColumn)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, p.FOVColumn)
	}
	out := make([]string, len(wells))
	for i := range wells {
		out[i] = WellFOV(wells[i], fovs[i])
	}
	return out, nil
}

// trackIDs returns the unique track id of every row, taken from the id column
// when present and derived from well, FOV and track otherwise.
func trackIDs(t *profile.Table, p Params) ([]string, error) {
	if t.Has(p.TrackIDColumn) {
		return t.Strings(p.TrackIDColumn)
	}
	keys, err := wellFOVs(t, p)
	if err != nil {
		return nil, err
	}
	tracks, err := t.Strings(p.TrackColumn)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, p.TrackColumn)
	}
	out := make([]string, len(keys))
	for i := range keys {
		out[i] = keys[i] + "_" + tracks[i]
	}
	return out, nil
}

// AddTrackIDs appends the unique track id and well/FOV key columns to t.
func AddTrackIDs(t *profile.Table, p Params) error {
	keys, err := wellFOVs(t, p)
	if err != nil {
		return err
	}
	ids, err := trackIDs(t, p)
	if err != nil {
		return err
	}
	if err := t.AddString(p.WellFOVColumn, keys); err != nil {
		return err
	}
	return t.AddString(p.TrackIDColumn, ids)
}

// LastObserved keeps, for every track, the row with the latest time. Equal
// times resolve to the later row. Output rows keep input order.
func LastObserved(t *profile.Table, p Params) (*profile.Table, error) {
	ids, err := trackIDs(t, p)
	if err != nil {
		return nil, err
	}
	times, err := t.Numeric(p.TimeColumn)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, p.TimeColumn)
	}
	last := make(map[string]int, len(ids))
	for r, id := range ids {
		prev, ok := last[id]
		if !ok || math.IsNaN(times[prev]) || times[r] >= times[prev] {
			last[id] = r
		}
	}
	keep := make([]bool, len(ids))
	for _, r := range last {
		keep[r] = true
	}
	return t.Filter(func(r int) bool { return keep[r] }), nil
}

// TrackLengths adds a column holding, for every row, the number of rows that
// share its track id.
func TrackLengths(t *profile.Table, p Params) error {
	ids, err := trackIDs(t, p)
	if err != nil {
		return err
	}
	counts := make(map[string]int64, len(ids))
	for _, id := range ids {
		counts[id]++
	}
	vals := make([]int64, len(ids))
	for i, id := range ids {
		vals[i] = counts[id]
	}
	return t.AddInt(p.CountColumn, vals)
}
