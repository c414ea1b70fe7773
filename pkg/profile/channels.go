package profile

import "strings"

// Names of the generated channel feature sets.
const (
	// ChannelSetNone holds the shape, location and neighbour features only
	ChannelSetNone = "None"
	// ChannelSetAll holds every feature
	ChannelSetAll = "All"
)

// Substrings of the features that belong to no channel. Correlation features
// span two channels and are left out of every combination.
var (
	shapeMarkers       = []string{"AreaShape", "Location", "Neighbors"}
	correlationMarkers = []string{"Correlation"}
)

// FeatureChannel returns the imaging channel of a CellProfiler feature named
// Compartment_Type_Measurement_Channel[_...]. Channels written with an
// underscore, such as CL_488_1 or CL_561, are kept whole. scDINO features and
// names with fewer than four parts have no channel.
func FeatureChannel(name string) (string, bool) {
	parts := strings.Split(name, "_")
	if len(parts) < 4 || strings.Contains(name, "scDINO") {
		return "", false
	}
	ch := parts[3]
	if strings.Contains(ch, "CL") && len(parts) > 4 {
		ch += "_" + parts[4]
		if strings.Contains(ch, "CL_488") && len(parts) > 5 {
			ch += "_" + parts[5]
		}
	}
	return ch, true
}

// ChannelFeatureSets builds one feature set per combination of imaging
// channels found in features, smallest combinations first. Each combination
// also keeps the channel-free shape features. The combination of every
// channel is named ChannelSetAll and keeps every feature; ChannelSetNone
// comes last and keeps the shape features only.
func ChannelFeatureSets(features []string) []FeatureSet {
	var (
		channels []string
		none     = []string{}
		byCh     = make(map[string][]string)
	)
	for _, f := range features {
		if containsAny(f, shapeMarkers) {
			none = append(none, f)
			continue
		}
		if containsAny(f, correlationMarkers) {
			continue
		}
		ch, ok := FeatureChannel(f)
		if !ok {
			continue
		}
		if _, seen := byCh[ch]; !seen {
			channels = append(channels, ch)
		}
		byCh[ch] = append(byCh[ch], f)
	}

	var sets []FeatureSet
	for _, combo := range combinations(len(channels)) {
		if len(combo) == len(channels) {
			sets = append(sets, FeatureSet{Name: ChannelSetAll})
			continue
		}
		names := make([]string, len(combo))
		var cols []string
		for i, c := range combo {
			names[i] = channels[c]
			cols = append(cols, byCh[channels[c]]...)
		}
		cols = append(cols, none...)
		sets = append(sets, FeatureSet{Name: strings.Join(names, "_"), Columns: cols})
	}
	return append(sets, FeatureSet{Name: ChannelSetNone, Columns: none})
}

// combinations lists every non-empty subset of 0..n-1 by size, each subset in
// lexicographic order.
func combinations(n int) [][]int {
	var out [][]int
	for k := 1; k <= n; k++ {
		combo := make([]int, k)
		for i := range combo {
			combo[i] = i
		}
		for {
			out = append(out, append([]int(nil), combo...))
			i := k - 1
			for i >= 0 && combo[i] == n-k+i {
				i--
			}
			if i < 0 {
				break
			}
			combo[i]++
			for j := i + 1; j < k; j++ {
				combo[j] = combo[j-1] + 1
			}
		}
	}
	return out
}
