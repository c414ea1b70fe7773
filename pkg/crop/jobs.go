package crop

import (
	"fmt"
	"math"
	"path/filepath"

	"timelapsemap/internal/models"
	"timelapsemap/pkg/profile"
)

// JobColumns names the profile columns describing each cell.
type JobColumns struct {
	Well        string
	ImageNumber string
	CellNumber  string
	X, Y        string
	// Channels maps a channel name to the column holding its file name
	Channels map[string]string
}

// DefaultJobColumns returns the CellProfiler column names of the four-channel
// time-lapse images.
func DefaultJobColumns() JobColumns {
	return JobColumns{
		Well:        "Metadata_Well",
		ImageNumber: "Metadata_ImageNumber",
		CellNumber:  "Metadata_Nuclei_Number_Object_Number",
		X:           "Metadata_Nuclei_Location_Center_X",
		Y:           "Metadata_Nuclei_Location_Center_Y",
		Channels: map[string]string{
			"DNA":   "Metadata_Image_FileName_DNA",
			"488_1": "Metadata_Image_FileName_488_1",
			"488_2": "Metadata_Image_FileName_488_2",
			"561":   "Metadata_Image_FileName_561",
		},
	}
}

// JobsFromTable builds one job per row of t, resolving image file names
// against imageDir. Rows without a centroid are skipped and counted.
func JobsFromTable(t *profile.Table, cols JobColumns, imageDir string) ([]models.CropJob, int, error) {
	wells, err := t.Strings(cols.Well)
	if err != nil {
		return nil, 0, err
	}
	images, err := t.Numeric(cols.ImageNumber)
	if err != nil {
		return nil, 0, err
	}
	cells, err := t.Numeric(cols.CellNumber)
	if err != nil {
		return nil, 0, err
	}
	xs, err := t.Numeric(cols.X)
	if err != nil {
		return nil, 0, err
	}
	ys, err := t.Numeric(cols.Y)
	if err != nil {
		return nil, 0, err
	}
	files := make(map[string][]string, len(cols.Channels))
	for channel, col := range cols.Channels {
		if files[channel], err = t.Strings(col); err != nil {
			return nil, 0, fmt.Errorf("channel %s: %w", channel, err)
		}
	}

	var jobs []models.CropJob
	missing := 0
	for r := 0; r < t.NumRows(); r++ {
		if math.IsNaN(xs[r]) || math.IsNaN(ys[r]) {
			missing++
			continue
		}
		job := models.CropJob{
			Well:        wells[r],
			ImageNumber: int64(images[r]),
			CellNumber:  int64(cells[r]),
			X:           xs[r],
			Y:           ys[r],
			Channels:    make(map[string]string, len(files)),
		}
		for channel, names := range files {
			job.Channels[channel] = filepath.Join(imageDir, names[r])
		}
		jobs = append(jobs, job)
	}
	return jobs, missing, nil
}
