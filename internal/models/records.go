package models

import (
	"time"
)

// MatchSummary reports what the track-to-endpoint matcher did with one input
type MatchSummary struct {
	// EndpointRows is the number of endpoint rows received
	EndpointRows int

	// Excluded counts endpoint rows dropped for a missing centroid
	Excluded int

	// Matched is the number of endpoint rows that received a track id
	Matched int

	// Ambiguous counts matched rows that had more than one track within the radius
	Ambiguous int

	// Groups is the number of well/FOV groups searched
	Groups int
}

// CropJob describes one cell to be cut out of its field-of-view images
type CropJob struct {
	// Well is used as the first level of the output directory
	Well string

	// ImageNumber and CellNumber identify the cell in the output path
	ImageNumber int64
	CellNumber  int64

	// X and Y are the nucleus centroid in pixels
	X, Y float64

	// Channels maps a channel name to the TIFF file holding that channel
	Channels map[string]string
}

// CropSummary counts the outcome of a crop batch
type CropSummary struct {
	// Written is the number of cells with every channel crop written
	Written int

	// Skipped counts cells whose window fell outside the image
	Skipped int

	// Failed counts cells whose images could not be read or written
	Failed int
}

// ModelScore is the fit quality of one regression model on one data split
type ModelScore struct {
	Split    string
	Shuffled bool
	Alpha    float64

	MAE float64
	MSE float64
	R2  float64
	// EVS is the explained variance score
	EVS float64
}

// CVScore is the held-out R² of one ridge penalty on one cross-validation fold
type CVScore struct {
	Alpha float64
	Fold  int
	R2    float64
}

// StageRun is a ledger row describing one execution of a pipeline stage
type StageRun struct {
	ID         int64      `db:"id"`
	RunID      string     `db:"run_id"`
	Stage      string     `db:"stage"`
	Inputs     string     `db:"inputs"`
	Outputs    string     `db:"outputs"`
	Rows       int64      `db:"rows"`
	Seed       int64      `db:"seed"`
	StartedAt  time.Time  `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`
	Status     string     `db:"status"`
	Error      string     `db:"error"`
}
