// Package crop cuts fixed-size single-cell windows out of field-of-view
// images, one TIFF per channel, for the image-based featurizer.
package crop

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/image/tiff"
	"golang.org/x/sync/errgroup"

	"timelapsemap/internal/models"
)

// ErrEdgeCell is returned for a cell whose window does not fit in the image.
var ErrEdgeCell = errors.New("crop: window extends beyond image")

// Params configures a Cropper.
type Params struct {
	// Radius is half the side of the square window
	Radius int
	// Workers bounds concurrent cells; zero uses GOMAXPROCS
	Workers   int
	OutputDir string
	// ImageCache is the number of decoded images kept in memory
	ImageCache int
}

// DefaultParams returns the window used by the featurizer.
func DefaultParams() Params {
	return Params{Radius: 50, ImageCache: 64}
}

// Cropper writes single-cell crops.
type Cropper struct {
	params Params
	images *lru.Cache[string, image.Image]
	logger *zap.Logger
}

// NewCropper validates params. A nil logger disables logging.
func NewCropper(params Params, logger *zap.Logger) (*Cropper, error) {
	if params.Radius <= 0 {
		return nil, fmt.Errorf("crop: radius must be positive, got %d", params.Radius)
	}
	if params.OutputDir == "" {
		return nil, fmt.Errorf("crop: output directory is required")
	}
	if params.Workers <= 0 {
		params.Workers = runtime.GOMAXPROCS(0)
	}
	if params.ImageCache <= 0 {
		params.ImageCache = 1
	}
	images, err := lru.New[string, image.Image](params.ImageCache)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cropper{params: params, images: images, logger: logger}, nil
}

// Run crops every job. Edge cells are skipped and a cell whose images cannot
// be read or written is counted as failed; neither stops the batch. Only
// cancellation of ctx is returned as an error.
func (c *Cropper) Run(ctx context.Context, jobs []models.CropJob) (models.CropSummary, error) {
	var written, skipped, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.params.Workers)
	for _, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			err := c.cropCell(job)
			switch {
			case err == nil:
				written.Add(1)
			case errors.Is(err, ErrEdgeCell):
				skipped.Add(1)
				c.logger.Debug("Skipping edge cell",
					zap.String("well", job.Well),
					zap.Int64("image_number", job.ImageNumber),
					zap.Int64("cell_number", job.CellNumber))
			default:
				failed.Add(1)
				c.logger.Warn("Failed to crop cell",
					zap.String("well", job.Well),
					zap.Int64("image_number", job.ImageNumber),
					zap.Int64("cell_number", job.CellNumber),
					zap.Error(err))
			}
			return nil
		})
	}
	err := g.Wait()
	summary := models.CropSummary{
		Written: int(written.Load()),
		Skipped: int(skipped.Load()),
		Failed:  int(failed.Load()),
	}
	if err == nil {
		err = ctx.Err()
	}
	c.logger.Info("Cropped cells",
		zap.Int("written", summary.Written),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed))
	return summary, err
}

// CellDir is the directory holding the crops of one cell.
func (c *Cropper) CellDir(job models.CropJob) string {
	return filepath.Join(c.params.OutputDir, job.Well,
		fmt.Sprintf("image_number_%d_cell_number_%d", job.ImageNumber, job.CellNumber))
}

func (c *Cropper) cropCell(job models.CropJob) error {
	cx, cy := int(job.X), int(job.Y)
	r := c.params.Radius
	window := image.Rect(cx-r, cy-r, cx+r, cy+r)

	crops := make(map[string]*image.Gray16, len(job.Channels))
	for channel, path := range job.Channels {
		img, err := c.load(path)
		if err != nil {
			return fmt.Errorf("%s: %w", channel, err)
		}
		region, err := ExtractRegion(img, window)
		if err != nil {
			return err
		}
		crops[channel] = region
	}

	dir := c.CellDir(job)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for channel, img := range crops {
		if err := SaveCrop(img, filepath.Join(dir, channel+"_crop.tiff")); err != nil {
			return fmt.Errorf("%s: %w", channel, err)
		}
	}
	return nil
}

func (c *Cropper) load(path string) (image.Image, error) {
	if img, ok := c.images.Get(path); ok {
		return img, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := tiff.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	c.images.Add(path, img)
	return img, nil
}

// ExtractRegion copies window out of img as 16-bit grayscale. The window must
// lie inside the image bounds.
func ExtractRegion(img image.Image, window image.Rectangle) (*image.Gray16, error) {
	if !window.In(img.Bounds()) {
		return nil, fmt.Errorf("%w: %v not in %v", ErrEdgeCell, window, img.Bounds())
	}
	out := image.NewGray16(image.Rect(0, 0, window.Dx(), window.Dy()))
	for y := 0; y < window.Dy(); y++ {
		for x := 0; x < window.Dx(); x++ {
			v := color.Gray16Model.Convert(img.At(window.Min.X+x, window.Min.Y+y)).(color.Gray16)
			out.SetGray16(x, y, v)
		}
	}
	return out, nil
}

// SaveCrop writes img as a deflate-compressed TIFF.
func SaveCrop(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
