package tiler

import (
	"context"
	"encoding/csv"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/tendant/ortho-idmaker/internal/detection"
	"github.com/tendant/ortho-idmaker/internal/georef"
)

// TableName is the file name of the georeference table written next to the tiles.
const TableName = "GeorefTable.csv"

var tableHeader = []string{"tileName", "pixelX", "pixelY", "easting", "northing", "min", "max", "mean", "stdDev"}

// Config controls one tiling run.
type Config struct {
	OrthoPath         string
	OutputDir         string
	TileWidth         int
	TileHeight        int
	Overlap           int
	ContrastThreshold float64
	JPEGQuality       int

	// ReadBounds reads the ortho georeference; georef.ReadBounds when nil.
	ReadBounds func(string) (georef.Bounds, error)
}

// Stats summarizes the pixel values of a tile over all bands.
type Stats struct {
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// Report is the outcome of a tiling run.
type Report struct {
	Windows     int
	Written     int
	LowContrast int
	TablePath   string
}

// Tiler writes tiles of one ortho.
type Tiler struct {
	cfg    Config
	logger *zap.SugaredLogger

	open   func(string) (image.Image, error)
	bounds func(string) (georef.Bounds, error)
}

// New validates cfg and returns a tiler.
func New(cfg Config, logger *zap.SugaredLogger) (*Tiler, error) {
	if cfg.OrthoPath == "" || cfg.OutputDir == "" {
		return nil, errors.Wrap(detection.ErrInvalidArgument, "ortho path and output dir are required")
	}
	if cfg.JPEGQuality == 0 {
		cfg.JPEGQuality = 95
	}
	if cfg.ReadBounds == nil {
		cfg.ReadBounds = georef.ReadBounds
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Tiler{
		cfg:    cfg,
		logger: logger,
		open:   func(p string) (image.Image, error) { return imaging.Open(p) },
		bounds: cfg.ReadBounds,
	}, nil
}

// Run cuts the ortho into tiles. Low-contrast tiles, where no band reaches the
// contrast threshold, are skipped and left out of the table.
func (t *Tiler) Run(ctx context.Context) (*Report, error) {
	b, err := t.bounds(t.cfg.OrthoPath)
	if err != nil {
		return nil, err
	}
	src, err := t.open(t.cfg.OrthoPath)
	if err != nil {
		return nil, errors.Wrapf(detection.ErrResourceUnavailable, "cannot decode ortho %s: %v", t.cfg.OrthoPath, err)
	}
	size := src.Bounds().Size()
	windows, err := Layout(size.X, size.Y, t.cfg.TileWidth, t.cfg.TileHeight, t.cfg.Overlap)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(t.cfg.OutputDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", t.cfg.OutputDir)
	}

	easting, northing := b.Origin()
	report := &Report{Windows: len(windows), TablePath: filepath.Join(t.cfg.OutputDir, TableName)}
	f, err := os.Create(report.TablePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", report.TablePath)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(tableHeader); err != nil {
		return nil, errors.Wrap(err, "failed to write table header")
	}

	for _, win := range windows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		origin := src.Bounds().Min
		rect := image.Rect(win.ColOff, win.RowOff, win.ColOff+win.Width, win.RowOff+win.Height).Add(origin)
		crop := imaging.Crop(src, rect)

		low, stats := analyzeContrast(crop, t.cfg.ContrastThreshold)
		if low {
			report.LowContrast++
			t.logger.Debugw("skipping low contrast tile", "col", win.ColOff, "row", win.RowOff)
			continue
		}

		name := TileName(t.cfg.OrthoPath, win.XIndex, win.YIndex)
		// edge tiles are padded so relative positions always scale by the tile size
		tile := imaging.Paste(imaging.New(t.cfg.TileWidth, t.cfg.TileHeight, color.Black), crop, image.Pt(0, 0))
		if err := imaging.Save(tile, filepath.Join(t.cfg.OutputDir, name), imaging.JPEGQuality(t.cfg.JPEGQuality)); err != nil {
			return nil, errors.Wrapf(err, "failed to save tile %s", name)
		}

		if err := w.Write([]string{
			name,
			strconv.Itoa(win.ColOff),
			strconv.Itoa(win.RowOff),
			formatFloat(easting),
			formatFloat(northing),
			formatFloat(stats.Min),
			formatFloat(stats.Max),
			formatFloat(stats.Mean),
			formatFloat(stats.StdDev),
		}); err != nil {
			return nil, errors.Wrapf(err, "failed to write table row for %s", name)
		}
		report.Written++
		t.logger.Debugw("wrote tile", "tile", name)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.Wrap(err, "failed to flush table")
	}
	return report, nil
}

// analyzeContrast reports whether every color band has a standard deviation
// below threshold, along with statistics over all bands.
func analyzeContrast(img *image.NRGBA, threshold float64) (bool, Stats) {
	n := len(img.Pix) / 4
	if n == 0 {
		return true, Stats{}
	}
	bands := [3][]float64{make([]float64, 0, n), make([]float64, 0, n), make([]float64, 0, n)}
	all := make([]float64, 0, 3*n)
	for i := 0; i+3 < len(img.Pix); i += 4 {
		for b := 0; b < 3; b++ {
			v := float64(img.Pix[i+b])
			bands[b] = append(bands[b], v)
			all = append(all, v)
		}
	}

	low := true
	for _, band := range bands {
		if _, sd := stat.PopMeanStdDev(band, nil); sd >= threshold {
			low = false
		}
	}

	s := Stats{Min: all[0], Max: all[0]}
	for _, v := range all {
		s.Min = min(s.Min, v)
		s.Max = max(s.Max, v)
	}
	s.Mean, s.StdDev = stat.PopMeanStdDev(all, nil)
	return low, s
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
