package tiler

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/tendant/ortho-idmaker/internal/detection"
	"github.com/tendant/ortho-idmaker/internal/georef"
	"github.com/tendant/ortho-idmaker/internal/identity"
	"github.com/tendant/ortho-idmaker/internal/locate"
)

func TestLayout(t *testing.T) {
	windows, err := Layout(1000, 500, 512, 256, 20)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, windows, test.ShouldHaveLength, 9)

	// column-major
	test.That(t, windows[0], test.ShouldResemble, Window{ColOff: 0, RowOff: 0, Width: 512, Height: 256})
	test.That(t, windows[1], test.ShouldResemble, Window{ColOff: 0, RowOff: 236, Width: 512, Height: 256, YIndex: 1})
	test.That(t, windows[2], test.ShouldResemble, Window{ColOff: 0, RowOff: 472, Width: 512, Height: 28, YIndex: 2})
	test.That(t, windows[3], test.ShouldResemble, Window{ColOff: 492, RowOff: 0, Width: 508, Height: 256, XIndex: 1})
	test.That(t, windows[8], test.ShouldResemble, Window{ColOff: 984, RowOff: 472, Width: 16, Height: 28, XIndex: 2, YIndex: 2})

	// the first row and column keep full size even past the raster edge
	windows, err = Layout(100, 50, 512, 256, 20)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, windows, test.ShouldResemble, []Window{{Width: 512, Height: 256}})
}

func TestLayoutInvalid(t *testing.T) {
	for _, tc := range []struct{ cols, rows, w, h, overlap int }{
		{0, 10, 512, 256, 20},
		{10, 10, 20, 256, 20},
		{10, 10, 512, 256, -1},
	} {
		_, err := Layout(tc.cols, tc.rows, tc.w, tc.h, tc.overlap)
		test.That(t, errors.Is(err, detection.ErrInvalidArgument), test.ShouldBeTrue)
	}
}

func TestTileName(t *testing.T) {
	test.That(t, TileName("/data/croz_2020-11-29.tif", 3, 14), test.ShouldEqual, "croz_2020-11-29_3_14.jpg")
}

// writeOrtho writes a 1000x500 image whose left checkerCols columns are a
// checkerboard and the rest flat gray.
func writeOrtho(t *testing.T, checkerCols int) string {
	t.Helper()
	img := imaging.New(1000, 500, color.NRGBA{R: 120, G: 120, B: 120, A: 255})
	for y := 0; y < 500; y++ {
		for x := 0; x < checkerCols; x++ {
			if (x+y)%2 == 0 {
				img.Set(x, y, color.NRGBA{A: 255})
			} else {
				img.Set(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
			}
		}
	}
	path := filepath.Join(t.TempDir(), "croz.png")
	test.That(t, imaging.Save(img, path), test.ShouldBeNil)
	return path
}

func TestTilerRun(t *testing.T) {
	out := filepath.Join(t.TempDir(), "tiles")
	tl, err := New(Config{
		OrthoPath:         writeOrtho(t, 400),
		OutputDir:         out,
		TileWidth:         512,
		TileHeight:        256,
		Overlap:           20,
		ContrastThreshold: 5,
	}, nil)
	test.That(t, err, test.ShouldBeNil)
	tl.bounds = func(string) (georef.Bounds, error) {
		return georef.Bounds{MinX: 500000, MaxX: 500050, MinY: 1299975, MaxY: 1300000, Cols: 1000, Rows: 500}, nil
	}

	report, err := tl.Run(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Windows, test.ShouldEqual, 9)
	test.That(t, report.Written, test.ShouldEqual, 3)
	test.That(t, report.LowContrast, test.ShouldEqual, 6)

	tiles, err := georef.LoadTileTableFile(report.TablePath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tiles.Len(), test.ShouldEqual, 3)

	md, err := tiles.Origin("croz_0_1.jpg")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, md.PixelOriginX, test.ShouldEqual, 0)
	test.That(t, md.PixelOriginY, test.ShouldEqual, 236)
	// every row carries the ortho's upper-left corner
	test.That(t, md.EastingOrigin, test.ShouldEqual, 500000.0)
	test.That(t, md.NorthingOrigin, test.ShouldEqual, 1300000.0)

	_, err = tiles.Origin("croz_1_0.jpg")
	test.That(t, errors.Is(err, detection.ErrNotFound), test.ShouldBeTrue)

	// the bottom tile is padded to full size
	tile, err := imaging.Open(filepath.Join(out, "croz_0_2.jpg"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tile.Bounds().Size(), test.ShouldResemble, image.Pt(512, 256))

	_, err = os.Stat(filepath.Join(out, "croz_1_0.jpg"))
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
}

func TestTilerTableLocatesAcrossTiles(t *testing.T) {
	bounds := georef.Bounds{MinX: 500000, MaxX: 500050, MinY: 1299975, MaxY: 1300000, Cols: 1000, Rows: 500}
	tl, err := New(Config{
		OrthoPath:         writeOrtho(t, 1000),
		OutputDir:         filepath.Join(t.TempDir(), "tiles"),
		TileWidth:         512,
		TileHeight:        256,
		Overlap:           20,
		ContrastThreshold: 5,
		ReadBounds:        func(string) (georef.Bounds, error) { return bounds, nil },
	}, nil)
	test.That(t, err, test.ShouldBeNil)
	report, err := tl.Run(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Written, test.ShouldEqual, 9)

	tiles, err := georef.LoadTileTableFile(report.TablePath)
	test.That(t, err, test.ShouldBeNil)
	pixel, err := georef.PixelSize(bounds, false)
	test.That(t, err, test.ShouldBeNil)

	// ortho pixel (500, 100) lies in the overlap of croz_0_0 and croz_1_0
	var located []detection.Located
	for _, tc := range []struct {
		tile string
		relX float64
	}{
		{"croz_0_0.jpg", 500.0 / 512},
		{"croz_1_0.jpg", 8.0 / 512},
	} {
		md, err := tiles.Origin(tc.tile)
		test.That(t, err, test.ShouldBeNil)
		out, _, err := locate.Locate([]detection.RawDetection{{TileRef: tc.tile, RelX: tc.relX, RelY: 100.0 / 256, Confidence: 0.9}},
			locate.Params{Tile: md, Pixel: pixel, TileWidth: 512, TileHeight: 256})
		test.That(t, err, test.ShouldBeNil)
		located = append(located, out...)
	}

	for _, d := range located {
		test.That(t, d.GeoX, test.ShouldAlmostEqual, 500025, 1e-6)
		test.That(t, d.GeoY, test.ShouldAlmostEqual, 1299997.5, 1e-6)
		test.That(t, d.GeoX >= bounds.MinX && d.GeoX <= bounds.MaxX, test.ShouldBeTrue)
		test.That(t, d.GeoY >= bounds.MinY && d.GeoY <= bounds.MaxY, test.ShouldBeTrue)
	}

	// 20 pixels at 0.05 ground units per pixel
	res, err := identity.Resolve(located, 20*pixel.PixelWidth)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Individuals(), test.ShouldEqual, 1)
}

func TestTilerRunMissingOrtho(t *testing.T) {
	tl, err := New(Config{OrthoPath: filepath.Join(t.TempDir(), "nope.tif"), OutputDir: t.TempDir(), TileWidth: 512, TileHeight: 256}, nil)
	test.That(t, err, test.ShouldBeNil)
	_, err = tl.Run(context.Background())
	test.That(t, errors.Is(err, detection.ErrResourceUnavailable), test.ShouldBeTrue)

	_, err = New(Config{}, nil)
	test.That(t, errors.Is(err, detection.ErrInvalidArgument), test.ShouldBeTrue)
}

func TestAnalyzeContrast(t *testing.T) {
	flat := imaging.New(8, 8, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	low, s := analyzeContrast(flat, 1)
	test.That(t, low, test.ShouldBeTrue)
	test.That(t, s.Min, test.ShouldEqual, 10.0)
	test.That(t, s.Max, test.ShouldEqual, 30.0)
	test.That(t, s.Mean, test.ShouldAlmostEqual, 20.0, 1e-9)

	// one busy band is enough
	busy := imaging.New(2, 1, color.NRGBA{A: 255})
	busy.Set(1, 0, color.NRGBA{R: 200, A: 255})
	low, _ = analyzeContrast(busy, 5)
	test.That(t, low, test.ShouldBeFalse)
}
