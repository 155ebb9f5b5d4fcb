// Package tiler cuts an ortho into overlapping fixed-size tiles and writes the
// georeference table that maps every tile back into the ortho.
package tiler

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/tendant/ortho-idmaker/internal/detection"
)

// Window is one tile position in the ortho raster.
type Window struct {
	ColOff int
	RowOff int
	Width  int
	Height int
	XIndex int
	YIndex int
}

// Layout enumerates tile windows column by column. Windows advance by the tile
// size minus the overlap and are clamped at the raster edge, except in the
// first row and column which always keep the full tile size.
func Layout(cols, rows, tileW, tileH, overlap int) ([]Window, error) {
	if cols <= 0 || rows <= 0 {
		return nil, errors.Wrapf(detection.ErrInvalidArgument, "raster size %dx%d", cols, rows)
	}
	if overlap < 0 || tileW <= overlap || tileH <= overlap {
		return nil, errors.Wrapf(detection.ErrInvalidArgument, "tile %dx%d with overlap %d", tileW, tileH, overlap)
	}
	stepX, stepY := tileW-overlap, tileH-overlap

	var out []Window
	for col := 0; col < cols; col += stepX {
		for row := 0; row < rows; row += stepY {
			w := min(tileW, cols-col)
			h := min(tileH, rows-row)
			if col == 0 {
				w = tileW
			}
			if row == 0 {
				h = tileH
			}
			out = append(out, Window{
				ColOff: col,
				RowOff: row,
				Width:  w,
				Height: h,
				XIndex: col / stepX,
				YIndex: row / stepY,
			})
		}
	}
	return out, nil
}

// TileName is the image file name of the tile at (xi, yi) of an ortho.
func TileName(orthoPath string, xi, yi int) string {
	base := filepath.Base(orthoPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s_%d_%d.jpg", stem, xi, yi)
}
