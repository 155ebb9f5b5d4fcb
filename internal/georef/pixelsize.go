// Package georef resolves where a tile sits in the ortho: the ground size of an
// ortho pixel and the pixel and world origin of each tile.
package georef

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/tendant/ortho-idmaker/internal/detection"
)

// PixelSize derives the ground size of one pixel from the ortho bounds.
//
// The height is divided by the column count unless fromRows is set. That matches
// the counts produced by earlier runs on square-pixel orthos; for non-square
// pixels set fromRows.
func PixelSize(b Bounds, fromRows bool) (detection.Georeference, error) {
	if b.Cols <= 0 || b.Rows <= 0 {
		return detection.Georeference{}, errors.Wrapf(detection.ErrInvalidArgument, "raster size %dx%d", b.Cols, b.Rows)
	}
	divH := float64(b.Cols)
	if fromRows {
		divH = float64(b.Rows)
	}
	g := detection.Georeference{
		PixelWidth:  (b.MaxX - b.MinX) / float64(b.Cols),
		PixelHeight: (b.MaxY - b.MinY) / divH,
		NorthUp:     true,
	}
	if !g.Valid() {
		return detection.Georeference{}, errors.Wrapf(detection.ErrInvalidArgument,
			"non-positive pixel size %gx%g", g.PixelWidth, g.PixelHeight)
	}
	return g, nil
}

// Cache memoizes pixel sizes per ortho path.
type Cache struct {
	FromRows bool

	mu      sync.Mutex
	entries map[string]detection.Georeference
	read    func(string) (Bounds, error)
}

// NewCache creates an empty pixel size cache.
func NewCache(fromRows bool) *Cache {
	return &Cache{
		FromRows: fromRows,
		entries:  make(map[string]detection.Georeference),
		read:     ReadBounds,
	}
}

// PixelSize returns the pixel size of the ortho at path, reading it on first use.
func (c *Cache) PixelSize(path string) (detection.Georeference, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if g, ok := c.entries[path]; ok {
		return g, nil
	}
	b, err := c.read(path)
	if err != nil {
		return detection.Georeference{}, err
	}
	g, err := PixelSize(b, c.FromRows)
	if err != nil {
		return detection.Georeference{}, errors.Wrap(err, path)
	}
	c.entries[path] = g
	return g, nil
}
