// Package locate places one tile's detections in ortho pixel and world
// coordinates and gives each a provisional identity.
package locate

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tendant/ortho-idmaker/internal/detection"
)

// Params carries everything needed to locate the detections of one tile.
type Params struct {
	Tile       detection.TileMetadata
	Pixel      detection.Georeference
	TileWidth  int
	TileHeight int
	ModelClass string
	Policy     OverlapPolicy

	// NewID generates provisional IDs; uuid.New when nil.
	NewID func() uuid.UUID
}

// Locate converts raw relative detections into located detections. Detections
// rejected by the policy are dropped; the second return value counts them.
// Absolute pixels already include the tile offset, so the tile's world origin
// must be the ortho's own upper-left corner.
func Locate(raws []detection.RawDetection, p Params) ([]detection.Located, int, error) {
	if p.TileWidth <= 0 || p.TileHeight <= 0 {
		return nil, 0, errors.Wrapf(detection.ErrInvalidArgument, "tile size %dx%d", p.TileWidth, p.TileHeight)
	}
	if !p.Pixel.Valid() {
		return nil, 0, errors.Wrapf(detection.ErrInvalidArgument, "pixel size %gx%g", p.Pixel.PixelWidth, p.Pixel.PixelHeight)
	}
	policy := p.Policy
	if policy == nil {
		policy = KeepAll{}
	}
	newID := p.NewID
	if newID == nil {
		newID = uuid.New
	}

	out := make([]detection.Located, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		if !policy.Keep(raw) {
			dropped++
			continue
		}
		absX := raw.RelX*float64(p.TileWidth) + float64(p.Tile.PixelOriginX)
		absY := raw.RelY*float64(p.TileHeight) + float64(p.Tile.PixelOriginY)
		geoY := absY*p.Pixel.PixelHeight + p.Tile.NorthingOrigin
		if p.Pixel.NorthUp {
			geoY = p.Tile.NorthingOrigin - absY*p.Pixel.PixelHeight
		}
		out = append(out, detection.Located{
			RawDetection:  raw,
			ProvisionalID: newID(),
			AbsX:          absX,
			AbsY:          absY,
			GeoX:          absX*p.Pixel.PixelWidth + p.Tile.EastingOrigin,
			GeoY:          geoY,
			ModelClass:    p.ModelClass,
		})
	}
	return out, dropped, nil
}

// TileNameFor maps a prediction file to the tile image it was made from: the
// file stem plus the tile image extension.
func TileNameFor(path, ext string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return stem + ext
}
