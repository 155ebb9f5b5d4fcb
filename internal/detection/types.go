// Package detection holds the data model shared by every stage of the ID maker:
// tile metadata, georeference, raw detector output and located detections.
package detection

import (
	"github.com/google/uuid"
)

// TileMetadata is one row of the tile georeference table produced by the tiler.
type TileMetadata struct {
	TileName       string
	PixelOriginX   int
	PixelOriginY   int
	EastingOrigin  float64
	NorthingOrigin float64
}

// Georeference is the ground size of one ortho pixel.
//
// NorthUp marks a raster whose row 0 is its northern edge: world y then
// decreases as the pixel row grows.
type Georeference struct {
	PixelWidth  float64
	PixelHeight float64
	NorthUp     bool
}

// Valid reports whether both pixel dimensions are strictly positive.
func (g Georeference) Valid() bool {
	return g.PixelWidth > 0 && g.PixelHeight > 0
}

// RawDetection is one line of a detector prediction file.
// RelX and RelY are the box center relative to the tile width and height.
type RawDetection struct {
	TileRef    string
	Line       int
	ClassLabel string
	RelX       float64
	RelY       float64
	RelWidth   float64
	RelHeight  float64
	Confidence float64
}

// Located is a raw detection placed in ortho pixel space and world space.
type Located struct {
	RawDetection

	ProvisionalID uuid.UUID
	AbsX          float64
	AbsY          float64
	GeoX          float64
	GeoY          float64
	ModelClass    string
}

// ByTileLine orders located detections by tile name, then by their line in the
// prediction file.
type ByTileLine []Located

func (s ByTileLine) Len() int      { return len(s) }
func (s ByTileLine) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s ByTileLine) Less(i, j int) bool {
	if s[i].TileRef != s[j].TileRef {
		return s[i].TileRef < s[j].TileRef
	}
	return s[i].Line < s[j].Line
}
