package locate

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/tendant/ortho-idmaker/internal/detection"
)

// Overlap policy names accepted by ParsePolicy.
const (
	PolicyResolve    = "resolve"
	PolicyEdgeFilter = "edge_filter"
)

// OverlapPolicy decides which raw detections of a tile are located at all.
type OverlapPolicy interface {
	Keep(d detection.RawDetection) bool
	Name() string
}

// KeepAll keeps every detection; duplicates across tiles are left for the
// identity resolver.
type KeepAll struct{}

func (KeepAll) Keep(detection.RawDetection) bool { return true }
func (KeepAll) Name() string                     { return PolicyResolve }

// EdgeFilter drops detections closer to a tile border than half the proximity
// radius, so an object in the overlap band is kept by at most one tile. Objects
// that only ever fall in a border band are lost.
type EdgeFilter struct {
	Radius     float64 // pixels
	TileWidth  int
	TileHeight int
}

// NewEdgeFilter validates the band against the tile size.
func NewEdgeFilter(radius float64, tileWidth, tileHeight int) (EdgeFilter, error) {
	if tileWidth <= 0 || tileHeight <= 0 {
		return EdgeFilter{}, errors.Wrapf(detection.ErrInvalidArgument, "tile size %dx%d", tileWidth, tileHeight)
	}
	if !(radius >= 0) || radius >= float64(min(tileWidth, tileHeight)) {
		return EdgeFilter{}, errors.Wrapf(detection.ErrInvalidArgument, "edge radius %v for tile %dx%d", radius, tileWidth, tileHeight)
	}
	return EdgeFilter{Radius: radius, TileWidth: tileWidth, TileHeight: tileHeight}, nil
}

// Limits returns the inclusive relative bounds (loX, hiX, loY, hiY) a detection
// must fall within to be kept.
func (f EdgeFilter) Limits() (float64, float64, float64, float64) {
	lx := (f.Radius / 2) / float64(f.TileWidth)
	ly := (f.Radius / 2) / float64(f.TileHeight)
	return lx, 1 - lx, ly, 1 - ly
}

func (f EdgeFilter) Keep(d detection.RawDetection) bool {
	lx, hx, ly, hy := f.Limits()
	return d.RelX >= lx && d.RelX <= hx && d.RelY >= ly && d.RelY <= hy
}

func (f EdgeFilter) Name() string { return PolicyEdgeFilter }

func (f EdgeFilter) String() string {
	return fmt.Sprintf("edge_filter(radius=%gpx, tile=%dx%d)", f.Radius, f.TileWidth, f.TileHeight)
}

// ParsePolicy builds the policy named by a configuration value.
func ParsePolicy(name string, radius float64, tileWidth, tileHeight int) (OverlapPolicy, error) {
	switch name {
	case "", PolicyResolve, "keep_all":
		return KeepAll{}, nil
	case PolicyEdgeFilter:
		return NewEdgeFilter(radius, tileWidth, tileHeight)
	default:
		return nil, errors.Wrapf(detection.ErrInvalidArgument, "unknown overlap policy %q", name)
	}
}
