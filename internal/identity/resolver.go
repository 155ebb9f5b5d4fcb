// Package identity merges detections of the same physical object, seen in
// several overlapping tiles, under one canonical ID.
//
// Two detections are duplicates when their world positions are within the
// proximity radius. Duplicate chains are closed transitively: if A~B and B~C,
// A, B and C share an ID even when A and C are farther apart than the radius.
// The canonical ID of a group is the provisional ID of its lowest-ordinal
// member, where the ordinal is the detection's position in the input.
package identity

import (
	"math"

	flatbush "github.com/bmharper/flatbush-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tendant/ortho-idmaker/internal/detection"
)

// Resolution is the outcome of one resolve call, aligned with its input.
type Resolution struct {
	Provisional []uuid.UUID
	Canonical   []uuid.UUID
}

// Len returns the number of resolved detections.
func (r *Resolution) Len() int { return len(r.Canonical) }

// Map returns the provisional to canonical ID mapping.
func (r *Resolution) Map() map[uuid.UUID]uuid.UUID {
	m := make(map[uuid.UUID]uuid.UUID, len(r.Provisional))
	for i, p := range r.Provisional {
		m[p] = r.Canonical[i]
	}
	return m
}

// Individuals returns the number of distinct canonical IDs.
func (r *Resolution) Individuals() int {
	seen := make(map[uuid.UUID]struct{}, len(r.Canonical))
	for _, c := range r.Canonical {
		seen[c] = struct{}{}
	}
	return len(seen)
}

// Resolve assigns a canonical ID to every located detection. radius is in world
// (ground) units. An empty input yields an empty resolution.
func Resolve(located []detection.Located, radius float64) (*Resolution, error) {
	if math.IsNaN(radius) || radius < 0 || math.IsInf(radius, 0) {
		return nil, errors.Wrapf(detection.ErrInvalidArgument, "proximity radius %v", radius)
	}
	n := len(located)
	res := &Resolution{
		Provisional: make([]uuid.UUID, n),
		Canonical:   make([]uuid.UUID, n),
	}
	if n == 0 {
		return res, nil
	}

	byID := make(map[uuid.UUID]int, n)
	sets := newForest(n)
	for i, d := range located {
		if d.ProvisionalID == uuid.Nil {
			return nil, errors.Wrapf(detection.ErrInvalidCoordinates, "detection %d (%s line %d) has no provisional id", i, d.TileRef, d.Line)
		}
		if !finite(d.GeoX) || !finite(d.GeoY) {
			return nil, errors.Wrapf(detection.ErrInvalidCoordinates, "detection %d (%s line %d) at (%v, %v)", i, d.TileRef, d.Line, d.GeoX, d.GeoY)
		}
		res.Provisional[i] = d.ProvisionalID
		// a repeated provisional ID is one identity already
		if j, ok := byID[d.ProvisionalID]; ok {
			sets.union(i, j)
		} else {
			byID[d.ProvisionalID] = i
		}
	}

	index := flatbush.NewFlatbush[float64]()
	index.Reserve(n)
	for _, d := range located {
		index.Add(d.GeoX, d.GeoY, d.GeoX, d.GeoY)
	}
	index.Finish()

	r2 := radius * radius
	var nearby []int
	for i, d := range located {
		nearby = index.SearchFast(d.GeoX-radius, d.GeoY-radius, d.GeoX+radius, d.GeoY+radius, nearby[:0])
		for _, j := range nearby {
			if j == i {
				continue
			}
			dx := located[j].GeoX - d.GeoX
			dy := located[j].GeoY - d.GeoY
			if dx*dx+dy*dy <= r2 {
				sets.union(i, j)
			}
		}
	}

	for i := range located {
		res.Canonical[i] = located[sets.find(i)].ProvisionalID
	}
	return res, nil
}

// Flatten returns copies of the detections with each provisional ID replaced by
// its canonical ID.
func Flatten(located []detection.Located, res *Resolution) ([]detection.Located, error) {
	if res == nil || res.Len() != len(located) {
		return nil, errors.Wrap(detection.ErrInvalidArgument, "resolution does not match detections")
	}
	out := make([]detection.Located, len(located))
	copy(out, located)
	for i := range out {
		out[i].ProvisionalID = res.Canonical[i]
	}
	return out, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
