package table

import (
	"io"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
)

// Individuals groups rows by canonical ID in order of first appearance. Each
// individual is placed at the mean world position of its detections.
func Individuals(rows []Row) *geojson.FeatureCollection {
	type acc struct {
		sumX, sumY float64
		n          int
		maxConf    float64
		class      string
		tiles      map[string]struct{}
	}
	order := make([]uuid.UUID, 0)
	groups := make(map[uuid.UUID]*acc)
	for _, r := range rows {
		g, ok := groups[r.CanonicalID]
		if !ok {
			g = &acc{class: r.ModelClass, maxConf: r.Confidence, tiles: map[string]struct{}{}}
			groups[r.CanonicalID] = g
			order = append(order, r.CanonicalID)
		}
		g.sumX += r.GeoX
		g.sumY += r.GeoY
		g.n++
		if r.Confidence > g.maxConf {
			g.maxConf = r.Confidence
		}
		g.tiles[r.TileName] = struct{}{}
	}

	fc := geojson.NewFeatureCollection()
	for _, id := range order {
		g := groups[id]
		f := geojson.NewFeature(orb.Point{g.sumX / float64(g.n), g.sumY / float64(g.n)})
		f.Properties["canonicalID"] = id.String()
		f.Properties["modelClass"] = g.class
		f.Properties["detections"] = g.n
		f.Properties["tiles"] = len(g.tiles)
		f.Properties["maxConfidence"] = g.maxConf
		fc.Append(f)
	}
	return fc
}

// WriteGeoJSON writes one point feature per individual.
func WriteGeoJSON(w io.Writer, rows []Row) error {
	data, err := Individuals(rows).MarshalJSON()
	if err != nil {
		return errors.Wrap(err, "failed to encode geojson")
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "failed to write geojson")
	}
	return nil
}
