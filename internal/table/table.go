// Package table builds and serializes the final detection table. Every located
// detection keeps its row; duplicates carry the same canonical ID.
package table

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tendant/ortho-idmaker/internal/detection"
	"github.com/tendant/ortho-idmaker/internal/identity"
)

// Header is the column order of the CSV output.
var Header = []string{
	"tileName", "modelClass", "canonicalID", "confidence",
	"relX", "relY", "absX", "absY", "geoX", "geoY",
}

// Row is one line of the final detection table.
type Row struct {
	TileName      string
	ModelClass    string
	CanonicalID   uuid.UUID
	ProvisionalID uuid.UUID
	Confidence    float64
	RelX          float64
	RelY          float64
	AbsX          float64
	AbsY          float64
	GeoX          float64
	GeoY          float64
}

// Build joins located detections with their resolution. A nil resolution makes
// every detection its own identity, which is what the edge filter policy wants.
func Build(located []detection.Located, res *identity.Resolution) ([]Row, error) {
	if res != nil && res.Len() != len(located) {
		return nil, errors.Wrapf(detection.ErrInvalidArgument, "resolution has %d entries for %d detections", res.Len(), len(located))
	}
	rows := make([]Row, len(located))
	for i, d := range located {
		canonical := d.ProvisionalID
		if res != nil {
			canonical = res.Canonical[i]
		}
		if canonical == uuid.Nil {
			return nil, errors.Wrapf(detection.ErrInvalidCoordinates, "detection %d (%s line %d) has no identity", i, d.TileRef, d.Line)
		}
		rows[i] = Row{
			TileName:      d.TileRef,
			ModelClass:    d.ModelClass,
			CanonicalID:   canonical,
			ProvisionalID: d.ProvisionalID,
			Confidence:    d.Confidence,
			RelX:          d.RelX,
			RelY:          d.RelY,
			AbsX:          d.AbsX,
			AbsY:          d.AbsY,
			GeoX:          d.GeoX,
			GeoY:          d.GeoY,
		}
	}
	return rows, nil
}
