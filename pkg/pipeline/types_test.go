package pipeline

import (
	"errors"
	"testing"

	"go.viam.com/test"
)

func identifyRequest() ProcessRequest {
	return ProcessRequest{
		Site: "croz_2020-11-29",
		Job:  JobIdentify,
		Identify: &IdentifyParams{
			OrthoPath:      "/data/croz.tif",
			TileTablePath:  "/data/tiles/GeorefTable.csv",
			PredictionsDir: "/data/labels",
			ModelClass:     "adult_s2_best",
			TileWidth:      512,
			TileHeight:     256,
			Radius:         20,
		},
	}
}

func TestValidate(t *testing.T) {
	test.That(t, identifyRequest().Validate(), test.ShouldBeNil)

	tile := ProcessRequest{Job: JobTile, Tile: &TileParams{OrthoPath: "/data/croz.tif", OutputDir: "/data/tiles"}}
	test.That(t, tile.Validate(), test.ShouldBeNil)

	for name, mutate := range map[string]func(*ProcessRequest){
		"no job":         func(r *ProcessRequest) { r.Job = "" },
		"unknown job":    func(r *ProcessRequest) { r.Job = "thumbnail" },
		"no params":      func(r *ProcessRequest) { r.Identify = nil },
		"no table":       func(r *ProcessRequest) { r.Identify.TileTablePath = "" },
		"no tile size":   func(r *ProcessRequest) { r.Identify.TileWidth = 0 },
		"bad units":      func(r *ProcessRequest) { r.Identify.RadiusUnits = "feet" },
		"negative":       func(r *ProcessRequest) { r.Identify.Radius = -1 },
		"no predictions": func(r *ProcessRequest) { r.Identify.PredictionsDir = "" },
	} {
		t.Run(name, func(t *testing.T) {
			req := identifyRequest()
			mutate(&req)
			test.That(t, errors.Is(req.Validate(), ErrInvalidRequest), test.ShouldBeTrue)
		})
	}

	// the table may come from the content store instead
	req := identifyRequest()
	req.Identify.TileTablePath = ""
	req.Identify.TileTableContentID = "0b4e7c52-61a4-4d1c-9f0a-5b3c2f1e8d77"
	test.That(t, req.Validate(), test.ShouldBeNil)
}

func TestDedupeKey(t *testing.T) {
	test.That(t, identifyRequest().DedupeKey(), test.ShouldEqual, "identify:croz_2020-11-29")
	req := ProcessRequest{Job: JobTile, ContentID: "c-1"}
	test.That(t, req.DedupeKey(), test.ShouldEqual, "tile:c-1")
}

func TestVersion(t *testing.T) {
	req := ProcessRequest{Versions: map[string]int{DerivedTypeDetectionTable: 3}}
	test.That(t, req.Version(DerivedTypeDetectionTable), test.ShouldEqual, 3)
	test.That(t, req.Version(DerivedTypeGeorefTable), test.ShouldEqual, 1)
}
