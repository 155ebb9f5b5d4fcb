package runner

import (
	"testing"

	"go.viam.com/test"

	"github.com/tendant/ortho-idmaker/pkg/pipeline"
)

func TestIdentifyRequest(t *testing.T) {
	req := IdentifyRequest("croz", pipeline.IdentifyParams{
		OrthoPath:      "/data/croz.tif",
		TileTablePath:  "/data/tiles/GeorefTable.csv",
		PredictionsDir: "/data/labels",
		TileWidth:      512,
		TileHeight:     256,
		Radius:         20,
	})
	test.That(t, req.Validate(), test.ShouldBeNil)
	test.That(t, req.DedupeKey(), test.ShouldEqual, "identify:croz")
	test.That(t, req.Version(pipeline.DerivedTypeDetectionTable), test.ShouldEqual, 1)
}

func TestTileRequest(t *testing.T) {
	req := TileRequest("croz", pipeline.TileParams{OrthoPath: "/data/croz.tif", OutputDir: "/data/tiles"})
	test.That(t, req.Validate(), test.ShouldBeNil)
	test.That(t, req.Job, test.ShouldEqual, pipeline.JobTile)

	req = TileRequest("croz", pipeline.TileParams{})
	test.That(t, req.Validate(), test.ShouldNotBeNil)
}

func TestNewRequiresDatabase(t *testing.T) {
	_, err := New(Config{})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewClient(Config{})
	test.That(t, err, test.ShouldNotBeNil)
}
