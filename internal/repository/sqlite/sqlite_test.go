package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/tendant/ortho-idmaker/internal/repository"
	"github.com/tendant/ortho-idmaker/internal/table"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "idmaker.db"))
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleRows() []table.Row {
	shared := uuid.New()
	other := uuid.New()
	return []table.Row{
		{TileName: "croz_0_0.jpg", ModelClass: "adult_s2_best", CanonicalID: shared, ProvisionalID: shared, Confidence: 0.9, RelX: 0.5, RelY: 0.5, AbsX: 256, AbsY: 128, GeoX: 100, GeoY: 200},
		{TileName: "croz_1_0.jpg", ModelClass: "adult_s2_best", CanonicalID: shared, ProvisionalID: uuid.New(), Confidence: 0.8, RelX: 0.01, RelY: 0.5, AbsX: 497, AbsY: 128, GeoX: 101.5, GeoY: 199},
		{TileName: "croz_1_0.jpg", ModelClass: "adult_s2_best", CanonicalID: other, ProvisionalID: other, Confidence: 0.4, RelX: 0.7, RelY: 0.2, AbsX: 850, AbsY: 51, GeoX: 400, GeoY: 400},
	}
}

func TestRunRepository(t *testing.T) {
	ctx := context.Background()
	runs := NewRunRepository(openTestDB(t))

	_, err := runs.Get(ctx, "missing")
	test.That(t, errors.Is(err, repository.ErrRunNotFound), test.ShouldBeTrue)

	run := &repository.Run{ID: "run-1", OrthoPath: "/data/croz.tif", ModelClass: "adult_s2_best", Policy: "resolve", Radius: 0.4}
	test.That(t, runs.Upsert(ctx, run), test.ShouldBeNil)

	run.Detections = 3
	run.Individuals = 2
	run.FailedTiles = []string{"croz_3_3.jpg", "croz_4_3.jpg"}
	test.That(t, runs.Upsert(ctx, run), test.ShouldBeNil)

	got, err := runs.Get(ctx, "run-1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.OrthoPath, test.ShouldEqual, "/data/croz.tif")
	test.That(t, got.Radius, test.ShouldEqual, 0.4)
	test.That(t, got.Detections, test.ShouldEqual, 3)
	test.That(t, got.Individuals, test.ShouldEqual, 2)
	test.That(t, got.FailedTiles, test.ShouldResemble, []string{"croz_3_3.jpg", "croz_4_3.jpg"})
	test.That(t, got.CreatedAt.IsZero(), test.ShouldBeFalse)

	test.That(t, runs.Upsert(ctx, &repository.Run{ID: "run-2"}), test.ShouldBeNil)
	list, err := runs.List(ctx, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, list, test.ShouldHaveLength, 2)
	for _, r := range list {
		if r.ID == "run-2" {
			test.That(t, r.FailedTiles, test.ShouldBeNil)
		}
	}
}

func TestDetectionRepository(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	runs := NewRunRepository(db)
	dets := NewDetectionRepository(db)

	test.That(t, runs.Upsert(ctx, &repository.Run{ID: "run-1"}), test.ShouldBeNil)
	rows := sampleRows()
	test.That(t, dets.InsertBatch(ctx, "run-1", rows), test.ShouldBeNil)

	got, err := dets.GetByRun(ctx, "run-1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, rows)

	n, err := dets.CountIndividuals(ctx, "run-1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 2)

	// a second batch replaces the first
	test.That(t, dets.InsertBatch(ctx, "run-1", rows[:1]), test.ShouldBeNil)
	got, err = dets.GetByRun(ctx, "run-1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldHaveLength, 1)

	test.That(t, dets.DeleteByRun(ctx, "run-1"), test.ShouldBeNil)
	n, err = dets.CountIndividuals(ctx, "run-1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 0)
}

func TestDetectionRepositoryRequiresRun(t *testing.T) {
	dets := NewDetectionRepository(openTestDB(t))
	err := dets.InsertBatch(context.Background(), "no-such-run", sampleRows())
	test.That(t, err, test.ShouldNotBeNil)
}
