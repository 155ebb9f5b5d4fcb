package collect

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/tendant/ortho-idmaker/internal/detection"
)

func fakeLocate(bad map[string]error) LocateFunc {
	return func(ctx context.Context, src Source) ([]detection.Located, int, error) {
		if err, ok := bad[src.TileName]; ok {
			return nil, 0, err
		}
		out := make([]detection.Located, 0, 3)
		for line := 3; line >= 1; line-- {
			out = append(out, detection.Located{
				RawDetection:  detection.RawDetection{TileRef: src.TileName, Line: line},
				ProvisionalID: uuid.New(),
			})
		}
		return out, 1, nil
	}
}

func sources(n int) []Source {
	out := make([]Source, n)
	for i := range out {
		// reverse order so sorting is observable
		name := fmt.Sprintf("croz_%02d_0.jpg", n-i)
		out[i] = Source{TileName: name, Key: name + ".txt"}
	}
	return out
}

func TestCollectAll(t *testing.T) {
	res, err := CollectAll(context.Background(), sources(10), fakeLocate(nil), 4)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Err(), test.ShouldBeNil)
	test.That(t, res.Tiles, test.ShouldEqual, 10)
	test.That(t, res.Dropped, test.ShouldEqual, 10)
	test.That(t, res.Detections, test.ShouldHaveLength, 30)

	test.That(t, res.Detections[0].TileRef, test.ShouldEqual, "croz_01_0.jpg")
	test.That(t, res.Detections[0].Line, test.ShouldEqual, 1)
	test.That(t, res.Detections[2].Line, test.ShouldEqual, 3)
	test.That(t, res.Detections[29].TileRef, test.ShouldEqual, "croz_10_0.jpg")
}

func TestCollectAllIsolatesFailures(t *testing.T) {
	bad := map[string]error{
		"croz_07_0.jpg": &detection.ParseError{Source: "croz_07_0.txt", Line: 2, Reason: "expected 6 fields, got 4"},
		"croz_03_0.jpg": errors.Wrap(detection.ErrNotFound, "croz_03_0.jpg"),
	}
	res, err := CollectAll(context.Background(), sources(8), fakeLocate(bad), 3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Detections, test.ShouldHaveLength, 18)
	test.That(t, res.FailedTiles(), test.ShouldResemble, []string{"croz_03_0.jpg", "croz_07_0.jpg"})

	failErr := res.Err()
	var agg *detection.AggregateFailure
	test.That(t, errors.As(failErr, &agg), test.ShouldBeTrue)
	test.That(t, agg.Tiles(), test.ShouldResemble, []string{"croz_03_0.jpg", "croz_07_0.jpg"})
	test.That(t, errors.Is(failErr, detection.ErrParse), test.ShouldBeTrue)
	test.That(t, errors.Is(failErr, detection.ErrNotFound), test.ShouldBeTrue)
	test.That(t, failErr.Error(), test.ShouldContainSubstring, "croz_07_0.txt:2")
}

func TestCollectAllBoundsWorkers(t *testing.T) {
	var running, peak int32
	fn := func(ctx context.Context, src Source) ([]detection.Located, int, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		defer atomic.AddInt32(&running, -1)
		return nil, 0, nil
	}
	res, err := CollectAll(context.Background(), sources(40), fn, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Detections, test.ShouldHaveLength, 0)
	test.That(t, atomic.LoadInt32(&peak) <= 2, test.ShouldBeTrue)
}

func TestCollectAllEmpty(t *testing.T) {
	res, err := CollectAll(context.Background(), nil, fakeLocate(nil), 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Detections, test.ShouldHaveLength, 0)
	test.That(t, res.Err(), test.ShouldBeNil)
}

func TestCollectAllCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := CollectAll(ctx, sources(5), fakeLocate(nil), 2)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}

func TestCollectAllSharedTileName(t *testing.T) {
	// two prediction files map to one tile; the key that sorts last finishes first
	srcs := []Source{
		{TileName: "croz_1_0.jpg", Key: "croz_1_0.txt"},
		{TileName: "croz_1_0.jpg", Key: "croz_1_0.TXT"},
	}
	firstDone := make(chan struct{})
	fn := func(ctx context.Context, src Source) ([]detection.Located, int, error) {
		if src.Key == "croz_1_0.TXT" {
			<-firstDone
		} else {
			defer close(firstDone)
		}
		return []detection.Located{{
			RawDetection:  detection.RawDetection{TileRef: src.TileName, Line: 1, ClassLabel: src.Key},
			ProvisionalID: uuid.New(),
		}}, 0, nil
	}

	for i := 0; i < 5; i++ {
		res, err := CollectAll(context.Background(), srcs, fn, 2)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.Detections, test.ShouldHaveLength, 2)
		test.That(t, res.Detections[0].ClassLabel, test.ShouldEqual, "croz_1_0.TXT")
		test.That(t, res.Detections[1].ClassLabel, test.ShouldEqual, "croz_1_0.txt")
		firstDone = make(chan struct{})
	}
}
