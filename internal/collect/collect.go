// Package collect runs the locator over every tile of a site and joins the
// results into one detection table.
package collect

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tendant/ortho-idmaker/internal/detection"
)

// Source is one tile's prediction file.
type Source struct {
	// TileName is the tile image the predictions were made on.
	TileName string
	// Key addresses the prediction file in storage.
	Key string
}

// LocateFunc locates the detections of one tile. The int result is the number
// of detections dropped by the overlap policy.
type LocateFunc func(ctx context.Context, src Source) ([]detection.Located, int, error)

// Result is the joined output of a collection run.
type Result struct {
	Detections []detection.Located
	Failed     []detection.TileFailure
	Tiles      int
	Dropped    int
}

// Err returns an *detection.AggregateFailure naming the failed tiles, or nil.
func (r *Result) Err() error {
	if agg := detection.NewAggregateFailure(r.Failed); agg != nil {
		return agg
	}
	return nil
}

// FailedTiles lists the names of the tiles that could not be collected.
func (r *Result) FailedTiles() []string {
	names := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		names = append(names, f.Tile)
	}
	return names
}

// CollectAll calls fn for every source on at most workers goroutines. A failing
// tile is recorded in Result.Failed and does not stop its siblings. Detections
// are ordered by tile name, then source key, then line, whatever order the
// workers finish in. The error return is set only when ctx is done before
// every tile ran.
func CollectAll(ctx context.Context, sources []Source, fn LocateFunc, workers int) (*Result, error) {
	if workers < 1 {
		workers = 1
	}

	var (
		mu       sync.Mutex
		result   = &Result{Tiles: len(sources)}
		perTile  = make([][]detection.Located, len(sources))
		failures = make([]error, len(sources))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, src := range sources {
		if gctx.Err() != nil {
			break
		}
		i, src := i, src
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			located, dropped, err := fn(gctx, src)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				failures[i] = err
				return nil
			}
			perTile[i] = located

			mu.Lock()
			result.Dropped += dropped
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	order := make([]int, len(sources))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := sources[order[a]], sources[order[b]]
		if sa.TileName != sb.TileName {
			return sa.TileName < sb.TileName
		}
		return sa.Key < sb.Key
	})
	for _, i := range order {
		if failures[i] != nil {
			result.Failed = append(result.Failed, detection.TileFailure{Tile: sources[i].TileName, Err: failures[i]})
			continue
		}
		result.Detections = append(result.Detections, perTile[i]...)
	}
	// stable, so detections sharing a tile name keep their source key order
	sort.Stable(detection.ByTileLine(result.Detections))
	return result, nil
}
