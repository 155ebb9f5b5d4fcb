package workflows

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tendant/ortho-idmaker/internal/collect"
	"github.com/tendant/ortho-idmaker/internal/detection"
	"github.com/tendant/ortho-idmaker/internal/georef"
	"github.com/tendant/ortho-idmaker/internal/identity"
	"github.com/tendant/ortho-idmaker/internal/locate"
	"github.com/tendant/ortho-idmaker/internal/metrics"
	"github.com/tendant/ortho-idmaker/internal/repository"
	"github.com/tendant/ortho-idmaker/internal/storage"
	"github.com/tendant/ortho-idmaker/internal/table"
	"github.com/tendant/ortho-idmaker/pkg/pipeline"
)

// predictionPattern selects detector output files in the predictions directory.
const predictionPattern = "*.txt"

// ContentReader interface for reading content
type ContentReader interface {
	GetReaderByContentID(ctx context.Context, contentID string) (io.ReadCloser, error)
}

// DerivedWriter interface for writing derived content
type DerivedWriter interface {
	HasDerived(ctx context.Context, contentID string, derivedType string, derivedVersion int) (bool, error)
	PutDerived(ctx context.Context, contentID string, derivedType string, derivedVersion int, r io.Reader, meta map[string]string) (string, error)
}

// IdentifyWorkflow turns the prediction files of one site into the final
// detection table.
type IdentifyWorkflow struct {
	contentReader ContentReader
	derivedWriter DerivedWriter
	runs          repository.RunRepository
	detections    repository.DetectionRepository
	metrics       *metrics.Metrics
	logger        *zap.SugaredLogger

	caches    map[bool]*georef.Cache
	pixelSize func(orthoPath string, fromRows bool) (detection.Georeference, error)
}

// NewIdentifyWorkflow creates the identification workflow. contentReader and
// derivedWriter may be nil when tile tables are read from disk and the table is
// not published.
func NewIdentifyWorkflow(contentReader ContentReader, derivedWriter DerivedWriter, logger *zap.SugaredLogger) *IdentifyWorkflow {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	w := &IdentifyWorkflow{
		contentReader: contentReader,
		derivedWriter: derivedWriter,
		logger:        logger,
		caches: map[bool]*georef.Cache{
			false: georef.NewCache(false),
			true:  georef.NewCache(true),
		},
	}
	w.pixelSize = func(path string, fromRows bool) (detection.Georeference, error) {
		return w.caches[fromRows].PixelSize(path)
	}
	return w
}

// WithRepositories stores every run and its rows.
func (w *IdentifyWorkflow) WithRepositories(runs repository.RunRepository, detections repository.DetectionRepository) *IdentifyWorkflow {
	w.runs = runs
	w.detections = detections
	return w
}

// WithMetrics records collection and resolution metrics.
func (w *IdentifyWorkflow) WithMetrics(m *metrics.Metrics) *IdentifyWorkflow {
	w.metrics = m
	return w
}

// Name returns the workflow name
func (w *IdentifyWorkflow) Name() string {
	return "IdentifyWorkflow"
}

// Execute runs the identification workflow. Tiles that fail to load are
// reported in the outputs under "failed_tiles" without failing the run.
func (w *IdentifyWorkflow) Execute(wctx *WorkflowContext) (*WorkflowResult, error) {
	ctx := wctx.Ctx
	log := w.logger.With("run_id", wctx.RunID, "site", wctx.Request.Site)
	log.Infow("starting identify workflow")

	// Step 1: Validate request
	if err := wctx.Request.Validate(); err != nil {
		log.Errorw("validation failed", "error", err)
		err = stepFailed("validate", err)
		return failed(err), err
	}
	if wctx.Request.Job != pipeline.JobIdentify {
		err := stepFailed("validate", errors.Wrapf(ErrInvalidRequest, "job %q sent to identify workflow", wctx.Request.Job))
		return failed(err), err
	}
	p := *wctx.Request.Identify
	if p.Policy == "" {
		p.Policy = locate.PolicyResolve
	}

	// Step 2: Georeference
	pixel, err := w.pixelSize(p.OrthoPath, p.PixelHeightFromRows)
	if err != nil {
		log.Errorw("pixel size failed", "ortho", p.OrthoPath, "error", err)
		err = stepFailed("georeference", err)
		return failed(err), err
	}
	pixelRadius, groundRadius := radii(p, pixel)
	log.Infow("✓ pixel size resolved", "pixel_width", pixel.PixelWidth, "pixel_height", pixel.PixelHeight,
		"radius_px", pixelRadius, "radius_ground", groundRadius)

	policy, err := locate.ParsePolicy(p.Policy, pixelRadius, p.TileWidth, p.TileHeight)
	if err != nil {
		err = stepFailed("validate", err)
		return failed(err), err
	}

	tiles, err := w.loadTileTable(ctx, p)
	if err != nil {
		log.Errorw("tile table failed", "error", err)
		err = stepFailed("tile table", err)
		return failed(err), err
	}
	log.Infow("✓ tile table loaded", "tiles", tiles.Len())

	// Step 3: Collect
	store, err := storage.NewFilesystemStorage(p.PredictionsDir)
	if err != nil {
		err = stepFailed("list predictions", errors.Wrap(detection.ErrResourceUnavailable, err.Error()))
		return failed(err), err
	}
	keys, err := store.List(ctx, predictionPattern)
	if err != nil {
		err = stepFailed("list predictions", err)
		return failed(err), err
	}
	sources := make([]collect.Source, len(keys))
	for i, k := range keys {
		sources[i] = collect.Source{TileName: locate.TileNameFor(k, p.TileExtension), Key: k}
	}

	locateTile := func(ctx context.Context, src collect.Source) ([]detection.Located, int, error) {
		tile, err := tiles.Origin(src.TileName)
		if err != nil {
			return nil, 0, err
		}
		rc, err := store.GetReader(ctx, src.Key)
		if err != nil {
			return nil, 0, errors.Wrap(detection.ErrResourceUnavailable, err.Error())
		}
		defer rc.Close()
		raws, err := locate.ParseRaw(src.TileName, filepath.Join(p.PredictionsDir, src.Key), rc)
		if err != nil {
			return nil, 0, err
		}
		return locate.Locate(raws, locate.Params{
			Tile:       tile,
			Pixel:      pixel,
			TileWidth:  p.TileWidth,
			TileHeight: p.TileHeight,
			ModelClass: p.ModelClass,
			Policy:     policy,
		})
	}

	collected, err := collect.CollectAll(ctx, sources, locateTile, p.Workers)
	if err != nil {
		err = stepFailed("collect", err)
		return failed(err), err
	}
	for _, f := range collected.Failed {
		log.Warnw("tile skipped", "tile", f.Tile, "error", f.Err)
	}
	w.metrics.ObserveCollect(collected.Tiles-len(collected.Failed), len(collected.Failed), len(collected.Detections), collected.Dropped)
	log.Infow("✓ detections collected", "tiles", collected.Tiles, "failed", len(collected.Failed),
		"detections", len(collected.Detections), "filtered", collected.Dropped)

	// Step 4: Resolve identities
	var res *identity.Resolution
	if policy.Name() == locate.PolicyResolve {
		start := time.Now()
		res, err = identity.Resolve(collected.Detections, groundRadius)
		if err != nil {
			log.Errorw("identity resolution failed", "error", err)
			err = stepFailed("resolve", err)
			return failed(err), err
		}
		w.metrics.ObserveResolve(time.Since(start), res.Individuals())
	}
	rows, err := table.Build(collected.Detections, res)
	if err != nil {
		err = stepFailed("build table", err)
		return failed(err), err
	}
	summary := table.Summarize(rows)
	log.Infow("✓ identities resolved", "policy", policy.Name(), "detections", summary.Detections,
		"individuals", summary.Individuals, "duplicates", summary.Duplicates)

	// Step 5: Write outputs
	outputs := map[string]interface{}{
		"run_id":          wctx.RunID,
		"detections":      summary.Detections,
		"individuals":     summary.Individuals,
		"duplicates":      summary.Duplicates,
		"max_sightings":   summary.MaxSightings,
		"mean_confidence": summary.MeanConfidence,
		"tiles":           collected.Tiles,
		"filtered":        collected.Dropped,
		"failed_tiles":    collected.FailedTiles(),
		"policy":          policy.Name(),
	}

	if p.OutputPath != "" {
		if err := table.WriteCSVFile(p.OutputPath, rows); err != nil {
			err = stepFailed("write table", err)
			return failed(err), err
		}
		outputs["output_path"] = p.OutputPath
		log.Infow("✓ detection table written", "path", p.OutputPath)
	}
	if p.GeoJSONPath != "" {
		if err := writeGeoJSONFile(p.GeoJSONPath, rows); err != nil {
			err = stepFailed("write geojson", err)
			return failed(err), err
		}
		outputs["geojson_path"] = p.GeoJSONPath
		log.Infow("✓ individuals written", "path", p.GeoJSONPath)
	}
	if err := w.persist(ctx, wctx.RunID, p, policy.Name(), summary, rows, collected.FailedTiles()); err != nil {
		err = stepFailed("persist", err)
		return failed(err), err
	}

	// Step 6: Publish derived content
	if derivedID, skipped, err := w.publish(ctx, wctx.Request, rows); err != nil {
		// the local outputs are already written
		log.Warnw("failed to publish detection table", "error", err)
	} else if skipped {
		log.Infow("derived detection table already exists - skipping", "content_id", wctx.Request.ContentID)
	} else if derivedID != "" {
		outputs["derived_content_id"] = derivedID
		log.Infow("✓ detection table published", "derived_content_id", derivedID)
	}

	log.Infow("✓ identify workflow completed", "individuals", summary.Individuals)
	return &WorkflowResult{Success: true, Outputs: outputs}, nil
}

// radii returns the proximity radius in ortho pixels and in ground units.
func radii(p pipeline.IdentifyParams, pixel detection.Georeference) (pixels, ground float64) {
	if p.RadiusUnits == pipeline.UnitsGround {
		return p.Radius / pixel.PixelWidth, p.Radius
	}
	return p.Radius, p.Radius * pixel.PixelWidth
}

func (w *IdentifyWorkflow) loadTileTable(ctx context.Context, p pipeline.IdentifyParams) (*georef.TileTable, error) {
	if p.TileTablePath != "" {
		return georef.LoadTileTableFile(p.TileTablePath)
	}
	if w.contentReader == nil {
		return nil, errors.Wrap(detection.ErrResourceUnavailable, "no content reader for tile table content")
	}
	rc, err := w.contentReader.GetReaderByContentID(ctx, p.TileTableContentID)
	if err != nil {
		return nil, errors.Wrapf(detection.ErrResourceUnavailable, "tile table content %s: %v", p.TileTableContentID, err)
	}
	defer rc.Close()
	return georef.LoadTileTable("content:"+p.TileTableContentID, rc)
}

func (w *IdentifyWorkflow) persist(ctx context.Context, runID string, p pipeline.IdentifyParams, policy string, s table.Summary, rows []table.Row, failedTiles []string) error {
	if w.runs == nil || w.detections == nil {
		return nil
	}
	if err := w.runs.Upsert(ctx, &repository.Run{
		ID:          runID,
		OrthoPath:   p.OrthoPath,
		ModelClass:  p.ModelClass,
		Policy:      policy,
		Radius:      p.Radius,
		Detections:  s.Detections,
		Individuals: s.Individuals,
		FailedTiles: failedTiles,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		return err
	}
	return w.detections.InsertBatch(ctx, runID, rows)
}

// publish uploads the CSV table as derived content of the request's content.
// It does nothing without a derived writer or a content ID.
func (w *IdentifyWorkflow) publish(ctx context.Context, req pipeline.ProcessRequest, rows []table.Row) (string, bool, error) {
	if w.derivedWriter == nil || req.ContentID == "" {
		return "", false, nil
	}
	derivedType := pipeline.DerivedTypeDetectionTable
	version := req.Version(derivedType)

	has, err := w.derivedWriter.HasDerived(ctx, req.ContentID, derivedType, version)
	if err != nil {
		w.logger.Warnw("failed to check derived content", "content_id", req.ContentID, "error", err)
	} else if has {
		return "", true, nil
	}

	var buf bytes.Buffer
	if err := table.WriteCSV(&buf, rows); err != nil {
		return "", false, err
	}
	id, err := w.derivedWriter.PutDerived(ctx, req.ContentID, derivedType, version, &buf, map[string]string{
		"file_name": siteFileName(req.Site, "_detections.csv"),
	})
	return id, false, err
}

func writeGeoJSONFile(path string, rows []table.Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	if err := table.WriteGeoJSON(f, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func siteFileName(site, suffix string) string {
	if site == "" {
		return strings.TrimPrefix(suffix, "_")
	}
	return site + suffix
}
