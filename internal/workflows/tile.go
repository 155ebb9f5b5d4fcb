package workflows

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tendant/ortho-idmaker/internal/georef"
	"github.com/tendant/ortho-idmaker/internal/tiler"
	"github.com/tendant/ortho-idmaker/pkg/pipeline"
)

// TileWorkflow cuts an ortho into overlapping tiles and writes the georeference
// table the identify workflow reads.
type TileWorkflow struct {
	derivedWriter DerivedWriter
	logger        *zap.SugaredLogger

	bounds func(string) (georef.Bounds, error)
}

// NewTileWorkflow creates the tiling workflow. derivedWriter may be nil.
func NewTileWorkflow(derivedWriter DerivedWriter, logger *zap.SugaredLogger) *TileWorkflow {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &TileWorkflow{derivedWriter: derivedWriter, logger: logger}
}

// Name returns the workflow name
func (w *TileWorkflow) Name() string {
	return "TileWorkflow"
}

// Execute runs the tiler.
func (w *TileWorkflow) Execute(wctx *WorkflowContext) (*WorkflowResult, error) {
	log := w.logger.With("run_id", wctx.RunID, "site", wctx.Request.Site)
	log.Infow("starting tile workflow")

	if err := wctx.Request.Validate(); err != nil {
		err = stepFailed("validate", err)
		return failed(err), err
	}
	if wctx.Request.Job != pipeline.JobTile {
		err := stepFailed("validate", errors.Wrapf(ErrInvalidRequest, "job %q sent to tile workflow", wctx.Request.Job))
		return failed(err), err
	}
	p := wctx.Request.Tile

	t, err := tiler.New(tiler.Config{
		OrthoPath:         p.OrthoPath,
		OutputDir:         p.OutputDir,
		TileWidth:         p.TileWidth,
		TileHeight:        p.TileHeight,
		Overlap:           p.Overlap,
		ContrastThreshold: p.ContrastThreshold,
		ReadBounds:        w.bounds,
	}, log)
	if err != nil {
		err = stepFailed("validate", err)
		return failed(err), err
	}
	report, err := t.Run(wctx.Ctx)
	if err != nil {
		log.Errorw("tiling failed", "ortho", p.OrthoPath, "error", err)
		err = stepFailed("tile", err)
		return failed(err), err
	}
	log.Infow("✓ tiles written", "windows", report.Windows, "written", report.Written,
		"low_contrast", report.LowContrast, "table", report.TablePath)

	outputs := map[string]interface{}{
		"run_id":       wctx.RunID,
		"windows":      report.Windows,
		"written":      report.Written,
		"low_contrast": report.LowContrast,
		"table_path":   report.TablePath,
	}

	if id, err := w.publish(wctx, report.TablePath); err != nil {
		log.Warnw("failed to publish georeference table", "error", err)
	} else if id != "" {
		outputs["derived_content_id"] = id
		log.Infow("✓ georeference table published", "derived_content_id", id)
	}

	log.Infow("✓ tile workflow completed")
	return &WorkflowResult{Success: true, Outputs: outputs}, nil
}

func (w *TileWorkflow) publish(wctx *WorkflowContext, tablePath string) (string, error) {
	req := wctx.Request
	if w.derivedWriter == nil || req.ContentID == "" {
		return "", nil
	}
	derivedType := pipeline.DerivedTypeGeorefTable
	version := req.Version(derivedType)

	has, err := w.derivedWriter.HasDerived(wctx.Ctx, req.ContentID, derivedType, version)
	if err == nil && has {
		return "", nil
	}

	f, err := os.Open(tablePath)
	if err != nil {
		return "", errors.Wrapf(err, "failed to open %s", tablePath)
	}
	defer f.Close()
	return w.derivedWriter.PutDerived(wctx.Ctx, req.ContentID, derivedType, version, f, map[string]string{
		"file_name": tiler.TableName,
	})
}
