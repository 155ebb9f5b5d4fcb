package pipeline

import (
	"errors"
	"fmt"
)

// ProcessRequest represents a request to run a job over one survey site
type ProcessRequest struct {
	// ContentID is the parent content that outputs are published under. Optional.
	ContentID string `json:"content_id,omitempty"`
	// Site names the survey site; submissions are counted per site and job.
	Site     string            `json:"site"`
	Job      string            `json:"job"` // identify, tile
	Identify *IdentifyParams   `json:"identify,omitempty"`
	Tile     *TileParams       `json:"tile,omitempty"`
	Versions map[string]int    `json:"versions,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IdentifyParams configures a detection identification run
type IdentifyParams struct {
	OrthoPath     string `json:"ortho_path"`
	TileTablePath string `json:"tile_table_path,omitempty"`
	// TileTableContentID reads the tile table from the content store instead of TileTablePath.
	TileTableContentID  string  `json:"tile_table_content_id,omitempty"`
	PredictionsDir      string  `json:"predictions_dir"`
	OutputPath          string  `json:"output_path,omitempty"`
	GeoJSONPath         string  `json:"geojson_path,omitempty"`
	ModelClass          string  `json:"model_class"`
	TileWidth           int     `json:"tile_width"`
	TileHeight          int     `json:"tile_height"`
	Radius              float64 `json:"radius"`
	RadiusUnits         string  `json:"radius_units,omitempty"` // pixels, ground
	Policy              string  `json:"policy,omitempty"`       // resolve, edge_filter
	TileExtension       string  `json:"tile_extension,omitempty"`
	PixelHeightFromRows bool    `json:"pixel_height_from_rows,omitempty"`
	Workers             int     `json:"workers,omitempty"`
}

// TileParams configures a tiling run
type TileParams struct {
	OrthoPath         string  `json:"ortho_path"`
	OutputDir         string  `json:"output_dir"`
	TileWidth         int     `json:"tile_width"`
	TileHeight        int     `json:"tile_height"`
	Overlap           int     `json:"overlap"`
	ContrastThreshold float64 `json:"contrast_threshold"`
}

// ProcessResponse represents the response from triggering processing
type ProcessResponse struct {
	RunID           string `json:"run_id"`
	DedupeSeenCount int    `json:"dedupe_seen_count"`
}

// RunStatus is the state of an enqueued run
type RunStatus struct {
	RunID     string `json:"run_id"`
	State     string `json:"state"` // pending, running, succeeded, failed
	Name      string `json:"name,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
	UpdatedAt int64  `json:"updated_at,omitempty"`
}

// JobType constants
const (
	JobIdentify = "identify"
	JobTile     = "tile"
)

// DerivedType constants (match simple-content conventions)
const (
	DerivedTypeDetectionTable = "detection_table"
	DerivedTypeGeorefTable    = "georef_table"
)

// Radius units
const (
	UnitsPixels = "pixels"
	UnitsGround = "ground"
)

// ErrInvalidRequest is returned by Validate
var ErrInvalidRequest = errors.New("invalid request")

// DedupeKey identifies repeated submissions of the same work
func (r ProcessRequest) DedupeKey() string {
	site := r.Site
	if site == "" {
		site = r.ContentID
	}
	return fmt.Sprintf("%s:%s", r.Job, site)
}

// Version returns the requested output version for a derived type, 1 when unset
func (r ProcessRequest) Version(derivedType string) int {
	if v, ok := r.Versions[derivedType]; ok && v > 0 {
		return v
	}
	return 1
}

// Validate checks that the request carries the parameters of its job
func (r ProcessRequest) Validate() error {
	switch r.Job {
	case "":
		return fmt.Errorf("%w: job is required", ErrInvalidRequest)
	case JobIdentify:
		p := r.Identify
		if p == nil {
			return fmt.Errorf("%w: identify parameters are required", ErrInvalidRequest)
		}
		if p.OrthoPath == "" || p.PredictionsDir == "" {
			return fmt.Errorf("%w: ortho_path and predictions_dir are required", ErrInvalidRequest)
		}
		if p.TileTablePath == "" && p.TileTableContentID == "" {
			return fmt.Errorf("%w: tile_table_path or tile_table_content_id is required", ErrInvalidRequest)
		}
		if p.TileWidth <= 0 || p.TileHeight <= 0 {
			return fmt.Errorf("%w: tile size %dx%d", ErrInvalidRequest, p.TileWidth, p.TileHeight)
		}
		if p.Radius < 0 {
			return fmt.Errorf("%w: radius %v", ErrInvalidRequest, p.Radius)
		}
		if p.RadiusUnits != "" && p.RadiusUnits != UnitsPixels && p.RadiusUnits != UnitsGround {
			return fmt.Errorf("%w: radius_units %q", ErrInvalidRequest, p.RadiusUnits)
		}
	case JobTile:
		p := r.Tile
		if p == nil {
			return fmt.Errorf("%w: tile parameters are required", ErrInvalidRequest)
		}
		if p.OrthoPath == "" || p.OutputDir == "" {
			return fmt.Errorf("%w: ortho_path and output_dir are required", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown job %q", ErrInvalidRequest, r.Job)
	}
	return nil
}
