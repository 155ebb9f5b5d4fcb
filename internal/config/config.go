// Package config reads the ID maker settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/tendant/ortho-idmaker/pkg/pipeline"
)

type Config struct {
	Job string

	// identify
	OrthoPath           string
	TileTablePath       string
	PredictionsDir      string
	OutputPath          string
	GeoJSONPath         string
	SQLitePath          string
	ModelClass          string
	TileWidth           int
	TileHeight          int
	ProximityRadius     float64
	RadiusUnits         string
	OverlapPolicy       string
	TileExtension       string
	PixelHeightFromRows bool
	Workers             int

	// tile
	TileOverlap       int
	TilesOutputDir    string
	ContrastThreshold float64

	// logging
	LogLevel string
	LogFile  string

	// worker
	HTTPAddr          string
	DBOSDatabaseURL   string
	DBOSQueueName     string
	DBOSConcurrency   int
	DedupeDatabaseURL string
	ContentAPIURL     string
	StorageDir        string
}

// Load reads the configuration. Malformed numeric or boolean values are
// reported together rather than silently replaced by defaults.
func Load() (*Config, error) {
	var errs error
	env := envReader{errs: &errs}

	c := &Config{
		Job:                 env.get("IDMAKER_JOB", pipeline.JobIdentify),
		OrthoPath:           env.get("ORTHO_PATH", ""),
		TileTablePath:       env.get("TILE_TABLE_PATH", ""),
		PredictionsDir:      env.get("PREDICTIONS_DIR", ""),
		OutputPath:          env.get("OUTPUT_PATH", "./detections.csv"),
		GeoJSONPath:         env.get("GEOJSON_PATH", ""),
		SQLitePath:          env.get("SQLITE_PATH", ""),
		ModelClass:          env.get("MODEL_CLASS", "adult_s2_best"),
		TileWidth:           env.getInt("TILE_WIDTH", 512),
		TileHeight:          env.getInt("TILE_HEIGHT", 256),
		ProximityRadius:     env.getFloat("PROXIMITY_RADIUS", 20),
		RadiusUnits:         env.get("RADIUS_UNITS", pipeline.UnitsPixels),
		OverlapPolicy:       env.get("OVERLAP_POLICY", "resolve"),
		TileExtension:       env.get("TILE_EXTENSION", ".jpg"),
		PixelHeightFromRows: env.getBool("PIXEL_HEIGHT_FROM_ROWS", false),
		Workers:             env.getInt("WORKERS", 4),

		TileOverlap:       env.getInt("TILE_OVERLAP", 20),
		TilesOutputDir:    env.get("TILES_OUTPUT_DIR", "./tiles"),
		ContrastThreshold: env.getFloat("CONTRAST_THRESHOLD", 5),

		LogLevel: env.get("LOG_LEVEL", "info"),
		LogFile:  env.get("LOG_FILE", ""),

		HTTPAddr:          env.get("WORKER_HTTP_ADDR", ":8081"),
		DBOSDatabaseURL:   env.get("DBOS_SYSTEM_DATABASE_URL", ""),
		DBOSQueueName:     env.get("DBOS_QUEUE_NAME", "default"),
		DBOSConcurrency:   env.getInt("DBOS_CONCURRENCY", 4),
		DedupeDatabaseURL: env.get("DEDUPE_DATABASE_URL", ""),
		ContentAPIURL:     env.get("CONTENT_API_URL", ""),
		StorageDir:        env.get("STORAGE_DIR", "./dev-data"),
	}
	if errs != nil {
		return nil, errs
	}
	return c, nil
}

// IdentifyRequest builds the identify job request described by the configuration.
func (c *Config) IdentifyRequest() pipeline.ProcessRequest {
	return pipeline.ProcessRequest{
		Site: siteName(c.OrthoPath),
		Job:  pipeline.JobIdentify,
		Identify: &pipeline.IdentifyParams{
			OrthoPath:           c.OrthoPath,
			TileTablePath:       c.TileTablePath,
			PredictionsDir:      c.PredictionsDir,
			OutputPath:          c.OutputPath,
			GeoJSONPath:         c.GeoJSONPath,
			ModelClass:          c.ModelClass,
			TileWidth:           c.TileWidth,
			TileHeight:          c.TileHeight,
			Radius:              c.ProximityRadius,
			RadiusUnits:         c.RadiusUnits,
			Policy:              c.OverlapPolicy,
			TileExtension:       c.TileExtension,
			PixelHeightFromRows: c.PixelHeightFromRows,
			Workers:             c.Workers,
		},
	}
}

// TileRequest builds the tile job request described by the configuration.
func (c *Config) TileRequest() pipeline.ProcessRequest {
	return pipeline.ProcessRequest{
		Site: siteName(c.OrthoPath),
		Job:  pipeline.JobTile,
		Tile: &pipeline.TileParams{
			OrthoPath:         c.OrthoPath,
			OutputDir:         c.TilesOutputDir,
			TileWidth:         c.TileWidth,
			TileHeight:        c.TileHeight,
			Overlap:           c.TileOverlap,
			ContrastThreshold: c.ContrastThreshold,
		},
	}
}

// Request returns the request for the configured job.
func (c *Config) Request() (pipeline.ProcessRequest, error) {
	switch c.Job {
	case pipeline.JobIdentify:
		return c.IdentifyRequest(), nil
	case pipeline.JobTile:
		return c.TileRequest(), nil
	default:
		return pipeline.ProcessRequest{}, errors.Errorf("IDMAKER_JOB %q is not one of identify, tile", c.Job)
	}
}

func siteName(orthoPath string) string {
	base := orthoPath
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	return base
}

type envReader struct {
	errs *error
}

func (e envReader) get(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (e envReader) getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		*e.errs = multierr.Append(*e.errs, errors.Errorf("%s=%q is not an integer", key, value))
		return defaultValue
	}
	return v
}

func (e envReader) getFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		*e.errs = multierr.Append(*e.errs, errors.Errorf("%s=%q is not a number", key, value))
		return defaultValue
	}
	return v
}

func (e envReader) getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		*e.errs = multierr.Append(*e.errs, errors.Errorf("%s=%q is not a boolean", key, value))
		return defaultValue
	}
	return v
}
