package detection

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

var (
	// ErrResourceUnavailable is returned when the ortho or a reference table cannot be opened
	ErrResourceUnavailable = errors.New("resource unavailable")

	// ErrNotFound is returned when a tile name is absent from the reference table
	ErrNotFound = errors.New("tile not found")

	// ErrAmbiguousTile is returned when a tile name matches more than one reference row
	ErrAmbiguousTile = errors.New("tile name is ambiguous")

	// ErrParse is returned for malformed detection or table records
	ErrParse = errors.New("parse error")

	// ErrInvalidCoordinates is returned when a located detection cannot be resolved
	ErrInvalidCoordinates = errors.New("invalid coordinates")

	// ErrInvalidArgument is returned for out-of-range parameters
	ErrInvalidArgument = errors.New("invalid argument")
)

// ParseError reports a malformed record and where it was found.
type ParseError struct {
	Source string
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Source, e.Line, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Reason)
}

// Unwrap lets errors.Is match ErrParse.
func (e *ParseError) Unwrap() error { return ErrParse }

// TileFailure is one tile that could not be collected.
type TileFailure struct {
	Tile string
	Err  error
}

// AggregateFailure lists every tile that failed during collection.
type AggregateFailure struct {
	Failures []TileFailure
}

// NewAggregateFailure sorts failures by tile name. It returns nil for an empty list.
func NewAggregateFailure(failures []TileFailure) *AggregateFailure {
	if len(failures) == 0 {
		return nil
	}
	sorted := make([]TileFailure, len(failures))
	copy(sorted, failures)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Tile < sorted[j].Tile })
	return &AggregateFailure{Failures: sorted}
}

// Tiles returns the names of the failed tiles.
func (e *AggregateFailure) Tiles() []string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, f.Tile)
	}
	return names
}

func (e *AggregateFailure) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Tile, f.Err))
	}
	return fmt.Sprintf("%d tile(s) failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap returns the combined tile errors so errors.Is reaches the causes.
func (e *AggregateFailure) Unwrap() []error {
	var combined error
	for _, f := range e.Failures {
		combined = multierr.Append(combined, f.Err)
	}
	return multierr.Errors(combined)
}
