package georef

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/tendant/ortho-idmaker/internal/detection"
)

// column aliases accepted in the tile reference table header
var tableColumns = map[string][]string{
	"tileName":       {"tilename", "tile_name", "tile"},
	"pixelOriginX":   {"pixeloriginx", "pixelx", "xmin", "col_off"},
	"pixelOriginY":   {"pixeloriginy", "pixely", "ymin", "row_off"},
	"eastingOrigin":  {"eastingorigin", "easting"},
	"northingOrigin": {"northingorigin", "northing"},
}

// TileTable is the tile reference table of one site, indexed by tile name.
type TileTable struct {
	rows  map[string]detection.TileMetadata
	dupes map[string]int
}

// LoadTileTableFile opens and parses a tile reference table.
func LoadTileTableFile(path string) (*TileTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(detection.ErrResourceUnavailable, "cannot open tile table %s: %v", path, err)
	}
	defer f.Close()
	return LoadTileTable(path, f)
}

// LoadTileTable parses a CSV tile reference table with a header row. Columns are
// matched by name; unknown columns are ignored.
func LoadTileTable(source string, r io.Reader) (*TileTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, &detection.ParseError{Source: source, Reason: "empty tile table"}
	}
	if err != nil {
		return nil, &detection.ParseError{Source: source, Line: 1, Reason: err.Error()}
	}
	idx, err := columnIndex(header)
	if err != nil {
		return nil, &detection.ParseError{Source: source, Line: 1, Reason: err.Error()}
	}

	t := &TileTable{
		rows:  make(map[string]detection.TileMetadata),
		dupes: make(map[string]int),
	}
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, &detection.ParseError{Source: source, Line: line, Reason: err.Error()}
		}
		md, err := parseRow(rec, idx)
		if err != nil {
			return nil, &detection.ParseError{Source: source, Line: line, Reason: err.Error()}
		}
		if _, seen := t.rows[md.TileName]; seen {
			t.dupes[md.TileName]++
			continue
		}
		t.rows[md.TileName] = md
	}
	return t, nil
}

func columnIndex(header []string) (map[string]int, error) {
	lookup := make(map[string]int, len(header))
	for i, h := range header {
		lookup[strings.ToLower(strings.TrimSpace(h))] = i
	}
	idx := make(map[string]int, len(tableColumns))
	for col, aliases := range tableColumns {
		found := false
		for _, a := range aliases {
			if i, ok := lookup[a]; ok {
				idx[col] = i
				found = true
				break
			}
		}
		if !found {
			return nil, errors.Errorf("missing column %q", col)
		}
	}
	return idx, nil
}

func parseRow(rec []string, idx map[string]int) (detection.TileMetadata, error) {
	field := func(col string) (string, error) {
		i := idx[col]
		if i >= len(rec) {
			return "", errors.Errorf("missing value for %s", col)
		}
		return strings.TrimSpace(rec[i]), nil
	}

	var md detection.TileMetadata
	name, err := field("tileName")
	if err != nil {
		return md, err
	}
	if name == "" {
		return md, errors.New("empty tile name")
	}
	md.TileName = name

	ints := []struct {
		col string
		dst *int
	}{{"pixelOriginX", &md.PixelOriginX}, {"pixelOriginY", &md.PixelOriginY}}
	for _, c := range ints {
		s, err := field(c.col)
		if err != nil {
			return md, err
		}
		// the tiler writes offsets as integers, but pandas round-trips them as floats
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v != float64(int(v)) {
			return md, errors.Errorf("%s: %q is not an integer", c.col, s)
		}
		*c.dst = int(v)
	}

	floats := []struct {
		col string
		dst *float64
	}{{"eastingOrigin", &md.EastingOrigin}, {"northingOrigin", &md.NorthingOrigin}}
	for _, c := range floats {
		s, err := field(c.col)
		if err != nil {
			return md, err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return md, errors.Errorf("%s: %q is not a number", c.col, s)
		}
		*c.dst = v
	}
	return md, nil
}

// Len returns the number of distinct tile names.
func (t *TileTable) Len() int { return len(t.rows) }

// Origin returns the metadata row for a tile. A name with more than one row is
// rejected rather than resolved to an arbitrary row.
func (t *TileTable) Origin(tileName string) (detection.TileMetadata, error) {
	md, ok := t.rows[tileName]
	if !ok {
		return detection.TileMetadata{}, errors.Wrapf(detection.ErrNotFound, "%q", tileName)
	}
	if n := t.dupes[tileName]; n > 0 {
		return detection.TileMetadata{}, errors.Wrapf(detection.ErrAmbiguousTile, "%q has %d rows", tileName, n+1)
	}
	return md, nil
}
