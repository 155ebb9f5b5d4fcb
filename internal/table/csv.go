package table

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tendant/ortho-idmaker/internal/detection"
)

// WriteCSV writes rows with a header line.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return errors.Wrap(err, "failed to write header")
	}
	record := make([]string, len(Header))
	for _, r := range rows {
		record[0] = r.TileName
		record[1] = r.ModelClass
		record[2] = r.CanonicalID.String()
		record[3] = formatFloat(r.Confidence)
		record[4] = formatFloat(r.RelX)
		record[5] = formatFloat(r.RelY)
		record[6] = formatFloat(r.AbsX)
		record[7] = formatFloat(r.AbsY)
		record[8] = formatFloat(r.GeoX)
		record[9] = formatFloat(r.GeoY)
		if err := cw.Write(record); err != nil {
			return errors.Wrapf(err, "failed to write row for %s", r.TileName)
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "failed to flush csv")
}

// WriteCSVFile writes rows to path, creating parent directories.
func WriteCSVFile(path string, rows []Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	if err := WriteCSV(f, rows); err != nil {
		f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "failed to close %s", path)
}

// ReadCSV reads a table written by WriteCSV. Columns are matched by header name,
// so their order may differ. Provisional IDs are not part of the file.
func ReadCSV(source string, r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	head, err := cr.Read()
	if err == io.EOF {
		return nil, &detection.ParseError{Source: source, Reason: "missing header"}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", source)
	}
	cols := make(map[string]int, len(head))
	for i, h := range head {
		cols[h] = i
	}
	idx := make([]int, len(Header))
	for i, name := range Header {
		c, ok := cols[name]
		if !ok {
			return nil, &detection.ParseError{Source: source, Line: 1, Reason: "missing column " + name}
		}
		idx[i] = c
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, &detection.ParseError{Source: source, Line: line, Reason: err.Error()}
		}
		if len(rec) != len(head) {
			return nil, &detection.ParseError{Source: source, Line: line, Reason: "expected " + strconv.Itoa(len(head)) + " fields, got " + strconv.Itoa(len(rec))}
		}
		field := func(k int) string { return rec[idx[k]] }

		id, err := uuid.Parse(field(2))
		if err != nil {
			return nil, &detection.ParseError{Source: source, Line: line, Reason: "canonicalID: " + err.Error()}
		}
		var nums [7]float64
		for k := range nums {
			v, err := strconv.ParseFloat(field(k+3), 64)
			if err != nil {
				return nil, &detection.ParseError{Source: source, Line: line, Reason: Header[k+3] + ": " + strconv.Quote(field(k+3)) + " is not a number"}
			}
			nums[k] = v
		}
		rows = append(rows, Row{
			TileName:    field(0),
			ModelClass:  field(1),
			CanonicalID: id,
			Confidence:  nums[0],
			RelX:        nums[1],
			RelY:        nums[2],
			AbsX:        nums[3],
			AbsY:        nums[4],
			GeoX:        nums[5],
			GeoY:        nums[6],
		})
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
