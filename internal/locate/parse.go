package locate

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tendant/ortho-idmaker/internal/detection"
)

const rawFieldCount = 6

// ParseRaw reads a detector prediction file: one detection per line, fields
// "class relX relY relWidth relHeight confidence" separated by whitespace, no
// header. Blank lines are skipped.
func ParseRaw(tileRef string, source string, r io.Reader) ([]detection.RawDetection, error) {
	var out []detection.RawDetection
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != rawFieldCount {
			return nil, &detection.ParseError{
				Source: source,
				Line:   line,
				Reason: fmt.Sprintf("expected %d fields, got %d", rawFieldCount, len(fields)),
			}
		}

		var vals [rawFieldCount - 1]float64
		for i, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, &detection.ParseError{Source: source, Line: line, Reason: fmt.Sprintf("field %d: %q is not a number", i+2, f)}
			}
			vals[i] = v
		}
		raw := detection.RawDetection{
			TileRef:    tileRef,
			Line:       line,
			ClassLabel: fields[0],
			RelX:       vals[0],
			RelY:       vals[1],
			RelWidth:   vals[2],
			RelHeight:  vals[3],
			Confidence: vals[4],
		}
		if reason := checkRanges(raw); reason != "" {
			return nil, &detection.ParseError{Source: source, Line: line, Reason: reason}
		}
		out = append(out, raw)
	}
	if err := sc.Err(); err != nil {
		return nil, &detection.ParseError{Source: source, Line: line + 1, Reason: err.Error()}
	}
	return out, nil
}

func checkRanges(d detection.RawDetection) string {
	unit := []struct {
		name string
		v    float64
	}{
		{"relX", d.RelX},
		{"relY", d.RelY},
		{"relWidth", d.RelWidth},
		{"relHeight", d.RelHeight},
		{"confidence", d.Confidence},
	}
	for _, u := range unit {
		// negated comparison also rejects NaN
		if !(u.v >= 0 && u.v <= 1) {
			return fmt.Sprintf("%s %v outside [0,1]", u.name, u.v)
		}
	}
	return ""
}
