package table

import (
	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
)

// Summary is the count reported for a run. Individuals is the number of
// distinct animals.
type Summary struct {
	Detections     int
	Individuals    int
	Duplicates     int
	MeanConfidence float64
	// MaxSightings is the largest number of detections sharing one identity.
	MaxSightings int
}

// Summarize counts detections and identities.
func Summarize(rows []Row) Summary {
	if len(rows) == 0 {
		return Summary{}
	}
	sightings := make(map[uuid.UUID]int, len(rows))
	conf := make([]float64, len(rows))
	for i, r := range rows {
		sightings[r.CanonicalID]++
		conf[i] = r.Confidence
	}
	s := Summary{
		Detections:     len(rows),
		Individuals:    len(sightings),
		MeanConfidence: stat.Mean(conf, nil),
	}
	s.Duplicates = s.Detections - s.Individuals
	for _, n := range sightings {
		if n > s.MaxSightings {
			s.MaxSightings = n
		}
	}
	return s
}
