package verify

import (
	"math"

	"github.com/kalsky/shadesd/internal/shade"
)

// Aggregate is the folded group-level view of a set of member readings.
// AveragePosition is diagnostic only and plays no part in the success
// predicate.
type Aggregate struct {
	Status          shade.Status
	AveragePosition float64
}

// AggregateReadings folds per-member readings into one group status: all
// open folds to open, all closed to closed, anything else to partially open.
// Members without a reading are excluded from the status fold; their absent
// positions count as 0 in the average, which is rounded to one decimal.
func AggregateReadings(readings []MemberReading) Aggregate {
	allOpen := true
	allClosed := true
	counted := 0

	sum := 0
	for _, r := range readings {
		if !r.Ok {
			continue
		}
		counted++

		if r.Reading.Status != shade.StatusOpen {
			allOpen = false
		}
		if r.Reading.Status != shade.StatusClosed {
			allClosed = false
		}

		if r.Reading.Position != nil {
			sum += *r.Reading.Position
		}
	}

	agg := Aggregate{Status: shade.StatusPartiallyOpen}
	if counted == 0 {
		agg.Status = shade.StatusUnknown
		return agg
	}

	if allOpen {
		agg.Status = shade.StatusOpen
	} else if allClosed {
		agg.Status = shade.StatusClosed
	}

	agg.AveragePosition = math.Round(float64(sum)/float64(counted)*10) / 10
	return agg
}
