// Package aggregation reduces a canonical series to one export record per
// day and instrument.
package aggregation

import (
	"fmt"
	"sort"
	"time"

	"github.com/mlife-core/platform/pkg/common/models"
)

// Resolve reduces the records matched for one field on one day to a single
// value. No records, or no numeric records for median and mean, yield nil.
// A zero ref makes nearest use the earliest of the given records.
func Resolve(strategy models.Strategy, records []models.CanonicalRecord, ref time.Time) (*models.Value, error) {
	switch strategy {
	case models.StrategyFirst, models.StrategyLast, models.StrategyNearest, models.StrategyMedian, models.StrategyMean:
	default:
		return nil, fmt.Errorf("%q: %w", strategy, models.ErrUnknownStrategy)
	}
	if len(records) == 0 {
		return nil, nil
	}

	ordered := make([]models.CanonicalRecord, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	switch strategy {
	case models.StrategyFirst:
		return ordered[0].Value.Ptr(), nil
	case models.StrategyLast:
		return ordered[len(ordered)-1].Value.Ptr(), nil
	case models.StrategyNearest:
		return nearest(ordered, ref).Value.Ptr(), nil
	}

	nums := numbers(ordered)
	if len(nums) == 0 {
		return nil, nil
	}
	if strategy == models.StrategyMean {
		var sum float64
		for _, n := range nums {
			sum += n
		}
		return models.Number(sum / float64(len(nums))).Ptr(), nil
	}
	return models.Number(median(nums)).Ptr(), nil
}

// nearest picks the record closest to ref; ordered must be chronological so
// the first of two equidistant records is the earlier one.
func nearest(ordered []models.CanonicalRecord, ref time.Time) models.CanonicalRecord {
	if ref.IsZero() {
		ref = ordered[0].Timestamp
	}
	best := 0
	bestDist := absDuration(ordered[0].Timestamp.Sub(ref))
	for i := 1; i < len(ordered); i++ {
		if d := absDuration(ordered[i].Timestamp.Sub(ref)); d < bestDist {
			best, bestDist = i, d
		}
	}
	return ordered[best]
}

func numbers(records []models.CanonicalRecord) []float64 {
	var out []float64
	for _, r := range records {
		if f, ok := r.Value.Float(); ok {
			out = append(out, f)
		}
	}
	return out
}

func median(nums []float64) float64 {
	sorted := append([]float64(nil), nums...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
