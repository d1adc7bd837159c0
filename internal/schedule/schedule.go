// Package schedule rescales phase durations to a facilitator-chosen
// total run length.
package schedule

import (
	"math"

	"github.com/rlarsen/althing/internal/errors"
)

// Granule is the rounding unit for redistributed durations, in minutes.
// Every output duration is a multiple of Granule and at least Granule.
const Granule = 5

// Redistribute rescales the default phase durations so they sum to
// totalMinutes exactly. Each result is a multiple of Granule, at least
// Granule, and proportional to its default where rounding allows.
// totalMinutes must itself be a multiple of Granule and leave room for
// every phase to keep the minimum.
func Redistribute(defaults []int, totalMinutes int) ([]int, error) {
	if len(defaults) == 0 {
		return nil, errors.Validation("no phases to redistribute")
	}
	if totalMinutes%Granule != 0 {
		return nil, errors.Validationf("total %d is not a multiple of %d minutes", totalMinutes, Granule)
	}
	if totalMinutes < len(defaults)*Granule {
		return nil, errors.Validationf("total %d leaves less than %d minutes per phase", totalMinutes, Granule)
	}

	sum := 0
	for i, d := range defaults {
		if d <= 0 {
			return nil, errors.Validationf("phase %d has a non-positive default duration", i)
		}
		sum += d
	}

	// Proportional shares rounded to the granule, floored at the minimum
	result := make([]int, len(defaults))
	rounded := 0
	for i, d := range defaults {
		share := float64(totalMinutes) * float64(d) / float64(sum)
		minutes := int(math.Round(share/Granule)) * Granule
		if minutes < Granule {
			minutes = Granule
		}
		result[i] = minutes
		rounded += minutes
	}

	// Remainder correction, one granule at a time, largest phase first.
	// Adding may target any phase; removing only phases above the minimum.
	for rounded < totalMinutes {
		result[largestIndex(result, 0)] += Granule
		rounded += Granule
	}
	for rounded > totalMinutes {
		i := largestIndex(result, Granule)
		if i < 0 {
			return nil, errors.Validationf("cannot shrink phases to %d minutes", totalMinutes)
		}
		result[i] -= Granule
		rounded -= Granule
	}

	return result, nil
}

// largestIndex returns the index of the largest duration strictly above
// floor, ties resolved toward the earliest phase; -1 if none qualifies
func largestIndex(durations []int, floor int) int {
	best := -1
	for i, d := range durations {
		if d <= floor {
			continue
		}
		if best < 0 || d > durations[best] {
			best = i
		}
	}
	return best
}
