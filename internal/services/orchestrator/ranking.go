package orchestrator

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"deer-cwd-pairing/internal/models"
)

// Summarize derives the ranking statistics of one trial's pairing.
// The interval median of an empty pairing is 0. The age median covers known
// age differences only and is +Inf when there are none.
func Summarize(p *models.Pairing, intervalQualityDays int, ageQualityYears float64) models.TrialResult {
	res := models.TrialResult{
		Pairing:        p,
		Trial:          p.Trial,
		Seed:           p.Seed,
		Matches:        len(p.Assignments),
		Unmatched:      len(p.Unmatched),
		MedianAgeDiff:  math.Inf(1),
		MedianInterval: 0,
	}

	intervals := make([]float64, 0, len(p.Assignments))
	ages := make([]float64, 0, len(p.Assignments))

	for i := range p.Assignments {
		a := &p.Assignments[i]

		intervals = append(intervals, float64(a.IntervalMatch))
		if a.IntervalMatch < intervalQualityDays {
			res.ShortIntervals++
		}

		if a.HasAgeDiff() {
			ages = append(ages, *a.AgeDiff)
		} else {
			res.MissingAgeDiff++
		}
		if a.AgeDiffAbove(ageQualityYears) {
			res.LargeAgeDiffs++
		}

		switch a.Tier {
		case models.MatchTierIdeal:
			res.IdealCount++
		case models.MatchTierAcceptable:
			res.AcceptCount++
		case models.MatchTierFallback:
			res.FallbackCount++
		}
	}

	if len(intervals) > 0 {
		if m, err := stats.Median(intervals); err == nil {
			res.MedianInterval = m
		}
	}
	if len(ages) > 0 {
		if m, err := stats.Median(ages); err == nil {
			res.MedianAgeDiff = m
		}
	}

	return res
}

// Compare orders two trial results lexicographically. It returns a negative
// number when a ranks ahead of b, a positive number when b ranks ahead, and 0
// when all criteria tie:
//  1. more assignments
//  2. fewer assignments with a short interval overlap
//  3. higher median interval overlap
//  4. lower median age difference
//  5. fewer assignments with a large age difference
func Compare(a, b *models.TrialResult) int {
	if a.Matches != b.Matches {
		return b.Matches - a.Matches
	}
	if a.ShortIntervals != b.ShortIntervals {
		return a.ShortIntervals - b.ShortIntervals
	}
	if c := compareFloat(b.MedianInterval, a.MedianInterval); c != 0 {
		return c
	}
	if c := compareFloat(a.MedianAgeDiff, b.MedianAgeDiff); c != 0 {
		return c
	}
	return a.LargeAgeDiffs - b.LargeAgeDiffs
}

func compareFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// Rank returns results sorted best first with Rank set from 1. Results that
// tie on every criterion keep ascending trial order, so the outcome does not
// depend on the order of the input.
func Rank(results []models.TrialResult) []models.TrialResult {
	ranked := make([]models.TrialResult, len(results))
	copy(ranked, results)

	sort.SliceStable(ranked, func(i, j int) bool {
		if c := Compare(&ranked[i], &ranked[j]); c != 0 {
			return c < 0
		}
		return ranked[i].Trial < ranked[j].Trial
	})

	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}
