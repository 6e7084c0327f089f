// Package matcher implements the greedy single-trial case-control assignment.
package matcher

import (
	"math/rand"
	"sort"

	"deer-cwd-pairing/internal/models"
	"deer-cwd-pairing/internal/services/pool"
	"deer-cwd-pairing/internal/utils"
)

// Criteria holds the thresholds that define the selection tiers.
type Criteria struct {
	// MaxIntervalDays is the interval overlap a tier 1 or tier 2 candidate must reach.
	MaxIntervalDays int
	// IdealAgeYears bounds the age difference of a tier 1 candidate (strictly below).
	IdealAgeYears float64
	// AcceptableAgeYears bounds the age difference of a tier 2 candidate (strictly below).
	AcceptableAgeYears float64
}

// DefaultCriteria returns the thresholds used for the deer movement study.
func DefaultCriteria() Criteria {
	return Criteria{
		MaxIntervalDays:    models.MaxIntervalMatch,
		IdealAgeYears:      1,
		AcceptableAgeYears: 5,
	}
}

// Matcher assigns one control to each case of a processing order.
// A Matcher holds no per-trial state and may be shared across goroutines.
type Matcher struct {
	criteria Criteria
}

// New creates a new matcher.
func New(criteria Criteria) *Matcher {
	return &Matcher{criteria: criteria}
}

// Criteria returns the matcher's thresholds.
func (m *Matcher) Criteria() Criteria {
	return m.criteria
}

// Run processes cases strictly in order, consuming one control from avail per
// matched case. Cases without a sex-matched control left are recorded as
// unmatched and skipped.
func (m *Matcher) Run(trial int, seed int64, order []string, avail *pool.Available, rng *rand.Rand) *models.Pairing {
	pairing := &models.Pairing{
		Trial:       trial,
		Seed:        seed,
		Assignments: make([]models.Assignment, 0, len(order)),
	}

	for _, caseID := range order {
		chosen, tier, ok := m.Select(avail.Candidates(caseID), rng)
		if !ok {
			pairing.Unmatched = append(pairing.Unmatched, caseID)
			continue
		}

		avail.Remove(chosen.ControlID)
		pairing.Assignments = append(pairing.Assignments, models.Assignment{
			CandidateRecord: chosen,
			Tier:            tier,
		})
	}

	if len(pairing.Unmatched) > 0 {
		utils.GetLogger().Debug("Trial left cases unmatched",
			utils.Int("trial", trial),
			utils.Strings("cases", pairing.Unmatched),
		)
	}

	return pairing
}

// Select picks a control from one case's available candidates.
//
// Only sex-matched candidates are eligible. A uniformly random tier 1
// candidate (full interval overlap, age difference below IdealAgeYears) wins
// if any exists, then a uniformly random tier 2 candidate (full overlap, age
// difference below AcceptableAgeYears), and otherwise the first candidate by
// interval overlap descending then age difference ascending. The fallback
// pick is deterministic among ties.
func (m *Matcher) Select(candidates []models.CandidateRecord, rng *rand.Rand) (models.CandidateRecord, models.MatchTier, bool) {
	eligible := make([]models.CandidateRecord, 0, len(candidates))
	for _, c := range candidates {
		if c.SexMatch {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return models.CandidateRecord{}, "", false
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Better(&eligible[j])
	})

	if c, ok := m.pickFullOverlap(eligible, m.criteria.IdealAgeYears, rng); ok {
		return c, models.MatchTierIdeal, true
	}
	if c, ok := m.pickFullOverlap(eligible, m.criteria.AcceptableAgeYears, rng); ok {
		return c, models.MatchTierAcceptable, true
	}
	return eligible[0], models.MatchTierFallback, true
}

// pickFullOverlap draws uniformly among candidates with full interval overlap
// and an age difference strictly below ageLimit.
func (m *Matcher) pickFullOverlap(sorted []models.CandidateRecord, ageLimit float64, rng *rand.Rand) (models.CandidateRecord, bool) {
	var tier []int
	for i := range sorted {
		if sorted[i].IntervalMatch == m.criteria.MaxIntervalDays && sorted[i].AgeDiffBelow(ageLimit) {
			tier = append(tier, i)
		}
	}
	if len(tier) == 0 {
		return models.CandidateRecord{}, false
	}
	return sorted[tier[rng.Intn(len(tier))]], true
}
