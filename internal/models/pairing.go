package models

import (
	"time"
)

// MatchTier indicates which selection rule produced an assignment.
type MatchTier string

const (
	MatchTierIdeal      MatchTier = "ideal"
	MatchTierAcceptable MatchTier = "acceptable"
	MatchTierFallback   MatchTier = "fallback"
)

// Assignment is a single case-control pair chosen during a trial.
type Assignment struct {
	CandidateRecord
	Tier MatchTier `json:"tier" db:"tier"`
}

// Pairing is the set of assignments produced by one trial.
type Pairing struct {
	Trial       int          `json:"trial"`
	Seed        int64        `json:"seed"`
	Assignments []Assignment `json:"assignments"`
	Unmatched   []string     `json:"unmatched,omitempty"`
}

// Len returns the number of assignments.
func (p *Pairing) Len() int {
	return len(p.Assignments)
}

// TrialResult is a Pairing plus the summary statistics used for ranking.
type TrialResult struct {
	Pairing *Pairing `json:"-"`

	Trial          int     `json:"trial"`
	Seed           int64   `json:"seed"`
	Matches        int     `json:"matches"`
	Unmatched      int     `json:"unmatched"`
	ShortIntervals int     `json:"short_intervals"`
	MedianInterval float64 `json:"median_interval"`
	MedianAgeDiff  float64 `json:"median_age_diff"`
	LargeAgeDiffs  int     `json:"large_age_diffs"`
	MissingAgeDiff int     `json:"missing_age_diff"`
	IdealCount     int     `json:"ideal_count"`
	AcceptCount    int     `json:"acceptable_count"`
	FallbackCount  int     `json:"fallback_count"`
	Rank           int     `json:"rank"`
}

// RunResult is the outcome of a full multi-trial pairing run.
type RunResult struct {
	RunID     string        `json:"run_id"`
	Seed      int64         `json:"seed"`
	Trials    int           `json:"trials"`
	Cases     int           `json:"cases"`
	Controls  int           `json:"controls"`
	Results   []TrialResult `json:"results"`
	Best      TrialResult   `json:"best"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Selected returns the assignments of the top-ranked trial.
func (r *RunResult) Selected() []Assignment {
	if r.Best.Pairing == nil {
		return nil
	}
	return r.Best.Pairing.Assignments
}

// RunRecord is a persisted pairing run as stored in pairing_runs.
type RunRecord struct {
	RunID          string    `json:"run_id" db:"run_id"`
	Seed           int64     `json:"seed" db:"seed"`
	Trials         int       `json:"trials" db:"trials"`
	Cases          int       `json:"cases" db:"cases"`
	Controls       int       `json:"controls" db:"controls"`
	BestTrial      int       `json:"best_trial" db:"best_trial"`
	Matches        int       `json:"matches" db:"matches"`
	Unmatched      int       `json:"unmatched" db:"unmatched"`
	MedianInterval float64   `json:"median_interval" db:"median_interval"`
	MedianAgeDiff  *float64  `json:"median_age_diff,omitempty" db:"median_age_diff"`
	Source         string    `json:"source" db:"source"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
