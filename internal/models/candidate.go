// Package models defines the data structures for the case-control pairing tool.
package models

import (
	"strconv"
)

// MaxIntervalMatch is the largest attainable interval overlap in days (a full 6-month window).
const MaxIntervalMatch = 183

// CandidateRecord is one potential case-control pairing.
type CandidateRecord struct {
	CaseID           string   `json:"case_id" db:"case_id"`
	ControlID        string   `json:"control_id" db:"control_id"`
	CaseCoverageDays int      `json:"case_coverage_days" db:"case_coverage_days"`
	SexMatch         bool     `json:"sex_match" db:"sex_match"`
	IntervalMatch    int      `json:"interval_match" db:"interval_match"`
	AgeDiff          *float64 `json:"age_diff,omitempty" db:"age_diff"`
}

// HasAgeDiff reports whether an age difference is known for the candidate.
func (c *CandidateRecord) HasAgeDiff() bool {
	return c.AgeDiff != nil
}

// AgeDiffBelow reports whether the age difference is known and strictly below limit.
func (c *CandidateRecord) AgeDiffBelow(limit float64) bool {
	return c.AgeDiff != nil && *c.AgeDiff < limit
}

// AgeDiffAbove reports whether the age difference is known and strictly above limit.
// Missing values are never above a limit.
func (c *CandidateRecord) AgeDiffAbove(limit float64) bool {
	return c.AgeDiff != nil && *c.AgeDiff > limit
}

// AgeDiffString formats the age difference for tabular output, empty when missing.
func (c *CandidateRecord) AgeDiffString() string {
	if c.AgeDiff == nil {
		return ""
	}
	return strconv.FormatFloat(*c.AgeDiff, 'f', -1, 64)
}

// Better reports whether c sorts ahead of other: interval overlap descending,
// then age difference ascending with missing values last.
func (c *CandidateRecord) Better(other *CandidateRecord) bool {
	if c.IntervalMatch != other.IntervalMatch {
		return c.IntervalMatch > other.IntervalMatch
	}
	switch {
	case c.AgeDiff == nil:
		return false
	case other.AgeDiff == nil:
		return true
	default:
		return *c.AgeDiff < *other.AgeDiff
	}
}

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 {
	return &v
}

// CaseInfo is the per-case view of the candidate table.
type CaseInfo struct {
	CaseID       string `json:"case_id"`
	CoverageDays int    `json:"coverage_days"`
}
