package models

import (
	"errors"
	"fmt"
	"strings"
)

// Input-shape errors. Any of these aborts a run before trials start.
var (
	ErrEmptyCaseID          = errors.New("case_id cannot be empty")
	ErrEmptyControlID       = errors.New("control_id cannot be empty")
	ErrInvalidInterval      = errors.New("interval_match must be between 0 and 183")
	ErrNegativeAgeDiff      = errors.New("age_diff cannot be negative")
	ErrNegativeCoverage     = errors.New("case_coverage_days cannot be negative")
	ErrDuplicateCandidate   = errors.New("duplicate case/control pair")
	ErrInconsistentCoverage = errors.New("case_coverage_days differs between rows of the same case")
	ErrNotCrossProduct      = errors.New("candidate table is not a dense case x control cross product")
	ErrEmptyCandidates      = errors.New("candidate table has no rows")
)

// Roster errors.
var (
	ErrEmptyRoster      = errors.New("roster is empty")
	ErrDuplicateID      = errors.New("duplicate animal id")
	ErrInvalidObsWindow = errors.New("observation end precedes start")
)

// ErrInvalidConfig is returned for configuration that cannot drive a run.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidateCandidate checks a single candidate row.
func ValidateCandidate(c *CandidateRecord) error {
	if strings.TrimSpace(c.CaseID) == "" {
		return ErrEmptyCaseID
	}

	if strings.TrimSpace(c.ControlID) == "" {
		return ErrEmptyControlID
	}

	if c.IntervalMatch < 0 || c.IntervalMatch > MaxIntervalMatch {
		return fmt.Errorf("%w: got %d", ErrInvalidInterval, c.IntervalMatch)
	}

	if c.AgeDiff != nil && *c.AgeDiff < 0 {
		return ErrNegativeAgeDiff
	}

	if c.CaseCoverageDays < 0 {
		return ErrNegativeCoverage
	}

	return nil
}

// ValidateControl checks a single control roster row.
func ValidateControl(c *ControlRecord) error {
	if strings.TrimSpace(c.ID) == "" {
		return ErrEmptyControlID
	}
	if c.ObsEnd.Before(c.ObsStart) {
		return fmt.Errorf("%w: control %s", ErrInvalidObsWindow, c.ID)
	}
	return nil
}

// ValidateCase checks a single case roster row.
func ValidateCase(c *CaseRecord) error {
	if strings.TrimSpace(c.ID) == "" {
		return ErrEmptyCaseID
	}
	if c.CoverageDays < 0 {
		return ErrNegativeCoverage
	}
	return nil
}
