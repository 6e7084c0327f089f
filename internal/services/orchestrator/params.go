package orchestrator

import (
	"fmt"
	"runtime"
	"strings"

	"deer-cwd-pairing/internal/config"
	"deer-cwd-pairing/internal/models"
	"deer-cwd-pairing/internal/services/matcher"
)

// Params configures a multi-trial pairing run.
type Params struct {
	Trials  int
	Seed    int64
	Workers int

	// CoverageThreshold splits cases into a high-coverage group (strictly
	// above) processed first and a low-coverage group processed second.
	CoverageThreshold int

	// IntervalQualityDays and AgeQualityYears drive ranking criteria 2 and 5.
	IntervalQualityDays int
	AgeQualityYears     float64

	Criteria matcher.Criteria
}

// DefaultParams returns the parameters used for the deer movement study.
func DefaultParams() Params {
	return Params{
		Trials:              500,
		Seed:                20210601,
		Workers:             runtime.NumCPU(),
		CoverageThreshold:   180,
		IntervalQualityDays: 120,
		AgeQualityYears:     5,
		Criteria:            matcher.DefaultCriteria(),
	}
}

// ParamsFromConfig projects application configuration onto run parameters.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		Trials:              cfg.Trials,
		Seed:                cfg.Seed,
		Workers:             cfg.Workers,
		CoverageThreshold:   cfg.CoverageThreshold,
		IntervalQualityDays: cfg.IntervalQualityDays,
		AgeQualityYears:     cfg.AgeQualityYears,
		Criteria: matcher.Criteria{
			MaxIntervalDays:    cfg.MaxIntervalDays,
			IdealAgeYears:      cfg.IdealAgeYears,
			AcceptableAgeYears: cfg.AcceptableAgeYears,
		},
	}
}

// Validate reports every parameter that cannot drive a run.
func (p Params) Validate() error {
	var problems []string

	if p.Trials <= 0 {
		problems = append(problems, fmt.Sprintf("trials must be > 0, got %d", p.Trials))
	}
	if p.Workers <= 0 {
		problems = append(problems, fmt.Sprintf("workers must be > 0, got %d", p.Workers))
	}
	if p.CoverageThreshold < 0 {
		problems = append(problems, fmt.Sprintf("coverage threshold must be >= 0, got %d", p.CoverageThreshold))
	}
	if p.IntervalQualityDays < 0 {
		problems = append(problems, fmt.Sprintf("interval quality threshold must be >= 0, got %d", p.IntervalQualityDays))
	}
	if p.AgeQualityYears < 0 {
		problems = append(problems, fmt.Sprintf("age quality threshold must be >= 0, got %g", p.AgeQualityYears))
	}
	if p.Criteria.MaxIntervalDays <= 0 || p.Criteria.MaxIntervalDays > models.MaxIntervalMatch {
		problems = append(problems, fmt.Sprintf("max interval must be in 1..%d, got %d", models.MaxIntervalMatch, p.Criteria.MaxIntervalDays))
	}
	if p.Criteria.IdealAgeYears < 0 {
		problems = append(problems, fmt.Sprintf("ideal age threshold must be >= 0, got %g", p.Criteria.IdealAgeYears))
	}
	if p.Criteria.AcceptableAgeYears < p.Criteria.IdealAgeYears {
		problems = append(problems, fmt.Sprintf("acceptable age threshold (%g) must be >= ideal age threshold (%g)",
			p.Criteria.AcceptableAgeYears, p.Criteria.IdealAgeYears))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", models.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
