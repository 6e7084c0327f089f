// Package candidates builds the dense case x control candidate table from the
// case and control rosters.
package candidates

import (
	"fmt"
	"time"

	"deer-cwd-pairing/internal/models"
	"deer-cwd-pairing/internal/utils"
)

const daysPerYear = 365

// Options configures candidate construction.
type Options struct {
	// WindowDays is the length of the pre-mortality window ending on the mortality date.
	WindowDays int
}

// DefaultOptions returns a 6-month pre-mortality window.
func DefaultOptions() Options {
	return Options{WindowDays: models.MaxIntervalMatch}
}

// Build pairs every case with every control.
func Build(cases []*models.CaseRecord, controls []*models.ControlRecord, opts Options) ([]*models.CandidateRecord, error) {
	if len(cases) == 0 {
		return nil, fmt.Errorf("%w: cases", models.ErrEmptyRoster)
	}
	if len(controls) == 0 {
		return nil, fmt.Errorf("%w: controls", models.ErrEmptyRoster)
	}
	if opts.WindowDays <= 0 || opts.WindowDays > models.MaxIntervalMatch {
		return nil, fmt.Errorf("%w: window must be in 1..%d days, got %d", models.ErrInvalidConfig, models.MaxIntervalMatch, opts.WindowDays)
	}

	seenCases := make(map[string]struct{}, len(cases))
	for _, c := range cases {
		if err := models.ValidateCase(c); err != nil {
			return nil, err
		}
		if _, dup := seenCases[c.ID]; dup {
			return nil, fmt.Errorf("%w: case %s", models.ErrDuplicateID, c.ID)
		}
		seenCases[c.ID] = struct{}{}
	}

	seenControls := make(map[string]struct{}, len(controls))
	controlDays := make([]dayMask, len(controls))
	for i, c := range controls {
		if err := models.ValidateControl(c); err != nil {
			return nil, err
		}
		if _, dup := seenControls[c.ID]; dup {
			return nil, fmt.Errorf("%w: control %s", models.ErrDuplicateID, c.ID)
		}
		seenControls[c.ID] = struct{}{}
		controlDays[i] = spanMask(c.ObsStart, c.ObsEnd)
	}

	records := make([]*models.CandidateRecord, 0, len(cases)*len(controls))
	for _, cs := range cases {
		window := windowMask(cs.MortalityDate, opts.WindowDays)
		for i, ct := range controls {
			overlap := window.overlap(&controlDays[i])
			if overlap > opts.WindowDays {
				overlap = opts.WindowDays
			}
			records = append(records, &models.CandidateRecord{
				CaseID:           cs.ID,
				ControlID:        ct.ID,
				CaseCoverageDays: cs.CoverageDays,
				SexMatch:         cs.Sex != models.SexUnknown && cs.Sex == ct.Sex,
				IntervalMatch:    overlap,
				AgeDiff:          AgeDiff(cs.AgeAtDeath, ct.MinAge, ct.MaxAge),
			})
		}
	}

	utils.GetLogger().Info("Built candidate table",
		utils.Int("cases", len(cases)),
		utils.Int("controls", len(controls)),
		utils.Int("rows", len(records)),
		utils.Int("window_days", opts.WindowDays),
	)

	return records, nil
}

// IntervalOverlap counts the calendar days, ignoring year, shared by the
// windowDays-long window ending at mortality and the observation span.
func IntervalOverlap(mortality time.Time, windowDays int, obsStart, obsEnd time.Time) int {
	w := windowMask(mortality, windowDays)
	s := spanMask(obsStart, obsEnd)
	return w.overlap(&s)
}

// AgeDiff returns the smallest distance between the case's age at death and
// the control's observed age range, or nil when either side has no age data.
func AgeDiff(caseAge, minAge, maxAge *float64) *float64 {
	if caseAge == nil || (minAge == nil && maxAge == nil) {
		return nil
	}
	lo, hi := minAge, maxAge
	if lo == nil {
		lo = hi
	}
	if hi == nil {
		hi = lo
	}
	if *lo > *hi {
		lo, hi = hi, lo
	}

	age := *caseAge
	switch {
	case age < *lo:
		return models.Float64Ptr(*lo - age)
	case age > *hi:
		return models.Float64Ptr(age - *hi)
	default:
		return models.Float64Ptr(0)
	}
}

// dayMask marks positions on a 365-day calendar.
type dayMask [daysPerYear]bool

func (m *dayMask) overlap(other *dayMask) int {
	n := 0
	for i := range m {
		if m[i] && other[i] {
			n++
		}
	}
	return n
}

// dayIndex maps a date to its 0-based position on a non-leap calendar;
// Feb 29 folds onto Feb 28.
func dayIndex(t time.Time) int {
	month, day := t.Month(), t.Day()
	if month == time.February && day == 29 {
		day = 28
	}
	return time.Date(2001, month, day, 0, 0, 0, 0, time.UTC).YearDay() - 1
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// windowMask marks days distinct positions walking back from end. A leap day
// folds onto the Feb 28 position and does not use up a day of the window.
func windowMask(end time.Time, days int) dayMask {
	var m dayMask
	if days > daysPerYear {
		days = daysPerYear
	}
	d := truncateDay(end)
	for n := 0; n < days; d = d.AddDate(0, 0, -1) {
		if idx := dayIndex(d); !m[idx] {
			m[idx] = true
			n++
		}
	}
	return m
}

func spanMask(start, end time.Time) dayMask {
	var m dayMask
	start, end = truncateDay(start), truncateDay(end)
	if int(end.Sub(start).Hours()/24)+1 >= daysPerYear {
		for i := range m {
			m[i] = true
		}
		return m
	}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		m[dayIndex(d)] = true
	}
	return m
}
