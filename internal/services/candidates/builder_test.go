package candidates_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deer-cwd-pairing/internal/models"
	"deer-cwd-pairing/internal/services/candidates"
	"deer-cwd-pairing/internal/services/pool"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func years(v float64) *float64 { return models.Float64Ptr(v) }

func TestIntervalOverlap(t *testing.T) {
	mortality := date(2020, time.December, 31)

	tests := []struct {
		name       string
		start, end time.Time
		expected   int
	}{
		{"full year covers the window", date(2018, time.January, 1), date(2018, time.December, 31), 183},
		{"multi-year span covers the window", date(2016, time.May, 1), date(2019, time.May, 1), 183},
		{"single day inside the window", date(2017, time.December, 1), date(2017, time.December, 1), 1},
		{"december in another year", date(2015, time.December, 1), date(2015, time.December, 31), 31},
		{"outside the window", date(2019, time.January, 1), date(2019, time.March, 31), 0},
		{"span crossing new year", date(2018, time.December, 30), date(2019, time.January, 2), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, candidates.IntervalOverlap(mortality, 183, tt.start, tt.end))
		})
	}
}

func TestIntervalOverlap_LeapDayFolds(t *testing.T) {
	// Feb 29 lands on the Feb 28 position.
	got := candidates.IntervalOverlap(date(2021, time.March, 1), 2, date(2020, time.February, 29), date(2020, time.February, 29))
	assert.Equal(t, 1, got)
}

func TestIntervalOverlap_WindowAcrossLeapDay(t *testing.T) {
	tests := []struct {
		name      string
		mortality time.Time
	}{
		{"window contains Feb 29", date(2020, time.May, 1)},
		{"window ends the day after Feb 29", date(2020, time.March, 1)},
		{"mortality on Feb 29", date(2020, time.February, 29)},
		{"window starts near Feb 29", date(2020, time.August, 28)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := candidates.IntervalOverlap(tt.mortality, 183, date(2019, time.January, 1), date(2021, time.January, 1))
			assert.Equal(t, 183, got, "A full-coverage control reaches the maximum overlap")
		})
	}

	// Feb 29 and Feb 28 share a position, so a 3-day window ending Mar 1
	// reaches back to Feb 27.
	got := candidates.IntervalOverlap(date(2020, time.March, 1), 3, date(2019, time.February, 27), date(2019, time.February, 27))
	assert.Equal(t, 1, got)
}

func TestAgeDiff(t *testing.T) {
	tests := []struct {
		name            string
		caseAge, lo, hi *float64
		expected        *float64
	}{
		{"inside the range", years(3), years(2), years(4), years(0)},
		{"below the range", years(1.5), years(2), years(4), years(0.5)},
		{"above the range", years(6), years(2), years(4), years(2)},
		{"only a minimum", years(6), years(2), nil, years(4)},
		{"only a maximum", years(1), nil, years(4), years(3)},
		{"case age unknown", nil, years(2), years(4), nil},
		{"control ages unknown", years(2), nil, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := candidates.AgeDiff(tt.caseAge, tt.lo, tt.hi)
			if tt.expected == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.expected, *got, 1e-9)
		})
	}
}

func TestBuild_DenseTableLoadsIntoPool(t *testing.T) {
	cases := []*models.CaseRecord{
		{ID: "D1", Sex: models.SexMale, MortalityDate: date(2020, time.November, 3), AgeAtDeath: years(3.5), CoverageDays: 210},
		{ID: "D2", Sex: models.SexFemale, MortalityDate: date(2021, time.April, 20), CoverageDays: 40},
	}
	controls := []*models.ControlRecord{
		{ID: "K1", Sex: models.SexMale, ObsStart: date(2019, time.January, 1), ObsEnd: date(2020, time.December, 31), MinAge: years(2), MaxAge: years(3)},
		{ID: "K2", Sex: models.SexFemale, ObsStart: date(2019, time.June, 1), ObsEnd: date(2019, time.August, 31)},
		{ID: "K3", Sex: models.SexUnknown, ObsStart: date(2019, time.January, 1), ObsEnd: date(2019, time.January, 31)},
	}

	records, err := candidates.Build(cases, controls, candidates.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, records, 6)

	d1k1 := records[0]
	assert.Equal(t, "D1", d1k1.CaseID)
	assert.Equal(t, "K1", d1k1.ControlID)
	assert.Equal(t, 210, d1k1.CaseCoverageDays)
	assert.True(t, d1k1.SexMatch)
	assert.Equal(t, 183, d1k1.IntervalMatch)
	require.NotNil(t, d1k1.AgeDiff)
	assert.InDelta(t, 0.5, *d1k1.AgeDiff, 1e-9)

	d1k2 := records[1]
	assert.False(t, d1k2.SexMatch)
	assert.Nil(t, d1k2.AgeDiff)

	assert.False(t, records[2].SexMatch, "Unknown sex never matches")
	assert.True(t, records[4].SexMatch, "D2 and K2 are both female")

	p, err := pool.New(records)
	require.NoError(t, err)
	assert.Len(t, p.Cases(), 2)
	assert.Len(t, p.Controls(), 3)
}

func TestBuild_Errors(t *testing.T) {
	okCase := &models.CaseRecord{ID: "D1", MortalityDate: date(2020, time.May, 1)}
	okControl := &models.ControlRecord{ID: "K1", ObsStart: date(2019, time.May, 1), ObsEnd: date(2019, time.June, 1)}

	_, err := candidates.Build(nil, []*models.ControlRecord{okControl}, candidates.DefaultOptions())
	assert.ErrorIs(t, err, models.ErrEmptyRoster)

	_, err = candidates.Build([]*models.CaseRecord{okCase}, nil, candidates.DefaultOptions())
	assert.ErrorIs(t, err, models.ErrEmptyRoster)

	_, err = candidates.Build([]*models.CaseRecord{okCase, okCase}, []*models.ControlRecord{okControl}, candidates.DefaultOptions())
	assert.ErrorIs(t, err, models.ErrDuplicateID)

	bad := &models.ControlRecord{ID: "K2", ObsStart: date(2019, time.June, 1), ObsEnd: date(2019, time.May, 1)}
	_, err = candidates.Build([]*models.CaseRecord{okCase}, []*models.ControlRecord{bad}, candidates.DefaultOptions())
	assert.ErrorIs(t, err, models.ErrInvalidObsWindow)

	_, err = candidates.Build([]*models.CaseRecord{okCase}, []*models.ControlRecord{okControl}, candidates.Options{WindowDays: 0})
	assert.ErrorIs(t, err, models.ErrInvalidConfig)
}
