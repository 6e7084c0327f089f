package orchestrator_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deer-cwd-pairing/internal/models"
	"deer-cwd-pairing/internal/services/matcher"
	"deer-cwd-pairing/internal/services/orchestrator"
	"deer-cwd-pairing/internal/services/pool"
)

func age(v float64) *float64 { return models.Float64Ptr(v) }

// testParams returns small, fully specified run parameters
func testParams(trials, workers int) orchestrator.Params {
	p := orchestrator.DefaultParams()
	p.Trials = trials
	p.Workers = workers
	p.Seed = 20210601
	return p
}

// syntheticTable builds a dense table whose attributes vary deterministically
// with the case and control index, so different orders give different pairings.
func syntheticTable(nCases, nControls int) []*models.CandidateRecord {
	rng := rand.New(rand.NewSource(99))
	records := make([]*models.CandidateRecord, 0, nCases*nControls)
	for i := 0; i < nCases; i++ {
		coverage := 20 + rng.Intn(300)
		for j := 0; j < nControls; j++ {
			var ageDiff *float64
			if rng.Intn(10) > 0 {
				ageDiff = age(float64(rng.Intn(80)) / 10)
			}
			interval := models.MaxIntervalMatch
			if rng.Intn(3) == 0 {
				interval = rng.Intn(models.MaxIntervalMatch)
			}
			records = append(records, &models.CandidateRecord{
				CaseID:           fmt.Sprintf("C%02d", i),
				ControlID:        fmt.Sprintf("K%02d", j),
				CaseCoverageDays: coverage,
				SexMatch:         rng.Intn(4) > 0,
				IntervalMatch:    interval,
				AgeDiff:          ageDiff,
			})
		}
	}
	return records
}

func newOrchestrator(t *testing.T, params orchestrator.Params, records []*models.CandidateRecord) *orchestrator.Orchestrator {
	t.Helper()
	p, err := pool.New(records)
	require.NoError(t, err)
	o, err := orchestrator.New(params, p)
	require.NoError(t, err)
	return o
}

func TestNew_RejectsInvalidParams(t *testing.T) {
	p, err := pool.New(syntheticTable(2, 2))
	require.NoError(t, err)

	params := testParams(0, 1)
	_, err = orchestrator.New(params, p)
	assert.ErrorIs(t, err, models.ErrInvalidConfig)

	_, err = orchestrator.New(testParams(1, 1), nil)
	assert.Error(t, err)
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *orchestrator.Params)
	}{
		{"zero trials", func(p *orchestrator.Params) { p.Trials = 0 }},
		{"zero workers", func(p *orchestrator.Params) { p.Workers = 0 }},
		{"negative coverage threshold", func(p *orchestrator.Params) { p.CoverageThreshold = -1 }},
		{"negative interval quality", func(p *orchestrator.Params) { p.IntervalQualityDays = -5 }},
		{"negative age quality", func(p *orchestrator.Params) { p.AgeQualityYears = -1 }},
		{"ideal above acceptable", func(p *orchestrator.Params) { p.Criteria.IdealAgeYears = 9 }},
		{"max interval out of range", func(p *orchestrator.Params) { p.Criteria.MaxIntervalDays = 0 }},
	}

	assert.NoError(t, orchestrator.DefaultParams().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := orchestrator.DefaultParams()
			tt.mutate(&p)
			assert.ErrorIs(t, p.Validate(), models.ErrInvalidConfig)
		})
	}
}

func TestTrialSeed_DistinctAndStable(t *testing.T) {
	seen := map[int64]bool{}
	for trial := 0; trial < 1000; trial++ {
		s := orchestrator.TrialSeed(20210601, trial)
		assert.False(t, seen[s], "Trial %d reuses a seed", trial)
		seen[s] = true
		assert.Equal(t, s, orchestrator.TrialSeed(20210601, trial))
	}
	assert.NotEqual(t, orchestrator.TrialSeed(1, 0), orchestrator.TrialSeed(2, 0))
}

func TestCaseOrder_HighCoverageFirst(t *testing.T) {
	cases := []models.CaseInfo{
		{CaseID: "L1", CoverageDays: 180},
		{CaseID: "H1", CoverageDays: 181},
		{CaseID: "L2", CoverageDays: 10},
		{CaseID: "H2", CoverageDays: 365},
		{CaseID: "H3", CoverageDays: 200},
		{CaseID: "L3", CoverageDays: 0},
	}

	orders := map[string]bool{}
	for seed := int64(0); seed < 200; seed++ {
		order := orchestrator.CaseOrder(cases, 180, rand.New(rand.NewSource(seed)))
		require.Len(t, order, 6)
		assert.ElementsMatch(t, []string{"H1", "H2", "H3"}, order[:3], "Coverage above the threshold goes first")
		assert.ElementsMatch(t, []string{"L1", "L2", "L3"}, order[3:], "Coverage at the threshold is low")
		orders[fmt.Sprint(order)] = true
	}
	assert.Greater(t, len(orders), 10, "Orders within each group are shuffled")
}

func TestRun_ControlAndCaseUniqueness(t *testing.T) {
	records := syntheticTable(12, 15)
	o := newOrchestrator(t, testParams(60, 4), records)

	roster := map[string]bool{}
	for _, r := range records {
		roster[r.CaseID] = true
	}

	for trial := 0; trial < 60; trial++ {
		pairing := o.RunTrial(trial)

		cases := map[string]bool{}
		controls := map[string]bool{}
		for _, a := range pairing.Assignments {
			assert.False(t, cases[a.CaseID], "Case %s assigned twice in trial %d", a.CaseID, trial)
			assert.False(t, controls[a.ControlID], "Control %s assigned twice in trial %d", a.ControlID, trial)
			assert.True(t, roster[a.CaseID])
			assert.True(t, a.SexMatch, "Only sex-matched pairs are assigned")
			cases[a.CaseID] = true
			controls[a.ControlID] = true
		}
		assert.Equal(t, 12, len(pairing.Assignments)+len(pairing.Unmatched), "Every case is either assigned or unmatched")
	}
}

func TestRunTrial_PoolShrinkage(t *testing.T) {
	records := syntheticTable(10, 8)
	p, err := pool.New(records)
	require.NoError(t, err)

	params := testParams(1, 1)
	o, err := orchestrator.New(params, p)
	require.NoError(t, err)

	// Rebuild trial 3 step by step to observe its working copy.
	seed := orchestrator.TrialSeed(params.Seed, 3)
	rng := rand.New(rand.NewSource(seed))
	order := orchestrator.CaseOrder(p.Cases(), params.CoverageThreshold, rng)
	avail := p.NewAvailable()
	pairing := matcher.New(params.Criteria).Run(3, seed, order, avail, rng)

	assert.Equal(t, len(p.Controls())-len(pairing.Assignments), avail.Size())
	assert.Equal(t, pairing.Assignments, o.RunTrial(3).Assignments, "RunTrial is the same composition")
}

func TestRun_DeterministicAcrossWorkerCounts(t *testing.T) {
	records := syntheticTable(15, 20)

	var baseline *models.RunResult
	for _, workers := range []int{1, 3, 8} {
		o := newOrchestrator(t, testParams(40, workers), records)
		run, err := o.Run(context.Background())
		require.NoError(t, err)

		if baseline == nil {
			baseline = run
			continue
		}

		require.Len(t, run.Results, len(baseline.Results))
		for i := range run.Results {
			assert.Equal(t, baseline.Results[i].Trial, run.Results[i].Trial, "Ranking order differs at %d with %d workers", i, workers)
			assert.Equal(t, baseline.Results[i].Pairing.Assignments, run.Results[i].Pairing.Assignments)
		}
		assert.Equal(t, baseline.Selected(), run.Selected())
	}
}

func TestRun_BestIsTopRanked(t *testing.T) {
	o := newOrchestrator(t, testParams(25, 2), syntheticTable(10, 10))
	run, err := o.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, run.Results, 25)
	assert.Equal(t, 1, run.Best.Rank)
	assert.Equal(t, run.Results[0].Trial, run.Best.Trial)
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, 10, run.Cases)
	assert.Equal(t, 10, run.Controls)

	for i := 1; i < len(run.Results); i++ {
		assert.LessOrEqual(t, orchestrator.Compare(&run.Results[i-1], &run.Results[i]), 0)
		assert.Equal(t, i+1, run.Results[i].Rank)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	o := newOrchestrator(t, testParams(10, 2), syntheticTable(3, 3))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := o.Run(ctx)
	assert.Nil(t, run)
	assert.ErrorIs(t, err, context.Canceled)
}

// Scenario A: case A (coverage 200) has a single ideal control X, case B
// (coverage 50) only has fallback candidates.
func TestRun_ScenarioUniqueIdealMatch(t *testing.T) {
	records := []*models.CandidateRecord{
		{CaseID: "A", ControlID: "X", CaseCoverageDays: 200, SexMatch: true, IntervalMatch: 183, AgeDiff: age(0.5)},
		{CaseID: "A", ControlID: "Y", CaseCoverageDays: 200, SexMatch: true, IntervalMatch: 100, AgeDiff: age(0.5)},
		{CaseID: "A", ControlID: "Z", CaseCoverageDays: 200, SexMatch: true, IntervalMatch: 183, AgeDiff: age(7)},
		{CaseID: "B", ControlID: "X", CaseCoverageDays: 50, SexMatch: true, IntervalMatch: 150, AgeDiff: age(1)},
		{CaseID: "B", ControlID: "Y", CaseCoverageDays: 50, SexMatch: true, IntervalMatch: 120, AgeDiff: age(2)},
		{CaseID: "B", ControlID: "Z", CaseCoverageDays: 50, SexMatch: true, IntervalMatch: 120, AgeDiff: age(3)},
	}
	o := newOrchestrator(t, testParams(500, 4), records)

	run, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, run.Results, 500)

	for _, res := range run.Results {
		byCase := map[string]string{}
		for _, a := range res.Pairing.Assignments {
			byCase[a.CaseID] = a.ControlID
		}
		assert.Equal(t, "X", byCase["A"], "Trial %d", res.Trial)
		require.Contains(t, byCase, "B")
		assert.NotEqual(t, "X", byCase["B"], "Trial %d", res.Trial)
	}
}

// Scenario B: a case without any sex-matched control never appears.
func TestRun_ScenarioNoSexMatch(t *testing.T) {
	records := []*models.CandidateRecord{
		{CaseID: "A", ControlID: "X", CaseCoverageDays: 200, SexMatch: true, IntervalMatch: 183, AgeDiff: age(0.5)},
		{CaseID: "A", ControlID: "Y", CaseCoverageDays: 200, SexMatch: true, IntervalMatch: 183, AgeDiff: age(0.7)},
		{CaseID: "N", ControlID: "X", CaseCoverageDays: 300, SexMatch: false, IntervalMatch: 183, AgeDiff: age(0)},
		{CaseID: "N", ControlID: "Y", CaseCoverageDays: 300, SexMatch: false, IntervalMatch: 183, AgeDiff: age(0)},
	}
	o := newOrchestrator(t, testParams(100, 3), records)

	run, err := o.Run(context.Background())
	require.NoError(t, err)

	for _, res := range run.Results {
		for _, a := range res.Pairing.Assignments {
			assert.NotEqual(t, "N", a.CaseID)
		}
		assert.Equal(t, []string{"N"}, res.Pairing.Unmatched)
		assert.Equal(t, 1, res.Matches)
	}
}

func TestRun_DegenerateTrialsStillRank(t *testing.T) {
	records := []*models.CandidateRecord{
		{CaseID: "A", ControlID: "X", CaseCoverageDays: 200, SexMatch: false, IntervalMatch: 183},
	}
	o := newOrchestrator(t, testParams(5, 2), records)

	run, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, run.Results, 5)
	assert.Equal(t, 0, run.Best.Matches)
	assert.Equal(t, 0, run.Best.Trial, "All-tied trials rank by trial index")
	assert.Empty(t, run.Selected())
}
