// Package orchestrator runs many independent randomized matching trials and
// selects the best resulting pairing.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"deer-cwd-pairing/internal/models"
	"deer-cwd-pairing/internal/services/matcher"
	"deer-cwd-pairing/internal/services/pool"
	"deer-cwd-pairing/internal/utils"
)

// Orchestrator runs the multi-trial pairing search over one candidate pool.
type Orchestrator struct {
	params  Params
	pool    *pool.Pool
	matcher *matcher.Matcher
}

// New creates a new orchestrator. Invalid parameters fail here, before any trial runs.
func New(params Params, p *pool.Pool) (*Orchestrator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.New("candidate pool is required")
	}

	return &Orchestrator{
		params:  params,
		pool:    p,
		matcher: matcher.New(params.Criteria),
	}, nil
}

// Params returns the run parameters.
func (o *Orchestrator) Params() Params {
	return o.params
}

// TrialSeed derives the seed of a trial's random stream from the run seed.
// Streams depend only on (base, trial), never on scheduling.
func TrialSeed(base int64, trial int) int64 {
	// splitmix64 finalizer
	z := uint64(base) + uint64(trial+1)*0x9E3779B97F4A7C15
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return int64(z ^ (z >> 31))
}

// CaseOrder builds a trial's processing order: cases with coverage above
// threshold shuffled, followed by the remaining cases shuffled.
func CaseOrder(cases []models.CaseInfo, threshold int, rng *rand.Rand) []string {
	var high, low []string
	for _, c := range cases {
		if c.CoverageDays > threshold {
			high = append(high, c.CaseID)
		} else {
			low = append(low, c.CaseID)
		}
	}

	rng.Shuffle(len(high), func(i, j int) { high[i], high[j] = high[j], high[i] })
	rng.Shuffle(len(low), func(i, j int) { low[i], low[j] = low[j], low[i] })

	return append(high, low...)
}

// RunTrial executes a single trial with its own random stream and working pool.
func (o *Orchestrator) RunTrial(trial int) *models.Pairing {
	seed := TrialSeed(o.params.Seed, trial)
	rng := rand.New(rand.NewSource(seed))

	order := CaseOrder(o.pool.Cases(), o.params.CoverageThreshold, rng)
	return o.matcher.Run(trial, seed, order, o.pool.NewAvailable(), rng)
}

// Run executes all trials on a bounded set of workers, ranks the results and
// promotes the top-ranked trial.
func (o *Orchestrator) Run(ctx context.Context) (*models.RunResult, error) {
	startTime := time.Now()
	logger := utils.GetLogger()

	logger.Info("Starting pairing run",
		utils.Int("trials", o.params.Trials),
		utils.Int("workers", o.params.Workers),
		utils.Int64("seed", o.params.Seed),
		utils.Int("cases", len(o.pool.Cases())),
		utils.Int("controls", len(o.pool.Controls())),
	)

	pairings := make([]*models.Pairing, o.params.Trials)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.params.Workers)
	for trial := 0; trial < o.params.Trials; trial++ {
		trial := trial
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pairings[trial] = o.RunTrial(trial)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("pairing run interrupted: %w", err)
	}

	results := make([]models.TrialResult, len(pairings))
	for i, p := range pairings {
		results[i] = Summarize(p, o.params.IntervalQualityDays, o.params.AgeQualityYears)
	}
	ranked := Rank(results)

	run := &models.RunResult{
		RunID:     uuid.NewString(),
		Seed:      o.params.Seed,
		Trials:    o.params.Trials,
		Cases:     len(o.pool.Cases()),
		Controls:  len(o.pool.Controls()),
		Results:   ranked,
		Best:      ranked[0],
		StartedAt: startTime.UTC(),
		Duration:  time.Since(startTime),
	}

	logger.Info("Pairing run complete",
		utils.String("run_id", run.RunID),
		utils.Int("best_trial", run.Best.Trial),
		utils.Int("matches", run.Best.Matches),
		utils.Int("unmatched", run.Best.Unmatched),
		utils.Int("short_intervals", run.Best.ShortIntervals),
		utils.Float64("median_interval", run.Best.MedianInterval),
		utils.Float64("median_age_diff", run.Best.MedianAgeDiff),
		utils.Duration("processing_time", run.Duration),
	)

	return run, nil
}
