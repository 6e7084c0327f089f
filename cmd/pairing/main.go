// Package main provides the command line interface of the case-control pairing tool.
package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"deer-cwd-pairing/internal/config"
	"deer-cwd-pairing/internal/handlers"
	"deer-cwd-pairing/internal/models"
	"deer-cwd-pairing/internal/services/database"
	"deer-cwd-pairing/internal/services/orchestrator"
	"deer-cwd-pairing/internal/services/report"
	s3service "deer-cwd-pairing/internal/services/s3"
	"deer-cwd-pairing/internal/utils"
)

// cfg is loaded once before any subcommand runs.
var cfg *config.Config

func main() {
	rootCmd := &cobra.Command{
		Use:           "pairing",
		Short:         "CWD case-control pairing",
		Long:          `Pairs CWD mortality cases with surviving control deer by running many randomized greedy matching trials and keeping the best.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			return utils.InitLogger(cfg.LogLevel)
		},
	}

	rootCmd.AddCommand(createRunCmd())
	rootCmd.AddCommand(createBuildCmd())
	rootCmd.AddCommand(createValidateCmd())
	rootCmd.AddCommand(createMigrateCmd())
	rootCmd.AddCommand(createRunsCmd())
	rootCmd.AddCommand(createShowCmd())
	rootCmd.AddCommand(createDeleteCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	utils.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// createRunCmd creates the run subcommand
func createRunCmd() *cobra.Command {
	var (
		candidatesPath string
		outDir         string
		trials         int
		seed           int64
		workers        int
		persist        bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the multi-trial pairing over a candidate table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("trials") {
				cfg.Trials = trials
			}
			if cmd.Flags().Changed("seed") {
				cfg.Seed = seed
			}
			if cmd.Flags().Changed("workers") {
				cfg.Workers = workers
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			data, err := readInput(ctx, candidatesPath)
			if err != nil {
				return err
			}

			p, err := handlers.LoadCandidatesBytes(data)
			if err != nil {
				return err
			}

			run, err := handlers.RunPairing(ctx, orchestrator.ParamsFromConfig(cfg), p)
			if err != nil {
				return err
			}

			if err := writeOutputs(outDir, run); err != nil {
				return err
			}

			if persist {
				if err := saveRun(ctx, run, candidatesPath); err != nil {
					return err
				}
			}

			printRunSummary(cmd.OutOrStdout(), run, outDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&candidatesPath, "candidates", "", "candidate table CSV (local path or s3://bucket/key)")
	cmd.Flags().StringVar(&outDir, "out", "out", "directory for pairing.csv, trials.csv and diagnostics.xlsx")
	cmd.Flags().IntVar(&trials, "trials", 0, "number of trials (overrides PAIRING_TRIALS)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "base random seed (overrides PAIRING_SEED)")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent trial workers (overrides PAIRING_WORKERS)")
	cmd.Flags().BoolVar(&persist, "persist", false, "store the run in the database")
	_ = cmd.MarkFlagRequired("candidates")

	return cmd
}

// readInput reads a local file or an s3:// object.
func readInput(ctx context.Context, path string) ([]byte, error) {
	if !s3service.IsURI(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return data, nil
	}

	loc, err := s3service.ParseURI(path)
	if err != nil {
		return nil, err
	}
	svc, err := s3service.NewService(ctx, cfg.AWSRegion, loc.Bucket)
	if err != nil {
		return nil, err
	}
	return svc.DownloadFile(ctx, loc.Bucket, loc.Key)
}

func writeOutputs(dir string, run *models.RunResult) error {
	outputs, err := report.Outputs(run)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for _, out := range outputs {
		path := filepath.Join(dir, out.Name)
		if err := os.WriteFile(path, out.Data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		utils.GetLogger().Debug("Wrote output", utils.String("path", path), utils.Int("size", len(out.Data)))
	}
	return nil
}

func saveRun(ctx context.Context, run *models.RunResult, source string) error {
	return withRepository(func(repo *database.PairingRepository) error {
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		return repo.SaveRun(ctx, run, source)
	})
}

// withRepository opens the configured database for the duration of fn.
func withRepository(fn func(repo *database.PairingRepository) error) error {
	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	return fn(database.NewPairingRepository(db))
}

func printRunSummary(w io.Writer, run *models.RunResult, outDir string) {
	fmt.Fprintf(w, "Run %s\n", run.RunID)
	fmt.Fprintf(w, "  trials:          %d (seed %d)\n", run.Trials, run.Seed)
	fmt.Fprintf(w, "  cases/controls:  %d/%d\n", run.Cases, run.Controls)
	fmt.Fprintf(w, "  selected trial:  %d\n", run.Best.Trial)
	fmt.Fprintf(w, "  matches:         %d (unmatched %d)\n", run.Best.Matches, run.Best.Unmatched)
	fmt.Fprintf(w, "  tiers:           ideal %d, acceptable %d, fallback %d\n",
		run.Best.IdealCount, run.Best.AcceptCount, run.Best.FallbackCount)
	fmt.Fprintf(w, "  short intervals: %d\n", run.Best.ShortIntervals)
	fmt.Fprintf(w, "  median interval: %.1f days\n", run.Best.MedianInterval)
	fmt.Fprintf(w, "  median age diff: %s\n", formatYears(run.Best.MedianAgeDiff))
	fmt.Fprintf(w, "  outputs:         %s\n", outDir)
}

func formatYears(v float64) string {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return "NA"
	}
	return fmt.Sprintf("%.2f years", v)
}
