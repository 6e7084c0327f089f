package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"deer-cwd-pairing/internal/handlers"
	"deer-cwd-pairing/internal/models"
	"deer-cwd-pairing/internal/services/candidates"
	"deer-cwd-pairing/internal/services/database"
	"deer-cwd-pairing/internal/utils"
)

// createBuildCmd creates the build subcommand
func createBuildCmd() *cobra.Command {
	var casesPath, controlsPath, outPath string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a candidate table from case and control rosters",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			parser := utils.NewCSVParser()

			caseData, err := readInput(ctx, casesPath)
			if err != nil {
				return err
			}
			cases, errs := parser.ParseCases(bytes.NewReader(caseData))
			if len(errs) > 0 {
				return fmt.Errorf("invalid case roster: %w", errs[0])
			}

			controlData, err := readInput(ctx, controlsPath)
			if err != nil {
				return err
			}
			controls, errs := parser.ParseControls(bytes.NewReader(controlData))
			if len(errs) > 0 {
				return fmt.Errorf("invalid control roster: %w", errs[0])
			}

			records, err := candidates.Build(cases, controls, candidates.Options{WindowDays: cfg.WindowDays})
			if err != nil {
				return err
			}

			if outPath == "-" {
				return utils.WriteCandidatesCSV(cmd.OutOrStdout(), records)
			}

			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", outPath, err)
			}
			if err := utils.WriteCandidatesCSV(f, records); err != nil {
				f.Close()
				return fmt.Errorf("failed to write %s: %w", outPath, err)
			}
			if err := f.Close(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d candidate rows (%d cases x %d controls) to %s\n",
				len(records), len(cases), len(controls), outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&casesPath, "cases", "", "case roster CSV")
	cmd.Flags().StringVar(&controlsPath, "controls", "", "control roster CSV")
	cmd.Flags().StringVar(&outPath, "out", "candidates.csv", "candidate table output, - for stdout")
	_ = cmd.MarkFlagRequired("cases")
	_ = cmd.MarkFlagRequired("controls")

	return cmd
}

// createValidateCmd creates the validate subcommand
func createValidateCmd() *cobra.Command {
	var candidatesPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that a candidate table is a dense, well-formed cross product",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.Context(), candidatesPath)
			if err != nil {
				return err
			}

			p, err := handlers.LoadCandidatesBytes(data)
			if err != nil {
				return err
			}

			high := 0
			for _, c := range p.Cases() {
				if c.CoverageDays > cfg.CoverageThreshold {
					high++
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "OK: %d cases x %d controls = %d rows\n", len(p.Cases()), len(p.Controls()), p.Rows())
			fmt.Fprintf(out, "high coverage cases (> %d days): %d\n", cfg.CoverageThreshold, high)
			return nil
		},
	}

	cmd.Flags().StringVar(&candidatesPath, "candidates", "", "candidate table CSV (local path or s3://bucket/key)")
	_ = cmd.MarkFlagRequired("candidates")

	return cmd
}

// createMigrateCmd creates the migrate subcommand
func createMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the pairing tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(func(repo *database.PairingRepository) error {
				if err := repo.EnsureSchema(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
				return nil
			})
		},
	}
}

// createRunsCmd creates the runs subcommand
func createRunsCmd() *cobra.Command {
	var since time.Duration
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored pairing runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(func(repo *database.PairingRepository) error {
				runs, err := repo.ListRecentRuns(cmd.Context(), since, limit)
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "RUN ID\tCREATED\tTRIALS\tMATCHES\tUNMATCHED\tMEDIAN INTERVAL\tSOURCE")
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%.1f\t%s\n",
						r.RunID, r.CreatedAt.Format(time.RFC3339), r.Trials, r.Matches, r.Unmatched, r.MedianInterval, r.Source)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().DurationVar(&since, "since", 30*24*time.Hour, "only runs created within this duration")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")

	return cmd
}

// createShowCmd creates the show subcommand
func createShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [run-id]",
		Short: "Print the selected pairing of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(func(repo *database.PairingRepository) error {
				run, err := repo.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if run == nil {
					return fmt.Errorf("run %s not found", args[0])
				}

				assignments, err := repo.GetRunAssignments(cmd.Context(), run.RunID)
				if err != nil {
					return err
				}

				return writeStoredPairing(cmd.OutOrStdout(), cmd.ErrOrStderr(), run, assignments)
			})
		},
	}
}

// writeStoredPairing writes the pairing CSV to out and the run banner to info,
// so out can be redirected to a file.
func writeStoredPairing(out, info io.Writer, run *models.RunRecord, assignments []models.Assignment) error {
	fmt.Fprintf(info, "Run %s (trial %d of %d, seed %d, %s)\n",
		run.RunID, run.BestTrial, run.Trials, run.Seed, run.CreatedAt.Format(time.RFC3339))
	return utils.WritePairingCSV(out, assignments)
}

// createDeleteCmd creates the delete subcommand
func createDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [run-id]",
		Short: "Remove a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(func(repo *database.PairingRepository) error {
				deleted, err := repo.DeleteRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !deleted {
					return fmt.Errorf("run %s not found", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
				return nil
			})
		},
	}
}
