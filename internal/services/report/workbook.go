// Package report renders pairing run diagnostics as an Excel workbook.
package report

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/xuri/excelize/v2"

	"deer-cwd-pairing/internal/models"
	"deer-cwd-pairing/internal/utils"
)

// Sheet names
const (
	SheetRun       = "Run"
	SheetPairing   = "Selected Pairing"
	SheetTrials    = "Trials"
	SheetIntervals = "Interval Histogram"
	SheetAges      = "Age Histogram"
)

const (
	intervalBucketDays = 30
	ageBucketYears     = 1
	ageBucketCount     = 10
)

// Bucket is one histogram bin.
type Bucket struct {
	Label string
	Count int
}

// IntervalHistogram bins the interval overlap of assignments in 30-day buckets.
func IntervalHistogram(assignments []models.Assignment) []Bucket {
	n := models.MaxIntervalMatch/intervalBucketDays + 1
	buckets := make([]Bucket, n)
	for i := range buckets {
		lo := i * intervalBucketDays
		hi := lo + intervalBucketDays - 1
		if i == n-1 {
			hi = models.MaxIntervalMatch
		}
		buckets[i].Label = fmt.Sprintf("%d-%d", lo, hi)
	}
	for i := range assignments {
		idx := assignments[i].IntervalMatch / intervalBucketDays
		if idx >= n {
			idx = n - 1
		}
		buckets[idx].Count++
	}
	return buckets
}

// AgeHistogram bins the age difference of assignments in 1-year buckets,
// with an open last bucket and a bucket for missing values.
func AgeHistogram(assignments []models.Assignment) []Bucket {
	buckets := make([]Bucket, ageBucketCount+2)
	for i := 0; i < ageBucketCount; i++ {
		buckets[i].Label = fmt.Sprintf("[%d, %d)", i*ageBucketYears, (i+1)*ageBucketYears)
	}
	buckets[ageBucketCount].Label = fmt.Sprintf(">= %d", ageBucketCount*ageBucketYears)
	buckets[ageBucketCount+1].Label = "missing"

	for i := range assignments {
		a := &assignments[i]
		if !a.HasAgeDiff() {
			buckets[ageBucketCount+1].Count++
			continue
		}
		idx := int(*a.AgeDiff / ageBucketYears)
		if idx >= ageBucketCount {
			idx = ageBucketCount
		}
		buckets[idx].Count++
	}
	return buckets
}

// Workbook builds the diagnostics workbook for a run. The caller must Close it.
func Workbook(run *models.RunResult) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", SheetRun); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	for _, name := range []string{SheetPairing, SheetTrials, SheetIntervals, SheetAges} {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	w := &sheetWriter{f: f, header: header}
	w.runSheet(run)
	w.pairingSheet(run.Selected())
	w.trialsSheet(run.Results)
	w.histogramSheet(SheetIntervals, "interval_match_days", IntervalHistogram(run.Selected()))
	w.histogramSheet(SheetAges, "age_diff_years", AgeHistogram(run.Selected()))
	if w.err != nil {
		f.Close()
		return nil, w.err
	}

	return f, nil
}

// WriteWorkbook writes the diagnostics workbook for run to out.
func WriteWorkbook(out io.Writer, run *models.RunResult) error {
	f, err := Workbook(run)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(out); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	utils.GetLogger().Info("Wrote diagnostics workbook",
		utils.String("run_id", run.RunID),
		utils.Int("trials", len(run.Results)),
	)
	return nil
}

// WorkbookBytes renders the workbook into memory.
func WorkbookBytes(run *models.RunResult) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, run); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// sheetWriter keeps the first error so sheet builders can be written linearly.
type sheetWriter struct {
	f      *excelize.File
	header int
	err    error
}

func (w *sheetWriter) row(sheet string, rowNum int, values []interface{}) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		w.err = err
		return
	}
	if err := w.f.SetSheetRow(sheet, cell, &values); err != nil {
		w.err = fmt.Errorf("failed to write %s row %d: %w", sheet, rowNum, err)
	}
}

func (w *sheetWriter) headerRow(sheet string, columns []string) {
	values := make([]interface{}, len(columns))
	for i, c := range columns {
		values[i] = c
	}
	w.row(sheet, 1, values)
	if w.err != nil {
		return
	}
	last, err := excelize.CoordinatesToCellName(len(columns), 1)
	if err != nil {
		w.err = err
		return
	}
	if err := w.f.SetCellStyle(sheet, "A1", last, w.header); err != nil {
		w.err = err
	}
}

func (w *sheetWriter) runSheet(run *models.RunResult) {
	w.headerRow(SheetRun, []string{"field", "value"})
	fields := [][]interface{}{
		{"run_id", run.RunID},
		{"seed", run.Seed},
		{"trials", run.Trials},
		{"cases", run.Cases},
		{"controls", run.Controls},
		{"best_trial", run.Best.Trial},
		{"matches", run.Best.Matches},
		{"unmatched", run.Best.Unmatched},
		{"short_intervals", run.Best.ShortIntervals},
		{"median_interval", cellFloat(run.Best.MedianInterval)},
		{"median_age_diff", cellFloat(run.Best.MedianAgeDiff)},
		{"large_age_diffs", run.Best.LargeAgeDiffs},
		{"started_at", run.StartedAt.Format("2006-01-02T15:04:05Z07:00")},
		{"duration_seconds", run.Duration.Seconds()},
	}
	for i, values := range fields {
		w.row(SheetRun, i+2, values)
	}
}

func (w *sheetWriter) pairingSheet(assignments []models.Assignment) {
	w.headerRow(SheetPairing, utils.PairingColumns)
	for i := range assignments {
		a := &assignments[i]
		var age interface{} = ""
		if a.HasAgeDiff() {
			age = *a.AgeDiff
		}
		w.row(SheetPairing, i+2, []interface{}{
			a.CaseID, a.ControlID, a.CaseCoverageDays, a.SexMatch, a.IntervalMatch, age, string(a.Tier),
		})
	}
}

func (w *sheetWriter) trialsSheet(results []models.TrialResult) {
	w.headerRow(SheetTrials, utils.TrialColumns)
	for i := range results {
		t := &results[i]
		w.row(SheetTrials, i+2, []interface{}{
			t.Rank, t.Trial, t.Seed, t.Matches, t.Unmatched, t.ShortIntervals,
			cellFloat(t.MedianInterval), cellFloat(t.MedianAgeDiff), t.LargeAgeDiffs, t.MissingAgeDiff,
			t.IdealCount, t.AcceptCount, t.FallbackCount,
		})
	}
}

func (w *sheetWriter) histogramSheet(sheet, label string, buckets []Bucket) {
	w.headerRow(sheet, []string{label, "count"})
	for i, b := range buckets {
		w.row(sheet, i+2, []interface{}{b.Label, b.Count})
	}
}

// cellFloat keeps non-finite values out of numeric cells.
func cellFloat(v float64) interface{} {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return "NA"
	}
	return v
}
