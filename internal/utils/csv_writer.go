package utils

import (
	"encoding/csv"
	"io"
	"strconv"

	"deer-cwd-pairing/internal/models"
)

// PairingColumns is the header of a selected-pairing table.
var PairingColumns = append(append([]string{}, RequiredCandidateColumns...), "tier")

// TrialColumns is the header of a trial summary table.
var TrialColumns = []string{
	"rank", "trial", "seed", "matches", "unmatched", "short_intervals",
	"median_interval", "median_age_diff", "large_age_diffs", "missing_age_diff",
	"ideal", "acceptable", "fallback",
}

// WriteCandidatesCSV writes a candidate table in the loader's column layout.
func WriteCandidatesCSV(w io.Writer, records []*models.CandidateRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(RequiredCandidateColumns); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write(CandidateRow(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WritePairingCSV writes the selected assignments with their tier.
func WritePairingCSV(w io.Writer, assignments []models.Assignment) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(PairingColumns); err != nil {
		return err
	}
	for i := range assignments {
		a := &assignments[i]
		if err := cw.Write(append(CandidateRow(&a.CandidateRecord), string(a.Tier))); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTrialsCSV writes one summary row per trial in rank order.
func WriteTrialsCSV(w io.Writer, results []models.TrialResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(TrialColumns); err != nil {
		return err
	}
	for i := range results {
		if err := cw.Write(TrialRow(&results[i])); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CandidateRow renders a candidate in RequiredCandidateColumns order.
func CandidateRow(r *models.CandidateRecord) []string {
	return []string{
		r.CaseID,
		r.ControlID,
		strconv.Itoa(r.CaseCoverageDays),
		strconv.FormatBool(r.SexMatch),
		strconv.Itoa(r.IntervalMatch),
		r.AgeDiffString(),
	}
}

// TrialRow renders a trial summary in TrialColumns order.
func TrialRow(t *models.TrialResult) []string {
	return []string{
		strconv.Itoa(t.Rank),
		strconv.Itoa(t.Trial),
		strconv.FormatInt(t.Seed, 10),
		strconv.Itoa(t.Matches),
		strconv.Itoa(t.Unmatched),
		strconv.Itoa(t.ShortIntervals),
		strconv.FormatFloat(t.MedianInterval, 'f', -1, 64),
		strconv.FormatFloat(t.MedianAgeDiff, 'f', -1, 64),
		strconv.Itoa(t.LargeAgeDiffs),
		strconv.Itoa(t.MissingAgeDiff),
		strconv.Itoa(t.IdealCount),
		strconv.Itoa(t.AcceptCount),
		strconv.Itoa(t.FallbackCount),
	}
}
