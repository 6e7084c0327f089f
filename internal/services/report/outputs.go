package report

import (
	"bytes"
	"fmt"

	"deer-cwd-pairing/internal/models"
	"deer-cwd-pairing/internal/utils"
)

// Output file names
const (
	FilePairing  = "pairing.csv"
	FileTrials   = "trials.csv"
	FileWorkbook = "diagnostics.xlsx"
)

// Content types
const (
	ContentTypeCSV  = "text/csv"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Output is one rendered run artifact.
type Output struct {
	Name        string
	ContentType string
	Data        []byte
}

// Outputs renders the selected pairing, the trial summaries and the
// diagnostics workbook of a run.
func Outputs(run *models.RunResult) ([]Output, error) {
	var pairing bytes.Buffer
	if err := utils.WritePairingCSV(&pairing, run.Selected()); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", FilePairing, err)
	}

	var trials bytes.Buffer
	if err := utils.WriteTrialsCSV(&trials, run.Results); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", FileTrials, err)
	}

	workbook, err := WorkbookBytes(run)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", FileWorkbook, err)
	}

	return []Output{
		{Name: FilePairing, ContentType: ContentTypeCSV, Data: pairing.Bytes()},
		{Name: FileTrials, ContentType: ContentTypeCSV, Data: trials.Bytes()},
		{Name: FileWorkbook, ContentType: ContentTypeXLSX, Data: workbook},
	}, nil
}
