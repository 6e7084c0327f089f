package utils

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"deer-cwd-pairing/internal/models"
)

// CSVParser errors
var (
	ErrEmptyCSV       = errors.New("CSV content is empty")
	ErrMissingColumns = errors.New("missing required columns")
	ErrNoDataRows     = errors.New("CSV file contains no data rows")
	ErrInvalidRowData = errors.New("invalid row data")
)

// RequiredCandidateColumns defines the columns that must be present in a candidate table.
var RequiredCandidateColumns = []string{
	"case_id",
	"control_id",
	"case_coverage_days",
	"sex_match",
	"interval_match",
	"age_diff",
}

// ColumnAliases maps alternative column names to standard names.
// Keys are lower-cased with spaces and dashes folded to underscores.
var ColumnAliases = map[string]string{
	// case_id aliases
	"case":     "case_id",
	"caseid":   "case_id",
	"case_ani": "case_id",
	"cwd_id":   "case_id",

	// control_id aliases
	"control":   "control_id",
	"controlid": "control_id",
	"ctrl_id":   "control_id",
	"ctrl":      "control_id",

	// case_coverage_days aliases
	"case_days":     "case_coverage_days",
	"coverage_days": "case_coverage_days",
	"case_coverage": "case_coverage_days",
	"n_days":        "case_coverage_days",

	// sex_match aliases
	"same_sex": "sex_match",
	"sexmatch": "sex_match",

	// interval_match aliases
	"overlap":       "interval_match",
	"overlap_days":  "interval_match",
	"intervalmatch": "interval_match",

	// age_diff aliases
	"agediff":        "age_diff",
	"age_difference": "age_diff",
	"min_age_diff":   "age_diff",
}

// CSVParser handles parsing of candidate tables.
type CSVParser struct {
	columnMapping map[string]int
}

// NewCSVParser creates a new CSV parser instance.
func NewCSVParser() *CSVParser {
	return &CSVParser{
		columnMapping: make(map[string]int),
	}
}

// ParseCandidates parses a candidate table. Row-level failures are returned
// alongside the rows that parsed; a header failure returns no rows.
func (p *CSVParser) ParseCandidates(r io.Reader) ([]*models.CandidateRecord, []error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, []error{ErrEmptyCSV}
	}
	if err != nil {
		return nil, []error{fmt.Errorf("failed to read header: %w", err)}
	}

	if err := p.buildColumnMapping(header, RequiredCandidateColumns, ColumnAliases); err != nil {
		return nil, []error{err}
	}

	var records []*models.CandidateRecord
	var parseErrors []error
	lineNum := 1 // Header is line 1

	for {
		lineNum++
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			parseErrors = append(parseErrors, fmt.Errorf("line %d: %w", lineNum, err))
			continue
		}
		if isBlankRow(row) {
			continue
		}

		rec, err := p.parseCandidateRow(row)
		if err != nil {
			parseErrors = append(parseErrors, fmt.Errorf("line %d: %w", lineNum, err))
			continue
		}

		if err := models.ValidateCandidate(rec); err != nil {
			parseErrors = append(parseErrors, fmt.Errorf("line %d: %w", lineNum, err))
			continue
		}

		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, append([]error{ErrNoDataRows}, parseErrors...)
	}

	return records, parseErrors
}

// buildColumnMapping creates a mapping of standard column names to their indices.
func (p *CSVParser) buildColumnMapping(header, required []string, aliases map[string]string) error {
	p.columnMapping = make(map[string]int)

	for i, col := range header {
		normalized := normalizeColumn(col)
		if alias, ok := aliases[normalized]; ok {
			normalized = alias
		}
		if _, seen := p.columnMapping[normalized]; !seen {
			p.columnMapping[normalized] = i
		}
	}

	var missing []string
	for _, col := range required {
		if _, ok := p.columnMapping[col]; !ok {
			missing = append(missing, col)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	return nil
}

func (p *CSVParser) value(row []string, column string) (string, error) {
	idx, ok := p.columnMapping[column]
	if !ok {
		return "", fmt.Errorf("column %s not found", column)
	}
	if idx >= len(row) {
		return "", fmt.Errorf("%w: column %s index out of range", ErrInvalidRowData, column)
	}
	return strings.TrimSpace(row[idx]), nil
}

// parseCandidateRow parses a single CSV row into a CandidateRecord.
func (p *CSVParser) parseCandidateRow(row []string) (*models.CandidateRecord, error) {
	caseID, err := p.value(row, "case_id")
	if err != nil {
		return nil, err
	}

	controlID, err := p.value(row, "control_id")
	if err != nil {
		return nil, err
	}

	coverageStr, err := p.value(row, "case_coverage_days")
	if err != nil {
		return nil, err
	}
	coverage, err := parseInt(coverageStr)
	if err != nil {
		return nil, fmt.Errorf("invalid case_coverage_days: %w", err)
	}

	sexStr, err := p.value(row, "sex_match")
	if err != nil {
		return nil, err
	}
	sexMatch, err := parseBool(sexStr)
	if err != nil {
		return nil, fmt.Errorf("invalid sex_match: %w", err)
	}

	intervalStr, err := p.value(row, "interval_match")
	if err != nil {
		return nil, err
	}
	interval, err := parseInt(intervalStr)
	if err != nil {
		return nil, fmt.Errorf("invalid interval_match: %w", err)
	}

	ageStr, err := p.value(row, "age_diff")
	if err != nil {
		return nil, err
	}
	ageDiff, err := parseOptionalFloat(ageStr)
	if err != nil {
		return nil, fmt.Errorf("invalid age_diff: %w", err)
	}

	return &models.CandidateRecord{
		CaseID:           caseID,
		ControlID:        controlID,
		CaseCoverageDays: coverage,
		SexMatch:         sexMatch,
		IntervalMatch:    interval,
		AgeDiff:          ageDiff,
	}, nil
}

func normalizeColumn(col string) string {
	s := strings.ToLower(strings.TrimSpace(col))
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// isMissing reports whether s is one of the missing-value markers written by
// the upstream data frames.
func isMissing(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "na", "nan", "null", "none", "<na>":
		return true
	}
	return false
}

// parseInt parses a string to int, accepting float spellings such as "183.0".
func parseInt(s string) (int, error) {
	if isMissing(s) {
		return 0, errors.New("empty value")
	}

	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if strings.Contains(s, ".") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, err
		}
		if f != float64(int(f)) {
			return 0, fmt.Errorf("%q is not a whole number", s)
		}
		return int(f), nil
	}

	return strconv.Atoi(s)
}

// parseOptionalFloat parses a float, returning nil for missing markers.
func parseOptionalFloat(s string) (*float64, error) {
	if isMissing(s) {
		return nil, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// parseBool parses the boolean spellings produced by spreadsheets and data frames.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "1", "yes", "y", "1.0":
		return true, nil
	case "false", "f", "0", "no", "n", "0.0":
		return false, nil
	}
	return false, fmt.Errorf("%q is not a boolean", s)
}
