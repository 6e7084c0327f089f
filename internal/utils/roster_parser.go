package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"deer-cwd-pairing/internal/models"
)

// RequiredCaseColumns defines the columns of a case roster.
var RequiredCaseColumns = []string{"id", "sex", "mortality_date", "coverage_days"}

// RequiredControlColumns defines the columns of a control roster.
var RequiredControlColumns = []string{"id", "sex", "obs_start", "obs_end"}

var rosterAliases = map[string]string{
	"animal_id":     "id",
	"lowtag":        "id",
	"sex_code":      "sex",
	"mort_date":     "mortality_date",
	"death_date":    "mortality_date",
	"age_at_mort":   "age_at_death",
	"age":           "age_at_death",
	"case_days":     "coverage_days",
	"n_days":        "coverage_days",
	"start_date":    "obs_start",
	"end_date":      "obs_end",
	"min_age_years": "min_age",
	"max_age_years": "max_age",
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"1/2/2006",
	"01/02/2006",
}

// ParseCases parses a case roster.
func (p *CSVParser) ParseCases(r io.Reader) ([]*models.CaseRecord, []error) {
	rows, errs := p.readRoster(r, RequiredCaseColumns)
	if rows == nil {
		return nil, errs
	}

	var cases []*models.CaseRecord
	for _, row := range rows {
		c, err := p.parseCaseRow(row.values)
		if err == nil {
			err = models.ValidateCase(c)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", row.line, err))
			continue
		}
		cases = append(cases, c)
	}
	return cases, errs
}

// ParseControls parses a control roster.
func (p *CSVParser) ParseControls(r io.Reader) ([]*models.ControlRecord, []error) {
	rows, errs := p.readRoster(r, RequiredControlColumns)
	if rows == nil {
		return nil, errs
	}

	var controls []*models.ControlRecord
	for _, row := range rows {
		c, err := p.parseControlRow(row.values)
		if err == nil {
			err = models.ValidateControl(c)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", row.line, err))
			continue
		}
		controls = append(controls, c)
	}
	return controls, errs
}

type rosterRow struct {
	line   int
	values []string
}

func (p *CSVParser) readRoster(r io.Reader, required []string) ([]rosterRow, []error) {
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

	if err := p.buildColumnMapping(header, required, rosterAliases); err != nil {
		return nil, []error{err}
	}

	var rows []rosterRow
	var errs []error
	lineNum := 1
	for {
		lineNum++
		values, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", lineNum, err))
			continue
		}
		if isBlankRow(values) {
			continue
		}
		rows = append(rows, rosterRow{line: lineNum, values: values})
	}

	if len(rows) == 0 {
		return nil, append([]error{ErrNoDataRows}, errs...)
	}
	return rows, errs
}

func (p *CSVParser) optional(row []string, column string) string {
	idx, ok := p.columnMapping[column]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func (p *CSVParser) parseCaseRow(row []string) (*models.CaseRecord, error) {
	id, err := p.value(row, "id")
	if err != nil {
		return nil, err
	}
	sex, err := p.value(row, "sex")
	if err != nil {
		return nil, err
	}
	mortStr, err := p.value(row, "mortality_date")
	if err != nil {
		return nil, err
	}
	mort, err := parseDate(mortStr)
	if err != nil {
		return nil, fmt.Errorf("invalid mortality_date: %w", err)
	}
	covStr, err := p.value(row, "coverage_days")
	if err != nil {
		return nil, err
	}
	coverage, err := parseInt(covStr)
	if err != nil {
		return nil, fmt.Errorf("invalid coverage_days: %w", err)
	}
	age, err := parseOptionalFloat(p.optional(row, "age_at_death"))
	if err != nil {
		return nil, fmt.Errorf("invalid age_at_death: %w", err)
	}

	return &models.CaseRecord{
		ID:            id,
		Sex:           models.NormalizeSex(sex),
		MortalityDate: mort,
		AgeAtDeath:    age,
		CoverageDays:  coverage,
	}, nil
}

func (p *CSVParser) parseControlRow(row []string) (*models.ControlRecord, error) {
	id, err := p.value(row, "id")
	if err != nil {
		return nil, err
	}
	sex, err := p.value(row, "sex")
	if err != nil {
		return nil, err
	}
	startStr, err := p.value(row, "obs_start")
	if err != nil {
		return nil, err
	}
	start, err := parseDate(startStr)
	if err != nil {
		return nil, fmt.Errorf("invalid obs_start: %w", err)
	}
	endStr, err := p.value(row, "obs_end")
	if err != nil {
		return nil, err
	}
	end, err := parseDate(endStr)
	if err != nil {
		return nil, fmt.Errorf("invalid obs_end: %w", err)
	}
	minAge, err := parseOptionalFloat(p.optional(row, "min_age"))
	if err != nil {
		return nil, fmt.Errorf("invalid min_age: %w", err)
	}
	maxAge, err := parseOptionalFloat(p.optional(row, "max_age"))
	if err != nil {
		return nil, fmt.Errorf("invalid max_age: %w", err)
	}

	return &models.ControlRecord{
		ID:       id,
		Sex:      models.NormalizeSex(sex),
		ObsStart: start,
		ObsEnd:   end,
		MinAge:   minAge,
		MaxAge:   maxAge,
	}, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}
