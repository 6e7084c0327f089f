package models

import (
	"strings"
	"time"
)

// Sex is the recorded sex of an animal.
type Sex string

const (
	SexMale    Sex = "M"
	SexFemale  Sex = "F"
	SexUnknown Sex = ""
)

// NormalizeSex converts the spellings found in field data sheets to a Sex.
func NormalizeSex(s string) Sex {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "m", "male", "buck":
		return SexMale
	case "f", "female", "doe":
		return SexFemale
	default:
		return SexUnknown
	}
}

// CaseRecord is a disease-positive animal with a known mortality date.
type CaseRecord struct {
	ID            string    `json:"id"`
	Sex           Sex       `json:"sex"`
	MortalityDate time.Time `json:"mortality_date"`
	AgeAtDeath    *float64  `json:"age_at_death,omitempty"`
	CoverageDays  int       `json:"coverage_days"`
}

// ControlRecord is a healthy animal observed over a window.
type ControlRecord struct {
	ID       string    `json:"id"`
	Sex      Sex       `json:"sex"`
	ObsStart time.Time `json:"obs_start"`
	ObsEnd   time.Time `json:"obs_end"`
	MinAge   *float64  `json:"min_age,omitempty"`
	MaxAge   *float64  `json:"max_age,omitempty"`
}
