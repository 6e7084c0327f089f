// Package pool exposes a validated candidate table as per-case candidate lists
// and hands out per-trial working copies of the available controls.
package pool

import (
	"fmt"

	"deer-cwd-pairing/internal/models"
	"deer-cwd-pairing/internal/utils"
)

// Pool is the immutable, normalized view of a dense case x control candidate table.
type Pool struct {
	cases    []models.CaseInfo
	controls []string
	index    map[string]int
	byCase   map[string][]models.CandidateRecord
}

// New validates records and indexes them by case. Cases and controls keep the
// order of their first appearance in records, and each case's candidates are
// stored in control roster order.
func New(records []*models.CandidateRecord) (*Pool, error) {
	if len(records) == 0 {
		return nil, models.ErrEmptyCandidates
	}

	p := &Pool{byCase: make(map[string][]models.CandidateRecord)}
	coverage := make(map[string]int)
	controlIndex := make(map[string]int)
	seen := make(map[string]map[string]struct{})

	for i, r := range records {
		if err := models.ValidateCandidate(r); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}

		if cov, ok := coverage[r.CaseID]; !ok {
			coverage[r.CaseID] = r.CaseCoverageDays
			p.cases = append(p.cases, models.CaseInfo{CaseID: r.CaseID, CoverageDays: r.CaseCoverageDays})
			seen[r.CaseID] = make(map[string]struct{})
		} else if cov != r.CaseCoverageDays {
			return nil, fmt.Errorf("%w: case %s has %d and %d", models.ErrInconsistentCoverage, r.CaseID, cov, r.CaseCoverageDays)
		}

		if _, dup := seen[r.CaseID][r.ControlID]; dup {
			return nil, fmt.Errorf("%w: case %s, control %s", models.ErrDuplicateCandidate, r.CaseID, r.ControlID)
		}
		seen[r.CaseID][r.ControlID] = struct{}{}

		if _, ok := controlIndex[r.ControlID]; !ok {
			controlIndex[r.ControlID] = len(p.controls)
			p.controls = append(p.controls, r.ControlID)
		}
	}

	// Every case must carry exactly one row per control.
	for _, c := range p.cases {
		if n := len(seen[c.CaseID]); n != len(p.controls) {
			return nil, fmt.Errorf("%w: case %s has %d of %d controls",
				models.ErrNotCrossProduct, c.CaseID, n, len(p.controls))
		}
		p.byCase[c.CaseID] = make([]models.CandidateRecord, len(p.controls))
	}
	for _, r := range records {
		p.byCase[r.CaseID][controlIndex[r.ControlID]] = *r
	}
	p.index = controlIndex

	utils.GetLogger().Info("Candidate pool loaded",
		utils.Int("cases", len(p.cases)),
		utils.Int("controls", len(p.controls)),
		utils.Int("rows", len(records)),
	)

	return p, nil
}

// Cases returns the distinct cases with their coverage, in input order.
func (p *Pool) Cases() []models.CaseInfo {
	out := make([]models.CaseInfo, len(p.cases))
	copy(out, p.cases)
	return out
}

// Controls returns the control roster in input order.
func (p *Pool) Controls() []string {
	out := make([]string, len(p.controls))
	copy(out, p.controls)
	return out
}

// Rows returns the number of candidate rows in the table.
func (p *Pool) Rows() int {
	return len(p.cases) * len(p.controls)
}

// HasCase reports whether caseID is in the roster.
func (p *Pool) HasCase(caseID string) bool {
	_, ok := p.byCase[caseID]
	return ok
}

// Candidates returns every candidate of caseID regardless of availability.
func (p *Pool) Candidates(caseID string) []models.CandidateRecord {
	src := p.byCase[caseID]
	out := make([]models.CandidateRecord, len(src))
	copy(out, src)
	return out
}

// NewAvailable returns a fresh working copy in which every control is available.
// It is owned by a single trial and must not be shared.
func (p *Pool) NewAvailable() *Available {
	return &Available{
		pool:     p,
		consumed: make(map[string]struct{}, len(p.controls)),
	}
}

// Available is the mutable set of controls a trial may still assign.
type Available struct {
	pool     *Pool
	consumed map[string]struct{}
}

// Candidates returns caseID's candidates whose control has not been consumed,
// in control roster order.
func (a *Available) Candidates(caseID string) []models.CandidateRecord {
	src, ok := a.pool.byCase[caseID]
	if !ok {
		return nil
	}
	out := make([]models.CandidateRecord, 0, len(src)-len(a.consumed))
	for _, c := range src {
		if _, gone := a.consumed[c.ControlID]; !gone {
			out = append(out, c)
		}
	}
	return out
}

// Remove consumes controlID so no later case in the trial can receive it.
// Unknown ids are ignored.
func (a *Available) Remove(controlID string) {
	if _, ok := a.pool.index[controlID]; !ok {
		return
	}
	a.consumed[controlID] = struct{}{}
}

// IsAvailable reports whether controlID can still be assigned.
func (a *Available) IsAvailable(controlID string) bool {
	_, gone := a.consumed[controlID]
	return !gone
}

// Size returns the number of controls still available.
func (a *Available) Size() int {
	return len(a.pool.controls) - len(a.consumed)
}
