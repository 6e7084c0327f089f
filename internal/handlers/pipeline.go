// Package handlers wires the pairing pipeline to its entry points.
package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"deer-cwd-pairing/internal/models"
	"deer-cwd-pairing/internal/services/orchestrator"
	"deer-cwd-pairing/internal/services/pool"
	"deer-cwd-pairing/internal/utils"
)

// maxReportedErrors caps the row errors carried in a load failure.
const maxReportedErrors = 10

// LoadCandidates parses a candidate table and builds the pool from it. Any
// row-level problem is fatal and reported with its line number.
func LoadCandidates(r io.Reader) (*pool.Pool, error) {
	records, parseErrors := utils.NewCSVParser().ParseCandidates(r)
	if len(parseErrors) > 0 {
		return nil, joinErrors(parseErrors)
	}

	p, err := pool.New(records)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// LoadCandidatesBytes is LoadCandidates over an in-memory table.
func LoadCandidatesBytes(data []byte) (*pool.Pool, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, utils.ErrEmptyCSV
	}
	return LoadCandidates(bytes.NewReader(data))
}

// RunPairing runs the full multi-trial search over p.
func RunPairing(ctx context.Context, params orchestrator.Params, p *pool.Pool) (*models.RunResult, error) {
	orch, err := orchestrator.New(params, p)
	if err != nil {
		return nil, err
	}
	return orch.Run(ctx)
}

func joinErrors(errs []error) error {
	if len(errs) > maxReportedErrors {
		more := len(errs) - maxReportedErrors
		errs = append(errs[:maxReportedErrors:maxReportedErrors], fmt.Errorf("and %d more errors", more))
	}
	return fmt.Errorf("invalid candidate table: %w", errors.Join(errs...))
}
