package handlers_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deer-cwd-pairing/internal/handlers"
	"deer-cwd-pairing/internal/models"
	"deer-cwd-pairing/internal/services/matcher"
	"deer-cwd-pairing/internal/services/orchestrator"
	"deer-cwd-pairing/internal/services/report"
	"deer-cwd-pairing/internal/services/ses"
	"deer-cwd-pairing/internal/utils"
)

const candidateTable = `case_id,control_id,case_coverage_days,sex_match,interval_match,age_diff
C1,K1,200,TRUE,183,0.5
C1,K2,200,TRUE,150,NA
C2,K1,90,TRUE,183,2
C2,K2,90,TRUE,100,0
`

type fakeStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	uploads  map[string]string
	presigns []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, uploads: map[string]string{}}
}

func (s *fakeStore) DownloadFile(_ context.Context, bucket, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("no such key: %s", key)
	}
	return data, nil
}

func (s *fakeStore) UploadFile(_ context.Context, key string, _ []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[key] = contentType
	return nil
}

func (s *fakeStore) PresignDownload(_ context.Context, key string, _ time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presigns = append(s.presigns, key)
	return "https://example.test/" + key, nil
}

type fakeRuns struct {
	saved  []*models.RunResult
	source string
}

func (r *fakeRuns) SaveRun(_ context.Context, run *models.RunResult, source string) error {
	r.saved = append(r.saved, run)
	r.source = source
	return nil
}

type fakeNotifier struct {
	to     string
	params *ses.RunSummaryParams
	err    error
}

func (n *fakeNotifier) SendRunSummary(_ context.Context, to string, params ses.RunSummaryParams) (*ses.SendEmailResult, error) {
	n.to = to
	n.params = &params
	if n.err != nil {
		return nil, n.err
	}
	return &ses.SendEmailResult{MessageID: "msg-1"}, nil
}

func testParams() orchestrator.Params {
	return orchestrator.Params{
		Trials:              20,
		Seed:                3,
		Workers:             2,
		CoverageThreshold:   180,
		IntervalQualityDays: 120,
		AgeQualityYears:     5,
		Criteria:            matcher.DefaultCriteria(),
	}
}

func s3Event(bucket, key string) events.S3Event {
	return events.S3Event{
		Records: []events.S3EventRecord{
			{
				S3: events.S3Entity{
					Bucket: events.S3Bucket{Name: bucket},
					Object: events.S3Object{Key: key},
				},
			},
		},
	}
}

func TestHandle_ProcessesCandidateTable(t *testing.T) {
	store := newFakeStore()
	store.objects["uploads/study+2021/candidates.csv"] = []byte(candidateTable)
	runs := &fakeRuns{}
	notifier := &fakeNotifier{}

	h := handlers.NewPairingProcessor(testParams(), "results", store).
		WithRunStore(runs).
		WithNotifier(notifier, "lab@example.test")

	result, err := h.Handle(context.Background(), s3Event("uploads", "study%2B2021/candidates.csv"))
	require.NoError(t, err)

	assert.Equal(t, "Pairing completed", result.Message)
	assert.Equal(t, "s3://uploads/study+2021/candidates.csv", result.Source)
	assert.Equal(t, 2, result.Matches, "C1 takes the ideal K1 and C2 falls back to K2")
	assert.Equal(t, 0, result.Unmatched)
	assert.NotEmpty(t, result.RunID)

	require.Len(t, result.Outputs, 3)
	for _, name := range []string{report.FilePairing, report.FileTrials, report.FileWorkbook} {
		key := "results/" + result.RunID + "/" + name
		assert.Contains(t, result.Outputs, key)
		assert.Contains(t, store.uploads, key)
	}
	assert.Equal(t, report.ContentTypeXLSX, store.uploads["results/"+result.RunID+"/"+report.FileWorkbook])
	assert.Len(t, store.presigns, 3)

	require.Len(t, runs.saved, 1)
	assert.Equal(t, result.RunID, runs.saved[0].RunID)
	assert.Equal(t, result.Source, runs.source)

	assert.Equal(t, "lab@example.test", notifier.to)
	require.NotNil(t, notifier.params)
	assert.Equal(t, result.RunID, notifier.params.RunID)
	assert.Len(t, notifier.params.Links, 3)
}

func TestHandle_NotificationFailureIsNotFatal(t *testing.T) {
	store := newFakeStore()
	store.objects["uploads/candidates.csv"] = []byte(candidateTable)

	h := handlers.NewPairingProcessor(testParams(), "results/", store).
		WithNotifier(&fakeNotifier{err: errors.New("throttled")}, "lab@example.test")

	result, err := h.Handle(context.Background(), s3Event("uploads", "candidates.csv"))
	require.NoError(t, err)
	assert.Equal(t, "Pairing completed", result.Message)
}

func TestHandle_WithoutNotifierSkipsPresign(t *testing.T) {
	store := newFakeStore()
	store.objects["uploads/candidates.csv"] = []byte(candidateTable)

	h := handlers.NewPairingProcessor(testParams(), "results", store)

	_, err := h.Handle(context.Background(), s3Event("uploads", "candidates.csv"))
	require.NoError(t, err)
	assert.Empty(t, store.presigns)
	assert.Len(t, store.uploads, 3)
}

func TestHandle_EmptyEvent(t *testing.T) {
	h := handlers.NewPairingProcessor(testParams(), "results", newFakeStore())

	result, err := h.Handle(context.Background(), events.S3Event{})
	require.NoError(t, err)
	assert.Equal(t, "No records to process", result.Message)
}

func TestHandle_SkipsNonCSV(t *testing.T) {
	store := newFakeStore()
	h := handlers.NewPairingProcessor(testParams(), "results", store)

	result, err := h.Handle(context.Background(), s3Event("uploads", "notes/readme.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Skipped non-CSV object", result.Message)
	assert.Empty(t, store.uploads)
}

func TestHandle_InvalidTableFails(t *testing.T) {
	store := newFakeStore()
	store.objects["uploads/bad.csv"] = []byte(candidateTable + "C3,K1,10,maybe,183,NA\n")
	runs := &fakeRuns{}

	h := handlers.NewPairingProcessor(testParams(), "results", store).WithRunStore(runs)

	_, err := h.Handle(context.Background(), s3Event("uploads", "bad.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 6")
	assert.Empty(t, store.uploads, "Nothing is written for a rejected table")
	assert.Empty(t, runs.saved)
}

func TestHandle_DownloadFailure(t *testing.T) {
	h := handlers.NewPairingProcessor(testParams(), "results", newFakeStore())

	_, err := h.Handle(context.Background(), s3Event("uploads", "missing.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to download candidate table")
}

func TestLoadCandidatesBytes(t *testing.T) {
	p, err := handlers.LoadCandidatesBytes([]byte(candidateTable))
	require.NoError(t, err)
	assert.Len(t, p.Cases(), 2)
	assert.Len(t, p.Controls(), 2)

	_, err = handlers.LoadCandidatesBytes([]byte("  \n"))
	assert.ErrorIs(t, err, utils.ErrEmptyCSV)

	_, err = handlers.LoadCandidatesBytes([]byte(strings.TrimSuffix(candidateTable, "C2,K2,90,TRUE,100,0\n")))
	assert.ErrorIs(t, err, models.ErrNotCrossProduct)
}

func TestLoadCandidatesBytes_CapsReportedErrors(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("case_id,control_id,case_coverage_days,sex_match,interval_match,age_diff\n")
	sb.WriteString("C1,K1,200,TRUE,183,0.5\n")
	for i := 0; i < 15; i++ {
		fmt.Fprintf(&sb, "C%d,K1,200,TRUE,999,NA\n", i+2)
	}

	_, err := handlers.LoadCandidatesBytes([]byte(sb.String()))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidInterval)
	assert.Contains(t, err.Error(), "invalid candidate table")
	assert.Contains(t, err.Error(), "and 5 more errors")
}
