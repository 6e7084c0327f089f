package handlers

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"

	appConfig "deer-cwd-pairing/internal/config"
	"deer-cwd-pairing/internal/models"
	"deer-cwd-pairing/internal/services/database"
	"deer-cwd-pairing/internal/services/orchestrator"
	"deer-cwd-pairing/internal/services/report"
	s3service "deer-cwd-pairing/internal/services/s3"
	"deer-cwd-pairing/internal/services/ses"
	"deer-cwd-pairing/internal/utils"
)

const linkExpiry = 7 * 24 * time.Hour

// ObjectStore downloads inputs and uploads run outputs.
type ObjectStore interface {
	DownloadFile(ctx context.Context, bucket, key string) ([]byte, error)
	UploadFile(ctx context.Context, key string, data []byte, contentType string) error
	PresignDownload(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// RunStore persists completed runs.
type RunStore interface {
	SaveRun(ctx context.Context, run *models.RunResult, source string) error
}

// Notifier sends run summaries.
type Notifier interface {
	SendRunSummary(ctx context.Context, to string, params ses.RunSummaryParams) (*ses.SendEmailResult, error)
}

// PairingProcessorHandler runs the pairing pipeline for candidate tables uploaded to S3.
type PairingProcessorHandler struct {
	params        orchestrator.Params
	resultsPrefix string
	notifyEmail   string

	store    ObjectStore
	runs     RunStore
	notifier Notifier
	db       *database.DB
}

// NewPairingProcessorHandler creates a handler from the environment. The
// database and e-mail notification are optional and only wired when configured.
func NewPairingProcessorHandler() (*PairingProcessorHandler, error) {
	ctx := context.Background()

	cfg, err := appConfig.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load app config: %w", err)
	}

	store, err := s3service.NewService(ctx, cfg.AWSRegion, cfg.S3Bucket)
	if err != nil {
		return nil, err
	}

	h := NewPairingProcessor(orchestrator.ParamsFromConfig(cfg), cfg.ResultsPrefix, store)

	if cfg.HasDatabase() {
		db, err := database.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		repo := database.NewPairingRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		h.db = db
		h.runs = repo
	}

	if cfg.SESSenderEmail != "" && cfg.NotifyEmail != "" {
		notifier, err := ses.NewService(ctx, cfg.AWSRegion, cfg.SESSenderEmail)
		if err != nil {
			h.Close()
			return nil, err
		}
		h.notifier = notifier
		h.notifyEmail = cfg.NotifyEmail
	}

	return h, nil
}

// NewPairingProcessor creates a handler around an object store.
func NewPairingProcessor(params orchestrator.Params, resultsPrefix string, store ObjectStore) *PairingProcessorHandler {
	return &PairingProcessorHandler{
		params:        params,
		resultsPrefix: resultsPrefix,
		store:         store,
	}
}

// WithRunStore enables persistence of completed runs.
func (h *PairingProcessorHandler) WithRunStore(runs RunStore) *PairingProcessorHandler {
	h.runs = runs
	return h
}

// WithNotifier enables run summary e-mails to addr.
func (h *PairingProcessorHandler) WithNotifier(n Notifier, addr string) *PairingProcessorHandler {
	h.notifier = n
	h.notifyEmail = addr
	return h
}

// PairingProcessResult is the result of processing one candidate table.
type PairingProcessResult struct {
	Message        string   `json:"message"`
	RunID          string   `json:"run_id,omitempty"`
	Source         string   `json:"source,omitempty"`
	BestTrial      int      `json:"best_trial"`
	Matches        int      `json:"matches"`
	Unmatched      int      `json:"unmatched"`
	MedianInterval float64  `json:"median_interval"`
	Outputs        []string `json:"outputs,omitempty"`
}

// Handle processes S3 events for uploaded candidate tables.
func (h *PairingProcessorHandler) Handle(ctx context.Context, s3Event events.S3Event) (PairingProcessResult, error) {
	logger := utils.GetLogger()

	if len(s3Event.Records) == 0 {
		return PairingProcessResult{Message: "No records to process"}, nil
	}

	record := s3Event.Records[0]
	bucket := record.S3.Bucket.Name
	key, err := url.QueryUnescape(record.S3.Object.Key)
	if err != nil {
		return PairingProcessResult{}, fmt.Errorf("failed to decode S3 key: %w", err)
	}
	source := s3service.Location{Bucket: bucket, Key: key}.String()

	if !strings.HasSuffix(strings.ToLower(key), ".csv") {
		logger.Info("Skipping non-CSV object", utils.String("source", source))
		return PairingProcessResult{Message: "Skipped non-CSV object", Source: source}, nil
	}

	logger.Info("Processing candidate table", utils.String("source", source))

	data, err := h.store.DownloadFile(ctx, bucket, key)
	if err != nil {
		return PairingProcessResult{}, fmt.Errorf("failed to download candidate table: %w", err)
	}

	p, err := LoadCandidatesBytes(data)
	if err != nil {
		logger.Error("Failed to load candidate table", utils.String("source", source), utils.Error(err))
		return PairingProcessResult{}, err
	}

	run, err := RunPairing(ctx, h.params, p)
	if err != nil {
		return PairingProcessResult{}, err
	}

	outputs, err := report.Outputs(run)
	if err != nil {
		return PairingProcessResult{}, err
	}

	keys := make([]string, 0, len(outputs))
	links := make([]ses.OutputLink, 0, len(outputs))
	for _, out := range outputs {
		outKey := s3service.ResultKey(h.resultsPrefix, run.RunID, out.Name)
		if err := h.store.UploadFile(ctx, outKey, out.Data, out.ContentType); err != nil {
			return PairingProcessResult{}, fmt.Errorf("failed to upload %s: %w", out.Name, err)
		}
		keys = append(keys, outKey)

		if h.notifier != nil {
			link, err := h.store.PresignDownload(ctx, outKey, linkExpiry)
			if err != nil {
				logger.Warn("Failed to presign output", utils.String("key", outKey), utils.Error(err))
				continue
			}
			links = append(links, ses.OutputLink{Name: out.Name, URL: link})
		}
	}

	if h.runs != nil {
		if err := h.runs.SaveRun(ctx, run, source); err != nil {
			return PairingProcessResult{}, fmt.Errorf("failed to save run: %w", err)
		}
	}

	if h.notifier != nil && h.notifyEmail != "" {
		params := ses.BuildRunSummaryParams(run, source, links)
		if _, err := h.notifier.SendRunSummary(ctx, h.notifyEmail, params); err != nil {
			logger.Warn("Failed to send run summary", utils.Error(err))
		}
	}

	return PairingProcessResult{
		Message:        "Pairing completed",
		RunID:          run.RunID,
		Source:         source,
		BestTrial:      run.Best.Trial,
		Matches:        run.Best.Matches,
		Unmatched:      run.Best.Unmatched,
		MedianInterval: run.Best.MedianInterval,
		Outputs:        keys,
	}, nil
}

// Close cleans up resources.
func (h *PairingProcessorHandler) Close() {
	if h.db != nil {
		h.db.Close()
	}
}
