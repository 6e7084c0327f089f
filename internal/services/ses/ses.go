// Package ses sends pairing run notifications via AWS SES
package ses

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"math"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"deer-cwd-pairing/internal/models"
	"deer-cwd-pairing/internal/utils"
)

// Service handles SES email operations
type Service struct {
	client    *ses.Client
	fromEmail string
}

// EmailParams represents parameters for sending an email
type EmailParams struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// RunSummaryParams contains data for a run completion email
type RunSummaryParams struct {
	RunID          string
	Source         string
	Trials         int
	Cases          int
	Controls       int
	BestTrial      int
	Matches        int
	Unmatched      int
	ShortIntervals int
	MedianInterval float64
	MedianAgeDiff  string
	Duration       string
	Links          []OutputLink
}

// OutputLink names a downloadable run output.
type OutputLink struct {
	Name string
	URL  string
}

// SendEmailResult contains the result of sending an email
type SendEmailResult struct {
	MessageID string
	SentAt    time.Time
}

// NewService creates a new SES service sending from fromEmail
func NewService(ctx context.Context, region, fromEmail string) (*Service, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Service{
		client:    ses.NewFromConfig(cfg),
		fromEmail: fromEmail,
	}, nil
}

// SendEmail sends a basic email
func (s *Service) SendEmail(ctx context.Context, params EmailParams) (*SendEmailResult, error) {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromEmail),
		Destination: &types.Destination{
			ToAddresses: []string{params.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(params.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{},
		},
	}

	if params.HTMLBody != "" {
		input.Message.Body.Html = &types.Content{
			Data:    aws.String(params.HTMLBody),
			Charset: aws.String("UTF-8"),
		}
	}
	if params.TextBody != "" {
		input.Message.Body.Text = &types.Content{
			Data:    aws.String(params.TextBody),
			Charset: aws.String("UTF-8"),
		}
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		utils.GetLogger().Error("Failed to send email",
			zap.String("to", params.To),
			zap.String("subject", params.Subject),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to send email: %w", err)
	}

	utils.GetLogger().Info("Email sent successfully",
		zap.String("to", params.To),
		zap.String("subject", params.Subject),
		zap.String("messageId", aws.ToString(result.MessageId)),
	)

	return &SendEmailResult{
		MessageID: aws.ToString(result.MessageId),
		SentAt:    time.Now(),
	}, nil
}

// SendRunSummary emails the outcome of a pairing run to one recipient.
func (s *Service) SendRunSummary(ctx context.Context, to string, params RunSummaryParams) (*SendEmailResult, error) {
	htmlBody, err := RenderRunSummaryHTML(params)
	if err != nil {
		return nil, fmt.Errorf("failed to render email template: %w", err)
	}

	return s.SendEmail(ctx, EmailParams{
		To:       to,
		Subject:  fmt.Sprintf("Pairing run %s: %d of %d cases matched", params.RunID, params.Matches, params.Cases),
		HTMLBody: htmlBody,
		TextBody: RenderRunSummaryText(params),
	})
}

// BuildRunSummaryParams creates notification params from a run result.
func BuildRunSummaryParams(run *models.RunResult, source string, links []OutputLink) RunSummaryParams {
	age := "NA"
	if !math.IsInf(run.Best.MedianAgeDiff, 0) && !math.IsNaN(run.Best.MedianAgeDiff) {
		age = fmt.Sprintf("%.2f", run.Best.MedianAgeDiff)
	}

	return RunSummaryParams{
		RunID:          run.RunID,
		Source:         source,
		Trials:         run.Trials,
		Cases:          run.Cases,
		Controls:       run.Controls,
		BestTrial:      run.Best.Trial,
		Matches:        run.Best.Matches,
		Unmatched:      run.Best.Unmatched,
		ShortIntervals: run.Best.ShortIntervals,
		MedianInterval: run.Best.MedianInterval,
		MedianAgeDiff:  age,
		Duration:       run.Duration.Round(time.Millisecond).String(),
		Links:          links,
	}
}

const runSummaryHTML = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Helvetica, Arial, sans-serif; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        table { border-collapse: collapse; width: 100%; }
        td { padding: 6px 10px; border-bottom: 1px solid #eee; }
        td.label { color: #777; }
    </style>
</head>
<body>
    <h2>Pairing run {{.RunID}}</h2>
    {{if .Source}}<p>Input: {{.Source}}</p>{{end}}
    <table>
        <tr><td class="label">Trials</td><td>{{.Trials}}</td></tr>
        <tr><td class="label">Cases / controls</td><td>{{.Cases}} / {{.Controls}}</td></tr>
        <tr><td class="label">Selected trial</td><td>{{.BestTrial}}</td></tr>
        <tr><td class="label">Matched cases</td><td>{{.Matches}}</td></tr>
        <tr><td class="label">Unmatched cases</td><td>{{.Unmatched}}</td></tr>
        <tr><td class="label">Short overlaps</td><td>{{.ShortIntervals}}</td></tr>
        <tr><td class="label">Median overlap (days)</td><td>{{printf "%.1f" .MedianInterval}}</td></tr>
        <tr><td class="label">Median age difference (years)</td><td>{{.MedianAgeDiff}}</td></tr>
        <tr><td class="label">Duration</td><td>{{.Duration}}</td></tr>
    </table>
    {{if .Links}}
    <h3>Outputs</h3>
    <ul>
    {{range .Links}}<li><a href="{{.URL}}">{{.Name}}</a></li>
    {{end}}
    </ul>
    {{end}}
</body>
</html>`

var runSummaryTemplate = template.Must(template.New("run_summary").Parse(runSummaryHTML))

// RenderRunSummaryHTML renders the HTML email body
func RenderRunSummaryHTML(params RunSummaryParams) (string, error) {
	var buf bytes.Buffer
	if err := runSummaryTemplate.Execute(&buf, params); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderRunSummaryText renders the plain text email body
func RenderRunSummaryText(params RunSummaryParams) string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Pairing run %s\n\n", params.RunID)
	if params.Source != "" {
		fmt.Fprintf(&buf, "Input: %s\n", params.Source)
	}
	fmt.Fprintf(&buf, "Trials: %d\n", params.Trials)
	fmt.Fprintf(&buf, "Cases / controls: %d / %d\n", params.Cases, params.Controls)
	fmt.Fprintf(&buf, "Selected trial: %d\n", params.BestTrial)
	fmt.Fprintf(&buf, "Matched cases: %d\n", params.Matches)
	fmt.Fprintf(&buf, "Unmatched cases: %d\n", params.Unmatched)
	fmt.Fprintf(&buf, "Short overlaps: %d\n", params.ShortIntervals)
	fmt.Fprintf(&buf, "Median overlap (days): %.1f\n", params.MedianInterval)
	fmt.Fprintf(&buf, "Median age difference (years): %s\n", params.MedianAgeDiff)
	fmt.Fprintf(&buf, "Duration: %s\n", params.Duration)

	if len(params.Links) > 0 {
		buf.WriteString("\nOutputs:\n")
		for _, l := range params.Links {
			fmt.Fprintf(&buf, "  %s: %s\n", l.Name, l.URL)
		}
	}

	return buf.String()
}
