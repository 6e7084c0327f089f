package ses_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deer-cwd-pairing/internal/models"
	"deer-cwd-pairing/internal/services/ses"
)

func mockRun(medianAge float64) *models.RunResult {
	return &models.RunResult{
		RunID:    "6f1c",
		Trials:   500,
		Cases:    44,
		Controls: 90,
		Best: models.TrialResult{
			Trial:          17,
			Matches:        43,
			Unmatched:      1,
			ShortIntervals: 2,
			MedianInterval: 176.5,
			MedianAgeDiff:  medianAge,
		},
		Duration: 2345678 * time.Microsecond,
	}
}

func TestBuildRunSummaryParams(t *testing.T) {
	links := []ses.OutputLink{{Name: "pairing.csv", URL: "https://example.test/pairing.csv"}}
	params := ses.BuildRunSummaryParams(mockRun(1.234), "s3://uploads/candidates.csv", links)

	assert.Equal(t, "6f1c", params.RunID)
	assert.Equal(t, 17, params.BestTrial)
	assert.Equal(t, 43, params.Matches)
	assert.Equal(t, "1.23", params.MedianAgeDiff)
	assert.Equal(t, "2.346s", params.Duration)
	assert.Equal(t, links, params.Links)
}

func TestBuildRunSummaryParams_UnknownAgeMedian(t *testing.T) {
	params := ses.BuildRunSummaryParams(mockRun(math.Inf(1)), "", nil)
	assert.Equal(t, "NA", params.MedianAgeDiff)
}

func TestRenderRunSummaryHTML(t *testing.T) {
	params := ses.BuildRunSummaryParams(mockRun(0.5), "s3://uploads/<study>.csv", []ses.OutputLink{
		{Name: "trials.csv", URL: "https://example.test/trials.csv"},
	})

	html, err := ses.RenderRunSummaryHTML(params)
	require.NoError(t, err)

	assert.Contains(t, html, "Pairing run 6f1c")
	assert.Contains(t, html, "<td>43</td>")
	assert.Contains(t, html, "176.5")
	assert.Contains(t, html, `href="https://example.test/trials.csv"`)
	assert.Contains(t, html, "&lt;study&gt;", "Input location is escaped")
}

func TestRenderRunSummaryText(t *testing.T) {
	text := ses.RenderRunSummaryText(ses.BuildRunSummaryParams(mockRun(math.NaN()), "", nil))

	assert.Contains(t, text, "Matched cases: 43\n")
	assert.Contains(t, text, "Median age difference (years): NA\n")
	assert.NotContains(t, text, "Input:")
	assert.NotContains(t, text, "Outputs:")
}
