package simulator

import (
	"bytes"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendreview/trendreview/internal/constants"
	"github.com/trendreview/trendreview/internal/models"
)

const prices = "date,price\n2024-01-01,8000\n2024-01-02,8010\n2024-01-03,7990\n"

func TestProcessProducesBothVariants(t *testing.T) {
	b := New(0)
	res, err := b.Process("prices.csv", []byte(prices))
	require.NoError(t, err)

	assert.Contains(t, res.Sensitive.Visualization, "-sensitive-")
	assert.Contains(t, res.Insensitive.Analysis, "-insensitive-")
	assert.Len(t, res.Names(), 8)

	echo, ok := b.Artifact(res.Insensitive.EnhancedAnalysis)
	require.True(t, ok)
	assert.Equal(t, prices, string(echo))

	img, ok := b.Artifact(res.Sensitive.Visualization)
	require.True(t, ok)
	_, err = png.Decode(bytes.NewReader(img))
	assert.NoError(t, err)
}

func TestProcessRejectsBadUploads(t *testing.T) {
	b := New(0)
	_, err := b.Process("", []byte(prices))
	assert.ErrorIs(t, err, ErrBadRequest)
	_, err = b.Process("prices.xlsx", []byte(prices))
	assert.ErrorIs(t, err, ErrBadRequest)
	_, err = b.Process("empty.csv", nil)
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestJobLifecycle(t *testing.T) {
	b := New(4)
	p, err := b.Save("selected_data_x.csv", []byte(prices))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, "input/"))

	id, err := b.Run(p, "")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, b.Jobs())

	// first half: running, no files
	for i := 0; i < 2; i++ {
		st, err := b.Status(id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRunning, st.Status)
		assert.Empty(t, st.Files)
	}
	// second half: running with partial files and no summary
	for i := 0; i < 2; i++ {
		st, err := b.Status(id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRunning, st.Status)
		assert.NotEmpty(t, st.Files)
		assert.Empty(t, st.Summary)
	}

	st, err := b.Status(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, st.Status)
	assert.Contains(t, st.Summary, constants.DefaultQuery)
	assert.Contains(t, st.Files, id+"-summary.md")

	summary, ok := b.Artifact(id + "-summary.md")
	require.True(t, ok)
	assert.Equal(t, st.Summary, string(summary))

	// completion is stable
	again, err := b.Status(id)
	require.NoError(t, err)
	assert.Equal(t, st.Files, again.Files)
}

func TestRunAndStatusErrors(t *testing.T) {
	b := New(0)
	_, err := b.Run("", "q")
	assert.ErrorIs(t, err, ErrBadRequest)
	_, err = b.Run("missing.csv", "q")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = b.Status("../etc")
	assert.ErrorIs(t, err, ErrBadRequest)
	_, err = b.Status("unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOutputFilesFollowsLatestJob(t *testing.T) {
	b := New(1)
	assert.Equal(t, models.StatusError, b.OutputFiles().Status)

	p, err := b.Save("sel.csv", []byte(prices))
	require.NoError(t, err)
	id, err := b.Run(p, "q")
	require.NoError(t, err)

	assert.Equal(t, models.StatusRunning, b.OutputFiles().Status)
	out := b.OutputFiles()
	assert.Equal(t, models.StatusCompleted, out.Status)
	assert.True(t, out.FinalReportExists)
	assert.Equal(t, id+"-summary.md", out.FinalReport)
}
