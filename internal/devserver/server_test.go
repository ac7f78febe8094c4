package devserver_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendreview/trendreview/internal/api"
	"github.com/trendreview/trendreview/internal/config"
	"github.com/trendreview/trendreview/internal/constants"
	"github.com/trendreview/trendreview/internal/dataset"
	"github.com/trendreview/trendreview/internal/devserver"
	"github.com/trendreview/trendreview/internal/logging"
	"github.com/trendreview/trendreview/internal/models"
	"github.com/trendreview/trendreview/internal/simulator"
)

const sampleCSV = "date,price\n2024-01-01,8000\n2024-01-02,8010\n2024-01-03,7990\n"

func newServer(t *testing.T, runningPolls int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(devserver.NewRouter(simulator.New(runningPolls), logging.NewLogger(io.Discard, nil)))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, baseURL string) *api.Client {
	t.Helper()
	cfg := config.Default()
	cfg.BaseURL = baseURL
	c, err := api.NewClient(cfg, logging.NewLogger(io.Discard, nil))
	require.NoError(t, err)
	return c
}

func TestHealth(t *testing.T) {
	srv := newServer(t, 0)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestClientRoundTrip(t *testing.T) {
	srv := newServer(t, 2)
	c := newClient(t, srv.URL)
	ctx := context.Background()

	snap, err := dataset.Parse("prices.csv", dataset.OriginUpload, []byte(sampleCSV))
	require.NoError(t, err)

	processed, err := c.SubmitSnapshot(ctx, snap, api.EndpointProcess)
	require.NoError(t, err)
	require.NotNil(t, processed.Results)
	assert.Len(t, processed.Results.Names(), 8)

	body, size, err := c.FetchArtifact(ctx, models.ArtifactPath(processed.Results.Sensitive.EnhancedAnalysis))
	require.NoError(t, err)
	echo, _ := io.ReadAll(body)
	body.Close()
	assert.Equal(t, int64(len(sampleCSV)), size)
	assert.Equal(t, sampleCSV, string(echo))

	sel, err := snap.Subset("selected_data_20250101_000000.csv", dataset.OriginSelection, []int{0, 2})
	require.NoError(t, err)
	saved, err := c.SubmitSnapshot(ctx, sel, api.EndpointSave)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(saved.FileName(), "selected_data_20250101_000000.csv"))

	handle, err := c.SubmitAnalysisJob(ctx, saved.FileName(), "")
	require.NoError(t, err)
	assert.NotEmpty(t, handle.ID)
	assert.Equal(t, constants.DefaultQuery, handle.Query)

	var st models.JobStatus
	for i := 0; i < 3; i++ {
		st, err = c.AnalysisStatus(ctx, handle)
		require.NoError(t, err)
	}
	assert.Equal(t, models.JobCompleted, st.State)
	assert.NotEmpty(t, st.Summary)
	assert.Len(t, st.Files, 9)

	legacy, err := c.CheckOutputFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, legacy.State)
}

func TestErrorEnvelope(t *testing.T) {
	srv := newServer(t, 0)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		ctype  string
		code   int
	}{
		{"unknown job", http.MethodGet, "/api/analysis-status/nope", "", "", http.StatusNotFound},
		{"bad json", http.MethodPost, "/api/run-analysis", "{", "application/json", http.StatusBadRequest},
		{"missing file", http.MethodPost, "/api/run-analysis", `{"file":"","query":"q"}`, "application/json", http.StatusBadRequest},
		{"unsaved file", http.MethodPost, "/api/run-analysis", `{"file":"input/x.csv"}`, "application/json", http.StatusNotFound},
		{"no multipart", http.MethodPost, "/api/process-csv", "a,b", "text/csv", http.StatusBadRequest},
		{"unknown artifact", http.MethodGet, "/static/files/missing.csv", "", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			if tt.ctype != "" {
				req.Header.Set("Content-Type", tt.ctype)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.code, resp.StatusCode)
			var env models.SubmitResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
			assert.Equal(t, models.StatusError, env.Status)
			assert.NotEmpty(t, env.Error)
		})
	}
}

func TestUnknownJobIsReportedAsFailed(t *testing.T) {
	srv := newServer(t, 0)
	c := newClient(t, srv.URL)

	st, err := c.AnalysisStatus(context.Background(), models.JobHandle{ID: "missing"})
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, st.State)
}

func TestCORSPreflight(t *testing.T) {
	srv := newServer(t, 0)
	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/run-analysis", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServerRunStopsOnCancel(t *testing.T) {
	s := devserver.New("127.0.0.1:0", simulator.New(0), logging.NewLogger(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
