package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"time"

	"github.com/trendreview/trendreview/internal/constants"
	"github.com/trendreview/trendreview/internal/dataset"
	"github.com/trendreview/trendreview/internal/models"
	"github.com/trendreview/trendreview/internal/simulator"
)

// MockClient serves the Remote contract from an in-process simulator,
// for offline use (remote_mode: mock) and tests.
type MockClient struct {
	backend *simulator.Backend
	now     func() time.Time
}

var _ Remote = (*MockClient)(nil)

// NewMockClient wraps backend. A nil backend gets a fresh simulator.
func NewMockClient(backend *simulator.Backend) *MockClient {
	if backend == nil {
		backend = simulator.New(constants.DevServerRunningPolls)
	}
	return &MockClient{backend: backend, now: time.Now}
}

// Backend exposes the simulator, e.g. to inspect stored inputs.
func (m *MockClient) Backend() *simulator.Backend {
	return m.backend
}

func (m *MockClient) SubmitSnapshot(ctx context.Context, snap *dataset.Snapshot, kind EndpointKind) (*SubmitResult, error) {
	op := kind.String()
	if err := ctx.Err(); err != nil {
		return nil, &RemoteError{Op: op, Cause: err}
	}
	if snap == nil {
		return nil, &RemoteError{Op: op, Cause: dataset.ErrEmptySnapshot}
	}
	data, err := snap.Bytes()
	if err != nil {
		return nil, &RemoteError{Op: op, Cause: err}
	}

	if kind == EndpointSave {
		p, err := m.backend.Save(snap.Name(), data)
		if err != nil {
			return nil, mockError(op, err)
		}
		return &SubmitResult{Path: p}, nil
	}
	res, err := m.backend.Process(snap.Name(), data)
	if err != nil {
		return nil, mockError(op, err)
	}
	return &SubmitResult{Results: res}, nil
}

func (m *MockClient) SubmitAnalysisJob(ctx context.Context, filename, query string) (models.JobHandle, error) {
	const op = "run-analysis"
	if err := ctx.Err(); err != nil {
		return models.JobHandle{}, &RemoteError{Op: op, Cause: err}
	}
	if query == "" {
		query = constants.DefaultQuery
	}
	id, err := m.backend.Run(filename, query)
	if err != nil {
		return models.JobHandle{}, mockError(op, err)
	}
	return models.JobHandle{ID: id, File: filename, Query: query, SubmittedAt: m.now()}, nil
}

func (m *MockClient) AnalysisStatus(ctx context.Context, handle models.JobHandle) (models.JobStatus, error) {
	if err := ctx.Err(); err != nil {
		return models.JobStatus{}, &StatusError{JobID: handle.ID, Cause: err}
	}
	resp, err := m.backend.Status(handle.ID)
	if err != nil {
		// The HTTP backend reports these as JSON error envelopes
		re := mockError("analysis-status", err)
		return NormalizeStatus(&models.StatusResponse{Status: models.StatusError, Error: re.Message}), nil
	}
	return NormalizeStatus(resp), nil
}

func (m *MockClient) FetchArtifact(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, &RemoteError{Op: "fetch-artifact", Cause: err}
	}
	data, ok := m.backend.Artifact(path)
	if !ok {
		return nil, 0, &RemoteError{Op: "fetch-artifact", StatusCode: nethttp.StatusNotFound, Message: path}
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func mockError(op string, err error) *RemoteError {
	code := nethttp.StatusInternalServerError
	switch {
	case errors.Is(err, simulator.ErrBadRequest):
		code = nethttp.StatusBadRequest
	case errors.Is(err, simulator.ErrNotFound):
		code = nethttp.StatusNotFound
	}
	return &RemoteError{Op: op, StatusCode: code, Message: err.Error()}
}
