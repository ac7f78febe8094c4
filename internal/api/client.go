package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	nethttp "net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/trendreview/trendreview/internal/config"
	"github.com/trendreview/trendreview/internal/constants"
	"github.com/trendreview/trendreview/internal/dataset"
	"github.com/trendreview/trendreview/internal/http"
	"github.com/trendreview/trendreview/internal/logging"
	"github.com/trendreview/trendreview/internal/models"
)

// maxEnvelopeBytes bounds JSON response bodies.
const maxEnvelopeBytes = 8 << 20

// retryLogger implements the retryablehttp.LeveledLogger interface
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

// Client talks to the backend over HTTP.
type Client struct {
	api       *nethttp.Client // submissions and status queries, never retried
	artifacts *nethttp.Client // idempotent artifact GETs, retried
	baseURL   string
	logger    *logging.Logger
	now       func() time.Time
}

var _ Remote = (*Client)(nil)

// NewClient creates a backend client from cfg.
func NewClient(cfg *config.Config, logger *logging.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("backend base URL is empty")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend base URL %q", cfg.BaseURL)
	}
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}

	httpClient, err := http.ConfigureHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}
	transferClient, err := http.CreateTransferClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure transfer client: %w", err)
	}

	// A submission is never repeated implicitly; retry is a fresh user action
	apiClient := retryablehttp.NewClient()
	apiClient.HTTPClient = httpClient
	apiClient.RetryMax = 0
	apiClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	apiClient.Logger = &retryLogger{logger: logger}

	// Artifact fetches are retried by the exporter, which also retries the sink write
	artifactClient := retryablehttp.NewClient()
	artifactClient.HTTPClient = transferClient
	artifactClient.RetryMax = 0
	artifactClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	artifactClient.Logger = &retryLogger{logger: logger}

	return &Client{
		api:       apiClient.StandardClient(),
		artifacts: artifactClient.StandardClient(),
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:    logger,
		now:       time.Now,
	}, nil
}

// BaseURL returns the backend address without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ping checks that the backend answers HTTP at all. Any status code counts.
func (c *Client) Ping(ctx context.Context) (int, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return 0, &RemoteError{Op: "ping", Cause: err}
	}
	resp, err := c.api.Do(req)
	if err != nil {
		return 0, &RemoteError{Op: "ping", Cause: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}

// SubmitSnapshot uploads snap as a multipart "file" field.
func (c *Client) SubmitSnapshot(ctx context.Context, snap *dataset.Snapshot, kind EndpointKind) (*SubmitResult, error) {
	op := kind.String()
	if snap == nil {
		return nil, &RemoteError{Op: op, Cause: dataset.ErrEmptySnapshot}
	}
	data, err := snap.Bytes()
	if err != nil {
		return nil, &RemoteError{Op: op, Cause: err}
	}

	body, contentType, err := multipartFile(snap.Name(), data)
	if err != nil {
		return nil, &RemoteError{Op: op, Cause: err}
	}

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, c.baseURL+"/api/"+op, body)
	if err != nil {
		return nil, &RemoteError{Op: op, Cause: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().Str("endpoint", op).Str("file", snap.Name()).Int("rows", snap.Len()).Msg("submitting snapshot")

	env, err := c.doEnvelope(req, op)
	if err != nil {
		return nil, err
	}

	switch kind {
	case EndpointSave:
		if env.Filepath == "" {
			return nil, &RemoteError{Op: op, Message: "filepath", Cause: ErrMissingField}
		}
		return &SubmitResult{Path: env.Filepath}, nil
	default:
		if env.Results == nil {
			return nil, &RemoteError{Op: op, Message: "results", Cause: ErrMissingField}
		}
		return &SubmitResult{Results: env.Results}, nil
	}
}

// SubmitAnalysisJob starts an analysis over a previously saved file.
func (c *Client) SubmitAnalysisJob(ctx context.Context, filename, query string) (models.JobHandle, error) {
	const op = "run-analysis"
	if query == "" {
		query = constants.DefaultQuery
	}

	payload, err := json.Marshal(models.RunAnalysisRequest{File: filename, Query: query})
	if err != nil {
		return models.JobHandle{}, &RemoteError{Op: op, Cause: err}
	}
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, c.baseURL+"/api/"+op, bytes.NewReader(payload))
	if err != nil {
		return models.JobHandle{}, &RemoteError{Op: op, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	env, err := c.doEnvelope(req, op)
	if err != nil {
		return models.JobHandle{}, err
	}
	if env.JobID == "" {
		return models.JobHandle{}, &RemoteError{Op: op, Message: "job_id", Cause: ErrMissingField}
	}

	return models.JobHandle{
		ID:          env.JobID,
		File:        filename,
		Query:       query,
		SubmittedAt: c.now(),
	}, nil
}

// AnalysisStatus performs one status query. Transport failures, unreadable
// bodies and non-JSON error pages return a *StatusError; a server-reported
// failure is a JobFailed status with a nil error.
func (c *Client) AnalysisStatus(ctx context.Context, handle models.JobHandle) (models.JobStatus, error) {
	var resp models.StatusResponse
	if err := c.getStatus(ctx, handle.ID, "/api/analysis-status/"+url.PathEscape(handle.ID), &resp); err != nil {
		return models.JobStatus{}, err
	}
	return NormalizeStatus(&resp), nil
}

// CheckOutputFiles queries the legacy output check, which only knows about
// the most recent job.
//
// Deprecated: use AnalysisStatus. Kept for backends that predate job ids.
func (c *Client) CheckOutputFiles(ctx context.Context) (models.JobStatus, error) {
	var resp models.OutputFilesResponse
	if err := c.getStatus(ctx, "latest", "/api/check-output-files", &resp); err != nil {
		return models.JobStatus{}, err
	}
	return NormalizeOutputFiles(&resp), nil
}

func (c *Client) getStatus(ctx context.Context, jobID, path string, out interface{}) error {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &StatusError{JobID: jobID, Cause: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.api.Do(req)
	if err != nil {
		return &StatusError{JobID: jobID, Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxEnvelopeBytes))
	if err != nil {
		return &StatusError{JobID: jobID, StatusCode: resp.StatusCode, Cause: err}
	}
	// Error bodies from the backend are still JSON envelopes; anything else is a transport problem
	if err := json.Unmarshal(raw, out); err != nil {
		return &StatusError{JobID: jobID, StatusCode: resp.StatusCode, Cause: fmt.Errorf("malformed response: %w", err)}
	}
	if resp.StatusCode >= 500 && resp.StatusCode != nethttp.StatusInternalServerError {
		// Gateway errors (502/503/504) are transient even when they carry JSON
		return &StatusError{JobID: jobID, StatusCode: resp.StatusCode, Cause: errors.New(nethttp.StatusText(resp.StatusCode))}
	}
	return nil
}

// FetchArtifact opens a produced file. The caller closes the reader.
func (c *Client) FetchArtifact(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	const op = "fetch-artifact"
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, &RemoteError{Op: op, Cause: err}
	}

	resp, err := c.artifacts.Do(req)
	if err != nil {
		return nil, 0, &RemoteError{Op: op, Message: path, Cause: err}
	}
	if resp.StatusCode != nethttp.StatusOK {
		resp.Body.Close()
		return nil, 0, &RemoteError{Op: op, StatusCode: resp.StatusCode, Message: path}
	}
	if resp.ContentLength > constants.ArtifactMaxBytes {
		resp.Body.Close()
		return nil, 0, &RemoteError{Op: op, Message: fmt.Sprintf("%s is %d bytes, larger than the %d byte limit", path, resp.ContentLength, constants.ArtifactMaxBytes)}
	}
	return resp.Body, resp.ContentLength, nil
}

// doEnvelope performs a submission and normalizes every failure shape into a *RemoteError.
func (c *Client) doEnvelope(req *nethttp.Request, op string) (*models.SubmitResponse, error) {
	resp, err := c.api.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("endpoint", op).Msg("request failed")
		return nil, &RemoteError{Op: op, Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxEnvelopeBytes))
	if err != nil {
		return nil, &RemoteError{Op: op, StatusCode: resp.StatusCode, Cause: err}
	}

	var env models.SubmitResponse
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := env.Error
		if decodeErr != nil || msg == "" {
			msg = snippet(raw)
		}
		return nil, &RemoteError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, &RemoteError{Op: op, StatusCode: resp.StatusCode, Message: "malformed response", Cause: decodeErr}
	}
	if env.Status != models.StatusSuccess {
		msg := env.Error
		if msg == "" {
			msg = fmt.Sprintf("server reported status %q", env.Status)
		}
		return nil, &RemoteError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	return &env, nil
}

// multipartFile builds a multipart body with a single "file" part.
func multipartFile(name string, data []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", "text/csv")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "empty response"
	}
	return s
}
