package constants

import (
	"time"
)

// Application identity
const (
	// AppName - binary and config directory name
	AppName = "trendreview"

	// EnvPrefix - prefix for environment overrides (TRENDREVIEW_BASE_URL, ...)
	EnvPrefix = "TRENDREVIEW"

	// DefaultBaseURL - backend address used when nothing is configured
	DefaultBaseURL = "http://127.0.0.1:5000"

	// DefaultQuery - analysis query sent when the user leaves it blank
	DefaultQuery = "analyze copper price trend"
)

// Row selection
const (
	// MaxSelection - maximum number of processed rows that may be selected for analysis (5)
	MaxSelection = 5
)

// Status polling
//
// A status check is scheduled PollInitialDelay after submission, then every
// PollInterval while the job reports in-progress. Transport failures use the
// longer PollErrorBackoff and count against their own budget.
const (
	// PollInitialDelay - wait before the first status check (3 seconds)
	PollInitialDelay = 3 * time.Second

	// PollInterval - steady-state interval between status checks (3 seconds)
	PollInterval = 3 * time.Second

	// PollErrorBackoff - interval after a failed status query (10 seconds)
	PollErrorBackoff = 10 * time.Second

	// PollMaxAttempts - in-progress responses tolerated before timing out (60, ~3 minutes)
	PollMaxAttempts = 60

	// PollMaxErrors - failed status queries tolerated before timing out (5)
	PollMaxErrors = 5
)

// UI affordances
const (
	// ReadyHighlightDuration - how long the start-analysis control stays highlighted (3 seconds)
	ReadyHighlightDuration = 3 * time.Second

	// AttentionPulseDuration - how long a redirect-attention pulse lasts (2 seconds)
	AttentionPulseDuration = 2 * time.Second

	// PreviewDefaultRows - body rows rendered by a preview when no limit is given
	PreviewDefaultRows = 20
)

// Artifact export
const (
	// ArtifactRetries - retry attempts for idempotent artifact downloads
	ArtifactRetries = 3

	// ArtifactWorkers - concurrent artifact downloads
	ArtifactWorkers = 4

	// ArtifactMaxBytes - upper bound for a single downloaded artifact (256 MB)
	ArtifactMaxBytes = 256 * 1024 * 1024

	// ArtifactFetchRate - artifact requests per second sent to the backend
	ArtifactFetchRate = 10.0

	// ArtifactFetchBurst - artifact requests that may be sent back to back
	ArtifactFetchBurst = 20.0
)

// Retry configuration (object store exports)
const (
	// MaxRetries - maximum number of retries for transient errors
	MaxRetries = 5

	// RetryInitialDelay - initial delay before first retry (200ms)
	RetryInitialDelay = 200 * time.Millisecond

	// RetryMaxDelay - maximum delay between retries (15s)
	// Exponential backoff with jitter caps at this value
	RetryMaxDelay = 15 * time.Second
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000
)

// HTTP Client Timeouts
const (
	// HTTPIdleConnTimeout - how long to keep idle connections open (90 seconds)
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for TLS handshake (60 seconds)
	HTTPTLSHandshakeTimeout = 60 * time.Second

	// HTTPExpectContinueTimeout - timeout for 100-continue response (1 second)
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPDialTimeout - timeout for establishing connection (30 seconds)
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - keep-alive period for dialer (30 seconds)
	HTTPDialKeepAlive = 30 * time.Second

	// ProxyWarmupTimeout - timeout for the optional proxy warmup request (15 seconds)
	ProxyWarmupTimeout = 15 * time.Second
)

// Dev server
const (
	// DevServerAddr - default listen address for the simulated backend
	DevServerAddr = "127.0.0.1:5000"

	// DevServerRunningPolls - status checks answered "running" before a simulated job completes
	DevServerRunningPolls = 3
)
