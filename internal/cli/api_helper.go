package cli

import (
	"context"
	"fmt"

	"github.com/trendreview/trendreview/internal/api"
	"github.com/trendreview/trendreview/internal/config"
	"github.com/trendreview/trendreview/internal/constants"
	"github.com/trendreview/trendreview/internal/events"
	"github.com/trendreview/trendreview/internal/logging"
	"github.com/trendreview/trendreview/internal/models"
	"github.com/trendreview/trendreview/internal/poller"
	"github.com/trendreview/trendreview/internal/simulator"
	"github.com/trendreview/trendreview/internal/workflow"
)

// loadConfig loads configuration and applies the global flags on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config) {
	if baseURLFlag != "" {
		cfg.BaseURL = baseURLFlag
	}
	if mockMode {
		cfg.RemoteMode = config.RemoteMock
	}
}

// newRemote creates the backend client selected by cfg.RemoteMode.
func newRemote(cfg *config.Config, logger *logging.Logger) (api.Remote, error) {
	if cfg.RemoteMode == config.RemoteMock {
		logger.Debug().Int("running_polls", cfg.MockRunningPolls).Msg("using simulated backend")
		return api.NewMockClient(simulator.New(cfg.MockRunningPolls)), nil
	}
	client, err := api.NewClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}
	return client, nil
}

func pollConfig(cfg *config.Config) poller.Config {
	return poller.Config{
		InitialDelay: cfg.PollInitialDelay,
		Interval:     cfg.PollInterval,
		ErrorBackoff: cfg.PollErrorBackoff,
		MaxAttempts:  cfg.PollMaxAttempts,
		MaxErrors:    cfg.PollMaxErrors,
	}
}

// session bundles what a workflow command needs.
type session struct {
	cfg    *config.Config
	remote api.Remote
	bus    *events.EventBus
	ctl    *workflow.Controller
	logger *logging.Logger
}

func newSession(cfg *config.Config, remote api.Remote, logger *logging.Logger) (*session, error) {
	bus := events.NewEventBus(constants.EventBusDefaultBuffer)
	ctl, err := workflow.New(workflow.Options{
		Remote:       remote,
		Poll:         pollConfig(cfg),
		MaxSelection: cfg.MaxSelection,
		DefaultQuery: cfg.DefaultQuery,
		EventBus:     bus,
		Logger:       logger,
	})
	if err != nil {
		bus.Close()
		return nil, err
	}
	return &session{cfg: cfg, remote: remote, bus: bus, ctl: ctl, logger: logger}, nil
}

// openSession loads config, builds the remote and a controller.
func openSession() (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	remote, err := newRemote(cfg, GetLogger())
	if err != nil {
		return nil, err
	}
	return newSession(cfg, remote, GetLogger())
}

func (s *session) Close() {
	s.ctl.Close()
	s.bus.Close()
}

// pollJob follows an existing job outside of a workflow session, reporting
// each check through onAttempt.
func pollJob(ctx context.Context, remote api.Remote, cfg poller.Config, handle models.JobHandle, onAttempt func(poller.Attempt), logger *logging.Logger) (poller.Result, error) {
	p := poller.New(remote, cfg, logger)
	p.Start(ctx, handle, poller.Handlers{Progress: onAttempt})
	<-p.Done()
	res, ok := p.Last()
	if !ok {
		if err := ctx.Err(); err != nil {
			return poller.Result{}, err
		}
		return poller.Result{}, fmt.Errorf("polling of %s ended without a result", handle.ID)
	}
	return res, nil
}
