// Package progress renders long-running work on the terminal: a single bar
// for analysis polling and a multi-bar view for artifact exports.
package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/trendreview/trendreview/internal/logging"
)

// Reporter reports progress of one bounded operation.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
	SetDescription(desc string)
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// NewReporter returns a progress bar on a terminal and log lines otherwise.
func NewReporter(logger *logging.Logger) Reporter {
	if IsTerminal(os.Stderr) {
		return NewCLIProgress(os.Stderr)
	}
	return NewLogProgress(logger)
}

// CLIProgress implements progress reporting for CLI mode using progress bars.
type CLIProgress struct {
	bar *progressbar.ProgressBar
	out io.Writer
}

// NewCLIProgress creates a new CLI progress reporter writing to w.
func NewCLIProgress(w io.Writer) *CLIProgress {
	return &CLIProgress{out: w}
}

// Start initializes the progress bar with total steps and description.
func (p *CLIProgress) Start(total int64, description string) {
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(p.out, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Update moves the bar to current.
func (p *CLIProgress) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

// Finish completes the progress bar.
func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Error displays an error message below the bar.
func (p *CLIProgress) Error(err error) {
	if err != nil {
		if p.bar != nil {
			_ = p.bar.Exit()
		}
		fmt.Fprintf(p.out, "\nError: %v\n", err)
	}
}

// SetDescription updates the progress bar description.
func (p *CLIProgress) SetDescription(desc string) {
	if p.bar != nil {
		p.bar.Describe(desc)
	}
}

// LogProgress reports through the logger, for non-interactive output.
type LogProgress struct {
	logger  *logging.Logger
	total   int64
	current int64
	desc    string
}

// NewLogProgress creates a log-line reporter.
func NewLogProgress(logger *logging.Logger) *LogProgress {
	return &LogProgress{logger: logger}
}

func (p *LogProgress) Start(total int64, description string) {
	p.total = total
	p.current = 0
	p.desc = description
	p.logger.Info().Int64("total", total).Msg(description)
}

func (p *LogProgress) Update(current int64) {
	if current == p.current {
		return
	}
	p.current = current
	p.logger.Info().Msgf("%s (%d/%d)", p.desc, current, p.total)
}

func (p *LogProgress) Finish() {
	p.logger.Debug().Int64("current", p.current).Int64("total", p.total).Msg("progress finished")
}

func (p *LogProgress) Error(err error) {
	if err != nil {
		p.logger.Error().Err(err).Msg(p.desc)
	}
}

func (p *LogProgress) SetDescription(desc string) {
	p.desc = desc
}

// NoOpProgress is a progress reporter that does nothing.
type NoOpProgress struct{}

// NewNoOpProgress creates a new no-op progress reporter.
func NewNoOpProgress() *NoOpProgress {
	return &NoOpProgress{}
}

func (p *NoOpProgress) Start(total int64, description string) {}
func (p *NoOpProgress) Update(current int64)                   {}
func (p *NoOpProgress) Finish()                                {}
func (p *NoOpProgress) Error(err error)                        {}
func (p *NoOpProgress) SetDescription(desc string)             {}
