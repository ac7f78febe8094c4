package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trendreview/trendreview/internal/api"
	"github.com/trendreview/trendreview/internal/config"
	"github.com/trendreview/trendreview/internal/constants"
	"github.com/trendreview/trendreview/internal/dataset"
	"github.com/trendreview/trendreview/internal/export"
	"github.com/trendreview/trendreview/internal/http"
	"github.com/trendreview/trendreview/internal/logging"
	"github.com/trendreview/trendreview/internal/models"
	"github.com/trendreview/trendreview/internal/progress"
	"github.com/trendreview/trendreview/internal/ratelimit"
	"github.com/trendreview/trendreview/internal/results"
	"github.com/trendreview/trendreview/internal/workflow"
)

// readSnapshot loads a local CSV file.
func readSnapshot(path string, origin dataset.Origin) (*dataset.Snapshot, error) {
	if err := dataset.ValidateFilename(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return dataset.Read(filepath.Base(path), origin, f)
}

// parseRows parses "0,2,4" or "0 2 4" into row indices.
func parseRows(spec string) ([]int, error) {
	fields := strings.FieldsFunc(spec, func(r rune) bool { return r == ',' || r == ' ' })
	if len(fields) == 0 {
		return nil, errors.New("no rows given")
	}
	rows := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid row index %q", f)
		}
		rows = append(rows, n)
	}
	return rows, nil
}

// exportResult downloads the artifacts of res into dest (a directory,
// s3:// or azblob:// URL; empty means download_dir/<job>).
func exportResult(ctx context.Context, w io.Writer, cfg *config.Config, remote api.Remote, res *models.AnalysisResult, dest string, logger *logging.Logger) error {
	if res == nil || len(res.Artifacts()) == 0 {
		return errors.New("nothing to download: the result has no artifacts")
	}

	transfer, err := http.CreateTransferClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to configure transfer client: %w", err)
	}
	sink, err := export.NewSink(ctx, dest, res.JobID, cfg, transfer)
	if err != nil {
		return err
	}

	retry := http.DefaultConfig()
	retry.MaxRetries = cfg.ArtifactRetries + 1
	exp := export.New(remote, export.Options{
		Workers: cfg.ArtifactWorkers,
		Retry:   retry,
		NewUI: func(n int) *progress.ArtifactUI {
			if progress.IsTerminal(os.Stderr) {
				return progress.NewArtifactUI(n)
			}
			return progress.NewArtifactUIWithWriter(w, false, n)
		},
		Limiter: ratelimit.New(constants.ArtifactFetchRate, constants.ArtifactFetchBurst, logger),
		Logger:  logger,
	})
	report, err := exp.Export(ctx, res, sink)
	if report != nil {
		fmt.Fprintf(w, "\nExported %d/%d artifacts to %s\n", len(report.Items)-len(report.Failed()), len(report.Items), report.Destination)
		if narrative := results.NarrativeReport(res); narrative != nil {
			for _, it := range report.Items {
				if it.Artifact.Name == narrative.Name && it.Location != "" {
					fmt.Fprintf(w, "Report:   %s\n", it.Location)
				}
			}
		}
		if report.Manifest != "" {
			fmt.Fprintf(w, "Manifest: %s\n", report.Manifest)
		}
	}
	return err
}

// newPreviewCmd creates the 'preview' command.
func newPreviewCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "preview <file.csv>",
		Short: "Show a CSV file as a table",
		Long: `Show a local CSV file as a table, the way it will be uploaded.

Nothing is sent to the backend.

Examples:
  trendreview preview prices.csv
  trendreview preview prices.csv --limit 0   # all rows`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := readSnapshot(args[0], dataset.OriginUpload)
			if err != nil {
				return err
			}
			renderSnapshot(cmd.OutOrStdout(), snap, limit, nil)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", constants.PreviewDefaultRows, "Rows to show (0 = all)")
	return cmd
}

// newProcessCmd creates the 'process' command.
func newProcessCmd() *cobra.Command {
	var limit int
	var download bool
	var outDest string

	cmd := &cobra.Command{
		Use:   "process <file.csv>",
		Short: "Upload a CSV file and run the trend processing",
		Long: `Upload a CSV file to /api/process-csv and show the processed table
and the trend-analysis artifacts the backend produced.

Examples:
  trendreview process prices.csv
  trendreview process prices.csv --download --out ./trend`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := GetLogger()
			out := cmd.OutOrStdout()

			snap, err := readSnapshot(args[0], dataset.OriginUpload)
			if err != nil {
				return err
			}
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.ctl.UploadRaw(snap); err != nil {
				return err
			}
			log.Info().Str("file", snap.Name()).Int("rows", snap.Len()).Msg("Processing")
			pr, err := s.ctl.Process(GetContext())
			if err != nil {
				return err
			}

			renderSnapshot(out, s.ctl.Processed(), limit, nil)
			fmt.Fprintln(out)
			res := results.FromProcessResults(pr)
			renderResult(out, res)

			if download {
				return exportResult(GetContext(), out, s.cfg, s.remote, res, outDest, log)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", constants.PreviewDefaultRows, "Processed rows to show (0 = all)")
	cmd.Flags().BoolVar(&download, "download", false, "Export the processing artifacts")
	cmd.Flags().StringVarP(&outDest, "out", "o", "", "Export destination: directory, s3://bucket/prefix or azblob://container/prefix")
	return cmd
}

// newRunCmd creates the 'run' command: the whole workflow in one go.
func newRunCmd() *cobra.Command {
	var (
		rowsSpec   string
		query      string
		outDest    string
		noDownload bool
		processed  bool
	)

	cmd := &cobra.Command{
		Use:   "run <file.csv>",
		Short: "Process a CSV, submit a row selection and wait for the analysis",
		Long: `Run the complete workflow:

  1. upload the CSV
  2. process it (skipped with --processed)
  3. select rows and submit the selection
  4. start the analysis and poll until it ends
  5. export the artifacts

Row indices refer to the processed table, starting at 0. At most
max_selection rows (default 5) can be selected.

Examples:
  trendreview run prices.csv --rows 0,2,4
  trendreview run prices.csv --rows 1,3 --query "analyze nickel price trend"
  trendreview run processed.csv --processed --rows 0,1 --out s3://bucket/runs`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := parseRows(rowsSpec)
			if err != nil {
				return fmt.Errorf("--rows: %w", err)
			}
			origin := dataset.OriginUpload
			if processed {
				origin = dataset.OriginServer
			}
			snap, err := readSnapshot(args[0], origin)
			if err != nil {
				return err
			}

			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			return runWorkflow(GetContext(), cmd.OutOrStdout(), s, snap, runOptions{
				rows:      rows,
				query:     query,
				dest:      outDest,
				download:  !noDownload,
				processed: processed,
				reporter:  progress.NewReporter(GetLogger()),
			})
		},
	}

	cmd.Flags().StringVarP(&rowsSpec, "rows", "r", "", "Row indices to analyse, e.g. 0,2,4 (required)")
	cmd.Flags().StringVarP(&query, "query", "q", "", "Analysis query (default from config)")
	cmd.Flags().StringVarP(&outDest, "out", "o", "", "Export destination: directory, s3://bucket/prefix or azblob://container/prefix")
	cmd.Flags().BoolVar(&noDownload, "no-download", false, "Do not export artifacts after completion")
	cmd.Flags().BoolVar(&processed, "processed", false, "The file is already processed; skip processing")
	_ = cmd.MarkFlagRequired("rows")
	return cmd
}

type runOptions struct {
	rows      []int
	query     string
	dest      string
	download  bool
	processed bool
	reporter  progress.Reporter
}

func runWorkflow(ctx context.Context, out io.Writer, s *session, snap *dataset.Snapshot, opts runOptions) error {
	ctl := s.ctl
	banner := func(title string) {
		fmt.Fprintln(out, "\n"+strings.Repeat("=", 70))
		fmt.Fprintln(out, "  "+title)
		fmt.Fprintln(out, strings.Repeat("=", 70))
	}
	step := func(n int, title string) {
		fmt.Fprintf(out, "\n[%d/5] %s\n", n, title)
		fmt.Fprintln(out, strings.Repeat("-", 70))
	}

	banner("TREND REVIEW")

	step(1, "Uploading "+snap.Name())
	if opts.processed {
		if err := ctl.UploadProcessed(snap); err != nil {
			return err
		}
	} else if err := ctl.UploadRaw(snap); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ %d rows loaded\n", snap.Len())

	step(2, "Processing")
	if opts.processed {
		fmt.Fprintln(out, "Skipped (--processed)")
	} else {
		pr, err := ctl.Process(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "✓ Processed %d rows (%d artifacts)\n", ctl.Processed().Len(), len(pr.Names()))
	}

	step(3, "Selecting rows")
	for _, r := range opts.rows {
		if _, err := ctl.ToggleRow(r); err != nil {
			return err
		}
	}
	sel := ctl.Selection()
	renderSnapshot(out, ctl.Processed(), 0, sel.Indices)
	saved, err := ctl.MaterializeSelection(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Selection of %d rows submitted as %s\n", saved.Len(), ctl.SavedFile())

	step(4, "Running analysis")
	handle, err := ctl.StartAnalysis(ctx, opts.query)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Job %s started (query: %s)\n", handle.ID, handle.Query)
	fmt.Fprintln(out, "Press Ctrl+C to stop following (the job keeps running on the server)")

	reporter := opts.reporter
	if reporter == nil {
		reporter = progress.NewNoOpProgress()
	}
	stop := followProgress(s.bus, reporter, s.cfg.PollMaxAttempts)
	outcome, err := ctl.Wait(ctx)
	stop()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintf(out, "\nStopped following %s. Resume with: trendreview wait %s\n", handle.ID, handle.ID)
		}
		return err
	}
	if outcome.Err != nil {
		var timedOut *workflow.TimedOutError
		if errors.As(outcome.Err, &timedOut) {
			fmt.Fprintf(out, "\n⚠️  %v\n", outcome.Err)
		} else {
			fmt.Fprintf(out, "\n✗ %v\n", outcome.Err)
		}
		return outcome.Err
	}
	fmt.Fprintf(out, "\n✓ Analysis completed after %d checks (%s)\n", outcome.Checks(), outcome.Elapsed.Round(1e9))
	renderResult(out, outcome.Result)

	step(5, "Exporting artifacts")
	if !opts.download {
		fmt.Fprintln(out, "Skipped (--no-download)")
		fmt.Fprintf(out, "\nTo export later:\n  trendreview download %s\n", handle.ID)
	} else if err := exportResult(ctx, out, s.cfg, s.remote, outcome.Result, opts.dest, s.logger); err != nil {
		return err
	}

	banner("COMPLETE")
	fmt.Fprintf(out, "\nJob ID: %s\n", handle.ID)
	return nil
}
