package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trendreview/trendreview/internal/models"
	"github.com/trendreview/trendreview/internal/poller"
	"github.com/trendreview/trendreview/internal/progress"
	"github.com/trendreview/trendreview/internal/results"
	"github.com/trendreview/trendreview/internal/workflow"
)

// outputChecker is implemented by remotes that still serve the legacy
// /api/check-output-files endpoint.
type outputChecker interface {
	CheckOutputFiles(ctx context.Context) (models.JobStatus, error)
}

func printStatus(w io.Writer, jobID string, st models.JobStatus) {
	fmt.Fprintf(w, "Job:     %s\n", jobID)
	fmt.Fprintf(w, "State:   %s", st.State)
	if st.Raw != "" && st.Raw != st.State.String() {
		fmt.Fprintf(w, " (server: %s)", st.Raw)
	}
	fmt.Fprintln(w)
	if st.Message != "" {
		fmt.Fprintf(w, "Message: %s\n", st.Message)
	}
	if st.Error != "" {
		fmt.Fprintf(w, "Error:   %s\n", st.Error)
	}
	if len(st.Files) > 0 {
		fmt.Fprintf(w, "Files:   %s\n", strings.Join(st.Files, ", "))
	}
}

// newStatusCmd creates the 'status' command.
func newStatusCmd() *cobra.Command {
	var legacy bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Query the status of an analysis job once",
		Long: `Query the backend once for the status of an analysis job.

With --legacy the job-less /api/check-output-files endpoint is used
instead; it only reports the most recent run on the server.

Examples:
  trendreview status a1b2c3
  trendreview status --legacy
  trendreview status a1b2c3 --json`,
		Args: func(cmd *cobra.Command, args []string) error {
			if legacy {
				return cobra.MaximumNArgs(1)(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			remote, err := newRemote(cfg, GetLogger())
			if err != nil {
				return err
			}

			jobID := ""
			if len(args) > 0 {
				jobID = args[0]
			}

			var st models.JobStatus
			if legacy {
				checker, ok := remote.(outputChecker)
				if !ok {
					return errors.New("the configured backend has no legacy output check")
				}
				st, err = checker.CheckOutputFiles(GetContext())
				if jobID == "" {
					jobID = "(latest)"
				}
			} else {
				st, err = remote.AnalysisStatus(GetContext(), models.JobHandle{ID: jobID})
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					JobID   string   `json:"job_id"`
					State   string   `json:"state"`
					Status  string   `json:"status"`
					Message string   `json:"message,omitempty"`
					Error   string   `json:"error,omitempty"`
					Files   []string `json:"files,omitempty"`
				}{jobID, st.State.String(), st.Raw, st.Message, st.Error, st.Files})
			}
			printStatus(out, jobID, st)
			return nil
		},
	}

	cmd.Flags().BoolVar(&legacy, "legacy", false, "Use the legacy output-file check")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the status as JSON")
	return cmd
}

// waitForJob polls jobID until it ends and converts the outcome into a
// result or one of the workflow errors.
func waitForJob(ctx context.Context, s *session, jobID string, rep progress.Reporter) (*models.AnalysisResult, error) {
	handle := models.JobHandle{ID: jobID}
	pcfg := pollConfig(s.cfg)

	started := false
	onAttempt := func(a poller.Attempt) {
		if !started {
			rep.Start(int64(pcfg.MaxAttempts), "analysis "+jobID)
			started = true
		}
		rep.Update(int64(a.Attempts))
		if a.Err != nil {
			rep.SetDescription(fmt.Sprintf("analysis %s: status unavailable (%d/%d)", jobID, a.Errors, pcfg.MaxErrors))
			return
		}
		rep.SetDescription(fmt.Sprintf("analysis %s: %s", jobID, a.Status.State))
	}

	res, err := pollJob(ctx, s.remote, pcfg, handle, onAttempt, s.logger)
	if started {
		rep.Finish()
	}
	if err != nil {
		return nil, err
	}

	switch res.Outcome {
	case poller.Completed:
		return results.Assemble(jobID, res.Status.Files, res.Status.Summary), nil
	case poller.Failed:
		msg := res.Status.Error
		if msg == "" {
			msg = res.Status.Message
		}
		if msg == "" && res.Err != nil {
			msg = res.Err.Error()
		}
		return nil, &workflow.AnalysisFailedError{JobID: jobID, Message: msg}
	default:
		return nil, &workflow.TimedOutError{JobID: jobID, Attempts: res.Attempts, Errors: res.Errors, Cause: res.Err}
	}
}

// newWaitCmd creates the 'wait' command.
func newWaitCmd() *cobra.Command {
	var download bool
	var outDest string

	cmd := &cobra.Command{
		Use:   "wait <job-id>",
		Short: "Poll an analysis job until it completes, fails or times out",
		Long: `Follow an analysis job that was started earlier, for example one
that timed out in 'trendreview run' or was interrupted with Ctrl+C.

Examples:
  trendreview wait a1b2c3
  trendreview wait a1b2c3 --download --out ./results`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			res, err := waitForJob(GetContext(), s, args[0], progress.NewReporter(GetLogger()))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Analysis %s completed\n", args[0])
			renderResult(out, res)
			if download {
				return exportResult(GetContext(), out, s.cfg, s.remote, res, outDest, s.logger)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&download, "download", false, "Export the artifacts once completed")
	cmd.Flags().StringVarP(&outDest, "out", "o", "", "Export destination: directory, s3://bucket/prefix or azblob://container/prefix")
	return cmd
}

// newDownloadCmd creates the 'download' command.
func newDownloadCmd() *cobra.Command {
	var outDest string

	cmd := &cobra.Command{
		Use:   "download <job-id>",
		Short: "Export the artifacts of a completed analysis job",
		Long: `Export the artifacts of a completed analysis job to a local directory,
an S3 bucket or an Azure blob container. A manifest.json describing the
export is written next to the artifacts.

Examples:
  trendreview download a1b2c3
  trendreview download a1b2c3 --out ./results
  trendreview download a1b2c3 --out s3://my-bucket/trend-runs
  trendreview download a1b2c3 --out azblob://reports/trend-runs`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			jobID := args[0]
			st, err := s.remote.AnalysisStatus(GetContext(), models.JobHandle{ID: jobID})
			if err != nil {
				return err
			}
			switch st.State {
			case models.JobCompleted:
			case models.JobFailed:
				return &workflow.AnalysisFailedError{JobID: jobID, Message: st.Error}
			default:
				return fmt.Errorf("analysis %s is still %s; follow it with: trendreview wait %s", jobID, st.State, jobID)
			}

			res := results.Assemble(jobID, st.Files, st.Summary)
			return exportResult(GetContext(), cmd.OutOrStdout(), s.cfg, s.remote, res, outDest, s.logger)
		},
	}

	cmd.Flags().StringVarP(&outDest, "out", "o", "", "Export destination: directory, s3://bucket/prefix or azblob://container/prefix")
	return cmd
}
