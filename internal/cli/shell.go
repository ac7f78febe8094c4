package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trendreview/trendreview/internal/dataset"
	"github.com/trendreview/trendreview/internal/events"
	"github.com/trendreview/trendreview/internal/progress"
	"github.com/trendreview/trendreview/internal/results"
	"github.com/trendreview/trendreview/internal/workflow"
)

const shellHelp = `Commands:
  load <file.csv> [--processed]   upload a CSV (already processed with --processed)
  show [n]                        show the current table (n rows, 0 = all)
  edit <row> <col> <value>        change one cell of the uploaded data
  process                         run the trend processing
  toggle <row>...                 select or deselect processed rows
  selection                       show the selected rows
  submit                          submit the selection to the backend
  start [query]                   start the analysis
  wait                            wait for the running analysis
  result                          show the latest results
  download [dest]                 export the latest results
  status                          show the session stage and next steps
  reset                           start over
  help                            show this help
  quit                            leave the shell`

// newShellCmd creates the 'shell' command.
func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session: load, edit, process, select and analyse",
		Long: `Start an interactive session that keeps the uploaded data, the row
selection and the running analysis between commands.

` + shellHelp,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			var rep progress.Reporter = progress.NewNoOpProgress()
			if progress.IsTerminal(os.Stderr) {
				rep = progress.NewCLIProgress(os.Stderr)
			}
			return runShell(GetContext(), cmd.InOrStdin(), cmd.OutOrStdout(), s, rep)
		},
	}
}

type shell struct {
	s      *session
	out    io.Writer
	rep    progress.Reporter
	notify <-chan events.Event
}

// runShell reads commands from in until EOF, quit or ctx is cancelled.
func runShell(ctx context.Context, in io.Reader, out io.Writer, s *session, rep progress.Reporter) error {
	sh := &shell{s: s, out: out, rep: rep, notify: s.bus.SubscribeAll()}
	defer s.bus.UnsubscribeAll(sh.notify)

	fmt.Fprintln(out, "trendreview shell. Type 'help' for commands.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "trendreview> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" || fields[0] == "exit" {
			return nil
		}
		if err := sh.exec(ctx, fields[0], fields[1:]); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return err
			}
			fmt.Fprintf(out, "✗ %v\n", err)
		}
		sh.drainNotifications()
	}
}

func (sh *shell) exec(ctx context.Context, verb string, args []string) error {
	ctl := sh.s.ctl
	switch verb {
	case "help":
		fmt.Fprintln(sh.out, shellHelp)

	case "load":
		if len(args) == 0 {
			return errors.New("usage: load <file.csv> [--processed]")
		}
		processed := len(args) > 1 && args[1] == "--processed"
		origin := dataset.OriginUpload
		if processed {
			origin = dataset.OriginServer
		}
		snap, err := readSnapshot(args[0], origin)
		if err != nil {
			return err
		}
		if processed {
			err = ctl.UploadProcessed(snap)
		} else {
			err = ctl.UploadRaw(snap)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "✓ Loaded %s (%d rows)\n", snap.Name(), snap.Len())

	case "show":
		limit := 20
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid row count %q", args[0])
			}
			limit = n
		}
		var selected []int
		if ctl.Processed() != nil {
			selected = ctl.Selection().Indices
			if selected == nil {
				selected = []int{}
			}
		}
		renderSnapshot(sh.out, ctl.Active(), limit, selected)

	case "edit":
		if len(args) < 3 {
			return errors.New("usage: edit <row> <col> <value>")
		}
		row, err1 := strconv.Atoi(args[0])
		col, err2 := strconv.Atoi(args[1])
		if err1 != nil || err2 != nil {
			return errors.New("row and column must be numbers")
		}
		if err := ctl.EditCell(row, col, strings.Join(args[2:], " ")); err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "✓ Cell %d,%d updated\n", row, col)

	case "process":
		pr, err := ctl.Process(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "✓ Processed %d rows\n", ctl.Processed().Len())
		renderResult(sh.out, results.FromProcessResults(pr))

	case "toggle":
		if len(args) == 0 {
			return errors.New("usage: toggle <row>...")
		}
		rows, err := parseRows(strings.Join(args, ","))
		if err != nil {
			return err
		}
		for _, r := range rows {
			if _, err := ctl.ToggleRow(r); err != nil {
				return err
			}
		}
		sh.printSelection()

	case "selection":
		sh.printSelection()

	case "submit":
		saved, err := ctl.MaterializeSelection(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "✓ Submitted %d rows as %s\n", saved.Len(), ctl.SavedFile())

	case "start":
		h, err := ctl.StartAnalysis(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "✓ Job %s started (query: %s). Use 'wait' to follow it.\n", h.ID, h.Query)

	case "wait":
		return sh.wait(ctx)

	case "result":
		res := ctl.Result()
		if res == nil && ctl.ProcessResults() != nil {
			res = results.FromProcessResults(ctl.ProcessResults())
		}
		renderResult(sh.out, res)

	case "download":
		res := ctl.Result()
		if res == nil && ctl.ProcessResults() != nil {
			res = results.FromProcessResults(ctl.ProcessResults())
		}
		if res == nil {
			return errors.New("nothing to download yet")
		}
		dest := ""
		if len(args) > 0 {
			dest = args[0]
		}
		return exportResult(ctx, sh.out, sh.s.cfg, sh.s.remote, res, dest, sh.s.logger)

	case "status":
		renderAffordances(sh.out, ctl.Affordances())

	case "reset":
		ctl.Reset()
		fmt.Fprintln(sh.out, "✓ Session reset")

	default:
		return fmt.Errorf("unknown command %q (type 'help')", verb)
	}
	return nil
}

func (sh *shell) printSelection() {
	sel := sh.s.ctl.Selection()
	if sel.Count() == 0 {
		fmt.Fprintf(sh.out, "Selected: none (max %d)\n", sel.Max)
		return
	}
	idx := make([]string, len(sel.Indices))
	for i, v := range sel.Indices {
		idx[i] = strconv.Itoa(v)
	}
	fmt.Fprintf(sh.out, "Selected: %s (%d/%d)\n", strings.Join(idx, ", "), sel.Count(), sel.Max)
}

func (sh *shell) wait(ctx context.Context) error {
	stop := followProgress(sh.s.bus, sh.rep, sh.s.cfg.PollMaxAttempts)
	outcome, err := sh.s.ctl.Wait(ctx)
	stop()
	if err != nil {
		return err
	}
	if outcome.Err != nil {
		var timedOut *workflow.TimedOutError
		if errors.As(outcome.Err, &timedOut) {
			fmt.Fprintf(sh.out, "⚠️  %v\n", outcome.Err)
			return nil
		}
		return outcome.Err
	}
	fmt.Fprintf(sh.out, "✓ Analysis %s completed\n", outcome.JobID)
	renderResult(sh.out, outcome.Result)
	return nil
}

// drainNotifications prints the attention and error events queued since the
// last command.
func (sh *shell) drainNotifications() {
	for {
		select {
		case ev, ok := <-sh.notify:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case *events.AttentionEvent:
				fmt.Fprintf(sh.out, "→ next: %s (%s)\n", e.Control, e.Reason)
			case *events.ErrorEvent:
				if e.Error != nil {
					sh.s.logger.Debug().Err(e.Error).Str("stage", e.Stage).Msg("session error")
				}
			}
		default:
			return
		}
	}
}
