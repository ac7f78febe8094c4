package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trendreview/trendreview/internal/constants"
	"github.com/trendreview/trendreview/internal/devserver"
	"github.com/trendreview/trendreview/internal/simulator"
)

// newDevServerCmd creates the 'devserver' command.
func newDevServerCmd() *cobra.Command {
	var addr string
	var runningPolls int

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a simulated analysis backend over HTTP",
		Long: `Run an in-memory backend that speaks the same HTTP API as the real
trend-review server. Analyses report "running" for --running-polls status
checks and then complete with generated artifacts.

Examples:
  trendreview devserver
  trendreview devserver --addr 127.0.0.1:8080 --running-polls 10

  # in another terminal
  trendreview run prices.csv --rows 0,1 --base-url http://127.0.0.1:5000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := GetLogger()
			srv := devserver.New(addr, simulator.New(runningPolls), log)
			fmt.Fprintf(cmd.OutOrStdout(), "Simulated backend listening on http://%s (Ctrl+C to stop)\n", addr)
			return srv.Run(GetContext())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", constants.DevServerAddr, "Listen address")
	cmd.Flags().IntVar(&runningPolls, "running-polls", constants.DevServerRunningPolls, "Status checks answered 'running' before a job completes")
	return cmd
}
