// trendreview - client for the trend-review analysis backend
package main

import (
	"os"

	"github.com/trendreview/trendreview/internal/cli"
	"github.com/trendreview/trendreview/internal/version"
)

// Set by ldflags: -X main.Version=... -X main.BuildTime=...
var (
	Version   = ""
	BuildTime = ""
)

func main() {
	if Version != "" {
		version.Version = Version
	}
	if BuildTime != "" {
		version.BuildTime = BuildTime
	}

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
